// Package bus implements the in-process fan-in/fan-out MessageBus: typed
// agent messages delivered at-least-once within a run and ordered per
// (sender, recipient) pair, persisted to disk so a crash mid-run does not
// lose in-flight messages.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

// pairKey identifies one (sender, recipient) ordering domain.
type pairKey struct {
	From string
	To   string
}

// Bus is the in-process message bus. Messages are appended to a per-pair
// in-memory queue and mirrored to runtime/runs/<run-id>/bus/ for at-least-once
// durability across crashes within a single run.
type Bus struct {
	mu       sync.Mutex
	runID    string
	dir      string
	queues   map[pairKey][]models.Message
	seq      int64
	notifyCh chan struct{}
}

// New creates a Bus scoped to runID, persisting under baseDir/runs/<runID>/bus/.
// When baseDir is empty, persistence is skipped (in-memory only, useful for tests).
func New(baseDir, runID string) (*Bus, error) {
	b := &Bus{
		runID:    runID,
		queues:   make(map[pairKey][]models.Message),
		notifyCh: make(chan struct{}, 1),
	}
	if baseDir != "" {
		b.dir = filepath.Join(baseDir, "runs", runID, "bus")
		if err := os.MkdirAll(b.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bus directory: %w", err)
		}
	}
	return b, nil
}

// Send enqueues a message for (msg.From, msg.To), stamping ID/Timestamp/RunID
// if unset, and persists it best-effort.
func (b *Bus) Send(msg models.Message) (models.Message, error) {
	if !msg.Type.Valid() {
		return msg, models.NewCoreError(models.ErrInvalidInput, false, "unknown message type %q", msg.Type)
	}
	if msg.From == "" || msg.To == "" {
		return msg, models.NewCoreError(models.ErrInvalidInput, false, "message must carry both from and to")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.RunID == "" {
		msg.RunID = b.runID
	}

	key := pairKey{From: msg.From, To: msg.To}
	b.queues[key] = append(b.queues[key], msg)
	b.seq++

	if b.dir != "" {
		b.persist(msg)
	}

	select {
	case b.notifyCh <- struct{}{}:
	default:
	}

	return msg, nil
}

// persist best-effort appends msg to the per-run bus directory; failures do
// not propagate, matching the GitManager's own logging policy.
func (b *Bus) persist(msg models.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	name := fmt.Sprintf("%020d-%s.json", b.seq, msg.ID)
	_ = os.WriteFile(filepath.Join(b.dir, name), data, 0o644)
}

// Receive returns and removes the oldest undelivered message for the given
// recipient across all senders, preserving per-(sender,recipient) send
// order. At-least-once semantics: callers that fail to process a received
// message should call Redeliver to put it back at the front of its pair's
// queue.
func (b *Bus) Receive(to string) (models.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var bestKey pairKey
	var found bool
	var earliest time.Time
	for key, q := range b.queues {
		if key.To != to || len(q) == 0 {
			continue
		}
		if !found || q[0].Timestamp.Before(earliest) {
			bestKey = key
			earliest = q[0].Timestamp
			found = true
		}
	}
	if !found {
		return models.Message{}, false
	}

	msg := b.queues[bestKey][0]
	b.queues[bestKey] = b.queues[bestKey][1:]
	return msg, true
}

// Redeliver pushes msg back to the front of its (from, to) queue, for
// at-least-once retry when a recipient fails to process it.
func (b *Bus) Redeliver(msg models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := pairKey{From: msg.From, To: msg.To}
	b.queues[key] = append([]models.Message{msg}, b.queues[key]...)
}

// PollAll drains every pending message addressed to `to`, in FIFO order
// across pairs by timestamp, up to ctx's deadline. Used by the manager's
// 2-second progress-monitor tick.
func (b *Bus) PollAll(ctx context.Context, to string) []models.Message {
	var out []models.Message
	for {
		select {
		case <-ctx.Done():
			return out
		default:
		}
		msg, ok := b.Receive(to)
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

// Pending returns a snapshot count of queued messages per recipient, for diagnostics.
func (b *Bus) Pending() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts := make(map[string]int)
	for key, q := range b.queues {
		counts[key.To] += len(q)
	}
	return counts
}

// Pairs returns the sorted (from,to) keys with any queued traffic, for tests
// asserting per-pair ordering.
func (b *Bus) Pairs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var pairs []string
	for key := range b.queues {
		pairs = append(pairs, key.From+"->"+key.To)
	}
	sort.Strings(pairs)
	return pairs
}
