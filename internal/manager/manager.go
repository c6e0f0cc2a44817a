package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kawanishi0117/agent-orchestrator/internal/adapter"
	"github.com/kawanishi0117/agent-orchestrator/internal/bus"
	"github.com/kawanishi0117/agent-orchestrator/internal/decompose"
	"github.com/kawanishi0117/agent-orchestrator/internal/git"
	"github.com/kawanishi0117/agent-orchestrator/internal/graph"
	"github.com/kawanishi0117/agent-orchestrator/internal/obslog"
	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

const (
	monitorTick      = 2 * time.Second
	autoScaleTick    = 10 * time.Second
	qualityEscalateN = 3
)

// Config wires a Manager's collaborators.
type Config struct {
	RunID             string
	ProjectID         string
	RuntimeDir        string
	BacklogDir        string
	Decomposer        *decompose.Decomposer
	GitMgr            *git.Manager
	Adapters          *adapter.Registry
	Bus               *bus.Bus
	Pool              PoolConfig
	ManagerName       string
	IntegrationBranch string
}

// Manager is the ManagerAgent: owns one ParentTask's lifecycle end to end.
type Manager struct {
	cfg    Config
	name   string
	pool   *Pool
	bus    *bus.Bus
	graph  *graph.DependencyGraph
	errLog *obslog.Logger

	mu            sync.Mutex
	task          *models.ParentTask
	subTasks      map[string]*models.SubTask
	failures      []models.FailureRecord
	escalations   []models.Escalation
	ticketFailN   map[string]int // ticket(sub-task) id -> consecutive failure count for quality gate
	monitorCancel context.CancelFunc
	scaleCancel   context.CancelFunc
}

// New constructs a Manager. The caller supplies a Bus already scoped to
// cfg.RunID; when nil, one is created in-memory.
func New(cfg Config) (*Manager, error) {
	if cfg.ManagerName == "" {
		cfg.ManagerName = "manager"
	}
	b := cfg.Bus
	if b == nil {
		var err error
		b, err = bus.New("", cfg.RunID)
		if err != nil {
			return nil, err
		}
	}
	var errLog *obslog.Logger
	if cfg.RuntimeDir != "" {
		var err error
		errLog, err = obslog.Open(fmt.Sprintf("%s/runs/%s/errors.log", cfg.RuntimeDir, cfg.RunID))
		if err != nil {
			return nil, err
		}
	}
	return &Manager{
		cfg:         cfg,
		name:        cfg.ManagerName,
		pool:        NewPool(cfg.Pool),
		bus:         b,
		graph:       graph.New(),
		errLog:      errLog,
		subTasks:    make(map[string]*models.SubTask),
		ticketFailN: make(map[string]int),
	}, nil
}

// Close releases the manager's log handle.
func (m *Manager) Close() error {
	m.StopMonitor()
	m.StopAutoScaling()
	return m.errLog.Close()
}

// ReceiveTask validates and admits a ParentTask, transitioning it to decomposing.
func (m *Manager) ReceiveTask(task *models.ParentTask) error {
	if task == nil || task.ID == "" || task.Instruction == "" {
		return models.NewCoreError(models.ErrInvalidInput, false, "task must carry a non-empty id and instruction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	task.Status = models.ParentTaskDecomposing
	task.AssignedManager = m.name
	task.UpdatedAt = now
	m.task = task
	return nil
}

// DecomposeTask delegates to the TaskDecomposer, stores the resulting
// sub-tasks, builds the dependency graph, and persists the backlog.
func (m *Manager) DecomposeTask(ctx context.Context, pctx decompose.ProjectContext, opts decompose.Options) (*decompose.Result, error) {
	m.mu.Lock()
	task := m.task
	m.mu.Unlock()
	if task == nil {
		return nil, models.NewCoreError(models.ErrNoCurrentTask, false, "no parent task has been received")
	}

	result, err := m.cfg.Decomposer.Decompose(ctx, task.Instruction, pctx, opts)
	if err != nil {
		if ce, ok := err.(*models.CoreError); ok {
			return nil, models.NewCoreError(models.ErrDecomposition, ce.Recoverable, "%s", ce.Message)
		}
		return nil, models.NewCoreError(models.ErrDecomposition, false, "%v", err)
	}

	if err := m.graph.Build(result.SubTasks); err != nil {
		return nil, models.NewCoreError(models.ErrDecomposition, false, "dependency graph rejected: %v", err)
	}

	if m.cfg.BacklogDir != "" {
		if err := decompose.SaveAll(m.cfg.BacklogDir, result.SubTasks); err != nil {
			return nil, models.NewCoreError(models.ErrDecomposition, true, "persist backlog: %v", err)
		}
	}

	m.mu.Lock()
	for _, st := range result.SubTasks {
		m.subTasks[st.ID] = st
	}
	task.Status = models.ParentTaskExecuting
	task.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	return result, nil
}

// AssignTask marks subTask assigned to workerID and emits a task_assign message.
func (m *Manager) AssignTask(subTask *models.SubTask, workerID string) error {
	m.mu.Lock()
	task := m.task
	m.mu.Unlock()
	if task == nil {
		return models.NewCoreError(models.ErrNoCurrentTask, false, "no parent task has been received")
	}
	if workerID == "" {
		return models.NewCoreError(models.ErrInvalidInput, false, "worker id must not be empty")
	}

	m.pool.Register(workerID)
	if err := m.pool.Assign(workerID, subTask.ID); err != nil {
		return err
	}

	now := time.Now().UTC()
	m.mu.Lock()
	subTask.Status = models.SubTaskAssigned
	subTask.Assignee = workerID
	subTask.UpdatedAt = now
	m.mu.Unlock()

	_, err := m.bus.Send(models.Message{
		Type: models.MessageTaskAssign,
		From: m.name,
		To:   workerID,
		Payload: models.TaskAssignPayload{
			SubTask:   *subTask,
			ProjectID: m.cfg.ProjectID,
		},
	})
	if err != nil {
		return models.NewCoreError(models.ErrAssignment, true, "send task_assign: %v", err)
	}
	return nil
}

// AssignPair is one (sub-task, worker) pairing for AssignTasksInParallel.
type AssignPair struct {
	SubTask  *models.SubTask
	WorkerID string
}

// AssignTasksInParallel awaits all assignments concurrently via errgroup, so
// the first hard failure cancels the group's context and every assignment
// that has not started yet is skipped, while independent successes already
// issued are preserved.
func (m *Manager) AssignTasksInParallel(ctx context.Context, pairs []AssignPair) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pairs {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return m.AssignTask(p.SubTask, p.WorkerID)
		})
	}
	return g.Wait()
}

// ProgressSnapshot is returned by MonitorProgress.
type ProgressSnapshot struct {
	TotalsByStatus map[models.SubTaskStatus]int
	Assignments    map[string]string
}

// MonitorProgress returns totals by sub-task status plus the assignment snapshot.
func (m *Manager) MonitorProgress() ProgressSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := make(map[models.SubTaskStatus]int)
	for _, st := range m.subTasks {
		totals[st.Status]++
	}
	return ProgressSnapshot{TotalsByStatus: totals, Assignments: m.pool.Assignments()}
}

// DetailedProgress extends MonitorProgress with per-worker status, failure
// history, overall percent complete, and the active-escalation count.
type DetailedProgress struct {
	ProgressSnapshot
	Workers           []models.WorkerInfo
	Failures          []models.FailureRecord
	PercentComplete   float64
	ActiveEscalations int
}

// MonitorDetailedProgress returns the full detailed progress view.
func (m *Manager) MonitorDetailedProgress() DetailedProgress {
	snap := m.MonitorProgress()
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.subTasks)
	completed := snap.TotalsByStatus[models.SubTaskCompleted]
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(completed) / float64(total)
	}

	failuresCopy := make([]models.FailureRecord, len(m.failures))
	copy(failuresCopy, m.failures)

	active := 0
	for _, e := range m.escalations {
		if e.Type != "" {
			active++
		}
	}

	return DetailedProgress{
		ProgressSnapshot:  snap,
		Workers:           m.pool.List(),
		Failures:          failuresCopy,
		PercentComplete:   pct,
		ActiveEscalations: active,
	}
}

// HandleEscalation appends to history, updates sub-task status, and
// dispatches to the failure/quality-gate handler appropriate to its type.
func (m *Manager) HandleEscalation(ctx context.Context, esc models.Escalation) error {
	m.mu.Lock()
	m.escalations = append(m.escalations, esc)
	st := m.subTasks[esc.SubTaskID]
	if st != nil {
		switch esc.Type {
		case models.EscalationTypeError:
			st.Status = models.SubTaskFailed
			st.Error = esc.Issue
		case models.EscalationTypeBlocked, models.EscalationTypeQualityGate:
			st.Status = models.SubTaskBlocked
			st.BlockedReason = esc.Issue
		}
		st.UpdatedAt = time.Now().UTC()
	}
	m.mu.Unlock()

	switch esc.Type {
	case models.EscalationTypeError:
		return m.onTaskFailed(ctx, esc.FromWorker, esc.SubTaskID, models.ErrAI, esc.Issue, true)
	case models.EscalationTypeQualityGate:
		return m.onQualityGateFailed(ctx, esc.FromWorker, esc.SubTaskID, esc.Issue)
	default:
		return nil
	}
}

// onTaskComplete implements the task_complete handling rules of §4.2.
func (m *Manager) onTaskComplete(workerID, subTaskID string, artifacts []string) {
	m.pool.RecordSuccess(workerID)

	m.mu.Lock()
	for i := range m.failures {
		if m.failures[i].WorkerID == workerID && !m.failures[i].Resolved {
			m.failures[i].Resolved = true
		}
	}
	if st, ok := m.subTasks[subTaskID]; ok {
		st.Status = models.SubTaskCompleted
		st.Artifacts = artifacts
		st.UpdatedAt = time.Now().UTC()
	}
	m.graph.MarkComplete(subTaskID)
	delete(m.ticketFailN, subTaskID)

	allDone := true
	for _, st := range m.subTasks {
		if st.Status != models.SubTaskCompleted {
			allDone = false
			break
		}
	}
	if allDone && m.task != nil {
		m.task.Status = models.ParentTaskReviewing
		m.task.UpdatedAt = time.Now().UTC()
	}
	m.mu.Unlock()
}

// onTaskFailed implements the task_failed handling rules of §4.2: record,
// log, and escalate per the notification/auto-replace thresholds.
func (m *Manager) onTaskFailed(ctx context.Context, workerID, subTaskID string, code models.ErrorCode, message string, recoverable bool) error {
	rec := models.FailureRecord{
		ID:           fmt.Sprintf("fail-%d", time.Now().UTC().UnixNano()),
		WorkerID:     workerID,
		SubTaskID:    subTaskID,
		ErrorCode:    code,
		ErrorMessage: message,
		Recoverable:  recoverable,
		Timestamp:    time.Now().UTC(),
	}

	m.mu.Lock()
	m.failures = append(m.failures, rec)
	if st, ok := m.subTasks[subTaskID]; ok {
		st.Status = models.SubTaskFailed
		st.Error = message
		st.UpdatedAt = time.Now().UTC()
	}
	m.mu.Unlock()

	m.errLog.Line("task_failed", "worker=%s sub_task=%s code=%s message=%s", workerID, subTaskID, code, message)

	info := m.pool.RecordFailure(workerID)

	if info.ConsecutiveFailures >= m.cfg.Pool.NotificationThreshold {
		if _, err := m.ProvideSupport(ctx, workerID, message); err != nil {
			return err
		}
	}

	if info.ConsecutiveFailures >= m.cfg.Pool.AutoReplaceThreshold || info.HealthScore < 10 {
		if _, err := m.ReplaceWorker(info.ID, models.WorkerSpec{}); err != nil {
			return err
		}
	}

	if recoverable && info.ConsecutiveFailures >= 3*m.cfg.Pool.NotificationThreshold {
		return m.escalate(ctx, workerID, subTaskID, "repeated recoverable failures exceeded escalation threshold")
	}
	return nil
}

func (m *Manager) escalate(ctx context.Context, workerID, subTaskID, reason string) error {
	_, err := m.bus.Send(models.Message{
		Type: models.MessageEscalate,
		From: m.name,
		To:   "quality_authority",
		Payload: models.Escalation{
			ID:         fmt.Sprintf("esc-%d", time.Now().UTC().UnixNano()),
			FromWorker: workerID,
			SubTaskID:  subTaskID,
			Issue:      reason,
			Type:       models.EscalationTypeHelpNeeded,
			Timestamp:  time.Now().UTC(),
		},
	})
	return err
}

// onQualityGateFailed implements §4.2's quality-gate decision table.
func (m *Manager) onQualityGateFailed(ctx context.Context, workerID, subTaskID, reason string) error {
	m.mu.Lock()
	n := m.ticketFailN[subTaskID]
	m.ticketFailN[subTaskID] = n + 1
	st := m.subTasks[subTaskID]
	m.mu.Unlock()

	m.errLog.Line("quality_gate_failed", "worker=%s sub_task=%s n=%d reason=%s", workerID, subTaskID, n, reason)

	switch {
	case n == 0:
		_, err := m.bus.Send(models.Message{
			Type: models.MessageGuidance,
			From: m.name,
			To:   workerID,
			Payload: models.Guidance{
				Advice:           "Quality gate failed; retry with the following guidance.",
				SuggestedActions: []string{reason, "re-run lint/test locally before resubmitting"},
			},
		})
		return err
	case n == 1, n == 2:
		if st == nil {
			return models.NewCoreError(models.ErrAssignment, false, "sub-task %q not found for reassignment", subTaskID)
		}
		alt, ok := m.pool.SelectBestWorker(st)
		if !ok {
			return m.escalate(ctx, workerID, subTaskID, "no alternate worker available for reassignment")
		}
		m.pool.Unassign(workerID)
		return m.AssignTask(st, alt.ID)
	default:
		return m.escalate(ctx, workerID, subTaskID, "quality gate failed "+fmt.Sprint(n+1)+" times: "+reason)
	}
}

// ProvideSupport analyzes recent failures for workerID and returns guidance,
// also transmitting it via the bus.
func (m *Manager) ProvideSupport(ctx context.Context, workerID, issue string) (models.Guidance, error) {
	m.mu.Lock()
	var recent []models.FailureRecord
	for _, f := range m.failures {
		if f.WorkerID == workerID {
			recent = append(recent, f)
		}
	}
	m.mu.Unlock()

	guidance := models.Guidance{
		Advice: fmt.Sprintf("Worker %s has hit %d recorded failure(s); latest: %s", workerID, len(recent), issue),
		SuggestedActions: []string{
			"re-read the acceptance criteria before retrying",
			"check for a stale branch or uncommitted conflict markers",
		},
	}
	if len(recent) > 0 {
		guidance.AdditionalResources = []string{fmt.Sprintf("runtime/runs/%s/errors.log", m.cfg.RunID)}
	}

	_, err := m.bus.Send(models.Message{
		Type:    models.MessageGuidance,
		From:    m.name,
		To:      workerID,
		Payload: guidance,
	})
	return guidance, err
}

// HireWorker, FireWorker, ReplaceWorker delegate to the pool.
func (m *Manager) HireWorker(spec models.WorkerSpec) (*models.WorkerInfo, error) {
	return m.pool.Hire(spec)
}
func (m *Manager) FireWorker(workerID string) error { return m.pool.Fire(workerID) }
func (m *Manager) ReplaceWorker(oldID string, spec models.WorkerSpec) (*models.WorkerInfo, error) {
	return m.pool.Replace(oldID, spec)
}

// ScaleWorkersByWorkload evaluates the current pending-task count against
// the pool's scaling thresholds and applies the recommendation.
func (m *Manager) ScaleWorkersByWorkload() (ScaleDecision, error) {
	m.mu.Lock()
	pending := 0
	for _, st := range m.subTasks {
		if st.Status == models.SubTaskPending {
			pending++
		}
	}
	m.mu.Unlock()

	decision := m.pool.EvaluateScaling(pending)
	switch decision.Action {
	case ScaleUp:
		for i := 0; i < decision.WorkersToAdd; i++ {
			if _, err := m.pool.Hire(models.WorkerSpec{Capabilities: []string{"general"}}); err != nil {
				return decision, err
			}
		}
		m.pool.MarkScaled()
	case ScaleDown:
		for _, id := range decision.WorkersToDrop {
			if err := m.pool.Fire(id); err != nil {
				continue
			}
		}
		m.pool.MarkScaled()
	}
	return decision, nil
}

// PerformHealthCheck recomputes every worker's health score and replaces
// any worker that has crossed the auto-replace or health-floor threshold.
func (m *Manager) PerformHealthCheck() ([]models.WorkerInfo, error) {
	m.pool.RecomputeAllHealth()
	var replaced []models.WorkerInfo
	for _, id := range m.pool.UnhealthyWorkers() {
		w, err := m.pool.Replace(id, models.WorkerSpec{})
		if err != nil {
			continue
		}
		replaced = append(replaced, *w)
	}
	return replaced, nil
}

// SelectBestWorkerForTask delegates to the pool's scoring algorithm.
func (m *Manager) SelectBestWorkerForTask(subTask *models.SubTask) (models.WorkerInfo, bool) {
	return m.pool.SelectBestWorker(subTask)
}

// ReadyAssignments returns (subTask, candidate-worker) pairs for every
// sub-task whose dependencies are all satisfied and that has an idle
// worker available, per the scheduling algorithm of §4.2.
func (m *Manager) ReadyAssignments() []AssignPair {
	ready := m.graph.GetReady()
	m.mu.Lock()
	defer m.mu.Unlock()

	var pairs []AssignPair
	for _, id := range ready {
		st, ok := m.subTasks[id]
		if !ok || st.Status != models.SubTaskPending {
			continue
		}
		w, ok := m.pool.SelectBestWorker(st)
		if !ok {
			continue
		}
		pairs = append(pairs, AssignPair{SubTask: st, WorkerID: w.ID})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].SubTask.ID < pairs[j].SubTask.ID })
	return pairs
}

// StartMonitor runs the 2-second progress-monitor loop: polls the bus for
// messages addressed to this manager and dispatches each by type.
func (m *Manager) StartMonitor(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.monitorCancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(monitorTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, msg := range m.bus.PollAll(ctx, m.name) {
					m.dispatch(ctx, msg)
				}
			}
		}
	}()
}

// StopMonitor cancels the progress-monitor loop, if running.
func (m *Manager) StopMonitor() {
	m.mu.Lock()
	cancel := m.monitorCancel
	m.monitorCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) dispatch(ctx context.Context, msg models.Message) {
	switch msg.Type {
	case models.MessageTaskComplete:
		if p, ok := msg.Payload.(models.TaskCompletePayload); ok {
			m.onTaskComplete(msg.From, p.SubTaskID, p.Artifacts)
		}
	case models.MessageTaskFailed:
		if p, ok := msg.Payload.(models.TaskFailedPayload); ok {
			_ = m.onTaskFailed(ctx, msg.From, p.SubTaskID, p.ErrorCode, p.Message, p.Recoverable)
		}
	case models.MessageQualityGateFailed:
		if p, ok := msg.Payload.(models.QualityGateFailedPayload); ok {
			_ = m.onQualityGateFailed(ctx, msg.From, p.SubTaskID, fmt.Sprintf("%v", p.Reasons))
		}
	case models.MessageEscalate:
		if e, ok := msg.Payload.(models.Escalation); ok {
			_ = m.HandleEscalation(ctx, e)
		}
	}
}

// StartAutoScaling runs the 10-second scaling + health-check loop.
func (m *Manager) StartAutoScaling(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.scaleCancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(autoScaleTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = m.ScaleWorkersByWorkload()
				_, _ = m.PerformHealthCheck()
			}
		}
	}()
}

// StopAutoScaling cancels the auto-scaling loop, if running.
func (m *Manager) StopAutoScaling() {
	m.mu.Lock()
	cancel := m.scaleCancel
	m.scaleCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Task returns a snapshot of the currently owned parent task, if any.
func (m *Manager) Task() (models.ParentTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task == nil {
		return models.ParentTask{}, false
	}
	return *m.task, true
}

// SubTasks returns a snapshot of every sub-task under the owned parent task.
func (m *Manager) SubTasks() []models.SubTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.SubTask, 0, len(m.subTasks))
	for _, st := range m.subTasks {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pool exposes the worker pool for CLI/status reporting.
func (m *Manager) Pool() *Pool { return m.pool }

// IntegrationBranch returns the configured integration branch, defaulting
// to "develop" when unset, matching the MergerAgent's own default.
func (m *Manager) IntegrationBranch() string {
	if m.cfg.IntegrationBranch == "" {
		return "develop"
	}
	return m.cfg.IntegrationBranch
}

// MergeCompletedSubTask merges a completed sub-task's agent branch into the
// configured integration branch via the GitManager. It is a separate step
// of the data flow: it runs once a worker's
// task_complete message has already moved the sub-task to completed, and is
// deliberately kept out of onTaskComplete so that status bookkeeping never
// depends on git being available. Requires cfg.GitMgr to be set. When the
// merge cannot be fully auto-resolved, it escalates to "reviewer" over the bus.
func (m *Manager) MergeCompletedSubTask(ctx context.Context, repoDir, subTaskID string) (*git.MergeOutcome, error) {
	if m.cfg.GitMgr == nil {
		return nil, models.NewCoreError(models.ErrInvalidInput, false, "no git manager configured")
	}
	m.mu.Lock()
	st, ok := m.subTasks[subTaskID]
	m.mu.Unlock()
	if !ok {
		return nil, models.NewCoreError(models.ErrAssignment, false, "sub-task %q not found", subTaskID)
	}
	if st.Status != models.SubTaskCompleted {
		return nil, models.NewCoreError(models.ErrInvalidInput, false, "sub-task %q is not completed", subTaskID)
	}

	branch := git.BranchName(subTaskID, st.Title)
	target := m.IntegrationBranch()
	if err := m.cfg.GitMgr.Checkout(ctx, repoDir, target); err != nil {
		return nil, err
	}

	message := git.CommitMessage(subTaskID, "merge "+st.Title)
	outcome, err := m.cfg.GitMgr.MergeWithAutoResolve(ctx, repoDir, branch, message)
	if err != nil {
		return outcome, err
	}
	if !outcome.Success && outcome.HadConflicts && outcome.ConflictReport != nil {
		_, _ = m.bus.Send(models.Message{
			Type: models.MessageEscalate,
			From: m.name,
			To:   "reviewer",
			Payload: models.Escalation{
				ID:        fmt.Sprintf("esc-conflict-%d", time.Now().UTC().UnixNano()),
				SubTaskID: subTaskID,
				Issue:     outcome.ConflictReport.Summary,
				Type:      models.EscalationTypeBlocked,
				Timestamp: time.Now().UTC(),
			},
		})
	}
	return outcome, nil
}
