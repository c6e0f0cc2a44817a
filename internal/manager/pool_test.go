package manager

import (
	"testing"
	"time"

	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

// TestPool_SizeStaysWithinMinMax asserts testable property 10 of §8: hire
// beyond max fails, fire below min fails.
func TestPool_SizeStaysWithinMinMax(t *testing.T) {
	p := NewPool(PoolConfig{MinWorkers: 1, MaxWorkers: 2})
	w1, err := p.Hire(models.WorkerSpec{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Hire(models.WorkerSpec{Name: "b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Hire(models.WorkerSpec{Name: "c"}); err == nil {
		t.Fatal("expected hiring beyond max-workers to fail")
	}

	if err := p.Fire(w1.ID); err != nil {
		t.Fatal(err)
	}
	// Now at min-workers (1); firing the remaining worker should fail.
	remaining := p.List()
	var lastID string
	for _, w := range remaining {
		if w.Status != models.WorkerTerminated {
			lastID = w.ID
		}
	}
	if err := p.Fire(lastID); err == nil {
		t.Fatal("expected firing below min-workers to fail")
	}
}

func TestPool_FireRejectsActiveAssignment(t *testing.T) {
	p := NewPool(PoolConfig{MinWorkers: 0, MaxWorkers: 5})
	w, err := p.Hire(models.WorkerSpec{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Assign(w.ID, "t-1"); err != nil {
		t.Fatal(err)
	}
	if err := p.Fire(w.ID); err == nil {
		t.Fatal("expected firing an assigned worker to fail")
	}
}

func TestPool_AssignEnforcesOneToOne(t *testing.T) {
	p := NewPool(PoolConfig{MinWorkers: 0, MaxWorkers: 5})
	w, err := p.Hire(models.WorkerSpec{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Assign(w.ID, "t-1"); err != nil {
		t.Fatal(err)
	}
	if err := p.Assign(w.ID, "t-2"); err == nil {
		t.Fatal("expected a second concurrent assignment to the same worker to fail")
	}
}

// TestScore_MonotonicInCapabilitiesAndPriority asserts testable property 11
// of §8: identical inputs yield identical scores, and score increases
// monotonically in matching-capabilities and priority.
func TestScore_MonotonicInCapabilitiesAndPriority(t *testing.T) {
	base := &models.WorkerInfo{HealthScore: 80, Priority: 1}
	s1 := score(base, 0)
	s2 := score(base, 1)
	if s2 <= s1 {
		t.Fatalf("expected score to increase with matching capabilities: %v -> %v", s1, s2)
	}

	higherPriority := &models.WorkerInfo{HealthScore: 80, Priority: 5}
	s3 := score(higherPriority, 0)
	if s3 <= s1 {
		t.Fatalf("expected score to increase with priority: %v -> %v", s1, s3)
	}

	again := score(base, 0)
	if again != s1 {
		t.Fatalf("expected identical inputs to yield identical scores: %v vs %v", s1, again)
	}
}

func TestSelectBestWorker_TiesBrokenByPriorityThenHireTime(t *testing.T) {
	p := NewPool(PoolConfig{MinWorkers: 0, MaxWorkers: 5})
	earlier, err := p.Hire(models.WorkerSpec{Name: "earlier"})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	_, err = p.Hire(models.WorkerSpec{Name: "later"})
	if err != nil {
		t.Fatal(err)
	}

	st := &models.SubTask{Title: "general task", Description: "no specific skill"}
	best, ok := p.SelectBestWorker(st)
	if !ok {
		t.Fatal("expected a worker to be selected")
	}
	if best.ID != earlier.ID {
		t.Fatalf("expected the earlier-hired worker to win the tie, got %s", best.Name)
	}
}

func TestSelectBestWorker_NoneWhenNoIdleWorkers(t *testing.T) {
	p := NewPool(PoolConfig{MinWorkers: 0, MaxWorkers: 5})
	w, err := p.Hire(models.WorkerSpec{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Assign(w.ID, "t-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.SelectBestWorker(&models.SubTask{Title: "x"}); ok {
		t.Fatal("expected no selection when every worker is busy")
	}
}

// TestEvaluateScaling_S5ScenarioScalesUpByCeilHalfPending follows scenario
// S5 of §8 literally: zero idle workers, five pending sub-tasks,
// scale-up-threshold 2.0, max-workers 5, cooldown 0.
func TestEvaluateScaling_S5ScenarioScalesUpByCeilHalfPending(t *testing.T) {
	p := NewPool(PoolConfig{MinWorkers: 0, MaxWorkers: 5, ScaleUpThreshold: 2.0, ScaleCooldown: 0})
	decision := p.EvaluateScaling(5)
	if decision.Action != ScaleUp {
		t.Fatalf("expected scale_up with 5 pending and 0 active workers, got %s", decision.Action)
	}
	if decision.WorkersToAdd != 3 {
		t.Fatalf("expected ceil(5/2)=3 workers to add, got %d", decision.WorkersToAdd)
	}
}

func TestEvaluateScaling_RespectsCooldown(t *testing.T) {
	p := NewPool(PoolConfig{MinWorkers: 0, MaxWorkers: 5, ScaleUpThreshold: 2.0, ScaleCooldown: time.Hour})
	p.MarkScaled()
	decision := p.EvaluateScaling(10)
	if decision.Action != NoChange {
		t.Fatalf("expected no_change within cooldown, got %s", decision.Action)
	}
}

func TestEvaluateScaling_ScalesDownWhenIdleAndNoPending(t *testing.T) {
	p := NewPool(PoolConfig{MinWorkers: 1, MaxWorkers: 5, ScaleDownThreshold: 0.5, ScaleCooldown: 0})
	for i := 0; i < 3; i++ {
		if _, err := p.Hire(models.WorkerSpec{Name: "w"}); err != nil {
			t.Fatal(err)
		}
	}
	decision := p.EvaluateScaling(0)
	if decision.Action != ScaleDown {
		t.Fatalf("expected scale_down with all workers idle and no pending work, got %s", decision.Action)
	}
}

func TestExtractCapabilities_DefaultsToGeneral(t *testing.T) {
	caps := ExtractCapabilities("Do something", "unrelated to any bucket")
	if len(caps) != 1 || caps[0] != "general" {
		t.Fatalf("expected [general], got %v", caps)
	}
}

func TestExtractCapabilities_MatchesFrontendKeywords(t *testing.T) {
	caps := ExtractCapabilities("Fix the React component styling", "update CSS")
	found := false
	for _, c := range caps {
		if c == "frontend" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected frontend bucket to match, got %v", caps)
	}
}

func TestUnhealthyWorkers_DetectsAutoReplaceThreshold(t *testing.T) {
	p := NewPool(PoolConfig{MinWorkers: 0, MaxWorkers: 5, AutoReplaceThreshold: 5})
	w, err := p.Hire(models.WorkerSpec{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		p.RecordFailure(w.ID)
	}
	unhealthy := p.UnhealthyWorkers()
	if len(unhealthy) != 1 || unhealthy[0] != w.ID {
		t.Fatalf("expected %s flagged unhealthy, got %v", w.ID, unhealthy)
	}
}
