package state

import (
	"testing"
	"time"
)

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	run := &Run{ID: "run-1", ProjectID: "proj-1", Instruction: "ship it", Status: "pending", StartedAt: time.Now()}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.ProjectID != "proj-1" || got.Instruction != "ship it" {
		t.Fatalf("unexpected run: %+v", got)
	}

	completedAt := time.Now()
	if err := db.UpdateRunStatus("run-1", "completed", &completedAt); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	got, err = db.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" || got.CompletedAt == nil {
		t.Fatalf("expected status=completed with a completed_at timestamp, got %+v", got)
	}
}

func TestWorkerLifecycleAndFailureHistory(t *testing.T) {
	db := openTestDB(t)
	run := &Run{ID: "run-1", ProjectID: "proj-1", Instruction: "x", Status: "executing", StartedAt: time.Now()}
	if err := db.CreateRun(run); err != nil {
		t.Fatal(err)
	}

	w := &Worker{ID: "worker-1", RunID: "run-1", Name: "w1", Capabilities: []string{"backend", "testing"}, Status: "idle", HealthScore: 100, HiredAt: time.Now()}
	if err := db.CreateWorker(w); err != nil {
		t.Fatalf("CreateWorker failed: %v", err)
	}

	w.Status = "working"
	w.CompletedCount = 1
	now := time.Now()
	w.LastActivity = &now
	if err := db.UpdateWorkerStats(w); err != nil {
		t.Fatalf("UpdateWorkerStats failed: %v", err)
	}

	workers, err := db.ListWorkersByRun("run-1")
	if err != nil {
		t.Fatalf("ListWorkersByRun failed: %v", err)
	}
	if len(workers) != 1 || workers[0].Status != "working" || len(workers[0].Capabilities) != 2 {
		t.Fatalf("unexpected workers: %+v", workers)
	}

	fail := &FailureRecord{ID: "fail-1", WorkerID: "worker-1", SubTaskID: "t-1", ErrorCode: "AI_ERROR", ErrorMessage: "boom", Recoverable: true, OccurredAt: time.Now()}
	if err := db.RecordFailure(fail); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	failures, err := db.ListFailuresByWorker("worker-1")
	if err != nil {
		t.Fatalf("ListFailuresByWorker failed: %v", err)
	}
	if len(failures) != 1 || !failures[0].Recoverable {
		t.Fatalf("unexpected failures: %+v", failures)
	}
}
