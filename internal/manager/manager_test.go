package manager

import (
	"context"
	"testing"
	"time"

	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{
		RunID: "run-test",
		Pool:  DefaultPoolConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestReceiveTask_ValidatesAndTransitions(t *testing.T) {
	m := newTestManager(t)
	task := &models.ParentTask{ID: "task-1", Instruction: "do the thing"}
	if err := m.ReceiveTask(task); err != nil {
		t.Fatal(err)
	}
	if task.Status != models.ParentTaskDecomposing {
		t.Fatalf("status = %s, want decomposing", task.Status)
	}
	if task.AssignedManager == "" {
		t.Fatal("expected assigned-manager to be stamped")
	}

	if err := m.ReceiveTask(&models.ParentTask{ID: "", Instruction: ""}); err == nil {
		t.Fatal("expected INVALID_INPUT for empty id/instruction")
	}
}

func TestAssignTask_RegistersWorkerAndEmitsMessage(t *testing.T) {
	m := newTestManager(t)
	task := &models.ParentTask{ID: "task-1", Instruction: "x"}
	if err := m.ReceiveTask(task); err != nil {
		t.Fatal(err)
	}

	st := &models.SubTask{ID: "task-1-001", ParentID: "task-1", Title: "build api", Status: models.SubTaskPending}
	m.mu.Lock()
	m.subTasks[st.ID] = st
	m.mu.Unlock()

	if err := m.AssignTask(st, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if st.Status != models.SubTaskAssigned || st.Assignee != "worker-1" {
		t.Fatalf("sub-task not updated: %+v", st)
	}

	msg, ok := m.bus.Receive("worker-1")
	if !ok {
		t.Fatal("expected a task_assign message for worker-1")
	}
	if msg.Type != models.MessageTaskAssign {
		t.Fatalf("message type = %s, want task_assign", msg.Type)
	}
}

func TestAssignTasksInParallel(t *testing.T) {
	m := newTestManager(t)
	task := &models.ParentTask{ID: "task-1", Instruction: "x"}
	if err := m.ReceiveTask(task); err != nil {
		t.Fatal(err)
	}

	pairs := []AssignPair{
		{SubTask: &models.SubTask{ID: "t-1", ParentID: "task-1", Status: models.SubTaskPending}, WorkerID: "w-1"},
		{SubTask: &models.SubTask{ID: "t-2", ParentID: "task-1", Status: models.SubTaskPending}, WorkerID: "w-2"},
	}
	if err := m.AssignTasksInParallel(context.Background(), pairs); err != nil {
		t.Fatal(err)
	}
	for _, p := range pairs {
		if p.SubTask.Status != models.SubTaskAssigned {
			t.Fatalf("sub-task %s not assigned", p.SubTask.ID)
		}
	}
}

func TestOnTaskFailed_EscalatesAfterThresholds(t *testing.T) {
	m := newTestManager(t)
	st := &models.SubTask{ID: "t-1", ParentID: "task-1", Status: models.SubTaskAssigned, Assignee: "w-1"}
	m.mu.Lock()
	m.subTasks[st.ID] = st
	m.mu.Unlock()
	m.pool.Register("w-1")

	for i := 0; i < 3; i++ {
		if err := m.onTaskFailed(context.Background(), "w-1", "t-1", models.ErrAI, "boom", true); err != nil {
			t.Fatal(err)
		}
	}

	// Notification threshold (3) should have triggered provideSupport: a guidance message queued for w-1.
	msg, ok := m.bus.Receive("w-1")
	if !ok || msg.Type != models.MessageGuidance {
		t.Fatalf("expected a guidance message after reaching the notification threshold, got %v ok=%v", msg, ok)
	}
}

func TestOnTaskFailed_ReplacesWorkerPastAutoReplaceThreshold(t *testing.T) {
	m := newTestManager(t)
	m.pool.Register("w-1")
	for i := 0; i < 5; i++ {
		if err := m.onTaskFailed(context.Background(), "w-1", "t-1", models.ErrAI, "boom", true); err != nil {
			t.Fatal(err)
		}
	}
	info, ok := m.pool.Info("w-1")
	if !ok {
		t.Fatal("expected w-1 to still have a history record")
	}
	if info.Status != models.WorkerTerminated {
		t.Fatalf("expected w-1 to be terminated after crossing the auto-replace threshold, got %s", info.Status)
	}

	replaced := false
	for _, w := range m.pool.List() {
		if w.ID != "w-1" && w.Status != models.WorkerTerminated {
			replaced = true
		}
	}
	if !replaced {
		t.Fatal("expected a fresh replacement worker to have been hired")
	}
}

func TestOnQualityGateFailed_DecisionTable(t *testing.T) {
	m := newTestManager(t)
	st := &models.SubTask{ID: "t-1", ParentID: "task-1", Title: "api work", Status: models.SubTaskAssigned, Assignee: "w-1"}
	m.mu.Lock()
	m.task = &models.ParentTask{ID: "task-1", ProjectID: "p", Instruction: "build the api", Status: models.ParentTaskExecuting}
	m.subTasks[st.ID] = st
	m.mu.Unlock()
	m.pool.Register("w-1")
	if err := m.pool.Assign("w-1", "t-1"); err != nil {
		t.Fatal(err)
	}

	// N=0 -> retry guidance.
	if err := m.onQualityGateFailed(context.Background(), "w-1", "t-1", "lint failed"); err != nil {
		t.Fatal(err)
	}
	msg, ok := m.bus.Receive("w-1")
	if !ok || msg.Type != models.MessageGuidance {
		t.Fatalf("expected guidance on first quality-gate failure, got %v ok=%v", msg, ok)
	}

	// N=1 -> reassign to an alternate idle worker.
	if _, err := m.pool.Hire(models.WorkerSpec{Name: "alt", Capabilities: []string{"general"}}); err != nil {
		t.Fatal(err)
	}
	if err := m.onQualityGateFailed(context.Background(), "w-1", "t-1", "lint failed again"); err != nil {
		t.Fatal(err)
	}
	if st.Assignee == "w-1" {
		t.Fatal("expected sub-task to be reassigned away from w-1")
	}

	// N>=3 -> escalate to quality_authority.
	m.mu.Lock()
	m.ticketFailN["t-1"] = 3
	m.mu.Unlock()
	if err := m.onQualityGateFailed(context.Background(), st.Assignee, "t-1", "still failing"); err != nil {
		t.Fatal(err)
	}
	esc, ok := m.bus.Receive("quality_authority")
	if !ok || esc.Type != models.MessageEscalate {
		t.Fatalf("expected an escalate message to quality_authority, got %v ok=%v", esc, ok)
	}
}

func TestOnTaskComplete_TransitionsParentWhenAllSubTasksDone(t *testing.T) {
	m := newTestManager(t)
	task := &models.ParentTask{ID: "task-1", Instruction: "x"}
	if err := m.ReceiveTask(task); err != nil {
		t.Fatal(err)
	}
	st := &models.SubTask{ID: "t-1", ParentID: "task-1", Status: models.SubTaskAssigned, Assignee: "w-1"}
	m.mu.Lock()
	m.subTasks[st.ID] = st
	m.task = task
	m.mu.Unlock()
	m.pool.Register("w-1")

	m.onTaskComplete("w-1", "t-1", []string{"pr-1"})

	if st.Status != models.SubTaskCompleted {
		t.Fatalf("sub-task status = %s, want completed", st.Status)
	}
	if task.Status != models.ParentTaskReviewing {
		t.Fatalf("parent status = %s, want reviewing", task.Status)
	}
}

func TestScaleWorkersByWorkload_ScalesUpUnderHeavyPending(t *testing.T) {
	m := newTestManager(t)
	m.pool.Register("w-1")
	for i := 0; i < 5; i++ {
		m.mu.Lock()
		id := time.Now().Format("150405.000000")
		m.subTasks["pending-"+id+string(rune('a'+i))] = &models.SubTask{
			ID: "pending-" + id + string(rune('a'+i)), Status: models.SubTaskPending,
		}
		m.mu.Unlock()
	}
	decision, err := m.ScaleWorkersByWorkload()
	if err != nil {
		t.Fatal(err)
	}
	if decision.Action != ScaleUp {
		t.Fatalf("expected scale_up with 5 pending vs 1 active worker, got %s", decision.Action)
	}
	if m.pool.Size() <= 1 {
		t.Fatalf("expected additional workers to have been hired, pool size = %d", m.pool.Size())
	}
}

func TestSelectBestWorkerForTask_PrefersCapabilityMatch(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.pool.Hire(models.WorkerSpec{Name: "generalist", Capabilities: []string{"general"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.pool.Hire(models.WorkerSpec{Name: "frontend-dev", Capabilities: []string{"frontend"}}); err != nil {
		t.Fatal(err)
	}

	st := &models.SubTask{Title: "Fix the React component styling", Description: "update CSS"}
	best, ok := m.SelectBestWorkerForTask(st)
	if !ok {
		t.Fatal("expected a worker to be selected")
	}
	if best.Name != "frontend-dev" {
		t.Fatalf("expected the frontend-capable worker to win, got %s", best.Name)
	}
}
