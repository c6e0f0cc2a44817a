package models

import "time"

// WorkerStatus represents the current state of a pool member.
type WorkerStatus string

const (
	// WorkerIdle indicates the worker has no active assignment.
	WorkerIdle WorkerStatus = "idle"
	// WorkerWorking indicates the worker has an active sub-task.
	WorkerWorking WorkerStatus = "working"
	// WorkerError indicates the worker's most recent attempt failed.
	WorkerError WorkerStatus = "error"
	// WorkerTerminated is a terminal state; the record is retained for history
	// but removed from the pool's registered-workers set.
	WorkerTerminated WorkerStatus = "terminated"
)

// Valid reports whether the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerIdle, WorkerWorking, WorkerError, WorkerTerminated:
		return true
	default:
		return false
	}
}

// WorkerSpec describes the desired shape of a worker to hire.
type WorkerSpec struct {
	// Name is a human-readable label, not required to be unique.
	Name string
	// Capabilities is the set of keyword buckets this worker can handle
	// (frontend, backend, testing, devops, documentation, general).
	Capabilities []string
	// Priority breaks ties in capability-match scoring; higher wins.
	Priority int
	// Adapter names the backend (e.g. "anthropic", "bedrock") this worker uses.
	Adapter string
	// Model is the model identifier passed to the adapter.
	Model string
}

// WorkerInfo is a pool-member record, owned exclusively by the ManagerAgent.
type WorkerInfo struct {
	// ID has the form worker-<base36>-<rand>.
	ID string `json:"id"`
	// Name is a human-readable label.
	Name string `json:"name"`
	// Capabilities is the set of keyword buckets this worker can handle.
	Capabilities []string `json:"capabilities"`
	// Status is the current lifecycle state.
	Status WorkerStatus `json:"status"`
	// HiredAt is when the worker was registered.
	HiredAt time.Time `json:"hired_at"`
	// LastActivity is bumped on every assignment, success, or failure.
	LastActivity time.Time `json:"last_activity"`
	// CompletedCount is the number of sub-tasks this worker has finished successfully.
	CompletedCount int `json:"completed_count"`
	// FailedCount is the number of sub-tasks this worker has failed.
	FailedCount int `json:"failed_count"`
	// ConsecutiveFailures resets to zero on any success.
	ConsecutiveFailures int `json:"consecutive_failures"`
	// HealthScore is a derived 0-100 reliability metric.
	HealthScore float64 `json:"health_score"`
	// Priority breaks ties in capability-match scoring.
	Priority int `json:"priority"`
	// Adapter names the backend this worker's calls are routed through.
	Adapter string `json:"adapter,omitempty"`
	// Model is the model identifier passed to the adapter.
	Model string `json:"model,omitempty"`
}

// TotalAttempts returns the number of sub-tasks this worker has finished, win or lose.
func (w *WorkerInfo) TotalAttempts() int {
	return w.CompletedCount + w.FailedCount
}

// SuccessRate returns completed/(completed+failed), or 1.0 when the worker
// has no history yet (a fresh hire should not be penalized for an empty record).
func (w *WorkerInfo) SuccessRate() float64 {
	total := w.TotalAttempts()
	if total == 0 {
		return 1.0
	}
	return float64(w.CompletedCount) / float64(total)
}

// FailureRate returns failed/(completed+failed), or 0.0 when the worker has no history.
func (w *WorkerInfo) FailureRate() float64 {
	total := w.TotalAttempts()
	if total == 0 {
		return 0.0
	}
	return float64(w.FailedCount) / float64(total)
}

// FailureRecord is an audit entry created whenever a worker reports failure.
type FailureRecord struct {
	// ID uniquely identifies this record.
	ID string `json:"id"`
	// WorkerID is the worker that reported the failure.
	WorkerID string `json:"worker_id"`
	// SubTaskID is the sub-task being worked when the failure occurred.
	SubTaskID string `json:"sub_task_id"`
	// ErrorCode categorizes the failure per pkg/models.ErrorCode.
	ErrorCode ErrorCode `json:"error_code"`
	// ErrorMessage is the human-readable failure description.
	ErrorMessage string `json:"error_message"`
	// Recoverable indicates whether a retry is expected to help.
	Recoverable bool `json:"recoverable"`
	// Timestamp is when the failure was recorded.
	Timestamp time.Time `json:"timestamp"`
	// SupportProvided indicates provideSupport was invoked for this failure.
	SupportProvided bool `json:"support_provided"`
	// Resolved is set once the same worker subsequently succeeds.
	Resolved bool `json:"resolved"`
}

// EscalationType categorizes why a worker is requesting help.
type EscalationType string

const (
	EscalationTypeError       EscalationType = "error"
	EscalationTypeBlocked     EscalationType = "blocked"
	EscalationTypeHelpNeeded  EscalationType = "help_needed"
	EscalationTypeQualityGate EscalationType = "quality_failed"
)

// Escalation is a request for manager or reviewer help raised by a worker.
type Escalation struct {
	// ID uniquely identifies this escalation.
	ID string `json:"id"`
	// FromWorker is the worker raising the escalation.
	FromWorker string `json:"from_worker"`
	// SubTaskID is the sub-task in distress.
	SubTaskID string `json:"sub_task_id"`
	// Issue is the free-form description of the problem.
	Issue string `json:"issue"`
	// Type categorizes the escalation.
	Type EscalationType `json:"type"`
	// Timestamp is when the escalation was raised.
	Timestamp time.Time `json:"timestamp"`
}

// Guidance is the manager's response to provideSupport.
type Guidance struct {
	// Advice is a short human-readable recommendation.
	Advice string `json:"advice"`
	// SuggestedActions lists concrete next steps.
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	// AdditionalResources lists paths, docs, or examples worth consulting.
	AdditionalResources []string `json:"additional_resources,omitempty"`
}
