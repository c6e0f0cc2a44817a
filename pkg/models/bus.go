package models

import "time"

// MessageType enumerates the typed variants carried on the MessageBus.
type MessageType string

const (
	MessageTaskAssign        MessageType = "task_assign"
	MessageTaskComplete      MessageType = "task_complete"
	MessageTaskFailed        MessageType = "task_failed"
	MessageEscalate          MessageType = "escalate"
	MessageQualityGateFailed MessageType = "quality_gate_failed"
	MessageStatusRequest     MessageType = "status_request"
	MessageStatusResponse    MessageType = "status_response"
	MessageGuidance          MessageType = "guidance"
)

// Valid reports whether the message type is a known variant.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTaskAssign, MessageTaskComplete, MessageTaskFailed, MessageEscalate,
		MessageQualityGateFailed, MessageStatusRequest, MessageStatusResponse, MessageGuidance:
		return true
	default:
		return false
	}
}

// Message is the wire format of every value sent over the MessageBus.
type Message struct {
	// ID uniquely identifies this message.
	ID string `json:"id"`
	// Type is one of the enumerated MessageType variants.
	Type MessageType `json:"type"`
	// From is the sending agent's id ("manager", a worker id, "merger", ...).
	From string `json:"from"`
	// To is the recipient agent's id.
	To string `json:"to"`
	// Payload carries the type-specific body, left untyped so callers can
	// unmarshal into the concrete shape they expect for Type.
	Payload interface{} `json:"payload"`
	// Timestamp is when the message was sent.
	Timestamp time.Time `json:"timestamp"`
	// RunID scopes this message to a logical execution, when one is active.
	RunID string `json:"run_id,omitempty"`
}

// TaskAssignPayload is the payload shape for MessageTaskAssign.
type TaskAssignPayload struct {
	SubTask   SubTask `json:"sub_task"`
	ProjectID string  `json:"project_id"`
}

// TaskCompletePayload is the payload shape for MessageTaskComplete.
type TaskCompletePayload struct {
	SubTaskID string   `json:"sub_task_id"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// TaskFailedPayload is the payload shape for MessageTaskFailed.
type TaskFailedPayload struct {
	SubTaskID   string    `json:"sub_task_id"`
	ErrorCode   ErrorCode `json:"error_code"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
}

// QualityGateFailedPayload is the payload shape for MessageQualityGateFailed.
type QualityGateFailedPayload struct {
	SubTaskID string   `json:"sub_task_id"`
	TicketID  string   `json:"ticket_id"`
	Checks    []string `json:"checks"`
	Reasons   []string `json:"reasons,omitempty"`
}
