package models

import "fmt"

// ErrorCode enumerates the typed failure categories the core surfaces at its
// public boundaries, per the error handling design.
type ErrorCode string

const (
	// ErrInvalidInput marks a malformed or missing required argument.
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrDecomposition wraps any failure raised while decomposing an instruction.
	ErrDecomposition ErrorCode = "DECOMPOSITION_ERROR"
	// ErrParse marks an Adapter response that could not be parsed as JSON.
	ErrParse ErrorCode = "PARSE_ERROR"
	// ErrValidation marks a sub-task entry missing required fields.
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	// ErrInsufficientSubtasks marks a decomposition producing fewer than min-subtasks.
	ErrInsufficientSubtasks ErrorCode = "INSUFFICIENT_SUBTASKS"
	// ErrAI wraps a failed Adapter call.
	ErrAI ErrorCode = "AI_ERROR"
	// ErrAdapterConnection marks a transport-level Adapter failure.
	ErrAdapterConnection ErrorCode = "ADAPTER_CONNECTION_ERROR"
	// ErrAdapterTimeout marks an Adapter call that exceeded its deadline.
	ErrAdapterTimeout ErrorCode = "ADAPTER_TIMEOUT"
	// ErrAdapterFallback marks a degraded-but-recoverable Adapter response.
	ErrAdapterFallback ErrorCode = "ADAPTER_FALLBACK"
	// ErrWorkerNotFound marks a reference to an unregistered worker id.
	ErrWorkerNotFound ErrorCode = "WORKER_NOT_FOUND"
	// ErrNoCurrentTask marks an operation requiring an active parent task when none exists.
	ErrNoCurrentTask ErrorCode = "NO_CURRENT_TASK"
	// ErrAssignment marks a failed sub-task assignment.
	ErrAssignment ErrorCode = "ASSIGNMENT_ERROR"
	// ErrCommunication marks a failed message-bus send.
	ErrCommunication ErrorCode = "COMMUNICATION_ERROR"
	// ErrGitConflict marks an unresolvable merge conflict.
	ErrGitConflict ErrorCode = "GIT_CONFLICT"
	// ErrKnownHostsInvalid marks a host-key validation failure.
	ErrKnownHostsInvalid ErrorCode = "KNOWN_HOSTS_INVALID"
	// ErrMergeRejectedProtected marks an attempted direct merge into a protected branch.
	ErrMergeRejectedProtected ErrorCode = "MERGE_REJECTED_PROTECTED"
	// ErrPRNotApproved marks an attempt to merge a pull request that is not approved.
	ErrPRNotApproved ErrorCode = "PR_NOT_APPROVED"
	// ErrPRNotFound marks a reference to an unknown pull request id.
	ErrPRNotFound ErrorCode = "PR_NOT_FOUND"
	// ErrQualityGateFailure marks an observed quality-gate failure.
	ErrQualityGateFailure ErrorCode = "QUALITY_GATE_FAILURE"
)

// CoreError is the typed error value returned at the public boundaries
// (decompose, assign, merge, PR lifecycle) for the codes above; git and
// filesystem failures on the merge and PR paths are returned unwrapped. It
// unifies the thrown-error / result-object split of the original design into
// one value that satisfies the standard error interface.
type CoreError struct {
	Code        ErrorCode
	Message     string
	Recoverable bool
}

// NewCoreError constructs a CoreError with the given code and message.
func NewCoreError(code ErrorCode, recoverable bool, format string, args ...interface{}) *CoreError {
	return &CoreError{
		Code:        code,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: recoverable,
	}
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target carries the same error code, so callers can
// use errors.Is(err, &CoreError{Code: models.ErrInvalidInput}).
func (e *CoreError) Is(target error) bool {
	other, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}
