package models

import "time"

// PRStatus represents the pull-request lifecycle state.
type PRStatus string

const (
	PRStatusOpen     PRStatus = "open"
	PRStatusApproved PRStatus = "approved"
	PRStatusMerged   PRStatus = "merged"
	PRStatusClosed   PRStatus = "closed"
)

// Valid reports whether the status is a known value.
func (s PRStatus) Valid() bool {
	switch s {
	case PRStatusOpen, PRStatusApproved, PRStatusMerged, PRStatusClosed:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the strict open->approved->merged progression;
// closed absorbs any state.
func (s PRStatus) CanTransitionTo(next PRStatus) bool {
	if next == PRStatusClosed {
		return s != PRStatusMerged
	}
	switch s {
	case PRStatusOpen:
		return next == PRStatusApproved
	case PRStatusApproved:
		return next == PRStatusMerged
	default:
		return false
	}
}

// PullRequest is a merge proposal owned exclusively by the MergerAgent.
type PullRequest struct {
	// ID has the form pr-<base36>-<rand>.
	ID string `json:"id"`
	// Title is a short human-readable summary.
	Title string `json:"title"`
	// Description is auto-generated via Adapter when not supplied.
	Description string `json:"description"`
	// SourceBranch is the agent/integration branch being merged.
	SourceBranch string `json:"source_branch"`
	// TargetBranch is the protected branch this PR targets.
	TargetBranch string `json:"target_branch"`
	// TicketID is the originating ticket identifier.
	TicketID string `json:"ticket_id"`
	// Status is the current lifecycle state.
	Status PRStatus `json:"status"`
	// ChangedFiles lists paths touched between source and target.
	ChangedFiles []string `json:"changed_files"`
	// CommitCount is the number of commits on SourceBranch not on TargetBranch.
	CommitCount int `json:"commit_count"`
	// CreatedAt is when the PR was opened.
	CreatedAt time.Time `json:"created_at"`
}

// ConflictFileEntry describes one file's state in an unresolved merge conflict.
type ConflictFileEntry struct {
	Path           string `json:"path"`
	HasBase        bool   `json:"has_base"`
	HasOurs        bool   `json:"has_ours"`
	HasTheirs      bool   `json:"has_theirs"`
	AutoResolvable bool   `json:"auto_resolvable"`
}

// ConflictReport is a snapshot of an unresolved merge, generated when
// auto-resolution cannot settle every file.
type ConflictReport struct {
	Timestamp   time.Time           `json:"timestamp"`
	Branch      string              `json:"branch"`
	Total       int                 `json:"total"`
	FileEntries []ConflictFileEntry `json:"file_entries"`
	Summary     string              `json:"summary"`
}
