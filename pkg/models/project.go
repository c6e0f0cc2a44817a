package models

import "time"

// Project is the descriptor the core reads as an input argument, per §6.
// The core does not manage project registration; it only consumes this
// shape when an operator submits an instruction against a target repository.
type Project struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	GitURL            string    `json:"git_url"`
	DefaultBranch     string    `json:"default_branch"`
	IntegrationBranch string    `json:"integration_branch"`
	WorkDir           string    `json:"work_dir"`
	CreatedAt         time.Time `json:"created_at"`
	LastUsed          time.Time `json:"last_used"`
}
