package stores

import "time"

// RunStatus represents the status of a reconciliation run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusDenied    RunStatus = "denied"
)

// IsTerminal reports whether no further transition is expected.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}

// MutationStatus represents the outcome of a remote mutation
type MutationStatus string

const (
	MutationStatusSucceeded MutationStatus = "succeeded"
	MutationStatusFailed    MutationStatus = "failed"
	MutationStatusSkipped   MutationStatus = "skipped"
)

// Run represents one plan or apply of a namespace
type Run struct {
	ID          string     `json:"id" yaml:"id"`
	Namespace   string     `json:"namespace" yaml:"namespace"`
	Command     string     `json:"command" yaml:"command"` // plan, apply
	Status      RunStatus  `json:"status" yaml:"status"`
	Summary     string     `json:"summary" yaml:"summary"` // JSON blob
	Error       *string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Mutation represents an append-only record of one remote mutation
type Mutation struct {
	ID         int64          `json:"id" yaml:"id"`
	RunID      string         `json:"run_id" yaml:"run_id"`
	Phase      string         `json:"phase" yaml:"phase"`
	Kind       string         `json:"kind" yaml:"kind"`
	Name       string         `json:"name" yaml:"name"`
	ResourceID string         `json:"resource_id" yaml:"resource_id"`
	Operation  string         `json:"operation" yaml:"operation"`
	Status     MutationStatus `json:"status" yaml:"status"`
	Error      *string        `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs int64          `json:"duration_ms" yaml:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp" yaml:"timestamp"`
}

// ResourceState is the last known server id of a managed resource
type ResourceState struct {
	Namespace  string    `json:"namespace"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	ResourceID string    `json:"resource_id"`
	LastRunID  string    `json:"last_run_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g. "policy.denied", "apply.started"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // run id
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}
