package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block an apply.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that block an apply.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity blocks an apply.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. It must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyInput is the document policies are evaluated against (input).
type PolicyInput struct {
	Diff    *DiffInput     `json:"diff"`
	Limits  Limits         `json:"limits"`
	Context *PolicyContext `json:"context"`
}

// DiffInput describes a diff by resource kind and name. It never carries
// configuration or secret values.
type DiffInput struct {
	Namespace string        `json:"namespace"`
	Create    []ResourceRef `json:"create"`
	Update    []UpdateRef   `json:"update"`
	Delete    []ResourceRef `json:"delete"`

	// Actual counts the loaded server resources per kind.
	Actual map[string]int `json:"actual"`

	// ActualTotal is the number of loaded server resources.
	ActualTotal int `json:"actual_total"`
}

// ResourceRef identifies a resource of the diff.
type ResourceRef struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Typename string `json:"typename"`
}

// UpdateRef is an updated resource with the paths of its changed fields.
type UpdateRef struct {
	ResourceRef
	Paths []string `json:"paths"`
}

// Limits are thresholds built-in policies compare against.
type Limits struct {
	// MaxDeletes is the number of deletions above which large-delete warns.
	MaxDeletes int `json:"max_deletes" yaml:"max_deletes"`
}

// DefaultLimits returns the built-in thresholds.
func DefaultLimits() Limits {
	return Limits{MaxDeletes: 20}
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// User is the user performing the operation.
	User string `json:"user,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Operation is "plan" or "apply".
	Operation string `json:"operation,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`
}
