package engine

import (
	"context"
	"time"

	"github.com/validio/validio-go/pkg/resources"
	"github.com/validio/validio-go/pkg/stores"
)

// PolicyChecker evaluates guardrails over a diff before it is applied.
type PolicyChecker interface {
	// CheckDiff evaluates the diff of namespace. actual is the loaded
	// server state the diff was computed against.
	CheckDiff(ctx context.Context, namespace string, diff *GraphDiff, actual *resources.DiffContext) (*PolicyResult, error)
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed is false when an error or critical violation was found.
	Allowed bool `json:"allowed" yaml:"allowed"`

	// Violations lists the violations blocking the diff.
	Violations []PolicyViolation `json:"violations,omitempty" yaml:"violations,omitempty"`

	// Warnings lists violations that do not block the diff.
	Warnings []PolicyViolation `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of the evaluated policies.
	EvaluatedPolicies []string `json:"evaluated_policies" yaml:"evaluated_policies"`

	EvaluatedAt time.Time `json:"evaluated_at" yaml:"evaluated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	Policy string `json:"policy" yaml:"policy"`

	Message string `json:"message" yaml:"message"`

	// Severity is one of info, warning, error, critical.
	Severity string `json:"severity" yaml:"severity"`

	// Resource is "<kind>/<name>" when the violation concerns one resource.
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`
}

// RunStore persists reconciliation runs and their mutations.
// *stores.SQLiteStore implements it.
type RunStore interface {
	CreateRun(ctx context.Context, run *stores.Run) error
	CompleteRun(ctx context.Context, id string, status stores.RunStatus, summary string, err *string) error
	AppendMutation(ctx context.Context, m *stores.Mutation) error
	UpsertResourceState(ctx context.Context, state *stores.ResourceState) error
	DeleteResourceState(ctx context.Context, namespace, kind, name string) error
	CreateAuditEntry(ctx context.Context, entry *stores.AuditEntry) error
}
