package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/lease"
	"github.com/validio/validio-go/pkg/resources"
	"github.com/validio/validio-go/pkg/stores"
	"github.com/validio/validio-go/pkg/telemetry"
)

// DefaultLeaseTTL is the lease duration used when Reconciler.LeaseTTL is zero.
const DefaultLeaseTTL = 2 * time.Minute

// Run commands recorded in the run history.
const (
	CommandPlan  = "plan"
	CommandApply = "apply"
)

// Reconciler runs Load, Diff, the policy check and Apply for a namespace.
// Store, Locker and Policy are optional.
type Reconciler struct {
	Client api.Client
	Store  RunStore
	Locker lease.Locker
	Policy PolicyChecker

	// LeaseTTL is the duration of the namespace lease. The lease is
	// renewed at a third of it while a run is in progress.
	LeaseTTL time.Duration

	// Options are passed to LoadResources, Diff and Apply.
	Options []Option
}

// RunOptions configures a single run.
type RunOptions struct {
	// SkipPolicy applies the diff even when policies deny it.
	SkipPolicy bool

	// Actor is recorded in audit entries.
	Actor string
}

// RunResult is the outcome of a run. Fields are filled as far as the run got.
type RunResult struct {
	RunID     string
	Namespace string
	Command   string
	Status    stores.RunStatus

	Actual    *resources.DiffContext
	Diff      *GraphDiff
	Policy    *PolicyResult
	Mutations []MutationEvent
}

// runSummary is the JSON summary stored with a run.
type runSummary struct {
	Diff      *DiffSummary `json:"diff,omitempty"`
	Mutations int          `json:"mutations"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Denied    []string     `json:"denied_by,omitempty"`
}

// Plan loads the actual state of namespace, diffs desired against it and
// evaluates the policies. It performs no mutation.
func (r *Reconciler) Plan(ctx context.Context, namespace string, desired *resources.DiffContext, opts RunOptions) (*RunResult, error) {
	return r.run(ctx, CommandPlan, namespace, desired, opts)
}

// Apply plans like Plan and then applies the diff while holding the lease
// of namespace. A policy denial stops the run with ErrCodePolicyDenied
// unless opts.SkipPolicy is set.
func (r *Reconciler) Apply(ctx context.Context, namespace string, desired *resources.DiffContext, opts RunOptions) (*RunResult, error) {
	return r.run(ctx, CommandApply, namespace, desired, opts)
}

func (r *Reconciler) run(ctx context.Context, command, namespace string, desired *resources.DiffContext, opts RunOptions) (*RunResult, error) {
	res := &RunResult{
		RunID:     uuid.New().String(),
		Namespace: namespace,
		Command:   command,
		Status:    stores.RunStatusRunning,
	}
	o := newOptions(r.Options)
	logger := o.logger.With().
		Str("run_id", res.RunID).
		Str("namespace", namespace).
		Str("command", command).
		Logger()

	if command == CommandApply && r.Locker != nil {
		release, err := r.acquire(ctx, namespace, res.RunID, logger)
		if err != nil {
			return res, err
		}
		defer release()
	}

	ctx = telemetry.WithRunContext(ctx, res.RunID, namespace)

	if r.Store != nil {
		if err := r.Store.CreateRun(ctx, &stores.Run{
			ID:        res.RunID,
			Namespace: namespace,
			Command:   command,
			Status:    stores.RunStatusRunning,
		}); err != nil {
			err = NewTransientError("failed to record run", err).WithCode(ErrCodeInternal)
			telemetry.EndRunContext(ctx, string(stores.RunStatusFailed), err)
			return res, err
		}
	}

	logger.Info().Msg("Reconciliation started")
	err := r.execute(ctx, command, namespace, desired, opts, res, logger)
	r.finish(ctx, res, opts, err, logger)
	return res, err
}

func (r *Reconciler) execute(ctx context.Context, command, namespace string, desired *resources.DiffContext, opts RunOptions, res *RunResult, logger zerolog.Logger) error {
	actual, err := LoadResources(ctx, namespace, r.Client, r.Options...)
	if err != nil {
		return err
	}
	res.Actual = actual

	diff, err := Diff(ctx, namespace, desired, actual, r.Client, r.Options...)
	if err != nil {
		return err
	}
	res.Diff = diff
	recordDiffSize(ctx, diff)

	if r.Policy != nil {
		result, err := r.Policy.CheckDiff(ctx, namespace, diff, actual)
		if err != nil {
			return classify("policy evaluation failed", err).WithOperation("policy")
		}
		res.Policy = result
		for _, w := range result.Warnings {
			logger.Warn().
				Str("policy", w.Policy).
				Str("resource", w.Resource).
				Msg(w.Message)
		}
		if !result.Allowed {
			if !opts.SkipPolicy || command == CommandPlan {
				return policyDenied(result)
			}
			logger.Warn().Int("violations", len(result.Violations)).Msg("Policy violations skipped")
		}
	}

	if command == CommandPlan || diff.IsEmpty() {
		return nil
	}

	var mu sync.Mutex
	recorder := ObserverFunc(func(ctx context.Context, ev MutationEvent) {
		mu.Lock()
		res.Mutations = append(res.Mutations, ev)
		mu.Unlock()
		r.recordMutation(ctx, res, ev, logger)
	})
	applyOpts := append(append([]Option(nil), r.Options...), WithObserver(recorder))
	return Apply(ctx, namespace, desired, diff, r.Client, applyOpts...)
}

// acquire takes the namespace lease and keeps it renewed until release is called.
func (r *Reconciler) acquire(ctx context.Context, namespace, runID string, logger zerolog.Logger) (func(), error) {
	ttl := r.LeaseTTL
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	if err := r.Locker.Acquire(ctx, namespace, runID, ttl); err != nil {
		if errors.Is(err, lease.ErrHeld) {
			ee := NewConflictError("namespace is being reconciled by another run", err).
				WithCode(ErrCodeLeaseHeld).
				WithOperation("lease")
			if info, gerr := r.Locker.Get(ctx, namespace); gerr == nil && info != nil {
				ee = ee.WithDetail("holder", info.HolderID).WithDetail("expires_at", info.ExpiresAt)
			}
			return nil, ee
		}
		return nil, NewTransientError("failed to acquire lease", err).WithCode(ErrCodeInternal).WithOperation("lease")
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Locker.Renew(ctx, namespace, runID, ttl); err != nil {
					logger.Error().Err(err).Msg("Failed to renew namespace lease")
					return
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		// The run context may already be cancelled.
		if err := r.Locker.Release(context.WithoutCancel(ctx), namespace, runID); err != nil {
			logger.Warn().Err(err).Msg("Failed to release namespace lease")
		}
	}, nil
}

func (r *Reconciler) recordMutation(ctx context.Context, res *RunResult, ev MutationEvent, logger zerolog.Logger) {
	status := stores.MutationStatusSucceeded
	switch {
	case ev.Err != nil:
		status = stores.MutationStatusFailed
	case ev.Operation == OpSkip:
		status = stores.MutationStatusSkipped
	}
	telemetry.RecordMutation(ctx, string(ev.Kind), ev.Operation, string(status), ev.Duration)

	if r.Store == nil {
		return
	}

	m := &stores.Mutation{
		RunID:      res.RunID,
		Phase:      ev.Phase,
		Kind:       string(ev.Kind),
		Name:       ev.Name,
		ResourceID: ev.ID,
		Operation:  ev.Operation,
		Status:     status,
		DurationMs: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		msg := ev.Err.Error()
		m.Error = &msg
	}
	if err := r.Store.AppendMutation(ctx, m); err != nil {
		logger.Warn().Err(err).Str("kind", m.Kind).Str("name", m.Name).Msg("Failed to record mutation")
	}

	if ev.Err != nil {
		return
	}
	var err error
	switch ev.Operation {
	case OpCreate, OpUpdate:
		err = r.Store.UpsertResourceState(ctx, &stores.ResourceState{
			Namespace:  res.Namespace,
			Kind:       string(ev.Kind),
			Name:       ev.Name,
			ResourceID: ev.ID,
			LastRunID:  res.RunID,
		})
	case OpDelete, OpSkip:
		err = r.Store.DeleteResourceState(ctx, res.Namespace, string(ev.Kind), ev.Name)
	}
	if err != nil {
		logger.Warn().Err(err).Str("kind", m.Kind).Str("name", m.Name).Msg("Failed to record resource state")
	}
}

// finish completes the run record, the audit trail and the run telemetry.
func (r *Reconciler) finish(ctx context.Context, res *RunResult, opts RunOptions, err error, logger zerolog.Logger) {
	res.Status = stores.RunStatusSucceeded
	if err != nil {
		res.Status = stores.RunStatusFailed
		if HasCode(err, ErrCodePolicyDenied) {
			res.Status = stores.RunStatusDenied
		}
		var ee *EngineError
		if errors.As(err, &ee) {
			telemetry.RecordErrorClass(ctx, string(ee.Class), ee.Code)
		}
	}

	summary := runSummary{}
	if res.Diff != nil {
		s := res.Diff.Summary()
		summary.Diff = &s
	}
	for _, ev := range res.Mutations {
		switch {
		case ev.Err != nil:
			summary.Failed++
		case ev.Operation == OpSkip:
			summary.Skipped++
		default:
			summary.Mutations++
		}
	}
	if res.Policy != nil {
		for _, v := range res.Policy.Violations {
			summary.Denied = append(summary.Denied, v.Policy)
		}
	}

	// The run context may already be cancelled.
	storeCtx := context.WithoutCancel(ctx)
	if r.Store != nil {
		raw, _ := json.Marshal(summary)
		var errMsg *string
		if err != nil {
			msg := err.Error()
			errMsg = &msg
		}
		if cerr := r.Store.CompleteRun(storeCtx, res.RunID, res.Status, string(raw), errMsg); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to complete run record")
		}
		r.audit(storeCtx, res, opts, summary, logger)
	}

	telemetry.EndRunContext(ctx, string(res.Status), err)

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.Str("status", string(res.Status)).
		Int("mutations", summary.Mutations).
		Int("skipped", summary.Skipped).
		Msg("Reconciliation finished")
}

func (r *Reconciler) audit(ctx context.Context, res *RunResult, opts RunOptions, summary runSummary, logger zerolog.Logger) {
	var action string
	switch {
	case res.Status == stores.RunStatusDenied:
		action = "policy.denied"
	case res.Command == CommandApply && opts.SkipPolicy && res.Policy != nil && !res.Policy.Allowed:
		action = "policy.skipped"
	case res.Command == CommandApply:
		action = "apply." + string(res.Status)
	default:
		return
	}

	actor := opts.Actor
	if actor == "" {
		actor = "system"
	}
	details, _ := json.Marshal(summary)
	d := string(details)
	target := res.RunID
	if err := r.Store.CreateAuditEntry(ctx, &stores.AuditEntry{
		Action:   action,
		Actor:    actor,
		TargetID: &target,
		Details:  &d,
	}); err != nil {
		logger.Warn().Err(err).Str("action", action).Msg("Failed to record audit entry")
	}
}

func policyDenied(result *PolicyResult) *EngineError {
	policies := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		policies = append(policies, v.Policy)
	}
	msg := "diff denied by policy"
	if len(result.Violations) > 0 {
		msg = fmt.Sprintf("diff denied by policy: %s", result.Violations[0].Message)
	}
	return NewPermanentError(msg, nil).
		WithCode(ErrCodePolicyDenied).
		WithOperation("policy").
		WithDetail("policies", policies)
}

func recordDiffSize(ctx context.Context, diff *GraphDiff) {
	for kind, c := range diff.Summary().ByKind {
		telemetry.SetDiffSize(ctx, string(kind), "create", c.Create)
		telemetry.SetDiffSize(ctx, string(kind), "update", c.Update)
		telemetry.SetDiffSize(ctx, string(kind), "delete", c.Delete)
	}
}
