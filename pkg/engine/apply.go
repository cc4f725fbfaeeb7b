package engine

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
	"github.com/validio/validio-go/pkg/telemetry"
)

// Apply phases, in execution order.
const (
	PhaseDelete           = "delete"
	PhaseCreateCredential = "create_credentials"
	PhaseInferSchema      = "infer_schemas"
	PhaseCreateSource     = "create_sources_channels"
	PhaseExpandSelectors  = "expand_selectors"
	PhaseUpdate           = "update"
	PhaseCreateRemaining  = "create_remaining"
)

// updateOrder is the kind order of the update phase.
var updateOrder = []api.Kind{
	api.KindCredential,
	api.KindSource,
	api.KindSegmentation,
	api.KindWindow,
	api.KindValidator,
	api.KindChannel,
	api.KindNotificationRule,
}

// createOrder is the kind order of the create waves.
var createOrder = []api.Kind{
	api.KindCredential,
	api.KindSource,
	api.KindChannel,
	api.KindSegmentation,
	api.KindWindow,
	api.KindValidator,
	api.KindNotificationRule,
}

// Apply executes diff against the server. dc is the desired context the
// diff was computed from; references are resolved through it.
//
// Phases run strictly one after the other. Every resource is mutated at
// most once per pass: its applied flag is checked before and set after each
// mutation. The first error aborts the pass without rollback; errors raised
// while mutating a credential are sanitized of its secret values.
func Apply(ctx context.Context, namespace string, dc *resources.DiffContext, diff *GraphDiff, client api.Client, opts ...Option) error {
	a := &applier{
		namespace: namespace,
		dc:        dc,
		diff:      diff,
		client:    client,
		opts:      newOptions(opts),
	}

	op := telemetry.StartOperation(ctx, "engine.apply", attribute.String("namespace", namespace))
	err := a.run(op.Ctx)
	op.End(err)
	return err
}

type applier struct {
	namespace string
	dc        *resources.DiffContext
	diff      *GraphDiff
	client    api.Client
	opts      *options
}

func (a *applier) run(ctx context.Context) error {
	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{PhaseDelete, a.deleteResources},
		{PhaseCreateCredential, a.createCredentials},
		{PhaseInferSchema, a.inferPendingSchemas},
		{PhaseCreateSource, a.createSourcesAndChannels},
		{PhaseExpandSelectors, a.expandSelectors},
		{PhaseUpdate, a.updateResources},
		{PhaseCreateRemaining, a.createRemaining},
	}

	for _, phase := range phases {
		op := telemetry.StartOperation(ctx, "engine.apply."+phase.name)
		err := phase.run(op.Ctx)
		op.End(err)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) deleteResources(ctx context.Context) error {
	del := a.diff.ToDelete

	for _, r := range del.Of(api.KindNotificationRule) {
		if err := a.mutate(ctx, PhaseDelete, OpDelete, r); err != nil {
			return err
		}
	}
	for _, r := range del.Of(api.KindSource) {
		if err := a.mutate(ctx, PhaseDelete, OpDelete, r); err != nil {
			return err
		}
	}

	// Children of a deleted source are removed by the server together with it.
	owned := func(source string) bool {
		_, ok := del.Sources[source]
		return ok
	}
	for _, w := range sortedValues(del.Windows) {
		if err := a.deleteChild(ctx, w, owned(w.Source)); err != nil {
			return err
		}
	}
	for _, s := range sortedValues(del.Segmentations) {
		if err := a.deleteChild(ctx, s, owned(s.Source)); err != nil {
			return err
		}
	}
	for _, v := range sortedValues(del.Validators) {
		if err := a.deleteChild(ctx, v, owned(v.Source)); err != nil {
			return err
		}
	}

	for _, c := range del.CredentialsForDelete() {
		if err := a.mutate(ctx, PhaseDelete, OpDelete, c); err != nil {
			return err
		}
	}
	for _, r := range del.Of(api.KindChannel) {
		if err := a.mutate(ctx, PhaseDelete, OpDelete, r); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) deleteChild(ctx context.Context, r resources.Resource, cascaded bool) error {
	if !cascaded {
		return a.mutate(ctx, PhaseDelete, OpDelete, r)
	}
	if r.Applied() {
		return nil
	}
	r.MarkApplied()
	a.opts.logger.Debug().
		Str("kind", string(r.Kind())).
		Str("name", r.Name()).
		Msg("Skipping delete, removed with its source")
	a.opts.notify(ctx, MutationEvent{
		Phase:     PhaseDelete,
		Kind:      r.Kind(),
		Name:      r.Name(),
		ID:        r.ID(),
		Operation: OpSkip,
	})
	return nil
}

func (a *applier) createCredentials(ctx context.Context) error {
	for _, c := range a.diff.ToCreate.CredentialsForCreate() {
		if err := a.mutate(ctx, PhaseCreateCredential, OpCreate, c); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) inferPendingSchemas(ctx context.Context) error {
	for _, name := range a.diff.ToCreate.Names(api.KindSource) {
		src := a.diff.ToCreate.Sources[name]
		if src.HasSchema() {
			continue
		}
		if err := inferSchema(ctx, a.dc, src, a.client); err != nil {
			return err
		}
		a.opts.logger.Debug().Str("source", name).Msg("Inferred source schema")
	}
	return nil
}

func (a *applier) createSourcesAndChannels(ctx context.Context) error {
	for _, kind := range []api.Kind{api.KindSource, api.KindChannel} {
		for _, r := range a.diff.ToCreate.Of(kind) {
			if err := a.mutate(ctx, PhaseCreateSource, OpCreate, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandSelectors expands the remaining templates and replaces them in
// the create partition by the generated validators.
func (a *applier) expandSelectors(_ context.Context) error {
	expanded, err := resources.ExpandValidatorFieldSelectors(a.dc, true)
	if err != nil {
		return classify("failed to expand field selectors", err).WithOperation(PhaseExpandSelectors)
	}

	for template, validators := range expanded {
		if _, ok := a.diff.ToCreate.Validators[template]; !ok {
			continue
		}
		a.diff.ToCreate.Remove(api.KindValidator, template)
		for _, v := range validators {
			if err := a.diff.ToCreate.Add(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *applier) updateResources(ctx context.Context) error {
	for _, kind := range updateOrder {
		for _, up := range a.diff.ToUpdate.Of(kind) {
			if err := a.mutate(ctx, PhaseUpdate, OpUpdate, up.Manifest); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *applier) createRemaining(ctx context.Context) error {
	for _, kind := range createOrder {
		for _, r := range a.diff.ToCreate.Of(kind) {
			if err := a.mutate(ctx, PhaseCreateRemaining, OpCreate, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// mutate performs one remote mutation unless r was already applied in this pass.
func (a *applier) mutate(ctx context.Context, phase, operation string, r resources.Resource) error {
	if r.Applied() {
		return nil
	}

	op := telemetry.StartMutation(ctx, string(r.Kind()), r.Name(), operation)
	ctx = op.Ctx
	var err error
	switch operation {
	case OpCreate:
		err = r.Create(ctx, a.namespace, a.client, a.dc)
	case OpUpdate:
		err = r.Update(ctx, a.namespace, a.client, a.dc)
	case OpDelete:
		err = r.Delete(ctx, a.client)
	}

	if err != nil {
		if cred, ok := r.(*resources.Credential); ok {
			err = SanitizeCredentialError(err, cred)
		}
	} else {
		r.MarkApplied()
	}
	op.End(err)

	a.opts.notify(ctx, MutationEvent{
		Phase:     phase,
		Kind:      r.Kind(),
		Name:      r.Name(),
		ID:        r.ID(),
		Operation: operation,
		Duration:  op.Elapsed(),
		Err:       err,
	})

	if err != nil {
		a.opts.logger.Error().
			Err(err).
			Str("phase", phase).
			Str("kind", string(r.Kind())).
			Str("name", r.Name()).
			Msgf("Failed to %s resource", operation)
		return classify("apply failed", err).WithResource(r).WithOperation(phase + "/" + operation)
	}

	a.opts.logger.Info().
		Str("kind", string(r.Kind())).
		Str("name", r.Name()).
		Str("id", r.ID()).
		Msgf("Resource %sd", operation)
	return nil
}

func sortedValues[T resources.Resource](m map[string]T) []T {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]T, 0, len(names))
	for _, name := range names {
		out = append(out, m[name])
	}
	return out
}
