package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
	"github.com/validio/validio-go/pkg/telemetry"
)

// sensitive is shown in place of secret values.
const sensitive = "<sensitive>"

// Diff compares the desired state against the actual state of namespace.
//
// Diff prepares desired in place before partitioning it: references that
// only resolve against actual adopt the actual resource, desired resources
// inherit the server id of their actual counterpart, sources without a
// schema adopt the actual schema or get one inferred through client when
// their credential already exists, and field selectors of sources with a
// known schema are expanded. client may be nil together with
// WithoutSchemaInference.
func Diff(ctx context.Context, namespace string, desired, actual *resources.DiffContext, client api.Client, opts ...Option) (*GraphDiff, error) {
	o := newOptions(opts)
	op := telemetry.StartOperation(ctx, "engine.diff")
	ctx = op.Ctx

	diff, err := computeDiff(ctx, namespace, desired, actual, client, o)
	if err != nil {
		op.End(err)
		return nil, err
	}

	s := diff.Summary()
	o.logger.Debug().
		Str("namespace", namespace).
		Int("create", s.Create).
		Int("update", s.Update).
		Int("delete", s.Delete).
		Msg("Computed diff")

	op.End(nil)
	return diff, nil
}

func computeDiff(ctx context.Context, namespace string, desired, actual *resources.DiffContext, client api.Client, o *options) (*GraphDiff, error) {
	if err := resolveReferences(desired, actual); err != nil {
		return nil, classify("unresolved reference in manifest", err).WithOperation("diff")
	}

	adoptIDs(namespace, desired, actual)

	if err := prepareSources(ctx, desired, actual, client, o); err != nil {
		return nil, err
	}

	if _, err := resources.ExpandValidatorFieldSelectors(desired, false); err != nil {
		return nil, classify("failed to expand field selectors", err).WithOperation("diff")
	}
	// Expanded validators are new objects.
	adoptIDs(namespace, desired, actual)

	diff := &GraphDiff{
		ToCreate: resources.NewDiffContext(desired.Graph),
		ToUpdate: NewResourceUpdates(),
		ToDelete: resources.NewDiffContext(actual.Graph),
	}

	for _, kind := range api.Kinds {
		for _, name := range desired.Names(kind) {
			want, _ := desired.Get(kind, name)
			have, ok := actual.Get(kind, name)
			if !ok {
				if err := diff.ToCreate.Add(want); err != nil {
					return nil, err
				}
				continue
			}
			if want.IgnoreChanges() {
				continue
			}
			changes, err := compareResources(want, have)
			if err != nil {
				return nil, NewPermanentError("failed to compare resources", err).
					WithCode(ErrCodeInternal).
					WithResource(want).
					WithOperation("diff")
			}
			if len(changes) > 0 {
				diff.ToUpdate.Add(&ResourceUpdate{Manifest: want, Server: have, Changes: changes})
			}
		}

		for _, name := range actual.Names(kind) {
			if _, ok := desired.Get(kind, name); ok {
				continue
			}
			have, _ := actual.Get(kind, name)
			if err := diff.ToDelete.Add(have); err != nil {
				return nil, err
			}
		}
	}

	return diff, nil
}

// adoptIDs gives every desired resource the namespace and the server id of
// its actual counterpart.
func adoptIDs(namespace string, desired, actual *resources.DiffContext) {
	for _, r := range desired.All() {
		r.SetNamespace(namespace)
		if a, ok := actual.Get(r.Kind(), r.Name()); ok {
			r.SetID(a.ID())
		}
	}
}

// resolveReferences checks every reference of a desired resource. A
// reference found only in actual adopts the actual resource into desired,
// so that it is neither deleted nor changed.
func resolveReferences(desired, actual *resources.DiffContext) error {
	queue := desired.All()
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]

		for _, ref := range r.References() {
			if _, ok := desired.Get(ref.Kind, ref.Name); ok {
				continue
			}
			adopted, ok := actual.Get(ref.Kind, ref.Name)
			if !ok {
				return fmt.Errorf("%s %q: %w", r.Kind(), r.Name(),
					&resources.UnresolvedReferenceError{Kind: ref.Kind, Name: ref.Name})
			}
			if err := desired.Add(adopted); err != nil {
				return err
			}
			queue = append(queue, adopted)
		}
	}
	return nil
}

// prepareSources fills in the schema of desired sources that have none.
func prepareSources(ctx context.Context, desired, actual *resources.DiffContext, client api.Client, o *options) error {
	for _, name := range desired.Names(api.KindSource) {
		src := desired.Sources[name]
		if src.HasSchema() {
			continue
		}

		if have, ok := actual.Sources[name]; ok {
			src.JTDSchema = have.JTDSchema
			continue
		}
		if !o.inferSchemas || client == nil {
			continue
		}

		cred, err := resources.MustFindCredential(desired, src.Credential)
		if err != nil {
			return classify("unresolved reference in manifest", err).WithResource(src).WithOperation("diff")
		}
		if cred.ID() == "" {
			// The credential is created by Apply; inference waits until then.
			continue
		}
		if err := inferSchema(ctx, desired, src, client); err != nil {
			return err
		}
		o.logger.Debug().Str("source", name).Msg("Inferred source schema")
	}
	return nil
}

func inferSchema(ctx context.Context, dc *resources.DiffContext, src *resources.Source, client api.Client) error {
	req, err := src.SchemaInferenceRequest(dc)
	if err != nil {
		return classify("schema inference failed", err).WithResource(src).WithOperation("infer_schema")
	}
	schema, err := client.InferSchema(ctx, req)
	if err != nil {
		return classify("schema inference failed", err).
			WithCode(ErrCodeSchemaInference).
			WithResource(src).
			WithOperation("infer_schema")
	}
	src.JTDSchema = schema
	return nil
}

// compareResources returns the field changes turning have into want.
func compareResources(want, have resources.Resource) ([]Change, error) {
	wantFields, err := flattenFields(want.DiffFields())
	if err != nil {
		return nil, err
	}
	haveFields, err := flattenFields(have.DiffFields())
	if err != nil {
		return nil, err
	}

	paths := make(map[string]struct{}, len(wantFields)+len(haveFields))
	for p := range wantFields {
		paths[p] = struct{}{}
	}
	for p := range haveFields {
		paths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var changes []Change
	for _, p := range sorted {
		after, inWant := wantFields[p]
		before, inHave := haveFields[p]
		switch {
		case inWant && !inHave:
			changes = append(changes, Change{Path: p, After: after, Action: ChangeActionAdd})
		case !inWant && inHave:
			changes = append(changes, Change{Path: p, Before: before, Action: ChangeActionRemove})
		case !reflect.DeepEqual(after, before):
			changes = append(changes, Change{Path: p, Before: before, After: after, Action: ChangeActionModify})
		}
	}

	return append(changes, compareSecrets(want, have)...), nil
}

// compareSecrets reports secret fields present in want but unknown to the
// server. Values are never compared.
func compareSecrets(want, have resources.Resource) []Change {
	w, ok := want.(resources.SecretHolder)
	if !ok {
		return nil
	}
	var haveSecrets map[string]resources.Secret
	if h, ok := have.(resources.SecretHolder); ok {
		haveSecrets = h.Secrets()
	}

	names := make([]string, 0, len(w.Secrets()))
	for name := range w.Secrets() {
		names = append(names, name)
	}
	sort.Strings(names)

	var changes []Change
	for _, name := range names {
		if _, ok := haveSecrets[name]; ok {
			continue
		}
		changes = append(changes, Change{
			Path:   "secrets." + name,
			After:  sensitive,
			Action: ChangeActionAdd,
		})
	}
	return changes
}

// flattenFields normalizes fields through JSON and flattens nested objects
// into dotted paths. Null values and empty objects produce no path.
func flattenFields(fields map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}

	out := make(map[string]any)
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch t := v.(type) {
		case nil:
		case []any:
			// Empty and absent lists compare equal.
			if len(t) > 0 {
				out[prefix] = t
			}
		case map[string]any:
			for k, child := range t {
				if prefix == "" {
					walk(k, child)
				} else {
					walk(prefix+"."+k, child)
				}
			}
		default:
			out[prefix] = t
		}
	}
	walk("", normalized)
	return out, nil
}
