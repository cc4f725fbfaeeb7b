package resources

import (
	"context"
	"fmt"

	"github.com/validio/validio-go/pkg/api"
)

// Resource is the capability set shared by every managed entity.
type Resource interface {
	Kind() api.Kind
	Name() string
	Typename() string

	ID() string
	SetID(id string)
	Namespace() string
	SetNamespace(namespace string)
	Handle() Handle

	// Applied reports whether the resource was mutated remotely during the
	// current pass.
	Applied() bool
	MarkApplied()

	// IgnoreChanges marks a resource that is created when missing but never updated.
	IgnoreChanges() bool

	// DiffFields returns the comparable, non-secret state of the resource.
	// Nested maps are flattened into dotted paths by the diff engine.
	DiffFields() map[string]any

	// References lists the resources this one depends on.
	References() []Ref

	Create(ctx context.Context, namespace string, c api.Client, dc *DiffContext) error
	Update(ctx context.Context, namespace string, c api.Client, dc *DiffContext) error
	Delete(ctx context.Context, c api.Client) error
}

// SecretHolder is implemented by resources carrying secret fields.
type SecretHolder interface {
	Secrets() map[string]Secret
}

// Ref names a dependency of a resource.
type Ref struct {
	Kind api.Kind
	Name string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.Name)
}

// Meta carries the identity and bookkeeping fields common to all resources.
type Meta struct {
	kind          api.Kind
	name          string
	id            string
	namespace     string
	applied       bool
	ignoreChanges bool
	handle        Handle
}

func (m *Meta) Kind() api.Kind                { return m.kind }
func (m *Meta) Name() string                  { return m.name }
func (m *Meta) ID() string                    { return m.id }
func (m *Meta) SetID(id string)               { m.id = id }
func (m *Meta) Namespace() string             { return m.namespace }
func (m *Meta) SetNamespace(namespace string) { m.namespace = namespace }
func (m *Meta) Handle() Handle                { return m.handle }
func (m *Meta) Applied() bool                 { return m.applied }
func (m *Meta) MarkApplied()                  { m.applied = true }
func (m *Meta) IgnoreChanges() bool           { return m.ignoreChanges }

// SetIgnoreChanges toggles the ignore-changes flag.
func (m *Meta) SetIgnoreChanges(ignore bool) { m.ignoreChanges = ignore }

// Delete removes the resource remotely.
func (m *Meta) Delete(ctx context.Context, c api.Client) error {
	if m.id == "" {
		return fmt.Errorf("cannot delete %s %q: no id", m.kind, m.name)
	}
	return c.Delete(ctx, m.kind, m.id)
}

func (m *Meta) apiMeta(namespace, typename string) api.Meta {
	return api.Meta{
		ID:                m.id,
		ResourceName:      m.name,
		ResourceNamespace: namespace,
		Typename:          typename,
	}
}

// register wires the meta into the arena. It must run once, from the constructor.
func register(g *Graph, m *Meta, r Resource) {
	m.handle = g.Add(r)
}

func createRecord(ctx context.Context, c api.Client, m *Meta, rec any) error {
	id, err := c.Create(ctx, api.Mutation{Kind: m.kind, Record: rec})
	if err != nil {
		return err
	}
	m.id = id
	return nil
}

func updateRecord(ctx context.Context, c api.Client, m *Meta, rec any) error {
	if m.id == "" {
		return fmt.Errorf("cannot update %s %q: no id", m.kind, m.name)
	}
	return c.Update(ctx, m.id, api.Mutation{Kind: m.kind, Record: rec})
}

// parentID resolves the server id of a parent resource that must already exist.
func parentID(r Resource, parent Resource) (string, error) {
	if parent.ID() == "" {
		return "", fmt.Errorf("%s %q references %s %q which has not been created",
			r.Kind(), r.Name(), parent.Kind(), parent.Name())
	}
	return parent.ID(), nil
}

// copyConfig returns a shallow copy so that records never alias resource state.
func copyConfig(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
