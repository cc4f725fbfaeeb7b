package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
)

// Change is a single field difference between the manifest and the server.
type Change struct {
	// Path is the dotted path of the field, e.g. "config.database".
	Path string `json:"path" yaml:"path"`

	Before any `json:"before,omitempty" yaml:"before,omitempty"`
	After  any `json:"after,omitempty" yaml:"after,omitempty"`

	Action ChangeAction `json:"action" yaml:"action"`
}

// String renders the change on one line.
func (c Change) String() string {
	switch c.Action {
	case ChangeActionAdd:
		return fmt.Sprintf("+ %s = %v", c.Path, c.After)
	case ChangeActionRemove:
		return fmt.Sprintf("- %s = %v", c.Path, c.Before)
	default:
		return fmt.Sprintf("~ %s: %v -> %v", c.Path, c.Before, c.After)
	}
}

// ChangeAction is the type of a field change.
type ChangeAction string

const (
	ChangeActionAdd    ChangeAction = "add"
	ChangeActionRemove ChangeAction = "remove"
	ChangeActionModify ChangeAction = "modify"
)

// ResourceUpdate pairs a manifest resource with the server resource it
// replaces. The manifest resource carries the server id and is the one
// sent to the server.
type ResourceUpdate struct {
	Manifest resources.Resource
	Server   resources.Resource
	Changes  []Change
}

// ResourceUpdates holds the updates of a diff per kind and name.
type ResourceUpdates struct {
	byKind map[api.Kind]map[string]*ResourceUpdate
}

// NewResourceUpdates returns an empty set.
func NewResourceUpdates() *ResourceUpdates {
	u := &ResourceUpdates{byKind: make(map[api.Kind]map[string]*ResourceUpdate)}
	for _, k := range api.Kinds {
		u.byKind[k] = make(map[string]*ResourceUpdate)
	}
	return u
}

// Add records an update keyed by the manifest resource.
func (u *ResourceUpdates) Add(up *ResourceUpdate) {
	u.byKind[up.Manifest.Kind()][up.Manifest.Name()] = up
}

// Get returns the update of kind with name.
func (u *ResourceUpdates) Get(kind api.Kind, name string) (*ResourceUpdate, bool) {
	up, ok := u.byKind[kind][name]
	return up, ok
}

// Of returns the updates of kind sorted by name.
func (u *ResourceUpdates) Of(kind api.Kind) []*ResourceUpdate {
	m := u.byKind[kind]
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*ResourceUpdate, 0, len(names))
	for _, name := range names {
		out = append(out, m[name])
	}
	return out
}

// Len returns the number of updates of kind.
func (u *ResourceUpdates) Len(kind api.Kind) int {
	return len(u.byKind[kind])
}

// IsEmpty reports whether there are no updates.
func (u *ResourceUpdates) IsEmpty() bool {
	for _, m := range u.byKind {
		if len(m) > 0 {
			return false
		}
	}
	return true
}

// GraphDiff partitions the difference between two contexts.
type GraphDiff struct {
	ToCreate *resources.DiffContext
	ToUpdate *ResourceUpdates
	ToDelete *resources.DiffContext
}

// IsEmpty reports whether applying the diff would not change anything.
func (d *GraphDiff) IsEmpty() bool {
	return d.ToCreate.IsEmpty() && d.ToUpdate.IsEmpty() && d.ToDelete.IsEmpty()
}

// KindCounts counts resources per partition for one kind.
type KindCounts struct {
	Create int `json:"create" yaml:"create"`
	Update int `json:"update" yaml:"update"`
	Delete int `json:"delete" yaml:"delete"`
}

// DiffSummary counts the resources of a diff.
type DiffSummary struct {
	ByKind map[api.Kind]KindCounts `json:"by_kind" yaml:"by_kind"`
	Create int                     `json:"create" yaml:"create"`
	Update int                     `json:"update" yaml:"update"`
	Delete int                     `json:"delete" yaml:"delete"`
}

// String renders the totals, e.g. "2 to create, 0 to update, 1 to delete".
func (s DiffSummary) String() string {
	return fmt.Sprintf("%d to create, %d to update, %d to delete", s.Create, s.Update, s.Delete)
}

// Summary counts the diff per kind and partition.
func (d *GraphDiff) Summary() DiffSummary {
	s := DiffSummary{ByKind: make(map[api.Kind]KindCounts)}
	for _, k := range api.Kinds {
		c := KindCounts{
			Create: d.ToCreate.Len(k),
			Update: d.ToUpdate.Len(k),
			Delete: d.ToDelete.Len(k),
		}
		s.ByKind[k] = c
		s.Create += c.Create
		s.Update += c.Update
		s.Delete += c.Delete
	}
	return s
}

// Render prints the diff as a plan, one resource per line followed by its
// field changes. Secret fields render as their placeholder only.
func (d *GraphDiff) Render() string {
	var b strings.Builder
	for _, k := range api.Kinds {
		for _, r := range d.ToCreate.Of(k) {
			fmt.Fprintf(&b, "+ %s %q\n", k, r.Name())
		}
		for _, up := range d.ToUpdate.Of(k) {
			fmt.Fprintf(&b, "~ %s %q\n", k, up.Manifest.Name())
			for _, c := range up.Changes {
				fmt.Fprintf(&b, "    %s\n", c)
			}
		}
	}
	for i := len(api.Kinds) - 1; i >= 0; i-- {
		k := api.Kinds[i]
		for _, r := range d.ToDelete.Of(k) {
			fmt.Fprintf(&b, "- %s %q\n", k, r.Name())
		}
	}
	fmt.Fprintf(&b, "\nPlan: %s\n", d.Summary())
	return b.String()
}
