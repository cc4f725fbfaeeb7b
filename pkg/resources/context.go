package resources

import (
	"fmt"
	"sort"

	"github.com/validio/validio-go/pkg/api"
)

// DiffContext holds one resource mapping per kind, keyed by resource name.
// Graph is the arena owning the resources; resources generated while
// processing the context register into it.
type DiffContext struct {
	Graph *Graph

	Credentials       map[string]*Credential
	Channels          map[string]*Channel
	Sources           map[string]*Source
	Segmentations     map[string]*Segmentation
	Windows           map[string]*Window
	Validators        map[string]*Validator
	NotificationRules map[string]*NotificationRule
}

// NewDiffContext returns a context backed by g with every mapping initialized.
func NewDiffContext(g *Graph) *DiffContext {
	return &DiffContext{
		Graph:             g,
		Credentials:       make(map[string]*Credential),
		Channels:          make(map[string]*Channel),
		Sources:           make(map[string]*Source),
		Segmentations:     make(map[string]*Segmentation),
		Windows:           make(map[string]*Window),
		Validators:        make(map[string]*Validator),
		NotificationRules: make(map[string]*NotificationRule),
	}
}

// Add inserts r into the mapping of its kind, replacing a resource of the same name.
func (dc *DiffContext) Add(r Resource) error {
	switch v := r.(type) {
	case *Credential:
		dc.Credentials[v.Name()] = v
	case *Channel:
		dc.Channels[v.Name()] = v
	case *Source:
		dc.Sources[v.Name()] = v
	case *Segmentation:
		dc.Segmentations[v.Name()] = v
	case *Window:
		dc.Windows[v.Name()] = v
	case *Validator:
		dc.Validators[v.Name()] = v
	case *NotificationRule:
		dc.NotificationRules[v.Name()] = v
	default:
		return fmt.Errorf("unsupported resource %T", r)
	}
	return nil
}

// Get returns the resource of kind with name.
func (dc *DiffContext) Get(kind api.Kind, name string) (Resource, bool) {
	var (
		r  Resource
		ok bool
	)
	switch kind {
	case api.KindCredential:
		r, ok = lookup(dc.Credentials, name)
	case api.KindChannel:
		r, ok = lookup(dc.Channels, name)
	case api.KindSource:
		r, ok = lookup(dc.Sources, name)
	case api.KindSegmentation:
		r, ok = lookup(dc.Segmentations, name)
	case api.KindWindow:
		r, ok = lookup(dc.Windows, name)
	case api.KindValidator:
		r, ok = lookup(dc.Validators, name)
	case api.KindNotificationRule:
		r, ok = lookup(dc.NotificationRules, name)
	}
	return r, ok
}

// Remove deletes the resource of kind with name if present.
func (dc *DiffContext) Remove(kind api.Kind, name string) {
	switch kind {
	case api.KindCredential:
		delete(dc.Credentials, name)
	case api.KindChannel:
		delete(dc.Channels, name)
	case api.KindSource:
		delete(dc.Sources, name)
	case api.KindSegmentation:
		delete(dc.Segmentations, name)
	case api.KindWindow:
		delete(dc.Windows, name)
	case api.KindValidator:
		delete(dc.Validators, name)
	case api.KindNotificationRule:
		delete(dc.NotificationRules, name)
	}
}

// Names returns the sorted resource names of kind.
func (dc *DiffContext) Names(kind api.Kind) []string {
	switch kind {
	case api.KindCredential:
		return sortedNames(dc.Credentials)
	case api.KindChannel:
		return sortedNames(dc.Channels)
	case api.KindSource:
		return sortedNames(dc.Sources)
	case api.KindSegmentation:
		return sortedNames(dc.Segmentations)
	case api.KindWindow:
		return sortedNames(dc.Windows)
	case api.KindValidator:
		return sortedNames(dc.Validators)
	case api.KindNotificationRule:
		return sortedNames(dc.NotificationRules)
	}
	return nil
}

// Of returns the resources of kind sorted by name. Credentials are
// ordered for creation, with wrapping variants last.
func (dc *DiffContext) Of(kind api.Kind) []Resource {
	if kind == api.KindCredential {
		creds := dc.CredentialsForCreate()
		out := make([]Resource, len(creds))
		for i, c := range creds {
			out[i] = c
		}
		return out
	}

	names := dc.Names(kind)
	out := make([]Resource, 0, len(names))
	for _, name := range names {
		r, _ := dc.Get(kind, name)
		out = append(out, r)
	}
	return out
}

// All returns every resource in dependency order.
func (dc *DiffContext) All() []Resource {
	var out []Resource
	for _, kind := range api.Kinds {
		out = append(out, dc.Of(kind)...)
	}
	return out
}

// Len returns the number of resources of kind.
func (dc *DiffContext) Len(kind api.Kind) int {
	return len(dc.Names(kind))
}

// IsEmpty reports whether no mapping holds a resource.
func (dc *DiffContext) IsEmpty() bool {
	for _, kind := range api.Kinds {
		if dc.Len(kind) > 0 {
			return false
		}
	}
	return true
}

// CredentialsForCreate returns the credentials with wrapping variants last.
func (dc *DiffContext) CredentialsForCreate() []*Credential {
	creds := make([]*Credential, 0, len(dc.Credentials))
	for _, c := range dc.Credentials {
		creds = append(creds, c)
	}
	SortCredentialsForCreate(creds)
	return creds
}

// CredentialsForDelete returns the credentials with wrapping variants first.
func (dc *DiffContext) CredentialsForDelete() []*Credential {
	creds := make([]*Credential, 0, len(dc.Credentials))
	for _, c := range dc.Credentials {
		creds = append(creds, c)
	}
	SortCredentialsForDelete(creds)
	return creds
}

// MustFindCredential returns the named credential or an *UnresolvedReferenceError.
func MustFindCredential(dc *DiffContext, name string) (*Credential, error) {
	return mustFind(dc.Credentials, api.KindCredential, name)
}

// MustFindChannel returns the named channel or an *UnresolvedReferenceError.
func MustFindChannel(dc *DiffContext, name string) (*Channel, error) {
	return mustFind(dc.Channels, api.KindChannel, name)
}

// MustFindSource returns the named source or an *UnresolvedReferenceError.
func MustFindSource(dc *DiffContext, name string) (*Source, error) {
	return mustFind(dc.Sources, api.KindSource, name)
}

// MustFindSegmentation returns the named segmentation or an *UnresolvedReferenceError.
func MustFindSegmentation(dc *DiffContext, name string) (*Segmentation, error) {
	return mustFind(dc.Segmentations, api.KindSegmentation, name)
}

// MustFindWindow returns the named window or an *UnresolvedReferenceError.
func MustFindWindow(dc *DiffContext, name string) (*Window, error) {
	return mustFind(dc.Windows, api.KindWindow, name)
}

// MustFindValidator returns the named validator or an *UnresolvedReferenceError.
func MustFindValidator(dc *DiffContext, name string) (*Validator, error) {
	return mustFind(dc.Validators, api.KindValidator, name)
}

// MustFindNotificationRule returns the named rule or an *UnresolvedReferenceError.
func MustFindNotificationRule(dc *DiffContext, name string) (*NotificationRule, error) {
	return mustFind(dc.NotificationRules, api.KindNotificationRule, name)
}

func mustFind[T Resource](m map[string]T, kind api.Kind, name string) (T, error) {
	r, ok := m[name]
	if !ok {
		var zero T
		return zero, &UnresolvedReferenceError{Kind: kind, Name: name}
	}
	return r, nil
}

func lookup[T Resource](m map[string]T, name string) (Resource, bool) {
	r, ok := m[name]
	if !ok {
		return nil, false
	}
	return r, true
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
