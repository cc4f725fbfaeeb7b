package resources

import (
	"context"

	"github.com/validio/validio-go/pkg/api"
)

// WindowType is the closed set of window variants.
type WindowType string

const (
	WindowGlobal     WindowType = "global"
	WindowFixedBatch WindowType = "fixed_batch"
	WindowTumbling   WindowType = "tumbling"
	WindowFile       WindowType = "file"
)

var windowCatalog = map[WindowType]struct {
	typename string
	// timeField is set for variants carrying a data time field.
	timeField bool
}{
	WindowGlobal:     {typename: "GlobalWindow"},
	WindowFixedBatch: {typename: "FixedBatchWindow", timeField: true},
	WindowTumbling:   {typename: "TumblingWindow", timeField: true},
	WindowFile:       {typename: "FileWindow"},
}

// ParseWindowTypename maps a server typename onto a local variant.
func ParseWindowTypename(typename string) (WindowType, error) {
	for t, v := range windowCatalog {
		if v.typename == typename {
			return t, nil
		}
	}
	return "", &UnknownKindError{Category: "window", Typename: typename}
}

// Valid reports whether t is a known variant.
func (t WindowType) Valid() bool {
	_, ok := windowCatalog[t]
	return ok
}

// HasDataTimeField reports whether the variant carries a data time field.
func (t WindowType) HasDataTimeField() bool { return windowCatalog[t].timeField }

// Window groups the data of a source into evaluation periods.
type Window struct {
	Meta
	Type   WindowType
	Source string
	Config map[string]any

	// DataTimeField is only meaningful for variants where HasDataTimeField is true.
	DataTimeField string
}

// NewWindow creates a window and registers it in g.
func NewWindow(g *Graph, name string, typ WindowType, source string) *Window {
	w := &Window{
		Meta:   Meta{kind: api.KindWindow, name: name},
		Type:   typ,
		Source: source,
		Config: make(map[string]any),
	}
	register(g, &w.Meta, w)
	return w
}

func (w *Window) Typename() string { return windowCatalog[w.Type].typename }

func (w *Window) DiffFields() map[string]any {
	f := map[string]any{
		"type":   w.Typename(),
		"source": w.Source,
		"config": w.Config,
	}
	if w.Type.HasDataTimeField() {
		f["dataTimeField"] = w.DataTimeField
	}
	return f
}

func (w *Window) References() []Ref {
	return []Ref{{Kind: api.KindSource, Name: w.Source}}
}

func (w *Window) record(namespace string, dc *DiffContext) (*api.WindowRecord, error) {
	src, err := MustFindSource(dc, w.Source)
	if err != nil {
		return nil, err
	}
	id, err := parentID(w, src)
	if err != nil {
		return nil, err
	}
	rec := &api.WindowRecord{
		Meta:       w.apiMeta(namespace, w.Typename()),
		SourceName: src.Name(),
		SourceID:   id,
		Config:     copyConfig(w.Config),
	}
	if w.Type.HasDataTimeField() && w.DataTimeField != "" {
		field := w.DataTimeField
		rec.DataTimeField = &field
	}
	return rec, nil
}

func (w *Window) Create(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := w.record(namespace, dc)
	if err != nil {
		return err
	}
	return createRecord(ctx, client, &w.Meta, rec)
}

func (w *Window) Update(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := w.record(namespace, dc)
	if err != nil {
		return err
	}
	return updateRecord(ctx, client, &w.Meta, rec)
}
