package resources

import (
	"context"
	"fmt"

	"github.com/validio/validio-go/pkg/api"
)

// ValidatorType is the closed set of validator variants.
type ValidatorType string

const (
	ValidatorNumeric                 ValidatorType = "numeric"
	ValidatorVolume                  ValidatorType = "volume"
	ValidatorRelativeVolume          ValidatorType = "relative_volume"
	ValidatorNumericDistribution     ValidatorType = "numeric_distribution"
	ValidatorCategoricalDistribution ValidatorType = "categorical_distribution"
	ValidatorNumericAnomaly          ValidatorType = "numeric_anomaly"
	ValidatorRelativeTime            ValidatorType = "relative_time"
	ValidatorFreshness               ValidatorType = "freshness"
	ValidatorSQL                     ValidatorType = "sql"
)

type validatorVariant struct {
	typename string
	// metricKey is the config key under which the server reports the
	// metric of this variant. Empty for variants without a metric.
	metricKey string
	// reference is set for variants comparing against a reference source.
	reference bool
}

var validatorCatalog = map[ValidatorType]validatorVariant{
	ValidatorNumeric:                 {typename: "NumericValidator", metricKey: "metric"},
	ValidatorVolume:                  {typename: "VolumeValidator", metricKey: "volumeMetric"},
	ValidatorRelativeVolume:          {typename: "RelativeVolumeValidator", metricKey: "relativeVolumeMetric", reference: true},
	ValidatorNumericDistribution:     {typename: "NumericDistributionValidator", metricKey: "distributionMetric", reference: true},
	ValidatorCategoricalDistribution: {typename: "CategoricalDistributionValidator", metricKey: "categoricalDistributionMetric", reference: true},
	ValidatorNumericAnomaly:          {typename: "NumericAnomalyValidator", metricKey: "numericAnomalyMetric", reference: true},
	ValidatorRelativeTime:            {typename: "RelativeTimeValidator", metricKey: "relativeTimeMetric"},
	ValidatorFreshness:               {typename: "FreshnessValidator"},
	ValidatorSQL:                     {typename: "SqlValidator"},
}

// metricKeys lists every variant-specific metric config key.
var metricKeys = []string{
	"metric",
	"volumeMetric",
	"relativeVolumeMetric",
	"distributionMetric",
	"categoricalDistributionMetric",
	"numericAnomalyMetric",
	"relativeTimeMetric",
}

const sourceFieldKey = "sourceField"

// ParseValidatorTypename maps a server typename onto a local variant.
func ParseValidatorTypename(typename string) (ValidatorType, error) {
	for t, v := range validatorCatalog {
		if v.typename == typename {
			return t, nil
		}
	}
	return "", &UnknownKindError{Category: "validator", Typename: typename}
}

// Valid reports whether t is a known variant.
func (t ValidatorType) Valid() bool {
	_, ok := validatorCatalog[t]
	return ok
}

// SupportsReference reports whether the variant accepts a reference source.
func (t ValidatorType) SupportsReference() bool { return validatorCatalog[t].reference }

// ExtractValidatorConfig splits a server validator config into the unified
// metric, the source field and the remaining type-specific fields.
func ExtractValidatorConfig(config map[string]any) (metric, sourceField string, rest map[string]any) {
	rest = make(map[string]any, len(config))
	for k, v := range config {
		rest[k] = v
	}
	for _, key := range metricKeys {
		if m, ok := rest[key].(string); ok {
			metric = m
			delete(rest, key)
			break
		}
	}
	if f, ok := rest[sourceFieldKey].(string); ok {
		sourceField = f
		delete(rest, sourceFieldKey)
	}
	return metric, sourceField, rest
}

// Reference points a validator at a comparison source and window.
type Reference struct {
	Source  string
	Window  string
	History int
	Offset  int
	Filter  string
}

func (r *Reference) diffFields() map[string]any {
	return map[string]any{
		"source":  r.Source,
		"window":  r.Window,
		"history": r.History,
		"offset":  r.Offset,
		"filter":  r.Filter,
	}
}

// FieldSelector matches source schema fields. A validator carrying a
// selector is a template expanded into one validator per matching field.
type FieldSelector struct {
	// DataType is one of "numeric", "string", "boolean", "timestamp"; empty matches any.
	DataType string
	Nullable *bool
	// Regex is matched against the dotted field path.
	Regex string
}

// Validator monitors a metric of a source.
type Validator struct {
	Meta
	Type         ValidatorType
	Source       string
	Window       string
	Segmentation string

	Metric      string
	SourceField string
	Selector    *FieldSelector
	Threshold   Threshold
	Reference   *Reference

	// Config holds the remaining type-specific fields, e.g. a SQL query or filter.
	Config map[string]any
}

// NewValidator creates a validator and registers it in g.
func NewValidator(g *Graph, name string, typ ValidatorType, source, window, segmentation string) *Validator {
	v := &Validator{
		Meta:         Meta{kind: api.KindValidator, name: name},
		Type:         typ,
		Source:       source,
		Window:       window,
		Segmentation: segmentation,
		Config:       make(map[string]any),
	}
	register(g, &v.Meta, v)
	return v
}

// IsTemplate reports whether the validator still carries an unexpanded field selector.
func (v *Validator) IsTemplate() bool { return v.Selector != nil }

func (v *Validator) Typename() string { return validatorCatalog[v.Type].typename }

func (v *Validator) DiffFields() map[string]any {
	f := map[string]any{
		"type":         v.Typename(),
		"source":       v.Source,
		"window":       v.Window,
		"segmentation": v.Segmentation,
		"metric":       v.Metric,
		"sourceField":  v.SourceField,
		"config":       v.Config,
	}
	if v.Threshold != nil {
		f["threshold"] = v.Threshold.diffFields()
	}
	if v.Reference != nil {
		f["reference"] = v.Reference.diffFields()
	}
	return f
}

func (v *Validator) References() []Ref {
	refs := []Ref{{Kind: api.KindSource, Name: v.Source}}
	if v.Window != "" {
		refs = append(refs, Ref{Kind: api.KindWindow, Name: v.Window})
	}
	if v.Segmentation != "" {
		refs = append(refs, Ref{Kind: api.KindSegmentation, Name: v.Segmentation})
	}
	if v.Reference != nil {
		refs = append(refs,
			Ref{Kind: api.KindSource, Name: v.Reference.Source},
			Ref{Kind: api.KindWindow, Name: v.Reference.Window})
	}
	return refs
}

// clone copies v under a new name into g. The clone targets field and
// carries no selector.
func (v *Validator) clone(g *Graph, name, field string) *Validator {
	c := NewValidator(g, name, v.Type, v.Source, v.Window, v.Segmentation)
	c.Metric = v.Metric
	c.SourceField = field
	c.Threshold = v.Threshold
	if v.Reference != nil {
		ref := *v.Reference
		c.Reference = &ref
	}
	c.Config = copyConfig(v.Config)
	c.namespace = v.namespace
	c.ignoreChanges = v.ignoreChanges
	return c
}

func (v *Validator) record(namespace string, dc *DiffContext) (*api.ValidatorRecord, error) {
	if v.IsTemplate() {
		return nil, fmt.Errorf("validator %q: field selector has not been expanded", v.Name())
	}

	src, err := MustFindSource(dc, v.Source)
	if err != nil {
		return nil, err
	}
	rec := &api.ValidatorRecord{
		Meta:       v.apiMeta(namespace, v.Typename()),
		SourceName: src.Name(),
		Config:     copyConfig(v.Config),
	}
	if rec.Config == nil {
		rec.Config = make(map[string]any)
	}
	if rec.SourceID, err = parentID(v, src); err != nil {
		return nil, err
	}

	if v.Window != "" {
		w, err := MustFindWindow(dc, v.Window)
		if err != nil {
			return nil, err
		}
		rec.WindowName = w.Name()
		if rec.WindowID, err = parentID(v, w); err != nil {
			return nil, err
		}
	}
	if v.Segmentation != "" {
		s, err := MustFindSegmentation(dc, v.Segmentation)
		if err != nil {
			return nil, err
		}
		rec.SegmentationName = s.Name()
		if rec.SegmentationID, err = parentID(v, s); err != nil {
			return nil, err
		}
	}

	if key := validatorCatalog[v.Type].metricKey; key != "" && v.Metric != "" {
		rec.Config[key] = v.Metric
	}
	if v.SourceField != "" {
		rec.Config[sourceFieldKey] = v.SourceField
	}
	if v.Threshold != nil {
		rec.Threshold = v.Threshold.record()
	}

	if v.Reference != nil {
		refSrc, err := MustFindSource(dc, v.Reference.Source)
		if err != nil {
			return nil, err
		}
		refWin, err := MustFindWindow(dc, v.Reference.Window)
		if err != nil {
			return nil, err
		}
		ref := &api.ReferenceSourceConfigRecord{
			SourceName: refSrc.Name(),
			WindowName: refWin.Name(),
			History:    v.Reference.History,
			Offset:     v.Reference.Offset,
			Filter:     v.Reference.Filter,
		}
		if ref.SourceID, err = parentID(v, refSrc); err != nil {
			return nil, err
		}
		if ref.WindowID, err = parentID(v, refWin); err != nil {
			return nil, err
		}
		rec.ReferenceSourceConfig = ref
	}

	return rec, nil
}

func (v *Validator) Create(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := v.record(namespace, dc)
	if err != nil {
		return err
	}
	return createRecord(ctx, client, &v.Meta, rec)
}

func (v *Validator) Update(ctx context.Context, namespace string, client api.Client, dc *DiffContext) error {
	rec, err := v.record(namespace, dc)
	if err != nil {
		return err
	}
	return updateRecord(ctx, client, &v.Meta, rec)
}
