package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
)

var resourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.:-]*$`)

// newValidator returns a validator knowing the resource variant tags.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	variants := map[string]func(string) bool{
		"resource_name":   resourceNamePattern.MatchString,
		"credential_type": func(s string) bool { return resources.CredentialType(s).Valid() },
		"channel_type":    func(s string) bool { return resources.ChannelType(s).Valid() },
		"source_type":     func(s string) bool { return resources.SourceType(s).Valid() },
		"window_type":     func(s string) bool { return resources.WindowType(s).Valid() },
		"validator_type":  func(s string) bool { return resources.ValidatorType(s).Valid() },
	}
	for tag, ok := range variants {
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return ok(fl.Field().String())
		})
	}
	return v
}

// LoadManifest reads a manifest from a .yaml, .yml, .json or .cue file, or
// from a directory holding a CUE package. The manifest is validated and
// secret references to environment variables are expanded.
func LoadManifest(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat manifest %s: %w", path, err)
	}

	var m *Manifest
	switch {
	case info.IsDir() || filepath.Ext(path) == ".cue":
		m, err = NewCUEParser().Parse([]string{path})
	default:
		var data []byte
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
		}
		m, err = ParseManifest(data, path)
	}
	if err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := m.ExpandEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseManifest decodes a YAML or JSON manifest. Unknown fields are
// rejected. file is only used in error messages.
func ParseManifest(data []byte, file string) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return &m, nil
		}
		ve := ValidationError{File: file, Message: err.Error()}
		var te *yaml.TypeError
		if errors.As(err, &te) {
			ve.Message = strings.Join(te.Errors, "; ")
		}
		return nil, ValidationErrors{ve}
	}
	return &m, nil
}

// Validate checks field constraints and the uniqueness of names per kind.
func (m *Manifest) Validate() error {
	var errs ValidationErrors

	if err := newValidator().Struct(m); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate manifest: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: fieldErrorMessage(fe),
			})
		}
	}

	names := map[string][]string{}
	for _, c := range m.Credentials {
		names["credentials"] = append(names["credentials"], c.Name)
	}
	for _, c := range m.Channels {
		names["channels"] = append(names["channels"], c.Name)
	}
	for _, s := range m.Sources {
		names["sources"] = append(names["sources"], s.Name)
	}
	for _, s := range m.Segmentations {
		names["segmentations"] = append(names["segmentations"], s.Name)
	}
	for _, w := range m.Windows {
		names["windows"] = append(names["windows"], w.Name)
	}
	for _, v := range m.Validators {
		names["validators"] = append(names["validators"], v.Name)
	}
	for _, n := range m.NotificationRules {
		names["notification_rules"] = append(names["notification_rules"], n.Name)
	}
	for _, kind := range []string{"credentials", "channels", "sources", "segmentations", "windows", "validators", "notification_rules"} {
		seen := make(map[string]bool)
		for i, name := range names[kind] {
			if seen[name] {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("%s[%d].name", kind, i),
					Message: fmt.Sprintf("duplicate name %q", name),
				})
			}
			seen[name] = true
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// fieldPath turns a validator namespace into a manifest path.
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Manifest.")
	return strings.ReplaceAll(ns, ".ResourceConfig", "")
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "excluded_with":
		return fmt.Sprintf("must not be set together with %s", fe.Param())
	case "resource_name":
		return fmt.Sprintf("invalid name %q", fe.Value())
	case "credential_type", "channel_type", "source_type", "window_type", "validator_type":
		return fmt.Sprintf("unknown %s %q", strings.ReplaceAll(fe.Tag(), "_", " "), fe.Value())
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}

// ExpandEnv replaces ${VAR} references in secret values. A reference to
// an undefined variable is an error.
func (m *Manifest) ExpandEnv(lookup func(string) (string, bool)) error {
	var errs ValidationErrors
	expand := func(path string, secrets map[string]string) {
		for field, value := range secrets {
			var missing []string
			secrets[field] = os.Expand(value, func(name string) string {
				v, ok := lookup(name)
				if !ok {
					missing = append(missing, name)
				}
				return v
			})
			for _, name := range missing {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("%s.secrets.%s", path, field),
					Message: fmt.Sprintf("environment variable %s is not set", name),
				})
			}
		}
	}
	for i := range m.Credentials {
		expand(fmt.Sprintf("credentials[%d]", i), m.Credentials[i].Secrets)
	}
	for i := range m.Channels {
		expand(fmt.Sprintf("channels[%d]", i), m.Channels[i].Secrets)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ToDiffContext builds the desired state on a fresh resource graph.
// References between resources are resolved later by the diff.
func (m *Manifest) ToDiffContext() (*resources.DiffContext, error) {
	g := resources.NewGraph()
	dc := resources.NewDiffContext(g)
	var errs ValidationErrors
	add := func(r resources.Resource) { _ = dc.Add(r) }

	for _, c := range m.Credentials {
		cred := resources.NewCredential(g, c.Name, resources.CredentialType(c.Type))
		cred.Config = cloneConfig(c.Config)
		cred.WarehouseCredential = c.WarehouseCredential
		for field, value := range c.Secrets {
			cred.SetSecret(field, resources.SecretValue(value))
		}
		cred.SetIgnoreChanges(c.IgnoreChanges)
		add(cred)
	}

	for _, c := range m.Channels {
		ch := resources.NewChannel(g, c.Name, resources.ChannelType(c.Type))
		ch.Config = cloneConfig(c.Config)
		for field, value := range c.Secrets {
			ch.SetSecret(field, resources.SecretValue(value))
		}
		ch.SetIgnoreChanges(c.IgnoreChanges)
		add(ch)
	}

	for i, s := range m.Sources {
		src := resources.NewSource(g, s.Name, resources.SourceType(s.Type), s.Credential)
		src.Config = cloneConfig(s.Config)
		if len(s.Schema) > 0 {
			raw, err := json.Marshal(s.Schema)
			if err != nil {
				errs = append(errs, ValidationError{Path: fmt.Sprintf("sources[%d].schema", i), Message: err.Error()})
				continue
			}
			src.JTDSchema = raw
		}
		src.SetIgnoreChanges(s.IgnoreChanges)
		add(src)
	}

	for _, s := range m.Segmentations {
		seg := resources.NewSegmentation(g, s.Name, s.Source, append([]string(nil), s.Fields...))
		seg.Filter = s.Filter
		seg.SetIgnoreChanges(s.IgnoreChanges)
		add(seg)
	}

	for _, w := range m.Windows {
		win := resources.NewWindow(g, w.Name, resources.WindowType(w.Type), w.Source)
		win.Config = cloneConfig(w.Config)
		win.DataTimeField = w.DataTimeField
		win.SetIgnoreChanges(w.IgnoreChanges)
		add(win)
	}

	for i, v := range m.Validators {
		val := resources.NewValidator(g, v.Name, resources.ValidatorType(v.Type), v.Source, v.Window, v.Segmentation)
		val.Metric = v.Metric
		val.SourceField = v.SourceField
		val.Config = cloneConfig(v.Config)
		if fs := v.FieldSelector; fs != nil {
			val.Selector = &resources.FieldSelector{DataType: fs.DataType, Nullable: fs.Nullable, Regex: fs.Regex}
		}
		if v.Threshold != nil {
			t, err := v.Threshold.toThreshold()
			if err != nil {
				errs = append(errs, ValidationError{Path: fmt.Sprintf("validators[%d].threshold", i), Message: err.Error()})
				continue
			}
			val.Threshold = t
		}
		if r := v.Reference; r != nil {
			if !val.Type.SupportsReference() {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("validators[%d].reference", i),
					Message: fmt.Sprintf("validator type %s takes no reference source", v.Type),
				})
				continue
			}
			val.Reference = &resources.Reference{
				Source:  r.Source,
				Window:  r.Window,
				History: r.History,
				Offset:  r.Offset,
				Filter:  r.Filter,
			}
		}
		val.SetIgnoreChanges(v.IgnoreChanges)
		add(val)
	}

	for _, n := range m.NotificationRules {
		rule := resources.NewNotificationRule(g, n.Name, n.Channel)
		if c := n.Conditions; c != nil {
			cond := &resources.Conditions{
				Owners:     append([]string(nil), c.Owners...),
				Severities: append([]string(nil), c.Severities...),
				Sources:    append([]string(nil), c.Sources...),
				Types:      append([]string(nil), c.Types...),
			}
			for _, s := range c.Segments {
				cond.Segments = append(cond.Segments, resources.SegmentCondition{Field: s.Field, Value: s.Value})
			}
			for _, t := range c.Tags {
				cond.Tags = append(cond.Tags, resources.TagCondition{Key: t.Key, Value: t.Value})
			}
			rule.Conditions = cond
		}
		rule.SetIgnoreChanges(n.IgnoreChanges)
		add(rule)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return dc, nil
}

func (t *ThresholdConfig) toThreshold() (resources.Threshold, error) {
	switch t.Type {
	case "fixed":
		op := resources.ComparisonOperator(t.Operator)
		switch op {
		case resources.OperatorEqual, resources.OperatorNotEqual,
			resources.OperatorLessThan, resources.OperatorLessOrEqual,
			resources.OperatorGreaterThan, resources.OperatorGreaterOrEqual:
		default:
			return nil, fmt.Errorf("invalid comparison operator %q", t.Operator)
		}
		if t.Value == nil {
			return nil, fmt.Errorf("fixed threshold requires a value")
		}
		return resources.FixedThreshold{Operator: op, Value: *t.Value}, nil

	case "dynamic":
		d := resources.NewDynamicThreshold()
		if t.Sensitivity != nil {
			d.Sensitivity = *t.Sensitivity
		}
		if t.DecisionBoundsType != "" {
			d.DecisionBoundsType = resources.DecisionBoundsType(t.DecisionBoundsType)
		}
		return d, nil

	case "difference":
		op := resources.DifferenceOperator(t.Operator)
		switch op {
		case resources.DifferenceIncreasing, resources.DifferenceDecreasing,
			resources.DifferenceStrictlyIncreasing, resources.DifferenceStrictlyDecreasing:
		default:
			return nil, fmt.Errorf("invalid difference operator %q", t.Operator)
		}
		if t.Value == nil || t.NumberOfWindows < 1 {
			return nil, fmt.Errorf("difference threshold requires a value and number_of_windows")
		}
		dt := resources.DifferenceType(t.DifferenceType)
		if dt == "" {
			dt = resources.DifferenceAbsolute
		}
		return resources.DifferenceThreshold{
			DifferenceType:  dt,
			Operator:        op,
			NumberOfWindows: t.NumberOfWindows,
			Value:           *t.Value,
		}, nil
	}
	return nil, fmt.Errorf("unknown threshold type %q", t.Type)
}

// FromDiffContext renders a context as a manifest. Secret fields are
// written as the UNSET placeholder.
func FromDiffContext(namespace string, dc *resources.DiffContext) *Manifest {
	m := &Manifest{Namespace: namespace}

	for _, name := range dc.Names(api.KindCredential) {
		c := dc.Credentials[name]
		m.Credentials = append(m.Credentials, CredentialConfig{
			ResourceConfig:      ResourceConfig{Name: name},
			Type:                string(c.Type),
			Config:              cloneConfig(c.Config),
			Secrets:             secretPlaceholders(c.Secrets()),
			WarehouseCredential: c.WarehouseCredential,
		})
	}
	for _, name := range dc.Names(api.KindChannel) {
		c := dc.Channels[name]
		m.Channels = append(m.Channels, ChannelConfig{
			ResourceConfig: ResourceConfig{Name: name},
			Type:           string(c.Type),
			Config:         cloneConfig(c.Config),
			Secrets:        secretPlaceholders(c.Secrets()),
		})
	}
	for _, name := range dc.Names(api.KindSource) {
		s := dc.Sources[name]
		sc := SourceConfig{
			ResourceConfig: ResourceConfig{Name: name},
			Type:           string(s.Type),
			Credential:     s.Credential,
			Config:         cloneConfig(s.Config),
		}
		if s.HasSchema() {
			_ = json.Unmarshal(s.JTDSchema, &sc.Schema)
		}
		m.Sources = append(m.Sources, sc)
	}
	for _, name := range dc.Names(api.KindSegmentation) {
		s := dc.Segmentations[name]
		m.Segmentations = append(m.Segmentations, SegmentationConfig{
			ResourceConfig: ResourceConfig{Name: name},
			Source:         s.Source,
			Fields:         append([]string(nil), s.Fields...),
			Filter:         s.Filter,
		})
	}
	for _, name := range dc.Names(api.KindWindow) {
		w := dc.Windows[name]
		m.Windows = append(m.Windows, WindowConfig{
			ResourceConfig: ResourceConfig{Name: name},
			Type:           string(w.Type),
			Source:         w.Source,
			Config:         cloneConfig(w.Config),
			DataTimeField:  w.DataTimeField,
		})
	}
	for _, name := range dc.Names(api.KindValidator) {
		v := dc.Validators[name]
		vc := ValidatorConfig{
			ResourceConfig: ResourceConfig{Name: name},
			Type:           string(v.Type),
			Source:         v.Source,
			Window:         v.Window,
			Segmentation:   v.Segmentation,
			Metric:         v.Metric,
			SourceField:    v.SourceField,
			Threshold:      thresholdConfig(v.Threshold),
			Config:         cloneConfig(v.Config),
		}
		if fs := v.Selector; fs != nil {
			vc.FieldSelector = &FieldSelectorConfig{DataType: fs.DataType, Nullable: fs.Nullable, Regex: fs.Regex}
		}
		if r := v.Reference; r != nil {
			vc.Reference = &ReferenceSourceConfig{
				Source:  r.Source,
				Window:  r.Window,
				History: r.History,
				Offset:  r.Offset,
				Filter:  r.Filter,
			}
		}
		m.Validators = append(m.Validators, vc)
	}
	for _, name := range dc.Names(api.KindNotificationRule) {
		n := dc.NotificationRules[name]
		nc := NotificationRuleConfig{ResourceConfig: ResourceConfig{Name: name}, Channel: n.Channel}
		if c := n.Conditions; c != nil {
			cc := &ConditionsConfig{
				Owners:     c.Owners,
				Severities: c.Severities,
				Sources:    c.Sources,
				Types:      c.Types,
			}
			for _, s := range c.Segments {
				cc.Segments = append(cc.Segments, SegmentConditionConfig{Field: s.Field, Value: s.Value})
			}
			for _, t := range c.Tags {
				cc.Tags = append(cc.Tags, TagConditionConfig{Key: t.Key, Value: t.Value})
			}
			nc.Conditions = cc
		}
		m.NotificationRules = append(m.NotificationRules, nc)
	}
	return m
}

func thresholdConfig(t resources.Threshold) *ThresholdConfig {
	switch th := t.(type) {
	case resources.FixedThreshold:
		v := th.Value
		return &ThresholdConfig{Type: "fixed", Operator: string(th.Operator), Value: &v}
	case resources.DynamicThreshold:
		s := th.Sensitivity
		return &ThresholdConfig{Type: "dynamic", Sensitivity: &s, DecisionBoundsType: string(th.DecisionBoundsType)}
	case resources.DifferenceThreshold:
		v := th.Value
		return &ThresholdConfig{
			Type:            "difference",
			Operator:        string(th.Operator),
			Value:           &v,
			DifferenceType:  string(th.DifferenceType),
			NumberOfWindows: th.NumberOfWindows,
		}
	}
	return nil
}

func secretPlaceholders(secrets map[string]resources.Secret) map[string]string {
	if len(secrets) == 0 {
		return nil
	}
	out := make(map[string]string, len(secrets))
	for field := range secrets {
		out[field] = resources.UnsetSecret
	}
	return out
}

func cloneConfig(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// EncodeYAML renders the manifest as YAML.
func (m *Manifest) EncodeYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
