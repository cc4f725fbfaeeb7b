package config

import (
	"fmt"
	"strings"
)

// Manifest is the desired state of one namespace as written by users.
// Resources are listed per kind; names are unique within a kind.
type Manifest struct {
	// Namespace overrides the namespace from the settings when set.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty" validate:"omitempty,resource_name"`

	Credentials       []CredentialConfig       `json:"credentials,omitempty" yaml:"credentials,omitempty" validate:"dive"`
	Channels          []ChannelConfig          `json:"channels,omitempty" yaml:"channels,omitempty" validate:"dive"`
	Sources           []SourceConfig           `json:"sources,omitempty" yaml:"sources,omitempty" validate:"dive"`
	Segmentations     []SegmentationConfig     `json:"segmentations,omitempty" yaml:"segmentations,omitempty" validate:"dive"`
	Windows           []WindowConfig           `json:"windows,omitempty" yaml:"windows,omitempty" validate:"dive"`
	Validators        []ValidatorConfig        `json:"validators,omitempty" yaml:"validators,omitempty" validate:"dive"`
	NotificationRules []NotificationRuleConfig `json:"notification_rules,omitempty" yaml:"notification_rules,omitempty" validate:"dive"`
}

// ResourceConfig holds the fields shared by every manifest resource.
type ResourceConfig struct {
	// Name is unique within the kind (e.g., "orders").
	Name string `json:"name" yaml:"name" validate:"required,resource_name"`

	// IgnoreChanges creates the resource when missing but never updates it.
	IgnoreChanges bool `json:"ignore_changes,omitempty" yaml:"ignore_changes,omitempty"`
}

// CredentialConfig declares a credential.
type CredentialConfig struct {
	ResourceConfig `yaml:",inline"`

	// Type is the credential variant (e.g., "postgres", "dbt_core").
	Type string `json:"type" yaml:"type" validate:"required,credential_type"`

	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Secrets maps secret fields to values. Values may reference
	// environment variables as ${VAR}.
	Secrets map[string]string `json:"secrets,omitempty" yaml:"secrets,omitempty"`

	// WarehouseCredential names the credential wrapped by dbt variants.
	WarehouseCredential string `json:"warehouse_credential,omitempty" yaml:"warehouse_credential,omitempty"`
}

// ChannelConfig declares a notification channel.
type ChannelConfig struct {
	ResourceConfig `yaml:",inline"`

	Type    string            `json:"type" yaml:"type" validate:"required,channel_type"`
	Config  map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
	Secrets map[string]string `json:"secrets,omitempty" yaml:"secrets,omitempty"`
}

// SourceConfig declares a source.
type SourceConfig struct {
	ResourceConfig `yaml:",inline"`

	Type       string         `json:"type" yaml:"type" validate:"required,source_type"`
	Credential string         `json:"credential" yaml:"credential" validate:"required"`
	Config     map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Schema is the JTD schema of the source. It is inferred when omitted.
	Schema map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// SegmentationConfig declares a segmentation.
type SegmentationConfig struct {
	ResourceConfig `yaml:",inline"`

	Source string   `json:"source" yaml:"source" validate:"required"`
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Filter string   `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// WindowConfig declares a window.
type WindowConfig struct {
	ResourceConfig `yaml:",inline"`

	Type          string         `json:"type" yaml:"type" validate:"required,window_type"`
	Source        string         `json:"source" yaml:"source" validate:"required"`
	Config        map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	DataTimeField string         `json:"data_time_field,omitempty" yaml:"data_time_field,omitempty"`
}

// ValidatorConfig declares a validator, or a validator template when
// FieldSelector is set.
type ValidatorConfig struct {
	ResourceConfig `yaml:",inline"`

	Type         string `json:"type" yaml:"type" validate:"required,validator_type"`
	Source       string `json:"source" yaml:"source" validate:"required"`
	Window       string `json:"window,omitempty" yaml:"window,omitempty"`
	Segmentation string `json:"segmentation,omitempty" yaml:"segmentation,omitempty"`

	Metric        string                 `json:"metric,omitempty" yaml:"metric,omitempty"`
	SourceField   string                 `json:"source_field,omitempty" yaml:"source_field,omitempty" validate:"excluded_with=FieldSelector"`
	FieldSelector *FieldSelectorConfig   `json:"field_selector,omitempty" yaml:"field_selector,omitempty"`
	Threshold     *ThresholdConfig       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Reference     *ReferenceSourceConfig `json:"reference,omitempty" yaml:"reference,omitempty"`

	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// FieldSelectorConfig selects source fields by type, nullability and path.
type FieldSelectorConfig struct {
	DataType string `json:"data_type,omitempty" yaml:"data_type,omitempty" validate:"omitempty,oneof=numeric string boolean timestamp"`
	Nullable *bool  `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Regex    string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// ThresholdConfig declares the trigger policy of a validator.
type ThresholdConfig struct {
	Type string `json:"type" yaml:"type" validate:"required,oneof=fixed dynamic difference"`

	// Fixed and difference thresholds.
	Operator string   `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    *float64 `json:"value,omitempty" yaml:"value,omitempty"`

	// Dynamic thresholds.
	Sensitivity        *float64 `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty" validate:"omitempty,gt=0"`
	DecisionBoundsType string   `json:"decision_bounds_type,omitempty" yaml:"decision_bounds_type,omitempty" validate:"omitempty,oneof=UPPER LOWER UPPER_AND_LOWER"`

	// Difference thresholds.
	DifferenceType  string `json:"difference_type,omitempty" yaml:"difference_type,omitempty" validate:"omitempty,oneof=ABSOLUTE PERCENTAGE"`
	NumberOfWindows int    `json:"number_of_windows,omitempty" yaml:"number_of_windows,omitempty" validate:"gte=0"`
}

// ReferenceSourceConfig points a validator at a comparison source and window.
type ReferenceSourceConfig struct {
	Source  string `json:"source" yaml:"source" validate:"required"`
	Window  string `json:"window" yaml:"window" validate:"required"`
	History int    `json:"history" yaml:"history" validate:"gte=1"`
	Offset  int    `json:"offset" yaml:"offset" validate:"gte=0"`
	Filter  string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// NotificationRuleConfig declares a notification rule.
type NotificationRuleConfig struct {
	ResourceConfig `yaml:",inline"`

	Channel    string            `json:"channel" yaml:"channel" validate:"required"`
	Conditions *ConditionsConfig `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// ConditionsConfig filters the incidents a notification rule forwards.
type ConditionsConfig struct {
	Owners     []string                 `json:"owners,omitempty" yaml:"owners,omitempty"`
	Segments   []SegmentConditionConfig `json:"segments,omitempty" yaml:"segments,omitempty" validate:"dive"`
	Severities []string                 `json:"severities,omitempty" yaml:"severities,omitempty" validate:"dive,oneof=HIGH MEDIUM LOW"`
	Sources    []string                 `json:"sources,omitempty" yaml:"sources,omitempty"`
	Tags       []TagConditionConfig     `json:"tags,omitempty" yaml:"tags,omitempty" validate:"dive"`
	Types      []string                 `json:"types,omitempty" yaml:"types,omitempty"`
}

// SegmentConditionConfig matches a segment field value.
type SegmentConditionConfig struct {
	Field string `json:"field" yaml:"field" validate:"required"`
	Value string `json:"value" yaml:"value"`
}

// TagConditionConfig matches a tag key and optional value.
type TagConditionConfig struct {
	Key   string `json:"key" yaml:"key" validate:"required"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending field (e.g., "sources[0].credential").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	}
	if e.Path != "" {
		return fmt.Sprintf("%s%s: %s", loc, e.Path, e.Message)
	}
	return loc + e.Message
}

// ValidationErrors is returned when a manifest fails to parse or validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ve := range e {
		msgs = append(msgs, ve.String())
	}
	return "invalid manifest: " + strings.Join(msgs, "; ")
}
