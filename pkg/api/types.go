package api

import (
	"encoding/json"
)

// Kind identifies one of the resource categories managed by the remote system.
type Kind string

const (
	KindCredential       Kind = "credential"
	KindChannel          Kind = "channel"
	KindSource           Kind = "source"
	KindSegmentation     Kind = "segmentation"
	KindWindow           Kind = "window"
	KindValidator        Kind = "validator"
	KindNotificationRule Kind = "notification_rule"
)

// Kinds lists every kind in dependency order: a kind only references kinds
// that appear before it.
var Kinds = []Kind{
	KindCredential,
	KindChannel,
	KindSource,
	KindSegmentation,
	KindWindow,
	KindValidator,
	KindNotificationRule,
}

// Plural returns the collection name used in API paths.
func (k Kind) Plural() string {
	switch k {
	case KindCredential:
		return "credentials"
	case KindChannel:
		return "channels"
	case KindSource:
		return "sources"
	case KindSegmentation:
		return "segmentations"
	case KindWindow:
		return "windows"
	case KindValidator:
		return "validators"
	case KindNotificationRule:
		return "notification-rules"
	default:
		return string(k) + "s"
	}
}

// Meta is carried by every remote record.
type Meta struct {
	ID                string `json:"id,omitempty" yaml:"id,omitempty"`
	ResourceName      string `json:"resourceName" yaml:"resourceName"`
	ResourceNamespace string `json:"resourceNamespace" yaml:"resourceNamespace"`
	Typename          string `json:"__typename" yaml:"__typename"`
}

// CredentialRecord is the wire form of a credential.
// Secrets are only ever sent to the server; they are never returned.
type CredentialRecord struct {
	Meta
	Config  map[string]any    `json:"config,omitempty"`
	Secrets map[string]string `json:"secrets,omitempty"`

	// WarehouseCredentialName is set for credentials that wrap another one.
	WarehouseCredentialName string `json:"warehouseCredential,omitempty"`
	WarehouseCredentialID   string `json:"warehouseCredentialId,omitempty"`
}

// ChannelRecord is the wire form of a notification channel.
type ChannelRecord struct {
	Meta
	Config  map[string]any    `json:"config,omitempty"`
	Secrets map[string]string `json:"secrets,omitempty"`
}

// SourceRecord is the wire form of a source.
type SourceRecord struct {
	Meta
	CredentialName string          `json:"credential"`
	CredentialID   string          `json:"credentialId,omitempty"`
	Config         map[string]any  `json:"config,omitempty"`
	JTDSchema      json.RawMessage `json:"jtdSchema,omitempty"`
}

// SegmentationRecord is the wire form of a segmentation.
type SegmentationRecord struct {
	Meta
	SourceName string   `json:"source"`
	SourceID   string   `json:"sourceId,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	Filter     string   `json:"filter,omitempty"`
}

// WindowRecord is the wire form of a window.
type WindowRecord struct {
	Meta
	SourceName    string         `json:"source"`
	SourceID      string         `json:"sourceId,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
	DataTimeField *string        `json:"dataTimeField,omitempty"`
}

// ThresholdRecord is the wire form of a validator threshold. Only the
// fields relevant to Typename are populated.
type ThresholdRecord struct {
	Typename           string   `json:"__typename"`
	Operator           string   `json:"operator,omitempty"`
	Value              *float64 `json:"value,omitempty"`
	Sensitivity        *float64 `json:"sensitivity,omitempty"`
	DecisionBoundsType string   `json:"decisionBoundsType,omitempty"`
	DifferenceType     string   `json:"differenceType,omitempty"`
	NumberOfWindows    *int     `json:"numberOfWindows,omitempty"`
}

// ReferenceSourceConfigRecord points a validator at a comparison source and window.
type ReferenceSourceConfigRecord struct {
	SourceName string `json:"source"`
	SourceID   string `json:"sourceId,omitempty"`
	WindowName string `json:"window"`
	WindowID   string `json:"windowId,omitempty"`
	History    int    `json:"history"`
	Offset     int    `json:"offset"`
	Filter     string `json:"filter,omitempty"`
}

// ValidatorRecord is the wire form of a validator. Config holds the
// type-specific fields, including the type-specific metric field name.
type ValidatorRecord struct {
	Meta
	SourceName            string                       `json:"source"`
	SourceID              string                       `json:"sourceId,omitempty"`
	WindowName            string                       `json:"window"`
	WindowID              string                       `json:"windowId,omitempty"`
	SegmentationName      string                       `json:"segmentation"`
	SegmentationID        string                       `json:"segmentationId,omitempty"`
	Config                map[string]any               `json:"config,omitempty"`
	Threshold             *ThresholdRecord             `json:"threshold,omitempty"`
	ReferenceSourceConfig *ReferenceSourceConfigRecord `json:"referenceSourceConfig,omitempty"`
}

// SegmentConditionRecord matches a segment field value.
type SegmentConditionRecord struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// TagConditionRecord matches a tag key/value pair.
type TagConditionRecord struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// ConditionsRecord is the wire form of notification rule conditions.
type ConditionsRecord struct {
	Owners            []string                 `json:"owners,omitempty"`
	SegmentConditions []SegmentConditionRecord `json:"segments,omitempty"`
	Severities        []string                 `json:"severities,omitempty"`
	Sources           []string                 `json:"sources,omitempty"`
	TagConditions     []TagConditionRecord     `json:"tags,omitempty"`
	Types             []string                 `json:"types,omitempty"`
}

// NotificationRuleRecord is the wire form of a notification rule.
type NotificationRuleRecord struct {
	Meta
	ChannelName string            `json:"channel"`
	ChannelID   string            `json:"channelId,omitempty"`
	Conditions  *ConditionsRecord `json:"conditions,omitempty"`
}

// SchemaInferenceRequest asks the server to infer the schema of a source
// that has not been created yet.
type SchemaInferenceRequest struct {
	SourceTypename string         `json:"sourceType"`
	CredentialID   string         `json:"credentialId"`
	Config         map[string]any `json:"config,omitempty"`
}

// Mutation is a create or update payload. Record is one of the *Record types.
type Mutation struct {
	Kind   Kind `json:"kind"`
	Record any  `json:"record"`
}
