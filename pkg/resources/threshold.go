package resources

import (
	"strings"

	"github.com/validio/validio-go/pkg/api"
)

// Threshold is the trigger policy of a validator. The set of
// implementations is closed: FixedThreshold, DynamicThreshold and
// DifferenceThreshold.
type Threshold interface {
	Typename() string
	diffFields() map[string]any
	record() *api.ThresholdRecord
	sealed()
}

// ComparisonOperator compares a metric against a fixed value.
type ComparisonOperator string

const (
	OperatorEqual          ComparisonOperator = "EQUAL"
	OperatorNotEqual       ComparisonOperator = "NOT_EQUAL"
	OperatorLessThan       ComparisonOperator = "LESS"
	OperatorLessOrEqual    ComparisonOperator = "LESS_EQUAL"
	OperatorGreaterThan    ComparisonOperator = "GREATER"
	OperatorGreaterOrEqual ComparisonOperator = "GREATER_EQUAL"
)

// FixedThreshold fires when the metric compares true against Value.
type FixedThreshold struct {
	Operator ComparisonOperator
	Value    float64
}

func (FixedThreshold) Typename() string { return "FixedThreshold" }
func (FixedThreshold) sealed()          {}

func (t FixedThreshold) diffFields() map[string]any {
	return map[string]any{
		"type":     t.Typename(),
		"operator": string(t.Operator),
		"value":    t.Value,
	}
}

func (t FixedThreshold) record() *api.ThresholdRecord {
	v := t.Value
	return &api.ThresholdRecord{Typename: t.Typename(), Operator: string(t.Operator), Value: &v}
}

// DecisionBoundsType selects which side of a dynamic threshold fires.
type DecisionBoundsType string

const (
	BoundsUpper         DecisionBoundsType = "UPPER"
	BoundsLower         DecisionBoundsType = "LOWER"
	BoundsUpperAndLower DecisionBoundsType = "UPPER_AND_LOWER"
)

const defaultSensitivity = 3.0

// DynamicThreshold learns bounds from history.
type DynamicThreshold struct {
	Sensitivity        float64
	DecisionBoundsType DecisionBoundsType
}

// NewDynamicThreshold returns a dynamic threshold with default settings.
func NewDynamicThreshold() DynamicThreshold {
	return DynamicThreshold{Sensitivity: defaultSensitivity, DecisionBoundsType: BoundsUpperAndLower}
}

func (DynamicThreshold) Typename() string { return "DynamicThreshold" }
func (DynamicThreshold) sealed()          {}

func (t DynamicThreshold) diffFields() map[string]any {
	return map[string]any{
		"type":               t.Typename(),
		"sensitivity":        t.Sensitivity,
		"decisionBoundsType": string(t.DecisionBoundsType),
	}
}

func (t DynamicThreshold) record() *api.ThresholdRecord {
	s := t.Sensitivity
	return &api.ThresholdRecord{
		Typename:           t.Typename(),
		Sensitivity:        &s,
		DecisionBoundsType: string(t.DecisionBoundsType),
	}
}

// DifferenceType selects how consecutive windows are compared.
type DifferenceType string

const (
	DifferenceAbsolute   DifferenceType = "ABSOLUTE"
	DifferencePercentage DifferenceType = "PERCENTAGE"
)

// DifferenceOperator selects the direction of change that fires.
type DifferenceOperator string

const (
	DifferenceIncreasing         DifferenceOperator = "INCREASING"
	DifferenceDecreasing         DifferenceOperator = "DECREASING"
	DifferenceStrictlyIncreasing DifferenceOperator = "STRICTLY_INCREASING"
	DifferenceStrictlyDecreasing DifferenceOperator = "STRICTLY_DECREASING"
)

// DifferenceThreshold fires when the metric moves by Value over NumberOfWindows.
type DifferenceThreshold struct {
	DifferenceType  DifferenceType
	Operator        DifferenceOperator
	NumberOfWindows int
	Value           float64
}

func (DifferenceThreshold) Typename() string { return "DifferenceThreshold" }
func (DifferenceThreshold) sealed()          {}

func (t DifferenceThreshold) diffFields() map[string]any {
	return map[string]any{
		"type":            t.Typename(),
		"differenceType":  string(t.DifferenceType),
		"operator":        string(t.Operator),
		"numberOfWindows": t.NumberOfWindows,
		"value":           t.Value,
	}
}

func (t DifferenceThreshold) record() *api.ThresholdRecord {
	v, n := t.Value, t.NumberOfWindows
	return &api.ThresholdRecord{
		Typename:        t.Typename(),
		DifferenceType:  string(t.DifferenceType),
		Operator:        string(t.Operator),
		NumberOfWindows: &n,
		Value:           &v,
	}
}

// ThresholdFromRecord converts a server threshold by matching the suffix of
// its typename against the known implementations. Servers may prefix the
// typename, e.g. "ValidatorFixedThreshold".
func ThresholdFromRecord(rec *api.ThresholdRecord) (Threshold, error) {
	if rec == nil {
		return nil, nil
	}

	deref := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}

	switch {
	case strings.HasSuffix(rec.Typename, "FixedThreshold"):
		return FixedThreshold{
			Operator: ComparisonOperator(rec.Operator),
			Value:    deref(rec.Value),
		}, nil
	case strings.HasSuffix(rec.Typename, "DynamicThreshold"):
		t := NewDynamicThreshold()
		if rec.Sensitivity != nil {
			t.Sensitivity = *rec.Sensitivity
		}
		if rec.DecisionBoundsType != "" {
			t.DecisionBoundsType = DecisionBoundsType(rec.DecisionBoundsType)
		}
		return t, nil
	case strings.HasSuffix(rec.Typename, "DifferenceThreshold"):
		t := DifferenceThreshold{
			DifferenceType: DifferenceType(rec.DifferenceType),
			Operator:       DifferenceOperator(rec.Operator),
			Value:          deref(rec.Value),
		}
		if rec.NumberOfWindows != nil {
			t.NumberOfWindows = *rec.NumberOfWindows
		}
		return t, nil
	default:
		return nil, &UnknownKindError{Category: "threshold", Typename: rec.Typename}
	}
}
