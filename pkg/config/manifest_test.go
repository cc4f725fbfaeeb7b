package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
)

const sampleManifest = `
namespace: analytics
credentials:
  - name: pg
    type: postgres
    config:
      host: db.internal
      port: 5432
    secrets:
      password: ${PG_PASSWORD}
channels:
  - name: alerts
    type: slack
    config:
      webhook_url: https://hooks.example.com/T0
sources:
  - name: orders
    type: postgres
    credential: pg
    config:
      table: orders
windows:
  - name: daily
    type: tumbling
    source: orders
    data_time_field: created_at
    config:
      window_size: DAY
segmentations:
  - name: by_country
    source: orders
    fields: [country]
validators:
  - name: row_count
    type: volume
    source: orders
    window: daily
    segmentation: by_country
    metric: COUNT
    threshold:
      type: fixed
      operator: GREATER
      value: 100
  - name: numeric_template
    type: numeric
    source: orders
    window: daily
    metric: MEAN
    field_selector:
      data_type: numeric
    threshold:
      type: dynamic
      sensitivity: 3
notification_rules:
  - name: all
    channel: alerts
    ignore_changes: true
    conditions:
      severities: [HIGH]
      tags:
        - key: team
          value: data
`

func parseSample(t *testing.T) *Manifest {
	t.Helper()
	m, err := ParseManifest([]byte(sampleManifest), "sample.yaml")
	if err != nil {
		t.Fatalf("ParseManifest() error: %v", err)
	}
	return m
}

func TestParseManifest(t *testing.T) {
	m := parseSample(t)

	if m.Namespace != "analytics" {
		t.Errorf("Namespace = %q", m.Namespace)
	}
	if len(m.Credentials) != 1 || m.Credentials[0].Name != "pg" || m.Credentials[0].Type != "postgres" {
		t.Errorf("unexpected credentials %+v", m.Credentials)
	}
	if len(m.Validators) != 2 {
		t.Fatalf("expected 2 validators, got %d", len(m.Validators))
	}
	if th := m.Validators[0].Threshold; th == nil || th.Type != "fixed" || th.Value == nil || *th.Value != 100 {
		t.Errorf("unexpected threshold %+v", th)
	}
	if !m.NotificationRules[0].IgnoreChanges {
		t.Error("ignore_changes should be decoded")
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestParseManifest_Empty(t *testing.T) {
	m, err := ParseManifest(nil, "empty.yaml")
	if err != nil {
		t.Fatalf("ParseManifest() error: %v", err)
	}
	if len(m.Sources) != 0 {
		t.Error("empty document should yield an empty manifest")
	}
}

func TestParseManifest_UnknownField(t *testing.T) {
	_, err := ParseManifest([]byte("sources:\n  - name: a\n    colour: red\n"), "bad.yaml")

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if verrs[0].File != "bad.yaml" {
		t.Errorf("File = %q", verrs[0].File)
	}
	if !strings.Contains(err.Error(), "colour") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantPath string
		wantMsg  string
	}{
		{
			name:     "missing name",
			manifest: Manifest{Channels: []ChannelConfig{{Type: "slack"}}},
			wantPath: "channels[0].name",
			wantMsg:  "is required",
		},
		{
			name: "invalid name",
			manifest: Manifest{Channels: []ChannelConfig{{
				ResourceConfig: ResourceConfig{Name: "bad name"},
				Type:           "slack",
			}}},
			wantPath: "channels[0].name",
			wantMsg:  "invalid name",
		},
		{
			name: "unknown source type",
			manifest: Manifest{Sources: []SourceConfig{{
				ResourceConfig: ResourceConfig{Name: "s"},
				Type:           "mongodb",
				Credential:     "c",
			}}},
			wantPath: "sources[0].type",
			wantMsg:  `unknown source type "mongodb"`,
		},
		{
			name: "bad severity",
			manifest: Manifest{NotificationRules: []NotificationRuleConfig{{
				ResourceConfig: ResourceConfig{Name: "n"},
				Channel:        "c",
				Conditions:     &ConditionsConfig{Severities: []string{"URGENT"}},
			}}},
			wantPath: "notification_rules[0].conditions.severities[0]",
			wantMsg:  "must be one of",
		},
		{
			name: "source field with selector",
			manifest: Manifest{Validators: []ValidatorConfig{{
				ResourceConfig: ResourceConfig{Name: "v"},
				Type:           "numeric",
				Source:         "s",
				SourceField:    "amount",
				FieldSelector:  &FieldSelectorConfig{DataType: "numeric"},
			}}},
			wantPath: "validators[0].source_field",
			wantMsg:  "must not be set together",
		},
		{
			name: "duplicate window",
			manifest: Manifest{Windows: []WindowConfig{
				{ResourceConfig: ResourceConfig{Name: "w"}, Type: "global", Source: "s"},
				{ResourceConfig: ResourceConfig{Name: "w"}, Type: "global", Source: "s"},
			}},
			wantPath: "windows[1].name",
			wantMsg:  `duplicate name "w"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			found := false
			for _, ve := range verrs {
				if ve.Path == tt.wantPath && strings.Contains(ve.Message, tt.wantMsg) {
					found = true
				}
			}
			if !found {
				t.Errorf("no error at %s containing %q in %v", tt.wantPath, tt.wantMsg, verrs)
			}
		})
	}
}

func TestManifest_ExpandEnv(t *testing.T) {
	m := parseSample(t)
	env := map[string]string{"PG_PASSWORD": "hunter2"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	if err := m.ExpandEnv(lookup); err != nil {
		t.Fatalf("ExpandEnv() error: %v", err)
	}
	if got := m.Credentials[0].Secrets["password"]; got != "hunter2" {
		t.Errorf("password = %q", got)
	}
}

func TestManifest_ExpandEnv_Missing(t *testing.T) {
	m := parseSample(t)
	err := m.ExpandEnv(func(string) (string, bool) { return "", false })
	if err == nil {
		t.Fatal("ExpandEnv() should fail on an unset variable")
	}
	if !strings.Contains(err.Error(), "credentials[0].secrets.password") || !strings.Contains(err.Error(), "PG_PASSWORD") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestManifest_ToDiffContext(t *testing.T) {
	m := parseSample(t)
	m.Credentials[0].Secrets["password"] = "hunter2"

	dc, err := m.ToDiffContext()
	if err != nil {
		t.Fatalf("ToDiffContext() error: %v", err)
	}

	for kind, want := range map[api.Kind]int{
		api.KindCredential:       1,
		api.KindChannel:          1,
		api.KindSource:           1,
		api.KindSegmentation:     1,
		api.KindWindow:           1,
		api.KindValidator:        2,
		api.KindNotificationRule: 1,
	} {
		if got := dc.Len(kind); got != want {
			t.Errorf("%s count = %d, want %d", kind, got, want)
		}
	}

	cred := dc.Credentials["pg"]
	if s := cred.Secrets()["password"]; s.Reveal() != "hunter2" {
		t.Error("secret value should be carried")
	}

	v := dc.Validators["row_count"]
	th, ok := v.Threshold.(resources.FixedThreshold)
	if !ok || th.Operator != resources.OperatorGreaterThan || th.Value != 100 {
		t.Errorf("unexpected threshold %#v", v.Threshold)
	}
	if v.Segmentation != "by_country" || v.Window != "daily" {
		t.Errorf("unexpected references %+v", v)
	}

	tmpl := dc.Validators["numeric_template"]
	if tmpl.Selector == nil || tmpl.Selector.DataType != "numeric" {
		t.Errorf("selector not carried: %+v", tmpl.Selector)
	}
	if dyn, ok := tmpl.Threshold.(resources.DynamicThreshold); !ok || dyn.Sensitivity != 3 {
		t.Errorf("unexpected dynamic threshold %#v", tmpl.Threshold)
	}

	if !dc.NotificationRules["all"].IgnoreChanges() {
		t.Error("ignore_changes should be carried")
	}
}

func TestManifest_ToDiffContext_ReferenceRejected(t *testing.T) {
	m := &Manifest{Validators: []ValidatorConfig{{
		ResourceConfig: ResourceConfig{Name: "v"},
		Type:           "volume",
		Source:         "s",
		Reference:      &ReferenceSourceConfig{Source: "s", Window: "w", History: 1},
	}}}

	_, err := m.ToDiffContext()
	if err == nil || !strings.Contains(err.Error(), "validators[0].reference") {
		t.Errorf("expected reference error, got %v", err)
	}
}

func TestThresholdConfig_ToThreshold(t *testing.T) {
	ten := 10.0
	tests := []struct {
		name    string
		cfg     ThresholdConfig
		want    resources.Threshold
		wantErr bool
	}{
		{
			name: "fixed",
			cfg:  ThresholdConfig{Type: "fixed", Operator: "LESS_EQUAL", Value: &ten},
			want: resources.FixedThreshold{Operator: resources.OperatorLessOrEqual, Value: 10},
		},
		{
			name:    "fixed without value",
			cfg:     ThresholdConfig{Type: "fixed", Operator: "LESS"},
			wantErr: true,
		},
		{
			name:    "fixed bad operator",
			cfg:     ThresholdConfig{Type: "fixed", Operator: "ABOUT", Value: &ten},
			wantErr: true,
		},
		{
			name: "difference",
			cfg: ThresholdConfig{
				Type:            "difference",
				Operator:        "INCREASING",
				Value:           &ten,
				DifferenceType:  "PERCENTAGE",
				NumberOfWindows: 3,
			},
			want: resources.DifferenceThreshold{
				DifferenceType:  resources.DifferencePercentage,
				Operator:        resources.DifferenceIncreasing,
				NumberOfWindows: 3,
				Value:           10,
			},
		},
		{
			name:    "unknown",
			cfg:     ThresholdConfig{Type: "magic"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.toThreshold()
			if (err != nil) != tt.wantErr {
				t.Fatalf("toThreshold() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("toThreshold() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestFromDiffContext_RoundTrip(t *testing.T) {
	m := parseSample(t)
	m.Credentials[0].Secrets["password"] = "hunter2"
	dc, err := m.ToDiffContext()
	if err != nil {
		t.Fatalf("ToDiffContext() error: %v", err)
	}

	exported := FromDiffContext("analytics", dc)
	if got := exported.Credentials[0].Secrets["password"]; got != resources.UnsetSecret {
		t.Errorf("exported secret = %q, want placeholder", got)
	}

	out, err := exported.EncodeYAML()
	if err != nil {
		t.Fatalf("EncodeYAML() error: %v", err)
	}
	if strings.Contains(string(out), "hunter2") {
		t.Fatal("export must not contain secret values")
	}

	again, err := ParseManifest(out, "export.yaml")
	if err != nil {
		t.Fatalf("re-parse error: %v\n%s", err, out)
	}
	if err := again.Validate(); err != nil {
		t.Fatalf("exported manifest invalid: %v", err)
	}
	if len(again.Validators) != 2 {
		t.Fatalf("expected 2 validators, got %d", len(again.Validators))
	}
	for _, v := range again.Validators {
		if v.Name == "numeric_template" && v.FieldSelector == nil {
			t.Error("field selector should be exported")
		}
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "validio.yaml")
	content := "credentials:\n  - name: demo\n    type: demo\n    secrets:\n      token: ${DEMO_TOKEN}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEMO_TOKEN", "abc")

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error: %v", err)
	}
	if m.Credentials[0].Secrets["token"] != "abc" {
		t.Errorf("token = %q", m.Credentials[0].Secrets["token"])
	}
}

func TestLoadManifest_Missing(t *testing.T) {
	if _, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadManifest() should fail for a missing file")
	}
}
