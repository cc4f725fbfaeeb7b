package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
	"github.com/validio/validio-go/pkg/testutil"
)

func TestDiff_EmptyRemote(t *testing.T) {
	fake := testutil.NewFakeAPI()
	diff := plan(t, fake, newManifest())

	s := diff.Summary()
	if s.Create != 7 || s.Update != 0 || s.Delete != 0 {
		t.Errorf("Unexpected summary %s", s)
	}
	for _, k := range api.Kinds {
		if c := s.ByKind[k]; c.Create != 1 {
			t.Errorf("Expected one %s to create, got %d", k, c.Create)
		}
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("Diff must not mutate, got %v", calls)
	}
}

func TestDiff_UnresolvedReference(t *testing.T) {
	g := resources.NewGraph()
	desired := resources.NewDiffContext(g)
	_ = desired.Add(resources.NewSource(g, "orders", resources.SourceDemo, "missing"))
	actual := resources.NewDiffContext(resources.NewGraph())

	_, err := Diff(context.Background(), testNamespace, desired, actual, nil, WithoutSchemaInference())
	if err == nil {
		t.Fatal("Expected unresolved reference error")
	}
	if !HasCode(err, ErrCodeUnresolvedReference) || !IsPermanent(err) {
		t.Errorf("Unexpected error %v", err)
	}
	var refErr *resources.UnresolvedReferenceError
	if !errors.As(err, &refErr) || refErr.Name != "missing" || refErr.Kind != api.KindCredential {
		t.Errorf("Expected UnresolvedReferenceError for credential missing, got %v", err)
	}
}

func TestDiff_AdoptsActualReference(t *testing.T) {
	fake := testutil.NewFakeAPI()
	reconcile(t, fake, newManifest())

	// The manifest only declares the source; its credential is kept.
	g := resources.NewGraph()
	desired := resources.NewDiffContext(g)
	src := resources.NewSource(g, "orders", resources.SourcePostgres, "pg")
	src.Config["table"] = "orders"
	_ = desired.Add(src)

	diff := plan(t, fake, desired)
	if _, ok := diff.ToDelete.Get(api.KindCredential, "pg"); ok {
		t.Error("Referenced credential must not be deleted")
	}
	if _, ok := desired.Get(api.KindCredential, "pg"); !ok {
		t.Error("Expected credential adopted into desired")
	}
	if src.ID() == "" {
		t.Error("Expected source to inherit the remote id")
	}
	if _, ok := diff.ToDelete.Get(api.KindChannel, "slack"); !ok {
		t.Error("Expected unreferenced channel to be deleted")
	}
}

func TestDiff_SecretsComparedByPresence(t *testing.T) {
	desiredGraph := resources.NewGraph()
	desired := resources.NewDiffContext(desiredGraph)
	want := resources.NewCredential(desiredGraph, "pg", resources.CredentialPostgres)
	want.SetSecret("password", resources.SecretValue("changed-value"))
	_ = desired.Add(want)

	actualGraph := resources.NewGraph()
	actual := resources.NewDiffContext(actualGraph)
	have := resources.NewCredential(actualGraph, "pg", resources.CredentialPostgres)
	have.SetID("cred-1")
	have.FillUnsetSecrets()
	_ = actual.Add(have)

	diff, err := Diff(context.Background(), testNamespace, desired, actual, nil, WithoutSchemaInference())
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if !diff.IsEmpty() {
		t.Errorf("Secret values must not be compared, got:\n%s", diff.Render())
	}
	if want.ID() != "cred-1" {
		t.Errorf("Expected id to be copied, got %q", want.ID())
	}

	// A secret unknown to the server is reported without its value.
	bare := resources.NewCredential(actualGraph, "pg", resources.CredentialPostgres)
	bare.SetID("cred-1")
	_ = actual.Add(bare)

	diff, err = Diff(context.Background(), testNamespace, desired, actual, nil, WithoutSchemaInference())
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	up, ok := diff.ToUpdate.Get(api.KindCredential, "pg")
	if !ok {
		t.Fatal("Expected credential update")
	}
	if len(up.Changes) != 1 || up.Changes[0].Path != "secrets.password" || up.Changes[0].After != sensitive {
		t.Errorf("Unexpected changes %v", up.Changes)
	}
	out := diff.Render()
	if strings.Contains(out, "changed-value") {
		t.Errorf("Secret leaked in rendered plan:\n%s", out)
	}
	if !strings.Contains(out, "<sensitive>") {
		t.Errorf("Expected placeholder in rendered plan:\n%s", out)
	}
}

func TestDiff_DefersInferenceWithoutCredentialID(t *testing.T) {
	fake := testutil.NewFakeAPI()
	desired := newManifest()
	plan(t, fake, desired)

	if desired.Sources["orders"].HasSchema() {
		t.Error("Expected inference to wait for the credential")
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("Expected no calls, got %v", calls)
	}
}

func TestDiff_InfersSchemaForExistingCredential(t *testing.T) {
	fake := testutil.NewFakeAPI()

	g := resources.NewGraph()
	creds := resources.NewDiffContext(g)
	cred := resources.NewCredential(g, "pg", resources.CredentialPostgres)
	_ = creds.Add(cred)
	reconcile(t, fake, creds)
	fake.ResetCalls()

	desired := newManifest()
	diff := plan(t, fake, desired)

	if !desired.Sources["orders"].HasSchema() {
		t.Error("Expected schema inferred during diff")
	}
	expected := []string{"infer_schema(source/PostgreSqlSource)"}
	if got := callStrings(fake.Calls()); !equalStrings(got, expected) {
		t.Errorf("Unexpected calls %v", got)
	}
	if _, ok := diff.ToUpdate.Get(api.KindCredential, "pg"); !ok {
		t.Error("Expected credential config update")
	}
}

func TestDiff_EmptyListsMatchAbsent(t *testing.T) {
	fake := testutil.NewFakeAPI()
	reconcile(t, fake, newManifest())

	desired := newManifestWith(func(dc *resources.DiffContext) {
		c := dc.NotificationRules["orders_alerts"].Conditions
		c.Owners = []string{}
		c.Segments = []resources.SegmentCondition{}
		c.Tags = []resources.TagCondition{}
	})
	if diff := plan(t, fake, desired); !diff.IsEmpty() {
		t.Errorf("Expected no changes, got:\n%s", diff.Render())
	}
}

func TestFlattenFields(t *testing.T) {
	fields, err := flattenFields(map[string]any{
		"type": "X",
		"config": map[string]any{
			"nested": map[string]any{"a": 1},
			"empty":  map[string]any{},
			"null":   nil,
			"list":   []string{"b"},
			"none":   []string{},
			"nil":    []string(nil),
		},
	})
	if err != nil {
		t.Fatalf("flattenFields failed: %v", err)
	}

	expected := map[string]bool{"type": true, "config.nested.a": true, "config.list": true}
	if len(fields) != len(expected) {
		t.Errorf("Unexpected fields %v", fields)
	}
	for p := range expected {
		if _, ok := fields[p]; !ok {
			t.Errorf("Missing path %s in %v", p, fields)
		}
	}
}

func TestChangeString(t *testing.T) {
	tests := []struct {
		change Change
		want   string
	}{
		{Change{Path: "a", After: 1, Action: ChangeActionAdd}, "+ a = 1"},
		{Change{Path: "a", Before: 1, Action: ChangeActionRemove}, "- a = 1"},
		{Change{Path: "a", Before: 1, After: 2, Action: ChangeActionModify}, "~ a: 1 -> 2"},
	}
	for _, tt := range tests {
		if got := tt.change.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
