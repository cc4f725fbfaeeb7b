package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
	"github.com/validio/validio-go/pkg/testutil"
)

func TestLoadResources_Empty(t *testing.T) {
	dc, err := LoadResources(context.Background(), testNamespace, testutil.NewFakeAPI())
	if err != nil {
		t.Fatalf("LoadResources failed: %v", err)
	}
	if !dc.IsEmpty() {
		t.Errorf("Expected empty context, got %d resources", len(dc.All()))
	}
}

func TestLoadResources_RoundTrip(t *testing.T) {
	fake := testutil.NewFakeAPI()
	reconcile(t, fake, newManifest())

	dc, err := LoadResources(context.Background(), testNamespace, fake)
	if err != nil {
		t.Fatalf("LoadResources failed: %v", err)
	}

	for _, k := range api.Kinds {
		if n := dc.Len(k); n != 1 {
			t.Errorf("Expected 1 %s, got %d", k, n)
		}
	}
	for _, r := range dc.All() {
		if r.ID() == "" {
			t.Errorf("%s/%s has no id", r.Kind(), r.Name())
		}
		if r.Namespace() != testNamespace {
			t.Errorf("%s/%s has namespace %q", r.Kind(), r.Name(), r.Namespace())
		}
	}

	cred := dc.Credentials["pg"]
	secret, ok := cred.Secrets()["password"]
	if !ok || secret.IsSet() || secret.Reveal() != resources.UnsetSecret {
		t.Errorf("Expected unset password placeholder, got %v", secret)
	}

	v := dc.Validators["mean_value"]
	if v.Metric != "MEAN" || v.SourceField != "value" {
		t.Errorf("Unexpected validator metric %q field %q", v.Metric, v.SourceField)
	}
	if v.Window != "daily" || v.Segmentation != "by_region" {
		t.Errorf("Unexpected validator parents %q %q", v.Window, v.Segmentation)
	}
	if _, ok := v.Threshold.(resources.FixedThreshold); !ok {
		t.Errorf("Expected fixed threshold, got %T", v.Threshold)
	}

	rule := dc.NotificationRules["orders_alerts"]
	if rule.Conditions == nil || len(rule.Conditions.Sources) != 1 || rule.Conditions.Sources[0] != "orders" {
		t.Errorf("Expected condition source resolved to its name, got %+v", rule.Conditions)
	}

	if dc.Windows["daily"].DataTimeField != "created_at" {
		t.Errorf("Unexpected data time field %q", dc.Windows["daily"].DataTimeField)
	}
}

func TestLoadResources_FiltersNamespace(t *testing.T) {
	fake := testutil.NewFakeAPI()
	reconcile(t, fake, newManifest())

	_, err := fake.Create(context.Background(), api.Mutation{
		Kind: api.KindChannel,
		Record: &api.ChannelRecord{Meta: api.Meta{
			ResourceName:      "other",
			ResourceNamespace: "other-namespace",
			Typename:          "WebhookChannel",
		}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dc, err := LoadResources(context.Background(), testNamespace, fake)
	if err != nil {
		t.Fatalf("LoadResources failed: %v", err)
	}
	if _, ok := dc.Channels["other"]; ok {
		t.Error("Channel of another namespace must not be loaded")
	}
}

func TestLoadResources_UnknownTypename(t *testing.T) {
	fake := testutil.NewFakeAPI()
	_, err := fake.Create(context.Background(), api.Mutation{
		Kind: api.KindCredential,
		Record: &api.CredentialRecord{Meta: api.Meta{
			ResourceName:      "future",
			ResourceNamespace: testNamespace,
			Typename:          "QuantumCredential",
		}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = LoadResources(context.Background(), testNamespace, fake)
	if err == nil {
		t.Fatal("Expected unknown kind error")
	}
	if !HasCode(err, ErrCodeUnknownKind) {
		t.Errorf("Expected %s, got %v", ErrCodeUnknownKind, err)
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Operation != "load_credentials" {
		t.Errorf("Expected failing stage load_credentials, got %v", err)
	}
	var kindErr *resources.UnknownKindError
	if !errors.As(err, &kindErr) || kindErr.Typename != "QuantumCredential" {
		t.Errorf("Expected UnknownKindError, got %v", err)
	}
}

func TestLoadResources_UnresolvedSource(t *testing.T) {
	fake := testutil.NewFakeAPI()
	reconcile(t, fake, newManifest())
	fake.ResetCalls()

	rec, ok := fake.Record(api.KindWindow, "daily")
	if !ok {
		t.Fatal("Expected window record")
	}
	rec.(*api.WindowRecord).SourceName = "vanished"

	_, err := LoadResources(context.Background(), testNamespace, fake)
	if err == nil {
		t.Fatal("Expected unresolved reference error")
	}
	if !HasCode(err, ErrCodeUnresolvedReference) {
		t.Errorf("Expected %s, got %v", ErrCodeUnresolvedReference, err)
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Operation != "load_windows" {
		t.Errorf("Expected failing stage load_windows, got %v", err)
	}
	var refErr *resources.UnresolvedReferenceError
	if !errors.As(err, &refErr) || refErr.Name != "vanished" {
		t.Errorf("Expected UnresolvedReferenceError for vanished, got %v", err)
	}
	if calls := fake.MutationCalls(); len(calls) != 0 {
		t.Errorf("Expected no mutations, got %v", calls)
	}
}

func TestLoadResources_ListFailure(t *testing.T) {
	_, err := LoadResources(context.Background(), testNamespace, &failingLister{FakeAPI: testutil.NewFakeAPI()})
	if err == nil {
		t.Fatal("Expected error")
	}
	if !IsThrottled(err) {
		t.Errorf("Expected throttled error, got %v", err)
	}
}

type failingLister struct {
	*testutil.FakeAPI
}

func (f *failingLister) ListSources(context.Context, string) ([]api.SourceRecord, error) {
	return nil, &api.HTTPError{StatusCode: 429, Body: []byte("slow down")}
}
