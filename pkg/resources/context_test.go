package resources

import (
	"errors"
	"testing"

	"github.com/validio/validio-go/pkg/api"
)

func TestGraph_RegistersResources(t *testing.T) {
	g := NewGraph()
	c := NewCredential(g, "c1", CredentialDemo)
	s := NewSource(g, "s1", SourceDemo, "c1")

	if g.Len() != 2 {
		t.Fatalf("Expected 2 resources, got %d", g.Len())
	}
	if c.Handle() != 0 || s.Handle() != 1 {
		t.Errorf("Expected handles in registration order, got %d and %d", c.Handle(), s.Handle())
	}
}

func TestMustFind_Missing(t *testing.T) {
	dc := NewDiffContext(NewGraph())

	_, err := MustFindSource(dc, "missing")
	if err == nil {
		t.Fatal("Expected error for missing source")
	}

	var refErr *UnresolvedReferenceError
	if !errors.As(err, &refErr) {
		t.Fatalf("Expected UnresolvedReferenceError, got %T", err)
	}
	if refErr.Kind != api.KindSource || refErr.Name != "missing" {
		t.Errorf("Unexpected error fields: %+v", refErr)
	}
	if err.Error() != `source "missing" not found` {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestMustFind_AllKinds(t *testing.T) {
	g := NewGraph()
	dc := NewDiffContext(g)

	all := []Resource{
		NewCredential(g, "cred", CredentialDemo),
		NewChannel(g, "chan", ChannelWebhook),
		NewSource(g, "src", SourceDemo, "cred"),
		NewSegmentation(g, "seg", "src", nil),
		NewWindow(g, "win", WindowGlobal, "src"),
		NewValidator(g, "val", ValidatorNumeric, "src", "win", "seg"),
		NewNotificationRule(g, "rule", "chan"),
	}
	for _, r := range all {
		if err := dc.Add(r); err != nil {
			t.Fatalf("Add(%s) failed: %v", r.Name(), err)
		}
	}

	if _, err := MustFindCredential(dc, "cred"); err != nil {
		t.Errorf("credential: %v", err)
	}
	if _, err := MustFindChannel(dc, "chan"); err != nil {
		t.Errorf("channel: %v", err)
	}
	if _, err := MustFindSource(dc, "src"); err != nil {
		t.Errorf("source: %v", err)
	}
	if _, err := MustFindSegmentation(dc, "seg"); err != nil {
		t.Errorf("segmentation: %v", err)
	}
	if _, err := MustFindWindow(dc, "win"); err != nil {
		t.Errorf("window: %v", err)
	}
	if _, err := MustFindValidator(dc, "val"); err != nil {
		t.Errorf("validator: %v", err)
	}
	if _, err := MustFindNotificationRule(dc, "rule"); err != nil {
		t.Errorf("notification rule: %v", err)
	}

	got := dc.All()
	if len(got) != len(all) {
		t.Fatalf("Expected %d resources, got %d", len(all), len(got))
	}
	for i, kind := range api.Kinds {
		if got[i].Kind() != kind {
			t.Errorf("Expected kind %s at position %d, got %s", kind, i, got[i].Kind())
		}
	}

	dc.Remove(api.KindWindow, "win")
	if _, ok := dc.Get(api.KindWindow, "win"); ok {
		t.Error("Expected window to be removed")
	}
}

func TestDiffContext_CredentialOrdering(t *testing.T) {
	g := NewGraph()
	dc := NewDiffContext(g)

	for _, c := range []*Credential{
		NewCredential(g, "a-dbt", CredentialDbtCore),
		NewCredential(g, "b-snowflake", CredentialSnowflake),
		NewCredential(g, "c-cloud", CredentialDbtCloud),
		NewCredential(g, "d-postgres", CredentialPostgres),
	} {
		_ = dc.Add(c)
	}

	names := func(creds []*Credential) []string {
		out := make([]string, len(creds))
		for i, c := range creds {
			out[i] = c.Name()
		}
		return out
	}

	create := names(dc.CredentialsForCreate())
	wantCreate := []string{"b-snowflake", "d-postgres", "a-dbt", "c-cloud"}
	for i := range wantCreate {
		if create[i] != wantCreate[i] {
			t.Fatalf("Expected create order %v, got %v", wantCreate, create)
		}
	}

	del := names(dc.CredentialsForDelete())
	wantDelete := []string{"a-dbt", "c-cloud", "b-snowflake", "d-postgres"}
	for i := range wantDelete {
		if del[i] != wantDelete[i] {
			t.Fatalf("Expected delete order %v, got %v", wantDelete, del)
		}
	}
}

func TestWrapsCredential(t *testing.T) {
	tests := []struct {
		typ  CredentialType
		want bool
	}{
		{CredentialDbtCore, true},
		{CredentialDbtCloud, true},
		{CredentialSnowflake, false},
		{CredentialDemo, false},
		{CredentialKafkaSASLSSL, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.WrapsCredential(); got != tt.want {
				t.Errorf("WrapsCredential() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTypename_Unknown(t *testing.T) {
	parsers := map[string]func(string) error{
		"credential": func(s string) error { _, err := ParseCredentialTypename(s); return err },
		"channel":    func(s string) error { _, err := ParseChannelTypename(s); return err },
		"source":     func(s string) error { _, err := ParseSourceTypename(s); return err },
		"window":     func(s string) error { _, err := ParseWindowTypename(s); return err },
		"validator":  func(s string) error { _, err := ParseValidatorTypename(s); return err },
	}

	for category, parse := range parsers {
		t.Run(category, func(t *testing.T) {
			err := parse("MysteryThing")
			var kindErr *UnknownKindError
			if !errors.As(err, &kindErr) {
				t.Fatalf("Expected UnknownKindError, got %v", err)
			}
			if kindErr.Category != category {
				t.Errorf("Expected category %s, got %s", category, kindErr.Category)
			}
		})
	}

	typ, err := ParseCredentialTypename("DbtCloudCredential")
	if err != nil || typ != CredentialDbtCloud {
		t.Errorf("Expected dbt_cloud, got %s (%v)", typ, err)
	}
}

func TestSecret_NeverPrintsPlaintext(t *testing.T) {
	s := SecretValue("hunter2")
	if !s.IsSet() {
		t.Fatal("Expected secret to be set")
	}
	if s.String() == "hunter2" {
		t.Error("String() leaked the plaintext")
	}
	b, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if string(b) != `"<sensitive>"` {
		t.Errorf("Unexpected JSON: %s", b)
	}
	if s.Reveal() != "hunter2" {
		t.Error("Reveal() must return the plaintext")
	}

	u := UnsetSecretValue()
	if u.IsSet() || u.String() != UnsetSecret {
		t.Errorf("Expected unset placeholder, got %s", u)
	}
}

func TestCredential_FillUnsetSecrets(t *testing.T) {
	g := NewGraph()
	c := NewCredential(g, "pg", CredentialPostgres)
	c.FillUnsetSecrets()

	secret, ok := c.Secrets()["password"]
	if !ok {
		t.Fatal("Expected password secret field")
	}
	if secret.IsSet() || secret.Reveal() != UnsetSecret {
		t.Errorf("Expected UNSET placeholder, got %q", secret.Reveal())
	}
	if rec := secretsRecord(c.Secrets()); rec != nil {
		t.Errorf("Expected no secrets to be sent, got %v", rec)
	}
}
