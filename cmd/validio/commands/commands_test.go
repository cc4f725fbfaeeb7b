package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/config"
	"github.com/validio/validio-go/pkg/engine"
	"github.com/validio/validio-go/pkg/testutil"
)

type workspace struct {
	dir      string
	settings string
	manifest string
	fake     *testutil.FakeAPI
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &workspace{
		dir:      dir,
		settings: filepath.Join(dir, "validio.yaml"),
		manifest: filepath.Join(dir, "manifest.yaml"),
		fake:     testutil.NewFakeAPI(),
	}

	settings := fmt.Sprintf("api_key: test-key\nnamespace: analytics\nstate_path: %s\n", filepath.Join(dir, "state.db"))
	if err := os.WriteFile(ws.settings, []byte(settings), 0o600); err != nil {
		t.Fatal(err)
	}
	ws.writeManifest(t, sampleManifest)

	prev := newAPIClient
	newAPIClient = func(*config.Settings) api.Client { return ws.fake }
	t.Cleanup(func() { newAPIClient = prev })
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvNamespace, "")

	return ws
}

func (ws *workspace) writeManifest(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(ws.manifest, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func (ws *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return ws.runContext(t, context.Background(), args...)
}

func (ws *workspace) runContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	configPath, namespace, verbose, jsonOutput = "", "", false, false

	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", ws.settings}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "validate", ws.manifest)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if !strings.Contains(out, "is valid") || !strings.Contains(out, "validator") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if n := len(ws.fake.Calls()); n != 0 {
		t.Errorf("validate made %d API calls", n)
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	ws := newWorkspace(t)
	ws.writeManifest(t, "sources:\n  - name: orders\n    type: postgres\n")

	if _, err := ws.run(t, "validate", ws.manifest); err == nil {
		t.Fatal("validate should fail without a credential")
	}
}

func TestPlanCommand(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "plan", ws.manifest)
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	for _, want := range []string{`+ credential "demo"`, `+ validator "row_count"`, "Plan: 4 to create, 0 to update, 0 to delete"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := len(ws.fake.MutationCalls()); n != 0 {
		t.Errorf("plan made %d mutations", n)
	}
}

func TestApplyCommand(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "apply", ws.manifest)
	if err != nil {
		t.Fatalf("apply error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "✓ create credential/demo") || !strings.Contains(out, "Apply succeeded!") {
		t.Errorf("unexpected output:\n%s", out)
	}
	for _, k := range []api.Kind{api.KindCredential, api.KindSource, api.KindWindow, api.KindValidator} {
		if ws.fake.Count(k) != 1 {
			t.Errorf("expected one %s, got %d", k, ws.fake.Count(k))
		}
	}

	out, err = ws.run(t, "plan", ws.manifest)
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	if !strings.Contains(out, `No changes. Namespace "analytics" is up to date.`) {
		t.Errorf("second plan should be empty:\n%s", out)
	}
}

func TestApplyCommand_JSON(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "apply", ws.manifest, "--json")
	if err != nil {
		t.Fatalf("apply error: %v", err)
	}

	var rep runReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if rep.Status != "succeeded" || rep.Namespace != "analytics" || rep.Command != engine.CommandApply {
		t.Errorf("unexpected report %+v", rep)
	}
	if rep.Summary == nil || rep.Summary.Create != 4 {
		t.Errorf("unexpected summary %+v", rep.Summary)
	}
	if len(rep.Mutations) != 4 {
		t.Errorf("expected 4 mutations, got %d", len(rep.Mutations))
	}
}

func TestApplyCommand_PolicyDenied(t *testing.T) {
	ws := newWorkspace(t)
	if _, err := ws.run(t, "apply", ws.manifest); err != nil {
		t.Fatalf("apply error: %v", err)
	}

	ws.writeManifest(t, "credentials: []\n")
	out, err := ws.run(t, "apply", ws.manifest)
	if !engine.HasCode(err, engine.ErrCodePolicyDenied) {
		t.Fatalf("expected POLICY_DENIED, got %v", err)
	}
	if !strings.Contains(out, "Denied by") {
		t.Errorf("output should list the denial:\n%s", out)
	}
	if ws.fake.Count(api.KindCredential) != 1 {
		t.Error("denied apply must not delete")
	}

	if _, err := ws.run(t, "apply", ws.manifest, "--skip-policy"); err != nil {
		t.Fatalf("apply --skip-policy error: %v", err)
	}
	if ws.fake.Count(api.KindCredential) != 0 {
		t.Error("apply --skip-policy should delete the credential")
	}
}

func TestApplyCommand_PolicyDisabledInSettings(t *testing.T) {
	ws := newWorkspace(t)
	f, err := os.OpenFile(ws.settings, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("policy:\n  disable: [no-credential-deletion, namespace-wipe]\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	if _, err := ws.run(t, "apply", ws.manifest); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	ws.writeManifest(t, "credentials: []\n")
	if _, err := ws.run(t, "apply", ws.manifest); err != nil {
		t.Fatalf("apply with disabled policies error: %v", err)
	}
	if ws.fake.Count(api.KindCredential) != 0 {
		t.Error("credential should be deleted")
	}

	f, _ = os.OpenFile(ws.settings, os.O_APPEND|os.O_WRONLY, 0)
	_, _ = f.WriteString("  max_deletes: 5\n")
	_ = f.Close()
	if _, err := ws.run(t, "plan", ws.manifest); err != nil {
		t.Fatalf("plan error: %v", err)
	}
}

func TestNamespaceFlag(t *testing.T) {
	ws := newWorkspace(t)

	if _, err := ws.run(t, "apply", ws.manifest, "--namespace", "staging"); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	rec, ok := ws.fake.Record(api.KindSource, "demo_source")
	if !ok {
		t.Fatal("source not created")
	}
	if ns := rec.(*api.SourceRecord).ResourceNamespace; ns != "staging" {
		t.Errorf("namespace = %q, want staging", ns)
	}
}

func TestExportCommand(t *testing.T) {
	ws := newWorkspace(t)
	ws.writeManifest(t, `
credentials:
  - name: pg
    type: postgres
    config: {host: db, port: 5432, user: u, database: d}
    secrets:
      password: hunter2
sources:
  - name: orders
    type: postgres
    credential: pg
    config: {schema: public, table: orders}
    schema: {properties: {id: {type: string}}}
`)
	if _, err := ws.run(t, "apply", ws.manifest); err != nil {
		t.Fatalf("apply error: %v", err)
	}

	out, err := ws.run(t, "export")
	if err != nil {
		t.Fatalf("export error: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatal("export leaked a secret")
	}
	if !strings.Contains(out, "password: UNSET") || !strings.Contains(out, "name: orders") {
		t.Errorf("unexpected export:\n%s", out)
	}

	m, err := config.ParseManifest([]byte(out), "export.yaml")
	if err != nil {
		t.Fatalf("export is not a valid manifest: %v", err)
	}
	if m.Namespace != "analytics" || len(m.Sources) != 1 {
		t.Errorf("unexpected manifest %+v", m)
	}
}

func TestGraphCommand(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "graph", ws.manifest)
	if err != nil {
		t.Fatalf("graph error: %v", err)
	}
	if !strings.HasPrefix(out, "digraph Resources {") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, `"validator/row_count"`) {
		t.Errorf("graph should contain the validator node:\n%s", out)
	}
}

func TestRunsCommand(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "runs")
	if err != nil {
		t.Fatalf("runs error: %v", err)
	}
	if !strings.Contains(out, "No runs recorded.") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := ws.run(t, "apply", ws.manifest); err != nil {
		t.Fatalf("apply error: %v", err)
	}

	out, err = ws.run(t, "runs", "--json")
	if err != nil {
		t.Fatalf("runs error: %v", err)
	}
	var runs []struct {
		ID      string `json:"id"`
		Command string `json:"command"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].Command != "apply" || runs[0].Status != "succeeded" {
		t.Fatalf("unexpected runs %+v", runs)
	}

	out, err = ws.run(t, "runs", "show", runs[0].ID)
	if err != nil {
		t.Fatalf("runs show error: %v", err)
	}
	if !strings.Contains(out, "credential/demo") || !strings.Contains(out, "Plan: 4 to create") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := ws.run(t, "plan", ws.manifest); err != nil {
		t.Fatalf("plan error: %v", err)
	}
	out, err = ws.run(t, "runs", "prune", "--keep", "1")
	if err != nil {
		t.Fatalf("runs prune error: %v", err)
	}
	if !strings.Contains(out, `Pruned 1 run(s) of namespace "analytics".`) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	settings := filepath.Join(dir, "validio.yaml")
	configPath, namespace, verbose, jsonOutput = "", "", false, false

	run := func(args ...string) (string, error) {
		cmd := newRootCommand("test", "none", "today")
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(context.Background())
		return out.String(), err
	}

	if _, err := run("init", "--dir", dir, "--namespace", "analytics"); err != nil {
		t.Fatalf("init error: %v", err)
	}
	for _, f := range []string{settings, filepath.Join(dir, "manifest.yaml"), filepath.Join(dir, ".validio", "state.db")} {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("%s not created: %v", f, err)
		}
	}

	t.Setenv(config.EnvAPIKey, "key")
	s, err := config.LoadSettings(settings)
	if err != nil {
		t.Fatalf("generated settings invalid: %v", err)
	}
	if s.Namespace != "analytics" {
		t.Errorf("Namespace = %q", s.Namespace)
	}
	if _, err := config.LoadManifest(filepath.Join(dir, "manifest.yaml")); err != nil {
		t.Errorf("generated manifest invalid: %v", err)
	}

	if _, err := run("init", "--dir", dir); err == nil {
		t.Error("second init should refuse to overwrite")
	}
	if _, err := run("init", "--dir", dir, "--force"); err != nil {
		t.Errorf("init --force error: %v", err)
	}
}

func TestApplyCommand_WatchReportsInitialFailure(t *testing.T) {
	ws := newWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws.fake.FailOn = func(c testutil.Call) error {
		if c.Op == testutil.OpCreate && c.Kind == api.KindCredential {
			cancel()
			return &api.HTTPError{StatusCode: 400, Body: []byte(`{"error":"bad credential"}`)}
		}
		return nil
	}

	out, err := ws.runContext(t, ctx, "apply", ws.manifest, "--watch")
	if err != nil {
		t.Fatalf("watch mode should keep running after a failed apply: %v", err)
	}
	if !strings.Contains(out, "Apply failed") || !strings.Contains(out, "bad credential") {
		t.Errorf("expected the initial failure to be reported:\n%s", out)
	}
	if !strings.Contains(out, "Watching") {
		t.Errorf("expected watch mode to start:\n%s", out)
	}
}
