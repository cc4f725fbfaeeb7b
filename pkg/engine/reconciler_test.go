package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/engine"
	"github.com/validio/validio-go/pkg/lease"
	"github.com/validio/validio-go/pkg/policy"
	"github.com/validio/validio-go/pkg/resources"
	"github.com/validio/validio-go/pkg/stores"
	"github.com/validio/validio-go/pkg/testutil"
)

const namespace = "analytics"

func demoManifest() *resources.DiffContext {
	g := resources.NewGraph()
	dc := resources.NewDiffContext(g)

	cred := resources.NewCredential(g, "demo", resources.CredentialDemo)
	src := resources.NewSource(g, "demo_source", resources.SourceDemo, "demo")
	win := resources.NewWindow(g, "global", resources.WindowGlobal, "demo_source")
	val := resources.NewValidator(g, "row_count", resources.ValidatorVolume, "demo_source", "global", "")
	val.Metric = "COUNT"
	val.Threshold = resources.NewDynamicThreshold()

	for _, r := range []resources.Resource{cred, src, win, val} {
		_ = dc.Add(r)
	}
	return dc
}

func newStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newReconciler(t *testing.T, fake *testutil.FakeAPI, store *stores.SQLiteStore) *engine.Reconciler {
	t.Helper()
	checker, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	return &engine.Reconciler{
		Client:  fake,
		Store:   store,
		Locker:  lease.NewLocalLease(),
		Policy:  checker,
		Options: []engine.Option{engine.WithLogger(zerolog.Nop())},
	}
}

func TestReconciler_ApplyRecordsRun(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI()
	store := newStore(t)
	r := newReconciler(t, fake, store)

	res, err := r.Apply(ctx, namespace, demoManifest(), engine.RunOptions{Actor: "ci"})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Status != stores.RunStatusSucceeded {
		t.Errorf("Status = %s, want succeeded", res.Status)
	}
	if len(res.Mutations) != 4 {
		t.Errorf("Expected 4 mutations, got %d", len(res.Mutations))
	}

	run, err := store.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != stores.RunStatusSucceeded || run.Command != engine.CommandApply || run.CompletedAt == nil {
		t.Errorf("Unexpected run record %+v", run)
	}

	mutations, err := store.ListMutations(ctx, res.RunID)
	if err != nil {
		t.Fatalf("ListMutations failed: %v", err)
	}
	if len(mutations) != 4 {
		t.Fatalf("Expected 4 recorded mutations, got %d", len(mutations))
	}
	if mutations[0].Kind != "credential" || mutations[0].Status != stores.MutationStatusSucceeded {
		t.Errorf("Unexpected first mutation %+v", mutations[0])
	}

	states, err := store.ListResourceStates(ctx, namespace)
	if err != nil {
		t.Fatalf("ListResourceStates failed: %v", err)
	}
	if len(states) != 4 {
		t.Errorf("Expected 4 resource states, got %d", len(states))
	}

	action := "apply.succeeded"
	entries, err := store.ListAuditEntries(ctx, &action, 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != "ci" {
		t.Errorf("Unexpected audit entries %+v", entries)
	}

	// A second pass converges without mutations.
	res, err = r.Apply(ctx, namespace, demoManifest(), engine.RunOptions{})
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if !res.Diff.IsEmpty() || len(res.Mutations) != 0 {
		t.Errorf("Expected no changes, got %d mutations", len(res.Mutations))
	}
}

func TestReconciler_PlanDoesNotMutate(t *testing.T) {
	fake := testutil.NewFakeAPI()
	r := newReconciler(t, fake, newStore(t))

	res, err := r.Plan(context.Background(), namespace, demoManifest(), engine.RunOptions{})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if res.Diff.Summary().Create != 4 {
		t.Errorf("Expected 4 creates, got %s", res.Diff.Summary())
	}
	if calls := fake.MutationCalls(); len(calls) != 0 {
		t.Errorf("Plan must not mutate, got %v", calls)
	}
}

func TestReconciler_PolicyDenied(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI()
	store := newStore(t)
	r := newReconciler(t, fake, store)

	if _, err := r.Apply(ctx, namespace, demoManifest(), engine.RunOptions{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	fake.ResetCalls()

	empty := resources.NewDiffContext(resources.NewGraph())
	res, err := r.Apply(ctx, namespace, empty, engine.RunOptions{})
	if err == nil {
		t.Fatal("Expected policy denial")
	}
	if !engine.HasCode(err, engine.ErrCodePolicyDenied) {
		t.Errorf("Expected %s, got %v", engine.ErrCodePolicyDenied, err)
	}
	if res.Status != stores.RunStatusDenied {
		t.Errorf("Status = %s, want denied", res.Status)
	}
	if calls := fake.MutationCalls(); len(calls) != 0 {
		t.Errorf("Denied run must not mutate, got %v", calls)
	}

	action := "policy.denied"
	entries, err := store.ListAuditEntries(ctx, &action, 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected one denial audit entry, got %d", len(entries))
	}

	res, err = r.Apply(ctx, namespace, resources.NewDiffContext(resources.NewGraph()), engine.RunOptions{SkipPolicy: true})
	if err != nil {
		t.Fatalf("Apply with skipped policy failed: %v", err)
	}
	if fake.Count(api.KindCredential) != 0 || fake.Count(api.KindSource) != 0 {
		t.Error("Expected namespace to be emptied")
	}
	states, err := store.ListResourceStates(ctx, namespace)
	if err != nil {
		t.Fatalf("ListResourceStates failed: %v", err)
	}
	if len(states) != 0 {
		t.Errorf("Expected resource states to be removed, got %d", len(states))
	}
}

func TestReconciler_LeaseHeld(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI()
	locker := lease.NewLocalLease()
	if err := locker.Acquire(ctx, namespace, "other-run", time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	r := &engine.Reconciler{Client: fake, Locker: locker}
	_, err := r.Apply(ctx, namespace, demoManifest(), engine.RunOptions{})
	if err == nil {
		t.Fatal("Expected lease error")
	}
	if !engine.HasCode(err, engine.ErrCodeLeaseHeld) || !engine.IsConflict(err) {
		t.Errorf("Unexpected error %v", err)
	}
	if !errors.Is(err, lease.ErrHeld) {
		t.Errorf("Expected ErrHeld in chain, got %v", err)
	}

	// Plans do not take the lease.
	if _, err := r.Plan(ctx, namespace, demoManifest(), engine.RunOptions{}); err != nil {
		t.Errorf("Plan failed: %v", err)
	}

	if err := locker.Release(ctx, namespace, "other-run"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := r.Apply(ctx, namespace, demoManifest(), engine.RunOptions{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	info, err := locker.Get(ctx, namespace)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if info != nil {
		t.Errorf("Expected lease released, held by %s", info.HolderID)
	}
}

func TestReconciler_FailedMutationRecorded(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI()
	fake.FailOn = func(c testutil.Call) error {
		if c.Kind == api.KindWindow {
			return &api.HTTPError{StatusCode: 409, Body: []byte(`{"error":"conflict"}`)}
		}
		return nil
	}
	store := newStore(t)
	r := newReconciler(t, fake, store)

	res, err := r.Apply(ctx, namespace, demoManifest(), engine.RunOptions{})
	if !engine.IsConflict(err) {
		t.Fatalf("Expected conflict, got %v", err)
	}

	run, err := store.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != stores.RunStatusFailed || run.Error == nil {
		t.Errorf("Unexpected run %+v", run)
	}

	mutations, err := store.ListMutations(ctx, res.RunID)
	if err != nil {
		t.Fatalf("ListMutations failed: %v", err)
	}
	last := mutations[len(mutations)-1]
	if last.Kind != "window" || last.Status != stores.MutationStatusFailed || last.Error == nil {
		t.Errorf("Unexpected last mutation %+v", last)
	}
}
