package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/validio/validio-go/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_AppendMutation records an apply and its mutations.
func ExampleSQLiteStore_AppendMutation() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	run := &stores.Run{
		ID:        "run-001",
		Namespace: "default",
		Command:   "apply",
		Status:    stores.RunStatusRunning,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	_ = store.AppendMutation(ctx, &stores.Mutation{
		RunID:      run.ID,
		Phase:      "create_credentials",
		Kind:       "credential",
		Name:       "warehouse",
		ResourceID: "cred-1",
		Operation:  "create",
		Status:     stores.MutationStatusSucceeded,
	})
	_ = store.CompleteRun(ctx, run.ID, stores.RunStatusSucceeded, `{"create":1}`, nil)

	mutations, _ := store.ListMutations(ctx, run.ID)
	got, _ := store.GetRun(ctx, run.ID)
	fmt.Printf("%s: %d mutation(s), %s %s\n", got.Status, len(mutations), mutations[0].Operation, mutations[0].Name)
	// Output: succeeded: 1 mutation(s), create warehouse
}
