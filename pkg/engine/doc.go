// Package engine reconciles a desired set of Validio resources against the
// resources that exist on the server.
//
// # Overview
//
// A reconciliation pass runs in three steps:
//
//  1. Load - LoadResources rebuilds the actual state of a namespace from the server
//  2. Diff - Diff partitions desired against actual into creates, updates and deletes
//  3. Apply - Apply executes the diff through the api.Client
//
// Reconciler wraps the pass with a namespace lease, a policy check and a
// run history. Plan stops after the policy check.
//
// # Apply Phases
//
// Apply runs seven phases strictly in order:
//
//  1. delete - notification rules, sources, then the children of surviving
//     sources, credentials (wrapping credentials first) and channels
//  2. create_credentials - wrapped credentials before the ones wrapping them
//  3. infer_schemas - sources without a schema, through their new credential
//  4. create_sources_channels
//  5. expand_selectors - validator templates whose source now has a schema
//  6. update - credentials, sources, segmentations, windows, validators,
//     channels, notification rules
//  7. create_remaining - every resource not created yet, in dependency order
//
// Each resource is mutated at most once per pass. The first error stops the
// pass; nothing is rolled back. Running the pass again converges.
//
// Windows, segmentations and validators of a deleted source are removed by
// the server together with the source. Apply reports them as OpSkip.
//
// # Secrets
//
// Secret fields are compared by presence only and render as "<sensitive>"
// in a diff. Errors raised while mutating a credential are passed through
// SanitizeCredentialError before they are returned, logged or observed.
//
// # Error Classification
//
// Every error returned by the package is an *EngineError:
//
//   - Transient: server errors, cancellation; re-running may succeed
//   - Throttled: rate limiting, back off before re-running
//   - Conflict: concurrent modification or a held lease
//   - Permanent: invalid manifest, unknown typename, policy denial
//
//	if engine.IsRetryable(err) {
//	    // run the pass again later
//	}
//
// # Example Usage
//
//	r := &engine.Reconciler{
//	    Client: client,
//	    Store:  store,
//	    Locker: lease.NewLocalLease(),
//	    Policy: policyEngine,
//	}
//	res, err := r.Apply(ctx, "analytics", manifest, engine.RunOptions{Actor: "ci"})
//	if err != nil {
//	    return err
//	}
//	fmt.Print(res.Diff.Render())
package engine
