// Package policy evaluates Open Policy Agent (OPA) guardrails over diffs
// before they are applied.
//
// Policies are Rego modules defining a deny set. Each element is either a
// message string or an object with message, severity and resource keys.
// Policies are evaluated against a PolicyInput document:
//
//	{
//	  "diff": {
//	    "namespace": "analytics",
//	    "create": [{"kind": "source", "name": "orders", "typename": "DemoSource"}],
//	    "update": [{"kind": "validator", "name": "mean", "typename": "NumericValidator", "paths": ["config.metric"]}],
//	    "delete": [],
//	    "actual": {"credential": 1, "source": 2},
//	    "actual_total": 3
//	  },
//	  "limits": {"max_deletes": 20},
//	  "context": {"user": "ci", "operation": "apply", "dry_run": false}
//	}
//
// The input never carries configuration or secret values.
//
// # Built-in Policies
//
//   - no-credential-deletion (error): blocks deleting a credential.
//   - namespace-wipe (error): blocks deleting every resource of a namespace.
//   - large-delete (warning): warns above limits.max_deletes deletions.
//   - unconditional-notification-rule (info): flags notification rules
//     created in a namespace without sources.
//
// Violations of severity error or critical block the apply. Lower
// severities are reported as warnings.
//
// # Policy Files
//
// LoadPolicies reads .rego modules and .json or .yaml definitions wrapping
// one. A Rego module may set its name, severity, tags and enabled state in
// comment directives above the package clause:
//
//	# Forbids webhook channels.
//	# severity: error
//	# tags: channels
//	package validio.custom.channels
//
// Files ending in _test.rego and hidden entries are skipped. A file policy
// replaces a built-in of the same name.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, policy.WithLimits(policy.Limits{MaxDeletes: 50}))
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//	result, err := eng.CheckDiff(ctx, namespace, diff, actual)
//
// *Engine implements engine.PolicyChecker and is passed to the reconciler.
package policy
