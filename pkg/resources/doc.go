// Package resources defines the managed resource model of a reconciliation pass.
//
// # Graph
//
// Every resource instance registers into a Graph at construction. The
// graph is an arena scoped to one goroutine and one pass: it hands out a
// Handle per resource and keeps all instances alive until the pass ends. Resources refer to
// each other by name, never by pointer.
//
// # Kinds
//
// Seven kinds exist, listed in dependency order by api.Kinds:
//
//   - Credential: authenticates against a data platform. Wrapping variants
//     (dbt) reference another credential.
//   - Channel: a notification destination.
//   - Source: a dataset read through a credential, with a JTD schema.
//   - Segmentation and Window: partition the data of a source.
//   - Validator: monitors a metric of a source through a window and a
//     segmentation, with a Threshold and an optional Reference.
//   - NotificationRule: forwards incidents matching Conditions to a channel.
//
// Each kind exposes a closed enum of variants. Server typenames convert
// into variants through the Parse*Typename functions; an unknown typename
// yields an *UnknownKindError.
//
// # DiffContext
//
// A DiffContext holds one mapping per kind. Cross references are resolved
// through the MustFind* helpers, which return an *UnresolvedReferenceError
// instead of a nil resource.
//
// # Secrets
//
// Secret fields are Secret values. Loaded resources only know that a
// secret exists (UnsetSecret); their plaintext is never printed or encoded.
package resources
