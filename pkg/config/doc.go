// Package config loads manifests and CLI settings.
//
// # Manifests
//
// A manifest declares the desired resources of one namespace, grouped by
// kind. Manifests are written in YAML, JSON or CUE:
//
//	namespace: analytics
//	credentials:
//	  - name: pg
//	    type: postgres
//	    config: {host: db.internal, port: 5432, user: validio, database: shop}
//	    secrets:
//	      password: ${PG_PASSWORD}
//	sources:
//	  - name: orders
//	    type: postgres
//	    credential: pg
//	    config: {schema: public, table: orders}
//	windows:
//	  - name: daily
//	    type: tumbling
//	    source: orders
//	    data_time_field: created_at
//	validators:
//	  - name: row_count
//	    type: volume
//	    source: orders
//	    window: daily
//	    metric: COUNT
//	    threshold: {type: dynamic, sensitivity: 3}
//
// LoadManifest parses the file, validates field constraints and name
// uniqueness, and expands ${VAR} references in secret values from the
// environment. Unknown fields are rejected. CUE manifests are checked
// against the built-in #Manifest definition, so they may use
// comprehensions and hidden helper fields:
//
//	_tables: ["orders", "customers"]
//	sources: [for t in _tables {name: t, type: "postgres", credential: "pg", config: table: t}]
//
// Manifest.ToDiffContext turns a manifest into the desired state consumed
// by the engine. FromDiffContext goes the other way for export; secret
// values are written as UNSET.
//
// # Settings
//
// LoadSettings reads validio.yaml:
//
//	endpoint: https://app.validio.io
//	namespace: analytics
//	state_path: .validio/state.db
//	lease:
//	  redis_addr: localhost:6379
//	policy:
//	  paths: [policies/]
//
// The API key is normally supplied through VALIDIO_API_KEY. VALIDIO_ENDPOINT
// and VALIDIO_NAMESPACE override the file as well.
//
// # Watching
//
// Watcher calls back after manifest files change, debouncing bursts of
// editor writes. It backs apply --watch.
package config
