// Package stores persists the history of reconciliation runs in SQLite:
// runs, the remote mutations each apply performed, the last known server
// id of every managed resource, and an audit log of policy decisions.
package stores
