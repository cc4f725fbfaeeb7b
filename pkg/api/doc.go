// Package api defines the contract between the reconciliation engine and the
// remote Validio system: the wire records returned by read calls, the
// mutation payloads sent by create and update calls, and the HTTPError
// surfaced by transports.
//
// The engine never talks to a concrete transport. It receives an api.Client
// and uses only the operations declared here.
package api
