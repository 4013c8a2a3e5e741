// Package identity owns secretwall's accounts.
//
// An Account is the durable principal behind a session. It may carry a local
// credential (username + password hash), a federated identity (provider +
// subject), or both, plus the single secret its owner last submitted.
//
// Two Store implementations exist: PostgresStore for deployments and
// MemoryStore for local runs and tests. Both enforce the same uniqueness rules
// and report failures through the typed errors in errors.go.
package identity
