// Package session ties browser requests to accounts.
//
// A client holds an opaque random token in a cookie. The server keys a small
// Record by the token's digest in a Store (Redis or in-process) and uses the
// Serializer to turn the record's account key back into an identity.Account.
//
// Manager owns the lifecycle: a session is created on the first response to a
// client without a valid cookie, the token rotates when a login is
// established and again on logout, and records expire after Config.TTL of
// inactivity.
package session
