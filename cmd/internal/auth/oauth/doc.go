// Package oauth runs the Google authorization-code handshake.
//
// The flow is Unauthenticated -> AwaitingProviderRedirect ->
// AwaitingProviderCallback -> Authenticated | Failed. Begin hands out the
// provider URL with a signed, short-lived state that carries a nonce; the
// caller keeps the same nonce in the user's session. Complete checks both,
// exchanges the code and fetches the provider's stable subject identifier.
// Any failure is reported as ErrHandshakeFailed and leaves no trace behind.
package oauth
