// Package token generates opaque bearer tokens and derives their storage digests.
//
// Session cookies carry a random token; the server only ever keys storage by
// its digest. With a key configured the digest is HMAC-SHA256, otherwise plain
// SHA-256 for local development. Either way the output is 64 hex characters.
package token
