// Package password hashes and verifies account passwords.
//
// Hashes are Argon2id, encoded in the PHC string form
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<key>, so every stored
// value carries its own salt and cost parameters. Stored hashes are treated
// as untrusted input on Verify: malformed strings and parameters far above
// the configured cost are rejected before any key derivation runs.
package password
