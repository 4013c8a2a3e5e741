package session

import "errors"

var (
	// ErrNotFound is returned by a Store for missing or expired records.
	ErrNotFound = errors.New("session not found")

	// ErrStoreUnavailable wraps connectivity failures of the backing store.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("session record corrupt")

	// ErrUnresolvedIdentity is returned when a serialized account key no longer
	// maps to an account.
	ErrUnresolvedIdentity = errors.New("session identity unresolved")

	ErrConfig = errors.New("invalid session config")
)
