package identity

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Msg is human-readable context and never includes credentials or secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness violation on a logical field
// ("username", "federated_identity").
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// UnavailableError wraps a connectivity failure of the backing store.
type UnavailableError struct {
	Op  string
	Err error
}

func (e UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrUnavailable, e.Err)
}

func (e UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

// ConflictField returns the conflicting field when err is a ConflictError.
func ConflictField(err error) (string, bool) {
	var ce ConflictError
	if !errors.As(err, &ce) {
		return "", false
	}
	return ce.Field, true
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

func invalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// classify maps driver errors that mean "the database could not be reached"
// to UnavailableError and passes everything else through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr),
		errors.As(err, &netErr),
		pgconn.Timeout(err),
		errors.Is(err, context.DeadlineExceeded):
		return UnavailableError{Op: op, Err: err}
	}
	return err
}
