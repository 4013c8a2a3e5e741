package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the Postgres schema the service migrates and queries.
const DefaultSchema = "secretwall"

// PostgresStore implements Store over PostgreSQL.
//
// The pool is owned by the caller; the store never closes it. Identifiers are
// quoted through pgx.Identifier so the schema option cannot inject SQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the accounts table (default "secretwall").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const accountColumns = `id, username, username_norm, federated_provider, federated_subject, secret, created_at, updated_at`

func (s *PostgresStore) accounts() string { return pgIdent(s.schema, "accounts") }

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.UsernameNorm,
		&a.Provider,
		&a.Subject,
		&a.Secret,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func (s *PostgresStore) CreateLocal(ctx context.Context, in CreateLocalInput) (Account, error) {
	const op = "identity.CreateLocal"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if err := ValidateUsername(op, in.Username); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return Account{}, invalid(op, "password hash is required")
	}

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}
	username := strings.TrimSpace(in.Username)

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.accounts()+` (
		     id, username, username_norm, password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $5)
		   RETURNING `+accountColumns,
		id,
		username,
		NormalizeUsername(username),
		in.PasswordHash,
		now,
	)
	acct, err := scanAccount(row)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, classify(op, err)
	}
	return acct, nil
}

// FindOrCreateFederated relies on uq_accounts_federated_identity: the insert
// is a no-op when another transaction already bound the pair, and the
// follow-up read returns that winner.
func (s *PostgresStore) FindOrCreateFederated(ctx context.Context, in FederatedInput) (Account, bool, error) {
	const op = "identity.FindOrCreateFederated"

	if err := ctx.Err(); err != nil {
		return Account{}, false, err
	}
	provider, subject, err := validateFederated(op, in)
	if err != nil {
		return Account{}, false, err
	}

	acct, err := s.getByFederated(ctx, provider, subject)
	switch {
	case err == nil:
		return acct, false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return Account{}, false, classify(op, err)
	}

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Account{}, false, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.accounts()+` (
		     id, federated_provider, federated_subject, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $4)
		   ON CONFLICT (federated_provider, federated_subject) DO NOTHING
		   RETURNING `+accountColumns,
		id, provider, subject, now,
	)
	acct, err = scanAccount(row)
	if err == nil {
		return acct, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, false, classify(op, err)
	}

	acct, err = s.getByFederated(ctx, provider, subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, false, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, false, classify(op, err)
	}
	return acct, false, nil
}

func (s *PostgresStore) getByFederated(ctx context.Context, provider, subject string) (Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+s.accounts()+`
		  WHERE federated_provider = $1 AND federated_subject = $2`,
		provider, subject,
	))
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.GetByID"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if !ValidID(id) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}

	acct, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+s.accounts()+` WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, classify(op, err)
	}
	return acct, nil
}

func (s *PostgresStore) GetCredential(ctx context.Context, username string) (Credential, error) {
	const op = "identity.GetCredential"

	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	norm := NormalizeUsername(username)
	if norm == "" {
		return Credential{}, NotFoundError{Op: op, Resource: "account"}
	}

	var (
		c    Credential
		hash *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+`, password_hash FROM `+s.accounts()+` WHERE username_norm = $1`,
		norm,
	).Scan(
		&c.Account.ID,
		&c.Account.Username,
		&c.Account.UsernameNorm,
		&c.Account.Provider,
		&c.Account.Subject,
		&c.Account.Secret,
		&c.Account.CreatedAt,
		&c.Account.UpdatedAt,
		&hash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Credential{}, classify(op, err)
	}
	if hash != nil {
		c.PasswordHash = *hash
	}
	return c, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	const op = "identity.UpdatePasswordHash"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "password hash is required")
	}
	if !ValidID(id) {
		return NotFoundError{Op: op, Resource: "credential"}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.accounts()+` SET password_hash = $2 WHERE id = $1 AND password_hash IS NOT NULL`,
		id, hash,
	)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "credential"}
	}
	return nil
}

func (s *PostgresStore) SetSecret(ctx context.Context, id, secret string, now time.Time) (Account, error) {
	const op = "identity.SetSecret"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	secret, err := NormalizeSecret(op, secret)
	if err != nil {
		return Account{}, err
	}
	if !ValidID(id) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}

	acct, err := scanAccount(s.pool.QueryRow(ctx,
		`UPDATE `+s.accounts()+`
		    SET secret = $2, updated_at = $3
		  WHERE id = $1
		  RETURNING `+accountColumns,
		id, secret, nowOr(now),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, classify(op, err)
	}
	return acct, nil
}

func (s *PostgresStore) ListWithSecrets(ctx context.Context) ([]Account, error) {
	const op = "identity.ListWithSecrets"

	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM `+s.accounts()+`
		  WHERE secret IS NOT NULL AND secret <> ''
		  ORDER BY updated_at DESC, id DESC`,
	)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify("identity.Ping", s.pool.Ping(ctx))
}

// pgIdent quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_accounts_username_norm", strings.Contains(c, "username"):
		return "username", true
	case c == "uq_accounts_federated_identity", strings.Contains(c, "federated"):
		return "federated_identity", true
	default:
		return "unique", true
	}
}
