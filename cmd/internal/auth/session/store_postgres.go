package session

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

const (
	sessionsTable = "user_sessions"
	profilesTable = "profiles"

	defaultSchema = "public"
)

// PostgresStore implements table-mode Store on user_sessions.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Concurrency model:
//   - UpsertActiveSession takes a per-user transactional advisory lock, so
//     concurrent logins for the same account commit one after another.
//   - The partial unique index on (user_id) WHERE is_active backs the invariant at the storage level.
//   - With WithPointerMirror, profiles.last_session_id is set in the same
//     transaction, so the pointer fallback never lags behind the table.
type PostgresStore struct {
	pool          *pgxpool.Pool
	schema        string
	mirrorPointer bool
}

// PostgresOption configures Postgres-backed stores.
type PostgresOption func(*pgSettings) error

type pgSettings struct {
	schema        string
	mirrorPointer bool
	onDowngrade   func()
}

// WithSchema sets the DB schema holding user_sessions and profiles (default: "public").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *pgSettings) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("session: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithPointerMirror makes the table-mode store also write profiles.last_session_id
// inside the registration transaction. Probe sets it when the column exists.
func WithPointerMirror() PostgresOption {
	return func(s *pgSettings) error {
		s.mirrorPointer = true
		return nil
	}
}

// OnDowngrade registers fn to run once when Probe's store switches from
// table mode to the pointer fallback at runtime.
func OnDowngrade(fn func()) PostgresOption {
	return func(s *pgSettings) error {
		s.onDowngrade = fn
		return nil
	}
}

func applyPGOptions(opts []PostgresOption) (pgSettings, error) {
	st := pgSettings{schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&st); err != nil {
			return pgSettings{}, err
		}
	}
	return st, nil
}

// NewPostgresStore constructs a table-mode store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("session: nil pool")
	}
	st, err := applyPGOptions(opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, schema: st.schema, mirrorPointer: st.mirrorPointer}, nil
}

// Mode implements Store.
func (s *PostgresStore) Mode() Mode { return ModeTable }

// MirrorsPointer reports whether upserts also maintain profiles.last_session_id.
func (s *PostgresStore) MirrorsPointer() bool { return s.mirrorPointer }

// UpsertActiveSession deactivates the current active row and inserts the new one in a single transaction.
func (s *PostgresStore) UpsertActiveSession(ctx context.Context, in UpsertInput) (Record, error) {
	if in.UserID == "" || in.SessionID == "" {
		return Record{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := newRecordID(now)
	if err != nil {
		return Record{}, err
	}

	tbl := pgIdent(s.schema, sessionsTable)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Record{}, mapPGError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize logins per account; the lock is released on commit/rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.UserID); err != nil {
		return Record{}, mapPGError(err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET is_active = false
		WHERE user_id = $1 AND is_active
	`, tbl), in.UserID); err != nil {
		return Record{}, mapPGError(err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, user_id, session_id, device_info, source_address,
			is_active, created_at, last_active_at
		) VALUES (
			$1, $2, $3, $4, $5,
			true, $6, $6
		)
	`, tbl), id, in.UserID, in.SessionID, nullIfEmpty(in.DeviceInfo), nullIfEmpty(in.SourceAddress), now); err != nil {
		return Record{}, mapPGError(err)
	}

	// No profile row is not an error here; pointer mode has nothing to read for that account either.
	if s.mirrorPointer {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s
			SET last_session_id = $2
			WHERE id = $1
		`, pgIdent(s.schema, profilesTable)), in.UserID, in.SessionID); err != nil {
			return Record{}, mapPGError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, mapPGError(err)
	}

	return Record{
		ID:            id,
		UserID:        in.UserID,
		SessionID:     in.SessionID,
		DeviceInfo:    in.DeviceInfo,
		SourceAddress: in.SourceAddress,
		IsActive:      true,
		CreatedAt:     now,
		LastActiveAt:  now,
	}, nil
}

// GetActiveSessionID implements Store.
func (s *PostgresStore) GetActiveSessionID(ctx context.Context, userID string) (string, bool, error) {
	var sid string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT session_id
		FROM %s
		WHERE user_id = $1 AND is_active
		LIMIT 1
	`, pgIdent(s.schema, sessionsTable)), userID).Scan(&sid)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapPGError(err)
	}
	return sid, true, nil
}

// TouchLastActive implements Store. A superseded caller matches zero rows and gets ErrSessionNotFound.
func (s *PostgresStore) TouchLastActive(ctx context.Context, userID, sessionID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET last_active_at = GREATEST(last_active_at, $3)
		WHERE user_id = $1 AND session_id = $2 AND is_active
	`, pgIdent(s.schema, sessionsTable)), userID, sessionID, now)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// History returns all records for a user, newest first.
func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, user_id, session_id,
		       COALESCE(device_info, ''), COALESCE(source_address, ''),
		       is_active, created_at, last_active_at
		FROM %s
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, pgIdent(s.schema, sessionsTable)), userID, limit)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.SessionID,
			&r.DeviceInfo,
			&r.SourceAddress,
			&r.IsActive,
			&r.CreatedAt,
			&r.LastActiveAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPGError(err)
	}
	return out, nil
}

// SQLSTATE codes for a schema that has not been migrated yet.
const (
	pgUndefinedTable  = "42P01"
	pgUndefinedColumn = "42703"
)

// mapPGError converts undefined table/column errors into ErrSchemaMissing and leaves everything else as-is.
func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUndefinedTable, pgUndefinedColumn:
			return fmt.Errorf("%w: %s", ErrSchemaMissing, pgErr.Message)
		}
	}
	return err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
