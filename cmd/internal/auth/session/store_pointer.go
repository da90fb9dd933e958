package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PointerStore implements pointer-mode Store on profiles.last_session_id.
//
// It is used when user_sessions has not been migrated. History, device info
// and liveness timestamps are lost; the single-authoritative-session
// invariant still holds because each upsert is one row-level UPDATE.
type PointerStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPointerStore constructs a pointer-mode store.
func NewPointerStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PointerStore, error) {
	if pool == nil {
		return nil, errors.New("session: nil pool")
	}
	st, err := applyPGOptions(opts)
	if err != nil {
		return nil, err
	}
	return &PointerStore{pool: pool, schema: st.schema}, nil
}

// Mode implements Store.
func (s *PointerStore) Mode() Mode { return ModePointer }

// UpsertActiveSession overwrites the pointer. A missing account row yields ErrAccountNotFound.
func (s *PointerStore) UpsertActiveSession(ctx context.Context, in UpsertInput) (Record, error) {
	if in.UserID == "" || in.SessionID == "" {
		return Record{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET last_session_id = $2
		WHERE id = $1
	`, pgIdent(s.schema, profilesTable)), in.UserID, in.SessionID)
	if err != nil {
		return Record{}, mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return Record{}, ErrAccountNotFound
	}

	return pointerRecord(in.UserID, in.SessionID, now), nil
}

// GetActiveSessionID implements Store. A missing account row or NULL pointer reads as absent.
func (s *PointerStore) GetActiveSessionID(ctx context.Context, userID string) (string, bool, error) {
	var sid *string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT last_session_id
		FROM %s
		WHERE id = $1
	`, pgIdent(s.schema, profilesTable)), userID).Scan(&sid)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapPGError(err)
	}
	if sid == nil || *sid == "" {
		return "", false, nil
	}
	return *sid, true, nil
}

// TouchLastActive implements Store. The account record has no liveness column, so this only checks the match.
func (s *PointerStore) TouchLastActive(ctx context.Context, userID, sessionID string, _ time.Time) error {
	sid, ok, err := s.GetActiveSessionID(ctx, userID)
	if err != nil {
		return err
	}
	if !ok || sid != sessionID {
		return ErrSessionNotFound
	}
	return nil
}
