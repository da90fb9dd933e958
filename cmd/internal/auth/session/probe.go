package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Capabilities is what Probe found in the database.
type Capabilities struct {
	SessionsTable bool
	PointerColumn bool
	SelectedMode  Mode
}

// Probe inspects the schema and returns the Store to use.
//
//   - user_sessions present: FallbackStore over PostgresStore and PointerStore,
//     with the table store keeping last_session_id current in its transaction
//   - only profiles.last_session_id present: PointerStore
//   - neither: ErrSchemaMissing
func Probe(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger, opts ...PostgresOption) (Store, Capabilities, error) {
	if log == nil {
		log = slog.Default()
	}
	st, err := applyPGOptions(opts)
	if err != nil {
		return nil, Capabilities{}, err
	}

	var caps Capabilities

	if err := pool.QueryRow(ctx,
		`SELECT to_regclass($1) IS NOT NULL`,
		pgIdent(st.schema, sessionsTable),
	).Scan(&caps.SessionsTable); err != nil {
		return nil, Capabilities{}, fmt.Errorf("session: probe %s: %w", sessionsTable, err)
	}

	if err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2 AND column_name = 'last_session_id'
		)
	`, st.schema, profilesTable).Scan(&caps.PointerColumn); err != nil {
		return nil, Capabilities{}, fmt.Errorf("session: probe %s.last_session_id: %w", profilesTable, err)
	}

	var pointer *PointerStore
	if caps.PointerColumn {
		pointer, err = NewPointerStore(pool, opts...)
		if err != nil {
			return nil, Capabilities{}, err
		}
	}

	switch {
	case caps.SessionsTable:
		tableOpts := opts
		if pointer != nil {
			tableOpts = append(opts[:len(opts):len(opts)], WithPointerMirror())
		}
		table, err := NewPostgresStore(pool, tableOpts...)
		if err != nil {
			return nil, Capabilities{}, err
		}
		caps.SelectedMode = ModeTable
		log.Info("session.store.probe", "mode", string(ModeTable), "pointer_fallback", pointer != nil)
		if pointer == nil {
			return table, caps, nil
		}
		return NewFallbackStore(table, pointer, log, WithDowngradeHook(st.onDowngrade)), caps, nil
	case caps.PointerColumn:
		caps.SelectedMode = ModePointer
		log.Warn("session.store.probe", "mode", string(ModePointer), "reason", "user_sessions missing")
		return pointer, caps, nil
	default:
		return nil, caps, fmt.Errorf("session: neither %s nor %s.last_session_id exist: %w", sessionsTable, profilesTable, ErrSchemaMissing)
	}
}
