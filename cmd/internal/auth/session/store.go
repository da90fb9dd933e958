package session

import (
	"context"
	"time"
)

// Mode identifies how a Store represents the authoritative session.
type Mode string

const (
	// ModeTable keeps one record per login with an is_active flag and liveness timestamps.
	ModeTable Mode = "table"
	// ModePointer keeps only last_session_id on the account record.
	ModePointer Mode = "pointer"
)

// Principal is an already authenticated caller.
type Principal struct {
	UserID string
}

// Record mirrors a user_sessions row.
type Record struct {
	ID            string
	UserID        string
	SessionID     string
	DeviceInfo    string
	SourceAddress string
	IsActive      bool
	CreatedAt     time.Time
	LastActiveAt  time.Time
}

// UpsertInput describes a new authoritative session.
type UpsertInput struct {
	UserID        string
	SessionID     string
	DeviceInfo    string
	SourceAddress string
	Now           time.Time
}

// Store abstracts persistence of the authoritative session per account.
//
// Implementations must make UpsertActiveSession atomic per user: after any
// set of concurrent calls for the same user completes, exactly one record is
// active and it belongs to the call the store committed last.
type Store interface {
	// UpsertActiveSession creates a record and deactivates the previous active record for the same user.
	UpsertActiveSession(ctx context.Context, in UpsertInput) (Record, error)

	// GetActiveSessionID returns the authoritative session id, ok=false when none is on record.
	GetActiveSessionID(ctx context.Context, userID string) (sessionID string, ok bool, err error)

	// TouchLastActive advances last_active_at. Returns ErrSessionNotFound if sessionID is not the active one.
	TouchLastActive(ctx context.Context, userID, sessionID string, now time.Time) error

	// Mode reports the representation currently in use.
	Mode() Mode
}
