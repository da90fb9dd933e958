package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore is a table-mode Store kept in process memory.
// Used when no database is configured and as the test double for Registrar/Validator.
//
// A single mutex orders every upsert, so the last call to acquire it is the
// authoritative one, matching the commit-order rule of the Postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	history map[string][]Record // user_id -> records ordered by creation

	schemaMissing atomic.Bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{history: make(map[string][]Record)}
}

// SetSchemaMissing makes every call fail with ErrSchemaMissing, as an unmigrated database would.
func (s *MemoryStore) SetSchemaMissing(missing bool) { s.schemaMissing.Store(missing) }

// Mode implements Store.
func (s *MemoryStore) Mode() Mode { return ModeTable }

// UpsertActiveSession implements Store.
func (s *MemoryStore) UpsertActiveSession(ctx context.Context, in UpsertInput) (Record, error) {
	if err := s.precheck(ctx); err != nil {
		return Record{}, err
	}
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

	rec := Record{
		ID:            id,
		UserID:        in.UserID,
		SessionID:     in.SessionID,
		DeviceInfo:    in.DeviceInfo,
		SourceAddress: in.SourceAddress,
		IsActive:      true,
		CreatedAt:     now,
		LastActiveAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.history[in.UserID]
	for i := range recs {
		recs[i].IsActive = false
	}
	s.history[in.UserID] = append(recs, rec)

	return rec, nil
}

// GetActiveSessionID implements Store.
func (s *MemoryStore) GetActiveSessionID(ctx context.Context, userID string) (string, bool, error) {
	if err := s.precheck(ctx); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.activeLocked(userID); ok {
		return rec.SessionID, true, nil
	}
	return "", false, nil
}

// TouchLastActive implements Store.
func (s *MemoryStore) TouchLastActive(ctx context.Context, userID, sessionID string, now time.Time) error {
	if err := s.precheck(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.history[userID]
	for i := range recs {
		if recs[i].IsActive && recs[i].SessionID == sessionID {
			if now.After(recs[i].LastActiveAt) {
				recs[i].LastActiveAt = now
			}
			return nil
		}
	}
	return ErrSessionNotFound
}

// History returns a copy of all records for a user, oldest first.
func (s *MemoryStore) History(userID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.history[userID]))
	copy(out, s.history[userID])
	return out
}

func (s *MemoryStore) activeLocked(userID string) (Record, bool) {
	recs := s.history[userID]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].IsActive {
			return recs[i], true
		}
	}
	return Record{}, false
}

func (s *MemoryStore) precheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.schemaMissing.Load() {
		return ErrSchemaMissing
	}
	return nil
}

// MemoryPointerStore is a pointer-mode Store kept in process memory.
// It holds one last_session_id per account and no history.
type MemoryPointerStore struct {
	mu       sync.Mutex
	pointers map[string]string
}

// NewMemoryPointerStore constructs an empty MemoryPointerStore.
func NewMemoryPointerStore() *MemoryPointerStore {
	return &MemoryPointerStore{pointers: make(map[string]string)}
}

// Mode implements Store.
func (s *MemoryPointerStore) Mode() Mode { return ModePointer }

// UpsertActiveSession implements Store. Only the pointer is kept; device metadata is dropped.
func (s *MemoryPointerStore) UpsertActiveSession(ctx context.Context, in UpsertInput) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if in.UserID == "" || in.SessionID == "" {
		return Record{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	s.pointers[in.UserID] = in.SessionID
	s.mu.Unlock()

	return pointerRecord(in.UserID, in.SessionID, now), nil
}

// GetActiveSessionID implements Store.
func (s *MemoryPointerStore) GetActiveSessionID(ctx context.Context, userID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sid, ok := s.pointers[userID]
	if !ok || sid == "" {
		return "", false, nil
	}
	return sid, true, nil
}

// TouchLastActive implements Store. There is no liveness column in pointer mode, so it only checks the match.
func (s *MemoryPointerStore) TouchLastActive(ctx context.Context, userID, sessionID string, _ time.Time) error {
	sid, ok, err := s.GetActiveSessionID(ctx, userID)
	if err != nil {
		return err
	}
	if !ok || sid != sessionID {
		return ErrSessionNotFound
	}
	return nil
}

func pointerRecord(userID, sessionID string, now time.Time) Record {
	return Record{
		UserID:       userID,
		SessionID:    sessionID,
		IsActive:     true,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}
