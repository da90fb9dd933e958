package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// FallbackStore serves from a table-mode primary until the primary reports
// ErrSchemaMissing, then switches to a pointer-mode fallback for good.
//
// The operation that observed the missing schema is re-issued on the fallback
// so the caller never sees the downgrade. Other errors are returned untouched.
//
// While healthy, every successful upsert is also written to the fallback, so
// the pointer names the same session as the table at the moment of a
// downgrade. A primary that reports MirrorsPointer() already does this inside
// its own transaction and is left alone.
type FallbackStore struct {
	primary  Store
	fallback Store
	log      *slog.Logger

	onDowngrade func()
	mirror      bool
	mu          sync.Mutex // orders primary+fallback writes when mirror is set

	degraded atomic.Bool
}

// FallbackOption configures a FallbackStore.
type FallbackOption func(*FallbackStore)

// WithDowngradeHook runs fn once, when the store switches to the fallback.
func WithDowngradeHook(fn func()) FallbackOption {
	return func(s *FallbackStore) { s.onDowngrade = fn }
}

// pointerMirror is implemented by primaries that keep the fallback pointer current themselves.
type pointerMirror interface {
	MirrorsPointer() bool
}

// NewFallbackStore wraps primary and fallback. log may be nil.
func NewFallbackStore(primary, fallback Store, log *slog.Logger, opts ...FallbackOption) *FallbackStore {
	if log == nil {
		log = slog.Default()
	}
	s := &FallbackStore{primary: primary, fallback: fallback, log: log, mirror: true}
	if pm, ok := primary.(pointerMirror); ok && pm.MirrorsPointer() {
		s.mirror = false
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Degraded reports whether the store has switched to the fallback.
func (s *FallbackStore) Degraded() bool { return s.degraded.Load() }

// Mode implements Store.
func (s *FallbackStore) Mode() Mode {
	if s.degraded.Load() {
		return s.fallback.Mode()
	}
	return s.primary.Mode()
}

// UpsertActiveSession implements Store.
func (s *FallbackStore) UpsertActiveSession(ctx context.Context, in UpsertInput) (Record, error) {
	if !s.degraded.Load() {
		rec, err := s.upsertPrimary(ctx, in)
		if !s.downgrade(err) {
			return rec, err
		}
	}
	return s.fallback.UpsertActiveSession(ctx, in)
}

func (s *FallbackStore) upsertPrimary(ctx context.Context, in UpsertInput) (Record, error) {
	if !s.mirror {
		return s.primary.UpsertActiveSession(ctx, in)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.primary.UpsertActiveSession(ctx, in)
	if err != nil {
		return rec, err
	}
	// An account without a profile row has no pointer to keep current.
	if _, err := s.fallback.UpsertActiveSession(ctx, in); err != nil && !errors.Is(err, ErrAccountNotFound) {
		s.log.Error("session.store.mirror.fail", "user_id", in.UserID, "err", err)
		return Record{}, fmt.Errorf("session: mirror pointer: %w", err)
	}
	return rec, nil
}

// GetActiveSessionID implements Store.
func (s *FallbackStore) GetActiveSessionID(ctx context.Context, userID string) (string, bool, error) {
	if !s.degraded.Load() {
		sid, ok, err := s.primary.GetActiveSessionID(ctx, userID)
		if !s.downgrade(err) {
			return sid, ok, err
		}
	}
	return s.fallback.GetActiveSessionID(ctx, userID)
}

// TouchLastActive implements Store.
func (s *FallbackStore) TouchLastActive(ctx context.Context, userID, sessionID string, now time.Time) error {
	if !s.degraded.Load() {
		err := s.primary.TouchLastActive(ctx, userID, sessionID, now)
		if !s.downgrade(err) {
			return err
		}
	}
	return s.fallback.TouchLastActive(ctx, userID, sessionID, now)
}

// downgrade flips to the fallback when err is ErrSchemaMissing and reports whether it did.
func (s *FallbackStore) downgrade(err error) bool {
	if !errors.Is(err, ErrSchemaMissing) {
		return false
	}
	if s.degraded.CompareAndSwap(false, true) {
		s.log.Warn("session.store.degraded",
			"from", string(s.primary.Mode()),
			"to", string(s.fallback.Mode()),
			"err", err,
		)
		if s.onDowngrade != nil {
			s.onDowngrade()
		}
	}
	return true
}
