package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"estatedesk/cmd/internal/metrics"
	"estatedesk/cmd/security/token"
)

const (
	// MaxSessionIDBytes bounds client-chosen identifiers.
	MaxSessionIDBytes = 512

	// MaxDeviceInfoRunes bounds the advisory device label.
	MaxDeviceInfoRunes = 512

	maxSourceAddressBytes = 128
)

// RegisterInput is the client-supplied part of a registration.
type RegisterInput struct {
	SessionID     string
	DeviceInfo    string
	SourceAddress string
}

// RegisteredSession is the result of a successful registration.
// It never carries the identifier of the superseded session.
type RegisteredSession struct {
	SessionID string
	Success   bool
	Mode      Mode
}

// Registrar makes a freshly generated session identifier authoritative for its account.
type Registrar struct {
	store   Store
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures Registrar and Validator.
type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics sets the metrics sink (default none).
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log: slog.Default(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// NewRegistrar constructs a Registrar over store.
func NewRegistrar(store Store, opts ...Option) *Registrar {
	o := buildOptions(opts)
	return &Registrar{store: store, log: o.log, metrics: o.metrics, now: o.now}
}

// Register makes in.SessionID the authoritative session for p.
//
// The previous authoritative session, if any, is superseded in the same
// atomic store operation and learns about it on its next validation. A
// registration served by the pointer fallback is still a success.
func (r *Registrar) Register(ctx context.Context, p Principal, in RegisterInput) (RegisteredSession, error) {
	const op = "session.Register"

	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return RegisteredSession{}, opErr(op, ErrUnauthenticated, nil)
	}
	sessionID, ok := normalizeSessionID(in.SessionID)
	if !ok {
		return RegisteredSession{}, opErr(op, ErrInvalidInput, errors.New("sessionId is required"))
	}

	rec, err := r.store.UpsertActiveSession(ctx, UpsertInput{
		UserID:        userID,
		SessionID:     sessionID,
		DeviceInfo:    truncateRunes(strings.TrimSpace(in.DeviceInfo), MaxDeviceInfoRunes),
		SourceAddress: truncateBytes(strings.TrimSpace(in.SourceAddress), maxSourceAddressBytes),
		Now:           r.now(),
	})
	mode := r.store.Mode()
	if err != nil {
		r.metrics.ObserveRegister(string(mode), "error")
		r.log.Error("session.register.fail", "user_id", userID, "mode", string(mode), "err", err)
		if errors.Is(err, ErrInvalidInput) {
			return RegisteredSession{}, opErr(op, ErrInvalidInput, err)
		}
		return RegisteredSession{}, opErr(op, ErrStorageFailure, err)
	}

	r.metrics.ObserveRegister(string(mode), "success")
	r.metrics.SetDegraded(mode == ModePointer)
	r.log.Info("session.register.ok",
		"user_id", userID,
		"session_fp", token.Fingerprint(rec.SessionID),
		"mode", string(mode),
	)

	return RegisteredSession{SessionID: rec.SessionID, Success: true, Mode: mode}, nil
}

func normalizeSessionID(raw string) (string, bool) {
	sid := strings.TrimSpace(raw)
	if sid == "" || len(sid) > MaxSessionIDBytes {
		return "", false
	}
	return sid, true
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if n >= max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
