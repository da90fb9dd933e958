package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"estatedesk/cmd/internal/metrics"
	"estatedesk/cmd/security/token"
)

// ValidationResult reports whether a caller's session is still authoritative.
// Kicked is true only when a later registration superseded it.
type ValidationResult struct {
	Valid  bool
	Kicked bool
}

// Validator answers "is this session still the authoritative one".
type Validator struct {
	store   Store
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewValidator constructs a Validator over store.
func NewValidator(store Store, opts ...Option) *Validator {
	o := buildOptions(opts)
	return &Validator{store: store, log: o.log, metrics: o.metrics, now: o.now}
}

// Validate compares sessionID against the authoritative session of p.
//
//   - nothing on record: valid (permissive default)
//   - match: valid, last_active_at advanced best-effort
//   - mismatch: kicked, nothing written
//
// Supersession follows store commit order only; timestamps are never compared.
// A store failure is returned as an error and never reported as a kick.
func (v *Validator) Validate(ctx context.Context, p Principal, sessionID string) (ValidationResult, error) {
	const op = "session.Validate"

	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return ValidationResult{}, opErr(op, ErrUnauthenticated, nil)
	}
	sid, ok := normalizeSessionID(sessionID)
	if !ok {
		return ValidationResult{}, opErr(op, ErrInvalidInput, errors.New("sessionId is required"))
	}

	current, found, err := v.store.GetActiveSessionID(ctx, userID)
	if err != nil {
		v.metrics.ObserveValidate("error")
		v.log.Error("session.validate.fail", "user_id", userID, "err", err)
		return ValidationResult{}, opErr(op, ErrStorageFailure, err)
	}

	switch {
	case !found:
		v.metrics.ObserveValidate("valid")
		v.log.Debug("session.validate.unregistered", "user_id", userID)
		return ValidationResult{Valid: true}, nil

	case current == sid:
		if err := v.store.TouchLastActive(ctx, userID, sid, v.now()); err != nil {
			// A concurrent login may have superseded us between read and touch;
			// this poll still answers from the read, the next one reports the kick.
			level := slog.LevelWarn
			if errors.Is(err, ErrSessionNotFound) {
				level = slog.LevelDebug
			}
			v.log.Log(ctx, level, "session.validate.touch.fail", "user_id", userID, "err", err)
		}
		v.metrics.ObserveValidate("valid")
		return ValidationResult{Valid: true}, nil

	default:
		v.metrics.ObserveValidate("kicked")
		v.log.Info("session.validate.kicked",
			"user_id", userID,
			"session_fp", token.Fingerprint(sid),
		)
		return ValidationResult{Valid: false, Kicked: true}, nil
	}
}
