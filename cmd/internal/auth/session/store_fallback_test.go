package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"estatedesk/cmd/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func TestFallbackStore_PassThroughWhileHealthy(t *testing.T) {
	t.Parallel()

	primary := NewMemoryStore()
	fallback := NewMemoryPointerStore()
	store := NewFallbackStore(primary, fallback, discardLogger())
	ctx := context.Background()

	if _, err := store.UpsertActiveSession(ctx, UpsertInput{UserID: "u1", SessionID: "s1"}); err != nil {
		t.Fatalf("UpsertActiveSession: %v", err)
	}
	if store.Degraded() || store.Mode() != ModeTable {
		t.Fatalf("expected healthy table mode")
	}
	if len(primary.History("u1")) != 1 {
		t.Fatalf("expected primary to hold the record")
	}
	if got, ok, _ := fallback.GetActiveSessionID(ctx, "u1"); !ok || got != "s1" {
		t.Fatalf("expected fallback pointer mirrored to s1, got %q ok=%v", got, ok)
	}
}

func TestFallbackStore_DowngradeKeepsKickOutcome(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		seed      string // pointer left over from before table mode, if any
		register  []string
		wantValid string
		wantKick  []string
	}{
		{name: "superseded session stays kicked", register: []string{"s1", "s2"}, wantValid: "s2", wantKick: []string{"s1"}},
		{name: "stale pointer does not kick newest", seed: "s0", register: []string{"s1"}, wantValid: "s1", wantKick: []string{"s0"}},
		{name: "three logins", register: []string{"s1", "s2", "s3"}, wantValid: "s3", wantKick: []string{"s1", "s2"}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			primary := NewMemoryStore()
			fallback := NewMemoryPointerStore()
			if tc.seed != "" {
				if _, err := fallback.UpsertActiveSession(context.Background(), UpsertInput{UserID: "u1", SessionID: tc.seed}); err != nil {
					t.Fatalf("seed fallback: %v", err)
				}
			}
			reg, val := newTestPair(NewFallbackStore(primary, fallback, discardLogger()))

			for _, sid := range tc.register {
				mustRegister(t, reg, "u1", sid)
			}
			primary.SetSchemaMissing(true)

			if res := mustValidate(t, val, "u1", tc.wantValid); !res.Valid || res.Kicked {
				t.Fatalf("expected %s valid after downgrade, got %+v", tc.wantValid, res)
			}
			for _, sid := range tc.wantKick {
				if res := mustValidate(t, val, "u1", sid); res.Valid || !res.Kicked {
					t.Fatalf("expected %s kicked after downgrade, got %+v", sid, res)
				}
			}
		})
	}
}

// selfMirroringStore stands in for a primary that writes the pointer in its own transaction.
type selfMirroringStore struct{ *MemoryStore }

func (selfMirroringStore) MirrorsPointer() bool { return true }

func TestFallbackStore_SkipsMirrorWhenPrimaryMirrors(t *testing.T) {
	t.Parallel()

	fallback := NewMemoryPointerStore()
	store := NewFallbackStore(selfMirroringStore{NewMemoryStore()}, fallback, discardLogger())
	ctx := context.Background()

	if _, err := store.UpsertActiveSession(ctx, UpsertInput{UserID: "u1", SessionID: "s1"}); err != nil {
		t.Fatalf("UpsertActiveSession: %v", err)
	}
	if _, ok, _ := fallback.GetActiveSessionID(ctx, "u1"); ok {
		t.Fatalf("fallback must not be written twice when the primary mirrors the pointer")
	}
}

func TestFallbackStore_MirrorFailureFailsRegistration(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	store := NewFallbackStore(NewMemoryStore(), &failingStore{err: boom}, discardLogger())

	_, err := store.UpsertActiveSession(context.Background(), UpsertInput{UserID: "u1", SessionID: "s1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mirror error to surface, got %v", err)
	}
	if store.Degraded() {
		t.Fatalf("a failed mirror write must not trigger the fallback")
	}
}

func TestFallbackStore_DowngradeHookFiresOnce(t *testing.T) {
	t.Parallel()

	primary := NewMemoryStore()
	calls := 0
	store := NewFallbackStore(primary, NewMemoryPointerStore(), discardLogger(),
		WithDowngradeHook(func() { calls++ }),
	)
	ctx := context.Background()

	primary.SetSchemaMissing(true)
	for i := 0; i < 3; i++ {
		if _, _, err := store.GetActiveSessionID(ctx, "u1"); err != nil {
			t.Fatalf("GetActiveSessionID: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected hook to fire once, got %d", calls)
	}
}

func TestFallbackStore_ValidateDowngradeSetsDegradedGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	primary := NewMemoryStore()
	store := NewFallbackStore(primary, NewMemoryPointerStore(), discardLogger(),
		WithDowngradeHook(func() { m.SetDegraded(true) }),
	)
	val := NewValidator(store, WithLogger(discardLogger()), WithMetrics(m))

	if got := degradedGauge(t, reg); got != 0 {
		t.Fatalf("expected gauge 0 while healthy, got %v", got)
	}

	primary.SetSchemaMissing(true)
	if res := mustValidate(t, val, "u1", "s1"); !res.Valid {
		t.Fatalf("expected permissive valid with no pointer, got %+v", res)
	}
	if got := degradedGauge(t, reg); got != 1 {
		t.Fatalf("expected gauge 1 after a validation-triggered downgrade, got %v", got)
	}
}

func degradedGauge(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "estatedesk_session_store_degraded" && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("estatedesk_session_store_degraded not gathered")
	return 0
}

func TestFallbackStore_DowngradesOnceAndStays(t *testing.T) {
	t.Parallel()

	primary := NewMemoryStore()
	fallback := NewMemoryPointerStore()
	store := NewFallbackStore(primary, fallback, discardLogger())
	ctx := context.Background()

	primary.SetSchemaMissing(true)

	sid, ok, err := store.GetActiveSessionID(ctx, "u1")
	if err != nil || ok || sid != "" {
		t.Fatalf("expected empty pointer read, got %q %v %v", sid, ok, err)
	}
	if !store.Degraded() || store.Mode() != ModePointer {
		t.Fatalf("expected degraded pointer mode")
	}

	// The primary recovering does not flip back: mixing sources would break the invariant.
	primary.SetSchemaMissing(false)
	if _, err := store.UpsertActiveSession(ctx, UpsertInput{UserID: "u1", SessionID: "s1"}); err != nil {
		t.Fatalf("UpsertActiveSession: %v", err)
	}
	if len(primary.History("u1")) != 0 {
		t.Fatalf("primary must not receive writes after downgrade")
	}
	if got, ok, _ := fallback.GetActiveSessionID(ctx, "u1"); !ok || got != "s1" {
		t.Fatalf("expected fallback pointer s1, got %q ok=%v", got, ok)
	}
}

func TestFallbackStore_TransientErrorsDoNotDowngrade(t *testing.T) {
	t.Parallel()

	boom := errors.New("timeout")
	store := NewFallbackStore(&failingStore{err: boom}, NewMemoryPointerStore(), discardLogger())

	_, err := store.UpsertActiveSession(context.Background(), UpsertInput{UserID: "u1", SessionID: "s1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected transient error to surface, got %v", err)
	}
	if store.Degraded() {
		t.Fatalf("transient errors must not trigger the fallback")
	}
}

func TestFallbackStore_TouchDowngrades(t *testing.T) {
	t.Parallel()

	primary := NewMemoryStore()
	fallback := NewMemoryPointerStore()
	store := NewFallbackStore(primary, fallback, discardLogger())
	ctx := context.Background()

	if _, err := fallback.UpsertActiveSession(ctx, UpsertInput{UserID: "u1", SessionID: "s1"}); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}
	primary.SetSchemaMissing(true)

	if err := store.TouchLastActive(ctx, "u1", "s1", time.Now()); err != nil {
		t.Fatalf("expected touch served by fallback, got %v", err)
	}
	if err := store.TouchLastActive(ctx, "u1", "other", time.Now()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for mismatched touch, got %v", err)
	}
}

func TestMemoryStore_TouchMismatch(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.TouchLastActive(ctx, "u1", "s1", time.Now()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on empty store, got %v", err)
	}
	if _, err := store.UpsertActiveSession(ctx, UpsertInput{UserID: "u1", SessionID: "s1"}); err != nil {
		t.Fatalf("UpsertActiveSession: %v", err)
	}
	if _, err := store.UpsertActiveSession(ctx, UpsertInput{UserID: "u1", SessionID: "s2"}); err != nil {
		t.Fatalf("UpsertActiveSession: %v", err)
	}
	if err := store.TouchLastActive(ctx, "u1", "s1", time.Now()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for superseded session, got %v", err)
	}
	if err := store.TouchLastActive(ctx, "u1", "s2", time.Now()); err != nil {
		t.Fatalf("expected touch on active session to succeed, got %v", err)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewMemoryStore().UpsertActiveSession(ctx, UpsertInput{UserID: "u1", SessionID: "s1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOpError_Format(t *testing.T) {
	t.Parallel()

	err := opErr("session.Validate", ErrStorageFailure, errors.New("dial tcp: refused"))
	if got := err.Error(); got != "session.Validate: storage failure: dial tcp: refused" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := opErr("session.Register", ErrUnauthenticated, nil).Error(); got != "session.Register: unauthenticated" {
		t.Fatalf("unexpected message %q", got)
	}
}
