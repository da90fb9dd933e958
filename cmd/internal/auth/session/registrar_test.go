package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPair(store Store) (*Registrar, *Validator) {
	log := WithLogger(discardLogger())
	return NewRegistrar(store, log), NewValidator(store, log)
}

func mustRegister(t *testing.T, r *Registrar, userID, sessionID string) RegisteredSession {
	t.Helper()

	res, err := r.Register(context.Background(), Principal{UserID: userID}, RegisterInput{SessionID: sessionID})
	if err != nil {
		t.Fatalf("Register(%q,%q): %v", userID, sessionID, err)
	}
	return res
}

func mustValidate(t *testing.T, v *Validator, userID, sessionID string) ValidationResult {
	t.Helper()

	res, err := v.Validate(context.Background(), Principal{UserID: userID}, sessionID)
	if err != nil {
		t.Fatalf("Validate(%q,%q): %v", userID, sessionID, err)
	}
	return res
}

func TestRegister_EchoesSessionID(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	reg, _ := newTestPair(store)

	res := mustRegister(t, reg, "u1", "s1")
	if !res.Success || res.SessionID != "s1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Mode != ModeTable {
		t.Fatalf("expected table mode, got %q", res.Mode)
	}
}

func TestRegister_InputErrors(t *testing.T) {
	t.Parallel()

	reg, _ := newTestPair(NewMemoryStore())
	ctx := context.Background()

	cases := []struct {
		name     string
		userID   string
		session  string
		wantKind error
	}{
		{name: "no principal", userID: "", session: "s1", wantKind: ErrUnauthenticated},
		{name: "blank principal", userID: "   ", session: "s1", wantKind: ErrUnauthenticated},
		{name: "empty session", userID: "u1", session: "", wantKind: ErrInvalidInput},
		{name: "whitespace session", userID: "u1", session: " \t", wantKind: ErrInvalidInput},
		{name: "oversized session", userID: "u1", session: strings.Repeat("x", MaxSessionIDBytes+1), wantKind: ErrInvalidInput},
	}

	for _, tc := range cases {
		_, err := reg.Register(ctx, Principal{UserID: tc.userID}, RegisterInput{SessionID: tc.session})
		if !errors.Is(err, tc.wantKind) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantKind, err)
		}
		var opE OpError
		if !errors.As(err, &opE) || opE.Op != "session.Register" {
			t.Fatalf("%s: expected OpError with op session.Register, got %#v", tc.name, err)
		}
	}
}

func TestRegister_SupersedesPreviousSession(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	reg, _ := newTestPair(store)

	mustRegister(t, reg, "u1", "s1")
	mustRegister(t, reg, "u1", "s2")
	mustRegister(t, reg, "u1", "s3")

	hist := store.History("u1")
	if len(hist) != 3 {
		t.Fatalf("expected 3 history records, got %d", len(hist))
	}
	active := 0
	for _, r := range hist {
		if r.IsActive {
			active++
			if r.SessionID != "s3" {
				t.Fatalf("expected s3 active, got %q", r.SessionID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active record, got %d", active)
	}
}

func TestRegister_IsolatedPerAccount(t *testing.T) {
	t.Parallel()

	reg, val := newTestPair(NewMemoryStore())

	mustRegister(t, reg, "u1", "s1")
	mustRegister(t, reg, "u2", "s2")

	if got := mustValidate(t, val, "u1", "s1"); !got.Valid || got.Kicked {
		t.Fatalf("u1 should stay valid, got %+v", got)
	}
	if got := mustValidate(t, val, "u2", "s2"); !got.Valid || got.Kicked {
		t.Fatalf("u2 should stay valid, got %+v", got)
	}
}

func TestRegister_StoresTrimmedMetadata(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	reg, _ := newTestPair(store)

	long := strings.Repeat("é", MaxDeviceInfoRunes+10)
	_, err := reg.Register(context.Background(), Principal{UserID: "u1"}, RegisterInput{
		SessionID:     "  s1  ",
		DeviceInfo:    long,
		SourceAddress: " 203.0.113.7 ",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	hist := store.History("u1")
	if len(hist) != 1 {
		t.Fatalf("expected one record, got %d", len(hist))
	}
	rec := hist[0]
	if rec.SessionID != "s1" {
		t.Fatalf("expected trimmed session id, got %q", rec.SessionID)
	}
	if got := len([]rune(rec.DeviceInfo)); got != MaxDeviceInfoRunes {
		t.Fatalf("expected device info truncated to %d runes, got %d", MaxDeviceInfoRunes, got)
	}
	if rec.SourceAddress != "203.0.113.7" {
		t.Fatalf("unexpected source address %q", rec.SourceAddress)
	}
}

func TestRegister_SchemaMissingFallsBackToPointer(t *testing.T) {
	t.Parallel()

	primary := NewMemoryStore()
	primary.SetSchemaMissing(true)
	store := NewFallbackStore(primary, NewMemoryPointerStore(), discardLogger())
	reg, val := newTestPair(store)

	res := mustRegister(t, reg, "u2", "s1")
	if !res.Success || res.SessionID != "s1" {
		t.Fatalf("expected success via fallback, got %+v", res)
	}
	if res.Mode != ModePointer {
		t.Fatalf("expected pointer mode after fallback, got %q", res.Mode)
	}
	if !store.Degraded() {
		t.Fatalf("expected store to report degraded")
	}

	if got := mustValidate(t, val, "u2", "s1"); !got.Valid || got.Kicked {
		t.Fatalf("expected valid after fallback registration, got %+v", got)
	}
}

func TestRegister_StorageFailureIsHard(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	reg, _ := newTestPair(&failingStore{err: boom})

	_, err := reg.Register(context.Background(), Principal{UserID: "u1"}, RegisterInput{SessionID: "s1"})
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
}

func TestRegister_UsesInjectedClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	store := NewMemoryStore()
	reg := NewRegistrar(store, WithLogger(discardLogger()), WithClock(func() time.Time { return at }))

	mustRegister(t, reg, "u1", "s1")

	rec := store.History("u1")[0]
	if !rec.CreatedAt.Equal(at) || !rec.LastActiveAt.Equal(at) {
		t.Fatalf("expected timestamps %v, got created=%v last=%v", at, rec.CreatedAt, rec.LastActiveAt)
	}
	if rec.ID == "" {
		t.Fatalf("expected record id")
	}
}

// failingStore returns err from every call.
type failingStore struct {
	err     error
	touches int
}

func (s *failingStore) Mode() Mode { return ModeTable }

func (s *failingStore) UpsertActiveSession(context.Context, UpsertInput) (Record, error) {
	return Record{}, s.err
}

func (s *failingStore) GetActiveSessionID(context.Context, string) (string, bool, error) {
	return "", false, s.err
}

func (s *failingStore) TouchLastActive(context.Context, string, string, time.Time) error {
	s.touches++
	return s.err
}
