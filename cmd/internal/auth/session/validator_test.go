package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestValidate_KickScenario(t *testing.T) {
	t.Parallel()

	reg, val := newTestPair(NewMemoryStore())

	mustRegister(t, reg, "u1", "s1")
	if got := mustValidate(t, val, "u1", "s1"); got != (ValidationResult{Valid: true}) {
		t.Fatalf("s1 before supersession: got %+v", got)
	}

	mustRegister(t, reg, "u1", "s2")
	if got := mustValidate(t, val, "u1", "s1"); got != (ValidationResult{Valid: false, Kicked: true}) {
		t.Fatalf("s1 after supersession: got %+v", got)
	}
	if got := mustValidate(t, val, "u1", "s2"); got != (ValidationResult{Valid: true}) {
		t.Fatalf("s2 after supersession: got %+v", got)
	}
}

func TestValidate_UnregisteredAccountIsPermissive(t *testing.T) {
	t.Parallel()

	for _, store := range []Store{NewMemoryStore(), NewMemoryPointerStore()} {
		_, val := newTestPair(store)
		if got := mustValidate(t, val, "never-registered", "anything"); got != (ValidationResult{Valid: true}) {
			t.Fatalf("%s: expected permissive valid, got %+v", store.Mode(), got)
		}
	}
}

func TestValidate_RepeatedCallsAreIdempotent(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	store := NewMemoryStore()
	reg := NewRegistrar(store, WithLogger(discardLogger()), WithClock(now))
	val := NewValidator(store, WithLogger(discardLogger()), WithClock(now))

	mustRegister(t, reg, "u1", "s1")
	created := store.History("u1")[0].LastActiveAt

	for i := 0; i < 5; i++ {
		if got := mustValidate(t, val, "u1", "s1"); got != (ValidationResult{Valid: true}) {
			t.Fatalf("call %d: got %+v", i, got)
		}
	}

	hist := store.History("u1")
	if len(hist) != 1 || !hist[0].IsActive || hist[0].SessionID != "s1" {
		t.Fatalf("validation must not change the authoritative session: %+v", hist)
	}
	if !hist[0].LastActiveAt.After(created) {
		t.Fatalf("expected last_active_at to advance, created=%v last=%v", created, hist[0].LastActiveAt)
	}
}

func TestValidate_KickedDoesNotTouch(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	reg, val := newTestPair(store)

	mustRegister(t, reg, "u1", "s1")
	mustRegister(t, reg, "u1", "s2")
	before := store.History("u1")

	if got := mustValidate(t, val, "u1", "s1"); !got.Kicked {
		t.Fatalf("expected kick, got %+v", got)
	}

	after := store.History("u1")
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("kicked validation mutated record %d: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestValidate_StorageFailureIsNotAKick(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	_, val := newTestPair(&failingStore{err: boom})

	got, err := val.Validate(context.Background(), Principal{UserID: "u1"}, "s1")
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
	if got.Kicked || got.Valid {
		t.Fatalf("failed validation must not report a verdict, got %+v", got)
	}
}

func TestValidate_InputErrors(t *testing.T) {
	t.Parallel()

	_, val := newTestPair(NewMemoryStore())

	if _, err := val.Validate(context.Background(), Principal{}, "s1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := val.Validate(context.Background(), Principal{UserID: "u1"}, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidate_TouchFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	store := &touchFailStore{MemoryStore: NewMemoryStore()}
	reg, val := newTestPair(store)

	mustRegister(t, reg, "u1", "s1")
	if got := mustValidate(t, val, "u1", "s1"); got != (ValidationResult{Valid: true}) {
		t.Fatalf("touch failure must not fail validation, got %+v", got)
	}
	if store.touches != 1 {
		t.Fatalf("expected one touch attempt, got %d", store.touches)
	}
}

func TestValidate_PointerModeScenario(t *testing.T) {
	t.Parallel()

	reg, val := newTestPair(NewMemoryPointerStore())

	mustRegister(t, reg, "u1", "s1")
	mustRegister(t, reg, "u1", "s2")

	if got := mustValidate(t, val, "u1", "s1"); !got.Kicked {
		t.Fatalf("expected s1 kicked in pointer mode, got %+v", got)
	}
	if got := mustValidate(t, val, "u1", "s2"); !got.Valid {
		t.Fatalf("expected s2 valid in pointer mode, got %+v", got)
	}
}

func TestConcurrentRegister_ExactlyOneWins(t *testing.T) {
	t.Parallel()

	for _, mk := range []func() Store{
		func() Store { return NewMemoryStore() },
		func() Store { return NewMemoryPointerStore() },
	} {
		for round := 0; round < 50; round++ {
			store := mk()
			reg, val := newTestPair(store)
			userID := fmt.Sprintf("u-%d", round)

			var wg sync.WaitGroup
			start := make(chan struct{})
			for _, sid := range []string{"A", "B"} {
				wg.Add(1)
				go func(sid string) {
					defer wg.Done()
					<-start
					if _, err := reg.Register(context.Background(), Principal{UserID: userID}, RegisterInput{SessionID: sid}); err != nil {
						t.Errorf("Register(%s): %v", sid, err)
					}
				}(sid)
			}
			close(start)
			wg.Wait()

			a := mustValidate(t, val, userID, "A")
			b := mustValidate(t, val, userID, "B")
			if a.Valid == b.Valid {
				t.Fatalf("%s round %d: expected exactly one valid, got A=%+v B=%+v", store.Mode(), round, a, b)
			}
			if a.Kicked == b.Kicked {
				t.Fatalf("%s round %d: expected exactly one kicked, got A=%+v B=%+v", store.Mode(), round, a, b)
			}
		}
	}
}

func TestConcurrentRegister_ManyCallersLeaveOneActive(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	reg, val := newTestPair(store)

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = reg.Register(context.Background(), Principal{UserID: "u1"}, RegisterInput{SessionID: fmt.Sprintf("s-%d", i)})
		}(i)
	}
	wg.Wait()

	hist := store.History("u1")
	if len(hist) != n {
		t.Fatalf("expected %d records, got %d", n, len(hist))
	}
	var winner string
	active := 0
	for _, r := range hist {
		if r.IsActive {
			active++
			winner = r.SessionID
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active record, got %d", active)
	}
	// The winner is the last committed record.
	if hist[len(hist)-1].SessionID != winner {
		t.Fatalf("active record %q is not the last committed %q", winner, hist[len(hist)-1].SessionID)
	}

	valid := 0
	for i := 0; i < n; i++ {
		if mustValidate(t, val, "u1", fmt.Sprintf("s-%d", i)).Valid {
			valid++
		}
	}
	if valid != 1 {
		t.Fatalf("expected exactly one valid session, got %d", valid)
	}
}

// touchFailStore fails every TouchLastActive.
type touchFailStore struct {
	*MemoryStore
	touches int
}

func (s *touchFailStore) TouchLastActive(context.Context, string, string, time.Time) error {
	s.touches++
	return errors.New("touch failed")
}
