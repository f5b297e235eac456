package idbroker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestFlowStore(t *testing.T, ttl time.Duration) (*flowStateStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return newFlowStateStore(client, "idb", ttl), mr
}

func TestFlowStateRoundTrip(t *testing.T) {
	store, _ := newTestFlowStore(t, time.Minute)
	ctx := context.Background()

	saved := &flowStateRecord{
		Provider:      "acme",
		Nonce:         "nonce-1",
		CodeVerifier:  "verifier-1",
		RedirectURI:   "https://rp.example.com/callback",
		LinkingUserID: "user-1",
		CreatedAt:     1700000000,
	}
	if err := store.Save(ctx, "state-1", saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Consume(ctx, "state-1")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if *got != *saved {
		t.Fatalf("record = %+v, want %+v", got, saved)
	}
}

func TestFlowStateSingleUse(t *testing.T) {
	store, _ := newTestFlowStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, "state-1", &flowStateRecord{Provider: "acme"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Consume(ctx, "state-1"); err != nil {
		t.Fatalf("first Consume failed: %v", err)
	}
	if _, err := store.Consume(ctx, "state-1"); !errors.Is(err, errFlowStateNotFound) {
		t.Fatalf("second Consume error = %v, want errFlowStateNotFound", err)
	}
}

func TestFlowStateConcurrentConsume(t *testing.T) {
	store, _ := newTestFlowStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, "state-1", &flowStateRecord{Provider: "acme"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = store.Consume(ctx, "state-1")
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, errFlowStateNotFound) {
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one consume success, got %d", wins)
	}
}

func TestFlowStateExpires(t *testing.T) {
	store, mr := newTestFlowStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, "state-1", &flowStateRecord{Provider: "acme"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Consume(ctx, "state-1"); !errors.Is(err, errFlowStateNotFound) {
		t.Fatalf("expired Consume error = %v, want errFlowStateNotFound", err)
	}
}

func TestFlowStateUnknownState(t *testing.T) {
	store, _ := newTestFlowStore(t, time.Minute)

	if _, err := store.Consume(context.Background(), "never-saved"); !errors.Is(err, errFlowStateNotFound) {
		t.Fatalf("unknown state error = %v, want errFlowStateNotFound", err)
	}
}
