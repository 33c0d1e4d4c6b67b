package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestMemoryStore(clock *fakeClock) *MemoryStore {
	return NewMemoryStore(MemoryOpts{IdleTimeout: 5 * time.Minute, Clock: clock.Now})
}

func TestMemoryStore_GetOrCreate_Fresh(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(clock)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("unseen-%d", i)
		s, err := store.GetOrCreate(context.Background(), id, "256700000001")
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if s.ID != id || s.Menu != MenuMain || s.Step != 0 || !s.Draft.IsZero() || s.Lang != "en" {
			t.Errorf("fresh session = %+v", s)
		}
	}
	if n, _ := store.Len(context.Background()); n != 5 {
		t.Errorf("Len = %d, want 5", n)
	}
}

func TestMemoryStore_FreshSessionsUseConfiguredLang(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(MemoryOpts{IdleTimeout: time.Minute, Lang: "sw", Clock: clock.Now})
	ctx := context.Background()

	s, _ := store.GetOrCreate(ctx, "id", "256700000001")
	if s.Lang != "sw" {
		t.Fatalf("Lang = %q, want sw", s.Lang)
	}
	s.Lang = "lg"
	if err := store.Put(ctx, s); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetOrCreate(ctx, "id", "256700000001"); got.Lang != "lg" {
		t.Errorf("existing session Lang = %q, want lg kept", got.Lang)
	}
	clock.Advance(2 * time.Minute)
	if got, _ := store.GetOrCreate(ctx, "id", "256700000001"); got.Lang != "sw" {
		t.Errorf("restarted session Lang = %q, want sw", got.Lang)
	}
}

func TestMemoryStore_GetOrCreate_ReturnsExisting(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(clock)
	ctx := context.Background()

	s, _ := store.GetOrCreate(ctx, "id", "256700000001")
	s = s.Goto(MenuSend).Next(2)
	s.Draft.Recipient = "256700000002"
	if err := store.Put(ctx, s); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute)
	got, err := store.GetOrCreate(ctx, "id", "256700000001")
	if err != nil {
		t.Fatal(err)
	}
	if got.Menu != MenuSend || got.Step != 2 || got.Draft.Recipient != "256700000002" {
		t.Errorf("existing session = %+v", got)
	}
	if !got.LastActivity.Equal(clock.Now()) {
		t.Errorf("LastActivity = %v, want refreshed to %v", got.LastActivity, clock.Now())
	}
}

func TestMemoryStore_ExpiredButUnsweptIsNewDialogue(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(clock)
	ctx := context.Background()

	s, _ := store.GetOrCreate(ctx, "id", "256700000001")
	s = s.Goto(MenuWithdraw).Next(1)
	s.Lang = "sw"
	store.Put(ctx, s)

	clock.Advance(6 * time.Minute)
	got, _ := store.GetOrCreate(ctx, "id", "256700000001")
	if got.Menu != MenuMain || got.Step != 0 || got.Lang != "en" {
		t.Errorf("expired session resumed: %+v", got)
	}
}

func TestMemoryStore_SweepRemovesOnlyExpired(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(clock)
	ctx := context.Background()

	store.GetOrCreate(ctx, "old", "256700000001")
	clock.Advance(3 * time.Minute)
	store.GetOrCreate(ctx, "new", "256700000002")

	old, _ := store.Get("old")
	clock.Advance(2 * time.Minute)
	if store.IsExpired(old) {
		t.Fatal("session expired at exactly the threshold")
	}
	if n, _ := store.Sweep(ctx); n != 0 {
		t.Fatalf("Sweep before expiry removed %d", n)
	}

	clock.Advance(time.Second)
	if !store.IsExpired(old) {
		t.Fatal("session not expired past the threshold")
	}
	n, err := store.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep = (%d, %v), want (1, nil)", n, err)
	}
	if _, err := store.Get("old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(old) err = %v, want ErrNotFound", err)
	}
	if _, err := store.Get("new"); err != nil {
		t.Errorf("Get(new) err = %v", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := newTestMemoryStore(newFakeClock())
	ctx := context.Background()
	store.GetOrCreate(ctx, "id", "256700000001")
	if err := store.Delete(ctx, "id"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "id"); err != nil {
		t.Errorf("second Delete err = %v", err)
	}
	if n, _ := store.Len(ctx); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}

func TestMemoryStore_RequiresID(t *testing.T) {
	store := newTestMemoryStore(newFakeClock())
	if _, err := store.GetOrCreate(context.Background(), "", "256700000001"); err == nil {
		t.Error("GetOrCreate with empty id succeeded")
	}
	if err := store.Put(context.Background(), Session{}); err == nil {
		t.Error("Put with empty id succeeded")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := newTestMemoryStore(newFakeClock())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i%10)
			s, err := store.GetOrCreate(ctx, id, "256700000001")
			if err != nil {
				t.Error(err)
				return
			}
			store.Put(ctx, s.Next(1))
			store.Sweep(ctx)
		}()
	}
	wg.Wait()
	if n, _ := store.Len(ctx); n != 10 {
		t.Errorf("Len = %d, want 10", n)
	}
}
