package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreSaveAndLoad(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Minute)
	defer store.Close()
	ctx := context.Background()

	sess := &Session{ID: "s1", UserID: "u1"}
	sess.AppendTurn(Turn{Role: RoleUser, Content: "hi"}, 10)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got.Turns) != 1 || got.Turns[0].Content != "hi" {
		t.Fatalf("unexpected session: %+v", got)
	}

	// 返回值必须是副本。
	got.Turns[0].Content = "mutated"
	again, _ := store.Load(ctx, "s1")
	if again.Turns[0].Content != "hi" {
		t.Fatalf("store returned shared reference")
	}
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Minute)
	defer store.Close()

	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreExpiryAtRead(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Hour)
	defer store.Close()
	ctx := context.Background()

	sess := &Session{ID: "s1", UserID: "u1"}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// 手动把过期时间拨到过去，清扫协程还没运行时读取也必须失效。
	store.mu.Lock()
	store.sessions["s1"].ExpiresAt = time.Now().Add(-time.Second).Unix()
	store.mu.Unlock()

	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to be gone, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expired session should be evicted on read")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Hour)
	defer store.Close()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, &Session{ID: id, UserID: "u1"}); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}
	store.mu.Lock()
	store.sessions["a"].ExpiresAt = time.Now().Add(-time.Second).Unix()
	store.sessions["b"].ExpiresAt = time.Now().Add(-time.Second).Unix()
	store.mu.Unlock()

	if removed := store.sweepExpired(time.Now()); removed != 2 {
		t.Fatalf("expected 2 evictions, got %d", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 surviving session, got %d", store.Len())
	}
}

func TestSessionAppendTurnTrims(t *testing.T) {
	sess := &Session{ID: "s1"}
	for i := 0; i < 6; i++ {
		sess.AppendTurn(Turn{Role: RoleUser, Content: "m"}, 4)
	}
	if len(sess.Turns) != 4 {
		t.Fatalf("expected history trimmed to 4, got %d", len(sess.Turns))
	}
}

func TestSessionSaveRefreshesExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Hour)
	defer store.Close()
	ctx := context.Background()

	sess := &Session{ID: "s1", UserID: "u1"}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	first := sess.ExpiresAt

	store.mu.Lock()
	store.sessions["s1"].ExpiresAt = time.Now().Add(time.Second).Unix()
	store.mu.Unlock()

	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.ExpiresAt < first {
		t.Fatalf("expiry should be extended on save")
	}
}
