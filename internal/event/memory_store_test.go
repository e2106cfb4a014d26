package event

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestEvent(userID, title string, start time.Time) *Event {
	return &Event{
		UserID:  userID,
		Title:   title,
		StartAt: start.Unix(),
		EndAt:   start.Add(time.Hour).Unix(),
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ev := newTestEvent("u1", "weekly sync", time.Now().Add(2*time.Hour))
	ev.Normalize()
	if err := store.Create(ctx, ev); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if ev.ID == "" {
		t.Fatalf("expected generated id")
	}

	got, err := store.Get(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Title != "weekly sync" || got.Status != StatusConfirmed {
		t.Fatalf("unexpected event: %+v", got)
	}

	// 修改返回值不应影响存储中的副本。
	got.Title = "mutated"
	again, _ := store.Get(ctx, ev.ID)
	if again.Title != "weekly sync" {
		t.Fatalf("store returned shared reference")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreUpdateAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ev := newTestEvent("u1", "dentist", time.Now().Add(24*time.Hour))
	ev.Normalize()
	if err := store.Create(ctx, ev); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	ev.Location = "3rd floor"
	if err := store.Update(ctx, ev); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ := store.Get(ctx, ev.ID)
	if got.Location != "3rd floor" {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := store.Delete(ctx, ev.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete(ctx, ev.ID); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestMemoryStoreUpsertByGoogleID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ev := newTestEvent("u1", "imported", time.Now().Add(time.Hour))
	ev.Source = SourceGoogle
	ev.GoogleID = "g-123"
	ev.Normalize()
	if err := store.UpsertByGoogleID(ctx, ev); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	firstID := ev.ID

	update := newTestEvent("u1", "imported (moved)", time.Now().Add(3*time.Hour))
	update.Source = SourceGoogle
	update.GoogleID = "g-123"
	update.Normalize()
	if err := store.UpsertByGoogleID(ctx, update); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if update.ID != firstID {
		t.Fatalf("upsert created a new event: %s != %s", update.ID, firstID)
	}

	events, err := store.List(ctx, ListOptions{UserID: "u1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 1 || events[0].Title != "imported (moved)" {
		t.Fatalf("unexpected list result: %+v", events)
	}
}

func TestMemoryStoreListWindowAndOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i, title := range []string{"standup", "lunch", "review"} {
		ev := newTestEvent("u1", title, base.Add(time.Duration(i)*3*time.Hour))
		ev.Normalize()
		if err := store.Create(ctx, ev); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	other := newTestEvent("u2", "other user", base)
	other.Normalize()
	_ = store.Create(ctx, other)

	opts := BuildListOptions([]ListOption{
		ForUser("u1"),
		WithWindow(base, base.Add(4*time.Hour)),
	})
	events, err := store.List(ctx, opts)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events in window, got %d", len(events))
	}
	if events[0].Title != "standup" || events[1].Title != "lunch" {
		t.Fatalf("unexpected order: %s, %s", events[0].Title, events[1].Title)
	}

	desc, _ := store.List(ctx, BuildListOptions([]ListOption{ForUser("u1"), WithSortOrder(SortByStartDesc)}))
	if desc[0].Title != "review" {
		t.Fatalf("descending order not honored: %s", desc[0].Title)
	}
}

func TestMemoryStoreListQuery(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ev := newTestEvent("u1", "Quarterly Planning", time.Now().Add(time.Hour))
	ev.Location = "Room 4A"
	ev.Normalize()
	_ = store.Create(ctx, ev)

	events, err := store.List(ctx, BuildListOptions([]ListOption{ForUser("u1"), WithQuery("room 4a")}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("query should match location, got %d events", len(events))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	past := newTestEvent("u1", "done", now.Add(-2*time.Hour))
	past.Normalize()
	_ = store.Create(ctx, past)

	future := newTestEvent("u1", "soon", now.Add(time.Hour))
	future.Status = StatusTentative
	future.Normalize()
	_ = store.Create(ctx, future)

	cancelled := newTestEvent("u1", "skip", now.Add(2*time.Hour))
	cancelled.Status = StatusCancelled
	cancelled.Normalize()
	_ = store.Create(ctx, cancelled)

	stats, err := store.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Tentative != 1 || stats.Cancelled != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Upcoming != 1 || stats.NextStartAt != future.StartAt {
		t.Fatalf("upcoming accounting wrong: %+v", stats)
	}
}
