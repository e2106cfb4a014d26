package assistant

import (
	"context"
	"testing"
	"time"

	"CalPilot/internal/event"
)

func mustCreate(t *testing.T, store event.Store, ev *event.Event) {
	t.Helper()
	ev.Normalize()
	if err := store.Create(context.Background(), ev); err != nil {
		t.Fatalf("create failed: %v", err)
	}
}

func TestFindFreeSlotsEmptyDay(t *testing.T) {
	store := event.NewMemoryStore()
	loc := time.UTC
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, loc)
	now := day.Add(-12 * time.Hour)

	slots, err := findFreeSlots(context.Background(), store, "u1", day, time.Hour, now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected the whole morning as one slot, got %d", len(slots))
	}
	start := time.Unix(slots[0].StartAt, 0).In(loc)
	if start.Hour() != workdayStartHour {
		t.Fatalf("slot should start at working hours, got %s", start)
	}
}

func TestFindFreeSlotsAroundBusyBlocks(t *testing.T) {
	store := event.NewMemoryStore()
	loc := time.UTC
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, loc)
	now := day.Add(-12 * time.Hour)

	// 10:00-11:00 与 14:00-15:30 被占用。
	mustCreate(t, store, &event.Event{
		UserID: "u1", Title: "standup",
		StartAt: day.Add(10 * time.Hour).Unix(),
		EndAt:   day.Add(11 * time.Hour).Unix(),
	})
	mustCreate(t, store, &event.Event{
		UserID: "u1", Title: "review",
		StartAt: day.Add(14 * time.Hour).Unix(),
		EndAt:   day.Add(15*time.Hour + 30*time.Minute).Unix(),
	})

	slots, err := findFreeSlots(context.Background(), store, "u1", day, time.Hour, now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 suggestions, got %d: %+v", len(slots), slots)
	}
	first := time.Unix(slots[0].StartAt, 0).In(loc)
	if first.Hour() != 9 {
		t.Fatalf("first slot should be 09:00, got %s", first)
	}
	second := time.Unix(slots[1].StartAt, 0).In(loc)
	if second.Hour() != 11 {
		t.Fatalf("second slot should follow the standup, got %s", second)
	}
}

func TestFindFreeSlotsIgnoresCancelled(t *testing.T) {
	store := event.NewMemoryStore()
	loc := time.UTC
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, loc)
	now := day.Add(-12 * time.Hour)

	blocker := &event.Event{
		UserID: "u1", Title: "cancelled block",
		StartAt: day.Add(9 * time.Hour).Unix(),
		EndAt:   day.Add(18 * time.Hour).Unix(),
		Status:  event.StatusCancelled,
	}
	mustCreate(t, store, blocker)

	slots, err := findFreeSlots(context.Background(), store, "u1", day, time.Hour, now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) == 0 {
		t.Fatalf("cancelled events should not block free slots")
	}
}

func TestFindFreeSlotsFullyBooked(t *testing.T) {
	store := event.NewMemoryStore()
	loc := time.UTC
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, loc)
	now := day.Add(-12 * time.Hour)

	mustCreate(t, store, &event.Event{
		UserID: "u1", Title: "offsite",
		StartAt: day.Add(8 * time.Hour).Unix(),
		EndAt:   day.Add(19 * time.Hour).Unix(),
	})

	slots, err := findFreeSlots(context.Background(), store, "u1", day, time.Hour, now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots on a fully booked day, got %+v", slots)
	}
}

func TestFindFreeSlotsSkipsPastHours(t *testing.T) {
	store := event.NewMemoryStore()
	loc := time.UTC
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, loc)
	now := day.Add(13 * time.Hour) // 当天 13:00

	slots, err := findFreeSlots(context.Background(), store, "u1", day, time.Hour, now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) == 0 {
		t.Fatalf("expected afternoon slots")
	}
	if start := time.Unix(slots[0].StartAt, 0).In(loc); start.Before(now) {
		t.Fatalf("slot must not start in the past: %s < %s", start, now)
	}
}
