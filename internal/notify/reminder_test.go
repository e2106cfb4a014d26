package notify

import (
	"context"
	"testing"
	"time"

	"CalPilot/internal/event"
)

func TestReminderScanEnqueuesUpcomingEvents(t *testing.T) {
	events := event.NewMemoryStore()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	soon := &event.Event{UserID: "u1", Title: "standup", StartAt: now.Add(10 * time.Minute).Unix(), EndAt: now.Add(25 * time.Minute).Unix(), Timezone: "UTC"}
	soon.Normalize()
	if err := events.Create(ctx, soon); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	later := &event.Event{UserID: "u1", Title: "review", StartAt: now.Add(2 * time.Hour).Unix(), EndAt: now.Add(3 * time.Hour).Unix(), Timezone: "UTC"}
	later.Normalize()
	if err := events.Create(ctx, later); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	scanner, err := NewReminderScanner(events, service, 15*time.Minute, "*/5 * * * *", time.UTC,
		WithReminderClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("scanner init failed: %v", err)
	}

	enqueued, err := scanner.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if enqueued != 1 {
		t.Fatalf("only the imminent event should be enqueued, got %d", enqueued)
	}

	list, err := store.List(ctx, ListOptions{UserID: "u1", Kinds: []Kind{KindReminder}})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].EventID != soon.ID {
		t.Fatalf("unexpected reminders: %+v", list)
	}
}

func TestReminderScanIsIdempotent(t *testing.T) {
	events := event.NewMemoryStore()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	soon := &event.Event{UserID: "u1", Title: "standup", StartAt: now.Add(5 * time.Minute).Unix(), EndAt: now.Add(20 * time.Minute).Unix(), Timezone: "UTC"}
	soon.Normalize()
	if err := events.Create(ctx, soon); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	scanner, err := NewReminderScanner(events, service, 15*time.Minute, "", time.UTC,
		WithReminderClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("scanner init failed: %v", err)
	}

	if _, err := scanner.ScanOnce(ctx); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	enqueued, err := scanner.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if enqueued != 0 {
		t.Fatalf("second scan must not enqueue again, got %d", enqueued)
	}

	list, _ := store.List(ctx, ListOptions{UserID: "u1"})
	if len(list) != 1 {
		t.Fatalf("expected one reminder total, got %d", len(list))
	}
}
