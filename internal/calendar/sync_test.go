package calendar

import (
	"context"
	"testing"
	"time"

	"CalPilot/internal/event"
)

type fakeFetcher struct {
	remotes []*RemoteEvent
	err     error
	calls   int
}

func (f *fakeFetcher) FetchEvents(ctx context.Context, from, to time.Time) ([]*RemoteEvent, error) {
	f.calls++
	return f.remotes, f.err
}

func TestSyncOnceUpsertsRemoteEvents(t *testing.T) {
	store := event.NewMemoryStore()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{remotes: []*RemoteEvent{
		{GoogleID: "g1", Title: "Offsite", StartAt: now.Add(time.Hour).Unix(), EndAt: now.Add(3 * time.Hour).Unix()},
		{GoogleID: "g2", Title: "Dentist", StartAt: now.Add(26 * time.Hour).Unix(), EndAt: now.Add(27 * time.Hour).Unix(), Cancelled: true},
		{GoogleID: "", Title: "no id"},
	}}

	syncer, err := NewSyncer(fetcher, store, "u1", "",
		WithSyncClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("syncer init failed: %v", err)
	}

	synced, err := syncer.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if synced != 2 {
		t.Fatalf("expected 2 synced events, got %d", synced)
	}

	events, err := store.List(context.Background(), event.BuildListOptions([]event.ListOption{event.ForUser("u1")}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Source != event.SourceGoogle {
			t.Fatalf("synced event should carry the google source, got %s", ev.Source)
		}
		if ev.GoogleID == "g2" && ev.Status != event.StatusCancelled {
			t.Fatalf("cancelled remote event should map to cancelled status, got %s", ev.Status)
		}
	}
}

func TestSyncOnceIsIdempotent(t *testing.T) {
	store := event.NewMemoryStore()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{remotes: []*RemoteEvent{
		{GoogleID: "g1", Title: "Offsite", StartAt: now.Add(time.Hour).Unix(), EndAt: now.Add(2 * time.Hour).Unix()},
	}}

	syncer, err := NewSyncer(fetcher, store, "u1", "",
		WithSyncClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("syncer init failed: %v", err)
	}

	ctx := context.Background()
	if _, err := syncer.SyncOnce(ctx); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	fetcher.remotes[0].Title = "Offsite (moved)"
	if _, err := syncer.SyncOnce(ctx); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	events, err := store.List(ctx, event.BuildListOptions([]event.ListOption{event.ForUser("u1")}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("re-sync must not duplicate events, got %d", len(events))
	}
	if events[0].Title != "Offsite (moved)" {
		t.Fatalf("re-sync should update the stored event, got %q", events[0].Title)
	}
}

func TestRemoteEventAllDayMapping(t *testing.T) {
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	remote := &RemoteEvent{
		GoogleID: "g9",
		StartAt:  day.Unix(),
		EndAt:    day.AddDate(0, 0, 1).Unix(),
		AllDay:   true,
		Timezone: "UTC",
	}
	ev := remote.ToEvent("u1")
	if ev.Title != "(untitled)" {
		t.Fatalf("empty remote title should map to placeholder, got %q", ev.Title)
	}
	if !ev.AllDay || ev.StartAt != day.Unix() {
		t.Fatalf("all-day flag or boundary lost: %+v", ev)
	}
}
