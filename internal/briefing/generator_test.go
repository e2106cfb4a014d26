package briefing

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"CalPilot/internal/event"
	"CalPilot/internal/llm"
)

type stubLLM struct {
	resp string
	err  error
}

func (s *stubLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.resp}, nil
}

func seedDay(t *testing.T, store event.Store, userID string, day time.Time) {
	t.Helper()
	for i, title := range []string{"standup", "design review"} {
		ev := &event.Event{
			UserID:   userID,
			Title:    title,
			StartAt:  day.Add(time.Duration(9+i*3) * time.Hour).Unix(),
			EndAt:    day.Add(time.Duration(10+i*3) * time.Hour).Unix(),
			Timezone: "UTC",
		}
		ev.Normalize()
		if err := store.Create(context.Background(), ev); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

func TestDailyBriefingUsesLLMPhrasing(t *testing.T) {
	store := event.NewMemoryStore()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, "u1", day)

	g := NewGenerator(store, &stubLLM{resp: "Good morning! Two meetings today, starting with standup at nine."}, WithLocation(time.UTC))
	text, err := g.DailyBriefing(context.Background(), "u1", day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "Good morning") {
		t.Fatalf("llm phrasing not used: %q", text)
	}
}

func TestDailyBriefingDegradesToFactSheet(t *testing.T) {
	store := event.NewMemoryStore()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, "u1", day)

	g := NewGenerator(store, &stubLLM{err: fmt.Errorf("model down")}, WithLocation(time.UTC))
	text, err := g.DailyBriefing(context.Background(), "u1", day)
	if err != nil {
		t.Fatalf("llm failure must not fail the briefing: %v", err)
	}
	if !strings.Contains(text, "standup") || !strings.Contains(text, "design review") {
		t.Fatalf("fact sheet missing events: %q", text)
	}
	if !strings.Contains(text, "2 event(s)") {
		t.Fatalf("fact sheet missing count: %q", text)
	}
}

func TestDailyBriefingEmptyDay(t *testing.T) {
	store := event.NewMemoryStore()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	g := NewGenerator(store, nil, WithLocation(time.UTC))
	text, err := g.DailyBriefing(context.Background(), "u1", day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "no events") {
		t.Fatalf("unexpected empty-day briefing: %q", text)
	}
}

func TestDailyBriefingRequiresUser(t *testing.T) {
	g := NewGenerator(event.NewMemoryStore(), nil)
	if _, err := g.DailyBriefing(context.Background(), " ", time.Now()); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestBuildFactSheetMentionsLongestGap(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	events := []*event.Event{
		{Title: "standup", StartAt: day.Add(9 * time.Hour).Unix(), EndAt: day.Add(10 * time.Hour).Unix()},
		{Title: "wrap-up", StartAt: day.Add(17 * time.Hour).Unix(), EndAt: day.Add(18 * time.Hour).Unix()},
	}
	sheet := buildFactSheet(events, day, time.UTC)
	if !strings.Contains(sheet, "Longest free stretch: 7h from 10:00") {
		t.Fatalf("gap hint missing: %q", sheet)
	}
}
