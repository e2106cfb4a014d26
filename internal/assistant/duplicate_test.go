package assistant

import (
	"context"
	"testing"
	"time"

	"CalPilot/internal/event"
)

func TestDuplicateScoreIdenticalEvents(t *testing.T) {
	start := time.Now().Add(24 * time.Hour).Unix()
	a := &event.Event{Title: "Team Sync", StartAt: start, Location: "Room 2"}
	b := &event.Event{Title: "Team Sync", StartAt: start, Location: "Room 2"}

	if score := duplicateScore(a, b); score < 0.999 {
		t.Fatalf("identical events should score 1, got %v", score)
	}
}

func TestDuplicateScoreDecaysWithTime(t *testing.T) {
	start := time.Now().Add(24 * time.Hour)
	a := &event.Event{Title: "Team Sync", StartAt: start.Unix()}
	near := &event.Event{Title: "Team Sync", StartAt: start.Add(30 * time.Minute).Unix()}
	far := &event.Event{Title: "Team Sync", StartAt: start.Add(3 * time.Hour).Unix()}

	nearScore := duplicateScore(a, near)
	farScore := duplicateScore(a, far)
	if nearScore <= farScore {
		t.Fatalf("closer event should score higher: near=%v far=%v", nearScore, farScore)
	}
	// 超过两小时后时间分量应当归零：0.5*1 + 0.3*0 + 0.2*0.5 = 0.6
	if farScore < 0.599 || farScore > 0.601 {
		t.Fatalf("expected 0.6 for distant same-title event, got %v", farScore)
	}
}

func TestTitleSimilarityPartialOverlap(t *testing.T) {
	score := titleSimilarity("weekly team sync", "team sync")
	if score <= 0.5 || score >= 1 {
		t.Fatalf("partial overlap should land between 0.5 and 1, got %v", score)
	}
	if disjoint := titleSimilarity("dentist", "quarterly review"); disjoint > 0.3 {
		t.Fatalf("disjoint titles should score low, got %v", disjoint)
	}
}

func TestTitleSimilarityToleratesTypos(t *testing.T) {
	// 分词 Jaccard 对单词内的拼写差异无能为力，编辑距离分量要把它补上。
	score := titleSimilarity("Quarterly planning", "Quartely planning")
	if score < 0.9 {
		t.Fatalf("typo variant should stay close to 1, got %v", score)
	}
}

func TestDetectDuplicateWarnsOnTypoVariantTitle(t *testing.T) {
	store := event.NewMemoryStore()
	ctx := context.Background()
	start := time.Now().Add(24 * time.Hour)

	existing := &event.Event{
		UserID:   "u1",
		Title:    "Quarterly planning",
		Location: "Room 4",
		StartAt:  start.Unix(),
		EndAt:    start.Add(time.Hour).Unix(),
	}
	existing.Normalize()
	if err := store.Create(ctx, existing); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	candidate := &event.Event{
		UserID:   "u1",
		Title:    "Quartely planning",
		Location: "Room 4",
		StartAt:  start.Unix(),
		EndAt:    start.Add(time.Hour).Unix(),
	}
	warning, err := detectDuplicate(ctx, store, candidate)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if warning == nil {
		t.Fatalf("expected a duplicate warning for a typo-variant title")
	}
	if warning.EventID != existing.ID || warning.Score < duplicateThreshold {
		t.Fatalf("unexpected warning: %+v", warning)
	}
}

func TestDetectDuplicateWarnsAboveThreshold(t *testing.T) {
	store := event.NewMemoryStore()
	ctx := context.Background()
	start := time.Now().Add(24 * time.Hour)

	existing := &event.Event{
		UserID:  "u1",
		Title:   "Design Review",
		StartAt: start.Unix(),
		EndAt:   start.Add(time.Hour).Unix(),
	}
	existing.Normalize()
	if err := store.Create(ctx, existing); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	candidate := &event.Event{
		UserID:  "u1",
		Title:   "Design Review",
		StartAt: start.Add(15 * time.Minute).Unix(),
		EndAt:   start.Add(75 * time.Minute).Unix(),
	}
	warning, err := detectDuplicate(ctx, store, candidate)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if warning == nil {
		t.Fatalf("expected a duplicate warning")
	}
	if warning.EventID != existing.ID || warning.Score < duplicateThreshold {
		t.Fatalf("unexpected warning: %+v", warning)
	}
}

func TestDetectDuplicateIgnoresDistantEvents(t *testing.T) {
	store := event.NewMemoryStore()
	ctx := context.Background()
	start := time.Now().Add(24 * time.Hour)

	existing := &event.Event{
		UserID:  "u1",
		Title:   "Design Review",
		StartAt: start.Add(-48 * time.Hour).Unix(),
		EndAt:   start.Add(-47 * time.Hour).Unix(),
	}
	existing.Normalize()
	if err := store.Create(ctx, existing); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	candidate := &event.Event{
		UserID:  "u1",
		Title:   "Design Review",
		StartAt: start.Unix(),
		EndAt:   start.Add(time.Hour).Unix(),
	}
	warning, err := detectDuplicate(ctx, store, candidate)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if warning != nil {
		t.Fatalf("events outside the window should not warn: %+v", warning)
	}
}
