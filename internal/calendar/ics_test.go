package calendar

import (
	"strings"
	"testing"
	"time"

	"CalPilot/internal/event"
)

func testEvent(id, title string, start time.Time, duration time.Duration) *event.Event {
	ev := &event.Event{
		ID:       id,
		UserID:   "u1",
		Title:    title,
		StartAt:  start.Unix(),
		EndAt:    start.Add(duration).Unix(),
		Timezone: "UTC",
	}
	ev.Normalize()
	return ev
}

func TestExportICSContainsEvents(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	events := []*event.Event{
		testEvent("e1", "Design review", start, time.Hour),
		testEvent("e2", "1:1 with lead", start.Add(2*time.Hour), 30*time.Minute),
	}
	events[1].Location = "Room 4"

	out, err := ExportICS(events, ExportOptions{CalendarName: "Work"})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"X-WR-CALNAME:Work",
		"SUMMARY:Design review",
		"SUMMARY:1:1 with lead",
		"LOCATION:Room 4",
		"UID:e1@calpilot",
		"DTSTART:20260302T140000Z",
		"END:VCALENDAR",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
}

func TestExportICSKeepsRawRRule(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := testEvent("e1", "Standup", start, 15*time.Minute)
	ev.Recurrence = "FREQ=WEEKLY;BYDAY=MO,WE,FR"

	out, err := ExportICS([]*event.Event{ev}, ExportOptions{})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.Contains(out, "RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR") {
		t.Fatalf("export should carry the recurrence rule:\n%s", out)
	}
}

func TestExportICSExpandsRecurringEvents(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := testEvent("e1", "Standup", start, 15*time.Minute)
	ev.Recurrence = "FREQ=DAILY;COUNT=10"

	out, err := ExportICS([]*event.Event{ev}, ExportOptions{
		ExpandRecurring: true,
		From:            time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		To:              time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if got := strings.Count(out, "BEGIN:VEVENT"); got != 3 {
		t.Fatalf("expected 3 expanded instances, got %d:\n%s", got, out)
	}
	if strings.Contains(out, "RRULE") {
		t.Fatalf("expanded export must not carry RRULE:\n%s", out)
	}
}

func TestOccurrencesExpandsWithinWindow(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := testEvent("e1", "Standup", start, 15*time.Minute)
	ev.Recurrence = "FREQ=WEEKLY"

	occs, err := Occurrences(ev,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if len(occs) != 5 {
		t.Fatalf("expected 5 weekly occurrences in March, got %d", len(occs))
	}
	if occs[0].StartAt != start.Unix() {
		t.Fatalf("first occurrence should be the original start, got %d", occs[0].StartAt)
	}
	if occs[1].StartAt != start.AddDate(0, 0, 7).Unix() {
		t.Fatalf("second occurrence should be one week later, got %d", occs[1].StartAt)
	}
	if occs[0].EndAt-occs[0].StartAt != int64(15*60) {
		t.Fatalf("occurrence should keep the event duration")
	}
}

func TestOccurrencesWithoutRuleReturnsSingle(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := testEvent("e1", "One-off", start, time.Hour)

	occs, err := Occurrences(ev, start.AddDate(0, 0, -1), start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if len(occs) != 1 || occs[0].StartAt != ev.StartAt {
		t.Fatalf("unexpected occurrences: %+v", occs)
	}
}

func TestOccurrencesRejectsBadRule(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := testEvent("e1", "Broken", start, time.Hour)
	ev.Recurrence = "FREQ=SOMETIMES"

	if _, err := Occurrences(ev, start, start.AddDate(0, 1, 0)); err == nil {
		t.Fatal("invalid rule should fail")
	}
}
