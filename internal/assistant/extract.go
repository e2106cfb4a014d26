package assistant

import (
	"strconv"
	"strings"
	"time"

	"CalPilot/internal/event"
)

// defaultEventDuration 是未给出结束时间时的事件时长。
const defaultEventDuration = time.Hour

// eventFromSlots 把路由槽位还原成事件草稿。缺少开始时间时返回 ok=false，
// 由上层决定是否向用户追问。
func eventFromSlots(slots map[string]string, userID string, now time.Time, loc *time.Location) (*event.Event, bool) {
	if len(slots) == 0 {
		return nil, false
	}

	day, dayOK := resolveDate(slots["date"], now, loc)
	clock, clockOK := parseClock(slots["time"])
	if !dayOK && clockOK {
		// 只说了时间没说日期，按最近的将来处理。
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		candidate := day.Add(clock)
		if !candidate.After(now) {
			day = day.AddDate(0, 0, 1)
		}
		dayOK = true
	}
	if !dayOK {
		return nil, false
	}

	ev := &event.Event{
		UserID:      userID,
		Title:       strings.TrimSpace(slots["title"]),
		Description: strings.TrimSpace(slots["description"]),
		Location:    strings.TrimSpace(slots["location"]),
		Timezone:    loc.String(),
		Source:      event.SourceAssistant,
		Status:      event.StatusConfirmed,
	}
	if ev.Title == "" {
		ev.Title = strings.TrimSpace(slots["target"])
	}
	if raw := strings.TrimSpace(slots["attendees"]); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if name := strings.TrimSpace(part); name != "" {
				ev.Attendees = append(ev.Attendees, name)
			}
		}
	}

	if clockOK {
		start := day.Add(clock)
		ev.StartAt = start.Unix()
		if endClock, ok := parseClock(slots["end_time"]); ok && endClock > clock {
			ev.EndAt = day.Add(endClock).Unix()
		} else if minutes := parseMinutes(slots["duration_minutes"]); minutes > 0 {
			ev.EndAt = start.Add(time.Duration(minutes) * time.Minute).Unix()
		} else {
			ev.EndAt = start.Add(defaultEventDuration).Unix()
		}
	} else {
		ev.AllDay = true
		ev.StartAt = day.Unix()
		ev.EndAt = day.AddDate(0, 0, 1).Unix()
	}
	return ev, true
}

// resolveDate 解析日期槽位：支持 YYYY-MM-DD、today/tomorrow 和星期名。
// 星期名取未来最近的一天。
func resolveDate(raw string, now time.Time, loc *time.Location) (time.Time, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return time.Time{}, false
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch raw {
	case "today", "今天":
		return today, true
	case "tomorrow", "明天":
		return today.AddDate(0, 0, 1), true
	case "day after tomorrow", "后天":
		return today.AddDate(0, 0, 2), true
	}

	if weekday, ok := parseWeekday(raw); ok {
		delta := (int(weekday) - int(today.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return today.AddDate(0, 0, delta), true
	}

	if parsed, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return parsed, true
	}
	if parsed, err := time.ParseInLocation("2006/01/02", raw, loc); err == nil {
		return parsed, true
	}
	return time.Time{}, false
}

func parseWeekday(raw string) (time.Weekday, bool) {
	raw = strings.TrimPrefix(raw, "next ")
	switch raw {
	case "monday", "mon":
		return time.Monday, true
	case "tuesday", "tue":
		return time.Tuesday, true
	case "wednesday", "wed":
		return time.Wednesday, true
	case "thursday", "thu":
		return time.Thursday, true
	case "friday", "fri":
		return time.Friday, true
	case "saturday", "sat":
		return time.Saturday, true
	case "sunday", "sun":
		return time.Sunday, true
	default:
		return time.Sunday, false
	}
}

// parseClock 解析 HH:MM，返回相对当日零点的偏移。
func parseClock(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, false
	}
	return time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute, true
}

func parseMinutes(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < 0 {
		return 0
	}
	return minutes
}

// resolveWindow 把查询槽位解析成一个时间窗口，默认当天。
func resolveWindow(slots map[string]string, now time.Time, loc *time.Location) (time.Time, time.Time) {
	from, ok := resolveDate(slots["date"], now, loc)
	if !ok {
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	}
	to := from.AddDate(0, 0, 1)
	if end, ok := resolveDate(slots["date_to"], now, loc); ok && end.After(from) {
		to = end.AddDate(0, 0, 1)
	}
	return from, to
}
