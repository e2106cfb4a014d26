package assistant

import (
	"context"
	"sort"
	"time"

	"CalPilot/internal/event"
)

const (
	// workdayStartHour 和 workdayEndHour 界定空闲时段扫描的工作时间窗口。
	workdayStartHour = 9
	workdayEndHour   = 18
	// maxSuggestedSlots 限制一次返回的空闲时段数量。
	maxSuggestedSlots = 3
)

// TimeSlot 是一个可用的空闲时段。
type TimeSlot struct {
	StartAt int64 `json:"start_at"`
	EndAt   int64 `json:"end_at"`
}

// findFreeSlots 在指定日期的工作时间内确定性地扫描空闲时段。
// 已取消的事件不占用时间；返回最早的若干个满足时长的空档。
func findFreeSlots(ctx context.Context, store event.Store, userID string, day time.Time, duration time.Duration, now time.Time, loc *time.Location) ([]TimeSlot, error) {
	if duration <= 0 {
		duration = defaultEventDuration
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), workdayStartHour, 0, 0, 0, loc)
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), workdayEndHour, 0, 0, 0, loc)
	if !now.Before(dayEnd) {
		return nil, nil
	}
	// 今天的空档从当前时刻之后算起，对齐到下一个一刻钟。
	if now.After(dayStart) {
		dayStart = now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	}

	events, err := store.List(ctx, event.BuildListOptions([]event.ListOption{
		event.ForUser(userID),
		event.WithWindow(dayStart.Add(-24*time.Hour), dayEnd),
		event.WithStatuses(event.StatusConfirmed, event.StatusTentative),
	}))
	if err != nil {
		return nil, err
	}

	busy := mergeBusyIntervals(events, dayStart, dayEnd)

	slots := make([]TimeSlot, 0, maxSuggestedSlots)
	cursor := dayStart
	for _, interval := range busy {
		if interval.start.Sub(cursor) >= duration {
			slots = append(slots, TimeSlot{StartAt: cursor.Unix(), EndAt: cursor.Add(duration).Unix()})
			if len(slots) >= maxSuggestedSlots {
				return slots, nil
			}
		}
		if interval.end.After(cursor) {
			cursor = interval.end
		}
	}
	if dayEnd.Sub(cursor) >= duration && len(slots) < maxSuggestedSlots {
		slots = append(slots, TimeSlot{StartAt: cursor.Unix(), EndAt: cursor.Add(duration).Unix()})
	}
	return slots, nil
}

type busyInterval struct {
	start time.Time
	end   time.Time
}

// mergeBusyIntervals 把与窗口相交的事件裁剪到窗口内并合并重叠区间。
func mergeBusyIntervals(events []*event.Event, windowStart, windowEnd time.Time) []busyInterval {
	intervals := make([]busyInterval, 0, len(events))
	for _, ev := range events {
		start := time.Unix(ev.StartAt, 0)
		end := time.Unix(ev.EndAt, 0)
		if !end.After(windowStart) || !start.Before(windowEnd) {
			continue
		}
		if start.Before(windowStart) {
			start = windowStart
		}
		if end.After(windowEnd) {
			end = windowEnd
		}
		intervals = append(intervals, busyInterval{start: start, end: end})
	}

	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].start.Before(intervals[j].start)
	})

	merged := make([]busyInterval, 0, len(intervals))
	for _, interval := range intervals {
		if len(merged) > 0 && !interval.start.After(merged[len(merged)-1].end) {
			if interval.end.After(merged[len(merged)-1].end) {
				merged[len(merged)-1].end = interval.end
			}
			continue
		}
		merged = append(merged, interval)
	}
	return merged
}
