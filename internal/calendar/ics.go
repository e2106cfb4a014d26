package calendar

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	xerrors "CalPilot/internal/errors"
	"CalPilot/internal/event"
	"CalPilot/pkg/logger"
)

// maxOccurrencesPerEvent 限制单个周期事件展开出的实例数量。
const maxOccurrencesPerEvent = 366

// ExportOptions 控制 ICS 导出行为。
type ExportOptions struct {
	// CalendarName 写入 X-WR-CALNAME，供日历客户端展示。
	CalendarName string
	// ExpandRecurring 为真时把周期事件展开成窗口内的单次实例，
	// 否则原样输出 RRULE 交给客户端解释。
	ExpandRecurring bool
	From            time.Time
	To              time.Time
}

// ExportICS 把本地事件序列化为 iCalendar 文本。
func ExportICS(events []*event.Event, opts ExportOptions) (string, error) {
	if opts.CalendarName == "" {
		opts.CalendarName = "CalPilot"
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(opts.CalendarName)

	for _, ev := range events {
		if ev == nil {
			continue
		}
		if ev.Recurrence != "" && opts.ExpandRecurring {
			occurrences, err := Occurrences(ev, opts.From, opts.To)
			if err != nil {
				logger.Named("calendar").Warn("周期事件展开失败，按单次导出",
					"event_id", ev.ID, "error", err)
				writeVEvent(cal, ev, ev.ID, ev.StartAt, ev.EndAt, "")
				continue
			}
			for i, occ := range occurrences {
				uid := fmt.Sprintf("%s-%d", ev.ID, i)
				writeVEvent(cal, ev, uid, occ.StartAt, occ.EndAt, "")
			}
			continue
		}
		writeVEvent(cal, ev, ev.ID, ev.StartAt, ev.EndAt, ev.Recurrence)
	}
	return cal.Serialize(), nil
}

func writeVEvent(cal *ical.Calendar, ev *event.Event, uid string, startAt, endAt int64, rawRRule string) {
	ve := cal.AddEvent(uid + "@calpilot")
	ve.SetDtStampTime(time.Unix(ev.UpdatedAt, 0).UTC())

	start := time.Unix(startAt, 0).In(ev.TimeLocation())
	end := time.Unix(endAt, 0).In(ev.TimeLocation())
	if ev.AllDay {
		ve.SetAllDayStartAt(start)
		ve.SetAllDayEndAt(end)
	} else {
		ve.SetStartAt(start.UTC())
		ve.SetEndAt(end.UTC())
	}

	ve.SetSummary(ev.Title)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if rawRRule != "" {
		ve.SetProperty(ical.ComponentPropertyRrule, rawRRule)
	}
	switch ev.Status {
	case event.StatusTentative:
		ve.SetStatus(ical.ObjectStatusTentative)
	case event.StatusCancelled:
		ve.SetStatus(ical.ObjectStatusCancelled)
	default:
		ve.SetStatus(ical.ObjectStatusConfirmed)
	}
}

// Occurrence 是周期事件在窗口内的一次具体发生。
type Occurrence struct {
	StartAt int64
	EndAt   int64
}

// Occurrences 按事件的 RRULE 把周期事件展开成窗口内的单次实例。
// 展开数量受 maxOccurrencesPerEvent 限制，防止无界规则拖垮导出。
func Occurrences(ev *event.Event, from, to time.Time) ([]Occurrence, error) {
	if ev.Recurrence == "" {
		return []Occurrence{{StartAt: ev.StartAt, EndAt: ev.EndAt}}, nil
	}
	if to.Before(from) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "展开窗口无效")
	}

	rule, err := rrule.StrToRRule(ev.Recurrence)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 RRULE 失败")
	}
	loc := ev.TimeLocation()
	start := time.Unix(ev.StartAt, 0).In(loc)
	rule.DTStart(start)

	times := rule.Between(from.In(loc), to.In(loc), true)
	if len(times) > maxOccurrencesPerEvent {
		times = times[:maxOccurrencesPerEvent]
	}

	duration := time.Duration(ev.EndAt-ev.StartAt) * time.Second
	occurrences := make([]Occurrence, 0, len(times))
	for _, occStart := range times {
		occurrences = append(occurrences, Occurrence{
			StartAt: occStart.Unix(),
			EndAt:   occStart.Add(duration).Unix(),
		})
	}
	return occurrences, nil
}
