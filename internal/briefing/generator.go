package briefing

import (
	"context"
	"fmt"
	"strings"
	"time"

	xerrors "CalPilot/internal/errors"
	"CalPilot/internal/event"
	"CalPilot/internal/llm"
	"CalPilot/pkg/logger"
)

// briefingSystemPrompt 要求模型把事实清单改写成简短自然的晨间简报。
const briefingSystemPrompt = `You are a calendar assistant writing a short morning briefing.
Rewrite the fact sheet below into 2-4 friendly sentences.
Mention the number of events, the first event's time, and any gaps worth noting.
Do not invent events that are not in the fact sheet. Reply in plain text.`

// Generator 汇总某个用户一天的日程并生成自然语言简报。
// 大模型不可用时退回确定性的事实清单，保证简报永远可用。
type Generator struct {
	events     event.Store
	llmClient  llm.Client
	llmTimeout time.Duration
	location   *time.Location
}

// Option 定义可选的 Generator 配置。
type Option func(*Generator)

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(g *Generator) {
		if timeout > 0 {
			g.llmTimeout = timeout
		}
	}
}

// WithLocation 设置格式化时间时使用的默认时区。
func WithLocation(loc *time.Location) Option {
	return func(g *Generator) {
		if loc != nil {
			g.location = loc
		}
	}
}

// NewGenerator 创建简报生成器。llmClient 可以为空，此时只输出事实清单。
func NewGenerator(events event.Store, llmClient llm.Client, opts ...Option) *Generator {
	g := &Generator{
		events:     events,
		llmClient:  llmClient,
		llmTimeout: 30 * time.Second,
		location:   time.Local,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// DailyBriefing 生成指定用户某一天的日程简报。
func (g *Generator) DailyBriefing(ctx context.Context, userID string, day time.Time) (string, error) {
	if g.events == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置事件存储")
	}
	if strings.TrimSpace(userID) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "缺少用户标识")
	}

	loc := g.location
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	events, err := g.events.List(ctx, event.BuildListOptions([]event.ListOption{
		event.ForUser(userID),
		event.WithWindow(dayStart, dayEnd.Add(-time.Second)),
		event.WithStatuses(event.StatusConfirmed, event.StatusTentative),
	}))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取当日日程失败")
	}

	factSheet := buildFactSheet(events, dayStart, loc)
	if g.llmClient == nil {
		return factSheet, nil
	}

	llmCtx := ctx
	if g.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, g.llmTimeout)
		defer cancel()
	}
	resp, err := g.llmClient.Complete(llmCtx, llm.Request{
		System: briefingSystemPrompt,
		Prompt: factSheet,
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		// 模型失败时退回事实清单，简报不允许整体失败。
		logger.Named("briefing").Warn("简报润色失败，返回事实清单", "error", err)
		return factSheet, nil
	}
	return strings.TrimSpace(resp.Text), nil
}

// buildFactSheet 生成确定性的日程事实清单，同时作为模型输入和降级输出。
func buildFactSheet(events []*event.Event, day time.Time, loc *time.Location) string {
	if len(events) == 0 {
		return fmt.Sprintf("%s: no events scheduled. Enjoy the open day.", day.Format("Monday, Jan 2"))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d event(s).\n", day.Format("Monday, Jan 2"), len(events))
	for _, ev := range events {
		start := time.Unix(ev.StartAt, 0).In(loc)
		if ev.AllDay {
			fmt.Fprintf(&sb, "- all day: %s", ev.Title)
		} else {
			end := time.Unix(ev.EndAt, 0).In(loc)
			fmt.Fprintf(&sb, "- %s-%s: %s", start.Format("15:04"), end.Format("15:04"), ev.Title)
		}
		if ev.Location != "" {
			fmt.Fprintf(&sb, " @ %s", ev.Location)
		}
		sb.WriteString("\n")
	}
	if gap := longestGap(events, day, loc); gap != "" {
		fmt.Fprintf(&sb, "Longest free stretch: %s.", gap)
	}
	return strings.TrimSpace(sb.String())
}

// longestGap 找出工作时间内最长的空档，用于提示用户可用的整块时间。
func longestGap(events []*event.Event, day time.Time, loc *time.Location) string {
	workStart := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, loc)
	workEnd := time.Date(day.Year(), day.Month(), day.Day(), 18, 0, 0, 0, loc)

	cursor := workStart
	var bestStart time.Time
	var best time.Duration
	for _, ev := range events {
		if ev.AllDay {
			return ""
		}
		start := time.Unix(ev.StartAt, 0).In(loc)
		end := time.Unix(ev.EndAt, 0).In(loc)
		if !end.After(workStart) || !start.Before(workEnd) {
			continue
		}
		if gap := start.Sub(cursor); gap > best {
			best = gap
			bestStart = cursor
		}
		if end.After(cursor) {
			cursor = end
		}
	}
	if gap := workEnd.Sub(cursor); gap > best {
		best = gap
		bestStart = cursor
	}
	if best < time.Hour {
		return ""
	}
	return fmt.Sprintf("%s from %s", formatDuration(best), bestStart.Format("15:04"))
}

func formatDuration(d time.Duration) string {
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	if hours == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%02dm", hours, minutes)
}
