package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	xerrors "CalPilot/internal/errors"
	"CalPilot/internal/event"
	"CalPilot/pkg/logger"
)

// ReminderScanner 周期性扫描即将开始的事件并入队提醒通知。
// 通知带 DedupeKey，扫描窗口重叠时不会重复提醒。
type ReminderScanner struct {
	events   event.Store
	service  *Service
	lead     time.Duration
	spec     string
	location *time.Location

	cron *cron.Cron
	now  func() time.Time
}

// ReminderOption 定义可选的扫描器配置。
type ReminderOption func(*ReminderScanner)

// WithReminderClock 注入时间源，测试用。
func WithReminderClock(now func() time.Time) ReminderOption {
	return func(r *ReminderScanner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReminderScanner 创建提醒扫描器。
// lead 是提前量，spec 是标准五段 cron 表达式。
func NewReminderScanner(events event.Store, service *Service, lead time.Duration, spec string, loc *time.Location, opts ...ReminderOption) (*ReminderScanner, error) {
	if events == nil || service == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提醒扫描器未配置依赖")
	}
	if lead <= 0 {
		lead = 15 * time.Minute
	}
	if spec == "" {
		spec = "*/5 * * * *"
	}
	if loc == nil {
		loc = time.Local
	}
	r := &ReminderScanner{
		events:   events,
		service:  service,
		lead:     lead,
		spec:     spec,
		location: loc,
		cron:     cron.New(cron.WithLocation(loc)),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Start 注册定时任务并启动调度。
func (r *ReminderScanner) Start() error {
	if _, err := r.cron.AddFunc(r.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := r.ScanOnce(ctx); err != nil {
			logger.Named("notify").Error("提醒扫描失败", "error", err)
		}
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册提醒扫描任务失败")
	}
	r.cron.Start()
	logger.Named("notify").Info("提醒扫描已启动", "spec", r.spec, "lead", r.lead.String())
	return nil
}

// Stop 停止调度并等待在途扫描结束。
func (r *ReminderScanner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// ScanOnce 扫描一轮提醒窗口内的事件，返回新入队的提醒数量。
func (r *ReminderScanner) ScanOnce(ctx context.Context) (int, error) {
	now := r.now()
	events, err := r.events.List(ctx, event.BuildListOptions([]event.ListOption{
		event.WithWindow(now, now.Add(r.lead)),
		event.WithStatuses(event.StatusConfirmed, event.StatusTentative),
	}))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提醒窗口内的事件失败")
	}

	enqueued := 0
	for _, ev := range events {
		start := time.Unix(ev.StartAt, 0).In(r.location)
		n := &Notification{
			UserID:    ev.UserID,
			Kind:      KindReminder,
			Title:     "Upcoming event",
			Body:      fmt.Sprintf("%q starts at %s.", ev.Title, start.Format("15:04")),
			EventID:   ev.ID,
			DedupeKey: fmt.Sprintf("reminder:%s:%d", ev.ID, ev.StartAt),
		}
		if err := r.service.Enqueue(ctx, n); err != nil {
			logger.Named("notify").Error("入队提醒失败", "event_id", ev.ID, "error", err)
			continue
		}
		// 重复入队会被 Enqueue 吞掉，此时 ID 不会被分配。
		if n.ID != "" {
			enqueued++
		}
	}
	return enqueued, nil
}
