package calendar

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	xerrors "CalPilot/internal/errors"
	"CalPilot/internal/event"
	"CalPilot/pkg/logger"
)

// Fetcher 抽象远端日历的读取能力，便于测试时替换 Google 客户端。
type Fetcher interface {
	FetchEvents(ctx context.Context, from, to time.Time) ([]*RemoteEvent, error)
}

// Syncer 周期性地把远端日历拉取到本地存储。
// 同步是单向幂等的：按 Google 事件 ID upsert，远端取消映射为本地取消状态。
type Syncer struct {
	fetcher Fetcher
	events  event.Store
	userID  string
	horizon time.Duration
	spec    string

	cron *cron.Cron
	now  func() time.Time
}

// SyncerOption 定义可选的同步器配置。
type SyncerOption func(*Syncer)

// WithSyncHorizon 设置每次同步向未来拉取的时间范围。
func WithSyncHorizon(horizon time.Duration) SyncerOption {
	return func(s *Syncer) {
		if horizon > 0 {
			s.horizon = horizon
		}
	}
}

// WithSyncClock 注入时间源，测试用。
func WithSyncClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSyncer 创建日历同步器。spec 是标准五段 cron 表达式。
func NewSyncer(fetcher Fetcher, events event.Store, userID, spec string, opts ...SyncerOption) (*Syncer, error) {
	if fetcher == nil || events == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "同步器未配置依赖")
	}
	if userID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "同步器缺少用户标识")
	}
	if spec == "" {
		spec = "*/30 * * * *"
	}
	s := &Syncer{
		fetcher: fetcher,
		events:  events,
		userID:  userID,
		horizon: 14 * 24 * time.Hour,
		spec:    spec,
		cron:    cron.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start 注册定时任务并启动调度。
func (s *Syncer) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := s.SyncOnce(ctx); err != nil {
			logger.Named("calendar").Error("日历同步失败", "error", err)
		}
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册日历同步任务失败")
	}
	s.cron.Start()
	logger.Named("calendar").Info("日历同步已启动", "spec", s.spec)
	return nil
}

// Stop 停止调度并等待在途同步结束。
func (s *Syncer) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SyncOnce 执行一轮同步，返回写入的事件数。
// 单条事件失败不会中断整轮同步。
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	now := s.now()
	from := now.Add(-24 * time.Hour)
	to := now.Add(s.horizon)

	remotes, err := s.fetcher.FetchEvents(ctx, from, to)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, remote := range remotes {
		if remote.GoogleID == "" {
			continue
		}
		ev := remote.ToEvent(s.userID)
		ev.Normalize()
		if err := s.events.UpsertByGoogleID(ctx, ev); err != nil {
			logger.Named("calendar").Error("写入远端事件失败",
				"google_id", remote.GoogleID, "error", err)
			continue
		}
		synced++
	}
	logger.Named("calendar").Info("日历同步完成", "fetched", len(remotes), "synced", synced)
	return synced, nil
}
