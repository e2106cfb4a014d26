package briefing

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	xerrors "CalPilot/internal/errors"
	"CalPilot/pkg/logger"
)

// UserSource 提供需要接收每日简报的用户列表。
type UserSource interface {
	ActiveUserIDs(ctx context.Context) ([]string, error)
}

// Publisher 负责把生成好的简报投递出去，通常接到通知队列上。
type Publisher interface {
	PublishBriefing(ctx context.Context, userID, text string) error
}

// Scheduler 按 cron 表达式定时为所有活跃用户生成并投递简报。
type Scheduler struct {
	generator *Generator
	users     UserSource
	publisher Publisher
	spec      string
	location  *time.Location

	cron    *cron.Cron
	entryID cron.EntryID
}

// NewScheduler 创建简报调度器。spec 使用标准五段 cron 表达式。
func NewScheduler(generator *Generator, users UserSource, publisher Publisher, spec string, loc *time.Location) (*Scheduler, error) {
	if generator == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置简报生成器")
	}
	if spec == "" {
		spec = "0 7 * * *"
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		generator: generator,
		users:     users,
		publisher: publisher,
		spec:      spec,
		location:  loc,
		cron:      cron.New(cron.WithLocation(loc)),
	}, nil
}

// Start 注册定时任务并启动调度。
func (s *Scheduler) Start() error {
	entryID, err := s.cron.AddFunc(s.spec, s.runOnce)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册简报定时任务失败")
	}
	s.entryID = entryID
	s.cron.Start()
	logger.Named("briefing").Info("简报调度已启动", "spec", s.spec)
	return nil
}

// Stop 停止调度并等待在途任务结束。
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runOnce 为所有活跃用户生成一轮简报。单个用户失败不影响其他用户。
func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if s.users == nil || s.publisher == nil {
		return
	}
	userIDs, err := s.users.ActiveUserIDs(ctx)
	if err != nil {
		logger.Named("briefing").Error("获取简报用户列表失败", "error", err)
		return
	}

	day := time.Now().In(s.location)
	delivered := 0
	for _, userID := range userIDs {
		text, err := s.generator.DailyBriefing(ctx, userID, day)
		if err != nil {
			logger.Named("briefing").Error("生成简报失败", "user_id", userID, "error", err)
			continue
		}
		if err := s.publisher.PublishBriefing(ctx, userID, text); err != nil {
			logger.Named("briefing").Error("投递简报失败", "user_id", userID, "error", err)
			continue
		}
		delivered++
	}
	logger.Named("briefing").Info("简报投递完成", "total", len(userIDs), "delivered", delivered)
}
