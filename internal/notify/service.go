package notify

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "CalPilot/internal/errors"
	"CalPilot/pkg/logger"
)

// Service 封装通知的入库与发布，写库成功后再投递队列，保证至少一次处理。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// ServiceOption 定义可选的 Service 配置。
type ServiceOption func(*Service)

// WithMaxRetries 设置通知的默认最大重试次数。
func WithMaxRetries(retries int) ServiceOption {
	return func(s *Service) {
		if retries > 0 {
			s.maxRetries = retries
		}
	}
}

// NewService 创建通知服务。
func NewService(store Store, producer Producer, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		producer:   producer,
		maxRetries: 3,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Enqueue 入库并发布一条通知。相同 DedupeKey 的重复入队会被静默忽略。
func (s *Service) Enqueue(ctx context.Context, n *Notification) error {
	if s.store == nil || s.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "通知服务未初始化")
	}
	if n.MaxRetries <= 0 {
		n.MaxRetries = s.maxRetries
	}
	if err := s.store.Create(ctx, n); err != nil {
		if stdErrors.Is(err, ErrDuplicateNotification) {
			logger.Named("notify").Debug("忽略重复通知", slog.String("dedupe_key", n.DedupeKey))
			return nil
		}
		return err
	}
	if err := s.producer.Publish(ctx, n.ID); err != nil {
		// 入库成功但发布失败，标记为待重投，由提醒扫描或人工补偿。
		_ = s.store.MarkFailed(ctx, n.ID, string(CodeNotifyPublish), err.Error(), false)
		return xerrors.Wrap(CodeNotifyPublish, err, "发布通知失败")
	}
	return nil
}

// PublishBriefing 把一份日程简报作为通知投递，同一用户同一天只投递一次。
func (s *Service) PublishBriefing(ctx context.Context, userID, text string) error {
	day := time.Now().Format("2006-01-02")
	return s.Enqueue(ctx, &Notification{
		UserID:    userID,
		Kind:      KindBriefing,
		Title:     "Daily briefing",
		Body:      text,
		DedupeKey: fmt.Sprintf("briefing:%s:%s", userID, day),
	})
}

// List 返回用户的通知列表。
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Notification, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "通知服务未初始化")
	}
	return s.store.List(ctx, opts)
}

// Get 返回单条通知。
func (s *Service) Get(ctx context.Context, id string) (*Notification, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "通知服务未初始化")
	}
	return s.store.Get(ctx, id)
}
