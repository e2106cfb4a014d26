package notify

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "CalPilot/internal/errors"
	"CalPilot/internal/observability/alerting"
	"CalPilot/internal/observability/metrics"
	"CalPilot/pkg/logger"
)

// Sender 负责把通知真正送达用户，由具体渠道实现。
type Sender interface {
	Deliver(ctx context.Context, n *Notification) error
}

// Processor 负责从队列消费通知并交给渠道投递。
type Processor struct {
	sender      Sender
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(sender Sender, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		sender:      sender,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动通知处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置通知消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, notificationID string) error {
	if p.store == nil || p.sender == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	n, err := p.store.Claim(ctx, notificationID)
	if err != nil {
		if stdErrors.Is(err, ErrNotificationNotFound) || stdErrors.Is(err, ErrNotificationDelivered) || stdErrors.Is(err, ErrNotificationExhausted) {
			p.logDebug("跳过通知", slog.String("notification_id", notificationID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取通知失败", slog.Any("error", err), slog.String("notification_id", notificationID))
		p.emitAlert(ctx, &Notification{ID: notificationID}, CodeNotifyDelivery, err, "claim")
		return err
	}

	if deliverErr := p.sender.Deliver(ctx, n); deliverErr != nil {
		return p.handleDeliveryFailure(ctx, n, deliverErr)
	}

	if err := p.store.MarkDelivered(ctx, n.ID); err != nil {
		logger.L().Error("标记通知投递成功失败", slog.Any("error", err), slog.String("notification_id", n.ID))
		if storeErr := p.store.MarkFailed(ctx, n.ID, string(CodeNotifyDelivery), err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("notification_id", n.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, n.ID); pubErr != nil {
			return xerrors.Wrap(CodeNotifyPublish, pubErr, fmt.Sprintf("通知 %s 在标记成功失败后重投失败", n.ID))
		}
		return nil
	}
	metrics.ObserveNotification("delivered")
	logger.Audit().Info("通知投递成功",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("kind", string(n.Kind)),
	)
	return nil
}

func (p *Processor) handleDeliveryFailure(ctx context.Context, n *Notification, deliverErr error) error {
	code := xerrors.CodeOf(deliverErr)
	if code == xerrors.CodeUnknown {
		code = CodeNotifyDelivery
	}
	retryable := xerrors.RetryableError(deliverErr) || code == CodeNotifyDelivery
	terminal := n.Attempts >= n.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, n.ID, string(code), deliverErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记通知失败状态出错", slog.Any("error", storeErr), slog.String("notification_id", n.ID))
		return storeErr
	}
	logger.Audit().Warn("通知投递失败",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.Bool("terminal", terminal),
		slog.String("error", deliverErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", n.Attempts),
		slog.Int("max_retries", n.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	metrics.ObserveNotification(stage)
	p.emitAlert(ctx, n, code, deliverErr, stage)

	if !terminal {
		if pubErr := p.producer.Publish(ctx, n.ID); pubErr != nil {
			return xerrors.Wrap(CodeNotifyPublish, pubErr, fmt.Sprintf("通知 %s 重投失败", n.ID))
		}
		p.logDebug("通知已重新排队", slog.String("notification_id", n.ID), slog.Int("attempts", n.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, n *Notification, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || n == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:           code,
		Message:        message,
		Severity:       attrs.Severity,
		NotificationID: n.ID,
		UserID:         n.UserID,
		Attempts:       n.Attempts,
		MaxRetries:     n.MaxRetries,
		Metadata:       metadata,
		OccurredAt:     time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("notification_id", n.ID),
			slog.String("stage", stage),
		)
	}
}
