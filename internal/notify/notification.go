package notify

import (
	xerrors "CalPilot/internal/errors"
)

// Status 表示通知在投递生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Kind 区分通知的业务类型。
type Kind string

const (
	KindReminder Kind = "reminder"
	KindBriefing Kind = "briefing"
	KindSystem   Kind = "system"
)

// Notification 描述一条待投递的用户通知。
// DedupeKey 非空时，同键的通知只会入队一次，保证提醒扫描可以反复执行。
type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Kind      Kind   `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	EventID   string `json:"event_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	DedupeKey string `json:"dedupe_key,omitempty"`

	Status     Status `json:"status"`
	Attempts   int    `json:"attempts"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

var (
	// ErrNotificationNotFound 表示指定的通知不存在。
	ErrNotificationNotFound = xerrors.New(CodeNotifyNotFound, "notification not found")
	// ErrNotificationConflict 表示通知在当前状态下无法进行所请求的操作。
	ErrNotificationConflict = xerrors.New(CodeNotifyConflict, "notification conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrNotificationDelivered 表示通知已经投递成功。
	ErrNotificationDelivered = xerrors.New(CodeNotifyDelivered, "notification already delivered", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrNotificationExhausted 表示通知的重试次数已经耗尽。
	ErrNotificationExhausted = xerrors.New(CodeNotifyExhausted, "notification retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrDuplicateNotification 表示同一 DedupeKey 的通知已经存在。
	ErrDuplicateNotification = xerrors.New(CodeNotifyDuplicate, "notification already enqueued", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeNotifyNotFound   xerrors.Code = "NOTIFY_NOT_FOUND"
	CodeNotifyConflict   xerrors.Code = "NOTIFY_CONFLICT"
	CodeNotifyDelivered  xerrors.Code = "NOTIFY_DELIVERED"
	CodeNotifyExhausted  xerrors.Code = "NOTIFY_RETRIES_EXHAUSTED"
	CodeNotifyDuplicate  xerrors.Code = "NOTIFY_DUPLICATE"
	CodeNotifyValidation xerrors.Code = "NOTIFY_VALIDATION_FAILED"
	CodeNotifyPublish    xerrors.Code = "NOTIFY_PUBLISH_FAILED"
	CodeNotifyDelivery   xerrors.Code = "NOTIFY_DELIVERY_FAILED"
)

func init() {
	xerrors.Register(CodeNotifyNotFound, xerrors.Attributes{
		Message:  "notification not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotifyConflict, xerrors.Attributes{
		Message:  "notification conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeNotifyDelivered, xerrors.Attributes{
		Message:  "notification already delivered",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotifyExhausted, xerrors.Attributes{
		Message:  "notification retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeNotifyDuplicate, xerrors.Attributes{
		Message:  "notification already enqueued",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotifyValidation, xerrors.Attributes{
		Message:  "notification validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotifyPublish, xerrors.Attributes{
		Message:   "failed to publish notification",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeNotifyDelivery, xerrors.Attributes{
		Message:   "notification delivery failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// Validate 校验通知字段的基本约束。
func (n *Notification) Validate() error {
	if n == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "notification 不能为空")
	}
	if n.UserID == "" {
		return xerrors.New(CodeNotifyValidation, "通知必须归属某个用户")
	}
	if n.Body == "" {
		return xerrors.New(CodeNotifyValidation, "通知内容不能为空")
	}
	if n.Kind == "" {
		return xerrors.New(CodeNotifyValidation, "通知类型不能为空")
	}
	return nil
}

// Clone 返回通知的浅拷贝，通知内没有引用类型字段。
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	clone := *n
	return &clone
}

// IsValidStatus 检查给定的通知状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusSending, StatusDelivered, StatusFailed:
		return true
	default:
		return false
	}
}
