package notify

import "context"

// ListOptions 控制通知查询的过滤条件。
type ListOptions struct {
	UserID   string
	Statuses []Status
	Kinds    []Kind
	Limit    int
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 200 {
		opts.Limit = 200
	}
}

// Matches 判断通知是否满足过滤条件。
func (opts ListOptions) Matches(n *Notification) bool {
	if n == nil {
		return false
	}
	if opts.UserID != "" && n.UserID != opts.UserID {
		return false
	}
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if n.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(opts.Kinds) > 0 {
		matched := false
		for _, kind := range opts.Kinds {
			if n.Kind == kind {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Store 抽象了通知状态的持久化接口。
type Store interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	// Claim 把通知标记为投递中并累加尝试次数。
	// 已投递返回 ErrNotificationDelivered，重试耗尽返回 ErrNotificationExhausted。
	Claim(ctx context.Context, id string) (*Notification, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, code string, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Notification, error)
	Close() error
}
