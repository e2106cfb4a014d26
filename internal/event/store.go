package event

import "context"

// Store 抽象了事件数据的持久化接口。实现必须支持并发访问。
type Store interface {
	Create(ctx context.Context, ev *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	Update(ctx context.Context, ev *Event) error
	Delete(ctx context.Context, id string) error
	// UpsertByGoogleID 按 Google 事件 ID 幂等写入，用于日历同步。
	UpsertByGoogleID(ctx context.Context, ev *Event) error
	List(ctx context.Context, opts ListOptions) ([]*Event, error)
	Stats(ctx context.Context, userID string) (Stats, error)
	Close() error
}
