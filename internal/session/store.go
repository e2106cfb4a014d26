package session

import "context"

// Store 抽象会话上下文的缓存接口。实现必须在读取路径上剔除过期会话。
type Store interface {
	// Load 读取会话，不存在或已过期时返回 ErrSessionNotFound。
	Load(ctx context.Context, id string) (*Session, error)
	// Save 写入会话并刷新其过期时间。
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}
