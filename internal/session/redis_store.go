package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "CalPilot/internal/errors"
)

// RedisStore 基于 Redis 的会话缓存，过期依赖键的 TTL，
// 多实例部署时共享同一份会话状态。
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisOptions 描述 Redis 会话缓存的连接参数。
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisStore 创建 Redis 会话缓存并验证连通性。
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis 地址不能为空")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "calpilot:session:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "redis 连接失败")
	}

	return &RedisStore{
		client:    client,
		keyPrefix: opts.KeyPrefix,
		ttl:       opts.TTL,
	}, nil
}

// Load 读取会话。键不存在即视为过期。
func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话失败")
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话数据失败")
	}
	if sess.Expired(time.Now()) {
		_ = s.client.Del(ctx, s.key(id)).Err()
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

// Save 序列化会话并用 TTL 写入。
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	now := time.Now()
	if sess.CreatedAt == 0 {
		sess.CreatedAt = now.Unix()
	}
	sess.UpdatedAt = now.Unix()
	sess.ExpiresAt = now.Add(s.ttl).Unix()

	raw, err := json.Marshal(sess)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话失败")
	}
	if err := s.client.Set(ctx, s.key(sess.ID), raw, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话失败")
	}
	return nil
}

// Delete 删除会话。
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

// Close 关闭底层连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s%s", s.keyPrefix, id)
}
