package session

import (
	"context"
	"sync"
	"time"

	"CalPilot/pkg/logger"
)

// MemoryStore 是进程内的会话缓存，带后台清扫协程。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl   time.Duration
	sweep time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMemoryStore 创建内存会话缓存并启动清扫协程。
// ttl 为会话存活时间，sweep 为清扫间隔，非法值会退回缺省值。
func NewMemoryStore(ttl, sweep time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if sweep <= 0 {
		sweep = time.Minute
	}
	store := &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		sweep:    sweep,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go store.janitor()
	return store
}

// Load 读取会话。过期的会话会被当场删除并视为不存在。
func (s *MemoryStore) Load(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	if sess.Expired(time.Now()) {
		s.mu.Lock()
		// 二次检查，避免和 Save 竞争时误删新写入的会话。
		if current, still := s.sessions[id]; still && current.Expired(time.Now()) {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Save 写入会话并把过期时间顺延一个 TTL。
func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	now := time.Now()
	stored := sess.Clone()
	if stored.CreatedAt == 0 {
		stored.CreatedAt = now.Unix()
	}
	stored.UpdatedAt = now.Unix()
	stored.ExpiresAt = now.Add(s.ttl).Unix()
	sess.ExpiresAt = stored.ExpiresAt

	s.mu.Lock()
	s.sessions[stored.ID] = stored
	s.mu.Unlock()
	return nil
}

// Delete 删除会话，不存在时静默返回。
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Close 停止清扫协程。
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	return nil
}

// Len 返回当前缓存的会话数，仅用于测试与指标。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) janitor() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			removed := s.sweepExpired(now)
			if removed > 0 {
				logger.Named("session").Debug("清理过期会话", "removed", removed)
			}
		}
	}
}

func (s *MemoryStore) sweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
