package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore 以内存方式保存通知状态，主要用于测试与本地运行。
type MemoryStore struct {
	mu            sync.RWMutex
	notifications map[string]*Notification
	dedupeIndex   map[string]string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifications: make(map[string]*Notification),
		dedupeIndex:   make(map[string]string),
	}
}

// Create 实现 Store 接口。相同 DedupeKey 的通知只允许入库一次。
func (m *MemoryStore) Create(_ context.Context, n *Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n.DedupeKey != "" {
		if _, ok := m.dedupeIndex[n.DedupeKey]; ok {
			return ErrDuplicateNotification
		}
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, ok := m.notifications[n.ID]; ok {
		return ErrNotificationConflict
	}

	now := time.Now().Unix()
	if n.CreatedAt == 0 {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = StatusPending
	}
	if n.MaxRetries <= 0 {
		n.MaxRetries = 3
	}

	m.notifications[n.ID] = n.Clone()
	if n.DedupeKey != "" {
		m.dedupeIndex[n.DedupeKey] = n.ID
	}
	return nil
}

// Get 返回通知。
func (m *MemoryStore) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return n.Clone(), nil
}

// Claim 将通知状态更新为投递中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	switch n.Status {
	case StatusDelivered:
		return n.Clone(), ErrNotificationDelivered
	case StatusSending:
		return n.Clone(), ErrNotificationConflict
	}
	if n.Attempts >= n.MaxRetries {
		return n.Clone(), ErrNotificationExhausted
	}
	n.Status = StatusSending
	n.Attempts++
	n.LastError = ""
	n.ErrorCode = ""
	n.UpdatedAt = time.Now().Unix()
	return n.Clone(), nil
}

// MarkDelivered 记录投递成功。
func (m *MemoryStore) MarkDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Status = StatusDelivered
	n.LastError = ""
	n.ErrorCode = ""
	n.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记投递失败。terminal 为真时不再重试。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code string, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	if terminal {
		n.Status = StatusFailed
	} else {
		n.Status = StatusPending
	}
	n.LastError = lastError
	n.ErrorCode = code
	n.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回满足条件的通知，按创建时间倒序。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Notification, 0)
	for _, n := range m.notifications {
		if opts.Matches(n) {
			results = append(results, n.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID > results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
