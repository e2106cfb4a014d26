package event

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore 是基于内存的事件存储实现，主要用于测试和本地运行。
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*Event
	// googleIndex 维护 Google 事件 ID 到本地 ID 的映射，支撑幂等同步。
	googleIndex map[string]string
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      make(map[string]*Event),
		googleIndex: make(map[string]string),
	}
}

// Create 保存一条新事件，ID 为空时自动生成。
func (s *MemoryStore) Create(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if _, exists := s.events[ev.ID]; exists {
		return ErrEventConflict
	}

	now := time.Now().Unix()
	if ev.CreatedAt == 0 {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now

	stored := ev.Clone()
	s.events[stored.ID] = stored
	if stored.GoogleID != "" {
		s.googleIndex[googleKey(stored.UserID, stored.GoogleID)] = stored.ID
	}
	return nil
}

// Get 按 ID 查询事件。
func (s *MemoryStore) Get(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return ev.Clone(), nil
}

// Update 整体覆盖已有事件。
func (s *MemoryStore) Update(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.events[ev.ID]
	if !ok {
		return ErrEventNotFound
	}

	ev.CreatedAt = current.CreatedAt
	ev.UpdatedAt = time.Now().Unix()

	stored := ev.Clone()
	if current.GoogleID != "" && current.GoogleID != stored.GoogleID {
		delete(s.googleIndex, googleKey(current.UserID, current.GoogleID))
	}
	if stored.GoogleID != "" {
		s.googleIndex[googleKey(stored.UserID, stored.GoogleID)] = stored.ID
	}
	s.events[stored.ID] = stored
	return nil
}

// Delete 删除事件。
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return ErrEventNotFound
	}
	if ev.GoogleID != "" {
		delete(s.googleIndex, googleKey(ev.UserID, ev.GoogleID))
	}
	delete(s.events, id)
	return nil
}

// UpsertByGoogleID 按 Google 事件 ID 幂等写入。已存在则覆盖，否则新建。
func (s *MemoryStore) UpsertByGoogleID(ctx context.Context, ev *Event) error {
	if ev == nil || ev.GoogleID == "" {
		return ErrEventNotFound
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	key := googleKey(ev.UserID, ev.GoogleID)
	if id, ok := s.googleIndex[key]; ok {
		current := s.events[id]
		ev.ID = id
		ev.CreatedAt = current.CreatedAt
		ev.UpdatedAt = now
		s.events[id] = ev.Clone()
		return nil
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = now
	ev.UpdatedAt = now
	stored := ev.Clone()
	s.events[stored.ID] = stored
	s.googleIndex[key] = stored.ID
	return nil
}

// List 按过滤条件查询事件，默认按开始时间升序。
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Event, error) {
	opts.applyDefaults()

	s.mu.RLock()
	matched := make([]*Event, 0)
	for _, ev := range s.events {
		if opts.Matches(ev) {
			matched = append(matched, ev.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if opts.Order == SortByStartDesc {
			return matched[i].StartAt > matched[j].StartAt
		}
		return matched[i].StartAt < matched[j].StartAt
	})

	if opts.Offset >= len(matched) {
		return []*Event{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Stats 汇总用户的事件统计。
func (s *MemoryStore) Stats(ctx context.Context, userID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().Unix()
	stats := Stats{}
	for _, ev := range s.events {
		if userID != "" && ev.UserID != userID {
			continue
		}
		stats.Total++
		switch ev.Status {
		case StatusConfirmed:
			stats.Confirmed++
		case StatusTentative:
			stats.Tentative++
		case StatusCancelled:
			stats.Cancelled++
		}
		if ev.Source == SourceGoogle {
			stats.FromGoogle++
		}
		if ev.StartAt > now && ev.Status != StatusCancelled {
			stats.Upcoming++
			if stats.NextStartAt == 0 || ev.StartAt < stats.NextStartAt {
				stats.NextStartAt = ev.StartAt
			}
		}
	}
	return stats, nil
}

// Close 实现 Store 接口，内存存储无需清理。
func (s *MemoryStore) Close() error {
	return nil
}

func googleKey(userID, googleID string) string {
	return userID + "\x00" + googleID
}
