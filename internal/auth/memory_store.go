package auth

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore 是 Store 的内存实现，用于开发和测试。
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
	byID  map[string]*Subject
}

// NewMemoryStore 用给定的初始账号构建内存用户目录。
func NewMemoryStore(seeds []Seed) (*MemoryStore, error) {
	store := &MemoryStore{
		users: make(map[string]*User),
		byID:  make(map[string]*Subject),
	}
	for _, seed := range seeds {
		if err := store.ApplySeed(context.Background(), seed); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// ApplySeed 写入或更新一个初始账号。
func (s *MemoryStore) ApplySeed(_ context.Context, seed Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		return ErrUserNotFound
	}
	hashed, err := HashPassword(seed.Password)
	if err != nil {
		return err
	}
	user, ok := s.users[username]
	if !ok {
		user = &User{ID: uuid.NewString()}
	}
	user.Username = username
	user.PasswordHash = hashed
	user.Timezone = seed.Timezone
	user.Disabled = seed.Disabled
	s.users[username] = user

	subject := &Subject{
		ID:          user.ID,
		Username:    username,
		Timezone:    seed.Timezone,
		Roles:       dedupeStrings(seed.Roles),
		Permissions: dedupeStrings(seed.Permissions),
		Disabled:    seed.Disabled,
	}
	subject.normalise()
	s.byID[user.ID] = subject
	return nil
}

// FindUserByUsername 按用户名查找账号。
func (s *MemoryStore) FindUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[strings.TrimSpace(username)]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, ErrUserNotFound
}

// LoadSubject 返回带角色和权限的主体信息。
func (s *MemoryStore) LoadSubject(_ context.Context, userID string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject, ok := s.byID[userID]; ok {
		return subject.Clone(), nil
	}
	return nil, ErrUserNotFound
}

// ActiveUserIDs 返回所有未禁用用户的 ID，顺序稳定。
func (s *MemoryStore) ActiveUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byID))
	for id, subject := range s.byID {
		if subject.Disabled {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		seen[strings.ToLower(value)] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}
