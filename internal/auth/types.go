package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// 认证子系统的通用错误。
var (
	ErrDisabled           = errors.New("authentication disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnsupportedGrant   = errors.New("unsupported grant type")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingToken       = errors.New("missing bearer token")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSubjectRevoked     = errors.New("subject is disabled")
	ErrUserNotFound       = errors.New("user not found")
)

// Store 抽象用户目录。实现必须支持并发访问。
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	LoadSubject(ctx context.Context, userID string) (*Subject, error)
	// ActiveUserIDs 返回所有未禁用用户的 ID，供简报调度器遍历。
	ActiveUserIDs(ctx context.Context) ([]string, error)
}

// SeedWriter 由支持写入初始账号的存储实现。
type SeedWriter interface {
	ApplySeed(ctx context.Context, seed Seed) error
}

// User 表示持久化的账号记录。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Timezone     string
	Disabled     bool
}

// Subject 是嵌入访问令牌并随请求上下文传递的主体信息。
type Subject struct {
	ID          string
	Username    string
	Timezone    string
	Roles       []string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.permissionsSet == nil {
		s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
		for _, perm := range s.Permissions {
			s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
		}
	}
}

// HasPermission 判断主体是否持有指定权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 校验主体是否同时持有全部所需权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Clone 返回适合嵌入令牌的浅拷贝。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		ID:          s.ID,
		Username:    s.Username,
		Timezone:    s.Timezone,
		Roles:       append([]string(nil), s.Roles...),
		Permissions: append([]string(nil), s.Permissions...),
		Disabled:    s.Disabled,
	}
	clone.normalise()
	return clone
}

// TokenRequest 是令牌签发端点接受的请求体。
type TokenRequest struct {
	GrantType string `json:"grant_type"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// TokenPair 包含签发的访问令牌和刷新令牌。
type TokenPair struct {
	AccessToken      string   `json:"access_token"`
	ExpiresIn        int64    `json:"expires_in"`
	RefreshToken     string   `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64    `json:"refresh_expires_in,omitempty"`
	TokenType        string   `json:"token_type"`
	Subject          *Subject `json:"-"`
}

// Config 配置认证服务。
type Config struct {
	Mode  Mode
	JWT   JWTOptions
	Seeds []Seed
}

// Mode 枚举支持的认证模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// JWTOptions 包含本地 JWT 签发的参数。
type JWTOptions struct {
	Secret     string
	Issuer     string
	AccessTTL  int64
	RefreshTTL int64
}

// Seed 定义启动时写入的初始账号。
type Seed struct {
	Username    string
	Password    string
	Timezone    string
	Roles       []string
	Permissions []string
	Disabled    bool
}
