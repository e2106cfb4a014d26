package session

import (
	"time"

	xerrors "CalPilot/internal/errors"
)

// Role 标识对话轮次的发言方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 是会话中的一轮对话。
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	At      int64  `json:"at"`
}

// Session 缓存某个会话的上下文：对话历史以及助手暂存的中间状态。
// 过期判定以 ExpiresAt 为准，读取路径必须先检查过期。
type Session struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Turns     []Turn            `json:"turns,omitempty"`
	State     map[string]string `json:"state,omitempty"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
	ExpiresAt int64             `json:"expires_at"`
}

// ErrSessionNotFound 表示会话不存在或已过期。
var ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")

// CodeSessionNotFound 是会话缺失的错误码。
const CodeSessionNotFound xerrors.Code = "SESSION_NOT_FOUND"

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:  "session not found",
		Severity: xerrors.SeverityInfo,
	})
}

// Expired 判断会话在指定时刻是否已过期。
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

// AppendTurn 追加一轮对话，超过 maxTurns 时丢弃最早的轮次。
func (s *Session) AppendTurn(turn Turn, maxTurns int) {
	if turn.At == 0 {
		turn.At = time.Now().Unix()
	}
	s.Turns = append(s.Turns, turn)
	if maxTurns > 0 && len(s.Turns) > maxTurns {
		s.Turns = s.Turns[len(s.Turns)-maxTurns:]
	}
}

// SetState 写入一条键值状态，用于在多轮之间暂存槽位信息。
func (s *Session) SetState(key, value string) {
	if s.State == nil {
		s.State = make(map[string]string)
	}
	s.State[key] = value
}

// Clone 返回会话的深拷贝。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Turns = append([]Turn(nil), s.Turns...)
	if s.State != nil {
		clone.State = make(map[string]string, len(s.State))
		for k, v := range s.State {
			clone.State[k] = v
		}
	}
	return &clone
}
