package llm

import "context"

// Role 表示一条对话消息的角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 描述一段历史对话，用于为大模型提供上下文记忆。
type Turn struct {
	Role    Role
	Content string
}

// Request 描述发送给大模型的一次推理请求。
type Request struct {
	// System 为系统提示词，约束模型的输出格式。
	System string
	// Prompt 为本次请求的用户内容。
	Prompt string
	// History 按时间顺序携带最近的对话轮次。
	History []Turn
	// ForceJSON 要求模型仅输出一个 JSON 对象。
	ForceJSON bool
	// Temperature 为采样温度，零值时由 provider 取默认。
	Temperature float64
}

// Response 是大模型推理得到的原始输出。
type Response struct {
	Text string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
