package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"CalPilot/internal/llm"
)

const (
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 60 * time.Second
)

// Config 描述调用 Gemini API 所需的信息。
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client 通过 google.golang.org/genai 调用 Gemini。
type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewClient 根据配置创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}

	return &Client{client: client, model: model, timeout: timeout}, nil
}

// Complete 调用 Gemini 生成回复。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("Gemini 客户端未初始化")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(req.System) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.ForceJSON {
		cfg.ResponseMIMEType = "application/json"
	}
	temperature := float32(req.Temperature)
	if temperature <= 0 {
		temperature = 0.2
	}
	cfg.Temperature = genai.Ptr(temperature)

	contents := buildContents(req)
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("请求 Gemini 失败: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return nil, errors.New("Gemini 响应内容为空")
	}
	return &llm.Response{Text: text}, nil
}

// buildContents 将历史轮次与当前请求拼装成 genai 的消息序列。
func buildContents(req llm.Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := genai.Role(genai.RoleUser)
		if turn.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))
	return contents
}
