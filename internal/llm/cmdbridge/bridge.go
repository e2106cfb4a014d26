package cmdbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"CalPilot/internal/llm"
)

// Client 通过调用本地命令（如包装本地模型的推理脚本）实现大模型推理。
// 命令从标准输入读取 JSON 请求，向标准输出写回 {"text": "..."}。
type Client struct {
	command    string
	scriptPath string
	workingDir string
}

// NewClient 创建命令桥接客户端。
func NewClient(command, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定推理脚本路径")
	}
	if command == "" {
		command = "python3"
	}
	return &Client{
		command:    command,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Complete 调用外部命令，并解析输出。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	history := make([]map[string]string, 0, len(req.History))
	for _, turn := range req.History {
		history = append(history, map[string]string{
			"role":    string(turn.Role),
			"content": turn.Content,
		})
	}
	payload := map[string]any{
		"system":     req.System,
		"prompt":     req.Prompt,
		"history":    history,
		"force_json": req.ForceJSON,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.command, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行推理命令失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析命令输出失败: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, fmt.Errorf("推理命令未返回内容")
	}

	return &llm.Response{Text: resp.Text}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
