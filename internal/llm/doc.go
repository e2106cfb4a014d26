// Package llm 定义大模型推理的统一抽象。
//
// 意图识别、事件抽取与简报生成均通过 Client 接口完成，
// 具体 provider（Gemini、OpenAI 兼容接口、本地命令桥接）
// 在子包中实现，由配置决定启用哪一个。
package llm
