// Package config 负责加载并校验 calpilotd 的启动配置。
//
// 配置以 JSON 文件提供，路径由环境变量 CALPILOT_CONFIG 指定；
// 密钥类字段（模型 API Key、OAuth 凭据、JWT Secret）支持通过
// *_env 字段指向环境变量，避免明文落盘。
package config
