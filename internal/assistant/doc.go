// Package assistant 实现日历助手的对话编排：
// 把自由文本路由到固定的七种意图，并执行事件增删改查、
// 空闲时段查找与日程简报。
package assistant
