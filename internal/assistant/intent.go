package assistant

import (
	"encoding/json"
	"strings"
)

// Intent 是助手支持的意图枚举。路由结果只会落在这七种之内，
// 无法判定时一律归入 IntentSmallTalk。
type Intent string

const (
	IntentCreateEvent   Intent = "create_event"
	IntentQuerySchedule Intent = "query_schedule"
	IntentUpdateEvent   Intent = "update_event"
	IntentDeleteEvent   Intent = "delete_event"
	IntentFindSlot      Intent = "find_slot"
	IntentBriefing      Intent = "briefing"
	IntentSmallTalk     Intent = "small_talk"
)

// knownIntents 列出全部合法意图。
var knownIntents = map[Intent]struct{}{
	IntentCreateEvent:   {},
	IntentQuerySchedule: {},
	IntentUpdateEvent:   {},
	IntentDeleteEvent:   {},
	IntentFindSlot:      {},
	IntentBriefing:      {},
	IntentSmallTalk:     {},
}

// IsValidIntent 检查意图是否属于支持的集合。
func IsValidIntent(intent Intent) bool {
	_, ok := knownIntents[intent]
	return ok
}

// Classification 是一次意图路由的结果：意图、置信度以及抽取出的槽位。
type Classification struct {
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Slots      map[string]string `json:"slots,omitempty"`
}

// parseClassification 解析大模型返回的路由 JSON。
// 模型偶尔会在 JSON 外包裹说明文字或代码块标记，这里先做剥离。
// 意图不做合法性收敛，由调用方决定集合外意图的降级路径。
func parseClassification(raw string) (*Classification, error) {
	cleaned := stripJSONFence(raw)

	var payload struct {
		Intent     string            `json:"intent"`
		Confidence float64           `json:"confidence"`
		Slots      map[string]string `json:"slots"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, err
	}

	result := &Classification{
		Intent:     Intent(strings.ToLower(strings.TrimSpace(payload.Intent))),
		Confidence: payload.Confidence,
		Slots:      payload.Slots,
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}

// stripJSONFence 去掉模型输出中可能的 Markdown 代码块包装，
// 并截取首个 '{' 到最后一个 '}' 之间的内容。
func stripJSONFence(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}
	return strings.TrimSpace(cleaned)
}

// intentKeywords 按优先级排列的关键词规则，用于大模型不可用时的降级路由。
var intentKeywords = []struct {
	intent Intent
	words  []string
}{
	{IntentBriefing, []string{"briefing", "brief me", "summary of my day", "日程简报", "今日简报"}},
	{IntentFindSlot, []string{"free slot", "free time", "when am i free", "find a time", "找个时间", "什么时候有空"}},
	{IntentDeleteEvent, []string{"cancel", "delete", "remove", "取消", "删除"}},
	{IntentUpdateEvent, []string{"reschedule", "move", "change", "update", "改到", "推迟", "修改"}},
	{IntentCreateEvent, []string{"schedule a", "book", "add", "create", "set up a meeting", "remind me", "约个", "安排", "预定", "创建"}},
	{IntentQuerySchedule, []string{"what's on", "what is on", "schedule", "agenda", "do i have", "查一下", "有什么安排", "日程"}},
}

// fallbackClassify 在大模型不可用或输出无法解析时做关键词路由。
// 置信度固定偏低，提示上层这是降级结果。
func fallbackClassify(message string) *Classification {
	lowered := strings.ToLower(message)
	for _, rule := range intentKeywords {
		for _, word := range rule.words {
			if strings.Contains(lowered, word) {
				return &Classification{Intent: rule.intent, Confidence: 0.55}
			}
		}
	}
	return &Classification{Intent: IntentSmallTalk, Confidence: 0.5}
}
