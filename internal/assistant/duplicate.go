package assistant

import (
	"context"
	"strings"
	"time"

	"CalPilot/internal/event"
)

const (
	// duplicateThreshold 是触发重复提醒的加权得分阈值。
	duplicateThreshold = 0.75
	// duplicateWindow 是查找候选事件时向前后扩展的时间范围。
	duplicateWindow = 36 * time.Hour
	// timeDecayLimit 超过该时间差后时间相似度记为 0。
	timeDecayLimit = 120 * time.Minute

	weightTitle    = 0.5
	weightTime     = 0.3
	weightLocation = 0.2
)

// DuplicateWarning 描述一次疑似重复的检测结果。提醒从不阻断创建。
type DuplicateWarning struct {
	EventID string  `json:"event_id"`
	Title   string  `json:"title"`
	StartAt int64   `json:"start_at"`
	Score   float64 `json:"score"`
}

// detectDuplicate 在候选事件的 ±duplicateWindow 范围内查找最相似的已有事件，
// 得分达到阈值时返回提醒，否则返回 nil。
func detectDuplicate(ctx context.Context, store event.Store, candidate *event.Event) (*DuplicateWarning, error) {
	from := time.Unix(candidate.StartAt, 0).Add(-duplicateWindow)
	to := time.Unix(candidate.StartAt, 0).Add(duplicateWindow)

	existing, err := store.List(ctx, event.BuildListOptions([]event.ListOption{
		event.ForUser(candidate.UserID),
		event.WithWindow(from, to),
		event.WithStatuses(event.StatusConfirmed, event.StatusTentative),
	}))
	if err != nil {
		return nil, err
	}

	var best *DuplicateWarning
	for _, ev := range existing {
		if ev.ID == candidate.ID {
			continue
		}
		score := duplicateScore(candidate, ev)
		if score < duplicateThreshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &DuplicateWarning{
				EventID: ev.ID,
				Title:   ev.Title,
				StartAt: ev.StartAt,
				Score:   score,
			}
		}
	}
	return best, nil
}

// duplicateScore 计算两条事件的加权相似度：
// 标题相似度 0.5、时间接近度 0.3、地点匹配 0.2。
func duplicateScore(a, b *event.Event) float64 {
	return titleSimilarity(a.Title, b.Title)*weightTitle +
		timeProximity(a.StartAt, b.StartAt)*weightTime +
		locationMatch(a.Location, b.Location)*weightLocation
}

// titleSimilarity 取分词 Jaccard 与归一化编辑距离相似度中的较大者：
// 前者对词序不敏感，后者能容忍个别字符的拼写差异。
func titleSimilarity(a, b string) float64 {
	normalizedA := strings.ToLower(strings.TrimSpace(a))
	normalizedB := strings.ToLower(strings.TrimSpace(b))
	if normalizedA == "" || normalizedB == "" {
		return 0
	}
	if normalizedA == normalizedB {
		return 1
	}
	return max(tokenJaccard(normalizedA, normalizedB), editSimilarity(normalizedA, normalizedB))
}

// tokenJaccard 用小写分词后的 Jaccard 系数衡量标题相似度。
func tokenJaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// editSimilarity 把 Levenshtein 编辑距离按较长串归一化到 [0,1]。
func editSimilarity(a, b string) float64 {
	runesA := []rune(a)
	runesB := []rune(b)
	longest := max(len(runesA), len(runesB))
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(runesA, runesB))/float64(longest)
}

// levenshtein 用滚动数组计算编辑距离。
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func tokenSet(s string) map[string]struct{} {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '-' || r == '_' || r == '/' || r == ':'
	})
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if token != "" {
			set[token] = struct{}{}
		}
	}
	return set
}

// timeProximity 按开始时间差做线性衰减，差距达到 timeDecayLimit 记 0。
func timeProximity(a, b int64) float64 {
	diff := time.Duration(a-b) * time.Second
	if diff < 0 {
		diff = -diff
	}
	if diff >= timeDecayLimit {
		return 0
	}
	return 1 - float64(diff)/float64(timeDecayLimit)
}

// locationMatch 比较地点：一致记 1，都为空记 0.5，否则记 0。
func locationMatch(a, b string) float64 {
	normalizedA := strings.ToLower(strings.TrimSpace(a))
	normalizedB := strings.ToLower(strings.TrimSpace(b))
	if normalizedA == "" && normalizedB == "" {
		return 0.5
	}
	if normalizedA == normalizedB {
		return 1
	}
	return 0
}
