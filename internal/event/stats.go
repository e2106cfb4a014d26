package event

// Stats 汇总某个用户的事件统计信息，用于接口展示与监控。
type Stats struct {
	Total      int64 `json:"total"`
	Confirmed  int64 `json:"confirmed"`
	Tentative  int64 `json:"tentative"`
	Cancelled  int64 `json:"cancelled"`
	FromGoogle int64 `json:"from_google"`
	// Upcoming 统计从当前时刻起尚未开始的事件数。
	Upcoming int64 `json:"upcoming"`
	// NextStartAt 是下一个即将开始事件的开始时间，没有时为 0。
	NextStartAt int64 `json:"next_start_at,omitempty"`
}
