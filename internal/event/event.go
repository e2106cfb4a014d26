package event

import (
	"strings"
	"time"

	xerrors "CalPilot/internal/errors"
)

// Status 表示事件在日历中的状态。
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
)

// Source 标记事件的来源渠道。
type Source string

const (
	SourceAssistant Source = "assistant"
	SourceManual    Source = "manual"
	SourceGoogle    Source = "google"
)

// Event 描述一条日历事件。时间统一使用 Unix 秒，时区信息单独保存，
// 全天事件的起止时间为用户时区当日的零点边界。
type Event struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	StartAt     int64    `json:"start_at"`
	EndAt       int64    `json:"end_at"`
	AllDay      bool     `json:"all_day"`
	Timezone    string   `json:"timezone,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
	Recurrence  string   `json:"recurrence,omitempty"`
	Source      Source   `json:"source"`
	GoogleID    string   `json:"google_id,omitempty"`
	Status      Status   `json:"status"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

var (
	// ErrEventNotFound 表示指定的事件不存在。
	ErrEventNotFound = xerrors.New(CodeEventNotFound, "event not found")
	// ErrEventConflict 表示事件 ID 已存在。
	ErrEventConflict = xerrors.New(CodeEventConflict, "event conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeEventNotFound   xerrors.Code = "EVENT_NOT_FOUND"
	CodeEventConflict   xerrors.Code = "EVENT_CONFLICT"
	CodeEventValidation xerrors.Code = "EVENT_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodeEventNotFound, xerrors.Attributes{
		Message:  "event not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeEventConflict, xerrors.Attributes{
		Message:  "event conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeEventValidation, xerrors.Attributes{
		Message:  "event validation failed",
		Severity: xerrors.SeverityInfo,
	})
}

// Validate 校验事件字段的基本约束。
func (e *Event) Validate() error {
	if e == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "event 不能为空")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return xerrors.New(CodeEventValidation, "事件必须归属某个用户")
	}
	if strings.TrimSpace(e.Title) == "" {
		return xerrors.New(CodeEventValidation, "事件标题不能为空")
	}
	if e.StartAt <= 0 {
		return xerrors.New(CodeEventValidation, "事件开始时间无效")
	}
	if e.EndAt < e.StartAt {
		return xerrors.New(CodeEventValidation, "事件结束时间早于开始时间")
	}
	if e.Status != "" && !IsValidStatus(e.Status) {
		return xerrors.New(CodeEventValidation, "不支持的事件状态")
	}
	return nil
}

// Normalize 填充缺省字段。全天事件会被对齐到用户时区的零点边界。
func (e *Event) Normalize() {
	if e.Status == "" {
		e.Status = StatusConfirmed
	}
	if e.Source == "" {
		e.Source = SourceManual
	}
	if e.EndAt == 0 {
		e.EndAt = e.StartAt + int64(time.Hour/time.Second)
	}
	if e.AllDay {
		loc := e.TimeLocation()
		start := time.Unix(e.StartAt, 0).In(loc)
		dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		e.StartAt = dayStart.Unix()
		if e.EndAt <= e.StartAt {
			e.EndAt = dayStart.AddDate(0, 0, 1).Unix()
		}
	}
}

// TimeLocation 解析事件自带的时区，失败时退回本地时区。
func (e *Event) TimeLocation() *time.Location {
	if e.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Clone 返回事件的深拷贝。
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Attendees = append([]string(nil), e.Attendees...)
	return &clone
}

// IsValidStatus 检查给定的事件状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusConfirmed, StatusTentative, StatusCancelled:
		return true
	default:
		return false
	}
}
