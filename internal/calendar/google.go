package calendar

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	xerrors "CalPilot/internal/errors"
	"CalPilot/internal/event"
)

// googleTokenEndpoint 是 Google OAuth2 的令牌刷新地址。
const googleTokenEndpoint = "https://oauth2.googleapis.com/token"

// GoogleConfig 描述访问 Google Calendar 所需的 OAuth 凭据。
// RefreshToken 通过一次性的授权流程获取，服务端只负责刷新。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarID   string
}

// GoogleClient 封装 Google Calendar API 的读取能力。
type GoogleClient struct {
	service    *gcal.Service
	calendarID string
}

// NewGoogleClient 基于刷新令牌创建 Calendar 客户端。
func NewGoogleClient(ctx context.Context, cfg GoogleConfig) (*GoogleClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少 Google OAuth 凭据")
	}
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: googleTokenEndpoint},
		Scopes:       []string{gcal.CalendarReadonlyScope},
	}
	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gcal.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 Google Calendar 服务失败")
	}
	return &GoogleClient{service: service, calendarID: calendarID}, nil
}

// FetchEvents 拉取窗口内的远端事件，并展开周期性事件的单次实例。
func (c *GoogleClient) FetchEvents(ctx context.Context, from, to time.Time) ([]*RemoteEvent, error) {
	call := c.service.Events.List(c.calendarID).
		Context(ctx).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)

	results := make([]*RemoteEvent, 0)
	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCalendarFailure, err, "拉取 Google Calendar 事件失败")
		}
		for _, item := range resp.Items {
			remote, err := remoteFromGoogle(item)
			if err != nil {
				continue
			}
			results = append(results, remote)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return results, nil
}

// RemoteEvent 是远端日历事件的中间表示，与存储模型解耦。
type RemoteEvent struct {
	GoogleID    string
	Title       string
	Description string
	Location    string
	StartAt     int64
	EndAt       int64
	AllDay      bool
	Timezone    string
	Cancelled   bool
}

// remoteFromGoogle 把 Google API 的事件结构转换为中间表示。
// 全天事件只有日期没有时刻，这里补成当日零点边界。
func remoteFromGoogle(item *gcal.Event) (*RemoteEvent, error) {
	remote := &RemoteEvent{
		GoogleID:    item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Cancelled:   item.Status == "cancelled",
	}

	start, allDay, err := parseGoogleTime(item.Start)
	if err != nil {
		return nil, err
	}
	end, _, err := parseGoogleTime(item.End)
	if err != nil {
		return nil, err
	}
	remote.StartAt = start.Unix()
	remote.EndAt = end.Unix()
	remote.AllDay = allDay
	if item.Start != nil && item.Start.TimeZone != "" {
		remote.Timezone = item.Start.TimeZone
	}
	return remote, nil
}

func parseGoogleTime(t *gcal.EventDateTime) (time.Time, bool, error) {
	if t == nil {
		return time.Time{}, false, xerrors.New(xerrors.CodeCalendarFailure, "事件缺少时间字段")
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, xerrors.Wrap(xerrors.CodeCalendarFailure, err, "解析事件时间失败")
		}
		return parsed, false, nil
	}
	if t.Date != "" {
		loc := time.UTC
		if t.TimeZone != "" {
			if parsed, err := time.LoadLocation(t.TimeZone); err == nil {
				loc = parsed
			}
		}
		parsed, err := time.ParseInLocation("2006-01-02", t.Date, loc)
		if err != nil {
			return time.Time{}, false, xerrors.Wrap(xerrors.CodeCalendarFailure, err, "解析全天事件日期失败")
		}
		return parsed, true, nil
	}
	return time.Time{}, false, xerrors.New(xerrors.CodeCalendarFailure, "事件时间字段为空")
}

// ToEvent 把远端事件映射为本地存储模型。
func (r *RemoteEvent) ToEvent(userID string) *event.Event {
	status := event.StatusConfirmed
	if r.Cancelled {
		status = event.StatusCancelled
	}
	title := r.Title
	if title == "" {
		title = "(untitled)"
	}
	return &event.Event{
		UserID:      userID,
		Title:       title,
		Description: r.Description,
		Location:    r.Location,
		StartAt:     r.StartAt,
		EndAt:       r.EndAt,
		AllDay:      r.AllDay,
		Timezone:    r.Timezone,
		Source:      event.SourceGoogle,
		GoogleID:    r.GoogleID,
		Status:      status,
	}
}
