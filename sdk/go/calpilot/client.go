package calpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the CalPilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents user credentials used to obtain access tokens.
type Credentials struct {
	GrantType string `json:"grant_type,omitempty"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// Token represents an issued token pair.
type Token struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	TokenType        string `json:"token_type"`
}

// ChatRequest is a single conversational turn sent to the assistant.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Timezone  string `json:"timezone,omitempty"`
}

// ChatResult is the assistant's response to a chat turn.
type ChatResult struct {
	SessionID  string            `json:"session_id"`
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Reply      string            `json:"reply"`
	Event      *Event            `json:"event,omitempty"`
	Events     []Event           `json:"events,omitempty"`
	FreeSlots  []TimeSlot        `json:"free_slots,omitempty"`
	Duplicate  *DuplicateWarning `json:"duplicate,omitempty"`
	Degraded   bool              `json:"degraded,omitempty"`
	CreatedAt  int64             `json:"created_at"`
}

// Event mirrors the calendar event resource exposed by the API.
type Event struct {
	ID          string   `json:"id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	StartAt     int64    `json:"start_at"`
	EndAt       int64    `json:"end_at"`
	AllDay      bool     `json:"all_day,omitempty"`
	Timezone    string   `json:"timezone,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
	Recurrence  string   `json:"recurrence,omitempty"`
	Source      string   `json:"source,omitempty"`
	Status      string   `json:"status,omitempty"`
	CreatedAt   int64    `json:"created_at,omitempty"`
	UpdatedAt   int64    `json:"updated_at,omitempty"`
}

// TimeSlot is a free interval suggested by the assistant.
type TimeSlot struct {
	StartAt int64 `json:"start_at"`
	EndAt   int64 `json:"end_at"`
}

// DuplicateWarning flags a newly created event that resembles an existing one.
type DuplicateWarning struct {
	EventID string  `json:"event_id"`
	Title   string  `json:"title"`
	StartAt int64   `json:"start_at"`
	Score   float64 `json:"score"`
}

// EventStats summarises a user's calendar.
type EventStats struct {
	Total       int64 `json:"total"`
	Confirmed   int64 `json:"confirmed"`
	Tentative   int64 `json:"tentative"`
	Cancelled   int64 `json:"cancelled"`
	FromGoogle  int64 `json:"from_google"`
	Upcoming    int64 `json:"upcoming"`
	NextStartAt int64 `json:"next_start_at,omitempty"`
}

// Notification mirrors the notification resource exposed by the API.
type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	EventID   string `json:"event_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	CreatedAt int64  `json:"created_at"`
}

// Briefing is the daily schedule summary.
type Briefing struct {
	Date string `json:"date"`
	Text string `json:"text"`
}

// ListEventsOptions narrows an event listing.
type ListEventsOptions struct {
	From     time.Time
	To       time.Time
	Statuses []string
	Query    string
	Limit    int
	Offset   int
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("calpilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("calpilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the CalPilot API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Authenticate exchanges user credentials for a token pair and stores the
// access token for subsequent calls.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	var token Token
	if err := c.post(ctx, "/api/v1/auth/token", creds, &token, false); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// Chat sends a conversational turn to the assistant.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	var result ChatResult
	if err := c.post(ctx, "/api/v1/chat", req, &result, true); err != nil {
		return ChatResult{}, err
	}
	return result, nil
}

// CreateEvent creates a calendar event directly, bypassing the assistant.
func (c *Client) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	var created Event
	if err := c.post(ctx, "/api/v1/events", ev, &created, true); err != nil {
		return Event{}, err
	}
	return created, nil
}

// ListEvents fetches events matching the given filters.
func (c *Client) ListEvents(ctx context.Context, opts ListEventsOptions) ([]Event, error) {
	values := url.Values{}
	if !opts.From.IsZero() {
		values.Set("from", opts.From.Format(time.RFC3339))
	}
	if !opts.To.IsZero() {
		values.Set("to", opts.To.Format(time.RFC3339))
	}
	if len(opts.Statuses) > 0 {
		values.Set("status", joinComma(opts.Statuses))
	}
	if opts.Query != "" {
		values.Set("q", opts.Query)
	}
	if opts.Limit > 0 {
		values.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		values.Set("offset", strconv.Itoa(opts.Offset))
	}
	endpoint := "/api/v1/events"
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var events []Event
	if err := c.get(ctx, endpoint, &events, true); err != nil {
		return nil, err
	}
	return events, nil
}

// GetEvent fetches a single event by identifier.
func (c *Client) GetEvent(ctx context.Context, eventID string) (Event, error) {
	var ev Event
	if err := c.get(ctx, "/api/v1/events/"+url.PathEscape(eventID), &ev, true); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// UpdateEvent replaces an event's mutable fields.
func (c *Client) UpdateEvent(ctx context.Context, ev Event) (Event, error) {
	if ev.ID == "" {
		return Event{}, errors.New("calpilot: event id is required")
	}
	var updated Event
	if err := c.do(ctx, http.MethodPut, "/api/v1/events/"+url.PathEscape(ev.ID), ev, &updated, true); err != nil {
		return Event{}, err
	}
	return updated, nil
}

// DeleteEvent cancels an event by identifier.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/events/"+url.PathEscape(eventID), nil, nil, true)
}

// GetEventStats fetches the aggregate calendar statistics.
func (c *Client) GetEventStats(ctx context.Context) (EventStats, error) {
	var stats EventStats
	if err := c.get(ctx, "/api/v1/events/stats", &stats, true); err != nil {
		return EventStats{}, err
	}
	return stats, nil
}

// DailyBriefing fetches the schedule summary for a day (zero time means today).
func (c *Client) DailyBriefing(ctx context.Context, day time.Time) (Briefing, error) {
	endpoint := "/api/v1/briefing"
	if !day.IsZero() {
		endpoint += "?date=" + day.Format("2006-01-02")
	}
	var briefing Briefing
	if err := c.get(ctx, endpoint, &briefing, true); err != nil {
		return Briefing{}, err
	}
	return briefing, nil
}

// ExportICS downloads the calendar in iCalendar format for the given window.
func (c *Client) ExportICS(ctx context.Context, from, to time.Time, expand bool) (string, error) {
	values := url.Values{}
	if !from.IsZero() {
		values.Set("from", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		values.Set("to", to.Format(time.RFC3339))
	}
	if expand {
		values.Set("expand", "true")
	}
	endpoint := "/api/v1/calendar.ics"
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, true)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", c.decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ics payload: %w", err)
	}
	return string(data), nil
}

// ListNotifications fetches recent notifications for the authenticated user.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]Notification, error) {
	endpoint := "/api/v1/notifications"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var notifications []Notification
	if err := c.get(ctx, endpoint, &notifications, true); err != nil {
		return nil, err
	}
	return notifications, nil
}

// TriggerSync asks the server to run a calendar sync round immediately.
func (c *Client) TriggerSync(ctx context.Context) (int, error) {
	var out struct {
		Synced int `json:"synced"`
	}
	if err := c.post(ctx, "/api/v1/sync", nil, &out, true); err != nil {
		return 0, err
	}
	return out.Synced, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	return c.do(ctx, http.MethodPost, endpoint, payload, out, withAuth)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out, withAuth)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any, withAuth bool) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, endpoint, body, withAuth)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		if token := c.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) decodeError(resp *http.Response) error {
	apiErr := APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &struct {
			Error *APIError `json:"error"`
		}{Error: &apiErr}); err != nil {
			_ = json.Unmarshal(data, &apiErr)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return &apiErr
}

func joinComma(values []string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	}
	var sb bytes.Buffer
	for i, value := range values {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(value)
	}
	return sb.String()
}
