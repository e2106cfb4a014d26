package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"CalPilot/internal/assistant"
	"CalPilot/internal/auth"
	"CalPilot/internal/calendar"
	xerrors "CalPilot/internal/errors"
	"CalPilot/internal/event"
	"CalPilot/internal/notify"
	"CalPilot/internal/observability/metrics"
)

// defaultUserID 是认证禁用时使用的本地用户标识。
const defaultUserID = "local"

// Server 暴露 REST 接口，是外部访问日历助手的入口。
type Server struct {
	addr          string
	assistant     *assistant.Assistant
	events        event.Store
	auth          *auth.Service
	notifications *notify.Service
	briefer       assistant.Briefer
	syncer        *calendar.Syncer
	calendarName  string
}

// ServerOption 定义可选的 Server 配置。
type ServerOption func(*Server)

// WithAuthService 配置认证服务。未配置时所有接口匿名放行。
func WithAuthService(svc *auth.Service) ServerOption {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithNotifyService 配置通知服务，启用通知查询接口。
func WithNotifyService(svc *notify.Service) ServerOption {
	return func(s *Server) {
		s.notifications = svc
	}
}

// WithBriefer 配置简报生成器，启用简报接口。
func WithBriefer(briefer assistant.Briefer) ServerOption {
	return func(s *Server) {
		s.briefer = briefer
	}
}

// WithSyncer 配置日历同步器，启用手动触发同步的接口。
func WithSyncer(syncer *calendar.Syncer) ServerOption {
	return func(s *Server) {
		s.syncer = syncer
	}
}

// WithCalendarName 设置 ICS 导出时的日历名称。
func WithCalendarName(name string) ServerOption {
	return func(s *Server) {
		s.calendarName = name
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, asst *assistant.Assistant, events event.Store, opts ...ServerOption) *Server {
	s := &Server{addr: addr, assistant: asst, events: events}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装全部路由，测试可以直接挂到 httptest 上。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/v1/auth/token", s.instrument("auth_token", http.HandlerFunc(s.handleToken)))

	readWrite := auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet: {"calendar:read"},
			"*":            {"calendar:write"},
		},
	}
	readOnly := auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {"calendar:read"}},
	}

	mux.Handle("/api/v1/chat", s.guard("chat", readWrite, s.handleChat))
	mux.Handle("/api/v1/events", s.guard("events", readWrite, s.handleEvents))
	mux.Handle("/api/v1/events/", s.guard("event_detail", readWrite, s.handleEventDetail))
	mux.Handle("/api/v1/calendar.ics", s.guard("ics_export", readOnly, s.handleICS))
	mux.Handle("/api/v1/briefing", s.guard("briefing", readOnly, s.handleBriefing))
	mux.Handle("/api/v1/notifications", s.guard("notifications", readOnly, s.handleNotifications))
	mux.Handle("/api/v1/sync", s.guard("sync", readWrite, s.handleSync))
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// guard 给业务路由套上认证和指标中间件。
func (s *Server) guard(name string, cfg auth.MiddlewareConfig, handler http.HandlerFunc) http.Handler {
	wrapped := s.instrument(name, handler)
	if s.auth == nil {
		return wrapped
	}
	return s.auth.Middleware(cfg)(wrapped)
}

// instrument 记录每个路由的请求量和时延。
func (s *Server) instrument(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		writeErrorBody(w, http.StatusNotFound, "AUTH_DISABLED", "authentication is disabled")
		return
	}
	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		code := "INVALID_CREDENTIALS"
		switch {
		case stdErrors.Is(err, auth.ErrUnsupportedGrant):
			status = http.StatusBadRequest
			code = "UNSUPPORTED_GRANT"
		case stdErrors.Is(err, auth.ErrSubjectRevoked):
			status = http.StatusForbidden
			code = "SUBJECT_REVOKED"
		}
		writeErrorBody(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.assistant == nil {
		writeErrorBody(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "助手未初始化")
		return
	}
	var req assistant.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	req.UserID = s.resolveUserID(r, req.UserID)

	result, err := s.assistant.Handle(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListEvents(w, r)
	case http.MethodPost:
		s.handleCreateEvent(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	listOpts := []event.ListOption{event.ForUser(s.resolveUserID(r, query.Get("user_id")))}

	if from, ok := parseTimeParam(query.Get("from")); ok {
		to, _ := parseTimeParam(query.Get("to"))
		listOpts = append(listOpts, event.WithWindow(from, to))
	} else if to, ok := parseTimeParam(query.Get("to")); ok {
		listOpts = append(listOpts, event.WithWindow(time.Time{}, to))
	}
	if statuses := splitParam(query.Get("status")); len(statuses) > 0 {
		converted := make([]event.Status, 0, len(statuses))
		for _, status := range statuses {
			converted = append(converted, event.Status(status))
		}
		listOpts = append(listOpts, event.WithStatuses(converted...))
	}
	if sources := splitParam(query.Get("source")); len(sources) > 0 {
		converted := make([]event.Source, 0, len(sources))
		for _, source := range sources {
			converted = append(converted, event.Source(source))
		}
		listOpts = append(listOpts, event.WithSources(converted...))
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		listOpts = append(listOpts, event.WithQuery(q))
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		listOpts = append(listOpts, event.WithLimit(limit))
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil && offset > 0 {
		listOpts = append(listOpts, event.WithOffset(offset))
	}
	if strings.EqualFold(query.Get("order"), "desc") {
		listOpts = append(listOpts, event.WithSortOrder(event.SortByStartDesc))
	}

	events, err := s.events.List(r.Context(), event.BuildListOptions(listOpts))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	ev.UserID = s.resolveUserID(r, ev.UserID)
	if ev.Source == "" {
		ev.Source = event.SourceManual
	}
	ev.Normalize()
	if err := ev.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.events.Create(r.Context(), &ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &ev)
}

func (s *Server) handleEventDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/events/")
	if id == "" || strings.Contains(id, "/") {
		writeErrorBody(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "缺少事件标识")
		return
	}
	if id == "stats" {
		s.handleEventStats(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		ev, err := s.events.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	case http.MethodPut, http.MethodPatch:
		var patch event.Event
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeErrorBody(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
			return
		}
		current, err := s.events.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		patch.ID = id
		patch.UserID = current.UserID
		patch.CreatedAt = current.CreatedAt
		patch.Normalize()
		if err := patch.Validate(); err != nil {
			writeError(w, err)
			return
		}
		if err := s.events.Update(r.Context(), &patch); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &patch)
	case http.MethodDelete:
		if err := s.events.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "仅支持 GET/PUT/PATCH/DELETE", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.events.Stats(r.Context(), s.resolveUserID(r, r.URL.Query().Get("user_id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	now := time.Now()
	from, ok := parseTimeParam(query.Get("from"))
	if !ok {
		from = now.AddDate(0, -1, 0)
	}
	to, ok := parseTimeParam(query.Get("to"))
	if !ok {
		to = now.AddDate(0, 6, 0)
	}

	events, err := s.events.List(r.Context(), event.BuildListOptions([]event.ListOption{
		event.ForUser(s.resolveUserID(r, query.Get("user_id"))),
		event.WithWindow(from, to),
		event.WithLimit(500),
	}))
	if err != nil {
		writeError(w, err)
		return
	}

	name := query.Get("name")
	if name == "" {
		name = s.calendarName
	}
	payload, err := calendar.ExportICS(events, calendar.ExportOptions{
		CalendarName:    name,
		ExpandRecurring: query.Get("expand") == "true",
		From:            from,
		To:              to,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	_, _ = w.Write([]byte(payload))
}

func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.briefer == nil {
		writeErrorBody(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "简报服务未启用")
		return
	}
	day := time.Now()
	if parsed, err := time.Parse("2006-01-02", r.URL.Query().Get("date")); err == nil {
		day = parsed
	}
	text, err := s.briefer.DailyBriefing(r.Context(), s.resolveUserID(r, r.URL.Query().Get("user_id")), day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"date": day.Format("2006-01-02"),
		"text": text,
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.notifications == nil {
		writeErrorBody(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "通知服务未启用")
		return
	}
	query := r.URL.Query()
	opts := notify.ListOptions{UserID: s.resolveUserID(r, query.Get("user_id"))}
	for _, status := range splitParam(query.Get("status")) {
		opts.Statuses = append(opts.Statuses, notify.Status(status))
	}
	for _, kind := range splitParam(query.Get("kind")) {
		opts.Kinds = append(opts.Kinds, notify.Kind(kind))
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	}
	notifications, err := s.notifications.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.syncer == nil {
		writeErrorBody(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "日历同步未启用")
		return
	}
	synced, err := s.syncer.SyncOnce(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": synced})
}

// resolveUserID 确定请求归属的用户：认证主体优先，其次是调用方给的标识。
func (s *Server) resolveUserID(r *http.Request, fallback string) string {
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		return subject.ID
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return fallback
	}
	return defaultUserID
}

// parseTimeParam 接受 RFC3339、日期（2006-01-02）或 Unix 秒三种格式。
func parseTimeParam(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, true
	}
	if parsed, err := time.Parse("2006-01-02", raw); err == nil {
		return parsed, true
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
		return time.Unix(unix, 0), true
	}
	return time.Time{}, false
}

func splitParam(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// writeError 把统一错误码映射成 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict:
		status = http.StatusConflict
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case xerrors.CodeLLMFailure, xerrors.CodeCalendarFailure:
		status = http.StatusBadGateway
	default:
		if strings.HasSuffix(string(code), "_NOT_FOUND") {
			status = http.StatusNotFound
		} else if strings.HasSuffix(string(code), "_CONFLICT") {
			status = http.StatusConflict
		} else if strings.HasSuffix(string(code), "_VALIDATION_FAILED") {
			status = http.StatusBadRequest
		}
	}
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeErrorBody(w, status, string(code), message)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
