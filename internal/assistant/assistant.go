package assistant

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "CalPilot/internal/errors"
	"CalPilot/internal/event"
	"CalPilot/internal/knowledge"
	"CalPilot/internal/llm"
	"CalPilot/internal/observability/metrics"
	"CalPilot/internal/session"
	"CalPilot/pkg/logger"
)

// ChatRequest 是一次对话请求。SessionID 为空时会新建会话。
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Timezone  string `json:"timezone,omitempty"`
}

// ChatResult 汇总一次对话的处理结果。
type ChatResult struct {
	SessionID  string            `json:"session_id"`
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Reply      string            `json:"reply"`
	Event      *event.Event      `json:"event,omitempty"`
	Events     []*event.Event    `json:"events,omitempty"`
	FreeSlots  []TimeSlot        `json:"free_slots,omitempty"`
	Duplicate  *DuplicateWarning `json:"duplicate,omitempty"`
	// Degraded 表示本轮意图来自关键词兜底而非大模型。
	Degraded  bool  `json:"degraded,omitempty"`
	CreatedAt int64 `json:"created_at"`
}

// Briefer 生成指定用户某一天的日程简报。
type Briefer interface {
	DailyBriefing(ctx context.Context, userID string, day time.Time) (string, error)
}

// Assistant 协调意图路由、事件存储与大模型推理，是系统的业务核心。
type Assistant struct {
	llmClient llm.Client
	events    event.Store
	sessions  session.Store
	briefer   Briefer
	knowledge knowledge.Provider

	memoryDepth   int
	llmTimeout    time.Duration
	minConfidence float64
	location      *time.Location
	now           func() time.Time
}

// Option 定义可选的 Assistant 配置。
type Option func(*Assistant)

const (
	// defaultMemoryDepth 是路由时携带的历史对话轮数默认值。
	defaultMemoryDepth = 10
	// defaultMinConfidence 低于该置信度的路由结果会退化为澄清回复。
	defaultMinConfidence = 0.4
)

// WithMemoryDepth 设置路由时携带的历史对话轮数。
func WithMemoryDepth(depth int) Option {
	return func(a *Assistant) {
		a.memoryDepth = depth
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Assistant) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithMinConfidence 设置触发澄清回复的置信度下限。
func WithMinConfidence(min float64) Option {
	return func(a *Assistant) {
		a.minConfidence = min
	}
}

// WithBriefer 配置日程简报生成器。
func WithBriefer(briefer Briefer) Option {
	return func(a *Assistant) {
		a.briefer = briefer
	}
}

// WithKnowledgeProvider 配置排期知识库，用于在路由前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Assistant) {
		a.knowledge = provider
	}
}

// WithLocation 设置解析相对日期时使用的默认时区。
func WithLocation(loc *time.Location) Option {
	return func(a *Assistant) {
		if loc != nil {
			a.location = loc
		}
	}
}

// WithClock 注入时间源，测试用。
func WithClock(now func() time.Time) Option {
	return func(a *Assistant) {
		if now != nil {
			a.now = now
		}
	}
}

// New 创建一个 Assistant。
func New(llmClient llm.Client, events event.Store, sessions session.Store, opts ...Option) *Assistant {
	a := &Assistant{
		llmClient:     llmClient,
		events:        events,
		sessions:      sessions,
		memoryDepth:   defaultMemoryDepth,
		minConfidence: defaultMinConfidence,
		location:      time.Local,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.memoryDepth <= 0 {
		a.memoryDepth = defaultMemoryDepth
	}
	return a
}

// Handle 处理一条用户消息：路由意图、执行对应操作并维护会话上下文。
func (a *Assistant) Handle(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if a.events == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置事件存储")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少用户标识")
	}

	now := a.now()
	loc := a.resolveLocation(req.Timezone)
	sess := a.loadSession(ctx, req)

	classification, degraded := a.classify(ctx, req.Message, sess, now)
	if !degraded && classification.Confidence < a.minConfidence {
		// 置信度不足时交给关键词路由裁决，而不是直接归入闲聊。
		classification = fallbackWithSlots(req.Message, classification.Slots)
		degraded = true
	}

	result := &ChatResult{
		SessionID:  sess.ID,
		Intent:     classification.Intent,
		Confidence: classification.Confidence,
		Degraded:   degraded,
		CreatedAt:  now.Unix(),
	}

	var err error
	switch classification.Intent {
	case IntentCreateEvent:
		err = a.handleCreate(ctx, req, classification, now, loc, result)
	case IntentQuerySchedule:
		err = a.handleQuery(ctx, req, classification, now, loc, result)
	case IntentUpdateEvent:
		err = a.handleUpdate(ctx, req, classification, now, loc, result)
	case IntentDeleteEvent:
		err = a.handleDelete(ctx, req, classification, now, loc, result)
	case IntentFindSlot:
		err = a.handleFindSlot(ctx, req, classification, now, loc, result)
	case IntentBriefing:
		err = a.handleBriefing(ctx, req, now, loc, result)
	default:
		a.handleSmallTalk(ctx, req, sess, result)
	}
	if err != nil {
		return nil, err
	}

	metrics.ObserveChat(string(result.Intent), degraded)
	if result.Duplicate != nil {
		metrics.ObserveDuplicateWarning()
	}
	a.persistSession(ctx, sess, req.Message, result.Reply)
	return result, nil
}

// classify 调用大模型做意图路由，失败时退化为关键词路由。
// 第二个返回值标记本次路由是否走了降级路径。
func (a *Assistant) classify(ctx context.Context, message string, sess *session.Session, now time.Time) (*Classification, bool) {
	if a.llmClient == nil {
		return fallbackClassify(message), true
	}

	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	system := routerSystemPrompt
	if a.knowledge != nil {
		if snippets := a.knowledge.Query(message, ""); len(snippets) > 0 {
			var sb strings.Builder
			sb.WriteString(system)
			sb.WriteString("\n\nScheduling conventions to respect:\n")
			for _, snippet := range snippets {
				fmt.Fprintf(&sb, "- %s: %s\n", snippet.Title, snippet.Content)
			}
			system = sb.String()
		}
	}

	resp, err := a.llmClient.Complete(llmCtx, llm.Request{
		System:    system,
		Prompt:    buildRouterPrompt(message, now),
		History:   a.historyTurns(sess),
		ForceJSON: true,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			logger.Named("assistant").Warn("意图路由超时，使用关键词降级", "error", err)
		} else {
			logger.Named("assistant").Warn("意图路由失败，使用关键词降级", "error", err)
		}
		return fallbackClassify(message), true
	}

	classification, err := parseClassification(resp.Text)
	if err != nil {
		logger.Named("assistant").Warn("路由结果解析失败，使用关键词降级", "error", err)
		return fallbackClassify(message), true
	}
	if !IsValidIntent(classification.Intent) {
		logger.Named("assistant").Warn("路由返回集合外意图，使用关键词降级", "intent", string(classification.Intent))
		return fallbackWithSlots(message, classification.Slots), true
	}
	return classification, false
}

// fallbackWithSlots 做关键词路由，同时保留大模型已抽取的槽位。
func fallbackWithSlots(message string, slots map[string]string) *Classification {
	classification := fallbackClassify(message)
	classification.Slots = slots
	return classification
}

func (a *Assistant) handleCreate(ctx context.Context, req ChatRequest, cls *Classification, now time.Time, loc *time.Location, result *ChatResult) error {
	draft, ok := eventFromSlots(cls.Slots, req.UserID, now, loc)
	if !ok {
		result.Reply = "I can set that up. When should it happen?"
		return nil
	}
	if draft.Title == "" {
		draft.Title = "Untitled event"
	}
	draft.Normalize()
	if err := draft.Validate(); err != nil {
		return err
	}

	// 重复检测只提醒，从不阻断创建。
	warning, err := detectDuplicate(ctx, a.events, draft)
	if err != nil {
		logger.Named("assistant").Warn("重复检测失败", "error", err)
	}

	if err := a.events.Create(ctx, draft); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建事件失败")
	}

	result.Event = draft
	result.Duplicate = warning
	reply := fmt.Sprintf("Scheduled %q for %s.", draft.Title, formatEventTime(draft, loc))
	if warning != nil {
		reply += fmt.Sprintf(" Heads up: this looks similar to %q at %s.",
			warning.Title, time.Unix(warning.StartAt, 0).In(loc).Format("Jan 2 15:04"))
	}
	result.Reply = reply
	return nil
}

func (a *Assistant) handleQuery(ctx context.Context, req ChatRequest, cls *Classification, now time.Time, loc *time.Location, result *ChatResult) error {
	from, to := resolveWindow(cls.Slots, now, loc)
	events, err := a.events.List(ctx, event.BuildListOptions([]event.ListOption{
		event.ForUser(req.UserID),
		event.WithWindow(from, to.Add(-time.Second)),
		event.WithStatuses(event.StatusConfirmed, event.StatusTentative),
		event.WithQuery(cls.Slots["target"]),
	}))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询日程失败")
	}

	result.Events = events
	if len(events) == 0 {
		result.Reply = fmt.Sprintf("Nothing on your calendar for %s.", formatWindow(from, to, loc))
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %d event(s) for %s:\n", len(events), formatWindow(from, to, loc))
	for _, ev := range events {
		fmt.Fprintf(&sb, "- %s (%s)", ev.Title, formatEventTime(ev, loc))
		if ev.Location != "" {
			fmt.Fprintf(&sb, " @ %s", ev.Location)
		}
		sb.WriteString("\n")
	}
	result.Reply = strings.TrimSpace(sb.String())
	return nil
}

func (a *Assistant) handleUpdate(ctx context.Context, req ChatRequest, cls *Classification, now time.Time, loc *time.Location, result *ChatResult) error {
	target, err := a.findTarget(ctx, req.UserID, cls, now, loc)
	if err != nil {
		return err
	}
	if target == nil {
		result.Reply = "I couldn't find that event. Which one do you mean?"
		return nil
	}

	patched := target.Clone()
	if draft, ok := eventFromSlots(cls.Slots, req.UserID, now, loc); ok {
		duration := patched.EndAt - patched.StartAt
		patched.StartAt = draft.StartAt
		patched.EndAt = draft.StartAt + duration
		if draft.EndAt > draft.StartAt && !draft.AllDay {
			patched.EndAt = draft.EndAt
		}
		patched.AllDay = draft.AllDay
	}
	if title := strings.TrimSpace(cls.Slots["title"]); title != "" && !strings.EqualFold(title, strings.TrimSpace(cls.Slots["target"])) {
		patched.Title = title
	}
	if location := strings.TrimSpace(cls.Slots["location"]); location != "" {
		patched.Location = location
	}
	if description := strings.TrimSpace(cls.Slots["description"]); description != "" {
		patched.Description = description
	}

	if err := a.events.Update(ctx, patched); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新事件失败")
	}
	result.Event = patched
	result.Reply = fmt.Sprintf("Updated %q, now %s.", patched.Title, formatEventTime(patched, loc))
	return nil
}

func (a *Assistant) handleDelete(ctx context.Context, req ChatRequest, cls *Classification, now time.Time, loc *time.Location, result *ChatResult) error {
	target, err := a.findTarget(ctx, req.UserID, cls, now, loc)
	if err != nil {
		return err
	}
	if target == nil {
		result.Reply = "I couldn't find that event. Which one should I cancel?"
		return nil
	}

	if err := a.events.Delete(ctx, target.ID); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除事件失败")
	}
	result.Event = target
	result.Reply = fmt.Sprintf("Cancelled %q (%s).", target.Title, formatEventTime(target, loc))
	return nil
}

func (a *Assistant) handleFindSlot(ctx context.Context, req ChatRequest, cls *Classification, now time.Time, loc *time.Location, result *ChatResult) error {
	day, ok := resolveDate(cls.Slots["date"], now, loc)
	if !ok {
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	}
	duration := time.Duration(parseMinutes(cls.Slots["duration_minutes"])) * time.Minute

	slots, err := findFreeSlots(ctx, a.events, req.UserID, day, duration, now, loc)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查找空闲时段失败")
	}

	result.FreeSlots = slots
	if len(slots) == 0 {
		result.Reply = fmt.Sprintf("No free slot on %s within working hours.", day.Format("Jan 2"))
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Free on %s:\n", day.Format("Mon Jan 2"))
	for _, slot := range slots {
		fmt.Fprintf(&sb, "- %s - %s\n",
			time.Unix(slot.StartAt, 0).In(loc).Format("15:04"),
			time.Unix(slot.EndAt, 0).In(loc).Format("15:04"))
	}
	result.Reply = strings.TrimSpace(sb.String())
	return nil
}

func (a *Assistant) handleBriefing(ctx context.Context, req ChatRequest, now time.Time, loc *time.Location, result *ChatResult) error {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if a.briefer != nil {
		text, err := a.briefer.DailyBriefing(ctx, req.UserID, day)
		if err == nil {
			result.Reply = text
			return nil
		}
		logger.Named("assistant").Warn("简报生成失败，退化为日程列表", "error", err)
	}
	// 没有配置简报生成器或生成失败时，退化为当天的日程列表。
	return a.handleQuery(ctx, req, &Classification{Slots: map[string]string{"date": "today"}}, now, loc, result)
}

func (a *Assistant) handleSmallTalk(ctx context.Context, req ChatRequest, sess *session.Session, result *ChatResult) {
	if a.llmClient != nil {
		llmCtx := ctx
		if a.llmTimeout > 0 {
			var cancel context.CancelFunc
			llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
			defer cancel()
		}
		resp, err := a.llmClient.Complete(llmCtx, llm.Request{
			System:  smallTalkSystemPrompt,
			Prompt:  req.Message,
			History: a.historyTurns(sess),
		})
		if err == nil && strings.TrimSpace(resp.Text) != "" {
			result.Reply = strings.TrimSpace(resp.Text)
			return
		}
		if err != nil {
			logger.Named("assistant").Warn("闲聊回复生成失败", "error", err)
		}
	}
	result.Reply = "I'm your calendar assistant. I can schedule events, check your agenda, find free time and brief you on your day."
}

// findTarget 按 target/title 槽位定位要更新或删除的事件。
// 给了日期就查当天，否则查未来两周，取匹配的第一条。
func (a *Assistant) findTarget(ctx context.Context, userID string, cls *Classification, now time.Time, loc *time.Location) (*event.Event, error) {
	query := strings.TrimSpace(cls.Slots["target"])
	if query == "" {
		query = strings.TrimSpace(cls.Slots["title"])
	}

	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 14)
	if day, ok := resolveDate(cls.Slots["date"], now, loc); ok {
		from = day
		to = day.AddDate(0, 0, 1)
	}

	events, err := a.events.List(ctx, event.BuildListOptions([]event.ListOption{
		event.ForUser(userID),
		event.WithWindow(from, to.Add(-time.Second)),
		event.WithStatuses(event.StatusConfirmed, event.StatusTentative),
		event.WithQuery(query),
	}))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查找目标事件失败")
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

func (a *Assistant) loadSession(ctx context.Context, req ChatRequest) *session.Session {
	if a.sessions == nil {
		return &session.Session{ID: req.SessionID, UserID: req.UserID}
	}
	if req.SessionID != "" {
		if sess, err := a.sessions.Load(ctx, req.SessionID); err == nil {
			return sess
		}
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	return &session.Session{ID: id, UserID: req.UserID}
}

func (a *Assistant) persistSession(ctx context.Context, sess *session.Session, userMessage, reply string) {
	sess.AppendTurn(session.Turn{Role: session.RoleUser, Content: userMessage}, a.memoryDepth*2)
	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Content: reply}, a.memoryDepth*2)
	if a.sessions == nil {
		return
	}
	if err := a.sessions.Save(ctx, sess); err != nil {
		logger.Named("assistant").Warn("保存会话失败", "session_id", sess.ID, "error", err)
	}
}

func (a *Assistant) historyTurns(sess *session.Session) []llm.Turn {
	if sess == nil || len(sess.Turns) == 0 {
		return nil
	}
	turns := sess.Turns
	if a.memoryDepth > 0 && len(turns) > a.memoryDepth*2 {
		turns = turns[len(turns)-a.memoryDepth*2:]
	}
	history := make([]llm.Turn, 0, len(turns))
	for _, turn := range turns {
		role := llm.RoleUser
		if turn.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Turn{Role: role, Content: turn.Content})
	}
	return history
}

func (a *Assistant) resolveLocation(timezone string) *time.Location {
	if timezone == "" {
		return a.location
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return a.location
	}
	return loc
}

func formatEventTime(ev *event.Event, loc *time.Location) string {
	start := time.Unix(ev.StartAt, 0).In(loc)
	if ev.AllDay {
		return start.Format("Mon Jan 2") + ", all day"
	}
	end := time.Unix(ev.EndAt, 0).In(loc)
	return fmt.Sprintf("%s %s-%s", start.Format("Mon Jan 2"), start.Format("15:04"), end.Format("15:04"))
}

func formatWindow(from, to time.Time, loc *time.Location) string {
	from = from.In(loc)
	if to.Sub(from) <= 24*time.Hour {
		return from.Format("Mon Jan 2")
	}
	return fmt.Sprintf("%s to %s", from.Format("Jan 2"), to.In(loc).AddDate(0, 0, -1).Format("Jan 2"))
}
