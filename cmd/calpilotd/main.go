package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"CalPilot/internal/api"
	"CalPilot/internal/assistant"
	"CalPilot/internal/auth"
	"CalPilot/internal/briefing"
	"CalPilot/internal/calendar"
	"CalPilot/internal/config"
	"CalPilot/internal/event"
	"CalPilot/internal/knowledge"
	"CalPilot/internal/llm"
	"CalPilot/internal/llm/cmdbridge"
	"CalPilot/internal/llm/gemini"
	"CalPilot/internal/llm/openai"
	"CalPilot/internal/notify"
	"CalPilot/internal/observability/alerting"
	"CalPilot/internal/observability/metrics"
	"CalPilot/internal/session"
	"CalPilot/internal/storage/mysql"
	"CalPilot/pkg/channel"
	"CalPilot/pkg/logger"
)

// main 是 CalPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("calpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CALPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "calpilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}

	location, err := resolveLocation(cfg.Assistant.Timezone)
	if err != nil {
		return err
	}

	// 存储层：事件、通知和账号按驱动初始化，MySQL 模式下共用一个连接池。
	var (
		eventStore  event.Store
		notifyStore notify.Store
		authStore   auth.Store
	)
	switch cfg.Storage.Driver {
	case "", "memory":
		eventStore = event.NewMemoryStore()
		notifyStore = notify.NewMemoryStore()
		memAuth, err := auth.NewMemoryStore(nil)
		if err != nil {
			return err
		}
		authStore = memAuth
	case "mysql":
		sqlEvents, err := mysql.NewSQLEventStore(ctx, mysql.Config{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second,
			AutoMigrate:     cfg.Storage.AutoMigrate,
		})
		if err != nil {
			return err
		}
		eventStore = sqlEvents
		notifyStore = mysql.NewSQLNotifyStoreWithDB(sqlEvents.DB())
		authStore = mysql.NewSQLAuthStoreWithDB(sqlEvents.DB())
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
	defer func() {
		_ = eventStore.Close()
	}()

	// 会话缓存。
	var sessionStore session.Store
	switch cfg.Session.Driver {
	case "", "memory":
		sessionStore = session.NewMemoryStore(
			time.Duration(cfg.Session.TTLSeconds)*time.Second,
			time.Duration(cfg.Session.SweepSeconds)*time.Second,
		)
	case "redis":
		store, err := session.NewRedisStore(ctx, session.RedisOptions{
			Addr:      cfg.Session.Redis.Address,
			Password:  cfg.Session.Redis.Password,
			DB:        cfg.Session.Redis.DB,
			KeyPrefix: cfg.Session.RedisKeyPrefix,
			TTL:       time.Duration(cfg.Session.TTLSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		sessionStore = store
	default:
		return fmt.Errorf("未知的会话驱动: %s", cfg.Session.Driver)
	}
	defer func() {
		_ = sessionStore.Close()
	}()

	// 通知队列。
	var notifyQueue notify.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		notifyQueue = notify.NewMemoryQueue(1024)
	case "redis":
		queue, err := notify.NewRedisQueue(notify.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		notifyQueue = queue
	case "rabbitmq":
		queue, err := notify.NewRabbitMQQueue(notify.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		notifyQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if err := notifyQueue.Close(); err != nil {
			log.Printf("关闭通知队列失败: %v", err)
		}
	}()

	// 大模型客户端。provider 为 none 时助手退化为关键词路由。
	llmClient, err := createLLMClient(ctx, cfg)
	if err != nil {
		return err
	}

	// 认证服务。
	authService, err := auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:     cfg.Auth.JWTSecret,
			Issuer:     cfg.Auth.Issuer,
			AccessTTL:  cfg.Auth.AccessTTL,
			RefreshTTL: cfg.Auth.RefreshTTL,
		},
		Seeds: authSeeds(cfg.Auth.Seeds),
	}, authStore)
	if err != nil {
		return err
	}

	// 排期知识库。
	var knowledgeProvider knowledge.Provider
	if cfg.Assistant.KnowledgeSource != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Assistant.KnowledgeSource, cfg.Assistant.KnowledgeResults)
		if err != nil {
			return err
		}
		knowledgeProvider = provider
	}

	// 简报生成器先于助手构建，Briefing 意图直接复用。
	generator := briefing.NewGenerator(eventStore, llmClient,
		briefing.WithLLMTimeout(cfg.Assistant.LLMTimeout()),
		briefing.WithLocation(location),
	)

	assistantOpts := []assistant.Option{
		assistant.WithMemoryDepth(cfg.Assistant.MemoryDepth),
		assistant.WithLLMTimeout(cfg.Assistant.LLMTimeout()),
		assistant.WithMinConfidence(cfg.Assistant.MinConfidence),
		assistant.WithLocation(location),
		assistant.WithBriefer(generator),
	}
	if knowledgeProvider != nil {
		assistantOpts = append(assistantOpts, assistant.WithKnowledgeProvider(knowledgeProvider))
	}
	asst := assistant.New(llmClient, eventStore, sessionStore, assistantOpts...)

	// 通知渠道：按清单装配，未配置时退化为仅写日志。
	channelManager, err := createChannelManager(cfg.Notify.ChannelManifest)
	if err != nil {
		return err
	}
	if err := channelManager.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = channelManager.StopAll(stopCtx)
	}()

	notifyService := notify.NewService(notifyStore, notifyQueue, notify.WithMaxRetries(cfg.Notify.Retries))

	var alertDispatcher alerting.Dispatcher
	if cfg.Notify.AlertWebhook != "" {
		alertDispatcher = alerting.NewFanout(&alerting.WebhookNotifier{URL: cfg.Notify.AlertWebhook})
	}
	processor := notify.NewProcessor(
		notify.NewChannelSender(channelManager),
		notifyStore, notifyQueue, notifyQueue,
		notify.WithWorkerCount(cfg.Queue.Worker),
		notify.WithAlertDispatcher(alertDispatcher),
	)
	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("通知处理器异常退出: %v", err)
		}
	}()

	// 提醒扫描与每日简报定时任务。
	reminder, err := notify.NewReminderScanner(eventStore, notifyService,
		time.Duration(cfg.Notify.ReminderLeadMin)*time.Minute,
		cfg.Notify.ReminderScanCron, location,
	)
	if err != nil {
		return err
	}
	if err := reminder.Start(); err != nil {
		return err
	}
	defer reminder.Stop()

	briefingScheduler, err := briefing.NewScheduler(generator, authStore, notifyService, cfg.Briefing.Cron, location)
	if err != nil {
		return err
	}
	if err := briefingScheduler.Start(); err != nil {
		return err
	}
	defer briefingScheduler.Stop()

	serverOpts := []api.ServerOption{
		api.WithAuthService(authService),
		api.WithNotifyService(notifyService),
		api.WithBriefer(generator),
		api.WithCalendarName("CalPilot"),
	}

	// Google Calendar 单向拉取。
	if cfg.Google.Enabled {
		googleClient, err := calendar.NewGoogleClient(ctx, calendar.GoogleConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RefreshToken: cfg.Google.RefreshToken,
			CalendarID:   cfg.Google.CalendarID,
		})
		if err != nil {
			return err
		}
		syncer, err := calendar.NewSyncer(googleClient, eventStore, syncUserID(cfg), cfg.Google.SyncCron)
		if err != nil {
			return err
		}
		if err := syncer.Start(); err != nil {
			return err
		}
		defer syncer.Stop()
		serverOpts = append(serverOpts, api.WithSyncer(syncer))
	}

	// 独立的指标端口。
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, asst, eventStore, serverOpts...)
	return server.Start(ctx)
}

// createLLMClient 按配置装配大模型客户端，provider 为 none 时返回 nil。
func createLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "none":
		return nil, nil
	case "", "gemini":
		apiKey := strings.TrimSpace(cfg.LLM.Gemini.APIKey)
		if apiKey == "" {
			return nil, errors.New("Gemini provider 需要配置 api_key 或 api_key_env")
		}
		timeout := time.Duration(cfg.LLM.Gemini.TimeoutSeconds) * time.Second
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:  apiKey,
			Model:   cfg.LLM.Gemini.Model,
			Timeout: timeout,
		})
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	case "cmd_bridge":
		return cmdbridge.NewClient(cfg.LLM.CmdBridge.Command, cfg.LLM.CmdBridge.ScriptPath, cfg.LLM.CmdBridge.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// createChannelManager 加载通知渠道清单，缺省时启用日志渠道。
func createChannelManager(manifestPath string) (*channel.Manager, error) {
	manifest := channel.ManifestConfig{
		Default:  "log",
		Channels: map[string]channel.ChannelConfig{"log": {Enabled: true, Driver: "log"}},
	}
	if manifestPath != "" {
		loaded, err := channel.LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		manifest = loaded
	}
	return channel.NewManager(manifest, channel.WithResource(channel.ResourceLogger, logger.Named("channel")))
}

func resolveLocation(timezone string) (*time.Location, error) {
	switch timezone {
	case "", "Local":
		return time.Local, nil
	}
	return time.LoadLocation(timezone)
}

func authSeeds(seeds []config.AuthSeed) []auth.Seed {
	out := make([]auth.Seed, 0, len(seeds))
	for _, seed := range seeds {
		out = append(out, auth.Seed{
			Username:    seed.Username,
			Password:    seed.Password,
			Roles:       seed.Roles,
			Permissions: seed.Permissions,
			Disabled:    seed.Disabled,
		})
	}
	return out
}

// syncUserID 确定 Google 同步写入的账号：取第一个种子账号，缺省为 local。
func syncUserID(cfg *config.Config) string {
	if len(cfg.Auth.Seeds) > 0 {
		return cfg.Auth.Seeds[0].Username
	}
	return "local"
}
