package channel

import (
	"context"
	"errors"
	"log/slog"
)

// ResourceLogger is the resource key under which the host may expose a *slog.Logger.
const ResourceLogger = "logger"

// logChannel writes messages to the application log. It is the channel of last
// resort and is useful in development and as a manifest default.
type logChannel struct {
	logger *slog.Logger
	level  slog.Level
}

func newLogChannel() Channel {
	return &logChannel{level: slog.LevelInfo}
}

func (c *logChannel) Info() Info {
	return Info{
		ID:          "log",
		Name:        "Log Channel",
		Description: "writes notifications to the application log",
		Version:     "1.0.0",
	}
}

func (c *logChannel) Configure(cfg map[string]any) error {
	raw, ok := cfg["level"]
	if !ok {
		return nil
	}
	level, ok := raw.(string)
	if !ok {
		return errors.New("log channel level must be a string")
	}
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return err
	}
	c.level = parsed
	return nil
}

func (c *logChannel) Start(ctx *ExecutionContext) error {
	if hosted, ok := ctx.Resources[ResourceLogger].(*slog.Logger); ok {
		c.logger = hosted
	} else {
		c.logger = slog.Default()
	}
	return nil
}

func (c *logChannel) Send(ctx context.Context, msg Message) error {
	if c.logger == nil {
		return errors.New("log channel is not started")
	}
	c.logger.Log(ctx, c.level, msg.Title,
		slog.String("notification_id", msg.ID),
		slog.String("user_id", msg.UserID),
		slog.String("kind", msg.Kind),
		slog.String("body", msg.Body),
	)
	return nil
}

func (c *logChannel) Stop(*ExecutionContext) error {
	c.logger = nil
	return nil
}
