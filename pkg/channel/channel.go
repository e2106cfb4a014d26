package channel

import "context"

// Message is the transport neutral payload handed to a delivery channel.
type Message struct {
	ID       string            `json:"id"`
	UserID   string            `json:"user_id"`
	Kind     string            `json:"kind"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	EventID  string            `json:"event_id,omitempty"`
	Channel  string            `json:"channel,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Channel defines the lifecycle hooks every delivery channel must satisfy.
type Channel interface {
	// Info returns the static metadata for the channel.
	Info() Info
	// Configure allows the channel to inspect its configuration block prior to startup.
	// Implementations may mutate the configuration map to inject defaults.
	Configure(cfg map[string]any) error
	// Start prepares the channel for delivery and should acquire any connections it needs.
	Start(ctx *ExecutionContext) error
	// Send delivers a single message. It is only called while the channel is started.
	Send(ctx context.Context, msg Message) error
	// Stop gracefully halts the channel and releases any resources.
	Stop(ctx *ExecutionContext) error
}

// Factory constructs a fresh channel instance for a manifest driver name.
type Factory func() Channel

// ExecutionContext is passed to channels for every lifecycle stage.
type ExecutionContext struct {
	// C is the underlying context for cancellation and deadlines.
	C context.Context
	// Config is the channel specific configuration block from the manifest.
	Config map[string]any
	// Resources exposes shared services supplied by the host application.
	Resources map[string]any
}

// Clone returns a shallow copy of the execution context so channels can safely mutate maps.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Config != nil {
		dup.Config = make(map[string]any, len(c.Config))
		for k, v := range c.Config {
			dup.Config[k] = v
		}
	}
	if c.Resources != nil {
		dup.Resources = make(map[string]any, len(c.Resources))
		for k, v := range c.Resources {
			dup.Resources[k] = v
		}
	}
	return &dup
}

// Option modifies the behaviour of a channel manager instance.
type Option func(*Manager)

// WithDriver registers an additional driver factory under the given name.
func WithDriver(name string, factory Factory) Option {
	return func(m *Manager) {
		if name == "" || factory == nil {
			return
		}
		m.drivers[name] = factory
	}
}

// WithResource registers a shared resource that will be exposed to all channels.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		if m.resources == nil {
			m.resources = make(map[string]any)
		}
		m.resources[key] = value
	}
}
