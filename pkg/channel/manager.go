package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Manager keeps track of configured delivery channels and orchestrates their lifecycle.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*instance
	drivers   map[string]Factory
	resources map[string]any
	defaults  IsolationPolicy
	fallback  string
}

type instance struct {
	mu      sync.Mutex
	Channel Channel
	Info    Info
	State   State
	Config  map[string]any
	Policy  IsolationPolicy
}

// NewManager constructs a manager from a manifest and the supplied options.
// The log and webhook drivers are built in; additional drivers can be added
// through WithDriver before the manifest is resolved.
func NewManager(cfg ManifestConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:  make(map[string]*instance),
		drivers:   builtinDrivers(),
		resources: make(map[string]any),
		defaults:  cfg.Defaults,
		fallback:  cfg.Default,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfigured(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Register registers a channel instance directly with the manager.
func (m *Manager) Register(name string, ch Channel, cfg map[string]any, policy IsolationPolicy) error {
	if name == "" {
		return errors.New("channel name cannot be empty")
	}
	if ch == nil {
		return errors.New("channel implementation cannot be nil")
	}
	info := ch.Info()
	policy = resolvePolicy(m.defaults, &policy)
	if err := policy.Permits(info.Capabilities); err != nil {
		return err
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := ch.Configure(cfg); err != nil {
		return fmt.Errorf("configure channel %s: %w", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[name]; exists {
		return fmt.Errorf("channel %s already registered", name)
	}
	m.registry[name] = &instance{Channel: ch, Info: mergeInfo(info, name), State: StateRegistered, Config: cfg, Policy: policy}
	return nil
}

// Start activates a channel by name.
func (m *Manager) Start(ctx context.Context, name string) error {
	inst, err := m.get(name)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State == StateStarted {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}
	if err := inst.Channel.Start(execCtx.Clone()); err != nil {
		return fmt.Errorf("start channel %s: %w", name, err)
	}
	inst.State = StateStarted
	return nil
}

// Stop halts a channel if it is running.
func (m *Manager) Stop(ctx context.Context, name string) error {
	inst, err := m.get(name)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State != StateStarted {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}
	if err := inst.Channel.Stop(execCtx.Clone()); err != nil {
		return fmt.Errorf("stop channel %s: %w", name, err)
	}
	inst.State = StateStopped
	return nil
}

// StartAll starts every registered channel.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, name := range m.names() {
		if err := m.Start(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every active channel.
func (m *Manager) StopAll(ctx context.Context) error {
	for _, name := range m.names() {
		if err := m.Stop(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch routes a message to the channel it names, falling back to the
// manifest default when the message does not request one.
func (m *Manager) Dispatch(ctx context.Context, msg Message) error {
	name := msg.Channel
	if name == "" {
		name = m.fallback
	}
	if name == "" {
		return errors.New("message names no channel and no default is configured")
	}
	inst, err := m.get(name)
	if err != nil {
		if m.fallback == "" || name == m.fallback {
			return err
		}
		inst, err = m.get(m.fallback)
		if err != nil {
			return err
		}
	}
	inst.mu.Lock()
	state := inst.State
	inst.mu.Unlock()
	if state != StateStarted {
		return fmt.Errorf("channel %s is not started", inst.Info.ID)
	}
	return inst.Channel.Send(ctx, msg)
}

// State returns the lifecycle state of a channel.
func (m *Manager) State(name string) (State, error) {
	inst, err := m.get(name)
	if err != nil {
		return "", err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.State, nil
}

func (m *Manager) get(name string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[name]
	if !ok {
		return nil, fmt.Errorf("channel %s not registered", name)
	}
	return inst, nil
}

func (m *Manager) names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.registry))
	for name := range m.registry {
		names = append(names, name)
	}
	return names
}

func (m *Manager) loadConfigured(cfg ManifestConfig) error {
	for name, chCfg := range cfg.Channels {
		if !chCfg.Enabled {
			continue
		}
		factory, ok := m.drivers[chCfg.Driver]
		if !ok {
			return fmt.Errorf("channel %s references unknown driver %s", name, chCfg.Driver)
		}
		policy := resolvePolicy(cfg.Defaults, chCfg.Policy)
		if err := m.Register(name, factory(), cloneConfig(chCfg.Config), policy); err != nil {
			return err
		}
	}
	return nil
}

func mergeInfo(info Info, name string) Info {
	if info.ID == "" {
		info.ID = name
	}
	return info
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
