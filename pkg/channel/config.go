package channel

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManifestConfig describes the delivery channels the manager should run.
type ManifestConfig struct {
	// Default names the channel used for messages that do not request one.
	Default  string                   `yaml:"default"`
	Defaults IsolationPolicy          `yaml:"defaults"`
	Channels map[string]ChannelConfig `yaml:"channels"`
}

// ChannelConfig is the configuration block for a single channel instance.
type ChannelConfig struct {
	Enabled bool             `yaml:"enabled"`
	Driver  string           `yaml:"driver"`
	Config  map[string]any   `yaml:"config"`
	Policy  *IsolationPolicy `yaml:"policy"`
}

// IsolationPolicy governs the capability restrictions enforced for a channel.
type IsolationPolicy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities"`
}

// Merge returns a new policy using values from other when not present.
func (p IsolationPolicy) Merge(other IsolationPolicy) IsolationPolicy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	return p
}

// LoadManifest reads a YAML file into a ManifestConfig.
func LoadManifest(path string) (ManifestConfig, error) {
	var cfg ManifestConfig
	if path == "" {
		return cfg, errors.New("manifest path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read channel manifest: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal channel manifest: %w", err)
	}
	if cfg.Channels == nil {
		cfg.Channels = map[string]ChannelConfig{}
	}
	return cfg, nil
}

// Validate ensures the manifest is internally consistent.
func (c ManifestConfig) Validate() error {
	for name, ch := range c.Channels {
		if name == "" {
			return errors.New("channel name cannot be empty")
		}
		if !ch.Enabled {
			continue
		}
		if ch.Driver == "" {
			return fmt.Errorf("channel %s driver cannot be empty when enabled", name)
		}
	}
	if c.Default != "" {
		ch, ok := c.Channels[c.Default]
		if !ok || !ch.Enabled {
			return fmt.Errorf("default channel %s is not enabled", c.Default)
		}
	}
	return nil
}
