package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// webhookChannel posts messages as JSON to an HTTP endpoint. The payload is
// the Message itself, so receivers can route on kind and user_id.
type webhookChannel struct {
	endpoint string
	timeout  time.Duration
	headers  map[string]string
	client   *http.Client
}

func newWebhookChannel() Channel {
	return &webhookChannel{timeout: defaultWebhookTimeout}
}

func (c *webhookChannel) Info() Info {
	return Info{
		ID:           "webhook",
		Name:         "Webhook Channel",
		Description:  "posts notifications to an HTTP endpoint",
		Version:      "1.0.0",
		Capabilities: []Capability{CapabilityNetwork},
	}
}

func (c *webhookChannel) Configure(cfg map[string]any) error {
	endpoint, ok := cfg["endpoint"].(string)
	if !ok || endpoint == "" {
		return errors.New("webhook channel requires an endpoint")
	}
	c.endpoint = endpoint
	if raw, ok := cfg["timeoutSeconds"]; ok {
		seconds, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("webhook timeoutSeconds: %w", err)
		}
		if seconds > 0 {
			c.timeout = time.Duration(seconds) * time.Second
		}
	}
	if raw, ok := cfg["headers"]; ok {
		headers, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("webhook headers: %w", err)
		}
		c.headers = headers
	}
	return nil
}

func (c *webhookChannel) Start(*ExecutionContext) error {
	c.client = &http.Client{Timeout: c.timeout}
	return nil
}

func (c *webhookChannel) Send(ctx context.Context, msg Message) error {
	if c.client == nil {
		return errors.New("webhook channel is not started")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *webhookChannel) Stop(*ExecutionContext) error {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	return nil
}

func builtinDrivers() map[string]Factory {
	return map[string]Factory{
		"log":     newLogChannel,
		"webhook": newWebhookChannel,
	}
}

func asInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
}

func asStringMap(raw any) (map[string]string, error) {
	switch v := raw.(type) {
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for key, value := range v {
			str, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("header %s must be a string", key)
			}
			out[key] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a map, got %T", raw)
	}
}
