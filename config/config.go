// Package config centralises configuration for eventline channels and services.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Environment identifies the runtime environment where eventline operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

const (
	// DefaultAddress is the websocket endpoint used when nothing else is configured.
	DefaultAddress = "ws://localhost:8080/socket"
	// TransportWebsocket names the websocket transport.
	TransportWebsocket = "websocket"
	// TransportMemory names the in-process transport.
	TransportMemory = "memory"
)

// ChannelConfig is the resolved configuration record consumed once by a channel.
type ChannelConfig struct {
	Address              string            `yaml:"address"`
	AutoConnect          bool              `yaml:"autoConnect"`
	Reconnection         bool              `yaml:"reconnection"`
	ReconnectionAttempts int               `yaml:"reconnectionAttempts"`
	ReconnectionDelay    time.Duration     `yaml:"reconnectionDelay"`
	ReconnectionDelayMax time.Duration     `yaml:"reconnectionDelayMax"`
	Timeout              time.Duration     `yaml:"timeout"`
	Transports           []string          `yaml:"transports"`
	Auth                 map[string]string `yaml:"auth"`
	Query                map[string]string `yaml:"query"`
	// Extra carries unknown keys through to the transport untouched.
	Extra map[string]any `yaml:",inline"`
}

// Default returns the default channel configuration.
func Default() ChannelConfig {
	return ChannelConfig{
		Address:              DefaultAddress,
		AutoConnect:          true,
		Reconnection:         true,
		ReconnectionAttempts: 5,
		ReconnectionDelay:    time.Second,
		ReconnectionDelayMax: 30 * time.Second,
		Timeout:              20 * time.Second,
		Transports:           []string{TransportWebsocket},
		Auth:                 nil,
		Query:                nil,
		Extra:                nil,
	}
}

// HasAddress reports whether a target address is configured.
func (c ChannelConfig) HasAddress() bool {
	return strings.TrimSpace(c.Address) != ""
}

// Validate performs semantic validation on the channel configuration.
func (c ChannelConfig) Validate() error {
	addr := strings.TrimSpace(c.Address)
	if addr == "" {
		return fmt.Errorf("address required")
	}
	if _, err := url.Parse(addr); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	if c.ReconnectionAttempts < 0 {
		return fmt.Errorf("reconnectionAttempts must be >=0")
	}
	if c.ReconnectionDelay < 0 {
		return fmt.Errorf("reconnectionDelay must be >=0")
	}
	if c.ReconnectionDelayMax > 0 && c.ReconnectionDelayMax < c.ReconnectionDelay {
		return fmt.Errorf("reconnectionDelayMax must be >= reconnectionDelay")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >=0")
	}
	return nil
}

// Option mutates a ChannelConfig when applied via Apply.
type Option func(*ChannelConfig)

// Apply applies the provided Option set to a copy of the base configuration.
func Apply(base ChannelConfig, opts ...Option) ChannelConfig {
	cfg := base.clone()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithAddress overrides the target address.
func WithAddress(address string) Option {
	address = strings.TrimSpace(address)
	return func(c *ChannelConfig) {
		c.Address = address
	}
}

// WithAutoConnect toggles connecting as soon as the transport is opened.
func WithAutoConnect(enabled bool) Option {
	return func(c *ChannelConfig) {
		c.AutoConnect = enabled
	}
}

// WithReconnection configures the transport-level reconnection policy.
func WithReconnection(enabled bool, attempts int, delay, maxDelay time.Duration) Option {
	return func(c *ChannelConfig) {
		c.Reconnection = enabled
		if attempts >= 0 {
			c.ReconnectionAttempts = attempts
		}
		if delay > 0 {
			c.ReconnectionDelay = delay
		}
		if maxDelay > 0 {
			c.ReconnectionDelayMax = maxDelay
		}
	}
}

// WithTimeout overrides the connect timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *ChannelConfig) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithTransports replaces the ordered transport preference list.
func WithTransports(transports ...string) Option {
	return func(c *ChannelConfig) {
		out := make([]string, 0, len(transports))
		for _, t := range transports {
			if trimmed := strings.ToLower(strings.TrimSpace(t)); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		c.Transports = out
	}
}

// WithAuth sets a single auth record entry sent during the handshake.
func WithAuth(key, value string) Option {
	key = strings.TrimSpace(key)
	return func(c *ChannelConfig) {
		if key == "" {
			return
		}
		if c.Auth == nil {
			c.Auth = make(map[string]string, 1)
		}
		c.Auth[key] = value
	}
}

// WithQuery sets a single query parameter appended to the address.
func WithQuery(key, value string) Option {
	key = strings.TrimSpace(key)
	return func(c *ChannelConfig) {
		if key == "" {
			return
		}
		if c.Query == nil {
			c.Query = make(map[string]string, 1)
		}
		c.Query[key] = value
	}
}

// WithExtra passes an opaque key through to the transport.
func WithExtra(key string, value any) Option {
	key = strings.TrimSpace(key)
	return func(c *ChannelConfig) {
		if key == "" {
			return
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any, 1)
		}
		c.Extra[key] = value
	}
}

func (c ChannelConfig) clone() ChannelConfig {
	out := c
	if c.Transports != nil {
		out.Transports = append([]string(nil), c.Transports...)
	}
	out.Auth = cloneStringMap(c.Auth)
	out.Query = cloneStringMap(c.Query)
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func cloneStringMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
