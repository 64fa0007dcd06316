package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the websocket server surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	Debug  bool   `yaml:"debug"`
}

// AppConfig is the unified eventline application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Channel     ChannelConfig   `yaml:"channel"`
	Server      ServerConfig    `yaml:"server"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// DefaultApp returns the application defaults, with channel values overlaid from the environment.
func DefaultApp() AppConfig {
	return AppConfig{
		Environment: EnvironmentFromEnv(),
		Channel:     FromEnv(),
		Server:      ServerConfig{Addr: ":8080", Path: "/socket"},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "",
			ServiceName:   "eventline",
			OTLPInsecure:  true,
			EnableMetrics: false,
		},
		Logging: LoggingConfig{Level: "info", Pretty: false, Debug: false},
	}
}

// Load reads and validates an AppConfig from the provided YAML file.
// Keys missing from the file keep their DefaultApp values.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultApp()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads the config file when it exists and falls back to DefaultApp otherwise.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	if strings.TrimSpace(configPath) == "" {
		cfg := DefaultApp()
		cfg.normalise()
		return cfg, false, cfg.Validate()
	}
	cfg, err := Load(ctx, configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = DefaultApp()
			cfg.normalise()
			return cfg, false, cfg.Validate()
		}
		return AppConfig{}, false, err
	}
	return cfg, true, nil
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Channel.Address = strings.TrimSpace(c.Channel.Address)
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Server.Path = strings.TrimSpace(c.Server.Path)
	if c.Server.Path == "" {
		c.Server.Path = "/socket"
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		c.Server.Path = "/" + c.Server.Path
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if len(c.Channel.Transports) > 0 {
		seen := make(map[string]struct{}, len(c.Channel.Transports))
		normalized := make([]string, 0, len(c.Channel.Transports))
		for _, t := range c.Channel.Transports {
			key := strings.ToLower(strings.TrimSpace(t))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			normalized = append(normalized, key)
		}
		c.Channel.Transports = normalized
	}
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if err := c.Channel.Validate(); err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	for _, t := range c.Channel.Transports {
		switch t {
		case TransportWebsocket, TransportMemory:
		default:
			return fmt.Errorf("channel: unsupported transport %q", t)
		}
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr required")
	}
	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
