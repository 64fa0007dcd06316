package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DotEnvFile is the optional dotenv file consulted by FromEnv.
const DotEnvFile = ".env"

// LoadDotEnv loads key/value pairs from the given dotenv files without overriding
// variables already present in the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{DotEnvFile}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// EnvironmentFromEnv resolves the runtime environment, defaulting to dev.
func EnvironmentFromEnv() Environment {
	if env := strings.TrimSpace(os.Getenv("EVENTLINE_ENV")); env != "" {
		return Environment(strings.ToLower(env))
	}
	return EnvDev
}

// FromEnv loads channel configuration from environment variables, overriding defaults.
// A .env file in the working directory is consulted first; real environment
// variables always win over dotenv values.
func FromEnv() ChannelConfig {
	_ = LoadDotEnv()
	return overlayEnv(Default())
}

func overlayEnv(cfg ChannelConfig) ChannelConfig {
	if v := strings.TrimSpace(os.Getenv("EVENTLINE_ADDRESS")); v != "" {
		cfg.Address = v
	}
	if v, ok := envBool("EVENTLINE_AUTOCONNECT"); ok {
		cfg.AutoConnect = v
	}
	if v, ok := envBool("EVENTLINE_RECONNECTION"); ok {
		cfg.Reconnection = v
	}
	if v := strings.TrimSpace(os.Getenv("EVENTLINE_RECONNECTION_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReconnectionAttempts = n
		}
	}
	if v, ok := envDuration("EVENTLINE_RECONNECTION_DELAY"); ok {
		cfg.ReconnectionDelay = v
	}
	if v, ok := envDuration("EVENTLINE_RECONNECTION_DELAY_MAX"); ok {
		cfg.ReconnectionDelayMax = v
	}
	if v, ok := envDuration("EVENTLINE_TIMEOUT"); ok {
		cfg.Timeout = v
	}
	if v := strings.TrimSpace(os.Getenv("EVENTLINE_AUTH_TOKEN")); v != "" {
		cfg = Apply(cfg, WithAuth("token", v))
	}
	return cfg
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// envDuration accepts Go durations ("1.5s") or bare integers in milliseconds.
func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		if ms < 0 {
			return 0, false
		}
		return time.Duration(ms) * time.Millisecond, true
	}
	dur, err := time.ParseDuration(raw)
	if err != nil || dur < 0 {
		return 0, false
	}
	return dur, true
}
