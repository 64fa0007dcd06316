package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultChannelConfig(t *testing.T) {
	cfg := Default()
	if cfg.Address != DefaultAddress {
		t.Fatalf("expected default address %q, got %q", DefaultAddress, cfg.Address)
	}
	if !cfg.AutoConnect || !cfg.Reconnection {
		t.Fatalf("expected autoconnect and reconnection enabled by default")
	}
	if cfg.ReconnectionDelay != time.Second || cfg.ReconnectionDelayMax != 30*time.Second {
		t.Fatalf("unexpected reconnection delays %s/%s", cfg.ReconnectionDelay, cfg.ReconnectionDelayMax)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestApplyClonesMaps(t *testing.T) {
	base := Apply(Default(), WithAuth("token", "abc"), WithQuery("room", "lobby"))
	derived := Apply(base, WithAuth("token", "xyz"), WithExtra("writeBurst", 4))

	if base.Auth["token"] != "abc" {
		t.Fatalf("expected base auth to be untouched, got %q", base.Auth["token"])
	}
	if derived.Auth["token"] != "xyz" {
		t.Fatalf("expected derived auth override, got %q", derived.Auth["token"])
	}
	if derived.Query["room"] != "lobby" {
		t.Fatalf("expected query to carry over")
	}
	if _, ok := base.Extra["writeBurst"]; ok {
		t.Fatalf("extra must not leak into base config")
	}
}

func TestApplyOptions(t *testing.T) {
	cfg := Apply(Default(),
		WithAddress("  ws://example.test/socket  "),
		WithAutoConnect(false),
		WithReconnection(false, 3, 2*time.Second, 10*time.Second),
		WithTimeout(5*time.Second),
		WithTransports(" WebSocket ", "", "memory"),
	)
	if cfg.Address != "ws://example.test/socket" {
		t.Fatalf("expected trimmed address, got %q", cfg.Address)
	}
	if cfg.AutoConnect || cfg.Reconnection {
		t.Fatalf("expected autoconnect and reconnection disabled")
	}
	if cfg.ReconnectionAttempts != 3 || cfg.ReconnectionDelay != 2*time.Second || cfg.ReconnectionDelayMax != 10*time.Second {
		t.Fatalf("unexpected reconnection policy %+v", cfg)
	}
	if cfg.Timeout != 5*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.Timeout)
	}
	if len(cfg.Transports) != 2 || cfg.Transports[0] != TransportWebsocket || cfg.Transports[1] != TransportMemory {
		t.Fatalf("unexpected transports %v", cfg.Transports)
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cases := map[string]ChannelConfig{
		"missing address": Apply(Default(), WithAddress("")),
		"negative attempts": func() ChannelConfig {
			c := Default()
			c.ReconnectionAttempts = -1
			return c
		}(),
		"max below base": func() ChannelConfig {
			c := Default()
			c.ReconnectionDelay = 5 * time.Second
			c.ReconnectionDelayMax = time.Second
			return c
		}(),
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFromEnvOverridesValues(t *testing.T) {
	t.Setenv("EVENTLINE_ADDRESS", "ws://env.test/socket")
	t.Setenv("EVENTLINE_AUTOCONNECT", "false")
	t.Setenv("EVENTLINE_RECONNECTION", "false")
	t.Setenv("EVENTLINE_RECONNECTION_ATTEMPTS", "9")
	t.Setenv("EVENTLINE_RECONNECTION_DELAY", "250")
	t.Setenv("EVENTLINE_RECONNECTION_DELAY_MAX", "4s")
	t.Setenv("EVENTLINE_TIMEOUT", "bogus")
	t.Setenv("EVENTLINE_AUTH_TOKEN", "secret")

	cfg := overlayEnv(Default())
	if cfg.Address != "ws://env.test/socket" {
		t.Fatalf("expected env address, got %q", cfg.Address)
	}
	if cfg.AutoConnect || cfg.Reconnection {
		t.Fatalf("expected boolean overrides to apply")
	}
	if cfg.ReconnectionAttempts != 9 {
		t.Fatalf("expected 9 attempts, got %d", cfg.ReconnectionAttempts)
	}
	if cfg.ReconnectionDelay != 250*time.Millisecond {
		t.Fatalf("expected millisecond delay, got %s", cfg.ReconnectionDelay)
	}
	if cfg.ReconnectionDelayMax != 4*time.Second {
		t.Fatalf("expected duration max delay, got %s", cfg.ReconnectionDelayMax)
	}
	if cfg.Timeout != Default().Timeout {
		t.Fatalf("invalid timeout must keep default, got %s", cfg.Timeout)
	}
	if cfg.Auth["token"] != "secret" {
		t.Fatalf("expected auth token from env")
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "EVENTLINE_ADDRESS=ws://dotenv.test/socket\nEVENTLINE_RECONNECTION_ATTEMPTS=2\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	t.Setenv("EVENTLINE_ADDRESS", "ws://process.test/socket")
	t.Setenv("EVENTLINE_RECONNECTION_ATTEMPTS", "")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	cfg := overlayEnv(Default())
	if cfg.Address != "ws://process.test/socket" {
		t.Fatalf("process environment must win, got %q", cfg.Address)
	}
}
