package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg, loaded, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected defaults, got %v", err)
	}
	if loaded {
		t.Fatalf("expected loaded=false for missing file")
	}
	if cfg.Server.Path != "/socket" {
		t.Fatalf("expected default server path, got %q", cfg.Server.Path)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
environment: STAGING
channel:
  address: ws://chat.test/socket
  autoConnect: false
  reconnection: true
  reconnectionAttempts: 7
  reconnectionDelay: 500ms
  reconnectionDelayMax: 8s
  transports: [WebSocket, websocket, memory]
  auth:
    token: abc
  query:
    room: lobby
  writeRateLimit: 20
  writeBurst: 5
server:
  addr: ":9999"
  path: ws
telemetry:
  serviceName: chat-client
logging:
  level: DEBUG
  pretty: true
`)

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Environment != EnvStaging {
		t.Fatalf("expected staging, got %q", cfg.Environment)
	}
	ch := cfg.Channel
	if ch.Address != "ws://chat.test/socket" || ch.AutoConnect {
		t.Fatalf("unexpected channel settings %+v", ch)
	}
	if ch.ReconnectionAttempts != 7 || ch.ReconnectionDelay != 500*time.Millisecond || ch.ReconnectionDelayMax != 8*time.Second {
		t.Fatalf("unexpected reconnection policy %+v", ch)
	}
	if len(ch.Transports) != 2 {
		t.Fatalf("expected deduplicated transports, got %v", ch.Transports)
	}
	if ch.Auth["token"] != "abc" || ch.Query["room"] != "lobby" {
		t.Fatalf("expected auth and query records")
	}
	if ch.Extra["writeRateLimit"] != 20 || ch.Extra["writeBurst"] != 5 {
		t.Fatalf("expected unknown keys passed through, got %v", ch.Extra)
	}
	if cfg.Server.Path != "/ws" {
		t.Fatalf("expected normalised server path, got %q", cfg.Server.Path)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Pretty {
		t.Fatalf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	path := writeConfig(t, `
environment: dev
channel:
  address: ws://chat.test/socket
  transports: [carrier-pigeon]
`)
	_, err := Load(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "unsupported transport") {
		t.Fatalf("expected unsupported transport error, got %v", err)
	}
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	path := writeConfig(t, "environment: moon\n")
	if _, err := Load(context.Background(), path); err == nil {
		t.Fatalf("expected environment validation error")
	}
}
