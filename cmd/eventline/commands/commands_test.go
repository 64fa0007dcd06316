package commands

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/internal/observability"
)

func TestResolveConfigPath(t *testing.T) {
	require.Equal(t, defaultConfigPath, resolveConfigPath(""))
	require.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
}

func TestTokenAuthenticator(t *testing.T) {
	check := tokenAuthenticator("s3cret")
	require.NoError(t, check(map[string]string{"token": "s3cret", "user": "ana"}))
	require.Error(t, check(map[string]string{"token": "nope"}))
	require.Error(t, check(nil))
}

func TestHealthz(t *testing.T) {
	mux := newMux("/socket", http.NotFoundHandler())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	require.Equal(t, "ok", string(body))
}

func TestChatSessionJoinsConfiguredRoom(t *testing.T) {
	appCfg := config.DefaultApp()
	appCfg.Channel.Auth = map[string]string{"token": "s3cret"}
	appCfg.Channel.Reconnection = false

	srv := newChatServer(appCfg, observability.Nop(), nil)
	hs := httptest.NewServer(newMux("/socket", srv))
	t.Cleanup(func() {
		_ = srv.Close()
		hs.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session, err := newChatSession(ctx, appCfg, observability.Nop(), chatSessionConfig{
		user:    "ana",
		room:    "lobby",
		address: "ws" + strings.TrimPrefix(hs.URL, "http") + "/socket",
	})
	require.NoError(t, err)
	t.Cleanup(session.ch.Disconnect)

	require.NoError(t, session.ch.Init(session.overrides...))
	require.Eventually(t, func() bool { return session.client.Room() == "lobby" }, 5*time.Second, 10*time.Millisecond)

	seq, queued, err := session.client.Send(ctx, "hello")
	require.NoError(t, err)
	require.False(t, queued)
	require.Equal(t, int64(1), seq)

	resolved, ok := session.ch.Config()
	require.True(t, ok)
	require.Equal(t, "ana", resolved.Auth["user"])
	require.Equal(t, "s3cret", resolved.Auth["token"])
}

func TestNewChatSessionRequiresUser(t *testing.T) {
	_, err := newChatSession(context.Background(), config.DefaultApp(), observability.Nop(), chatSessionConfig{})
	require.Error(t, err)
}

func TestGracefulShutdownWithNothingRunning(t *testing.T) {
	errs := performGracefulShutdown(context.Background(), observability.Nop(), gracefulShutdownConfig{})
	require.Empty(t, errs)
}
