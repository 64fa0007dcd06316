package commands

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/internal/app/chat"
	"github.com/coachpo/eventline/internal/observability"
	"github.com/coachpo/eventline/internal/telemetry"
	"github.com/coachpo/eventline/internal/transport/websocket"
)

const (
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the websocket chat server",
	Long: `Start the chat hub behind a websocket endpoint.

Clients connect to ws://<addr><path>. When EVENTLINE_AUTH_TOKEN is set,
clients must present the same token in their auth record.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address; overrides server.addr")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	appCfg, logger, err := loadApp(ctx)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		appCfg.Server.Addr = serveAddr
	}

	provider, err := initTelemetry(ctx, logger, appCfg)
	if err != nil {
		return err
	}

	wsServer := newChatServer(appCfg, logger, provider)
	server := &http.Server{
		Addr:              appCfg.Server.Addr,
		Handler:           newMux(appCfg.Server.Path, wsServer),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lifecycle conc.WaitGroup
	serveErr := make(chan error, 1)
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})
	logger.Info("chat server listening",
		observability.F("addr", appCfg.Server.Addr),
		observability.F("path", appCfg.Server.Path))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
	case runErr = <-serveErr:
		logger.Error("chat server failed", observability.Err(runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	start := time.Now()
	errs := performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     server,
		sessions:   wsServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		telemetry:  provider,
	})
	logger.Info("shutdown completed", observability.F("elapsed", time.Since(start).String()))

	if runErr != nil {
		return runErr
	}
	return observability.AggregateErrors(logger, "shutdown", errs)
}

func initTelemetry(ctx context.Context, logger observability.Logger, appCfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if appCfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = appCfg.Telemetry.OTLPEndpoint
	}
	if appCfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = appCfg.Telemetry.ServiceName
	}
	telemetryCfg.Environment = string(appCfg.Environment)
	telemetryCfg.OTLPInsecure = appCfg.Telemetry.OTLPInsecure
	telemetryCfg.Enabled = appCfg.Telemetry.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if provider.Enabled() {
		logger.Info("telemetry initialized",
			observability.F("endpoint", telemetryCfg.OTLPEndpoint),
			observability.F("service", telemetryCfg.ServiceName))
	} else {
		logger.Info("telemetry disabled")
	}
	return provider, nil
}

// newChatServer builds the websocket server with the chat hub installed.
func newChatServer(appCfg config.AppConfig, logger observability.Logger, provider *telemetry.Provider) *websocket.Server {
	opts := []websocket.ServerOption{
		websocket.WithServerLogger(logger),
		websocket.WithMeterProvider(provider.MeterProvider()),
	}
	if token := appCfg.Channel.Auth["token"]; token != "" {
		opts = append(opts, websocket.WithAuthenticator(tokenAuthenticator(token)))
	}
	srv := websocket.NewServer(opts...)
	chat.NewHub(chat.WithHubLogger(logger)).Register(srv)
	return srv
}

func tokenAuthenticator(token string) websocket.Authenticator {
	want := []byte(token)
	return func(auth map[string]string) error {
		if subtle.ConstantTimeCompare([]byte(auth["token"]), want) != 1 {
			return errors.New("invalid token")
		}
		return nil
	}
}

func newMux(path string, ws http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(path, ws)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type gracefulShutdownConfig struct {
	server     *http.Server
	sessions   *websocket.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger observability.Logger, cfg gracefulShutdownConfig) []error {
	var errs []error
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Info("shutdown: " + name)
		if err := fn(stepCtx); err != nil {
			logger.Error("shutdown step failed", observability.F("step", name), observability.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		logger.Debug("shutdown step completed", observability.F("step", name))
	}

	// Sessions are hijacked connections, so http.Server.Shutdown does not wait for them.
	if cfg.sessions != nil {
		shutdownStep("closing websocket sessions", serverShutdownTimeout, func(context.Context) error {
			return cfg.sessions.Close()
		})
	}
	if cfg.server != nil {
		shutdownStep("stopping http server", serverShutdownTimeout, cfg.server.Shutdown)
	}
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}
	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}
	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry.Shutdown)
	}
	return errs
}
