package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/internal/app/chat"
	"github.com/coachpo/eventline/internal/channel"
	"github.com/coachpo/eventline/internal/observability"
	"github.com/coachpo/eventline/internal/transport"
	"github.com/coachpo/eventline/internal/transport/websocket"
)

var (
	chatUser    string
	chatRoom    string
	chatAddress string
	chatBackoff bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a chat server interactively",
	Long: `Connect to an eventline chat server and read commands from stdin.

Plain lines are sent to the current room. Commands:
  /join <room>  /leave  /typing  /reconnect  /status  /quit

Messages typed while offline are queued and delivered after reconnecting.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "", "Display name (required)")
	chatCmd.Flags().StringVarP(&chatRoom, "room", "r", "lobby", "Room joined on connect")
	chatCmd.Flags().StringVar(&chatAddress, "addr", "", "Server address; overrides channel.address")
	chatCmd.Flags().BoolVar(&chatBackoff, "backoff", false, "Reconnect with exponential backoff instead of transport redial")
	_ = chatCmd.MarkFlagRequired("user")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	appCfg, logger, err := loadApp(ctx)
	if err != nil {
		return err
	}
	session, err := newChatSession(ctx, appCfg, logger, chatSessionConfig{
		user:    chatUser,
		room:    chatRoom,
		address: chatAddress,
		backoff: chatBackoff,
	})
	if err != nil {
		return err
	}
	defer session.ch.Disconnect()

	if err := session.ch.Init(session.overrides...); err != nil {
		return err
	}
	return session.client.Run(ctx, os.Stdin)
}

type chatSessionConfig struct {
	user    string
	room    string
	address string
	backoff bool
}

type chatSession struct {
	ch        *channel.Channel
	client    *chat.Client
	overrides []config.Option
}

// newChatSession wires a channel and chat client. The channel is not
// connected until Init is called with the returned overrides.
func newChatSession(ctx context.Context, appCfg config.AppConfig, logger observability.Logger, cfg chatSessionConfig) (*chatSession, error) {
	if cfg.user == "" {
		return nil, errors.New("user required")
	}
	s := &chatSession{}

	hooks := channel.Hooks{
		OnConnect: func() {
			s.client.Notify("connected as %s (%s)", cfg.user, s.ch.ID())
			room := s.client.Room()
			if room == "" {
				room = cfg.room
			}
			if room == "" {
				return
			}
			if _, err := s.client.Join(ctx, room); err != nil {
				s.client.Notify("join %s failed: %v", room, err)
			}
		},
		OnDisconnect: func(reason string) {
			s.client.Notify("disconnected: %s", reason)
			if cfg.backoff && reason != transport.ReasonClientDisconnect {
				delay := s.ch.ReconnectWithBackoff()
				s.client.Notify("reconnecting in %s", delay)
			}
		},
		OnConnectError: func(err error) {
			s.client.Notify("connect failed: %v", err)
			if cfg.backoff {
				delay := s.ch.ReconnectWithBackoff()
				s.client.Notify("retrying in %s", delay)
			}
		},
	}

	ch, err := channel.New(chat.Contracts(),
		channel.WithTransport(websocket.NewFactory(websocket.WithLogger(logger))),
		channel.WithConfig(appCfg.Channel),
		channel.WithHooks(hooks),
		channel.WithLogger(logger),
		channel.WithName("chat"),
	)
	if err != nil {
		return nil, err
	}
	if appCfg.Logging.Debug {
		ch.EnableDebug()
	}
	ch.Use(chat.LogMiddleware(logger))

	client, err := chat.NewClient(ch, cfg.user, os.Stdout)
	if err != nil {
		return nil, err
	}
	s.ch, s.client = ch, client

	s.overrides = []config.Option{config.WithAuth("user", cfg.user)}
	if cfg.room != "" {
		s.overrides = append(s.overrides, config.WithAuth("room", cfg.room))
	}
	if cfg.address != "" {
		s.overrides = append(s.overrides, config.WithAddress(cfg.address))
	}
	if cfg.backoff {
		base := appCfg.Channel
		s.overrides = append(s.overrides, config.WithReconnection(false, base.ReconnectionAttempts, base.ReconnectionDelay, base.ReconnectionDelayMax))
	}
	return s, nil
}
