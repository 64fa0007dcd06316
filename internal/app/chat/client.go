package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/eventline/errs"
	"github.com/coachpo/eventline/internal/channel"
	"github.com/coachpo/eventline/internal/observability"
)

const defaultRequestTimeout = 10 * time.Second

// Client drives a chat session over a channel and renders inbound events to out.
type Client struct {
	ch      *channel.Channel
	user    string
	timeout time.Duration

	outMu sync.Mutex
	out   io.Writer

	mu   sync.Mutex
	room string
}

// NewClient registers the chat listeners on ch. The channel should be built
// with Contracts().
func NewClient(ch *channel.Channel, user string, out io.Writer) (*Client, error) {
	if ch == nil {
		return nil, errs.New("", errs.CodeInvalid, errs.WithMessage("channel required"))
	}
	if err := checkName("user", user); err != nil {
		return nil, errs.New(EventJoin, errs.CodeInvalid, errs.WithMessage(err.Error()))
	}
	if out == nil {
		out = io.Discard
	}
	c := &Client{ch: ch, user: user, out: out, timeout: defaultRequestTimeout}

	listeners := map[string]channel.Handler{
		EventMessage: func(p any) {
			m, ok := p.(Message)
			if !ok {
				c.unexpected(EventMessage, p)
				return
			}
			c.printf("[%s] %s: %s\n", m.Room, m.User, m.Text)
		},
		EventPresence: func(p any) {
			pr, ok := p.(Presence)
			if !ok {
				c.unexpected(EventPresence, p)
				return
			}
			state := "left"
			if pr.Online {
				state = "joined"
			}
			c.printf("* %s %s %s\n", pr.User, state, pr.Room)
		},
		EventTyping: func(p any) {
			fields, _ := p.(map[string]any)
			c.printf("* %v is typing\n", fields["user"])
		},
	}
	for event, fn := range listeners {
		if _, err := ch.On(event, fn); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Room returns the room joined last, or "".
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Join enters room and prints its recent history.
func (c *Client) Join(ctx context.Context, room string) (JoinReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	v, err := c.ch.EmitAsync(ctx, EventJoin, JoinRequest{Room: room, User: c.user})
	if err != nil {
		return JoinReply{}, err
	}
	reply, ok := v.(JoinReply)
	if !ok {
		return JoinReply{}, c.unexpected(EventJoin, v)
	}
	if reply.Error != "" {
		return reply, errs.New(EventJoin, errs.CodeInvalid, errs.WithMessage(reply.Error))
	}
	c.mu.Lock()
	c.room = reply.Room
	c.mu.Unlock()
	for _, m := range reply.History {
		c.printf("[%s] %s: %s\n", m.Room, m.User, m.Text)
	}
	c.printf("* joined %s (%s)\n", reply.Room, strings.Join(reply.Members, ", "))
	return reply, nil
}

// Rejoin enters the last joined room again. Call it after a reconnect; a new
// session starts outside any room unless its auth record names one.
func (c *Client) Rejoin(ctx context.Context) error {
	room := c.Room()
	if room == "" {
		return nil
	}
	_, err := c.Join(ctx, room)
	return err
}

// Leave exits the current room.
func (c *Client) Leave(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	v, err := c.ch.EmitAsync(ctx, EventLeave, nil)
	if err != nil {
		return err
	}
	ack, ok := v.(Ack)
	if !ok {
		return c.unexpected(EventLeave, v)
	}
	if !ack.Success {
		return errs.New(EventLeave, errs.CodeInvalid, errs.WithMessage(ack.Error))
	}
	c.mu.Lock()
	c.room = ""
	c.mu.Unlock()
	return nil
}

// Send posts text to the current room. While disconnected the message is
// queued and sent after the next connect; queued reports that case.
func (c *Client) Send(ctx context.Context, text string) (seq int64, queued bool, err error) {
	if !c.ch.IsConnected() {
		if err := c.ch.EmitQueued(EventSendMessage, map[string]any{"text": text}); err != nil {
			return 0, false, err
		}
		return 0, true, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	v, err := c.ch.EmitAsync(ctx, EventSendMessage, map[string]any{"text": text})
	if err != nil {
		return 0, false, err
	}
	ack, ok := v.(Ack)
	if !ok {
		return 0, false, c.unexpected(EventSendMessage, v)
	}
	if !ack.Success {
		return 0, false, errs.New(EventSendMessage, errs.CodeInvalid, errs.WithMessage(ack.Error))
	}
	return ack.Seq, false, nil
}

// Run reads commands from in until EOF, /quit, or ctx ends. Lines starting
// with "/" are commands; anything else is sent as a message.
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.handleLine(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (c *Client) handleLine(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		_, queued, err := c.Send(ctx, line)
		switch {
		case err != nil:
			c.printf("! send failed: %v\n", err)
		case queued:
			c.printf("* offline, message queued\n")
		}
		return false
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "quit", "exit":
		return true
	case "join":
		if arg == "" {
			c.printf("! usage: /join <room>\n")
			return false
		}
		if _, err := c.Join(ctx, arg); err != nil {
			c.printf("! join failed: %v\n", err)
		}
	case "leave":
		if err := c.Leave(ctx); err != nil {
			c.printf("! leave failed: %v\n", err)
		}
	case "typing":
		if err := c.ch.Emit(EventTyping, nil, nil); err != nil {
			c.printf("! typing failed: %v\n", err)
		}
	case "reconnect":
		if err := c.ch.Reconnect(); err != nil {
			c.printf("! reconnect failed: %v\n", err)
		}
	case "status":
		c.printf("* state=%s id=%s room=%s queued=%d\n", c.ch.State(), c.ch.ID(), c.Room(), len(c.ch.Queued()))
	default:
		c.printf("! unknown command /%s\n", cmd)
	}
	return false
}

// unexpected reports a payload whose type does not match the chat contracts.
func (c *Client) unexpected(event string, payload any) error {
	err := errs.New(event, errs.CodeValidation, errs.WithMessage(fmt.Sprintf("unexpected payload type %T", payload)))
	c.printf("! %v\n", err)
	return err
}

// Notify writes a status line to the client's output.
func (c *Client) Notify(format string, args ...any) {
	c.printf("* "+format+"\n", args...)
}

func (c *Client) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// LogMiddleware returns channel middleware that logs every inbound event at debug level.
func LogMiddleware(logger observability.Logger) channel.Middleware {
	if logger == nil {
		logger = observability.Log()
	}
	return func(event string, _ any) error {
		logger.Debug("inbound", observability.F("event", event))
		return nil
	}
}
