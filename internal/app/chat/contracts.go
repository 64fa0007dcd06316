// Package chat is a small room-based chat built on the event channel: the
// contracts both sides agree on, the server hub, and an interactive client.
package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/coachpo/eventline/internal/domain/contract"
	"github.com/coachpo/eventline/internal/domain/schema"
)

// Event names.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventMessage     = "message"
	EventPresence    = "presence"
)

const (
	// MaxMessageLen bounds the text of a single message, in runes.
	MaxMessageLen = 2000
	maxNameLen    = 64
	// HistoryLimit is how many recent messages a room replays on join.
	HistoryLimit = 50
)

// JoinRequest asks to enter a room under a display name.
type JoinRequest struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// Validate checks the room and user names.
func (r JoinRequest) Validate() error {
	var problems []string
	if err := checkName("room", r.Room); err != nil {
		problems = append(problems, err.Error())
	}
	if err := checkName("user", r.User); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func checkName(field, value string) error {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		return errors.New(field + " required")
	case utf8.RuneCountInString(trimmed) > maxNameLen:
		return errors.New(field + " too long")
	case trimmed != value:
		return errors.New(field + " has surrounding whitespace")
	}
	return nil
}

// JoinReply is the acknowledgment of a join.
type JoinReply struct {
	Room    string    `json:"room"`
	Members []string  `json:"members"`
	History []Message `json:"history,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Message is a chat line fanned out to every member of a room.
type Message struct {
	Room   string    `json:"room"`
	User   string    `json:"user"`
	Text   string    `json:"text"`
	Seq    int64     `json:"seq"`
	SentAt time.Time `json:"sentAt"`
}

// Presence announces that a user entered or left a room.
type Presence struct {
	Room   string `json:"room"`
	User   string `json:"user"`
	Online bool   `json:"online"`
}

// Ack is the generic acknowledgment for sendMessage and leave.
type Ack struct {
	Success bool   `json:"success"`
	Seq     int64  `json:"seq,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SendMessageSchema validates the sendMessage request.
func SendMessageSchema() *schema.ObjectSchema {
	return schema.Object(schema.String("text").MinLen(1).MaxLen(MaxMessageLen)).Strict()
}

// TypingSchema validates typing notices relayed by the server.
func TypingSchema() *schema.ObjectSchema {
	return schema.Object(schema.String("room"), schema.String("user"))
}

// Contracts returns the client-side contract registry.
func Contracts() *contract.Registry {
	return contract.MustRegistry(
		contract.On(EventMessage, schema.Typed[Message]()),
		contract.On(EventPresence, schema.Typed[Presence]()),
		contract.On(EventTyping, TypingSchema()),
		contract.EmitWithCallback(EventJoin, schema.Typed[JoinRequest](), schema.Typed[JoinReply]()),
		contract.EmitWithCallback(EventLeave, schema.Empty(), schema.Typed[Ack]()),
		contract.EmitWithCallback(EventSendMessage, SendMessageSchema(), schema.Typed[Ack]()),
		contract.Emit(EventTyping, schema.Empty()),
	)
}
