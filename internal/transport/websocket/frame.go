// Package websocket implements the event transport over github.com/coder/websocket.
//
// Every websocket text message carries one JSON frame. A session opens with a
// connect handshake (client sends its auth record, server answers with a session
// id or a connect_error), then exchanges event frames. An event frame with a
// non-zero id asks the peer for an ack frame carrying the same id.
package websocket

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

type frameType string

const (
	frameConnect      frameType = "connect"
	frameConnectError frameType = "connect_error"
	frameEvent        frameType = "event"
	frameAck          frameType = "ack"
	frameDisconnect   frameType = "disconnect"
)

type frame struct {
	Type  frameType         `json:"type"`
	Event string            `json:"event,omitempty"`
	ID    uint64            `json:"id,omitempty"`
	SID   string            `json:"sid,omitempty"`
	Auth  map[string]string `json:"auth,omitempty"`
	Data  json.RawMessage   `json:"data,omitempty"`
	Error string            `json:"error,omitempty"`
}

var errEmptyFrame = errors.New("empty frame")

func encodeFrame(f frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

func decodeFrame(data []byte) (frame, error) {
	if len(data) == 0 {
		return frame{}, errEmptyFrame
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case frameConnect, frameConnectError, frameAck, frameDisconnect:
	case frameEvent:
		if strings.TrimSpace(f.Event) == "" {
			return frame{}, errors.New("decode frame: event name required")
		}
	default:
		return frame{}, fmt.Errorf("decode frame: unknown type %q", f.Type)
	}
	return f, nil
}

// marshalData encodes an outbound payload. Pre-encoded JSON passes through.
func marshalData(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("payload bytes are not valid JSON")
		}
		return json.RawMessage(v), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// payloadOf returns the value handed to handlers: the raw JSON, or nil when absent.
func payloadOf(data json.RawMessage) any {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return data
}
