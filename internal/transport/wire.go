// Package transport speaks the server's two channels: a JSON/HTTP API
// for commands and history, and a websocket push channel for realtime
// events. Everything inbound is normalized into engine types before it
// leaves this package.
package transport

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/terracrypt/chatsync/internal/errs"
)

// Push frame types. Frames with unknown types are ignored so the
// server can grow the protocol without breaking older clients.
const (
	frameChat       = "chat"
	frameStatus     = "message-status"
	frameConnStatus = "connection-status"
)

// envelope is the outer shape of every push frame.
type envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// chatFrame is an inbound chat message.
type chatFrame struct {
	MessageID        string `json:"message_id"`
	ChatID           string `json:"chat_id"`
	SenderID         string `json:"sender_id"`
	Content          string `json:"content"`
	ReplyToMessageID string `json:"reply_to_message_id"`
	SentAt           string `json:"sent_at"`
}

// statusFrame is a delivery-state update. Batch read receipts carry
// MessageIDs; single updates carry MessageID.
type statusFrame struct {
	MessageID  string   `json:"message_id"`
	MessageIDs []string `json:"message_ids"`
	ChatID     string   `json:"chat_id"`
	SenderID   string   `json:"sender_id"`
	Status     string   `json:"status"`
	Timestamp  string   `json:"timestamp"`
}

// Frame is a parsed push frame. Exactly one of the payload fields is
// set, according to Type.
type Frame struct {
	Type   string
	Chat   *chatFrame
	Status *statusFrame
}

// parseFrame decodes one websocket text frame. Unknown types return a
// Frame with only Type set.
func parseFrame(data []byte) (*Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.Wrap(err, errs.MalformedEvent, "decode push frame")
	}
	if env.Type == "" {
		return nil, errs.New(errs.MalformedEvent, "push frame without type")
	}

	f := &Frame{Type: env.Type}
	switch env.Type {
	case frameChat:
		var c chatFrame
		if err := json.Unmarshal(env.Message, &c); err != nil {
			return nil, errs.Wrap(err, errs.MalformedEvent, "decode chat frame")
		}
		if c.MessageID == "" || c.ChatID == "" {
			return nil, errs.New(errs.MalformedEvent, "chat frame missing identity")
		}
		f.Chat = &c
	case frameStatus:
		var s statusFrame
		if err := json.Unmarshal(env.Message, &s); err != nil {
			return nil, errs.Wrap(err, errs.MalformedEvent, "decode status frame")
		}
		if s.MessageID == "" && len(s.MessageIDs) == 0 {
			return nil, errs.New(errs.MalformedEvent, "status frame missing identity")
		}
		f.Status = &s
	}
	return f, nil
}

// parseTimestamp accepts the server's timestamp shapes: RFC 3339, or
// unix seconds or milliseconds as a decimal string. Returns unix
// milliseconds.
func parseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errs.New(errs.MalformedEvent, fmt.Sprintf("unparseable timestamp %q", s))
	}
	// Values before ~2001 in milliseconds are second-resolution.
	if n < 1_000_000_000_000 {
		n *= 1000
	}
	return n, nil
}
