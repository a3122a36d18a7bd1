package transport

import (
	"testing"

	"github.com/terracrypt/chatsync/internal/errs"
)

func TestParseFrameChat(t *testing.T) {
	data := []byte(`{
		"type": "chat",
		"message": {
			"message_id": "s1",
			"chat_id": "chat-1",
			"sender_id": "u1",
			"content": "aGVsbG8=",
			"sent_at": "2026-08-30T12:00:00Z"
		}
	}`)
	f, err := parseFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != frameChat || f.Chat == nil {
		t.Fatalf("frame = %+v", f)
	}
	if f.Chat.MessageID != "s1" || f.Chat.ChatID != "chat-1" {
		t.Fatalf("chat = %+v", f.Chat)
	}
}

func TestParseFrameStatusSingle(t *testing.T) {
	data := []byte(`{
		"type": "message-status",
		"message": {
			"message_id": "s1",
			"chat_id": "chat-1",
			"sender_id": "u1",
			"status": "delivered",
			"timestamp": "1724929200"
		}
	}`)
	f, err := parseFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Status == nil || f.Status.Status != "delivered" {
		t.Fatalf("frame = %+v", f)
	}
}

func TestParseFrameStatusBatch(t *testing.T) {
	data := []byte(`{
		"type": "message-status",
		"message": {
			"message_ids": ["s1", "s2"],
			"chat_id": "chat-1",
			"status": "read",
			"timestamp": "1724929200"
		}
	}`)
	f, err := parseFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Status.MessageIDs) != 2 {
		t.Fatalf("frame = %+v", f.Status)
	}
}

func TestParseFrameUnknownTypePassesThrough(t *testing.T) {
	f, err := parseFrame([]byte(`{"type": "typing", "message": {}}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != "typing" || f.Chat != nil || f.Status != nil {
		t.Fatalf("frame = %+v", f)
	}
}

func TestParseFrameMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{{{`,
		"no type":         `{"message": {}}`,
		"chat no id":      `{"type": "chat", "message": {"chat_id": "c"}}`,
		"status no id":    `{"type": "message-status", "message": {"status": "read"}}`,
		"chat bad fields": `{"type": "chat", "message": {"message_id": 7}}`,
	}
	for name, data := range cases {
		if _, err := parseFrame([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		} else if errs.ClassOf(err) != errs.MalformedEvent {
			t.Errorf("%s: class = %v", name, errs.ClassOf(err))
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"2026-08-30T12:00:00Z", 1788091200000},
		{"1724929200", 1724929200000},
		{"1724929200000", 1724929200000},
	}
	for _, tc := range cases {
		got, err := parseTimestamp(tc.in)
		if err != nil {
			t.Errorf("%q: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %d, want %d", tc.in, got, tc.want)
		}
	}
	for _, junk := range []string{"yesterday", "12abc", "-1724929200"} {
		if _, err := parseTimestamp(junk); err == nil {
			t.Errorf("%q: expected error", junk)
		} else if errs.ClassOf(err) != errs.MalformedEvent {
			t.Errorf("%q: class = %q, want %q", junk, errs.ClassOf(err), errs.MalformedEvent)
		}
	}
}
