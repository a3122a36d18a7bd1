package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/terracrypt/chatsync/internal/codec"
	"github.com/terracrypt/chatsync/internal/errs"
	"github.com/terracrypt/chatsync/internal/store"
	"go.uber.org/zap"
)

var testMessage = store.Message{ClientMessageID: "c1", ChatID: "chat-1", Content: "hello"}

func testAPI(t *testing.T, handler http.Handler) *APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAPIClient(srv.URL, "tok-1", srv.Client(), codec.Plain{}, zap.NewNop())
}

func TestSendMessage(t *testing.T) {
	var gotAuth, gotContent string
	api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotContent, _ = body["content"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message_id": "s1",
			"timestamp":  int64(12345),
		})
	}))

	ack, err := api.SendMessage(context.Background(), &testMessage)
	if err != nil {
		t.Fatal(err)
	}
	if ack.MessageID != "s1" || ack.Timestamp != 12345 {
		t.Fatalf("ack = %+v", ack)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotContent != "hello" {
		t.Fatalf("content = %q", gotContent)
	}
}

func TestSendMessageEncodesContent(t *testing.T) {
	xor, err := codec.NewXOR("k")
	if err != nil {
		t.Fatal(err)
	}
	var gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotContent, _ = body["content"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{"message_id": "s1", "timestamp": int64(1)})
	}))
	defer srv.Close()
	api := NewAPIClient(srv.URL, "tok", srv.Client(), xor, zap.NewNop())

	if _, err := api.SendMessage(context.Background(), &testMessage); err != nil {
		t.Fatal(err)
	}
	if gotContent == "hello" || xor.Decode(gotContent) != "hello" {
		t.Fatalf("content not wire-encoded: %q", gotContent)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		code int
		want errs.Class
	}{
		{http.StatusConflict, errs.Conflict},
		{http.StatusInternalServerError, errs.TransientIO},
		{http.StatusTooManyRequests, errs.TransientIO},
		{http.StatusBadRequest, errs.MalformedEvent},
		{http.StatusUnauthorized, errs.MalformedEvent},
	}
	for _, tc := range cases {
		api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.code)
		}))
		_, err := api.SendMessage(context.Background(), &testMessage)
		if err == nil {
			t.Fatalf("code %d: expected error", tc.code)
		}
		if got := errs.ClassOf(err); got != tc.want {
			t.Errorf("code %d: class = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestFetchMessagesBefore(t *testing.T) {
	api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/chat-1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("before") != "1000" || r.URL.Query().Get("limit") != "2" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"message_id": "s1", "chat_id": "chat-1", "sender_id": "u1", "content": "a", "timestamp": 10},
				{"message_id": "s2", "chat_id": "chat-1", "sender_id": "u2", "content": "b", "timestamp": 20, "status": "read"},
			},
		})
	}))

	msgs, err := api.FetchMessagesBefore(context.Background(), "chat-1", 1000, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].ServerMessageID != "s1" || msgs[0].Status != "delivered" {
		t.Fatalf("msg0 = %+v", msgs[0])
	}
	if msgs[1].Status != "read" {
		t.Fatalf("msg1 = %+v", msgs[1])
	}
}

func TestFetchChatDelta(t *testing.T) {
	api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sync/chats" || r.URL.Query().Get("since") != "500" {
			t.Errorf("request = %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{
				"chat_id": "chat-1", "name": "One", "is_group": true,
				"participants": []map[string]any{
					{"user_id": "u1", "username": "ana", "role": "admin"},
				},
			}},
			"deleted":     []string{"chat-9"},
			"server_time": 900,
		})
	}))

	delta, err := api.FetchChatDelta(context.Background(), 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(delta.Chats) != 1 || delta.Chats[0].Chat.Name != "One" {
		t.Fatalf("delta = %+v", delta)
	}
	if len(delta.Chats[0].Participants) != 1 || delta.Chats[0].Participants[0].ChatID != "chat-1" {
		t.Fatalf("participants = %+v", delta.Chats[0].Participants)
	}
	if len(delta.DeletedChatIDs) != 1 || delta.ServerTime != 900 {
		t.Fatalf("delta = %+v", delta)
	}
}

func TestFetchMessageDeltaDecodesContent(t *testing.T) {
	xor, err := codec.NewXOR("k")
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"message_id": "s1", "chat_id": "chat-1", "sender_id": "u1", "content": xor.Encode("secret"), "timestamp": 10},
			},
			"server_time": 11,
		})
	}))
	defer srv.Close()
	api := NewAPIClient(srv.URL, "tok", srv.Client(), xor, zap.NewNop())

	delta, err := api.FetchMessageDelta(context.Background(), "chat-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(delta.Messages) != 1 || delta.Messages[0].Content != "secret" {
		t.Fatalf("delta = %+v", delta)
	}
}
