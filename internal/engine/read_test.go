package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/terracrypt/chatsync/internal/bus"
	"github.com/terracrypt/chatsync/internal/store"
	"go.uber.org/zap"
)

type fakeReceiptSender struct {
	calls []string
	err   error
}

func (f *fakeReceiptSender) MarkChatRead(_ context.Context, chatID string) error {
	f.calls = append(f.calls, chatID)
	return f.err
}

func readFixture(t *testing.T) (*Store, *fakeReceiptSender, *ChatReader) {
	t.Helper()
	s := testStore(t)
	if err := s.DB().UpsertChat(&store.Chat{ChatID: "chat-1", Name: "pair"}); err != nil {
		t.Fatalf("upsert chat: %v", err)
	}
	api := &fakeReceiptSender{}
	return s, api, NewChatReader(s, api, bus.NewBus(), "me", zap.NewNop())
}

func TestMarkChatReadAppliesLocalStateAndReceipt(t *testing.T) {
	s, api, reader := readFixture(t)

	seed := []store.Message{
		{ServerMessageID: "s1", ChatID: "chat-1", SenderID: "peer", Content: "hi", Status: StatusDelivered, Timestamp: 100},
		{ServerMessageID: "s2", ChatID: "chat-1", SenderID: "peer", Content: "there", Status: StatusDelivered, Timestamp: 200},
		{ClientMessageID: "c1", ServerMessageID: "s3", ChatID: "chat-1", SenderID: "me", Content: "yo", Status: StatusSent, Timestamp: 300},
	}
	for i := range seed {
		if _, _, err := s.Upsert(&seed[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := s.DB().IncrementUnread("chat-1"); err != nil {
			t.Fatal(err)
		}
	}

	if err := reader.MarkChatRead(context.Background(), "chat-1"); err != nil {
		t.Fatalf("MarkChatRead: %v", err)
	}

	for _, id := range []string{"s1", "s2"} {
		m, err := s.DB().GetMessageByServerID(id)
		if err != nil {
			t.Fatal(err)
		}
		if m.Status != StatusRead {
			t.Errorf("%s status = %q, want %q", id, m.Status, StatusRead)
		}
	}
	// Own outgoing message reads only when the peer reads it.
	own, err := s.DB().GetMessageByServerID("s3")
	if err != nil {
		t.Fatal(err)
	}
	if own.Status != StatusSent {
		t.Errorf("own status = %q, want %q", own.Status, StatusSent)
	}

	c, err := s.DB().GetChat("chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
	if len(api.calls) != 1 || api.calls[0] != "chat-1" {
		t.Errorf("receipt calls = %v, want [chat-1]", api.calls)
	}
}

func TestMarkChatReadSurvivesReceiptFailure(t *testing.T) {
	s, api, reader := readFixture(t)
	api.err = errors.New("boom")

	if _, _, err := s.Upsert(&store.Message{
		ServerMessageID: "s1", ChatID: "chat-1", SenderID: "peer",
		Content: "hi", Status: StatusDelivered, Timestamp: 100,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.DB().IncrementUnread("chat-1"); err != nil {
		t.Fatal(err)
	}

	if err := reader.MarkChatRead(context.Background(), "chat-1"); err != nil {
		t.Fatalf("MarkChatRead: %v", err)
	}

	m, err := s.DB().GetMessageByServerID("s1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != StatusRead {
		t.Errorf("status = %q, want %q", m.Status, StatusRead)
	}
	c, err := s.DB().GetChat("chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
}

func TestMarkChatReadEmptyChatStillReceipts(t *testing.T) {
	_, api, reader := readFixture(t)

	if err := reader.MarkChatRead(context.Background(), "chat-1"); err != nil {
		t.Fatalf("MarkChatRead: %v", err)
	}
	if len(api.calls) != 1 {
		t.Errorf("receipt calls = %d, want 1", len(api.calls))
	}
}
