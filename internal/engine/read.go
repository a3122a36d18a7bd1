package engine

import (
	"context"

	"github.com/terracrypt/chatsync/internal/bus"
	"github.com/terracrypt/chatsync/internal/errs"
	"go.uber.org/zap"
)

// ReadReceiptSender posts a chat-level read receipt upstream.
type ReadReceiptSender interface {
	MarkChatRead(ctx context.Context, chatID string) error
}

// ChatReader handles opening a chat: the unread counter resets, every
// inbound message moves to read through the usual monotonic rule, and
// the server is told so other devices converge.
type ChatReader struct {
	store  *Store
	api    ReadReceiptSender
	bus    *bus.Bus
	selfID string
	logger *zap.Logger
}

func NewChatReader(s *Store, api ReadReceiptSender, b *bus.Bus, selfID string, logger *zap.Logger) *ChatReader {
	return &ChatReader{store: s, api: api, bus: b, selfID: selfID, logger: logger}
}

// MarkChatRead applies the local read state for a chat and notifies
// the server. Local state is applied first; a failed upstream receipt
// is logged and resent the next time the chat is opened, since the
// remaining unread messages still resolve as unread there.
func (r *ChatReader) MarkChatRead(ctx context.Context, chatID string) error {
	ids, err := r.store.db.UnreadInboundServerIDs(chatID, r.selfID)
	if err != nil {
		return errs.Wrap(err, errs.TransientIO, "list unread messages")
	}
	r.store.MarkRead(ids)

	if err := r.store.db.ResetUnread(chatID); err != nil {
		return errs.Wrap(err, errs.TransientIO, "reset unread counter")
	}
	if r.bus != nil {
		r.bus.Publish(bus.New(bus.KindChatRead, chatID))
	}

	if r.api != nil {
		if err := r.api.MarkChatRead(ctx, chatID); err != nil {
			r.logger.Warn("read receipt not delivered",
				zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	return nil
}
