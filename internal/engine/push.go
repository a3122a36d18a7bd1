package engine

import (
	"context"

	"github.com/terracrypt/chatsync/internal/bus"
	"github.com/terracrypt/chatsync/internal/store"
	"go.uber.org/zap"
)

// StatusUpdate is a delivery-state change received over the push
// channel. Batch read receipts carry the ids in MessageIDs; single
// updates address one message by server id.
type StatusUpdate struct {
	ServerMessageID string
	ChatID          string
	Status          string
	MessageIDs      []string
	Timestamp       int64
}

// PushApplier consumes push events off the internal bus and applies
// them to the store. Duplicates and out-of-order deliveries are
// absorbed by the store's merge and monotonicity rules, so applying is
// unconditional.
type PushApplier struct {
	store  *Store
	bus    *bus.Bus
	selfID string
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPushApplier(s *Store, b *bus.Bus, selfID string, logger *zap.Logger) *PushApplier {
	return &PushApplier{store: s, bus: b, selfID: selfID, logger: logger}
}

// Start begins consuming push events until Stop is called.
func (p *PushApplier) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	events, unsub := p.bus.Subscribe("push.", 256)
	go func() {
		defer close(p.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				p.apply(ev)
			}
		}
	}()
}

// Stop halts the consumer and waits for it to drain.
func (p *PushApplier) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *PushApplier) apply(ev bus.Event) {
	switch ev.Kind {
	case bus.KindPushMessage:
		m, ok := ev.Payload.(*store.Message)
		if !ok {
			p.logger.Warn("push message event with unexpected payload")
			return
		}
		p.applyMessage(m)
	case bus.KindPushStatus:
		u, ok := ev.Payload.(StatusUpdate)
		if !ok {
			p.logger.Warn("push status event with unexpected payload")
			return
		}
		p.applyStatus(u)
	}
}

func (p *PushApplier) applyMessage(m *store.Message) {
	if m.Status == "" {
		m.Status = StatusDelivered
	}
	stored, created, err := p.store.Upsert(m)
	if err != nil {
		p.logger.Error("push message not applied",
			zap.String("server_message_id", m.ServerMessageID),
			zap.Error(err))
		return
	}
	if created && stored.SenderID != p.selfID {
		if err := p.store.db.IncrementUnread(stored.ChatID); err != nil {
			p.logger.Warn("unread counter not bumped", zap.String("chat_id", stored.ChatID), zap.Error(err))
		}
	}
}

func (p *PushApplier) applyStatus(u StatusUpdate) {
	if len(u.MessageIDs) > 0 {
		p.store.MarkRead(u.MessageIDs)
		return
	}
	if u.ServerMessageID == "" {
		p.logger.Warn("status update without message identity", zap.String("chat_id", u.ChatID))
		return
	}
	if _, err := p.store.MarkStatus(Ref{ServerID: u.ServerMessageID}, u.Status); err != nil {
		p.logger.Warn("status update not applied",
			zap.String("server_message_id", u.ServerMessageID),
			zap.String("status", u.Status),
			zap.Error(err))
	}
}
