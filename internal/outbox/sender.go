// Package outbox drains locally composed messages to the server.
// Messages survive as queued rows until the server acknowledges them,
// so a crash or an offline stretch never loses a send.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/terracrypt/chatsync/internal/bus"
	"github.com/terracrypt/chatsync/internal/engine"
	"github.com/terracrypt/chatsync/internal/errs"
	"github.com/terracrypt/chatsync/internal/retry"
	"github.com/terracrypt/chatsync/internal/status"
	"github.com/terracrypt/chatsync/internal/store"
	"github.com/terracrypt/chatsync/internal/transport"
	"go.uber.org/zap"
)

// SendClient submits one message to the server.
type SendClient interface {
	SendMessage(ctx context.Context, m *store.Message) (*transport.SendAck, error)
}

// Sender owns the outbound queue. Send enqueues and returns
// immediately; a background drain loop pushes queued messages whenever
// the channel is up, in composition order.
type Sender struct {
	store          *engine.Store
	rec            *engine.Reconciler
	api            SendClient
	machine        *status.Machine
	bus            *bus.Bus
	policy         retry.Policy
	attemptTimeout time.Duration
	logger         *zap.Logger

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSender(s *engine.Store, rec *engine.Reconciler, api SendClient, m *status.Machine, b *bus.Bus, policy retry.Policy, attemptTimeout time.Duration, logger *zap.Logger) *Sender {
	return &Sender{
		store:          s,
		rec:            rec,
		api:            api,
		machine:        m,
		bus:            b,
		policy:         policy,
		attemptTimeout: attemptTimeout,
		logger:         logger,
		wake:           make(chan struct{}, 1),
	}
}

// Send composes a message and queues it for delivery. The returned
// record is the provisional local row, already visible to subscribers.
func (s *Sender) Send(chatID, senderID, content, replyTo string) (*store.Message, error) {
	m := &store.Message{
		ClientMessageID:  uuid.NewString(),
		ChatID:           chatID,
		SenderID:         senderID,
		Content:          content,
		ReplyToMessageID: replyTo,
		Status:           engine.StatusQueued,
		Timestamp:        time.Now().UnixMilli(),
	}
	stored, _, err := s.store.Upsert(m)
	if err != nil {
		return nil, err
	}
	s.kick()
	return stored, nil
}

// Retry requeues a failed message for another delivery attempt.
func (s *Sender) Retry(clientID string) error {
	applied, err := s.store.MarkStatus(engine.Ref{ClientID: clientID}, engine.StatusQueued)
	if err != nil {
		return err
	}
	if !applied {
		return errs.New(errs.Conflict, "message is not in a retryable state")
	}
	s.kick()
	return nil
}

func (s *Sender) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the drain loop. The queue is drained on every Send,
// on every reconnect, and on a slow safety tick.
func (s *Sender) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	conns, unsub := s.bus.Subscribe("conn.", 16)
	go func() {
		defer close(s.done)
		defer unsub()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				s.drain(ctx)
			case ev := <-conns:
				if ch, ok := ev.Payload.(status.Change); ok && ch.To == status.Connected {
					s.drain(ctx)
				}
			case <-ticker.C:
				s.drain(ctx)
			}
		}
	}()
}

// Stop halts the drain loop. Queued messages stay queued.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// drain pushes every queued message, oldest first. Losing the channel
// mid-drain aborts the pass; the rest stays queued for the reconnect
// flush.
func (s *Sender) drain(ctx context.Context) {
	if !s.machine.IsConnected() {
		return
	}
	queued, err := s.store.DB().QueuedMessages()
	if err != nil {
		s.logger.Error("queued scan failed", zap.Error(err))
		return
	}
	for i := range queued {
		if ctx.Err() != nil || !s.machine.IsConnected() {
			return
		}
		s.deliver(ctx, &queued[i])
	}
}

func (s *Sender) deliver(ctx context.Context, m *store.Message) {
	var ack *transport.SendAck
	err := s.policy.Do(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
		defer cancel()
		var err error
		ack, err = s.api.SendMessage(attemptCtx, m)
		return err
	}, errs.IsRetryable)

	if err != nil {
		if errs.ClassOf(err) == errs.NotConnected {
			// Stays queued for the next flush.
			return
		}
		s.logger.Warn("send failed permanently",
			zap.String("client_message_id", m.ClientMessageID),
			zap.String("chat_id", m.ChatID),
			zap.Error(err))
		if _, serr := s.store.MarkStatus(engine.Ref{ClientID: m.ClientMessageID}, engine.StatusFailed); serr != nil {
			s.logger.Error("failed mark not applied", zap.Error(serr))
		}
		failed := *m
		failed.Status = engine.StatusFailed
		s.bus.Publish(bus.New(bus.KindSendFailed, failed))
		return
	}

	if err := s.rec.ReconcileSent(m.ChatID, m.ClientMessageID, ack.MessageID, ack.Timestamp); err != nil {
		s.logger.Error("ack not reconciled",
			zap.String("client_message_id", m.ClientMessageID),
			zap.String("server_message_id", ack.MessageID),
			zap.Error(err))
	}
}
