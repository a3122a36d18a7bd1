package engine

import (
	"github.com/terracrypt/chatsync/internal/bus"
	"github.com/terracrypt/chatsync/internal/store"
	"go.uber.org/zap"
)

// Reconciler folds send acknowledgements into the store. The hard case
// is the echo race: the push channel can deliver the server's copy of
// an outbound message before, after, or concurrently with the REST ack,
// and either ordering must converge on a single record carrying both
// identities.
type Reconciler struct {
	store  *Store
	bus    *bus.Bus
	logger *zap.Logger
}

func NewReconciler(s *Store, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: s, bus: b, logger: logger}
}

// ReconcileSent records that the server accepted a locally composed
// message, binding the client id to the server-assigned id and
// timestamp and advancing the status to sent.
func (r *Reconciler) ReconcileSent(chatID, clientID, serverID string, serverTS int64) error {
	mu := r.store.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	byServer, err := r.store.db.GetMessageByServerID(serverID)
	if err != nil {
		return err
	}
	byClient, err := r.store.db.GetMessageByClientID(clientID)
	if err != nil {
		return err
	}

	switch {
	case byServer != nil && byClient != nil && byServer.ID != byClient.ID:
		// The echo arrived first and was inserted under the server
		// identity before the ack could bind it. Fold the provisional
		// row into the echo's row and drop the provisional one, so the
		// unique server-id index is never violated.
		merged := *byServer
		merged.ClientMessageID = byClient.ClientMessageID
		if merged.Content == "" {
			merged.Content = byClient.Content
		}
		if canAdvance(merged.Status, StatusSent) {
			merged.Status = StatusSent
		}
		if serverTS != 0 {
			merged.Timestamp = serverTS
		}
		if err := r.store.db.DeleteMessageByClientID(byClient.ClientMessageID); err != nil {
			return err
		}
		if err := r.store.db.UpdateMessage(&merged); err != nil {
			return err
		}
		r.store.afterMutation(&merged)
		r.publishAck(&merged)
		return nil

	case byServer != nil:
		// Already bound (echo carried the client id, or the ack was
		// replayed). Advance status if it is still behind.
		if canAdvance(byServer.Status, StatusSent) {
			byServer.Status = StatusSent
			if serverTS != 0 {
				byServer.Timestamp = serverTS
			}
			if err := r.store.db.UpdateMessage(byServer); err != nil {
				return err
			}
			r.store.afterMutation(byServer)
		}
		r.publishAck(byServer)
		return nil

	case byClient != nil:
		byClient.ServerMessageID = serverID
		if serverTS != 0 {
			byClient.Timestamp = serverTS
		}
		if canAdvance(byClient.Status, StatusSent) {
			byClient.Status = StatusSent
		}
		if err := r.store.db.UpdateMessage(byClient); err != nil {
			return err
		}
		r.store.afterMutation(byClient)
		r.publishAck(byClient)
		return nil

	default:
		// The provisional record is gone (chat cleared mid-flight).
		// Recreate a minimal record so the timeline still reflects the
		// server's state.
		m := &store.Message{
			ClientMessageID: clientID,
			ServerMessageID: serverID,
			ChatID:          chatID,
			Status:          StatusSent,
			Timestamp:       serverTS,
		}
		if err := r.store.db.InsertMessage(m); err != nil {
			return err
		}
		r.logger.Warn("ack for unknown message, recreated record",
			zap.String("chat_id", chatID),
			zap.String("client_message_id", clientID),
			zap.String("server_message_id", serverID))
		r.store.afterMutation(m)
		r.publishAck(m)
		return nil
	}
}

func (r *Reconciler) publishAck(m *store.Message) {
	if r.bus != nil {
		r.bus.Publish(bus.New(bus.KindSendAck, *m))
	}
}
