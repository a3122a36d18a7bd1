package bus

import "time"

// Event kinds published on the bus. Subscribers filter by namespace
// prefix, so "push." matches every inbound transport event and
// "message." matches every store mutation notification.
const (
	// Inbound transport events, published by the push client.
	KindPushMessage = "push.message"
	KindPushStatus  = "push.status"

	// Connection lifecycle, published by the connection state machine.
	KindConnState = "conn.state_changed"

	// Store mutation notifications, published by the engine.
	KindMessageUpserted = "message.upserted"
	KindMessageDeleted  = "message.deleted"
	KindSendAck         = "message.send_ack"
	KindSendFailed      = "message.send_failed"

	// Chat-level notifications.
	KindChatRead = "chat.read"

	// Sync progress.
	KindDeltaApplied = "sync.delta_applied"
	KindFullResync   = "sync.full_resync"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// New builds an event stamped with the current time.
func New(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
