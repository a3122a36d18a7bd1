package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/terracrypt/chatsync/internal/bus"
	"github.com/terracrypt/chatsync/internal/codec"
	"github.com/terracrypt/chatsync/internal/engine"
	"github.com/terracrypt/chatsync/internal/status"
	"github.com/terracrypt/chatsync/internal/store"
	"go.uber.org/zap"
)

// PushConfig tunes the push channel's liveness behavior.
type PushConfig struct {
	URL                  string
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

// PushClient maintains the realtime websocket to the server. Inbound
// frames are decoded, normalized, and published on the bus; the
// connection state machine tracks channel liveness. Liveness is
// heartbeat-driven: a ping goes out every interval, and three silent
// intervals mean the connection is dead regardless of what the socket
// claims.
type PushClient struct {
	cfg     PushConfig
	token   string
	bus     *bus.Bus
	machine *status.Machine
	codec   codec.Codec
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPushClient(cfg PushConfig, token string, b *bus.Bus, m *status.Machine, c codec.Codec, logger *zap.Logger) *PushClient {
	return &PushClient{cfg: cfg, token: token, bus: b, machine: m, codec: c, logger: logger}
}

// Start brings the channel up and keeps it up until Stop. Reconnects
// are bounded per outage; once the attempt budget is spent the channel
// stays down until the next Start.
func (p *PushClient) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Stop tears the channel down and waits for the run loop to exit.
func (p *PushClient) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.mu.Lock()
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.mu.Unlock()
	<-p.done
}

func (p *PushClient) run(ctx context.Context) {
	defer close(p.done)
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.machine.Transition(status.Connecting); err != nil {
			p.logger.Warn("cannot start connecting", zap.Error(err))
			return
		}

		conn, err := p.dial(ctx)
		if err != nil {
			_ = p.machine.Transition(status.Disconnected)
			attempts++
			if attempts >= p.cfg.MaxReconnectAttempts {
				p.logger.Error("push channel gave up",
					zap.Int("attempts", attempts), zap.Error(err))
				return
			}
			p.logger.Warn("push dial failed, retrying",
				zap.Int("attempt", attempts), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.ReconnectDelay):
			}
			continue
		}

		attempts = 0
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		if err := p.machine.Transition(status.Connected); err != nil {
			p.logger.Warn("state machine rejected connected", zap.Error(err))
		}
		p.logger.Info("push channel up", zap.String("url", p.cfg.URL))

		p.serve(ctx, conn)

		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		_ = conn.Close()
		_ = p.machine.Transition(status.Disconnected)
		p.logger.Info("push channel down")
	}
}

func (p *PushClient) dial(ctx context.Context) (*websocket.Conn, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+p.token)
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Subprotocols:     []string{"chat"},
	}
	conn, _, err := dialer.DialContext(ctx, p.cfg.URL, hdr)
	return conn, err
}

// serve reads frames until the connection dies. The read deadline is
// three heartbeat intervals; every inbound frame, pong included,
// pushes it forward.
func (p *PushClient) serve(ctx context.Context, conn *websocket.Conn) {
	deadline := func() time.Time { return time.Now().Add(3 * p.cfg.HeartbeatInterval) }
	_ = conn.SetReadDeadline(deadline())
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(deadline()) })
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(deadline())
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					p.logger.Warn("heartbeat write failed", zap.Error(err))
					return
				}
			}
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("push read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(deadline())
		if kind != websocket.TextMessage || len(data) == 0 {
			continue
		}
		p.handle(data)
	}
}

// handle normalizes one frame and publishes it. Malformed frames are
// logged and dropped; they never take the channel down.
func (p *PushClient) handle(data []byte) {
	frame, err := parseFrame(data)
	if err != nil {
		p.logger.Warn("dropping malformed push frame", zap.Error(err))
		return
	}

	switch frame.Type {
	case frameChat:
		ts, err := parseTimestamp(frame.Chat.SentAt)
		if err != nil {
			p.logger.Warn("chat frame with bad timestamp",
				zap.String("server_message_id", frame.Chat.MessageID), zap.Error(err))
			ts = time.Now().UnixMilli()
		}
		p.bus.Publish(bus.New(bus.KindPushMessage, &store.Message{
			ServerMessageID:  frame.Chat.MessageID,
			ChatID:           frame.Chat.ChatID,
			SenderID:         frame.Chat.SenderID,
			Content:          p.codec.Decode(frame.Chat.Content),
			ReplyToMessageID: frame.Chat.ReplyToMessageID,
			Status:           engine.StatusDelivered,
			Timestamp:        ts,
		}))

	case frameStatus:
		ts, err := parseTimestamp(frame.Status.Timestamp)
		if err != nil {
			ts = time.Now().UnixMilli()
		}
		p.bus.Publish(bus.New(bus.KindPushStatus, engine.StatusUpdate{
			ServerMessageID: frame.Status.MessageID,
			ChatID:          frame.Status.ChatID,
			Status:          frame.Status.Status,
			MessageIDs:      frame.Status.MessageIDs,
			Timestamp:       ts,
		}))

	case frameConnStatus:
		// Liveness is tracked by our own heartbeat, not the server's
		// opinion of it.

	default:
		p.logger.Debug("ignoring unknown push frame", zap.String("type", frame.Type))
	}
}
