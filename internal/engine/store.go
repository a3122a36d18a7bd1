package engine

import (
	"fmt"
	"sync"

	"github.com/terracrypt/chatsync/internal/bus"
	"github.com/terracrypt/chatsync/internal/errs"
	"github.com/terracrypt/chatsync/internal/store"
	"go.uber.org/zap"
)

// Ref identifies a message by whichever identity is known. Resolution
// always checks the server id first: that is what makes the ack-vs-echo
// race converge on one record.
type Ref struct {
	ServerID string
	ClientID string
}

func (r Ref) String() string {
	if r.ServerID != "" {
		return "server:" + r.ServerID
	}
	return "client:" + r.ClientID
}

// UpdateKind tags a subscriber notification.
type UpdateKind int

const (
	UpdateUpsert UpdateKind = iota
	UpdateDelete
)

// Update is delivered to chat subscribers after every successful
// mutation, exactly once per mutation.
type Update struct {
	Kind    UpdateKind
	Message store.Message
}

// Store is the single source of truth for message timelines. Every
// mutation from every source -- local sends, push events, history
// pages, delta batches -- enters through Upsert or MarkStatus, which
// serialize per chat and enforce the dedup and status-monotonicity
// invariants.
type Store struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	lockMu    sync.Mutex
	chatLocks map[string]*sync.Mutex

	subMu  sync.RWMutex
	subs   map[string]map[int]chan Update
	nextID int
}

// NewStore creates a Store over the given replica database.
func NewStore(db *store.DB, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		db:        db,
		bus:       b,
		logger:    logger,
		chatLocks: make(map[string]*sync.Mutex),
		subs:      make(map[string]map[int]chan Update),
	}
}

// DB exposes the underlying persistence collaborator for components
// that manage non-message records (chats, friends, cursors).
func (s *Store) DB() *store.DB { return s.db }

// chatLock returns the mutex serializing mutations for one chat.
// Unrelated chats mutate concurrently.
func (s *Store) chatLock(chatID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.chatLocks[chatID]
	if !ok {
		mu = &sync.Mutex{}
		s.chatLocks[chatID] = mu
	}
	return mu
}

// resolve finds an existing record for m, server identity first.
func (s *Store) resolve(serverID, clientID string) (*store.Message, error) {
	if serverID != "" {
		m, err := s.db.GetMessageByServerID(serverID)
		if err != nil || m != nil {
			return m, err
		}
	}
	return s.db.GetMessageByClientID(clientID)
}

// Upsert inserts or merges a message record. Returns the stored record
// and whether it was newly created. Identity resolution checks the
// server id before the client id; merging never regresses status and
// never overwrites an established identity mapping.
func (s *Store) Upsert(m *store.Message) (*store.Message, bool, error) {
	if m.ChatID == "" {
		return nil, false, fmt.Errorf("upsert: empty chat id")
	}
	if m.ClientMessageID == "" {
		if m.ServerMessageID == "" {
			return nil, false, fmt.Errorf("upsert: message has no identity")
		}
		// Messages first seen from the network carry the server id in
		// both fields.
		m.ClientMessageID = m.ServerMessageID
	}
	if m.Status == "" {
		m.Status = StatusQueued
	}
	if !ValidStatus(m.Status) {
		return nil, false, fmt.Errorf("upsert: unknown status %q", m.Status)
	}

	mu := s.chatLock(m.ChatID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.resolve(m.ServerMessageID, m.ClientMessageID)
	if err != nil {
		return nil, false, errs.Wrap(err, errs.TransientIO, "resolve message")
	}

	if existing == nil {
		if err := s.db.InsertMessage(m); err != nil {
			return nil, false, errs.Wrap(err, errs.TransientIO, "insert message")
		}
		s.afterMutation(m)
		return m, true, nil
	}

	merged := s.merge(existing, m)
	if err := s.db.UpdateMessage(merged); err != nil {
		return nil, false, errs.Wrap(err, errs.TransientIO, "update message")
	}
	s.afterMutation(merged)
	return merged, false, nil
}

// merge folds an incoming record into the existing one. The existing
// record's identity wins on conflict; the server-assigned timestamp is
// authoritative; status only moves forward.
func (s *Store) merge(existing, in *store.Message) *store.Message {
	out := *existing

	switch {
	case existing.ServerMessageID == "" && in.ServerMessageID != "":
		out.ServerMessageID = in.ServerMessageID
	case in.ServerMessageID != "" && existing.ServerMessageID != in.ServerMessageID:
		// Contradictory identity mapping: keep the earlier-applied value.
		s.logger.Warn("conflicting server id, keeping earlier mapping",
			zap.String("client_message_id", existing.ClientMessageID),
			zap.String("have", existing.ServerMessageID),
			zap.String("got", in.ServerMessageID))
	}

	if in.ServerMessageID != "" && in.ServerMessageID == out.ServerMessageID && in.Timestamp != 0 {
		out.Timestamp = in.Timestamp
	}
	if in.Content != "" {
		out.Content = in.Content
	}
	if out.SenderID == "" {
		out.SenderID = in.SenderID
	}
	if out.ReplyToMessageID == "" {
		out.ReplyToMessageID = in.ReplyToMessageID
	}
	if canAdvance(out.Status, in.Status) {
		out.Status = in.Status
	}
	return &out
}

// MarkStatus advances a message's delivery status. Stale or backward
// transitions are silently dropped; that is what makes replayed push
// events safe. Returns whether the transition was applied.
func (s *Store) MarkStatus(ref Ref, newStatus string) (bool, error) {
	if !ValidStatus(newStatus) {
		return false, errs.New(errs.MalformedEvent, fmt.Sprintf("unknown status %q", newStatus))
	}

	m, err := s.resolve(ref.ServerID, ref.ClientID)
	if err != nil {
		return false, errs.Wrap(err, errs.TransientIO, "resolve message")
	}
	if m == nil {
		// Status for a message we have not seen yet; the record will
		// arrive via push or delta with its status already folded in.
		return false, nil
	}

	mu := s.chatLock(m.ChatID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the chat lock so concurrent writers cannot
	// interleave on the same identity.
	m, err = s.resolve(ref.ServerID, ref.ClientID)
	if err != nil {
		return false, errs.Wrap(err, errs.TransientIO, "resolve message")
	}
	if m == nil {
		return false, nil
	}
	if !canAdvance(m.Status, newStatus) {
		return false, nil
	}

	m.Status = newStatus
	if err := s.db.UpdateMessage(m); err != nil {
		return false, errs.Wrap(err, errs.TransientIO, "update status")
	}
	s.afterMutation(m)
	return true, nil
}

// MarkRead applies a batch read receipt. Each identity is applied
// independently through the same monotonic rule.
func (s *Store) MarkRead(serverIDs []string) {
	for _, id := range serverIDs {
		if _, err := s.MarkStatus(Ref{ServerID: id}, StatusRead); err != nil {
			s.logger.Warn("read receipt not applied", zap.String("server_message_id", id), zap.Error(err))
		}
	}
}

// GetPage returns up to limit messages older than beforeTS, ascending
// by (timestamp, client_message_id), with no duplicate identities.
func (s *Store) GetPage(chatID string, beforeTS int64, limit int) ([]store.Message, error) {
	msgs, err := s.db.ListMessagesBefore(chatID, beforeTS, limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.TransientIO, "list messages")
	}
	return msgs, nil
}

// Delete removes a message by whichever identity is known. Unknown
// identities are a no-op.
func (s *Store) Delete(ref Ref) error {
	m, err := s.resolve(ref.ServerID, ref.ClientID)
	if err != nil {
		return errs.Wrap(err, errs.TransientIO, "resolve message")
	}
	if m == nil {
		return nil
	}

	mu := s.chatLock(m.ChatID)
	mu.Lock()
	defer mu.Unlock()

	if m.ServerMessageID != "" {
		err = s.db.DeleteMessageByServerID(m.ServerMessageID)
	} else {
		err = s.db.DeleteMessageByClientID(m.ClientMessageID)
	}
	if err != nil {
		return errs.Wrap(err, errs.TransientIO, "delete message")
	}
	s.notify(m.ChatID, Update{Kind: UpdateDelete, Message: *m})
	if s.bus != nil {
		s.bus.Publish(bus.New(bus.KindMessageDeleted, *m))
	}
	return nil
}

// ClearChat removes every message of a chat.
func (s *Store) ClearChat(chatID string) error {
	mu := s.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()
	if err := s.db.ClearChatMessages(chatID); err != nil {
		return errs.Wrap(err, errs.TransientIO, "clear chat")
	}
	return nil
}

// Subscribe returns a live stream of updates for one chat. Delivery is
// buffered and non-blocking: a slow consumer misses updates rather
// than stalling the mutation path; the durable record is never lost.
func (s *Store) Subscribe(chatID string, buf int) (<-chan Update, func()) {
	ch := make(chan Update, buf)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[chatID] == nil {
		s.subs[chatID] = make(map[int]chan Update)
	}
	s.subs[chatID][id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		delete(s.subs[chatID], id)
		if len(s.subs[chatID]) == 0 {
			delete(s.subs, chatID)
		}
		s.subMu.Unlock()
	}
}

func (s *Store) notify(chatID string, u Update) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs[chatID] {
		select {
		case ch <- u:
		default:
		}
	}
}

// afterMutation publishes the per-chat notification, the bus event,
// and keeps the chat's cached last-message summary fresh.
func (s *Store) afterMutation(m *store.Message) {
	if err := s.db.UpdateChatLastMessage(m.ChatID, m.Content, m.Timestamp); err != nil {
		s.logger.Warn("last message summary not updated", zap.String("chat_id", m.ChatID), zap.Error(err))
	}
	s.notify(m.ChatID, Update{Kind: UpdateUpsert, Message: *m})
	if s.bus != nil {
		s.bus.Publish(bus.New(bus.KindMessageUpserted, *m))
	}
}
