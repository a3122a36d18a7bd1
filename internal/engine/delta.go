package engine

import (
	"context"
	"sync"

	"github.com/terracrypt/chatsync/internal/bus"
	"github.com/terracrypt/chatsync/internal/errs"
	"github.com/terracrypt/chatsync/internal/status"
	"github.com/terracrypt/chatsync/internal/store"
	"go.uber.org/zap"
)

// ChatRecord is a chat together with its server-owned participant set.
type ChatRecord struct {
	Chat         store.Chat
	Participants []store.Participant
}

// ChatDelta is the set of chat changes since a cursor position.
type ChatDelta struct {
	Chats          []ChatRecord
	DeletedChatIDs []string
	ServerTime     int64
}

// FriendDelta is the set of contact changes since a cursor position.
type FriendDelta struct {
	Friends        []store.Friend
	DeletedUserIDs []string
	ServerTime     int64
}

// MessageDelta is the set of timeline changes for one chat since a
// cursor position.
type MessageDelta struct {
	Messages         []store.Message
	DeletedServerIDs []string
	ServerTime       int64
}

// DeltaFetcher retrieves change sets from the server. A since of 0
// asks for the full resource.
type DeltaFetcher interface {
	FetchChatDelta(ctx context.Context, since int64) (*ChatDelta, error)
	FetchFriendDelta(ctx context.Context, since int64) (*FriendDelta, error)
	FetchMessageDelta(ctx context.Context, chatID string, since int64) (*MessageDelta, error)
}

// Result summarizes one applied delta batch.
type Result struct {
	Inserted int
	Updated  int
	Deleted  int
}

// DeltaController drives cursor-based reconciliation with the server.
// Each resource keeps a persisted cursor; a sync fetches everything
// after the cursor, applies it through the engine's idempotent
// mutation path, and only then advances the cursor. A crash between
// apply and cursor write replays the batch harmlessly.
type DeltaController struct {
	store     *Store
	paginator *Paginator
	fetcher   DeltaFetcher
	bus       *bus.Bus
	logger    *zap.Logger

	mu       sync.Mutex
	inflight map[string]*syncCall

	cancel context.CancelFunc
	done   chan struct{}
}

type syncCall struct {
	done chan struct{}
	res  Result
	err  error
}

func NewDeltaController(s *Store, p *Paginator, f DeltaFetcher, b *bus.Bus, logger *zap.Logger) *DeltaController {
	return &DeltaController{
		store:     s,
		paginator: p,
		fetcher:   f,
		bus:       b,
		logger:    logger,
		inflight:  make(map[string]*syncCall),
	}
}

// run coalesces concurrent syncs of the same resource: the first
// caller does the work, the rest wait for its result.
func (d *DeltaController) run(ctx context.Context, resource string, op func(context.Context) (Result, error)) (Result, error) {
	d.mu.Lock()
	if call, ok := d.inflight[resource]; ok {
		d.mu.Unlock()
		select {
		case <-call.done:
			return call.res, call.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	call := &syncCall{done: make(chan struct{})}
	d.inflight[resource] = call
	d.mu.Unlock()

	call.res, call.err = op(ctx)
	d.mu.Lock()
	delete(d.inflight, resource)
	d.mu.Unlock()
	close(call.done)

	if call.err == nil && d.bus != nil {
		d.bus.Publish(bus.New(bus.KindDeltaApplied, resource))
	}
	return call.res, call.err
}

// SyncChats reconciles the chat list and participant sets.
func (d *DeltaController) SyncChats(ctx context.Context) (Result, error) {
	return d.run(ctx, store.CursorChats, func(ctx context.Context) (Result, error) {
		since, err := d.store.db.GetCursor(store.CursorChats)
		if err != nil {
			return Result{}, err
		}
		delta, err := d.fetcher.FetchChatDelta(ctx, since)
		if err != nil {
			return Result{}, err
		}

		var res Result
		for _, rec := range delta.Chats {
			existing, err := d.store.db.GetChat(rec.Chat.ChatID)
			if err != nil {
				return res, err
			}
			c := rec.Chat
			if err := d.store.db.UpsertChat(&c); err != nil {
				return res, err
			}
			if rec.Participants != nil {
				if err := d.store.db.ReplaceParticipants(c.ChatID, rec.Participants); err != nil {
					return res, err
				}
			}
			if existing == nil {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		for _, id := range delta.DeletedChatIDs {
			if err := d.store.db.DeleteChat(id); err != nil {
				return res, err
			}
			d.paginator.Invalidate(id)
			res.Deleted++
		}

		if delta.ServerTime != 0 {
			if err := d.store.db.SetCursor(store.CursorChats, delta.ServerTime); err != nil {
				return res, err
			}
		}
		return res, nil
	})
}

// SyncFriends reconciles the contact list.
func (d *DeltaController) SyncFriends(ctx context.Context) (Result, error) {
	return d.run(ctx, store.CursorFriends, func(ctx context.Context) (Result, error) {
		since, err := d.store.db.GetCursor(store.CursorFriends)
		if err != nil {
			return Result{}, err
		}
		delta, err := d.fetcher.FetchFriendDelta(ctx, since)
		if err != nil {
			return Result{}, err
		}

		var res Result
		for _, fr := range delta.Friends {
			existing, err := d.store.db.GetFriend(fr.UserID)
			if err != nil {
				return res, err
			}
			f := fr
			if err := d.store.db.UpsertFriend(&f); err != nil {
				return res, err
			}
			if existing == nil {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		for _, id := range delta.DeletedUserIDs {
			if err := d.store.db.DeleteFriend(id); err != nil {
				return res, err
			}
			res.Deleted++
		}

		if delta.ServerTime != 0 {
			if err := d.store.db.SetCursor(store.CursorFriends, delta.ServerTime); err != nil {
				return res, err
			}
		}
		return res, nil
	})
}

// SyncMessages reconciles one chat's timeline from its cursor.
func (d *DeltaController) SyncMessages(ctx context.Context, chatID string) (Result, error) {
	resource := store.MessageCursor(chatID)
	return d.run(ctx, resource, func(ctx context.Context) (Result, error) {
		since, err := d.store.db.GetCursor(resource)
		if err != nil {
			return Result{}, err
		}
		delta, err := d.fetcher.FetchMessageDelta(ctx, chatID, since)
		if err != nil {
			return Result{}, err
		}

		var res Result
		for i := range delta.Messages {
			m := delta.Messages[i]
			_, created, err := d.store.Upsert(&m)
			if err != nil {
				if errs.IsRetryable(err) {
					// Leave the cursor behind; the refetch will retry
					// this batch.
					return res, err
				}
				// A malformed row would otherwise wedge the cursor:
				// every refetch replays the identical batch and dies on
				// the same row. Drop it and keep the batch moving.
				d.logger.Warn("delta row not folded in",
					zap.String("chat_id", chatID),
					zap.String("server_message_id", m.ServerMessageID),
					zap.Error(err))
				continue
			}
			if created {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		for _, id := range delta.DeletedServerIDs {
			if err := d.store.Delete(Ref{ServerID: id}); err != nil {
				return res, err
			}
			res.Deleted++
		}

		if delta.ServerTime != 0 {
			if err := d.store.db.SetCursor(resource, delta.ServerTime); err != nil {
				return res, err
			}
		}
		return res, nil
	})
}

// SyncAll reconciles chats and friends, then the timeline of every
// chat that has synced before. Errors are logged per resource; the
// pass continues so one failing resource does not starve the rest.
func (d *DeltaController) SyncAll(ctx context.Context) {
	if _, err := d.SyncChats(ctx); err != nil {
		d.logger.Warn("chat sync failed", zap.Error(err))
	}
	if _, err := d.SyncFriends(ctx); err != nil {
		d.logger.Warn("friend sync failed", zap.Error(err))
	}
	chatIDs, err := d.store.db.MessageCursorChats()
	if err != nil {
		d.logger.Warn("message cursor scan failed", zap.Error(err))
		return
	}
	for _, id := range chatIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := d.SyncMessages(ctx, id); err != nil {
			d.logger.Warn("message sync failed", zap.String("chat_id", id), zap.Error(err))
		}
	}
}

// FullResync drops every cursor and end-of-history marker and runs a
// complete pass, refetching all resources from the epoch.
func (d *DeltaController) FullResync(ctx context.Context) error {
	if err := d.store.db.ResetAllCursors(); err != nil {
		return err
	}
	chats, err := d.store.db.ListChats()
	if err != nil {
		return err
	}
	for _, c := range chats {
		d.paginator.Invalidate(c.ChatID)
	}
	if d.bus != nil {
		d.bus.Publish(bus.New(bus.KindFullResync, nil))
	}
	d.SyncAll(ctx)
	return nil
}

// Start subscribes to connection changes and runs a sync pass each
// time the push channel comes up, so reconnects repair anything missed
// while offline.
func (d *DeltaController) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})

	events, unsub := d.bus.Subscribe("conn.", 16)
	go func() {
		defer close(d.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if ch, ok := ev.Payload.(status.Change); ok && ch.To == status.Connected {
					d.SyncAll(ctx)
				}
			}
		}
	}()
}

// Stop halts the connection watcher.
func (d *DeltaController) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}
