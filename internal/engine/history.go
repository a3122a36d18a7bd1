package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/terracrypt/chatsync/internal/errs"
	"github.com/terracrypt/chatsync/internal/store"
	"go.uber.org/zap"
)

// maxBound stands in for "newest page" when no boundary is known.
const maxBound = int64(1)<<62 - 1

// HistoryFetcher retrieves a page of older messages from the server.
type HistoryFetcher interface {
	FetchMessagesBefore(ctx context.Context, chatID string, beforeTS int64, limit int) ([]store.Message, error)
}

type pageCall struct {
	done  chan struct{}
	msgs  []store.Message
	added int
	err   error
}

// Paginator serves backward history pages. Pages are answered from the
// replica when it already holds enough rows; otherwise the gap is
// fetched from the server, folded into the store, and the page is
// re-read so both sources appear as one seamless timeline. Concurrent
// requests for the same page share a single fetch.
type Paginator struct {
	store   *Store
	fetcher HistoryFetcher
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]*pageCall
	// exhausted marks chats whose server history before a given
	// timestamp is known to be fully replicated.
	exhausted map[string]int64
}

func NewPaginator(s *Store, f HistoryFetcher, logger *zap.Logger) *Paginator {
	return &Paginator{
		store:     s,
		fetcher:   f,
		logger:    logger,
		inflight:  make(map[string]*pageCall),
		exhausted: make(map[string]int64),
	}
}

// LoadPage returns up to limit messages of chatID strictly older than
// beforeTS, ascending. A beforeTS of 0 means "newest page".
func (p *Paginator) LoadPage(ctx context.Context, chatID string, beforeTS int64, limit int) ([]store.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("load page: non-positive limit %d", limit)
	}
	bound := beforeTS
	if bound == 0 {
		bound = maxBound
	}

	local, err := p.store.GetPage(chatID, bound, limit)
	if err != nil {
		return nil, err
	}
	if len(local) >= limit || p.isExhausted(chatID, bound) {
		return local, nil
	}

	call, err := p.fetch(ctx, chatID, bound, limit)
	if err != nil {
		return nil, err
	}
	return call.msgs, nil
}

// LoadOlder extends a chat's replicated history backward by one page,
// using the oldest loaded message as the boundary. Returns how many
// records were actually new; 0 with HasMore false means the start of
// history has been reached.
func (p *Paginator) LoadOlder(ctx context.Context, chatID string, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("load older: non-positive limit %d", limit)
	}
	bound, err := p.oldestBound(chatID)
	if err != nil {
		return 0, err
	}
	if p.isExhausted(chatID, bound) {
		return 0, nil
	}
	call, err := p.fetch(ctx, chatID, bound, limit)
	if err != nil {
		return 0, err
	}
	return call.added, nil
}

// HasMore reports whether the server may still hold history older than
// what the replica has for this chat.
func (p *Paginator) HasMore(chatID string) bool {
	bound, err := p.oldestBound(chatID)
	if err != nil {
		return true
	}
	return !p.isExhausted(chatID, bound)
}

func (p *Paginator) oldestBound(chatID string) (int64, error) {
	oldest, err := p.store.db.OldestTimestamp(chatID)
	if err != nil {
		return 0, errs.Wrap(err, errs.TransientIO, "oldest timestamp")
	}
	if oldest == 0 {
		return maxBound, nil
	}
	return oldest, nil
}

// fetch coalesces concurrent requests for the same (chat, boundary)
// into one server round trip.
func (p *Paginator) fetch(ctx context.Context, chatID string, bound int64, limit int) (*pageCall, error) {
	key := fmt.Sprintf("%s|%d", chatID, bound)
	p.mu.Lock()
	if call, ok := p.inflight[key]; ok {
		p.mu.Unlock()
		select {
		case <-call.done:
			return call, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &pageCall{done: make(chan struct{})}
	p.inflight[key] = call
	p.mu.Unlock()

	call.msgs, call.added, call.err = p.fill(ctx, chatID, bound, limit)
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
	close(call.done)
	return call, call.err
}

// fill fetches the missing region from the server, folds it into the
// store, then answers from the replica.
func (p *Paginator) fill(ctx context.Context, chatID string, bound int64, limit int) ([]store.Message, int, error) {
	remote, err := p.fetcher.FetchMessagesBefore(ctx, chatID, bound, limit)
	if err != nil {
		if errs.ClassOf(err) == errs.NotConnected || errs.IsRetryable(err) {
			// Offline: the replica is the best available answer.
			p.logger.Info("history fetch unavailable, serving replica only",
				zap.String("chat_id", chatID), zap.Error(err))
			msgs, lerr := p.store.GetPage(chatID, bound, limit)
			return msgs, 0, lerr
		}
		return nil, 0, err
	}

	added := 0
	for i := range remote {
		m := remote[i]
		_, created, err := p.store.Upsert(&m)
		if err != nil {
			p.logger.Warn("history row not folded in",
				zap.String("server_message_id", m.ServerMessageID), zap.Error(err))
			continue
		}
		if created {
			added++
		}
	}
	if len(remote) < limit {
		p.markExhausted(chatID, bound)
	}
	msgs, err := p.store.GetPage(chatID, bound, limit)
	return msgs, added, err
}

func (p *Paginator) isExhausted(chatID string, bound int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.exhausted[chatID]
	return ok && bound <= at
}

func (p *Paginator) markExhausted(chatID string, bound int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if at, ok := p.exhausted[chatID]; !ok || bound > at {
		p.exhausted[chatID] = bound
	}
}

// Invalidate forgets the end-of-history marker for a chat, forcing the
// next short page to consult the server again. Called after a full
// resync or a chat clear.
func (p *Paginator) Invalidate(chatID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.exhausted, chatID)
}
