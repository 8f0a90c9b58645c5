package convo

import (
	"context"
	"errors"
	"sync"

	"github.com/talentloop/convo/pkg/model"
)

// Paginator loads older history in cursor-bounded pages and merges each one
// beneath the thread's live-synced head. A newer LoadOlder call supersedes
// an in-flight older one.
type Paginator struct {
	rest   *REST
	thread *Thread
	limit  int

	mu         sync.Mutex
	cancelPrev context.CancelFunc
}

func NewPaginator(rest *REST, thread *Thread, limit int) *Paginator {
	if limit <= 0 {
		limit = DefaultConfig().PageSize
	}
	return &Paginator{rest: rest, thread: thread, limit: limit}
}

// LoadOlder fetches the page below the oldest loaded message and merges it.
// Returns the fetched messages and whether more history remains. When the
// thread already reached the start of history it returns immediately.
//
// A stale cursor (history compacted underneath us) surfaces as
// ErrorStaleCursor; the caller restarts from the live head with Reset.
func (p *Paginator) LoadOlder(ctx context.Context) ([]model.Message, bool, error) {
	before := p.thread.OldestID()
	if before != 0 && !p.thread.HasMore() {
		return nil, false, nil
	}

	p.mu.Lock()
	if p.cancelPrev != nil {
		p.cancelPrev()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancelPrev = cancel
	p.mu.Unlock()

	page, err := p.rest.ListMessages(ctx, p.thread.Topic(), p.limit, before)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, false, WrapError(ErrorTransport, "page load superseded", ctx.Err())
		}
		return nil, false, err
	}

	p.thread.MergeOlder(page.Messages, page.HasMore)
	return page.Messages, page.HasMore, nil
}

// Reset reloads the live head after a stale cursor. The thread reseeds, so
// any history the compactor removed disappears with it.
func (p *Paginator) Reset(ctx context.Context) error {
	p.mu.Lock()
	if p.cancelPrev != nil {
		p.cancelPrev()
		p.cancelPrev = nil
	}
	p.mu.Unlock()

	page, err := p.rest.ListMessages(ctx, p.thread.Topic(), p.limit, 0)
	if err != nil {
		return err
	}
	p.thread.Seed(page)
	return nil
}
