package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LdDl/carewatch/interaction"
)

const defaultMailboxSize = 10

// Mailbox is a bounded producer to consumer queue which drops the oldest update when full.
//
// Positions of a dropped update are superseded by newer ones. Its interaction events and
// lost-track notices are carried into the update that displaced it, they cannot be derived again.
type Mailbox struct {
	mu      sync.Mutex
	ch      chan Update
	closed  bool
	dropped atomic.Uint64
}

// NewMailbox creates mailbox with given capacity. Non-positive size falls back to 10
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = defaultMailboxSize
	}
	return &Mailbox{ch: make(chan Update, size)}
}

// Offer enqueues update without blocking. Returns false if mailbox is closed
func (m *Mailbox) Offer(update Update) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	for {
		select {
		case m.ch <- update:
			return true
		default:
		}
		select {
		case oldest := <-m.ch:
			m.dropped.Add(1)
			update = coalesce(oldest, update)
		default:
			// Consumer freed a slot in between
		}
	}
}

// Receive waits up to timeout for an update
func (m *Mailbox) Receive(ctx context.Context, timeout time.Duration) (Update, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case update, ok := <-m.ch:
		return update, ok
	case <-ctx.Done():
		return Update{}, false
	case <-timer.C:
		return Update{}, false
	}
}

// Close stops accepting updates. Queued ones can still be received
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// Drained reports whether mailbox is closed and empty
func (m *Mailbox) Drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed && len(m.ch) == 0
}

// Len returns number of queued updates
func (m *Mailbox) Len() int {
	return len(m.ch)
}

// Dropped returns number of updates discarded so far
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}

// coalesce folds superseded update into the newer one
func coalesce(oldest, newer Update) Update {
	if len(oldest.Interactions) > 0 {
		events := make([]interaction.Event, 0, len(oldest.Interactions)+len(newer.Interactions))
		events = append(events, oldest.Interactions...)
		newer.Interactions = append(events, newer.Interactions...)
	}
	if len(oldest.Lost) == 0 {
		return newer
	}
	seen := make(map[string]struct{}, len(newer.Tracks)+len(newer.Lost))
	for _, t := range newer.Tracks {
		seen[t.Track.ID] = struct{}{}
	}
	lost := make([]string, 0, len(oldest.Lost)+len(newer.Lost))
	for _, id := range oldest.Lost {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		lost = append(lost, id)
	}
	for _, id := range newer.Lost {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		lost = append(lost, id)
	}
	newer.Lost = lost
	return newer
}
