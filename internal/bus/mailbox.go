package bus

import (
	"context"
	"sync/atomic"
)

// OverflowPolicy selects what happens when an envelope arrives at a full
// mailbox.
type OverflowPolicy string

const (
	// OverflowBlock suspends the publisher until space frees.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropOldest evicts the oldest queued envelope.
	OverflowDropOldest OverflowPolicy = "drop-oldest"
	// OverflowDropNew discards the incoming envelope.
	OverflowDropNew OverflowPolicy = "drop-new"
)

// DefaultMailboxSize is used when a subscription does not configure one.
const DefaultMailboxSize = 64

// ParseOverflowPolicy validates a configured policy string, defaulting to
// block for the empty string.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch OverflowPolicy(s) {
	case "":
		return OverflowBlock, true
	case OverflowBlock, OverflowDropOldest, OverflowDropNew:
		return OverflowPolicy(s), true
	}
	return "", false
}

// Mailbox is the bounded, back-pressure boundary between one producer
// binding and one subscriber input. A single producer goroutine puts;
// a single host receiver goroutine receives.
type Mailbox struct {
	ch     chan *Envelope
	policy OverflowPolicy

	enqueued    atomic.Int64
	dropped     atomic.Int64
	suspensions atomic.Int64
}

func newMailbox(size int, policy OverflowPolicy) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Mailbox{ch: make(chan *Envelope, size), policy: policy}
}

// Put enqueues an envelope according to the overflow policy. Under block
// it suspends the caller until space frees or ctx is cancelled; under the
// drop policies it never blocks. The returned error is only ever a context
// error.
func (m *Mailbox) Put(ctx context.Context, e *Envelope) error {
	switch m.policy {
	case OverflowDropNew:
		select {
		case m.ch <- e:
			m.enqueued.Add(1)
		default:
			m.dropped.Add(1)
		}
		return nil

	case OverflowDropOldest:
		for {
			select {
			case m.ch <- e:
				m.enqueued.Add(1)
				return nil
			default:
			}
			select {
			case <-m.ch:
				m.dropped.Add(1)
			default:
			}
		}

	default: // block
		select {
		case m.ch <- e:
			m.enqueued.Add(1)
			return nil
		default:
		}
		m.suspensions.Add(1)
		select {
		case m.ch <- e:
			m.enqueued.Add(1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Receive blocks until an envelope arrives or ctx is cancelled. After
// cancellation, anything still queued is left for Drain to count.
func (m *Mailbox) Receive(ctx context.Context) (*Envelope, bool) {
	select {
	case e := <-m.ch:
		return e, true
	case <-ctx.Done():
		return nil, false
	}
}

// Len reports the number of queued envelopes.
func (m *Mailbox) Len() int { return len(m.ch) }

// Drain discards all queued envelopes and returns how many were dropped.
// Called by the shutdown coordinator after the receiver has stopped.
func (m *Mailbox) Drain() int {
	n := 0
	for {
		select {
		case <-m.ch:
			n++
		default:
			m.dropped.Add(int64(n))
			return n
		}
	}
}

// MailboxStats is a point-in-time snapshot of a mailbox's counters.
type MailboxStats struct {
	Enqueued    int64
	Dropped     int64
	Suspensions int64
	Queued      int
}

// Stats snapshots the mailbox counters.
func (m *Mailbox) Stats() MailboxStats {
	return MailboxStats{
		Enqueued:    m.enqueued.Load(),
		Dropped:     m.dropped.Load(),
		Suspensions: m.suspensions.Load(),
		Queued:      len(m.ch),
	}
}
