package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"call-signaling/internal/calls"
)

const DefaultBuffer = 16

// SessionChanged is one committed mutation of a call session row.
type SessionChanged struct {
	Session calls.CallSession `json:"session"`
	Change  calls.ChangeKind  `json:"change"`
}

// Forwarder receives every locally published change, e.g. to relay it to
// other API instances.
type Forwarder interface {
	Forward(ctx context.Context, ev SessionChanged)
}

// Bus fans session changes out to the two participants' subscriptions.
//
// Publish never blocks: a subscriber whose buffer is full loses its oldest
// pending event. Consumers that need the full row re-read it anyway, so the
// newest state always wins.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	fwdMu sync.RWMutex
	fwd   Forwarder

	dropped atomic.Int64
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log, subs: map[string]map[*Subscription]struct{}{}}
}

// SetForwarder installs the cross-instance relay. nil disables it.
func (b *Bus) SetForwarder(f Forwarder) {
	b.fwdMu.Lock()
	b.fwd = f
	b.fwdMu.Unlock()
}

// Subscription is a typed per-user event channel. C is closed by Close.
type Subscription struct {
	UserID string
	C      <-chan SessionChanged

	ch   chan SessionChanged
	bus  *Bus
	once sync.Once

	// sendMu serializes publishers so a full buffer is compacted by one
	// writer at a time.
	sendMu sync.Mutex
}

func (b *Bus) Subscribe(userID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan SessionChanged, buffer)
	sub := &Subscription{UserID: userID, C: ch, ch: ch, bus: b}

	b.mu.Lock()
	set, ok := b.subs[userID]
	if !ok {
		set = map[*Subscription]struct{}{}
		b.subs[userID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		if set, ok := b.subs[s.UserID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.subs, s.UserID)
			}
		}
		close(s.ch)
		b.mu.Unlock()
	})
}

// Publish implements calls.Publisher.
func (b *Bus) Publish(ctx context.Context, s calls.CallSession, change calls.ChangeKind) {
	ev := SessionChanged{Session: s, Change: change}
	b.Deliver(ev)

	b.fwdMu.RLock()
	fwd := b.fwd
	b.fwdMu.RUnlock()
	if fwd != nil {
		fwd.Forward(ctx, ev)
	}
}

// Deliver fans ev out to local subscribers of the receiver and the
// initiator without forwarding it.
func (b *Bus) Deliver(ev SessionChanged) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, userID := range []string{ev.Session.ReceiverID, ev.Session.InitiatorID} {
		for sub := range b.subs[userID] {
			b.send(sub, ev)
		}
	}
}

// send requires b.mu (read). When the buffer is full it keeps only the
// newest event per session, then drops the oldest non-pending events. An
// incoming call's pending row is the last thing evicted.
func (b *Bus) send(sub *Subscription, ev SessionChanged) {
	sub.sendMu.Lock()
	defer sub.sendMu.Unlock()

	select {
	case sub.ch <- ev:
		return
	default:
	}

	queue := make([]SessionChanged, 0, cap(sub.ch)+1)
drain:
	for {
		select {
		case old := <-sub.ch:
			queue = append(queue, old)
		default:
			break drain
		}
	}
	queue = append(queue, ev)

	kept := compact(queue, cap(sub.ch))
	if n := len(queue) - len(kept); n > 0 {
		b.dropped.Add(int64(n))
		b.log.Warn("subscriber slow; dropped superseded events",
			"user_id", sub.UserID, "dropped", n)
	}
	for _, e := range kept {
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// compact returns at most limit events from queue, oldest first.
func compact(queue []SessionChanged, limit int) []SessionChanged {
	latest := make(map[string]int, len(queue))
	for i, e := range queue {
		latest[e.Session.ID] = i
	}
	out := make([]SessionChanged, 0, len(latest))
	for i, e := range queue {
		if latest[e.Session.ID] == i {
			out = append(out, e)
		}
	}
	for len(out) > limit {
		victim := 0
		for i, e := range out {
			if e.Session.Status != calls.StatusPending {
				victim = i
				break
			}
		}
		out = append(out[:victim], out[victim+1:]...)
	}
	return out
}

func (b *Bus) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

// Dropped is the number of events discarded for slow subscribers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

var _ calls.Publisher = (*Bus)(nil)
