// Package broadcast fans seat events out to the watchers of each event.
//
// Events are delivered per event id in publish order, except that seat
// transitions carrying versions are re-sequenced per seat: an event whose
// predecessor has not been seen yet is held for a short while, and events
// older than what a seat already reached are dropped.  Every delivered
// event gets a cursor so a reconnecting watcher can resume from the
// per-event ring buffer, or learn that it must reload a snapshot.
package broadcast

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// Options configures a Hub.
type Options struct {
	// BufferSize is the number of events kept per event id for replay.
	BufferSize int
	// SubscriberBuffer is the channel capacity of each subscription.  A
	// subscriber that falls further behind is cut off.
	SubscriberBuffer int
	// ReorderHold bounds how long an out-of-order event waits for its
	// predecessor.
	ReorderHold time.Duration
	Log         logrus.FieldLogger
}

// Hub is an in-process per-event broadcaster.
type Hub struct {
	opts  Options
	epoch string
	now   func() time.Time

	mu     sync.Mutex
	topics map[string]*topic
}

type buffered struct {
	seq uint64
	ev  model.SeatEvent
}

type held struct {
	ev    model.SeatEvent
	since time.Time
}

type topic struct {
	seq      uint64
	ring     []buffered
	versions map[string]uint64
	pending  []held
	subs     map[*Subscription]struct{}
}

// NewHub returns a hub.  Cursors issued by one hub are not valid on
// another, so a restart forces watchers to resync.
func NewHub(opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 256
	}
	if opts.ReorderHold <= 0 {
		opts.ReorderHold = 250 * time.Millisecond
	}
	if opts.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Log = l
	}
	return &Hub{
		opts:   opts,
		epoch:  strconv.FormatInt(time.Now().UnixNano(), 36),
		now:    time.Now,
		topics: make(map[string]*topic),
	}
}

func (h *Hub) topic(eventID string) *topic {
	t, ok := h.topics[eventID]
	if !ok {
		t = &topic{versions: make(map[string]uint64), subs: make(map[*Subscription]struct{})}
		h.topics[eventID] = t
	}
	return t
}

// Publish delivers ev to the watchers of ev.EventID.
func (h *Hub) Publish(_ context.Context, ev model.SeatEvent) {
	ev.Cursor = ""
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topic(ev.EventID)

	if len(ev.Versions) == 0 {
		h.deliver(t, ev)
		return
	}
	switch t.classify(ev) {
	case stale:
		h.opts.Log.WithFields(logrus.Fields{"event_id": ev.EventID, "type": ev.Type}).Debug("dropping stale seat event")
	case gap:
		t.pending = append(t.pending, held{ev: ev, since: h.now()})
	case ready:
		h.deliver(t, ev)
		h.release(t)
	}
}

type order int

const (
	ready order = iota
	gap
	stale
)

// firstTransition is the version a seat reaches on its first write after
// seeding.
const firstTransition = 2

// classify compares ev against the last version delivered for each seat.
// A seat never seen before is ready only at its first transition; any
// later version may still have a predecessor in flight, so it waits out
// the reorder hold like any other gap.
func (t *topic) classify(ev model.SeatEvent) order {
	newer := false
	for seat, v := range ev.Versions {
		last, seen := t.versions[seat]
		if !seen {
			if v > firstTransition {
				return gap
			}
			newer = true
			continue
		}
		if v > last+1 {
			return gap
		}
		if v > last {
			newer = true
		}
	}
	if !newer {
		return stale
	}
	return ready
}

// release delivers held events that became deliverable.
func (h *Hub) release(t *topic) {
	for progressed := true; progressed; {
		progressed = false
		kept := t.pending[:0]
		for _, p := range t.pending {
			switch t.classify(p.ev) {
			case ready:
				h.deliver(t, p.ev)
				progressed = true
			case gap:
				kept = append(kept, p)
			}
		}
		t.pending = kept
	}
}

func (h *Hub) deliver(t *topic, ev model.SeatEvent) {
	for seat, v := range ev.Versions {
		if v > t.versions[seat] {
			t.versions[seat] = v
		}
	}
	t.seq++
	ev.Cursor = h.cursor(t.seq)
	t.ring = append(t.ring, buffered{seq: t.seq, ev: ev})
	if over := len(t.ring) - h.opts.BufferSize; over > 0 {
		t.ring = append(t.ring[:0:0], t.ring[over:]...)
	}
	for sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			h.opts.Log.WithField("event_id", ev.EventID).Warn("subscriber lagging, cutting off")
			sub.lagged = true
			delete(t.subs, sub)
			close(sub.ch)
		}
	}
}

// Flush delivers events held longer than the reorder hold, giving up on
// their missing predecessors.  Younger held events with a lower version of
// the same seat go out first, so the seat's baseline is the oldest version
// seen rather than the first to arrive.
func (h *Hub) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for _, t := range h.topics {
		if len(t.pending) == 0 {
			continue
		}
		var due []model.SeatEvent
		var young []held
		for _, p := range t.pending {
			if now.Sub(p.since) >= h.opts.ReorderHold {
				due = append(due, p.ev)
			} else {
				young = append(young, p)
			}
		}
		if len(due) == 0 {
			continue
		}
		t.pending = young[:0:0]
		for _, p := range young {
			if precedes(p.ev, due) {
				due = append(due, p.ev)
			} else {
				t.pending = append(t.pending, p)
			}
		}
		sort.SliceStable(due, func(i, j int) bool { return lowest(due[i]) < lowest(due[j]) })
		for _, ev := range due {
			if t.classify(ev) != stale {
				h.deliver(t, ev)
			}
		}
		h.release(t)
	}
}

// precedes reports whether ev carries an older version of a seat than one
// of the events in due.
func precedes(ev model.SeatEvent, due []model.SeatEvent) bool {
	for seat, v := range ev.Versions {
		for _, d := range due {
			if dv, ok := d.Versions[seat]; ok && v < dv {
				return true
			}
		}
	}
	return false
}

func lowest(ev model.SeatEvent) uint64 {
	var low uint64
	for _, v := range ev.Versions {
		if low == 0 || v < low {
			low = v
		}
	}
	return low
}

// Run flushes held events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.ReorderHold / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Flush()
		}
	}
}

func (h *Hub) cursor(seq uint64) string {
	return h.epoch + "-" + strconv.FormatUint(seq, 10)
}

// Cursor returns the cursor of the last event delivered for eventID.
func (h *Hub) Cursor(eventID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor(h.topic(eventID).seq)
}

// Subscription is one watcher of one event id.
type Subscription struct {
	// NeedSnapshot is set when events since the requested cursor cannot be
	// replayed; the watcher must reload full state.
	NeedSnapshot bool

	hub     *Hub
	eventID string
	ch      chan model.SeatEvent
	lagged  bool
	closed  bool
}

// Subscribe registers a watcher of eventID.  With a cursor issued by this
// hub whose successors are still buffered, the missed events are queued on
// the subscription first; otherwise NeedSnapshot is set.
func (h *Hub) Subscribe(eventID, cursor string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topic(eventID)

	replay, ok := h.replay(t, cursor)
	size := h.opts.SubscriberBuffer
	if len(replay) > size {
		size = len(replay)
	}
	sub := &Subscription{hub: h, eventID: eventID, ch: make(chan model.SeatEvent, size), NeedSnapshot: !ok}
	for _, ev := range replay {
		sub.ch <- ev
	}
	t.subs[sub] = struct{}{}
	return sub
}

func (h *Hub) replay(t *topic, cursor string) ([]model.SeatEvent, bool) {
	i := strings.LastIndexByte(cursor, '-')
	if i <= 0 || cursor[:i] != h.epoch {
		return nil, false
	}
	seq, err := strconv.ParseUint(cursor[i+1:], 10, 64)
	if err != nil || seq > t.seq {
		return nil, false
	}
	if seq == t.seq {
		return nil, true
	}
	if len(t.ring) == 0 || t.ring[0].seq > seq+1 {
		return nil, false
	}
	out := make([]model.SeatEvent, 0, t.seq-seq)
	for _, b := range t.ring {
		if b.seq > seq {
			out = append(out, b.ev)
		}
	}
	return out, true
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan model.SeatEvent { return s.ch }

// Lagged reports whether the hub cut the subscription off because it fell
// behind.
func (s *Subscription) Lagged() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.lagged
}

// Close unregisters the subscription.  It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if t, ok := s.hub.topics[s.eventID]; ok {
		if _, live := t.subs[s]; live {
			delete(t.subs, s)
			close(s.ch)
		}
	}
}
