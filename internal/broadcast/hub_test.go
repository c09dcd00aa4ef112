package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-inventory/internal/model"
)

func seatEvent(typ model.SeatEventType, versions map[string]uint64) model.SeatEvent {
	ev := model.SeatEvent{Type: typ, EventID: "E1", Versions: versions}
	for id := range versions {
		ev.SeatIDs = append(ev.SeatIDs, id)
	}
	return ev
}

func drain(sub *Subscription) []model.SeatEvent {
	var out []model.SeatEvent
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func types(evs []model.SeatEvent) []model.SeatEventType {
	out := make([]model.SeatEventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func TestHub_DeliversInPublishOrderWithCursors(t *testing.T) {
	h := NewHub(Options{})
	ctx := context.Background()
	sub := h.Subscribe("E1", "")
	defer sub.Close()
	other := h.Subscribe("E2", "")
	defer other.Close()
	assert.True(t, sub.NeedSnapshot)

	h.Publish(ctx, seatEvent(model.EventSeatLocked, map[string]uint64{"S1": 2}))
	h.Publish(ctx, seatEvent(model.EventSeatBooked, map[string]uint64{"S1": 3}))
	h.Publish(ctx, model.SeatEvent{Type: model.EventAvailabilityUpdate, EventID: "E1", SeatIDs: []string{"S1"}})

	got := drain(sub)
	assert.Equal(t, []model.SeatEventType{model.EventSeatLocked, model.EventSeatBooked, model.EventAvailabilityUpdate}, types(got))
	assert.Equal(t, h.epoch+"-1", got[0].Cursor)
	assert.Equal(t, h.epoch+"-3", got[2].Cursor)
	assert.Equal(t, h.Cursor("E1"), got[2].Cursor)
	assert.Empty(t, drain(other))
}

func TestHub_ReordersAndDropsStale(t *testing.T) {
	h := NewHub(Options{})
	ctx := context.Background()
	sub := h.Subscribe("E1", "")
	defer sub.Close()

	h.Publish(ctx, seatEvent(model.EventSeatLocked, map[string]uint64{"S1": 2}))
	// The booking commit publishes before the release that preceded it.
	h.Publish(ctx, seatEvent(model.EventSeatLocked, map[string]uint64{"S1": 4}))
	h.Publish(ctx, seatEvent(model.EventSeatReleased, map[string]uint64{"S1": 3}))
	h.Publish(ctx, seatEvent(model.EventSeatReleased, map[string]uint64{"S1": 3}))

	assert.Equal(t, []model.SeatEventType{
		model.EventSeatLocked, model.EventSeatReleased, model.EventSeatLocked,
	}, types(drain(sub)))
}

func TestHub_FlushGivesUpOnMissingPredecessor(t *testing.T) {
	h := NewHub(Options{ReorderHold: 100 * time.Millisecond})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	ctx := context.Background()
	sub := h.Subscribe("E1", "")
	defer sub.Close()

	h.Publish(ctx, seatEvent(model.EventSeatLocked, map[string]uint64{"S1": 2}))
	h.Publish(ctx, seatEvent(model.EventSeatBooked, map[string]uint64{"S1": 5}))
	require.Len(t, drain(sub), 1)

	h.Flush()
	assert.Empty(t, drain(sub))

	now = now.Add(100 * time.Millisecond)
	h.Flush()
	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventSeatBooked, got[0].Type)

	h.Publish(ctx, seatEvent(model.EventSeatReleased, map[string]uint64{"S1": 4}))
	assert.Empty(t, drain(sub))
}

func TestHub_ReplayFromCursor(t *testing.T) {
	h := NewHub(Options{BufferSize: 3})
	ctx := context.Background()

	for v := uint64(2); v <= 3; v++ {
		h.Publish(ctx, seatEvent(model.EventSeatLocked, map[string]uint64{"S1": v}))
	}
	first := h.epoch + "-1"

	sub := h.Subscribe("E1", first)
	assert.False(t, sub.NeedSnapshot)
	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, h.epoch+"-2", got[0].Cursor)
	sub.Close()

	for v := uint64(4); v <= 6; v++ {
		h.Publish(ctx, seatEvent(model.EventSeatLocked, map[string]uint64{"S1": v}))
	}
	assert.True(t, h.Subscribe("E1", first).NeedSnapshot, "evicted gap must force a snapshot")
	assert.True(t, h.Subscribe("E1", "otherepoch-5").NeedSnapshot)
	assert.True(t, h.Subscribe("E1", h.epoch+"-99").NeedSnapshot)

	current := h.Subscribe("E1", h.Cursor("E1"))
	assert.False(t, current.NeedSnapshot)
	assert.Empty(t, drain(current))
}

func TestHub_CutsOffLaggingSubscriber(t *testing.T) {
	h := NewHub(Options{SubscriberBuffer: 2})
	ctx := context.Background()
	slow := h.Subscribe("E1", "")
	fast := h.Subscribe("E1", "")
	defer fast.Close()

	for i := 0; i < 3; i++ {
		h.Publish(ctx, model.SeatEvent{Type: model.EventAvailabilityUpdate, EventID: "E1"})
		if i < 2 {
			drain(fast)
		}
	}

	assert.True(t, slow.Lagged())
	assert.Len(t, drain(slow), 2)
	_, open := <-slow.Events()
	assert.False(t, open)
	slow.Close()

	assert.False(t, fast.Lagged())
	assert.Len(t, drain(fast), 1)
}

func TestHub_UnseenSeatWaitsForItsFirstTransition(t *testing.T) {
	h := NewHub(Options{})
	ctx := context.Background()
	sub := h.Subscribe("E1", "")
	defer sub.Close()

	// The booking commit reaches a fresh topic before the lock it follows.
	h.Publish(ctx, seatEvent(model.EventSeatBooked, map[string]uint64{"S1": 3}))
	assert.Empty(t, drain(sub))
	h.Publish(ctx, seatEvent(model.EventSeatLocked, map[string]uint64{"S1": 2}))

	assert.Equal(t, []model.SeatEventType{model.EventSeatLocked, model.EventSeatBooked}, types(drain(sub)))
}

func TestHub_FlushOrdersUnseenSeatsByVersion(t *testing.T) {
	h := NewHub(Options{ReorderHold: 100 * time.Millisecond})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	ctx := context.Background()
	sub := h.Subscribe("E1", "")
	defer sub.Close()

	// A restarted hub sees seats whose versions are well past seeding.
	h.Publish(ctx, seatEvent(model.EventSeatBooked, map[string]uint64{"S1": 9}))
	now = now.Add(60 * time.Millisecond)
	h.Publish(ctx, seatEvent(model.EventSeatLocked, map[string]uint64{"S1": 8}))
	assert.Empty(t, drain(sub))

	now = now.Add(40 * time.Millisecond)
	h.Flush()
	got := drain(sub)
	assert.Equal(t, []model.SeatEventType{model.EventSeatLocked, model.EventSeatBooked}, types(got))

	h.Publish(ctx, seatEvent(model.EventSeatReleased, map[string]uint64{"S1": 10}))
	assert.Len(t, drain(sub), 1)
}
