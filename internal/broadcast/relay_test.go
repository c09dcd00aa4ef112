package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-inventory/internal/model"
)

func TestRelay_PublishesLocallyAndToRedis(t *testing.T) {
	db, mock := redismock.NewClientMock()
	hub := NewHub(Options{})
	relay := NewRelay(db, hub, nil)
	relay.origin = "node-a"
	sub := hub.Subscribe("E1", "")
	defer sub.Close()

	ev := model.SeatEvent{
		Type: model.EventSeatLocked, EventID: "E1", SeatIDs: []string{"S1"},
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Versions: map[string]uint64{"S1": 2},
	}
	payload, err := json.Marshal(envelope{Origin: "node-a", Event: ev})
	require.NoError(t, err)
	mock.ExpectPublish(Channel, payload).SetVal(1)

	relay.Publish(context.Background(), ev)

	got := drain(sub)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].Cursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_HandleIgnoresOwnMessages(t *testing.T) {
	db, _ := redismock.NewClientMock()
	hub := NewHub(Options{})
	relay := NewRelay(db, hub, nil)
	relay.origin = "node-a"
	sub := hub.Subscribe("E1", "")
	defer sub.Close()
	ctx := context.Background()

	ev := model.SeatEvent{Type: model.EventSeatReleased, EventID: "E1", SeatIDs: []string{"S1"}, Versions: map[string]uint64{"S1": 2}}
	own, err := json.Marshal(envelope{Origin: "node-a", Event: ev})
	require.NoError(t, err)
	remote, err := json.Marshal(envelope{Origin: "node-b", Event: ev})
	require.NoError(t, err)

	relay.handle(ctx, string(own))
	assert.Empty(t, drain(sub))

	relay.handle(ctx, string(remote))
	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventSeatReleased, got[0].Type)

	relay.handle(ctx, "not json")
	assert.Empty(t, drain(sub))
}
