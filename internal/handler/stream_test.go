package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-inventory/internal/broadcast"
	"github.com/iliyamo/seat-inventory/internal/middleware"
	"github.com/iliyamo/seat-inventory/internal/model"
)

type frame struct {
	Type     string            `json:"type"`
	EventID  string            `json:"eventId"`
	Cursor   string            `json:"cursor"`
	Seats    []seatView        `json:"seats"`
	SeatIDs  []string          `json:"seatIds"`
	Versions map[string]uint64 `json:"versions"`
}

func dial(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.e)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream/events/E1?access_token=" +
		token(t, "U1", middleware.RoleCustomer) + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(payload, &f))
	return f
}

func TestStreamSnapshotThenEvents(t *testing.T) {
	env := newEnv(t)
	conn := dial(t, env, "")

	snap := next(t, conn)
	require.Equal(t, msgSnapshot, snap.Type)
	assert.Len(t, snap.Seats, 3)
	assert.NotEmpty(t, snap.Cursor)

	_, err := env.locks.Acquire(context.Background(), "E1", []string{"S1"}, "U2")
	require.NoError(t, err)

	ev := next(t, conn)
	assert.Equal(t, string(model.EventSeatLocked), ev.Type)
	assert.Equal(t, []string{"S1"}, ev.SeatIDs)
	assert.Equal(t, uint64(2), ev.Versions["S1"])
	assert.NotEmpty(t, ev.Cursor)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"PING"}`)))
	assert.Equal(t, msgPong, next(t, conn).Type)
}

func TestStreamResumesFromCursor(t *testing.T) {
	env := newEnv(t)
	cursor := env.hub.Cursor("E1")

	_, err := env.locks.Acquire(context.Background(), "E1", []string{"S2"}, "U2")
	require.NoError(t, err)

	conn := dial(t, env, "&cursor="+cursor)
	ev := next(t, conn)
	assert.Equal(t, string(model.EventSeatLocked), ev.Type, "missed events are replayed without a snapshot")
	assert.Equal(t, []string{"S2"}, ev.SeatIDs)
}

func TestStreamShutdownClosesConnection(t *testing.T) {
	env := newEnv(t)
	conn := dial(t, env, "")
	require.Equal(t, msgSnapshot, next(t, conn).Type)

	env.stream.Shutdown()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestStreamHeartbeat(t *testing.T) {
	env := newEnvWith(t, envOptions{heartbeat: 100 * time.Millisecond})
	conn := dial(t, env, "")
	require.Equal(t, msgSnapshot, next(t, conn).Type)

	hb := next(t, conn)
	assert.Equal(t, msgHeartbeat, hb.Type)
	assert.Equal(t, "E1", hb.EventID)
}

func TestStreamDropsSilentWatcher(t *testing.T) {
	env := newEnvWith(t, envOptions{heartbeat: 100 * time.Millisecond})
	conn := dial(t, env, "")
	require.Equal(t, msgSnapshot, next(t, conn).Type)

	// Not reading means protocol pings go unanswered.
	time.Sleep(600 * time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "server should have closed the connection, got %v", err)
}

func TestStreamResyncsLaggingWatcher(t *testing.T) {
	env := newEnvWith(t, envOptions{hub: broadcast.Options{SubscriberBuffer: 1}})
	conn := dial(t, env, "")
	require.Equal(t, msgSnapshot, next(t, conn).Type)

	// Large frames the watcher does not read fill the socket buffers and
	// stall the writer.
	ids := make([]string, 8000)
	for i := range ids {
		ids[i] = fmt.Sprintf("S%07d", i)
	}
	for i := 0; i < 300; i++ {
		env.hub.Publish(context.Background(), model.SeatEvent{Type: model.EventAvailabilityUpdate, EventID: "E1", SeatIDs: ids})
	}

	var resync bool
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
			break
		}
		var f frame
		require.NoError(t, json.Unmarshal(payload, &f))
		if f.Type == msgResync {
			resync = true
		}
	}
	assert.True(t, resync)
}
