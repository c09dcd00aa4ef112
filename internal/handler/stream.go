package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-inventory/internal/broadcast"
	"github.com/iliyamo/seat-inventory/internal/service"
)

// Control frames exchanged on the stream besides seat events.
const (
	msgSnapshot  = "SNAPSHOT"
	msgHeartbeat = "HEARTBEAT"
	msgPing      = "PING"
	msgPong      = "PONG"
	msgResync    = "RESYNC"
)

const (
	writeWait    = 10 * time.Second
	maxClientMsg = 512
)

// snapshotFrame carries the full seat state of an event and the cursor the
// events that follow it continue from.
type snapshotFrame struct {
	Type    string     `json:"type"`
	EventID string     `json:"eventId"`
	Cursor  string     `json:"cursor"`
	Seats   []seatView `json:"seats"`
}

type controlFrame struct {
	Type      string    `json:"type"`
	EventID   string    `json:"eventId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamHandler pushes seat events over a WebSocket.  Events are hints:
// a watcher that receives SNAPSHOT or RESYNC discards what it knows and
// starts again from the snapshot.
type StreamHandler struct {
	Hub       *broadcast.Hub
	Inv       *service.Inventory
	Heartbeat time.Duration
	Log       logrus.FieldLogger

	upgrader websocket.Upgrader
	stop     chan struct{}
	stopOnce sync.Once
}

func NewStreamHandler(hub *broadcast.Hub, inv *service.Inventory, heartbeat time.Duration, log logrus.FieldLogger) *StreamHandler {
	if hub == nil || inv == nil {
		panic("nil dependency passed to NewStreamHandler")
	}
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StreamHandler{
		Hub:       hub,
		Inv:       inv,
		Heartbeat: heartbeat,
		Log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Watchers authenticate with a token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		stop: make(chan struct{}),
	}
}

// Shutdown ends every open stream.  Hijacked connections are not tracked
// by the HTTP server's graceful shutdown.
func (h *StreamHandler) Shutdown() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Stream handles GET /v1/stream/events/:eventId?cursor=.  With a cursor
// whose successors are still buffered the missed events are replayed;
// otherwise the stream opens with a SNAPSHOT.
func (h *StreamHandler) Stream(c echo.Context) error {
	eventID := c.Param("eventId")
	ctx := c.Request().Context()

	sub := h.Hub.Subscribe(eventID, c.QueryParam("cursor"))
	defer sub.Close()

	// The snapshot is taken after subscribing so no transition falls
	// between it and the first streamed event.  Duplicates are possible and
	// carry versions the watcher already has.
	var snapshot *snapshotFrame
	if sub.NeedSnapshot {
		cursor := h.Hub.Cursor(eventID)
		seats, err := h.Inv.Seats(ctx, eventID, nil)
		if err != nil {
			return writeError(c, err)
		}
		snapshot = &snapshotFrame{Type: msgSnapshot, EventID: eventID, Cursor: cursor, Seats: seatViews(seats)}
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already answered the client.
		return nil
	}
	defer conn.Close()

	log := h.Log.WithFields(logrus.Fields{"component": "stream", "event_id": eventID})
	log.Debug("watcher connected")

	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go h.read(conn, pings, done)

	if snapshot != nil {
		if err := h.write(conn, snapshot); err != nil {
			return nil
		}
	}

	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			h.close(conn, websocket.CloseGoingAway, "server shutting down")
			return nil
		case <-done:
			log.Debug("watcher disconnected")
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Lagged() {
					log.Warn("watcher lagged, requesting resync")
					_ = h.write(conn, controlFrame{Type: msgResync, EventID: eventID, Timestamp: time.Now().UTC()})
				}
				h.close(conn, websocket.CloseTryAgainLater, "resync required")
				return nil
			}
			if err := h.write(conn, ev); err != nil {
				return nil
			}
		case <-pings:
			if err := h.write(conn, controlFrame{Type: msgPong, Timestamp: time.Now().UTC()}); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := h.write(conn, controlFrame{Type: msgHeartbeat, EventID: eventID, Timestamp: time.Now().UTC()}); err != nil {
				return nil
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}

// read consumes client frames.  Any frame, including a protocol pong,
// extends the read deadline; a watcher silent for two heartbeats is
// dropped.
func (h *StreamHandler) read(conn *websocket.Conn, pings chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	idle := 2 * h.Heartbeat
	conn.SetReadLimit(maxClientMsg)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		if isPing(payload) {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

func isPing(payload []byte) bool {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &msg); err == nil {
		return strings.EqualFold(msg.Type, msgPing)
	}
	return strings.EqualFold(strings.TrimSpace(string(payload)), msgPing)
}

func (h *StreamHandler) write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (h *StreamHandler) close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
