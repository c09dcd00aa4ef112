package broadcast

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// Channel is the Redis Pub/Sub channel shared by all instances.
const Channel = "seat-events"

type envelope struct {
	Origin string          `json:"origin"`
	Event  model.SeatEvent `json:"event"`
}

// Relay connects the local hub to the hubs of other instances through
// Redis Pub/Sub.  Local events go to the hub and to Redis; events from
// other instances are fed into the hub.  Redis delivery is best effort,
// which watchers already tolerate.
type Relay struct {
	rdb    *redis.Client
	hub    *Hub
	origin string
	log    logrus.FieldLogger
}

// NewRelay returns a relay for hub over rdb.
func NewRelay(rdb *redis.Client, hub *Hub, log logrus.FieldLogger) *Relay {
	if log == nil {
		log = hub.opts.Log
	}
	return &Relay{rdb: rdb, hub: hub, origin: uuid.NewString(), log: log}
}

// Publish delivers ev locally and forwards it to the other instances.
func (r *Relay) Publish(ctx context.Context, ev model.SeatEvent) {
	r.hub.Publish(ctx, ev)
	ev.Cursor = ""
	payload, err := json.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		r.log.WithError(err).Error("encode seat event")
		return
	}
	if err := r.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		r.log.WithError(err).WithField("event_id", ev.EventID).Warn("relay publish failed")
	}
}

// Run feeds remote events into the hub until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, Channel)
	defer sub.Close()
	r.log.WithField("channel", Channel).Info("seat event relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.WithError(err).Warn("discarding malformed relay message")
		return
	}
	if env.Origin == r.origin || env.Event.EventID == "" {
		return
	}
	r.hub.Publish(ctx, env.Event)
}
