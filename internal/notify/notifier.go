// Package notify fans realtime events out to a user's connected clients.
// Delivery is best effort: persistence is the source of truth and a failed
// or slow emit never propagates to the request that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/keyhaven/messaging-service/internal/ws"
)

const (
	EventMessageNew = "message:new"
	EventThreadRead = "thread:read"

	channel     = "messaging:events"
	emitTimeout = 2 * time.Second
)

// Notifier delivers an event to one user's channels, fire-and-forget.
type Notifier interface {
	Emit(userID, event string, payload any)
}

type envelope struct {
	UserID string          `json:"user_id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Fanout delivers locally through the hub and publishes to redis so sibling
// instances can deliver to connections they hold.
type Fanout struct {
	hub *ws.Hub
	rdb *redis.Client
	log *zap.SugaredLogger
}

func NewFanout(hub *ws.Hub, rdb *redis.Client, log *zap.SugaredLogger) *Fanout {
	return &Fanout{hub: hub, rdb: rdb, log: log}
}

func (f *Fanout) Emit(userID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		f.log.Warnw("notify marshal failed", "event", event, "err", err)
		return
	}
	env := envelope{UserID: userID, Event: event, Data: data}
	raw, _ := json.Marshal(env)

	f.hub.Emit(userID, raw)

	if f.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := f.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		f.log.Warnw("notify publish failed", "event", event, "user_id", userID, "err", err)
	}
}

// Run subscribes to the cross-instance channel and replays events into the
// local hub. Blocks until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) {
	if f.rdb == nil {
		return
	}
	sub := f.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				f.log.Warnw("notify decode failed", "err", err)
				continue
			}
			f.hub.Emit(env.UserID, []byte(msg.Payload))
		}
	}
}
