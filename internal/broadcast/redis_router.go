package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel room events travel on.
const DefaultChannel = "ride_room_events"

// roomEvent is the message published for each room broadcast. Session ids are
// globally unique, so the excluded sender can be honored by whichever process
// holds it.
type roomEvent struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Exclude string          `json:"exclude,omitempty"`
}

// RedisRouter bridges room broadcasts across processes over redis pub/sub.
// Every process subscribes to the shared channel and fans received events out
// to its local hub, so a connection served by one process sees events
// originating on another.
type RedisRouter struct {
	hub     *Hub
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisRouter(hub *Hub, client *redis.Client, channel string, logger *slog.Logger) *RedisRouter {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRouter{hub: hub, client: client, channel: channel, logger: logger}
}

// Run consumes the pub/sub channel until ctx is done. All room delivery,
// including to connections on the publishing process, happens here.
func (r *RedisRouter) Run(ctx context.Context) {
	sub := r.client.Subscribe(ctx, r.channel)
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
			var ev roomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("undecodable room event", "error", err)
				continue
			}
			r.hub.Deliver(ev.Room, ev.Event, ev.Data, ev.Exclude)
		}
	}
}

func (r *RedisRouter) ToRoom(ctx context.Context, room, event string, data any, excludeSID string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(roomEvent{Room: room, Event: event, Data: raw, Exclude: excludeSID})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		// Degrade to local delivery so co-located members still hear it.
		r.logger.Warn("pubsub publish failed, delivering locally", "room", room, "event", event, "error", err)
		r.hub.Deliver(room, event, data, excludeSID)
	}
	return nil
}

func (r *RedisRouter) ToConn(sid, event string, data any) error {
	return r.hub.Send(sid, event, data)
}
