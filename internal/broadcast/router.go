package broadcast

import "context"

// Router delivers events to every live connection in a ride room, optionally
// excluding the sender, and supports unicast to a single connection. Room
// delivery must work across processes; unicast targets the connection that
// produced the event being handled, which is always local.
type Router interface {
	ToRoom(ctx context.Context, room, event string, data any, excludeSID string) error
	ToConn(sid, event string, data any) error
}

// LocalRouter delivers within this process only. Suitable for tests and
// single-process runs without redis.
type LocalRouter struct {
	Hub *Hub
}

func (l *LocalRouter) ToRoom(ctx context.Context, room, event string, data any, excludeSID string) error {
	l.Hub.Deliver(room, event, data, excludeSID)
	return nil
}

func (l *LocalRouter) ToConn(sid, event string, data any) error {
	return l.Hub.Send(sid, event, data)
}
