package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-sync/internal/broadcast"
	"github.com/example/ride-sync/internal/cache"
	"github.com/example/ride-sync/internal/models"
	"github.com/example/ride-sync/internal/observability"
	"github.com/example/ride-sync/internal/rooms"
	"github.com/example/ride-sync/internal/storage"
)

// LocationPublisher forwards accepted location updates to an event stream.
// Publishing is best-effort and never blocks the live path on failure.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, up models.LocationUpdate) error
}

// Coordinator orchestrates room membership, the location cache and the
// durable store, and decides what to broadcast. The durable store is truth;
// the cache is an accelerator, so a cache failure after a durable commit is
// logged and never rolled back.
type Coordinator struct {
	Store     storage.RiderStore
	Locations cache.Locations
	Rooms     *rooms.Registry
	Router    broadcast.Router
	Firehose  LocationPublisher // optional
	Logger    *slog.Logger
}

// HandleJoin runs the join protocol for connection sid. The joiner receives
// its peers' snapshot and an ack before the room hears about the joiner, so
// the joiner never sees a self-referential echo.
func (c *Coordinator) HandleJoin(ctx context.Context, sid string, req models.JoinRequest) {
	if fields := missingFields("userName", req.UserName, "rideCode", req.RideCode); len(fields) > 0 {
		c.rejectEvent(sid, models.EventJoinRideRoom, fields)
		return
	}

	c.Rooms.Join(req.RideCode, sid, req.UserName)
	observability.RoomJoinsTotal.Inc()
	c.Logger.Info("rider joined room", "user_name", req.UserName, "ride_code", req.RideCode, "sid", sid)

	// Cache degradation here is invisible to the joiner: an empty snapshot
	// is a valid join.
	all, err := c.Locations.All(ctx, req.RideCode)
	if err != nil {
		observability.CacheErrorsTotal.Inc()
		c.Logger.Warn("location cache unavailable during join", "ride_code", req.RideCode, "error", err)
	}
	peers := make([]models.CoRider, 0, len(all))
	for name, p := range all {
		if name == req.UserName {
			continue
		}
		peers = append(peers, models.CoRider{UserName: name, Latitude: p.Latitude, Longitude: p.Longitude})
	}
	if len(peers) > 0 {
		_ = c.Router.ToConn(sid, models.EventInitialCoRider, models.CoRiderSnapshot{CoRiders: peers})
	}
	_ = c.Router.ToConn(sid, models.EventJoinSuccess, models.Ack{Message: "Successfully joined room " + req.RideCode})

	joined := models.UserJoined{UserName: req.UserName}
	if p, ok, err := c.Locations.Get(ctx, req.RideCode, req.UserName); err == nil && ok {
		lat, lng := p.Latitude, p.Longitude
		joined.Latitude, joined.Longitude = &lat, &lng
	}
	if err := c.Router.ToRoom(ctx, req.RideCode, models.EventUserJoined, joined, sid); err != nil {
		c.Logger.Warn("join broadcast failed", "ride_code", req.RideCode, "error", err)
	}
}

// HandleLocationUpdate overwrites the rider's cached position and fans the
// update out to the rest of the room. The sender never receives an echo. A
// cache failure is the one degradation the sender is actively waiting on, so
// it fails loudly.
func (c *Coordinator) HandleLocationUpdate(ctx context.Context, sid string, req models.LocationUpdate) {
	fields := missingFields("userName", req.UserName, "rideCode", req.RideCode)
	if req.Latitude == nil {
		fields = append(fields, "latitude")
	}
	if req.Longitude == nil {
		fields = append(fields, "longitude")
	}
	if len(fields) > 0 {
		c.rejectEvent(sid, models.EventUpdateLocation, fields)
		return
	}

	pos := models.Position{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := c.Locations.Set(ctx, req.RideCode, req.UserName, pos); err != nil {
		observability.CacheErrorsTotal.Inc()
		c.Logger.Error("location cache write failed", "ride_code", req.RideCode, "user_name", req.UserName, "error", err)
		c.sendError(sid, "Server error: Location service temporarily unavailable.")
		return
	}
	observability.LocationUpdatesTotal.Inc()

	if c.Firehose != nil {
		if err := c.Firehose.PublishLocation(ctx, req); err != nil {
			c.Logger.Warn("location firehose publish failed", "ride_code", req.RideCode, "error", err)
		}
	}

	out := models.ServerLocation{UserName: req.UserName, Latitude: pos.Latitude, Longitude: pos.Longitude}
	if err := c.Router.ToRoom(ctx, req.RideCode, models.EventServerLocation, out, sid); err != nil {
		c.Logger.Warn("location broadcast failed", "ride_code", req.RideCode, "error", err)
	}
}

// HandleLeave runs the leave protocol. Membership removal always proceeds;
// cache cleanup is best-effort so a degraded cache cannot trap a rider in a
// room.
func (c *Coordinator) HandleLeave(ctx context.Context, sid string, req models.LeaveRequest) {
	if fields := missingFields("userName", req.UserName, "rideCode", req.RideCode); len(fields) > 0 {
		c.rejectEvent(sid, models.EventLeaveRideRoom, fields)
		return
	}
	c.Rooms.Leave(req.RideCode, sid)
	c.finishLeave(ctx, sid, req.UserName, req.RideCode)
}

// HandleDisconnect treats an abrupt transport close as an implicit leave for
// whatever room the session had joined.
func (c *Coordinator) HandleDisconnect(ctx context.Context, sid string) {
	s, ok := c.Rooms.Drop(sid)
	if !ok {
		return
	}
	c.Logger.Info("disconnect cleanup", "user_name", s.UserName, "ride_code", s.RideCode, "sid", sid)
	c.finishLeave(ctx, sid, s.UserName, s.RideCode)
}

func (c *Coordinator) finishLeave(ctx context.Context, sid, userName, rideCode string) {
	observability.RoomLeavesTotal.Inc()
	if err := c.Locations.Remove(ctx, rideCode, userName); err != nil {
		observability.CacheErrorsTotal.Inc()
		c.Logger.Warn("cache cleanup skipped on leave", "ride_code", rideCode, "user_name", userName, "error", err)
	} else if n, err := c.Locations.Count(ctx, rideCode); err == nil && n == 0 {
		// Garbage-collect empty rides so keys do not leak.
		if err := c.Locations.Drop(ctx, rideCode); err != nil {
			c.Logger.Warn("empty ride key not dropped", "ride_code", rideCode, "error", err)
		}
	}

	out := models.UserLeft{UserName: userName, RideCode: rideCode}
	if err := c.Router.ToRoom(ctx, rideCode, models.EventUserLeft, out, sid); err != nil {
		c.Logger.Warn("leave broadcast failed", "ride_code", rideCode, "error", err)
	}
}

// CreateRider registers an identity row if absent. Returns true when a new
// row was created.
func (c *Coordinator) CreateRider(ctx context.Context, userName string) (bool, error) {
	if userName == "" {
		return false, &ValidationError{Fields: []string{"userName"}}
	}
	return c.Store.CreateRider(ctx, userName)
}

func (c *Coordinator) sendError(sid, message string) {
	if err := c.Router.ToConn(sid, models.EventError, models.ErrorEvent{Message: message}); err != nil && !errors.Is(err, broadcast.ErrNoSession) {
		c.Logger.Warn("error event not delivered", "sid", sid, "error", err)
	}
}

func (c *Coordinator) rejectEvent(sid, event string, fields []string) {
	verr := &ValidationError{Fields: fields}
	c.Logger.Warn("event rejected", "event", event, "sid", sid, "error", verr)
	c.sendError(sid, verr.Error()+" for "+event)
}

func missingFields(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}
