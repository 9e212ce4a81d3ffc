package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-sync/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundFrame is a client event; Data stays raw until the event name picks
// the payload type.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own error response.
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	// The server's per-request deadlines would cut long-lived sockets off.
	_ = conn.UnderlyingConn().SetDeadline(time.Time{})

	sid := uuid.NewString()
	s.Hub.Register(sid, conn)
	s.logger.Info("client connected", "sid", sid, "remote_addr", r.RemoteAddr)

	defer func() {
		s.Hub.Unregister(sid)
		_ = conn.Close()
		// The request context is gone once the read loop ends; cleanup runs
		// on its own context.
		s.Coord.HandleDisconnect(context.Background(), sid)
		s.logger.Info("client disconnected", "sid", sid)
	}()

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("read error", "sid", sid, "error", err)
			}
			return
		}
		s.dispatch(r.Context(), sid, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, sid string, frame inboundFrame) {
	switch frame.Event {
	case models.EventJoinRideRoom:
		var req models.JoinRequest
		if !s.decode(sid, frame, &req) {
			return
		}
		s.Coord.HandleJoin(ctx, sid, req)
	case models.EventUpdateLocation:
		var req models.LocationUpdate
		if !s.decode(sid, frame, &req) {
			return
		}
		s.Coord.HandleLocationUpdate(ctx, sid, req)
	case models.EventLeaveRideRoom:
		var req models.LeaveRequest
		if !s.decode(sid, frame, &req) {
			return
		}
		s.Coord.HandleLeave(ctx, sid, req)
	default:
		_ = s.Hub.Send(sid, models.EventError, models.ErrorEvent{Message: "unknown event: " + frame.Event})
	}
}

func (s *Server) decode(sid string, frame inboundFrame, v any) bool {
	if err := json.Unmarshal(frame.Data, v); err != nil {
		s.logger.Warn("malformed event payload", "sid", sid, "event", frame.Event, "error", err)
		_ = s.Hub.Send(sid, models.EventError, models.ErrorEvent{Message: "malformed payload for " + frame.Event})
		return false
	}
	return true
}
