package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-sync/internal/broadcast"
	"github.com/example/ride-sync/internal/coordinator"
	"github.com/example/ride-sync/internal/models"
)

// Server is the HTTP and websocket surface over the ride coordinator.
type Server struct {
	Coord  *coordinator.Coordinator
	Hub    *broadcast.Hub
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(coord *coordinator.Coordinator, hub *broadcast.Hub, logger *slog.Logger) *Server {
	s := &Server{Coord: coord, Hub: hub, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/riders", s.handleCreateRider).Methods("POST")
	s.mux.HandleFunc("/api/info", s.handleRideInfo).Methods("POST")
	s.mux.HandleFunc("/api/rider_current_ride/{userName}", s.handleCurrentRide).Methods("GET")
	s.mux.HandleFunc("/api/ride/{rideCode}", s.handleRideByCode).Methods("GET")
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateRider(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserName string `json:"userName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserName == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: userName")
		return
	}
	created, err := s.Coord.CreateRider(r.Context(), body.UserName)
	if err != nil {
		s.logger.Error("create rider failed", "user_name", body.UserName, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create rider.")
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, map[string]string{"userName": body.UserName, "message": "Rider already exists"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"userName": body.UserName})
}

func (s *Server) handleRideInfo(w http.ResponseWriter, r *http.Request) {
	var in models.RideInfo
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid JSON body"})
		return
	}
	data, err := s.Coord.SubmitRideInfo(r.Context(), in)
	if err != nil {
		var verr *coordinator.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": verr.Error()})
			return
		}
		s.logger.Error("ride info failed", "user_name", in.UserName, "ride_code", in.RideCode, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Database error saving ride info."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Ride info processed successfully.",
		"rideData": data,
	})
}

func (s *Server) handleCurrentRide(w http.ResponseWriter, r *http.Request) {
	userName := mux.Vars(r)["userName"]
	cur, err := s.Coord.CurrentRide(r.Context(), userName)
	if err != nil {
		s.writeCoordError(w, err, map[error]string{
			coordinator.ErrRiderNotFound: "Rider not found.",
			coordinator.ErrNoActiveRide:  "No active ride found for this user. Please create or join a ride.",
		})
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (s *Server) handleRideByCode(w http.ResponseWriter, r *http.Request) {
	rideCode := mux.Vars(r)["rideCode"]
	view, err := s.Coord.RideByCode(r.Context(), rideCode)
	if err != nil {
		s.writeCoordError(w, err, map[error]string{
			coordinator.ErrRideNotFound: "Ride with code " + rideCode + " not found or has no participants.",
		})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// writeCoordError maps coordinator errors onto the response taxonomy:
// not-found sentinels become 404, integrity errors 500, anything else 500.
func (s *Server) writeCoordError(w http.ResponseWriter, err error, notFound map[error]string) {
	for sentinel, msg := range notFound {
		if errors.Is(err, sentinel) {
			writeError(w, http.StatusNotFound, msg)
			return
		}
	}
	var ierr *coordinator.IntegrityError
	if errors.As(err, &ierr) {
		writeError(w, http.StatusInternalServerError, "Ride data is inconsistent: "+ierr.Reason+".")
		return
	}
	s.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
