package models

// Socket event names. These are the wire contract with clients and must not
// change without a client rollout.
const (
	EventJoinRideRoom   = "join_ride_room"
	EventInitialCoRider = "initial_co_riders"
	EventUserJoined     = "user_joined_ride"
	EventJoinSuccess    = "join_success"
	EventUpdateLocation = "update_location"
	EventServerLocation = "location_update_from_server"
	EventLeaveRideRoom  = "leave_ride_room"
	EventUserLeft       = "user_left_ride"
	EventError          = "error_event"
)

// JoinRequest is the payload of join_ride_room.
type JoinRequest struct {
	UserName string `json:"userName"`
	RideCode string `json:"rideCode"`
}

// LeaveRequest is the payload of leave_ride_room.
type LeaveRequest struct {
	UserName string `json:"userName"`
	RideCode string `json:"rideCode"`
}

// LocationUpdate is the payload of update_location. Coordinates are pointers
// so a missing field is distinguishable from zero.
type LocationUpdate struct {
	UserName  string   `json:"userName"`
	RideCode  string   `json:"rideCode"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// CoRider is one entry of the snapshot sent to a joiner.
type CoRider struct {
	UserName  string  `json:"userName"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CoRiderSnapshot is the payload of initial_co_riders.
type CoRiderSnapshot struct {
	CoRiders []CoRider `json:"coRiders"`
}

// UserJoined is the payload of user_joined_ride. Coordinates are omitted when
// the joiner has no cached position yet.
type UserJoined struct {
	UserName  string   `json:"userName"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// ServerLocation is the payload of location_update_from_server.
type ServerLocation struct {
	UserName  string  `json:"userName"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// UserLeft is the payload of user_left_ride.
type UserLeft struct {
	UserName string `json:"userName"`
	RideCode string `json:"rideCode"`
}

// Ack is the payload of join_success.
type Ack struct {
	Message string `json:"message"`
}

// ErrorEvent is the payload of error_event.
type ErrorEvent struct {
	Message string `json:"message"`
}
