package models

// GeoPoint is a structured point used for pickups, destinations and stops.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Position is a bare last-known coordinate held in the ephemeral cache.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Rider is the durable record for one participant. Destination and Stops are
// authoritative only on the row where UserName == Owner.
type Rider struct {
	UserName    string     `json:"userName"`
	RideCode    string     `json:"rideCode,omitempty"`
	Pickup      *GeoPoint  `json:"pickup,omitempty"`
	Destination *GeoPoint  `json:"destination,omitempty"`
	Stops       []GeoPoint `json:"stops,omitempty"`
	Owner       string     `json:"ownerUserName,omitempty"`
	Status      string     `json:"status,omitempty"` // created, active, inactive, done
}

// RideInfo is a ride-definition submission.
type RideInfo struct {
	UserName    string     `json:"userName"`
	RideCode    string     `json:"generatedCode"`
	Owner       string     `json:"owner"`
	Pickup      *GeoPoint  `json:"pickup,omitempty"`
	Destination *GeoPoint  `json:"destination,omitempty"`
	Stops       []GeoPoint `json:"stops,omitempty"`
	Status      string     `json:"status,omitempty"`
}

// ApplyInfo is the one place that decides which submitted fields may be
// written to a rider row. Every write path goes through it. Destination and
// stops are accepted only when the submitter is the ride owner; a non-owner
// submission that happens to carry them never reaches the row.
func ApplyInfo(r *Rider, in RideInfo) {
	r.RideCode = in.RideCode
	r.Owner = in.Owner
	if in.Pickup != nil {
		r.Pickup = in.Pickup
	}
	if in.Status != "" {
		r.Status = in.Status
	}
	if in.UserName == in.Owner {
		if in.Destination != nil {
			r.Destination = in.Destination
		}
		if len(in.Stops) > 0 {
			r.Stops = in.Stops
		}
	}
}
