package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ride-sync/internal/models"
	"github.com/example/ride-sync/internal/observability"
	"github.com/example/ride-sync/internal/storage"
)

// RideData echoes a processed ride-info submission. Destination and stops are
// resolved through the owner's row, never the submitter's.
type RideData struct {
	UserName    string            `json:"userName"`
	Pickup      *models.GeoPoint  `json:"pickup"`
	Destination *models.GeoPoint  `json:"destination"`
	Stops       []models.GeoPoint `json:"stops"`
	RideCode    string            `json:"rideCode"`
	Owner       string            `json:"ownerUserName"`
	Status      string            `json:"status,omitempty"`
}

// CurrentRide is one rider's view of their active ride.
type CurrentRide struct {
	UserName    string           `json:"userName"`
	RideCode    string           `json:"rideCode"`
	Owner       string           `json:"ownerUserName"`
	Pickup      *models.GeoPoint `json:"pickup"`
	Destination *models.GeoPoint `json:"destination"`
	CoRiders    []models.CoRider `json:"initialCoRiders"`
}

// Participant is one rider inside the aggregate ride view.
type Participant struct {
	UserName        string           `json:"userName"`
	Pickup          *models.GeoPoint `json:"pickup"`
	CurrentLocation *models.Position `json:"currentLocation"`
	IsOwner         bool             `json:"isOwner"`
}

// RideView is the aggregate view of one ride code.
type RideView struct {
	RideCode     string            `json:"rideCode"`
	Destination  *models.GeoPoint  `json:"destination"`
	Stops        []models.GeoPoint `json:"stops"`
	Participants []Participant     `json:"participants"`
	Owner        string            `json:"ownerUserName"`
}

// SubmitRideInfo applies a ride-definition submission: durable write first,
// then best-effort cache seeding of the submitter's pickup. The two phases
// are sequential on purpose; a phase-two failure leaves the durable commit
// standing.
func (c *Coordinator) SubmitRideInfo(ctx context.Context, in models.RideInfo) (*RideData, error) {
	if fields := missingFields("userName", in.UserName, "generatedCode", in.RideCode, "owner", in.Owner); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	rider, err := c.Store.SaveRideInfo(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("save ride info for %q: %w", in.UserName, err)
	}
	c.Logger.Info("ride info processed", "user_name", rider.UserName, "ride_code", rider.RideCode, "owner", rider.Owner)

	if rider.Pickup != nil {
		seed := models.Position{Latitude: rider.Pickup.Latitude, Longitude: rider.Pickup.Longitude}
		if err := c.Locations.Set(ctx, rider.RideCode, rider.UserName, seed); err != nil {
			observability.CacheErrorsTotal.Inc()
			c.Logger.Warn("initial location not seeded", "ride_code", rider.RideCode, "user_name", rider.UserName, "error", err)
		}
	}

	data := &RideData{
		UserName: rider.UserName,
		Pickup:   rider.Pickup,
		RideCode: rider.RideCode,
		Owner:    rider.Owner,
		Status:   rider.Status,
		Stops:    []models.GeoPoint{},
	}
	// The submission response tolerates a not-yet-written owner row; reads
	// that need the trip definition later go through the strict resolution.
	if owner, err := c.Store.GetRider(ctx, rider.Owner); err == nil && owner.RideCode == rider.RideCode {
		data.Destination = owner.Destination
		if owner.Stops != nil {
			data.Stops = owner.Stops
		}
	}
	return data, nil
}

// CurrentRide resolves a rider's active ride. The trip definition always
// comes from the owner's row; a missing owner row is an integrity error, not
// "no destination".
func (c *Coordinator) CurrentRide(ctx context.Context, userName string) (*CurrentRide, error) {
	rider, err := c.Store.GetRider(ctx, userName)
	if err != nil {
		return nil, errRiderLookup(userName, err)
	}
	if rider.RideCode == "" {
		return nil, ErrNoActiveRide
	}
	if rider.Owner == "" {
		return nil, c.integrity(rider.RideCode, userName, "", "participant has no owner assigned")
	}
	owner, err := c.Store.GetRider(ctx, rider.Owner)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, c.integrity(rider.RideCode, userName, rider.Owner, "owner row missing for ride")
		}
		return nil, fmt.Errorf("load ride owner %q: %w", rider.Owner, err)
	}
	if owner.RideCode != rider.RideCode {
		return nil, c.integrity(rider.RideCode, userName, rider.Owner, "owner row missing for ride")
	}

	return &CurrentRide{
		UserName:    userName,
		RideCode:    rider.RideCode,
		Owner:       rider.Owner,
		Pickup:      rider.Pickup,
		Destination: owner.Destination,
		CoRiders:    c.coRiders(ctx, rider.RideCode, userName),
	}, nil
}

// RideByCode builds the aggregate view for a ride code.
func (c *Coordinator) RideByCode(ctx context.Context, rideCode string) (*RideView, error) {
	participants, err := c.Store.RidersByCode(ctx, rideCode)
	if err != nil {
		return nil, fmt.Errorf("load ride %q: %w", rideCode, err)
	}
	if len(participants) == 0 {
		return nil, ErrRideNotFound
	}

	ownerName := participants[0].Owner
	if ownerName == "" {
		return nil, c.integrity(rideCode, participants[0].UserName, "", "participant has no owner assigned")
	}
	var ownerRow *models.Rider
	for i := range participants {
		if participants[i].UserName == ownerName {
			ownerRow = &participants[i]
			break
		}
	}
	if ownerRow == nil {
		return nil, c.integrity(rideCode, participants[0].UserName, ownerName, "owner row missing for ride")
	}

	positions, err := c.Locations.All(ctx, rideCode)
	if err != nil {
		observability.CacheErrorsTotal.Inc()
		c.Logger.Warn("location cache unavailable during ride view", "ride_code", rideCode, "error", err)
	}

	view := &RideView{
		RideCode:    rideCode,
		Destination: ownerRow.Destination,
		Stops:       ownerRow.Stops,
		Owner:       ownerName,
	}
	for _, p := range participants {
		part := Participant{UserName: p.UserName, Pickup: p.Pickup, IsOwner: p.UserName == ownerName}
		if pos, ok := positions[p.UserName]; ok {
			cp := pos
			part.CurrentLocation = &cp
		}
		view.Participants = append(view.Participants, part)
	}
	return view, nil
}

func (c *Coordinator) coRiders(ctx context.Context, rideCode, exclude string) []models.CoRider {
	all, err := c.Locations.All(ctx, rideCode)
	if err != nil {
		observability.CacheErrorsTotal.Inc()
		c.Logger.Warn("location cache unavailable listing co-riders", "ride_code", rideCode, "error", err)
	}
	out := make([]models.CoRider, 0, len(all))
	for name, p := range all {
		if name == exclude {
			continue
		}
		out = append(out, models.CoRider{UserName: name, Latitude: p.Latitude, Longitude: p.Longitude})
	}
	return out
}

func errRiderLookup(userName string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrRiderNotFound
	}
	return fmt.Errorf("load rider %q: %w", userName, err)
}

func (c *Coordinator) integrity(rideCode, userName, owner, reason string) error {
	observability.IntegrityErrorsTotal.Inc()
	ierr := &IntegrityError{RideCode: rideCode, UserName: userName, Owner: owner, Reason: reason}
	c.Logger.Error("ride integrity violation",
		"ride_code", rideCode, "user_name", userName, "owner", owner, "reason", reason)
	return ierr
}
