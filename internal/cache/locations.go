package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/example/ride-sync/internal/models"
)

// Locations is the ephemeral last-known-position cache, keyed by ride code.
// Each ride maps userName to its latest coordinate; a write overwrites the
// prior value, no history is kept. Entries are reconstructable from update
// events, so the cache is a best-effort accelerator rather than truth.
type Locations interface {
	Set(ctx context.Context, rideCode, userName string, p models.Position) error
	// Get returns the entry for userName, reporting presence separately from
	// transport errors. A malformed stored value reads as absent.
	Get(ctx context.Context, rideCode, userName string) (models.Position, bool, error)
	// All returns every well-formed entry for rideCode. Malformed entries are
	// skipped, not fatal.
	All(ctx context.Context, rideCode string) (map[string]models.Position, error)
	Remove(ctx context.Context, rideCode, userName string) error
	Count(ctx context.Context, rideCode string) (int64, error)
	// Drop deletes the whole ride's location set.
	Drop(ctx context.Context, rideCode string) error
}

// encodePosition renders the wire value stored per rider: a comma-joined
// decimal pair.
func encodePosition(p models.Position) string {
	return strconv.FormatFloat(p.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(p.Longitude, 'f', -1, 64)
}

// parsePosition parses a "lat,lng" value defensively.
func parsePosition(v string) (models.Position, bool) {
	latStr, lngStr, ok := strings.Cut(v, ",")
	if !ok {
		return models.Position{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return models.Position{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return models.Position{}, false
	}
	return models.Position{Latitude: lat, Longitude: lng}, true
}

// MemoryLocations is an in-process Locations used in tests and redis-less
// local runs.
type MemoryLocations struct {
	mu    sync.RWMutex
	rides map[string]map[string]models.Position
}

func NewMemoryLocations() *MemoryLocations {
	return &MemoryLocations{rides: make(map[string]map[string]models.Position)}
}

func (m *MemoryLocations) Set(ctx context.Context, rideCode, userName string, p models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[rideCode]
	if !ok {
		ride = make(map[string]models.Position)
		m.rides[rideCode] = ride
	}
	ride[userName] = p
	return nil
}

func (m *MemoryLocations) Get(ctx context.Context, rideCode, userName string) (models.Position, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.rides[rideCode][userName]
	return p, ok, nil
}

func (m *MemoryLocations) All(ctx context.Context, rideCode string) (map[string]models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.Position, len(m.rides[rideCode]))
	for name, p := range m.rides[rideCode] {
		out[name] = p
	}
	return out, nil
}

func (m *MemoryLocations) Remove(ctx context.Context, rideCode, userName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rides[rideCode], userName)
	return nil
}

func (m *MemoryLocations) Count(ctx context.Context, rideCode string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rides[rideCode])), nil
}

func (m *MemoryLocations) Drop(ctx context.Context, rideCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rides, rideCode)
	return nil
}
