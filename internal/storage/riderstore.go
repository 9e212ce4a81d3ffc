package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ride-sync/internal/models"
)

// ErrNotFound is returned when a rider row does not exist.
var ErrNotFound = errors.New("rider not found")

// RiderStore defines persistence operations for rider rows. Writes are atomic
// per request: either fully applied or fully rolled back.
type RiderStore interface {
	// GetRider returns the row for userName, or ErrNotFound.
	GetRider(ctx context.Context, userName string) (*models.Rider, error)
	// RidersByCode returns every row associated with rideCode.
	RidersByCode(ctx context.Context, rideCode string) ([]models.Rider, error)
	// CreateRider inserts an identity row if absent. Returns false when the
	// rider already existed.
	CreateRider(ctx context.Context, userName string) (bool, error)
	// SaveRideInfo upserts the submitter's row per models.ApplyInfo and
	// returns the row as committed.
	SaveRideInfo(ctx context.Context, in models.RideInfo) (*models.Rider, error)
}

// MemoryStore is an in-memory RiderStore used in tests and redis/postgres-less
// local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	riders map[string]*models.Rider
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{riders: make(map[string]*models.Rider)}
}

func (m *MemoryStore) GetRider(ctx context.Context, userName string) (*models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[userName]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) RidersByCode(ctx context.Context, rideCode string) ([]models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Rider
	for _, r := range m.riders {
		if r.RideCode == rideCode {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateRider(ctx context.Context, userName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.riders[userName]; ok {
		return false, nil
	}
	m.riders[userName] = &models.Rider{UserName: userName}
	return true, nil
}

func (m *MemoryStore) SaveRideInfo(ctx context.Context, in models.RideInfo) (*models.Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[in.UserName]
	if !ok {
		r = &models.Rider{UserName: in.UserName}
		m.riders[in.UserName] = r
	}
	models.ApplyInfo(r, in)
	cp := *r
	return &cp, nil
}
