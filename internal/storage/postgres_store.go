package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-sync/internal/models"
)

// PostgresStore persists rider rows in a riders table. Geo payloads are kept
// as JSON text columns, one row per rider name.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const riderColumns = `user_name, ride_code, pickup, destination, stops, owner_name, status`

func (p *PostgresStore) GetRider(ctx context.Context, userName string) (*models.Rider, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+riderColumns+` FROM riders WHERE user_name=$1`, userName)
	r, err := scanRider(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) RidersByCode(ctx context.Context, rideCode string) ([]models.Rider, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+riderColumns+` FROM riders WHERE ride_code=$1`, rideCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Rider
	for rows.Next() {
		r, err := scanRider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateRider(ctx context.Context, userName string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO riders(user_name) VALUES($1) ON CONFLICT (user_name) DO NOTHING`, userName)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SaveRideInfo loads the submitter's row under a transaction, applies the
// submission through models.ApplyInfo and writes it back. The whole request
// commits or rolls back as a unit.
func (p *PostgresStore) SaveRideInfo(ctx context.Context, in models.RideInfo) (*models.Rider, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+riderColumns+` FROM riders WHERE user_name=$1 FOR UPDATE`, in.UserName)
	r, err := scanRider(row)
	if err == sql.ErrNoRows {
		r = &models.Rider{UserName: in.UserName}
	} else if err != nil {
		return nil, err
	}
	models.ApplyInfo(r, in)

	pickup, err := encodePoint(r.Pickup)
	if err != nil {
		return nil, err
	}
	dest, err := encodePoint(r.Destination)
	if err != nil {
		return nil, err
	}
	stops, err := encodeStops(r.Stops)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO riders(user_name, ride_code, pickup, destination, stops, owner_name, status)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_name) DO UPDATE SET
			ride_code=EXCLUDED.ride_code,
			pickup=EXCLUDED.pickup,
			destination=EXCLUDED.destination,
			stops=EXCLUDED.stops,
			owner_name=EXCLUDED.owner_name,
			status=EXCLUDED.status`,
		r.UserName, nullString(r.RideCode), pickup, dest, stops, nullString(r.Owner), nullString(r.Status))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRider(s rowScanner) (*models.Rider, error) {
	var (
		r                   models.Rider
		code, owner, status sql.NullString
		pickup, dest, stops sql.NullString
	)
	if err := s.Scan(&r.UserName, &code, &pickup, &dest, &stops, &owner, &status); err != nil {
		return nil, err
	}
	r.RideCode = code.String
	r.Owner = owner.String
	r.Status = status.String
	var err error
	if r.Pickup, err = decodePoint(pickup); err != nil {
		return nil, fmt.Errorf("riders.%s pickup: %w", r.UserName, err)
	}
	if r.Destination, err = decodePoint(dest); err != nil {
		return nil, fmt.Errorf("riders.%s destination: %w", r.UserName, err)
	}
	if r.Stops, err = decodeStops(stops); err != nil {
		return nil, fmt.Errorf("riders.%s stops: %w", r.UserName, err)
	}
	return &r, nil
}

func encodePoint(p *models.GeoPoint) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodePoint(v sql.NullString) (*models.GeoPoint, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var p models.GeoPoint
	if err := json.Unmarshal([]byte(v.String), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func encodeStops(stops []models.GeoPoint) (sql.NullString, error) {
	if len(stops) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(stops)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeStops(v sql.NullString) ([]models.GeoPoint, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var stops []models.GeoPoint
	if err := json.Unmarshal([]byte(v.String), &stops); err != nil {
		return nil, err
	}
	return stops, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
