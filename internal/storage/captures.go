package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("not found")

// CaptureRecord is one scheduler iteration as stored in the capture log.
type CaptureRecord struct {
	ID              uuid.UUID `json:"id"`
	Role            string    `json:"role"`
	Device          string    `json:"device"`
	CapturedAt      time.Time `json:"captured_at"`
	ExposureSeconds float64   `json:"exposure_seconds"`
	NominalSeconds  float64   `json:"nominal_seconds"`
	Dark            bool      `json:"dark"`
	DarkApplied     bool      `json:"dark_applied"`
	SunState        string    `json:"sun_state"`
	Path            string    `json:"path,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// CaptureLog stores capture records.
type CaptureLog interface {
	SaveCapture(ctx context.Context, rec CaptureRecord) error
	ListCaptures(ctx context.Context, limit int) ([]CaptureRecord, error)
	LatestCapture(ctx context.Context) (CaptureRecord, error)
}

func (p *PostgresClient) SaveCapture(ctx context.Context, rec CaptureRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO captures (id, role, device, captured_at, exposure_seconds, nominal_seconds,
			dark, dark_applied, sun_state, path, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.Role, rec.Device, rec.CapturedAt, rec.ExposureSeconds, rec.NominalSeconds,
		rec.Dark, rec.DarkApplied, rec.SunState, rec.Path, rec.Error)

	if err != nil {
		return fmt.Errorf("failed to insert capture: %w", err)
	}
	return nil
}

const selectCaptures = `
	SELECT id, role, device, captured_at, exposure_seconds, nominal_seconds,
		dark, dark_applied, sun_state, path, error
	FROM captures
	ORDER BY captured_at DESC
	LIMIT $1
`

func (p *PostgresClient) ListCaptures(ctx context.Context, limit int) ([]CaptureRecord, error) {
	rows, err := p.pool.Query(ctx, selectCaptures, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query captures: %w", err)
	}
	defer rows.Close()

	var records []CaptureRecord
	for rows.Next() {
		rec, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read captures: %w", err)
	}
	return records, nil
}

func (p *PostgresClient) LatestCapture(ctx context.Context) (CaptureRecord, error) {
	rec, err := scanCapture(p.pool.QueryRow(ctx, selectCaptures, 1))
	if errors.Is(err, pgx.ErrNoRows) {
		return CaptureRecord{}, ErrNotFound
	}
	return rec, err
}

func scanCapture(row pgx.Row) (CaptureRecord, error) {
	var rec CaptureRecord
	err := row.Scan(&rec.ID, &rec.Role, &rec.Device, &rec.CapturedAt, &rec.ExposureSeconds,
		&rec.NominalSeconds, &rec.Dark, &rec.DarkApplied, &rec.SunState, &rec.Path, &rec.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan capture: %w", err)
	}
	return rec, nil
}
