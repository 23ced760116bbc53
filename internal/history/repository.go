// Package history provides access to the ring_events table for
// querying past doorbell episodes.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/engine"
)

// Filter controls which ring events to return.
type Filter struct {
	DeviceID string    // optional: filter by device
	Since    time.Time // optional: only events first observed at or after this time
	Limit    int       // default 50, max 200
	Offset   int       // pagination offset
}

// ListResult contains the paginated ring event results.
type ListResult struct {
	Rings  []engine.RingEvent `json:"rings"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// Repository defines the interface for ring event persistence.
type Repository interface {
	Record(ctx context.Context, ring engine.RingEvent) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores ring events in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new ring event repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts one completed ring event. Only closed episodes are
// persisted; open episodes live in engine memory.
func (r *SQLiteRepository) Record(ctx context.Context, ring engine.RingEvent) error {
	if ring.ID == "" {
		return fmt.Errorf("ring event has no ID")
	}
	if ring.EndedBy == "" {
		return fmt.Errorf("ring event %s is still open", ring.ID)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ring_events (id, device_id, caller_name, caller_number, caller_button, first_observed_at, last_observed_at, ended_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ring.ID, ring.DeviceID,
		nullableString(ring.Caller.Name), nullableString(ring.Caller.Number), nullableInt(ring.Caller.Button),
		ring.FirstObservedAt.UTC().Format(time.RFC3339Nano),
		ring.LastObservedAt.UTC().Format(time.RFC3339Nano),
		string(ring.EndedBy),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting ring event: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt returns nil for zero, for nullable INTEGER columns where
// zero means "not reported".
func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// List returns ring events matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for ring history queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "first_observed_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM ring_events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting ring events: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, device_id, caller_name, caller_number, caller_button, first_observed_at, last_observed_at, ended_by FROM ring_events %s ORDER BY first_observed_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ring events: %w", err)
	}
	defer rows.Close()

	var rings []engine.RingEvent
	for rows.Next() {
		ring, err := scanRing(rows)
		if err != nil {
			return nil, err
		}
		rings = append(rings, ring)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ring events: %w", err)
	}

	if rings == nil {
		rings = []engine.RingEvent{}
	}

	return &ListResult{
		Rings:  rings,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func scanRing(rows *sql.Rows) (engine.RingEvent, error) {
	var ring engine.RingEvent
	var callerName, callerNumber sql.NullString
	var callerButton sql.NullInt64
	var first, last, endedBy string

	if err := rows.Scan(&ring.ID, &ring.DeviceID,
		&callerName, &callerNumber, &callerButton,
		&first, &last, &endedBy); err != nil {
		return engine.RingEvent{}, fmt.Errorf("scanning ring event: %w", err)
	}

	if callerName.Valid {
		ring.Caller.Name = callerName.String
	}
	if callerNumber.Valid {
		ring.Caller.Number = callerNumber.String
	}
	if callerButton.Valid {
		ring.Caller.Button = int(callerButton.Int64)
	}

	firstAt, err := time.Parse(time.RFC3339Nano, first)
	if err != nil {
		return engine.RingEvent{}, fmt.Errorf("parsing ring event timestamp %q: %w", first, err)
	}
	lastAt, err := time.Parse(time.RFC3339Nano, last)
	if err != nil {
		return engine.RingEvent{}, fmt.Errorf("parsing ring event timestamp %q: %w", last, err)
	}
	ring.FirstObservedAt = firstAt
	ring.LastObservedAt = lastAt
	ring.EndedBy = engine.RingEndReason(endedBy)

	return ring, nil
}
