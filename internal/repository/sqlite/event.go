package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/model"
	"github.com/sakif/proservice/internal/repository"
)

var _ repository.EventRepository = (*DB)(nil)

const (
	eventColumns     = `id, type, payload, status, note, user_id, attempts, created_at, received_at, processed_at`
	defaultListLimit = 100
)

// Append inserts a verified event into the log. Rows are never deleted.
func (db *DB) Append(ctx context.Context, e *model.BillingEvent) (*model.BillingEvent, error) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = model.EventReceived
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO billing_events (id, type, payload, status, created_at, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		e.ID, e.Type, e.Payload, string(e.Status), e.CreatedAt, e.ReceivedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: appending event %s: %w", e.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading rows affected for event %s: %w", e.ID, err)
	}
	if n > 0 {
		return nil, nil
	}

	existing, err := db.Get(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// Get returns apperror.ErrNotFound when the event was never logged.
func (db *DB) Get(ctx context.Context, id string) (*model.BillingEvent, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM billing_events WHERE id = ?`, id)

	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("billing event", id)
		}
		return nil, fmt.Errorf("sqlite: getting event %s: %w", id, err)
	}
	return e, nil
}

// SetStatus records a processing attempt and its outcome.
func (db *DB) SetStatus(ctx context.Context, id string, status model.EventStatus, userID, note string) error {
	var processedAt any
	if status.Settled() {
		processedAt = time.Now().UTC()
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE billing_events
		 SET status = ?, note = ?, user_id = CASE WHEN ? != '' THEN ? ELSE user_id END,
		     attempts = attempts + 1, processed_at = COALESCE(?, processed_at)
		 WHERE id = ?`,
		string(status), note, userID, userID, processedAt, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting status of event %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected for event %s: %w", id, err)
	}
	if n == 0 {
		return apperror.NotFound("billing event", id)
	}
	return nil
}

// ListByStatus returns events in the given statuses, fewest attempts first
// and then oldest first. Every retry bumps attempts, so repeated batches
// rotate through the backlog instead of rereading its head.
func (db *DB) ListByStatus(ctx context.Context, statuses []model.EventStatus, opts repository.ListOptions) ([]model.BillingEvent, error) {
	if len(statuses) == 0 {
		return []model.BillingEvent{}, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+2)
	for i, s := range statuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	args = append(args, opts.Limit, opts.Offset)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM billing_events
		 WHERE status IN (`+strings.Join(placeholders, ",")+`)
		 ORDER BY attempts ASC, received_at ASC, id ASC
		 LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing events: %w", err)
	}
	defer rows.Close()

	events := []model.BillingEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating events: %w", err)
	}
	return events, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*model.BillingEvent, error) {
	var (
		e           model.BillingEvent
		status      string
		processedAt sql.NullTime
	)
	err := s.Scan(
		&e.ID,
		&e.Type,
		&e.Payload,
		&status,
		&e.Note,
		&e.UserID,
		&e.Attempts,
		&e.CreatedAt,
		&e.ReceivedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = model.EventStatus(status)
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	return &e, nil
}
