package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresSink writes audit events into the audit_events table.
type PostgresSink struct {
	db *sql.DB
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink creates a sink backed by the given database handle.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	if db == nil {
		return nil
	}
	return &PostgresSink{db: db}
}

// Write inserts one event.
func (s *PostgresSink) Write(ctx context.Context, evt Event) error {
	if s == nil || s.db == nil {
		return nil
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, kind, user_id, session_id, instance_id, assessment_id, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.ExecContext(ctx, query,
		evt.ID,
		evt.Kind,
		nullString(evt.UserID),
		nullString(evt.SessionID),
		nullString(evt.InstanceID),
		nullString(evt.AssessmentID),
		payload,
		evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to insert event: %w", err)
	}
	return nil
}

// QueryFilter specifies criteria for reading back audit events.
type QueryFilter struct {
	UserID    string
	Kind      EventKind
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Query retrieves events matching the filter, newest first.
func (s *PostgresSink) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	query := `
		SELECT id, kind, user_id, session_id, instance_id, assessment_id, payload, created_at
		FROM audit_events
		WHERE 1=1
	`
	var args []interface{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var userID, sessionID, instanceID, assessmentID sql.NullString
		var payload []byte
		err := rows.Scan(&e.ID, &e.Kind, &userID, &sessionID, &instanceID, &assessmentID, &payload, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.UserID = userID.String
		e.SessionID = sessionID.String
		e.InstanceID = instanceID.String
		e.AssessmentID = assessmentID.String
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
