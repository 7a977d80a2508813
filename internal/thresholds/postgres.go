package thresholds

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/havenpoint/crisis-response-platform/internal/risk"
)

// PostgresAdjustmentStore persists adjustments to the
// threshold_adjustments table. Rows are insert-only.
type PostgresAdjustmentStore struct {
	db *sql.DB
}

var _ AdjustmentStore = (*PostgresAdjustmentStore)(nil)

func NewPostgresAdjustmentStore(db *sql.DB) *PostgresAdjustmentStore {
	if db == nil {
		return nil
	}
	return &PostgresAdjustmentStore{db: db}
}

// Append inserts one adjustment row.
func (s *PostgresAdjustmentStore) Append(ctx context.Context, adj Adjustment) error {
	query := `
		INSERT INTO threshold_adjustments (
			id, user_id, population_group, domain, severity, factor,
			reason, validation_score, effective_from, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		adj.ID,
		nullString(adj.UserID),
		nullString(adj.PopulationGroup),
		string(adj.Domain),
		string(adj.Severity),
		adj.Factor,
		adj.Reason,
		adj.ValidationScore,
		adj.EffectiveFrom,
		adj.ExpiresAt,
		adj.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("thresholds: failed to insert adjustment: %w", err)
	}
	return nil
}

// ActiveForUser fetches the adjustments whose effective window contains now.
func (s *PostgresAdjustmentStore) ActiveForUser(ctx context.Context, userID string, now time.Time) ([]Adjustment, error) {
	query := `
		SELECT id, user_id, population_group, domain, severity, factor,
			   reason, validation_score, effective_from, expires_at, created_at
		FROM threshold_adjustments
		WHERE user_id = $1 AND effective_from <= $2 AND expires_at > $2
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("thresholds: failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []Adjustment
	for rows.Next() {
		var adj Adjustment
		var uid, group sql.NullString
		var domain, severity string
		err := rows.Scan(
			&adj.ID, &uid, &group, &domain, &severity, &adj.Factor,
			&adj.Reason, &adj.ValidationScore, &adj.EffectiveFrom, &adj.ExpiresAt, &adj.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("thresholds: failed to scan adjustment: %w", err)
		}
		adj.UserID = uid.String
		adj.PopulationGroup = group.String
		adj.Domain = risk.RiskDomain(domain)
		adj.Severity = risk.Severity(severity)
		adjustments = append(adjustments, adj)
	}

	return adjustments, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
