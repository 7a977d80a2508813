package thresholds

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenpoint/crisis-response-platform/internal/risk"
)

func TestPostgresAdjustmentStoreAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAdjustmentStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO threshold_adjustments").
		WithArgs("adj-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "suicide", "high", 0.82,
			"outcome feedback: assessed medium, observed critical", 0.65,
			now, now.Add(30*24*time.Hour), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Append(context.Background(), Adjustment{
		ID:              "adj-1",
		UserID:          "user-1",
		PopulationGroup: GroupGeneral,
		Domain:          risk.DomainSuicide,
		Severity:        risk.SeverityHigh,
		Factor:          0.82,
		Reason:          "outcome feedback: assessed medium, observed critical",
		ValidationScore: 0.65,
		EffectiveFrom:   now,
		ExpiresAt:       now.Add(30 * 24 * time.Hour),
		CreatedAt:       now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAdjustmentStoreActiveForUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAdjustmentStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	columns := []string{"id", "user_id", "population_group", "domain", "severity", "factor",
		"reason", "validation_score", "effective_from", "expires_at", "created_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("adj-1", "user-1", "general", "suicide", "high", 0.82,
			"outcome feedback: assessed medium, observed critical", 0.65,
			now.Add(-time.Hour), now.Add(24*time.Hour), now.Add(-time.Hour)).
		AddRow("adj-2", "user-1", "general", "self_harm", "medium", 1.12,
			"outcome feedback: assessed high, observed low", 0.5,
			now.Add(-time.Minute), now.Add(48*time.Hour), now.Add(-time.Minute))

	mock.ExpectQuery("SELECT (.+) FROM threshold_adjustments").
		WithArgs("user-1", now).
		WillReturnRows(rows)

	adjustments, err := store.ActiveForUser(context.Background(), "user-1", now)
	require.NoError(t, err)
	require.Len(t, adjustments, 2)

	assert.Equal(t, "adj-1", adjustments[0].ID)
	assert.Equal(t, risk.DomainSuicide, adjustments[0].Domain)
	assert.Equal(t, risk.SeverityHigh, adjustments[0].Severity)
	assert.InDelta(t, 0.82, adjustments[0].Factor, 1e-9)
	assert.Equal(t, risk.DomainSelfHarm, adjustments[1].Domain)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAdjustmentStoreQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAdjustmentStore(db)
	mock.ExpectQuery("SELECT (.+) FROM threshold_adjustments").
		WillReturnError(assert.AnError)

	_, err = store.ActiveForUser(context.Background(), "user-1", time.Now())
	assert.Error(t, err)
}
