package thresholds

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenpoint/crisis-response-platform/internal/risk"
)

func newTestEngine(t *testing.T, store AdjustmentStore, opts ...EngineOption) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultConfigurations(), store, nil, nil, nil, opts...)
	require.NoError(t, err)
	return engine
}

func assertOrdered(t *testing.T, table map[risk.RiskDomain]map[risk.Severity]float64) {
	t.Helper()
	for domain, cutoffs := range table {
		prev := -1.0
		for _, sev := range risk.ClassifiedSeverities {
			v, ok := cutoffs[sev]
			require.True(t, ok, "%s missing %s cutoff", domain, sev)
			assert.Greater(t, v, prev, "%s: %s cutoff not above previous", domain, sev)
			assert.GreaterOrEqual(t, v, thresholdFloor, "%s/%s below floor", domain, sev)
			assert.LessOrEqual(t, v, thresholdCeil, "%s/%s above ceiling", domain, sev)
			prev = v
		}
	}
}

func TestEngineDefaultContextMatchesBase(t *testing.T) {
	engine := newTestEngine(t, nil)

	table, err := engine.Thresholds(context.Background(), nil, "")
	require.NoError(t, err)

	base := DefaultConfigurations()[GroupGeneral].Base
	for domain, cutoffs := range base {
		for sev, want := range cutoffs {
			assert.InDelta(t, want, table[domain][sev], 1e-9, "%s/%s", domain, sev)
		}
	}
}

func TestEnginePopulationGroupSelection(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	highRisk := &risk.CrisisContext{SupportAvailable: true, PriorEpisodes: 4}
	firstEpisode := &risk.CrisisContext{SupportAvailable: true}
	chronic := &risk.CrisisContext{SupportAvailable: true, PriorEpisodes: 1, TherapyEngaged: true, MedicationCompliant: true}

	hr, err := engine.Thresholds(ctx, highRisk, "")
	require.NoError(t, err)
	fe, err := engine.Thresholds(ctx, firstEpisode, "")
	require.NoError(t, err)

	// High-risk tables sit below first-episode tables so the same score
	// classifies more severely.
	assert.Less(t, hr[risk.DomainSuicide][risk.SeverityHigh], fe[risk.DomainSuicide][risk.SeverityHigh])

	// Chronic group picks up the therapy-engaged modifier on top of its base.
	ch, err := engine.Thresholds(ctx, chronic, "")
	require.NoError(t, err)
	chronicBase := DefaultConfigurations()[GroupChronicCondition].Base
	assert.InDelta(t, chronicBase[risk.DomainSuicide][risk.SeverityLow]*1.1,
		ch[risk.DomainSuicide][risk.SeverityLow], 1e-9)
}

func TestEngineContextualModifiersCompound(t *testing.T) {
	engine := newTestEngine(t, nil)

	cc := &risk.CrisisContext{TimeOfDay: risk.TimeOfDayLateNight, SupportAvailable: false}
	table, err := engine.Thresholds(context.Background(), cc, "")
	require.NoError(t, err)

	base := DefaultConfigurations()[GroupFirstEpisode].Base
	want := base[risk.DomainSelfHarm][risk.SeverityMedium] * 0.9 * 0.8
	assert.InDelta(t, want, table[risk.DomainSelfHarm][risk.SeverityMedium], 1e-9)
	assertOrdered(t, table)
}

func TestEngineOrderingSurvivesClamping(t *testing.T) {
	// A configuration crowded against the ceiling would collapse under a
	// raising modifier without the ordering repair pass.
	configs := DefaultConfigurations()
	configs["general"] = &Configuration{
		PopulationGroup: GroupGeneral,
		Base:            uniformTable(0.90, 0.92, 0.93, 0.94, 0.95),
		Modifiers:       map[string]float64{ModifierTherapyEngaged: 1.2},
		Adaptation:      AdaptationParams{LearningRate: 0.1, MinSamples: 1, MaxAdjustment: 0.3},
	}
	engine, err := NewEngine(configs, nil, nil, nil, nil)
	require.NoError(t, err)

	cc := &risk.CrisisContext{SupportAvailable: true, PriorEpisodes: 1, TherapyEngaged: true}
	table, err := engine.Thresholds(context.Background(), cc, "")
	require.NoError(t, err)
	assertOrdered(t, table)
}

func TestEngineUserAdjustmentsApply(t *testing.T) {
	store := NewMemoryAdjustmentStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, Adjustment{
		ID:            "adj-1",
		UserID:        "user-1",
		Domain:        risk.DomainSuicide,
		Severity:      risk.SeverityHigh,
		Factor:        0.8,
		EffectiveFrom: now.Add(-time.Hour),
		ExpiresAt:     now.Add(24 * time.Hour),
		CreatedAt:     now.Add(-time.Hour),
	}))

	cc := &risk.CrisisContext{SupportAvailable: true, PriorEpisodes: 1}
	adjusted, err := engine.Thresholds(ctx, cc, "user-1")
	require.NoError(t, err)
	plain, err := engine.Thresholds(ctx, cc, "user-2")
	require.NoError(t, err)

	assert.InDelta(t, plain[risk.DomainSuicide][risk.SeverityHigh]*0.8,
		adjusted[risk.DomainSuicide][risk.SeverityHigh], 1e-9)
	// Other cutoffs are untouched.
	assert.InDelta(t, plain[risk.DomainSuicide][risk.SeverityLow],
		adjusted[risk.DomainSuicide][risk.SeverityLow], 1e-9)
	assertOrdered(t, adjusted)
}

func TestEngineExpiredAdjustmentIgnored(t *testing.T) {
	store := NewMemoryAdjustmentStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, Adjustment{
		ID:            "adj-old",
		UserID:        "user-1",
		Domain:        risk.DomainSuicide,
		Severity:      risk.SeverityHigh,
		Factor:        0.5,
		EffectiveFrom: now.Add(-60 * 24 * time.Hour),
		ExpiresAt:     now.Add(-30 * 24 * time.Hour),
		CreatedAt:     now.Add(-60 * 24 * time.Hour),
	}))

	cc := &risk.CrisisContext{SupportAvailable: true, PriorEpisodes: 1}
	adjusted, err := engine.Thresholds(ctx, cc, "user-1")
	require.NoError(t, err)
	plain, err := engine.Thresholds(ctx, cc, "other")
	require.NoError(t, err)
	assert.InDelta(t, plain[risk.DomainSuicide][risk.SeverityHigh],
		adjusted[risk.DomainSuicide][risk.SeverityHigh], 1e-9)
}

func TestEngineAdaptNoDisagreementNoAdjustment(t *testing.T) {
	store := NewMemoryAdjustmentStore()
	engine := newTestEngine(t, store)

	assessment := &risk.RiskAssessment{
		ID:           "assess-1",
		Severity:     risk.SeverityHigh,
		Confidence:   0.7,
		DomainScores: map[risk.RiskDomain]float64{risk.DomainSuicide: 0.8},
	}
	created, err := engine.Adapt(context.Background(), assessment, risk.SeverityHigh, "user-1")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEngineAdaptUnderClassificationLowersThresholds(t *testing.T) {
	store := NewMemoryAdjustmentStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	assessment := &risk.RiskAssessment{
		ID:         "assess-1",
		UserID:     "user-1",
		Severity:   risk.SeverityMedium,
		Confidence: 0.65,
		DomainScores: map[risk.RiskDomain]float64{
			risk.DomainSuicide:  0.55,
			risk.DomainSelfHarm: 0.45,
			risk.DomainTrauma:   0.1, // below floor, no adjustment
		},
	}

	created, err := engine.Adapt(ctx, assessment, risk.SeverityCritical, "user-1")
	require.NoError(t, err)
	assert.True(t, created)

	active, err := store.ActiveForUser(ctx, "user-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, adj := range active {
		assert.Less(t, adj.Factor, 1.0, "under-classification must lower thresholds")
		// Two-level miss: 0.1*2 = 0.2 magnitude, +/-0.02 jitter.
		assert.InDelta(t, 0.8, adj.Factor, 0.021)
		assert.Equal(t, risk.SeverityCritical, adj.Severity)
		assert.Equal(t, now.Add(30*24*time.Hour), adj.ExpiresAt)
		assert.InDelta(t, 0.65, adj.ValidationScore, 1e-9)
	}
}

func TestEngineAdaptOverClassificationRaisesThresholds(t *testing.T) {
	store := NewMemoryAdjustmentStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	assessment := &risk.RiskAssessment{
		ID:           "assess-2",
		UserID:       "user-1",
		Severity:     risk.SeverityImminent,
		Confidence:   0.6,
		DomainScores: map[risk.RiskDomain]float64{risk.DomainViolence: 0.7},
	}

	created, err := engine.Adapt(ctx, assessment, risk.SeverityLow, "user-1")
	require.NoError(t, err)
	assert.True(t, created)

	active, err := store.ActiveForUser(ctx, "user-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Greater(t, active[0].Factor, 1.0)
	// Capped at the 0.3 max adjustment despite the four-level miss.
	assert.InDelta(t, 1.3, active[0].Factor, 0.021)
	assert.Equal(t, risk.SeverityLow, active[0].Severity)
}

func TestEngineAdaptObservedNoneTargetsLow(t *testing.T) {
	store := NewMemoryAdjustmentStore()
	engine := newTestEngine(t, store)
	ctx := context.Background()

	assessment := &risk.RiskAssessment{
		ID:           "assess-3",
		Severity:     risk.SeverityMedium,
		Confidence:   0.5,
		DomainScores: map[risk.RiskDomain]float64{risk.DomainSubstanceAbuse: 0.5},
	}
	created, err := engine.Adapt(ctx, assessment, risk.SeverityNone, "user-1")
	require.NoError(t, err)
	assert.True(t, created)

	active, err := store.ActiveForUser(ctx, "user-1", time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, risk.SeverityLow, active[0].Severity)
}

func TestEngineAdaptGatesOnMinimumSamples(t *testing.T) {
	store := NewMemoryAdjustmentStore()
	configs := DefaultConfigurations()
	configs[GroupGeneral].Adaptation.MinSamples = 2
	engine, err := NewEngine(configs, store, nil, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assessment := &risk.RiskAssessment{
		ID:           "assess-4",
		UserID:       "user-1",
		Severity:     risk.SeverityMedium,
		Confidence:   0.6,
		DomainScores: map[risk.RiskDomain]float64{risk.DomainSuicide: 0.7},
	}

	// First disagreement is recorded but below the sample minimum.
	adjusted, err := engine.Adapt(ctx, assessment, risk.SeverityHigh, "user-1")
	require.NoError(t, err)
	assert.False(t, adjusted)
	active, err := store.ActiveForUser(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Empty(t, active)

	// Second disagreement reaches the minimum and creates the adjustment.
	adjusted, err = engine.Adapt(ctx, assessment, risk.SeverityHigh, "user-1")
	require.NoError(t, err)
	assert.True(t, adjusted)

	// Other users' counters are independent.
	adjusted, err = engine.Adapt(ctx, assessment, risk.SeverityHigh, "user-2")
	require.NoError(t, err)
	assert.False(t, adjusted)
}

func TestEngineAdaptInvalidObservedSeverity(t *testing.T) {
	engine := newTestEngine(t, nil)
	assessment := &risk.RiskAssessment{ID: "a", Severity: risk.SeverityLow}
	_, err := engine.Adapt(context.Background(), assessment, risk.Severity("bogus"), "u")
	assert.Error(t, err)
}

func TestEngineAdaptInvalidatesCachedThresholds(t *testing.T) {
	store := NewMemoryAdjustmentStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, store, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	cc := &risk.CrisisContext{SupportAvailable: true, PriorEpisodes: 1}

	before, err := engine.Thresholds(ctx, cc, "user-1")
	require.NoError(t, err)

	assessment := &risk.RiskAssessment{
		ID:           "assess-4",
		UserID:       "user-1",
		Severity:     risk.SeverityLow,
		Confidence:   0.6,
		DomainScores: map[risk.RiskDomain]float64{risk.DomainSuicide: 0.4},
	}
	created, err := engine.Adapt(ctx, assessment, risk.SeverityHigh, "user-1")
	require.NoError(t, err)
	require.True(t, created)

	after, err := engine.Thresholds(ctx, cc, "user-1")
	require.NoError(t, err)
	assert.Less(t, after[risk.DomainSuicide][risk.SeverityHigh],
		before[risk.DomainSuicide][risk.SeverityHigh])

	// Unrelated users keep their cached table.
	otherBefore, err := engine.Thresholds(ctx, cc, "user-2")
	require.NoError(t, err)
	assert.InDelta(t, before[risk.DomainSuicide][risk.SeverityHigh],
		otherBefore[risk.DomainSuicide][risk.SeverityHigh], 1e-9)
}

func TestEngineRequiresGeneralConfiguration(t *testing.T) {
	configs := DefaultConfigurations()
	delete(configs, GroupGeneral)
	_, err := NewEngine(configs, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestEngineRejectsInvalidConfiguration(t *testing.T) {
	configs := DefaultConfigurations()
	configs[GroupHighRisk] = &Configuration{
		PopulationGroup: GroupHighRisk,
		Base:            uniformTable(0.5, 0.4, 0.6, 0.7, 0.8), // medium below low
		Modifiers:       defaultModifiers(),
		Adaptation:      AdaptationParams{LearningRate: 0.1, MinSamples: 1, MaxAdjustment: 0.3},
	}
	_, err := NewEngine(configs, nil, nil, nil, nil)
	assert.Error(t, err)
}
