package thresholds

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/havenpoint/crisis-response-platform/internal/audit"
	"github.com/havenpoint/crisis-response-platform/internal/observability/metrics"
	"github.com/havenpoint/crisis-response-platform/internal/risk"
	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

const (
	adjustmentLifetime = 30 * 24 * time.Hour
	adjustmentJitter   = 0.02
	// Domains scoring below this on the assessment are not adjusted.
	adjustmentScoreFloor = 0.3
	maxCachedTables      = 1024
)

type cachedTable struct {
	table     Table
	expiresAt time.Time
}

// Engine resolves severity thresholds per context and user, and runs the
// outcome-feedback adaptation loop. Configurations are shared immutably;
// adjustment creation is the only write path and is append-only.
type Engine struct {
	configs  map[string]*Configuration
	store    AdjustmentStore
	logger   *logging.Logger
	metrics  *metrics.CrisisMetrics
	auditor  audit.Emitter
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedTable
	// Per-user generation counter; bumping it invalidates that user's
	// cached tables without scanning the cache.
	userGen map[string]uint64
	// Per-user count of disagreeing feedback observations, gating
	// adjustment creation on AdaptationParams.MinSamples.
	userSamples map[string]int

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ risk.ThresholdSource = (*Engine)(nil)

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithCacheTTL overrides the threshold-cache lifetime.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.cacheTTL = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine over the given configurations. Every table
// is validated on load; an invalid table is a programmer/config error.
func NewEngine(configs map[string]*Configuration, store AdjustmentStore, m *metrics.CrisisMetrics, auditor audit.Emitter, logger *logging.Logger, opts ...EngineOption) (*Engine, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if len(configs) == 0 {
		configs = DefaultConfigurations()
	}
	if _, ok := configs[GroupGeneral]; !ok {
		return nil, fmt.Errorf("thresholds: %q configuration is required", GroupGeneral)
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if store == nil {
		store = NewMemoryAdjustmentStore()
	}

	e := &Engine{
		configs:     configs,
		store:       store,
		logger:      logger.WithComponent("threshold-engine"),
		metrics:     m,
		auditor:     auditor,
		cacheTTL:    10 * time.Minute,
		now:         time.Now,
		cache:       make(map[string]cachedTable),
		userGen:     make(map[string]uint64),
		userSamples: make(map[string]int),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Thresholds resolves the cutoff table for the context and user:
// population base table, then active user adjustments, then contextual
// modifiers, clamped to [0.05, 0.95] with ordering preserved.
func (e *Engine) Thresholds(ctx context.Context, cc *risk.CrisisContext, userID string) (map[risk.RiskDomain]map[risk.Severity]float64, error) {
	cc = cc.Normalize()
	group := SelectPopulationGroup(cc)
	now := e.now()

	key := e.cacheKey(userID, group, cc)
	if table, ok := e.cachedLookup(key, now); ok {
		return table, nil
	}

	cfg, ok := e.configs[group]
	if !ok {
		cfg = e.configs[GroupGeneral]
	}

	table := cloneTable(cfg.Base)

	if userID != "" {
		adjustments, err := e.store.ActiveForUser(ctx, userID, now)
		if err != nil {
			return nil, fmt.Errorf("thresholds: adjustment lookup for user %s: %w", userID, err)
		}
		for _, adj := range adjustments {
			if cutoffs, ok := table[adj.Domain]; ok {
				if v, ok := cutoffs[adj.Severity]; ok {
					cutoffs[adj.Severity] = v * adj.Factor
				}
			}
		}
	}

	modifier := e.contextModifier(cfg, cc)
	for _, cutoffs := range table {
		for sev, v := range cutoffs {
			cutoffs[sev] = clampThreshold(v * modifier)
		}
	}
	for _, domain := range risk.AllDomains {
		enforceOrdering(table[domain])
	}

	e.cachePut(key, table, now)
	return table, nil
}

// Adapt compares an assessment against the later-observed clinical
// severity and, when they disagree by at least one level, appends a
// 30-day adjustment per sufficiently-scored domain. Creation is gated
// on the configuration's MinSamples disagreements per user so a single
// noisy outcome cannot move thresholds. Returns true when
// adjustments were created. Safe to call repeatedly for the same pair;
// jitter makes repeated adjustments comparable rather than identical.
func (e *Engine) Adapt(ctx context.Context, assessment *risk.RiskAssessment, observed risk.Severity, userID string) (bool, error) {
	if assessment == nil {
		return false, fmt.Errorf("thresholds: assessment required")
	}
	if !observed.IsValid() {
		return false, fmt.Errorf("thresholds: invalid observed severity %q", observed)
	}

	delta := observed.Rank() - assessment.Severity.Rank()
	if delta == 0 {
		return false, nil
	}

	group := GroupGeneral
	cfg := e.configs[group]

	if samples := e.recordSample(userID); samples < cfg.Adaptation.MinSamples {
		e.logger.Info("adjustment deferred until sample minimum",
			"user_id", userID,
			"samples", samples,
			"min_samples", cfg.Adaptation.MinSamples,
		)
		return false, nil
	}

	magnitude := math.Min(cfg.Adaptation.MaxAdjustment, cfg.Adaptation.LearningRate*math.Abs(float64(delta)))
	magnitude += e.jitter()

	// Under-classification (observed worse) lowers thresholds so the same
	// score classifies more severely; over-classification raises them.
	factor := 1 - magnitude
	if delta < 0 {
		factor = 1 + magnitude
	}

	targetSeverity := observed
	if targetSeverity == risk.SeverityNone {
		targetSeverity = risk.SeverityLow
	}

	now := e.now()
	created := 0
	for _, domain := range risk.AllDomains {
		if assessment.DomainScores[domain] < adjustmentScoreFloor {
			continue
		}
		adj := Adjustment{
			ID:              uuid.NewString(),
			UserID:          userID,
			PopulationGroup: group,
			Domain:          domain,
			Severity:        targetSeverity,
			Factor:          factor,
			Reason:          fmt.Sprintf("outcome feedback: assessed %s, observed %s", assessment.Severity, observed),
			ValidationScore: assessment.Confidence,
			EffectiveFrom:   now,
			ExpiresAt:       now.Add(adjustmentLifetime),
			CreatedAt:       now,
		}
		if err := e.store.Append(ctx, adj); err != nil {
			return created > 0, err
		}
		created++
		e.metrics.ObserveAdjustment()
		if e.auditor != nil {
			e.auditor.Emit(audit.Event{
				Kind:         audit.EventThresholdAdjusted,
				UserID:       userID,
				AssessmentID: assessment.ID,
				Payload: map[string]any{
					"domain":   string(domain),
					"severity": string(targetSeverity),
					"factor":   factor,
					"reason":   adj.Reason,
				},
			})
		}
	}

	if created > 0 {
		e.invalidateUser(userID)
		e.logger.Info("threshold adjustments created",
			"user_id", userID,
			"count", created,
			"factor", factor,
			"assessed", assessment.Severity,
			"observed", observed,
		)
	}
	return created > 0, nil
}

func (e *Engine) contextModifier(cfg *Configuration, cc *risk.CrisisContext) float64 {
	modifier := 1.0
	if cc.TimeOfDay == risk.TimeOfDayLateNight {
		modifier *= cfg.Modifiers[ModifierLateNight]
	}
	if !cc.SupportAvailable {
		modifier *= cfg.Modifiers[ModifierNoSupport]
	}
	if cc.TherapyEngaged {
		modifier *= cfg.Modifiers[ModifierTherapyEngaged]
	}
	return modifier
}

func (e *Engine) jitter() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return (e.rng.Float64()*2 - 1) * adjustmentJitter
}

func (e *Engine) cacheKey(userID, group string, cc *risk.CrisisContext) string {
	e.mu.Lock()
	gen := e.userGen[userID]
	e.mu.Unlock()
	return fmt.Sprintf("%s|%d|%s|%s", userID, gen, group, cc.Signature())
}

func (e *Engine) cachedLookup(key string, now time.Time) (Table, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache[key]
	if !ok || now.After(entry.expiresAt) {
		return nil, false
	}
	return cloneTable(entry.table), true
}

func (e *Engine) cachePut(key string, table Table, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.cache) >= maxCachedTables {
		e.cache = make(map[string]cachedTable)
	}
	e.cache[key] = cachedTable{table: cloneTable(table), expiresAt: now.Add(e.cacheTTL)}
}

// recordSample counts one disagreeing feedback observation for the user
// and returns the running total.
func (e *Engine) recordSample(userID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userSamples[userID]++
	return e.userSamples[userID]
}

func (e *Engine) invalidateUser(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userGen[userID]++
}

func cloneTable(t Table) Table {
	out := make(Table, len(t))
	for domain, cutoffs := range t {
		c := make(map[risk.Severity]float64, len(cutoffs))
		for sev, v := range cutoffs {
			c[sev] = v
		}
		out[domain] = c
	}
	return out
}

func clampThreshold(v float64) float64 {
	if v < thresholdFloor {
		return thresholdFloor
	}
	if v > thresholdCeil {
		return thresholdCeil
	}
	return v
}

// enforceOrdering repairs any ordering collapse caused by clamping so
// low < medium < high < critical < imminent always holds.
func enforceOrdering(cutoffs map[risk.Severity]float64) {
	const gap = 0.001
	levels := risk.ClassifiedSeverities
	for i := len(levels) - 2; i >= 0; i-- {
		upper := cutoffs[levels[i+1]]
		if cutoffs[levels[i]] >= upper {
			cutoffs[levels[i]] = upper - gap
		}
	}
	// Re-floor from the bottom in case the walk pushed values below the floor.
	prev := thresholdFloor - gap
	for _, sev := range levels {
		if cutoffs[sev] <= prev {
			cutoffs[sev] = prev + gap
		}
		prev = cutoffs[sev]
	}
}
