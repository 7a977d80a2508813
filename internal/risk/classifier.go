package risk

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/havenpoint/crisis-response-platform/internal/audit"
	"github.com/havenpoint/crisis-response-platform/internal/observability/metrics"
	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

var classifierTracer = otel.Tracer("crisis/risk-classifier")

// ThresholdSource resolves the severity cutoff table for a given context
// and user. Implemented by the thresholds engine.
type ThresholdSource interface {
	Thresholds(ctx context.Context, cc *CrisisContext, userID string) (map[RiskDomain]map[Severity]float64, error)
}

// primaryConcernFloor is the minimum domain score that qualifies a domain
// as a primary concern.
const primaryConcernFloor = 0.4

// ClassifierOption customizes classifier construction.
type ClassifierOption func(*Classifier)

// WithCacheWindow overrides the idempotency window for repeated requests.
func WithCacheWindow(window time.Duration) ClassifierOption {
	return func(c *Classifier) { c.cacheWindow = window }
}

// WithCacheSize bounds the assessment cache.
func WithCacheSize(size int) ClassifierOption {
	return func(c *Classifier) { c.cache = newAssessmentCache(size) }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) { c.now = now }
}

// Classifier orchestrates scoring and thresholding into a RiskAssessment.
type Classifier struct {
	scorer      *LexiconScorer
	thresholds  ThresholdSource
	cache       *assessmentCache
	cacheWindow time.Duration
	logger      *logging.Logger
	metrics     *metrics.CrisisMetrics
	auditor     audit.Emitter
	now         func() time.Time
}

// NewClassifier constructs a classifier. The threshold source may be nil,
// in which case every assessment falls back to static defaults and is
// marked degraded.
func NewClassifier(scorer *LexiconScorer, thresholds ThresholdSource, m *metrics.CrisisMetrics, auditor audit.Emitter, logger *logging.Logger, opts ...ClassifierOption) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	if scorer == nil {
		scorer = NewLexiconScorer(logger)
	}
	c := &Classifier{
		scorer:      scorer,
		thresholds:  thresholds,
		cache:       newAssessmentCache(512),
		cacheWindow: 5 * time.Minute,
		logger:      logger.WithComponent("risk-classifier"),
		metrics:     m,
		auditor:     auditor,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Assess classifies free text plus optional context into a RiskAssessment.
// Callers always receive an assessment: missing context falls back to
// defaults, and threshold failures degrade confidence instead of erroring.
func (c *Classifier) Assess(ctx context.Context, text string, crisisCtx *CrisisContext, userID string) (*RiskAssessment, error) {
	ctx, span := classifierTracer.Start(ctx, "risk.assess")
	defer span.End()
	start := c.now()

	hadContext := crisisCtx != nil
	crisisCtx = crisisCtx.Normalize()

	cacheKey := assessmentCacheKey(text, userID, crisisCtx.Signature(), start, c.cacheWindow)
	if cached := c.cache.get(cacheKey); cached != nil {
		span.SetAttributes(attribute.Bool("risk.cached", true))
		c.metrics.ObserveAssessLatency(true, time.Since(start).Seconds())
		return cached, nil
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		a := c.emptyAssessment(userID, start)
		c.cache.put(cacheKey, a)
		c.metrics.ObserveAssessment(string(a.Severity), a.Degraded)
		return a, nil
	}

	scores := c.scorer.Score(trimmed, AllDomains)

	table, degraded := c.resolveThresholds(ctx, crisisCtx, userID)

	// Per-domain severity: the highest tier the score meets or exceeds.
	overall := SeverityNone
	for _, domain := range AllDomains {
		sev := classifyScore(scores[domain], table[domain])
		overall = MaxSeverity(overall, sev)
	}

	confidence := c.confidence(trimmed, scores, hadContext)
	if degraded {
		confidence *= 0.75
	}

	escalate := overall.AtLeast(SeverityCritical) ||
		scores[DomainSuicide] >= 0.8 ||
		scores[DomainViolence] >= 0.8

	a := &RiskAssessment{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Severity:           overall,
		Confidence:         round2(confidence),
		DomainScores:       scores,
		PrimaryConcerns:    primaryConcerns(scores),
		ProtectiveFactors:  protectiveFactors(trimmed, crisisCtx),
		Urgency:            urgency(overall, scores, crisisCtx),
		EscalationRequired: escalate,
		Degraded:           degraded,
		CreatedAt:          start.UTC(),
	}
	a.Recommendations = recommendations(a)

	c.cache.put(cacheKey, a)

	span.SetAttributes(
		attribute.String("risk.severity", string(a.Severity)),
		attribute.Float64("risk.confidence", a.Confidence),
		attribute.Float64("risk.urgency", a.Urgency),
		attribute.Bool("risk.escalation_required", a.EscalationRequired),
	)
	c.logger.Info("assessment completed",
		"assessment_id", a.ID,
		"severity", a.Severity,
		"urgency", a.Urgency,
		"escalation_required", a.EscalationRequired,
		"degraded", a.Degraded,
	)
	c.metrics.ObserveAssessment(string(a.Severity), a.Degraded)
	c.metrics.ObserveAssessLatency(false, time.Since(start).Seconds())

	if c.auditor != nil {
		c.auditor.Emit(audit.Event{
			Kind:         audit.EventAssessmentCompleted,
			UserID:       userID,
			AssessmentID: a.ID,
			Payload: map[string]any{
				"severity":            string(a.Severity),
				"confidence":          a.Confidence,
				"urgency":             a.Urgency,
				"escalation_required": a.EscalationRequired,
				"primary_concerns":    a.PrimaryConcerns,
			},
		})
	}

	return a, nil
}

// Lookup returns a cached assessment by its ID, or nil if it has been
// evicted. Used by the adaptation feedback endpoint.
func (c *Classifier) Lookup(assessmentID string) *RiskAssessment {
	return c.cache.getByID(assessmentID)
}

func (c *Classifier) emptyAssessment(userID string, now time.Time) *RiskAssessment {
	scores := make(map[RiskDomain]float64, len(AllDomains))
	for _, d := range AllDomains {
		scores[d] = 0
	}
	a := &RiskAssessment{
		ID:              uuid.NewString(),
		UserID:          userID,
		Severity:        SeverityNone,
		Confidence:      0.3,
		DomainScores:    scores,
		PrimaryConcerns: []RiskDomain{},
		Urgency:         0,
		CreatedAt:       now.UTC(),
	}
	a.Recommendations = recommendations(a)
	return a
}

func (c *Classifier) resolveThresholds(ctx context.Context, cc *CrisisContext, userID string) (map[RiskDomain]map[Severity]float64, bool) {
	if c.thresholds == nil {
		return fallbackThresholds(), true
	}
	table, err := c.thresholds.Thresholds(ctx, cc, userID)
	if err != nil {
		c.logger.Warn("threshold lookup failed, using static defaults", "error", err, "user_id", userID)
		return fallbackThresholds(), true
	}
	return table, false
}

// classifyScore finds the highest severity tier the score meets or exceeds.
func classifyScore(score float64, cutoffs map[Severity]float64) Severity {
	if len(cutoffs) == 0 {
		cutoffs = fallbackDomainThresholds
	}
	result := SeverityNone
	for _, sev := range ClassifiedSeverities {
		cutoff, ok := cutoffs[sev]
		if !ok {
			continue
		}
		if score >= cutoff {
			result = sev
		}
	}
	return result
}

// confidence is the mean of a text-length signal, a score-consistency
// signal, and a context-availability bonus.
func (c *Classifier) confidence(text string, scores map[RiskDomain]float64, hadContext bool) float64 {
	words := len(strings.Fields(text))
	lengthSignal := 0.5
	switch {
	case words >= 20:
		lengthSignal = 0.9
	case words >= 10:
		lengthSignal = 0.7
	}

	consistency := math.Max(0.5, 1-2*scoreVariance(scores))

	contextSignal := 0.6
	if hadContext {
		contextSignal = 0.8
	}

	return (lengthSignal + consistency + contextSignal) / 3
}

func scoreVariance(scores map[RiskDomain]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range scores {
		mean += v
	}
	mean /= float64(len(scores))

	variance := 0.0
	for _, v := range scores {
		variance += (v - mean) * (v - mean)
	}
	return variance / float64(len(scores))
}

var severityBaseUrgency = map[Severity]float64{
	SeverityNone:     0,
	SeverityLow:      0.2,
	SeverityMedium:   0.4,
	SeverityHigh:     0.6,
	SeverityCritical: 0.8,
	SeverityImminent: 1.0,
}

func urgency(severity Severity, scores map[RiskDomain]float64, cc *CrisisContext) float64 {
	maxScore := 0.0
	for _, v := range scores {
		if v > maxScore {
			maxScore = v
		}
	}
	u := 0.7*severityBaseUrgency[severity] + 0.3*maxScore
	if cc != nil && !cc.SupportAvailable {
		u *= 1.2
	}
	if u > 1 {
		u = 1
	}
	return round2(u)
}

func primaryConcerns(scores map[RiskDomain]float64) []RiskDomain {
	var concerns []RiskDomain
	for _, domain := range AllDomains {
		if scores[domain] >= primaryConcernFloor {
			concerns = append(concerns, domain)
		}
	}
	sort.SliceStable(concerns, func(i, j int) bool {
		si, sj := scores[concerns[i]], scores[concerns[j]]
		if si != sj {
			return si > sj
		}
		return concerns[i] < concerns[j]
	})
	if len(concerns) > 3 {
		concerns = concerns[:3]
	}
	if concerns == nil {
		concerns = []RiskDomain{}
	}
	return concerns
}

var protectiveLexicon = map[string]*regexp.Regexp{
	"expresses hope":          regexp.MustCompile(`(?i)\b(hope(ful)?|looking forward|things (will|can) get better|tomorrow)\b`),
	"identifies support":      regexp.MustCompile(`(?i)\b(my (friend|family|mom|dad|partner|wife|husband|therapist)|people who care|someone to talk to)\b`),
	"uses coping strategies":  regexp.MustCompile(`(?i)\b(breathing exercises?|coping|journal(ing)?|meditat(e|ion|ing)|going for a walk|grounding)\b`),
	"expresses meaning":       regexp.MustCompile(`(?i)\b(my (kids|children|dog|cat|faith)|reason to (live|keep going)|purpose)\b`),
}

func protectiveFactors(text string, cc *CrisisContext) []string {
	var factors []string
	for label, pattern := range protectiveLexicon {
		if pattern.MatchString(text) {
			factors = append(factors, label)
		}
	}
	sort.Strings(factors)

	if cc != nil {
		if cc.SupportAvailable {
			factors = append(factors, "support system available")
		}
		if cc.TherapyEngaged {
			factors = append(factors, "engaged in therapy")
		}
		if cc.MedicationCompliant {
			factors = append(factors, "medication compliant")
		}
	}
	return factors
}

var severityRecommendations = map[Severity][]string{
	SeverityNone: {
		"Continue supportive conversation",
	},
	SeverityLow: {
		"Continue supportive conversation",
		"Offer self-care resources",
	},
	SeverityMedium: {
		"Suggest professional support options",
		"Share coping strategies",
		"Check in within 24 hours",
	},
	SeverityHigh: {
		"Encourage immediate professional contact",
		"Initiate safety planning",
		"Check in within 4 hours",
	},
	SeverityCritical: {
		"Connect with crisis counselor now",
		"Initiate safety planning",
		"Notify on-call responder",
	},
	SeverityImminent: {
		"Immediate crisis intervention required",
		"Contact emergency services if danger is immediate",
		"Notify on-call responder",
	},
}

var domainRecommendations = map[RiskDomain]string{
	DomainSuicide:        "Share 988 Suicide & Crisis Lifeline (call or text 988)",
	DomainSelfHarm:       "Share Crisis Text Line (text HOME to 741741)",
	DomainViolence:       "Assess safety of identified third parties",
	DomainSubstanceAbuse: "Share SAMHSA helpline (1-800-662-4357)",
	DomainPsychosis:      "Recommend urgent psychiatric evaluation",
	DomainEatingDisorder: "Share NEDA helpline resources",
	DomainTrauma:         "Offer trauma-informed grounding techniques",
	DomainNeglect:        "Explore daily-living support options",
}

// recommendations assembles the severity-level actions plus additions for
// each primary concern, de-duplicated in order.
func recommendations(a *RiskAssessment) []string {
	var recs []string
	seen := make(map[string]struct{})
	add := func(r string) {
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		recs = append(recs, r)
	}

	for _, r := range severityRecommendations[a.Severity] {
		add(r)
	}
	for _, domain := range a.PrimaryConcerns {
		if r, ok := domainRecommendations[domain]; ok {
			add(r)
		}
	}
	return recs
}

// fallbackDomainThresholds is the static cutoff ladder used when the
// threshold engine is unavailable.
var fallbackDomainThresholds = map[Severity]float64{
	SeverityLow:      0.2,
	SeverityMedium:   0.4,
	SeverityHigh:     0.6,
	SeverityCritical: 0.75,
	SeverityImminent: 0.9,
}

func fallbackThresholds() map[RiskDomain]map[Severity]float64 {
	table := make(map[RiskDomain]map[Severity]float64, len(AllDomains))
	for _, d := range AllDomains {
		cutoffs := make(map[Severity]float64, len(fallbackDomainThresholds))
		for sev, v := range fallbackDomainThresholds {
			cutoffs[sev] = v
		}
		table[d] = cutoffs
	}
	return table
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
