package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RiskAssessment is the immutable result of one classification pass.
type RiskAssessment struct {
	ID                 string                 `json:"id"`
	UserID             string                 `json:"user_id,omitempty"`
	Severity           Severity               `json:"severity"`
	Confidence         float64                `json:"confidence"`
	DomainScores       map[RiskDomain]float64 `json:"domain_scores"`
	PrimaryConcerns    []RiskDomain           `json:"primary_concerns"`
	ProtectiveFactors  []string               `json:"protective_factors"`
	Urgency            float64                `json:"urgency"`
	Recommendations    []string               `json:"recommendations"`
	EscalationRequired bool                   `json:"escalation_required"`
	Degraded           bool                   `json:"degraded,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

// assessmentCacheKey buckets identical requests into a time window so
// repeated queries within the window are idempotent.
func assessmentCacheKey(text, userID, contextSig string, now time.Time, window time.Duration) string {
	if window <= 0 {
		window = 5 * time.Minute
	}
	bucket := now.Truncate(window).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", text, userID, contextSig, bucket)))
	return hex.EncodeToString(sum[:])
}
