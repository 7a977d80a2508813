// Package risk implements crisis risk scoring and classification.
package risk

// RiskDomain is a category of crisis concern.
type RiskDomain string

const (
	DomainSelfHarm       RiskDomain = "self_harm"
	DomainSuicide        RiskDomain = "suicide"
	DomainSubstanceAbuse RiskDomain = "substance_abuse"
	DomainPsychosis      RiskDomain = "psychosis"
	DomainViolence       RiskDomain = "violence"
	DomainNeglect        RiskDomain = "neglect"
	DomainTrauma         RiskDomain = "trauma"
	DomainEatingDisorder RiskDomain = "eating_disorder"
)

// AllDomains lists every risk domain in stable order.
var AllDomains = []RiskDomain{
	DomainSelfHarm,
	DomainSuicide,
	DomainSubstanceAbuse,
	DomainPsychosis,
	DomainViolence,
	DomainNeglect,
	DomainTrauma,
	DomainEatingDisorder,
}

// IsValid reports whether d is a known risk domain.
func (d RiskDomain) IsValid() bool {
	for _, known := range AllDomains {
		if d == known {
			return true
		}
	}
	return false
}

// Severity is an ordered crisis-intensity level.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityImminent Severity = "imminent"
)

// ClassifiedSeverities are the threshold-bearing levels, lowest first.
// SeverityNone is the implicit floor and carries no threshold.
var ClassifiedSeverities = []Severity{
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
	SeverityImminent,
}

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
	SeverityImminent: 5,
}

// Rank returns the ordering position of the severity (none=0, imminent=5).
// Unknown labels rank below none.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// IsValid reports whether s is a known severity label.
func (s Severity) IsValid() bool {
	return s.Rank() >= 0
}

// AtLeast reports whether s is at or above other in the severity order.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}
