// Package thresholds converts per-domain risk scores into severity levels
// using configurable, adaptively-tuned cutoff tables.
package thresholds

import (
	"fmt"

	"github.com/havenpoint/crisis-response-platform/internal/risk"
)

// Population groups. Selection precedence is fixed: prior-episode count,
// then first-episode, then chronic-condition, then general.
const (
	GroupGeneral          = "general"
	GroupHighRisk         = "high-risk"
	GroupFirstEpisode     = "first-episode"
	GroupChronicCondition = "chronic-condition"
)

// Clamp bounds for every resolved threshold.
const (
	thresholdFloor = 0.05
	thresholdCeil  = 0.95
)

// Contextual modifier keys.
const (
	ModifierLateNight      = "late_night"
	ModifierNoSupport      = "no_support"
	ModifierTherapyEngaged = "therapy_engaged"
)

// Table maps each domain to its per-severity cutoffs.
type Table map[risk.RiskDomain]map[risk.Severity]float64

// AdaptationParams tune the feedback loop.
type AdaptationParams struct {
	LearningRate  float64
	MinSamples    int
	MaxAdjustment float64
}

// Configuration is a per-population threshold table plus contextual
// modifiers and adaptation parameters. Immutable after load.
type Configuration struct {
	PopulationGroup string
	Base            Table
	Modifiers       map[string]float64
	Adaptation      AdaptationParams
}

// Validate checks every cutoff is in [0,1] and strictly ascending
// low < medium < high < critical < imminent for every domain.
func (c *Configuration) Validate() error {
	if c.PopulationGroup == "" {
		return fmt.Errorf("thresholds: configuration missing population group")
	}
	for _, domain := range risk.AllDomains {
		cutoffs, ok := c.Base[domain]
		if !ok {
			return fmt.Errorf("thresholds: %s table missing domain %s", c.PopulationGroup, domain)
		}
		prev := -1.0
		for _, sev := range risk.ClassifiedSeverities {
			v, ok := cutoffs[sev]
			if !ok {
				return fmt.Errorf("thresholds: %s/%s missing severity %s", c.PopulationGroup, domain, sev)
			}
			if v < 0 || v > 1 {
				return fmt.Errorf("thresholds: %s/%s/%s cutoff %v out of [0,1]", c.PopulationGroup, domain, sev, v)
			}
			if v <= prev {
				return fmt.Errorf("thresholds: %s/%s cutoffs not strictly ascending at %s", c.PopulationGroup, domain, sev)
			}
			prev = v
		}
	}
	return nil
}

// SelectPopulationGroup applies the fixed precedence order to a context.
func SelectPopulationGroup(cc *risk.CrisisContext) string {
	cc = cc.Normalize()
	switch {
	case cc.PriorEpisodes >= 3:
		return GroupHighRisk
	case cc.PriorEpisodes == 0 && !cc.TherapyEngaged:
		return GroupFirstEpisode
	case cc.MedicationCompliant && cc.TherapyEngaged:
		return GroupChronicCondition
	default:
		return GroupGeneral
	}
}

func uniformTable(low, medium, high, critical, imminent float64) Table {
	table := make(Table, len(risk.AllDomains))
	for _, d := range risk.AllDomains {
		table[d] = map[risk.Severity]float64{
			risk.SeverityLow:      low,
			risk.SeverityMedium:   medium,
			risk.SeverityHigh:     high,
			risk.SeverityCritical: critical,
			risk.SeverityImminent: imminent,
		}
	}
	return table
}

func defaultModifiers() map[string]float64 {
	return map[string]float64{
		ModifierLateNight:      0.9,
		ModifierNoSupport:      0.8,
		ModifierTherapyEngaged: 1.1,
	}
}

func defaultAdaptation() AdaptationParams {
	return AdaptationParams{
		LearningRate:  0.1,
		MinSamples:    1,
		MaxAdjustment: 0.3,
	}
}

// DefaultConfigurations returns the built-in population tables. The
// general table always exists; higher-risk populations carry lower
// cutoffs so the same score classifies more severely.
func DefaultConfigurations() map[string]*Configuration {
	return map[string]*Configuration{
		GroupGeneral: {
			PopulationGroup: GroupGeneral,
			Base:            uniformTable(0.2, 0.4, 0.6, 0.75, 0.9),
			Modifiers:       defaultModifiers(),
			Adaptation:      defaultAdaptation(),
		},
		GroupHighRisk: {
			PopulationGroup: GroupHighRisk,
			Base:            uniformTable(0.15, 0.3, 0.5, 0.65, 0.8),
			Modifiers:       defaultModifiers(),
			Adaptation:      defaultAdaptation(),
		},
		GroupFirstEpisode: {
			PopulationGroup: GroupFirstEpisode,
			Base:            uniformTable(0.18, 0.35, 0.55, 0.7, 0.85),
			Modifiers:       defaultModifiers(),
			Adaptation:      defaultAdaptation(),
		},
		GroupChronicCondition: {
			PopulationGroup: GroupChronicCondition,
			Base:            uniformTable(0.22, 0.42, 0.62, 0.78, 0.92),
			Modifiers:       defaultModifiers(),
			Adaptation:      defaultAdaptation(),
		},
	}
}
