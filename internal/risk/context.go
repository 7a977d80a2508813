package risk

import (
	"fmt"
	"sort"
	"strings"
)

// Time-of-day categories used by contextual threshold modifiers.
const (
	TimeOfDayMorning   = "morning"
	TimeOfDayDay       = "day"
	TimeOfDayEvening   = "evening"
	TimeOfDayLateNight = "late_night"
)

// CrisisContext carries the situational facts that modulate risk for a
// single assessment. It is read-only during scoring.
type CrisisContext struct {
	TimeOfDay           string   `json:"time_of_day"`
	SupportAvailable    bool     `json:"support_available"`
	PriorEpisodes       int      `json:"prior_episodes"`
	TherapyEngaged      bool     `json:"therapy_engaged"`
	MedicationCompliant bool     `json:"medication_compliant"`
	RecentLifeEvents    []string `json:"recent_life_events,omitempty"`
}

// DefaultContext returns the context assumed when a caller provides none:
// daytime, support available, no history.
func DefaultContext() *CrisisContext {
	return &CrisisContext{
		TimeOfDay:        TimeOfDayDay,
		SupportAvailable: true,
	}
}

// Normalize fills unset fields with defaults and returns the context.
// A nil receiver yields a fresh default context.
func (c *CrisisContext) Normalize() *CrisisContext {
	if c == nil {
		return DefaultContext()
	}
	if c.TimeOfDay == "" {
		c.TimeOfDay = TimeOfDayDay
	}
	if c.PriorEpisodes < 0 {
		c.PriorEpisodes = 0
	}
	return c
}

// Signature produces a stable string for cache keys. Life events are
// sorted so logically-equal contexts hash identically.
func (c *CrisisContext) Signature() string {
	if c == nil {
		return "default"
	}
	events := append([]string(nil), c.RecentLifeEvents...)
	sort.Strings(events)
	return fmt.Sprintf("%s|%t|%d|%t|%t|%s",
		c.TimeOfDay,
		c.SupportAvailable,
		c.PriorEpisodes,
		c.TherapyEngaged,
		c.MedicationCompliant,
		strings.Join(events, ","),
	)
}
