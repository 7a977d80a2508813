package protocol

import (
	"fmt"

	"github.com/havenpoint/crisis-response-platform/internal/risk"
)

// Outcome labels produced by actions and user responses.
const (
	OutcomeTimeout         = "timeout"
	OutcomeConfirmedDanger = "user_confirms_immediate_danger"
	OutcomeDeniedDanger    = "user_denies_danger"
)

// Catalog holds the loaded protocol set. Immutable after construction;
// selection order is the registration order.
type Catalog struct {
	protocols []*InterventionProtocol
	byID      map[string]*InterventionProtocol
}

// NewCatalog validates and indexes the given protocols.
func NewCatalog(protocols ...*InterventionProtocol) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*InterventionProtocol, len(protocols))}
	for _, p := range protocols {
		if err := validateProtocol(p); err != nil {
			return nil, err
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("protocol: duplicate protocol id %q", p.ID)
		}
		c.protocols = append(c.protocols, p)
		c.byID[p.ID] = p
	}
	return c, nil
}

// Select returns the first protocol whose trigger matches the
// assessment, or nil. Deterministic for identical assessments.
func (c *Catalog) Select(assessment *risk.RiskAssessment) *InterventionProtocol {
	for _, p := range c.protocols {
		if p.Trigger.Matches(assessment) {
			return p
		}
	}
	return nil
}

// Get returns the protocol with the given id.
func (c *Catalog) Get(id string) (*InterventionProtocol, error) {
	p, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProtocolNotFound, id)
	}
	return p, nil
}

// Protocols returns the catalog contents in selection order.
func (c *Catalog) Protocols() []*InterventionProtocol {
	return c.protocols
}

func validateProtocol(p *InterventionProtocol) error {
	if p.ID == "" {
		return fmt.Errorf("protocol: protocol id required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("protocol: %s has no steps", p.ID)
	}
	if _, ok := p.Steps[p.InitialStep]; !ok {
		return fmt.Errorf("%w: %s declares initial step %q", ErrUnknownInitialStep, p.ID, p.InitialStep)
	}
	for stepID, step := range p.Steps {
		if len(step.Actions) == 0 {
			return fmt.Errorf("protocol: %s step %q has no actions", p.ID, stepID)
		}
		for outcome, next := range step.Transitions {
			if _, ok := p.Steps[next]; !ok {
				return fmt.Errorf("protocol: %s step %q transition %q targets unknown step %q", p.ID, stepID, outcome, next)
			}
		}
	}
	return nil
}

// Crisis resource data attached to suggest-resource and safety-plan
// actions. Mirrors the recommendation builder's resources.
var (
	resourceLifeline = map[string]any{
		"name":    "988 Suicide & Crisis Lifeline",
		"contact": "call or text 988",
		"url":     "https://988lifeline.org",
	}
	resourceCrisisText = map[string]any{
		"name":    "Crisis Text Line",
		"contact": "text HOME to 741741",
		"url":     "https://www.crisistextline.org",
	}
	resourceSAMHSA = map[string]any{
		"name":    "SAMHSA National Helpline",
		"contact": "1-800-662-4357",
		"url":     "https://www.samhsa.gov/find-help/national-helpline",
	}
)

// BuiltinCatalog returns the standing protocol set. Order matters:
// suicide outranks violence outranks self-harm outranks substance use.
func BuiltinCatalog() (*Catalog, error) {
	return NewCatalog(
		suicideRiskProtocol(),
		violenceRiskProtocol(),
		selfHarmProtocol(),
		substanceAbuseProtocol(),
	)
}

func suicideRiskProtocol() *InterventionProtocol {
	return &InterventionProtocol{
		ID:   "suicide-risk.acute",
		Name: "Acute Suicide Risk Response",
		Trigger: Trigger{
			MinSeverity: risk.SeverityHigh,
			Domains:     []risk.RiskDomain{risk.DomainSuicide},
		},
		InitialStep: "immediate-outreach",
		Steps: map[string]ProtocolStep{
			"immediate-outreach": {
				ID: "immediate-outreach",
				Actions: []InterventionAction{
					{Kind: ActionSendMessage, Params: map[string]any{
						"message": "I'm really concerned about what you've shared. You deserve support right now, and you don't have to face this alone.",
					}},
					{Kind: ActionSuggestResource, Params: map[string]any{"resource": resourceLifeline}},
					{Kind: ActionRequestUserInput, Params: map[string]any{
						"prompt":          "Are you in immediate danger right now?",
						"timeout_seconds": float64(300),
					}},
				},
				Transitions: map[string]string{
					OutcomeConfirmedDanger: "escalate-now",
					OutcomeTimeout:         "escalate-now",
					OutcomeDeniedDanger:    "safety-planning",
					OutcomeDefault:         "safety-planning",
				},
			},
			"escalate-now": {
				ID: "escalate-now",
				Actions: []InterventionAction{
					{Kind: ActionTriggerEscalation, Params: map[string]any{
						"level":  "critical",
						"reason": "user confirmed immediate danger or did not respond",
					}},
					{Kind: ActionLogEvent, Params: map[string]any{"event": "crisis_escalated"}},
				},
			},
			"safety-planning": {
				ID: "safety-planning",
				Actions: []InterventionAction{
					{Kind: ActionInitiateSafetyPlan, Params: map[string]any{
						"resources": []any{resourceLifeline, resourceCrisisText},
					}},
					{Kind: ActionUpdateState, Params: map[string]any{
						"set": map[string]any{"safety_plan_started": true},
					}},
					{Kind: ActionWaitForResponse, Params: map[string]any{"timeout_seconds": float64(900)}},
				},
				Transitions: map[string]string{
					OutcomeTimeout: "follow-up",
					OutcomeDefault: "follow-up",
				},
			},
			"follow-up": {
				ID: "follow-up",
				Actions: []InterventionAction{
					{Kind: ActionSendMessage, Params: map[string]any{
						"message": "Thank you for working through this. The 988 Lifeline is available any time, day or night.",
					}},
					{Kind: ActionLogEvent, Params: map[string]any{"event": "safety_plan_follow_up"}},
				},
			},
		},
	}
}

func violenceRiskProtocol() *InterventionProtocol {
	return &InterventionProtocol{
		ID:   "violence-risk.assessment",
		Name: "Violence Risk Response",
		Trigger: Trigger{
			MinSeverity: risk.SeverityHigh,
			Domains:     []risk.RiskDomain{risk.DomainViolence},
		},
		InitialStep: "assess-threat",
		Steps: map[string]ProtocolStep{
			"assess-threat": {
				ID: "assess-threat",
				Actions: []InterventionAction{
					{Kind: ActionSendMessage, Params: map[string]any{
						"message": "It sounds like you're carrying a lot of anger right now. I want to understand what's happening.",
					}},
					{Kind: ActionRequestUserInput, Params: map[string]any{
						"prompt":          "Are you thinking about hurting someone right now?",
						"timeout_seconds": float64(300),
					}},
				},
				Transitions: map[string]string{
					OutcomeConfirmedDanger: "notify",
					OutcomeTimeout:         "notify",
					OutcomeDeniedDanger:    "de-escalate",
					OutcomeDefault:         "de-escalate",
				},
			},
			"notify": {
				ID: "notify",
				Actions: []InterventionAction{
					{Kind: ActionTriggerEscalation, Params: map[string]any{
						"level":  "high",
						"reason": "violence risk confirmed or unresponsive",
					}},
					{Kind: ActionLogEvent, Params: map[string]any{"event": "violence_risk_escalated"}},
				},
			},
			"de-escalate": {
				ID: "de-escalate",
				Actions: []InterventionAction{
					{Kind: ActionSendMessage, Params: map[string]any{
						"message": "Let's slow things down together. Strong feelings pass, and there are people who can help you work through this safely.",
					}},
					{Kind: ActionSuggestResource, Params: map[string]any{"resource": resourceLifeline}},
				},
			},
		},
	}
}

func selfHarmProtocol() *InterventionProtocol {
	return &InterventionProtocol{
		ID:   "self-harm.support",
		Name: "Self-Harm Support",
		Trigger: Trigger{
			MinSeverity: risk.SeverityMedium,
			Domains:     []risk.RiskDomain{risk.DomainSelfHarm},
		},
		InitialStep: "reach-out",
		Steps: map[string]ProtocolStep{
			"reach-out": {
				ID: "reach-out",
				Actions: []InterventionAction{
					{Kind: ActionSendMessage, Params: map[string]any{
						"message": "I hear how much pain you're in. Hurting yourself doesn't make you weak, and support is available.",
					}},
					{Kind: ActionSuggestResource, Params: map[string]any{"resource": resourceCrisisText}},
					{Kind: ActionUpdateState, Params: map[string]any{
						"set": map[string]any{"self_harm_outreach": true},
					}},
				},
				Transitions: map[string]string{OutcomeDefault: "coping"},
			},
			"coping": {
				ID: "coping",
				Actions: []InterventionAction{
					{Kind: ActionSendMessage, Params: map[string]any{
						"message": "When the urge feels strong, holding ice, intense exercise, or calling someone you trust can help it pass.",
					}},
					{Kind: ActionWaitForResponse, Params: map[string]any{"timeout_seconds": float64(900)}},
				},
				Transitions: map[string]string{
					OutcomeTimeout: "gentle-close",
					OutcomeDefault: "gentle-close",
				},
			},
			"gentle-close": {
				ID: "gentle-close",
				Actions: []InterventionAction{
					{Kind: ActionSendMessage, Params: map[string]any{
						"message": "You reached out, and that matters. The Crisis Text Line is there whenever you need it.",
					}},
					{Kind: ActionLogEvent, Params: map[string]any{"event": "self_harm_support_completed"}},
				},
			},
		},
	}
}

func substanceAbuseProtocol() *InterventionProtocol {
	return &InterventionProtocol{
		ID:   "substance-abuse.check-in",
		Name: "Substance Use Check-In",
		Trigger: Trigger{
			MinSeverity: risk.SeverityMedium,
			Domains:     []risk.RiskDomain{risk.DomainSubstanceAbuse},
		},
		InitialStep: "check-in",
		Steps: map[string]ProtocolStep{
			"check-in": {
				ID: "check-in",
				Actions: []InterventionAction{
					{Kind: ActionSendMessage, Params: map[string]any{
						"message": "Relapse and cravings are part of recovery for many people, not a failure. How are you holding up right now?",
					}},
					{Kind: ActionRequestUserInput, Params: map[string]any{
						"prompt":          "Would you like help finding support near you?",
						"timeout_seconds": float64(600),
					}},
				},
				Transitions: map[string]string{
					OutcomeTimeout: "resources",
					OutcomeDefault: "resources",
				},
			},
			"resources": {
				ID: "resources",
				Actions: []InterventionAction{
					{Kind: ActionSuggestResource, Params: map[string]any{"resource": resourceSAMHSA}},
					{Kind: ActionLogEvent, Params: map[string]any{"event": "substance_use_check_in_completed"}},
				},
			},
		},
	}
}
