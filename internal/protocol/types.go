package protocol

import (
	"errors"
	"strings"

	"github.com/havenpoint/crisis-response-platform/internal/risk"
)

// ActionKind is the closed set of intervention action tags. Actions are
// dispatched through a static handler table, never by reflection.
type ActionKind string

const (
	ActionSendMessage        ActionKind = "send_message"
	ActionRequestUserInput   ActionKind = "request_user_input"
	ActionSuggestResource    ActionKind = "suggest_resource"
	ActionInitiateSafetyPlan ActionKind = "initiate_safety_plan"
	ActionTriggerEscalation  ActionKind = "trigger_escalation"
	ActionUpdateState        ActionKind = "update_state"
	ActionWaitForResponse    ActionKind = "wait_for_response"
	ActionLogEvent           ActionKind = "log_event"
)

var (
	ErrProtocolNotFound   = errors.New("protocol: protocol not found")
	ErrInstanceNotFound   = errors.New("protocol: instance not found")
	ErrUnknownInitialStep = errors.New("protocol: unknown initial step")
	ErrUnknownStep        = errors.New("protocol: unknown step")
	ErrInstanceTerminal   = errors.New("protocol: instance is in a terminal status")
	ErrInstancePending    = errors.New("protocol: instance is awaiting an outcome")
)

// InterventionAction is one tagged action within a step. Params carry
// the action-specific payload (message text, resource data, escalation
// level, variable updates).
type InterventionAction struct {
	Kind   ActionKind     `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
}

// ProtocolStep is a node in a protocol's step graph. Transitions map an
// outcome label to the next step id; a label absent from the table falls
// back to "default", and a step with no applicable transition is terminal.
type ProtocolStep struct {
	ID          string               `json:"id"`
	Actions     []InterventionAction `json:"actions"`
	Transitions map[string]string    `json:"transitions,omitempty"`
}

// OutcomeDefault is the fallback transition label.
const OutcomeDefault = "default"

// Trigger is a protocol's activation predicate: minimum severity plus at
// least one matching primary concern.
type Trigger struct {
	MinSeverity risk.Severity     `json:"min_severity"`
	Domains     []risk.RiskDomain `json:"domains"`
}

// Matches reports whether the assessment satisfies the trigger.
func (t Trigger) Matches(assessment *risk.RiskAssessment) bool {
	if assessment == nil {
		return false
	}
	if !assessment.Severity.AtLeast(t.MinSeverity) {
		return false
	}
	for _, domain := range t.Domains {
		for _, concern := range assessment.PrimaryConcerns {
			if concern == domain {
				return true
			}
		}
	}
	return false
}

// InterventionProtocol is an immutable step graph loaded once from the
// catalog and shared across all requests.
type InterventionProtocol struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Trigger     Trigger                 `json:"trigger"`
	InitialStep string                  `json:"initial_step"`
	Steps       map[string]ProtocolStep `json:"steps"`
}

// Family is the protocol's grouping key for the one-active-instance
// invariant: the id segment before the first dot, or the whole id.
// "suicide-risk.imminent" and "suicide-risk.high" share a family.
func (p *InterventionProtocol) Family() string {
	if i := strings.Index(p.ID, "."); i > 0 {
		return p.ID[:i]
	}
	return p.ID
}

// Step returns the named step.
func (p *InterventionProtocol) Step(id string) (ProtocolStep, bool) {
	step, ok := p.Steps[id]
	return step, ok
}

// ProtocolFamily derives the family from a raw protocol id, for callers
// that hold an id without the catalog entry.
func ProtocolFamily(protocolID string) string {
	if i := strings.Index(protocolID, "."); i > 0 {
		return protocolID[:i]
	}
	return protocolID
}
