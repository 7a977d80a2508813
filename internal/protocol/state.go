package protocol

import "time"

// Status is the lifecycle state of a protocol instance.
type Status string

const (
	StatusNotStarted          Status = "not_started"
	StatusActive              Status = "active"
	StatusPendingUserResponse Status = "pending_user_response"
	StatusPendingExternal     Status = "pending_external_action"
	StatusEscalated           Status = "escalated"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
	StatusFailed              Status = "failed"
)

// Terminal reports whether no further execution is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusEscalated, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Suspended reports whether the instance is waiting on an outcome and
// may only advance through Resume.
func (s Status) Suspended() bool {
	return s == StatusPendingUserResponse || s == StatusPendingExternal
}

// ActionStatus is the result status of a single executed action.
type ActionStatus string

const (
	ActionCompleted ActionStatus = "completed"
	ActionPending   ActionStatus = "pending"
	ActionFailed    ActionStatus = "failed"
)

// ActionResult records the outcome of one action execution. Output holds
// side-effect payloads for the caller (message bodies, resource data);
// Outcome, when set, drives the step transition.
type ActionResult struct {
	Kind    ActionKind     `json:"kind" dynamodbav:"kind"`
	Status  ActionStatus   `json:"status" dynamodbav:"status"`
	Outcome string         `json:"outcome,omitempty" dynamodbav:"outcome,omitempty"`
	Output  map[string]any `json:"output,omitempty" dynamodbav:"output,omitempty"`
	Error   string         `json:"error,omitempty" dynamodbav:"error,omitempty"`
}

// HistoryRecord is one step execution, appended in strict order.
type HistoryRecord struct {
	StepID     string         `json:"step_id" dynamodbav:"stepId"`
	ExecutedAt time.Time      `json:"executed_at" dynamodbav:"executedAt"`
	Results    []ActionResult `json:"results" dynamodbav:"results"`
}

// ProtocolState is the durable, resumable state of one protocol
// instance. Mutated only by the Executor, one mutation at a time per
// instance id.
type ProtocolState struct {
	InstanceID    string          `json:"instance_id" dynamodbav:"instanceId"`
	ProtocolID    string          `json:"protocol_id" dynamodbav:"protocolId"`
	UserID        string          `json:"user_id" dynamodbav:"userId"`
	SessionID     string          `json:"session_id,omitempty" dynamodbav:"sessionId,omitempty"`
	Status        Status          `json:"status" dynamodbav:"status"`
	CurrentStepID string          `json:"current_step_id" dynamodbav:"currentStepId"`
	History       []HistoryRecord `json:"history" dynamodbav:"history"`
	Variables     map[string]any  `json:"variables,omitempty" dynamodbav:"variables,omitempty"`
	StartedAt     time.Time       `json:"started_at" dynamodbav:"startedAt"`
	LastUpdatedAt time.Time       `json:"last_updated_at" dynamodbav:"lastUpdatedAt"`
	ExpiresAt     time.Time       `json:"expires_at" dynamodbav:"-"`
}

// Family returns the instance's protocol family.
func (s *ProtocolState) Family() string {
	return ProtocolFamily(s.ProtocolID)
}

// Expired reports whether the instance's TTL has passed.
func (s *ProtocolState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// PendingActions returns the results of the most recent step whose
// status is pending, for a messaging layer to act on.
func (s *ProtocolState) PendingActions() []ActionResult {
	if len(s.History) == 0 {
		return nil
	}
	last := s.History[len(s.History)-1]
	var pending []ActionResult
	for _, r := range last.Results {
		if r.Status == ActionPending {
			pending = append(pending, r)
		}
	}
	return pending
}
