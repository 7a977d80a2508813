package protocol

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/havenpoint/crisis-response-platform/internal/audit"
	"github.com/havenpoint/crisis-response-platform/internal/escalation"
	"github.com/havenpoint/crisis-response-platform/internal/observability/metrics"
	"github.com/havenpoint/crisis-response-platform/internal/risk"
	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

const defaultInstanceTTL = 24 * time.Hour

// Escalator is the dispatcher surface the executor needs.
type Escalator interface {
	Trigger(ctx context.Context, req escalation.Request) error
}

// Executor owns all ProtocolState mutation. Mutations are serialized per
// instance id; starts are serialized per (family, user) so concurrent
// starts cannot create duplicate active instances.
type Executor struct {
	catalog   *Catalog
	store     StateStore
	escalator Escalator
	logger    *logging.Logger
	metrics   *metrics.CrisisMetrics
	auditor   audit.Emitter
	tracer    trace.Tracer
	ttl       time.Duration
	now       func() time.Time

	locks [lockStripes]sync.Mutex
}

// lockStripes bounds the executor's lock table: keys are striped by
// hash, so memory stays constant no matter how many instances pass
// through a long-lived process.
const lockStripes = 128

// ExecutorOption customizes executor construction.
type ExecutorOption func(*Executor)

// WithInstanceTTL overrides the 24h instance expiry.
func WithInstanceTTL(ttl time.Duration) ExecutorOption {
	return func(e *Executor) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithExecutorClock overrides the time source, for tests.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(catalog *Catalog, store StateStore, escalator Escalator, m *metrics.CrisisMetrics, auditor audit.Emitter, logger *logging.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = logging.Default()
	}
	if store == nil {
		store = NewMemoryStateStore()
	}
	e := &Executor{
		catalog:   catalog,
		store:     store,
		escalator: escalator,
		logger:    logger.WithComponent("protocol-executor"),
		metrics:   m,
		auditor:   auditor,
		tracer:    otel.Tracer("crisis.internal.protocol"),
		ttl:       defaultInstanceTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Select returns the first catalog protocol triggered by the assessment,
// or nil when none match.
func (e *Executor) Select(assessment *risk.RiskAssessment) *InterventionProtocol {
	return e.catalog.Select(assessment)
}

// Start creates and runs a fresh instance, or returns the user's
// existing active instance for the protocol's family unmodified.
func (e *Executor) Start(ctx context.Context, proto *InterventionProtocol, assessment *risk.RiskAssessment, userID, sessionID string) (*ProtocolState, error) {
	if proto == nil {
		return nil, ErrProtocolNotFound
	}
	if _, ok := proto.Step(proto.InitialStep); !ok {
		return nil, fmt.Errorf("%w: %s declares %q", ErrUnknownInitialStep, proto.ID, proto.InitialStep)
	}

	unlock := e.lock("start:" + proto.Family() + ":" + userID)
	defer unlock()

	existing, err := e.activeInstance(ctx, proto.Family(), userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	ctx, span := e.tracer.Start(ctx, "protocol.start",
		trace.WithAttributes(attribute.String("protocol.id", proto.ID)))
	defer span.End()

	now := e.now()
	state := &ProtocolState{
		InstanceID:    uuid.NewString(),
		ProtocolID:    proto.ID,
		UserID:        userID,
		SessionID:     sessionID,
		Status:        StatusActive,
		CurrentStepID: proto.InitialStep,
		Variables:     assessmentSnapshot(assessment),
		StartedAt:     now,
		LastUpdatedAt: now,
		ExpiresAt:     now.Add(e.ttl),
	}

	if e.auditor != nil {
		e.auditor.Emit(audit.Event{
			Kind:       audit.EventProtocolStarted,
			UserID:     userID,
			SessionID:  sessionID,
			InstanceID: state.InstanceID,
			Payload:    map[string]any{"protocol_id": proto.ID},
		})
	}

	if err := e.runCurrentStep(ctx, proto, state); err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("protocol: persist instance %s: %w", state.InstanceID, err)
	}
	return state, nil
}

// ExecuteStep runs the current step of an active instance and persists
// the result. Suspended instances must advance through Resume; re-running
// a suspended step would replay its message output and side effects.
func (e *Executor) ExecuteStep(ctx context.Context, instanceID string) (*ProtocolState, error) {
	unlock := e.lock(instanceID)
	defer unlock()

	state, proto, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, instanceID, state.Status)
	}
	if state.Status.Suspended() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInstancePending, instanceID, state.Status)
	}

	if err := e.runCurrentStep(ctx, proto, state); err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("protocol: persist instance %s: %w", instanceID, err)
	}
	return state, nil
}

// Resume advances a suspended instance with the outcome of its pending
// actions (a user response, a timeout) and executes the next step.
func (e *Executor) Resume(ctx context.Context, instanceID, outcome, response string) (*ProtocolState, error) {
	unlock := e.lock(instanceID)
	defer unlock()

	state, proto, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, instanceID, state.Status)
	}

	if response != "" {
		state.Variables["last_response"] = response
	}

	step, ok := proto.Step(state.CurrentStepID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, state.CurrentStepID)
	}

	next, ok := resolveTransition(step, outcome)
	if !ok {
		e.finish(state)
	} else {
		state.CurrentStepID = next
		state.Status = StatusActive
		if err := e.runCurrentStep(ctx, proto, state); err != nil {
			return nil, err
		}
	}

	state.LastUpdatedAt = e.now()
	if err := e.store.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("protocol: persist instance %s: %w", instanceID, err)
	}
	return state, nil
}

// Cancel moves a non-terminal instance to cancelled.
func (e *Executor) Cancel(ctx context.Context, instanceID string) (*ProtocolState, error) {
	unlock := e.lock(instanceID)
	defer unlock()

	state, _, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, instanceID, state.Status)
	}

	state.Status = StatusCancelled
	state.LastUpdatedAt = e.now()
	if err := e.store.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("protocol: persist instance %s: %w", instanceID, err)
	}

	if e.auditor != nil {
		e.auditor.Emit(audit.Event{
			Kind:       audit.EventProtocolCancelled,
			UserID:     state.UserID,
			InstanceID: instanceID,
		})
	}
	return state, nil
}

// Get returns the instance, expired instances excluded.
func (e *Executor) Get(ctx context.Context, instanceID string) (*ProtocolState, error) {
	return e.store.Get(ctx, instanceID)
}

// ListForUser returns the user's non-expired instances.
func (e *Executor) ListForUser(ctx context.Context, userID string) ([]*ProtocolState, error) {
	return e.store.List(ctx, Filter{UserID: userID})
}

// runCurrentStep executes every action of the current step in order,
// appends the history record, and settles the instance status.
func (e *Executor) runCurrentStep(ctx context.Context, proto *InterventionProtocol, state *ProtocolState) error {
	step, ok := proto.Step(state.CurrentStepID)
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrUnknownStep, state.CurrentStepID, proto.ID)
	}

	ctx, span := e.tracer.Start(ctx, "protocol.execute_step",
		trace.WithAttributes(
			attribute.String("protocol.id", proto.ID),
			attribute.String("protocol.step", step.ID),
		))
	defer span.End()

	if state.Variables == nil {
		state.Variables = make(map[string]any)
	}

	results := make([]ActionResult, 0, len(step.Actions))
	failed := 0
	pendingStatus := Status("")
	for _, action := range step.Actions {
		handler, ok := actionHandlers[action.Kind]
		var result ActionResult
		if !ok {
			result = ActionResult{
				Kind:   action.Kind,
				Status: ActionFailed,
				Error:  fmt.Sprintf("unknown action kind %q", action.Kind),
			}
		} else {
			result = handler(ctx, e, state, action)
		}
		if result.Status == ActionFailed {
			failed++
		}
		if result.Status == ActionPending && pendingStatus == "" {
			pendingStatus = pendingStatusFor(action.Kind)
		}
		results = append(results, result)
	}

	now := e.now()
	state.History = append(state.History, HistoryRecord{
		StepID:     step.ID,
		ExecutedAt: now,
		Results:    results,
	})
	state.LastUpdatedAt = now

	switch {
	case failed == len(results):
		// A step with zero successful actions fails the instance.
		state.Status = StatusFailed
		if e.auditor != nil {
			e.auditor.Emit(audit.Event{
				Kind:       audit.EventProtocolFailed,
				UserID:     state.UserID,
				InstanceID: state.InstanceID,
				Payload:    map[string]any{"step_id": step.ID},
			})
		}
	case pendingStatus != "":
		state.Status = pendingStatus
	default:
		if next, ok := resolveTransition(step, OutcomeDefault); ok {
			state.CurrentStepID = next
			state.Status = StatusActive
		} else {
			e.finish(state)
		}
	}

	e.metrics.ObserveProtocolStep(proto.ID, string(state.Status))
	if e.auditor != nil {
		e.auditor.Emit(audit.Event{
			Kind:       audit.EventProtocolAdvanced,
			UserID:     state.UserID,
			InstanceID: state.InstanceID,
			Payload: map[string]any{
				"step_id": step.ID,
				"status":  string(state.Status),
			},
		})
	}
	return nil
}

// finish settles a terminal instance: escalated when the run triggered
// an escalation, completed otherwise.
func (e *Executor) finish(state *ProtocolState) {
	if escalated, _ := state.Variables["escalated"].(bool); escalated {
		state.Status = StatusEscalated
	} else {
		state.Status = StatusCompleted
	}
}

func (e *Executor) load(ctx context.Context, instanceID string) (*ProtocolState, *InterventionProtocol, error) {
	state, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	proto, err := e.catalog.Get(state.ProtocolID)
	if err != nil {
		return nil, nil, err
	}
	return state, proto, nil
}

func (e *Executor) activeInstance(ctx context.Context, family, userID string) (*ProtocolState, error) {
	states, err := e.store.List(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("protocol: list instances for user %s: %w", userID, err)
	}
	for _, state := range states {
		if state.Family() == family && !state.Status.Terminal() {
			return state, nil
		}
	}
	return nil, nil
}

func (e *Executor) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &e.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func resolveTransition(step ProtocolStep, outcome string) (string, bool) {
	if next, ok := step.Transitions[outcome]; ok {
		return next, true
	}
	if next, ok := step.Transitions[OutcomeDefault]; ok {
		return next, true
	}
	return "", false
}

func assessmentSnapshot(assessment *risk.RiskAssessment) map[string]any {
	vars := make(map[string]any)
	if assessment == nil {
		return vars
	}
	vars["assessment_id"] = assessment.ID
	vars["severity"] = string(assessment.Severity)
	vars["urgency"] = assessment.Urgency
	concerns := make([]any, 0, len(assessment.PrimaryConcerns))
	for _, c := range assessment.PrimaryConcerns {
		concerns = append(concerns, string(c))
	}
	vars["primary_concerns"] = concerns
	return vars
}
