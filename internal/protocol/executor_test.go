package protocol

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenpoint/crisis-response-platform/internal/escalation"
	"github.com/havenpoint/crisis-response-platform/internal/risk"
)

type fakeEscalator struct {
	mu       sync.Mutex
	requests []escalation.Request
}

func (f *fakeEscalator) Trigger(_ context.Context, req escalation.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeEscalator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestExecutor(t *testing.T, escalator Escalator, opts ...ExecutorOption) *Executor {
	t.Helper()
	catalog, err := BuiltinCatalog()
	require.NoError(t, err)
	return NewExecutor(catalog, NewMemoryStateStore(), escalator, nil, nil, nil, opts...)
}

func suicideAssessment() *risk.RiskAssessment {
	return &risk.RiskAssessment{
		ID:              "assess-1",
		UserID:          "user-1",
		Severity:        risk.SeverityCritical,
		Urgency:         0.9,
		PrimaryConcerns: []risk.RiskDomain{risk.DomainSuicide},
	}
}

func TestExecutorStartRunsInitialStep(t *testing.T) {
	ex := newTestExecutor(t, &fakeEscalator{})
	catalog, _ := BuiltinCatalog()
	proto, err := catalog.Get("suicide-risk.acute")
	require.NoError(t, err)

	state, err := ex.Start(context.Background(), proto, suicideAssessment(), "user-1", "sess-1")
	require.NoError(t, err)

	assert.Equal(t, StatusPendingUserResponse, state.Status)
	assert.Equal(t, "immediate-outreach", state.CurrentStepID)
	require.Len(t, state.History, 1)
	assert.Equal(t, "immediate-outreach", state.History[0].StepID)
	require.Len(t, state.History[0].Results, 3)
	assert.Equal(t, ActionCompleted, state.History[0].Results[0].Status)
	assert.Equal(t, ActionPending, state.History[0].Results[2].Status)
	assert.Equal(t, "assess-1", state.Variables["assessment_id"])
	assert.WithinDuration(t, state.StartedAt.Add(24*time.Hour), state.ExpiresAt, time.Second)

	pending := state.PendingActions()
	require.Len(t, pending, 1)
	assert.Equal(t, ActionRequestUserInput, pending[0].Kind)
}

func TestExecutorStartUnknownInitialStep(t *testing.T) {
	ex := newTestExecutor(t, nil)
	broken := &InterventionProtocol{
		ID:          "broken.proto",
		InitialStep: "missing",
		Steps: map[string]ProtocolStep{
			"start": {ID: "start", Actions: []InterventionAction{{Kind: ActionLogEvent}}},
		},
	}
	_, err := ex.Start(context.Background(), broken, suicideAssessment(), "user-1", "")
	assert.ErrorIs(t, err, ErrUnknownInitialStep)
}

func TestExecutorOneActiveInstancePerFamily(t *testing.T) {
	ex := newTestExecutor(t, &fakeEscalator{})
	catalog, _ := BuiltinCatalog()
	proto, _ := catalog.Get("suicide-risk.acute")
	ctx := context.Background()

	first, err := ex.Start(ctx, proto, suicideAssessment(), "user-1", "sess-1")
	require.NoError(t, err)
	second, err := ex.Start(ctx, proto, suicideAssessment(), "user-1", "sess-2")
	require.NoError(t, err)

	assert.Equal(t, first.InstanceID, second.InstanceID)
	assert.Len(t, second.History, 1, "existing instance must be returned unmodified")

	// A different user gets their own instance.
	other, err := ex.Start(ctx, proto, suicideAssessment(), "user-2", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.InstanceID, other.InstanceID)
}

func TestExecutorConcurrentStartsSingleInstance(t *testing.T) {
	ex := newTestExecutor(t, &fakeEscalator{})
	catalog, _ := BuiltinCatalog()
	proto, _ := catalog.Get("suicide-risk.acute")

	const goroutines = 16
	ids := make([]string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state, err := ex.Start(context.Background(), proto, suicideAssessment(), "user-1", "")
			require.NoError(t, err)
			ids[i] = state.InstanceID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
}

func TestExecutorConcurrentUsersGetIsolatedInstances(t *testing.T) {
	ex := newTestExecutor(t, &fakeEscalator{})
	catalog, _ := BuiltinCatalog()
	proto, _ := catalog.Get("suicide-risk.acute")

	// More users than lock stripes, so distinct keys share mutexes.
	const users = 2 * lockStripes
	ids := make([]string, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state, err := ex.Start(context.Background(), proto, suicideAssessment(), fmt.Sprintf("user-%d", i), "")
			require.NoError(t, err)
			ids[i] = state.InstanceID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, users)
	for _, id := range ids {
		assert.False(t, seen[id], "instance ids must be distinct per user")
		seen[id] = true
	}

	wg = sync.WaitGroup{}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := ex.Cancel(context.Background(), id)
			require.NoError(t, err)
		}(id)
	}
	wg.Wait()
}

func TestExecutorExecuteStepRejectsSuspendedInstance(t *testing.T) {
	escalator := &fakeEscalator{}
	ex := newTestExecutor(t, escalator)
	catalog, _ := BuiltinCatalog()
	proto, _ := catalog.Get("suicide-risk.acute")
	ctx := context.Background()

	state, err := ex.Start(ctx, proto, suicideAssessment(), "user-1", "")
	require.NoError(t, err)
	require.Equal(t, StatusPendingUserResponse, state.Status)
	sentBefore := len(state.History)

	_, err = ex.ExecuteStep(ctx, state.InstanceID)
	assert.ErrorIs(t, err, ErrInstancePending)

	// The suspended step was not replayed.
	state, err = ex.Get(ctx, state.InstanceID)
	require.NoError(t, err)
	assert.Len(t, state.History, sentBefore)
	assert.Equal(t, 0, escalator.count())

	// Resume still advances it.
	state, err = ex.Resume(ctx, state.InstanceID, OutcomeDeniedDanger, "I'm safe")
	require.NoError(t, err)
	assert.Equal(t, "safety-planning", state.CurrentStepID)
}

func TestExecutorResumeConfirmedDangerEscalates(t *testing.T) {
	escalator := &fakeEscalator{}
	ex := newTestExecutor(t, escalator)
	catalog, _ := BuiltinCatalog()
	proto, _ := catalog.Get("suicide-risk.acute")
	ctx := context.Background()

	state, err := ex.Start(ctx, proto, suicideAssessment(), "user-1", "sess-1")
	require.NoError(t, err)

	state, err = ex.Resume(ctx, state.InstanceID, OutcomeConfirmedDanger, "yes I am")
	require.NoError(t, err)

	assert.Equal(t, StatusEscalated, state.Status)
	assert.Equal(t, "escalate-now", state.CurrentStepID)
	assert.Equal(t, "yes I am", state.Variables["last_response"])
	require.Len(t, state.History, 2)

	require.Equal(t, 1, escalator.count())
	req := escalator.requests[0]
	assert.Equal(t, escalation.LevelCritical, req.Level)
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, "assess-1", req.AssessmentID)
	assert.Equal(t, state.InstanceID, req.InstanceID)
}

func TestExecutorResumeDeniedDangerContinues(t *testing.T) {
	ex := newTestExecutor(t, &fakeEscalator{})
	catalog, _ := BuiltinCatalog()
	proto, _ := catalog.Get("suicide-risk.acute")
	ctx := context.Background()

	state, err := ex.Start(ctx, proto, suicideAssessment(), "user-1", "")
	require.NoError(t, err)

	state, err = ex.Resume(ctx, state.InstanceID, OutcomeDeniedDanger, "no")
	require.NoError(t, err)

	assert.Equal(t, "safety-planning", state.CurrentStepID)
	assert.Equal(t, StatusPendingUserResponse, state.Status)
	assert.Equal(t, true, state.Variables["safety_plan_initiated"])

	// Timing out of safety planning moves to the follow-up step, which
	// is terminal and never escalated.
	state, err = ex.Resume(ctx, state.InstanceID, OutcomeTimeout, "")
	require.NoError(t, err)
	assert.Equal(t, "follow-up", state.CurrentStepID)
	assert.Equal(t, StatusCompleted, state.Status)
	require.Len(t, state.History, 3)
}

func TestExecutorResumeUnknownOutcomeFallsBackToDefault(t *testing.T) {
	ex := newTestExecutor(t, &fakeEscalator{})
	catalog, _ := BuiltinCatalog()
	proto, _ := catalog.Get("suicide-risk.acute")
	ctx := context.Background()

	state, err := ex.Start(ctx, proto, suicideAssessment(), "user-1", "")
	require.NoError(t, err)

	state, err = ex.Resume(ctx, state.InstanceID, "something_unexpected", "")
	require.NoError(t, err)
	assert.Equal(t, "safety-planning", state.CurrentStepID)
}

func TestExecutorHistoryStrictlyOrdered(t *testing.T) {
	ex := newTestExecutor(t, &fakeEscalator{})
	catalog, _ := BuiltinCatalog()
	proto, _ := catalog.Get("suicide-risk.acute")
	ctx := context.Background()

	state, err := ex.Start(ctx, proto, suicideAssessment(), "user-1", "")
	require.NoError(t, err)
	state, err = ex.Resume(ctx, state.InstanceID, OutcomeDeniedDanger, "")
	require.NoError(t, err)
	state, err = ex.Resume(ctx, state.InstanceID, OutcomeDefault, "")
	require.NoError(t, err)

	require.Len(t, state.History, 3)
	for i := 1; i < len(state.History); i++ {
		assert.False(t, state.History[i].ExecutedAt.Before(state.History[i-1].ExecutedAt))
	}
	assert.Equal(t, []string{"immediate-outreach", "safety-planning", "follow-up"},
		[]string{state.History[0].StepID, state.History[1].StepID, state.History[2].StepID})
}

func TestExecutorCancel(t *testing.T) {
	ex := newTestExecutor(t, &fakeEscalator{})
	catalog, _ := BuiltinCatalog()
	proto, _ := catalog.Get("suicide-risk.acute")
	ctx := context.Background()

	state, err := ex.Start(ctx, proto, suicideAssessment(), "user-1", "")
	require.NoError(t, err)

	cancelled, err := ex.Cancel(ctx, state.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// Terminal instances reject further mutation.
	_, err = ex.Resume(ctx, state.InstanceID, OutcomeDefault, "")
	assert.ErrorIs(t, err, ErrInstanceTerminal)
	_, err = ex.Cancel(ctx, state.InstanceID)
	assert.ErrorIs(t, err, ErrInstanceTerminal)

	// And the family slot is free again.
	fresh, err := ex.Start(ctx, proto, suicideAssessment(), "user-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, state.InstanceID, fresh.InstanceID)
}

func TestExecutorCancelUnknownInstance(t *testing.T) {
	ex := newTestExecutor(t, nil)
	_, err := ex.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestExecutorSingleMessageStepSemantics(t *testing.T) {
	// A one-action send-message step completes immediately; whether the
	// instance stays active depends on the presence of a default
	// transition.
	withNext := &InterventionProtocol{
		ID:          "single.with-next",
		InitialStep: "s1",
		Trigger:     Trigger{MinSeverity: risk.SeverityLow, Domains: []risk.RiskDomain{risk.DomainTrauma}},
		Steps: map[string]ProtocolStep{
			"s1": {
				ID:          "s1",
				Actions:     []InterventionAction{{Kind: ActionSendMessage, Params: map[string]any{"message": "hello"}}},
				Transitions: map[string]string{OutcomeDefault: "s2"},
			},
			"s2": {
				ID:      "s2",
				Actions: []InterventionAction{{Kind: ActionSendMessage, Params: map[string]any{"message": "again"}}},
			},
		},
	}
	terminal := &InterventionProtocol{
		ID:          "single.terminal",
		InitialStep: "s1",
		Trigger:     Trigger{MinSeverity: risk.SeverityLow, Domains: []risk.RiskDomain{risk.DomainTrauma}},
		Steps: map[string]ProtocolStep{
			"s1": {
				ID:      "s1",
				Actions: []InterventionAction{{Kind: ActionSendMessage, Params: map[string]any{"message": "hello"}}},
			},
		},
	}
	catalog, err := NewCatalog(withNext, terminal)
	require.NoError(t, err)
	ex := NewExecutor(catalog, NewMemoryStateStore(), nil, nil, nil, nil)
	ctx := context.Background()

	state, err := ex.Start(ctx, withNext, nil, "user-1", "")
	require.NoError(t, err)
	require.Len(t, state.History, 1)
	assert.Equal(t, ActionCompleted, state.History[0].Results[0].Status)
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, "s2", state.CurrentStepID)

	state, err = ex.Start(ctx, terminal, nil, "user-2", "")
	require.NoError(t, err)
	require.Len(t, state.History, 1)
	assert.Equal(t, StatusCompleted, state.Status)
}

func TestExecutorStepWithZeroSuccessfulActionsFails(t *testing.T) {
	proto := &InterventionProtocol{
		ID:          "broken.actions",
		InitialStep: "s1",
		Trigger:     Trigger{MinSeverity: risk.SeverityLow, Domains: []risk.RiskDomain{risk.DomainTrauma}},
		Steps: map[string]ProtocolStep{
			"s1": {
				ID: "s1",
				Actions: []InterventionAction{
					{Kind: ActionSendMessage},               // missing message param
					{Kind: ActionKind("not_a_real_action")}, // unknown kind
					{Kind: ActionUpdateState},               // missing set param
				},
			},
		},
	}
	catalog, err := NewCatalog(proto)
	require.NoError(t, err)
	ex := NewExecutor(catalog, NewMemoryStateStore(), nil, nil, nil, nil)

	state, err := ex.Start(context.Background(), proto, nil, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	require.Len(t, state.History, 1)
	for _, result := range state.History[0].Results {
		assert.Equal(t, ActionFailed, result.Status)
		assert.NotEmpty(t, result.Error)
	}
}

func TestExecutorPartialActionFailureDoesNotFailStep(t *testing.T) {
	proto := &InterventionProtocol{
		ID:          "partial.failure",
		InitialStep: "s1",
		Trigger:     Trigger{MinSeverity: risk.SeverityLow, Domains: []risk.RiskDomain{risk.DomainTrauma}},
		Steps: map[string]ProtocolStep{
			"s1": {
				ID: "s1",
				Actions: []InterventionAction{
					{Kind: ActionSendMessage}, // fails, missing param
					{Kind: ActionSendMessage, Params: map[string]any{"message": "still sent"}},
				},
			},
		},
	}
	catalog, err := NewCatalog(proto)
	require.NoError(t, err)
	ex := NewExecutor(catalog, NewMemoryStateStore(), nil, nil, nil, nil)

	state, err := ex.Start(context.Background(), proto, nil, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, ActionFailed, state.History[0].Results[0].Status)
	assert.Equal(t, ActionCompleted, state.History[0].Results[1].Status)
}

func TestExecutorStateResumableAcrossRestart(t *testing.T) {
	store := NewMemoryStateStore()
	catalog, _ := BuiltinCatalog()
	ctx := context.Background()

	first := NewExecutor(catalog, store, &fakeEscalator{}, nil, nil, nil)
	proto, _ := catalog.Get("self-harm.support")
	assessment := &risk.RiskAssessment{
		ID:              "assess-2",
		Severity:        risk.SeverityMedium,
		PrimaryConcerns: []risk.RiskDomain{risk.DomainSelfHarm},
	}
	state, err := first.Start(ctx, proto, assessment, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, "coping", state.CurrentStepID)

	// A new executor over the same store picks the instance back up.
	second := NewExecutor(catalog, store, &fakeEscalator{}, nil, nil, nil)
	state, err = second.ExecuteStep(ctx, state.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingUserResponse, state.Status)

	state, err = second.Resume(ctx, state.InstanceID, OutcomeTimeout, "")
	require.NoError(t, err)
	assert.Equal(t, "gentle-close", state.CurrentStepID)
	assert.Equal(t, StatusCompleted, state.Status)
}

func TestExecutorListForUser(t *testing.T) {
	ex := newTestExecutor(t, &fakeEscalator{})
	catalog, _ := BuiltinCatalog()
	suicide, _ := catalog.Get("suicide-risk.acute")
	selfHarm, _ := catalog.Get("self-harm.support")
	ctx := context.Background()

	_, err := ex.Start(ctx, suicide, suicideAssessment(), "user-1", "")
	require.NoError(t, err)
	_, err = ex.Start(ctx, selfHarm, &risk.RiskAssessment{
		ID:              "assess-3",
		Severity:        risk.SeverityMedium,
		PrimaryConcerns: []risk.RiskDomain{risk.DomainSelfHarm},
	}, "user-1", "")
	require.NoError(t, err)

	states, err := ex.ListForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, states, 2)

	states, err = ex.ListForUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, states)
}
