package crisis

import (
	"context"
	"errors"
	"fmt"

	"github.com/havenpoint/crisis-response-platform/internal/escalation"
	"github.com/havenpoint/crisis-response-platform/internal/protocol"
	"github.com/havenpoint/crisis-response-platform/internal/risk"
	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

// ErrEmptyText rejects assessment requests with no text at all.
var ErrEmptyText = errors.New("crisis: text is required")

// Service ties the classifier, the protocol executor, and the
// escalation dispatcher into the single entry point transports call.
type Service struct {
	classifier *risk.Classifier
	executor   *protocol.Executor
	dispatcher *escalation.Dispatcher
	logger     *logging.Logger
}

// Result is one assessment plus whatever protocol work it triggered.
type Result struct {
	Assessment     *risk.RiskAssessment    `json:"assessment"`
	Protocol       *protocol.ProtocolState `json:"protocol,omitempty"`
	PendingActions []protocol.ActionResult `json:"pending_actions,omitempty"`
}

func NewService(classifier *risk.Classifier, executor *protocol.Executor, dispatcher *escalation.Dispatcher, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		classifier: classifier,
		executor:   executor,
		dispatcher: dispatcher,
		logger:     logger.WithComponent("crisis-service"),
	}
}

// Assess scores the text, classifies severity, and when escalation is
// required starts (or continues) the matching intervention protocol and
// dispatches a direct escalation for imminent-level risk. Callers always
// get an assessment back unless the input itself is invalid.
func (s *Service) Assess(ctx context.Context, text string, cc *risk.CrisisContext, userID, sessionID string) (*Result, error) {
	assessment, err := s.classifier.Assess(ctx, text, cc, userID)
	if err != nil {
		return nil, err
	}

	result := &Result{Assessment: assessment}
	if !assessment.EscalationRequired {
		return result, nil
	}

	proto := s.executor.Select(assessment)
	if proto == nil {
		// Escalation without a matching protocol still notifies.
		s.escalateDirect(ctx, assessment, sessionID)
		return result, nil
	}

	state, err := s.executor.Start(ctx, proto, assessment, userID, sessionID)
	if err != nil {
		// The assessment stands even when protocol startup fails.
		s.logger.Error("protocol start failed",
			"protocol_id", proto.ID,
			"user_id", userID,
			"error", err,
		)
		s.escalateDirect(ctx, assessment, sessionID)
		return result, nil
	}

	result.Protocol = state
	result.PendingActions = state.PendingActions()

	if assessment.Severity == risk.SeverityImminent {
		s.escalateDirect(ctx, assessment, sessionID)
	}
	return result, nil
}

// Respond advances a suspended protocol instance with a user response.
func (s *Service) Respond(ctx context.Context, instanceID, outcome, response string) (*protocol.ProtocolState, error) {
	if outcome == "" {
		outcome = protocol.OutcomeDefault
	}
	return s.executor.Resume(ctx, instanceID, outcome, response)
}

// Cancel terminates an active protocol instance.
func (s *Service) Cancel(ctx context.Context, instanceID string) (*protocol.ProtocolState, error) {
	return s.executor.Cancel(ctx, instanceID)
}

// Instance returns one protocol instance.
func (s *Service) Instance(ctx context.Context, instanceID string) (*protocol.ProtocolState, error) {
	return s.executor.Get(ctx, instanceID)
}

// UserInstances returns a user's non-expired protocol instances.
func (s *Service) UserInstances(ctx context.Context, userID string) ([]*protocol.ProtocolState, error) {
	return s.executor.ListForUser(ctx, userID)
}

func (s *Service) escalateDirect(ctx context.Context, assessment *risk.RiskAssessment, sessionID string) {
	if s.dispatcher == nil {
		return
	}
	level := escalation.LevelHigh
	if assessment.Severity == risk.SeverityImminent {
		level = escalation.LevelCritical
	}
	req := escalation.Request{
		Level:        level,
		Reason:       fmt.Sprintf("%s risk assessed", assessment.Severity),
		UserID:       assessment.UserID,
		SessionID:    sessionID,
		AssessmentID: assessment.ID,
	}
	if err := s.dispatcher.Trigger(ctx, req); err != nil {
		s.logger.Error("direct escalation failed", "error", err)
	}
}
