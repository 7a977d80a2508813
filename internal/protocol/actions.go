package protocol

import (
	"context"
	"fmt"

	"github.com/havenpoint/crisis-response-platform/internal/escalation"
)

// actionHandler executes one action against the instance state. Handlers
// never abort sibling actions; failures are captured in the result.
type actionHandler func(ctx context.Context, ex *Executor, state *ProtocolState, action InterventionAction) ActionResult

// Static dispatch table, one handler per action tag.
var actionHandlers = map[ActionKind]actionHandler{
	ActionSendMessage:        handleSendMessage,
	ActionRequestUserInput:   handleRequestUserInput,
	ActionSuggestResource:    handleSuggestResource,
	ActionInitiateSafetyPlan: handleInitiateSafetyPlan,
	ActionTriggerEscalation:  handleTriggerEscalation,
	ActionUpdateState:        handleUpdateState,
	ActionWaitForResponse:    handleWaitForResponse,
	ActionLogEvent:           handleLogEvent,
}

func handleSendMessage(_ context.Context, _ *Executor, _ *ProtocolState, action InterventionAction) ActionResult {
	message, _ := action.Params["message"].(string)
	if message == "" {
		return ActionResult{
			Kind:   action.Kind,
			Status: ActionFailed,
			Error:  "send_message requires a message parameter",
		}
	}
	return ActionResult{
		Kind:   action.Kind,
		Status: ActionCompleted,
		Output: map[string]any{"message": message},
	}
}

func handleRequestUserInput(_ context.Context, _ *Executor, _ *ProtocolState, action InterventionAction) ActionResult {
	prompt, _ := action.Params["prompt"].(string)
	if prompt == "" {
		return ActionResult{
			Kind:   action.Kind,
			Status: ActionFailed,
			Error:  "request_user_input requires a prompt parameter",
		}
	}
	output := map[string]any{"prompt": prompt}
	if timeout, ok := action.Params["timeout_seconds"]; ok {
		output["timeout_seconds"] = timeout
	}
	return ActionResult{Kind: action.Kind, Status: ActionPending, Output: output}
}

func handleSuggestResource(_ context.Context, _ *Executor, _ *ProtocolState, action InterventionAction) ActionResult {
	resource, ok := action.Params["resource"]
	if !ok {
		return ActionResult{
			Kind:   action.Kind,
			Status: ActionFailed,
			Error:  "suggest_resource requires a resource parameter",
		}
	}
	return ActionResult{
		Kind:   action.Kind,
		Status: ActionCompleted,
		Output: map[string]any{"resource": resource},
	}
}

func handleInitiateSafetyPlan(_ context.Context, _ *Executor, state *ProtocolState, action InterventionAction) ActionResult {
	output := map[string]any{"safety_plan": true}
	if resources, ok := action.Params["resources"]; ok {
		output["resources"] = resources
	}
	state.Variables["safety_plan_initiated"] = true
	return ActionResult{Kind: action.Kind, Status: ActionCompleted, Output: output}
}

func handleTriggerEscalation(ctx context.Context, ex *Executor, state *ProtocolState, action InterventionAction) ActionResult {
	level, _ := action.Params["level"].(string)
	reason, _ := action.Params["reason"].(string)
	if reason == "" {
		reason = "protocol escalation"
	}

	req := escalation.Request{
		Level:      escalation.ParseLevel(level),
		Reason:     reason,
		UserID:     state.UserID,
		SessionID:  state.SessionID,
		InstanceID: state.InstanceID,
		ProtocolID: state.ProtocolID,
	}
	if id, ok := state.Variables["assessment_id"].(string); ok {
		req.AssessmentID = id
	}

	if ex.escalator != nil {
		if err := ex.escalator.Trigger(ctx, req); err != nil {
			return ActionResult{
				Kind:   action.Kind,
				Status: ActionFailed,
				Error:  fmt.Sprintf("escalation trigger: %v", err),
			}
		}
	}
	state.Variables["escalated"] = true
	return ActionResult{
		Kind:   action.Kind,
		Status: ActionCompleted,
		Output: map[string]any{"level": string(req.Level), "reason": reason},
	}
}

func handleUpdateState(_ context.Context, _ *Executor, state *ProtocolState, action InterventionAction) ActionResult {
	updates, ok := action.Params["set"].(map[string]any)
	if !ok {
		return ActionResult{
			Kind:   action.Kind,
			Status: ActionFailed,
			Error:  "update_state requires a set parameter",
		}
	}
	for k, v := range updates {
		state.Variables[k] = v
	}
	return ActionResult{
		Kind:   action.Kind,
		Status: ActionCompleted,
		Output: map[string]any{"updated": len(updates)},
	}
}

func handleWaitForResponse(_ context.Context, _ *Executor, _ *ProtocolState, action InterventionAction) ActionResult {
	output := map[string]any{}
	if timeout, ok := action.Params["timeout_seconds"]; ok {
		output["timeout_seconds"] = timeout
	}
	return ActionResult{Kind: action.Kind, Status: ActionPending, Output: output}
}

func handleLogEvent(_ context.Context, ex *Executor, state *ProtocolState, action InterventionAction) ActionResult {
	event, _ := action.Params["event"].(string)
	ex.logger.Info("protocol event",
		"event", event,
		"instance_id", state.InstanceID,
		"protocol_id", state.ProtocolID,
		"user_id", state.UserID,
	)
	return ActionResult{
		Kind:   action.Kind,
		Status: ActionCompleted,
		Output: map[string]any{"event": event},
	}
}

// pendingStatusFor maps a pending action kind onto the instance status
// it suspends into. User-facing prompts wait on the user; anything else
// waits on an external system.
func pendingStatusFor(kind ActionKind) Status {
	switch kind {
	case ActionRequestUserInput, ActionWaitForResponse:
		return StatusPendingUserResponse
	default:
		return StatusPendingExternal
	}
}
