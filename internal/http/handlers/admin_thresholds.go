package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/havenpoint/crisis-response-platform/internal/risk"
	"github.com/havenpoint/crisis-response-platform/internal/thresholds"
	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

// AdminThresholdHandler accepts clinician outcome feedback and runs
// threshold adaptation. JWT-protected.
type AdminThresholdHandler struct {
	classifier *risk.Classifier
	engine     *thresholds.Engine
	logger     *logging.Logger
}

func NewAdminThresholdHandler(classifier *risk.Classifier, engine *thresholds.Engine, logger *logging.Logger) *AdminThresholdHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminThresholdHandler{classifier: classifier, engine: engine, logger: logger}
}

// FeedbackRequest pairs an assessment with the clinically observed
// severity.
type FeedbackRequest struct {
	AssessmentID     string `json:"assessment_id"`
	ObservedSeverity string `json:"observed_severity"`
}

// FeedbackResponse reports whether adjustments were created.
type FeedbackResponse struct {
	AssessmentID     string `json:"assessment_id"`
	AssessedSeverity string `json:"assessed_severity"`
	ObservedSeverity string `json:"observed_severity"`
	Adjusted         bool   `json:"adjusted"`
}

// Feedback applies outcome feedback to the threshold engine.
// POST /admin/thresholds/feedback
func (h *AdminThresholdHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.AssessmentID == "" {
		jsonError(w, "assessment_id is required", http.StatusBadRequest)
		return
	}
	observed := risk.Severity(req.ObservedSeverity)
	if !observed.IsValid() {
		jsonError(w, "invalid observed_severity", http.StatusBadRequest)
		return
	}

	assessment := h.classifier.Lookup(req.AssessmentID)
	if assessment == nil {
		jsonError(w, "assessment not found or no longer cached", http.StatusNotFound)
		return
	}

	adjusted, err := h.engine.Adapt(r.Context(), assessment, observed, assessment.UserID)
	if err != nil {
		h.logger.Error("threshold adaptation failed",
			"assessment_id", req.AssessmentID, "error", err)
		jsonError(w, "threshold adaptation failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, FeedbackResponse{
		AssessmentID:     assessment.ID,
		AssessedSeverity: string(assessment.Severity),
		ObservedSeverity: string(observed),
		Adjusted:         adjusted,
	})
}
