package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/caretide/priorauth/internal/application/services"
	"github.com/caretide/priorauth/internal/domain/entities"
	apperrors "github.com/caretide/priorauth/pkg/errors"
)

// Orchestrator drives a case to a terminal status
type Orchestrator interface {
	Run(ctx context.Context, caseID string, mode services.OrchestrationMode) (*entities.Case, error)
}

// OrchestrationHandler handles orchestration HTTP requests
type OrchestrationHandler struct {
	orchestrator Orchestrator
}

// NewOrchestrationHandler creates a new orchestration handler
func NewOrchestrationHandler(orchestrator Orchestrator) *OrchestrationHandler {
	return &OrchestrationHandler{orchestrator: orchestrator}
}

// OrchestrateCase handles POST /api/cases/{id}/orchestrate?mode=direct|delegated
func (h *OrchestrationHandler) OrchestrateCase(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	if caseID == "" {
		respondWithError(w, http.StatusBadRequest, "case ID is required")
		return
	}

	mode := services.ModeDirect
	switch r.URL.Query().Get("mode") {
	case "", "direct":
	case "delegated":
		mode = services.ModeDelegated
	default:
		respondWithError(w, http.StatusBadRequest, "mode must be direct or delegated")
		return
	}

	c, err := h.orchestrator.Run(r.Context(), caseID, mode)
	if err != nil {
		h.respondWithOrchestrationError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, newCaseView(c))
}

// respondWithOrchestrationError maps engine errors onto HTTP statuses: a
// missing case is 404, an unrecognized case state 409, and a retryable
// stage failure 502.
func (h *OrchestrationHandler) respondWithOrchestrationError(w http.ResponseWriter, err error) {
	var invalidState *services.InvalidStateError
	if errors.As(err, &invalidState) {
		respondWithError(w, http.StatusConflict, invalidState.Error())
		return
	}

	var stageFailure *services.StageFailure
	if errors.As(err, &stageFailure) {
		respondWithError(w, http.StatusBadGateway, stageFailure.Error())
		return
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrorTypeNotFound:
			respondWithError(w, http.StatusNotFound, appErr.Message)
		case apperrors.ErrorTypeConflict:
			respondWithError(w, http.StatusConflict, appErr.Message)
		default:
			respondWithError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	respondWithError(w, http.StatusInternalServerError, "internal server error")
}
