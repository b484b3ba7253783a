package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/caretide/priorauth/internal/application/services"
	"github.com/caretide/priorauth/internal/domain/entities"
	apperrors "github.com/caretide/priorauth/pkg/errors"
)

// CaseHandler handles read-only case HTTP requests
type CaseHandler struct {
	queries services.CaseQueryProvider
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(queries services.CaseQueryProvider) *CaseHandler {
	return &CaseHandler{queries: queries}
}

// caseView is the API projection of a case; engine statuses collapse to the
// pending/approved/denied display statuses.
type caseView struct {
	*entities.Case
	Status string `json:"status"`
}

func newCaseView(c *entities.Case) caseView {
	return caseView{Case: c, Status: c.DisplayStatus()}
}

// ListCases handles GET /api/cases
func (h *CaseHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	cases, err := h.queries.QueryCases(r.Context(), query.Get("q"), query.Get("status"), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list cases")
		return
	}

	views := make([]caseView, 0, len(cases))
	for _, c := range cases {
		views = append(views, newCaseView(c))
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"cases": views,
		"count": len(views),
	})
}

// GetCase handles GET /api/cases/{id}
func (h *CaseHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	if caseID == "" {
		respondWithError(w, http.StatusBadRequest, "case ID is required")
		return
	}

	c, err := h.queries.GetCaseDetails(r.Context(), caseID)
	if err != nil {
		if appErr, ok := err.(*apperrors.AppError); ok && appErr.Type == apperrors.ErrorTypeNotFound {
			respondWithError(w, http.StatusNotFound, appErr.Message)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, newCaseView(c))
}

// GetStatistics handles GET /api/stats
func (h *CaseHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.GetStatistics(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
