package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/caretide/priorauth/internal/application/services"
	"github.com/caretide/priorauth/internal/domain/entities"
)

// Assistant answers one user message through the bounded tool loop
type Assistant interface {
	Converse(ctx context.Context, message string, history []entities.Turn) (*services.ConverseResult, error)
}

// AssistantHandler handles conversational HTTP requests
type AssistantHandler struct {
	assistant Assistant
}

// NewAssistantHandler creates a new assistant handler
func NewAssistantHandler(assistant Assistant) *AssistantHandler {
	return &AssistantHandler{assistant: assistant}
}

type chatRequest struct {
	Message string          `json:"message"`
	History []entities.Turn `json:"history"`
}

type chatResponse struct {
	Response string `json:"response"`
	Rounds   int    `json:"rounds"`
}

// Chat handles POST /api/assistant/chat
func (h *AssistantHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondWithError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := h.assistant.Converse(r.Context(), req.Message, req.History)
	if err != nil {
		var exceeded *services.ToolLoopExceededError
		if errors.As(err, &exceeded) {
			respondWithError(w, http.StatusBadGateway, exceeded.Error())
			return
		}
		var unknown *services.UnknownToolError
		if errors.As(err, &unknown) {
			respondWithError(w, http.StatusBadGateway, unknown.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "assistant request failed")
		return
	}

	respondWithJSON(w, http.StatusOK, chatResponse{
		Response: result.Response,
		Rounds:   result.Rounds,
	})
}
