package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretide/priorauth/internal/application/services"
	"github.com/caretide/priorauth/internal/domain/entities"
)

type stubAssistant struct {
	result      *services.ConverseResult
	err         error
	lastMessage string
	lastHistory []entities.Turn
}

func (s *stubAssistant) Converse(_ context.Context, message string, history []entities.Turn) (*services.ConverseResult, error) {
	s.lastMessage = message
	s.lastHistory = history
	return s.result, s.err
}

func chatHTTPRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/assistant/chat", strings.NewReader(body))
}

func TestChat_Success(t *testing.T) {
	assistant := &stubAssistant{result: &services.ConverseResult{
		Response: "There are 2 pending cases.",
		Rounds:   2,
	}}
	handler := NewAssistantHandler(assistant)

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatHTTPRequest(`{"message": "How many cases are pending?"}`))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "There are 2 pending cases.", resp.Response)
	assert.Equal(t, 2, resp.Rounds)
	assert.Equal(t, "How many cases are pending?", assistant.lastMessage)
}

func TestChat_CarriesHistory(t *testing.T) {
	assistant := &stubAssistant{result: &services.ConverseResult{Response: "ok", Rounds: 1}}
	handler := NewAssistantHandler(assistant)

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatHTTPRequest(`{
		"message": "And the denied ones?",
		"history": [
			{"role": "user", "text": "How many cases are pending?"},
			{"role": "assistant", "text": "There are 2 pending cases."}
		]
	}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, assistant.lastHistory, 2)
	assert.Equal(t, entities.RoleAssistant, assistant.lastHistory[1].Role)
}

func TestChat_EmptyMessage(t *testing.T) {
	handler := NewAssistantHandler(&stubAssistant{})

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatHTTPRequest(`{"message": "   "}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_MalformedBody(t *testing.T) {
	handler := NewAssistantHandler(&stubAssistant{})

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatHTTPRequest(`{"message": `))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_ToolLoopExceeded(t *testing.T) {
	assistant := &stubAssistant{err: &services.ToolLoopExceededError{Rounds: 6}}
	handler := NewAssistantHandler(assistant)

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatHTTPRequest(`{"message": "Summarize everything"}`))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestChat_UnknownTool(t *testing.T) {
	assistant := &stubAssistant{err: &services.UnknownToolError{Name: "purge_cases"}}
	handler := NewAssistantHandler(assistant)

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatHTTPRequest(`{"message": "Purge the backlog"}`))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
