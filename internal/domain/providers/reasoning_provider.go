package providers

import (
	"context"
	"encoding/json"

	"github.com/caretide/priorauth/internal/domain/entities"
)

// ToolDefinition describes one tool offered to the reasoning service,
// including the JSON-schema contract for its arguments
type ToolDefinition struct {
	Name        entities.ToolName
	Description string
	Schema      json.RawMessage
}

// ReasoningRequest is one call to the remote structured-reasoning service
type ReasoningRequest struct {
	System      string
	Messages    []entities.Turn
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// StopReason signals how the reasoning service ended its turn
type StopReason string

const (
	// StopComplete means the service produced a final text answer
	StopComplete StopReason = "complete"

	// StopToolUse means the service requested execution of one or more tools
	StopToolUse StopReason = "tool_use"
)

// ReasoningResponse is the typed result of a reasoning call. Text is set
// when StopReason is StopComplete; ToolCalls when it is StopToolUse.
type ReasoningResponse struct {
	StopReason StopReason
	Text       string
	ToolCalls  []entities.ToolCall
}

// ReasoningProvider invokes the external structured-reasoning service.
// Every stage invoker and the conversation loop share this one client.
type ReasoningProvider interface {
	Complete(ctx context.Context, req ReasoningRequest) (*ReasoningResponse, error)
}
