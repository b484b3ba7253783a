package entities

import (
	"encoding/json"
)

// TurnRole identifies the author of a conversation turn
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleTool      TurnRole = "tool"
)

// ToolName is the closed set of tools the assistant may invoke. Dispatch is
// by enumerated variant, never by unchecked string lookup.
type ToolName string

const (
	ToolQueryCases     ToolName = "query_cases"
	ToolGetCaseDetails ToolName = "get_case_details"
	ToolGetStatistics  ToolName = "get_statistics"
)

// Known reports whether the name is one of the registered tool variants
func (n ToolName) Known() bool {
	switch n {
	case ToolQueryCases, ToolGetCaseDetails, ToolGetStatistics:
		return true
	}
	return false
}

// ToolCall is a reasoning-service request to execute a named tool
type ToolCall struct {
	ID        string          `json:"id"`
	Name      ToolName        `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Turn is one entry in a conversation exchange. Exactly one of Text,
// ToolCalls, or (ToolCallID, Content) is populated depending on the role.
type Turn struct {
	Role       TurnRole        `json:"role"`
	Text       string          `json:"text,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
}

// UserTurn builds a plain user message turn
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// AssistantTurn builds a plain assistant message turn
func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}

// AssistantToolCallTurn builds the assistant turn that requested tool calls
func AssistantToolCallTurn(text string, calls []ToolCall) Turn {
	return Turn{Role: RoleAssistant, Text: text, ToolCalls: calls}
}

// ToolResultTurn builds the tool turn answering one tool call
func ToolResultTurn(toolCallID string, content json.RawMessage) Turn {
	return Turn{Role: RoleTool, ToolCallID: toolCallID, Content: content}
}
