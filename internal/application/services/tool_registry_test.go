package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretide/priorauth/internal/domain/entities"
)

func TestToolRegistry_Definitions(t *testing.T) {
	registry := NewToolRegistry(&mockCaseQueries{})

	defs := registry.Definitions()
	require.Len(t, defs, 3)

	names := make([]entities.ToolName, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
		assert.True(t, def.Name.Known())
		assert.True(t, json.Valid(def.Schema))
	}
	assert.Contains(t, names, entities.ToolQueryCases)
	assert.Contains(t, names, entities.ToolGetCaseDetails)
	assert.Contains(t, names, entities.ToolGetStatistics)
}

func TestToolRegistry_QueryCases(t *testing.T) {
	registry := NewToolRegistry(&mockCaseQueries{cases: []*entities.Case{sampleQueryCase()}})

	payload, err := registry.Execute(context.Background(), entities.ToolCall{
		Name:      entities.ToolQueryCases,
		Arguments: json.RawMessage(`{"query": "Sarah", "limit": 5}`),
	})
	require.NoError(t, err)

	var result struct {
		Cases []map[string]interface{} `json:"cases"`
		Count int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, 1, result.Count)
	require.Len(t, result.Cases, 1)
	assert.Equal(t, "Sarah Johnson", result.Cases[0]["patient_name"])

	// Non-terminal cases surface as pending, never as an engine status
	assert.Equal(t, "pending", result.Cases[0]["status"])
}

func TestToolRegistry_GetCaseDetails(t *testing.T) {
	c := sampleQueryCase()
	c.Status = entities.CaseStatusApproved
	c.AuthorizationNumber = "AUTH-20260105-AB12CD34"

	registry := NewToolRegistry(&mockCaseQueries{cases: []*entities.Case{c}})

	payload, err := registry.Execute(context.Background(), entities.ToolCall{
		Name:      entities.ToolGetCaseDetails,
		Arguments: json.RawMessage(`{"case_id": "case-1"}`),
	})
	require.NoError(t, err)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &details))
	assert.Equal(t, "approved", details["status"])
	assert.Equal(t, "AUTH-20260105-AB12CD34", details["authorization_number"])
}

func TestToolRegistry_GetCaseDetailsRequiresID(t *testing.T) {
	registry := NewToolRegistry(&mockCaseQueries{})

	_, err := registry.Execute(context.Background(), entities.ToolCall{
		Name:      entities.ToolGetCaseDetails,
		Arguments: json.RawMessage(`{}`),
	})
	assert.Error(t, err)
}

func TestToolRegistry_MalformedArguments(t *testing.T) {
	registry := NewToolRegistry(&mockCaseQueries{})

	_, err := registry.Execute(context.Background(), entities.ToolCall{
		Name:      entities.ToolQueryCases,
		Arguments: json.RawMessage(`{"limit": "many"}`),
	})
	assert.Error(t, err)
}

func TestToolRegistry_UnknownTool(t *testing.T) {
	registry := NewToolRegistry(&mockCaseQueries{})

	_, err := registry.Execute(context.Background(), entities.ToolCall{
		Name: entities.ToolName("escalate_case"),
	})

	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "escalate_case", unknown.Name)
}
