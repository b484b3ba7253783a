package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
	"github.com/caretide/priorauth/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&config.ReasoningConfig{
		APIKey:         "test-key",
		Model:          "gpt-4o-mini",
		BaseURL:        server.URL,
		RequestTimeout: 5 * time.Second,
		RateLimitRPM:   -1, // disable limiter in tests
	})
	require.NoError(t, err)
	return client
}

func TestComplete_TextAnswer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message":       map[string]interface{}{"role": "assistant", "content": "```json\n{\"decision\":\"APPROVED\"}\n```"},
					"finish_reason": "stop",
				},
			},
		})
	})

	resp, err := client.Complete(context.Background(), providers.ReasoningRequest{
		Messages: []entities.Turn{entities.UserTurn("review this case")},
	})

	require.NoError(t, err)
	assert.Equal(t, providers.StopComplete, resp.StopReason)
	assert.Equal(t, `{"decision":"APPROVED"}`, resp.Text)
}

func TestComplete_ToolCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.NotNil(t, payload["tools"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message": map[string]interface{}{
						"role": "assistant",
						"tool_calls": []map[string]interface{}{
							{
								"id":   "call_1",
								"type": "function",
								"function": map[string]interface{}{
									"name":      "get_statistics",
									"arguments": "{}",
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
		})
	})

	resp, err := client.Complete(context.Background(), providers.ReasoningRequest{
		Messages: []entities.Turn{entities.UserTurn("how many cases are denied?")},
		Tools: []providers.ToolDefinition{
			{Name: entities.ToolGetStatistics, Schema: json.RawMessage(`{"type":"object","properties":{}}`)},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, providers.StopToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, entities.ToolGetStatistics, resp.ToolCalls[0].Name)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
}

func TestComplete_ErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), providers.ReasoningRequest{
		Messages: []entities.Turn{entities.UserTurn("hello")},
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestComplete_ConcurrentCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message":       map[string]interface{}{"role": "assistant", "content": "ok"},
					"finish_reason": "stop",
				},
			},
		})
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Complete(context.Background(), providers.ReasoningRequest{
				Messages: []entities.Turn{entities.UserTurn("hello")},
			})
			assert.NoError(t, err)
			if resp != nil {
				assert.Equal(t, "ok", resp.Text)
			}
		}()
	}
	wg.Wait()
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`{"a":1}`))
}
