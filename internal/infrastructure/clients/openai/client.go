package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
	"github.com/caretide/priorauth/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements the remote reasoning provider on top of the OpenAI
// chat completions API, including tool calling.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *tokenBucket
}

var _ providers.ReasoningProvider = (*Client)(nil)

// NewClient creates a new reasoning client.
func NewClient(cfg *config.ReasoningConfig) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("reasoning api key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := newTokenBucket(cfg.RateLimitRPM, cfg.RateLimitBurst)

	return &Client{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}, nil
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatEnvelope struct {
	Choices []chatChoice `json:"choices"`
}

// Complete performs one reasoning call. The response carries either a final
// text answer or the set of tool calls the model requested.
func (c *Client) Complete(ctx context.Context, req providers.ReasoningRequest) (*providers.ReasoningResponse, error) {
	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			recordReasoningMetric(ctx, c.model, 0, 0, err)
			return nil, err
		}
		recordReasoningRateLimitWait(ctx, c.model, time.Since(waitStart))
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, turn := range req.Messages {
		msg, err := encodeTurn(turn)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	payload := map[string]interface{}{
		"model":       c.model,
		"messages":    messages,
		"temperature": req.Temperature,
		"max_tokens":  maxTokens,
	}

	if len(req.Tools) > 0 {
		tools := make([]chatTool, 0, len(req.Tools))
		for _, def := range req.Tools {
			tools = append(tools, chatTool{
				Type: "function",
				Function: chatFunction{
					Name:        string(def.Name),
					Description: def.Description,
					Parameters:  def.Schema,
				},
			})
		}
		payload["tools"] = tools
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		recordReasoningMetric(ctx, c.model, 0, time.Since(start), err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		recordReasoningMetric(ctx, c.model, resp.StatusCode, time.Since(start), fmt.Errorf("status %d", resp.StatusCode))
		return nil, fmt.Errorf("reasoning request failed with status %d", resp.StatusCode)
	}

	var envelope chatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		recordReasoningMetric(ctx, c.model, resp.StatusCode, time.Since(start), err)
		return nil, err
	}

	if len(envelope.Choices) == 0 {
		recordReasoningMetric(ctx, c.model, resp.StatusCode, time.Since(start), errors.New("missing choices"))
		return nil, errors.New("reasoning response missing choices")
	}

	choice := envelope.Choices[0]

	if len(choice.Message.ToolCalls) > 0 {
		calls := make([]entities.ToolCall, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			calls = append(calls, entities.ToolCall{
				ID:        tc.ID,
				Name:      entities.ToolName(tc.Function.Name),
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		recordReasoningMetric(ctx, c.model, resp.StatusCode, time.Since(start), nil)
		return &providers.ReasoningResponse{
			StopReason: providers.StopToolUse,
			ToolCalls:  calls,
		}, nil
	}

	text := StripFences(choice.Message.Content)
	if text == "" {
		recordReasoningMetric(ctx, c.model, resp.StatusCode, time.Since(start), errors.New("missing output text"))
		return nil, errors.New("reasoning response missing output text")
	}

	recordReasoningMetric(ctx, c.model, resp.StatusCode, time.Since(start), nil)
	return &providers.ReasoningResponse{
		StopReason: providers.StopComplete,
		Text:       text,
	}, nil
}

func encodeTurn(turn entities.Turn) (chatMessage, error) {
	switch turn.Role {
	case entities.RoleUser:
		return chatMessage{Role: "user", Content: turn.Text}, nil
	case entities.RoleAssistant:
		msg := chatMessage{Role: "assistant", Content: turn.Text}
		for _, call := range turn.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, chatToolCall{
				ID:   call.ID,
				Type: "function",
				Function: chatFunctionCall{
					Name:      string(call.Name),
					Arguments: string(call.Arguments),
				},
			})
		}
		return msg, nil
	case entities.RoleTool:
		return chatMessage{
			Role:       "tool",
			ToolCallID: turn.ToolCallID,
			Content:    string(turn.Content),
		}, nil
	default:
		return chatMessage{}, fmt.Errorf("unsupported turn role %q", turn.Role)
	}
}

// StripFences removes Markdown code fences around a model response so
// structured outputs can be parsed directly.
func StripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}

func newTokenBucket(rpm int, burst int) *tokenBucket {
	if rpm == 0 {
		rpm = 60
	}
	if rpm < 0 {
		return nil
	}
	if burst <= 0 {
		burst = 5
	}
	return newTokenBucketWithRate(rpm, burst)
}

type tokenBucket struct {
	tokens chan struct{}
}

func newTokenBucketWithRate(rpm int, burst int) *tokenBucket {
	bucket := &tokenBucket{
		tokens: make(chan struct{}, burst),
	}

	for i := 0; i < burst; i++ {
		bucket.tokens <- struct{}{}
	}

	interval := time.Minute / time.Duration(rpm)
	if interval <= 0 {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			select {
			case bucket.tokens <- struct{}{}:
			default:
			}
		}
	}()

	return bucket
}

func (b *tokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.tokens:
		return nil
	}
}

type reasoningMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
	rateLimitWait   metric.Float64Histogram
}

var (
	reasoningMetricsOnce sync.Once
	reasoningMetricsInit bool
	reasoningMetricsSet  reasoningMetrics
)

func ensureReasoningMetrics() {
	reasoningMetricsOnce.Do(initReasoningMetrics)
}

func initReasoningMetrics() {
	meter := otel.Meter("github.com/caretide/priorauth/reasoning")

	requestCount, err := meter.Int64Counter(
		"ai.reasoning.request.count",
		metric.WithDescription("Number of reasoning requests"),
	)
	if err != nil {
		return
	}
	requestDuration, err := meter.Float64Histogram(
		"ai.reasoning.request.duration",
		metric.WithDescription("Reasoning request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return
	}
	requestErrors, err := meter.Int64Counter(
		"ai.reasoning.request.errors",
		metric.WithDescription("Number of reasoning request errors"),
	)
	if err != nil {
		return
	}
	rateLimitWait, err := meter.Float64Histogram(
		"ai.reasoning.rate_limit.wait",
		metric.WithDescription("Time spent waiting for the reasoning rate limiter in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return
	}

	reasoningMetricsSet = reasoningMetrics{
		requestCount:    requestCount,
		requestDuration: requestDuration,
		requestErrors:   requestErrors,
		rateLimitWait:   rateLimitWait,
	}
	reasoningMetricsInit = true
}

func recordReasoningMetric(ctx context.Context, model string, statusCode int, duration time.Duration, err error) {
	ensureReasoningMetrics()
	if !reasoningMetricsInit {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.model", model),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}

	reasoningMetricsSet.requestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	reasoningMetricsSet.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		reasoningMetricsSet.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func recordReasoningRateLimitWait(ctx context.Context, model string, wait time.Duration) {
	ensureReasoningMetrics()
	if !reasoningMetricsInit {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.model", model),
	}
	reasoningMetricsSet.rateLimitWait.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(attrs...))
}
