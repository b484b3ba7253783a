package services

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
	"github.com/caretide/priorauth/internal/infrastructure/observability"
)

const assistantSystemPrompt = `You are an assistant for a prior-authorization case management system.
Answer questions about cases and their statuses using the provided tools.
Case statuses shown to users are pending, approved, or denied. Use tool
results only; never invent case data. Keep answers concise.`

// ConverseResult is the outcome of one assistant exchange
type ConverseResult struct {
	Response string
	Rounds   int
}

// AssistantService runs the bounded tool-invocation loop: the reasoning
// service may request tools for a limited number of rounds before it must
// produce a final answer.
type AssistantService struct {
	reasoning providers.ReasoningProvider
	tools     *ToolRegistry
	maxRounds int
}

// NewAssistantService creates a new assistant service
func NewAssistantService(reasoning providers.ReasoningProvider, tools *ToolRegistry, maxRounds int) *AssistantService {
	if maxRounds <= 0 {
		maxRounds = 6
	}
	return &AssistantService{
		reasoning: reasoning,
		tools:     tools,
		maxRounds: maxRounds,
	}
}

// Converse answers one user message. Every tool call of a round is resolved
// and appended before the next reasoning call; exceeding the round bound
// returns ToolLoopExceededError with whatever partial text exists.
func (s *AssistantService) Converse(ctx context.Context, message string, history []entities.Turn) (*ConverseResult, error) {
	logger := observability.LoggerFromContext(ctx)

	messages := make([]entities.Turn, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, entities.UserTurn(message))

	partial := ""
	for round := 1; round <= s.maxRounds; round++ {
		resp, err := s.reasoning.Complete(ctx, providers.ReasoningRequest{
			System:      assistantSystemPrompt,
			Messages:    messages,
			Tools:       s.tools.Definitions(),
			Temperature: 0.2,
			MaxTokens:   1024,
		})
		if err != nil {
			return nil, err
		}

		if resp.StopReason == providers.StopComplete {
			return &ConverseResult{
				Response: CleanResponseText(resp.Text),
				Rounds:   round,
			}, nil
		}

		if resp.Text != "" {
			partial = resp.Text
		}

		messages = append(messages, entities.AssistantToolCallTurn(resp.Text, resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			if !call.Name.Known() {
				return nil, &UnknownToolError{Name: string(call.Name)}
			}

			payload, err := s.tools.Execute(ctx, call)
			if err != nil {
				// Surface tool failures to the model as data so it can
				// answer with what it has.
				logger.Warn().Str("tool", string(call.Name)).Err(err).Msg("tool execution failed")
				payload, _ = json.Marshal(map[string]string{"error": err.Error()})
			}
			messages = append(messages, entities.ToolResultTurn(call.ID, payload))
		}
	}

	return nil, &ToolLoopExceededError{
		Rounds:      s.maxRounds,
		PartialText: CleanResponseText(partial),
	}
}

var thinkingPattern = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)

// CleanResponseText strips reasoning-trace markup and markdown fences from
// a model answer before it reaches users.
func CleanResponseText(text string) string {
	cleaned := thinkingPattern.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(cleaned)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}
