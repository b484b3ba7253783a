package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
	"github.com/caretide/priorauth/internal/domain/repositories"
	"github.com/caretide/priorauth/internal/infrastructure/observability"
	apperrors "github.com/caretide/priorauth/pkg/errors"
)

// OrchestrationMode selects who sequences the stages: the engine itself or
// a remote planner driving the stages as tools.
type OrchestrationMode string

const (
	ModeDirect    OrchestrationMode = "direct"
	ModeDelegated OrchestrationMode = "delegated"
)

// Planner action names for delegated mode
const (
	actionRunValidation entities.ToolName = "run_code_validation"
	actionRunEvidence   entities.ToolName = "run_evidence_check"
	actionRunPayer      entities.ToolName = "run_payer_review"
)

// DecisionNotifier delivers decision notifications on terminal transitions
type DecisionNotifier interface {
	NotifyDecision(ctx context.Context, c *entities.Case) error
}

// errAlreadyTerminal signals that a concurrent run finished the case first;
// the caller serves the stored outcome.
var errAlreadyTerminal = errors.New("case already terminal")

// OrchestrationService drives a case through validation, evidence and payer
// review to a terminal status. Runs are idempotent: completed stage results
// are never recomputed and terminal re-invocation is a no-op.
type OrchestrationService struct {
	cases      repositories.CaseRepository
	validation *ValidationStage
	evidence   *EvidenceStage
	payer      *PayerStage
	reasoning  providers.ReasoningProvider

	events   providers.EventBus
	search   repositories.CaseSearchRepository
	notifier DecisionNotifier

	stageTimeout     time.Duration
	plannerMaxRounds int
}

// NewOrchestrationService creates a new orchestration service. Event bus,
// search index and notifier are optional side channels.
func NewOrchestrationService(
	cases repositories.CaseRepository,
	validation *ValidationStage,
	evidence *EvidenceStage,
	payer *PayerStage,
	reasoning providers.ReasoningProvider,
	events providers.EventBus,
	search repositories.CaseSearchRepository,
	notifier DecisionNotifier,
	stageTimeout time.Duration,
	plannerMaxRounds int,
) *OrchestrationService {
	if stageTimeout <= 0 {
		stageTimeout = 45 * time.Second
	}
	if plannerMaxRounds <= 0 {
		plannerMaxRounds = 8
	}
	return &OrchestrationService{
		cases:            cases,
		validation:       validation,
		evidence:         evidence,
		payer:            payer,
		reasoning:        reasoning,
		events:           events,
		search:           search,
		notifier:         notifier,
		stageTimeout:     stageTimeout,
		plannerMaxRounds: plannerMaxRounds,
	}
}

// Run orchestrates one case to completion or to a retryable failure.
// Terminal cases are returned as-is without side effects.
func (s *OrchestrationService) Run(ctx context.Context, caseID string, mode OrchestrationMode) (*entities.Case, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if c.IsTerminal() {
		return c, nil
	}
	if !c.Status.Valid() {
		return nil, &InvalidStateError{CaseID: c.ID, Status: c.Status}
	}

	if c.Status == entities.CaseStatusExtracted {
		if err := s.markProcessing(ctx, c); err != nil {
			return nil, err
		}
		if c.IsTerminal() {
			return c, nil
		}
	}

	switch mode {
	case ModeDelegated:
		return s.runDelegated(ctx, c)
	default:
		return s.runDirect(ctx, c)
	}
}

// markProcessing claims the case for this run. A losing race is tolerated:
// if another run already moved the case to processing, this run resumes it.
func (s *OrchestrationService) markProcessing(ctx context.Context, c *entities.Case) error {
	expected := entities.CaseStatusExtracted
	processing := entities.CaseStatusProcessing

	err := s.cases.UpdateFields(ctx, c.ID, repositories.CaseUpdate{Status: &processing}, &expected)
	if err != nil {
		if !isConflict(err) {
			return err
		}
		fresh, rerr := s.cases.GetByID(ctx, c.ID)
		if rerr != nil {
			return rerr
		}
		*c = *fresh
		if c.IsTerminal() || c.Status == processing {
			return nil
		}
		return &InvalidStateError{CaseID: c.ID, Status: c.Status}
	}

	c.Status = processing
	s.recordTimeline(ctx, c, "Processing started", entities.CaseEventTypeStatusChanged)
	return nil
}

func (s *OrchestrationService) runDirect(ctx context.Context, c *entities.Case) (*entities.Case, error) {
	if err := s.ensureValidation(ctx, c); err != nil {
		if errors.Is(err, errAlreadyTerminal) {
			return c, nil
		}
		return nil, err
	}

	if !c.ValidationResult.AllValid {
		return s.finalizeDenied(ctx, c, denialReasonFromValidation(c.ValidationResult))
	}

	if err := s.ensureEvidence(ctx, c); err != nil {
		if errors.Is(err, errAlreadyTerminal) {
			return c, nil
		}
		return nil, err
	}

	if err := s.ensurePayer(ctx, c); err != nil {
		if errors.Is(err, errAlreadyTerminal) {
			return c, nil
		}
		return nil, err
	}

	return s.finalizeFromPayer(ctx, c)
}

func (s *OrchestrationService) ensureValidation(ctx context.Context, c *entities.Case) error {
	if c.ValidationResult != nil {
		return nil
	}

	s.recordTimeline(ctx, c, "Code validation started", entities.CaseEventTypeStageStarted)

	stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	result, err := s.validation.Run(stageCtx, ValidationContext{
		DiagnosisCodes: c.DiagnosisCodes,
		ProcedureCodes: c.ProcedureCodes,
		Summary:        c.Summary,
	})
	if err != nil {
		return err
	}

	if err := s.storeStageResult(ctx, c, repositories.CaseUpdate{ValidationResult: result}); err != nil {
		return err
	}
	c.ValidationResult = result
	s.recordTimeline(ctx, c, "Code validation completed", entities.CaseEventTypeStageCompleted)
	return nil
}

func (s *OrchestrationService) ensureEvidence(ctx context.Context, c *entities.Case) error {
	if c.EvidenceResult != nil {
		return nil
	}

	s.recordTimeline(ctx, c, "Evidence check started", entities.CaseEventTypeStageStarted)

	stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	result, err := s.evidence.Run(stageCtx, EvidenceContext{
		CaseID:         c.ID,
		ProcedureCodes: c.ProcedureCodes,
	})
	if err != nil {
		return err
	}

	if err := s.storeStageResult(ctx, c, repositories.CaseUpdate{EvidenceResult: result}); err != nil {
		return err
	}
	c.EvidenceResult = result
	s.recordTimeline(ctx, c, "Evidence check completed", entities.CaseEventTypeStageCompleted)
	return nil
}

func (s *OrchestrationService) ensurePayer(ctx context.Context, c *entities.Case) error {
	if c.PayerResponse != nil {
		return nil
	}

	s.recordTimeline(ctx, c, "Payer review started", entities.CaseEventTypeStageStarted)

	stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	result, err := s.payer.Run(stageCtx, PayerContext{
		PatientName:     c.PatientName,
		MemberID:        c.MemberID(),
		DiagnosisCodes:  c.DiagnosisCodes,
		ProcedureCodes:  c.ProcedureCodes,
		ClinicalSummary: c.Summary,
		Evidence:        c.EvidenceResult,
	})
	if err != nil {
		return err
	}

	if err := s.storeStageResult(ctx, c, repositories.CaseUpdate{PayerResponse: result}); err != nil {
		return err
	}
	c.PayerResponse = result
	s.recordTimeline(ctx, c, "Payer review completed", entities.CaseEventTypeStageCompleted)
	return nil
}

// storeStageResult persists one stage result while the case is still
// processing. A conflict means another run reached a terminal status; the
// fresh row replaces the in-memory case.
func (s *OrchestrationService) storeStageResult(ctx context.Context, c *entities.Case, update repositories.CaseUpdate) error {
	processing := entities.CaseStatusProcessing
	err := s.cases.UpdateFields(ctx, c.ID, update, &processing)
	if err == nil {
		return nil
	}
	if !isConflict(err) {
		return err
	}

	fresh, rerr := s.cases.GetByID(ctx, c.ID)
	if rerr != nil {
		return rerr
	}
	*c = *fresh
	if c.IsTerminal() {
		return errAlreadyTerminal
	}
	return err
}

func (s *OrchestrationService) finalizeFromPayer(ctx context.Context, c *entities.Case) (*entities.Case, error) {
	switch c.PayerResponse.Decision {
	case entities.PayerDecisionApproved:
		return s.finalizeApproved(ctx, c)
	case entities.PayerDecisionDenied:
		reason := c.PayerResponse.Reason
		if reason == "" {
			reason = c.PayerResponse.Reasoning
		}
		return s.finalizeDenied(ctx, c, reason)
	default:
		return nil, &StageFailure{Stage: entities.StagePayer,
			Cause: fmt.Errorf("unrecognized payer decision %q", c.PayerResponse.Decision)}
	}
}

func (s *OrchestrationService) finalizeApproved(ctx context.Context, c *entities.Case) (*entities.Case, error) {
	approved := entities.CaseStatusApproved
	authNumber := c.PayerResponse.AuthorizationNumber

	if err := s.applyTerminal(ctx, c, repositories.CaseUpdate{
		Status:              &approved,
		AuthorizationNumber: &authNumber,
	}); err != nil {
		if errors.Is(err, errAlreadyTerminal) {
			return c, nil
		}
		return nil, err
	}

	c.Status = approved
	c.AuthorizationNumber = authNumber
	s.recordTimeline(ctx, c, fmt.Sprintf("Case approved (%s)", authNumber), entities.CaseEventTypeDecision)
	s.afterDecision(ctx, c)
	return c, nil
}

func (s *OrchestrationService) finalizeDenied(ctx context.Context, c *entities.Case, reason string) (*entities.Case, error) {
	denied := entities.CaseStatusDenied

	if err := s.applyTerminal(ctx, c, repositories.CaseUpdate{
		Status:       &denied,
		DenialReason: &reason,
	}); err != nil {
		if errors.Is(err, errAlreadyTerminal) {
			return c, nil
		}
		return nil, err
	}

	c.Status = denied
	c.DenialReason = reason
	s.recordTimeline(ctx, c, fmt.Sprintf("Case denied: %s", reason), entities.CaseEventTypeDecision)
	s.afterDecision(ctx, c)
	return c, nil
}

// applyTerminal performs the guarded terminal transition: expected status
// processing, with exactly one re-read and re-apply on conflict.
func (s *OrchestrationService) applyTerminal(ctx context.Context, c *entities.Case, update repositories.CaseUpdate) error {
	processing := entities.CaseStatusProcessing

	err := s.cases.UpdateFields(ctx, c.ID, update, &processing)
	if err == nil {
		return nil
	}
	if !isConflict(err) {
		return err
	}

	fresh, rerr := s.cases.GetByID(ctx, c.ID)
	if rerr != nil {
		return rerr
	}
	*c = *fresh
	if c.IsTerminal() {
		return errAlreadyTerminal
	}

	return s.cases.UpdateFields(ctx, c.ID, update, &processing)
}

// afterDecision fires the side channels; none of them can fail the run.
func (s *OrchestrationService) afterDecision(ctx context.Context, c *entities.Case) {
	logger := observability.LoggerFromContext(ctx)

	if s.notifier != nil {
		if err := s.notifier.NotifyDecision(ctx, c); err != nil {
			logger.Warn().Str("case_id", c.ID).Err(err).Msg("failed to send decision notification")
		}
	}
	if s.search != nil {
		if err := s.search.Index(ctx, c); err != nil {
			logger.Warn().Str("case_id", c.ID).Err(err).Msg("failed to reindex case")
		}
	}
}

func denialReasonFromValidation(result *entities.ValidationResult) string {
	if len(result.Errors) > 0 {
		return strings.Join(result.Errors, "; ")
	}
	invalid := result.InvalidCodes()
	codes := make([]string, 0, len(invalid))
	for _, check := range invalid {
		codes = append(codes, check.Code)
	}
	return fmt.Sprintf("Invalid medical codes: %s", strings.Join(codes, ", "))
}

const plannerSystemPrompt = `You are a prior-authorization case orchestrator. You decide which processing
steps to run and in what order using the provided tools. Run code validation
before payer review when possible. When you have a payer verdict, stop and
summarize the outcome. Do not invent results; only use tool outputs.`

func plannerToolDefinitions() []providers.ToolDefinition {
	emptySchema := json.RawMessage(`{"type":"object","properties":{}}`)
	return []providers.ToolDefinition{
		{
			Name:        actionRunValidation,
			Description: "Validate the case's ICD-10 and CPT codes against authoritative sources",
			Schema:      emptySchema,
		},
		{
			Name:        actionRunEvidence,
			Description: "Check which required supporting documents are present for the case",
			Schema:      emptySchema,
		},
		{
			Name:        actionRunPayer,
			Description: "Submit the case for payer medical necessity review and obtain a verdict",
			Schema:      emptySchema,
		},
	}
}

func plannerUserPrompt(c *entities.Case) string {
	return fmt.Sprintf(`Process prior-authorization case %s.
Patient: %s
Diagnosis: %s (%s)
Procedures: %s
Summary: %s

Run the steps you deem necessary, then report the outcome.`,
		c.ID, c.PatientName, c.Diagnosis,
		strings.Join(c.DiagnosisCodes, ", "),
		strings.Join(c.ProcedureCodes, ", "),
		c.Summary)
}

// runDelegated hands stage sequencing to the remote planner. The engine
// still owns the rules: completed stages serve stored results, invalid
// codes deny immediately, and only a payer verdict can approve.
func (s *OrchestrationService) runDelegated(ctx context.Context, c *entities.Case) (*entities.Case, error) {
	messages := []entities.Turn{entities.UserTurn(plannerUserPrompt(c))}

	for round := 0; round < s.plannerMaxRounds; round++ {
		resp, err := s.reasoning.Complete(ctx, providers.ReasoningRequest{
			System:      plannerSystemPrompt,
			Messages:    messages,
			Tools:       plannerToolDefinitions(),
			Temperature: 0.1,
			MaxTokens:   800,
		})
		if err != nil {
			return nil, &StageFailure{Stage: entities.StagePayer, Cause: err}
		}

		if resp.StopReason == providers.StopComplete {
			break
		}

		messages = append(messages, entities.AssistantToolCallTurn(resp.Text, resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			payload, final, err := s.executePlannerAction(ctx, c, call)
			if err != nil {
				if errors.Is(err, errAlreadyTerminal) {
					return c, nil
				}
				return nil, err
			}
			if final != nil {
				return final, nil
			}
			messages = append(messages, entities.ToolResultTurn(call.ID, payload))
		}
	}

	// The planner stopped without reaching a verdict; the case stays
	// processing and the run is retryable.
	return nil, &StageFailure{Stage: entities.StagePayer,
		Cause: errors.New("planner run ended without a payer verdict")}
}

// executePlannerAction runs one named action. A non-nil final case means the
// action produced the terminal outcome and the planner loop must stop.
func (s *OrchestrationService) executePlannerAction(ctx context.Context, c *entities.Case, call entities.ToolCall) (json.RawMessage, *entities.Case, error) {
	switch call.Name {
	case actionRunValidation:
		if err := s.ensureValidation(ctx, c); err != nil {
			return nil, nil, err
		}
		if !c.ValidationResult.AllValid {
			final, err := s.finalizeDenied(ctx, c, denialReasonFromValidation(c.ValidationResult))
			return nil, final, err
		}
		payload, err := json.Marshal(c.ValidationResult)
		return payload, nil, err

	case actionRunEvidence:
		if err := s.ensureEvidence(ctx, c); err != nil {
			return nil, nil, err
		}
		payload, err := json.Marshal(c.EvidenceResult)
		return payload, nil, err

	case actionRunPayer:
		if err := s.ensurePayer(ctx, c); err != nil {
			return nil, nil, err
		}
		final, err := s.finalizeFromPayer(ctx, c)
		return nil, final, err

	default:
		return nil, nil, &UnknownToolError{Name: string(call.Name)}
	}
}

func isConflict(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.Type == apperrors.ErrorTypeConflict
}

// recordTimeline appends an audit entry and mirrors it on the event bus.
// Side-channel failures are logged, never fatal.
func (s *OrchestrationService) recordTimeline(ctx context.Context, c *entities.Case, message string, eventType entities.CaseEventType) {
	logger := observability.LoggerFromContext(ctx)

	entry := entities.TimelineEvent{
		Timestamp: time.Now(),
		Event:     message,
		Status:    string(c.Status),
	}
	if err := s.cases.AppendTimeline(ctx, c.ID, entry); err != nil {
		logger.Warn().Str("case_id", c.ID).Err(err).Msg("failed to append timeline event")
		return
	}
	c.Timeline = append(c.Timeline, entry)

	if s.events == nil {
		return
	}
	event := entities.NewCaseEvent(c.ID, eventType, string(c.Status), message)
	for _, channel := range []string{providers.EventChannelCaseUpdates, providers.GetCaseChannel(c.ID)} {
		if err := s.events.Publish(ctx, channel, event); err != nil {
			logger.Warn().Str("case_id", c.ID).Str("channel", channel).Err(err).Msg("failed to publish case event")
		}
	}
}
