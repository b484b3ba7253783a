package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/infrastructure/notifications"
)

// NotificationService records and delivers decision notifications. Every
// terminal transition produces one row; webhook delivery is best effort and
// its outcome is tracked on the row.
type NotificationService struct {
	db     *sqlx.DB
	sender *notifications.WebhookSender
}

var _ DecisionNotifier = (*NotificationService)(nil)

// NewNotificationService creates a new notification service. A nil sender
// records notifications without delivering them.
func NewNotificationService(db *sqlx.DB, sender *notifications.WebhookSender) *NotificationService {
	return &NotificationService{
		db:     db,
		sender: sender,
	}
}

// decisionPayload is the webhook body for a decided case
type decisionPayload struct {
	CaseID              string `json:"case_id"`
	PatientName         string `json:"patient_name"`
	Decision            string `json:"decision"`
	AuthorizationNumber string `json:"authorization_number,omitempty"`
	DenialReason        string `json:"denial_reason,omitempty"`
	DecidedAt           string `json:"decided_at"`
}

// NotifyDecision records and delivers the notification for a terminal case
func (n *NotificationService) NotifyDecision(ctx context.Context, c *entities.Case) error {
	if !c.IsTerminal() {
		return fmt.Errorf("case %s is not terminal", c.ID)
	}

	now := time.Now()
	notification := &entities.DecisionNotification{
		ID:        uuid.New().String(),
		CaseID:    c.ID,
		Decision:  c.Status,
		Channel:   entities.ChannelWebhook,
		Status:    entities.NotificationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.AuthorizationNumber != "" {
		authNumber := c.AuthorizationNumber
		notification.AuthorizationNumber = &authNumber
	}
	if c.DenialReason != "" {
		reason := c.DenialReason
		notification.Reason = &reason
	}

	if err := n.createNotification(ctx, notification); err != nil {
		return fmt.Errorf("failed to create notification record: %w", err)
	}

	if n.sender == nil {
		return nil
	}

	sendErr := n.sender.Send(ctx, decisionPayload{
		CaseID:              c.ID,
		PatientName:         c.PatientName,
		Decision:            string(c.Status),
		AuthorizationNumber: c.AuthorizationNumber,
		DenialReason:        c.DenialReason,
		DecidedAt:           now.Format(time.RFC3339),
	})

	if sendErr != nil {
		errMsg := sendErr.Error()
		notification.Status = entities.NotificationStatusFailed
		notification.ErrorMessage = &errMsg
	} else {
		sentAt := time.Now()
		notification.Status = entities.NotificationStatusSent
		notification.SentAt = &sentAt
	}
	notification.UpdatedAt = time.Now()

	if err := n.updateNotification(ctx, notification); err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	return sendErr
}

// ListByCase returns the notifications recorded for a case, newest first
func (n *NotificationService) ListByCase(ctx context.Context, caseID string) ([]entities.DecisionNotification, error) {
	var items []entities.DecisionNotification
	query := `SELECT * FROM decision_notifications WHERE case_id = $1 ORDER BY created_at DESC`
	if err := n.db.SelectContext(ctx, &items, query, caseID); err != nil {
		return nil, err
	}
	return items, nil
}

func (n *NotificationService) createNotification(ctx context.Context, notification *entities.DecisionNotification) error {
	query := `
		INSERT INTO decision_notifications
		(id, case_id, decision, authorization_number, reason, channel, status,
		 error_message, sent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := n.db.ExecContext(ctx, query,
		notification.ID, notification.CaseID, notification.Decision,
		notification.AuthorizationNumber, notification.Reason, notification.Channel,
		notification.Status, notification.ErrorMessage, notification.SentAt,
		notification.CreatedAt, notification.UpdatedAt,
	)
	return err
}

func (n *NotificationService) updateNotification(ctx context.Context, notification *entities.DecisionNotification) error {
	query := `
		UPDATE decision_notifications
		SET status = $1, error_message = $2, sent_at = $3, updated_at = $4
		WHERE id = $5
	`
	_, err := n.db.ExecContext(ctx, query,
		notification.Status, notification.ErrorMessage, notification.SentAt,
		notification.UpdatedAt, notification.ID,
	)
	return err
}
