package entities

import "time"

// NotificationChannel represents the delivery channel
type NotificationChannel string

const (
	ChannelWebhook NotificationChannel = "webhook"
	ChannelEmail   NotificationChannel = "email"
)

// NotificationStatus represents the delivery status
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// DecisionNotification tracks the notification emitted when a case reaches
// a terminal status
type DecisionNotification struct {
	ID                  string              `json:"id" db:"id"`
	CaseID              string              `json:"case_id" db:"case_id"`
	Decision            CaseStatus          `json:"decision" db:"decision"`
	AuthorizationNumber *string             `json:"authorization_number,omitempty" db:"authorization_number"`
	Reason              *string             `json:"reason,omitempty" db:"reason"`
	Channel             NotificationChannel `json:"channel" db:"channel"`
	Status              NotificationStatus  `json:"status" db:"status"`
	ErrorMessage        *string             `json:"error_message,omitempty" db:"error_message"`
	SentAt              *time.Time          `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt           time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at" db:"updated_at"`
}
