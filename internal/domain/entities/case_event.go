package entities

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// CaseEventType represents the type of case event
type CaseEventType string

const (
	CaseEventTypeStatusChanged  CaseEventType = "status_changed"
	CaseEventTypeStageStarted   CaseEventType = "stage_started"
	CaseEventTypeStageCompleted CaseEventType = "stage_completed"
	CaseEventTypeDecision       CaseEventType = "decision"
)

// CaseEvent represents a real-time update event for a case. One event is
// published for every timeline append, so subscribers observe the same
// ordering the audit trail records.
type CaseEvent struct {
	ID        string        `json:"id"`
	CaseID    string        `json:"case_id"`
	EventType CaseEventType `json:"event_type"`
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewCaseEvent creates a new case event
func NewCaseEvent(caseID string, eventType CaseEventType, status, message string) *CaseEvent {
	return &CaseEvent{
		ID:        generateEventID(),
		CaseID:    caseID,
		EventType: eventType,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// generateEventID generates a unique event ID
func generateEventID() string {
	return time.Now().Format("20060102150405") + "-" + randomString(8)
}

// randomString generates a random string of specified length
func randomString(length int) string {
	bytes := make([]byte, length/2+1)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based if crypto/rand fails
		return time.Now().Format("150405.000")
	}
	return hex.EncodeToString(bytes)[:length]
}
