package providers

import (
	"context"

	"github.com/caretide/priorauth/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to case events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.CaseEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.CaseEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannel constants for different event types
const (
	// EventChannelCaseUpdates is the channel for all case updates
	EventChannelCaseUpdates = "case:updates"

	// EventChannelCasePrefix is the prefix for case-specific channels
	EventChannelCasePrefix = "case:"
)

// GetCaseChannel returns the channel name for a specific case
func GetCaseChannel(caseID string) string {
	return EventChannelCasePrefix + caseID
}
