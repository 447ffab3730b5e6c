package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Kind classifies a notification event.
type Kind string

const (
	KindDocument Kind = "document"
	KindTask     Kind = "task"
	KindSystem   Kind = "system"
)

// IsKnown reports whether k is one of the defined kinds.
func (k Kind) IsKnown() bool {
	switch k {
	case KindDocument, KindTask, KindSystem:
		return true
	}
	return false
}

// Notification is one entry in a principal's history. Records are created on
// event arrival and mutated only by read toggling.
type Notification struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Read          bool            `json:"read"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// UnreadCount derives the unread total from the history. Always computed,
// never maintained as separate mutable state, so it cannot drift.
func UnreadCount(history []Notification) int {
	count := 0
	for _, n := range history {
		if !n.Read {
			count++
		}
	}
	return count
}

// NotificationRepository persists per-principal histories. Switching
// principals swaps the active store; no history crosses principals.
type NotificationRepository interface {
	Load(ctx context.Context, principalID string) ([]Notification, error)
	Save(ctx context.Context, principalID string, history []Notification) error
	Clear(ctx context.Context, principalID string) error
	Principals(ctx context.Context) ([]string, error)
}
