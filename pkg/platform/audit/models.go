package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Category classifies events by their primary purpose so sinks can apply
// different retention.
type Category string

const (
	// CategoryCompliance covers changes to the clinical record itself.
	CategoryCompliance Category = "compliance"
	// CategorySecurity covers access control changes.
	CategorySecurity Category = "security"
	// CategoryOperations covers routine reads.
	CategoryOperations Category = "operations"
)

// Action names match the activity log kinds.
type Action string

const (
	ActionRecordIssued   Action = "record_issued"
	ActionRecordUpdated  Action = "record_updated"
	ActionRecordAccessed Action = "record_accessed"
	ActionRecordRemoved  Action = "record_removed"
	ActionAccessRevoked  Action = "access_revoked"
)

var actionCategories = map[Action]Category{
	ActionRecordIssued:   CategoryCompliance,
	ActionRecordUpdated:  CategoryCompliance,
	ActionRecordRemoved:  CategoryCompliance,
	ActionAccessRevoked:  CategorySecurity,
	ActionRecordAccessed: CategoryOperations,
}

// Category returns the category for a. Unknown actions default to
// CategoryOperations.
func (a Action) Category() Category {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryOperations
}

// Event mirrors one committed activity log entry off-box. Subject is the
// caller-hashed identity in hex; no fragment content is ever carried.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Category  Category  `json:"category"`
	Action    Action    `json:"action"`
	Offset    uint64    `json:"offset"`
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	Record    string    `json:"record"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// NewEvent fills in the id and category.
func NewEvent(action Action, offset uint64, subject, issuer, record string, at time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Category:  action.Category(),
		Action:    action,
		Offset:    offset,
		Subject:   subject,
		Issuer:    issuer,
		Record:    record,
		Timestamp: at,
	}
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Sink persists a batch of events somewhere durable.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}
