package changerequest

import (
	"time"

	"github.com/google/uuid"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
)

type EventType string

const (
	EventSubmitted EventType = "change_request.submitted"
	EventApproved  EventType = "change_request.approved"
	EventDeclined  EventType = "change_request.declined"
	EventApplied   EventType = "change_request.applied"
	EventFailed    EventType = "change_request.failed"
)

// AppliedChange is one effective entity mutation observed after an apply.
type AppliedChange struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Event is published by the boundary after a unit of work commits.
type Event struct {
	Type           EventType          `json:"type"`
	PublicID       uuid.UUID          `json:"publicId"`
	Reference      string             `json:"reference"`
	EntityType     catalog.EntityType `json:"entityType"`
	EntityID       string             `json:"entityId"`
	Status         Status             `json:"status"`
	Actor          string             `json:"actor"`
	OccurredAt     time.Time          `json:"occurredAtUtc"`
	AppliedChanges []AppliedChange    `json:"appliedChanges,omitempty"`
}

func NewEvent(t EventType, cr *ChangeRequest, actor string, at time.Time) *Event {
	return &Event{
		Type:       t,
		PublicID:   cr.PublicID,
		Reference:  cr.Reference,
		EntityType: cr.EntityType,
		EntityID:   cr.EntityID,
		Status:     cr.Status,
		Actor:      actor,
		OccurredAt: at.UTC(),
	}
}

// EventForStatus maps the status a request just entered to its event type.
func EventForStatus(s Status) EventType {
	switch s {
	case StatusApproved:
		return EventApproved
	case StatusDeclined:
		return EventDeclined
	case StatusApplied:
		return EventApplied
	case StatusFailed:
		return EventFailed
	default:
		return EventSubmitted
	}
}
