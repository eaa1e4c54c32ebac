package changerequest

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
)

const AutoApprover = "policy"

type ChangeRequest struct {
	PublicID    uuid.UUID          `json:"publicId"`
	Reference   string             `json:"reference"`
	EntityType  catalog.EntityType `json:"entityType"`
	EntityID    string             `json:"entityId"`
	EntityLabel string             `json:"entityLabel"`
	Status      Status             `json:"status"`
	Source      Source             `json:"source"`

	Changes       []Change      `json:"changes"`
	PatchDocument PatchDocument `json:"patchDocument"`
	DisplayDiff   DisplayDiff   `json:"displayDiff"`

	RequestedBy      string    `json:"requestedBy"`
	RequestedAt      time.Time `json:"requestedAtUtc"`
	RequesterComment string    `json:"requesterComment"`

	AutoApproved  bool       `json:"autoApproved"`
	ApprovedBy    string     `json:"approvedBy,omitempty"`
	ApprovedAt    *time.Time `json:"approvedAtUtc,omitempty"`
	ApprovalNotes string     `json:"approvalNotes,omitempty"`

	DeclinedBy     string     `json:"declinedBy,omitempty"`
	DeclinedReason string     `json:"declinedReason,omitempty"`
	DeclinedAt     *time.Time `json:"declinedAtUtc,omitempty"`

	AppliedAt     *time.Time `json:"appliedAtUtc,omitempty"`
	FailedAt      *time.Time `json:"failedAtUtc,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`

	UpdatedAt time.Time `json:"updatedAtUtc"`
}

type SubmitParams struct {
	PublicID         uuid.UUID
	ReferencePrefix  string
	EntityType       catalog.EntityType
	EntityID         string
	EntityLabel      string
	Source           Source
	Changes          []Change
	PatchDocument    PatchDocument
	DisplayDiff      DisplayDiff
	RequestedBy      string
	RequesterComment string
	AutoApproved     bool
	Now              time.Time
}

// Submit creates a new record in its start state: Pending, or AutoApproved
// when the policy designated it so.
func Submit(p SubmitParams) (*ChangeRequest, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(p.RequesterComment) == "" {
		verr.Add(RequiredField("requesterComment"))
	}
	if strings.TrimSpace(p.RequestedBy) == "" {
		verr.Add(RequiredField("requestedBy"))
	}
	if strings.TrimSpace(p.EntityID) == "" {
		verr.Add(RequiredField("entityId"))
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	if len(p.PatchDocument) == 0 {
		return nil, ErrNoEffectiveChanges
	}
	if !slices.Equal(p.PatchDocument.Paths(), p.DisplayDiff.Paths()) {
		return nil, &ValidationError{Fields: []FieldError{{
			Field:   "patchDocument",
			Code:    CodeInvalid,
			Message: "patch document and display diff paths differ",
		}}}
	}

	id := p.PublicID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := p.Now.UTC()
	source := p.Source
	if source == "" {
		source = SourceManual
	}

	cr := &ChangeRequest{
		PublicID:         id,
		Reference:        NewReference(p.ReferencePrefix, now, id),
		EntityType:       p.EntityType,
		EntityID:         p.EntityID,
		EntityLabel:      p.EntityLabel,
		Status:           StatusPending,
		Source:           source,
		Changes:          slices.Clone(p.Changes),
		PatchDocument:    slices.Clone(p.PatchDocument),
		DisplayDiff:      slices.Clone(p.DisplayDiff),
		RequestedBy:      strings.TrimSpace(p.RequestedBy),
		RequestedAt:      now,
		RequesterComment: strings.TrimSpace(p.RequesterComment),
		UpdatedAt:        now,
	}
	if p.AutoApproved {
		cr.Status = StatusAutoApproved
		cr.AutoApproved = true
		cr.ApprovedBy = AutoApprover
		cr.ApprovedAt = &now
	}
	return cr, nil
}

// Clone returns a deep copy. Transition methods never touch the receiver.
func (cr *ChangeRequest) Clone() *ChangeRequest {
	cp := *cr
	cp.Changes = slices.Clone(cr.Changes)
	cp.PatchDocument = slices.Clone(cr.PatchDocument)
	cp.DisplayDiff = slices.Clone(cr.DisplayDiff)
	cp.ApprovedAt = cloneTime(cr.ApprovedAt)
	cp.DeclinedAt = cloneTime(cr.DeclinedAt)
	cp.AppliedAt = cloneTime(cr.AppliedAt)
	cp.FailedAt = cloneTime(cr.FailedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (cr *ChangeRequest) guard(t Transition) error {
	if !CanTransition(cr.Status, t) {
		return &InvalidStateTransitionError{Current: cr.Status, Transition: t}
	}
	return nil
}

func (cr *ChangeRequest) Approve(actor, notes string, now time.Time) (*ChangeRequest, error) {
	if err := cr.guard(TransitionApprove); err != nil {
		return nil, err
	}
	if strings.TrimSpace(actor) == "" {
		return nil, requiredError("approvedBy")
	}
	now = now.UTC()
	next := cr.Clone()
	next.Status = StatusApproved
	next.ApprovedBy = strings.TrimSpace(actor)
	next.ApprovedAt = &now
	next.ApprovalNotes = strings.TrimSpace(notes)
	next.UpdatedAt = now
	return next, nil
}

// Decline validates the reason before looking at the status, so an empty
// reason is always a ValidationError.
func (cr *ChangeRequest) Decline(actor, reason string, now time.Time) (*ChangeRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, requiredError("reason")
	}
	if err := cr.guard(TransitionDecline); err != nil {
		return nil, err
	}
	now = now.UTC()
	next := cr.Clone()
	next.Status = StatusDeclined
	next.DeclinedBy = strings.TrimSpace(actor)
	next.DeclinedReason = strings.TrimSpace(reason)
	next.DeclinedAt = &now
	next.UpdatedAt = now
	return next, nil
}

func (cr *ChangeRequest) MarkApplied(now time.Time) (*ChangeRequest, error) {
	if err := cr.guard(TransitionApply); err != nil {
		return nil, err
	}
	now = now.UTC()
	next := cr.Clone()
	next.Status = StatusApplied
	next.AppliedAt = &now
	next.UpdatedAt = now
	return next, nil
}

func (cr *ChangeRequest) MarkFailed(reason string, now time.Time) (*ChangeRequest, error) {
	if err := cr.guard(TransitionApply); err != nil {
		return nil, err
	}
	now = now.UTC()
	next := cr.Clone()
	next.Status = StatusFailed
	next.FailureReason = reason
	next.FailedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// Overlaps returns the patch paths that also appear in paths.
func (cr *ChangeRequest) Overlaps(paths []string) []string {
	var out []string
	for _, p := range cr.PatchDocument.Paths() {
		if slices.Contains(paths, p) {
			out = append(out, p)
		}
	}
	return out
}
