package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/modules/governance/domain/patchdiff"
	"github.com/voltgrid/opsconsole/pkg/composables"
	"github.com/voltgrid/opsconsole/pkg/configuration"
)

type Options struct {
	ConflictPolicy string
	// AutoApply applies a request as soon as it is approved or auto-approved.
	AutoApply bool
	Now       func() time.Time
}

type ChangeRequestService struct {
	catalog   *catalog.Catalog
	engine    *patchdiff.Engine
	repo      changerequest.Repository
	entities  changerequest.EntityStore
	policy    AutoApprovalPolicy
	approvals *ApprovalService
	opts      Options
}

func NewChangeRequestService(
	c *catalog.Catalog,
	repo changerequest.Repository,
	entities changerequest.EntityStore,
	policy AutoApprovalPolicy,
	opts Options,
) *ChangeRequestService {
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = configuration.ConflictPolicyNone
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	// Postgres keeps microseconds; truncating keeps cursors stable across stores.
	now := opts.Now
	opts.Now = func() time.Time { return now().UTC().Truncate(time.Microsecond) }
	if policy == nil {
		policy = ManualReview()
	}
	return &ChangeRequestService{
		catalog:   c,
		engine:    patchdiff.New(c),
		repo:      repo,
		entities:  entities,
		policy:    policy,
		approvals: NewApprovalService(c, repo, entities, opts.ConflictPolicy, opts.Now),
		opts:      opts,
	}
}

type SubmitParams struct {
	EntityType       string                 `json:"entityType" validate:"notblank"`
	EntityID         string                 `json:"entityId" validate:"notblank,max=128"`
	Changes          []changerequest.Change `json:"changes"`
	RequesterComment string                 `json:"requesterComment" validate:"notblank,max=2000"`
	Source           string                 `json:"source"`
	RequestedBy      string                 `json:"-"`
}

type SubmitResult struct {
	ChangeRequest  *changerequest.ChangeRequest
	AppliedChanges []changerequest.AppliedChange
}

// Submit validates the proposal against the live entity and persists a new
// Pending or AutoApproved record. Every field problem is reported at once.
func (s *ChangeRequestService) Submit(ctx context.Context, params SubmitParams) (res *SubmitResult, err error) {
	ctx, span := tracer.Start(ctx, "governance.submit", trace.WithAttributes(
		attribute.String("governance.entity_type", params.EntityType),
		attribute.String("governance.entity_id", params.EntityID),
	))
	defer func() { endSpan(span, err) }()
	defer s.observe(ctx, params.EntityType, "submit", &err)

	params.EntityID = strings.TrimSpace(params.EntityID)
	if strings.TrimSpace(params.RequestedBy) == "" {
		return nil, wrapError(&changerequest.ValidationError{Fields: []changerequest.FieldError{changerequest.RequiredField("requestedBy")}})
	}
	errs := fieldErrors(params)
	source, srcErr := changerequest.ParseSource(params.Source)
	if srcErr != nil {
		errs = append(errs, changerequest.FieldError{Field: "source", Code: changerequest.CodeInvalid, Message: srcErr.Error()})
	}

	entityType, etErr := s.catalog.ParseEntityType(params.EntityType)
	if etErr != nil || params.EntityID == "" {
		if etErr != nil && strings.TrimSpace(params.EntityType) != "" {
			errs = append(errs, changerequest.FieldError{Field: "entityType", Code: changerequest.CodeUnknownEntityType, Message: etErr.Error()})
		}
		return nil, wrapError(&changerequest.ValidationError{Fields: errs})
	}
	entitySpec, err := s.catalog.Entity(entityType)
	if err != nil {
		return nil, wrapError(err)
	}

	snapshot, err := s.entities.GetSnapshot(ctx, entityType, params.EntityID)
	var enf *changerequest.EntityNotFoundError
	if errors.As(err, &enf) && len(errs) > 0 {
		errs = append(errs, changerequest.FieldError{Field: "entityId", Code: changerequest.CodeNotFound, Message: enf.Error()})
		return nil, wrapError(&changerequest.ValidationError{Fields: errs})
	}
	if err != nil {
		return nil, wrapError(err)
	}

	diff, diffErrs := s.engine.Evaluate(entityType, snapshot, params.Changes)
	result, err := patchdiff.Conclude(diff, append(errs, diffErrs...))
	if err != nil {
		return nil, wrapError(err)
	}

	if s.opts.ConflictPolicy == configuration.ConflictPolicyRejectPending {
		if err := s.checkConflicts(ctx, entityType, params.EntityID, result.PatchDocument.Paths()); err != nil {
			return nil, wrapError(err)
		}
	}

	autoApproved, err := s.policy.AutoApprove(ctx, params.RequestedBy, entityType)
	if err != nil {
		return nil, wrapError(err)
	}

	cr, err := changerequest.Submit(changerequest.SubmitParams{
		PublicID:         uuid.New(),
		ReferencePrefix:  entitySpec.ReferencePrefix,
		EntityType:       entityType,
		EntityID:         params.EntityID,
		EntityLabel:      s.catalog.Label(entityType, params.EntityID, snapshot),
		Source:           source,
		Changes:          params.Changes,
		PatchDocument:    result.PatchDocument,
		DisplayDiff:      result.DisplayDiff,
		RequestedBy:      params.RequestedBy,
		RequesterComment: params.RequesterComment,
		AutoApproved:     autoApproved,
		Now:              s.opts.Now(),
	})
	if err != nil {
		return nil, wrapError(err)
	}
	if err := s.repo.Create(ctx, cr); err != nil {
		return nil, wrapError(err)
	}

	composables.UseLogger(ctx).WithFields(logrus.Fields{
		"public_id":     cr.PublicID.String(),
		"reference":     cr.Reference,
		"entity_type":   cr.EntityType,
		"entity_id":     cr.EntityID,
		"status":        cr.Status,
		"paths":         result.PatchDocument.Paths(),
		"requested_by":  cr.RequestedBy,
		"auto_approved": cr.AutoApproved,
	}).Info("governance.change_request.submitted")

	res = &SubmitResult{ChangeRequest: cr}
	if cr.AutoApproved && s.opts.AutoApply {
		applied, err := s.approvals.Apply(ctx, cr)
		if err != nil {
			return nil, wrapError(err)
		}
		res.ChangeRequest = applied.ChangeRequest
		res.AppliedChanges = applied.AppliedChanges
	}
	return res, nil
}

func (s *ChangeRequestService) checkConflicts(ctx context.Context, entityType catalog.EntityType, entityID string, paths []string) error {
	open, err := s.repo.ListOpenForEntity(ctx, entityType, entityID)
	if err != nil {
		return err
	}
	for _, other := range open {
		if overlap := other.Overlaps(paths); len(overlap) > 0 {
			return &changerequest.ConflictError{ConflictingID: other.PublicID.String(), Paths: overlap}
		}
	}
	return nil
}

func (s *ChangeRequestService) Approve(ctx context.Context, publicID uuid.UUID, actor, notes string) (res *ApplyResult, err error) {
	ctx, span := tracer.Start(ctx, "governance.approve", trace.WithAttributes(
		attribute.String("governance.public_id", publicID.String()),
	))
	defer func() { endSpan(span, err) }()

	var entityType string
	defer s.observe(ctx, "", "approve", &err, &entityType)

	cr, err := s.repo.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, wrapError(err)
	}
	entityType = string(cr.EntityType)

	next, err := cr.Approve(actor, notes, s.opts.Now())
	if err != nil {
		return nil, wrapError(err)
	}
	if err := s.saveTransition(ctx, next, cr.Status, changerequest.TransitionApprove); err != nil {
		return nil, wrapError(err)
	}

	composables.UseLogger(ctx).WithFields(logrus.Fields{
		"public_id":   next.PublicID.String(),
		"reference":   next.Reference,
		"approved_by": next.ApprovedBy,
	}).Info("governance.change_request.approved")

	if !s.opts.AutoApply {
		return &ApplyResult{ChangeRequest: next}, nil
	}
	applied, err := s.approvals.Apply(ctx, next)
	if err != nil {
		return nil, wrapError(err)
	}
	return applied, nil
}

// Decline rejects a Pending request. The reason is checked before anything
// is loaded, so a blank reason never reaches the store.
func (s *ChangeRequestService) Decline(ctx context.Context, publicID uuid.UUID, actor, reason string) (res *changerequest.ChangeRequest, err error) {
	ctx, span := tracer.Start(ctx, "governance.decline", trace.WithAttributes(
		attribute.String("governance.public_id", publicID.String()),
	))
	defer func() { endSpan(span, err) }()

	var entityType string
	defer s.observe(ctx, "", "decline", &err, &entityType)

	if strings.TrimSpace(reason) == "" {
		return nil, wrapError(&changerequest.ValidationError{Fields: []changerequest.FieldError{changerequest.RequiredField("reason")}})
	}

	cr, err := s.repo.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, wrapError(err)
	}
	entityType = string(cr.EntityType)

	next, err := cr.Decline(actor, reason, s.opts.Now())
	if err != nil {
		return nil, wrapError(err)
	}
	if err := s.saveTransition(ctx, next, cr.Status, changerequest.TransitionDecline); err != nil {
		return nil, wrapError(err)
	}

	composables.UseLogger(ctx).WithFields(logrus.Fields{
		"public_id":   next.PublicID.String(),
		"reference":   next.Reference,
		"declined_by": next.DeclinedBy,
	}).Info("governance.change_request.declined")
	return next, nil
}

// Apply runs the approval service for an Approved or AutoApproved request.
func (s *ChangeRequestService) Apply(ctx context.Context, publicID uuid.UUID) (res *ApplyResult, err error) {
	ctx, span := tracer.Start(ctx, "governance.apply_request", trace.WithAttributes(
		attribute.String("governance.public_id", publicID.String()),
	))
	defer func() { endSpan(span, err) }()

	var entityType string
	defer s.observe(ctx, "", "apply", &err, &entityType)

	cr, err := s.repo.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, wrapError(err)
	}
	entityType = string(cr.EntityType)

	res, err = s.approvals.Apply(ctx, cr)
	if err != nil {
		return nil, wrapError(err)
	}
	return res, nil
}

func (s *ChangeRequestService) saveTransition(ctx context.Context, next *changerequest.ChangeRequest, expected changerequest.Status, t changerequest.Transition) error {
	err := s.repo.SaveWithPrecondition(ctx, next, expected)
	var pf *changerequest.PreconditionFailedError
	if errors.As(err, &pf) {
		return &changerequest.InvalidStateTransitionError{Current: pf.Current, Transition: t}
	}
	return err
}

// observe records the operation outcome. The optional entityType pointer is
// read after the operation ran, once the record is known.
func (s *ChangeRequestService) observe(ctx context.Context, entityType, op string, errp *error, late ...*string) {
	if len(late) > 0 && late[0] != nil && *late[0] != "" {
		entityType = *late[0]
	}
	if *errp == nil {
		recordTransition(entityType, op, "ok")
		return
	}
	recordTransition(entityType, op, "rejected")
	recordRejection(*errp)
	s.logRejection(ctx, op, *errp)
}

func (s *ChangeRequestService) logRejection(ctx context.Context, op string, err error) {
	fields := logrus.Fields{"operation": op}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		fields["error_code"] = svcErr.Code
		if svcErr.Status >= 500 {
			composables.UseLogger(ctx).WithFields(fields).WithError(err).Error("governance.change_request.failed")
			return
		}
	}
	composables.UseLogger(ctx).WithFields(fields).WithError(err).Warn("governance.change_request.rejected")
}
