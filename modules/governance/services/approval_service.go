package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/pkg/composables"
	"github.com/voltgrid/opsconsole/pkg/configuration"
)

type ApplyResult struct {
	ChangeRequest  *changerequest.ChangeRequest
	Entity         map[string]any
	AppliedChanges []changerequest.AppliedChange
}

// ApprovalService applies an approved request's patch to its entity and
// records the outcome. It never retries a failed application.
type ApprovalService struct {
	catalog        *catalog.Catalog
	repo           changerequest.Repository
	entities       changerequest.EntityStore
	conflictPolicy string
	now            func() time.Time
}

func NewApprovalService(c *catalog.Catalog, repo changerequest.Repository, entities changerequest.EntityStore, conflictPolicy string, now func() time.Time) *ApprovalService {
	if now == nil {
		now = time.Now
	}
	return &ApprovalService{
		catalog:        c,
		repo:           repo,
		entities:       entities,
		conflictPolicy: conflictPolicy,
		now:            now,
	}
}

// Apply moves cr from Approved or AutoApproved to Applied or Failed. A
// rejected patch op is not an error: the returned record has status Failed.
func (s *ApprovalService) Apply(ctx context.Context, cr *changerequest.ChangeRequest) (*ApplyResult, error) {
	ctx, span := tracer.Start(ctx, "governance.apply", trace.WithAttributes(
		attribute.String("governance.public_id", cr.PublicID.String()),
		attribute.String("governance.entity_type", string(cr.EntityType)),
	))
	defer span.End()

	start := time.Now()
	defer func() { governanceApplyDuration.Observe(time.Since(start).Seconds()) }()

	if !changerequest.CanTransition(cr.Status, changerequest.TransitionApply) {
		err := &changerequest.InvalidStateTransitionError{Current: cr.Status, Transition: changerequest.TransitionApply}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	before, err := s.entities.GetSnapshot(ctx, cr.EntityType, cr.EntityID)
	var enf *changerequest.EntityNotFoundError
	if errors.As(err, &enf) {
		return s.fail(ctx, span, cr, &changerequest.ApplyFailure{Cause: err})
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.conflictPolicy == configuration.ConflictPolicyDetectAtApply {
		if af := s.detectStale(cr, before); af != nil {
			return s.fail(ctx, span, cr, af)
		}
	}

	next, err := cr.MarkApplied(s.now())
	if err != nil {
		return nil, err
	}
	// The status claim runs inside ApplyPatch, before the document is stored.
	// A request already applied through another copy never reaches the entity.
	after, err := s.entities.ApplyPatch(ctx, cr.EntityType, cr.EntityID, cr.PatchDocument, func(map[string]any) error {
		return s.save(ctx, next, cr.Status)
	})
	var (
		af  *changerequest.ApplyFailure
		ist *changerequest.InvalidStateTransitionError
	)
	switch {
	case errors.As(err, &af):
		return s.fail(ctx, span, cr, af)
	case errors.As(err, &enf):
		return s.fail(ctx, span, cr, &changerequest.ApplyFailure{Cause: err})
	case errors.As(err, &ist):
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	case err != nil:
		span.RecordError(err)
		return nil, err
	}

	applied := appliedChanges(ctx, before, after)
	composables.UseLogger(ctx).WithFields(logrus.Fields{
		"public_id":   cr.PublicID.String(),
		"reference":   cr.Reference,
		"entity_type": cr.EntityType,
		"entity_id":   cr.EntityID,
		"ops":         len(cr.PatchDocument),
		"effective":   len(applied),
	}).Info("governance.change_request.applied")
	recordTransition(string(cr.EntityType), string(changerequest.TransitionApply), "applied")

	return &ApplyResult{ChangeRequest: next, Entity: after, AppliedChanges: applied}, nil
}

func (s *ApprovalService) fail(ctx context.Context, span trace.Span, cr *changerequest.ChangeRequest, af *changerequest.ApplyFailure) (*ApplyResult, error) {
	reason := af.Error()
	if af.Path == "" {
		reason = af.Cause.Error()
	}
	next, err := cr.MarkFailed(reason, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, next, cr.Status); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetStatus(codes.Error, reason)
	composables.UseLogger(ctx).WithFields(logrus.Fields{
		"public_id":      cr.PublicID.String(),
		"reference":      cr.Reference,
		"entity_type":    cr.EntityType,
		"entity_id":      cr.EntityID,
		"failed_path":    af.Path,
		"failure_reason": reason,
	}).Error("governance.change_request.apply_failed")
	recordTransition(string(cr.EntityType), string(changerequest.TransitionApply), "failed")

	return &ApplyResult{ChangeRequest: next}, nil
}

func (s *ApprovalService) save(ctx context.Context, next *changerequest.ChangeRequest, expected changerequest.Status) error {
	err := s.repo.SaveWithPrecondition(ctx, next, expected)
	var pf *changerequest.PreconditionFailedError
	if errors.As(err, &pf) {
		return &changerequest.InvalidStateTransitionError{Current: pf.Current, Transition: changerequest.TransitionApply}
	}
	return err
}

// detectStale compares the live value of every patched path with the value
// recorded at submission.
func (s *ApprovalService) detectStale(cr *changerequest.ChangeRequest, live map[string]any) *changerequest.ApplyFailure {
	for _, entry := range cr.DisplayDiff {
		spec, err := s.catalog.Resolve(cr.EntityType, entry.Path)
		if err != nil {
			return &changerequest.ApplyFailure{Path: entry.Path, Cause: err}
		}
		var current catalog.Value
		if raw, ok := catalog.Lookup(live, entry.Path); ok {
			current = catalog.FromAny(spec.Kind, raw)
		}
		if !current.Equal(entry.From) {
			return &changerequest.ApplyFailure{Path: entry.Path, Cause: changerequest.ErrStaleSnapshot}
		}
	}
	return nil
}

func appliedChanges(ctx context.Context, before, after map[string]any) []changerequest.AppliedChange {
	patch, err := jsondiff.Compare(before, after)
	if err != nil {
		composables.UseLogger(ctx).WithError(err).Warn("governance: failed to diff applied entity")
		return nil
	}
	out := make([]changerequest.AppliedChange, 0, len(patch))
	for _, op := range patch {
		out = append(out, changerequest.AppliedChange{
			Op:    op.Type,
			Path:  string(op.Path),
			Value: op.Value,
		})
	}
	return out
}
