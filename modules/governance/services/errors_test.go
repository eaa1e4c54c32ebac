package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/modules/governance/infrastructure/persistence"
)

func TestWrapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		reason string
	}{
		{"validation", &changerequest.ValidationError{Fields: []changerequest.FieldError{changerequest.RequiredField("reason")}}, http.StatusUnprocessableEntity, "CR_VALIDATION_FAILED", "validation"},
		{"no effective changes", changerequest.ErrNoEffectiveChanges, http.StatusUnprocessableEntity, "CR_NO_EFFECTIVE_CHANGES", "no_effective_changes"},
		{"state", &changerequest.InvalidStateTransitionError{Current: changerequest.StatusApplied, Transition: changerequest.TransitionApprove}, http.StatusConflict, "CR_INVALID_STATE_TRANSITION", "invalid_state_transition"},
		{"not found", &changerequest.NotFoundError{PublicID: "x"}, http.StatusNotFound, "CR_NOT_FOUND", "not_found"},
		{"entity not found", &changerequest.EntityNotFoundError{EntityType: "Agent", EntityID: "1"}, http.StatusNotFound, "CR_ENTITY_NOT_FOUND", "not_found"},
		{"conflict", &changerequest.ConflictError{ConflictingID: "y", Paths: []string{"status"}}, http.StatusConflict, "CR_CONFLICT", "conflict"},
		{"unknown entity type", &catalog.UnknownEntityTypeError{EntityType: "Ship"}, http.StatusNotFound, "CR_UNKNOWN_ENTITY_TYPE", "not_found"},
		{"other", errors.New("connection reset"), http.StatusInternalServerError, "CR_INTERNAL", "other"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := wrapError(tc.err)
			var svcErr *ServiceError
			require.ErrorAs(t, err, &svcErr)
			require.Equal(t, tc.status, svcErr.Status)
			require.Equal(t, tc.code, svcErr.Code)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.reason, rejectionReason(err))
			require.Same(t, svcErr, wrapError(err), "already wrapped")
		})
	}
	require.NoError(t, wrapError(nil))
}

func TestRecordTransition(t *testing.T) {
	counter := governanceTransitions.WithLabelValues("Meter", "approve", "ok")
	before := testutil.ToFloat64(counter)
	recordTransition("Meter", "approve", "ok")
	require.InDelta(t, before+1, testutil.ToFloat64(counter), 0.0001)

	unknown := governanceTransitions.WithLabelValues("unknown", "decline", "rejected")
	before = testutil.ToFloat64(unknown)
	recordTransition("", "decline", "rejected")
	require.InDelta(t, before+1, testutil.ToFloat64(unknown), 0.0001)

	conflicts := governanceRejections.WithLabelValues("conflict")
	before = testutil.ToFloat64(conflicts)
	recordRejection(wrapError(&changerequest.ConflictError{}))
	require.InDelta(t, before+1, testutil.ToFloat64(conflicts), 0.0001)
}

func TestChangeRequestService_ApplyRecordsRejection(t *testing.T) {
	ctx := context.Background()
	c, err := catalog.Default()
	require.NoError(t, err)
	entities := persistence.NewMemoryEntityStore(persistence.NewPatchApplier(c))
	require.NoError(t, entities.Put(catalog.Meter, "M-1", map[string]any{"meterNumber": "MTR-1", "status": "ACTIVE"}))
	svc := NewChangeRequestService(c, persistence.NewMemoryChangeRequestRepository(), entities, nil, Options{})

	res, err := svc.Submit(ctx, SubmitParams{
		EntityType:       "Meter",
		EntityID:         "M-1",
		Changes:          []changerequest.Change{{Path: "status", RawValue: "FAULTY"}},
		RequesterComment: "tamper report",
		RequestedBy:      "ops.user",
	})
	require.NoError(t, err)

	rejected := governanceTransitions.WithLabelValues("Meter", "apply", "rejected")
	invalid := governanceRejections.WithLabelValues("invalid_state_transition")
	notFound := governanceRejections.WithLabelValues("not_found")
	beforeRejected := testutil.ToFloat64(rejected)
	beforeInvalid := testutil.ToFloat64(invalid)
	beforeNotFound := testutil.ToFloat64(notFound)

	_, err = svc.Apply(ctx, res.ChangeRequest.PublicID)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, http.StatusConflict, svcErr.Status)
	require.InDelta(t, beforeRejected+1, testutil.ToFloat64(rejected), 0.0001)
	require.InDelta(t, beforeInvalid+1, testutil.ToFloat64(invalid), 0.0001)

	_, err = svc.Apply(ctx, uuid.New())
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, http.StatusNotFound, svcErr.Status)
	require.InDelta(t, beforeNotFound+1, testutil.ToFloat64(notFound), 0.0001)
}

func TestFieldErrors(t *testing.T) {
	errs := fieldErrors(SubmitParams{EntityType: "Agent", EntityID: " "})
	require.Equal(t, []changerequest.FieldError{
		{Field: "entityId", Code: changerequest.CodeRequired, Message: "entityId is required"},
		{Field: "requesterComment", Code: changerequest.CodeRequired, Message: "requesterComment is required"},
	}, errs)

	long := make([]byte, 129)
	for i := range long {
		long[i] = 'x'
	}
	errs = fieldErrors(SubmitParams{EntityType: "Agent", EntityID: string(long), RequesterComment: "ok"})
	require.Len(t, errs, 1)
	require.Equal(t, changerequest.CodeInvalid, errs[0].Code)
	require.Equal(t, "entityId must be at most 128 characters", errs[0].Message)
}
