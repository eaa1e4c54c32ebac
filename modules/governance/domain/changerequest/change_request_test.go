package changerequest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
)

var (
	fixedNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	fixedID  = uuid.MustParse("3f9a1c2d-0000-4000-8000-000000000042")
)

func submitParams() SubmitParams {
	return SubmitParams{
		PublicID:        fixedID,
		ReferencePrefix: "agt",
		EntityType:      catalog.Agent,
		EntityID:        "42",
		EntityLabel:     "Kano North",
		Changes:         []Change{{Path: "status", RawValue: "SUSPENDED"}},
		PatchDocument:   PatchDocument{{Op: OpReplace, Path: "status", Value: catalog.Enum("SUSPENDED")}},
		DisplayDiff: DisplayDiff{{
			Path: "status", From: catalog.Enum("ACTIVE"), To: catalog.Enum("SUSPENDED"),
		}},
		RequestedBy:      "ops.user",
		RequesterComment: "policy violation",
		Now:              fixedNow,
	}
}

func mustSubmit(t *testing.T, mutate func(*SubmitParams)) *ChangeRequest {
	t.Helper()
	p := submitParams()
	if mutate != nil {
		mutate(&p)
	}
	cr, err := Submit(p)
	require.NoError(t, err)
	return cr
}

func TestSubmit(t *testing.T) {
	cr := mustSubmit(t, nil)
	require.Equal(t, StatusPending, cr.Status)
	require.Equal(t, SourceManual, cr.Source)
	require.Equal(t, "CR-AGT-20261015-3F9A1C", cr.Reference)
	require.Equal(t, fixedNow, cr.RequestedAt)
	require.False(t, cr.AutoApproved)
	require.Nil(t, cr.ApprovedAt)
}

func TestSubmit_AutoApproved(t *testing.T) {
	cr := mustSubmit(t, func(p *SubmitParams) { p.AutoApproved = true })
	require.Equal(t, StatusAutoApproved, cr.Status)
	require.True(t, cr.AutoApproved)
	require.Equal(t, AutoApprover, cr.ApprovedBy)
	require.Equal(t, cr.RequestedAt, *cr.ApprovedAt)
}

func TestSubmit_Rejects(t *testing.T) {
	t.Run("blank comment", func(t *testing.T) {
		p := submitParams()
		p.RequesterComment = "   "
		_, err := Submit(p)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "requesterComment", verr.Fields[0].Field)
		require.Equal(t, CodeRequired, verr.Fields[0].Code)
	})

	t.Run("empty patch", func(t *testing.T) {
		p := submitParams()
		p.PatchDocument = nil
		p.DisplayDiff = nil
		_, err := Submit(p)
		require.ErrorIs(t, err, ErrNoEffectiveChanges)
	})

	t.Run("patch and diff disagree", func(t *testing.T) {
		p := submitParams()
		p.DisplayDiff = DisplayDiff{{Path: "commission"}}
		_, err := Submit(p)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestApprove(t *testing.T) {
	cr := mustSubmit(t, nil)
	later := fixedNow.Add(time.Hour)

	approved, err := cr.Approve("reviewer", " confirmed ", later)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, "reviewer", approved.ApprovedBy)
	require.Equal(t, "confirmed", approved.ApprovalNotes)
	require.Equal(t, later, *approved.ApprovedAt)
	require.Equal(t, StatusPending, cr.Status, "receiver must not change")
}

func TestApprove_OnlyFromPending(t *testing.T) {
	for _, s := range []Status{StatusAutoApproved, StatusApproved, StatusDeclined, StatusApplied, StatusFailed} {
		t.Run(string(s), func(t *testing.T) {
			cr := mustSubmit(t, nil)
			cr.Status = s
			before := cr.Clone()

			_, err := cr.Approve("reviewer", "", fixedNow)
			var ist *InvalidStateTransitionError
			require.ErrorAs(t, err, &ist)
			require.Equal(t, s, ist.Current)
			require.Equal(t, TransitionApprove, ist.Transition)
			require.Equal(t, before, cr)
		})
	}
}

func TestDecline(t *testing.T) {
	cr := mustSubmit(t, nil)

	_, err := cr.Decline("reviewer", "", fixedNow)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "reason", verr.Fields[0].Field)

	declined, err := cr.Decline("reviewer", "duplicate", fixedNow)
	require.NoError(t, err)
	require.Equal(t, StatusDeclined, declined.Status)
	require.Equal(t, "duplicate", declined.DeclinedReason)
	require.Equal(t, "reviewer", declined.DeclinedBy)

	_, err = declined.Decline("reviewer", "again", fixedNow)
	var ist *InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)

	_, err = declined.Decline("reviewer", " ", fixedNow)
	require.ErrorAs(t, err, &verr, "empty reason is a validation error regardless of status")
}

func TestApplyTransitions(t *testing.T) {
	for _, start := range []Status{StatusApproved, StatusAutoApproved} {
		cr := mustSubmit(t, nil)
		cr.Status = start

		applied, err := cr.MarkApplied(fixedNow)
		require.NoError(t, err)
		require.Equal(t, StatusApplied, applied.Status)
		require.NotNil(t, applied.AppliedAt)

		failed, err := cr.MarkFailed("status: enum value no longer valid", fixedNow)
		require.NoError(t, err)
		require.Equal(t, StatusFailed, failed.Status)
		require.NotNil(t, failed.FailedAt)

		_, err = applied.MarkApplied(fixedNow)
		require.Error(t, err)
		_, err = failed.MarkFailed("again", fixedNow)
		require.Error(t, err)
	}

	pending := mustSubmit(t, nil)
	_, err := pending.MarkApplied(fixedNow)
	var ist *InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)
	require.Equal(t, StatusPending, ist.Current)
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, s := range []Status{StatusDeclined, StatusApplied, StatusFailed} {
		require.True(t, s.Terminal())
		for _, tr := range []Transition{TransitionApprove, TransitionDecline, TransitionApply} {
			require.False(t, CanTransition(s, tr), "%s -> %s", s, tr)
		}
	}
}

func TestClone_IsDeep(t *testing.T) {
	cr := mustSubmit(t, func(p *SubmitParams) { p.AutoApproved = true })
	cp := cr.Clone()
	cp.PatchDocument[0].Path = "mutated"
	*cp.ApprovedAt = time.Time{}
	require.Equal(t, "status", cr.PatchDocument[0].Path)
	require.Equal(t, fixedNow, *cr.ApprovedAt)
}

func TestDisplayDiff_JSONKeepsOrder(t *testing.T) {
	diff := DisplayDiff{
		{Path: "status", From: catalog.Enum("ACTIVE"), To: catalog.Enum("SUSPENDED")},
		{Path: "commission", From: catalog.Null(), To: catalog.Number(2.5)},
	}
	data, err := json.Marshal(diff)
	require.NoError(t, err)
	require.Equal(t,
		`{"status":{"from":{"kind":"enum","value":"ACTIVE"},"to":{"kind":"enum","value":"SUSPENDED"}},"commission":{"from":null,"to":{"kind":"number","value":2.5}}}`,
		string(data))

	var back DisplayDiff
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, []string{"status", "commission"}, back.Paths())
	e, ok := back.Get("commission")
	require.True(t, ok)
	require.False(t, e.From.IsSet())
	require.True(t, e.To.Equal(catalog.Number(2.5)))
}

func TestCursor(t *testing.T) {
	c := Cursor{RequestedAt: fixedNow.Add(123 * time.Nanosecond), PublicID: fixedID}
	parsed, err := ParseCursor(c.String())
	require.NoError(t, err)
	require.Equal(t, c, *parsed)

	empty, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, empty)

	for _, raw := range []string{"updated_at:x:id:y", "requested_at::id:" + fixedID.String(), "requested_at:2026-10-15T09:30:00Z:id:nope"} {
		_, err := ParseCursor(raw)
		require.Error(t, err, raw)
	}
}

func TestParseStatusAndSource(t *testing.T) {
	s, err := ParseStatus("autoapproved")
	require.NoError(t, err)
	require.Equal(t, StatusAutoApproved, s)
	_, err = ParseStatus("withdrawn")
	require.Error(t, err)

	src, err := ParseSource("")
	require.NoError(t, err)
	require.Equal(t, SourceManual, src)
	src, err = ParseSource("import")
	require.NoError(t, err)
	require.Equal(t, SourceImport, src)
	_, err = ParseSource("email")
	require.Error(t, err)
}

func TestApplyFailureUnwraps(t *testing.T) {
	err := &ApplyFailure{Path: "status", Cause: ErrStaleSnapshot}
	require.ErrorIs(t, err, ErrStaleSnapshot)
	require.Contains(t, err.Error(), "status")
}
