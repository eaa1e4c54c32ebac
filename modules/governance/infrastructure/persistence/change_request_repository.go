package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/pkg/composables"
)

const changeRequestColumns = `
	public_id,
	reference,
	entity_type,
	entity_id,
	entity_label,
	status,
	source,
	changes,
	patch_document,
	display_diff,
	requested_by,
	requested_at,
	requester_comment,
	auto_approved,
	approved_by,
	approved_at,
	approval_notes,
	declined_by,
	declined_reason,
	declined_at,
	applied_at,
	failed_at,
	failure_reason,
	updated_at`

type pgChangeRequestRepository struct{}

func NewPgChangeRequestRepository() changerequest.Repository {
	return &pgChangeRequestRepository{}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type jsonColumns struct {
	changes, patch, diff []byte
}

func encodeJSONColumns(cr *changerequest.ChangeRequest) (jsonColumns, error) {
	var out jsonColumns
	var err error
	if out.changes, err = json.Marshal(cr.Changes); err != nil {
		return out, errors.Wrap(err, "failed to encode changes")
	}
	if out.patch, err = json.Marshal(cr.PatchDocument); err != nil {
		return out, errors.Wrap(err, "failed to encode patch document")
	}
	if out.diff, err = json.Marshal(cr.DisplayDiff); err != nil {
		return out, errors.Wrap(err, "failed to encode display diff")
	}
	return out, nil
}

func (r *pgChangeRequestRepository) Create(ctx context.Context, cr *changerequest.ChangeRequest) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	cols, err := encodeJSONColumns(cr)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO governance_change_requests (`+changeRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`,
		pgUUID(cr.PublicID),
		cr.Reference,
		string(cr.EntityType),
		cr.EntityID,
		cr.EntityLabel,
		string(cr.Status),
		string(cr.Source),
		cols.changes,
		cols.patch,
		cols.diff,
		cr.RequestedBy,
		cr.RequestedAt,
		cr.RequesterComment,
		cr.AutoApproved,
		nullableText(cr.ApprovedBy),
		cr.ApprovedAt,
		nullableText(cr.ApprovalNotes),
		nullableText(cr.DeclinedBy),
		nullableText(cr.DeclinedReason),
		cr.DeclinedAt,
		cr.AppliedAt,
		cr.FailedAt,
		nullableText(cr.FailureReason),
		cr.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert change request")
	}
	return nil
}

func (r *pgChangeRequestRepository) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*changerequest.ChangeRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	row := tx.QueryRow(ctx, `SELECT `+changeRequestColumns+` FROM governance_change_requests WHERE public_id = $1`, pgUUID(publicID))
	cr, err := scanChangeRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &changerequest.NotFoundError{PublicID: publicID.String()}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get change request")
	}
	return cr, nil
}

// SaveWithPrecondition writes the mutable columns guarded by the expected status.
// Derived columns (patch document, display diff, changes) are never rewritten.
func (r *pgChangeRequestRepository) SaveWithPrecondition(ctx context.Context, cr *changerequest.ChangeRequest, expected changerequest.Status) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}

	tag, err := tx.Exec(ctx, `
		UPDATE governance_change_requests
		SET
			status = $3,
			approved_by = $4,
			approved_at = $5,
			approval_notes = $6,
			declined_by = $7,
			declined_reason = $8,
			declined_at = $9,
			applied_at = $10,
			failed_at = $11,
			failure_reason = $12,
			updated_at = $13
		WHERE public_id = $1 AND status = $2
	`,
		pgUUID(cr.PublicID),
		string(expected),
		string(cr.Status),
		nullableText(cr.ApprovedBy),
		cr.ApprovedAt,
		nullableText(cr.ApprovalNotes),
		nullableText(cr.DeclinedBy),
		nullableText(cr.DeclinedReason),
		cr.DeclinedAt,
		cr.AppliedAt,
		cr.FailedAt,
		nullableText(cr.FailureReason),
		cr.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update change request")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM governance_change_requests WHERE public_id = $1`, pgUUID(cr.PublicID)).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return &changerequest.NotFoundError{PublicID: cr.PublicID.String()}
	}
	if err != nil {
		return errors.Wrap(err, "failed to read change request status")
	}
	return &changerequest.PreconditionFailedError{
		PublicID: cr.PublicID.String(),
		Expected: expected,
		Current:  changerequest.Status(current),
	}
}

func (r *pgChangeRequestRepository) List(ctx context.Context, params changerequest.FindParams) ([]*changerequest.ChangeRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	var cursorAt pgtype.Timestamptz
	var cursorID pgtype.UUID
	if c := params.Cursor; c != nil {
		cursorAt = pgtype.Timestamptz{Time: c.RequestedAt.UTC(), Valid: true}
		cursorID = pgUUID(c.PublicID)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := tx.Query(ctx, `
		SELECT `+changeRequestColumns+`
		FROM governance_change_requests
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR entity_type = $2)
			AND ($3 = '' OR entity_id = $3)
			AND ($4::timestamptz IS NULL OR (requested_at, public_id) < ($4::timestamptz, $5::uuid))
		ORDER BY requested_at DESC, public_id DESC
		LIMIT $6
	`,
		string(params.Status),
		string(params.EntityType),
		params.EntityID,
		cursorAt,
		cursorID,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query change requests")
	}
	return collectChangeRequests(rows)
}

func (r *pgChangeRequestRepository) ListOpenForEntity(ctx context.Context, entityType catalog.EntityType, entityID string) ([]*changerequest.ChangeRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	rows, err := tx.Query(ctx, `
		SELECT `+changeRequestColumns+`
		FROM governance_change_requests
		WHERE entity_type = $1
			AND entity_id = $2
			AND status IN ('Pending', 'Approved', 'AutoApproved')
		ORDER BY requested_at ASC
	`, string(entityType), entityID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query open change requests")
	}
	return collectChangeRequests(rows)
}

func collectChangeRequests(rows pgx.Rows) ([]*changerequest.ChangeRequest, error) {
	defer rows.Close()
	var out []*changerequest.ChangeRequest
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan change request")
		}
		out = append(out, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating change requests")
	}
	return out, nil
}

func scanChangeRequest(row pgx.Row) (*changerequest.ChangeRequest, error) {
	var (
		cr                                       changerequest.ChangeRequest
		publicID                                 pgtype.UUID
		entityType, status, source               string
		changes, patch, diff                     []byte
		approvedBy, approvalNotes                *string
		declinedBy, declinedReason, failedReason *string
		requestedAt, updatedAt                   time.Time
	)
	if err := row.Scan(
		&publicID,
		&cr.Reference,
		&entityType,
		&cr.EntityID,
		&cr.EntityLabel,
		&status,
		&source,
		&changes,
		&patch,
		&diff,
		&cr.RequestedBy,
		&requestedAt,
		&cr.RequesterComment,
		&cr.AutoApproved,
		&approvedBy,
		&cr.ApprovedAt,
		&approvalNotes,
		&declinedBy,
		&declinedReason,
		&cr.DeclinedAt,
		&cr.AppliedAt,
		&cr.FailedAt,
		&failedReason,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	cr.PublicID = uuid.UUID(publicID.Bytes)
	cr.EntityType = catalog.EntityType(entityType)
	cr.Status = changerequest.Status(status)
	cr.Source = changerequest.Source(source)
	cr.RequestedAt = requestedAt.UTC()
	cr.UpdatedAt = updatedAt.UTC()
	cr.ApprovedBy = deref(approvedBy)
	cr.ApprovalNotes = deref(approvalNotes)
	cr.DeclinedBy = deref(declinedBy)
	cr.DeclinedReason = deref(declinedReason)
	cr.FailureReason = deref(failedReason)
	for _, t := range []**time.Time{&cr.ApprovedAt, &cr.DeclinedAt, &cr.AppliedAt, &cr.FailedAt} {
		if *t != nil {
			utc := (*t).UTC()
			*t = &utc
		}
	}

	if err := json.Unmarshal(changes, &cr.Changes); err != nil {
		return nil, errors.Wrap(err, "failed to decode changes")
	}
	if err := json.Unmarshal(patch, &cr.PatchDocument); err != nil {
		return nil, errors.Wrap(err, "failed to decode patch document")
	}
	if err := json.Unmarshal(diff, &cr.DisplayDiff); err != nil {
		return nil, errors.Wrap(err, "failed to decode display diff")
	}
	return &cr, nil
}
