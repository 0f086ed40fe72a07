package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fsystem/portal/modules/grants/domain/workplan"
	"github.com/fsystem/portal/pkg/composables"
)

type WorkplanRepository struct{}

func NewWorkplanRepository() *WorkplanRepository {
	return &WorkplanRepository{}
}

const workplanColumns = `id, serial, grant_serial, err_name, err_code, state, locality, title,
  requested_amount, amount, status, funding_status, cycle_id, grant_call_id,
  created_by, created_at, updated_at`

func scanWorkplan(row pgx.Row) (workplan.Workplan, error) {
	var (
		wp                 workplan.Workplan
		serial, grant      pgtype.Text
		requested, amount  pgtype.Numeric
		status, funding    string
		cycleID, grantCall pgtype.UUID
	)
	if err := row.Scan(
		&wp.ID, &serial, &grant, &wp.ERRName, &wp.ERRCode, &wp.State, &wp.Locality, &wp.Title,
		&requested, &amount, &status, &funding, &cycleID, &grantCall,
		&wp.CreatedBy, &wp.CreatedAt, &wp.UpdatedAt,
	); err != nil {
		return workplan.Workplan{}, err
	}
	wp.Serial = asNullableText(serial)
	wp.GrantSerial = asNullableText(grant)
	wp.RequestedAmount = asDecimal(requested)
	wp.Amount = asDecimal(amount)
	wp.Status = workplan.Status(status)
	wp.FundingStatus = workplan.FundingStatus(funding)
	wp.CycleID = asNullableUUID(cycleID)
	wp.GrantCallID = asNullableUUID(grantCall)
	return wp, nil
}

func collectWorkplans(rows pgx.Rows) ([]workplan.Workplan, error) {
	defer rows.Close()
	var out []workplan.Workplan
	for rows.Next() {
		wp, err := scanWorkplan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wp)
	}
	return out, rows.Err()
}

func (r *WorkplanRepository) CreateWorkplan(ctx context.Context, wp workplan.Workplan) (workplan.Workplan, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return workplan.Workplan{}, err
	}
	return scanWorkplan(tx.QueryRow(ctx, `
INSERT INTO grants_workplans (
  id, serial, grant_serial, err_name, err_code, state, locality, title,
  requested_amount, amount, status, funding_status, cycle_id, grant_call_id,
  created_by, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING `+workplanColumns,
		pgUUID(wp.ID), pgNullableText(wp.Serial), pgNullableText(wp.GrantSerial),
		wp.ERRName, wp.ERRCode, wp.State, wp.Locality, wp.Title,
		pgNumeric(wp.RequestedAmount), pgNumeric(wp.Amount), string(wp.Status), string(wp.FundingStatus),
		pgNullableUUID(wp.CycleID), pgNullableUUID(wp.GrantCallID),
		wp.CreatedBy, wp.CreatedAt, wp.UpdatedAt,
	))
}

func (r *WorkplanRepository) UpdateWorkplan(ctx context.Context, wp workplan.Workplan) (workplan.Workplan, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return workplan.Workplan{}, err
	}
	return scanWorkplan(tx.QueryRow(ctx, `
UPDATE grants_workplans SET
  serial = $2, grant_serial = $3, err_name = $4, err_code = $5, state = $6, locality = $7,
  title = $8, requested_amount = $9, amount = $10, status = $11, funding_status = $12,
  cycle_id = $13, grant_call_id = $14, updated_at = $15
WHERE id = $1
RETURNING `+workplanColumns,
		pgUUID(wp.ID), pgNullableText(wp.Serial), pgNullableText(wp.GrantSerial),
		wp.ERRName, wp.ERRCode, wp.State, wp.Locality, wp.Title,
		pgNumeric(wp.RequestedAmount), pgNumeric(wp.Amount), string(wp.Status), string(wp.FundingStatus),
		pgNullableUUID(wp.CycleID), pgNullableUUID(wp.GrantCallID), wp.UpdatedAt,
	))
}

func (r *WorkplanRepository) GetWorkplan(ctx context.Context, id uuid.UUID) (workplan.Workplan, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return workplan.Workplan{}, err
	}
	return scanWorkplan(tx.QueryRow(ctx, `SELECT `+workplanColumns+` FROM grants_workplans WHERE id = $1`, pgUUID(id)))
}

func (r *WorkplanRepository) LockWorkplan(ctx context.Context, id uuid.UUID) (workplan.Workplan, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return workplan.Workplan{}, err
	}
	return scanWorkplan(tx.QueryRow(ctx, `SELECT `+workplanColumns+` FROM grants_workplans WHERE id = $1 FOR UPDATE`, pgUUID(id)))
}

func (r *WorkplanRepository) LockWorkplans(ctx context.Context, ids []uuid.UUID) ([]workplan.Workplan, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+workplanColumns+`
FROM grants_workplans
WHERE id = ANY($1)
ORDER BY id
FOR UPDATE`, pgUUIDArray(ids))
	if err != nil {
		return nil, err
	}
	return collectWorkplans(rows)
}

func (r *WorkplanRepository) ListWorkplans(ctx context.Context, p workplan.FindParams) ([]workplan.Workplan, int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if s := strings.TrimSpace(p.State); s != "" {
		where = append(where, "lower(state) = lower("+arg(s)+")")
	}
	if p.CycleID != nil {
		where = append(where, "cycle_id = "+arg(pgUUID(*p.CycleID)))
	}
	if len(p.FundingStatus) > 0 {
		statuses := make([]string, len(p.FundingStatus))
		for i, fs := range p.FundingStatus {
			statuses[i] = string(fs)
		}
		where = append(where, "funding_status = ANY("+arg(statuses)+")")
	}
	if q := strings.TrimSpace(p.Q); q != "" {
		ph := arg("%" + escapeLike(q) + "%")
		where = append(where, "(title ILIKE "+ph+" OR err_name ILIKE "+ph+")")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM grants_workplans`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + workplanColumns + ` FROM grants_workplans` + clause + ` ORDER BY created_at, id`
	if p.Limit > 0 {
		query += " LIMIT " + arg(p.Limit)
	}
	if p.Offset > 0 {
		query += " OFFSET " + arg(p.Offset)
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectWorkplans(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

const fundingEventColumns = `id, workplan_id, transition, from_status, to_status, cycle_id, grant_call_id, state, amount, actor, reason, at`

func scanFundingEvent(row pgx.Row) (workplan.FundingEvent, error) {
	var (
		ev                 workplan.FundingEvent
		transition         string
		from, to           string
		cycleID, grantCall pgtype.UUID
		amount             pgtype.Numeric
	)
	if err := row.Scan(&ev.ID, &ev.WorkplanID, &transition, &from, &to, &cycleID, &grantCall,
		&ev.State, &amount, &ev.Actor, &ev.Reason, &ev.At); err != nil {
		return workplan.FundingEvent{}, err
	}
	ev.Transition = workplan.Transition(transition)
	ev.From = workplan.FundingStatus(from)
	ev.To = workplan.FundingStatus(to)
	ev.CycleID = asNullableUUID(cycleID)
	ev.GrantCallID = asNullableUUID(grantCall)
	ev.Amount = asDecimal(amount)
	return ev, nil
}

func (r *WorkplanRepository) InsertFundingEvent(ctx context.Context, ev workplan.FundingEvent) (workplan.FundingEvent, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return workplan.FundingEvent{}, err
	}
	return scanFundingEvent(tx.QueryRow(ctx, `
INSERT INTO grants_funding_events (`+fundingEventColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING `+fundingEventColumns,
		pgUUID(ev.ID), pgUUID(ev.WorkplanID), string(ev.Transition), string(ev.From), string(ev.To),
		pgNullableUUID(ev.CycleID), pgNullableUUID(ev.GrantCallID), ev.State, pgNumeric(ev.Amount),
		ev.Actor, ev.Reason, ev.At,
	))
}

func (r *WorkplanRepository) ListFundingEvents(ctx context.Context, workplanID uuid.UUID) ([]workplan.FundingEvent, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+fundingEventColumns+` FROM grants_funding_events WHERE workplan_id = $1 ORDER BY at, id`, pgUUID(workplanID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []workplan.FundingEvent
	for rows.Next() {
		ev, err := scanFundingEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

const approvalColumns = `id, workplan_id, decision, approved_amount, approver, comment, at`

func scanApproval(row pgx.Row) (workplan.Approval, error) {
	var a workplan.Approval
	var decision string
	var amount pgtype.Numeric
	if err := row.Scan(&a.ID, &a.WorkplanID, &decision, &amount, &a.Approver, &a.Comment, &a.At); err != nil {
		return workplan.Approval{}, err
	}
	a.Decision = workplan.Decision(decision)
	a.ApprovedAmount = asNullableDecimal(amount)
	return a, nil
}

func (r *WorkplanRepository) InsertApproval(ctx context.Context, a workplan.Approval) (workplan.Approval, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return workplan.Approval{}, err
	}
	return scanApproval(tx.QueryRow(ctx, `
INSERT INTO grants_approvals (`+approvalColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+approvalColumns,
		pgUUID(a.ID), pgUUID(a.WorkplanID), string(a.Decision), pgNullableNumeric(a.ApprovedAmount),
		a.Approver, a.Comment, a.At,
	))
}

func (r *WorkplanRepository) ListApprovals(ctx context.Context, workplanID uuid.UUID) ([]workplan.Approval, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+approvalColumns+` FROM grants_approvals WHERE workplan_id = $1 ORDER BY at, id`, pgUUID(workplanID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []workplan.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
