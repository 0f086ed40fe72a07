package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fsystem/portal/modules/grants/domain/mou"
	"github.com/fsystem/portal/pkg/composables"
)

type MOURepository struct{}

func NewMOURepository() *MOURepository {
	return &MOURepository{}
}

const mouSelect = `
SELECT m.id, m.code, m.err_code, m.partner_name, m.start_date, m.end_date, m.total_amount,
  m.status, m.signed_at, m.created_by, m.created_at,
  ARRAY(SELECT mw.workplan_id FROM grants_mou_workplans mw WHERE mw.mou_id = m.id ORDER BY mw.position)
FROM grants_mous m`

func scanMOU(row pgx.Row) (mou.MOU, error) {
	var (
		m          mou.MOU
		start, end pgtype.Date
		total      pgtype.Numeric
		status     string
		signedAt   pgtype.Timestamptz
		ids        pgtype.FlatArray[pgtype.UUID]
	)
	if err := row.Scan(&m.ID, &m.Code, &m.ERRCode, &m.PartnerName, &start, &end, &total,
		&status, &signedAt, &m.CreatedBy, &m.CreatedAt, &ids); err != nil {
		return mou.MOU{}, err
	}
	m.StartDate = start.Time
	m.EndDate = end.Time
	m.TotalAmount = asDecimal(total)
	m.Status = mou.Status(status)
	m.SignedAt = asNullableTime(signedAt)
	m.WorkplanIDs = make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		m.WorkplanIDs = append(m.WorkplanIDs, uuid.UUID(id.Bytes))
	}
	return m, nil
}

// CreateMOU stores the header and binds the workplans in the given order.
// A workplan already bound elsewhere fails on grants_mou_workplans_workplan_id_key.
func (r *MOURepository) CreateMOU(ctx context.Context, m mou.MOU) (mou.MOU, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return mou.MOU{}, err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO grants_mous (id, code, err_code, partner_name, start_date, end_date, total_amount, status, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pgUUID(m.ID), m.Code, m.ERRCode, m.PartnerName, pgDate(m.StartDate), pgDate(m.EndDate),
		pgNumeric(m.TotalAmount), string(m.Status), m.CreatedBy, m.CreatedAt,
	); err != nil {
		return mou.MOU{}, err
	}
	for i, id := range m.WorkplanIDs {
		if _, err := tx.Exec(ctx, `
INSERT INTO grants_mou_workplans (mou_id, workplan_id, position) VALUES ($1, $2, $3)`,
			pgUUID(m.ID), pgUUID(id), i); err != nil {
			return mou.MOU{}, err
		}
	}
	return r.GetMOU(ctx, m.ID)
}

func (r *MOURepository) GetMOU(ctx context.Context, id uuid.UUID) (mou.MOU, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return mou.MOU{}, err
	}
	return scanMOU(tx.QueryRow(ctx, mouSelect+` WHERE m.id = $1`, pgUUID(id)))
}

func (r *MOURepository) LockMOU(ctx context.Context, id uuid.UUID) (mou.MOU, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return mou.MOU{}, err
	}
	return scanMOU(tx.QueryRow(ctx, mouSelect+` WHERE m.id = $1 FOR UPDATE OF m`, pgUUID(id)))
}

func (r *MOURepository) ListMOUs(ctx context.Context) ([]mou.MOU, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, mouSelect+` ORDER BY m.created_at DESC, m.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []mou.MOU
	for rows.Next() {
		m, err := scanMOU(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MOURepository) MarkMOUSigned(ctx context.Context, id uuid.UUID, at time.Time) (mou.MOU, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return mou.MOU{}, err
	}
	tag, err := tx.Exec(ctx, `UPDATE grants_mous SET status = $2, signed_at = $3 WHERE id = $1`,
		pgUUID(id), string(mou.StatusSigned), at)
	if err != nil {
		return mou.MOU{}, err
	}
	if tag.RowsAffected() == 0 {
		return mou.MOU{}, pgx.ErrNoRows
	}
	return r.GetMOU(ctx, id)
}

func (r *MOURepository) WorkplansInMOU(ctx context.Context, workplanIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(workplanIDs) == 0 {
		return nil, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT workplan_id FROM grants_mou_workplans WHERE workplan_id = ANY($1) ORDER BY workplan_id`,
		pgUUIDArray(workplanIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
