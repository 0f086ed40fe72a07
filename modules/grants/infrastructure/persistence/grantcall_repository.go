package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/pkg/composables"
)

type GrantCallRepository struct{}

func NewGrantCallRepository() *GrantCallRepository {
	return &GrantCallRepository{}
}

const grantCallColumns = `id, code, name, donor, donor_code, amount, currency, status, created_at`

func scanGrantCall(row pgx.Row) (budget.GrantCall, error) {
	var gc budget.GrantCall
	var amount pgtype.Numeric
	var status string
	if err := row.Scan(&gc.ID, &gc.Code, &gc.Name, &gc.Donor, &gc.DonorCode, &amount, &gc.Currency, &status, &gc.CreatedAt); err != nil {
		return budget.GrantCall{}, err
	}
	gc.Amount = asDecimal(amount)
	gc.Status = budget.GrantCallStatus(status)
	return gc, nil
}

func (r *GrantCallRepository) CreateGrantCall(ctx context.Context, gc budget.GrantCall) (budget.GrantCall, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.GrantCall{}, err
	}
	return scanGrantCall(tx.QueryRow(ctx, `
INSERT INTO grants_grant_calls (id, code, name, donor, donor_code, amount, currency, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+grantCallColumns,
		pgUUID(gc.ID), gc.Code, gc.Name, gc.Donor, gc.DonorCode, pgNumeric(gc.Amount), gc.Currency, string(gc.Status), gc.CreatedAt))
}

func (r *GrantCallRepository) ListGrantCalls(ctx context.Context) ([]budget.GrantCall, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+grantCallColumns+` FROM grants_grant_calls ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []budget.GrantCall
	for rows.Next() {
		gc, err := scanGrantCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gc)
	}
	return out, rows.Err()
}

func (r *GrantCallRepository) GetGrantCall(ctx context.Context, id uuid.UUID) (budget.GrantCall, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.GrantCall{}, err
	}
	return scanGrantCall(tx.QueryRow(ctx, `SELECT `+grantCallColumns+` FROM grants_grant_calls WHERE id = $1`, pgUUID(id)))
}

func (r *GrantCallRepository) LockGrantCall(ctx context.Context, id uuid.UUID) (budget.GrantCall, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.GrantCall{}, err
	}
	return scanGrantCall(tx.QueryRow(ctx, `SELECT `+grantCallColumns+` FROM grants_grant_calls WHERE id = $1 FOR UPDATE`, pgUUID(id)))
}
