package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/pkg/composables"
)

type CycleRepository struct{}

func NewCycleRepository() *CycleRepository {
	return &CycleRepository{}
}

const cycleColumns = `id, name, year, status, created_at, updated_at`

func scanCycle(row pgx.Row) (budget.Cycle, error) {
	var c budget.Cycle
	var status string
	if err := row.Scan(&c.ID, &c.Name, &c.Year, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return budget.Cycle{}, err
	}
	c.Status = budget.CycleStatus(status)
	return c, nil
}

func collectCycles(rows pgx.Rows) ([]budget.Cycle, error) {
	defer rows.Close()
	out := make([]budget.Cycle, 0, 8)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CycleRepository) CreateCycle(ctx context.Context, c budget.Cycle) (budget.Cycle, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.Cycle{}, err
	}
	return scanCycle(tx.QueryRow(ctx, `
INSERT INTO grants_cycles (id, name, year, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+cycleColumns,
		pgUUID(c.ID), c.Name, c.Year, string(c.Status), c.CreatedAt, c.UpdatedAt))
}

func (r *CycleRepository) ListCycles(ctx context.Context) ([]budget.Cycle, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+cycleColumns+` FROM grants_cycles ORDER BY year DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	return collectCycles(rows)
}

func (r *CycleRepository) GetCycle(ctx context.Context, id uuid.UUID) (budget.Cycle, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.Cycle{}, err
	}
	return scanCycle(tx.QueryRow(ctx, `SELECT `+cycleColumns+` FROM grants_cycles WHERE id = $1`, pgUUID(id)))
}

// LockCycles takes FOR UPDATE locks in id order so two writers touching the
// same pair of cycles cannot deadlock.
func (r *CycleRepository) LockCycles(ctx context.Context, ids []uuid.UUID) ([]budget.Cycle, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+cycleColumns+`
FROM grants_cycles
WHERE id = ANY($1)
ORDER BY id
FOR UPDATE`, pgUUIDArray(ids))
	if err != nil {
		return nil, err
	}
	return collectCycles(rows)
}

func (r *CycleRepository) SetCycleStatus(ctx context.Context, id uuid.UUID, status budget.CycleStatus) (budget.Cycle, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.Cycle{}, err
	}
	return scanCycle(tx.QueryRow(ctx, `
UPDATE grants_cycles SET status = $2, updated_at = now()
WHERE id = $1
RETURNING `+cycleColumns, pgUUID(id), string(status)))
}

func scanInclusion(row pgx.Row) (budget.Inclusion, error) {
	var inc budget.Inclusion
	var amount pgtype.Numeric
	if err := row.Scan(&inc.CycleID, &inc.GrantCallID, &amount); err != nil {
		return budget.Inclusion{}, err
	}
	inc.Amount = asDecimal(amount)
	return inc, nil
}

func (r *CycleRepository) ListInclusions(ctx context.Context, cycleID uuid.UUID) ([]budget.Inclusion, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT i.cycle_id, i.grant_call_id, i.amount
FROM grants_inclusions i
JOIN grants_grant_calls g ON g.id = i.grant_call_id
WHERE i.cycle_id = $1
ORDER BY g.code`, pgUUID(cycleID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []budget.Inclusion
	for rows.Next() {
		inc, err := scanInclusion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (r *CycleRepository) GetInclusion(ctx context.Context, cycleID, grantCallID uuid.UUID) (budget.Inclusion, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.Inclusion{}, err
	}
	return scanInclusion(tx.QueryRow(ctx, `
SELECT cycle_id, grant_call_id, amount
FROM grants_inclusions
WHERE cycle_id = $1 AND grant_call_id = $2`, pgUUID(cycleID), pgUUID(grantCallID)))
}

func (r *CycleRepository) UpsertInclusion(ctx context.Context, inc budget.Inclusion) (budget.Inclusion, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.Inclusion{}, err
	}
	return scanInclusion(tx.QueryRow(ctx, `
INSERT INTO grants_inclusions (cycle_id, grant_call_id, amount)
VALUES ($1, $2, $3)
ON CONFLICT (cycle_id, grant_call_id) DO UPDATE SET amount = EXCLUDED.amount
RETURNING cycle_id, grant_call_id, amount`,
		pgUUID(inc.CycleID), pgUUID(inc.GrantCallID), pgNumeric(inc.Amount)))
}

func (r *CycleRepository) SumInclusionsForGrantCall(ctx context.Context, grantCallID, excludeCycleID uuid.UUID) (decimal.Decimal, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	var sum pgtype.Numeric
	if err := tx.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0)
FROM grants_inclusions
WHERE grant_call_id = $1 AND cycle_id <> $2`, pgUUID(grantCallID), pgUUID(excludeCycleID)).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return asDecimal(sum), nil
}

const trancheColumns = `id, cycle_id, number, amount, released_at`

func scanTranche(row pgx.Row) (budget.Tranche, error) {
	var t budget.Tranche
	var amount pgtype.Numeric
	var released pgtype.Timestamptz
	if err := row.Scan(&t.ID, &t.CycleID, &t.Number, &amount, &released); err != nil {
		return budget.Tranche{}, err
	}
	t.Amount = asDecimal(amount)
	t.ReleasedAt = asNullableTime(released)
	return t, nil
}

func (r *CycleRepository) ListTranches(ctx context.Context, cycleID uuid.UUID) ([]budget.Tranche, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+trancheColumns+` FROM grants_tranches WHERE cycle_id = $1 ORDER BY number`, pgUUID(cycleID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []budget.Tranche
	for rows.Next() {
		t, err := scanTranche(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *CycleRepository) InsertTranche(ctx context.Context, t budget.Tranche) (budget.Tranche, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.Tranche{}, err
	}
	return scanTranche(tx.QueryRow(ctx, `
INSERT INTO grants_tranches (id, cycle_id, number, amount)
VALUES ($1, $2, $3, $4)
RETURNING `+trancheColumns,
		pgUUID(t.ID), pgUUID(t.CycleID), t.Number, pgNumeric(t.Amount)))
}

func (r *CycleRepository) ReleaseTranche(ctx context.Context, cycleID uuid.UUID, number int, at time.Time) (budget.Tranche, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.Tranche{}, err
	}
	return scanTranche(tx.QueryRow(ctx, `
UPDATE grants_tranches SET released_at = $3
WHERE cycle_id = $1 AND number = $2
RETURNING `+trancheColumns, pgUUID(cycleID), number, at))
}

const allocationColumns = `id, cycle_id, state, amount, decision_no`

func scanAllocation(row pgx.Row) (budget.StateAllocation, error) {
	var a budget.StateAllocation
	var amount pgtype.Numeric
	if err := row.Scan(&a.ID, &a.CycleID, &a.State, &amount, &a.DecisionNo); err != nil {
		return budget.StateAllocation{}, err
	}
	a.Amount = asDecimal(amount)
	return a, nil
}

func (r *CycleRepository) ListAllocations(ctx context.Context, cycleID uuid.UUID) ([]budget.StateAllocation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+allocationColumns+` FROM grants_state_allocations WHERE cycle_id = $1 ORDER BY state`, pgUUID(cycleID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []budget.StateAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *CycleRepository) GetAllocation(ctx context.Context, cycleID uuid.UUID, state string) (budget.StateAllocation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.StateAllocation{}, err
	}
	return scanAllocation(tx.QueryRow(ctx, `
SELECT `+allocationColumns+`
FROM grants_state_allocations
WHERE cycle_id = $1 AND lower(state) = lower($2)`, pgUUID(cycleID), strings.TrimSpace(state)))
}

// UpsertAllocation matches states case-insensitively; the stored spelling is
// the latest one written.
func (r *CycleRepository) UpsertAllocation(ctx context.Context, a budget.StateAllocation) (budget.StateAllocation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.StateAllocation{}, err
	}
	return scanAllocation(tx.QueryRow(ctx, `
INSERT INTO grants_state_allocations (id, cycle_id, state, amount, decision_no)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (cycle_id, lower(state)) DO UPDATE
SET state = EXCLUDED.state, amount = EXCLUDED.amount, decision_no = EXCLUDED.decision_no
RETURNING `+allocationColumns,
		pgUUID(a.ID), pgUUID(a.CycleID), a.State, pgNumeric(a.Amount), a.DecisionNo))
}

const historicalColumns = `id, cycle_id, state, grant_call_id, amount, note, recorded_at`

func scanHistorical(row pgx.Row) (budget.HistoricalEntry, error) {
	var h budget.HistoricalEntry
	var gc pgtype.UUID
	var amount pgtype.Numeric
	if err := row.Scan(&h.ID, &h.CycleID, &h.State, &gc, &amount, &h.Note, &h.RecordedAt); err != nil {
		return budget.HistoricalEntry{}, err
	}
	h.GrantCallID = asNullableUUID(gc)
	h.Amount = asDecimal(amount)
	return h, nil
}

func (r *CycleRepository) ListHistorical(ctx context.Context, cycleID uuid.UUID) ([]budget.HistoricalEntry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+historicalColumns+` FROM grants_historical WHERE cycle_id = $1 ORDER BY recorded_at, id`, pgUUID(cycleID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []budget.HistoricalEntry
	for rows.Next() {
		h, err := scanHistorical(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *CycleRepository) InsertHistorical(ctx context.Context, h budget.HistoricalEntry) (budget.HistoricalEntry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return budget.HistoricalEntry{}, err
	}
	return scanHistorical(tx.QueryRow(ctx, `
INSERT INTO grants_historical (id, cycle_id, state, grant_call_id, amount, note, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+historicalColumns,
		pgUUID(h.ID), pgUUID(h.CycleID), h.State, pgNullableUUID(h.GrantCallID), pgNumeric(h.Amount), h.Note, h.RecordedAt))
}
