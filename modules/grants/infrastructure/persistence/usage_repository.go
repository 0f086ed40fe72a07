package persistence

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fsystem/portal/modules/grants/domain/pool"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/composables"
)

// UsageRepository aggregates remaining-budget inputs straight from the
// ledger tables. Committed covers both committed and allocated workplans.
type UsageRepository struct{}

func NewUsageRepository() *UsageRepository {
	return &UsageRepository{}
}

const usageSQL = `
SELECT
  CASE
    WHEN $3::text <> '' THEN COALESCE((
      SELECT amount FROM grants_state_allocations
      WHERE cycle_id = $1 AND lower(state) = lower($3::text)), 0)
    WHEN $2::uuid IS NOT NULL THEN COALESCE((
      SELECT amount FROM grants_inclusions
      WHERE cycle_id = $1 AND grant_call_id = $2::uuid), 0)
    ELSE COALESCE((SELECT SUM(amount) FROM grants_inclusions WHERE cycle_id = $1), 0)
  END,
  (SELECT COALESCE(SUM(h.amount), 0) FROM grants_historical h
   WHERE h.cycle_id = $1
     AND ($3::text = '' OR lower(h.state) = lower($3::text))
     AND ($2::uuid IS NULL OR h.grant_call_id = $2::uuid)),
  COALESCE(SUM(w.amount) FILTER (WHERE w.funding_status IN ('committed', 'allocated')), 0),
  COALESCE(SUM(w.amount) FILTER (WHERE w.funding_status = 'pending'), 0)
FROM grants_workplans w
WHERE w.cycle_id = $1
  AND ($4::uuid IS NULL OR w.id <> $4::uuid)
  AND ($3::text = '' OR lower(w.state) = lower($3::text))
  AND ($2::uuid IS NULL OR w.grant_call_id = $2::uuid)`

func (r *UsageRepository) Usage(ctx context.Context, scope services.UsageScope) (pool.Totals, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return pool.Totals{}, err
	}
	var included, historical, committed, pending pgtype.Numeric
	if err := tx.QueryRow(ctx, usageSQL,
		pgUUID(scope.CycleID),
		pgNullableUUID(scope.GrantCallID),
		strings.TrimSpace(scope.State),
		pgNullableUUID(scope.ExcludeWorkplanID),
	).Scan(&included, &historical, &committed, &pending); err != nil {
		return pool.Totals{}, err
	}
	return pool.Totals{
		Included:   asDecimal(included),
		Historical: asDecimal(historical),
		Committed:  asDecimal(committed),
		Pending:    asDecimal(pending),
	}, nil
}

const poolTotalsSQL = `
SELECT
  (SELECT COALESCE(SUM(amount), 0) FROM grants_inclusions WHERE cycle_id = ANY($1)),
  (SELECT COALESCE(SUM(amount), 0) FROM grants_historical WHERE cycle_id = ANY($1)),
  COALESCE(SUM(amount) FILTER (WHERE funding_status IN ('committed', 'allocated')), 0),
  COALESCE(SUM(amount) FILTER (WHERE funding_status = 'pending'), 0)
FROM grants_workplans
WHERE cycle_id = ANY($1)`

// Lines are keyed per cycle first so a state or grant call only counts
// spend in the cycles where it has money.
const poolByStateSQL = `
WITH hist AS (
  SELECT cycle_id, lower(state) AS key, SUM(amount) AS amount
  FROM grants_historical WHERE cycle_id = ANY($1) GROUP BY 1, 2
), wp AS (
  SELECT cycle_id, lower(state) AS key,
    SUM(amount) FILTER (WHERE funding_status IN ('committed', 'allocated')) AS committed,
    SUM(amount) FILTER (WHERE funding_status = 'pending') AS pending
  FROM grants_workplans WHERE cycle_id = ANY($1) GROUP BY 1, 2
)
SELECT min(a.state), SUM(a.amount), COALESCE(SUM(h.amount), 0),
  COALESCE(SUM(w.committed), 0), COALESCE(SUM(w.pending), 0)
FROM grants_state_allocations a
LEFT JOIN hist h ON h.cycle_id = a.cycle_id AND h.key = lower(a.state)
LEFT JOIN wp w ON w.cycle_id = a.cycle_id AND w.key = lower(a.state)
WHERE a.cycle_id = ANY($1)
GROUP BY lower(a.state)`

const poolByGrantCallSQL = `
WITH hist AS (
  SELECT cycle_id, grant_call_id, SUM(amount) AS amount
  FROM grants_historical
  WHERE cycle_id = ANY($1) AND grant_call_id IS NOT NULL GROUP BY 1, 2
), wp AS (
  SELECT cycle_id, grant_call_id,
    SUM(amount) FILTER (WHERE funding_status IN ('committed', 'allocated')) AS committed,
    SUM(amount) FILTER (WHERE funding_status = 'pending') AS pending
  FROM grants_workplans WHERE cycle_id = ANY($1) GROUP BY 1, 2
)
SELECT g.id, g.code, SUM(i.amount), COALESCE(SUM(h.amount), 0),
  COALESCE(SUM(w.committed), 0), COALESCE(SUM(w.pending), 0)
FROM grants_inclusions i
JOIN grants_grant_calls g ON g.id = i.grant_call_id
LEFT JOIN hist h ON h.cycle_id = i.cycle_id AND h.grant_call_id = i.grant_call_id
LEFT JOIN wp w ON w.cycle_id = i.cycle_id AND w.grant_call_id = i.grant_call_id
WHERE i.cycle_id = ANY($1)
GROUP BY g.id, g.code`

func (r *UsageRepository) PoolReport(ctx context.Context, cycleID *uuid.UUID) (pool.Report, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return pool.Report{}, err
	}

	var ids []uuid.UUID
	if cycleID != nil {
		ids = []uuid.UUID{*cycleID}
	} else {
		rows, err := tx.Query(ctx, `SELECT id FROM grants_cycles WHERE status = 'open'`)
		if err != nil {
			return pool.Report{}, err
		}
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return pool.Report{}, err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return pool.Report{}, err
		}
	}

	report := pool.Report{CycleID: cycleID, ByState: []pool.StateLine{}, ByGrantCall: []pool.GrantCallLine{}}
	arg := pgUUIDArray(ids)

	var t [4]pgtype.Numeric
	if err := tx.QueryRow(ctx, poolTotalsSQL, arg).Scan(&t[0], &t[1], &t[2], &t[3]); err != nil {
		return pool.Report{}, err
	}
	report.Totals = totalsOf(t).Summary()

	rows, err := tx.Query(ctx, poolByStateSQL, arg)
	if err != nil {
		return pool.Report{}, err
	}
	for rows.Next() {
		var state string
		if err := rows.Scan(&state, &t[0], &t[1], &t[2], &t[3]); err != nil {
			rows.Close()
			return pool.Report{}, err
		}
		report.ByState = append(report.ByState, pool.NewStateLine(state, totalsOf(t)))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return pool.Report{}, err
	}

	rows, err = tx.Query(ctx, poolByGrantCallSQL, arg)
	if err != nil {
		return pool.Report{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var code string
		if err := rows.Scan(&id, &code, &t[0], &t[1], &t[2], &t[3]); err != nil {
			return pool.Report{}, err
		}
		report.ByGrantCall = append(report.ByGrantCall, pool.NewGrantCallLine(id, code, totalsOf(t)))
	}
	if err := rows.Err(); err != nil {
		return pool.Report{}, err
	}

	// Sorted here rather than in SQL so ordering does not depend on the
	// database collation.
	sort.Slice(report.ByState, func(i, j int) bool { return report.ByState[i].State < report.ByState[j].State })
	sort.Slice(report.ByGrantCall, func(i, j int) bool { return report.ByGrantCall[i].Code < report.ByGrantCall[j].Code })
	return report, nil
}

func totalsOf(v [4]pgtype.Numeric) pool.Totals {
	return pool.Totals{
		Included:   asDecimal(v[0]),
		Historical: asDecimal(v[1]),
		Committed:  asDecimal(v[2]),
		Pending:    asDecimal(v[3]),
	}
}
