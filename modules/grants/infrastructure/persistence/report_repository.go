package persistence

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/report"
	"github.com/fsystem/portal/pkg/composables"
)

type ReportRepository struct{}

func NewReportRepository() *ReportRepository {
	return &ReportRepository{}
}

const financialColumns = `id, workplan_id, period_start, period_end, lines, total_spent, status, created_by, created_at, updated_at`

func scanFinancial(row pgx.Row) (report.Financial, error) {
	var (
		f          report.Financial
		start, end pgtype.Date
		lines      []byte
		total      pgtype.Numeric
		status     string
	)
	if err := row.Scan(&f.ID, &f.WorkplanID, &start, &end, &lines, &total, &status,
		&f.CreatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return report.Financial{}, err
	}
	if err := json.Unmarshal(lines, &f.Lines); err != nil {
		return report.Financial{}, errors.Wrap(err, "decode financial report lines")
	}
	f.PeriodStart = start.Time
	f.PeriodEnd = end.Time
	f.TotalSpent = asDecimal(total)
	f.Status = report.Status(status)
	return f, nil
}

func (r *ReportRepository) CreateFinancial(ctx context.Context, f report.Financial) (report.Financial, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return report.Financial{}, err
	}
	lines, err := json.Marshal(f.Lines)
	if err != nil {
		return report.Financial{}, errors.Wrap(err, "encode financial report lines")
	}
	return scanFinancial(tx.QueryRow(ctx, `
INSERT INTO grants_financial_reports (`+financialColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+financialColumns,
		pgUUID(f.ID), pgUUID(f.WorkplanID), pgDate(f.PeriodStart), pgDate(f.PeriodEnd), lines,
		pgNumeric(f.TotalSpent), string(f.Status), f.CreatedBy, f.CreatedAt, f.UpdatedAt,
	))
}

func (r *ReportRepository) GetFinancial(ctx context.Context, id uuid.UUID) (report.Financial, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return report.Financial{}, err
	}
	return scanFinancial(tx.QueryRow(ctx, `SELECT `+financialColumns+` FROM grants_financial_reports WHERE id = $1`, pgUUID(id)))
}

func (r *ReportRepository) LockFinancial(ctx context.Context, id uuid.UUID) (report.Financial, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return report.Financial{}, err
	}
	return scanFinancial(tx.QueryRow(ctx, `SELECT `+financialColumns+` FROM grants_financial_reports WHERE id = $1 FOR UPDATE`, pgUUID(id)))
}

func (r *ReportRepository) SetFinancialStatus(ctx context.Context, id uuid.UUID, status report.Status) (report.Financial, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return report.Financial{}, err
	}
	return scanFinancial(tx.QueryRow(ctx, `
UPDATE grants_financial_reports SET status = $2, updated_at = now()
WHERE id = $1
RETURNING `+financialColumns, pgUUID(id), string(status)))
}

func (r *ReportRepository) ListFinancial(ctx context.Context, workplanID *uuid.UUID) ([]report.Financial, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+financialColumns+`
FROM grants_financial_reports
WHERE $1::uuid IS NULL OR workplan_id = $1::uuid
ORDER BY period_start, created_at`, pgNullableUUID(workplanID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []report.Financial
	for rows.Next() {
		f, err := scanFinancial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *ReportRepository) SpentByWorkplan(ctx context.Context, workplanID uuid.UUID) (decimal.Decimal, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	var spent pgtype.Numeric
	if err := tx.QueryRow(ctx, `
SELECT COALESCE(SUM(total_spent), 0) FROM grants_financial_reports WHERE workplan_id = $1`,
		pgUUID(workplanID)).Scan(&spent); err != nil {
		return decimal.Zero, err
	}
	return asDecimal(spent), nil
}

const programColumns = `id, workplan_id, period_start, period_end, individuals, families, narrative, status, created_by, created_at, updated_at`

func scanProgram(row pgx.Row) (report.Program, error) {
	var (
		p          report.Program
		start, end pgtype.Date
		status     string
	)
	if err := row.Scan(&p.ID, &p.WorkplanID, &start, &end, &p.Individuals, &p.Families, &p.Narrative,
		&status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return report.Program{}, err
	}
	p.PeriodStart = start.Time
	p.PeriodEnd = end.Time
	p.Status = report.Status(status)
	return p, nil
}

func (r *ReportRepository) CreateProgram(ctx context.Context, p report.Program) (report.Program, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return report.Program{}, err
	}
	return scanProgram(tx.QueryRow(ctx, `
INSERT INTO grants_program_reports (`+programColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+programColumns,
		pgUUID(p.ID), pgUUID(p.WorkplanID), pgDate(p.PeriodStart), pgDate(p.PeriodEnd),
		p.Individuals, p.Families, p.Narrative, string(p.Status), p.CreatedBy, p.CreatedAt, p.UpdatedAt,
	))
}

func (r *ReportRepository) GetProgram(ctx context.Context, id uuid.UUID) (report.Program, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return report.Program{}, err
	}
	return scanProgram(tx.QueryRow(ctx, `SELECT `+programColumns+` FROM grants_program_reports WHERE id = $1`, pgUUID(id)))
}

func (r *ReportRepository) LockProgram(ctx context.Context, id uuid.UUID) (report.Program, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return report.Program{}, err
	}
	return scanProgram(tx.QueryRow(ctx, `SELECT `+programColumns+` FROM grants_program_reports WHERE id = $1 FOR UPDATE`, pgUUID(id)))
}

func (r *ReportRepository) SetProgramStatus(ctx context.Context, id uuid.UUID, status report.Status) (report.Program, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return report.Program{}, err
	}
	return scanProgram(tx.QueryRow(ctx, `
UPDATE grants_program_reports SET status = $2, updated_at = now()
WHERE id = $1
RETURNING `+programColumns, pgUUID(id), string(status)))
}

func (r *ReportRepository) ListProgram(ctx context.Context, workplanID *uuid.UUID) ([]report.Program, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+programColumns+`
FROM grants_program_reports
WHERE $1::uuid IS NULL OR workplan_id = $1::uuid
ORDER BY period_start, created_at`, pgNullableUUID(workplanID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []report.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
