package services

import (
	"io"

	"github.com/Rhymond/go-money"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/domain/pool"
)

const (
	sheetSummary   = "Summary"
	sheetByState   = "By state"
	sheetByGrant   = "By grant call"
	amountNumFmt   = "#,##0.00"
	exportColWidth = 18
)

// displayAmount formats d in currency using minor units, e.g. "$1,234.50".
func displayAmount(d decimal.Decimal, currency string) string {
	if currency == "" {
		currency = budget.DefaultCurrency
	}
	return money.New(d.Shift(2).Round(0).IntPart(), currency).Display()
}

func writePoolWorkbook(w io.Writer, title, currency string, r pool.Report) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return errors.Wrap(err, "rename sheet")
	}
	for _, name := range []string{sheetByState, sheetByGrant} {
		if _, err := f.NewSheet(name); err != nil {
			return errors.Wrapf(err, "new sheet %s", name)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "header style")
	}
	amount, err := f.NewStyle(&excelize.Style{CustomNumFmt: strPtr(amountNumFmt)})
	if err != nil {
		return errors.Wrap(err, "amount style")
	}

	summaryRows := [][]any{
		{title, "Amount", "Display"},
		{"Included", num(r.Totals.Included), displayAmount(r.Totals.Included, currency)},
		{"Historical", num(r.Totals.Historical), displayAmount(r.Totals.Historical, currency)},
		{"Committed", num(r.Totals.Committed), displayAmount(r.Totals.Committed, currency)},
		{"Pending", num(r.Totals.Pending), displayAmount(r.Totals.Pending, currency)},
		{"Remaining", num(r.Totals.Remaining), displayAmount(r.Totals.Remaining, currency)},
	}
	if err := writeSheet(f, sheetSummary, summaryRows, header, amount); err != nil {
		return err
	}

	stateRows := [][]any{{"State", "Allocated", "Historical", "Committed", "Pending", "Remaining"}}
	for _, l := range r.ByState {
		stateRows = append(stateRows, []any{
			l.State, num(l.Allocated), num(l.Historical), num(l.Committed), num(l.Pending), num(l.Remaining),
		})
	}
	if err := writeSheet(f, sheetByState, stateRows, header, amount); err != nil {
		return err
	}

	grantRows := [][]any{{"Grant call", "Included", "Historical", "Committed", "Pending", "Remaining"}}
	for _, l := range r.ByGrantCall {
		grantRows = append(grantRows, []any{
			l.Code, num(l.Included), num(l.Historical), num(l.Committed), num(l.Pending), num(l.Remaining),
		})
	}
	if err := writeSheet(f, sheetByGrant, grantRows, header, amount); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "write workbook")
	}
	return nil
}

// writeSheet writes rows from A1. The first row is the header; numeric
// cells of later rows get the amount style.
func writeSheet(f *excelize.File, sheet string, rows [][]any, header, amount int) error {
	width := 0
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return errors.Wrapf(err, "write %s row %d", sheet, i+1)
		}
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return nil
	}
	last, err := excelize.ColumnNumberToName(width)
	if err != nil {
		return errors.Wrap(err, "column name")
	}
	end, err := excelize.CoordinatesToCellName(width, 1)
	if err != nil {
		return errors.Wrap(err, "cell name")
	}
	if err := f.SetCellStyle(sheet, "A1", end, header); err != nil {
		return errors.Wrap(err, "header style")
	}
	if len(rows) > 1 {
		bottom, err := excelize.CoordinatesToCellName(width, len(rows))
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		if err := f.SetCellStyle(sheet, "B2", bottom, amount); err != nil {
			return errors.Wrap(err, "amount style")
		}
	}
	return f.SetColWidth(sheet, "A", last, exportColWidth)
}

func num(d decimal.Decimal) float64 { return d.InexactFloat64() }

func strPtr(s string) *string { return &s }
