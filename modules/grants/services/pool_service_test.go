package services

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fsystem/portal/modules/grants/domain/budget"
)

// seedPool adds Khartoum pending 100, Darfur committed 50 and 20 of
// historical Khartoum spend on GC1 to the base budget.
func (f *fixture) seedPool(t *testing.T) budgetSetup {
	t.Helper()
	b := f.seedBudget(t)
	f.pending(t, b, "E1", "Khartoum", "100")
	f.committed(t, b, "E2", "Darfur", "50")
	_, err := f.cycles.RecordHistorical(testCtx(), b.cycle.ID, HistoricalInput{
		State: "Khartoum", GrantCallID: idPtr(b.gc.ID), Amount: dec("20"),
	})
	require.NoError(t, err)
	return b
}

func TestPoolService_Summary(t *testing.T) {
	f := newFixture(t)
	b := f.seedPool(t)

	r, err := f.pool.Summary(testCtx(), idPtr(b.cycle.ID))
	require.NoError(t, err)
	require.True(t, r.Totals.Included.Equal(dec("600")))
	require.True(t, r.Totals.Historical.Equal(dec("20")))
	require.True(t, r.Totals.Committed.Equal(dec("50")))
	require.True(t, r.Totals.Pending.Equal(dec("100")))
	require.True(t, r.Totals.Remaining.Equal(dec("430")))

	require.Len(t, r.ByState, 2)
	require.Equal(t, "Darfur", r.ByState[0].State)
	require.True(t, r.ByState[0].Remaining.Equal(dec("150")))
	require.Equal(t, "Khartoum", r.ByState[1].State)
	require.True(t, r.ByState[1].Remaining.Equal(dec("280")))

	require.Len(t, r.ByGrantCall, 1)
	require.Equal(t, "GC1", r.ByGrantCall[0].Code)
	require.True(t, r.ByGrantCall[0].Remaining.Equal(dec("430")))

	_, err = f.pool.Summary(testCtx(), idPtr(uuid.New()))
	requireCode(t, err, http.StatusNotFound, CodeNotFound)
}

func TestPoolService_SummaryOpenCycles(t *testing.T) {
	f := newFixture(t)
	b := f.seedPool(t)
	ctx := testCtx()

	r, err := f.pool.Summary(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, r.CycleID)
	require.True(t, r.Totals.Remaining.Equal(dec("430")))

	_, err = f.cycles.Close(ctx, b.cycle.ID)
	require.NoError(t, err)
	r, err = f.pool.Summary(ctx, nil)
	require.NoError(t, err)
	require.True(t, r.Totals.Included.IsZero(), "closed cycles drop out of the open pool")
}

func TestPoolService_SummaryCache(t *testing.T) {
	f := newFixture(t)
	b := f.seedPool(t)
	ctx := testCtx()

	_, err := f.pool.Summary(ctx, idPtr(b.cycle.ID))
	require.NoError(t, err)
	_, ok, err := f.cache.Get(ctx, PoolCacheKey(idPtr(b.cycle.ID)))
	require.NoError(t, err)
	require.True(t, ok)

	// Writes that bypass the services are invisible until invalidation.
	f.store.mu.Lock()
	f.store.d.historical = append(f.store.d.historical, budget.HistoricalEntry{
		ID: uuid.New(), CycleID: b.cycle.ID, State: "Darfur", Amount: dec("5"),
	})
	f.store.mu.Unlock()
	r, err := f.pool.Summary(ctx, idPtr(b.cycle.ID))
	require.NoError(t, err)
	require.True(t, r.Totals.Remaining.Equal(dec("430")))

	f.pending(t, b, "E3", "Darfur", "10")
	r, err = f.pool.Summary(ctx, idPtr(b.cycle.ID))
	require.NoError(t, err)
	require.True(t, r.Totals.Remaining.Equal(dec("415")))
}

func TestPoolService_PreviewSerial(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	p, err := f.pool.PreviewSerial(ctx, b.gc.ID, b.cycle.ID, " khartoum ")
	require.NoError(t, err)
	require.False(t, p.Existing)
	require.Equal(t, "LCC-KHA-0126-0001", p.GrantSerial)
	require.Equal(t, "LCC-KHA-0126-0001-001", p.WorkplanSerial)

	again, err := f.pool.PreviewSerial(ctx, b.gc.ID, b.cycle.ID, "Khartoum")
	require.NoError(t, err)
	require.Equal(t, p.WorkplanSerial, again.WorkplanSerial, "previews do not consume counters")

	wp := f.pending(t, b, "E1", "Khartoum", "10")
	require.Equal(t, p.WorkplanSerial, *wp.Serial)

	p, err = f.pool.PreviewSerial(ctx, b.gc.ID, b.cycle.ID, "Khartoum")
	require.NoError(t, err)
	require.True(t, p.Existing)
	require.Equal(t, "LCC-KHA-0126-0001-002", p.WorkplanSerial)

	_, err = f.pool.PreviewSerial(ctx, b.gc.ID, b.cycle.ID, "123")
	requireCode(t, err, http.StatusUnprocessableEntity, CodeValidationFailed)
	_, err = f.pool.PreviewSerial(ctx, uuid.New(), b.cycle.ID, "Khartoum")
	requireCode(t, err, http.StatusNotFound, CodeNotFound)
}

func TestPoolService_Export(t *testing.T) {
	f := newFixture(t)
	b := f.seedPool(t)

	data, err := f.pool.Export(testCtx(), idPtr(b.cycle.ID))
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = wb.Close() }()

	require.Equal(t, []string{sheetSummary, sheetByState, sheetByGrant}, wb.GetSheetList())
	title, err := wb.GetCellValue(sheetSummary, "A1")
	require.NoError(t, err)
	require.Equal(t, "C1", title)
	remaining, err := wb.GetCellValue(sheetSummary, "B6", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Equal(t, "430", remaining)
	display, err := wb.GetCellValue(sheetSummary, "C6")
	require.NoError(t, err)
	require.Equal(t, "$430.00", display)

	rows, err := wb.GetRows(sheetByState)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "Darfur", rows[1][0])

	_, err = f.pool.Export(testCtx(), idPtr(uuid.New()))
	requireCode(t, err, http.StatusNotFound, CodeNotFound)
}

func TestDisplayAmount(t *testing.T) {
	require.Equal(t, "$1,234.50", displayAmount(dec("1234.5"), "USD"))
	require.Equal(t, "$0.01", displayAmount(dec("0.005"), ""))
}
