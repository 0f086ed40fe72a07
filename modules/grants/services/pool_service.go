package services

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/domain/pool"
	"github.com/fsystem/portal/modules/grants/domain/serial"
	"github.com/fsystem/portal/pkg/composables"
)

// PoolService reads remaining budget. Reports are computed by SQL aggregates
// and cached until a funding or budget change invalidates them.
type PoolService struct {
	usage      UsageRepository
	cycles     CycleRepository
	grantCalls GrantCallRepository
	serials    SerialRepository
	currency   string
	rt         *runtime
}

func NewPoolService(
	usage UsageRepository,
	cycles CycleRepository,
	grantCalls GrantCallRepository,
	serials SerialRepository,
	currency string,
	opts ...Option,
) *PoolService {
	return &PoolService{
		usage:      usage,
		cycles:     cycles,
		grantCalls: grantCalls,
		serials:    serials,
		currency:   currency,
		rt:         newRuntime(opts),
	}
}

// Summary returns the report of one cycle, or of all open cycles when
// cycleID is nil.
func (s *PoolService) Summary(ctx context.Context, cycleID *uuid.UUID) (pool.Report, error) {
	key := PoolCacheKey(cycleID)
	logger := composables.UseLogger(ctx)
	if r, ok, err := s.rt.cache.Get(ctx, key); err != nil {
		logger.WithError(err).Warn("grants: pool cache read failed")
	} else if ok {
		recordCacheRequest(true)
		return r, nil
	}
	recordCacheRequest(false)

	start := time.Now()
	r, err := read(ctx, func(ctx context.Context) (pool.Report, error) {
		if cycleID != nil {
			if _, err := s.cycles.GetCycle(ctx, *cycleID); err != nil {
				return pool.Report{}, orNotFound(err, "cycle")
			}
		}
		return s.usage.PoolReport(ctx, cycleID)
	})
	if err != nil {
		return pool.Report{}, err
	}
	grantsSummaryDuration.Observe(time.Since(start).Seconds())
	if err := s.rt.cache.Set(ctx, key, r); err != nil {
		logger.WithError(err).Warn("grants: pool cache write failed")
	}
	return r, nil
}

// InvalidateCache drops cached reports of the given cycles and of the open
// pool. Used by the outbox consumer so other replicas converge.
func (s *PoolService) InvalidateCache(ctx context.Context, reason string, cycleIDs ...uuid.UUID) {
	s.rt.invalidate(ctx, reason, cycleIDs...)
}

// Export renders the summary as an xlsx workbook.
func (s *PoolService) Export(ctx context.Context, cycleID *uuid.UUID) ([]byte, error) {
	r, err := s.Summary(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	title := "All open cycles"
	if cycleID != nil {
		c, err := read(ctx, func(ctx context.Context) (string, error) {
			c, err := s.cycles.GetCycle(ctx, *cycleID)
			return c.Name, orNotFound(err, "cycle")
		})
		if err != nil {
			return nil, err
		}
		title = c
	}
	var buf bytes.Buffer
	if err := writePoolWorkbook(&buf, title, s.currency, r); err != nil {
		return nil, newServiceError(http.StatusInternalServerError, CodeInternal, "failed to render workbook", err)
	}
	return buf.Bytes(), nil
}

type SerialPreview struct {
	GrantSerial    string `json:"grant_serial"`
	WorkplanSerial string `json:"workplan_serial"`
	Existing       bool   `json:"existing"`
}

// PreviewSerial shows the serials the next pre-assignment into (grant call,
// cycle, state) would receive, without consuming any counter.
func (s *PoolService) PreviewSerial(ctx context.Context, grantCallID, cycleID uuid.UUID, state string) (SerialPreview, error) {
	state = budget.NormalizeState(state)
	return read(ctx, func(ctx context.Context) (SerialPreview, error) {
		gc, err := s.grantCalls.GetGrantCall(ctx, grantCallID)
		if err != nil {
			return SerialPreview{}, orNotFound(err, "grant call")
		}
		if _, err := s.cycles.GetCycle(ctx, cycleID); err != nil {
			return SerialPreview{}, orNotFound(err, "cycle")
		}
		key := GrantSerialKey{GrantCallID: grantCallID, CycleID: cycleID, State: state}
		grantSerial, ok, err := s.serials.FindGrantSerial(ctx, key)
		if err != nil {
			return SerialPreview{}, err
		}
		out := SerialPreview{Existing: ok}
		if !ok {
			at := s.rt.now()
			stateCode, err := serial.StateCode(state)
			if err != nil {
				return SerialPreview{}, err
			}
			seq, err := s.serials.PeekSequence(ctx, serial.GrantScope(gc.DonorCode, stateCode, serial.Period(at)))
			if err != nil {
				return SerialPreview{}, err
			}
			g, err := serial.NewGrant(gc.DonorCode, state, at, seq)
			if err != nil {
				return SerialPreview{}, err
			}
			grantSerial = g.String()
		}
		seq, err := s.serials.PeekSequence(ctx, serial.WorkplanScope(grantSerial))
		if err != nil {
			return SerialPreview{}, err
		}
		ws, err := serial.NewWorkplan(grantSerial, seq)
		if err != nil {
			return SerialPreview{}, err
		}
		out.GrantSerial = grantSerial
		out.WorkplanSerial = ws.String()
		return out, nil
	})
}
