package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fsystem/portal/modules/grants/domain/events"
	"github.com/fsystem/portal/pkg/eventbus"
	"github.com/fsystem/portal/pkg/outbox"
)

// CacheInvalidator is the part of the pool service the handler needs.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context, reason string, cycleIDs ...uuid.UUID)
}

// OutboxEventsHandler drops cached pool reports when a relayed event shows
// the ledger moved. Writers already invalidate locally; this covers the
// other replicas sharing the database.
type OutboxEventsHandler struct {
	pool   CacheInvalidator
	logger *logrus.Entry
}

func NewOutboxEventsHandler(pool CacheInvalidator, logger *logrus.Logger) *OutboxEventsHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OutboxEventsHandler{pool: pool, logger: logger.WithField("component", "grants.outbox_handler")}
}

func (h *OutboxEventsHandler) Subscribe(bus eventbus.EventBus) {
	bus.Subscribe(h.onFundingChangedV1)
	bus.Subscribe(h.onBudgetChangedV1)
}

func (h *OutboxEventsHandler) onFundingChangedV1(meta *outbox.Meta, ev *events.FundingChangedV1) error {
	if h == nil || h.pool == nil || meta == nil || ev == nil {
		return nil
	}
	h.logger.WithFields(logrus.Fields{
		"event_id":    meta.EventID,
		"workplan_id": ev.WorkplanID,
		"transition":  ev.Transition,
		"attempts":    meta.Attempts,
	}).Debug("funding changed")
	h.pool.InvalidateCache(context.Background(), "outbox_event", ev.CycleIDs...)
	return nil
}

func (h *OutboxEventsHandler) onBudgetChangedV1(meta *outbox.Meta, ev *events.BudgetChangedV1) error {
	if h == nil || h.pool == nil || meta == nil || ev == nil {
		return nil
	}
	h.logger.WithFields(logrus.Fields{
		"event_id":    meta.EventID,
		"cycle_id":    ev.CycleID,
		"change_type": ev.ChangeType,
	}).Debug("budget changed")
	h.pool.InvalidateCache(context.Background(), "outbox_event", ev.CycleID)
	return nil
}
