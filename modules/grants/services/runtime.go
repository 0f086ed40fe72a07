package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fsystem/portal/modules/grants/domain/events"
	"github.com/fsystem/portal/pkg/composables"
)

// TxRunner runs fn in a transaction carried by the context.
type TxRunner func(ctx context.Context, fn func(txCtx context.Context) error) error

// EventSink writes integration events in the caller's transaction.
type EventSink interface {
	FundingChanged(ctx context.Context, ev events.FundingChangedV1) error
	BudgetChanged(ctx context.Context, ev events.BudgetChangedV1) error
}

type nopSink struct{}

func (nopSink) FundingChanged(context.Context, events.FundingChangedV1) error { return nil }
func (nopSink) BudgetChanged(context.Context, events.BudgetChangedV1) error   { return nil }

type runtime struct {
	tx     TxRunner
	now    func() time.Time
	events EventSink
	cache  PoolCache
}

type Option func(*runtime)

func WithTxRunner(tx TxRunner) Option {
	return func(r *runtime) { r.tx = tx }
}

func WithClock(now func() time.Time) Option {
	return func(r *runtime) { r.now = now }
}

func WithEventSink(sink EventSink) Option {
	return func(r *runtime) { r.events = sink }
}

func WithPoolCache(cache PoolCache) Option {
	return func(r *runtime) { r.cache = cache }
}

func newRuntime(opts []Option) *runtime {
	rt := &runtime{
		tx:     composables.InTx,
		now:    func() time.Time { return time.Now().UTC() },
		events: nopSink{},
		cache:  NopPoolCache{},
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func inTx[T any](ctx context.Context, rt *runtime, fn func(txCtx context.Context) (T, error)) (T, error) {
	var out T
	err := rt.tx(ctx, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, mapError(err)
	}
	return out, nil
}

// read runs fn without a transaction and maps its error.
func read[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	out, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, mapError(err)
	}
	return out, nil
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// orNotFound replaces pgx.ErrNoRows with a 404 naming what is missing.
func orNotFound(err error, what string) error {
	if isNoRows(err) {
		return notFound(what)
	}
	return err
}

func (rt *runtime) invalidate(ctx context.Context, reason string, cycleIDs ...uuid.UUID) {
	recordCacheInvalidate(reason)
	if err := rt.cache.Invalidate(ctx, cycleIDs...); err != nil {
		composables.UseLogger(ctx).WithError(err).Warn("grants: pool cache invalidation failed")
	}
}

func (rt *runtime) budgetChanged(ctx context.Context, cycleID uuid.UUID, change string, entityID uuid.UUID) error {
	return rt.events.BudgetChanged(ctx, events.BudgetChangedV1{
		EventID:         uuid.New(),
		EventVersion:    events.EventVersionV1,
		RequestID:       composables.UseRequestID(ctx),
		TransactionTime: rt.now(),
		Actor:           composables.UseActor(ctx),
		CycleID:         cycleID,
		ChangeType:      change,
		EntityID:        entityID,
	})
}
