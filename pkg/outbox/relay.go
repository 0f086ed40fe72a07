package outbox

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Relay polls one outbox table and hands unpublished rows to a Dispatcher.
// Failed rows are retried with exponential backoff until MaxAttempts.
type Relay struct {
	pool       *pgxpool.Pool
	table      pgx.Identifier
	dispatcher Dispatcher
	opts       RelayOptions

	lockKey    int64
	tableLabel string
	m          *metrics
}

func NewRelay(pool *pgxpool.Pool, table pgx.Identifier, dispatcher Dispatcher, opts RelayOptions) (*Relay, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if dispatcher == nil {
		return nil, invalidConfig("dispatcher is required")
	}
	opts.setDefaults()
	label := TableLabel(table)
	return &Relay{
		pool:       pool,
		table:      table,
		dispatcher: dispatcher,
		opts:       opts,
		lockKey:    advisoryLockKey("outbox:" + label),
		tableLabel: label,
		m:          getMetrics(),
	}, nil
}

// Run blocks until ctx is done. With SingleActive only the instance holding
// the table's advisory lock processes rows; the others keep retrying.
func (r *Relay) Run(ctx context.Context) error {
	if !r.opts.SingleActive {
		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
		return r.loop(ctx, newPgStore(r.pool, r.table))
	}
	for {
		conn, leader, err := r.acquireLeader(ctx)
		if err != nil {
			r.opts.Logger.WithError(err).Warn("outbox: leader election failed")
		}
		if leader {
			r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
			r.opts.Logger.WithField("table", r.tableLabel).Info("outbox: relay became leader")
			err = r.loop(ctx, newPgStore(conn, r.table))
			r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)
			_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1::bigint)`, r.lockKey)
			conn.Release()
			return err
		}
		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)
		if !sleep(ctx, r.opts.PollInterval) {
			return ctx.Err()
		}
	}
}

func (r *Relay) acquireLeader(ctx context.Context) (*pgxpool.Conn, bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, r.lockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return conn, true, nil
}

func (r *Relay) loop(ctx context.Context, s store) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	var nextDepth time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if now := time.Now(); now.After(nextDepth) {
			if pending, locked, err := s.depth(ctx); err != nil {
				r.opts.Logger.WithError(err).Debug("outbox: observe queue depth failed")
			} else {
				r.m.pending.WithLabelValues(r.tableLabel).Set(float64(pending))
				r.m.locked.WithLabelValues(r.tableLabel).Set(float64(locked))
			}
			nextDepth = now.Add(r.opts.ObserveQueueDepthEvery)
		}

		if _, err := r.processOnce(ctx, s); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).Warn("outbox: process tick failed")
		}
	}
}

// processOnce claims one batch and dispatches it. Rows are handled
// independently so a poison message never blocks the ones behind it.
func (r *Relay) processOnce(ctx context.Context, s store) (int, error) {
	now := time.Now()
	batch, err := s.claim(ctx, now, now.Add(-r.opts.LockTTL), r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, c := range batch {
		r.deliver(ctx, s, c)
	}
	return len(batch), nil
}

func (r *Relay) deliver(ctx context.Context, s store, c claimed) {
	log := r.opts.Logger.WithFields(map[string]any{
		"table":    r.tableLabel,
		"topic":    c.Topic,
		"event_id": c.EventID.String(),
		"sequence": c.Sequence,
		"attempts": c.Attempts,
	})

	dispatchCtx, cancel := context.WithTimeout(ctx, r.opts.DispatchTimeout)
	start := time.Now()
	err := r.dispatcher.Dispatch(dispatchCtx, DispatchedMessage{
		Meta: Meta{
			Table:       r.table,
			Topic:       c.Topic,
			EventID:     c.EventID,
			AggregateID: c.AggregateID,
			Sequence:    c.Sequence,
			Attempts:    c.Attempts,
		},
		Payload: c.Payload,
	})
	cancel()
	elapsed := time.Since(start).Seconds()

	if err == nil {
		r.m.dispatchTotal.WithLabelValues(r.tableLabel, c.Topic, "success").Inc()
		r.m.dispatchLatency.WithLabelValues(r.tableLabel, c.Topic, "success").Observe(elapsed)
		if ackErr := s.markPublished(ctx, c.ID); ackErr != nil {
			log.WithError(ackErr).Warn("outbox: ack failed")
		}
		return
	}

	r.m.dispatchTotal.WithLabelValues(r.tableLabel, c.Topic, "failure").Inc()
	r.m.dispatchLatency.WithLabelValues(r.tableLabel, c.Topic, "failure").Observe(elapsed)
	lastErr := truncateError(err, r.opts.LastErrorMaxLen)

	if c.Attempts >= r.opts.MaxAttempts {
		r.m.deadTotal.WithLabelValues(r.tableLabel, c.Topic).Inc()
		log.WithError(err).Error("outbox: message is dead")
		if deadErr := s.markDead(ctx, c.ID, lastErr); deadErr != nil {
			log.WithError(deadErr).Warn("outbox: dead update failed")
		}
		return
	}

	next := time.Now().Add(backoff(c.Attempts, r.opts.MaxBackoff) + jitter(r.opts.Rand, r.opts.JitterMax))
	if nackErr := s.reschedule(ctx, c.ID, lastErr, next); nackErr != nil {
		log.WithError(nackErr).Warn("outbox: nack failed")
	}
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
