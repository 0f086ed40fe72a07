//go:build integration

package outbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestRelay_Integration_PoisonDoesNotBlock(t *testing.T) {
	dsn := os.Getenv("GRANTS_TEST_DSN")
	if dsn == "" {
		t.Skip("GRANTS_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	name := "outbox_it_" + uuid.NewString()[:8]
	table, err := ParseIdentifier("public." + name)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE %s (
  id           UUID        PRIMARY KEY DEFAULT gen_random_uuid(),
  topic        TEXT        NOT NULL,
  payload      JSONB       NOT NULL,
  event_id     UUID        NOT NULL UNIQUE,
  aggregate_id UUID        NOT NULL,
  sequence     BIGSERIAL   NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  published_at TIMESTAMPTZ NULL,
  attempts     INT         NOT NULL DEFAULT 0 CHECK (attempts >= 0),
  available_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  locked_at    TIMESTAMPTZ NULL,
  last_error   TEXT        NULL
)`, table.Sanitize()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s", table.Sanitize()))
	})

	p := NewPublisher()
	eventFail, eventOK := uuid.New(), uuid.New()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = p.Enqueue(ctx, tx, table, Message{Topic: "test.fail.v1", EventID: eventFail, AggregateID: uuid.New(), Payload: []byte(`{"x":1}`)})
	require.NoError(t, err)
	_, err = p.Enqueue(ctx, tx, table, Message{Topic: "test.ok.v1", EventID: eventOK, AggregateID: uuid.New(), Payload: []byte(`{"y":2}`)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	t.Run("enqueue is idempotent by event_id", func(t *testing.T) {
		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(ctx) }()
		msg := Message{Topic: "test.ok.v1", EventID: uuid.New(), Payload: []byte(`{"z":3}`)}
		seq1, err := p.Enqueue(ctx, tx, table, msg)
		require.NoError(t, err)
		seq2, err := p.Enqueue(ctx, tx, table, msg)
		require.NoError(t, err)
		require.Equal(t, seq1, seq2)
	})

	calls := 0
	relay, err := NewRelay(pool, table, DispatcherFunc(func(_ context.Context, msg DispatchedMessage) error {
		calls++
		if msg.Meta.Topic == "test.fail.v1" {
			return errors.New("poison")
		}
		return nil
	}), RelayOptions{BatchSize: 10, MaxAttempts: 1})
	require.NoError(t, err)

	n, err := relay.processOnce(ctx, newPgStore(pool, table))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, calls)

	var published bool
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT published_at IS NOT NULL FROM %s WHERE event_id=$1`, table.Sanitize()), eventOK,
	).Scan(&published))
	require.True(t, published)

	var attempts int
	var lastErr *string
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT attempts, last_error FROM %s WHERE event_id=$1`, table.Sanitize()), eventFail,
	).Scan(&attempts, &lastErr))
	require.Equal(t, 1, attempts)
	require.NotNil(t, lastErr)
	require.Equal(t, "poison", *lastErr)

	cleaner, err := NewCleaner(pool, table, CleanerOptions{Enabled: true, Retention: time.Nanosecond})
	require.NoError(t, err)
	deleted, err := cleaner.CleanOnce(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}
