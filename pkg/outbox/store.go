package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type claimed struct {
	ID          uuid.UUID
	Topic       string
	Payload     []byte
	EventID     uuid.UUID
	AggregateID uuid.UUID
	Sequence    int64
	Attempts    int
}

// store is the table access the relay needs. pgStore is the only real
// implementation; tests swap in a fake.
type store interface {
	claim(ctx context.Context, now, lockCutoff time.Time, maxAttempts, limit int) ([]claimed, error)
	markPublished(ctx context.Context, id uuid.UUID) error
	reschedule(ctx context.Context, id uuid.UUID, lastError string, next time.Time) error
	markDead(ctx context.Context, id uuid.UUID, lastError string) error
	depth(ctx context.Context) (pending, locked int64, err error)
}

// pgDB is satisfied by both *pgxpool.Pool and *pgxpool.Conn.
type pgDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgStore struct {
	db    pgDB
	table string
}

func newPgStore(db pgDB, table pgx.Identifier) *pgStore {
	return &pgStore{db: db, table: table.Sanitize()}
}

func (s *pgStore) claim(ctx context.Context, now, lockCutoff time.Time, maxAttempts, limit int) (items []claimed, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "outbox claim begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, fmt.Sprintf(
		`SELECT id, topic, payload, event_id, aggregate_id, sequence, attempts
		   FROM %s
		  WHERE published_at IS NULL
		    AND available_at <= $1
		    AND attempts < $2
		    AND (locked_at IS NULL OR locked_at < $3)
		  ORDER BY available_at, sequence
		  LIMIT $4
		  FOR UPDATE SKIP LOCKED`, s.table),
		now, maxAttempts, lockCutoff, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "outbox claim select")
	}
	ids := make([]uuid.UUID, 0, limit)
	for rows.Next() {
		var c claimed
		if err = rows.Scan(&c.ID, &c.Topic, &c.Payload, &c.EventID, &c.AggregateID, &c.Sequence, &c.Attempts); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "outbox claim scan")
		}
		c.Attempts++
		items = append(items, c)
		ids = append(ids, c.ID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "outbox claim rows")
	}

	if len(ids) > 0 {
		if _, err = tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET locked_at = $1, attempts = attempts + 1 WHERE id = ANY($2)`, s.table),
			now, pgtype.FlatArray[uuid.UUID](ids),
		); err != nil {
			return nil, errors.Wrap(err, "outbox claim lock")
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "outbox claim commit")
	}
	return items, nil
}

func (s *pgStore) markPublished(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET published_at = now(), locked_at = NULL, last_error = NULL
		  WHERE id = $1 AND published_at IS NULL`, s.table), id)
	return wrapErr(err, "outbox ack")
}

func (s *pgStore) reschedule(ctx context.Context, id uuid.UUID, lastError string, next time.Time) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET locked_at = NULL, last_error = $2, available_at = $3
		  WHERE id = $1 AND published_at IS NULL`, s.table), id, lastError, next)
	return wrapErr(err, "outbox nack")
}

// markDead leaves attempts at the ceiling so claim never selects the row again.
func (s *pgStore) markDead(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET locked_at = NULL, last_error = $2, available_at = now()
		  WHERE id = $1 AND published_at IS NULL`, s.table), id, lastError)
	return wrapErr(err, "outbox dead")
}

func (s *pgStore) depth(ctx context.Context) (int64, int64, error) {
	var pending, locked int64
	err := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*), count(*) FILTER (WHERE locked_at IS NOT NULL)
		   FROM %s WHERE published_at IS NULL`, s.table)).Scan(&pending, &locked)
	if err != nil {
		return 0, 0, errors.Wrap(err, "outbox depth")
	}
	return pending, locked, nil
}

func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
