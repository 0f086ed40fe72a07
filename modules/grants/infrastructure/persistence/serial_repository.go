package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/composables"
)

// SerialRepository keeps monotonically increasing counters per scope. A
// counter bump is part of the caller's transaction and rolls back with it;
// once committed, the serial stays with its workplan through release.
type SerialRepository struct{}

func NewSerialRepository() *SerialRepository {
	return &SerialRepository{}
}

func (r *SerialRepository) NextSequence(ctx context.Context, scope string) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var v int
	err = tx.QueryRow(ctx, `
INSERT INTO grants_serial_counters (scope, last_value)
VALUES ($1, 1)
ON CONFLICT (scope) DO UPDATE SET last_value = grants_serial_counters.last_value + 1
RETURNING last_value`, scope).Scan(&v)
	return v, err
}

func (r *SerialRepository) PeekSequence(ctx context.Context, scope string) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var v int
	err = tx.QueryRow(ctx, `
SELECT COALESCE((SELECT last_value FROM grants_serial_counters WHERE scope = $1), 0) + 1`, scope).Scan(&v)
	return v, err
}

func stateKey(state string) string {
	return strings.ToLower(strings.Join(strings.Fields(state), " "))
}

func (r *SerialRepository) FindGrantSerial(ctx context.Context, key services.GrantSerialKey) (string, bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return "", false, err
	}
	var serial string
	err = tx.QueryRow(ctx, `
SELECT serial FROM grants_grant_serials
WHERE grant_call_id = $1 AND cycle_id = $2 AND state_key = $3`,
		pgUUID(key.GrantCallID), pgUUID(key.CycleID), stateKey(key.State)).Scan(&serial)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return serial, true, nil
}

func (r *SerialRepository) InsertGrantSerial(ctx context.Context, key services.GrantSerialKey, serial string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO grants_grant_serials (grant_call_id, cycle_id, state_key, serial)
VALUES ($1, $2, $3, $4)`,
		pgUUID(key.GrantCallID), pgUUID(key.CycleID), stateKey(key.State), serial)
	return err
}
