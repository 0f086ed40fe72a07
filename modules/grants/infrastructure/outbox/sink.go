package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fsystem/portal/modules/grants/domain/events"
	"github.com/fsystem/portal/pkg/composables"
	"github.com/fsystem/portal/pkg/outbox"
)

// Table is the outbox the grants module writes to and the relay drains.
var Table = pgx.Identifier{"public", "grants_outbox"}

// Sink enqueues integration events into the grants outbox using the
// transaction carried by ctx.
type Sink struct {
	publisher outbox.Publisher
	table     pgx.Identifier
}

func NewSink(publisher outbox.Publisher) *Sink {
	if publisher == nil {
		publisher = outbox.NewPublisher()
	}
	return &Sink{publisher: publisher, table: Table}
}

func (s *Sink) FundingChanged(ctx context.Context, ev events.FundingChangedV1) error {
	return s.enqueue(ctx, events.TopicFundingChangedV1, ev.EventID, ev.WorkplanID, ev)
}

func (s *Sink) BudgetChanged(ctx context.Context, ev events.BudgetChangedV1) error {
	return s.enqueue(ctx, events.TopicBudgetChangedV1, ev.EventID, ev.CycleID, ev)
}

func (s *Sink) enqueue(ctx context.Context, topic string, eventID, aggregateID uuid.UUID, ev any) error {
	if !composables.InExplicitTx(ctx) {
		return fmt.Errorf("grants outbox: %s must be enqueued inside a transaction", topic)
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("grants outbox: encode %s: %w", topic, err)
	}
	_, err = s.publisher.Enqueue(ctx, tx, s.table, outbox.Message{
		Topic:       topic,
		EventID:     eventID,
		AggregateID: aggregateID,
		Payload:     payload,
	})
	return err
}
