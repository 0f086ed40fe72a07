package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fsystem/portal/modules/grants/domain/events"
	"github.com/fsystem/portal/pkg/eventbus"
	"github.com/fsystem/portal/pkg/outbox"
)

// Dispatcher decodes relayed grants events and publishes them on the bus as
// (meta, *event) so handlers receive typed payloads.
type Dispatcher struct {
	bus eventbus.EventBus
}

func NewDispatcher(bus eventbus.EventBus) *Dispatcher {
	return &Dispatcher{bus: bus}
}

func (d *Dispatcher) Dispatch(_ context.Context, msg outbox.DispatchedMessage) error {
	if d == nil || d.bus == nil {
		return fmt.Errorf("grants outbox dispatcher: bus is nil")
	}

	switch msg.Meta.Topic {
	case events.TopicFundingChangedV1:
		var ev events.FundingChangedV1
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("grants outbox dispatcher: decode payload: %w", err)
		}
		return d.bus.PublishE(&msg.Meta, &ev)
	case events.TopicBudgetChangedV1:
		var ev events.BudgetChangedV1
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("grants outbox dispatcher: decode payload: %w", err)
		}
		return d.bus.PublishE(&msg.Meta, &ev)
	default:
		return fmt.Errorf("grants outbox dispatcher: unsupported topic %q", msg.Meta.Topic)
	}
}
