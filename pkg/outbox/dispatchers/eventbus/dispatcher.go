package eventbus

import (
	"context"
	"encoding/json"

	"github.com/fsystem/portal/pkg/eventbus"
	"github.com/fsystem/portal/pkg/outbox"
)

// Dispatcher forwards relayed messages to in-process subscribers with the
// signature func(meta *outbox.Meta, topic string, payload json.RawMessage) error.
// Handler errors are returned so the relay retries the message.
type Dispatcher struct {
	bus eventbus.EventBus
}

func New(bus eventbus.EventBus) *Dispatcher {
	return &Dispatcher{bus: bus}
}

func (d *Dispatcher) Dispatch(_ context.Context, msg outbox.DispatchedMessage) error {
	meta := msg.Meta
	return d.bus.PublishE(&meta, meta.Topic, json.RawMessage(msg.Payload))
}
