package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

var ErrInvalidConfig = errors.New("outbox: invalid configuration")

// Message is one row of a <module>_outbox table.
type Message struct {
	Topic       string
	EventID     uuid.UUID
	AggregateID uuid.UUID
	Payload     json.RawMessage
}

func (m Message) validate() error {
	switch {
	case m.EventID == uuid.Nil:
		return invalidConfig("event_id is required")
	case strings.TrimSpace(m.Topic) == "":
		return invalidConfig("topic is required")
	case len(m.Payload) == 0:
		return invalidConfig("payload is required")
	}
	return nil
}

// Meta travels with every dispatched payload. EventID is stable across
// retries so handlers can deduplicate.
type Meta struct {
	Table       pgx.Identifier
	Topic       string
	EventID     uuid.UUID
	AggregateID uuid.UUID
	Sequence    int64
	Attempts    int
}

type DispatchedMessage struct {
	Meta    Meta
	Payload json.RawMessage
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg DispatchedMessage) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, msg DispatchedMessage) error

func (f DispatcherFunc) Dispatch(ctx context.Context, msg DispatchedMessage) error {
	return f(ctx, msg)
}

func TableLabel(table pgx.Identifier) string {
	return strings.Join(table, ".")
}

func invalidConfig(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrInvalidConfig}, args...)...)
}

func nopLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
