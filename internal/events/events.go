package events

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"go.uber.org/zap"
)

const (
	QueueClaimed   = "queue_claimed"
	QueueReleased  = "queue_released"
	QueueCalled    = "queue_called"
	QueueSkipped   = "queue_skipped"
	QueueReset     = "queue_reset"
	AllQueuesReset = "all_queues_reset"
)

// Message is the payload delivered to live displays. Zero fields are left
// out of the JSON form.
type Message struct {
	Event       string    `json:"event"`
	CounterID   int64     `json:"counter_id,omitempty"`
	CounterName string    `json:"counter_name,omitempty"`
	QueueNumber int       `json:"queue_number,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher fans a message out to interested listeners.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Bus is an in-process Publisher. Delivery is asynchronous and each
// subscriber sees messages in publish order.
type Bus struct {
	hub *pubsub.SimpleHub
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: hubLogger{logger.Named("events").Sugar()},
		}),
	}
}

func (b *Bus) Publish(ctx context.Context, msg Message) error {
	if msg.Event == "" {
		return errors.NotValidf("message without event name")
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	b.hub.Publish(msg.Event, msg)
	return nil
}

// Subscribe registers handler for every message on the bus and returns a
// function that removes it.
func (b *Bus) Subscribe(handler func(Message)) func() {
	return b.hub.SubscribeMatch(pubsub.MatchAll, func(topic string, data interface{}) {
		msg, ok := data.(Message)
		if !ok {
			return
		}
		handler(msg)
	})
}

type hubLogger struct {
	sugar *zap.SugaredLogger
}

func (l hubLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l hubLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l hubLogger) Tracef(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}
