// Package notification fans machine state changes out to websocket clients,
// Redis subscribers and browser push endpoints.
package notification

import (
	"context"
	"errors"
	"time"

	"factory-dashboard-backend/internal/metrics"
	"factory-dashboard-backend/internal/model"
)

// EventName is the name every machine event is published under.
const EventName = "machine-update"

// Reason says what caused an event.
type Reason string

const (
	ReasonLog        Reason = "log"
	ReasonRegistered Reason = "registered"
	// ReasonOffline is a level signal. It is repeated on every liveness pass
	// for as long as the machine stays silent.
	ReasonOffline Reason = "offline"
)

// Event is a machine state change.
type Event struct {
	Name    string          `json:"event"`
	Reason  Reason          `json:"reason"`
	Machine model.Machine   `json:"machine"`
	Online  bool            `json:"online"`
	Log     *model.LogEntry `json:"log,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent stamps an event with EventName and at.
func NewEvent(reason Reason, m model.Machine, online bool, at time.Time) Event {
	return Event{Name: EventName, Reason: reason, Machine: m, Online: online, At: at}
}

// Publisher delivers machine events. Delivery is fire-and-forget; an error
// only means the sink could not accept the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout publishes to every sink and joins their errors. A failing sink does
// not stop delivery to the others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Instrument counts every event handed to p under the given sink label.
func Instrument(sink string, p Publisher) Publisher {
	return PublisherFunc(func(ctx context.Context, ev Event) error {
		err := p.Publish(ctx, ev)
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.NotificationsTotal.WithLabelValues(sink, result).Inc()
		return err
	})
}
