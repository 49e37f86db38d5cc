package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names an appointment event.
type EventType string

const (
	EventCreated       EventType = "appointment.created"
	EventStatusChanged EventType = "appointment.status_changed"
	EventReminderDue   EventType = "appointment.reminder_due"
)

// Event signals that something happened to an appointment. Delivery of any
// notification it implies happens outside this package.
type Event struct {
	ID            uuid.UUID    `json:"id"`
	Type          EventType    `json:"type"`
	AppointmentID uuid.UUID    `json:"appointment_id"`
	From          Status       `json:"from,omitempty"`
	To            Status       `json:"to,omitempty"`
	Actor         *Actor       `json:"actor,omitempty"`
	Appointment   *Appointment `json:"appointment"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// Publisher hands events to whatever transport the host wires in.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
