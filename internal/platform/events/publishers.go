package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/scheduling"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, e scheduling.Event) error {
	ev := p.logger.Info().
		Str("event_id", e.ID.String()).
		Str("event_type", string(e.Type)).
		Str("appointment_id", e.AppointmentID.String())
	if e.From != "" {
		ev = ev.Str("from", string(e.From))
	}
	if e.To != "" {
		ev = ev.Str("to", string(e.To))
	}
	ev.Time("occurred_at", e.OccurredAt).Msg("appointment event")
	return nil
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []scheduling.Publisher

func (m Multi) Publish(ctx context.Context, e scheduling.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []scheduling.Event
}

func (r *Recorder) Publish(_ context.Context, e scheduling.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of what was recorded so far.
func (r *Recorder) Events() []scheduling.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]scheduling.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t scheduling.EventType) []scheduling.Event {
	var out []scheduling.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ scheduling.Publisher = (*KafkaPublisher)(nil)
	_ scheduling.Publisher = (*LogPublisher)(nil)
	_ scheduling.Publisher = Multi(nil)
	_ scheduling.Publisher = (*Recorder)(nil)
)
