package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// AppointmentRepository persists appointments. There is no Delete: an
// appointment leaves the schedule by being cancelled.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// ListActive returns every appointment that is not cancelled.
	ListActive(ctx context.Context) ([]*Appointment, error)
	List(ctx context.Context, limit, offset int) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Appointment, int, error)
	// ListByStatusBetween returns appointments in status dated from..to inclusive.
	ListByStatusBetween(ctx context.Context, status Status, from, to Date) ([]*Appointment, error)
}
