package scheduling

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type appointmentRepoMemory struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Appointment
}

// NewAppointmentRepoMemory returns a process-local repository, used when no
// database is configured and in tests.
func NewAppointmentRepoMemory() AppointmentRepository {
	return &appointmentRepoMemory{items: make(map[uuid.UUID]*Appointment)}
}

func (r *appointmentRepoMemory) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if _, exists := r.items[a.ID]; exists {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	if a.Status != StatusCancelled {
		for _, other := range r.items {
			if other.Status != StatusCancelled && other.DoctorID == a.DoctorID &&
				other.Date == a.Date && other.Time == a.Time {
				return fmt.Errorf("%w: %s %s %s", ErrSlotConflict, a.DoctorID, a.Date, a.Time)
			}
		}
	}
	r.items[a.ID] = a.clone()
	return nil
}

func (r *appointmentRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
	}
	return a.clone(), nil
}

func (r *appointmentRepoMemory) Update(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrAppointmentNotFound, a.ID)
	}
	r.items[a.ID] = a.clone()
	return nil
}

func (r *appointmentRepoMemory) ListActive(_ context.Context) ([]*Appointment, error) {
	return r.filter(func(a *Appointment) bool { return a.Status != StatusCancelled }), nil
}

func (r *appointmentRepoMemory) List(_ context.Context, limit, offset int) ([]*Appointment, int, error) {
	all := r.filter(func(*Appointment) bool { return true })
	return page(all, limit, offset), len(all), nil
}

func (r *appointmentRepoMemory) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	all := r.filter(func(a *Appointment) bool { return a.PatientID == patientID })
	return page(all, limit, offset), len(all), nil
}

func (r *appointmentRepoMemory) ListByDoctor(_ context.Context, doctorID string, limit, offset int) ([]*Appointment, int, error) {
	all := r.filter(func(a *Appointment) bool { return a.DoctorID == doctorID })
	return page(all, limit, offset), len(all), nil
}

func (r *appointmentRepoMemory) ListByStatusBetween(_ context.Context, status Status, from, to Date) ([]*Appointment, error) {
	return r.filter(func(a *Appointment) bool {
		return a.Status == status && !a.Date.Before(from) && !to.Before(a.Date)
	}), nil
}

// filter returns matching clones ordered by date and time, newest first.
func (r *appointmentRepoMemory) filter(match func(*Appointment) bool) []*Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Appointment
	for _, a := range r.items {
		if match(a) {
			out = append(out, a.clone())
		}
	}
	slices.SortFunc(out, func(a, b *Appointment) int {
		if a.Date != b.Date {
			if a.Date.Before(b.Date) {
				return 1
			}
			return -1
		}
		if a.Time != b.Time {
			if a.Time < b.Time {
				return 1
			}
			return -1
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

func page(items []*Appointment, limit, offset int) []*Appointment {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
