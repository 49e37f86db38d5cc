package scheduling

import (
	"iter"
	"sync"

	"github.com/google/uuid"
)

type dayKey struct {
	doctorID string
	date     Date
}

func (k dayKey) String() string {
	return k.doctorID + "/" + k.date.String()
}

// AvailabilityIndex tracks which (doctor, date, time) slots are occupied by a
// non-cancelled appointment. Callers outside the package only read it; the
// Service mutates it while holding the matching day lock.
type AvailabilityIndex struct {
	mu       sync.RWMutex
	occupied map[dayKey]map[string]uuid.UUID
}

func NewAvailabilityIndex() *AvailabilityIndex {
	return &AvailabilityIndex{occupied: make(map[dayKey]map[string]uuid.UUID)}
}

// HasConflict reports whether the slot is taken.
func (x *AvailabilityIndex) HasConflict(doctorID string, d Date, hhmm string) bool {
	_, ok := x.occupant(doctorID, d, hhmm)
	return ok
}

func (x *AvailabilityIndex) occupant(doctorID string, d Date, hhmm string) (uuid.UUID, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.occupied[dayKey{doctorID, d}][hhmm]
	return id, ok
}

// FreeSlots filters candidates down to the slots not occupied for the doctor
// on d. Occupancy is snapshotted once per iteration, so a single pass never
// mixes two states of the index.
func (x *AvailabilityIndex) FreeSlots(doctorID string, d Date, candidates iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		x.mu.RLock()
		taken := make(map[string]struct{}, len(x.occupied[dayKey{doctorID, d}]))
		for t := range x.occupied[dayKey{doctorID, d}] {
			taken[t] = struct{}{}
		}
		x.mu.RUnlock()

		for s := range candidates {
			if _, busy := taken[s]; busy {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Index records a as occupying its slot. Cancelled appointments are ignored.
func (x *AvailabilityIndex) Index(a *Appointment) {
	if a == nil || a.Status == StatusCancelled {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.put(a)
}

func (x *AvailabilityIndex) put(a *Appointment) {
	k := dayKey{a.DoctorID, a.Date}
	slots, ok := x.occupied[k]
	if !ok {
		slots = make(map[string]uuid.UUID)
		x.occupied[k] = slots
	}
	slots[a.Time] = a.ID
}

// Deindex frees a's slot if a is the one occupying it.
func (x *AvailabilityIndex) Deindex(a *Appointment) {
	if a == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	k := dayKey{a.DoctorID, a.Date}
	slots := x.occupied[k]
	if id, ok := slots[a.Time]; ok && id == a.ID {
		delete(slots, a.Time)
		if len(slots) == 0 {
			delete(x.occupied, k)
		}
	}
}

// Rebuild replaces the index contents with appts.
func (x *AvailabilityIndex) Rebuild(appts []*Appointment) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.occupied = make(map[dayKey]map[string]uuid.UUID)
	for _, a := range appts {
		if a == nil || a.Status == StatusCancelled {
			continue
		}
		x.put(a)
	}
}

// Len returns the number of occupied slots.
func (x *AvailabilityIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, slots := range x.occupied {
		n += len(slots)
	}
	return n
}
