package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Role is the caller's role claim, resolved by the host before calling in.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
	RolePatient Role = "patient"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleStaff, RolePatient:
		return true
	}
	return false
}

// Actor is a pre-authenticated caller.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Status is the appointment lifecycle state. Transitions go through NextStatus.
type Status string

const (
	StatusPending             Status = "pending"
	StatusConfirmed           Status = "confirmed"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
	StatusNoShow              Status = "no-show"
	StatusRescheduleRequested Status = "reschedule_requested"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled,
		StatusNoShow, StatusRescheduleRequested:
		return true
	}
	return false
}

// AppointmentType classifies the visit.
type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow-up"
	TypeTreatment    AppointmentType = "treatment"
	TypeEmergency    AppointmentType = "emergency"
	TypeCheckUp      AppointmentType = "check-up"
)

func (t AppointmentType) IsValid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeTreatment, TypeEmergency, TypeCheckUp:
		return true
	}
	return false
}

// Action is something an actor may do to an appointment. Status actions
// (confirm, cancel, complete, reschedule, no_show) also drive the state machine.
type Action string

const (
	ActionView         Action = "view"
	ActionEdit         Action = "edit"
	ActionDelete       Action = "delete"
	ActionChangeStatus Action = "change_status"
	ActionContact      Action = "contact"
	ActionNotes        Action = "notes"
	ActionConfirm      Action = "confirm"
	ActionCancel       Action = "cancel"
	ActionComplete     Action = "complete"
	ActionReschedule   Action = "reschedule"
	ActionNoShow       Action = "no_show"
	ActionFeedback     Action = "feedback"
)

const (
	MinDurationMinutes     = 15
	MaxDurationMinutes     = 240
	DefaultDurationMinutes = 60
)

// Appointment is a booked visit of one patient with one doctor in one slot.
type Appointment struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	PatientID       string          `db:"patient_id" json:"patient_id"`
	DoctorID        string          `db:"doctor_id" json:"doctor_id"`
	Date            Date            `db:"date" json:"date"`
	Time            string          `db:"time" json:"time"`
	DurationMinutes int             `db:"duration_minutes" json:"duration_minutes"`
	Type            AppointmentType `db:"type" json:"type"`
	Status          Status          `db:"status" json:"status"`
	Notes           string          `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// StartsAt returns the appointment start in the clinic's location.
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	return a.Date.At(a.Time, loc)
}

// EndsAt returns the appointment end in the clinic's location.
func (a *Appointment) EndsAt(loc *time.Location) (time.Time, error) {
	start, err := a.StartsAt(loc)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(time.Duration(a.DurationMinutes) * time.Minute), nil
}

func (a *Appointment) clone() *Appointment {
	c := *a
	return &c
}

// BookingRequest asks for a new appointment. Type and DurationMinutes are
// optional and default to consultation / 60 minutes.
type BookingRequest struct {
	PatientID       string          `json:"patient_id"`
	DoctorID        string          `json:"doctor_id"`
	Date            Date            `json:"date"`
	Time            string          `json:"time"`
	Type            AppointmentType `json:"type,omitempty"`
	DurationMinutes int             `json:"duration_minutes,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// TransitionRequest asks for a status change. Date and Time may only be set
// when confirming a reschedule_requested appointment into a new slot.
type TransitionRequest struct {
	Action Action `json:"action"`
	Date   *Date  `json:"date,omitempty"`
	Time   string `json:"time,omitempty"`
}
