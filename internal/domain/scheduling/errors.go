package scheduling

import "errors"

// Validation errors. These are caller-input problems and are never retried.
var (
	ErrInvalidDate        = errors.New("invalid date")
	ErrNonClinicDay       = errors.New("clinic is closed on this day")
	ErrSlotNotOffered     = errors.New("time is not an offered slot for this day")
	ErrSlotConflict       = errors.New("slot is already booked")
	ErrDurationOutOfRange = errors.New("duration must be between 15 and 240 minutes")
	ErrDateInPast         = errors.New("appointment time has already passed")
	ErrInvalidType        = errors.New("invalid appointment type")
	ErrMissingPatientID   = errors.New("patient_id is required")
	ErrMissingDoctorID    = errors.New("doctor_id is required")
)

// State machine errors: a caller bug or a stale client view.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminalState     = errors.New("appointment is in a terminal state")
)

var (
	ErrForbidden           = errors.New("action not permitted")
	ErrAppointmentNotFound = errors.New("appointment not found")
)
