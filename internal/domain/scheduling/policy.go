package scheduling

import (
	"slices"
	"time"
)

// CancellationLeadTime is the minimum notice a patient must give to cancel.
const CancellationLeadTime = 24 * time.Hour

// Scope limits which appointments a role can see.
type Scope string

const (
	ScopeNone Scope = ""
	ScopeOwn  Scope = "own"
	ScopeAll  Scope = "all"
)

// Capabilities is one row of the role permission matrix.
type Capabilities struct {
	View           Scope `json:"view"`
	Create         bool  `json:"create"`
	Edit           bool  `json:"edit"`
	Delete         bool  `json:"delete"`
	ChangeStatus   bool  `json:"change_status"`
	ManageSchedule bool  `json:"manage_schedule"`
}

// PermissionsFor returns the coarse capabilities of a role. Unknown roles get none.
func PermissionsFor(role Role) Capabilities {
	switch role {
	case RoleAdmin:
		return Capabilities{View: ScopeAll, Create: true, Edit: true, Delete: true, ChangeStatus: true, ManageSchedule: true}
	case RoleDoctor:
		return Capabilities{View: ScopeOwn, Create: true, Edit: true, ChangeStatus: true, ManageSchedule: true}
	case RoleStaff:
		return Capabilities{View: ScopeAll, Create: true, Edit: true, ChangeStatus: true, ManageSchedule: true}
	case RolePatient:
		return Capabilities{View: ScopeOwn, Create: true}
	}
	return Capabilities{}
}

// ActionSet is the set of actions an actor may take on one appointment.
type ActionSet map[Action]struct{}

func newActionSet(actions ...Action) ActionSet {
	s := make(ActionSet, len(actions))
	s.add(actions...)
	return s
}

func (s ActionSet) add(actions ...Action) {
	for _, a := range actions {
		s[a] = struct{}{}
	}
}

func (s ActionSet) Has(a Action) bool {
	_, ok := s[a]
	return ok
}

// Permits reports whether a may be requested. A status action is also
// permitted when the set holds change_status.
func (s ActionSet) Permits(a Action) bool {
	if s.Has(a) {
		return true
	}
	return IsStatusAction(a) && s.Has(ActionChangeStatus)
}

// Sorted returns the actions in lexical order.
func (s ActionSet) Sorted() []Action {
	out := make([]Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// ActionsFor returns what actor may do to appt. untilStart is the time left
// before the appointment begins (negative once it has started).
func ActionsFor(actor Actor, appt *Appointment, untilStart time.Duration) ActionSet {
	switch actor.Role {
	case RoleAdmin:
		return newActionSet(ActionView, ActionEdit, ActionDelete, ActionChangeStatus, ActionContact, ActionNotes)

	case RoleDoctor:
		if appt.DoctorID != actor.ID {
			return ActionSet{}
		}
		s := newActionSet(ActionView, ActionEdit, ActionChangeStatus, ActionContact, ActionNotes)
		addStatusActions(s, appt.Status)
		return s

	case RoleStaff:
		s := newActionSet(ActionView, ActionEdit, ActionChangeStatus, ActionContact)
		addStatusActions(s, appt.Status)
		return s
	}

	// patient, and any unrecognised role
	if appt.PatientID != actor.ID {
		return ActionSet{}
	}
	s := newActionSet(ActionView)
	if untilStart > 0 && (appt.Status == StatusPending || appt.Status == StatusConfirmed) {
		s.add(ActionCancel, ActionReschedule)
	}
	if appt.Status == StatusCompleted {
		s.add(ActionFeedback)
	}
	return s
}

func addStatusActions(s ActionSet, st Status) {
	switch st {
	case StatusPending:
		s.add(ActionConfirm, ActionCancel)
	case StatusConfirmed:
		s.add(ActionComplete, ActionReschedule)
	}
}

// DenialReason says why a cancellation was refused.
type DenialReason string

const (
	ReasonNone              DenialReason = ""
	ReasonPastAppointment   DenialReason = "past_appointment"
	ReasonAlreadyTerminal   DenialReason = "already_terminal"
	ReasonNotOwner          DenialReason = "not_owner"
	ReasonLeadTimeViolation DenialReason = "lead_time_violation"
	ReasonNotPermitted      DenialReason = "not_permitted"
)

// CancelDecision is the result of the cancellation policy.
type CancelDecision struct {
	Allowed bool         `json:"allowed"`
	Reason  DenialReason `json:"reason,omitempty"`
}

// Message is a human readable explanation of a denial.
func (d CancelDecision) Message() string {
	switch d.Reason {
	case ReasonNone:
		return "cancellation allowed"
	case ReasonPastAppointment:
		return "the appointment has already started or passed"
	case ReasonAlreadyTerminal:
		return "the appointment is already completed, cancelled or marked no-show"
	case ReasonNotOwner:
		return "only the appointment's owner can cancel it"
	case ReasonLeadTimeViolation:
		return "appointments must be cancelled at least 24 hours in advance"
	case ReasonNotPermitted:
		return "your role cannot cancel this appointment"
	}
	return string(d.Reason)
}

func allow() CancelDecision { return CancelDecision{Allowed: true} }
func deny(r DenialReason) CancelDecision { return CancelDecision{Reason: r} }

// CanCancel applies the cancellation policy. Admins may cancel anything that
// is not already terminal; everyone else is bound by the start time, and
// patients additionally by ownership and CancellationLeadTime.
func CanCancel(actor Actor, appt *Appointment, untilStart time.Duration) CancelDecision {
	if actor.Role == RoleAdmin {
		if IsTerminal(appt.Status) {
			return deny(ReasonAlreadyTerminal)
		}
		return allow()
	}
	if untilStart <= 0 {
		return deny(ReasonPastAppointment)
	}
	if IsTerminal(appt.Status) {
		return deny(ReasonAlreadyTerminal)
	}
	if actor.Role == RolePatient {
		if appt.PatientID != actor.ID {
			return deny(ReasonNotOwner)
		}
		if untilStart < CancellationLeadTime {
			return deny(ReasonLeadTimeViolation)
		}
	}
	return allow()
}
