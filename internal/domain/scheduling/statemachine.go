package scheduling

import "fmt"

type transitionKey struct {
	from   Status
	action Action
}

var transitions = map[transitionKey]Status{
	{StatusPending, ActionConfirm}:             StatusConfirmed,
	{StatusPending, ActionCancel}:              StatusCancelled,
	{StatusConfirmed, ActionComplete}:          StatusCompleted,
	{StatusConfirmed, ActionReschedule}:        StatusRescheduleRequested,
	{StatusConfirmed, ActionNoShow}:            StatusNoShow,
	{StatusConfirmed, ActionCancel}:            StatusCancelled,
	{StatusRescheduleRequested, ActionConfirm}: StatusConfirmed,
	{StatusRescheduleRequested, ActionCancel}:  StatusCancelled,
}

// IsTerminal reports whether s admits no further transitions.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// IsStatusAction reports whether a drives the state machine.
func IsStatusAction(a Action) bool {
	switch a {
	case ActionConfirm, ActionCancel, ActionComplete, ActionReschedule, ActionNoShow:
		return true
	}
	return false
}

// NextStatus returns the status reached by applying action to from.
func NextStatus(from Status, action Action) (Status, error) {
	if IsTerminal(from) {
		return "", fmt.Errorf("%w: %s", ErrTerminalState, from)
	}
	to, ok := transitions[transitionKey{from, action}]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, from)
	}
	return to, nil
}
