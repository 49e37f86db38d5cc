package scheduling

import (
	"fmt"
	"iter"
	"time"
)

// SlotCalendar knows the clinic's opening hours. It is the only place slot
// rules live; everything else asks it.
type SlotCalendar struct{}

// openingHours returns the first and last slot hour for a weekday, or ok=false
// when the clinic is closed.
func openingHours(wd time.Weekday) (first, last int, ok bool) {
	switch wd {
	case time.Tuesday, time.Thursday:
		return 9, 16, true
	case time.Saturday:
		return 10, 14, true
	}
	return 0, 0, false
}

// IsClinicDay reports whether the clinic offers any slots on d.
func (SlotCalendar) IsClinicDay(d Date) bool {
	_, _, ok := openingHours(d.Weekday())
	return ok
}

// Slots returns the hourly "HH:MM" slot sequence for d in ascending order.
// The sequence is lazy and can be ranged over any number of times. On a
// closed day it is empty and the error wraps ErrNonClinicDay.
func (SlotCalendar) Slots(d Date) (iter.Seq[string], error) {
	first, last, ok := openingHours(d.Weekday())
	if !ok {
		return func(func(string) bool) {}, fmt.Errorf("%w: %s is a %s", ErrNonClinicDay, d, d.Weekday())
	}
	return func(yield func(string) bool) {
		for h := first; h <= last; h++ {
			if !yield(fmt.Sprintf("%02d:00", h)) {
				return
			}
		}
	}, nil
}

// SlotsFor parses raw and returns its slots.
func (c SlotCalendar) SlotsFor(raw string) (iter.Seq[string], error) {
	d, err := ParseDate(raw)
	if err != nil {
		return func(func(string) bool) {}, err
	}
	return c.Slots(d)
}

// Offers reports whether hhmm is one of d's slots.
func (c SlotCalendar) Offers(d Date, hhmm string) bool {
	slots, err := c.Slots(d)
	if err != nil {
		return false
	}
	for s := range slots {
		if s == hhmm {
			return true
		}
	}
	return false
}
