package scheduling

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/clock"
)

// Service is the scheduling façade. All appointment writes go through it so
// that the availability index, the state machine and the policy agree.
type Service struct {
	repo      AppointmentRepository
	calendar  SlotCalendar
	index     *AvailabilityIndex
	locks     *keyLocks
	clock     clock.Clock
	loc       *time.Location
	publisher Publisher
	logger    zerolog.Logger
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLocation sets the clinic's time zone. Slot times are wall-clock times in it.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(repo AppointmentRepository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		index:     NewAvailabilityIndex(),
		locks:     newKeyLocks(),
		clock:     clock.Real{},
		loc:       time.UTC,
		publisher: nopPublisher{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Availability exposes the index for read-only queries.
func (s *Service) Availability() *AvailabilityIndex { return s.index }

// Location returns the clinic's time zone.
func (s *Service) Location() *time.Location { return s.loc }

// -- Reads --

// ListAvailableSlots returns the doctor's free slots on d in ascending order.
// Slots that have already started are left out. On a closed day the result
// is empty and the error wraps ErrNonClinicDay.
func (s *Service) ListAvailableSlots(_ context.Context, doctorID string, d Date) ([]string, error) {
	if strings.TrimSpace(doctorID) == "" {
		return []string{}, ErrMissingDoctorID
	}
	slots, err := s.calendar.Slots(d)
	if err != nil {
		return []string{}, err
	}
	now := s.clock.Now()
	free := []string{}
	for hhmm := range s.index.FreeSlots(doctorID, d, slots) {
		if start, err := d.At(hhmm, s.loc); err == nil && start.After(now) {
			free = append(free, hhmm)
		}
	}
	return free, nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.actionsFor(actor, a).Has(ActionView) {
		return nil, fmt.Errorf("%w: %s cannot view appointment %s", ErrForbidden, actor.Role, id)
	}
	return a, nil
}

// AllowedActions lists what actor may currently do to the appointment.
func (s *Service) AllowedActions(ctx context.Context, actor Actor, id uuid.UUID) ([]Action, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	set := s.actionsFor(actor, a)
	if !set.Has(ActionView) {
		return nil, fmt.Errorf("%w: %s cannot view appointment %s", ErrForbidden, actor.Role, id)
	}
	return set.Sorted(), nil
}

// ListForActor pages through the appointments actor is allowed to see.
func (s *Service) ListForActor(ctx context.Context, actor Actor, limit, offset int) ([]*Appointment, int, error) {
	switch PermissionsFor(actor.Role).View {
	case ScopeAll:
		return s.repo.List(ctx, limit, offset)
	case ScopeOwn:
		if actor.Role == RoleDoctor {
			return s.repo.ListByDoctor(ctx, actor.ID, limit, offset)
		}
		return s.repo.ListByPatient(ctx, actor.ID, limit, offset)
	}
	return nil, 0, fmt.Errorf("%w: role %q cannot list appointments", ErrForbidden, actor.Role)
}

// -- Writes --

// Book validates req and creates a pending appointment.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if strings.TrimSpace(req.PatientID) == "" {
		return nil, ErrMissingPatientID
	}
	if strings.TrimSpace(req.DoctorID) == "" {
		return nil, ErrMissingDoctorID
	}
	typ := req.Type
	if typ == "" {
		typ = TypeConsultation
	}
	if !typ.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	duration := req.DurationMinutes
	if duration == 0 {
		duration = DefaultDurationMinutes
	}
	if duration < MinDurationMinutes || duration > MaxDurationMinutes {
		return nil, fmt.Errorf("%w: got %d", ErrDurationOutOfRange, duration)
	}
	if req.Date.IsZero() {
		return nil, ErrInvalidDate
	}
	if err := s.checkSlot(req.Date, req.Time); err != nil {
		return nil, err
	}

	key := dayKey{req.DoctorID, req.Date}
	unlock := s.locks.lock(key.String())
	if s.index.HasConflict(req.DoctorID, req.Date, req.Time) {
		unlock()
		return nil, fmt.Errorf("%w: %s on %s at %s", ErrSlotConflict, req.DoctorID, req.Date, req.Time)
	}
	now := s.clock.Now()
	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		Date:            req.Date,
		Time:            req.Time,
		DurationMinutes: duration,
		Type:            typ,
		Status:          StatusPending,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		unlock()
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	s.index.Index(a)
	unlock()

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID).
		Str("date", a.Date.String()).
		Str("time", a.Time).
		Msg("appointment booked")

	s.publish(ctx, Event{Type: EventCreated, AppointmentID: a.ID, To: a.Status, Appointment: a.clone(), OccurredAt: now})
	return a, nil
}

// checkSlot verifies that hhmm is an offered, not yet elapsed slot on d.
func (s *Service) checkSlot(d Date, hhmm string) error {
	if !s.calendar.IsClinicDay(d) {
		return fmt.Errorf("%w: %s is a %s", ErrNonClinicDay, d, d.Weekday())
	}
	if !s.calendar.Offers(d, hhmm) {
		return fmt.Errorf("%w: %q on %s", ErrSlotNotOffered, hhmm, d)
	}
	start, err := d.At(hhmm, s.loc)
	if err != nil {
		return err
	}
	if !start.After(s.clock.Now()) {
		return fmt.Errorf("%w: %s %s", ErrDateInPast, d, hhmm)
	}
	return nil
}

// Transition applies a status action on behalf of actor. A cancel goes
// through the cancellation policy; a denial wraps ErrForbidden.
func (s *Service) Transition(ctx context.Context, actor Actor, id uuid.UUID, req TransitionRequest) (*Appointment, error) {
	var guard func(*Appointment, time.Duration) error
	if req.Action == ActionCancel {
		guard = cancelGuard(actor)
	}
	a, err := s.transition(ctx, actor, id, req, guard)
	var denied *cancelDenied
	if errors.As(err, &denied) {
		s.logDenial(actor, id, denied.decision)
	}
	return a, err
}

func cancelGuard(actor Actor) func(*Appointment, time.Duration) error {
	return func(a *Appointment, until time.Duration) error {
		if d := CanCancel(actor, a, until); !d.Allowed {
			return &cancelDenied{decision: d}
		}
		return nil
	}
}

// transition runs req under the appointment's day lock. guard, if set, is
// evaluated against the freshly loaded appointment before anything else.
func (s *Service) transition(ctx context.Context, actor Actor, id uuid.UUID, req TransitionRequest, guard func(a *Appointment, untilStart time.Duration) error) (*Appointment, error) {
	moving := req.Date != nil || req.Time != ""

	a, unlock, err := s.lockAppointment(ctx, id, func(cur *Appointment) []string {
		if !moving {
			return nil
		}
		target := cur.Date
		if req.Date != nil {
			target = *req.Date
		}
		return []string{dayKey{cur.DoctorID, target}.String()}
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	until := s.untilStart(a, now)
	if guard != nil {
		if err := guard(a, until); err != nil {
			unlock()
			return nil, err
		}
	}

	log := s.logger.With().
		Str("appointment_id", a.ID.String()).
		Str("actor_id", actor.ID).
		Str("role", string(actor.Role)).
		Str("action", string(req.Action)).
		Logger()

	if !ActionsFor(actor, a, until).Permits(req.Action) {
		unlock()
		log.Warn().Msg("transition denied")
		return nil, fmt.Errorf("%w: %s cannot %s appointment %s", ErrForbidden, actor.Role, req.Action, a.ID)
	}

	from := a.Status
	to, err := NextStatus(from, req.Action)
	if err != nil {
		unlock()
		log.Warn().Err(err).Str("from", string(from)).Msg("rejected status transition")
		return nil, err
	}
	if req.Action == ActionNoShow && until > 0 {
		unlock()
		err := fmt.Errorf("%w: no-show before the appointment has started", ErrInvalidTransition)
		log.Warn().Err(err).Msg("rejected status transition")
		return nil, err
	}

	updated := a.clone()
	updated.Status = to
	updated.UpdatedAt = now
	reconfirm := from == StatusRescheduleRequested && req.Action == ActionConfirm
	if moving && !reconfirm {
		unlock()
		return nil, fmt.Errorf("%w: a new slot can only be set when confirming a reschedule request", ErrInvalidTransition)
	}
	if reconfirm {
		if req.Date != nil {
			updated.Date = *req.Date
		}
		if req.Time != "" {
			updated.Time = req.Time
		}
		if err := s.checkSlot(updated.Date, updated.Time); err != nil {
			unlock()
			return nil, err
		}
		if occ, taken := s.index.occupant(updated.DoctorID, updated.Date, updated.Time); taken && occ != a.ID {
			unlock()
			return nil, fmt.Errorf("%w: %s on %s at %s", ErrSlotConflict, updated.DoctorID, updated.Date, updated.Time)
		}
	}

	if err := s.repo.Update(ctx, updated); err != nil {
		unlock()
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	switch {
	case to == StatusCancelled:
		s.index.Deindex(a)
	case updated.Date != a.Date || updated.Time != a.Time:
		s.index.Deindex(a)
		s.index.Index(updated)
	}
	unlock()

	log.Info().Str("from", string(from)).Str("to", string(to)).Msg("appointment status changed")
	s.publish(ctx, Event{
		Type:          EventStatusChanged,
		AppointmentID: updated.ID,
		From:          from,
		To:            to,
		Actor:         &actor,
		Appointment:   updated.clone(),
		OccurredAt:    now,
	})
	return updated, nil
}

// CancelOutcome reports a cancellation attempt. A denial is not an error.
type CancelOutcome struct {
	Decision    CancelDecision `json:"decision"`
	Appointment *Appointment   `json:"appointment,omitempty"`
}

type cancelDenied struct{ decision CancelDecision }

func (e *cancelDenied) Error() string {
	return fmt.Sprintf("%s: %s", string(e.decision.Reason), e.decision.Message())
}

func (e *cancelDenied) Unwrap() error { return ErrForbidden }

// Cancel applies the cancellation policy and, if it allows, cancels.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*CancelOutcome, error) {
	updated, err := s.transition(ctx, actor, id, TransitionRequest{Action: ActionCancel}, cancelGuard(actor))

	var denied *cancelDenied
	switch {
	case err == nil:
		return &CancelOutcome{Decision: allow(), Appointment: updated}, nil
	case errors.As(err, &denied):
		s.logDenial(actor, id, denied.decision)
		return &CancelOutcome{Decision: denied.decision}, nil
	case errors.Is(err, ErrForbidden):
		d := deny(ReasonNotPermitted)
		if actor.Role == RoleDoctor || actor.Role == RolePatient {
			if a, gerr := s.repo.GetByID(ctx, id); gerr == nil && a.DoctorID != actor.ID && a.PatientID != actor.ID {
				d = deny(ReasonNotOwner)
			}
		}
		s.logDenial(actor, id, d)
		return &CancelOutcome{Decision: d}, nil
	}
	return nil, err
}

func (s *Service) logDenial(actor Actor, id uuid.UUID, d CancelDecision) {
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("actor_id", actor.ID).
		Str("role", string(actor.Role)).
		Str("reason", string(d.Reason)).
		Msg("cancellation denied")
}

// UpdateNotes replaces the appointment's free-text notes.
func (s *Service) UpdateNotes(ctx context.Context, actor Actor, id uuid.UUID, notes string) (*Appointment, error) {
	a, unlock, err := s.lockAppointment(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	defer unlock()

	set := s.actionsFor(actor, a)
	if !set.Has(ActionNotes) && !set.Has(ActionEdit) {
		return nil, fmt.Errorf("%w: %s cannot edit notes on appointment %s", ErrForbidden, actor.Role, id)
	}
	updated := a.clone()
	updated.Notes = notes
	updated.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return updated, nil
}

// LoadIndex rebuilds the availability index from the repository.
func (s *Service) LoadIndex(ctx context.Context) error {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active appointments: %w", err)
	}
	s.index.Rebuild(active)
	s.logger.Info().Int("slots", s.index.Len()).Msg("availability index loaded")
	return nil
}

// DueReminders returns confirmed appointments starting within window from now.
func (s *Service) DueReminders(ctx context.Context, window time.Duration) ([]*Appointment, error) {
	now := s.clock.Now()
	horizon := now.Add(window)
	candidates, err := s.repo.ListByStatusBetween(ctx, StatusConfirmed, DateOf(now.In(s.loc)), DateOf(horizon.In(s.loc)))
	if err != nil {
		return nil, fmt.Errorf("list confirmed appointments: %w", err)
	}
	var due []*Appointment
	for _, a := range candidates {
		start, err := a.StartsAt(s.loc)
		if err != nil {
			continue
		}
		if start.After(now) && !start.After(horizon) {
			due = append(due, a)
		}
	}
	slices.SortFunc(due, func(a, b *Appointment) int {
		if a.Date != b.Date {
			if a.Date.Before(b.Date) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Time, b.Time)
	})
	return due, nil
}

// SendReminders publishes a reminder_due event for every due appointment and
// returns how many were published.
func (s *Service) SendReminders(ctx context.Context, window time.Duration) (int, error) {
	due, err := s.DueReminders(ctx, window)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	sent := 0
	var errs []error
	for _, a := range due {
		e := Event{
			ID:            uuid.New(),
			Type:          EventReminderDue,
			AppointmentID: a.ID,
			To:            a.Status,
			Appointment:   a,
			OccurredAt:    now,
		}
		if err := s.publisher.Publish(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("reminder for %s: %w", a.ID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// -- helpers --

func (s *Service) untilStart(a *Appointment, now time.Time) time.Duration {
	start, err := a.StartsAt(s.loc)
	if err != nil {
		return 0
	}
	return start.Sub(now)
}

func (s *Service) actionsFor(actor Actor, a *Appointment) ActionSet {
	return ActionsFor(actor, a, s.untilStart(a, s.clock.Now()))
}

// lockAppointment loads the appointment and takes the lock for its day plus
// any keys returned by extra. The appointment is reloaded under the lock and
// the whole thing retried if its date moved in between.
func (s *Service) lockAppointment(ctx context.Context, id uuid.UUID, extra func(*Appointment) []string) (*Appointment, func(), error) {
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	for {
		keys := []string{dayKey{cur.DoctorID, cur.Date}.String()}
		if extra != nil {
			keys = append(keys, extra(cur)...)
		}
		unlock := s.locks.lock(keys...)
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			unlock()
			return nil, nil, err
		}
		if a.Date == cur.Date && a.DoctorID == cur.DoctorID {
			return a, unlock, nil
		}
		unlock()
		cur = a
	}
}

func (s *Service) publish(ctx context.Context, e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", string(e.Type)).
			Str("appointment_id", e.AppointmentID.String()).
			Msg("publish event failed")
	}
}

// keyLocks hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// lock acquires every key in lexical order and returns the release func.
func (l *keyLocks) lock(keys ...string) func() {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*keyLock, 0, len(keys))
	for _, k := range keys {
		l.mu.Lock()
		kl, ok := l.locks[k]
		if !ok {
			kl = &keyLock{}
			l.locks[k] = kl
		}
		kl.refs++
		l.mu.Unlock()

		kl.mu.Lock()
		held = append(held, kl)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.mu.Lock()
				held[i].refs--
				if held[i].refs == 0 {
					delete(l.locks, keys[i])
				}
				l.mu.Unlock()
			}
		})
	}
}

func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
