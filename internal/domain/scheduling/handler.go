package scheduling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/pkg/pagination"
)

// Handler exposes the scheduling service over HTTP. The caller identity comes
// from the auth middleware.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/doctors/:doctor_id/slots", h.ListSlots)

	appts := g.Group("/appointments")
	appts.POST("", h.Book)
	appts.GET("", h.List)
	appts.GET("/:id", h.Get)
	appts.GET("/:id/actions", h.Actions)
	appts.POST("/:id/transitions", h.Transition)
	appts.POST("/:id/cancel", h.Cancel)
	appts.PUT("/:id/notes", h.UpdateNotes)
}

type bookRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id" validate:"required"`
	Date            string `json:"date" validate:"required"`
	Time            string `json:"time" validate:"required"`
	Type            string `json:"type" validate:"omitempty,oneof=consultation follow-up treatment emergency check-up"`
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,min=15,max=240"`
	Notes           string `json:"notes" validate:"max=2000"`
}

type transitionRequest struct {
	Action string `json:"action" validate:"required,oneof=confirm cancel complete reschedule no_show"`
	Date   string `json:"date"`
	Time   string `json:"time"`
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type slotsResponse struct {
	DoctorID  string   `json:"doctor_id"`
	Date      string   `json:"date"`
	ClinicDay bool     `json:"clinic_day"`
	Slots     []string `json:"slots"`
}

type actionsResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Actions       []Action  `json:"actions"`
}

type cancelResponse struct {
	Decision    CancelDecision `json:"decision"`
	Message     string         `json:"message"`
	Appointment *Appointment   `json:"appointment,omitempty"`
}

// ListSlots handles GET /doctors/:doctor_id/slots?date=YYYY-MM-DD.
// A closed day is not an error for the client: it gets an empty list.
func (h *Handler) ListSlots(c echo.Context) error {
	doctorID := c.Param("doctor_id")
	d, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date query parameter must be YYYY-MM-DD")
	}

	slots, err := h.svc.ListAvailableSlots(c.Request().Context(), doctorID, d)
	if err != nil && !errors.Is(err, ErrNonClinicDay) {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slotsResponse{
		DoctorID:  doctorID,
		Date:      d.String(),
		ClinicDay: err == nil,
		Slots:     slots,
	})
}

func (h *Handler) Book(c echo.Context) error {
	actor := actorFrom(c)
	if !PermissionsFor(actor.Role).Create {
		return echo.NewHTTPError(http.StatusForbidden, "role cannot create appointments")
	}

	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if actor.Role == RolePatient {
		if req.PatientID == "" {
			req.PatientID = actor.ID
		}
		if req.PatientID != actor.ID {
			return echo.NewHTTPError(http.StatusForbidden, "patients can only book for themselves")
		}
	}

	d, err := ParseDate(req.Date)
	if err != nil {
		return httpError(err)
	}

	appt, err := h.svc.Book(c.Request().Context(), BookingRequest{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		Date:            d,
		Time:            req.Time,
		Type:            AppointmentType(req.Type),
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListForActor(c.Request().Context(), actorFrom(c), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p).WithLinks(c.Request().URL.Path, p))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	appt, err := h.svc.Get(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Actions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	actions, err := h.svc.AllowedActions(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, actionsResponse{AppointmentID: id, Actions: actions})
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	tr := TransitionRequest{Action: Action(req.Action), Time: req.Time}
	if req.Date != "" {
		d, err := ParseDate(req.Date)
		if err != nil {
			return httpError(err)
		}
		tr.Date = &d
	}

	appt, err := h.svc.Transition(c.Request().Context(), actorFrom(c), id, tr)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// Cancel answers 200 when cancelled and 403 with the decision when the
// cancellation policy refuses.
func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	out, err := h.svc.Cancel(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	resp := cancelResponse{Decision: out.Decision, Message: out.Decision.Message(), Appointment: out.Appointment}
	if !out.Decision.Allowed {
		return c.JSON(http.StatusForbidden, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdateNotes(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var req notesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	appt, err := h.svc.UpdateNotes(c.Request().Context(), actorFrom(c), id, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{ID: auth.ActorIDFromContext(ctx), Role: Role(auth.RoleFromContext(ctx))}
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSlotConflict),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrTerminalState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNonClinicDay),
		errors.Is(err, ErrSlotNotOffered),
		errors.Is(err, ErrDateInPast):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrDurationOutOfRange),
		errors.Is(err, ErrMissingPatientID),
		errors.Is(err, ErrMissingDoctorID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
