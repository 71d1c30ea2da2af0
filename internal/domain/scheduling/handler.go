package scheduling

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/internal/platform/auth"
	"github.com/medibook/booking/pkg/clock"
	"github.com/medibook/booking/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patient := auth.RequireRole(auth.RolePatient)
	doctor := auth.RequireRole(auth.RoleDoctor)
	parties := auth.RequireRole(auth.RoleDoctor, auth.RolePatient)
	staff := auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin)
	anyone := auth.RequireRole(auth.RoleDoctor, auth.RolePatient, auth.RoleAdmin)

	api.POST("/appointments", h.Book, patient)
	api.POST("/appointments/by-fullname", h.BookByFullName, doctor)
	api.GET("/appointments/me", h.ListMine, parties)
	api.GET("/appointments/by-date", h.ListByDate, doctor)
	api.GET("/appointments/by-status", h.ListByStatus, anyone)
	api.GET("/appointments/past", h.ListPast, anyone)
	api.GET("/appointments/upcoming", h.ListUpcoming, anyone)
	api.GET("/appointments/search", h.Search, staff)
	api.GET("/appointments/:id", h.Get, anyone)
	api.PATCH("/appointments/:id/status", h.UpdateStatus, staff)
	api.POST("/appointments/:id/cancel", h.Cancel, patient)
	api.PUT("/appointments/:id", h.UpdateFields, staff)
	api.DELETE("/appointments/:id", h.Delete, anyone)
	api.GET("/doctors/:doctor_id/calendar", h.DoctorCalendar)
}

func actor(c echo.Context) (*auth.Actor, error) {
	a, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return a, nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

// page writes one page of appointments with the total count.
func page(c echo.Context, appts []*Appointment) error {
	p := pagination.FromContext(c)
	start, end := p.Window(len(appts))
	data := appts[start:end]
	if data == nil {
		data = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(data, len(appts), p))
}

func (h *Handler) Book(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	appt, err := h.svc.Book(c.Request().Context(), a, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) BookByFullName(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req BookByNameRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	appt, err := h.svc.BookByFullName(c.Request().Context(), a, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) ListMine(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	appts, err := h.svc.ListMine(c.Request().Context(), a)
	if err != nil {
		return err
	}
	return page(c, appts)
}

func (h *Handler) ListByDate(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	date, err := clock.ParseDate(c.QueryParam("date"))
	if err != nil {
		return apperr.Validation("date: %v", err)
	}
	appts, err := h.svc.ListByDate(c.Request().Context(), a, date)
	if err != nil {
		return err
	}
	return page(c, appts)
}

func (h *Handler) ListByStatus(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	appts, err := h.svc.ListByStatus(c.Request().Context(), a, Status(c.QueryParam("status")))
	if err != nil {
		return err
	}
	return page(c, appts)
}

func (h *Handler) ListPast(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	appts, err := h.svc.ListPast(c.Request().Context(), a)
	if err != nil {
		return err
	}
	return page(c, appts)
}

func (h *Handler) ListUpcoming(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	appts, err := h.svc.ListUpcoming(c.Request().Context(), a)
	if err != nil {
		return err
	}
	return page(c, appts)
}

func (h *Handler) Search(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	appts, err := h.svc.Search(c.Request().Context(), a, c.QueryParam("name"))
	if err != nil {
		return err
	}
	return page(c, appts)
}

func (h *Handler) Get(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.svc.Get(c.Request().Context(), a, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	status := c.QueryParam("new_status")
	if status == "" {
		return apperr.Validation("new_status is required")
	}
	appt, err := h.svc.UpdateStatus(c.Request().Context(), a, id, Status(status))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Cancel(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	// The body is optional.
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	appt, err := h.svc.Cancel(c.Request().Context(), a, id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) UpdateFields(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	appt, err := h.svc.UpdateFields(c.Request().Context(), a, id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Delete(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), a, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DoctorCalendar(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	cal, err := h.svc.DoctorCalendar(c.Request().Context(), doctorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cal)
}
