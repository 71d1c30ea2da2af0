package availability

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/internal/platform/auth"
	"github.com/medibook/booking/pkg/clock"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctorOnly := auth.RequireRole(auth.RoleDoctor)
	manage := auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin)

	api.GET("/availability", h.ListMine, doctorOnly)
	api.GET("/availability/doctors", h.FindAvailableDoctors)
	api.GET("/availability/doctor/:doctor_id", h.ListByDoctor)
	api.GET("/availability/doctor/:doctor_id/date/:date", h.ListByDoctorAndDate)
	api.POST("/availability", h.Create, manage)
	api.PUT("/availability/:id", h.Update, manage)
	api.DELETE("/availability/:id", h.Delete, manage)
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

func (h *Handler) ListMine(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	slots, err := h.svc.ListByDoctor(c.Request().Context(), a.DoctorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(slots))
}

func (h *Handler) ListByDoctor(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	slots, err := h.svc.ListByDoctor(c.Request().Context(), doctorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(slots))
}

func (h *Handler) ListByDoctorAndDate(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	date, err := clock.ParseDate(c.Param("date"))
	if err != nil {
		return apperr.Validation("%v", err)
	}
	slots, err := h.svc.ListByDoctorAndDate(c.Request().Context(), doctorID, date)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(slots))
}

func (h *Handler) FindAvailableDoctors(c echo.Context) error {
	date, err := clock.ParseDate(c.QueryParam("date"))
	if err != nil {
		return apperr.Validation("%v", err)
	}
	start, err := clock.ParseTimeOfDay(c.QueryParam("start_time"))
	if err != nil {
		return apperr.Validation("start_time: %v", err)
	}
	end, err := clock.ParseTimeOfDay(c.QueryParam("end_time"))
	if err != nil {
		return apperr.Validation("end_time: %v", err)
	}
	doctors, err := h.svc.FindAvailableDoctors(c.Request().Context(), date, start, end)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doctors)
}

func (h *Handler) Create(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	slot, err := h.svc.Create(c.Request().Context(), a, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, slot)
}

func (h *Handler) Update(c echo.Context) error {
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
	slot, err := h.svc.Update(c.Request().Context(), a, id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, slot)
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

func nonNil(slots []*Slot) []*Slot {
	if slots == nil {
		return []*Slot{}
	}
	return slots
}
