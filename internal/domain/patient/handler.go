package patient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/auth"
	"github.com/ehr/intake/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every staff role
	readGroup := api.Group("", auth.RequireRole(auth.StaffRoles...))
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/today", h.TodaysAppointments)
	readGroup.GET("/patients/status", h.Status)
	readGroup.GET("/patients/:id", h.GetPatient)

	// Write endpoints – front desk
	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist))
	writeGroup.POST("/patients", h.CreatePatient)
	writeGroup.PUT("/patients/:id", h.UpdatePatient)
	writeGroup.PATCH("/patients/:id", h.UpdatePatient)
}

// ListPatients returns every patient newest first, or the search matches
// ordered by name when q is given.
func (h *Handler) ListPatients(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		patients []*Patient
		err      error
	)
	if q := c.QueryParam("q"); q != "" {
		patients, err = h.svc.Search(ctx, q)
	} else {
		patients, err = h.svc.List(ctx)
	}
	if err != nil {
		return apperr.HTTP(err, "failed to load patients")
	}
	return pagination.Respond(c, http.StatusOK, patients)
}

func (h *Handler) TodaysAppointments(c echo.Context) error {
	patients, err := h.svc.TodaysAppointments(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err, "failed to load today's appointments")
	}
	return pagination.Respond(c, http.StatusOK, patients)
}

func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.State())
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetByID(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err, "failed to load patient")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.Create(c.Request().Context(), &p)
	if err != nil {
		return apperr.HTTP(err, "failed to register patient")
	}
	return c.JSON(http.StatusCreated, created)
}

// UpdatePatient merges the fields present in the body into the stored
// record. PUT and PATCH behave the same.
func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Update(c.Request().Context(), id, patch)
	if err != nil {
		return apperr.HTTP(err, "failed to update patient")
	}
	return c.JSON(http.StatusOK, updated)
}
