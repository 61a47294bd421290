package history

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/intake/internal/domain/anamnesis"
	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/auth"
	"github.com/ehr/intake/pkg/pagination"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	view *View
	loc  *time.Location
	now  func() time.Time
}

func NewHandler(view *View, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{view: view, loc: loc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.StaffRoles...))
	g.GET("/history", h.List)
	g.GET("/history/export", h.Export)
}

// List accepts the same query parameters as the anamnesis listing.
func (h *Handler) List(c echo.Context) error {
	entries, err := h.entries(c)
	if err != nil {
		return err
	}
	return pagination.Respond(c, http.StatusOK, entries)
}

func (h *Handler) Export(c echo.Context) error {
	entries, err := h.entries(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, entries, h.loc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to export history").SetInternal(err)
	}
	name := fmt.Sprintf("anamneses-%s.xlsx", h.now().In(h.loc).Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())
}

func (h *Handler) entries(c echo.Context) ([]Entry, error) {
	crit, err := anamnesis.CriteriaFromQuery(c, h.loc)
	if err != nil {
		return nil, err
	}
	entries, err := h.view.Entries(c.Request().Context(), crit)
	if err != nil {
		return nil, apperr.HTTP(err, "failed to load history")
	}
	return entries, nil
}
