package anamnesis

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/auth"
	"github.com/ehr/intake/internal/platform/blobstore"
	"github.com/ehr/intake/pkg/pagination"
)

type Handler struct {
	svc   *Service
	blobs blobstore.Store
	loc   *time.Location
}

// NewHandler serves the anamnesis routes. blobs may be nil, in which case
// the attachment routes are not registered. Date-only filter bounds are
// read in loc.
func NewHandler(svc *Service, blobs blobstore.Store, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{svc: svc, blobs: blobs, loc: loc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.StaffRoles...))
	readGroup.GET("/anamneses", h.ListAnamneses)
	readGroup.GET("/anamneses/status", h.Status)
	readGroup.GET("/anamneses/:id", h.GetAnamnesis)
	readGroup.GET("/patients/:id/anamneses", h.ListForPatient)

	// Intake is filled in by the exam room staff
	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleTech, auth.RoleDoctor))
	writeGroup.POST("/anamneses", h.CreateAnamnesis)
	writeGroup.PUT("/anamneses/:id", h.UpdateAnamnesis)
	writeGroup.PATCH("/anamneses/:id", h.UpdateAnamnesis)

	if h.blobs != nil {
		readGroup.GET("/anamneses/:id/attachments", h.ListAttachments)
		writeGroup.POST("/anamneses/:id/attachments", h.UploadAttachment)
	}
}

// ListAnamneses returns every record, or the filtered set when any of
// from, to, exam_type or patient_name is given.
func (h *Handler) ListAnamneses(c echo.Context) error {
	crit, err := CriteriaFromQuery(c, h.loc)
	if err != nil {
		return err
	}
	records, err := h.svc.Filter(c.Request().Context(), crit)
	if err != nil {
		return apperr.HTTP(err, "failed to load anamnesis records")
	}
	return pagination.Respond(c, http.StatusOK, records)
}

func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.State())
}

func (h *Handler) GetAnamnesis(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetByID(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err, "failed to load anamnesis")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListForPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	records, err := h.svc.GetForPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err, "failed to load patient anamnesis records")
	}
	return pagination.Respond(c, http.StatusOK, records)
}

func (h *Handler) CreateAnamnesis(c echo.Context) error {
	var a Anamnesis
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	created, err := h.svc.Create(ctx, &a, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTP(err, "failed to save anamnesis")
	}
	return c.JSON(http.StatusCreated, created)
}

// UpdateAnamnesis applies the sections present in the body. Collections in
// the body replace the stored ones.
func (h *Handler) UpdateAnamnesis(c echo.Context) error {
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
		return apperr.HTTP(err, "failed to update anamnesis")
	}
	return c.JSON(http.StatusOK, updated)
}

// UploadAttachment stores a scanned document from the multipart field
// "file" and links it to the record.
func (h *Handler) UploadAttachment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if _, err := h.svc.GetByID(ctx, id); err != nil {
		return apperr.HTTP(err, "failed to load anamnesis")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file").SetInternal(err)
	}
	defer src.Close()

	meta, err := h.blobs.Put(ctx, blobstore.Metadata{
		FileName:    file.Filename,
		ContentType: file.Header.Get(echo.HeaderContentType),
		RecordID:    id.String(),
		CreatedBy:   auth.UserIDFromContext(ctx),
	}, src)
	if err != nil {
		return blobstore.HTTPError(err)
	}
	if _, err := h.svc.AddAttachment(ctx, id, meta.ID); err != nil {
		_ = h.blobs.Delete(ctx, meta.ID)
		return apperr.HTTP(err, "failed to attach document")
	}
	return c.JSON(http.StatusCreated, meta)
}

func (h *Handler) ListAttachments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.blobs.ListByRecord(c.Request().Context(), id.String())
	if err != nil {
		return blobstore.HTTPError(err)
	}
	return pagination.Respond(c, http.StatusOK, items)
}

// CriteriaFromQuery reads from, to, exam_type and patient_name. Bounds are
// RFC 3339 timestamps or YYYY-MM-DD dates; a date-only "to" covers the
// whole day.
func CriteriaFromQuery(c echo.Context, loc *time.Location) (Criteria, error) {
	var crit Criteria
	if v := c.QueryParam("from"); v != "" {
		t, err := parseBound(v, loc, false)
		if err != nil {
			return crit, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid from: %q", v))
		}
		crit.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := parseBound(v, loc, true)
		if err != nil {
			return crit, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid to: %q", v))
		}
		crit.To = &t
	}
	if v := c.QueryParam("exam_type"); v != "" {
		et, err := ParseExamType(v)
		if err != nil {
			return crit, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		crit.ExamType = et
	}
	crit.PatientName = c.QueryParam("patient_name")
	return crit, nil
}

func parseBound(v string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, v, loc)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return d.AddDate(0, 0, 1).Add(-time.Microsecond), nil
	}
	return d, nil
}
