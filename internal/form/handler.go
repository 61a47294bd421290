package form

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/intake/internal/domain/anamnesis"
	"github.com/ehr/intake/internal/domain/patient"
	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/auth"
)

// Capabilities tells clients which capture features this deployment
// supports. Unsupported features are reported here instead of failing.
type Capabilities struct {
	DocumentScan      bool `json:"document_scan"`
	ExternalSignature bool `json:"external_signature"`
	DrawnSignature    bool `json:"drawn_signature"`
	VoiceDictation    bool `json:"voice_dictation"`
}

type Handler struct {
	drafts    *Registry
	patients  PatientStore
	anamneses AnamnesisStore
	caps      Capabilities
	now       func() time.Time
}

func NewHandler(drafts *Registry, patients PatientStore, anamneses AnamnesisStore, caps Capabilities) *Handler {
	return &Handler{drafts: drafts, patients: patients, anamneses: anamneses, caps: caps, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/capabilities", h.GetCapabilities, auth.RequireRole(auth.StaffRoles...))

	pg := api.Group("/drafts/patients", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist))
	pg.POST("", h.OpenPatient)
	pg.GET("/:draft", h.GetPatient)
	pg.PATCH("/:draft", h.SetPatientField)
	pg.POST("/:draft/submit", h.SubmitPatient)
	pg.DELETE("/:draft", h.Close)

	ag := api.Group("/drafts/anamneses", auth.RequireRole(auth.RoleAdmin, auth.RoleTech, auth.RoleDoctor))
	ag.POST("", h.OpenAnamnesis)
	ag.GET("/:draft", h.GetAnamnesis)
	ag.PATCH("/:draft", h.SetAnamnesisField)
	ag.POST("/:draft/medications", h.AddMedication)
	ag.DELETE("/:draft/medications/:index", h.RemoveMedication)
	ag.POST("/:draft/reports", h.AddReport)
	ag.PUT("/:draft/reports/:index", h.SetReport)
	ag.POST("/:draft/signatures/:role/method", h.ChooseSignatureMethod)
	ag.POST("/:draft/signatures/:role/drawing", h.DrawSignature)
	ag.POST("/:draft/signatures/:role/complete", h.CompleteSignature)
	ag.POST("/:draft/signatures/:role/reset", h.ResetSignature)
	ag.POST("/:draft/submit", h.SubmitAnamnesis)
	ag.DELETE("/:draft", h.Close)
}

func (h *Handler) GetCapabilities(c echo.Context) error {
	return c.JSON(http.StatusOK, h.caps)
}

type openRequest struct {
	ID        *uuid.UUID `json:"id,omitempty"`
	PatientID uuid.UUID  `json:"patient_id,omitempty"`
}

type setRequest struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type patientDraftView struct {
	DraftID  uuid.UUID       `json:"draft_id"`
	RecordID *uuid.UUID      `json:"record_id,omitempty"`
	Draft    patient.Patient `json:"draft"`
	Message  string          `json:"message,omitempty"`
}

type padView struct {
	State     anamnesis.PadState  `json:"state"`
	Signature anamnesis.Signature `json:"signature"`
}

type anamnesisDraftView struct {
	DraftID    uuid.UUID              `json:"draft_id"`
	RecordID   *uuid.UUID             `json:"record_id,omitempty"`
	Draft      anamnesis.Anamnesis    `json:"draft"`
	Signatures map[SignerRole]padView `json:"signature_pads"`
	Message    string                 `json:"message,omitempty"`
}

func patientView(id uuid.UUID, f *PatientForm) patientDraftView {
	return patientDraftView{DraftID: id, RecordID: f.RecordID(), Draft: f.Draft(), Message: f.Message()}
}

func anamnesisView(id uuid.UUID, f *AnamnesisForm) anamnesisDraftView {
	pads := make(map[SignerRole]padView, 2)
	for _, role := range []SignerRole{SignerPatient, SignerProfessional} {
		p := f.Signature(role)
		pads[role] = padView{State: p.State(), Signature: p.Signature()}
	}
	return anamnesisDraftView{DraftID: id, RecordID: f.RecordID(), Draft: f.Draft(), Signatures: pads, Message: f.Message()}
}

func owner(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func draftID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("draft"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid draft id")
	}
	return id, nil
}

func (h *Handler) patientDraft(c echo.Context) (uuid.UUID, *PatientForm, error) {
	id, err := draftID(c)
	if err != nil {
		return id, nil, err
	}
	f, err := Lookup[*PatientForm](h.drafts, id, owner(c))
	if err != nil {
		return id, nil, apperr.HTTP(err, "failed to load draft")
	}
	return id, f, nil
}

func (h *Handler) anamnesisDraft(c echo.Context) (uuid.UUID, *AnamnesisForm, error) {
	id, err := draftID(c)
	if err != nil {
		return id, nil, err
	}
	f, err := Lookup[*AnamnesisForm](h.drafts, id, owner(c))
	if err != nil {
		return id, nil, apperr.HTTP(err, "failed to load draft")
	}
	return id, f, nil
}

// OpenPatient starts a registration draft, loading the patient when an id
// is given.
func (h *Handler) OpenPatient(c echo.Context) error {
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f := NewPatientForm(h.patients, req.ID)
	if err := f.Open(c.Request().Context()); err != nil {
		return apperr.HTTP(err, "failed to load patient")
	}
	id := h.drafts.Put(f, owner(c))
	return c.JSON(http.StatusCreated, patientView(id, f))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, f, err := h.patientDraft(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patientView(id, f))
}

func (h *Handler) SetPatientField(c echo.Context) error {
	id, f, err := h.patientDraft(c)
	if err != nil {
		return err
	}
	var req setRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := f.Set(req.Path, req.Value); err != nil {
		return apperr.HTTP(err, "failed to update draft")
	}
	return c.JSON(http.StatusOK, patientView(id, f))
}

func (h *Handler) SubmitPatient(c echo.Context) error {
	id, f, err := h.patientDraft(c)
	if err != nil {
		return err
	}
	if _, err := f.Submit(c.Request().Context()); err != nil {
		return apperr.HTTP(err, f.Message())
	}
	return c.JSON(http.StatusOK, patientView(id, f))
}

func (h *Handler) Close(c echo.Context) error {
	id, err := draftID(c)
	if err != nil {
		return err
	}
	if err := h.drafts.Close(id, owner(c)); err != nil {
		return apperr.HTTP(err, "failed to close draft")
	}
	return c.NoContent(http.StatusNoContent)
}

// OpenAnamnesis starts an intake draft. A new draft needs the patient id;
// an existing record is loaded by id.
func (h *Handler) OpenAnamnesis(c echo.Context) error {
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f := NewAnamnesisForm(h.anamneses, req.ID, req.PatientID, h.now)
	if err := f.Open(c.Request().Context()); err != nil {
		return apperr.HTTP(err, "failed to load anamnesis")
	}
	id := h.drafts.Put(f, owner(c))
	return c.JSON(http.StatusCreated, anamnesisView(id, f))
}

func (h *Handler) GetAnamnesis(c echo.Context) error {
	id, f, err := h.anamnesisDraft(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}

func (h *Handler) SetAnamnesisField(c echo.Context) error {
	id, f, err := h.anamnesisDraft(c)
	if err != nil {
		return err
	}
	var req setRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := f.Set(req.Path, req.Value); err != nil {
		return apperr.HTTP(err, "failed to update draft")
	}
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}

func (h *Handler) AddMedication(c echo.Context) error {
	id, f, err := h.anamnesisDraft(c)
	if err != nil {
		return err
	}
	var m anamnesis.Medication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f.AddMedication(m)
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}

func (h *Handler) RemoveMedication(c echo.Context) error {
	id, f, err := h.anamnesisDraft(c)
	if err != nil {
		return err
	}
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid index")
	}
	if err := f.RemoveMedication(i); err != nil {
		return apperr.HTTP(err, "failed to update draft")
	}
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}

func (h *Handler) AddReport(c echo.Context) error {
	id, f, err := h.anamnesisDraft(c)
	if err != nil {
		return err
	}
	var r anamnesis.Report
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f.AddReport(r)
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}

func (h *Handler) SetReport(c echo.Context) error {
	id, f, err := h.anamnesisDraft(c)
	if err != nil {
		return err
	}
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid index")
	}
	var r anamnesis.Report
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := f.SetReport(i, r); err != nil {
		return apperr.HTTP(err, "failed to update draft")
	}
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}

func (h *Handler) pad(c echo.Context) (uuid.UUID, *AnamnesisForm, *anamnesis.SignaturePad, error) {
	id, f, err := h.anamnesisDraft(c)
	if err != nil {
		return id, nil, nil, err
	}
	role, err := ParseSignerRole(c.Param("role"))
	if err != nil {
		return id, nil, nil, apperr.HTTP(err, "")
	}
	return id, f, f.Signature(role), nil
}

func (h *Handler) ChooseSignatureMethod(c echo.Context) error {
	id, f, pad, err := h.pad(c)
	if err != nil {
		return err
	}
	var req struct {
		Method anamnesis.SignatureMethod `json:"method"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := pad.Choose(req.Method); err != nil {
		return apperr.HTTP(err, "")
	}
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}

func (h *Handler) DrawSignature(c echo.Context) error {
	id, f, pad, err := h.pad(c)
	if err != nil {
		return err
	}
	var req struct {
		Drawing string `json:"drawing"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := pad.Draw(req.Drawing); err != nil {
		return apperr.HTTP(err, "")
	}
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}

// CompleteSignature finishes the pending capture. An external signature
// needs the token issued by the provider.
func (h *Handler) CompleteSignature(c echo.Context) error {
	id, f, pad, err := h.pad(c)
	if err != nil {
		return err
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if pad.State() == anamnesis.PadAwaitingExternal {
		_, err = pad.CompleteExternal(req.Token)
	} else {
		_, err = pad.CompleteDrawing()
	}
	if err != nil {
		return apperr.HTTP(err, "")
	}
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}

func (h *Handler) ResetSignature(c echo.Context) error {
	id, f, pad, err := h.pad(c)
	if err != nil {
		return err
	}
	pad.Reset()
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}

func (h *Handler) SubmitAnamnesis(c echo.Context) error {
	id, f, err := h.anamnesisDraft(c)
	if err != nil {
		return err
	}
	if _, err := f.Submit(c.Request().Context(), owner(c)); err != nil {
		return apperr.HTTP(err, f.Message())
	}
	return c.JSON(http.StatusOK, anamnesisView(id, f))
}
