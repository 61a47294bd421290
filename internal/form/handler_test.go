package form

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/intake/internal/domain/anamnesis"
	"github.com/ehr/intake/internal/platform/auth"
)

type harness struct {
	h *Handler
	e *echo.Echo
}

func newHarness() *harness {
	h := NewHandler(NewRegistry(time.Hour, zerolog.Nop()), newPatientStore(), newAnamnesisStore(),
		Capabilities{DocumentScan: true, DrawnSignature: true, ExternalSignature: true})
	h.now = clock
	return &harness{h: h, e: echo.New()}
}

// call runs fn as user "staff-1" with an optional JSON body and path params
// given as name/value pairs.
func (hs *harness) call(t *testing.T, fn echo.HandlerFunc, body string, params ...string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(auth.WithUser(req.Context(), "staff-1", auth.RoleAdmin))
	rec := httptest.NewRecorder()
	c := hs.e.NewContext(req, rec)
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return rec, fn(c)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHandler_PatientDraftFlow(t *testing.T) {
	hs := newHarness()

	rec, err := hs.call(t, hs.h.OpenPatient, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, rec.Code)
	draft := decode[patientDraftView](t, rec).DraftID.String()

	for _, body := range []string{
		`{"path":"patient_id","value":"P-9"}`,
		`{"path":"name","value":"Rita"}`,
		`{"path":"birth_date","value":"1990-04-04"}`,
	} {
		_, err := hs.call(t, hs.h.SetPatientField, body, "draft", draft)
		require.NoError(t, err)
	}

	// Missing gender: the submit fails and the draft survives.
	_, err = hs.call(t, hs.h.SubmitPatient, "", "draft", draft)
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadRequest, he.Code)

	rec, err = hs.call(t, hs.h.GetPatient, "", "draft", draft)
	require.NoError(t, err)
	view := decode[patientDraftView](t, rec)
	assert.Equal(t, "Rita", view.Draft.Name)
	assert.Contains(t, view.Message, "gender")

	_, err = hs.call(t, hs.h.SetPatientField, `{"path":"gender","value":"OTHER"}`, "draft", draft)
	require.NoError(t, err)
	rec, err = hs.call(t, hs.h.SubmitPatient, "", "draft", draft)
	require.NoError(t, err)
	view = decode[patientDraftView](t, rec)
	require.NotNil(t, view.RecordID)
	assert.Empty(t, view.Message)
}

func TestHandler_SetFieldErrors(t *testing.T) {
	hs := newHarness()
	rec, _ := hs.call(t, hs.h.OpenPatient, "")
	draft := decode[patientDraftView](t, rec).DraftID.String()

	_, err := hs.call(t, hs.h.SetPatientField, `{"path":"nickname","value":"x"}`, "draft", draft)
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadRequest, he.Code)

	_, err = hs.call(t, hs.h.GetPatient, "", "draft", uuid.New().String())
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusNotFound, he.Code)

	_, err = hs.call(t, hs.h.GetPatient, "", "draft", "nope")
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestHandler_AnamnesisDraftWithSignature(t *testing.T) {
	hs := newHarness()
	pid := uuid.New()

	rec, err := hs.call(t, hs.h.OpenAnamnesis, `{"patient_id":"`+pid.String()+`"}`)
	require.NoError(t, err)
	draft := decode[anamnesisDraftView](t, rec).DraftID.String()

	_, err = hs.call(t, hs.h.SetAnamnesisField, `{"path":"exam_type","value":"tomography"}`, "draft", draft)
	require.NoError(t, err)
	_, err = hs.call(t, hs.h.AddMedication, `{"name":"Ibuprofeno","dosage":"400mg"}`, "draft", draft)
	require.NoError(t, err)
	_, err = hs.call(t, hs.h.AddReport, `{"description":"ok"}`, "draft", draft)
	require.NoError(t, err)
	_, err = hs.call(t, hs.h.SetReport, `{"description":"edited"}`, "draft", draft, "index", "0")
	require.NoError(t, err)

	_, err = hs.call(t, hs.h.ChooseSignatureMethod, `{"method":"govbr"}`, "draft", draft, "role", "patient")
	require.NoError(t, err)
	rec, err = hs.call(t, hs.h.CompleteSignature, `{"token":"gov-1"}`, "draft", draft, "role", "patient")
	require.NoError(t, err)
	view := decode[anamnesisDraftView](t, rec)
	assert.Equal(t, anamnesis.PadSigned, view.Signatures[SignerPatient].State)

	rec, err = hs.call(t, hs.h.SubmitAnamnesis, "", "draft", draft)
	require.NoError(t, err)
	view = decode[anamnesisDraftView](t, rec)
	require.NotNil(t, view.RecordID)
	assert.Equal(t, "staff-1", view.Draft.CreatedBy)
	assert.Equal(t, "gov-1", view.Draft.Signatures.Patient.ExternalToken)
	assert.Equal(t, "edited", view.Draft.Reports[0].Description)

	_, err = hs.call(t, hs.h.ResetSignature, "", "draft", draft, "role", "patient")
	require.NoError(t, err)
	_, err = hs.call(t, hs.h.DrawSignature, `{"drawing":"data:x"}`, "draft", draft, "role", "patient")
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he), "drawing without choosing a method is rejected")
	assert.Equal(t, http.StatusBadRequest, he.Code)

	_, err = hs.call(t, hs.h.ChooseSignatureMethod, `{"method":"drawing"}`, "draft", draft, "role", "witness")
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestHandler_CloseDraft(t *testing.T) {
	hs := newHarness()
	rec, _ := hs.call(t, hs.h.OpenPatient, "")
	draft := decode[patientDraftView](t, rec).DraftID.String()

	rec, err := hs.call(t, hs.h.Close, "", "draft", draft)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, hs.h.drafts.Len())
}

func TestHandler_Capabilities(t *testing.T) {
	hs := newHarness()
	rec, err := hs.call(t, hs.h.GetCapabilities, "")
	require.NoError(t, err)
	caps := decode[Capabilities](t, rec)
	assert.True(t, caps.DocumentScan)
	assert.False(t, caps.VoiceDictation)
}
