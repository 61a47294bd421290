package anamnesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/platform/auth"
	"github.com/ehr/intake/internal/platform/blobstore"
	"github.com/ehr/intake/pkg/pagination"
)

func newTestHandler(opts ...Option) (*Handler, *Service, *echo.Echo) {
	svc := NewService(NewMemoryRepo(0, nil), &stubDirectory{}, zerolog.Nop(), opts...)
	return NewHandler(svc, blobstore.NewMemoryStore(), time.UTC), svc, echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_CreateAnamnesis(t *testing.T) {
	h, _, e := newTestHandler()
	pid := uuid.New()

	body := `{"patient_id":"` + pid.String() + `","exam_type":"TOMOGRAPHY","exam_subtype":"Crânio",
		"medications":[{"name":"Atenolol","dosage":"50mg","frequency":"1x"}],
		"signatures":{"patient":{"method":"govbr","external_token":"tok"}}}`
	req := jsonRequest(http.MethodPost, "/api/v1/anamneses", body)
	req = req.WithContext(auth.WithUser(req.Context(), "tech-7", auth.RoleTech))
	rec := httptest.NewRecorder()

	if err := h.CreateAnamnesis(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var a Anamnesis
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatal(err)
	}
	if a.ExamType != ExamTomography || a.CreatedBy != "tech-7" || len(a.Medications) != 1 {
		t.Errorf("unexpected record %+v", a)
	}
	if a.Signatures.Patient.Method != MethodExternal {
		t.Errorf("signature method = %q", a.Signatures.Patient.Method)
	}
}

func TestHandler_CreateAnamnesis_MissingFields(t *testing.T) {
	h, _, e := newTestHandler()
	err := h.CreateAnamnesis(e.NewContext(jsonRequest(http.MethodPost, "/", `{}`), httptest.NewRecorder()))
	if code := httpCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_UpdateAnamnesis_ReplacesCollection(t *testing.T) {
	h, svc, e := newTestHandler()
	created, _ := svc.Create(context.Background(), validDraft(uuid.New()), "u")

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPatch, "/", `{"medications":[]}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())

	if err := h.UpdateAnamnesis(c); err != nil {
		t.Fatal(err)
	}
	var a Anamnesis
	json.Unmarshal(rec.Body.Bytes(), &a)
	if len(a.Medications) != 0 || len(a.Reports) != 1 {
		t.Errorf("medications=%d reports=%d", len(a.Medications), len(a.Reports))
	}
}

func TestHandler_GetAnamnesis_Errors(t *testing.T) {
	h, _, e := newTestHandler()
	cases := map[string]int{
		"not-a-uuid":        http.StatusBadRequest,
		uuid.New().String(): http.StatusNotFound,
	}
	for id, want := range cases {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(id)
		if code := httpCode(t, h.GetAnamnesis(c)); code != want {
			t.Errorf("id %q: expected %d, got %d", id, want, code)
		}
	}
}

func TestHandler_ListAnamneses_DateOnlyUpperBound(t *testing.T) {
	clock := &stepClock{t: time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)}
	h, svc, e := newTestHandler(WithClock(clock.Now))
	ctx := context.Background()
	svc.Create(ctx, validDraft(uuid.New()), "u")
	clock.Set(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC))
	svc.Create(ctx, validDraft(uuid.New()), "u")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/anamneses?from=2024-03-10&to=2024-03-10", nil), rec)
	if err := h.ListAnamneses(c); err != nil {
		t.Fatal(err)
	}
	var page pagination.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 {
		t.Errorf("expected the whole of 2024-03-10 and nothing after, got %d records", page.Total)
	}
}

func TestHandler_ListAnamneses_BadQuery(t *testing.T) {
	h, _, e := newTestHandler()
	for _, q := range []string{"from=yesterday", "to=2024-13-01", "exam_type=xray"} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?"+q, nil), httptest.NewRecorder())
		if code := httpCode(t, h.ListAnamneses(c)); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, code)
		}
	}
}

func TestCriteriaFromQuery(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet,
		"/?from=2024-03-01T10:00:00Z&to=2024-03-31&exam_type=RESONANCE&patient_name=ana", nil), httptest.NewRecorder())

	crit, err := CriteriaFromQuery(c, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if !crit.From.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", crit.From)
	}
	if want := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC).Add(-time.Microsecond); !crit.To.Equal(want) {
		t.Errorf("to = %v, want %v", crit.To, want)
	}
	if crit.ExamType != ExamResonance || crit.PatientName != "ana" {
		t.Errorf("criteria = %+v", crit)
	}
}

func TestHandler_UploadAttachment(t *testing.T) {
	h, svc, e := newTestHandler()
	created, _ := svc.Create(context.Background(), validDraft(uuid.New()), "u")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="scan.png"`)
	hdr.Set("Content-Type", "image/png")
	part, _ := mw.CreatePart(hdr)
	part.Write([]byte("png-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())

	if err := h.UploadAttachment(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var meta blobstore.Metadata
	json.Unmarshal(rec.Body.Bytes(), &meta)

	got, _ := svc.GetByID(context.Background(), created.ID)
	if len(got.Attachments) != 1 || got.Attachments[0] != meta.ID {
		t.Errorf("attachments = %v, uploaded %s", got.Attachments, meta.ID)
	}
}

func TestHandler_Status(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	if err := h.Status(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"loading":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
