package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/intake/internal/config"
	"github.com/ehr/intake/internal/form"
	"github.com/ehr/intake/internal/platform/middleware"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "development",
		StoreBackend:   config.BackendMemory,
		CORSOrigins:    []string{"http://localhost:5173"},
		RequestTimeout: 5 * time.Second,
		BodyLimit:      "1M",
		UploadLimit:    "25M",
		DraftTTL:       time.Hour,
		LogLevel:       "info",
		Timezone:       "UTC",
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func do(t *testing.T, a *app, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func TestApp_Health(t *testing.T) {
	a := newTestApp(t)

	rec := do(t, a, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	assert.Contains(t, rec.Body.String(), `"backend":"memory"`)
}

func TestApp_PatientAndAnamnesisFlow(t *testing.T) {
	a := newTestApp(t)

	rec := do(t, a, http.MethodPost, "/api/v1/patients",
		`{"patient_id":"PAT-100","name":"Ana Souza","birth_date":"1980-01-02","gender":"FEMALE"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p struct {
		ID     string `json:"id"`
		Gender string `json:"gender"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "female", p.Gender)

	rec = do(t, a, http.MethodPost, "/api/v1/anamneses",
		`{"patient_id":"`+p.ID+`","exam_type":"tomography","medications":[{"name":"Atenolol"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, a, http.MethodGet, "/api/v1/history?patient_name=souza", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ana Souza")
}

func TestApp_UnknownPatientIsRejected(t *testing.T) {
	a := newTestApp(t)

	rec := do(t, a, http.MethodPost, "/api/v1/anamneses",
		`{"patient_id":"0b6b9c2e-8a7d-4f51-9d7e-2f3c1b0a9e88","exam_type":"resonance"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApp_Capabilities(t *testing.T) {
	a := newTestApp(t)

	rec := do(t, a, http.MethodGet, "/api/v1/capabilities", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var caps form.Capabilities
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &caps))
	assert.Equal(t, capabilities, caps)
}

func TestApp_SeedInDevelopment(t *testing.T) {
	a := newTestApp(t)

	rec := do(t, a, http.MethodPost, "/api/v1/sandbox/seed", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, a, http.MethodGet, "/api/v1/patients", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Mariana Costa")
}

func TestApp_RejectsMissingTokenOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "staging"
	cfg.AuthSigningKey = "test-secret"
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	rec := do(t, a, http.MethodGet, "/api/v1/patients", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, a, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
