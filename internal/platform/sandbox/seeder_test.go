package sandbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/intake/internal/domain/anamnesis"
	"github.com/ehr/intake/internal/domain/patient"
)

type stores struct {
	patients  *patient.Service
	anamneses *anamnesis.Service
}

func newStores() stores {
	repo := patient.NewMemoryRepo(0)
	patients := patient.NewService(repo, zerolog.Nop())
	check := func(ctx context.Context, id uuid.UUID) error {
		_, err := repo.GetByID(ctx, id)
		return err
	}
	records := anamnesis.NewService(anamnesis.NewMemoryRepo(0, check), patients, zerolog.Nop())
	return stores{patients: patients, anamneses: records}
}

func TestSeed_LoadsDemoSet(t *testing.T) {
	s := newStores()
	ctx := context.Background()

	result, err := NewSeeder(s.patients, s.anamneses, zerolog.Nop()).Seed(ctx, SeedConfig{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Patients)
	assert.Equal(t, 2, result.Anamneses)
	assert.Zero(t, result.Skipped)

	matches, err := s.patients.Search(ctx, "Carlos")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	records, err := s.anamneses.GetForPatient(ctx, matches[0].ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, anamnesis.ExamResonance, rec.ExamType)
	assert.Equal(t, "Coluna Lombar", rec.ExamSubtype)
	assert.Equal(t, SeedUser, rec.CreatedBy)
	require.Len(t, rec.Medications, 2)
	assert.Equal(t, "Ibuprofeno", rec.Medications[1].Name)
	assert.Equal(t, anamnesis.MethodExternal, rec.Signatures.Patient.Method)
	assert.True(t, rec.Signatures.Patient.IsSigned())
}

func TestSeed_IsIdempotent(t *testing.T) {
	s := newStores()
	ctx := context.Background()
	seeder := NewSeeder(s.patients, s.anamneses, zerolog.Nop())

	_, err := seeder.Seed(ctx, SeedConfig{})
	require.NoError(t, err)
	again, err := seeder.Seed(ctx, SeedConfig{})
	require.NoError(t, err)

	assert.Zero(t, again.Patients)
	assert.Zero(t, again.Anamneses)
	assert.Equal(t, 3, again.Skipped)

	all, err := s.patients.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSeed_ExtraPatientsAreReproducible(t *testing.T) {
	names := func() []string {
		s := newStores()
		_, err := NewSeeder(s.patients, s.anamneses, zerolog.Nop()).Seed(context.Background(), SeedConfig{ExtraPatients: 5, Seed: 42})
		require.NoError(t, err)
		all, err := s.patients.List(context.Background())
		require.NoError(t, err)
		var out []string
		for _, p := range all {
			if strings.HasPrefix(p.PatientID, "GEN-") {
				out = append(out, p.PatientID+" "+p.Name+" "+p.BirthDate)
			}
		}
		return out
	}

	first := names()
	assert.Len(t, first, 5)
	assert.ElementsMatch(t, first, names())
}

type failingPatients struct{ PatientStore }

func (failingPatients) List(context.Context) ([]*patient.Patient, error) {
	return nil, errors.New("connection refused")
}

func TestSeed_PropagatesStoreError(t *testing.T) {
	s := newStores()
	_, err := NewSeeder(failingPatients{}, s.anamneses, zerolog.Nop()).Seed(context.Background(), SeedConfig{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestSeedHandler(t *testing.T) {
	s := newStores()
	h := NewSeedHandler(NewSeeder(s.patients, s.anamneses, zerolog.Nop()))
	e := echo.New()

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"default", `{}`, http.StatusOK},
		{"extra", `{"extra_patients":2,"seed":7}`, http.StatusOK},
		{"out of range", `{"extra_patients":-1}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sandbox/seed", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := h.handleSeed(c)
			if tt.status == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, rec.Code)
				return
			}
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.status, he.Code)
		})
	}
}
