// Package sandbox loads demonstration patients and anamnesis records into a
// running store. The fixed set mirrors the clinic's demo data; extra
// patients are generated reproducibly from a seed.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/domain/anamnesis"
	"github.com/ehr/intake/internal/domain/patient"
	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/auth"
)

// SeedConfig controls how much data is loaded on top of the fixed demo set.
type SeedConfig struct {
	ExtraPatients int   `json:"extra_patients"`
	Seed          int64 `json:"seed"`
}

// SeedResult summarizes a seed run. Skipped counts demo patients whose
// code already existed.
type SeedResult struct {
	Patients  int           `json:"patients"`
	Anamneses int           `json:"anamneses"`
	Skipped   int           `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

// PatientStore is the subset of patient.Service the seeder writes through.
type PatientStore interface {
	List(ctx context.Context) ([]*patient.Patient, error)
	Create(ctx context.Context, p *patient.Patient) (*patient.Patient, error)
}

// AnamnesisStore is the subset of anamnesis.Service the seeder writes through.
type AnamnesisStore interface {
	Create(ctx context.Context, draft *anamnesis.Anamnesis, createdBy string) (*anamnesis.Anamnesis, error)
}

const SeedUser = "seed"

type demoRecord struct {
	patient   patient.Patient
	anamneses []anamnesis.Anamnesis
}

func strPtr(s string) *string { return &s }

func demoSet() []demoRecord {
	return []demoRecord{
		{
			patient: patient.Patient{
				PatientID: "PAT-001",
				Name:      "Ana Silva",
				BirthDate: "1985-04-12",
				Gender:    patient.GenderFemale,
				Phone:     strPtr("(11) 98765-4321"),
				Email:     strPtr("ana.silva@example.com"),
			},
			anamneses: []anamnesis.Anamnesis{{
				ExamType:          anamnesis.ExamTomography,
				ExamSubtype:       "Crânio",
				InitialAssessment: anamnesis.InitialAssessment{ConsentSigned: true, IdentificationTag: true},
				PatientCondition:  anamnesis.PatientCondition{Walking: true, Oriented: true, Calm: true},
				PersonalHistory:   anamnesis.PersonalHistory{Hypertension: true},
				MedicationUsage:   anamnesis.MedicationUsage{Using: true},
				Medications: []anamnesis.Medication{
					{Name: "Atenolol", Dosage: "50mg", Frequency: "1x ao dia"},
				},
				AllergyInfo: anamnesis.AllergyInfo{Has: true, Description: "Dipirona"},
				Allergies: []anamnesis.Allergy{
					{Type: "Medicamento", Reaction: "Dipirona - Urticária"},
				},
				Reports: []anamnesis.Report{
					{Description: "Paciente relata dores de cabeça frequentes nos últimos 3 meses."},
				},
				Signatures: anamnesis.Signatures{
					Patient: anamnesis.Signature{
						Method:  anamnesis.MethodDrawing,
						Drawing: "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=",
					},
				},
			}},
		},
		{
			patient: patient.Patient{
				PatientID: "PAT-002",
				Name:      "Carlos Oliveira",
				BirthDate: "1972-08-22",
				Gender:    patient.GenderMale,
				Phone:     strPtr("(11) 91234-5678"),
				Email:     strPtr("carlos.oliveira@example.com"),
			},
			anamneses: []anamnesis.Anamnesis{{
				ExamType:          anamnesis.ExamResonance,
				ExamSubtype:       "Coluna Lombar",
				InitialAssessment: anamnesis.InitialAssessment{ConsentSigned: true},
				PatientCondition:  anamnesis.PatientCondition{WalkingWithHelp: true, Oriented: true, Anxious: true},
				PersonalHistory:   anamnesis.PersonalHistory{OtherConditions: "Hérnia de disco (2020), fisioterapia"},
				MedicationUsage:   anamnesis.MedicationUsage{Using: true},
				Medications: []anamnesis.Medication{
					{Name: "Omeprazol", Dosage: "20mg", Frequency: "1x ao dia"},
					{Name: "Ibuprofeno", Dosage: "600mg", Frequency: "Quando necessário"},
				},
				MRISafety: anamnesis.MRISafety{Claustrophobia: true},
				MetallicDevices: []anamnesis.MetallicDevice{
					{Type: "Placa ortopédica", Location: "Tornozelo direito", YearImplanted: "2019"},
				},
				Reports: []anamnesis.Report{
					{Description: "Paciente relata dor irradiada para perna direita."},
				},
				Signatures: anamnesis.Signatures{
					Patient: anamnesis.Signature{
						Method:        anamnesis.MethodExternal,
						ExternalToken: "demo-external-signature",
					},
				},
			}},
		},
		{
			patient: patient.Patient{
				PatientID: "PAT-003",
				Name:      "Mariana Costa",
				BirthDate: "1990-11-30",
				Gender:    patient.GenderFemale,
				Phone:     strPtr("(11) 99876-5432"),
				Email:     strPtr("mariana.costa@example.com"),
			},
		},
	}
}

var (
	givenNames  = []string{"João", "Maria", "Pedro", "Juliana", "Lucas", "Fernanda", "Rafael", "Beatriz", "Gustavo", "Camila"}
	familyNames = []string{"Souza", "Pereira", "Lima", "Ferreira", "Almeida", "Ribeiro", "Carvalho", "Gomes", "Martins", "Rocha"}
	subtypes    = map[anamnesis.ExamType][]string{
		anamnesis.ExamTomography: {"Crânio", "Tórax", "Abdome Total", "Seios da Face"},
		anamnesis.ExamResonance:  {"Coluna Lombar", "Joelho Direito", "Encéfalo", "Ombro Esquerdo"},
	}
)

// Seeder writes the demo set through the record stores, so the same
// validation and change events apply as for staff input.
type Seeder struct {
	patients  PatientStore
	anamneses AnamnesisStore
	logger    zerolog.Logger
	mu        sync.Mutex
}

func NewSeeder(patients PatientStore, anamneses AnamnesisStore, logger zerolog.Logger) *Seeder {
	return &Seeder{patients: patients, anamneses: anamneses, logger: logger}
}

// Seed loads the fixed demo set and cfg.ExtraPatients generated patients,
// each generated patient with one record. Demo patients whose code already
// exists are skipped along with their records, so repeated runs do not
// duplicate data.
func (s *Seeder) Seed(ctx context.Context, cfg SeedConfig) (*SeedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()

	existing, err := s.patients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	codes := make(map[string]bool, len(existing))
	for _, p := range existing {
		codes[p.PatientID] = true
	}

	records := demoSet()
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < cfg.ExtraPatients; i++ {
		records = append(records, generate(rng, len(existing)+i+1))
	}

	result := &SeedResult{}
	for _, rec := range records {
		if codes[rec.patient.PatientID] {
			result.Skipped++
			continue
		}
		p := rec.patient
		created, err := s.patients.Create(ctx, &p)
		if err != nil {
			return result, fmt.Errorf("seed patient %s: %w", p.PatientID, err)
		}
		codes[created.PatientID] = true
		result.Patients++

		for _, a := range rec.anamneses {
			a := a
			a.PatientID = created.ID
			if _, err := s.anamneses.Create(ctx, &a, SeedUser); err != nil {
				return result, fmt.Errorf("seed anamnesis for %s: %w", p.PatientID, err)
			}
			result.Anamneses++
		}
	}

	result.DurationMS = time.Since(start).Milliseconds()
	s.logger.Info().
		Int("patients", result.Patients).
		Int("anamneses", result.Anamneses).
		Int("skipped", result.Skipped).
		Msg("demo data seeded")
	return result, nil
}

// generate builds a patient with a GEN- code so it never collides with the
// fixed demo codes.
func generate(rng *rand.Rand, n int) demoRecord {
	pick := func(pool []string) string { return pool[rng.Intn(len(pool))] }

	gender := patient.GenderFemale
	if rng.Intn(2) == 0 {
		gender = patient.GenderMale
	}
	birth := time.Date(1940+rng.Intn(65), time.Month(1+rng.Intn(12)), 1+rng.Intn(28), 0, 0, 0, 0, time.UTC)

	exam := anamnesis.ExamTomography
	if rng.Intn(2) == 0 {
		exam = anamnesis.ExamResonance
	}

	return demoRecord{
		patient: patient.Patient{
			PatientID: fmt.Sprintf("GEN-%04d", n),
			Name:      pick(givenNames) + " " + pick(familyNames),
			BirthDate: birth.Format(time.DateOnly),
			Gender:    gender,
			Phone:     strPtr(fmt.Sprintf("(11) 9%04d-%04d", rng.Intn(10000), rng.Intn(10000))),
		},
		anamneses: []anamnesis.Anamnesis{{
			ExamType:          exam,
			ExamSubtype:       pick(subtypes[exam]),
			InitialAssessment: anamnesis.InitialAssessment{ConsentSigned: true},
			PatientCondition:  anamnesis.PatientCondition{Walking: true, Oriented: true},
			PersonalHistory: anamnesis.PersonalHistory{
				Hypertension: rng.Intn(3) == 0,
				Diabetes:     rng.Intn(5) == 0,
			},
			ContrastAllergy: rng.Intn(10) == 0,
		}},
	}
}

// SeedHandler exposes the seeder to administrators in development.
type SeedHandler struct {
	seeder *Seeder
}

func NewSeedHandler(seeder *Seeder) *SeedHandler {
	return &SeedHandler{seeder: seeder}
}

func (h *SeedHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/sandbox", auth.RequireRole(auth.RoleAdmin))
	g.POST("/seed", h.handleSeed)
}

func (h *SeedHandler) handleSeed(c echo.Context) error {
	var cfg SeedConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if cfg.ExtraPatients < 0 || cfg.ExtraPatients > 500 {
		return echo.NewHTTPError(http.StatusBadRequest, "extra_patients must be between 0 and 500")
	}

	result, err := h.seeder.Seed(c.Request().Context(), cfg)
	if err != nil {
		return apperr.HTTP(err, "failed to seed demo data")
	}
	return c.JSON(http.StatusOK, result)
}
