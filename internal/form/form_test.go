package form

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/intake/internal/domain/anamnesis"
	"github.com/ehr/intake/internal/domain/patient"
	"github.com/ehr/intake/internal/platform/apperr"
)

func newPatientStore() *patient.Service {
	return patient.NewService(patient.NewMemoryRepo(0), zerolog.Nop())
}

func newAnamnesisStore() *anamnesis.Service {
	return anamnesis.NewService(anamnesis.NewMemoryRepo(0, nil), nil, zerolog.Nop())
}

func clock() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }

// brokenPatients fails every write.
type brokenPatients struct{ PatientStore }

func (brokenPatients) Create(context.Context, *patient.Patient) (*patient.Patient, error) {
	return nil, apperr.Persistence("patient create", errors.New("disk full"))
}

func TestPatientForm_CreateThenUpdate(t *testing.T) {
	store := newPatientStore()
	ctx := context.Background()
	f := NewPatientForm(store, nil)
	require.NoError(t, f.Open(ctx))

	require.NoError(t, f.Set("patient_id", "P-100"))
	f.SetName("Ana Costa")
	require.NoError(t, f.Set("birth_date", "1975-02-03"))
	f.SetGender(patient.GenderFemale)
	f.SetContact("11 99999-0000", "")

	created, err := f.Submit(ctx)
	require.NoError(t, err)
	require.NotNil(t, f.RecordID())
	assert.Equal(t, created.ID, *f.RecordID())
	assert.Empty(t, f.Message())

	// The second submit updates the same patient.
	f.SetName("Ana Costa Lima")
	updated, err := f.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Ana Costa Lima", updated.Name)

	all, _ := store.List(ctx)
	assert.Len(t, all, 1)
}

func TestPatientForm_OpenReplacesDraft(t *testing.T) {
	store := newPatientStore()
	ctx := context.Background()
	p, err := store.Create(ctx, &patient.Patient{PatientID: "P-1", Name: "Maria", BirthDate: "1980-01-01", Gender: patient.GenderFemale})
	require.NoError(t, err)

	f := NewPatientForm(store, &p.ID)
	f.SetName("typed before load")
	require.NoError(t, f.Open(ctx))
	assert.Equal(t, "Maria", f.Draft().Name)

	missing := uuid.New()
	g := NewPatientForm(store, &missing)
	assert.ErrorIs(t, g.Open(ctx), apperr.ErrNotFound)
	assert.Equal(t, "record not found", g.Message())
}

func TestPatientForm_ValidationKeepsDraft(t *testing.T) {
	f := NewPatientForm(brokenPatients{}, nil)
	f.SetName("Only a name")

	_, err := f.Submit(context.Background())
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, f.Message(), "patient_id")
	assert.Equal(t, "Only a name", f.Draft().Name)
	assert.Nil(t, f.RecordID())
}

func TestPatientForm_BackendFailureKeepsDraft(t *testing.T) {
	f := NewPatientForm(brokenPatients{}, nil)
	require.NoError(t, f.Set("patient_id", "P-1"))
	f.SetName("Ana")
	require.NoError(t, f.Set("birth_date", "1990-01-01"))
	require.NoError(t, f.Set("gender", "female"))

	_, err := f.Submit(context.Background())
	require.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, "failed to save patient", f.Message())
	assert.Equal(t, "Ana", f.Draft().Name)
	assert.Nil(t, f.RecordID())
}

func TestAnamnesisForm_SubmitWithSignatures(t *testing.T) {
	store := newAnamnesisStore()
	ctx := context.Background()
	pid := uuid.New()

	f := NewAnamnesisForm(store, nil, pid, clock)
	f.SetExamType(anamnesis.ExamResonance, "Crânio")
	f.SetCondition(anamnesis.PatientCondition{Wheelchair: true, Anxious: true})
	f.SetPersonalHistory(anamnesis.PersonalHistory{Diabetes: true})
	f.SetMRISafety(anamnesis.MRISafety{Claustrophobia: true})
	f.AddMedication(anamnesis.Medication{Name: "Atenolol"})
	f.AddMedication(anamnesis.Medication{Name: "Omeprazol"})
	require.NoError(t, f.RemoveMedication(0))
	f.AddAllergy(anamnesis.Allergy{Type: "Iodo"})
	f.AddMetallicDevice(anamnesis.MetallicDevice{Type: "Marca-passo"})
	f.AddReport(anamnesis.Report{Description: "draft"})
	require.NoError(t, f.SetReport(0, anamnesis.Report{Description: "final"}))
	assert.ErrorIs(t, f.SetReport(3, anamnesis.Report{}), ErrInvalidPath)

	pad := f.Signature(SignerPatient)
	require.NoError(t, pad.Choose(anamnesis.MethodDrawing))
	require.NoError(t, pad.Draw("data:image/png;base64,AAA"))
	_, err := pad.CompleteDrawing()
	require.NoError(t, err)

	saved, err := f.Submit(ctx, "tech-1")
	require.NoError(t, err)
	assert.Equal(t, pid, saved.PatientID)
	assert.Equal(t, "tech-1", saved.CreatedBy)
	assert.Equal(t, []anamnesis.Medication{{Name: "Omeprazol"}}, saved.Medications)
	assert.Equal(t, "final", saved.Reports[0].Description)
	assert.Equal(t, anamnesis.MethodDrawing, saved.Signatures.Patient.Method)
	assert.False(t, saved.Signatures.Professional.IsSigned())

	// A resubmit updates and keeps created_by.
	f.Signature(SignerProfessional).Choose(anamnesis.MethodExternal)
	_, err = f.Signature(SignerProfessional).CompleteExternal("gov-123")
	require.NoError(t, err)
	updated, err := f.Submit(ctx, "doctor-2")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)
	assert.Equal(t, "tech-1", updated.CreatedBy)
	assert.Equal(t, "gov-123", updated.Signatures.Professional.ExternalToken)
}

func TestAnamnesisForm_SetRejectsSignaturePaths(t *testing.T) {
	f := NewAnamnesisForm(newAnamnesisStore(), nil, uuid.New(), clock)
	err := f.Set("signatures.patient.drawing", "data:x")
	assert.ErrorIs(t, err, ErrInvalidPath)
	require.NoError(t, f.Set("contrast_allergy", true))
	assert.True(t, f.Draft().ContrastAllergy)
}

func TestAnamnesisForm_OpenRestoresPads(t *testing.T) {
	store := newAnamnesisStore()
	ctx := context.Background()
	stored, err := store.Create(ctx, &anamnesis.Anamnesis{
		PatientID: uuid.New(),
		ExamType:  anamnesis.ExamTomography,
		Signatures: anamnesis.Signatures{
			Professional: anamnesis.Signature{Method: anamnesis.MethodExternal, ExternalToken: "tok"},
		},
	}, "u")
	require.NoError(t, err)

	f := NewAnamnesisForm(store, &stored.ID, uuid.Nil, clock)
	require.NoError(t, f.Open(ctx))
	assert.Equal(t, anamnesis.ExamTomography, f.Draft().ExamType)
	assert.Equal(t, anamnesis.PadSigned, f.Signature(SignerProfessional).State())
	assert.Equal(t, anamnesis.PadUnsigned, f.Signature(SignerPatient).State())
}

func TestAnamnesisForm_ValidationBeforeStore(t *testing.T) {
	f := NewAnamnesisForm(nil, nil, uuid.Nil, clock)
	_, err := f.Submit(context.Background(), "u")
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, f.Message(), "exam_type")
}

func TestParseSignerRole(t *testing.T) {
	r, err := ParseSignerRole("Professional")
	require.NoError(t, err)
	assert.Equal(t, SignerProfessional, r)
	_, err = ParseSignerRole("witness")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
