package form

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/intake/internal/domain/anamnesis"
	"github.com/ehr/intake/internal/platform/apperr"
)

// AnamnesisStore is the part of anamnesis.Service the intake form uses.
type AnamnesisStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*anamnesis.Anamnesis, error)
	Create(ctx context.Context, draft *anamnesis.Anamnesis, createdBy string) (*anamnesis.Anamnesis, error)
	Update(ctx context.Context, id uuid.UUID, patch anamnesis.Patch) (*anamnesis.Anamnesis, error)
}

type SignerRole string

const (
	SignerPatient      SignerRole = "patient"
	SignerProfessional SignerRole = "professional"
)

func ParseSignerRole(s string) (SignerRole, error) {
	switch r := SignerRole(strings.ToLower(s)); r {
	case SignerPatient, SignerProfessional:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown signer %q", apperr.ErrValidation, s)
}

// AnamnesisForm is the draft behind the intake form. Signatures are captured
// through one SignaturePad per signer and copied into the record on submit.
type AnamnesisForm struct {
	mu           sync.Mutex
	store        AnamnesisStore
	id           *uuid.UUID
	draft        anamnesis.Anamnesis
	message      string
	patientPad   *anamnesis.SignaturePad
	professional *anamnesis.SignaturePad
}

// NewAnamnesisForm starts a draft. With a nil id the draft is new and
// pre-filled with patientID.
func NewAnamnesisForm(store AnamnesisStore, id *uuid.UUID, patientID uuid.UUID, now func() time.Time) *AnamnesisForm {
	f := &AnamnesisForm{
		store:        store,
		patientPad:   anamnesis.NewSignaturePad(now),
		professional: anamnesis.NewSignaturePad(now),
	}
	if id != nil {
		v := *id
		f.id = &v
	}
	f.draft.PatientID = patientID
	return f
}

// Open replaces the draft with the stored record and restores both pads
// when the form edits an existing record.
func (f *AnamnesisForm) Open(ctx context.Context) error {
	f.mu.Lock()
	id := f.id
	f.mu.Unlock()
	if id == nil {
		return nil
	}
	a, err := f.store.GetByID(ctx, *id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.message = apperr.UserMessage(err, "failed to load anamnesis")
		return err
	}
	f.load(a)
	f.message = ""
	return nil
}

func (f *AnamnesisForm) load(a *anamnesis.Anamnesis) {
	f.draft = *a.Clone()
	f.patientPad.Restore(a.Signatures.Patient)
	f.professional.Restore(a.Signatures.Professional)
}

func (f *AnamnesisForm) RecordID() *uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.id == nil {
		return nil
	}
	v := *f.id
	return &v
}

// Draft returns a copy of the draft with the signatures currently held by
// the pads.
func (f *AnamnesisForm) Draft() anamnesis.Anamnesis {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.snapshot()
}

func (f *AnamnesisForm) snapshot() *anamnesis.Anamnesis {
	d := f.draft.Clone()
	d.Signatures = anamnesis.Signatures{
		Patient:      f.patientPad.Signature(),
		Professional: f.professional.Signature(),
	}
	return d
}

func (f *AnamnesisForm) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// Signature returns the pad of one signer.
func (f *AnamnesisForm) Signature(role SignerRole) *anamnesis.SignaturePad {
	if role == SignerProfessional {
		return f.professional
	}
	return f.patientPad
}

// Set writes value at a dotted path such as "patient_condition.walking" or
// "reports.1.description". Signatures go through the pads instead.
func (f *AnamnesisForm) Set(path string, value any) error {
	if path == "signatures" || strings.HasPrefix(path, "signatures.") {
		return fmt.Errorf("%w: %q: signatures are captured through the signature pad", ErrInvalidPath, path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return SetPath(&f.draft, path, value)
}

func (f *AnamnesisForm) SetExamType(t anamnesis.ExamType, subtype string) {
	f.mu.Lock()
	f.draft.ExamType, f.draft.ExamSubtype = t, subtype
	f.mu.Unlock()
}

func (f *AnamnesisForm) SetCondition(c anamnesis.PatientCondition) {
	f.mu.Lock()
	f.draft.PatientCondition = c
	f.mu.Unlock()
}

func (f *AnamnesisForm) SetPersonalHistory(h anamnesis.PersonalHistory) {
	f.mu.Lock()
	f.draft.PersonalHistory = h
	f.mu.Unlock()
}

func (f *AnamnesisForm) SetMRISafety(m anamnesis.MRISafety) {
	f.mu.Lock()
	f.draft.MRISafety = m
	f.mu.Unlock()
}

func (f *AnamnesisForm) AddMedication(m anamnesis.Medication) {
	f.mu.Lock()
	f.draft.Medications = append(f.draft.Medications, m)
	f.mu.Unlock()
}

func (f *AnamnesisForm) RemoveMedication(i int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.draft.Medications) {
		return fmt.Errorf("%w: medication %d out of range", ErrInvalidPath, i)
	}
	f.draft.Medications = append(f.draft.Medications[:i:i], f.draft.Medications[i+1:]...)
	return nil
}

func (f *AnamnesisForm) AddAllergy(a anamnesis.Allergy) {
	f.mu.Lock()
	f.draft.Allergies = append(f.draft.Allergies, a)
	f.mu.Unlock()
}

func (f *AnamnesisForm) AddMetallicDevice(d anamnesis.MetallicDevice) {
	f.mu.Lock()
	f.draft.MetallicDevices = append(f.draft.MetallicDevices, d)
	f.mu.Unlock()
}

func (f *AnamnesisForm) AddReport(r anamnesis.Report) {
	f.mu.Lock()
	f.draft.Reports = append(f.draft.Reports, r)
	f.mu.Unlock()
}

func (f *AnamnesisForm) SetReport(i int, r anamnesis.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.draft.Reports) {
		return fmt.Errorf("%w: report %d out of range", ErrInvalidPath, i)
	}
	f.draft.Reports[i] = r
	return nil
}

// Submit validates the draft and creates or updates the record. createdBy is
// recorded on create only. On failure the draft is kept and Message explains
// what went wrong.
func (f *AnamnesisForm) Submit(ctx context.Context, createdBy string) (*anamnesis.Anamnesis, error) {
	f.mu.Lock()
	draft := f.snapshot()
	id := f.id
	f.mu.Unlock()

	if err := draft.Validate(); err != nil {
		f.fail(err)
		return nil, err
	}

	var (
		saved *anamnesis.Anamnesis
		err   error
	)
	if id == nil {
		saved, err = f.store.Create(ctx, draft, createdBy)
	} else {
		saved, err = f.store.Update(ctx, *id, anamnesis.PatchFrom(draft))
	}
	if err != nil {
		f.fail(err)
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = &saved.ID
	f.load(saved)
	f.message = ""
	return saved, nil
}

func (f *AnamnesisForm) fail(err error) {
	f.mu.Lock()
	f.message = apperr.UserMessage(err, "failed to save anamnesis")
	f.mu.Unlock()
}
