package form

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/intake/internal/domain/patient"
	"github.com/ehr/intake/internal/platform/apperr"
)

// PatientStore is the part of patient.Service the registration form uses.
type PatientStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	Create(ctx context.Context, p *patient.Patient) (*patient.Patient, error)
	Update(ctx context.Context, id uuid.UUID, patch patient.Patch) (*patient.Patient, error)
}

// PatientForm is the draft behind the patient registration form. A form
// opened without an id creates a patient on submit; with an id it updates
// that patient.
type PatientForm struct {
	mu      sync.Mutex
	store   PatientStore
	id      *uuid.UUID
	draft   patient.Patient
	message string
}

func NewPatientForm(store PatientStore, id *uuid.UUID) *PatientForm {
	f := &PatientForm{store: store}
	if id != nil {
		v := *id
		f.id = &v
	}
	return f
}

// Open replaces the draft with the stored patient when the form edits an
// existing record.
func (f *PatientForm) Open(ctx context.Context) error {
	f.mu.Lock()
	id := f.id
	f.mu.Unlock()
	if id == nil {
		return nil
	}
	p, err := f.store.GetByID(ctx, *id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.message = apperr.UserMessage(err, "failed to load patient")
		return err
	}
	f.draft = *p.Clone()
	f.message = ""
	return nil
}

// RecordID returns the id of the patient being edited, or nil for a new one.
func (f *PatientForm) RecordID() *uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.id == nil {
		return nil
	}
	v := *f.id
	return &v
}

func (f *PatientForm) Draft() patient.Patient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.draft.Clone()
}

// Message is the last user-visible error, empty after a successful submit.
func (f *PatientForm) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// Set writes value at path, e.g. "name" or "phone".
func (f *PatientForm) Set(path string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return SetPath(&f.draft, path, value)
}

func (f *PatientForm) SetName(name string) {
	f.mu.Lock()
	f.draft.Name = name
	f.mu.Unlock()
}

func (f *PatientForm) SetGender(g patient.Gender) {
	f.mu.Lock()
	f.draft.Gender = g
	f.mu.Unlock()
}

// SetContact sets phone and email. Empty strings clear them.
func (f *PatientForm) SetContact(phone, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft.Phone, f.draft.Email = nil, nil
	if phone != "" {
		f.draft.Phone = &phone
	}
	if email != "" {
		f.draft.Email = &email
	}
}

// Submit validates the draft and creates or updates the patient. On failure
// the draft is kept and Message explains what went wrong.
func (f *PatientForm) Submit(ctx context.Context) (*patient.Patient, error) {
	f.mu.Lock()
	draft := f.draft.Clone()
	id := f.id
	f.mu.Unlock()

	if err := draft.Validate(); err != nil {
		f.fail(err)
		return nil, err
	}

	var (
		saved *patient.Patient
		err   error
	)
	if id == nil {
		saved, err = f.store.Create(ctx, draft)
	} else {
		saved, err = f.store.Update(ctx, *id, patient.PatchFrom(draft))
	}
	if err != nil {
		f.fail(err)
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = &saved.ID
	f.draft = *saved.Clone()
	f.message = ""
	return saved, nil
}

func (f *PatientForm) fail(err error) {
	f.mu.Lock()
	f.message = apperr.UserMessage(err, "failed to save patient")
	f.mu.Unlock()
}
