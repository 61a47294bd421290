// Package history joins anamnesis records with their patients for the
// history listing and its spreadsheet export.
package history

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/intake/internal/domain/anamnesis"
	"github.com/ehr/intake/internal/domain/patient"
)

// MissingPatient is shown when a record's patient cannot be resolved.
const MissingPatient = "Patient not found"

type Entry struct {
	Anamnesis   *anamnesis.Anamnesis `json:"anamnesis"`
	PatientName string               `json:"patient_name"`
	PatientCode string               `json:"patient_code,omitempty"`
}

// Join pairs every record with its patient from patients. It performs no
// lookups of its own.
func Join(records []*anamnesis.Anamnesis, patients map[uuid.UUID]*patient.Patient) []Entry {
	out := make([]Entry, 0, len(records))
	for _, a := range records {
		e := Entry{Anamnesis: a, PatientName: MissingPatient}
		if p, ok := patients[a.PatientID]; ok && p != nil {
			e.PatientName = p.Name
			e.PatientCode = p.PatientID
		}
		out = append(out, e)
	}
	return out
}

type AnamnesisSource interface {
	Filter(ctx context.Context, c anamnesis.Criteria) ([]*anamnesis.Anamnesis, error)
}

type PatientSource interface {
	List(ctx context.Context) ([]*patient.Patient, error)
	Loaded() map[uuid.UUID]*patient.Patient
}

type View struct {
	anamneses AnamnesisSource
	patients  PatientSource
}

func NewView(anamneses AnamnesisSource, patients PatientSource) *View {
	return &View{anamneses: anamneses, patients: patients}
}

// Entries filters the records and joins them with the loaded patients. The
// patient list is reloaded once when a record references a patient that has
// not been loaded yet. A failed reload is recorded by the patient store and
// leaves the unresolved rows on MissingPatient.
func (v *View) Entries(ctx context.Context, c anamnesis.Criteria) ([]Entry, error) {
	records, err := v.anamneses.Filter(ctx, c)
	if err != nil {
		return nil, err
	}
	loaded := v.patients.Loaded()
	for _, a := range records {
		if _, ok := loaded[a.PatientID]; !ok {
			if _, err := v.patients.List(ctx); err == nil {
				loaded = v.patients.Loaded()
			}
			break
		}
	}
	return Join(records, loaded), nil
}
