package anamnesis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/intake/internal/platform/apperr"
)

// Repository is the persistence backend of the anamnesis store. Create and
// Update write the record and all of its collections as one unit; Update
// replaces every stored collection with the ones on a.
type Repository interface {
	List(ctx context.Context) ([]*Anamnesis, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Anamnesis, error)
	Create(ctx context.Context, a *Anamnesis) error
	Update(ctx context.Context, a *Anamnesis) error
	Filter(ctx context.Context, c Criteria) ([]*Anamnesis, error)
}

// ErrUnknownPatient is returned when patient_id does not reference a stored
// patient.
var ErrUnknownPatient = fmt.Errorf("%w: patient_id does not reference an existing patient", apperr.ErrValidation)
