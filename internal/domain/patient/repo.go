package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence backend of the patient store. GetByID and
// Update return an error matching apperr.ErrNotFound for unknown ids.
type Repository interface {
	List(ctx context.Context) ([]*Patient, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Create(ctx context.Context, p *Patient) error
	Update(ctx context.Context, p *Patient) error
	Filter(ctx context.Context, f Filter) ([]*Patient, error)
}
