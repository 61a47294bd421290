package patient

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/db"
)

type memoryRepo struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]*Patient
	latency  time.Duration
}

// NewMemoryRepo returns a Repository held in process memory. Every call
// waits latency first, honouring ctx cancellation.
func NewMemoryRepo(latency time.Duration) Repository {
	return &memoryRepo{patients: make(map[uuid.UUID]*Patient), latency: latency}
}

func (r *memoryRepo) List(ctx context.Context) ([]*Patient, error) {
	return r.Filter(ctx, Filter{})
}

func (r *memoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if err := db.Delay(ctx, r.latency); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id)
	}
	return p.Clone(), nil
}

func (r *memoryRepo) Create(ctx context.Context, p *Patient) error {
	if err := db.Delay(ctx, r.latency); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.patients[p.ID] = p.Clone()
	return nil
}

func (r *memoryRepo) Update(ctx context.Context, p *Patient) error {
	if err := db.Delay(ctx, r.latency); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; !ok {
		return apperr.NotFound("patient", p.ID)
	}
	r.patients[p.ID] = p.Clone()
	return nil
}

// Filter returns matches newest first.
func (r *memoryRepo) Filter(ctx context.Context, f Filter) ([]*Patient, error) {
	if err := db.Delay(ctx, r.latency); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]*Patient, 0, len(r.patients))
	for _, p := range r.patients {
		if f.Match(p) {
			out = append(out, p.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
