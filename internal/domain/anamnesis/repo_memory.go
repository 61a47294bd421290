package anamnesis

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/db"
)

// PatientCheck reports whether a patient exists. It returns an error
// matching apperr.ErrNotFound for unknown ids.
type PatientCheck func(ctx context.Context, id uuid.UUID) error

type memoryRepo struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Anamnesis
	latency time.Duration
	patient PatientCheck
}

// NewMemoryRepo returns a Repository held in process memory. When check is
// non-nil, writes referencing an unknown patient fail with ErrUnknownPatient.
func NewMemoryRepo(latency time.Duration, check PatientCheck) Repository {
	return &memoryRepo{records: make(map[uuid.UUID]*Anamnesis), latency: latency, patient: check}
}

func (r *memoryRepo) List(ctx context.Context) ([]*Anamnesis, error) {
	return r.Filter(ctx, Criteria{})
}

func (r *memoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*Anamnesis, error) {
	if err := db.Delay(ctx, r.latency); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.records[id]
	if !ok {
		return nil, apperr.NotFound("anamnesis", id)
	}
	return a.Clone(), nil
}

func (r *memoryRepo) Create(ctx context.Context, a *Anamnesis) error {
	if err := db.Delay(ctx, r.latency); err != nil {
		return err
	}
	if err := r.checkPatient(ctx, a.PatientID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.records[a.ID] = a.Clone()
	return nil
}

func (r *memoryRepo) Update(ctx context.Context, a *Anamnesis) error {
	if err := db.Delay(ctx, r.latency); err != nil {
		return err
	}
	if err := r.checkPatient(ctx, a.PatientID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[a.ID]; !ok {
		return apperr.NotFound("anamnesis", a.ID)
	}
	r.records[a.ID] = a.Clone()
	return nil
}

// Filter returns matches newest first.
func (r *memoryRepo) Filter(ctx context.Context, c Criteria) ([]*Anamnesis, error) {
	if err := db.Delay(ctx, r.latency); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]*Anamnesis, 0, len(r.records))
	for _, a := range r.records {
		if c.Match(a) {
			out = append(out, a.Clone())
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

func (r *memoryRepo) checkPatient(ctx context.Context, id uuid.UUID) error {
	if r.patient == nil {
		return nil
	}
	err := r.patient(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return ErrUnknownPatient
	}
	return err
}
