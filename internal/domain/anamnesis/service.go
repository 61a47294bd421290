package anamnesis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/opstate"
	"github.com/ehr/intake/internal/platform/websocket"
)

// PatientDirectory resolves a patient-name substring to patient ids.
type PatientDirectory interface {
	IDsByName(ctx context.Context, substr string) ([]uuid.UUID, error)
}

// Service is the anamnesis record store.
type Service struct {
	repo     Repository
	patients PatientDirectory
	events   websocket.EventPublisher
	tracker  *opstate.Tracker
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPublisher(p websocket.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService wires the store. patients is used by Filter to resolve the
// patient-name criterion.
func NewService(repo Repository, patients PatientDirectory, logger zerolog.Logger, opts ...Option) *Service {
	logger = logger.With().Str("store", "anamnesis").Logger()
	s := &Service{
		repo:     repo,
		patients: patients,
		tracker:  opstate.NewTracker(logger),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) State() opstate.State {
	return s.tracker.State()
}

// List returns every record, newest first.
func (s *Service) List(ctx context.Context) ([]*Anamnesis, error) {
	var out []*Anamnesis
	err := s.tracker.Track("list", "failed to load anamnesis records", func() error {
		records, err := s.repo.List(ctx)
		if err != nil {
			return apperr.Persistence("anamnesis list", err)
		}
		out = records
		return nil
	})
	return out, err
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Anamnesis, error) {
	var out *Anamnesis
	err := s.tracker.Track("get", "failed to load anamnesis", func() error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return apperr.Persistence("anamnesis get", err)
		}
		out = a
		return nil
	})
	return out, err
}

// GetForPatient returns the records of one patient, newest first.
func (s *Service) GetForPatient(ctx context.Context, patientID uuid.UUID) ([]*Anamnesis, error) {
	var out []*Anamnesis
	err := s.tracker.Track("get_for_patient", "failed to load patient anamnesis records", func() error {
		records, err := s.repo.Filter(ctx, Criteria{PatientIDs: []uuid.UUID{patientID}})
		if err != nil {
			return apperr.Persistence("anamnesis get for patient", err)
		}
		out = records
		return nil
	})
	return out, err
}

// Create validates draft, then stores it with a fresh id, timestamps and
// createdBy.
func (s *Service) Create(ctx context.Context, draft *Anamnesis, createdBy string) (*Anamnesis, error) {
	now := s.now()
	stored := draft.Clone()
	stored.normalize(now)
	if err := stored.Validate(); err != nil {
		return nil, err
	}
	stored.ID = uuid.New()
	stored.CreatedBy = createdBy
	stored.CreatedAt = now
	stored.UpdatedAt = now

	err := s.tracker.Track("create", "failed to save anamnesis", func() error {
		if err := s.repo.Create(ctx, stored); err != nil {
			return apperr.Persistence("anamnesis create", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.EventCreated, stored)
	return stored.Clone(), nil
}

// Update applies patch to the stored record. Collections present in the
// patch replace the stored ones.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Anamnesis, error) {
	var out *Anamnesis
	err := s.tracker.Track("update", "failed to update anamnesis", func() error {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return apperr.Persistence("anamnesis update", err)
		}
		now := s.now()
		patch.Apply(current)
		current.normalize(now)
		if err := current.Validate(); err != nil {
			return err
		}
		current.UpdatedAt = now
		if err := s.repo.Update(ctx, current); err != nil {
			return apperr.Persistence("anamnesis update", err)
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.EventUpdated, out)
	return out.Clone(), nil
}

// AddAttachment appends a stored document id to the record's attachments.
func (s *Service) AddAttachment(ctx context.Context, id uuid.UUID, blobID string) (*Anamnesis, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	list := append(append([]string{}, current.Attachments...), blobID)
	return s.Update(ctx, id, Patch{Attachments: &list})
}

// Filter returns the records matching c, newest first. A patient-name
// criterion is resolved to patient ids through the patient directory.
func (s *Service) Filter(ctx context.Context, c Criteria) ([]*Anamnesis, error) {
	var out []*Anamnesis
	err := s.tracker.Track("filter", "failed to filter anamnesis records", func() error {
		if c.PatientName != "" {
			if s.patients == nil {
				return fmt.Errorf("anamnesis filter: no patient directory configured")
			}
			ids, err := s.patients.IDsByName(ctx, c.PatientName)
			if err != nil {
				return apperr.Persistence("anamnesis filter", err)
			}
			c.PatientIDs = intersect(c.PatientIDs, ids)
		}
		records, err := s.repo.Filter(ctx, c)
		if err != nil {
			return apperr.Persistence("anamnesis filter", err)
		}
		out = records
		return nil
	})
	return out, err
}

func (s *Service) publish(ctx context.Context, typ string, a *Anamnesis) {
	if s.events == nil {
		return
	}
	ev, err := websocket.NewEvent(websocket.TopicAnamnesis, typ, a.ID.String(), nil)
	if err == nil {
		err = s.events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("anamnesis_id", a.ID.String()).Msg("publish anamnesis event")
	}
}

// intersect narrows an existing id restriction. A nil current means no
// restriction yet.
func intersect(current, ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	if current == nil {
		return ids
	}
	keep := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := []uuid.UUID{}
	for _, id := range current {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}
