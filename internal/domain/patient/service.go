package patient

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/opstate"
	"github.com/ehr/intake/internal/platform/websocket"
)

// Service is the patient record store. It keeps the patients it has fetched
// so GetByID and the history view can resolve ids without a round trip.
type Service struct {
	repo    Repository
	events  websocket.EventPublisher
	tracker *opstate.Tracker
	logger  zerolog.Logger
	now     func() time.Time
	loc     *time.Location

	mu     sync.RWMutex
	loaded map[uuid.UUID]*Patient
}

type Option func(*Service)

// WithClock overrides time.Now, which drives timestamps and the bounds of
// TodaysAppointments.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the clinic time zone that decides where "today" starts.
// Without it the clock's own zone is used.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithPublisher sends a change event after every successful write.
func WithPublisher(p websocket.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func NewService(repo Repository, logger zerolog.Logger, opts ...Option) *Service {
	logger = logger.With().Str("store", "patient").Logger()
	s := &Service{
		repo:    repo,
		tracker: opstate.NewTracker(logger),
		logger:  logger,
		now:     time.Now,
		loaded:  make(map[uuid.UUID]*Patient),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports whether an operation is in flight and the last error.
func (s *Service) State() opstate.State {
	return s.tracker.State()
}

// List returns every patient, newest first, and refreshes the loaded set.
func (s *Service) List(ctx context.Context) ([]*Patient, error) {
	var out []*Patient
	err := s.tracker.Track("list", "failed to load patient list", func() error {
		patients, err := s.repo.List(ctx)
		if err != nil {
			return apperr.Persistence("patient list", err)
		}
		s.mu.Lock()
		s.loaded = make(map[uuid.UUID]*Patient, len(patients))
		for _, p := range patients {
			s.loaded[p.ID] = p.Clone()
		}
		s.mu.Unlock()
		out = patients
		return nil
	})
	return out, err
}

// GetByID answers from the loaded set when possible.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if p := s.cached(id); p != nil {
		return p, nil
	}
	var out *Patient
	err := s.tracker.Track("get", "failed to load patient", func() error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return apperr.Persistence("patient get", err)
		}
		s.remember(p)
		out = p
		return nil
	})
	return out, err
}

// Create validates the required fields before touching the backend, then
// assigns the id and timestamps.
func (s *Service) Create(ctx context.Context, p *Patient) (*Patient, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	stored := p.Clone()
	stored.ID = uuid.New()
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt

	err := s.tracker.Track("create", "failed to register patient", func() error {
		if err := s.repo.Create(ctx, stored); err != nil {
			return apperr.Persistence("patient create", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.remember(stored)
	s.publish(ctx, websocket.EventCreated, stored)
	return stored.Clone(), nil
}

// Update merges patch into the stored patient and refreshes updated_at.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Patient, error) {
	var out *Patient
	err := s.tracker.Track("update", "failed to update patient", func() error {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return apperr.Persistence("patient update", err)
		}
		patch.Apply(current)
		if err := current.Validate(); err != nil {
			return err
		}
		current.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, current); err != nil {
			return apperr.Persistence("patient update", err)
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.remember(out)
	s.publish(ctx, websocket.EventUpdated, out)
	return out.Clone(), nil
}

// Search matches q case-insensitively against name, patient_id and email
// and orders the result by name.
func (s *Service) Search(ctx context.Context, q string) ([]*Patient, error) {
	var out []*Patient
	err := s.tracker.Track("search", "failed to search patients", func() error {
		patients, err := s.repo.Filter(ctx, Filter{Query: q})
		if err != nil {
			return apperr.Persistence("patient search", err)
		}
		sort.SliceStable(patients, func(i, j int) bool {
			a, b := strings.ToLower(patients[i].Name), strings.ToLower(patients[j].Name)
			if a == b {
				return patients[i].PatientID < patients[j].PatientID
			}
			return a < b
		})
		out = patients
		return nil
	})
	return out, err
}

// TodaysAppointments returns the patients registered since midnight in the
// clinic time zone, newest first.
func (s *Service) TodaysAppointments(ctx context.Context) ([]*Patient, error) {
	now := s.now()
	if s.loc != nil {
		now = now.In(s.loc)
	}
	from, before := dayBounds(now)
	var out []*Patient
	err := s.tracker.Track("today", "failed to load today's appointments", func() error {
		patients, err := s.repo.Filter(ctx, Filter{CreatedFrom: &from, CreatedBefore: &before})
		if err != nil {
			return apperr.Persistence("patient today", err)
		}
		out = patients
		return nil
	})
	return out, err
}

// IDsByName returns the ids of patients whose name contains substr.
func (s *Service) IDsByName(ctx context.Context, substr string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.tracker.Track("ids_by_name", "failed to search patients", func() error {
		patients, err := s.repo.Filter(ctx, Filter{Name: substr})
		if err != nil {
			return apperr.Persistence("patient ids by name", err)
		}
		ids = make([]uuid.UUID, 0, len(patients))
		for _, p := range patients {
			ids = append(ids, p.ID)
		}
		return nil
	})
	return ids, err
}

// Loaded returns a copy of the patients fetched so far, keyed by id.
func (s *Service) Loaded() map[uuid.UUID]*Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]*Patient, len(s.loaded))
	for id, p := range s.loaded {
		out[id] = p.Clone()
	}
	return out
}

func (s *Service) cached(id uuid.UUID) *Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded[id].Clone()
}

func (s *Service) remember(p *Patient) {
	s.mu.Lock()
	s.loaded[p.ID] = p.Clone()
	s.mu.Unlock()
}

func (s *Service) publish(ctx context.Context, typ string, p *Patient) {
	if s.events == nil {
		return
	}
	// Events carry the id only; subscribers refetch through the API.
	ev, err := websocket.NewEvent(websocket.TopicPatient, typ, p.ID.String(), nil)
	if err == nil {
		err = s.events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", p.ID.String()).Msg("publish patient event")
	}
}

// dayBounds returns local midnight of t's day and the following midnight.
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
