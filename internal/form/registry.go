package form

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/platform/apperr"
)

type entry struct {
	form    any
	owner   string
	touched time.Time
}

// Registry keeps open drafts per user. Drafts idle for longer than the TTL
// are dropped by Sweep.
type Registry struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	drafts map[uuid.UUID]*entry
	logger zerolog.Logger
}

func NewRegistry(ttl time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		ttl:    ttl,
		now:    time.Now,
		drafts: make(map[uuid.UUID]*entry),
		logger: logger.With().Str("component", "drafts").Logger(),
	}
}

// Put stores a form for owner and returns its draft id.
func (r *Registry) Put(form any, owner string) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	r.drafts[id] = &entry{form: form, owner: owner, touched: r.now()}
	r.mu.Unlock()
	return id
}

// Lookup returns the draft with id owned by owner and refreshes its idle
// timer. A draft of another kind or owner is reported as not found.
func Lookup[T any](r *Registry, id uuid.UUID, owner string) (T, error) {
	var zero T
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drafts[id]
	if !ok || e.owner != owner || r.expired(e) {
		return zero, apperr.NotFound("draft", id)
	}
	f, ok := e.form.(T)
	if !ok {
		return zero, apperr.NotFound("draft", id)
	}
	e.touched = r.now()
	return f, nil
}

// Close discards a draft.
func (r *Registry) Close(id uuid.UUID, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drafts[id]
	if !ok || e.owner != owner {
		return apperr.NotFound("draft", id)
	}
	delete(r.drafts, id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drafts)
}

// Sweep drops expired drafts and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.drafts {
		if r.expired(e) {
			delete(r.drafts, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug().Int("expired", n).Msg("dropped idle drafts")
			}
		}
	}
}

func (r *Registry) expired(e *entry) bool {
	return r.ttl > 0 && r.now().Sub(e.touched) > r.ttl
}
