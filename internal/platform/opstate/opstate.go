// Package opstate tracks the loading flag and last error message of a store.
package opstate

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/platform/apperr"
)

// State is a snapshot of a store's operation status.
type State struct {
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// Tracker counts in-flight operations. Loading is true while at least one
// operation is running.
type Tracker struct {
	mu       sync.Mutex
	inflight int
	lastErr  string
	logger   zerolog.Logger
}

func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// Begin marks an operation as started, clears the previous error and
// returns the function that must be deferred to finish it. The finish
// function always decrements the in-flight count, so a failing operation
// can never leave the loading flag set.
func (t *Tracker) Begin(op string) func(err error, message string) {
	t.mu.Lock()
	t.inflight++
	t.lastErr = ""
	t.mu.Unlock()

	return func(err error, message string) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.inflight--
		if err != nil {
			t.lastErr = apperr.UserMessage(err, message)
			evt := t.logger.Error()
			if errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrNotFound) {
				evt = t.logger.Warn()
			}
			evt.Err(err).Str("op", op).Msg(message)
		}
	}
}

// Track runs fn between Begin and finish. message is the user-visible text
// recorded when fn fails with a backend error.
func (t *Tracker) Track(op, message string, fn func() error) (err error) {
	done := t.Begin(op)
	defer func() {
		if r := recover(); r != nil {
			done(errPanic{r}, message)
			panic(r)
		}
		done(err, message)
	}()
	return fn()
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{Loading: t.inflight > 0, Error: t.lastErr}
}

type errPanic struct{ v any }

func (e errPanic) Error() string { return "panic during store operation" }
