package form

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/intake/internal/platform/apperr"
)

func TestRegistry_LookupByKindAndOwner(t *testing.T) {
	r := NewRegistry(time.Hour, zerolog.Nop())
	pf := NewPatientForm(nil, nil)
	id := r.Put(pf, "alice")

	got, err := Lookup[*PatientForm](r, id, "alice")
	require.NoError(t, err)
	assert.Same(t, pf, got)

	_, err = Lookup[*PatientForm](r, id, "bob")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = Lookup[*AnamnesisForm](r, id, "alice")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = Lookup[*PatientForm](r, uuid.New(), "alice")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRegistry_ExpiryAndTouch(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	r := NewRegistry(10*time.Minute, zerolog.Nop())
	r.now = func() time.Time { return now }

	kept := r.Put(NewPatientForm(nil, nil), "u")
	idle := r.Put(NewPatientForm(nil, nil), "u")

	now = now.Add(8 * time.Minute)
	_, err := Lookup[*PatientForm](r, kept, "u")
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	_, err = Lookup[*PatientForm](r, idle, "u")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "an expired draft is not returned")

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	_, err = Lookup[*PatientForm](r, kept, "u")
	assert.NoError(t, err)
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry(0, zerolog.Nop())
	id := r.Put(NewPatientForm(nil, nil), "u")

	assert.ErrorIs(t, r.Close(id, "other"), apperr.ErrNotFound)
	require.NoError(t, r.Close(id, "u"))
	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, r.Close(id, "u"), apperr.ErrNotFound)
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	r := NewRegistry(time.Nanosecond, zerolog.Nop())
	r.Put(NewPatientForm(nil, nil), "u")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
