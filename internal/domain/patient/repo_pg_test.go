package patient

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/db/dbtest"
	"github.com/ehr/intake/internal/platform/hipaa"
)

func TestPGRepo_PatientLifecycle(t *testing.T) {
	pool := dbtest.Open(t, "patient")
	enc, err := hipaa.NewPHIEncryptor(make([]byte, 32))
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	svc := NewService(NewPGRepo(pool, enc), zerolog.Nop())
	ctx := context.Background()

	p := validPatient()
	p.Phone = strPtr("(11) 98765-4321")
	created, err := svc.Create(ctx, p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.BirthDate != "1980-05-15" || got.Gender != GenderFemale || got.Phone == nil || *got.Phone != "(11) 98765-4321" {
		t.Errorf("unexpected round trip: %+v", got)
	}

	var storedPhone string
	if err := pool.QueryRow(ctx, `SELECT phone FROM patient WHERE id = $1`, created.ID).Scan(&storedPhone); err != nil {
		t.Fatalf("read phone: %v", err)
	}
	if storedPhone == "(11) 98765-4321" {
		t.Error("phone stored in plaintext")
	}

	name := "Maria Souza"
	if _, err := svc.Update(ctx, created.ID, Patch{Name: &name}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	matches, err := svc.Search(ctx, "souza")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != created.ID {
		t.Errorf("expected search to find the renamed patient, got %d", len(matches))
	}

	ids, err := svc.IDsByName(ctx, "SOUZA")
	if err != nil || len(ids) != 1 {
		t.Errorf("IDsByName: %v %v", ids, err)
	}

	none, err := NewPGRepo(pool, enc).Filter(ctx, Filter{Query: "nobody"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected an empty non-nil slice, got %#v", none)
	}

	if _, err := svc.GetByID(ctx, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
