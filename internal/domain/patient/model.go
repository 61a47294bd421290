package patient

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/intake/internal/platform/apperr"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// ParseGender accepts any casing ("FEMALE", "Female") and returns the
// canonical lowercase value.
func ParseGender(s string) (Gender, error) {
	switch g := Gender(strings.ToLower(strings.TrimSpace(s))); g {
	case GenderMale, GenderFemale, GenderOther:
		return g, nil
	default:
		return "", fmt.Errorf("%w: unknown gender %q", apperr.ErrValidation, s)
	}
}

// UnmarshalText normalises the casing. An empty value is kept so the
// required-field check can report it.
func (g *Gender) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*g = ""
		return nil
	}
	parsed, err := ParseGender(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// Patient maps to the patient table. BirthDate is a calendar date in
// YYYY-MM-DD form.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID string    `db:"patient_id" json:"patient_id"`
	Name      string    `db:"name" json:"name"`
	BirthDate string    `db:"birth_date" json:"birth_date"`
	Gender    Gender    `db:"gender" json:"gender"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (p *Patient) Validate() error {
	return apperr.Required(
		"patient_id", p.PatientID,
		"name", p.Name,
		"birth_date", p.BirthDate,
		"gender", string(p.Gender),
	)
}

func (p *Patient) Clone() *Patient {
	if p == nil {
		return nil
	}
	c := *p
	c.Phone = cloneString(p.Phone)
	c.Email = cloneString(p.Email)
	return &c
}

// Patch carries the fields of a partial update. Nil fields are left
// untouched; an empty phone or email clears the value.
type Patch struct {
	PatientID *string `json:"patient_id,omitempty"`
	Name      *string `json:"name,omitempty"`
	BirthDate *string `json:"birth_date,omitempty"`
	Gender    *Gender `json:"gender,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Email     *string `json:"email,omitempty"`
}

func (pt Patch) Apply(p *Patient) {
	if pt.PatientID != nil {
		p.PatientID = *pt.PatientID
	}
	if pt.Name != nil {
		p.Name = *pt.Name
	}
	if pt.BirthDate != nil {
		p.BirthDate = *pt.BirthDate
	}
	if pt.Gender != nil {
		p.Gender = *pt.Gender
	}
	if pt.Phone != nil {
		p.Phone = emptyToNil(*pt.Phone)
	}
	if pt.Email != nil {
		p.Email = emptyToNil(*pt.Email)
	}
}

// PatchFrom builds a patch that sets every field of p.
func PatchFrom(p *Patient) Patch {
	phone, email := "", ""
	if p.Phone != nil {
		phone = *p.Phone
	}
	if p.Email != nil {
		email = *p.Email
	}
	g := p.Gender
	return Patch{
		PatientID: &p.PatientID,
		Name:      &p.Name,
		BirthDate: &p.BirthDate,
		Gender:    &g,
		Phone:     &phone,
		Email:     &email,
	}
}

// Filter selects patients. Query matches name, patient_id or email; Name
// matches the name only. CreatedFrom is inclusive, CreatedBefore exclusive.
type Filter struct {
	Query         string
	Name          string
	CreatedFrom   *time.Time
	CreatedBefore *time.Time
}

func (f Filter) Match(p *Patient) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		email := ""
		if p.Email != nil {
			email = *p.Email
		}
		if !containsFold(p.Name, q) && !containsFold(p.PatientID, q) && !containsFold(email, q) {
			return false
		}
	}
	if n := strings.ToLower(strings.TrimSpace(f.Name)); n != "" && !containsFold(p.Name, n) {
		return false
	}
	if f.CreatedFrom != nil && p.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedBefore != nil && !p.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

func containsFold(s, lowerSub string) bool {
	return strings.Contains(strings.ToLower(s), lowerSub)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func emptyToNil(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
