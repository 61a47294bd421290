package patient

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseGender(t *testing.T) {
	for in, want := range map[string]Gender{"male": GenderMale, "FEMALE": GenderFemale, " Other ": GenderOther} {
		got, err := ParseGender(in)
		if err != nil || got != want {
			t.Errorf("ParseGender(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseGender("unknown"); err == nil {
		t.Error("expected error for unknown gender")
	}
}

func TestPatient_JSONNormalisesGender(t *testing.T) {
	var p Patient
	if err := json.Unmarshal([]byte(`{"gender":"MALE"}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Gender != GenderMale {
		t.Errorf("expected canonical lowercase, got %q", p.Gender)
	}
	if err := json.Unmarshal([]byte(`{"gender":""}`), &p); err != nil || p.Gender != "" {
		t.Errorf("empty gender should decode to empty, got %q %v", p.Gender, err)
	}
}

func TestPatch_Apply(t *testing.T) {
	phone := "123"
	p := &Patient{Name: "A", Phone: &phone}

	empty := ""
	name := "B"
	Patch{Name: &name, Phone: &empty}.Apply(p)
	if p.Name != "B" || p.Phone != nil {
		t.Errorf("unexpected patient %+v", p)
	}
}

func TestPatchFrom_RoundTrip(t *testing.T) {
	email := "x@example.com"
	src := &Patient{PatientID: "1", Name: "N", BirthDate: "2000-01-01", Gender: GenderOther, Email: &email}
	dst := &Patient{}
	PatchFrom(src).Apply(dst)
	if dst.PatientID != "1" || dst.Name != "N" || dst.Gender != GenderOther || dst.Email == nil || *dst.Email != email || dst.Phone != nil {
		t.Errorf("unexpected result %+v", dst)
	}
}

func TestFilter_Match(t *testing.T) {
	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	p := &Patient{PatientID: "RX-9", Name: "Ana Costa", CreatedAt: at}

	from := at
	before := at.Add(time.Hour)
	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty", Filter{}, true},
		{"query on patient id", Filter{Query: "rx-"}, true},
		{"query miss", Filter{Query: "zzz"}, false},
		{"name", Filter{Name: "COSTA"}, true},
		{"name does not match id", Filter{Name: "RX"}, false},
		{"from inclusive", Filter{CreatedFrom: &from}, true},
		{"before exclusive", Filter{CreatedBefore: &from}, false},
		{"in range", Filter{CreatedFrom: &from, CreatedBefore: &before}, true},
	}
	for _, tt := range tests {
		if got := tt.f.Match(p); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}
