package anamnesis

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/intake/internal/platform/apperr"
)

type ExamType string

const (
	ExamTomography ExamType = "tomography"
	ExamResonance  ExamType = "resonance"
	ExamOther      ExamType = "other"
)

// ParseExamType accepts any casing and returns the canonical value.
func ParseExamType(s string) (ExamType, error) {
	switch e := ExamType(strings.ToLower(strings.TrimSpace(s))); e {
	case ExamTomography, ExamResonance, ExamOther:
		return e, nil
	default:
		return "", fmt.Errorf("%w: unknown exam type %q", apperr.ErrValidation, s)
	}
}

func (e *ExamType) UnmarshalText(b []byte) error {
	if strings.TrimSpace(string(b)) == "" {
		*e = ""
		return nil
	}
	parsed, err := ParseExamType(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

type InitialAssessment struct {
	ConsentSigned     bool `json:"consent_signed"`
	IdentificationTag bool `json:"identification_tag"`
}

type PatientCondition struct {
	Walking         bool   `json:"walking"`
	WalkingWithHelp bool   `json:"walking_with_help"`
	Wheelchair      bool   `json:"wheelchair"`
	Stretcher       bool   `json:"stretcher"`
	Sitting         bool   `json:"sitting"`
	Oriented        bool   `json:"oriented"`
	Confused        bool   `json:"confused"`
	Anxious         bool   `json:"anxious"`
	Calm            bool   `json:"calm"`
	Phobic          bool   `json:"phobic"`
	AccompaniedBy   string `json:"accompanied_by"`
}

type PreviousExams struct {
	Has         bool   `json:"has"`
	Description string `json:"description"`
}

type PersonalHistory struct {
	Hypertension         bool   `json:"hypertension"`
	Diabetes             bool   `json:"diabetes"`
	AnxietyDepression    bool   `json:"anxiety_depression"`
	Cardiopathy          bool   `json:"cardiopathy"`
	Asthma               bool   `json:"asthma"`
	ChronicKidneyDisease bool   `json:"chronic_kidney_disease"`
	Cholesterol          bool   `json:"cholesterol"`
	Thyroid              bool   `json:"thyroid"`
	OtherConditions      string `json:"other_conditions"`
}

type MedicationUsage struct {
	Using       bool   `json:"using"`
	Description string `json:"description"`
}

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
}

type AllergyInfo struct {
	Has         bool   `json:"has"`
	Description string `json:"description"`
	Unknown     bool   `json:"unknown"`
}

type Allergy struct {
	Type     string `json:"type"`
	Reaction string `json:"reaction"`
}

// MRISafety holds the contraindication screening asked before resonance
// exams.
type MRISafety struct {
	Pacemaker        bool   `json:"pacemaker"`
	Claustrophobia   bool   `json:"claustrophobia"`
	Pregnancy        bool   `json:"pregnancy"`
	LastMenstruation string `json:"last_menstruation"`
}

type MetallicDevice struct {
	Type          string `json:"type"`
	Location      string `json:"location"`
	YearImplanted string `json:"year_implanted"`
}

type ExamPreparation struct {
	Done         bool   `json:"done"`
	Fasting      bool   `json:"fasting"`
	FastingHours string `json:"fasting_hours"`
}

type Vitals struct {
	Time          string `json:"time"`
	BloodPressure string `json:"blood_pressure"`
	HeartRate     string `json:"heart_rate"`
	O2Saturation  string `json:"o2_saturation"`
}

type Catheter struct {
	Used bool   `json:"used"`
	Size string `json:"size"`
}

type VenousPuncture struct {
	Location           string   `json:"location"`
	ScalpCatheter      Catheter `json:"scalp_catheter"`
	AbocathCatheter    Catheter `json:"abocath_catheter"`
	ValvedExtenderUsed bool     `json:"valved_extender_used"`
}

type ExamRoom struct {
	PreExam        Vitals         `json:"pre_exam"`
	VenousPuncture VenousPuncture `json:"venous_puncture"`
}

type PostExam struct {
	EndTime                 string `json:"end_time"`
	PeripheralAccessRemoved bool   `json:"peripheral_access_removed"`
	Vitals                  Vitals `json:"vitals"`
}

type Report struct {
	DateTime    string `json:"date_time"`
	Description string `json:"description"`
}

type Signatures struct {
	Patient      Signature `json:"patient"`
	Professional Signature `json:"professional"`
}

// Anamnesis maps to the anamnesis table and its child tables.
type Anamnesis struct {
	ID                  uuid.UUID         `db:"id" json:"id"`
	PatientID           uuid.UUID         `db:"patient_id" json:"patient_id"`
	ExamType            ExamType          `db:"exam_type" json:"exam_type"`
	ExamSubtype         string            `db:"exam_subtype" json:"exam_subtype,omitempty"`
	InitialAssessment   InitialAssessment `db:"initial_assessment" json:"initial_assessment"`
	PatientCondition    PatientCondition  `db:"patient_condition" json:"patient_condition"`
	HasDentalProsthesis bool              `db:"has_dental_prosthesis" json:"has_dental_prosthesis"`
	PreviousExams       PreviousExams     `db:"previous_exams" json:"previous_exams"`
	PersonalHistory     PersonalHistory   `db:"personal_history" json:"personal_history"`
	MedicationUsage     MedicationUsage   `db:"medication_usage" json:"medication_usage"`
	Medications         []Medication      `json:"medications"`
	AllergyInfo         AllergyInfo       `db:"allergy_info" json:"allergy_info"`
	Allergies           []Allergy         `json:"allergies"`
	ContrastAllergy     bool              `db:"contrast_allergy" json:"contrast_allergy"`
	MRISafety           MRISafety         `db:"mri_safety" json:"mri_safety"`
	MetallicDevices     []MetallicDevice  `json:"metallic_devices"`
	ExamPreparation     ExamPreparation   `db:"exam_preparation" json:"exam_preparation"`
	ExamRoom            ExamRoom          `db:"exam_room" json:"exam_room"`
	PostExam            PostExam          `db:"post_exam" json:"post_exam"`
	Reports             []Report          `json:"reports"`
	Signatures          Signatures        `json:"signatures"`
	Attachments         []string          `db:"attachments" json:"attachments"`
	CreatedBy           string            `db:"created_by" json:"created_by"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}

// Validate checks the required fields and the signature invariants.
func (a *Anamnesis) Validate() error {
	pid := ""
	if a.PatientID != uuid.Nil {
		pid = a.PatientID.String()
	}
	if err := apperr.Required("patient_id", pid, "exam_type", string(a.ExamType)); err != nil {
		return err
	}
	if err := a.Signatures.Patient.Validate(); err != nil {
		return fmt.Errorf("patient signature: %w", err)
	}
	if err := a.Signatures.Professional.Validate(); err != nil {
		return fmt.Errorf("professional signature: %w", err)
	}
	return nil
}

// normalize makes nil collections empty and drops signature payloads that
// do not match the chosen method. Signed signatures without a timestamp get
// at.
func (a *Anamnesis) normalize(at time.Time) {
	if a.Medications == nil {
		a.Medications = []Medication{}
	}
	if a.Allergies == nil {
		a.Allergies = []Allergy{}
	}
	if a.MetallicDevices == nil {
		a.MetallicDevices = []MetallicDevice{}
	}
	if a.Reports == nil {
		a.Reports = []Report{}
	}
	if a.Attachments == nil {
		a.Attachments = []string{}
	}
	a.Signatures.Patient = a.Signatures.Patient.normalized(at)
	a.Signatures.Professional = a.Signatures.Professional.normalized(at)
}

func (a *Anamnesis) Clone() *Anamnesis {
	if a == nil {
		return nil
	}
	c := *a
	c.Medications = append([]Medication(nil), a.Medications...)
	c.Allergies = append([]Allergy(nil), a.Allergies...)
	c.MetallicDevices = append([]MetallicDevice(nil), a.MetallicDevices...)
	c.Reports = append([]Report(nil), a.Reports...)
	c.Attachments = append([]string(nil), a.Attachments...)
	c.Signatures.Patient = a.Signatures.Patient.clone()
	c.Signatures.Professional = a.Signatures.Professional.clone()
	return &c
}

// Patch is a partial update. Sections present in the patch replace the
// stored section; collections present replace the whole stored collection.
type Patch struct {
	PatientID           *uuid.UUID         `json:"patient_id,omitempty"`
	ExamType            *ExamType          `json:"exam_type,omitempty"`
	ExamSubtype         *string            `json:"exam_subtype,omitempty"`
	InitialAssessment   *InitialAssessment `json:"initial_assessment,omitempty"`
	PatientCondition    *PatientCondition  `json:"patient_condition,omitempty"`
	HasDentalProsthesis *bool              `json:"has_dental_prosthesis,omitempty"`
	PreviousExams       *PreviousExams     `json:"previous_exams,omitempty"`
	PersonalHistory     *PersonalHistory   `json:"personal_history,omitempty"`
	MedicationUsage     *MedicationUsage   `json:"medication_usage,omitempty"`
	Medications         *[]Medication      `json:"medications,omitempty"`
	AllergyInfo         *AllergyInfo       `json:"allergy_info,omitempty"`
	Allergies           *[]Allergy         `json:"allergies,omitempty"`
	ContrastAllergy     *bool              `json:"contrast_allergy,omitempty"`
	MRISafety           *MRISafety         `json:"mri_safety,omitempty"`
	MetallicDevices     *[]MetallicDevice  `json:"metallic_devices,omitempty"`
	ExamPreparation     *ExamPreparation   `json:"exam_preparation,omitempty"`
	ExamRoom            *ExamRoom          `json:"exam_room,omitempty"`
	PostExam            *PostExam          `json:"post_exam,omitempty"`
	Reports             *[]Report          `json:"reports,omitempty"`
	Signatures          *Signatures        `json:"signatures,omitempty"`
	Attachments         *[]string          `json:"attachments,omitempty"`
}

func (p Patch) Apply(a *Anamnesis) {
	if p.PatientID != nil {
		a.PatientID = *p.PatientID
	}
	if p.ExamType != nil {
		a.ExamType = *p.ExamType
	}
	if p.ExamSubtype != nil {
		a.ExamSubtype = *p.ExamSubtype
	}
	if p.InitialAssessment != nil {
		a.InitialAssessment = *p.InitialAssessment
	}
	if p.PatientCondition != nil {
		a.PatientCondition = *p.PatientCondition
	}
	if p.HasDentalProsthesis != nil {
		a.HasDentalProsthesis = *p.HasDentalProsthesis
	}
	if p.PreviousExams != nil {
		a.PreviousExams = *p.PreviousExams
	}
	if p.PersonalHistory != nil {
		a.PersonalHistory = *p.PersonalHistory
	}
	if p.MedicationUsage != nil {
		a.MedicationUsage = *p.MedicationUsage
	}
	if p.Medications != nil {
		a.Medications = append([]Medication{}, (*p.Medications)...)
	}
	if p.AllergyInfo != nil {
		a.AllergyInfo = *p.AllergyInfo
	}
	if p.Allergies != nil {
		a.Allergies = append([]Allergy{}, (*p.Allergies)...)
	}
	if p.ContrastAllergy != nil {
		a.ContrastAllergy = *p.ContrastAllergy
	}
	if p.MRISafety != nil {
		a.MRISafety = *p.MRISafety
	}
	if p.MetallicDevices != nil {
		a.MetallicDevices = append([]MetallicDevice{}, (*p.MetallicDevices)...)
	}
	if p.ExamPreparation != nil {
		a.ExamPreparation = *p.ExamPreparation
	}
	if p.ExamRoom != nil {
		a.ExamRoom = *p.ExamRoom
	}
	if p.PostExam != nil {
		a.PostExam = *p.PostExam
	}
	if p.Reports != nil {
		a.Reports = append([]Report{}, (*p.Reports)...)
	}
	if p.Signatures != nil {
		a.Signatures = Signatures{
			Patient:      p.Signatures.Patient.clone(),
			Professional: p.Signatures.Professional.clone(),
		}
	}
	if p.Attachments != nil {
		a.Attachments = append([]string{}, (*p.Attachments)...)
	}
}

// PatchFrom builds a patch that overwrites every editable field with the
// values of a.
func PatchFrom(a *Anamnesis) Patch {
	c := a.Clone()
	c.normalize(time.Time{})
	return Patch{
		PatientID:           &c.PatientID,
		ExamType:            &c.ExamType,
		ExamSubtype:         &c.ExamSubtype,
		InitialAssessment:   &c.InitialAssessment,
		PatientCondition:    &c.PatientCondition,
		HasDentalProsthesis: &c.HasDentalProsthesis,
		PreviousExams:       &c.PreviousExams,
		PersonalHistory:     &c.PersonalHistory,
		MedicationUsage:     &c.MedicationUsage,
		Medications:         &c.Medications,
		AllergyInfo:         &c.AllergyInfo,
		Allergies:           &c.Allergies,
		ContrastAllergy:     &c.ContrastAllergy,
		MRISafety:           &c.MRISafety,
		MetallicDevices:     &c.MetallicDevices,
		ExamPreparation:     &c.ExamPreparation,
		ExamRoom:            &c.ExamRoom,
		PostExam:            &c.PostExam,
		Reports:             &c.Reports,
		Signatures:          &c.Signatures,
		Attachments:         &c.Attachments,
	}
}

// Criteria selects anamnesis records. From and To are inclusive bounds on
// created_at. A non-nil PatientIDs restricts the result to those patients;
// an empty non-nil slice matches nothing.
type Criteria struct {
	From        *time.Time  `json:"from,omitempty"`
	To          *time.Time  `json:"to,omitempty"`
	ExamType    ExamType    `json:"exam_type,omitempty"`
	PatientName string      `json:"patient_name,omitempty"`
	PatientIDs  []uuid.UUID `json:"-"`
}

func (c Criteria) Match(a *Anamnesis) bool {
	if c.From != nil && a.CreatedAt.Before(*c.From) {
		return false
	}
	if c.To != nil && a.CreatedAt.After(*c.To) {
		return false
	}
	if c.ExamType != "" && a.ExamType != c.ExamType {
		return false
	}
	if c.PatientIDs != nil {
		for _, id := range c.PatientIDs {
			if id == a.PatientID {
				return true
			}
		}
		return false
	}
	return true
}
