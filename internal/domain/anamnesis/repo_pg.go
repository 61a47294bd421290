package anamnesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/db"
	"github.com/ehr/intake/internal/platform/hipaa"
)

type anamnesisRepoPG struct {
	pool      *pgxpool.Pool
	encryptor hipaa.FieldEncryptor
}

// NewPGRepo returns a PostgreSQL Repository. Sections are stored as JSONB
// columns and collections in child tables keyed by position. Signature
// payloads are encrypted at rest when enc is non-nil.
func NewPGRepo(pool *pgxpool.Pool, enc hipaa.FieldEncryptor) Repository {
	return &anamnesisRepoPG{pool: pool, encryptor: enc}
}

func (r *anamnesisRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const anamnesisCols = `id, patient_id, exam_type, COALESCE(exam_subtype, ''),
	initial_assessment, patient_condition, has_dental_prosthesis, previous_exams,
	personal_history, medication_usage, allergy_info, contrast_allergy, mri_safety,
	exam_preparation, exam_room, post_exam, attachments, created_by, created_at, updated_at`

func (r *anamnesisRepoPG) Create(ctx context.Context, a *Anamnesis) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	sections, err := marshalSections(a)
	if err != nil {
		return fmt.Errorf("anamnesis create: %w", err)
	}
	err = db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO anamnesis (id, patient_id, exam_type, exam_subtype,
				initial_assessment, patient_condition, has_dental_prosthesis, previous_exams,
				personal_history, medication_usage, allergy_info, contrast_allergy, mri_safety,
				exam_preparation, exam_room, post_exam, attachments, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
			a.ID, a.PatientID, string(a.ExamType), nullable(a.ExamSubtype),
			sections[0], sections[1], a.HasDentalProsthesis, sections[2],
			sections[3], sections[4], sections[5], a.ContrastAllergy, sections[6],
			sections[7], sections[8], sections[9], attachments(a), a.CreatedBy, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return r.insertChildren(ctx, a)
	})
	if err != nil {
		return fmt.Errorf("anamnesis create: %w", mapPGError(err))
	}
	return nil
}

// Update rewrites the parent row, deletes every child row and recreates the
// collections from a, all in one transaction.
func (r *anamnesisRepoPG) Update(ctx context.Context, a *Anamnesis) error {
	sections, err := marshalSections(a)
	if err != nil {
		return fmt.Errorf("anamnesis update: %w", err)
	}
	err = db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE anamnesis SET
				patient_id = $2, exam_type = $3, exam_subtype = $4,
				initial_assessment = $5, patient_condition = $6, has_dental_prosthesis = $7,
				previous_exams = $8, personal_history = $9, medication_usage = $10,
				allergy_info = $11, contrast_allergy = $12, mri_safety = $13,
				exam_preparation = $14, exam_room = $15, post_exam = $16,
				attachments = $17, updated_at = $18
			WHERE id = $1`,
			a.ID, a.PatientID, string(a.ExamType), nullable(a.ExamSubtype),
			sections[0], sections[1], a.HasDentalProsthesis,
			sections[2], sections[3], sections[4],
			sections[5], a.ContrastAllergy, sections[6],
			sections[7], sections[8], sections[9],
			attachments(a), a.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("anamnesis", a.ID)
		}
		for _, table := range childTables {
			if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE anamnesis_id = $1`, a.ID); err != nil {
				return err
			}
		}
		return r.insertChildren(ctx, a)
	})
	if err != nil {
		return fmt.Errorf("anamnesis update: %w", mapPGError(err))
	}
	return nil
}

func (r *anamnesisRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Anamnesis, error) {
	a, err := scanAnamnesis(r.conn(ctx).QueryRow(ctx, `SELECT `+anamnesisCols+` FROM anamnesis WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("anamnesis", id)
	}
	if err != nil {
		return nil, fmt.Errorf("anamnesis get by id: %w", err)
	}
	if err := r.loadChildren(ctx, []*Anamnesis{a}); err != nil {
		return nil, fmt.Errorf("anamnesis get by id: %w", err)
	}
	return a, nil
}

func (r *anamnesisRepoPG) List(ctx context.Context) ([]*Anamnesis, error) {
	return r.Filter(ctx, Criteria{})
}

// Filter returns matches newest first.
func (r *anamnesisRepoPG) Filter(ctx context.Context, c Criteria) ([]*Anamnesis, error) {
	if c.PatientIDs != nil && len(c.PatientIDs) == 0 {
		return []*Anamnesis{}, nil
	}
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if c.From != nil {
		where = append(where, "created_at >= "+arg(*c.From))
	}
	if c.To != nil {
		where = append(where, "created_at <= "+arg(*c.To))
	}
	if c.ExamType != "" {
		where = append(where, "exam_type = "+arg(string(c.ExamType)))
	}
	if c.PatientIDs != nil {
		where = append(where, "patient_id = ANY("+arg(uuidStrings(c.PatientIDs))+"::uuid[])")
	}

	query := `SELECT ` + anamnesisCols + ` FROM anamnesis`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("anamnesis filter: %w", err)
	}
	defer rows.Close()

	records := []*Anamnesis{}
	for rows.Next() {
		a, err := scanAnamnesis(rows)
		if err != nil {
			return nil, fmt.Errorf("anamnesis filter: %w", err)
		}
		records = append(records, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("anamnesis filter: %w", err)
	}
	if err := r.loadChildren(ctx, records); err != nil {
		return nil, fmt.Errorf("anamnesis filter: %w", err)
	}
	return records, nil
}

var childTables = []string{
	"anamnesis_medication",
	"anamnesis_allergy",
	"anamnesis_metallic_device",
	"anamnesis_report",
	"anamnesis_signature",
}

func (r *anamnesisRepoPG) insertChildren(ctx context.Context, a *Anamnesis) error {
	q := r.conn(ctx)
	for i, m := range a.Medications {
		if _, err := q.Exec(ctx, `INSERT INTO anamnesis_medication (anamnesis_id, position, name, dosage, frequency) VALUES ($1, $2, $3, $4, $5)`,
			a.ID, i, m.Name, m.Dosage, m.Frequency); err != nil {
			return err
		}
	}
	for i, al := range a.Allergies {
		if _, err := q.Exec(ctx, `INSERT INTO anamnesis_allergy (anamnesis_id, position, type, reaction) VALUES ($1, $2, $3, $4)`,
			a.ID, i, al.Type, al.Reaction); err != nil {
			return err
		}
	}
	for i, d := range a.MetallicDevices {
		if _, err := q.Exec(ctx, `INSERT INTO anamnesis_metallic_device (anamnesis_id, position, type, location, year_implanted) VALUES ($1, $2, $3, $4, $5)`,
			a.ID, i, d.Type, d.Location, d.YearImplanted); err != nil {
			return err
		}
	}
	for i, rep := range a.Reports {
		if _, err := q.Exec(ctx, `INSERT INTO anamnesis_report (anamnesis_id, position, date_time, description) VALUES ($1, $2, $3, $4)`,
			a.ID, i, rep.DateTime, rep.Description); err != nil {
			return err
		}
	}
	for _, s := range []struct {
		role string
		sig  Signature
	}{{"patient", a.Signatures.Patient}, {"professional", a.Signatures.Professional}} {
		if !s.sig.IsSigned() {
			continue
		}
		var drawing, token *string
		if s.sig.Method == MethodDrawing {
			drawing = &s.sig.Drawing
		} else {
			token = &s.sig.ExternalToken
		}
		drawing, err := hipaa.EncryptOptional(r.encryptor, drawing)
		if err != nil {
			return err
		}
		token, err = hipaa.EncryptOptional(r.encryptor, token)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `INSERT INTO anamnesis_signature (anamnesis_id, role, method, drawing, external_token, signed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			a.ID, s.role, string(s.sig.Method), drawing, token, s.sig.SignedAt); err != nil {
			return err
		}
	}
	return nil
}

// loadChildren fills the collections and signatures of records with one
// query per child table.
func (r *anamnesisRepoPG) loadChildren(ctx context.Context, records []*Anamnesis) error {
	if len(records) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Anamnesis, len(records))
	ids := make([]uuid.UUID, 0, len(records))
	for _, a := range records {
		byID[a.ID] = a
		ids = append(ids, a.ID)
		a.Medications = []Medication{}
		a.Allergies = []Allergy{}
		a.MetallicDevices = []MetallicDevice{}
		a.Reports = []Report{}
	}
	idArg := uuidStrings(ids)
	q := r.conn(ctx)

	err := eachRow(ctx, q, `SELECT anamnesis_id, name, dosage, frequency FROM anamnesis_medication
		WHERE anamnesis_id = ANY($1::uuid[]) ORDER BY anamnesis_id, position`, idArg,
		func(row pgx.Rows) error {
			var (
				id uuid.UUID
				m  Medication
			)
			if err := row.Scan(&id, &m.Name, &m.Dosage, &m.Frequency); err != nil {
				return err
			}
			byID[id].Medications = append(byID[id].Medications, m)
			return nil
		})
	if err != nil {
		return err
	}

	err = eachRow(ctx, q, `SELECT anamnesis_id, type, reaction FROM anamnesis_allergy
		WHERE anamnesis_id = ANY($1::uuid[]) ORDER BY anamnesis_id, position`, idArg,
		func(row pgx.Rows) error {
			var (
				id uuid.UUID
				al Allergy
			)
			if err := row.Scan(&id, &al.Type, &al.Reaction); err != nil {
				return err
			}
			byID[id].Allergies = append(byID[id].Allergies, al)
			return nil
		})
	if err != nil {
		return err
	}

	err = eachRow(ctx, q, `SELECT anamnesis_id, type, location, year_implanted FROM anamnesis_metallic_device
		WHERE anamnesis_id = ANY($1::uuid[]) ORDER BY anamnesis_id, position`, idArg,
		func(row pgx.Rows) error {
			var (
				id uuid.UUID
				d  MetallicDevice
			)
			if err := row.Scan(&id, &d.Type, &d.Location, &d.YearImplanted); err != nil {
				return err
			}
			byID[id].MetallicDevices = append(byID[id].MetallicDevices, d)
			return nil
		})
	if err != nil {
		return err
	}

	err = eachRow(ctx, q, `SELECT anamnesis_id, date_time, description FROM anamnesis_report
		WHERE anamnesis_id = ANY($1::uuid[]) ORDER BY anamnesis_id, position`, idArg,
		func(row pgx.Rows) error {
			var (
				id  uuid.UUID
				rep Report
			)
			if err := row.Scan(&id, &rep.DateTime, &rep.Description); err != nil {
				return err
			}
			byID[id].Reports = append(byID[id].Reports, rep)
			return nil
		})
	if err != nil {
		return err
	}

	return eachRow(ctx, q, `SELECT anamnesis_id, role, method, drawing, external_token, signed_at FROM anamnesis_signature
		WHERE anamnesis_id = ANY($1::uuid[])`, idArg,
		func(row pgx.Rows) error {
			var (
				id             uuid.UUID
				role, method   string
				drawing, token *string
				signedAt       *time.Time
			)
			if err := row.Scan(&id, &role, &method, &drawing, &token, &signedAt); err != nil {
				return err
			}
			drawing, err := hipaa.DecryptOptional(r.encryptor, drawing)
			if err != nil {
				return err
			}
			token, err = hipaa.DecryptOptional(r.encryptor, token)
			if err != nil {
				return err
			}
			sig := Signature{Method: SignatureMethod(method), SignedAt: signedAt}
			if drawing != nil {
				sig.Drawing = *drawing
			}
			if token != nil {
				sig.ExternalToken = *token
			}
			switch role {
			case "patient":
				byID[id].Signatures.Patient = sig
			case "professional":
				byID[id].Signatures.Professional = sig
			}
			return nil
		})
}

func eachRow(ctx context.Context, q querier, sql string, arg interface{}, fn func(pgx.Rows) error) error {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanAnamnesis(row pgx.Row) (*Anamnesis, error) {
	var (
		a        Anamnesis
		examType string
		raw      [10][]byte
	)
	err := row.Scan(&a.ID, &a.PatientID, &examType, &a.ExamSubtype,
		&raw[0], &raw[1], &a.HasDentalProsthesis, &raw[2],
		&raw[3], &raw[4], &raw[5], &a.ContrastAllergy, &raw[6],
		&raw[7], &raw[8], &raw[9], &a.Attachments, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ExamType = ExamType(examType)
	targets := sectionTargets(&a)
	for i, b := range raw {
		if len(b) == 0 {
			continue
		}
		if err := json.Unmarshal(b, targets[i]); err != nil {
			return nil, fmt.Errorf("decode section %d: %w", i, err)
		}
	}
	if a.Attachments == nil {
		a.Attachments = []string{}
	}
	return &a, nil
}

// sectionTargets lists the JSONB-backed sections in column order.
func sectionTargets(a *Anamnesis) [10]interface{} {
	return [10]interface{}{
		&a.InitialAssessment, &a.PatientCondition, &a.PreviousExams, &a.PersonalHistory,
		&a.MedicationUsage, &a.AllergyInfo, &a.MRISafety, &a.ExamPreparation,
		&a.ExamRoom, &a.PostExam,
	}
}

func marshalSections(a *Anamnesis) ([10][]byte, error) {
	var out [10][]byte
	for i, v := range sectionTargets(a) {
		b, err := json.Marshal(v)
		if err != nil {
			return out, err
		}
		out[i] = b
	}
	return out, nil
}

func attachments(a *Anamnesis) []string {
	if a.Attachments == nil {
		return []string{}
	}
	return a.Attachments
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// mapPGError turns a foreign key violation on patient_id into
// ErrUnknownPatient.
func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" && strings.Contains(pgErr.ConstraintName, "patient") {
		return ErrUnknownPatient
	}
	return err
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
