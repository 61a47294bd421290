package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/intake/internal/platform/apperr"
	"github.com/ehr/intake/internal/platform/db"
	"github.com/ehr/intake/internal/platform/hipaa"
)

type patientRepoPG struct {
	pool      *pgxpool.Pool
	encryptor hipaa.FieldEncryptor
}

// NewPGRepo returns a PostgreSQL Repository. The phone number is encrypted
// at rest when enc is non-nil.
func NewPGRepo(pool *pgxpool.Pool, enc hipaa.FieldEncryptor) Repository {
	return &patientRepoPG{pool: pool, encryptor: enc}
}

func (r *patientRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, patient_id, name, birth_date::text, gender, phone, email, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	phone, err := hipaa.EncryptOptional(r.encryptor, p.Phone)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, patient_id, name, birth_date, gender, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9)`,
		p.ID, p.PatientID, p.Name, p.BirthDate, string(p.Gender), phone, p.Email, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", id)
	}
	if err != nil {
		return nil, fmt.Errorf("patient get by id: %w", err)
	}
	if p.Phone, err = hipaa.DecryptOptional(r.encryptor, p.Phone); err != nil {
		return nil, fmt.Errorf("patient get by id: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	phone, err := hipaa.EncryptOptional(r.encryptor, p.Phone)
	if err != nil {
		return fmt.Errorf("patient update: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			patient_id = $2, name = $3, birth_date = $4::date, gender = $5,
			phone = $6, email = $7, updated_at = $8
		WHERE id = $1`,
		p.ID, p.PatientID, p.Name, p.BirthDate, string(p.Gender), phone, p.Email, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("patient update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient", p.ID)
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context) ([]*Patient, error) {
	return r.Filter(ctx, Filter{})
}

// Filter returns matches newest first.
func (r *patientRepoPG) Filter(ctx context.Context, f Filter) ([]*Patient, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q := strings.TrimSpace(f.Query); q != "" {
		n := arg(likePattern(q))
		where = append(where, fmt.Sprintf("(name ILIKE %[1]s OR patient_id ILIKE %[1]s OR COALESCE(email, '') ILIKE %[1]s)", n))
	}
	if name := strings.TrimSpace(f.Name); name != "" {
		where = append(where, "name ILIKE "+arg(likePattern(name)))
	}
	if f.CreatedFrom != nil {
		where = append(where, "created_at >= "+arg(*f.CreatedFrom))
	}
	if f.CreatedBefore != nil {
		where = append(where, "created_at < "+arg(*f.CreatedBefore))
	}

	query := `SELECT ` + patientCols + ` FROM patient`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("patient filter: %w", err)
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("patient filter: %w", err)
		}
		if p.Phone, err = hipaa.DecryptOptional(r.encryptor, p.Phone); err != nil {
			return nil, fmt.Errorf("patient filter: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("patient filter: %w", err)
	}
	return patients, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p      Patient
		gender string
	)
	err := row.Scan(&p.ID, &p.PatientID, &p.Name, &p.BirthDate, &gender, &p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Gender = Gender(gender)
	return &p, nil
}

// likePattern wraps s in % wildcards, escaping LIKE metacharacters.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
