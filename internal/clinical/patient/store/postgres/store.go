// Package postgres persists patient records. All statements run through the
// ambient transaction from pkg/platform/tx when present, so a patient write
// and its audit append share one commit.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/whatnewads/safeshift-sub018/internal/clinical/patient"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/sentinel"
	txcontext "github.com/whatnewads/safeshift-sub018/pkg/platform/tx"
)

//go:embed schema.sql
var Schema string

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const patientColumns = `id, mrn, first_name, last_name, birth_date, email, phone,
	clinical_notes, status, created_at, updated_at`

func (s *Store) Create(ctx context.Context, p *patient.Patient) error {
	query := `INSERT INTO patients (` + patientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Email, p.Phone,
		p.ClinicalNotes, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*patient.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	row := s.execer(ctx).QueryRowContext(ctx, query, id)

	var p patient.Patient
	var status string
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate,
		&p.Email, &p.Phone, &p.ClinicalNotes, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	p.Status = patient.Status(status)
	return &p, nil
}

func (s *Store) Update(ctx context.Context, p *patient.Patient) error {
	query := `UPDATE patients
		SET mrn = $2, first_name = $3, last_name = $4, birth_date = $5,
			email = $6, phone = $7, clinical_notes = $8, status = $9, updated_at = $10
		WHERE id = $1`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Email, p.Phone,
		p.ClinicalNotes, string(p.Status), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return ensureAffected(res)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	return ensureAffected(res)
}

func ensureAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
