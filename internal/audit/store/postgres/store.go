// Package postgres persists audit records in the unified audit_records
// table. Writes join the caller's ambient transaction via pkg/platform/tx and
// never open their own; the table is append-only and this store exposes no
// update or delete.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/sentinel"
	txcontext "github.com/whatnewads/safeshift-sub018/pkg/platform/tx"
)

// Schema is the DDL for the unified audit table. The two historical record
// shapes (generic audit table and the event-specific table) collapse into
// this one schema; the event-only columns are nullable attributes here.
//
//go:embed schema.sql
var Schema string

type Store struct {
	db       *sql.DB
	verifier audit.Signer
}

func New(db *sql.DB, verifier audit.Signer) *Store {
	return &Store{db: db, verifier: verifier}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer joins the ambient transaction when one is present, falling back to
// the pool for standalone reads.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const recordColumns = `id, actor_id, actor_name, actor_role, subject_type, subject_id,
	linked_subject_id, action, occurred_at, source_ip, user_agent, session_id,
	changed_fields, old_values, new_values, success, error_message,
	integrity_signature, created_at`

// Append inserts one signed record. Serialization failures propagate so the
// ambient transaction aborts; there is no silent audit-skipped path.
func (s *Store) Append(ctx context.Context, record audit.Record) error {
	changedFields, err := json.Marshal(record.ChangedFields)
	if err != nil {
		return fmt.Errorf("marshal changed_fields: %w", err)
	}
	oldValues, err := json.Marshal(record.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old_values: %w", err)
	}
	newValues, err := json.Marshal(record.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new_values: %w", err)
	}

	query := `
		INSERT INTO audit_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		record.ID,
		record.Actor.ID,
		record.Actor.DisplayName,
		record.Actor.Role,
		record.Subject.Type,
		record.Subject.ID,
		nullable(record.Subject.LinkedID),
		string(record.Action),
		record.OccurredAt,
		nullable(record.Session.SourceIP),
		nullable(record.Session.UserAgent),
		nullable(record.Session.SessionID),
		changedFields,
		oldValues,
		newValues,
		record.Outcome.Success,
		nullable(record.Outcome.ErrorMessage),
		record.IntegritySignature,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Get loads one record and re-verifies its signature. A verification failure
// is reported as sentinel.ErrIntegrityViolation, never folded into not-found
// and never repaired.
func (s *Store) Get(ctx context.Context, id string) (audit.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records WHERE id = $1`
	record, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return audit.Record{}, sentinel.ErrNotFound
	}
	if err != nil {
		return audit.Record{}, fmt.Errorf("load audit record: %w", err)
	}
	if !s.verifier.Verify(record) {
		return audit.Record{}, sentinel.ErrIntegrityViolation
	}
	return record, nil
}

func (s *Store) Search(ctx context.Context, filter audit.Filter, limit, offset int) ([]audit.Record, error) {
	where, args := buildPredicate(filter)
	query := fmt.Sprintf(
		`SELECT `+recordColumns+` FROM audit_records%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// Count is the structurally independent counting path: it is built from the
// same predicate as Search, never by rewriting the assembled result query.
func (s *Store) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	where, args := buildPredicate(filter)
	var total int64
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return total, nil
}

func (s *Store) CountByAction(ctx context.Context, filter audit.Filter) (map[audit.Action]int64, error) {
	where, args := buildPredicate(filter)
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT action, COUNT(*) FROM audit_records`+where+` GROUP BY action`, args...)
	if err != nil {
		return nil, fmt.Errorf("count audit records by action: %w", err)
	}
	defer rows.Close()

	counts := make(map[audit.Action]int64)
	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("scan action count: %w", err)
		}
		counts[audit.Action(action)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action counts: %w", err)
	}
	return counts, nil
}

// ListAfter tails the log in id order. UUIDv7 ids sort by creation time, so
// the export forwarder can use the last seen id as its cursor.
func (s *Store) ListAfter(ctx context.Context, afterID string, limit int) ([]audit.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records WHERE id > $1 ORDER BY id ASC LIMIT $2`
	if afterID == "" {
		// uuid columns reject the empty string; the zero uuid precedes all
		// v7 ids.
		afterID = "00000000-0000-0000-0000-000000000000"
	}
	rows, err := s.execer(ctx).QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records after %s: %w", afterID, err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// buildPredicate turns the structured filter into a WHERE clause plus args.
// Both the result query and every counting path go through here; building
// counts by textual rewriting of an assembled query is exactly the historical
// bug this layout exists to prevent.
func buildPredicate(filter audit.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(column, op string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", column, op, len(args)))
	}

	if filter.ActorID != "" {
		add("actor_id", "=", filter.ActorID)
	}
	if filter.SubjectType != "" {
		add("subject_type", "=", filter.SubjectType)
	}
	if filter.SubjectID != "" {
		add("subject_id", "=", filter.SubjectID)
	}
	if filter.LinkedSubjectID != "" {
		add("linked_subject_id", "=", filter.LinkedSubjectID)
	}
	if filter.Action != "" {
		add("action", "=", string(filter.Action))
	}
	if !filter.OccurredFrom.IsZero() {
		add("occurred_at", ">=", filter.OccurredFrom)
	}
	if !filter.OccurredTo.IsZero() {
		add("occurred_at", "<", filter.OccurredTo)
	}
	if filter.Success != nil {
		add("success", "=", *filter.Success)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (audit.Record, error) {
	var (
		record          audit.Record
		action          string
		linkedSubjectID sql.NullString
		sourceIP        sql.NullString
		userAgent       sql.NullString
		sessionID       sql.NullString
		errorMessage    sql.NullString
		changedFields   []byte
		oldValues       []byte
		newValues       []byte
		occurredAt      time.Time
		createdAt       time.Time
	)

	err := row.Scan(
		&record.ID,
		&record.Actor.ID,
		&record.Actor.DisplayName,
		&record.Actor.Role,
		&record.Subject.Type,
		&record.Subject.ID,
		&linkedSubjectID,
		&action,
		&occurredAt,
		&sourceIP,
		&userAgent,
		&sessionID,
		&changedFields,
		&oldValues,
		&newValues,
		&record.Outcome.Success,
		&errorMessage,
		&record.IntegritySignature,
		&createdAt,
	)
	if err != nil {
		return audit.Record{}, err
	}

	record.Action = audit.Action(action)
	record.Subject.LinkedID = linkedSubjectID.String
	record.Session.SourceIP = sourceIP.String
	record.Session.UserAgent = userAgent.String
	record.Session.SessionID = sessionID.String
	record.Outcome.ErrorMessage = errorMessage.String
	record.OccurredAt = occurredAt.UTC()
	record.CreatedAt = createdAt.UTC()

	if err := json.Unmarshal(changedFields, &record.ChangedFields); err != nil {
		return audit.Record{}, fmt.Errorf("unmarshal changed_fields: %w", err)
	}
	if err := json.Unmarshal(oldValues, &record.OldValues); err != nil {
		return audit.Record{}, fmt.Errorf("unmarshal old_values: %w", err)
	}
	if err := json.Unmarshal(newValues, &record.NewValues); err != nil {
		return audit.Record{}, fmt.Errorf("unmarshal new_values: %w", err)
	}
	return record, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
