package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"certifier/internal/certificate/models"
	"certifier/internal/platform/migrate"
	"certifier/migrations"
	id "certifier/pkg/domain"
	"certifier/pkg/platform/sentinel"
)

// SQLiteStore persists requests in a local SQLite file. Times are stored as
// unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path and applies the embedded SQLite migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate.Apply(ctx, db, migrations.FS, migrations.SQLiteDir, migrate.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the handle for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func (s *SQLiteStore) Create(ctx context.Context, r *models.CertificateRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificate_requests (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(),
		r.ApplicantID.String(),
		r.ApplicantName,
		r.ApplicantEmail,
		r.CertificateType,
		r.DocumentKey,
		r.OriginalKey,
		string(r.Status),
		r.Remarks,
		nullableMillis(r.IssuedDate),
		toMillis(r.CreatedAt),
		toMillis(r.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("certificate request %s: %w", r.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert certificate request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindByID(ctx context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error) {
	r, err := scanSQLiteRequest(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM certificate_requests WHERE id = ?`, requestID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("certificate request %s: %w", requestID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find certificate request: %w", err)
	}
	return r, nil
}

// Find returns matching requests, most recently created first.
func (s *SQLiteStore) Find(ctx context.Context, filter models.Filter) ([]*models.CertificateRequest, error) {
	var (
		conds []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if !filter.ApplicantID.IsNil() {
		conds = append(conds, "applicant_id = ?")
		args = append(args, filter.ApplicantID.String())
	}
	query := `SELECT ` + selectColumns + ` FROM certificate_requests`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificate requests: %w", err)
	}
	defer rows.Close()

	out := []*models.CertificateRequest{}
	for rows.Next() {
		r, err := scanSQLiteRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificate requests: %w", err)
	}
	return out, nil
}

// UpdateIfStatus writes the mutated record only if the stored status still
// equals expected; a lost race shows up as zero affected rows.
func (s *SQLiteStore) UpdateIfStatus(ctx context.Context, requestID id.CertificateRequestID, expected models.Status, mutate Mutator) (*models.CertificateRequest, error) {
	current, err := s.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if current.Status != expected {
		return nil, fmt.Errorf("certificate request %s is %s, expected %s: %w",
			requestID, current.Status, expected, sentinel.ErrConflict)
	}
	if err := mutate(current); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE certificate_requests
		SET document_key = ?, status = ?, remarks = ?, issued_date = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		current.DocumentKey,
		string(current.Status),
		current.Remarks,
		nullableMillis(current.IssuedDate),
		toMillis(current.UpdatedAt),
		requestID.String(),
		string(expected),
	)
	if err != nil {
		return nil, fmt.Errorf("update certificate request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update certificate request: %w", err)
	}
	if n == 0 {
		if _, err := s.FindByID(ctx, requestID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("certificate request %s changed concurrently: %w", requestID, sentinel.ErrConflict)
	}
	return current, nil
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM certificate_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count certificate requests: %w", err)
	}
	defer rows.Close()
	counts := make(map[models.Status]int, 3)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func scanSQLiteRequest(row rowScanner) (*models.CertificateRequest, error) {
	var (
		r                      models.CertificateRequest
		requestID, applicantID string
		status                 string
		issued                 sql.NullInt64
		createdAt, updatedAt   int64
	)
	if err := row.Scan(&requestID, &applicantID, &r.ApplicantName, &r.ApplicantEmail, &r.CertificateType,
		&r.DocumentKey, &r.OriginalKey, &status, &r.Remarks, &issued, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rid, err := id.ParseCertificateRequestID(requestID)
	if err != nil {
		return nil, fmt.Errorf("stored request id: %w", err)
	}
	uid, err := id.ParseUserID(applicantID)
	if err != nil {
		return nil, fmt.Errorf("stored applicant id: %w", err)
	}
	r.ID = rid
	r.ApplicantID = uid
	r.Status = models.Status(status)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	if issued.Valid {
		t := fromMillis(issued.Int64)
		r.IssuedDate = &t
	}
	return &r, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
