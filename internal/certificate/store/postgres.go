package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"certifier/internal/certificate/models"
	id "certifier/pkg/domain"
	"certifier/pkg/platform/sentinel"
	txcontext "certifier/pkg/platform/tx"
)

const uniqueViolation = "23505"

const selectColumns = `id, applicant_id, applicant_name, applicant_email, certificate_type,
	document_key, original_key, status, remarks, issued_date, created_at, updated_at`

// PostgresStore persists requests in the certificate_requests table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) queryer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, r *models.CertificateRequest) error {
	query := `
		INSERT INTO certificate_requests (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID),
		uuid.UUID(r.ApplicantID),
		r.ApplicantName,
		r.ApplicantEmail,
		r.CertificateType,
		r.DocumentKey,
		r.OriginalKey,
		string(r.Status),
		r.Remarks,
		r.IssuedDate,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("certificate request %s: %w", r.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert certificate request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM certificate_requests WHERE id = $1`
	r, err := scanRequest(s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("certificate request %s: %w", requestID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find certificate request: %w", err)
	}
	return r, nil
}

// Find returns matching requests, most recently created first.
func (s *PostgresStore) Find(ctx context.Context, filter models.Filter) ([]*models.CertificateRequest, error) {
	var (
		conds []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if !filter.ApplicantID.IsNil() {
		args = append(args, uuid.UUID(filter.ApplicantID))
		conds = append(conds, fmt.Sprintf("applicant_id = $%d", len(args)))
	}

	query := `SELECT ` + selectColumns + ` FROM certificate_requests`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificate requests: %w", err)
	}
	defer rows.Close()

	out := []*models.CertificateRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
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

// UpdateIfStatus locks the row, checks its status against expected and
// writes the mutated record in the same transaction.
func (s *PostgresStore) UpdateIfStatus(ctx context.Context, requestID id.CertificateRequestID, expected models.Status, mutate Mutator) (*models.CertificateRequest, error) {
	var updated *models.CertificateRequest
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `SELECT ` + selectColumns + ` FROM certificate_requests WHERE id = $1 FOR UPDATE`
		current, err := scanRequest(tx.QueryRowContext(ctx, query, uuid.UUID(requestID)))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("certificate request %s: %w", requestID, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock certificate request: %w", err)
		}
		if current.Status != expected {
			return fmt.Errorf("certificate request %s is %s, expected %s: %w",
				requestID, current.Status, expected, sentinel.ErrConflict)
		}
		if err := mutate(current); err != nil {
			return err
		}

		update := `
			UPDATE certificate_requests
			SET document_key = $2, status = $3, remarks = $4, issued_date = $5, updated_at = $6
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, update,
			uuid.UUID(requestID),
			current.DocumentKey,
			string(current.Status),
			current.Remarks,
			current.IssuedDate,
			current.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update certificate request: %w", err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT status, COUNT(*) FROM certificate_requests GROUP BY status`)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.CertificateRequest, error) {
	var (
		r           models.CertificateRequest
		requestID   uuid.UUID
		applicantID uuid.UUID
		status      string
		issued      sql.NullTime
	)
	if err := row.Scan(&requestID, &applicantID, &r.ApplicantName, &r.ApplicantEmail, &r.CertificateType,
		&r.DocumentKey, &r.OriginalKey, &status, &r.Remarks, &issued, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ID = id.CertificateRequestID(requestID)
	r.ApplicantID = id.UserID(applicantID)
	r.Status = models.Status(status)
	if issued.Valid {
		t := issued.Time
		r.IssuedDate = &t
	}
	return &r, nil
}
