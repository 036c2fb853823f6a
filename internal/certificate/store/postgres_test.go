package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certifier/internal/certificate/models"
	id "certifier/pkg/domain"
	"certifier/pkg/platform/sentinel"
)

var rowColumns = []string{"id", "applicant_id", "applicant_name", "applicant_email", "certificate_type",
	"document_key", "original_key", "status", "remarks", "issued_date", "created_at", "updated_at"}

func TestPostgresStore_FindBuildsFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	applicant := uuid.New()
	requestID := uuid.New()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM certificate_requests WHERE status = ANY\(\$1\) AND applicant_id = \$2 ORDER BY created_at DESC, id DESC`).
		WithArgs(sqlmock.AnyArg(), applicant).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(
			requestID.String(), applicant.String(), "Ada", "ada@example.com", "Birth Certificate",
			"1_a.pdf", "1_a.pdf", "pending", "", nil, created, created,
		))

	got, err := NewPostgres(db).Find(context.Background(), models.Filter{
		Statuses:    []models.Status{models.StatusPending},
		ApplicantID: id.UserID(applicant),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id.CertificateRequestID(requestID), got[0].ID)
	assert.Equal(t, models.StatusPending, got[0].Status)
	assert.Nil(t, got[0].IssuedDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateIfStatusConflictRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	requestID := uuid.New()
	issued := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM certificate_requests WHERE id = \$1 FOR UPDATE`).
		WithArgs(requestID).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(
			requestID.String(), uuid.NewString(), "Ada", "ada@example.com", "Birth Certificate",
			"verified_1_a.pdf", "1_a.pdf", "approved", "Approved", issued, issued, issued,
		))
	mock.ExpectRollback()

	_, err = NewPostgres(db).UpdateIfStatus(context.Background(), id.CertificateRequestID(requestID), models.StatusPending,
		func(*models.CertificateRequest) error {
			t.Fatal("mutator must not run on conflict")
			return nil
		})
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateIfStatusCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	requestID := uuid.New()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(requestID).
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(
			requestID.String(), uuid.NewString(), "Ada", "ada@example.com", "Birth Certificate",
			"1_a.pdf", "1_a.pdf", "pending", "", nil, created, created,
		))
	mock.ExpectExec(`UPDATE certificate_requests`).
		WithArgs(requestID, "1_a.pdf", "rejected", "illegible", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := NewPostgres(db).UpdateIfStatus(context.Background(), id.CertificateRequestID(requestID), models.StatusPending,
		func(r *models.CertificateRequest) error {
			r.ApplyStatus(models.StatusRejected, "illegible", now)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, updated.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	requestID := uuid.New()
	mock.ExpectQuery(`FROM certificate_requests WHERE id = \$1`).
		WithArgs(requestID).
		WillReturnRows(sqlmock.NewRows(rowColumns))

	_, err = NewPostgres(db).FindByID(context.Background(), id.CertificateRequestID(requestID))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
