package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

var donorRowColumns = []string{
	"donor_id", "name", "phone", "blood_type", "longitude", "latitude",
	"is_active", "last_donation_date", "donation_count", "registered_at",
}

func TestFindCandidates_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewDonorRepository(db, zap.NewNop())

	registered := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lastDonation := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(donorRowColumns).
		AddRow("donor-1", "Amina", "+254700000001", "O+", 36.82, -1.29, true, nil, 0, registered).
		AddRow("donor-2", "Brian", "+254700000002", "O+", 36.83, -1.30, true, lastDonation, 3, registered)

	mock.ExpectQuery(`ORDER BY c.last_donation_date ASC NULLS FIRST, c.distance_m ASC`).
		WithArgs("O+", -1.29, 36.82, sqlmock.AnyArg(), 50000.0, 20).
		WillReturnRows(rows)

	donors, err := repo.FindCandidates(context.Background(), models.CandidateQuery{
		BloodType:         models.BloodTypeOPos,
		Origin:            models.Point{Longitude: 36.82, Latitude: -1.29},
		MaxDistanceMeters: 50000,
		ExcludeDonorIDs:   []string{"donor-9"},
		Limit:             20,
	})

	require.NoError(t, err)
	require.Len(t, donors, 2)
	assert.Equal(t, "donor-1", donors[0].DonorID)
	assert.Nil(t, donors[0].LastDonationDate)
	assert.Equal(t, models.BloodTypeOPos, donors[1].BloodType)
	require.NotNil(t, donors[1].LastDonationDate)
	assert.True(t, donors[1].LastDonationDate.Equal(lastDonation))
	assert.Equal(t, 3, donors[1].DonationCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCandidates_EmptyResult(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewDonorRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM donors d`).
		WillReturnRows(sqlmock.NewRows(donorRowColumns))

	donors, err := repo.FindCandidates(context.Background(), models.CandidateQuery{
		BloodType:         models.BloodTypeABNeg,
		Origin:            models.Point{Longitude: 0, Latitude: 0},
		MaxDistanceMeters: 10000,
		Limit:             10,
	})

	require.NoError(t, err)
	assert.NotNil(t, donors)
	assert.Len(t, donors, 0)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCandidates_ZeroLimitSkipsQuery(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewDonorRepository(db, zap.NewNop())

	donors, err := repo.FindCandidates(context.Background(), models.CandidateQuery{
		BloodType:         models.BloodTypeAPos,
		Origin:            models.Point{Longitude: 10, Latitude: 10},
		MaxDistanceMeters: 10000,
		Limit:             0,
	})

	require.NoError(t, err)
	assert.Empty(t, donors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCandidates_InvalidInput(t *testing.T) {
	db, _ := setupMockDB(t)
	defer db.Close()
	repo := NewDonorRepository(db, zap.NewNop())

	_, err := repo.FindCandidates(context.Background(), models.CandidateQuery{
		BloodType: "C+",
		Origin:    models.Point{},
		Limit:     5,
	})
	assert.True(t, models.IsValidationError(err))

	_, err = repo.FindCandidates(context.Background(), models.CandidateQuery{
		BloodType: models.BloodTypeAPos,
		Origin:    models.Point{Longitude: 200, Latitude: 0},
		Limit:     5,
	})
	assert.True(t, models.IsValidationError(err))
}

func TestFindCandidates_QueryError(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewDonorRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM donors d`).WillReturnError(errors.New("connection reset"))

	_, err := repo.FindCandidates(context.Background(), models.CandidateQuery{
		BloodType:         models.BloodTypeBPos,
		Origin:            models.Point{Longitude: 1, Latitude: 1},
		MaxDistanceMeters: 1000,
		Limit:             1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestGetDonor_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewDonorRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM donors WHERE donor_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(donorRowColumns))

	_, err := repo.GetDonor(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
