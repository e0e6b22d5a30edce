package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

var hospitalRowColumns = []string{
	"hospital_id", "name", "address", "longitude", "latitude",
	"contact_phone", "contact_email", "is_verified",
}

func TestGetHospital_WithInventory(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewHospitalRepository(db, zap.NewNop())

	updated := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM hospitals WHERE hospital_id = \$1`).
		WithArgs("hosp-1").
		WillReturnRows(sqlmock.NewRows(hospitalRowColumns).
			AddRow("hosp-1", "Kenyatta", "Hospital Rd", 36.80, -1.30, "+254200000000", nil, true))

	mock.ExpectQuery(`FROM hospital_inventory WHERE hospital_id = \$1`).
		WithArgs("hosp-1").
		WillReturnRows(sqlmock.NewRows([]string{"hospital_id", "blood_type", "quantity", "last_updated"}).
			AddRow("hosp-1", "A+", 12, updated).
			AddRow("hosp-1", "O-", 3, updated))

	h, err := repo.GetHospital(context.Background(), "hosp-1")

	require.NoError(t, err)
	assert.Equal(t, "Kenyatta", h.Name)
	assert.Nil(t, h.ContactEmail)
	assert.True(t, h.IsVerified)
	assert.Len(t, h.Inventory, 2)
	assert.Equal(t, 12, h.Stock(models.BloodTypeAPos))
	assert.Equal(t, 3, h.Stock(models.BloodTypeONeg))
	assert.Equal(t, 0, h.Stock(models.BloodTypeBPos))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHospital_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewHospitalRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM hospitals`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(hospitalRowColumns))

	_, err := repo.GetHospital(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListHospitals_GroupsInventory(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewHospitalRepository(db, zap.NewNop())

	email := "ops@hosp2.example"
	updated := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM hospitals ORDER BY hospital_id`).
		WillReturnRows(sqlmock.NewRows(hospitalRowColumns).
			AddRow("hosp-1", "One", "Addr 1", 1.0, 1.0, "111", nil, true).
			AddRow("hosp-2", "Two", "Addr 2", 2.0, 2.0, "222", email, false))

	mock.ExpectQuery(`FROM hospital_inventory`).
		WillReturnRows(sqlmock.NewRows([]string{"hospital_id", "blood_type", "quantity", "last_updated"}).
			AddRow("hosp-2", "B-", 7, updated))

	hospitals, err := repo.ListHospitals(context.Background())

	require.NoError(t, err)
	require.Len(t, hospitals, 2)
	assert.Empty(t, hospitals[0].Inventory)
	assert.Equal(t, 7, hospitals[1].Stock(models.BloodTypeBNeg))
	require.NotNil(t, hospitals[1].ContactEmail)
	assert.Equal(t, email, *hospitals[1].ContactEmail)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInventory(t *testing.T) {
	now := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		repo := NewHospitalRepository(db, zap.NewNop())

		mock.ExpectExec(`INSERT INTO hospital_inventory`).
			WithArgs("hosp-1", "AB+", 5, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpsertInventory(context.Background(), "hosp-1", models.BloodTypeABPos, 5, now)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown hospital", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		repo := NewHospitalRepository(db, zap.NewNop())

		mock.ExpectExec(`INSERT INTO hospital_inventory`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpsertInventory(context.Background(), "ghost", models.BloodTypeABPos, 5, now)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("negative quantity", func(t *testing.T) {
		db, _ := setupMockDB(t)
		defer db.Close()
		repo := NewHospitalRepository(db, zap.NewNop())

		err := repo.UpsertInventory(context.Background(), "hosp-1", models.BloodTypeABPos, -1, now)
		assert.True(t, models.IsValidationError(err))
	})
}
