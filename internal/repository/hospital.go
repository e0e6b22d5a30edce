package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

// HospitalRepository 医院与库存仓库
type HospitalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHospitalRepository 创建医院仓库
func NewHospitalRepository(db *sql.DB, logger *zap.Logger) *HospitalRepository {
	return &HospitalRepository{
		db:     db,
		logger: logger,
	}
}

const hospitalColumns = `
			hospital_id,
			name,
			address,
			longitude,
			latitude,
			contact_phone,
			contact_email,
			is_verified`

// GetHospital 获取医院及其库存
func (r *HospitalRepository) GetHospital(ctx context.Context, hospitalID string) (*models.Hospital, error) {
	if hospitalID == "" {
		return nil, fmt.Errorf("hospital_id is required")
	}

	query := `SELECT` + hospitalColumns + ` FROM hospitals WHERE hospital_id = $1`

	h, err := scanHospital(r.db.QueryRowContext(ctx, query, hospitalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("hospital not found: %s: %w", hospitalID, models.ErrNotFound)
		}
		return nil, err
	}

	inventory, err := r.loadInventory(ctx, `WHERE hospital_id = $1`, hospitalID)
	if err != nil {
		return nil, err
	}
	h.Inventory = inventory[hospitalID]

	return h, nil
}

// ListHospitals 获取全部医院及库存
func (r *HospitalRepository) ListHospitals(ctx context.Context) ([]models.Hospital, error) {
	query := `SELECT` + hospitalColumns + ` FROM hospitals ORDER BY hospital_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query hospitals: %w", err)
	}
	defer rows.Close()

	var hospitals []models.Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, err
		}
		hospitals = append(hospitals, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hospitals: %w", err)
	}

	inventory, err := r.loadInventory(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range hospitals {
		hospitals[i].Inventory = inventory[hospitals[i].HospitalID]
	}

	return hospitals, nil
}

// UpsertInventory 更新某血型库存（每个血型至多一条，存在则覆盖）
func (r *HospitalRepository) UpsertInventory(ctx context.Context, hospitalID string, bloodType models.BloodType, quantity int, now time.Time) error {
	if !bloodType.Valid() {
		return &models.ValidationError{Field: "blood_type", Message: "unknown blood type " + string(bloodType)}
	}
	if quantity < 0 {
		return &models.ValidationError{Field: "quantity", Message: "must not be negative"}
	}

	query := `
		INSERT INTO hospital_inventory (hospital_id, blood_type, quantity, last_updated)
		SELECT $1, $2, $3, $4
		WHERE EXISTS (SELECT 1 FROM hospitals WHERE hospital_id = $1)
		ON CONFLICT (hospital_id, blood_type)
		DO UPDATE SET quantity = EXCLUDED.quantity, last_updated = EXCLUDED.last_updated
	`

	result, err := r.db.ExecContext(ctx, query, hospitalID, string(bloodType), quantity, now)
	if err != nil {
		return fmt.Errorf("failed to upsert inventory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("hospital not found: %s: %w", hospitalID, models.ErrNotFound)
	}

	r.logger.Info("Inventory updated",
		zap.String("hospital_id", hospitalID),
		zap.String("blood_type", string(bloodType)),
		zap.Int("quantity", quantity),
	)
	return nil
}

// loadInventory 按医院分组读取库存
func (r *HospitalRepository) loadInventory(ctx context.Context, where string, args ...interface{}) (map[string][]models.InventoryItem, error) {
	query := `
		SELECT hospital_id, blood_type, quantity, last_updated
		FROM hospital_inventory ` + where + `
		ORDER BY hospital_id, blood_type
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.InventoryItem)
	for rows.Next() {
		var hospitalID, bloodType string
		var item models.InventoryItem
		if err := rows.Scan(&hospitalID, &bloodType, &item.Quantity, &item.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		item.BloodType = models.BloodType(bloodType)
		out[hospitalID] = append(out[hospitalID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inventory: %w", err)
	}
	return out, nil
}

func scanHospital(row rowScanner) (*models.Hospital, error) {
	var h models.Hospital
	var email sql.NullString

	err := row.Scan(
		&h.HospitalID,
		&h.Name,
		&h.Address,
		&h.Location.Longitude,
		&h.Location.Latitude,
		&h.ContactPhone,
		&email,
		&h.IsVerified,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan hospital: %w", err)
	}
	if email.Valid {
		h.ContactEmail = &email.String
	}
	return &h, nil
}
