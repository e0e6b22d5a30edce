package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

// DonorRepository 献血者仓库（按血型 + 地理位置检索候选人）
type DonorRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDonorRepository 创建献血者仓库
func NewDonorRepository(db *sql.DB, logger *zap.Logger) *DonorRepository {
	return &DonorRepository{
		db:     db,
		logger: logger,
	}
}

// donorColumns 献血者列，alias 为表别名前缀（如 "d."）
func donorColumns(alias string) string {
	return fmt.Sprintf(`
			%[1]sdonor_id,
			%[1]sname,
			%[1]sphone,
			%[1]sblood_type,
			%[1]slongitude,
			%[1]slatitude,
			%[1]sis_active,
			%[1]slast_donation_date,
			%[1]sdonation_count,
			%[1]sregistered_at`, alias)
}

// FindCandidates 查询半径内、未被排除的活跃同血型献血者
// 按 last_donation_date 升序（从未献血的排最前），同一日期按距离升序，截断到 Limit
// 没有候选人时返回空切片而不是错误
func (r *DonorRepository) FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.Donor, error) {
	if !q.BloodType.Valid() {
		return nil, &models.ValidationError{Field: "blood_type", Message: "unknown blood type " + string(q.BloodType)}
	}
	if !q.Origin.Valid() {
		return nil, &models.ValidationError{Field: "origin", Message: "coordinates out of range"}
	}
	if q.Limit <= 0 || q.MaxDistanceMeters <= 0 {
		return []models.Donor{}, nil
	}

	// nil 数组会被编码为 NULL，导致 ANY 判断全部为 NULL
	exclude := q.ExcludeDonorIDs
	if exclude == nil {
		exclude = []string{}
	}

	query := `
		SELECT` + donorColumns("c.") + `
		FROM (
			SELECT d.*,
				2 * 6371000 * asin(LEAST(1, sqrt(
					power(sin(radians(d.latitude - $2) / 2), 2) +
					cos(radians($2)) * cos(radians(d.latitude)) *
					power(sin(radians(d.longitude - $3) / 2), 2)
				))) AS distance_m
			FROM donors d
			WHERE d.blood_type = $1
			  AND d.is_active = TRUE
			  AND NOT (d.donor_id = ANY($4))
		) c
		WHERE c.distance_m <= $5
		ORDER BY c.last_donation_date ASC NULLS FIRST, c.distance_m ASC
		LIMIT $6
	`

	rows, err := r.db.QueryContext(ctx, query,
		string(q.BloodType),
		q.Origin.Latitude,
		q.Origin.Longitude,
		pq.Array(exclude),
		q.MaxDistanceMeters,
		q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate donors: %w", err)
	}
	defer rows.Close()

	donors := make([]models.Donor, 0, q.Limit)
	for rows.Next() {
		donor, err := scanDonor(rows)
		if err != nil {
			return nil, err
		}
		donors = append(donors, *donor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidate donors: %w", err)
	}

	r.logger.Debug("Candidate donors found",
		zap.String("blood_type", string(q.BloodType)),
		zap.Float64("max_distance_m", q.MaxDistanceMeters),
		zap.Int("excluded", len(exclude)),
		zap.Int("found", len(donors)),
	)

	return donors, nil
}

// GetDonor 根据 donor_id 获取献血者
func (r *DonorRepository) GetDonor(ctx context.Context, donorID string) (*models.Donor, error) {
	query := `SELECT` + donorColumns("") + ` FROM donors WHERE donor_id = $1`

	donor, err := scanDonor(r.db.QueryRowContext(ctx, query, donorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("donor not found: %s: %w", donorID, models.ErrNotFound)
		}
		return nil, err
	}
	return donor, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDonor(row rowScanner) (*models.Donor, error) {
	var d models.Donor
	var bloodType string
	var lastDonation sql.NullTime

	err := row.Scan(
		&d.DonorID,
		&d.Name,
		&d.Phone,
		&bloodType,
		&d.Location.Longitude,
		&d.Location.Latitude,
		&d.IsActive,
		&lastDonation,
		&d.DonationCount,
		&d.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan donor: %w", err)
	}

	d.BloodType = models.BloodType(bloodType)
	if lastDonation.Valid {
		t := lastDonation.Time
		d.LastDonationDate = &t
	}
	return &d, nil
}
