package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

// RequestRepository 用血请求仓库
// 匹配记录存放在 request_matches 表中，(request_id, donor_id) 唯一；
// blood_requests.version 用于追加匹配记录时的比较交换
type RequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequestRepository 创建用血请求仓库
func NewRequestRepository(db *sql.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `
			r.request_id,
			r.hospital_id,
			r.blood_type,
			r.quantity,
			r.urgency,
			r.status,
			r.required_by,
			r.notes,
			r.fulfilled_at,
			r.version,
			r.created_at,
			r.updated_at`

// ============================================
// 基础操作
// ============================================

// Create 创建用血请求（校验失败不会写入）
func (r *RequestRepository) Create(ctx context.Context, req *models.BloodRequest, now time.Time) error {
	if req == nil {
		return fmt.Errorf("request is required")
	}
	if err := req.ValidateNewRequest(now); err != nil {
		return err
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	req.Status = models.StatusPending
	req.Version = 0
	req.FulfilledAt = nil
	req.MatchAttempts = nil
	req.CreatedAt = now
	req.UpdatedAt = now

	query := `
		INSERT INTO blood_requests (
			request_id,
			hospital_id,
			blood_type,
			quantity,
			urgency,
			status,
			required_by,
			notes,
			version,
			created_at,
			updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10
		WHERE EXISTS (SELECT 1 FROM hospitals WHERE hospital_id = $2)
	`

	result, err := r.db.ExecContext(ctx, query,
		req.RequestID,
		req.HospitalID,
		string(req.BloodType),
		req.Quantity,
		string(req.Urgency),
		string(req.Status),
		req.RequiredBy,
		req.Notes,
		req.Version,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create blood request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("hospital not found: %s: %w", req.HospitalID, models.ErrNotFound)
	}

	r.logger.Info("Blood request created",
		zap.String("request_id", req.RequestID),
		zap.String("hospital_id", req.HospitalID),
		zap.String("blood_type", string(req.BloodType)),
		zap.Int("quantity", req.Quantity),
		zap.String("urgency", string(req.Urgency)),
	)
	return nil
}

// Get 根据 request_id 获取请求及匹配记录
func (r *RequestRepository) Get(ctx context.Context, requestID string) (*models.BloodRequest, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := `SELECT` + requestColumns + ` FROM blood_requests r WHERE r.request_id = $1`

	req, err := scanRequest(r.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("blood request not found: %s: %w", requestID, models.ErrNotFound)
		}
		return nil, err
	}

	matches, err := r.loadMatches(ctx, []string{requestID})
	if err != nil {
		return nil, err
	}
	req.MatchAttempts = matches[requestID]

	return req, nil
}

// ============================================
// 匹配引擎使用的操作
// ============================================

// ListMatchable 获取所有 pending 且未过期的请求（附带医院名称与位置、已有匹配记录）
// 截止时间早的排在前面
func (r *RequestRepository) ListMatchable(ctx context.Context, now time.Time) ([]models.MatchableRequest, error) {
	query := `
		SELECT` + requestColumns + `,
			h.name,
			h.longitude,
			h.latitude
		FROM blood_requests r
		JOIN hospitals h ON h.hospital_id = r.hospital_id
		WHERE r.status = 'pending'
		  AND r.required_by > $1
		ORDER BY r.required_by ASC, r.created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending requests: %w", err)
	}
	defer rows.Close()

	var out []models.MatchableRequest
	var ids []string
	for rows.Next() {
		var m models.MatchableRequest
		if err := scanRequestInto(rows, &m.BloodRequest,
			&m.HospitalName,
			&m.HospitalLocation.Longitude,
			&m.HospitalLocation.Latitude,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
		ids = append(ids, m.RequestID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending requests: %w", err)
	}

	matches, err := r.loadMatches(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].MatchAttempts = matches[out[i].RequestID]
	}

	return out, nil
}

// AppendMatches 在一个事务内追加匹配记录
// 1. version 比较交换：请求在读取后被修改（或不再是 pending）则回滚并返回 ErrConcurrentModification
// 2. 批量插入，已存在的 (request_id, donor_id) 被忽略
// 返回实际插入的 donor_id（只应通知这些献血者）
func (r *RequestRepository) AppendMatches(ctx context.Context, requestID string, expectedVersion int64, donorIDs []string, notifiedAt time.Time) ([]string, error) {
	if len(donorIDs) == 0 {
		return []string{}, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE blood_requests
		SET version = version + 1,
			updated_at = $3
		WHERE request_id = $1
		  AND version = $2
		  AND status = 'pending'
	`, requestID, expectedVersion, notifiedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to bump request version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("request %s changed since version %d: %w", requestID, expectedVersion, models.ErrConcurrentModification)
	}

	rows, err := tx.QueryContext(ctx, `
		INSERT INTO request_matches (request_id, donor_id, notified_at, responded, donated, response)
		SELECT $1, d.donor_id, $3, FALSE, FALSE, 'pending'
		FROM unnest($2::text[]) WITH ORDINALITY AS d(donor_id, ord)
		ORDER BY d.ord
		ON CONFLICT (request_id, donor_id) DO NOTHING
		RETURNING donor_id
	`, requestID, pq.Array(donorIDs), notifiedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert match attempts: %w", err)
	}

	inserted := make([]string, 0, len(donorIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan inserted donor: %w", err)
		}
		inserted = append(inserted, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate inserted donors: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit match attempts: %w", err)
	}

	return inserted, nil
}

// ExpirePending 将已过 required_by 的 pending 请求标记为 expired
func (r *RequestRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE blood_requests
		SET status = 'expired',
			updated_at = $1,
			version = version + 1
		WHERE status = 'pending'
		  AND required_by < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire requests: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}

// ============================================
// 状态与回复
// ============================================

// UpdateStatus 更新请求状态，返回更新前的状态
// fulfilled / partially-fulfilled 只在第一次时记录 fulfilled_at
func (r *RequestRepository) UpdateStatus(ctx context.Context, requestID string, status models.RequestStatus, now time.Time) (models.RequestStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM blood_requests WHERE request_id = $1 FOR UPDATE`, requestID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("blood request not found: %s: %w", requestID, models.ErrNotFound)
		}
		return "", fmt.Errorf("failed to read request status: %w", err)
	}

	previous := models.RequestStatus(current)
	if err := models.ValidateTransition(previous, status); err != nil {
		return previous, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE blood_requests
		SET status = $2,
			fulfilled_at = CASE WHEN $3::boolean THEN COALESCE(fulfilled_at, $4) ELSE fulfilled_at END,
			updated_at = $4,
			version = version + 1
		WHERE request_id = $1
	`, requestID, string(status), status.StampsFulfillment(), now)
	if err != nil {
		return previous, fmt.Errorf("failed to update request status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return previous, fmt.Errorf("failed to commit status update: %w", err)
	}

	r.logger.Info("Blood request status updated",
		zap.String("request_id", requestID),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
	)
	return previous, nil
}

// RecordResponse 记录献血者回复；donated=true 时同时推进献血者的 last_donation_date
func (r *RequestRepository) RecordResponse(ctx context.Context, requestID, donorID string, response models.Response, donated bool, now time.Time) error {
	if !response.Valid() {
		return &models.ValidationError{Field: "response", Message: "must be one of pending, positive, negative"}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var alreadyDonated bool
	err = tx.QueryRowContext(ctx, `
		SELECT donated FROM request_matches
		WHERE request_id = $1 AND donor_id = $2
		FOR UPDATE
	`, requestID, donorID).Scan(&alreadyDonated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("match attempt not found: request=%s donor=%s: %w", requestID, donorID, models.ErrNotFound)
		}
		return fmt.Errorf("failed to read match attempt: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE request_matches
		SET response = $3,
			responded = $4,
			donated = donated OR $5
		WHERE request_id = $1 AND donor_id = $2
	`, requestID, donorID, string(response), response != models.ResponsePending, donated)
	if err != nil {
		return fmt.Errorf("failed to update match attempt: %w", err)
	}

	if donated && !alreadyDonated {
		_, err = tx.ExecContext(ctx, `
			UPDATE donors
			SET last_donation_date = $2,
				donation_count = donation_count + 1
			WHERE donor_id = $1
		`, donorID, now)
		if err != nil {
			return fmt.Errorf("failed to update donor donation date: %w", err)
		}
	}

	// 递增 version，使并发的匹配追加感知到变更
	_, err = tx.ExecContext(ctx, `
		UPDATE blood_requests
		SET version = version + 1,
			updated_at = $2
		WHERE request_id = $1
	`, requestID, now)
	if err != nil {
		return fmt.Errorf("failed to bump request version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit response: %w", err)
	}

	r.logger.Info("Donor response recorded",
		zap.String("request_id", requestID),
		zap.String("donor_id", donorID),
		zap.String("response", string(response)),
		zap.Bool("donated", donated),
	)
	return nil
}

// ListPositiveResponders 获取回复 positive 的献血者（按通知顺序）
func (r *RequestRepository) ListPositiveResponders(ctx context.Context, requestID string) ([]models.Donor, error) {
	query := `
		SELECT` + donorColumns("d.") + `
		FROM request_matches m
		JOIN donors d ON d.donor_id = m.donor_id
		WHERE m.request_id = $1
		  AND m.response = 'positive'
		ORDER BY m.seq
	`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positive responders: %w", err)
	}
	defer rows.Close()

	var donors []models.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, err
		}
		donors = append(donors, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positive responders: %w", err)
	}
	return donors, nil
}

// ============================================
// 历史统计（短缺预测使用）
// ============================================

// DailyUsage 统计 since 之后 fulfilled/partially-fulfilled 请求按 UTC 自然日汇总的用量
func (r *RequestRepository) DailyUsage(ctx context.Context, hospitalID string, bloodType models.BloodType, since time.Time) ([]models.DailyUsage, error) {
	query := `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day,
			SUM(quantity) AS units
		FROM blood_requests
		WHERE hospital_id = $1
		  AND blood_type = $2
		  AND status IN ('fulfilled', 'partially-fulfilled')
		  AND created_at >= $3
		GROUP BY day
		ORDER BY day
	`

	rows, err := r.db.QueryContext(ctx, query, hospitalID, string(bloodType), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var usage []models.DailyUsage
	for rows.Next() {
		var u models.DailyUsage
		if err := rows.Scan(&u.Day, &u.Units); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily usage: %w", err)
	}
	return usage, nil
}

// CountRequests 统计 [from, to) 内创建的请求数量（不区分状态）
func (r *RequestRepository) CountRequests(ctx context.Context, hospitalID string, bloodType models.BloodType, from, to time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM blood_requests
		WHERE hospital_id = $1
		  AND blood_type = $2
		  AND created_at >= $3
		  AND created_at < $4
	`, hospitalID, string(bloodType), from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return count, nil
}

// loadMatches 批量读取匹配记录，按 request_id 分组并保持插入顺序
func (r *RequestRepository) loadMatches(ctx context.Context, requestIDs []string) (map[string][]models.MatchAttempt, error) {
	out := make(map[string][]models.MatchAttempt, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT request_id, donor_id, notified_at, responded, donated, response
		FROM request_matches
		WHERE request_id = ANY($1)
		ORDER BY request_id, seq
	`, pq.Array(requestIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query match attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var requestID, response string
		var m models.MatchAttempt
		if err := rows.Scan(&requestID, &m.DonorID, &m.NotifiedAt, &m.Responded, &m.Donated, &response); err != nil {
			return nil, fmt.Errorf("failed to scan match attempt: %w", err)
		}
		m.Response = models.Response(response)
		out[requestID] = append(out[requestID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate match attempts: %w", err)
	}
	return out, nil
}

func scanRequest(row rowScanner) (*models.BloodRequest, error) {
	var req models.BloodRequest
	if err := scanRequestInto(row, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// scanRequestInto 扫描请求列，extra 为追加在请求列之后的列
func scanRequestInto(row rowScanner, req *models.BloodRequest, extra ...interface{}) error {
	var bloodType, urgency, status string
	var notes sql.NullString
	var fulfilledAt sql.NullTime

	dest := []interface{}{
		&req.RequestID,
		&req.HospitalID,
		&bloodType,
		&req.Quantity,
		&urgency,
		&status,
		&req.RequiredBy,
		&notes,
		&fulfilledAt,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("failed to scan blood request: %w", err)
	}

	req.BloodType = models.BloodType(bloodType)
	req.Urgency = models.Urgency(urgency)
	req.Status = models.RequestStatus(status)
	if notes.Valid {
		req.Notes = &notes.String
	}
	if fulfilledAt.Valid {
		t := fulfilledAt.Time
		req.FulfilledAt = &t
	}
	return nil
}
