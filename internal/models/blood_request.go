package models

import (
	"time"
)

// RequestStatus 用血请求状态
type RequestStatus string

const (
	StatusPending            RequestStatus = "pending"
	StatusFulfilled          RequestStatus = "fulfilled"
	StatusPartiallyFulfilled RequestStatus = "partially-fulfilled"
	StatusCancelled          RequestStatus = "cancelled"
	StatusExpired            RequestStatus = "expired"
)

// Valid 是否为合法状态
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusFulfilled, StatusPartiallyFulfilled, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal fulfilled/cancelled/expired 为终态
func (s RequestStatus) Terminal() bool {
	return s == StatusFulfilled || s == StatusCancelled || s == StatusExpired
}

// StampsFulfillment 迁移到该状态时需要记录 fulfilled_at
func (s RequestStatus) StampsFulfillment() bool {
	return s == StatusFulfilled || s == StatusPartiallyFulfilled
}

// Response 献血者回复三态
type Response string

const (
	ResponsePending  Response = "pending"
	ResponsePositive Response = "positive"
	ResponseNegative Response = "negative"
)

// Valid 是否为合法回复
func (r Response) Valid() bool {
	return r == ResponsePending || r == ResponsePositive || r == ResponseNegative
}

const (
	MinRequestQuantity = 1
	MaxRequestQuantity = 10
)

// MatchAttempt 一次献血者通知记录（对应 request_matches 表）
type MatchAttempt struct {
	DonorID    string    `json:"donor_id" db:"donor_id"`
	NotifiedAt time.Time `json:"notified_at" db:"notified_at"`
	Responded  bool      `json:"responded" db:"responded"`
	Donated    bool      `json:"donated" db:"donated"`
	Response   Response  `json:"response" db:"response"`
}

// BloodRequest 用血请求（对应 blood_requests 表）
type BloodRequest struct {
	RequestID     string         `json:"request_id" db:"request_id"`
	HospitalID    string         `json:"hospital_id" db:"hospital_id"`
	BloodType     BloodType      `json:"blood_type" db:"blood_type"`
	Quantity      int            `json:"quantity" db:"quantity"`
	Urgency       Urgency        `json:"urgency" db:"urgency"`
	Status        RequestStatus  `json:"status" db:"status"`
	RequiredBy    time.Time      `json:"required_by" db:"required_by"`
	Notes         *string        `json:"notes,omitempty" db:"notes"`
	FulfilledAt   *time.Time     `json:"fulfilled_at,omitempty" db:"fulfilled_at"`
	Version       int64          `json:"version" db:"version"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
	MatchAttempts []MatchAttempt `json:"matched_donors"`
}

// MatchableRequest 待匹配请求 + 医院名称与位置
type MatchableRequest struct {
	BloodRequest
	HospitalName     string `json:"hospital_name"`
	HospitalLocation Point  `json:"hospital_location"`
}

// PositiveCount 回复 positive 的数量
func (r *BloodRequest) PositiveCount() int {
	n := 0
	for _, m := range r.MatchAttempts {
		if m.Response == ResponsePositive {
			n++
		}
	}
	return n
}

// DonatedCount 已完成献血的数量
func (r *BloodRequest) DonatedCount() int {
	n := 0
	for _, m := range r.MatchAttempts {
		if m.Donated {
			n++
		}
	}
	return n
}

// NotifiedDonorIDs 已通知过的献血者
func (r *BloodRequest) NotifiedDonorIDs() []string {
	ids := make([]string, 0, len(r.MatchAttempts))
	for _, m := range r.MatchAttempts {
		ids = append(ids, m.DonorID)
	}
	return ids
}

// IsExpired pending 且已过 required_by
func (r *BloodRequest) IsExpired(now time.Time) bool {
	return r.Status == StatusPending && r.RequiredBy.Before(now)
}

// ValidateNewRequest 创建前校验
func (r *BloodRequest) ValidateNewRequest(now time.Time) error {
	if r.HospitalID == "" {
		return &ValidationError{Field: "hospital_id", Message: "is required"}
	}
	if !r.BloodType.Valid() {
		return &ValidationError{Field: "blood_type", Message: "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-"}
	}
	if r.Quantity < MinRequestQuantity || r.Quantity > MaxRequestQuantity {
		return &ValidationError{Field: "quantity", Message: "must be between 1 and 10"}
	}
	if r.Urgency == "" {
		r.Urgency = UrgencyMedium
	}
	if !r.Urgency.Valid() {
		return &ValidationError{Field: "urgency", Message: "must be one of low, medium, high, critical"}
	}
	if !r.RequiredBy.After(now) {
		return &ValidationError{Field: "required_by", Message: "must be in the future"}
	}
	return nil
}

// ValidateTransition 状态迁移校验：终态不可再变更
func ValidateTransition(from, to RequestStatus) error {
	if !to.Valid() {
		return &ValidationError{Field: "status", Message: "unknown status " + string(to)}
	}
	if from.Terminal() && from != to {
		return &ValidationError{Field: "status", Message: "request is already " + string(from)}
	}
	return nil
}
