package models

import "time"

// Donor 献血者（对应 donors 表）
type Donor struct {
	DonorID          string     `json:"donor_id" db:"donor_id"`
	Name             string     `json:"name" db:"name"`
	Phone            string     `json:"phone" db:"phone"`
	BloodType        BloodType  `json:"blood_type" db:"blood_type"`
	Location         Point      `json:"location"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	LastDonationDate *time.Time `json:"last_donation_date,omitempty" db:"last_donation_date"`
	DonationCount    int        `json:"donation_count" db:"donation_count"`
	RegisteredAt     time.Time  `json:"registered_at" db:"registered_at"`
}

// CandidateQuery GeoDirectory 查询条件
type CandidateQuery struct {
	BloodType         BloodType
	Origin            Point
	MaxDistanceMeters float64
	ExcludeDonorIDs   []string
	Limit             int
}
