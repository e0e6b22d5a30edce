package models

import "time"

// Hospital 医院（对应 hospitals 表 + hospital_inventory 表）
type Hospital struct {
	HospitalID   string          `json:"hospital_id" db:"hospital_id"`
	Name         string          `json:"name" db:"name"`
	Address      string          `json:"address" db:"address"`
	Location     Point           `json:"location"`
	ContactPhone string          `json:"contact_phone" db:"contact_phone"`
	ContactEmail *string         `json:"contact_email,omitempty" db:"contact_email"`
	IsVerified   bool            `json:"is_verified" db:"is_verified"`
	Inventory    []InventoryItem `json:"blood_inventory"`
}

// InventoryItem 某一血型的库存（每个血型至多一条）
type InventoryItem struct {
	BloodType   BloodType `json:"blood_type" db:"blood_type"`
	Quantity    int       `json:"quantity" db:"quantity"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// Stock 返回该血型当前库存，无记录为 0
func (h *Hospital) Stock(bloodType BloodType) int {
	for _, item := range h.Inventory {
		if item.BloodType == bloodType {
			return item.Quantity
		}
	}
	return 0
}
