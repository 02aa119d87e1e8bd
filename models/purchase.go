package models

import "time"

type PurchaseStatus string

const (
	PurchaseStatusPending PurchaseStatus = "pending"
	PurchaseStatusPaid    PurchaseStatus = "paid"
	PurchaseStatusExpired PurchaseStatus = "expired"
)

// PurchaseRecord tracks whether the digital artifact with the given id has been paid for.
// Status only ever moves pending→paid or pending→expired.
type PurchaseRecord struct {
	ID            string         `gorm:"primaryKey;type:varchar(128)" json:"id"`
	CustomerEmail *string        `gorm:"type:varchar(320);index" json:"customer_email,omitempty"`
	Status        PurchaseStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
	RefundedAt    *time.Time     `json:"refunded_at,omitempty"`
	DisputedAt    *time.Time     `json:"disputed_at,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *PurchaseRecord) IsPaid() bool {
	return p != nil && p.Status == PurchaseStatusPaid
}

// Customer is the first-class record of a buyer, keyed by email.
type Customer struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email           string    `gorm:"type:varchar(320);uniqueIndex;not null" json:"email"`
	FirstArtifactID string    `gorm:"type:varchar(128)" json:"first_artifact_id"`
	FirstPurchaseAt time.Time `json:"first_purchase_at"`
	LastPurchaseAt  time.Time `json:"last_purchase_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
