package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type PrintOrderStatus string

const (
	PrintOrderStatusPending        PrintOrderStatus = "pending"
	PrintOrderStatusImageUploaded  PrintOrderStatus = "image_uploaded"
	PrintOrderStatusProductCreated PrintOrderStatus = "product_created"
	PrintOrderStatusCreated        PrintOrderStatus = "created"
	PrintOrderStatusProduction     PrintOrderStatus = "production"
	PrintOrderStatusShipped        PrintOrderStatus = "shipped"
	PrintOrderStatusFailed         PrintOrderStatus = "failed"
)

type PrintSize string

const (
	PrintSize8x10  PrintSize = "8x10"
	PrintSize12x16 PrintSize = "12x16"
	PrintSize16x20 PrintSize = "16x20"
	PrintSize18x24 PrintSize = "18x24"
	PrintSize24x36 PrintSize = "24x36"
)

func (s PrintSize) Valid() bool {
	switch s {
	case PrintSize8x10, PrintSize12x16, PrintSize16x20, PrintSize18x24, PrintSize24x36:
		return true
	}
	return false
}

// Address is the shipping snapshot captured at checkout. It is stored as JSONB and never edited.
type Address struct {
	Name       string `json:"name" validate:"required"`
	Street1    string `json:"street1" validate:"required"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
}

func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *Address) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*a = Address{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	}
	return errors.New("address: unsupported scan type")
}

// PrintOrder is a physical canvas print driven through the print provider.
// Each provider id is written once; a populated field means its step already ran.
type PrintOrder struct {
	ID                string           `gorm:"primaryKey;type:varchar(128)" json:"id"`
	ArtifactID        string           `gorm:"type:varchar(128);not null;index" json:"artifact_id"`
	CustomerEmail     string           `gorm:"type:varchar(320)" json:"customer_email,omitempty"`
	Size              PrintSize        `gorm:"type:varchar(16);not null" json:"size"`
	Status            PrintOrderStatus `gorm:"type:varchar(32);not null;index" json:"status"`
	ShippingAddress   Address          `gorm:"type:jsonb" json:"shipping_address"`
	ProviderImageID   *string          `gorm:"type:varchar(128)" json:"provider_image_id,omitempty"`
	ProviderProductID *string          `gorm:"type:varchar(128)" json:"provider_product_id,omitempty"`
	ProviderOrderID   *string          `gorm:"type:varchar(128)" json:"provider_order_id,omitempty"`
	ProviderStatus    string           `gorm:"type:varchar(64)" json:"provider_status,omitempty"`
	TrackingNumber    string           `gorm:"type:varchar(128)" json:"tracking_number,omitempty"`
	FailureReason     string           `gorm:"type:text" json:"failure_reason,omitempty"`
	SubmittedAt       *time.Time       `json:"submitted_at,omitempty"`
	ShippedAt         *time.Time       `json:"shipped_at,omitempty"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *PrintOrder) HasProviderOrder() bool {
	return o.ProviderOrderID != nil && *o.ProviderOrderID != ""
}
