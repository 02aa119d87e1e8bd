package models

import "time"

// IdempotencyRecord marks that a named effect completed for a gateway event.
type IdempotencyRecord struct {
	EffectName  string    `gorm:"primaryKey;type:varchar(64)" json:"effect_name" dynamodbav:"effect_name"`
	EventID     string    `gorm:"primaryKey;type:varchar(128)" json:"event_id" dynamodbav:"event_id"`
	CompletedAt time.Time `gorm:"not null" json:"completed_at" dynamodbav:"completed_at"`
}
