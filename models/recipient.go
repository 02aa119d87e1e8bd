package models

import "time"

const (
	SequencePrintUpsell = "print_upsell"
	SequenceLeadNurture = "lead_nurture"
)

// Recipient is one email address enrolled in one drip sequence.
type Recipient struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email        string     `gorm:"type:varchar(320);not null;uniqueIndex:idx_recipient_email_sequence" json:"email"`
	Sequence     string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_recipient_email_sequence;index:idx_recipient_cohort,priority:1" json:"sequence"`
	ArtifactID   string     `gorm:"type:varchar(128)" json:"artifact_id,omitempty"`
	EnrolledAt   time.Time  `gorm:"not null;index:idx_recipient_cohort,priority:3" json:"enrolled_at"`
	LastStepSent int        `gorm:"not null" json:"last_step_sent"`
	LastSentAt   *time.Time `json:"last_sent_at,omitempty"`
	HasConverted bool       `gorm:"not null;index:idx_recipient_cohort,priority:2" json:"has_converted"`
	ConvertedAt  *time.Time `json:"converted_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
