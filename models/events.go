package models

import "time"

type AlertType string

const (
	AlertPrintOrderStuck  AlertType = "print_order.stuck"
	AlertPrintOrderFailed AlertType = "print_order.failed"
	AlertChargeRefunded   AlertType = "charge.refunded"
	AlertDisputeCreated   AlertType = "charge.dispute_created"
	AlertPaymentFailed    AlertType = "payment.failed"
)

// OpsAlert is published to the ops SNS topic when something needs a human.
type OpsAlert struct {
	Type       AlertType         `json:"type"`
	EventID    string            `json:"event_id,omitempty"`
	ResourceID string            `json:"resource_id,omitempty"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// LeadCapturedMessage is the SQS body emitted by the web front-end when a visitor leaves an email.
type LeadCapturedMessage struct {
	Email      string    `json:"email" validate:"required,email"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}
