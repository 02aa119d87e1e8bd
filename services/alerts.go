package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-service/models"
	awspkg "fulfillment-service/pkg/aws"

	"go.uber.org/zap"
)

// Alerter notifies operators about conditions that need a human.
type Alerter interface {
	Publish(ctx context.Context, alert models.OpsAlert) error
}

// SNSAlerter publishes alerts to the ops topic. With no topic configured it only logs.
type SNSAlerter struct {
	publisher awspkg.SNSPublisher
	topicArn  string
	logger    *zap.Logger
}

func NewSNSAlerter(publisher awspkg.SNSPublisher, topicArn string, logger *zap.Logger) *SNSAlerter {
	return &SNSAlerter{publisher: publisher, topicArn: topicArn, logger: logger}
}

func (a *SNSAlerter) Publish(ctx context.Context, alert models.OpsAlert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	a.logger.Warn("ops alert",
		zap.String("type", string(alert.Type)),
		zap.String("resource_id", alert.ResourceID),
		zap.String("event_id", alert.EventID),
		zap.String("message", alert.Message),
	)
	if a.publisher == nil || a.topicArn == "" {
		return nil
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return a.publisher.Publish(ctx, a.topicArn, body)
}
