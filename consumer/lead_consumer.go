package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"fulfillment-service/models"
	"fulfillment-service/repository"
	"fulfillment-service/services"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// LeadEnroller is implemented by *services.SchedulerService.
type LeadEnroller interface {
	Enroll(ctx context.Context, req services.EnrollRequest) (*models.Recipient, error)
}

// LeadConsumer turns lead-captured messages into lead_nurture enrollments.
type LeadConsumer struct {
	enroller  LeadEnroller
	customers repository.CustomerRepository
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewLeadConsumer(enroller LeadEnroller, customers repository.CustomerRepository, logger *zap.Logger) *LeadConsumer {
	return &LeadConsumer{
		enroller:  enroller,
		customers: customers,
		validate:  validator.New(),
		logger:    logger,
	}
}

// snsEnvelope unwraps the SNS -> SQS message wrapper
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// Handle satisfies aws.MessageHandler. Malformed messages return nil so they are
// deleted; enrollment errors are returned so SQS redelivers.
func (c *LeadConsumer) Handle(ctx context.Context, body string) error {
	payload := body
	var envelope snsEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Type == "Notification" && envelope.Message != "" {
		payload = envelope.Message
	}

	var msg models.LeadCapturedMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		c.logger.Error("failed to unmarshal lead message", zap.Error(err))
		return nil
	}
	msg.Email = strings.ToLower(strings.TrimSpace(msg.Email))
	if err := c.validate.Struct(msg); err != nil {
		c.logger.Warn("dropping invalid lead message", zap.Error(err))
		return nil
	}

	// buyers are never nurtured as leads
	if c.customers != nil {
		if _, err := c.customers.FindByEmail(ctx, msg.Email); err == nil {
			c.logger.Info("lead is already a customer, skipping enrollment", zap.String("source", msg.Source))
			return nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}

	rec, err := c.enroller.Enroll(ctx, services.EnrollRequest{
		Email:         msg.Email,
		Sequence:      models.SequenceLeadNurture,
		ArtifactID:    msg.ArtifactID,
		EnrolledAt:    msg.CapturedAt,
		SendFirstStep: true,
	})
	if err != nil {
		c.logger.Error("failed to enroll lead", zap.Error(err))
		return err
	}
	c.logger.Info("lead enrolled",
		zap.String("recipient_id", rec.ID),
		zap.String("source", msg.Source),
		zap.Int("last_step_sent", rec.LastStepSent),
	)
	return nil
}
