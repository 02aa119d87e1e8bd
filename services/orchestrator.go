package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/models"
	awspkg "fulfillment-service/pkg/aws"
	"fulfillment-service/repository"

	"go.uber.org/zap"
)

// Effect names are part of the idempotency key; renaming one re-runs it for redelivered events.
const (
	EffectMarkPurchasePaid      = "mark_purchase_paid"
	EffectRecordCustomer        = "record_customer"
	EffectSendPurchaseConfirm   = "send_purchase_confirmation"
	EffectEnrollPrintUpsell     = "enroll_print_upsell"
	EffectConvertLead           = "convert_lead"
	EffectConvertPrintUpsell    = "convert_print_upsell"
	EffectSendPrintConfirmation = "send_print_confirmation"
	EffectFulfillPrint          = "fulfill_print"
	EffectMarkPurchaseExpired   = "mark_purchase_expired"
	EffectRecordRefund          = "record_refund"
	EffectAlertRefund           = "alert_refund"
	EffectRecordDispute         = "record_dispute"
	EffectAlertDispute          = "alert_dispute"
	EffectAlertPaymentFailed    = "alert_payment_failed"
)

// PrintFulfiller is the part of PrintFulfillmentService the orchestrator needs.
type PrintFulfiller interface {
	Fulfill(ctx context.Context, req PrintRequest) (*models.PrintOrder, error)
}

// DripEnroller is the part of SchedulerService the orchestrator needs.
type DripEnroller interface {
	Enroll(ctx context.Context, req EnrollRequest) (*models.Recipient, error)
	MarkConverted(ctx context.Context, email, sequence string) (int64, error)
}

// Orchestrator turns a verified payment event into its side effects. Each effect is
// independent and idempotent per event; failures are collected, never short-circuit.
type Orchestrator struct {
	effects   *EffectRunner
	purchases repository.PurchaseRepository
	customers repository.CustomerRepository
	drips     DripEnroller
	prints    PrintFulfiller
	notifier  *Notifier
	alerts    Alerter
	metrics   MetricsRecorder
	logger    *zap.Logger
}

func NewOrchestrator(
	effects *EffectRunner,
	purchases repository.PurchaseRepository,
	customers repository.CustomerRepository,
	drips DripEnroller,
	prints PrintFulfiller,
	notifier *Notifier,
	alerts Alerter,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *Orchestrator {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Orchestrator{
		effects:   effects,
		purchases: purchases,
		customers: customers,
		drips:     drips,
		prints:    prints,
		notifier:  notifier,
		alerts:    alerts,
		metrics:   metrics,
		logger:    logger,
	}
}

type effect struct {
	name string
	fn   func(ctx context.Context) error
}

// Dispatch runs every effect for the event and returns the joined effect errors.
func (o *Orchestrator) Dispatch(ctx context.Context, evt *PaymentEvent) error {
	_ = o.metrics.RecordCount(ctx, awspkg.MetricWebhookEvents, map[string]string{"Kind": string(evt.Kind)})

	var plan []effect
	switch evt.Kind {
	case EventPaymentCompleted:
		if evt.ProductType == ProductPrint {
			plan = o.printPurchaseEffects(evt)
		} else {
			plan = o.digitalPurchaseEffects(evt)
		}
	case EventPaymentExpired:
		plan = []effect{{EffectMarkPurchaseExpired, func(ctx context.Context) error {
			if evt.ArtifactID == "" {
				return nil
			}
			changed, err := o.purchases.MarkExpired(ctx, evt.ArtifactID)
			if err == nil && changed {
				o.logger.Info("purchase expired", zap.String("artifact_id", evt.ArtifactID))
			}
			return err
		}}}
	case EventChargeRefunded:
		plan = []effect{
			{EffectRecordRefund, func(ctx context.Context) error {
				if evt.ArtifactID == "" {
					return nil
				}
				_, err := o.purchases.RecordRefund(ctx, evt.ArtifactID, evt.Created)
				return err
			}},
			{EffectAlertRefund, o.alertEffect(evt, models.AlertChargeRefunded, "charge refunded")},
		}
	case EventDisputeCreated:
		plan = []effect{
			{EffectRecordDispute, func(ctx context.Context) error {
				if evt.ArtifactID == "" {
					return nil
				}
				_, err := o.purchases.RecordDispute(ctx, evt.ArtifactID, evt.Created)
				return err
			}},
			{EffectAlertDispute, o.alertEffect(evt, models.AlertDisputeCreated, "dispute opened: "+evt.Reason)},
		}
	case EventPaymentFailed:
		plan = []effect{{EffectAlertPaymentFailed, o.alertEffect(evt, models.AlertPaymentFailed, "payment failed: "+evt.Reason)}}
	default:
		o.logger.Info("Unhandled webhook event type",
			zap.String("event_id", evt.ID),
			zap.String("type", evt.GatewayType),
		)
		return nil
	}

	var errs []error
	for _, e := range plan {
		if err := o.effects.RunOnce(ctx, evt.ID, e.name, e.fn); err != nil {
			o.logger.Error("effect failed",
				zap.String("event_id", evt.ID),
				zap.String("effect", e.name),
				zap.String("artifact_id", evt.ArtifactID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) digitalPurchaseEffects(evt *PaymentEvent) []effect {
	paidAt := evt.Created
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	return []effect{
		{EffectMarkPurchasePaid, func(ctx context.Context) error {
			if evt.ArtifactID == "" {
				return fmt.Errorf("%w: payment without artifact id", ErrMalformedEvent)
			}
			err := o.purchases.MarkPaid(ctx, evt.ArtifactID, evt.CustomerEmail, paidAt)
			if errors.Is(err, repository.ErrInvalidTransition) {
				o.logger.Warn("payment completed for expired purchase, leaving it expired",
					zap.String("event_id", evt.ID),
					zap.String("artifact_id", evt.ArtifactID),
				)
				return nil
			}
			return err
		}},
		{EffectRecordCustomer, o.recordCustomer(evt, paidAt)},
		{EffectSendPurchaseConfirm, func(ctx context.Context) error {
			_, err := o.notifier.Send(ctx, evt.CustomerEmail, "Your portrait is ready", TemplatePurchaseConfirmation, map[string]interface{}{
				"ArtifactID": evt.ArtifactID,
			})
			return err
		}},
		{EffectEnrollPrintUpsell, func(ctx context.Context) error {
			_, err := o.drips.Enroll(ctx, EnrollRequest{
				Email:      evt.CustomerEmail,
				Sequence:   models.SequencePrintUpsell,
				ArtifactID: evt.ArtifactID,
				EnrolledAt: paidAt,
			})
			return err
		}},
		{EffectConvertLead, o.convert(evt, models.SequenceLeadNurture)},
	}
}

func (o *Orchestrator) printPurchaseEffects(evt *PaymentEvent) []effect {
	paidAt := evt.Created
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	return []effect{
		{EffectRecordCustomer, o.recordCustomer(evt, paidAt)},
		{EffectConvertPrintUpsell, o.convert(evt, models.SequencePrintUpsell)},
		{EffectSendPrintConfirmation, func(ctx context.Context) error {
			_, err := o.notifier.Send(ctx, evt.CustomerEmail, "We received your canvas order", TemplatePrintConfirmation, map[string]interface{}{
				"ArtifactID": evt.ArtifactID,
				"OrderID":    evt.SessionID,
				"Size":       string(evt.PrintSize),
			})
			return err
		}},
		{EffectFulfillPrint, func(ctx context.Context) error {
			if evt.ShippingAddress == nil {
				return fmt.Errorf("%w: print purchase without shipping address", ErrInvalidPrintRequest)
			}
			_, err := o.prints.Fulfill(ctx, PrintRequest{
				CorrelationID: evt.SessionID,
				ArtifactID:    evt.ArtifactID,
				Size:          evt.PrintSize,
				CustomerEmail: evt.CustomerEmail,
				Address:       *evt.ShippingAddress,
			})
			return err
		}},
	}
}

func (o *Orchestrator) recordCustomer(evt *PaymentEvent, at time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if evt.CustomerEmail == "" {
			return ErrMissingEmail
		}
		return o.customers.Upsert(ctx, evt.CustomerEmail, evt.ArtifactID, at)
	}
}

func (o *Orchestrator) convert(evt *PaymentEvent, sequence string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if evt.CustomerEmail == "" {
			return nil
		}
		_, err := o.drips.MarkConverted(ctx, evt.CustomerEmail, sequence)
		return err
	}
}

func (o *Orchestrator) alertEffect(evt *PaymentEvent, typ models.AlertType, msg string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if o.alerts == nil {
			return nil
		}
		return o.alerts.Publish(ctx, models.OpsAlert{
			Type:       typ,
			EventID:    evt.ID,
			ResourceID: evt.SessionID,
			Message:    msg,
			Details: map[string]string{
				"artifact_id": evt.ArtifactID,
				"amount":      fmt.Sprintf("%d %s", evt.AmountTotal, evt.Currency),
			},
		})
	}
}
