package controllers

import (
	"context"
	"io"
	"net/http"
	"time"

	commonmw "fulfillment-service/common/middleware"
	awspkg "fulfillment-service/pkg/aws"
	"fulfillment-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

// Dispatcher is implemented by *services.Orchestrator.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *services.PaymentEvent) error
}

type WebhookController struct {
	verifier        services.EventVerifier
	dispatcher      Dispatcher
	metrics         services.MetricsRecorder
	logger          *zap.Logger
	dispatchTimeout time.Duration
}

func NewWebhookController(verifier services.EventVerifier, dispatcher Dispatcher, metrics services.MetricsRecorder, logger *zap.Logger) *WebhookController {
	return &WebhookController{
		verifier:        verifier,
		dispatcher:      dispatcher,
		metrics:         metrics,
		logger:          logger,
		dispatchTimeout: 25 * time.Second,
	}
}

// StripeWebhook handles POST /webhooks/stripe. Once the signature checks out the
// gateway always gets a 200; effect failures are logged, alerted and retried from
// the next delivery.
func (wc *WebhookController) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	evt, err := wc.verifier.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		wc.recordRejected(c.Request.Context())
		wc.logger.Warn("Webhook rejected",
			zap.String("request_id", c.GetString(commonmw.RequestIDKey)),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	// a dropped connection must not abort half-run effects
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), wc.dispatchTimeout)
	defer cancel()

	if err := wc.dispatcher.Dispatch(ctx, evt); err != nil {
		wc.logger.Error("Webhook processed with errors",
			zap.String("event_id", evt.ID),
			zap.String("type", evt.GatewayType),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"status": "received", "event_id": evt.ID})
}

func (wc *WebhookController) recordRejected(ctx context.Context) {
	if wc.metrics == nil {
		return
	}
	_ = wc.metrics.RecordCount(ctx, awspkg.MetricWebhookRejected, nil)
}
