package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/models"
	awspkg "fulfillment-service/pkg/aws"
	"fulfillment-service/providers"
	"fulfillment-service/repository"
	"fulfillment-service/storage"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// PrintRequest starts a physical print for a paid artifact. CorrelationID is the checkout
// session id and becomes the PrintOrder id.
type PrintRequest struct {
	CorrelationID string           `validate:"required"`
	ArtifactID    string           `validate:"required"`
	Size          models.PrintSize `validate:"required"`
	CustomerEmail string           `validate:"omitempty,email"`
	Address       models.Address
}

// PrintStatusReport pairs the stored order with the provider's view of it.
type PrintStatusReport struct {
	Order    *models.PrintOrder    `json:"order"`
	Provider providers.OrderStatus `json:"provider"`
}

// PrintFulfillmentService drives a print order through upload, product, order and
// production. Every step persists its output before the next one starts, so a
// retry resumes at the first step whose output is missing.
type PrintFulfillmentService struct {
	orders    repository.PrintOrderRepository
	purchases repository.PurchaseRepository
	provider  providers.PrintProvider
	store     storage.ObjectStore
	notifier  *Notifier
	alerts    Alerter
	metrics   MetricsRecorder
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

func NewPrintFulfillmentService(
	orders repository.PrintOrderRepository,
	purchases repository.PurchaseRepository,
	provider providers.PrintProvider,
	store storage.ObjectStore,
	notifier *Notifier,
	alerts Alerter,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *PrintFulfillmentService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &PrintFulfillmentService{
		orders:    orders,
		purchases: purchases,
		provider:  provider,
		store:     store,
		notifier:  notifier,
		alerts:    alerts,
		metrics:   metrics,
		validate:  validator.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// Fulfill creates the order on first call and advances it as far as possible.
func (s *PrintFulfillmentService) Fulfill(ctx context.Context, req PrintRequest) (*models.PrintOrder, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrintRequest, err)
	}
	if !req.Size.Valid() {
		return nil, fmt.Errorf("%w: unsupported size %q", ErrInvalidPrintRequest, req.Size)
	}

	order, err := s.orders.CreateIfAbsent(ctx, &models.PrintOrder{
		ID:              req.CorrelationID,
		ArtifactID:      req.ArtifactID,
		CustomerEmail:   req.CustomerEmail,
		Size:            req.Size,
		Status:          models.PrintOrderStatusPending,
		ShippingAddress: req.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("create print order: %w", err)
	}
	return s.advance(ctx, order)
}

// Retry resumes a stored order from its last persisted step.
func (s *PrintFulfillmentService) Retry(ctx context.Context, id string) (*models.PrintOrder, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.advance(ctx, order)
}

func (s *PrintFulfillmentService) Get(ctx context.Context, id string) (*models.PrintOrder, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPrintOrderNotFound, id)
		}
		return nil, err
	}
	return order, nil
}

func (s *PrintFulfillmentService) advance(ctx context.Context, order *models.PrintOrder) (*models.PrintOrder, error) {
	switch order.Status {
	case models.PrintOrderStatusProduction, models.PrintOrderStatusShipped:
		return order, nil
	case models.PrintOrderStatusFailed:
		return order, fmt.Errorf("%w: %s", ErrPrintOrderFailed, order.FailureReason)
	}

	purchase, err := s.purchases.FindByID(ctx, order.ArtifactID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return order, fmt.Errorf("load purchase: %w", err)
	}
	if !purchase.IsPaid() {
		return s.fail(ctx, order, fmt.Sprintf("artifact %s has no paid purchase", order.ArtifactID), ErrPurchaseNotPaid)
	}

	if order.ProviderImageID == nil {
		imageURL, err := s.store.ArtifactURL(ctx, order.ArtifactID)
		if err != nil {
			if errors.Is(err, storage.ErrArtifactNotFound) {
				err = fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
			}
			return s.stuck(ctx, order, "resolve artifact", err)
		}
		imageID, err := s.provider.UploadImage(ctx, order.ArtifactID+".png", imageURL)
		if err != nil {
			return s.stuck(ctx, order, "upload image", err)
		}
		if err := s.transition(ctx, order, models.PrintOrderStatusPending, models.PrintOrderStatusImageUploaded,
			map[string]interface{}{"provider_image_id": imageID}); err != nil {
			return order, err
		}
		order.ProviderImageID = &imageID
	}

	if order.ProviderProductID == nil {
		productID, err := s.provider.CreateProduct(ctx, providers.CreateProductRequest{
			ArtifactID: order.ArtifactID,
			ImageID:    *order.ProviderImageID,
			Size:       order.Size,
		})
		if err != nil {
			return s.stuck(ctx, order, "create product", err)
		}
		if err := s.transition(ctx, order, models.PrintOrderStatusImageUploaded, models.PrintOrderStatusProductCreated,
			map[string]interface{}{"provider_product_id": productID}); err != nil {
			return order, err
		}
		order.ProviderProductID = &productID
	}

	if order.ProviderOrderID == nil {
		providerOrderID, err := s.provider.CreateOrder(ctx, providers.CreateOrderRequest{
			ExternalID: order.ID,
			ProductID:  *order.ProviderProductID,
			Size:       order.Size,
			Address:    order.ShippingAddress,
		})
		if err != nil {
			return s.stuck(ctx, order, "create order", err)
		}
		if err := s.transition(ctx, order, models.PrintOrderStatusProductCreated, models.PrintOrderStatusCreated,
			map[string]interface{}{"provider_order_id": providerOrderID}); err != nil {
			return order, err
		}
		order.ProviderOrderID = &providerOrderID
		_ = s.metrics.RecordCount(ctx, awspkg.MetricPrintOrdersCreated, map[string]string{"Size": string(order.Size)})
	}

	return s.submit(ctx, order)
}

// SubmitToProduction only performs the final step and requires status created.
func (s *PrintFulfillmentService) SubmitToProduction(ctx context.Context, id string) (*models.PrintOrder, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case models.PrintOrderStatusProduction, models.PrintOrderStatusShipped:
		return order, nil
	case models.PrintOrderStatusCreated:
		return s.submit(ctx, order)
	}
	return order, fmt.Errorf("%w: status is %s", ErrNotSubmittable, order.Status)
}

func (s *PrintFulfillmentService) submit(ctx context.Context, order *models.PrintOrder) (*models.PrintOrder, error) {
	if err := s.provider.SubmitToProduction(ctx, *order.ProviderOrderID); err != nil {
		return s.stuck(ctx, order, "submit to production", err)
	}
	submittedAt := s.now()
	if err := s.transition(ctx, order, models.PrintOrderStatusCreated, models.PrintOrderStatusProduction,
		map[string]interface{}{"submitted_at": submittedAt}); err != nil {
		return order, err
	}
	order.SubmittedAt = &submittedAt

	s.logger.Info("print order submitted to production",
		zap.String("print_order_id", order.ID),
		zap.String("provider_order_id", *order.ProviderOrderID),
	)
	return order, nil
}

// MarkShipped is the only way an order reaches shipped.
func (s *PrintFulfillmentService) MarkShipped(ctx context.Context, id, trackingNumber string) (*models.PrintOrder, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status == models.PrintOrderStatusShipped {
		return order, nil
	}
	if !order.HasProviderOrder() || order.Status == models.PrintOrderStatusFailed {
		return order, fmt.Errorf("%w: status is %s", ErrNotShippable, order.Status)
	}

	shippedAt := s.now()
	ok, err := s.orders.Transition(ctx, order.ID,
		[]models.PrintOrderStatus{models.PrintOrderStatusCreated, models.PrintOrderStatusProduction},
		map[string]interface{}{
			"status":          models.PrintOrderStatusShipped,
			"tracking_number": trackingNumber,
			"shipped_at":      shippedAt,
		})
	if err != nil {
		return order, fmt.Errorf("persist shipped: %w", err)
	}
	if !ok {
		return order, ErrStateConflict
	}
	order.Status = models.PrintOrderStatusShipped
	order.TrackingNumber = trackingNumber
	order.ShippedAt = &shippedAt

	if order.CustomerEmail != "" && s.notifier != nil {
		if _, err := s.notifier.Send(ctx, order.CustomerEmail, "Your canvas has shipped", TemplatePrintShipped, map[string]interface{}{
			"OrderID":        order.ID,
			"TrackingNumber": trackingNumber,
		}); err != nil {
			s.logger.Warn("shipped email failed", zap.String("print_order_id", order.ID), zap.Error(err))
		}
	}
	return order, nil
}

// RefreshStatus records the provider's status. It never moves the order to shipped.
func (s *PrintFulfillmentService) RefreshStatus(ctx context.Context, id string) (*PrintStatusReport, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.HasProviderOrder() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotShippable, order.Status)
	}

	status, err := s.provider.GetOrderStatus(ctx, *order.ProviderOrderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.orders.Transition(ctx, order.ID,
		[]models.PrintOrderStatus{models.PrintOrderStatusCreated, models.PrintOrderStatusProduction, models.PrintOrderStatusShipped},
		map[string]interface{}{"provider_status": status.Status}); err != nil {
		return nil, fmt.Errorf("persist provider status: %w", err)
	}
	order.ProviderStatus = status.Status
	return &PrintStatusReport{Order: order, Provider: status}, nil
}

// ListStuck returns orders that have not reached production within olderThan.
func (s *PrintFulfillmentService) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]models.PrintOrder, error) {
	return s.orders.ListStale(ctx, []models.PrintOrderStatus{
		models.PrintOrderStatusPending,
		models.PrintOrderStatusImageUploaded,
		models.PrintOrderStatusProductCreated,
		models.PrintOrderStatusCreated,
	}, s.now().Add(-olderThan), limit)
}

func (s *PrintFulfillmentService) transition(ctx context.Context, order *models.PrintOrder, from, to models.PrintOrderStatus, fields map[string]interface{}) error {
	fields["status"] = to
	ok, err := s.orders.Transition(ctx, order.ID, []models.PrintOrderStatus{from}, fields)
	if err != nil {
		return fmt.Errorf("persist %s: %w", to, err)
	}
	if !ok {
		return fmt.Errorf("%w: expected %s", ErrStateConflict, from)
	}
	order.Status = to
	return nil
}

// stuck leaves the order at its last persisted step and tells operators.
func (s *PrintFulfillmentService) stuck(ctx context.Context, order *models.PrintOrder, step string, cause error) (*models.PrintOrder, error) {
	_ = s.metrics.RecordCount(ctx, awspkg.MetricPrintOrdersStuck, map[string]string{"Step": step})
	s.logger.Error("print order step failed",
		zap.String("print_order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("step", step),
		zap.Error(cause),
	)
	s.alert(ctx, models.OpsAlert{
		Type:       models.AlertPrintOrderStuck,
		ResourceID: order.ID,
		Message:    fmt.Sprintf("print order stuck at %s: %s failed", order.Status, step),
		Details:    map[string]string{"error": cause.Error(), "artifact_id": order.ArtifactID},
	})
	return order, fmt.Errorf("%s: %w", step, cause)
}

// fail marks a domain-invariant violation. Failed orders are never retried automatically.
func (s *PrintFulfillmentService) fail(ctx context.Context, order *models.PrintOrder, reason string, cause error) (*models.PrintOrder, error) {
	_, err := s.orders.Transition(ctx, order.ID,
		[]models.PrintOrderStatus{order.Status},
		map[string]interface{}{"status": models.PrintOrderStatusFailed, "failure_reason": reason})
	if err != nil {
		s.logger.Error("failed to mark print order failed", zap.String("print_order_id", order.ID), zap.Error(err))
	} else {
		order.Status = models.PrintOrderStatusFailed
		order.FailureReason = reason
	}

	_ = s.metrics.RecordCount(ctx, awspkg.MetricPrintOrdersFailed, nil)
	s.alert(ctx, models.OpsAlert{
		Type:       models.AlertPrintOrderFailed,
		ResourceID: order.ID,
		Message:    reason,
		Details:    map[string]string{"artifact_id": order.ArtifactID},
	})
	return order, fmt.Errorf("%w: %s", cause, reason)
}

func (s *PrintFulfillmentService) alert(ctx context.Context, a models.OpsAlert) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Publish(ctx, a); err != nil {
		s.logger.Warn("failed to publish ops alert", zap.String("type", string(a.Type)), zap.Error(err))
	}
}
