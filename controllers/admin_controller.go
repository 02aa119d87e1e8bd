package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "fulfillment-service/common/errors"
	"fulfillment-service/middleware"
	"fulfillment-service/models"
	"fulfillment-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PrintOperations is implemented by *services.PrintFulfillmentService.
type PrintOperations interface {
	Get(ctx context.Context, id string) (*models.PrintOrder, error)
	Retry(ctx context.Context, id string) (*models.PrintOrder, error)
	SubmitToProduction(ctx context.Context, id string) (*models.PrintOrder, error)
	MarkShipped(ctx context.Context, id, trackingNumber string) (*models.PrintOrder, error)
	RefreshStatus(ctx context.Context, id string) (*services.PrintStatusReport, error)
	ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]models.PrintOrder, error)
}

// DripOperations is implemented by *services.SchedulerService.
type DripOperations interface {
	Run(ctx context.Context, sequenceName string) (services.RunReport, error)
	RunAll(ctx context.Context) ([]services.RunReport, error)
	MarkConverted(ctx context.Context, email, sequence string) (int64, error)
}

type AdminController struct {
	prints PrintOperations
	drips  DripOperations
	logger *zap.Logger
}

func NewAdminController(prints PrintOperations, drips DripOperations, logger *zap.Logger) *AdminController {
	return &AdminController{prints: prints, drips: drips, logger: logger}
}

type markShippedRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

type convertRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Sequence string `json:"sequence"`
}

// GetPrintOrder handles GET /admin/print-orders/:id
func (ac *AdminController) GetPrintOrder(c *gin.Context) {
	order, err := ac.prints.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"print_order": order})
}

// ListStuckPrintOrders handles GET /admin/print-orders/stuck?older_than=2h&limit=50
func (ac *AdminController) ListStuckPrintOrders(c *gin.Context) {
	olderThan, err := time.ParseDuration(c.DefaultQuery("older_than", "2h"))
	if err != nil || olderThan < 0 {
		c.Error(apperrors.BadRequest("older_than must be a duration like 2h", err))
		return
	}
	limit := 50
	if l, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	orders, err := ac.prints.ListStuck(c.Request.Context(), olderThan, limit)
	if err != nil {
		c.Error(mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"print_orders": orders, "count": len(orders)})
}

// RetryPrintOrder handles POST /admin/print-orders/:id/retry
func (ac *AdminController) RetryPrintOrder(c *gin.Context) {
	ac.audit(c, "retry")
	order, err := ac.prints.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"print_order": order})
}

// SubmitPrintOrder handles POST /admin/print-orders/:id/submit
func (ac *AdminController) SubmitPrintOrder(c *gin.Context) {
	ac.audit(c, "submit")
	order, err := ac.prints.SubmitToProduction(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"print_order": order})
}

// MarkPrintOrderShipped handles POST /admin/print-orders/:id/ship
func (ac *AdminController) MarkPrintOrderShipped(c *gin.Context) {
	var req markShippedRequest
	// the tracking number is optional, so an empty body is accepted
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.Error(apperrors.BadRequest("Invalid request", err))
		return
	}
	ac.audit(c, "ship")
	order, err := ac.prints.MarkShipped(c.Request.Context(), c.Param("id"), req.TrackingNumber)
	if err != nil {
		c.Error(mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"print_order": order})
}

// RefreshPrintOrder handles POST /admin/print-orders/:id/refresh
func (ac *AdminController) RefreshPrintOrder(c *gin.Context) {
	report, err := ac.prints.RefreshStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, report)
}

// RunScheduler handles POST /admin/scheduler/:sequence/run and POST /admin/scheduler/run,
// which runs every sequence.
func (ac *AdminController) RunScheduler(c *gin.Context) {
	ac.audit(c, "scheduler_run")
	if seq := c.Param("sequence"); seq != "" {
		report, err := ac.drips.Run(c.Request.Context(), seq)
		if err != nil {
			c.Error(mapServiceError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": []services.RunReport{report}})
		return
	}

	reports, err := ac.drips.RunAll(c.Request.Context())
	if err != nil {
		c.Error(mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// ConvertRecipient handles POST /admin/recipients/convert
func (ac *AdminController) ConvertRecipient(c *gin.Context) {
	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest("Invalid request", err))
		return
	}
	n, err := ac.drips.MarkConverted(c.Request.Context(), req.Email, req.Sequence)
	if err != nil {
		c.Error(mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"converted": n})
}

func (ac *AdminController) audit(c *gin.Context, action string) {
	operator, _ := middleware.GetOperatorID(c)
	ac.logger.Info("operator action",
		zap.String("action", action),
		zap.String("operator_id", operator),
		zap.String("resource_id", c.Param("id")),
	)
}

func mapServiceError(err error) *apperrors.Error {
	switch {
	case errors.Is(err, services.ErrPrintOrderNotFound):
		return apperrors.NotFound("Print order not found")
	case errors.Is(err, services.ErrUnknownSequence),
		errors.Is(err, services.ErrMissingEmail),
		errors.Is(err, services.ErrInvalidPrintRequest):
		return apperrors.BadRequest(err.Error(), err)
	case errors.Is(err, services.ErrNotSubmittable),
		errors.Is(err, services.ErrNotShippable),
		errors.Is(err, services.ErrStateConflict),
		errors.Is(err, services.ErrPrintOrderFailed),
		errors.Is(err, services.ErrRunInProgress):
		return apperrors.Conflict(err.Error(), err)
	case errors.Is(err, services.ErrPurchaseNotPaid),
		errors.Is(err, services.ErrArtifactNotFound):
		return apperrors.New(http.StatusUnprocessableEntity, err.Error(), err)
	default:
		return apperrors.New(http.StatusBadGateway, "Upstream step failed", err)
	}
}
