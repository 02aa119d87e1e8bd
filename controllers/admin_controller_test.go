package controllers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "fulfillment-service/common/errors"
	"fulfillment-service/models"
	"fulfillment-service/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type mockPrints struct {
	orders    map[string]*models.PrintOrder
	submitErr error
	shipped   string
}

func (m *mockPrints) Get(_ context.Context, id string) (*models.PrintOrder, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", services.ErrPrintOrderNotFound, id)
	}
	return o, nil
}

func (m *mockPrints) Retry(ctx context.Context, id string) (*models.PrintOrder, error) {
	return m.Get(ctx, id)
}

func (m *mockPrints) SubmitToProduction(ctx context.Context, id string) (*models.PrintOrder, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.Get(ctx, id)
}

func (m *mockPrints) MarkShipped(ctx context.Context, id, tracking string) (*models.PrintOrder, error) {
	o, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.shipped = tracking
	o.Status = models.PrintOrderStatusShipped
	o.TrackingNumber = tracking
	return o, nil
}

func (m *mockPrints) RefreshStatus(ctx context.Context, id string) (*services.PrintStatusReport, error) {
	o, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &services.PrintStatusReport{Order: o}, nil
}

func (m *mockPrints) ListStuck(context.Context, time.Duration, int) ([]models.PrintOrder, error) {
	var out []models.PrintOrder
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, nil
}

type mockDrips struct {
	ran       []string
	runErr    error
	converted string
}

func (m *mockDrips) Run(_ context.Context, seq string) (services.RunReport, error) {
	m.ran = append(m.ran, seq)
	return services.RunReport{Sequence: seq, Sent: 2}, m.runErr
}

func (m *mockDrips) RunAll(ctx context.Context) ([]services.RunReport, error) {
	r, err := m.Run(ctx, "*")
	return []services.RunReport{r}, err
}

func (m *mockDrips) MarkConverted(_ context.Context, email, _ string) (int64, error) {
	m.converted = email
	return 1, nil
}

func setupAdminRouter(p PrintOperations, d DripOperations) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	ac := NewAdminController(p, d, zap.NewNop())
	admin := r.Group("/admin", apperrors.ErrorMiddleware())
	admin.GET("/print-orders/:id", ac.GetPrintOrder)
	admin.POST("/print-orders/:id/submit", ac.SubmitPrintOrder)
	admin.POST("/print-orders/:id/ship", ac.MarkPrintOrderShipped)
	admin.GET("/print-orders/stuck", ac.ListStuckPrintOrders)
	admin.POST("/scheduler/:sequence/run", ac.RunScheduler)
	admin.POST("/recipients/convert", ac.ConvertRecipient)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newMockPrints() *mockPrints {
	return &mockPrints{orders: map[string]*models.PrintOrder{
		"cs_1": {ID: "cs_1", Status: models.PrintOrderStatusProduction},
	}}
}

func TestGetPrintOrder(t *testing.T) {
	r := setupAdminRouter(newMockPrints(), &mockDrips{})

	w := do(r, http.MethodGet, "/admin/print-orders/cs_1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"production"`)

	w = do(r, http.MethodGet, "/admin/print-orders/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitPrintOrder_Conflict(t *testing.T) {
	p := newMockPrints()
	p.submitErr = fmt.Errorf("%w: status is pending", services.ErrNotSubmittable)
	r := setupAdminRouter(p, &mockDrips{})

	w := do(r, http.MethodPost, "/admin/print-orders/cs_1/submit", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMarkPrintOrderShipped(t *testing.T) {
	p := newMockPrints()
	r := setupAdminRouter(p, &mockDrips{})

	w := do(r, http.MethodPost, "/admin/print-orders/cs_1/ship", `{"tracking_number":"1Z999"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1Z999", p.shipped)
}

func TestMarkPrintOrderShipped_WithoutTrackingNumber(t *testing.T) {
	for _, body := range []string{`{}`, ""} {
		p := newMockPrints()
		p.shipped = "unset"
		r := setupAdminRouter(p, &mockDrips{})

		w := do(r, http.MethodPost, "/admin/print-orders/cs_1/ship", body)
		assert.Equal(t, http.StatusOK, w.Code, "body %q", body)
		assert.Equal(t, "", p.shipped)
		assert.Contains(t, w.Body.String(), `"status":"shipped"`)
	}

	w := do(setupAdminRouter(newMockPrints(), &mockDrips{}), http.MethodPost, "/admin/print-orders/cs_1/ship", `{"tracking_number":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListStuckPrintOrders_BadDuration(t *testing.T) {
	r := setupAdminRouter(newMockPrints(), &mockDrips{})

	w := do(r, http.MethodGet, "/admin/print-orders/stuck?older_than=soon", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/admin/print-orders/stuck?older_than=30m", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestRunScheduler(t *testing.T) {
	d := &mockDrips{}
	r := setupAdminRouter(newMockPrints(), d)

	w := do(r, http.MethodPost, "/admin/scheduler/print_upsell/run", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"print_upsell"}, d.ran)

	d.runErr = services.ErrRunInProgress
	w = do(r, http.MethodPost, "/admin/scheduler/print_upsell/run", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConvertRecipient(t *testing.T) {
	d := &mockDrips{}
	r := setupAdminRouter(newMockPrints(), d)

	w := do(r, http.MethodPost, "/admin/recipients/convert", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/admin/recipients/convert", `{"email":"ada@example.com"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada@example.com", d.converted)
}
