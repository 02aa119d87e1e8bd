package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fulfillment-service/models"
	"fulfillment-service/providers"
	"fulfillment-service/repository"
	"fulfillment-service/sender"
	"fulfillment-service/storage"
)

// ---- email ----

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentEmail
	failTo map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{failTo: map[string]bool{}}
}

func (f *fakeSender) SendEmail(_ context.Context, to, subject, body string) (sender.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[to] {
		return sender.SendResult{}, errors.New("smtp: 550 mailbox unavailable")
	}
	f.sent = append(f.sent, sentEmail{To: to, Subject: subject, Body: body})
	return sender.SendResult{MessageID: fmt.Sprintf("msg-%d", len(f.sent)), SentAt: time.Now()}, nil
}

func (f *fakeSender) sentTo(to string) []sentEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEmail
	for _, e := range f.sent {
		if e.To == to {
			out = append(out, e)
		}
	}
	return out
}

// ---- recipients ----

type memRecipients struct {
	mu   sync.Mutex
	rows map[string]*models.Recipient
}

func newMemRecipients() *memRecipients {
	return &memRecipients{rows: map[string]*models.Recipient{}}
}

func (m *memRecipients) Enroll(_ context.Context, r *models.Recipient) (*models.Recipient, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.Email == r.Email && existing.Sequence == r.Sequence {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *r
	m.rows[r.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *memRecipients) FindByEmail(_ context.Context, email, sequence string) (*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Email == email && r.Sequence == sequence {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRecipients) ListDue(_ context.Context, sequence string, steps int, now time.Time, after repository.DueCursor, limit int) ([]models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Recipient
	for _, r := range m.rows {
		if r.Sequence != sequence || r.HasConverted || r.EnrolledAt.After(now) || r.LastStepSent >= steps {
			continue
		}
		if after.ID != "" && !keysetAfter(*r, after) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EnrolledAt.Before(out[j].EnrolledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func keysetAfter(r models.Recipient, c repository.DueCursor) bool {
	if r.EnrolledAt.Equal(c.EnrolledAt) {
		return r.ID > c.ID
	}
	return r.EnrolledAt.After(c.EnrolledAt)
}

func (m *memRecipients) AdvanceStep(_ context.Context, id string, from, to int, sentAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.LastStepSent != from {
		return false, nil
	}
	r.LastStepSent = to
	r.LastSentAt = &sentAt
	return true, nil
}

func (m *memRecipients) MarkConverted(_ context.Context, email, sequence string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows {
		if r.Email == email && (sequence == "" || r.Sequence == sequence) && !r.HasConverted {
			r.HasConverted = true
			r.ConvertedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memRecipients) get(email, sequence string) *models.Recipient {
	r, _ := m.FindByEmail(context.Background(), email, sequence)
	return r
}

func (m *memRecipients) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// ---- purchases and customers ----

type memPurchases struct {
	mu   sync.Mutex
	rows map[string]*models.PurchaseRecord
}

func newMemPurchases() *memPurchases {
	return &memPurchases{rows: map[string]*models.PurchaseRecord{}}
}

func (m *memPurchases) paid(artifactID string) {
	now := time.Now()
	m.rows[artifactID] = &models.PurchaseRecord{ID: artifactID, Status: models.PurchaseStatusPaid, PaidAt: &now}
}

func (m *memPurchases) FindByID(_ context.Context, artifactID string) (*models.PurchaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[artifactID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPurchases) MarkPaid(_ context.Context, artifactID, email string, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[artifactID]
	if !ok {
		p = &models.PurchaseRecord{ID: artifactID}
		m.rows[artifactID] = p
	}
	if p.Status == models.PurchaseStatusExpired {
		return repository.ErrInvalidTransition
	}
	p.Status = models.PurchaseStatusPaid
	if p.PaidAt == nil {
		p.PaidAt = &paidAt
	}
	if email != "" {
		p.CustomerEmail = &email
	}
	return nil
}

func (m *memPurchases) MarkExpired(_ context.Context, artifactID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[artifactID]
	if !ok || p.Status != models.PurchaseStatusPending {
		return false, nil
	}
	p.Status = models.PurchaseStatusExpired
	return true, nil
}

func (m *memPurchases) RecordRefund(_ context.Context, artifactID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[artifactID]
	if !ok {
		return false, nil
	}
	p.RefundedAt = &at
	return true, nil
}

func (m *memPurchases) RecordDispute(_ context.Context, artifactID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[artifactID]
	if !ok {
		return false, nil
	}
	p.DisputedAt = &at
	return true, nil
}

type memCustomers struct {
	mu      sync.Mutex
	rows    map[string]*models.Customer
	upserts int
}

func newMemCustomers() *memCustomers {
	return &memCustomers{rows: map[string]*models.Customer{}}
}

func (m *memCustomers) Upsert(_ context.Context, email, artifactID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	c, ok := m.rows[email]
	if !ok {
		m.rows[email] = &models.Customer{ID: email, Email: email, FirstArtifactID: artifactID, FirstPurchaseAt: at, LastPurchaseAt: at}
		return nil
	}
	if at.After(c.LastPurchaseAt) {
		c.LastPurchaseAt = at
	}
	return nil
}

func (m *memCustomers) FindByEmail(_ context.Context, email string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ---- print orders ----

type memPrintOrders struct {
	mu   sync.Mutex
	rows map[string]*models.PrintOrder
}

func newMemPrintOrders() *memPrintOrders {
	return &memPrintOrders{rows: map[string]*models.PrintOrder{}}
}

func (m *memPrintOrders) CreateIfAbsent(_ context.Context, order *models.PrintOrder) (*models.PrintOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[order.ID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *order
	m.rows[order.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memPrintOrders) FindByID(_ context.Context, id string) (*models.PrintOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memPrintOrders) Transition(_ context.Context, id string, from []models.PrintOrderStatus, fields map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if o.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	for k, v := range fields {
		switch k {
		case "status":
			o.Status = v.(models.PrintOrderStatus)
		case "provider_image_id":
			s := v.(string)
			o.ProviderImageID = &s
		case "provider_product_id":
			s := v.(string)
			o.ProviderProductID = &s
		case "provider_order_id":
			s := v.(string)
			o.ProviderOrderID = &s
		case "provider_status":
			o.ProviderStatus = v.(string)
		case "tracking_number":
			o.TrackingNumber = v.(string)
		case "failure_reason":
			o.FailureReason = v.(string)
		case "submitted_at":
			t := v.(time.Time)
			o.SubmittedAt = &t
		case "shipped_at":
			t := v.(time.Time)
			o.ShippedAt = &t
		}
	}
	return true, nil
}

func (m *memPrintOrders) ListStale(_ context.Context, statuses []models.PrintOrderStatus, updatedBefore time.Time, limit int) ([]models.PrintOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PrintOrder
	for _, o := range m.rows {
		for _, s := range statuses {
			if o.Status == s && o.UpdatedAt.Before(updatedBefore) {
				out = append(out, *o)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPrintOrders) get(id string) *models.PrintOrder {
	o, _ := m.FindByID(context.Background(), id)
	return o
}

// ---- print provider ----

type fakeProvider struct {
	mu          sync.Mutex
	calls       map[string]int
	failOn      map[string]error
	lastAddress models.Address
	status      string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: map[string]int{}, failOn: map[string]error{}, status: "in-production"}
}

func (f *fakeProvider) hit(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.failOn[name]
}

func (f *fakeProvider) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProvider) UploadImage(_ context.Context, fileName, _ string) (string, error) {
	if err := f.hit("upload"); err != nil {
		return "", err
	}
	return "img-" + fileName, nil
}

func (f *fakeProvider) CreateProduct(_ context.Context, req providers.CreateProductRequest) (string, error) {
	if err := f.hit("product"); err != nil {
		return "", err
	}
	return "prod-" + req.ArtifactID + "-" + string(req.Size), nil
}

func (f *fakeProvider) CreateOrder(_ context.Context, req providers.CreateOrderRequest) (string, error) {
	if err := f.hit("order"); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.lastAddress = req.Address
	f.mu.Unlock()
	return "ord-" + req.ExternalID, nil
}

func (f *fakeProvider) SubmitToProduction(_ context.Context, _ string) error {
	return f.hit("submit")
}

func (f *fakeProvider) GetOrderStatus(_ context.Context, orderID string) (providers.OrderStatus, error) {
	if err := f.hit("status"); err != nil {
		return providers.OrderStatus{}, err
	}
	return providers.OrderStatus{OrderID: orderID, Status: f.status}, nil
}

// ---- object store ----

type fakeStore struct {
	missing map[string]bool
}

func (f *fakeStore) ArtifactURL(_ context.Context, artifactID string) (string, error) {
	if f.missing[artifactID] {
		return "", storage.ErrArtifactNotFound
	}
	return "https://artifacts.example.com/" + artifactID + ".png?sig=abc", nil
}

// ---- alerts ----

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []models.OpsAlert
}

func (f *fakeAlerter) Publish(_ context.Context, a models.OpsAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeAlerter) ofType(t models.AlertType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.alerts {
		if a.Type == t {
			n++
		}
	}
	return n
}

// ---- clock ----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
