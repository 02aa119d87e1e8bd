package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fulfillment-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type orchestratorFixture struct {
	orch       *Orchestrator
	idem       *memIdempotency
	purchases  *memPurchases
	customers  *memCustomers
	recipients *memRecipients
	orders     *memPrintOrders
	provider   *fakeProvider
	alerts     *fakeAlerter
	emails     *fakeSender
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		idem:       newMemIdempotency(),
		purchases:  newMemPurchases(),
		customers:  newMemCustomers(),
		recipients: newMemRecipients(),
		orders:     newMemPrintOrders(),
		provider:   newFakeProvider(),
		alerts:     &fakeAlerter{},
		emails:     newFakeSender(),
	}
	logger := zap.NewNop()
	notifier, err := NewNotifier(f.emails, "https://portraits.example.com", logger)
	require.NoError(t, err)

	scheduler := NewSchedulerService(f.recipients, notifier, logger, WithSendInterval(0))
	prints := NewPrintFulfillmentService(f.orders, f.purchases, f.provider, &fakeStore{}, notifier, f.alerts, nil, logger)
	f.orch = NewOrchestrator(NewEffectRunner(f.idem, nil, logger), f.purchases, f.customers, scheduler, prints, notifier, f.alerts, nil, logger)
	return f
}

func digitalEvent() *PaymentEvent {
	return &PaymentEvent{
		ID:            "evt_digital_1",
		GatewayType:   "checkout.session.completed",
		Kind:          EventPaymentCompleted,
		SessionID:     "cs_test_1",
		ArtifactID:    "art_1",
		ProductType:   ProductDigital,
		CustomerEmail: "ada@example.com",
		AmountTotal:   1900,
		Currency:      "usd",
		Created:       time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestDispatch_DigitalPurchase(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	_, _, err := f.recipients.Enroll(ctx, &models.Recipient{ID: "r1", Email: "ada@example.com", Sequence: models.SequenceLeadNurture, EnrolledAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, f.orch.Dispatch(ctx, digitalEvent()))

	purchase, err := f.purchases.FindByID(ctx, "art_1")
	require.NoError(t, err)
	assert.True(t, purchase.IsPaid())

	_, err = f.customers.FindByEmail(ctx, "ada@example.com")
	assert.NoError(t, err)

	sent := f.emails.sentTo("ada@example.com")
	require.Len(t, sent, 1)
	assert.Equal(t, "Your portrait is ready", sent[0].Subject)

	upsell := f.recipients.get("ada@example.com", models.SequencePrintUpsell)
	require.NotNil(t, upsell)
	assert.Equal(t, 0, upsell.LastStepSent)
	assert.True(t, f.recipients.get("ada@example.com", models.SequenceLeadNurture).HasConverted)
}

func TestDispatch_RedeliveryRunsEffectsOnce(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.orch.Dispatch(ctx, digitalEvent()))
	require.NoError(t, f.orch.Dispatch(ctx, digitalEvent()))

	assert.Equal(t, 1, f.customers.upserts)
	assert.Len(t, f.emails.sentTo("ada@example.com"), 1)
	assert.Equal(t, 1, f.recipients.count())
}

func TestDispatch_FailedEffectRetriesOnRedelivery(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.emails.failTo["ada@example.com"] = true

	err := f.orch.Dispatch(ctx, digitalEvent())
	require.Error(t, err)
	// the other effects still ran
	assert.Equal(t, 1, f.customers.upserts)

	delete(f.emails.failTo, "ada@example.com")
	require.NoError(t, f.orch.Dispatch(ctx, digitalEvent()))
	assert.Len(t, f.emails.sentTo("ada@example.com"), 1)
	assert.Equal(t, 1, f.customers.upserts)
}

func TestDispatch_PrintPurchase(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.purchases.paid("art_1")
	_, _, err := f.recipients.Enroll(ctx, &models.Recipient{ID: "r1", Email: "ada@example.com", Sequence: models.SequencePrintUpsell, EnrolledAt: time.Now()})
	require.NoError(t, err)

	addr := models.Address{Name: "Ada", Street1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}
	evt := &PaymentEvent{
		ID:              "evt_print_1",
		Kind:            EventPaymentCompleted,
		SessionID:       "cs_print_1",
		ArtifactID:      "art_1",
		ProductType:     ProductPrint,
		PrintSize:       models.PrintSize16x20,
		CustomerEmail:   "ada@example.com",
		ShippingAddress: &addr,
	}
	require.NoError(t, f.orch.Dispatch(ctx, evt))

	order := f.orders.get("cs_print_1")
	require.NotNil(t, order)
	assert.Equal(t, models.PrintOrderStatusProduction, order.Status)
	assert.True(t, f.recipients.get("ada@example.com", models.SequencePrintUpsell).HasConverted)
	assert.Len(t, f.emails.sentTo("ada@example.com"), 1)

	require.NoError(t, f.orch.Dispatch(ctx, evt))
	assert.Equal(t, 1, f.provider.count("order"))
}

func TestDispatch_PrintWithoutAddress(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.purchases.paid("art_1")

	err := f.orch.Dispatch(context.Background(), &PaymentEvent{
		ID: "evt_print_2", Kind: EventPaymentCompleted, SessionID: "cs_2", ArtifactID: "art_1",
		ProductType: ProductPrint, PrintSize: models.PrintSize8x10, CustomerEmail: "ada@example.com",
	})
	assert.ErrorIs(t, err, ErrInvalidPrintRequest)
	assert.Nil(t, f.orders.get("cs_2"))
}

func TestDispatch_ExpiredPurchaseIsNotRevived(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.purchases.rows["art_1"] = &models.PurchaseRecord{ID: "art_1", Status: models.PurchaseStatusPending}

	require.NoError(t, f.orch.Dispatch(ctx, &PaymentEvent{ID: "evt_exp", Kind: EventPaymentExpired, ArtifactID: "art_1"}))
	require.NoError(t, f.orch.Dispatch(ctx, digitalEvent()))

	purchase, _ := f.purchases.FindByID(ctx, "art_1")
	assert.Equal(t, models.PurchaseStatusExpired, purchase.Status)
}

func TestDispatch_RefundAndDisputeAlert(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.purchases.paid("art_1")

	require.NoError(t, f.orch.Dispatch(ctx, &PaymentEvent{ID: "evt_r", Kind: EventChargeRefunded, ArtifactID: "art_1", Created: time.Now()}))
	require.NoError(t, f.orch.Dispatch(ctx, &PaymentEvent{ID: "evt_d", Kind: EventDisputeCreated, ArtifactID: "art_1", Reason: "fraudulent"}))
	require.NoError(t, f.orch.Dispatch(ctx, &PaymentEvent{ID: "evt_f", Kind: EventPaymentFailed, Reason: "card_declined"}))

	purchase, _ := f.purchases.FindByID(ctx, "art_1")
	assert.NotNil(t, purchase.RefundedAt)
	assert.NotNil(t, purchase.DisputedAt)
	assert.Equal(t, models.PurchaseStatusPaid, purchase.Status)
	assert.Equal(t, 1, f.alerts.ofType(models.AlertChargeRefunded))
	assert.Equal(t, 1, f.alerts.ofType(models.AlertDisputeCreated))
	assert.Equal(t, 1, f.alerts.ofType(models.AlertPaymentFailed))
}

func TestDispatch_UnrecognizedIsIgnored(t *testing.T) {
	f := newOrchestratorFixture(t)
	assert.NoError(t, f.orch.Dispatch(context.Background(), &PaymentEvent{ID: "evt_x", Kind: EventUnrecognized, GatewayType: "customer.created"}))
	assert.Empty(t, f.idem.done)
}

func TestDispatch_IdempotencyStoreDown(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.idem.existsErr = errors.New("dynamodb: throttled")

	err := f.orch.Dispatch(context.Background(), digitalEvent())
	require.Error(t, err)
	assert.Empty(t, f.emails.sentTo("ada@example.com"))
	assert.Equal(t, 0, f.customers.upserts)
}
