package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/models"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
)

type EventKind string

const (
	EventPaymentCompleted EventKind = "payment_completed"
	EventPaymentExpired   EventKind = "payment_expired"
	EventChargeRefunded   EventKind = "charge_refunded"
	EventDisputeCreated   EventKind = "dispute_created"
	EventPaymentFailed    EventKind = "payment_failed"
	EventUnrecognized     EventKind = "unrecognized"
)

type ProductType string

const (
	ProductDigital ProductType = "digital"
	ProductPrint   ProductType = "print"
)

// Metadata keys set on the checkout session by the storefront.
const (
	MetaArtifactID    = "artifact_id"
	MetaProductType   = "product_type"
	MetaPrintSize     = "print_size"
	MetaCustomerEmail = "customer_email"
)

// PaymentEvent is a verified gateway event reduced to what the orchestrator acts on.
type PaymentEvent struct {
	ID              string
	GatewayType     string
	Kind            EventKind
	SessionID       string
	ArtifactID      string
	ProductType     ProductType
	PrintSize       models.PrintSize
	CustomerEmail   string
	ShippingAddress *models.Address
	AmountTotal     int64
	Currency        string
	Reason          string
	Created         time.Time
}

// EventVerifier authenticates a raw webhook body and decodes it.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (*PaymentEvent, error)
}

type StripeEventVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeEventVerifier(secret string) *StripeEventVerifier {
	return &StripeEventVerifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

func (v *StripeEventVerifier) Verify(payload []byte, signatureHeader string) (*PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeStripeEvent(event)
}

func decodeStripeEvent(event stripe.Event) (*PaymentEvent, error) {
	out := &PaymentEvent{
		ID:          event.ID,
		GatewayType: string(event.Type),
		Kind:        EventUnrecognized,
		Created:     time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	raw := event.Data.Raw

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		sess, err := decodeSession(raw, out)
		if err != nil {
			return nil, err
		}
		// async methods (bank debits) complete later with async_payment_succeeded
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return out, nil
		}
		out.Kind = EventPaymentCompleted
	case stripe.EventTypeCheckoutSessionExpired:
		if _, err := decodeSession(raw, out); err != nil {
			return nil, err
		}
		out.Kind = EventPaymentExpired
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		if _, err := decodeSession(raw, out); err != nil {
			return nil, err
		}
		out.Kind = EventPaymentFailed
	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.Kind = EventPaymentFailed
		out.SessionID = pi.ID
		out.ArtifactID = pi.Metadata[MetaArtifactID]
		out.CustomerEmail = firstNonEmpty(pi.ReceiptEmail, pi.Metadata[MetaCustomerEmail])
		out.AmountTotal = pi.Amount
		out.Currency = string(pi.Currency)
		if pi.LastPaymentError != nil {
			out.Reason = pi.LastPaymentError.Msg
		}
	case stripe.EventTypeChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.Kind = EventChargeRefunded
		out.SessionID = ch.ID
		out.ArtifactID = ch.Metadata[MetaArtifactID]
		out.CustomerEmail = firstNonEmpty(ch.ReceiptEmail, ch.Metadata[MetaCustomerEmail])
		out.AmountTotal = ch.AmountRefunded
		out.Currency = string(ch.Currency)
	case stripe.EventTypeChargeDisputeCreated:
		var d stripe.Dispute
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.Kind = EventDisputeCreated
		out.SessionID = d.ID
		out.ArtifactID = d.Metadata[MetaArtifactID]
		out.AmountTotal = d.Amount
		out.Currency = string(d.Currency)
		out.Reason = string(d.Reason)
	}
	return out, nil
}

type stripeShippingDetails struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address struct {
		Line1      string `json:"line1"`
		Line2      string `json:"line2"`
		City       string `json:"city"`
		State      string `json:"state"`
		PostalCode string `json:"postal_code"`
		Country    string `json:"country"`
	} `json:"address"`
}

type sessionShipping struct {
	ShippingDetails      *stripeShippingDetails `json:"shipping_details"`
	CollectedInformation *struct {
		ShippingDetails *stripeShippingDetails `json:"shipping_details"`
	} `json:"collected_information"`
}

func decodeSession(raw json.RawMessage, out *PaymentEvent) (*stripe.CheckoutSession, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("%w: checkout session without id", ErrMalformedEvent)
	}

	md := sess.Metadata
	out.SessionID = sess.ID
	out.ArtifactID = md[MetaArtifactID]
	out.ProductType = ProductType(strings.ToLower(md[MetaProductType]))
	if out.ProductType == "" {
		out.ProductType = ProductDigital
	}
	out.PrintSize = models.PrintSize(md[MetaPrintSize])
	out.AmountTotal = sess.AmountTotal
	out.Currency = string(sess.Currency)

	email := sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email = sess.CustomerDetails.Email
	}
	out.CustomerEmail = strings.ToLower(strings.TrimSpace(firstNonEmpty(email, md[MetaCustomerEmail])))

	if out.ProductType == ProductPrint {
		var ship sessionShipping
		if err := json.Unmarshal(raw, &ship); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.ShippingAddress = shippingAddress(ship, md, out.CustomerEmail)
	}
	return &sess, nil
}

func shippingAddress(ship sessionShipping, md map[string]string, email string) *models.Address {
	details := ship.ShippingDetails
	if details == nil && ship.CollectedInformation != nil {
		details = ship.CollectedInformation.ShippingDetails
	}
	if details != nil && details.Address.Line1 != "" {
		return &models.Address{
			Name:       details.Name,
			Street1:    details.Address.Line1,
			Street2:    details.Address.Line2,
			City:       details.Address.City,
			State:      details.Address.State,
			PostalCode: details.Address.PostalCode,
			Country:    details.Address.Country,
			Phone:      details.Phone,
			Email:      email,
		}
	}
	if md["ship_line1"] == "" {
		return nil
	}
	return &models.Address{
		Name:       md["ship_name"],
		Street1:    md["ship_line1"],
		Street2:    md["ship_line2"],
		City:       md["ship_city"],
		State:      md["ship_state"],
		PostalCode: md["ship_postal_code"],
		Country:    md["ship_country"],
		Email:      email,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
