package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/event"
	"go.uber.org/zap"
)

// EventSource reads a past gateway event back by id.
type EventSource interface {
	FetchEvent(ctx context.Context, id string) (*PaymentEvent, error)
}

// StripeEventSource fetches events from the Stripe events API.
type StripeEventSource struct {
	events event.Client
}

func NewStripeEventSource(apiKey string) *StripeEventSource {
	return NewStripeEventSourceWithBackend(stripe.GetBackend(stripe.APIBackend), apiKey)
}

func NewStripeEventSourceWithBackend(b stripe.Backend, apiKey string) *StripeEventSource {
	return &StripeEventSource{events: event.Client{B: b, Key: apiKey}}
}

func (s *StripeEventSource) FetchEvent(ctx context.Context, id string) (*PaymentEvent, error) {
	params := &stripe.EventParams{}
	params.Context = ctx
	evt, err := s.events.Get(id, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: event %s", ErrEventNotFound, id)
		}
		return nil, fmt.Errorf("fetch event %s: %w", id, err)
	}
	return decodeStripeEvent(*evt)
}

// Replay re-dispatches a stored gateway event. Effects already recorded as done
// are skipped, so only the ones that failed on the original delivery run again.
func (o *Orchestrator) Replay(ctx context.Context, src EventSource, id string) (*PaymentEvent, error) {
	if src == nil {
		return nil, ErrReplayDisabled
	}
	evt, err := src.FetchEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	o.logger.Info("replaying gateway event",
		zap.String("event_id", evt.ID),
		zap.String("kind", string(evt.Kind)),
	)
	return evt, o.Dispatch(ctx, evt)
}
