package services

import "errors"

var (
	ErrInvalidSignature    = errors.New("webhook signature verification failed")
	ErrMalformedEvent      = errors.New("malformed webhook event")
	ErrPurchaseNotPaid     = errors.New("artifact purchase is not paid")
	ErrArtifactNotFound    = errors.New("artifact not found")
	ErrInvalidPrintRequest = errors.New("invalid print request")
	ErrPrintOrderNotFound  = errors.New("print order not found")
	ErrPrintOrderFailed    = errors.New("print order is failed and needs manual investigation")
	ErrNotShippable        = errors.New("print order has no provider order to ship")
	ErrNotSubmittable      = errors.New("print order is not in created state")
	ErrStateConflict       = errors.New("print order was advanced concurrently")
	ErrRunInProgress       = errors.New("scheduler run already in progress")
	ErrUnknownSequence     = errors.New("unknown drip sequence")
	ErrMissingEmail        = errors.New("event carries no customer email")
	ErrEventNotFound       = errors.New("gateway event not found")
	ErrReplayDisabled      = errors.New("event replay requires a gateway API key")
)
