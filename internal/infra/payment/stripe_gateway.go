package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"course-payments/internal/domain"
	"course-payments/internal/domain/ports/adapter"
)

var _ adapter.CheckoutProvider = (*StripeGateway)(nil)

// StripeGateway implements adapter.CheckoutProvider on Stripe hosted checkout.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds a gateway. backends may be nil; tests pass a backend
// pointed at a local server.
func NewStripeGateway(secretKey, webhookSecret string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateSession(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.ProductName),
	}
	if req.Description != "" {
		product.Description = stripe.String(req.Description)
	}
	if req.ImageURL != "" {
		product.Images = []*string{stripe.String(req.ImageURL)}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(req.UnitAmount),
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, providerErr("create checkout session", err, nil)
	}
	return toSession(s), nil
}

func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*adapter.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, providerErr("retrieve checkout session", err, domain.ErrSessionNotFound)
	}
	return toSession(s), nil
}

func (g *StripeGateway) ExpireSession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := g.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		return providerErr("expire checkout session", err, domain.ErrSessionNotFound)
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string, amount *int64) (adapter.RefundResult, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	if amount != nil {
		params.Amount = stripe.Int64(*amount)
	}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return adapter.RefundResult{}, providerErr("create refund", err, nil)
	}
	return adapter.RefundResult{
		ID:           r.ID,
		Status:       string(r.Status),
		RefundAmount: r.Amount,
		RefundTime:   time.Unix(r.Created, 0).UTC(),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the objects
// the payment flow consumes.
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*adapter.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	out := &adapter.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case adapter.EventCheckoutSessionCompleted,
		adapter.EventCheckoutAsyncPaymentSuccess,
		adapter.EventCheckoutAsyncPaymentFailed,
		adapter.EventCheckoutSessionExpired:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: decode checkout session: %v", domain.ErrInvalidArgument, err)
		}
		out.Session = toSession(&s)
	case adapter.EventPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: decode payment intent: %v", domain.ErrInvalidArgument, err)
		}
		info := &adapter.PaymentIntentInfo{ID: pi.ID, Metadata: pi.Metadata}
		if pi.LastPaymentError != nil {
			info.FailureMessage = pi.LastPaymentError.Msg
		}
		out.PaymentIntent = info
	}
	return out, nil
}

func toSession(s *stripe.CheckoutSession) *adapter.CheckoutSession {
	out := &adapter.CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out
}

// providerErr maps Stripe API failures onto domain errors. A missing resource
// becomes notFound when given; everything else wraps ErrProvider.
func providerErr(op string, err error, notFound error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		missing := se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing
		if missing && notFound != nil {
			return fmt.Errorf("%s: %w", op, notFound)
		}
		return fmt.Errorf("%s: %w: %s", op, domain.ErrProvider, se.Msg)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrProvider, err)
}
