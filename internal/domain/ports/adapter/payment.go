package adapter

import (
	"context"
	"time"

	"course-payments/internal/domain/model"
)

// CheckoutRequest describes a single-item hosted checkout for one course.
type CheckoutRequest struct {
	UserID        string
	CustomerEmail string
	CourseID      string
	ProductName   string
	Description   string
	ImageURL      string
	UnitAmount    int64  // minor units
	Currency      string // lower-case ISO code
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// Provider-reported session states.
const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	SessionPaymentPaid              = "paid"
	SessionPaymentUnpaid            = "unpaid"
	SessionPaymentNoPaymentRequired = "no_payment_required"
)

// CheckoutSession is a provider-agnostic view of a hosted checkout session.
type CheckoutSession struct {
	ID              string
	URL             string
	Status          string // open | complete | expired
	PaymentStatus   string // paid | unpaid | no_payment_required
	PaymentIntentID string
	AmountTotal     int64 // minor units
	Currency        string
	Metadata        map[string]string
}

// Paid reports whether the provider considers the session settled.
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == SessionPaymentPaid || s.PaymentStatus == SessionPaymentNoPaymentRequired
}

// RefundResult captures a minimal, provider-agnostic result of a refund request.
type RefundResult struct {
	ID           string    // provider refund id
	Status       string    // provider status e.g. pending / succeeded
	RefundAmount int64     // confirmed amount in minor units
	RefundTime   time.Time // provider timestamp if available
}

// Webhook event types the payment flow reacts to.
const (
	EventCheckoutSessionCompleted    = "checkout.session.completed"
	EventCheckoutAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed  = "checkout.session.async_payment_failed"
	EventCheckoutSessionExpired      = "checkout.session.expired"
	EventPaymentIntentFailed         = "payment_intent.payment_failed"
)

// PaymentIntentInfo is the subset of a payment intent carried by failure events.
type PaymentIntentInfo struct {
	ID             string
	FailureMessage string
	Metadata       map[string]string // copied from the checkout session at creation
}

// WebhookEvent is a verified provider event. Exactly one of Session or
// PaymentIntent is set for the event types listed above; both are nil otherwise.
type WebhookEvent struct {
	ID            string
	Type          string
	Session       *CheckoutSession
	PaymentIntent *PaymentIntentInfo
}

// CheckoutProvider is the hex port for hosted-checkout payment providers.
type CheckoutProvider interface {
	Name() string

	// CreateSession opens a hosted checkout session and returns its id and redirect URL.
	CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// RetrieveSession fetches the current state of a session.
	RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	// ExpireSession closes an open session so it can no longer be paid.
	ExpireSession(ctx context.Context, sessionID string) error

	// Refund reverses funds captured by a payment intent. A nil amount refunds
	// whatever the provider still holds for the intent.
	Refund(ctx context.Context, paymentIntentID string, amount *int64) (RefundResult, error)

	// ParseWebhook verifies the signature header against the raw payload and
	// decodes the event. Verification failures return domain.ErrInvalidSignature.
	ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// EventPublisher fans payment state changes out to other services.
type EventPublisher interface {
	Publish(ctx context.Context, evt model.PaymentEvent) error
}

// Locker serializes short critical sections across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
