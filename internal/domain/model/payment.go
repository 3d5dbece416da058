package model

import (
	"time"

	"github.com/google/uuid"

	"course-payments/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // checkout session created; awaiting payment
	PaymentStatusCompleted PaymentStatus = "completed" // provider reported the session as paid
	PaymentStatusFailed    PaymentStatus = "failed"    // provider reported a failed charge attempt
	PaymentStatusCancelled PaymentStatus = "cancelled" // session expired or was abandoned
	PaymentStatusRefunded  PaymentStatus = "refunded"  // fully refunded; enrollment revoked
)

// CanComplete reports whether a payment in this status may still move to completed.
// A failed charge attempt leaves the checkout session open, so the buyer can retry it.
func (s PaymentStatus) CanComplete() bool {
	return s == PaymentStatusPending || s == PaymentStatusFailed
}

// Payment is one purchase attempt of a course. Money is kept in minor units.
type Payment struct {
	ID              string
	UserID          string
	CourseID        string
	Provider        string        // e.g. "stripe"
	Amount          int64         // price snapshot at initiation, minor units
	Currency        string        // lower-case ISO code, e.g. "inr"
	Status          PaymentStatus // see constants above
	SessionID       string        // provider checkout session id (unique)
	PaymentIntentID string        // set once the provider settles the session
	CheckoutURL     string        // provider-hosted page, reused for pending retries
	PaymentDate     *time.Time
	RefundedAmount  int64 // cumulative, minor units
	RefundDate      *time.Time
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewPendingPayment validates and constructs the ledger row written when a
// checkout session has been created at the provider.
func NewPendingPayment(userID, courseID, provider string, amount int64, currency, sessionID, checkoutURL string) (*Payment, error) {
	if userID == "" || courseID == "" || sessionID == "" || amount <= 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Payment{
		ID:          uuid.NewString(),
		UserID:      userID,
		CourseID:    courseID,
		Provider:    provider,
		Amount:      amount,
		Currency:    currency,
		Status:      PaymentStatusPending,
		SessionID:   sessionID,
		CheckoutURL: checkoutURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Remaining is the amount that can still be refunded.
func (p *Payment) Remaining() int64 {
	if r := p.Amount - p.RefundedAmount; r > 0 {
		return r
	}
	return 0
}

func (p *Payment) FullyRefunded() bool {
	return p.RefundedAmount >= p.Amount
}

// RefundOutcome is what a single refund did to a payment.
type RefundOutcome struct {
	RefundID       string
	RefundedAmount int64 // confirmed by the provider for this refund, minor units
	TotalRefunded  int64
	PaymentStatus  PaymentStatus
	Unenrolled     bool
}
