package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type PaymentEventType string

const (
	EventPaymentCompleted         PaymentEventType = "payment.completed"
	EventPaymentFailed            PaymentEventType = "payment.failed"
	EventPaymentCancelled         PaymentEventType = "payment.cancelled"
	EventPaymentRefunded          PaymentEventType = "payment.refunded"
	EventPaymentPartiallyRefunded PaymentEventType = "payment.partially_refunded"
)

// PaymentEvent is published after a payment changes state.
type PaymentEvent struct {
	ID         string           `json:"id"`
	Type       PaymentEventType `json:"type"`
	PaymentID  string           `json:"paymentId"`
	UserID     string           `json:"userId"`
	CourseID   string           `json:"courseId"`
	Amount     int64            `json:"amount"`
	Currency   string           `json:"currency"`
	OccurredAt time.Time        `json:"occurredAt"`
}

func NewPaymentEvent(t PaymentEventType, p *Payment, amount int64) PaymentEvent {
	return PaymentEvent{
		ID:         ulid.Make().String(),
		Type:       t,
		PaymentID:  p.ID,
		UserID:     p.UserID,
		CourseID:   p.CourseID,
		Amount:     amount,
		Currency:   p.Currency,
		OccurredAt: time.Now().UTC(),
	}
}
