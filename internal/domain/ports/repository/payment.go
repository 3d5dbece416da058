package repository

import (
	"context"
	"time"

	"course-payments/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// Save inserts a new payment. Returns domain.ErrDuplicateSession when the
	// session id is taken and domain.ErrDuplicatePending when the user already
	// has a pending payment for the course.
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindBySession(ctx context.Context, tx Tx, sessionID string) (*model.Payment, error)
	// FindBySessionForUser scopes the lookup to the owner of the payment.
	FindBySessionForUser(ctx context.Context, tx Tx, sessionID, userID string) (*model.Payment, error)
	FindByIntent(ctx context.Context, tx Tx, paymentIntentID string) (*model.Payment, error)
	// FindLatestByUserCourse returns the newest payment of the pair in the given status.
	FindLatestByUserCourse(ctx context.Context, tx Tx, userID, courseID string, status model.PaymentStatus) (*model.Payment, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Payment, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)

	// MarkCompleted moves a pending or failed payment to completed. It reports
	// false without error when the payment was already in another state.
	MarkCompleted(ctx context.Context, tx Tx, id, paymentIntentID string, paidAt time.Time) (bool, error)
	// MarkFailed moves a pending payment to failed.
	MarkFailed(ctx context.Context, tx Tx, id, paymentIntentID, reason string) (bool, error)
	// MarkCancelled moves a pending payment to cancelled.
	MarkCancelled(ctx context.Context, tx Tx, id, reason string) (bool, error)
	// ApplyRefund adds amount to the refunded total of a completed payment and
	// flips it to refunded once the total covers the original amount.
	ApplyRefund(ctx context.Context, tx Tx, id string, amount int64, refundedAt time.Time) (*model.Payment, error)
}
