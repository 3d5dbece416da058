package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"course-payments/internal/domain"
	"course-payments/internal/domain/model"
	"course-payments/internal/domain/ports/repository"
	"course-payments/internal/infra/logging"
	"course-payments/internal/infra/metrics"
)

// Refund charges back a completed payment through the provider and records
// the confirmed amount. Once the refunded total covers the payment it is
// marked refunded and the user loses access to the course in the same
// transaction.
func (u *paymentUC) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal) (*model.RefundOutcome, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Refund")()
	log := logging.With(ctx, u.log).With().Str("payment_id", paymentID).Logger()

	if paymentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusCompleted {
		return nil, domain.ErrNotRefundable
	}

	intentID := p.PaymentIntentID
	if intentID == "" {
		// completions recorded before the intent id was known
		if s, err := u.provider.RetrieveSession(ctx, p.SessionID); err == nil {
			intentID = s.PaymentIntentID
		} else {
			log.Warn().Err(err).Msg("could not recover payment intent from session")
		}
	}
	if intentID == "" {
		return nil, domain.ErrMissingPaymentIntent
	}

	requested := p.Remaining()
	if amount != nil {
		if amount.GreaterThan(model.FromMinor(p.Remaining())) {
			return nil, fmt.Errorf("%w: %s exceeds %d remaining", domain.ErrInvalidRefundAmount, amount.String(), p.Remaining())
		}
		if requested, err = model.ToMinor(*amount); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRefundAmount, err)
		}
	}
	if requested <= 0 || requested > p.Remaining() {
		return nil, fmt.Errorf("%w: %d of %d remaining", domain.ErrInvalidRefundAmount, requested, p.Remaining())
	}

	res, err := u.provider.Refund(ctx, intentID, &requested)
	if err != nil {
		log.Error().Err(err).Int64("amount", requested).Msg("provider refund failed")
		return nil, err
	}
	confirmed := res.RefundAmount
	if confirmed <= 0 {
		confirmed = requested
	}
	if confirmed > p.Remaining() {
		confirmed = p.Remaining()
	}
	refundedAt := res.RefundTime
	if refundedAt.IsZero() {
		refundedAt = time.Now().UTC()
	}

	var (
		after      *model.Payment
		unenrolled bool
	)
	err = u.tx.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if after, err = u.payments.ApplyRefund(ctx, tx, p.ID, confirmed, refundedAt); err != nil {
			return err
		}
		if after.Status == model.PaymentStatusRefunded {
			unenrolled, err = u.courses.RemoveEnrollment(ctx, tx, p.CourseID, p.UserID)
		}
		return err
	})
	if err != nil {
		// money already moved at the provider; the refund id is the only trace
		log.Error().Err(err).Str("refund_id", res.ID).Int64("amount", confirmed).Msg("refund issued but not recorded")
		if errors.Is(err, domain.ErrNotRefundable) {
			return nil, err
		}
		return nil, fmt.Errorf("record refund %s: %w", res.ID, domain.ErrOperationFailed)
	}

	full := after.Status == model.PaymentStatusRefunded
	metrics.ObserveRefund(after.Currency, confirmed, full)
	evt := model.EventPaymentPartiallyRefunded
	if full {
		evt = model.EventPaymentRefunded
	}
	u.publish(ctx, evt, after, confirmed)
	log.Info().Str("refund_id", res.ID).Int64("amount", confirmed).Int64("total_refunded", after.RefundedAmount).
		Bool("full", full).Msg("payment refunded")

	return &model.RefundOutcome{
		RefundID:       res.ID,
		RefundedAmount: confirmed,
		TotalRefunded:  after.RefundedAmount,
		PaymentStatus:  after.Status,
		Unenrolled:     unenrolled,
	}, nil
}
