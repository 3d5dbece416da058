package usecase

import (
	"context"
	"errors"
	"fmt"

	"course-payments/internal/domain"
	"course-payments/internal/domain/model"
	"course-payments/internal/domain/ports/adapter"
	"course-payments/internal/domain/ports/repository"
	"course-payments/internal/infra/logging"
	"course-payments/internal/infra/metrics"
)

type WebhookResult struct {
	EventID string
	Type    string
	Handled bool // false for event types or objects the payment flow ignores
}

// HandleWebhook only returns an error for a bad signature or payload and for
// storage failures worth a provider retry. Business misses (unknown session,
// payment already settled) are logged and acknowledged.
func (u *paymentUC) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	evt, err := u.provider.ParseWebhook(payload, signature)
	if err != nil {
		metrics.IncWebhook("unknown", "rejected")
		logging.With(ctx, u.log).Warn().Err(err).Msg("webhook rejected")
		if errors.Is(err, domain.ErrInvalidSignature) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	res := &WebhookResult{EventID: evt.ID, Type: evt.Type}
	log := logging.With(ctx, u.log).With().Str("event_id", evt.ID).Str("event_type", evt.Type).Logger()

	switch evt.Type {
	case adapter.EventCheckoutSessionCompleted, adapter.EventCheckoutAsyncPaymentSuccess:
		res.Handled, err = u.onSessionPaid(ctx, evt.Session)
	case adapter.EventCheckoutAsyncPaymentFailed:
		res.Handled, err = u.onSessionFailed(ctx, evt.Session)
	case adapter.EventCheckoutSessionExpired:
		res.Handled, err = u.onSessionExpired(ctx, evt.Session)
	case adapter.EventPaymentIntentFailed:
		res.Handled, err = u.onIntentFailed(ctx, evt.PaymentIntent)
	default:
		log.Debug().Msg("webhook event ignored")
	}

	switch {
	case err == nil:
	case retryable(err):
		metrics.IncWebhook(evt.Type, "error")
		log.Error().Err(err).Msg("webhook handling failed; provider will retry")
		return nil, err
	default:
		log.Warn().Err(err).Msg("webhook event not applied")
		res.Handled = false
	}

	if res.Handled {
		metrics.IncWebhook(evt.Type, "handled")
	} else {
		metrics.IncWebhook(evt.Type, "ignored")
	}
	return res, nil
}

// retryable separates storage failures from business outcomes.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrOperationFailed) ||
		errors.Is(err, domain.ErrReadDatabaseRow) ||
		errors.Is(err, domain.ErrInvalidExecContext) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (u *paymentUC) onSessionPaid(ctx context.Context, s *adapter.CheckoutSession) (bool, error) {
	if s == nil {
		return false, nil
	}
	if !s.Paid() {
		// delayed payment methods complete later via async_payment_succeeded
		return false, nil
	}
	ctx = logging.WithSessID(ctx, s.ID)
	p, err := u.payments.FindBySession(ctx, repository.NoTX, s.ID)
	if err != nil {
		return false, err
	}
	if !p.Status.CanComplete() {
		return false, nil
	}
	if _, err := u.complete(ctx, p, s.PaymentIntentID, "webhook"); err != nil {
		return false, err
	}
	return true, nil
}

func (u *paymentUC) onSessionFailed(ctx context.Context, s *adapter.CheckoutSession) (bool, error) {
	if s == nil {
		return false, nil
	}
	p, err := u.payments.FindBySession(ctx, repository.NoTX, s.ID)
	if err != nil {
		return false, err
	}
	return u.fail(ctx, p, s.PaymentIntentID, "async payment failed")
}

func (u *paymentUC) onSessionExpired(ctx context.Context, s *adapter.CheckoutSession) (bool, error) {
	if s == nil {
		return false, nil
	}
	p, err := u.payments.FindBySession(ctx, repository.NoTX, s.ID)
	if err != nil {
		return false, err
	}
	return u.cancel(ctx, p, "checkout session expired")
}

// onIntentFailed finds the payment by intent id, or by the course/user
// metadata copied onto the intent when the intent id is not stored yet.
func (u *paymentUC) onIntentFailed(ctx context.Context, pi *adapter.PaymentIntentInfo) (bool, error) {
	if pi == nil || pi.ID == "" {
		return false, nil
	}
	p, err := u.payments.FindByIntent(ctx, repository.NoTX, pi.ID)
	if errors.Is(err, domain.ErrPaymentNotFound) && pi.Metadata["userId"] != "" && pi.Metadata["courseId"] != "" {
		p, err = u.payments.FindLatestByUserCourse(ctx, repository.NoTX, pi.Metadata["userId"], pi.Metadata["courseId"], model.PaymentStatusPending)
	}
	if err != nil {
		return false, err
	}
	reason := pi.FailureMessage
	if reason == "" {
		reason = "payment failed"
	}
	return u.fail(ctx, p, pi.ID, reason)
}

func (u *paymentUC) fail(ctx context.Context, p *model.Payment, intentID, reason string) (bool, error) {
	ok, err := u.payments.MarkFailed(ctx, repository.NoTX, p.ID, intentID, reason)
	if err != nil || !ok {
		return false, err
	}
	metrics.IncPayment(string(model.PaymentStatusFailed))
	u.publish(ctx, model.EventPaymentFailed, p, 0)
	logging.With(ctx, u.log).Info().Str("payment_id", p.ID).Str("reason", reason).Msg("payment failed")
	return true, nil
}
