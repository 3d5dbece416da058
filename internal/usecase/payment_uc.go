// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"course-payments/internal/domain"
	"course-payments/internal/domain/model"
	"course-payments/internal/domain/ports/adapter"
	"course-payments/internal/domain/ports/repository"
	"course-payments/internal/infra/logging"
	"course-payments/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Initiate returns a checkout session the caller can redirect to, reusing
	// an open one for the same course when it exists.
	Initiate(ctx context.Context, user model.Identity, courseID string) (*CheckoutResult, error)
	// Verify asks the provider whether the session is paid and completes the
	// caller's payment. Safe to repeat.
	Verify(ctx context.Context, userID, sessionID string) (*VerifyResult, error)
	SessionDetails(ctx context.Context, userID, sessionID string) (*SessionDetails, error)
	// ListByUser returns the caller's payments, newest first.
	ListByUser(ctx context.Context, userID string) ([]*model.Payment, error)
	// HandleWebhook verifies and applies one provider event.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)
	// Refund reverses amount (major units) or the whole remaining balance when nil.
	Refund(ctx context.Context, paymentID string, amount *decimal.Decimal) (*model.RefundOutcome, error)
	// Reconcile settles one stale pending payment against the provider.
	Reconcile(ctx context.Context, p *model.Payment) (ReconcileOutcome, error)
}

type CheckoutResult struct {
	SessionID  string
	SessionURL string
	PaymentID  string
	Reused     bool
}

type VerifyResult struct {
	PaymentID string
	Status    model.PaymentStatus
	CourseID  string
	SessionID string
}

type SessionSummary struct {
	ID            string
	Status        string
	PaymentStatus string
	AmountTotal   decimal.Decimal // major units
	Currency      string
}

type SessionDetails struct {
	Session SessionSummary
	Payment *model.Payment
}

type CheckoutOptions struct {
	Currency  string        // lower-case ISO code
	ClientURL string        // frontend base for redirect targets, no trailing slash
	LockTTL   time.Duration // lifetime of the per-(user, course) init lock
	Dev       bool          // log identifiers unredacted
}

type paymentUC struct {
	payments  repository.PaymentRepository
	courses   repository.CourseRepository
	provider  adapter.CheckoutProvider
	tx        repository.TransactionManager
	locker    adapter.Locker         // optional
	publisher adapter.EventPublisher // optional
	opts      CheckoutOptions
	log       *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	courses repository.CourseRepository,
	provider adapter.CheckoutProvider,
	tx repository.TransactionManager,
	locker adapter.Locker,
	publisher adapter.EventPublisher,
	opts CheckoutOptions,
	logger *zerolog.Logger,
) *paymentUC {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	l := logger.With().Str("component", "payment_uc").Logger()
	return &paymentUC{
		payments:  payments,
		courses:   courses,
		provider:  provider,
		tx:        tx,
		locker:    locker,
		publisher: publisher,
		opts:      opts,
		log:       &l,
	}
}

var (
	txOpts         = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	readOnlyTxOpts = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}
)

func checkoutLockKey(userID, courseID string) string {
	return fmt.Sprintf("lock:checkout:%s:%s", userID, courseID)
}

func (u *paymentUC) Initiate(ctx context.Context, user model.Identity, courseID string) (*CheckoutResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Initiate")()
	ctx = logging.WithCourseID(logging.WithUserID(ctx, user.ID), courseID)
	log := logging.With(ctx, u.log)

	if user.ID == "" || courseID == "" {
		return nil, domain.ErrInvalidArgument
	}

	if _, err := u.courses.FindByID(ctx, repository.NoTX, courseID); err != nil {
		return nil, err
	}

	enrolled, err := u.courses.IsEnrolled(ctx, repository.NoTX, courseID, user.ID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, domain.ErrAlreadyEnrolled
	}

	if u.locker != nil {
		key := checkoutLockKey(user.ID, courseID)
		token, lockErr := u.locker.TryLock(ctx, key, u.opts.LockTTL)
		switch {
		case errors.Is(lockErr, domain.ErrLockHeld):
			return nil, domain.ErrCheckoutInProgress
		case lockErr != nil:
			// the pending-per-course index still guards the insert
			log.Warn().Err(lockErr).Msg("checkout lock unavailable; continuing without it")
		default:
			defer func() {
				if err := u.locker.Unlock(context.Background(), key, token); err != nil {
					log.Warn().Err(err).Msg("failed to release checkout lock")
				}
			}()
		}
	}

	if _, err := u.payments.FindLatestByUserCourse(ctx, repository.NoTX, user.ID, courseID, model.PaymentStatusCompleted); err == nil {
		return nil, domain.ErrAlreadyPurchased
	} else if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}

	if pending, err := u.payments.FindLatestByUserCourse(ctx, repository.NoTX, user.ID, courseID, model.PaymentStatusPending); err == nil {
		log.Debug().Str("payment_id", pending.ID).Msg("reusing pending checkout session")
		return &CheckoutResult{SessionID: pending.SessionID, SessionURL: pending.CheckoutURL, PaymentID: pending.ID, Reused: true}, nil
	} else if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}

	// the price snapshot must not come from the course cache
	course, err := u.freshCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	unitAmount, err := model.ToMinor(course.Price)
	if err != nil || unitAmount <= 0 {
		return nil, fmt.Errorf("course %s has no valid price: %w", courseID, domain.ErrInvalidArgument)
	}

	description := course.Subtitle
	if description == "" {
		description = "Course enrollment"
	}
	q := url.QueryEscape(courseID)
	session, err := u.provider.CreateSession(ctx, adapter.CheckoutRequest{
		UserID:        user.ID,
		CustomerEmail: user.Email,
		CourseID:      courseID,
		ProductName:   course.Title,
		Description:   description,
		ImageURL:      course.Thumbnail,
		UnitAmount:    unitAmount,
		Currency:      u.opts.Currency,
		SuccessURL:    u.opts.ClientURL + "/payments/success?session_id={CHECKOUT_SESSION_ID}&courseId=" + q,
		CancelURL:     u.opts.ClientURL + "/payments/failure?courseId=" + q,
		Metadata:      map[string]string{"courseId": courseID, "userId": user.ID},
	})
	if err != nil {
		log.Error().Err(err).Msg("checkout session creation failed")
		return nil, err
	}

	p, err := model.NewPendingPayment(user.ID, courseID, u.provider.Name(), unitAmount, u.opts.Currency, session.ID, session.URL)
	if err != nil {
		return nil, err
	}
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		if errors.Is(err, domain.ErrDuplicatePending) {
			return u.adoptPending(ctx, user.ID, courseID, session.ID)
		}
		// the provider session is orphaned; it expires on its own if never paid
		log.Error().Err(err).Str("session_id", session.ID).Msg("pending payment not persisted; provider session orphaned")
		return nil, fmt.Errorf("persist pending payment: %w", domain.ErrOperationFailed)
	}

	metrics.IncPayment("initiated")
	log.Info().Str("payment_id", p.ID).Str("session_id", logging.Redact(session.ID, u.opts.Dev)).Int64("amount", unitAmount).Msg("checkout session created")
	return &CheckoutResult{SessionID: session.ID, SessionURL: session.URL, PaymentID: p.ID}, nil
}

// freshCourse reads the course inside a read-only transaction, which skips
// any caching decorator in front of the store.
func (u *paymentUC) freshCourse(ctx context.Context, courseID string) (*model.Course, error) {
	var course *model.Course
	err := u.tx.WithTx(ctx, readOnlyTxOpts, func(ctx context.Context, tx repository.Tx) error {
		var err error
		course, err = u.courses.FindByID(ctx, tx, courseID)
		return err
	})
	return course, err
}

// adoptPending resolves a lost insert race: another request stored its pending
// payment first, so the session created here is closed and theirs is returned.
func (u *paymentUC) adoptPending(ctx context.Context, userID, courseID, surplusSession string) (*CheckoutResult, error) {
	log := logging.With(ctx, u.log)
	if err := u.provider.ExpireSession(ctx, surplusSession); err != nil {
		log.Warn().Err(err).Str("session_id", surplusSession).Msg("failed to expire surplus checkout session")
	}
	pending, err := u.payments.FindLatestByUserCourse(ctx, repository.NoTX, userID, courseID, model.PaymentStatusPending)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{SessionID: pending.SessionID, SessionURL: pending.CheckoutURL, PaymentID: pending.ID, Reused: true}, nil
}

func (u *paymentUC) Verify(ctx context.Context, userID, sessionID string) (*VerifyResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Verify")()
	ctx = logging.WithSessID(logging.WithUserID(ctx, userID), sessionID)

	session, err := u.provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		metrics.IncVerify("error")
		return nil, err
	}
	if !session.Paid() {
		metrics.IncVerify("not_paid")
		return nil, domain.ErrPaymentNotCompleted
	}

	p, err := u.payments.FindBySessionForUser(ctx, repository.NoTX, sessionID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			metrics.IncVerify("not_found")
		}
		return nil, err
	}

	if p.Status.CanComplete() {
		if p, err = u.complete(ctx, p, session.PaymentIntentID, "verify"); err != nil {
			metrics.IncVerify("error")
			return nil, err
		}
		metrics.IncVerify("completed")
	} else {
		metrics.IncVerify("already_completed")
	}

	return &VerifyResult{PaymentID: p.ID, Status: p.Status, CourseID: p.CourseID, SessionID: p.SessionID}, nil
}

// complete is the single completion path for verify, webhook and reconciler.
// The status flip and the enrollment commit together; a second caller finds
// the payment no longer completable and gets the stored state back.
func (u *paymentUC) complete(ctx context.Context, p *model.Payment, intentID, source string) (*model.Payment, error) {
	log := logging.With(ctx, u.log).With().Str("payment_id", p.ID).Str("source", source).Logger()
	now := time.Now().UTC()

	var transitioned, enrolled bool
	err := u.tx.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.payments.MarkCompleted(ctx, tx, p.ID, intentID, now)
		if err != nil || !ok {
			return err
		}
		transitioned = true
		enrolled, err = u.courses.AddEnrollment(ctx, tx, p.CourseID, p.UserID)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("payment completion failed")
		return nil, err
	}

	if !transitioned {
		log.Debug().Msg("payment already settled; nothing to do")
		return u.payments.FindByID(ctx, repository.NoTX, p.ID)
	}

	done := *p
	done.Status = model.PaymentStatusCompleted
	done.PaymentDate = &now
	done.FailureReason = ""
	if intentID != "" {
		done.PaymentIntentID = intentID
	}
	done.UpdatedAt = now

	metrics.IncPayment(string(model.PaymentStatusCompleted))
	metrics.AddPaymentRevenue(done.Currency, done.Amount)
	u.publish(ctx, model.EventPaymentCompleted, &done, done.Amount)
	log.Info().Bool("newly_enrolled", enrolled).Msg("payment completed")
	return &done, nil
}

func (u *paymentUC) SessionDetails(ctx context.Context, userID, sessionID string) (*SessionDetails, error) {
	p, err := u.payments.FindBySessionForUser(ctx, repository.NoTX, sessionID, userID)
	if err != nil {
		return nil, err
	}
	s, err := u.provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionDetails{
		Session: SessionSummary{
			ID:            s.ID,
			Status:        s.Status,
			PaymentStatus: s.PaymentStatus,
			AmountTotal:   model.FromMinor(s.AmountTotal),
			Currency:      s.Currency,
		},
		Payment: p,
	}, nil
}

func (u *paymentUC) ListByUser(ctx context.Context, userID string) ([]*model.Payment, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.payments.ListByUser(ctx, repository.NoTX, userID)
}

type ReconcileOutcome string

const (
	ReconcileCompleted ReconcileOutcome = "completed"
	ReconcileCancelled ReconcileOutcome = "cancelled"
	ReconcileOpen      ReconcileOutcome = "still_open"
)

func (u *paymentUC) Reconcile(ctx context.Context, p *model.Payment) (ReconcileOutcome, error) {
	ctx = logging.WithSessID(ctx, p.SessionID)
	session, err := u.provider.RetrieveSession(ctx, p.SessionID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		_, err = u.cancel(ctx, p, "checkout session not found at provider")
		return ReconcileCancelled, err
	case err != nil:
		return "", err
	case session.Paid():
		if _, err := u.complete(ctx, p, session.PaymentIntentID, "reconciler"); err != nil {
			return "", err
		}
		return ReconcileCompleted, nil
	case session.Status == adapter.SessionStatusExpired:
		_, err = u.cancel(ctx, p, "checkout session expired")
		return ReconcileCancelled, err
	default:
		return ReconcileOpen, nil
	}
}

func (u *paymentUC) cancel(ctx context.Context, p *model.Payment, reason string) (bool, error) {
	ok, err := u.payments.MarkCancelled(ctx, repository.NoTX, p.ID, reason)
	if err != nil || !ok {
		return false, err
	}
	metrics.IncPayment(string(model.PaymentStatusCancelled))
	u.publish(ctx, model.EventPaymentCancelled, p, 0)
	logging.With(ctx, u.log).Info().Str("payment_id", p.ID).Str("reason", reason).Msg("payment cancelled")
	return true, nil
}

// publish is fire-and-forget; state changes never fail on event delivery.
func (u *paymentUC) publish(ctx context.Context, t model.PaymentEventType, p *model.Payment, amount int64) {
	if u.publisher == nil {
		return
	}
	if err := u.publisher.Publish(ctx, model.NewPaymentEvent(t, p, amount)); err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Str("event_type", string(t)).Str("payment_id", p.ID).Msg("payment event not published")
	}
}
