package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-payments/internal/domain"
	"course-payments/internal/domain/model"
	"course-payments/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

const (
	constraintPaymentSession   = "payments_session_id_key"
	constraintPendingPerCourse = "uq_payments_pending_user_course"
	constraintPaidPerCourse    = "uq_payments_completed_user_course"
)

const paymentColumns = `id, user_id, course_id, provider, amount, currency, status, session_id,
  payment_intent_id, checkout_url, payment_date, refunded_amount, refund_date, failure_reason,
  created_at, updated_at`

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row scanner) (*model.Payment, error) {
	p := new(model.Payment)
	var status string
	err := row.Scan(&p.ID, &p.UserID, &p.CourseID, &p.Provider, &p.Amount, &p.Currency, &status, &p.SessionID,
		&p.PaymentIntentID, &p.CheckoutURL, &p.PaymentDate, &p.RefundedAmount, &p.RefundDate, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	p.Status = model.PaymentStatus(status)
	return p, nil
}

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, user_id, course_id, provider, amount, currency, status, session_id, payment_intent_id,
  checkout_url, payment_date, refunded_amount, refund_date, failure_reason, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
);`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.CourseID, p.Provider, p.Amount, p.Currency,
		string(p.Status), p.SessionID, p.PaymentIntentID, p.CheckoutURL, p.PaymentDate, p.RefundedAmount,
		p.RefundDate, p.FailureReason, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if name, ok := uniqueViolation(err); ok {
			switch name {
			case constraintPaymentSession:
				return domain.ErrDuplicateSession
			case constraintPendingPerCourse:
				return domain.ErrDuplicatePending
			case constraintPaidPerCourse:
				return domain.ErrAlreadyPurchased
			}
			return domain.ErrAlreadyExists
		}
		return mapErr(err)
	}
	return nil
}

func (r *paymentRepo) findOne(ctx context.Context, tx repository.Tx, where string, args ...interface{}) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE `+where, tx)
	row, err := pickRow(ctx, r.pool, tx, q+";", args...)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	return r.findOne(ctx, tx, `id=$1`, id)
}

func (r *paymentRepo) FindBySession(ctx context.Context, tx repository.Tx, sessionID string) (*model.Payment, error) {
	return r.findOne(ctx, tx, `session_id=$1`, sessionID)
}

func (r *paymentRepo) FindBySessionForUser(ctx context.Context, tx repository.Tx, sessionID, userID string) (*model.Payment, error) {
	return r.findOne(ctx, tx, `session_id=$1 AND user_id=$2`, sessionID, userID)
}

func (r *paymentRepo) FindByIntent(ctx context.Context, tx repository.Tx, paymentIntentID string) (*model.Payment, error) {
	if paymentIntentID == "" {
		return nil, domain.ErrPaymentNotFound
	}
	return r.findOne(ctx, tx, `payment_intent_id=$1 ORDER BY created_at DESC LIMIT 1`, paymentIntentID)
}

func (r *paymentRepo) FindLatestByUserCourse(ctx context.Context, tx repository.Tx, userID, courseID string, status model.PaymentStatus) (*model.Payment, error) {
	return r.findOne(ctx, tx, `user_id=$1 AND course_id=$2 AND status=$3 ORDER BY created_at DESC LIMIT 1`,
		userID, courseID, string(status))
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]*model.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE user_id=$1 ORDER BY created_at DESC;`
	return r.list(ctx, tx, q, userID)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

// MarkCompleted atomically completes a payment only while it is pending or failed.
func (r *paymentRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id, paymentIntentID string, paidAt time.Time) (bool, error) {
	const q = `
    UPDATE payments
       SET status = 'completed',
           payment_intent_id = COALESCE(NULLIF($2, ''), payment_intent_id),
           payment_date = $3,
           failure_reason = '',
           updated_at = NOW()
     WHERE id = $1
       AND status IN ('pending','failed')`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, paymentIntentID, paidAt)
	if err != nil {
		if name, ok := uniqueViolation(err); ok && name == constraintPaidPerCourse {
			return false, domain.ErrAlreadyPurchased
		}
		return false, mapErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, paymentIntentID, reason string) (bool, error) {
	const q = `
    UPDATE payments
       SET status = 'failed',
           payment_intent_id = COALESCE(NULLIF($2, ''), payment_intent_id),
           failure_reason = $3,
           updated_at = NOW()
     WHERE id = $1
       AND status = 'pending'`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, paymentIntentID, reason)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) MarkCancelled(ctx context.Context, tx repository.Tx, id, reason string) (bool, error) {
	const q = `
    UPDATE payments
       SET status = 'cancelled',
           failure_reason = $2,
           updated_at = NOW()
     WHERE id = $1
       AND status IN ('pending','failed')`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, reason)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

// ApplyRefund accumulates the refunded total in one statement so concurrent
// partial refunds cannot lose an update.
func (r *paymentRepo) ApplyRefund(ctx context.Context, tx repository.Tx, id string, amount int64, refundedAt time.Time) (*model.Payment, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidRefundAmount
	}
	const q = `
    UPDATE payments
       SET refunded_amount = refunded_amount + $2,
           status = CASE WHEN refunded_amount + $2 >= amount THEN 'refunded' ELSE status END,
           refund_date = $3,
           updated_at = NOW()
     WHERE id = $1
       AND status = 'completed'
       AND refunded_amount + $2 <= amount
 RETURNING ` + paymentColumns + `;`

	row, err := pickRow(ctx, r.pool, tx, q, id, amount, refundedAt)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		// the row exists but is no longer refundable for this amount
		return nil, domain.ErrNotRefundable
	}
	return p, err
}
