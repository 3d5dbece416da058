package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"course-payments/internal/domain/ports/repository"
	"course-payments/internal/infra/metrics"
	"course-payments/internal/usecase"
)

const reconcileBatch = 200

// PaymentReconciler periodically settles pending payments whose webhook never
// arrived and whose buyer never came back to verify.
type PaymentReconciler struct {
	uc         usecase.PaymentUseCase
	payments   repository.PaymentRepository
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending payment must be to be checked
	log        *zerolog.Logger
}

func NewPaymentReconciler(uc usecase.PaymentUseCase, payments repository.PaymentRepository, interval, staleAfter time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{uc: uc, payments: payments, interval: interval, staleAfter: staleAfter, log: &l}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one pass and returns how many payments left the pending state.
func (w *PaymentReconciler) Tick(ctx context.Context) int {
	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.payments.ListPendingOlderThan(ctx, repository.NoTX, cutoff, reconcileBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale pending payments failed")
		metrics.IncReconcile("error")
		return 0
	}

	settled := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		out, err := w.uc.Reconcile(ctx, p)
		if err != nil {
			metrics.IncReconcile("error")
			w.log.Warn().Err(err).Str("payment_id", p.ID).Msg("reconcile failed")
			continue
		}
		metrics.IncReconcile(string(out))
		if out != usecase.ReconcileOpen {
			settled++
			w.log.Info().Str("payment_id", p.ID).Str("outcome", string(out)).Msg("payment reconciled")
		}
	}
	if len(pending) > 0 {
		w.log.Debug().Int("checked", len(pending)).Int("settled", settled).Msg("reconcile pass done")
	}
	return settled
}
