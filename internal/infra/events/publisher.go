package events

import (
	"context"

	"github.com/rs/zerolog"

	"course-payments/internal/domain/model"
	"course-payments/internal/domain/ports/adapter"
	"course-payments/internal/infra/logging"
	"course-payments/internal/infra/worker"
)

// NoopPublisher drops events; used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, model.PaymentEvent) error { return nil }

var (
	_ adapter.EventPublisher = NoopPublisher{}
	_ adapter.EventPublisher = (*AsyncPublisher)(nil)
)

// AsyncPublisher hands events to a worker pool so request paths never wait
// on the broker. Delivery is best-effort.
type AsyncPublisher struct {
	inner adapter.EventPublisher
	pool  *worker.Pool
	log   *zerolog.Logger
}

func NewAsyncPublisher(inner adapter.EventPublisher, pool *worker.Pool, logger *zerolog.Logger) *AsyncPublisher {
	l := logger.With().Str("component", "async_publisher").Logger()
	return &AsyncPublisher{inner: inner, pool: pool, log: &l}
}

func (a *AsyncPublisher) Publish(ctx context.Context, evt model.PaymentEvent) error {
	// keep the trace id, drop the request deadline
	traceID := logging.TraceID(ctx)
	err := a.pool.Submit(func(wctx context.Context) error {
		if traceID != "" {
			wctx = logging.WithTraceID(wctx, traceID)
		}
		return a.inner.Publish(wctx, evt)
	})
	if err != nil {
		a.log.Warn().Err(err).Str("event_type", string(evt.Type)).Str("payment_id", evt.PaymentID).Msg("event dropped")
	}
	return err
}
