package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"course-payments/internal/usecase"
)

// maxWebhookBody caps the raw payload read before signature verification.
const maxWebhookBody = 64 << 10

type Options struct {
	Port            int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration
	RateKey            func(userID, action string) string
}

// Server exposes the payment use case over HTTP.
type Server struct {
	payUC   usecase.PaymentUseCase
	auth    *Authenticator
	limiter RateLimiter // nil disables throttling
	opts    Options
	log     *zerolog.Logger
	http    *http.Server
}

func NewServer(payUC usecase.PaymentUseCase, auth *Authenticator, limiter RateLimiter, opts Options, logger *zerolog.Logger) *Server {
	if opts.RateKey == nil {
		opts.RateKey = func(userID, action string) string { return "rate_limit:" + userID + ":" + action }
	}
	l := logger.With().Str("component", "http").Logger()
	return &Server{payUC: payUC, auth: auth, limiter: limiter, opts: opts, log: &l}
}

// Router builds the full route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/payment/stripe", func(r chi.Router) {
		if s.opts.RequestTimeout > 0 {
			r.Use(Timeout(s.opts.RequestTimeout))
		}

		// signature-authenticated; the provider cannot carry a user token
		r.Post("/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireUser)

			r.With(LimitPerUser(s.limiter, "create_checkout", s.opts.CheckoutRateLimit, s.opts.CheckoutRateWindow, s.opts.RateKey, s.log)).
				Post("/create-checkout-session", s.handleCreateCheckout)
			r.Post("/verify-session/{sessionId}", s.handleVerify)
			r.Get("/session/{sessionId}", s.handleSessionDetails)
			r.Get("/payments", s.handleListPayments)

			r.With(RequireAdmin).Post("/refund/{paymentId}", s.handleRefund)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		fail(w, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		fail(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	return r
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", s.opts.Port).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if s.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}
