package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"course-payments/internal/domain"
	"course-payments/internal/domain/model"
	"course-payments/internal/infra/logging"
)

type paymentView struct {
	ID              string          `json:"id"`
	CourseID        string          `json:"courseId"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	SessionID       string          `json:"sessionId"`
	PaymentIntentID string          `json:"paymentIntentId,omitempty"`
	PaymentDate     *time.Time      `json:"paymentDate,omitempty"`
	RefundedAmount  decimal.Decimal `json:"refundedAmount"`
	RefundDate      *time.Time      `json:"refundDate,omitempty"`
	FailureReason   string          `json:"failureReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func toView(p *model.Payment) paymentView {
	return paymentView{
		ID:              p.ID,
		CourseID:        p.CourseID,
		Status:          string(p.Status),
		Amount:          model.FromMinor(p.Amount),
		Currency:        p.Currency,
		SessionID:       p.SessionID,
		PaymentIntentID: p.PaymentIntentID,
		PaymentDate:     p.PaymentDate,
		RefundedAmount:  model.FromMinor(p.RefundedAmount),
		RefundDate:      p.RefundDate,
		FailureReason:   p.FailureReason,
		CreatedAt:       p.CreatedAt,
	}
}

type createCheckoutRequest struct {
	CourseID string `json:"courseId"`
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req createCheckoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.CourseID = strings.TrimSpace(req.CourseID)
	if req.CourseID == "" {
		fail(w, http.StatusBadRequest, "courseId is required", domain.ErrInvalidArgument)
		return
	}

	res, err := s.payUC.Initiate(r.Context(), id, req.CourseID)
	if err != nil {
		fromError(w, logging.With(r.Context(), s.log), "could not create checkout session", err)
		return
	}
	msg := "Checkout session created"
	if res.Reused {
		msg = "Existing checkout session returned"
	}
	ok(w, http.StatusOK, msg, map[string]string{
		"sessionId":  res.SessionID,
		"sessionUrl": res.SessionURL,
		"paymentId":  res.PaymentID,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	res, err := s.payUC.Verify(r.Context(), id.ID, sessionID)
	if err != nil {
		fromError(w, logging.With(r.Context(), s.log), "payment verification failed", err)
		return
	}
	ok(w, http.StatusOK, "Payment verified", map[string]string{
		"paymentId": res.PaymentID,
		"status":    string(res.Status),
		"courseId":  res.CourseID,
		"sessionId": res.SessionID,
	})
}

func (s *Server) handleSessionDetails(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	d, err := s.payUC.SessionDetails(r.Context(), id.ID, chi.URLParam(r, "sessionId"))
	if err != nil {
		fromError(w, logging.With(r.Context(), s.log), "could not load session", err)
		return
	}
	ok(w, http.StatusOK, "Session retrieved", map[string]any{
		"session": map[string]any{
			"id":            d.Session.ID,
			"status":        d.Session.Status,
			"paymentStatus": d.Session.PaymentStatus,
			"amountTotal":   d.Session.AmountTotal,
			"currency":      d.Session.Currency,
		},
		"payment": toView(d.Payment),
	})
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	list, err := s.payUC.ListByUser(r.Context(), id.ID)
	if err != nil {
		fromError(w, logging.With(r.Context(), s.log), "could not list payments", err)
		return
	}
	out := make([]paymentView, 0, len(list))
	for _, p := range list {
		out = append(out, toView(p))
	}
	ok(w, http.StatusOK, "Payments retrieved", out)
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"` // major units; omitted refunds the remainder
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			fail(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	out, err := s.payUC.Refund(r.Context(), chi.URLParam(r, "paymentId"), req.Amount)
	if err != nil {
		fromError(w, logging.With(r.Context(), s.log), "refund failed", err)
		return
	}
	ok(w, http.StatusOK, "Refund processed", map[string]any{
		"refundId":       out.RefundID,
		"refundedAmount": model.FromMinor(out.RefundedAmount),
		"totalRefunded":  model.FromMinor(out.TotalRefunded),
		"status":         string(out.PaymentStatus),
		"unenrolled":     out.Unenrolled,
	})
}

// handleWebhook must see the body byte-for-byte; any re-encoding breaks the signature.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		fail(w, http.StatusBadRequest, "webhook payload too large or unreadable", err)
		return
	}

	res, err := s.payUC.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		fromError(w, logging.With(r.Context(), s.log), "webhook rejected", err)
		return
	}
	ok(w, http.StatusOK, "Webhook received", map[string]any{
		"received": true,
		"eventId":  res.EventID,
		"handled":  res.Handled,
	})
}
