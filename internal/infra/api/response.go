package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"course-payments/internal/domain"
)

type envelope struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, code int, body envelope) {
	body.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, code int, msg string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: msg, Data: data})
}

func fail(w http.ResponseWriter, code int, msg string, err error) {
	e := envelope{Message: msg}
	if err != nil {
		e.Error = err.Error()
	}
	writeJSON(w, code, e)
}

// statusFor maps domain errors onto HTTP codes. Anything unknown is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrCourseNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyEnrolled),
		errors.Is(err, domain.ErrAlreadyPurchased),
		errors.Is(err, domain.ErrCheckoutInProgress),
		errors.Is(err, domain.ErrDuplicateSession),
		errors.Is(err, domain.ErrDuplicatePending),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentNotCompleted),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrNotRefundable),
		errors.Is(err, domain.ErrMissingPaymentIntent),
		errors.Is(err, domain.ErrInvalidRefundAmount),
		errors.Is(err, domain.ErrProvider),
		errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fromError writes the error envelope for err. Internal failures keep their
// detail in the log only.
func fromError(w http.ResponseWriter, log *zerolog.Logger, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		fail(w, code, msg, errors.New("internal server error"))
		return
	}
	fail(w, code, msg, err)
}
