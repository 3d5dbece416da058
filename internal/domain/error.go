package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrUnauthenticated    = errors.New("user not authenticated")
	ErrForbidden          = errors.New("permission denied")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Lookups
	ErrCourseNotFound  = errors.New("course not found")
	ErrPaymentNotFound = errors.New("payment record not found")
	ErrSessionNotFound = errors.New("checkout session not found")

	// Conflicts
	ErrAlreadyEnrolled    = errors.New("already enrolled in this course")
	ErrAlreadyPurchased   = errors.New("payment already completed for this course")
	ErrCheckoutInProgress = errors.New("checkout already in progress for this course")
	ErrDuplicateSession   = errors.New("payment for this checkout session already exists")
	ErrDuplicatePending   = errors.New("pending payment for this course already exists")
	ErrLockHeld           = errors.New("lock already held")

	// Rejections
	ErrPaymentNotCompleted  = errors.New("payment not completed")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrNotRefundable        = errors.New("can only refund completed payments")
	ErrMissingPaymentIntent = errors.New("payment intent id not found")
	ErrInvalidRefundAmount  = errors.New("invalid refund amount")
	ErrProvider             = errors.New("payment provider request failed")
	ErrAmountOutOfRange     = errors.New("amount does not fit in minor units")
)
