package repository

import (
	"context"

	"course-payments/internal/domain/model"
)

// -----------------------------
// Courses (catalog-owned, read + enrollment only)
// -----------------------------

type CourseRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Course, error)
	IsEnrolled(ctx context.Context, tx Tx, courseID, userID string) (bool, error)
	// AddEnrollment is a set-add; it reports whether the user was newly added.
	AddEnrollment(ctx context.Context, tx Tx, courseID, userID string) (bool, error)
	// RemoveEnrollment reports whether the user was enrolled before the call.
	RemoveEnrollment(ctx context.Context, tx Tx, courseID, userID string) (bool, error)
}
