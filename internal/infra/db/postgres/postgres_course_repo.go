package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"course-payments/internal/domain"
	"course-payments/internal/domain/model"
	"course-payments/internal/domain/ports/repository"
)

var _ repository.CourseRepository = (*courseRepo)(nil)

type courseRepo struct{ pool *pgxpool.Pool }

func NewCourseRepo(pool *pgxpool.Pool) *courseRepo {
	return &courseRepo{pool: pool}
}

func (r *courseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	const q = `SELECT id, title, subtitle, thumbnail, price::text, is_published FROM courses WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}

	c := &model.Course{}
	var price string
	if err := row.Scan(&c.ID, &c.Title, &c.Subtitle, &c.Thumbnail, &price, &c.Published); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCourseNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if c.Price, err = decimal.NewFromString(price); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return c, nil
}

func (r *courseRepo) IsEnrolled(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM course_enrollments WHERE course_id=$1 AND user_id=$2);`
	row, err := pickRow(ctx, r.pool, tx, q, courseID, userID)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return ok, nil
}

func (r *courseRepo) AddEnrollment(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	const q = `INSERT INTO course_enrollments (course_id, user_id, enrolled_at) VALUES ($1, $2, NOW()) ON CONFLICT DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, courseID, userID)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *courseRepo) RemoveEnrollment(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	const q = `DELETE FROM course_enrollments WHERE course_id=$1 AND user_id=$2;`
	cmd, err := execSQL(ctx, r.pool, tx, q, courseID, userID)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

// Insert adds a catalog row unless the id already exists. Used by the seed
// command; the service itself never writes courses.
func (r *courseRepo) Insert(ctx context.Context, tx repository.Tx, c *model.Course) (bool, error) {
	const q = `
INSERT INTO courses (id, title, subtitle, thumbnail, price, is_published)
VALUES ($1, $2, $3, $4, $5::numeric, $6)
ON CONFLICT (id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, c.ID, c.Title, c.Subtitle, c.Thumbnail, c.Price.StringFixed(2), c.Published)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}
