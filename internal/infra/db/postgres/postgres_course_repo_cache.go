package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"course-payments/internal/domain/model"
	"course-payments/internal/domain/ports/repository"
	"course-payments/internal/infra/metrics"
	red "course-payments/internal/infra/redis"
)

var _ repository.CourseRepository = (*courseRepoCacheDecorator)(nil)

// courseRepoCacheDecorator caches course metadata only. Enrollment reads and
// writes always go to the inner repository.
type courseRepoCacheDecorator struct {
	inner repository.CourseRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewCourseRepoCacheDecorator(inner repository.CourseRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.CourseRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "course_cache").Logger()
	return &courseRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func courseKey(id string) string { return fmt.Sprintf("course:%s", id) }

// FindByID bypasses the cache inside a transaction so row reads stay consistent.
func (d *courseRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := courseKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var c model.Course
		if json.Unmarshal([]byte(val), &c) == nil {
			metrics.IncCacheRequest("course", "hit")
			return &c, nil
		}
	} else if !red.IsMiss(err) {
		d.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
	}

	metrics.IncCacheRequest("course", "miss")
	c, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, mErr := json.Marshal(c); mErr == nil {
		if sErr := d.cache.Set(ctx, key, b, d.ttl); sErr != nil {
			d.log.Warn().Err(sErr).Str("key", key).Msg("cache set failed")
		}
	}
	return c, nil
}

func (d *courseRepoCacheDecorator) IsEnrolled(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	return d.inner.IsEnrolled(ctx, tx, courseID, userID)
}

func (d *courseRepoCacheDecorator) AddEnrollment(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	return d.inner.AddEnrollment(ctx, tx, courseID, userID)
}

func (d *courseRepoCacheDecorator) RemoveEnrollment(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	return d.inner.RemoveEnrollment(ctx, tx, courseID, userID)
}
