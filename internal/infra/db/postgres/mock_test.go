//go:build !integration

package postgres

import (
	"context"
	"time"

	"course-payments/internal/domain/model"
	"course-payments/internal/domain/ports/repository"
	red "course-payments/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerCourseRepo mocks the database repository that the Course decorator wraps.
type mockInnerCourseRepo struct {
	FindByIDFunc         func(ctx context.Context, tx repository.Tx, id string) (*model.Course, error)
	IsEnrolledFunc       func(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error)
	AddEnrollmentFunc    func(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error)
	RemoveEnrollmentFunc func(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error)
}

func (m *mockInnerCourseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerCourseRepo) IsEnrolled(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	return m.IsEnrolledFunc(ctx, tx, courseID, userID)
}
func (m *mockInnerCourseRepo) AddEnrollment(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	return m.AddEnrollmentFunc(ctx, tx, courseID, userID)
}
func (m *mockInnerCourseRepo) RemoveEnrollment(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	return m.RemoveEnrollmentFunc(ctx, tx, courseID, userID)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
