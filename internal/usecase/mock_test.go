//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"course-payments/internal/domain"
	"course-payments/internal/domain/model"
	"course-payments/internal/domain/ports/adapter"
	"course-payments/internal/domain/ports/repository"
)

// =============================
// Adapters
// =============================

// ---- Mock CheckoutProvider ----

type MockCheckoutProvider struct {
	mu       sync.Mutex
	sessions map[string]*adapter.CheckoutSession
	seq      int

	CreateSessionFunc   func(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error)
	RetrieveSessionFunc func(ctx context.Context, sessionID string) (*adapter.CheckoutSession, error)
	RefundFunc          func(ctx context.Context, paymentIntentID string, amount *int64) (adapter.RefundResult, error)
	ParseWebhookFunc    func(payload []byte, signatureHeader string) (*adapter.WebhookEvent, error)

	Calls struct {
		Create   []adapter.CheckoutRequest
		Retrieve []string
		Expired  []string
		Refunds  []int64
	}
}

var _ adapter.CheckoutProvider = (*MockCheckoutProvider)(nil)

func NewMockCheckoutProvider() *MockCheckoutProvider {
	return &MockCheckoutProvider{sessions: map[string]*adapter.CheckoutSession{}}
}

func (m *MockCheckoutProvider) Name() string { return "stripe" }

func (m *MockCheckoutProvider) CreateSession(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	m.mu.Lock()
	m.Calls.Create = append(m.Calls.Create, req)
	m.mu.Unlock()
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("cs_test_%d", m.seq)
	s := &adapter.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.stripe.com/c/pay/" + id,
		Status:        adapter.SessionStatusOpen,
		PaymentStatus: adapter.SessionPaymentUnpaid,
		AmountTotal:   req.UnitAmount,
		Currency:      req.Currency,
		Metadata:      req.Metadata,
	}
	m.sessions[id] = s
	cp := *s
	return &cp, nil
}

// Pay marks a stored session as settled with the given intent.
func (m *MockCheckoutProvider) Pay(sessionID, intentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &adapter.CheckoutSession{ID: sessionID}
		m.sessions[sessionID] = s
	}
	s.Status = adapter.SessionStatusComplete
	s.PaymentStatus = adapter.SessionPaymentPaid
	s.PaymentIntentID = intentID
}

func (m *MockCheckoutProvider) SetStatus(sessionID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.Status = status
	}
}

func (m *MockCheckoutProvider) RetrieveSession(ctx context.Context, sessionID string) (*adapter.CheckoutSession, error) {
	m.mu.Lock()
	m.Calls.Retrieve = append(m.Calls.Retrieve, sessionID)
	m.mu.Unlock()
	if m.RetrieveSessionFunc != nil {
		return m.RetrieveSessionFunc(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockCheckoutProvider) ExpireSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls.Expired = append(m.Calls.Expired, sessionID)
	if s, ok := m.sessions[sessionID]; ok {
		s.Status = adapter.SessionStatusExpired
	}
	return nil
}

func (m *MockCheckoutProvider) Refund(ctx context.Context, paymentIntentID string, amount *int64) (adapter.RefundResult, error) {
	var a int64
	if amount != nil {
		a = *amount
	}
	m.mu.Lock()
	m.Calls.Refunds = append(m.Calls.Refunds, a)
	m.mu.Unlock()
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, paymentIntentID, amount)
	}
	return adapter.RefundResult{ID: "re_" + paymentIntentID, Status: "succeeded", RefundAmount: a, RefundTime: now()}, nil
}

func (m *MockCheckoutProvider) ParseWebhook(payload []byte, signatureHeader string) (*adapter.WebhookEvent, error) {
	if m.ParseWebhookFunc != nil {
		return m.ParseWebhookFunc(payload, signatureHeader)
	}
	return nil, domain.ErrInvalidSignature
}

// ---- Mock EventPublisher ----

type MockPublisher struct {
	mu     sync.Mutex
	Events []model.PaymentEvent

	PublishFunc func(ctx context.Context, evt model.PaymentEvent) error
}

var _ adapter.EventPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, evt model.PaymentEvent) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, evt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, evt)
	return nil
}

func (m *MockPublisher) Types() []model.PaymentEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PaymentEventType, len(m.Events))
	for i, e := range m.Events {
		out[i] = e.Type
	}
	return out
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string

	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker { return &MockLocker{held: map[string]string{}} }

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return "", domain.ErrLockHeld
	}
	tok := fmt.Sprintf("tok-%d", time.Now().UnixNano())
	m.held[key] = tok
	return tok, nil
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

func (m *MockLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

// =============================
// Repositories
// =============================

// ---- Mock PaymentRepository ----

// MockPaymentRepo keeps payments in memory and enforces the same uniqueness
// rules as the database: one row per session, one pending and one completed
// payment per (user, course).
type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.Payment

	SaveFunc          func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	MarkCompletedFunc func(ctx context.Context, tx repository.Tx, id, paymentIntentID string, paidAt time.Time) (bool, error)
	ApplyRefundFunc   func(ctx context.Context, tx repository.Tx, id string, amount int64, refundedAt time.Time) (*model.Payment, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.Payment{}}
}

func (m *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.data {
		if x.SessionID == p.SessionID {
			return domain.ErrDuplicateSession
		}
		if x.UserID == p.UserID && x.CourseID == p.CourseID && x.Status == p.Status {
			switch p.Status {
			case model.PaymentStatusPending:
				return domain.ErrDuplicatePending
			case model.PaymentStatusCompleted:
				return domain.ErrAlreadyPurchased
			}
		}
	}
	cp := *p
	m.data[p.ID] = &cp
	return nil
}

func (m *MockPaymentRepo) find(match func(*model.Payment) bool) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Payment
	for _, x := range m.data {
		if match(x) && (best == nil || x.CreatedAt.After(best.CreatedAt)) {
			best = x
		}
	}
	if best == nil {
		return nil, domain.ErrPaymentNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	return m.find(func(p *model.Payment) bool { return p.ID == id })
}

func (m *MockPaymentRepo) FindBySession(ctx context.Context, tx repository.Tx, sessionID string) (*model.Payment, error) {
	return m.find(func(p *model.Payment) bool { return p.SessionID == sessionID })
}

func (m *MockPaymentRepo) FindBySessionForUser(ctx context.Context, tx repository.Tx, sessionID, userID string) (*model.Payment, error) {
	return m.find(func(p *model.Payment) bool { return p.SessionID == sessionID && p.UserID == userID })
}

func (m *MockPaymentRepo) FindByIntent(ctx context.Context, tx repository.Tx, paymentIntentID string) (*model.Payment, error) {
	return m.find(func(p *model.Payment) bool { return paymentIntentID != "" && p.PaymentIntentID == paymentIntentID })
}

func (m *MockPaymentRepo) FindLatestByUserCourse(ctx context.Context, tx repository.Tx, userID, courseID string, status model.PaymentStatus) (*model.Payment, error) {
	return m.find(func(p *model.Payment) bool {
		return p.UserID == userID && p.CourseID == courseID && p.Status == status
	})
}

func (m *MockPaymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, x := range m.data {
		if x.UserID == userID {
			cp := *x
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, x := range m.data {
		if x.Status == model.PaymentStatusPending && x.CreatedAt.Before(olderThan) {
			cp := *x
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPaymentRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id, paymentIntentID string, paidAt time.Time) (bool, error) {
	if m.MarkCompletedFunc != nil {
		return m.MarkCompletedFunc(ctx, tx, id, paymentIntentID, paidAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id]
	if !ok || !p.Status.CanComplete() {
		return false, nil
	}
	for _, x := range m.data {
		if x.ID != id && x.UserID == p.UserID && x.CourseID == p.CourseID && x.Status == model.PaymentStatusCompleted {
			return false, domain.ErrAlreadyPurchased
		}
	}
	p.Status = model.PaymentStatusCompleted
	if paymentIntentID != "" {
		p.PaymentIntentID = paymentIntentID
	}
	p.PaymentDate = &paidAt
	p.FailureReason = ""
	p.UpdatedAt = paidAt
	return true, nil
}

func (m *MockPaymentRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, paymentIntentID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = model.PaymentStatusFailed
	if paymentIntentID != "" {
		p.PaymentIntentID = paymentIntentID
	}
	p.FailureReason = reason
	return true, nil
}

func (m *MockPaymentRepo) MarkCancelled(ctx context.Context, tx repository.Tx, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id]
	if !ok || !p.Status.CanComplete() {
		return false, nil
	}
	p.Status = model.PaymentStatusCancelled
	p.FailureReason = reason
	return true, nil
}

func (m *MockPaymentRepo) ApplyRefund(ctx context.Context, tx repository.Tx, id string, amount int64, refundedAt time.Time) (*model.Payment, error) {
	if m.ApplyRefundFunc != nil {
		return m.ApplyRefundFunc(ctx, tx, id, amount, refundedAt)
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidRefundAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id]
	if !ok || p.Status != model.PaymentStatusCompleted || p.RefundedAmount+amount > p.Amount {
		return nil, domain.ErrNotRefundable
	}
	p.RefundedAmount += amount
	p.RefundDate = &refundedAt
	if p.RefundedAmount >= p.Amount {
		p.Status = model.PaymentStatusRefunded
	}
	cp := *p
	return &cp, nil
}

// Get returns a copy of the stored payment or nil.
func (m *MockPaymentRepo) Get(id string) *model.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.data[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Put overwrites the stored row, bypassing uniqueness checks.
func (m *MockPaymentRepo) Put(p *model.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.data[p.ID] = &cp
}

func (m *MockPaymentRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// ---- Mock CourseRepository ----

type MockCourseRepo struct {
	mu       sync.Mutex
	courses  map[string]*model.Course
	enrolled map[string]map[string]bool // course -> users

	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.Course, error)
	AddEnrollmentFunc func(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error)
}

var _ repository.CourseRepository = (*MockCourseRepo)(nil)

func NewMockCourseRepo() *MockCourseRepo {
	return &MockCourseRepo{courses: map[string]*model.Course{}, enrolled: map[string]map[string]bool{}}
}

func (m *MockCourseRepo) Put(id, price string) *model.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &model.Course{ID: id, Title: "Course " + id, Price: decimal.RequireFromString(price), Published: true}
	m.courses[id] = c
	return c
}

func (m *MockCourseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, domain.ErrCourseNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockCourseRepo) IsEnrolled(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enrolled[courseID][userID], nil
}

func (m *MockCourseRepo) AddEnrollment(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	if m.AddEnrollmentFunc != nil {
		return m.AddEnrollmentFunc(ctx, tx, courseID, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enrolled[courseID] == nil {
		m.enrolled[courseID] = map[string]bool{}
	}
	if m.enrolled[courseID][userID] {
		return false, nil
	}
	m.enrolled[courseID][userID] = true
	return true, nil
}

func (m *MockCourseRepo) RemoveEnrollment(ctx context.Context, tx repository.Tx, courseID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enrolled[courseID][userID] {
		return false, nil
	}
	delete(m.enrolled[courseID], userID)
	return true, nil
}

func (m *MockCourseRepo) Enrolled(courseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enrolled[courseID])
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc overrides it.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Helpers
// =============================

func now() time.Time { return time.Now().Truncate(time.Millisecond) }

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
