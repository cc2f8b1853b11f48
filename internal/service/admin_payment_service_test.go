package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luminalearn/coursepay-api/internal/models"
	"github.com/luminalearn/coursepay-api/internal/notify"
	"github.com/luminalearn/coursepay-api/internal/repository"
	appErrors "github.com/luminalearn/coursepay-api/pkg/errors"
)

type mockAdminPaymentRepo struct {
	mu sync.Mutex

	payments map[string]*models.Payment
	details  map[string]*models.PaymentDetail

	paidByEnrollment  float64
	paidCount         int
	staleSumSnapshot  *float64
	settledInserts    []*models.Payment
	settledAudits     []*models.AuditLogEntry
	transitions       []models.PaymentStatus
	transitionAudits  []*models.AuditLogEntry
	transitionApplied bool
	activations       int
	activationAudits  []*models.AuditLogEntry
}

func newMockAdminPaymentRepo(payments ...*models.Payment) *mockAdminPaymentRepo {
	repo := &mockAdminPaymentRepo{
		payments:          make(map[string]*models.Payment),
		details:           make(map[string]*models.PaymentDetail),
		transitionApplied: true,
	}
	for _, p := range payments {
		repo.payments[p.ID] = p
	}
	return repo
}

func (m *mockAdminPaymentRepo) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *p
	return &clone, nil
}

func (m *mockAdminPaymentRepo) FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error) {
	if d, ok := m.details[id]; ok {
		return d, nil
	}
	p, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.PaymentDetail{Payment: *p, PayerName: "Ada Bello", PayerEmail: "payer@example.com", CourseName: "Distributed Systems"}, nil
}

func (m *mockAdminPaymentRepo) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error) {
	var out []models.PaymentDetail
	for _, p := range m.payments {
		out = append(out, models.PaymentDetail{Payment: *p})
	}
	return out, len(out), nil
}

func (m *mockAdminPaymentRepo) ExportRows(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, error) {
	rows, _, err := m.List(ctx, filter)
	return rows, err
}

func (m *mockAdminPaymentRepo) Summary(ctx context.Context) ([]models.PaymentSummary, error) {
	return []models.PaymentSummary{{Status: models.PaymentStatusSuccessful, Count: 2, Amount: 1000}}, nil
}

func (m *mockAdminPaymentRepo) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range m.payments {
		if p.EnrollmentID == enrollmentID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockAdminPaymentRepo) SumSuccessfulByEnrollment(ctx context.Context, enrollmentID string) (float64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleSumSnapshot != nil {
		return *m.staleSumSnapshot, m.paidCount, nil
	}
	return m.paidByEnrollment, m.paidCount, nil
}

func (m *mockAdminPaymentRepo) Activate(ctx context.Context, params ActivationParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[params.PaymentID]
	if !ok {
		return false, sql.ErrNoRows
	}
	if p.Status == models.PaymentStatusSuccessful {
		return false, nil
	}
	if p.Status != models.PaymentStatusPending && !params.AllowNonPending {
		return false, nil
	}
	p.Status = models.PaymentStatusSuccessful
	m.activations++
	if params.Audit != nil {
		m.activationAudits = append(m.activationAudits, params.Audit)
	}
	return true, nil
}

func (m *mockAdminPaymentRepo) SettledInsert(ctx context.Context, payment *models.Payment, audit *models.AuditLogEntry, priceCap float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if priceCap > 0 && m.paidByEnrollment >= priceCap {
		return 0, repository.ErrEnrollmentSettled
	}
	if payment.ID == "" {
		payment.ID = "pay-settled-1"
	}
	payment.Status = models.PaymentStatusSuccessful
	m.payments[payment.ID] = payment
	m.settledInserts = append(m.settledInserts, payment)
	if audit != nil {
		audit.PaymentID = payment.ID
		m.settledAudits = append(m.settledAudits, audit)
	}
	m.paidByEnrollment += payment.Amount
	m.paidCount++
	return m.paidByEnrollment, nil
}

func (m *mockAdminPaymentRepo) TransitionWithAudit(ctx context.Context, paymentID string, to models.PaymentStatus, note string, audit *models.AuditLogEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.transitionApplied {
		return false, nil
	}
	m.transitions = append(m.transitions, to)
	m.transitionAudits = append(m.transitionAudits, audit)
	if p, ok := m.payments[paymentID]; ok {
		p.Status = to
	}
	return true, nil
}

type mockAuditRepo struct {
	entries []*models.AuditLogEntry
	trail   []models.AuditLogEntry
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByPayment(ctx context.Context, paymentID string) ([]models.AuditLogEntry, error) {
	return m.trail, nil
}

type mockRetrier struct {
	session *models.CheckoutSession
	err     error
	calls   int
}

func (m *mockRetrier) Retry(ctx context.Context, req RetryPaymentRequest) (*models.CheckoutSession, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

type mockDispatcher struct {
	messages []notify.Message
}

func (m *mockDispatcher) Enqueue(msg notify.Message) error {
	m.messages = append(m.messages, msg)
	return nil
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Email: "admin@example.com"}
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
}

func newTestAdminService(payments *mockAdminPaymentRepo, enrollments *mockEnrollmentRepo, courses *mockCourseReader, users *mockUserReader, audit *mockAuditRepo, retrier *mockRetrier, dispatcher *mockDispatcher) *AdminPaymentService {
	return NewAdminPaymentService(payments, enrollments, courses, users, audit, retrier, dispatcher, nil, nil, AdminPaymentConfig{
		Currency:      "NGN",
		ReceiptPrefix: "RCPT",
	}, validator.New(), zap.NewNop())
}

func TestAdminOperationsRequireCapability(t *testing.T) {
	svc := newTestAdminService(newMockAdminPaymentRepo(), newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	_, _, err := svc.List(context.Background(), studentClaims(), models.PaymentFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Resolve(context.Background(), nil, "pay-1", ResolveRequest{Action: ResolveActionCancel})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestResolveMarkCompletedRequiresNote(t *testing.T) {
	payments := newMockAdminPaymentRepo(&models.Payment{ID: "pay-00000001", EnrollmentID: "enr-1", Status: models.PaymentStatusPending})
	svc := newTestAdminService(payments, newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	_, err := svc.Resolve(context.Background(), adminClaims(), "pay-00000001", ResolveRequest{Action: ResolveActionMarkCompleted, Note: "   "})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Zero(t, payments.activations)
}

func TestResolveMarkCompletedSettlesFailedPayment(t *testing.T) {
	payments := newMockAdminPaymentRepo(&models.Payment{ID: "pay-00000001", EnrollmentID: "enr-1", Status: models.PaymentStatusFailed})
	svc := newTestAdminService(payments, newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	payment, err := svc.Resolve(context.Background(), adminClaims(), "pay-00000001", ResolveRequest{Action: ResolveActionMarkCompleted, Note: "bank transfer confirmed offline"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccessful, payment.Status)
	assert.Equal(t, 1, payments.activations)
	require.Len(t, payments.activationAudits, 1)
	audit := payments.activationAudits[0]
	assert.Equal(t, models.AuditActionMarkCompleted, audit.Action)
	assert.Equal(t, "admin-1", audit.ActorID)
	assert.Equal(t, models.PaymentStatusFailed, audit.PreviousStatus)
}

func TestResolveSuccessfulPaymentIsTerminal(t *testing.T) {
	payments := newMockAdminPaymentRepo(&models.Payment{ID: "pay-00000001", EnrollmentID: "enr-1", Status: models.PaymentStatusSuccessful})
	svc := newTestAdminService(payments, newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	for _, action := range []string{ResolveActionMarkCompleted, ResolveActionMarkFailed, ResolveActionCancel} {
		_, err := svc.Resolve(context.Background(), adminClaims(), "pay-00000001", ResolveRequest{Action: action, Note: "note"})
		require.Error(t, err, action)
		assert.Equal(t, appErrors.ErrAlreadySuccessful.Code, appErrors.FromError(err).Code, action)
	}
	assert.Empty(t, payments.transitions)
}

func TestResolveCancelTransitionsWithAudit(t *testing.T) {
	payments := newMockAdminPaymentRepo(&models.Payment{ID: "pay-00000001", EnrollmentID: "enr-1", Status: models.PaymentStatusPending})
	svc := newTestAdminService(payments, newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	payment, err := svc.Resolve(context.Background(), adminClaims(), "pay-00000001", ResolveRequest{Action: ResolveActionCancel, Note: "duplicate checkout"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, payment.Status)
	require.Len(t, payments.transitionAudits, 1)
	assert.Equal(t, models.AuditActionCancel, payments.transitionAudits[0].Action)
}

func TestResolveRetryDelegatesAndAudits(t *testing.T) {
	payments := newMockAdminPaymentRepo(&models.Payment{ID: "pay-00000001", EnrollmentID: "enr-1", Status: models.PaymentStatusFailed})
	audit := &mockAuditRepo{}
	retrier := &mockRetrier{session: &models.CheckoutSession{
		Enrollment: &models.Enrollment{ID: "enr-1"},
		Payment:    &models.Payment{ID: "pay-00000002", Status: models.PaymentStatusPending},
	}}
	svc := newTestAdminService(payments, newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, audit, retrier, &mockDispatcher{})

	payment, err := svc.Resolve(context.Background(), adminClaims(), "pay-00000001", ResolveRequest{Action: ResolveActionRetry})
	require.NoError(t, err)
	assert.Equal(t, "pay-00000002", payment.ID)
	assert.Equal(t, 1, retrier.calls)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionRetry, audit.entries[0].Action)
	assert.Equal(t, "pay-00000001", audit.entries[0].PaymentID)
}

func TestRecordManualPaymentByEmail(t *testing.T) {
	payments := newMockAdminPaymentRepo()
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusPendingPayment})
	users := &mockUserReader{user: testUser()}
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, users, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	payment, err := svc.RecordManualPayment(context.Background(), adminClaims(), ManualPaymentRequest{
		Email:    "payer@example.com",
		CourseID: "course-1",
		Amount:   500,
		Method:   models.PaymentMethodBankTransfer,
		Note:     "settled via branch transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccessful, payment.Status)
	require.NotNil(t, payment.OverriddenBy)
	assert.Equal(t, "admin-1", *payment.OverriddenBy)
	require.Len(t, payments.settledAudits, 1)
	assert.Equal(t, models.AuditActionManualPayment, payments.settledAudits[0].Action)
}

func TestRecordManualPaymentActiveEnrollmentConflicts(t *testing.T) {
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusActive})
	svc := newTestAdminService(newMockAdminPaymentRepo(), enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	_, err := svc.RecordManualPayment(context.Background(), adminClaims(), ManualPaymentRequest{
		UserID: "user-1", CourseID: "course-1", Amount: 500, Method: models.PaymentMethodCash,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyActive.Code, appErrors.FromError(err).Code)
}

func TestRecordManualPaymentRequiresPayer(t *testing.T) {
	svc := newTestAdminService(newMockAdminPaymentRepo(), newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	_, err := svc.RecordManualPayment(context.Background(), adminClaims(), ManualPaymentRequest{
		CourseID: "course-1", Amount: 500, Method: models.PaymentMethodCash,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestConfigureSplitPaymentActivatesImmediately(t *testing.T) {
	payments := newMockAdminPaymentRepo()
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusPendingPayment})
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	state, err := svc.ConfigureSplitPayment(context.Background(), adminClaims(), SplitConfigureRequest{
		EnrollmentID: "enr-1", TotalAmount: 500, InitialPaid: 200, Method: models.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, 200.0, state.TotalPaid)
	assert.Equal(t, 300.0, state.Outstanding)
	assert.False(t, state.FullyPaid)
	require.Len(t, payments.settledInserts, 1)
	assert.True(t, payments.settledInserts[0].IsSplitPayment)
	assert.Equal(t, models.AuditActionSplitConfig, payments.settledAudits[0].Action)
}

func TestConfigureSplitPaymentRejectsFullInitial(t *testing.T) {
	svc := newTestAdminService(newMockAdminPaymentRepo(), newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	_, err := svc.ConfigureSplitPayment(context.Background(), adminClaims(), SplitConfigureRequest{
		EnrollmentID: "enr-1", TotalAmount: 500, InitialPaid: 500, Method: models.PaymentMethodCash,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRecordSplitPaymentReducesOutstanding(t *testing.T) {
	payments := newMockAdminPaymentRepo()
	payments.paidByEnrollment = 200
	payments.paidCount = 1
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusActive})
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	state, err := svc.RecordSplitPayment(context.Background(), adminClaims(), SplitRecordRequest{
		EnrollmentID: "enr-1", Amount: 300, Method: models.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, 500.0, state.TotalPaid)
	assert.Equal(t, 0.0, state.Outstanding)
	assert.True(t, state.FullyPaid)
	assert.Equal(t, 2, state.Installments)
}

func TestRecordSplitPaymentFullyPaidConflicts(t *testing.T) {
	payments := newMockAdminPaymentRepo()
	payments.paidByEnrollment = 500
	payments.paidCount = 2
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusActive})
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	_, err := svc.RecordSplitPayment(context.Background(), adminClaims(), SplitRecordRequest{
		EnrollmentID: "enr-1", Amount: 100, Method: models.PaymentMethodCash,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, payments.settledInserts)
}

func TestRecordSplitPaymentStaleBalanceRefusedAtInsert(t *testing.T) {
	payments := newMockAdminPaymentRepo()
	payments.paidByEnrollment = 500
	payments.paidCount = 2
	// The advisory balance read lags behind the ledger; only the re-read under
	// the enrollment lock sees the true total.
	stale := 400.0
	payments.staleSumSnapshot = &stale
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusActive})
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	_, err := svc.RecordSplitPayment(context.Background(), adminClaims(), SplitRecordRequest{
		EnrollmentID: "enr-1", Amount: 100, Method: models.PaymentMethodBankTransfer,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, payments.settledInserts)
	assert.Equal(t, 500.0, payments.paidByEnrollment)
}

func TestRecordSplitPaymentConcurrentInstallmentsNeverOvershoot(t *testing.T) {
	payments := newMockAdminPaymentRepo()
	payments.paidByEnrollment = 400
	payments.paidCount = 2
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusActive})
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSplitPayment(context.Background(), adminClaims(), SplitRecordRequest{
				EnrollmentID: "enr-1", Amount: 100, Method: models.PaymentMethodBankTransfer,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var conflicts int
	for err := range errs {
		if err == nil {
			continue
		}
		assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
		conflicts++
	}
	assert.Equal(t, 1, conflicts, "exactly one installment must be refused")
	require.Len(t, payments.settledInserts, 1)
	assert.Equal(t, 500.0, payments.paidByEnrollment)
}

func TestSplitStateClampsOvershootToZero(t *testing.T) {
	payments := newMockAdminPaymentRepo()
	payments.paidByEnrollment = 650
	payments.paidCount = 3
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusActive})
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	state, err := svc.SplitState(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 650.0, state.TotalPaid)
	assert.Equal(t, 0.0, state.Outstanding)
	assert.True(t, state.FullyPaid)
}

func TestSendPaymentReminderQueuesMessage(t *testing.T) {
	payments := newMockAdminPaymentRepo()
	payments.paidByEnrollment = 200
	payments.paidCount = 1
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusActive})
	dispatcher := &mockDispatcher{}
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, dispatcher)

	state, err := svc.SendPaymentReminder(context.Background(), adminClaims(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 300.0, state.Outstanding)
	require.Len(t, dispatcher.messages, 1)
	assert.Equal(t, notify.TemplatePaymentReminder, dispatcher.messages[0].Template)
	assert.Equal(t, "payer@example.com", dispatcher.messages[0].Recipient)
}

func TestSendPaymentReminderFullyPaidConflicts(t *testing.T) {
	payments := newMockAdminPaymentRepo()
	payments.paidByEnrollment = 500
	payments.paidCount = 1
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusActive})
	dispatcher := &mockDispatcher{}
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, dispatcher)

	_, err := svc.SendPaymentReminder(context.Background(), adminClaims(), "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, dispatcher.messages)
}

func TestGetReceiptDataRequiresSuccessfulPayment(t *testing.T) {
	payments := newMockAdminPaymentRepo(&models.Payment{ID: "pay-00000001", EnrollmentID: "enr-1", Status: models.PaymentStatusPending})
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusPendingPayment})
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	_, err := svc.GetReceiptData(context.Background(), adminClaims(), "pay-00000001")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestGetReceiptDataBuildsReceipt(t *testing.T) {
	now := time.Now().UTC()
	payments := newMockAdminPaymentRepo(&models.Payment{
		ID: "pay-00000001", EnrollmentID: "enr-1", Reference: "CPAY-abc",
		Amount: 500, Currency: "NGN", Status: models.PaymentStatusSuccessful,
		PaymentMethod: models.PaymentMethodCard, VerifiedAt: &now,
	})
	payments.paidByEnrollment = 500
	payments.paidCount = 1
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusActive})
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	receipt, err := svc.GetReceiptData(context.Background(), adminClaims(), "pay-00000001")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(receipt.ReceiptNumber, "RCPT-"))
	assert.Equal(t, "CPAY-abc", receipt.Reference)
	assert.Equal(t, "Ada Bello", receipt.PayerName)
	assert.Equal(t, 0.0, receipt.Outstanding)
}

func TestSendReceiptEmailQueuesMessage(t *testing.T) {
	now := time.Now().UTC()
	payments := newMockAdminPaymentRepo(&models.Payment{
		ID: "pay-00000001", EnrollmentID: "enr-1", Reference: "CPAY-abc",
		Amount: 500, Currency: "NGN", Status: models.PaymentStatusSuccessful, VerifiedAt: &now,
	})
	payments.paidByEnrollment = 500
	payments.paidCount = 1
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusActive})
	dispatcher := &mockDispatcher{}
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, &mockAuditRepo{}, &mockRetrier{}, dispatcher)

	receipt, err := svc.SendReceiptEmail(context.Background(), adminClaims(), "pay-00000001")
	require.NoError(t, err)
	require.Len(t, dispatcher.messages, 1)
	assert.Equal(t, notify.TemplatePaymentReceipt, dispatcher.messages[0].Template)
	assert.Equal(t, receipt.PayerEmail, dispatcher.messages[0].Recipient)
}

func TestExportTransactionsRendersCSV(t *testing.T) {
	payments := newMockAdminPaymentRepo(&models.Payment{
		ID: "pay-00000001", EnrollmentID: "enr-1", Reference: "CPAY-abc",
		Amount: 500, Currency: "NGN", Status: models.PaymentStatusSuccessful,
		PaymentMethod: models.PaymentMethodCard, CreatedAt: time.Now().UTC(),
	})
	svc := newTestAdminService(payments, newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	payload, err := svc.ExportTransactions(context.Background(), adminClaims(), models.PaymentFilter{})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "reference")
	assert.Contains(t, lines[1], "CPAY-abc")
}

func TestCancelEnrollmentRequiresCapability(t *testing.T) {
	svc := newTestAdminService(newMockAdminPaymentRepo(), newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	_, err := svc.CancelEnrollment(context.Background(), studentClaims(), "enr-1", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCancelEnrollmentWithdrawsAndAudits(t *testing.T) {
	payments := newMockAdminPaymentRepo(&models.Payment{ID: "pay-00000001", EnrollmentID: "enr-1", Status: models.PaymentStatusFailed})
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusPendingPayment})
	audit := &mockAuditRepo{}
	svc := newTestAdminService(payments, enrollments, &mockCourseReader{course: testCourse(), price: 500}, &mockUserReader{user: testUser()}, audit, &mockRetrier{}, &mockDispatcher{})

	enrollment, err := svc.CancelEnrollment(context.Background(), adminClaims(), "enr-1", "student withdrew before start")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, enrollment.Status)
	assert.False(t, enrollment.IsActive)

	stored, err := enrollments.FindByID(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, stored.Status)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionEnrollmentCancel, audit.entries[0].Action)
	assert.Equal(t, "pay-00000001", audit.entries[0].PaymentID)
	assert.Equal(t, "admin-1", audit.entries[0].ActorID)
}

func TestCancelEnrollmentAlreadyCancelledConflicts(t *testing.T) {
	enrollments := newMockEnrollmentRepo(&models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusCancelled})
	svc := newTestAdminService(newMockAdminPaymentRepo(), enrollments, &mockCourseReader{}, &mockUserReader{}, &mockAuditRepo{}, &mockRetrier{}, &mockDispatcher{})

	_, err := svc.CancelEnrollment(context.Background(), adminClaims(), "enr-1", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestDetailIncludesHistoryAndTrail(t *testing.T) {
	payments := newMockAdminPaymentRepo(
		&models.Payment{ID: "pay-00000001", EnrollmentID: "enr-1", Reference: "CPAY-abc", Status: models.PaymentStatusSuccessful},
		&models.Payment{ID: "pay-00000002", EnrollmentID: "enr-1", Reference: "CPAY-def", Status: models.PaymentStatusFailed},
	)
	audit := &mockAuditRepo{trail: []models.AuditLogEntry{{ID: "aud-1", PaymentID: "pay-00000001", Action: models.AuditActionMarkCompleted}}}
	svc := newTestAdminService(payments, newMockEnrollmentRepo(), &mockCourseReader{}, &mockUserReader{}, audit, &mockRetrier{}, &mockDispatcher{})

	detail, err := svc.Detail(context.Background(), adminClaims(), "pay-00000001")
	require.NoError(t, err)
	assert.Len(t, detail.History, 2)
	require.Len(t, detail.AuditTrail, 1)
	assert.Equal(t, models.AuditActionMarkCompleted, detail.AuditTrail[0].Action)
}
