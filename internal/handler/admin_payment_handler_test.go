package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminalearn/coursepay-api/internal/middleware"
	"github.com/luminalearn/coursepay-api/internal/models"
	"github.com/luminalearn/coursepay-api/internal/service"
)

type adminPaymentServiceMock struct {
	payments   []models.PaymentDetail
	pagination *models.Pagination
	detail     *service.TransactionDetail
	summary    []models.PaymentSummary
	payment    *models.Payment
	state      *models.SplitPaymentState
	receipt    *models.ReceiptData
	pdf        []byte
	csv        []byte
	err        error

	resolveReq service.ResolveRequest
	resolveID  string
	manualReq  service.ManualPaymentRequest
	filter     models.PaymentFilter

	enrollment  *models.Enrollment
	cancelledID string
	cancelNote  string
}

func (m *adminPaymentServiceMock) List(ctx context.Context, actor *models.JWTClaims, filter models.PaymentFilter) ([]models.PaymentDetail, *models.Pagination, error) {
	m.filter = filter
	return m.payments, m.pagination, m.err
}

func (m *adminPaymentServiceMock) Detail(ctx context.Context, actor *models.JWTClaims, paymentID string) (*service.TransactionDetail, error) {
	return m.detail, m.err
}

func (m *adminPaymentServiceMock) Summary(ctx context.Context, actor *models.JWTClaims) ([]models.PaymentSummary, error) {
	return m.summary, m.err
}

func (m *adminPaymentServiceMock) Resolve(ctx context.Context, actor *models.JWTClaims, paymentID string, req service.ResolveRequest) (*models.Payment, error) {
	m.resolveID = paymentID
	m.resolveReq = req
	return m.payment, m.err
}

func (m *adminPaymentServiceMock) RecordManualPayment(ctx context.Context, actor *models.JWTClaims, req service.ManualPaymentRequest) (*models.Payment, error) {
	m.manualReq = req
	return m.payment, m.err
}

func (m *adminPaymentServiceMock) ConfigureSplitPayment(ctx context.Context, actor *models.JWTClaims, req service.SplitConfigureRequest) (*models.SplitPaymentState, error) {
	return m.state, m.err
}

func (m *adminPaymentServiceMock) RecordSplitPayment(ctx context.Context, actor *models.JWTClaims, req service.SplitRecordRequest) (*models.SplitPaymentState, error) {
	return m.state, m.err
}

func (m *adminPaymentServiceMock) SplitState(ctx context.Context, enrollmentID string) (*models.SplitPaymentState, error) {
	return m.state, m.err
}

func (m *adminPaymentServiceMock) SendPaymentReminder(ctx context.Context, actor *models.JWTClaims, enrollmentID string) (*models.SplitPaymentState, error) {
	return m.state, m.err
}

func (m *adminPaymentServiceMock) CancelEnrollment(ctx context.Context, actor *models.JWTClaims, enrollmentID, note string) (*models.Enrollment, error) {
	m.cancelledID = enrollmentID
	m.cancelNote = note
	return m.enrollment, m.err
}

func (m *adminPaymentServiceMock) RenderReceiptPDF(ctx context.Context, actor *models.JWTClaims, paymentID string) ([]byte, *models.ReceiptData, error) {
	return m.pdf, m.receipt, m.err
}

func (m *adminPaymentServiceMock) SendReceiptEmail(ctx context.Context, actor *models.JWTClaims, paymentID string) (*models.ReceiptData, error) {
	return m.receipt, m.err
}

func (m *adminPaymentServiceMock) ExportTransactions(ctx context.Context, actor *models.JWTClaims, filter models.PaymentFilter) ([]byte, error) {
	m.filter = filter
	return m.csv, m.err
}

func newAdminTestContext(t *testing.T, method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(method, target, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	return c, w
}

func TestAdminPaymentHandlerListParsesFilter(t *testing.T) {
	mock := &adminPaymentServiceMock{pagination: &models.Pagination{Page: 2, PageSize: 10, TotalCount: 25}}
	handler := NewAdminPaymentHandler(mock)
	c, w := newAdminTestContext(t, http.MethodGet, "/admin/transactions?page=2&pageSize=10&status=FAILED&search=ada", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, mock.filter.Page)
	assert.Equal(t, 10, mock.filter.PageSize)
	assert.Equal(t, models.PaymentStatusFailed, mock.filter.Status)
	assert.Equal(t, "ada", mock.filter.Search)
}

func TestAdminPaymentHandlerResolveForwardsAction(t *testing.T) {
	mock := &adminPaymentServiceMock{payment: &models.Payment{ID: "pay-1", Status: models.PaymentStatusFailed}}
	handler := NewAdminPaymentHandler(mock)

	body, _ := json.Marshal(gin.H{"action": "mark_failed", "note": "gateway confirmed decline"})
	c, w := newAdminTestContext(t, http.MethodPost, "/admin/transactions/pay-1/resolve", body)
	c.Params = gin.Params{{Key: "id", Value: "pay-1"}}

	handler.Resolve(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pay-1", mock.resolveID)
	assert.Equal(t, service.ResolveActionMarkFailed, mock.resolveReq.Action)
	assert.Equal(t, "gateway confirmed decline", mock.resolveReq.Note)
}

func TestAdminPaymentHandlerResolveRejectsInvalidBody(t *testing.T) {
	handler := NewAdminPaymentHandler(&adminPaymentServiceMock{})
	c, w := newAdminTestContext(t, http.MethodPost, "/admin/transactions/pay-1/resolve", []byte(`{`))

	handler.Resolve(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminPaymentHandlerManualPaymentCreated(t *testing.T) {
	mock := &adminPaymentServiceMock{payment: &models.Payment{ID: "pay-9", Status: models.PaymentStatusSuccessful}}
	handler := NewAdminPaymentHandler(mock)

	body, _ := json.Marshal(gin.H{"email": "payer@example.com", "course_id": "course-1", "amount": 500, "method": "bank_transfer"})
	c, w := newAdminTestContext(t, http.MethodPost, "/admin/payments/manual", body)

	handler.ManualPayment(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "payer@example.com", mock.manualReq.Email)
	assert.Equal(t, 500.0, mock.manualReq.Amount)
}

func TestAdminPaymentHandlerSplitStateRequiresAdmin(t *testing.T) {
	handler := NewAdminPaymentHandler(&adminPaymentServiceMock{state: &models.SplitPaymentState{EnrollmentID: "enr-1"}})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/admin/payments/split/enr-1", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})

	handler.SplitState(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminPaymentHandlerSplitStateReturnsBalance(t *testing.T) {
	mock := &adminPaymentServiceMock{state: &models.SplitPaymentState{EnrollmentID: "enr-1", Outstanding: 300}}
	handler := NewAdminPaymentHandler(mock)
	c, w := newAdminTestContext(t, http.MethodGet, "/admin/payments/split/enr-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}

	handler.SplitState(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outstanding":300`)
}

func TestAdminPaymentHandlerCancelEnrollment(t *testing.T) {
	mock := &adminPaymentServiceMock{enrollment: &models.Enrollment{ID: "enr-1", Status: models.EnrollmentStatusCancelled}}
	handler := NewAdminPaymentHandler(mock)

	body, _ := json.Marshal(gin.H{"note": "student withdrew"})
	c, w := newAdminTestContext(t, http.MethodPost, "/admin/enrollments/enr-1/cancel", body)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}

	handler.CancelEnrollment(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "enr-1", mock.cancelledID)
	assert.Equal(t, "student withdrew", mock.cancelNote)
	assert.Contains(t, w.Body.String(), `"CANCELLED"`)
}

func TestAdminPaymentHandlerCancelEnrollmentAllowsEmptyBody(t *testing.T) {
	mock := &adminPaymentServiceMock{enrollment: &models.Enrollment{ID: "enr-1", Status: models.EnrollmentStatusCancelled}}
	handler := NewAdminPaymentHandler(mock)
	c, w := newAdminTestContext(t, http.MethodPost, "/admin/enrollments/enr-1/cancel", nil)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}

	handler.CancelEnrollment(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "enr-1", mock.cancelledID)
	assert.Empty(t, mock.cancelNote)
}

func TestAdminPaymentHandlerReceiptSetsDisposition(t *testing.T) {
	mock := &adminPaymentServiceMock{
		pdf:     []byte("%PDF-1.4"),
		receipt: &models.ReceiptData{ReceiptNumber: "RCPT-PAY00001"},
	}
	handler := NewAdminPaymentHandler(mock)
	c, w := newAdminTestContext(t, http.MethodGet, "/admin/payments/pay-1/receipt", nil)
	c.Params = gin.Params{{Key: "id", Value: "pay-1"}}

	handler.Receipt(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "RCPT-PAY00001.pdf")
}

func TestAdminPaymentHandlerExportServesCSV(t *testing.T) {
	mock := &adminPaymentServiceMock{csv: []byte("reference,amount\nCPAY-abc,500\n")}
	handler := NewAdminPaymentHandler(mock)
	c, w := newAdminTestContext(t, http.MethodGet, "/admin/transactions/export?status=SUCCESSFUL", nil)

	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "transactions-")
	assert.Equal(t, models.PaymentStatusSuccessful, mock.filter.Status)
	assert.Contains(t, w.Body.String(), "CPAY-abc")
}
