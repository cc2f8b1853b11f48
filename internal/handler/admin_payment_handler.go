package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luminalearn/coursepay-api/internal/models"
	"github.com/luminalearn/coursepay-api/internal/service"
	appErrors "github.com/luminalearn/coursepay-api/pkg/errors"
	"github.com/luminalearn/coursepay-api/pkg/response"
)

type adminPaymentService interface {
	List(ctx context.Context, actor *models.JWTClaims, filter models.PaymentFilter) ([]models.PaymentDetail, *models.Pagination, error)
	Detail(ctx context.Context, actor *models.JWTClaims, paymentID string) (*service.TransactionDetail, error)
	Summary(ctx context.Context, actor *models.JWTClaims) ([]models.PaymentSummary, error)
	Resolve(ctx context.Context, actor *models.JWTClaims, paymentID string, req service.ResolveRequest) (*models.Payment, error)
	RecordManualPayment(ctx context.Context, actor *models.JWTClaims, req service.ManualPaymentRequest) (*models.Payment, error)
	ConfigureSplitPayment(ctx context.Context, actor *models.JWTClaims, req service.SplitConfigureRequest) (*models.SplitPaymentState, error)
	RecordSplitPayment(ctx context.Context, actor *models.JWTClaims, req service.SplitRecordRequest) (*models.SplitPaymentState, error)
	SplitState(ctx context.Context, enrollmentID string) (*models.SplitPaymentState, error)
	CancelEnrollment(ctx context.Context, actor *models.JWTClaims, enrollmentID, note string) (*models.Enrollment, error)
	SendPaymentReminder(ctx context.Context, actor *models.JWTClaims, enrollmentID string) (*models.SplitPaymentState, error)
	RenderReceiptPDF(ctx context.Context, actor *models.JWTClaims, paymentID string) ([]byte, *models.ReceiptData, error)
	SendReceiptEmail(ctx context.Context, actor *models.JWTClaims, paymentID string) (*models.ReceiptData, error)
	ExportTransactions(ctx context.Context, actor *models.JWTClaims, filter models.PaymentFilter) ([]byte, error)
}

// AdminPaymentHandler exposes administrator payment management endpoints.
type AdminPaymentHandler struct {
	admin adminPaymentService
}

// NewAdminPaymentHandler constructs handler.
func NewAdminPaymentHandler(admin adminPaymentService) *AdminPaymentHandler {
	return &AdminPaymentHandler{admin: admin}
}

func paymentFilterFromQuery(c *gin.Context) models.PaymentFilter {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	return models.PaymentFilter{
		UserID:    c.Query("userId"),
		CourseID:  c.Query("courseId"),
		Status:    models.PaymentStatus(c.Query("status")),
		Method:    c.Query("method"),
		Search:    c.Query("search"),
		Page:      page,
		PageSize:  pageSize,
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
}

// List godoc
// @Summary List transactions
// @Tags Admin
// @Produce json
// @Param status query string false "Filter by status"
// @Param userId query string false "Filter by payer"
// @Param courseId query string false "Filter by course"
// @Param search query string false "Search reference, payer or course"
// @Success 200 {object} response.Envelope
// @Router /admin/transactions [get]
func (h *AdminPaymentHandler) List(c *gin.Context) {
	payments, pagination, err := h.admin.List(c.Request.Context(), claimsFromContext(c), paymentFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// Detail godoc
// @Summary Transaction detail with audit trail
// @Tags Admin
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/transactions/{id} [get]
func (h *AdminPaymentHandler) Detail(c *gin.Context) {
	detail, err := h.admin.Detail(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Summary godoc
// @Summary Transaction totals per status
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/transactions/summary [get]
func (h *AdminPaymentHandler) Summary(c *gin.Context) {
	summary, err := h.admin.Summary(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Resolve godoc
// @Summary Apply an admin decision to a payment
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.ResolveRequest true "Resolution"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/transactions/{id}/resolve [post]
func (h *AdminPaymentHandler) Resolve(c *gin.Context) {
	var req service.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, err := h.admin.Resolve(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// ManualPayment godoc
// @Summary Record an out-of-gateway settlement
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body service.ManualPaymentRequest true "Manual payment"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/payments/manual [post]
func (h *AdminPaymentHandler) ManualPayment(c *gin.Context) {
	var req service.ManualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, err := h.admin.RecordManualPayment(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// ConfigureSplit godoc
// @Summary Open an installment plan for an enrollment
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body service.SplitConfigureRequest true "Split configuration"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/payments/split [post]
func (h *AdminPaymentHandler) ConfigureSplit(c *gin.Context) {
	var req service.SplitConfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	state, err := h.admin.ConfigureSplitPayment(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, state)
}

// RecordSplit godoc
// @Summary Record a further installment on a split plan
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body service.SplitRecordRequest true "Installment"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/payments/split/record [post]
func (h *AdminPaymentHandler) RecordSplit(c *gin.Context) {
	var req service.SplitRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	state, err := h.admin.RecordSplitPayment(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// SplitState godoc
// @Summary Derived balance of an enrollment
// @Tags Admin
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /admin/payments/split/{id} [get]
func (h *AdminPaymentHandler) SplitState(c *gin.Context) {
	if claims := claimsFromContext(c); claims == nil || !claims.IsAdmin() {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	state, err := h.admin.SplitState(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// CancelEnrollment godoc
// @Summary Withdraw an enrollment
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body object false "Optional note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/enrollments/{id}/cancel [post]
func (h *AdminPaymentHandler) CancelEnrollment(c *gin.Context) {
	var req struct {
		Note string `json:"note"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	enrollment, err := h.admin.CancelEnrollment(c.Request.Context(), claimsFromContext(c), c.Param("id"), req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Reminder godoc
// @Summary Queue an outstanding balance reminder
// @Tags Admin
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/payments/reminders/{id} [post]
func (h *AdminPaymentHandler) Reminder(c *gin.Context) {
	state, err := h.admin.SendPaymentReminder(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, state, nil)
}

// Receipt godoc
// @Summary Download a payment receipt as PDF
// @Tags Admin
// @Produce application/pdf
// @Param id path string true "Payment ID"
// @Success 200 {file} binary
// @Failure 409 {object} response.Envelope
// @Router /admin/payments/{id}/receipt [get]
func (h *AdminPaymentHandler) Receipt(c *gin.Context) {
	payload, receipt, err := h.admin.RenderReceiptPDF(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("%s.pdf", receipt.ReceiptNumber)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", payload)
}

// EmailReceipt godoc
// @Summary Queue the receipt for delivery to the payer
// @Tags Admin
// @Produce json
// @Param id path string true "Payment ID"
// @Success 202 {object} response.Envelope
// @Router /admin/payments/{id}/receipt/email [post]
func (h *AdminPaymentHandler) EmailReceipt(c *gin.Context) {
	receipt, err := h.admin.SendReceiptEmail(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, receipt, nil)
}

// Export godoc
// @Summary Export transactions as CSV
// @Tags Admin
// @Produce text/csv
// @Param status query string false "Filter by status"
// @Success 200 {file} binary
// @Router /admin/transactions/export [get]
func (h *AdminPaymentHandler) Export(c *gin.Context) {
	payload, err := h.admin.ExportTransactions(c.Request.Context(), claimsFromContext(c), paymentFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("transactions-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", payload)
}
