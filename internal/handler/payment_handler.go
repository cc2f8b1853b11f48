package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/luminalearn/coursepay-api/internal/models"
	"github.com/luminalearn/coursepay-api/internal/service"
	appErrors "github.com/luminalearn/coursepay-api/pkg/errors"
	"github.com/luminalearn/coursepay-api/pkg/response"
)

// SignatureHeader carries the gateway webhook HMAC.
const SignatureHeader = "X-Gateway-Signature"

type paymentOrchestrator interface {
	Initiate(ctx context.Context, req service.InitiatePaymentRequest) (*models.CheckoutSession, error)
	Verify(ctx context.Context, reference string) (*models.VerifyReport, error)
	Retry(ctx context.Context, req service.RetryPaymentRequest) (*models.CheckoutSession, error)
	PaymentsForEnrollment(ctx context.Context, enrollmentID string) ([]models.Payment, error)
	ProcessWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (models.WebhookResult, error)
}

// PaymentHandler exposes the checkout, verification and webhook endpoints.
type PaymentHandler struct {
	payments paymentOrchestrator
}

// NewPaymentHandler constructs handler.
func NewPaymentHandler(payments paymentOrchestrator) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Initiate godoc
// @Summary Start a checkout for a course enrollment
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.InitiatePaymentRequest true "Checkout payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/initiate [post]
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req service.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && req.UserID == "" {
		req.UserID = claims.UserID
	}
	session, err := h.payments.Initiate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Verify godoc
// @Summary Verify a payment reference against the gateway
// @Tags Payments
// @Produce json
// @Param reference path string true "Payment reference"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /payments/verify/{reference} [get]
func (h *PaymentHandler) Verify(c *gin.Context) {
	report, err := h.payments.Verify(c.Request.Context(), c.Param("reference"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Retry godoc
// @Summary Issue a fresh checkout for a pending enrollment
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.RetryPaymentRequest true "Retry payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/retry [post]
func (h *PaymentHandler) Retry(c *gin.Context) {
	var req service.RetryPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && !claims.IsAdmin() {
		req.UserID = claims.UserID
	}
	session, err := h.payments.Retry(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// History godoc
// @Summary List payments recorded against an enrollment
// @Tags Payments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/enrollment/{id} [get]
func (h *PaymentHandler) History(c *gin.Context) {
	payments, err := h.payments.PaymentsForEnrollment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

// Webhook godoc
// @Summary Ingest a gateway webhook notification
// @Tags Payments
// @Accept json
// @Produce json
// @Param X-Gateway-Signature header string true "HMAC-SHA512 of the raw body"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /webhooks/gateway [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable body"))
		return
	}
	result, err := h.payments.ProcessWebhook(c.Request.Context(), rawBody, c.GetHeader(SignatureHeader))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"result": result}, nil)
}
