package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/luminalearn/coursepay-api/internal/models"
	"github.com/luminalearn/coursepay-api/internal/notify"
	"github.com/luminalearn/coursepay-api/internal/repository"
	appErrors "github.com/luminalearn/coursepay-api/pkg/errors"
	"github.com/luminalearn/coursepay-api/pkg/export"
)

// Admin resolution actions.
const (
	ResolveActionMarkCompleted = "mark_completed"
	ResolveActionMarkFailed    = "mark_failed"
	ResolveActionCancel        = "cancel"
	ResolveActionRetry         = "retry"
)

type adminPaymentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error)
	ExportRows(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, error)
	Summary(ctx context.Context) ([]models.PaymentSummary, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Payment, error)
	SumSuccessfulByEnrollment(ctx context.Context, enrollmentID string) (float64, int, error)
	Activate(ctx context.Context, params ActivationParams) (bool, error)
	SettledInsert(ctx context.Context, payment *models.Payment, audit *models.AuditLogEntry, priceCap float64) (float64, error)
	TransitionWithAudit(ctx context.Context, paymentID string, to models.PaymentStatus, note string, audit *models.AuditLogEntry) (bool, error)
}

type auditReader interface {
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	ListByPayment(ctx context.Context, paymentID string) ([]models.AuditLogEntry, error)
}

type checkoutRetrier interface {
	Retry(ctx context.Context, req RetryPaymentRequest) (*models.CheckoutSession, error)
}

type notificationDispatcher interface {
	Enqueue(msg notify.Message) error
}

type receiptRenderer interface {
	RenderReceipt(title string, fields []export.ReceiptField) ([]byte, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ResolveRequest is an admin decision about a disputed or stuck payment.
type ResolveRequest struct {
	Action string `json:"action" validate:"required,oneof=mark_completed mark_failed cancel retry"`
	Note   string `json:"note"`
}

// ManualPaymentRequest records an out-of-gateway settlement (cash, transfer).
type ManualPaymentRequest struct {
	UserID   string  `json:"user_id"`
	Email    string  `json:"email" validate:"omitempty,email"`
	CourseID string  `json:"course_id" validate:"required"`
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Method   string  `json:"method" validate:"required"`
	Note     string  `json:"note"`
}

// SplitConfigureRequest opens an installment plan for an enrollment.
type SplitConfigureRequest struct {
	EnrollmentID string  `json:"enrollment_id" validate:"required"`
	TotalAmount  float64 `json:"total_amount" validate:"required,gt=0"`
	InitialPaid  float64 `json:"initial_paid" validate:"required,gt=0"`
	Method       string  `json:"method" validate:"required"`
	Note         string  `json:"note"`
}

// SplitRecordRequest records one further installment on a split plan.
type SplitRecordRequest struct {
	EnrollmentID string  `json:"enrollment_id" validate:"required"`
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	Method       string  `json:"method" validate:"required"`
	Note         string  `json:"note"`
}

// TransactionDetail is the full admin view of one payment.
type TransactionDetail struct {
	Payment    *models.PaymentDetail  `json:"payment"`
	Gateway    json.RawMessage        `json:"gateway_response,omitempty"`
	History    []models.Payment       `json:"history"`
	AuditTrail []models.AuditLogEntry `json:"audit_trail"`
}

// AdminPaymentConfig carries settings for admin flows.
type AdminPaymentConfig struct {
	Currency      string
	ReceiptPrefix string
}

// AdminPaymentService exposes administrator corrections over the payment
// ledger: forced resolution, manual and split payments, reminders, receipts
// and reconciliation export. Every mutating operation passes the capability
// gate and writes an audit entry in the transaction of the change.
type AdminPaymentService struct {
	payments     adminPaymentRepository
	enrollments  enrollmentRepository
	courses      courseReader
	users        userReader
	audit        auditReader
	orchestrator checkoutRetrier
	dispatcher   notificationDispatcher
	csv          csvRenderer
	pdf          receiptRenderer
	validator    *validator.Validate
	logger       *zap.Logger
	cfg          AdminPaymentConfig
}

// NewAdminPaymentService constructs AdminPaymentService.
func NewAdminPaymentService(payments adminPaymentRepository, enrollments enrollmentRepository, courses courseReader, users userReader, audit auditReader, orchestrator checkoutRetrier, dispatcher notificationDispatcher, csv csvRenderer, pdf receiptRenderer, cfg AdminPaymentConfig, validate *validator.Validate, logger *zap.Logger) *AdminPaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &AdminPaymentService{
		payments:     payments,
		enrollments:  enrollments,
		courses:      courses,
		users:        users,
		audit:        audit,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		csv:          csv,
		pdf:          pdf,
		validator:    validate,
		logger:       logger,
		cfg:          cfg,
	}
}

// authorize is the single capability gate for administrator operations.
func (s *AdminPaymentService) authorize(actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "administrator capability required")
	}
	return nil
}

// List returns transactions with pagination metadata.
func (s *AdminPaymentService) List(ctx context.Context, actor *models.JWTClaims, filter models.PaymentFilter) ([]models.PaymentDetail, *models.Pagination, error) {
	if err := s.authorize(actor); err != nil {
		return nil, nil, err
	}
	payments, total, err := s.payments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list transactions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return payments, pagination, nil
}

// Detail returns one transaction with its audit trail, sibling payment
// history and the raw gateway response for diagnosis.
func (s *AdminPaymentService) Detail(ctx context.Context, actor *models.JWTClaims, paymentID string) (*TransactionDetail, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	detail, err := s.payments.FindDetailByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	history, err := s.payments.ListByEnrollment(ctx, detail.EnrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment history")
	}
	trail, err := s.audit.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	return &TransactionDetail{Payment: detail, Gateway: detail.GatewayResponse, History: history, AuditTrail: trail}, nil
}

// Summary aggregates transaction counts and amounts per status.
func (s *AdminPaymentService) Summary(ctx context.Context, actor *models.JWTClaims) ([]models.PaymentSummary, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	summary, err := s.payments.Summary(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load summary")
	}
	return summary, nil
}

// Resolve applies an administrator decision to a payment. SUCCESSFUL is
// one-way terminal: mark_failed and cancel are refused against it, and only
// mark_completed may settle a non-pending payment.
func (s *AdminPaymentService) Resolve(ctx context.Context, actor *models.JWTClaims, paymentID string, req ResolveRequest) (*models.Payment, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resolve payload")
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}

	switch req.Action {
	case ResolveActionMarkCompleted:
		if strings.TrimSpace(req.Note) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "a note is required to mark a payment completed")
		}
		if payment.Status == models.PaymentStatusSuccessful {
			return nil, appErrors.Clone(appErrors.ErrAlreadySuccessful, "")
		}
		applied, err := s.payments.Activate(ctx, ActivationParams{
			PaymentID:       payment.ID,
			EnrollmentID:    payment.EnrollmentID,
			AllowNonPending: true,
			Audit: &models.AuditLogEntry{
				PaymentID:      payment.ID,
				ActorID:        actor.UserID,
				Action:         models.AuditActionMarkCompleted,
				PreviousStatus: payment.Status,
				NewStatus:      models.PaymentStatusSuccessful,
				Note:           req.Note,
			},
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete payment")
		}
		if !applied {
			return nil, appErrors.Clone(appErrors.ErrAlreadySuccessful, "")
		}

	case ResolveActionMarkFailed, ResolveActionCancel:
		if payment.Status == models.PaymentStatusSuccessful {
			return nil, appErrors.Clone(appErrors.ErrAlreadySuccessful, "a successful payment cannot be failed or cancelled")
		}
		target := models.PaymentStatusFailed
		action := models.AuditActionMarkFailed
		if req.Action == ResolveActionCancel {
			target = models.PaymentStatusCancelled
			action = models.AuditActionCancel
		}
		applied, err := s.payments.TransitionWithAudit(ctx, payment.ID, target, req.Note, &models.AuditLogEntry{
			PaymentID:      payment.ID,
			ActorID:        actor.UserID,
			Action:         action,
			PreviousStatus: payment.Status,
			NewStatus:      target,
			Note:           req.Note,
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve payment")
		}
		if !applied {
			return nil, appErrors.Clone(appErrors.ErrAlreadySuccessful, "a successful payment cannot be failed or cancelled")
		}

	case ResolveActionRetry:
		session, err := s.orchestrator.Retry(ctx, RetryPaymentRequest{EnrollmentID: payment.EnrollmentID})
		if err != nil {
			return nil, err
		}
		metadata, _ := json.Marshal(map[string]interface{}{
			"new_payment_id": session.Payment.ID,
			"auto_activated": session.AutoActivated,
		})
		if err := s.audit.Create(ctx, &models.AuditLogEntry{
			PaymentID:      payment.ID,
			ActorID:        actor.UserID,
			Action:         models.AuditActionRetry,
			PreviousStatus: payment.Status,
			NewStatus:      session.Payment.Status,
			Note:           req.Note,
			Metadata:       metadata,
		}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record audit entry")
		}
		return session.Payment, nil
	}

	updated, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload payment")
	}
	return updated, nil
}

// RecordManualPayment activates an enrollment from an out-of-gateway
// settlement. The payer may be addressed by user id or email.
func (s *AdminPaymentService) RecordManualPayment(ctx context.Context, actor *models.JWTClaims, req ManualPaymentRequest) (*models.Payment, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid manual payment payload")
	}
	if req.UserID == "" && req.Email == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user_id or email is required")
	}

	user, err := s.resolvePayer(ctx, req.UserID, req.Email)
	if err != nil {
		return nil, err
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	enrollment, err := s.findOrCreateEnrollment(ctx, user.ID, course.ID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrAlreadyActive, "user is already enrolled in this course")
	}

	payment := &models.Payment{
		EnrollmentID:      enrollment.ID,
		UserID:            user.ID,
		CourseID:          course.ID,
		Reference:         NewPaymentReference(),
		Amount:            req.Amount,
		Currency:          s.cfg.Currency,
		PaymentMethod:     req.Method,
		AdminOverrideNote: req.Note,
		OverriddenBy:      &actor.UserID,
	}
	metadata, _ := json.Marshal(map[string]interface{}{"amount": req.Amount, "method": req.Method})
	if _, err := s.payments.SettledInsert(ctx, payment, &models.AuditLogEntry{
		PaymentID:      payment.ID,
		ActorID:        actor.UserID,
		Action:         models.AuditActionManualPayment,
		PreviousStatus: models.PaymentStatusPending,
		NewStatus:      models.PaymentStatusSuccessful,
		Note:           req.Note,
		Metadata:       metadata,
	}, 0); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record manual payment")
	}
	return payment, nil
}

// ConfigureSplitPayment opens an installment plan: the first installment is
// recorded as settled and the enrollment is activated immediately. Partial
// payment granting access is deliberate product policy.
func (s *AdminPaymentService) ConfigureSplitPayment(ctx context.Context, actor *models.JWTClaims, req SplitConfigureRequest) (*models.SplitPaymentState, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid split configuration")
	}
	if req.InitialPaid >= req.TotalAmount {
		return nil, appErrors.Clone(appErrors.ErrValidation, "initial installment must be less than the total")
	}

	enrollment, err := s.loadEnrollment(ctx, req.EnrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrAlreadyActive, "enrollment already active")
	}

	payment := &models.Payment{
		EnrollmentID:      enrollment.ID,
		UserID:            enrollment.UserID,
		CourseID:          enrollment.CourseID,
		Reference:         NewPaymentReference(),
		Amount:            req.InitialPaid,
		Currency:          s.cfg.Currency,
		PaymentMethod:     req.Method,
		IsSplitPayment:    true,
		AdminOverrideNote: req.Note,
		OverriddenBy:      &actor.UserID,
	}
	metadata, _ := json.Marshal(map[string]interface{}{"total_amount": req.TotalAmount, "initial_paid": req.InitialPaid})
	if _, err := s.payments.SettledInsert(ctx, payment, &models.AuditLogEntry{
		PaymentID:      payment.ID,
		ActorID:        actor.UserID,
		Action:         models.AuditActionSplitConfig,
		PreviousStatus: models.PaymentStatusPending,
		NewStatus:      models.PaymentStatusSuccessful,
		Note:           req.Note,
		Metadata:       metadata,
	}, req.TotalAmount); err != nil {
		if errors.Is(err, repository.ErrEnrollmentSettled) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is already fully paid")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to configure split payment")
	}

	return s.SplitState(ctx, enrollment.ID)
}

// RecordSplitPayment records a further installment on a split plan.
func (s *AdminPaymentService) RecordSplitPayment(ctx context.Context, actor *models.JWTClaims, req SplitRecordRequest) (*models.SplitPaymentState, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid split installment")
	}

	enrollment, err := s.loadEnrollment(ctx, req.EnrollmentID)
	if err != nil {
		return nil, err
	}
	state, err := s.SplitState(ctx, enrollment.ID)
	if err != nil {
		return nil, err
	}
	// Advisory check; SettledInsert re-reads the balance under the enrollment
	// lock and refuses there too.
	if state.FullyPaid {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is already fully paid")
	}

	payment := &models.Payment{
		EnrollmentID:      enrollment.ID,
		UserID:            enrollment.UserID,
		CourseID:          enrollment.CourseID,
		Reference:         NewPaymentReference(),
		Amount:            req.Amount,
		Currency:          s.cfg.Currency,
		PaymentMethod:     req.Method,
		IsSplitPayment:    true,
		AdminOverrideNote: req.Note,
		OverriddenBy:      &actor.UserID,
	}
	metadata, _ := json.Marshal(map[string]interface{}{"amount": req.Amount, "method": req.Method})
	if _, err := s.payments.SettledInsert(ctx, payment, &models.AuditLogEntry{
		PaymentID:      payment.ID,
		ActorID:        actor.UserID,
		Action:         models.AuditActionSplitRecord,
		PreviousStatus: models.PaymentStatusPending,
		NewStatus:      models.PaymentStatusSuccessful,
		Note:           req.Note,
		Metadata:       metadata,
	}, state.CoursePrice); err != nil {
		if errors.Is(err, repository.ErrEnrollmentSettled) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is already fully paid")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record split installment")
	}

	return s.SplitState(ctx, enrollment.ID)
}

// CancelEnrollment withdraws an enrollment by explicit admin action. The
// payment ledger is untouched so history stays queryable; the audit entry is
// attached to the enrollment's most recent payment when one exists.
func (s *AdminPaymentService) CancelEnrollment(ctx context.Context, actor *models.JWTClaims, enrollmentID, note string) (*models.Enrollment, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is already cancelled")
	}
	if err := s.enrollments.UpdateStatus(ctx, enrollmentID, models.EnrollmentStatusCancelled); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}

	history, err := s.payments.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		s.logger.Warn("failed to load payments for cancellation audit", zap.String("enrollment_id", enrollmentID), zap.Error(err))
	}
	if len(history) > 0 {
		last := history[len(history)-1]
		metadata, _ := json.Marshal(map[string]interface{}{"enrollment_id": enrollmentID})
		if err := s.audit.Create(ctx, &models.AuditLogEntry{
			PaymentID:      last.ID,
			ActorID:        actor.UserID,
			Action:         models.AuditActionEnrollmentCancel,
			PreviousStatus: last.Status,
			NewStatus:      last.Status,
			Note:           note,
			Metadata:       metadata,
		}); err != nil {
			s.logger.Warn("failed to write cancellation audit entry", zap.String("enrollment_id", enrollmentID), zap.Error(err))
		}
	}

	enrollment.Status = models.EnrollmentStatusCancelled
	enrollment.IsActive = false
	return enrollment, nil
}

// SplitState derives the current balance of an enrollment from the payment
// ledger. Outstanding is never stored; it is recomputed on every call.
func (s *AdminPaymentService) SplitState(ctx context.Context, enrollmentID string) (*models.SplitPaymentState, error) {
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	course, err := s.courses.FindByID(ctx, enrollment.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	price, err := s.courses.ResolvePrice(ctx, course, enrollment.PathID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve course price")
	}
	paid, count, err := s.payments.SumSuccessfulByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute balance")
	}
	outstanding := price - paid
	if outstanding < 0 {
		outstanding = 0
	}
	return &models.SplitPaymentState{
		EnrollmentID: enrollmentID,
		CoursePrice:  price,
		TotalPaid:    paid,
		Outstanding:  outstanding,
		FullyPaid:    outstanding == 0 && paid > 0,
		Installments: count,
	}, nil
}

// SendPaymentReminder queues an outstanding balance reminder. Read only.
func (s *AdminPaymentService) SendPaymentReminder(ctx context.Context, actor *models.JWTClaims, enrollmentID string) (*models.SplitPaymentState, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	state, err := s.SplitState(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if state.FullyPaid {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is fully paid, nothing to remind")
	}
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, enrollment.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payer")
	}
	if err := s.dispatcher.Enqueue(notify.Message{
		Template:  notify.TemplatePaymentReminder,
		Recipient: user.Email,
		Data: map[string]interface{}{
			"full_name":   user.FullName,
			"outstanding": state.Outstanding,
			"currency":    s.cfg.Currency,
			"course_id":   enrollment.CourseID,
		},
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue reminder")
	}
	return state, nil
}

// GetReceiptData assembles the read-only receipt payload for a settled payment.
func (s *AdminPaymentService) GetReceiptData(ctx context.Context, actor *models.JWTClaims, paymentID string) (*models.ReceiptData, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	detail, err := s.payments.FindDetailByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if detail.Status != models.PaymentStatusSuccessful {
		return nil, appErrors.Clone(appErrors.ErrConflict, "receipts are only available for successful payments")
	}
	state, err := s.SplitState(ctx, detail.EnrollmentID)
	if err != nil {
		return nil, err
	}
	return &models.ReceiptData{
		ReceiptNumber: fmt.Sprintf("%s-%s", s.cfg.ReceiptPrefix, strings.ToUpper(detail.ID[:8])),
		Reference:     detail.Reference,
		PayerName:     detail.PayerName,
		PayerEmail:    detail.PayerEmail,
		CourseName:    detail.CourseName,
		Amount:        detail.Amount,
		Currency:      detail.Currency,
		PaymentMethod: detail.PaymentMethod,
		PaidAt:        detail.VerifiedAt,
		Outstanding:   state.Outstanding,
		IsSplit:       detail.IsSplitPayment,
	}, nil
}

// RenderReceiptPDF renders the receipt for download.
func (s *AdminPaymentService) RenderReceiptPDF(ctx context.Context, actor *models.JWTClaims, paymentID string) ([]byte, *models.ReceiptData, error) {
	receipt, err := s.GetReceiptData(ctx, actor, paymentID)
	if err != nil {
		return nil, nil, err
	}
	fields := []export.ReceiptField{
		{Label: "Receipt No.", Value: receipt.ReceiptNumber},
		{Label: "Reference", Value: receipt.Reference},
		{Label: "Payer", Value: fmt.Sprintf("%s <%s>", receipt.PayerName, receipt.PayerEmail)},
		{Label: "Course", Value: receipt.CourseName},
		{Label: "Amount", Value: fmt.Sprintf("%s %.2f", receipt.Currency, receipt.Amount)},
		{Label: "Method", Value: receipt.PaymentMethod},
	}
	if receipt.PaidAt != nil {
		fields = append(fields, export.ReceiptField{Label: "Paid At", Value: receipt.PaidAt.Format(time.RFC3339)})
	}
	if receipt.IsSplit {
		fields = append(fields, export.ReceiptField{Label: "Outstanding", Value: fmt.Sprintf("%s %.2f", receipt.Currency, receipt.Outstanding)})
	}
	payload, err := s.pdf.RenderReceipt("Payment Receipt", fields)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	return payload, receipt, nil
}

// SendReceiptEmail queues the receipt for delivery to the payer.
func (s *AdminPaymentService) SendReceiptEmail(ctx context.Context, actor *models.JWTClaims, paymentID string) (*models.ReceiptData, error) {
	receipt, err := s.GetReceiptData(ctx, actor, paymentID)
	if err != nil {
		return nil, err
	}
	if err := s.dispatcher.Enqueue(notify.Message{
		Template:  notify.TemplatePaymentReceipt,
		Recipient: receipt.PayerEmail,
		Data: map[string]interface{}{
			"receipt_number": receipt.ReceiptNumber,
			"reference":      receipt.Reference,
			"payer_name":     receipt.PayerName,
			"course_name":    receipt.CourseName,
			"amount":         receipt.Amount,
			"currency":       receipt.Currency,
		},
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue receipt")
	}
	return receipt, nil
}

// ExportTransactions renders all matching transactions as CSV for external
// reconciliation: one row per transaction.
func (s *AdminPaymentService) ExportTransactions(ctx context.Context, actor *models.JWTClaims, filter models.PaymentFilter) ([]byte, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	rows, err := s.payments.ExportRows(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect transactions")
	}
	dataset := export.Dataset{
		Headers: []string{"reference", "payer_name", "payer_email", "course", "amount", "currency", "status", "method", "created_at", "admin_note"},
	}
	for _, row := range rows {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"reference":   row.Reference,
			"payer_name":  row.PayerName,
			"payer_email": row.PayerEmail,
			"course":      row.CourseName,
			"amount":      fmt.Sprintf("%.2f", row.Amount),
			"currency":    row.Currency,
			"status":      string(row.Status),
			"method":      row.PaymentMethod,
			"created_at":  row.CreatedAt.Format(time.RFC3339),
			"admin_note":  row.AdminOverrideNote,
		})
	}
	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return payload, nil
}

func (s *AdminPaymentService) resolvePayer(ctx context.Context, userID, email string) (*models.User, error) {
	var user *models.User
	var err error
	if userID != "" {
		user, err = s.users.FindByID(ctx, userID)
	} else {
		user, err = s.users.FindByEmail(ctx, email)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *AdminPaymentService) loadEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *AdminPaymentService) findOrCreateEnrollment(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	if err == nil {
		return enrollment, nil
	}
	if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	enrollment = &models.Enrollment{
		UserID:   userID,
		CourseID: courseID,
		Status:   models.EnrollmentStatusPendingPayment,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return enrollment, nil
}
