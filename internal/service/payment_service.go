package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luminalearn/coursepay-api/internal/gateway"
	"github.com/luminalearn/coursepay-api/internal/models"
	"github.com/luminalearn/coursepay-api/internal/repository"
	appErrors "github.com/luminalearn/coursepay-api/pkg/errors"
)

type paymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindByReference(ctx context.Context, reference string) (*models.Payment, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Payment, error)
	FindSuccessfulByEnrollment(ctx context.Context, enrollmentID string) (*models.Payment, error)
	MarkFailed(ctx context.Context, id string, gatewayResponse json.RawMessage) error
	SetCheckoutLink(ctx context.Context, id, link string) error
	Activate(ctx context.Context, params ActivationParams) (bool, error)
}

// ActivationParams aliases the repository parameter struct so mocks in tests
// and the production repository share one shape.
type ActivationParams = repository.ActivationParams

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Activate(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ResolvePrice(ctx context.Context, course *models.Course, planID *string) (float64, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type verifyCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type orchestratorMetrics interface {
	ObserveCheckout()
	ObserveVerify(outcome models.VerifyOutcome)
	ObserveWebhook(result models.WebhookResult)
	ObserveActivation()
}

// InitiatePaymentRequest starts a checkout for a course enrollment.
type InitiatePaymentRequest struct {
	UserID   string  `json:"user_id" validate:"required"`
	CourseID string  `json:"course_id" validate:"required"`
	PathID   *string `json:"path_id,omitempty"`
}

// RetryPaymentRequest requests a fresh checkout against an existing enrollment.
type RetryPaymentRequest struct {
	EnrollmentID string `json:"enrollment_id" validate:"required"`
	UserID       string `json:"-"`
}

// PaymentConfig carries orchestration settings.
type PaymentConfig struct {
	Currency       string
	CallbackURL    string
	VerifyCacheTTL time.Duration
}

// PaymentService orchestrates the payment lifecycle: initiation, verification,
// retry and webhook ingestion.
type PaymentService struct {
	payments    paymentRepository
	enrollments enrollmentRepository
	courses     courseReader
	users       userReader
	gateway     gateway.Client
	cache       verifyCache
	metrics     orchestratorMetrics
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         PaymentConfig
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(payments paymentRepository, enrollments enrollmentRepository, courses courseReader, users userReader, gw gateway.Client, cache verifyCache, metrics orchestratorMetrics, cfg PaymentConfig, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerifyCacheTTL <= 0 {
		cfg.VerifyCacheTTL = 10 * time.Minute
	}
	return &PaymentService{
		payments:    payments,
		enrollments: enrollments,
		courses:     courses,
		users:       users,
		gateway:     gw,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// Initiate starts a checkout: finds or creates the pending enrollment, creates
// a pending payment with a fresh reference and asks the gateway for a hosted
// checkout link. A gateway failure marks the payment FAILED and leaves the
// enrollment pending so the caller can retry.
func (s *PaymentService) Initiate(ctx context.Context, req InitiatePaymentRequest) (*models.CheckoutSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	course, price, err := s.resolveCourse(ctx, req.CourseID, req.PathID)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.findOrCreateEnrollment(ctx, user.ID, course.ID, req.PathID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrAlreadyActive, "user is already enrolled in this course")
	}

	payment, link, err := s.createCheckout(ctx, user, enrollment, price)
	if err != nil {
		return nil, err
	}

	return &models.CheckoutSession{Enrollment: enrollment, Payment: payment, CheckoutLink: link}, nil
}

// Verify reconciles a payment reference against the gateway. Idempotent: a
// payment already SUCCESSFUL is answered from local state with zero gateway
// calls. A SUCCESSFUL gateway outcome runs the activation transaction.
func (s *PaymentService) Verify(ctx context.Context, reference string) (*models.VerifyReport, error) {
	if s.cache != nil {
		var cached models.VerifyReport
		if err := s.cache.Get(ctx, verifyCacheKey(reference), &cached); err == nil {
			return &cached, nil
		}
	}

	payment, err := s.payments.FindByReference(ctx, reference)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}

	if payment.Status == models.PaymentStatusSuccessful {
		report := s.reportFor(payment, models.VerifyOutcomeSuccessful, false)
		s.cacheReport(ctx, report)
		return report, nil
	}

	resp, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		if markErr := s.payments.MarkFailed(ctx, payment.ID, nil); markErr != nil {
			s.logger.Error("failed to mark payment failed after gateway error", zap.String("payment_id", payment.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrGateway.Code, appErrors.ErrGateway.Status, "payment verification failed")
	}

	outcome := gateway.MapStatus(resp.Status)
	if s.metrics != nil {
		s.metrics.ObserveVerify(outcome)
	}

	switch outcome {
	case models.VerifyOutcomeSuccessful:
		applied, err := s.payments.Activate(ctx, ActivationParams{
			PaymentID:            payment.ID,
			EnrollmentID:         payment.EnrollmentID,
			PaymentMethod:        resp.PaymentMethod,
			TransactionReference: resp.TransactionReference,
			GatewayResponse:      resp.Raw,
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate enrollment")
		}
		if applied {
			if s.metrics != nil {
				s.metrics.ObserveActivation()
			}
			now := time.Now().UTC()
			payment.Status = models.PaymentStatusSuccessful
			payment.VerifiedAt = &now
			if resp.PaymentMethod != "" {
				payment.PaymentMethod = resp.PaymentMethod
			}
			report := s.reportFor(payment, models.VerifyOutcomeSuccessful, true)
			s.cacheReport(ctx, report)
			return report, nil
		}
		// The conditional update declined: the row is already terminal. A
		// concurrent webhook may have settled it, or an admin marked it
		// FAILED/CANCELLED. Report the stored status, not the gateway verdict,
		// and cache only when the row really is settled.
		current, err := s.payments.FindByID(ctx, payment.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload payment")
		}
		report := s.reportFor(current, models.VerifyOutcomeSuccessful, false)
		if current.Status == models.PaymentStatusSuccessful {
			s.cacheReport(ctx, report)
		}
		return report, nil

	case models.VerifyOutcomeFailed:
		if err := s.payments.MarkFailed(ctx, payment.ID, resp.Raw); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment failure")
		}
		payment.Status = models.PaymentStatusFailed
		return s.reportFor(payment, models.VerifyOutcomeFailed, false), nil

	default:
		return s.reportFor(payment, outcome, false), nil
	}
}

// Retry issues a fresh checkout against an existing enrollment. If a
// successful payment already exists (a missed webhook), the enrollment is
// activated instead and no new payment row is created.
func (s *PaymentService) Retry(ctx context.Context, req RetryPaymentRequest) (*models.CheckoutSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid retry payload")
	}

	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if req.UserID != "" && enrollment.UserID != req.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another user")
	}
	if enrollment.Status == models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrAlreadyActive, "enrollment already active")
	}

	settled, err := s.payments.FindSuccessfulByEnrollment(ctx, enrollment.ID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect payments")
	}
	if settled != nil {
		if err := s.enrollments.Activate(ctx, enrollment.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate enrollment")
		}
		if s.metrics != nil {
			s.metrics.ObserveActivation()
		}
		s.logger.Info("retry auto-activated enrollment from settled payment",
			zap.String("enrollment_id", enrollment.ID), zap.String("payment_id", settled.ID))
		enrollment.Status = models.EnrollmentStatusActive
		enrollment.IsActive = true
		return &models.CheckoutSession{Enrollment: enrollment, Payment: settled, AutoActivated: true}, nil
	}

	user, err := s.users.FindByID(ctx, enrollment.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	_, price, err := s.resolveCourse(ctx, enrollment.CourseID, enrollment.PathID)
	if err != nil {
		return nil, err
	}

	payment, link, err := s.createCheckout(ctx, user, enrollment, price)
	if err != nil {
		return nil, err
	}
	return &models.CheckoutSession{Enrollment: enrollment, Payment: payment, CheckoutLink: link}, nil
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Channel   string `json:"channel"`
		ID        int64  `json:"id"`
	} `json:"data"`
}

// ProcessWebhook ingests an at-least-once gateway notification. The signature
// is checked over the raw body before any parsing; replays of a settled
// reference report already_processed without mutation.
func (s *PaymentService) ProcessWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (models.WebhookResult, error) {
	if !s.gateway.ValidateSignature(rawBody, signatureHeader) {
		return "", appErrors.Clone(appErrors.ErrSignature, "")
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed webhook payload")
	}
	if event.Data.Reference == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "webhook missing reference")
	}

	payment, err := s.payments.FindByReference(ctx, event.Data.Reference)
	if err != nil {
		if err == sql.ErrNoRows {
			// Gateways redeliver blindly; an unknown reference is acknowledged.
			s.logger.Warn("webhook for unknown reference ignored", zap.String("reference", event.Data.Reference))
			s.observeWebhook(models.WebhookIgnored)
			return models.WebhookIgnored, nil
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}

	if payment.Status == models.PaymentStatusSuccessful {
		s.observeWebhook(models.WebhookAlreadyProcessed)
		return models.WebhookAlreadyProcessed, nil
	}

	status := event.Data.Status
	if status == "" && strings.HasSuffix(event.Event, ".success") {
		status = "success"
	}

	switch gateway.MapStatus(status) {
	case models.VerifyOutcomeSuccessful:
		applied, err := s.payments.Activate(ctx, ActivationParams{
			PaymentID:            payment.ID,
			EnrollmentID:         payment.EnrollmentID,
			PaymentMethod:        event.Data.Channel,
			TransactionReference: fmt.Sprintf("%d", event.Data.ID),
			GatewayResponse:      json.RawMessage(rawBody),
		})
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate enrollment")
		}
		if !applied {
			s.observeWebhook(models.WebhookAlreadyProcessed)
			return models.WebhookAlreadyProcessed, nil
		}
		if s.metrics != nil {
			s.metrics.ObserveActivation()
		}
		s.observeWebhook(models.WebhookApplied)
		return models.WebhookApplied, nil

	case models.VerifyOutcomeFailed:
		if err := s.payments.MarkFailed(ctx, payment.ID, json.RawMessage(rawBody)); err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment failure")
		}
		s.observeWebhook(models.WebhookApplied)
		return models.WebhookApplied, nil

	default:
		s.observeWebhook(models.WebhookIgnored)
		return models.WebhookIgnored, nil
	}
}

// PaymentsForEnrollment lists the payment history of an enrollment.
func (s *PaymentService) PaymentsForEnrollment(ctx context.Context, enrollmentID string) ([]models.Payment, error) {
	payments, err := s.payments.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, nil
}

func (s *PaymentService) resolveCourse(ctx context.Context, courseID string, planID *string) (*models.Course, float64, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, "course is not open for enrollment")
	}
	price, err := s.courses.ResolvePrice(ctx, course, planID)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve course price")
	}
	if price <= 0 {
		return nil, 0, appErrors.Clone(appErrors.ErrCourseFree, "")
	}
	return course, price, nil
}

func (s *PaymentService) findOrCreateEnrollment(ctx context.Context, userID, courseID string, pathID *string) (*models.Enrollment, error) {
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
		PathID:   pathID,
		Status:   models.EnrollmentStatusPendingPayment,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return enrollment, nil
}

func (s *PaymentService) createCheckout(ctx context.Context, user *models.User, enrollment *models.Enrollment, price float64) (*models.Payment, string, error) {
	payment := &models.Payment{
		EnrollmentID: enrollment.ID,
		UserID:       user.ID,
		CourseID:     enrollment.CourseID,
		Reference:    NewPaymentReference(),
		Amount:       price,
		Currency:     s.cfg.Currency,
		Status:       models.PaymentStatusPending,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}

	resp, err := s.gateway.Checkout(ctx, gateway.CheckoutRequest{
		Reference:   payment.Reference,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Email:       user.Email,
		CallbackURL: s.cfg.CallbackURL,
		Metadata: map[string]string{
			"enrollment_id": enrollment.ID,
			"course_id":     enrollment.CourseID,
		},
	})
	if err != nil {
		if markErr := s.payments.MarkFailed(ctx, payment.ID, nil); markErr != nil {
			s.logger.Error("failed to mark payment failed after checkout error", zap.String("payment_id", payment.ID), zap.Error(markErr))
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrGateway.Code, appErrors.ErrGateway.Status, "checkout initialization failed")
	}

	if err := s.payments.SetCheckoutLink(ctx, payment.ID, resp.CheckoutLink); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist checkout link")
	}
	payment.CheckoutLink = resp.CheckoutLink
	if s.metrics != nil {
		s.metrics.ObserveCheckout()
	}
	return payment, resp.CheckoutLink, nil
}

func (s *PaymentService) reportFor(payment *models.Payment, outcome models.VerifyOutcome, activated bool) *models.VerifyReport {
	return &models.VerifyReport{
		Reference:     payment.Reference,
		Outcome:       outcome,
		PaymentStatus: payment.Status,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		PaymentMethod: payment.PaymentMethod,
		EnrollmentID:  payment.EnrollmentID,
		CourseID:      payment.CourseID,
		Activated:     activated,
		VerifiedAt:    payment.VerifiedAt,
	}
}

func (s *PaymentService) cacheReport(ctx context.Context, report *models.VerifyReport) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, verifyCacheKey(report.Reference), report, s.cfg.VerifyCacheTTL); err != nil {
		s.logger.Warn("failed to cache verify report", zap.String("reference", report.Reference), zap.Error(err))
	}
}

func (s *PaymentService) observeWebhook(result models.WebhookResult) {
	if s.metrics != nil {
		s.metrics.ObserveWebhook(result)
	}
}

func verifyCacheKey(reference string) string {
	return "payments:verify:" + reference
}

// NewPaymentReference generates a globally unique payment reference.
func NewPaymentReference() string {
	return "CPAY-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
