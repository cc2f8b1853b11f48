package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/luminalearn/coursepay-api/internal/models"
)

// ErrEnrollmentSettled reports that the settled ledger already covers the
// course price, so no further installment may be recorded.
var ErrEnrollmentSettled = errors.New("enrollment already fully paid")

const paymentColumns = `id, enrollment_id, user_id, course_id, reference, amount, currency, status,
        payment_method, is_split_payment, gateway_response, transaction_reference,
        admin_override_note, overridden_by, verified_at, checkout_link, created_at, updated_at`

// PaymentRepository handles persistence of payments and their audit ledger.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create persists a new payment record.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	if payment.Status == "" {
		payment.Status = models.PaymentStatusPending
	}
	const query = `INSERT INTO payments (id, enrollment_id, user_id, course_id, reference, amount, currency, status,
        payment_method, is_split_payment, gateway_response, transaction_reference, admin_override_note, overridden_by,
        verified_at, checkout_link, created_at, updated_at)
        VALUES (:id, :enrollment_id, :user_id, :course_id, :reference, :amount, :currency, :status,
        :payment_method, :is_split_payment, :gateway_response, :transaction_reference, :admin_override_note, :overridden_by,
        :verified_at, :checkout_link, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// FindByID returns a payment by its ID.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByReference returns a payment by its unique reference.
func (r *PaymentRepository) FindByReference(ctx context.Context, reference string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE reference = $1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, reference); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindDetailByID returns a payment joined with payer and course info.
func (r *PaymentRepository) FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error) {
	const query = `SELECT p.id, p.enrollment_id, p.user_id, p.course_id, p.reference, p.amount, p.currency, p.status,
        p.payment_method, p.is_split_payment, p.gateway_response, p.transaction_reference,
        p.admin_override_note, p.overridden_by, p.verified_at, p.checkout_link, p.created_at, p.updated_at,
        u.full_name AS payer_name, u.email AS payer_email, c.name AS course_name
        FROM payments p
        LEFT JOIN users u ON u.id = p.user_id
        LEFT JOIN courses c ON c.id = p.course_id
        WHERE p.id = $1`
	var detail models.PaymentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns transactions filtered by the provided criteria.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error) {
	base := `FROM payments p
LEFT JOIN users u ON u.id = p.user_id
LEFT JOIN courses c ON c.id = p.course_id`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("p.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("p.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("p.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Method != "" {
		conditions = append(conditions, fmt.Sprintf("p.payment_method = $%d", len(args)+1))
		args = append(args, filter.Method)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(p.reference ILIKE $%d OR u.email ILIKE $%d OR u.full_name ILIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "p.created_at",
		"amount":     "p.amount",
		"status":     "p.status",
		"payer_name": "u.full_name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "p.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT p.id, p.enrollment_id, p.user_id, p.course_id, p.reference, p.amount, p.currency, p.status,
        p.payment_method, p.is_split_payment, p.gateway_response, p.transaction_reference,
        p.admin_override_note, p.overridden_by, p.verified_at, p.checkout_link, p.created_at, p.updated_at,
        u.full_name AS payer_name, u.email AS payer_email, c.name AS course_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var payments []models.PaymentDetail
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

// ListByEnrollment returns all payments recorded against an enrollment.
func (r *PaymentRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE enrollment_id = $1 ORDER BY created_at ASC`, paymentColumns)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment payments: %w", err)
	}
	return payments, nil
}

// FindSuccessfulByEnrollment returns the first successful payment for an enrollment, if any.
func (r *PaymentRepository) FindSuccessfulByEnrollment(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE enrollment_id = $1 AND status = $2 ORDER BY created_at ASC LIMIT 1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, enrollmentID, models.PaymentStatusSuccessful); err != nil {
		return nil, err
	}
	return &payment, nil
}

// SumSuccessfulByEnrollment computes the amount settled so far for an enrollment.
func (r *PaymentRepository) SumSuccessfulByEnrollment(ctx context.Context, enrollmentID string) (float64, int, error) {
	const query = `SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM payments WHERE enrollment_id = $1 AND status = $2`
	var paid float64
	var count int
	if err := r.db.QueryRowxContext(ctx, query, enrollmentID, models.PaymentStatusSuccessful).Scan(&paid, &count); err != nil {
		return 0, 0, fmt.Errorf("sum enrollment payments: %w", err)
	}
	return paid, count, nil
}

// MarkFailed records a gateway failure against a pending payment.
func (r *PaymentRepository) MarkFailed(ctx context.Context, id string, gatewayResponse json.RawMessage) error {
	const query = `UPDATE payments SET status = $2, gateway_response = COALESCE($3, gateway_response), updated_at = $4
        WHERE id = $1 AND status = $5`
	if _, err := r.db.ExecContext(ctx, query, id, models.PaymentStatusFailed, gatewayResponse, time.Now().UTC(), models.PaymentStatusPending); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

// SetCheckoutLink persists the gateway-issued checkout link on a payment.
func (r *PaymentRepository) SetCheckoutLink(ctx context.Context, id, link string) error {
	const query = `UPDATE payments SET checkout_link = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, link, time.Now().UTC()); err != nil {
		return fmt.Errorf("set checkout link: %w", err)
	}
	return nil
}

// ActivationParams describes one attempt to settle a payment and activate its enrollment.
type ActivationParams struct {
	PaymentID            string
	EnrollmentID         string
	PaymentMethod        string
	TransactionReference string
	GatewayResponse      json.RawMessage
	// AllowNonPending permits the admin approval path to settle a FAILED or
	// CANCELLED payment. Webhook and verify callers settle PENDING rows only.
	AllowNonPending bool
	Audit           *models.AuditLogEntry
}

// Activate runs the activation transaction: payment to SUCCESSFUL and its
// enrollment to ACTIVE, committed as one unit. The payment row is locked and
// the status update is conditional, so concurrent verify and webhook callers
// serialize here and exactly one observes applied=true. A false return with
// nil error means another caller already settled the payment.
func (r *PaymentRepository) Activate(ctx context.Context, params ActivationParams) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin activation: %w", err)
	}

	var current models.PaymentStatus
	if err := tx.GetContext(ctx, &current, `SELECT status FROM payments WHERE id = $1 FOR UPDATE`, params.PaymentID); err != nil {
		tx.Rollback() //nolint:errcheck
		if err == sql.ErrNoRows {
			return false, sql.ErrNoRows
		}
		return false, fmt.Errorf("lock payment: %w", err)
	}
	if current == models.PaymentStatusSuccessful {
		tx.Rollback() //nolint:errcheck
		return false, nil
	}
	if current != models.PaymentStatusPending && !params.AllowNonPending {
		tx.Rollback() //nolint:errcheck
		return false, nil
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE payments SET status = $2, verified_at = $3,
        payment_method = COALESCE(NULLIF($4, ''), payment_method),
        transaction_reference = COALESCE(NULLIF($5, ''), transaction_reference),
        gateway_response = COALESCE($6, gateway_response),
        updated_at = $3
        WHERE id = $1 AND status <> $2`,
		params.PaymentID, models.PaymentStatusSuccessful, now,
		params.PaymentMethod, params.TransactionReference, params.GatewayResponse)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return false, fmt.Errorf("settle payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return false, fmt.Errorf("settle payment result: %w", err)
	}
	if affected == 0 {
		tx.Rollback() //nolint:errcheck
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE enrollments SET status = $2, is_active = TRUE,
        enrolled_at = COALESCE(enrolled_at, $3), updated_at = $3
        WHERE id = $1 AND status <> $2`,
		params.EnrollmentID, models.EnrollmentStatusActive, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return false, fmt.Errorf("activate enrollment: %w", err)
	}

	if params.Audit != nil {
		if err := insertAuditEntry(ctx, tx, params.Audit); err != nil {
			tx.Rollback() //nolint:errcheck
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit activation: %w", err)
	}
	return true, nil
}

// SettledInsert records an already-settled payment (manual or split installment)
// and activates the enrollment within one transaction. The enrollment row is
// locked first and the pre-insert settled sum is read under that lock, so
// concurrent installment writes serialize and never pass a stale balance
// check: when priceCap > 0 and the ledger already covers it, the insert is
// refused with ErrEnrollmentSettled. Returns the total settled amount after
// the insert.
func (r *PaymentRepository) SettledInsert(ctx context.Context, payment *models.Payment, audit *models.AuditLogEntry, priceCap float64) (float64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin settled insert: %w", err)
	}

	var enrollmentStatus models.EnrollmentStatus
	if err := tx.GetContext(ctx, &enrollmentStatus, `SELECT status FROM enrollments WHERE id = $1 FOR UPDATE`, payment.EnrollmentID); err != nil {
		tx.Rollback() //nolint:errcheck
		if err == sql.ErrNoRows {
			return 0, sql.ErrNoRows
		}
		return 0, fmt.Errorf("lock enrollment: %w", err)
	}

	var prePaid float64
	if err := tx.GetContext(ctx, &prePaid, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE enrollment_id = $1 AND status = $2`,
		payment.EnrollmentID, models.PaymentStatusSuccessful); err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("sum settled payments: %w", err)
	}
	if priceCap > 0 && prePaid >= priceCap {
		tx.Rollback() //nolint:errcheck
		return 0, ErrEnrollmentSettled
	}

	now := time.Now().UTC()
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.Status = models.PaymentStatusSuccessful
	if payment.VerifiedAt == nil {
		payment.VerifiedAt = &now
	}
	payment.CreatedAt = now
	payment.UpdatedAt = now

	const insertQuery = `INSERT INTO payments (id, enrollment_id, user_id, course_id, reference, amount, currency, status,
        payment_method, is_split_payment, gateway_response, transaction_reference, admin_override_note, overridden_by,
        verified_at, checkout_link, created_at, updated_at)
        VALUES (:id, :enrollment_id, :user_id, :course_id, :reference, :amount, :currency, :status,
        :payment_method, :is_split_payment, :gateway_response, :transaction_reference, :admin_override_note, :overridden_by,
        :verified_at, :checkout_link, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, payment); err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("insert settled payment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE enrollments SET status = $2, is_active = TRUE,
        enrolled_at = COALESCE(enrolled_at, $3), updated_at = $3
        WHERE id = $1 AND status <> $2`,
		payment.EnrollmentID, models.EnrollmentStatusActive, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("activate enrollment: %w", err)
	}

	if audit != nil {
		audit.PaymentID = payment.ID
		if err := insertAuditEntry(ctx, tx, audit); err != nil {
			tx.Rollback() //nolint:errcheck
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit settled insert: %w", err)
	}
	return prePaid + payment.Amount, nil
}

// TransitionWithAudit applies an admin status transition and its audit entry
// as one unit. The conditional update refuses to move a payment out of
// SUCCESSFUL regardless of the requested target.
func (r *PaymentRepository) TransitionWithAudit(ctx context.Context, paymentID string, to models.PaymentStatus, note string, audit *models.AuditLogEntry) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transition: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE payments SET status = $2,
        admin_override_note = CASE WHEN $3 <> '' THEN $3 ELSE admin_override_note END,
        updated_at = $4
        WHERE id = $1 AND status <> $5`,
		paymentID, to, note, time.Now().UTC(), models.PaymentStatusSuccessful)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return false, fmt.Errorf("transition payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return false, fmt.Errorf("transition result: %w", err)
	}
	if affected == 0 {
		tx.Rollback() //nolint:errcheck
		return false, nil
	}

	if audit != nil {
		if err := insertAuditEntry(ctx, tx, audit); err != nil {
			tx.Rollback() //nolint:errcheck
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

// ExportRows returns every transaction matching the filter joined with payer
// and course info, unpaginated, for reconciliation export.
func (r *PaymentRepository) ExportRows(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, error) {
	filter.Page = 1
	filter.PageSize = 100

	var all []models.PaymentDetail
	for {
		page, total, err := r.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(all) >= total || len(page) == 0 {
			return all, nil
		}
		filter.Page++
	}
}

// Summary aggregates counts and amounts per status.
func (r *PaymentRepository) Summary(ctx context.Context) ([]models.PaymentSummary, error) {
	const query = `SELECT status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount
        FROM payments GROUP BY status ORDER BY status`
	var summary []models.PaymentSummary
	if err := r.db.SelectContext(ctx, &summary, query); err != nil {
		return nil, fmt.Errorf("payment summary: %w", err)
	}
	return summary, nil
}

func insertAuditEntry(ctx context.Context, tx *sqlx.Tx, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payment_audit_log (id, payment_id, actor_id, action, previous_status, new_status, note, metadata, created_at)
        VALUES (:id, :payment_id, :actor_id, :action, :previous_status, :new_status, :note, :metadata, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
