package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/luminalearn/coursepay-api/internal/models"
)

// AuditRepository reads and appends to the payment audit ledger. The ledger is
// append-only; there are deliberately no update or delete operations here.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends a standalone audit entry. Entries tied to a state change are
// written inside the same transaction by the payment repository instead.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payment_audit_log (id, payment_id, actor_id, action, previous_status, new_status, note, metadata, created_at)
        VALUES (:id, :payment_id, :actor_id, :action, :previous_status, :new_status, :note, :metadata, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

// ListByPayment returns the audit trail for a payment, oldest first.
func (r *AuditRepository) ListByPayment(ctx context.Context, paymentID string) ([]models.AuditLogEntry, error) {
	const query = `SELECT id, payment_id, actor_id, action, previous_status, new_status, note, metadata, created_at
        FROM payment_audit_log WHERE payment_id = $1 ORDER BY created_at ASC`
	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, paymentID); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
