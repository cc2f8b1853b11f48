package models

import (
	"encoding/json"
	"time"
)

// AuditAction constants represent admin-driven payment mutations.
const (
	AuditActionMarkCompleted    = "MARK_COMPLETED"
	AuditActionMarkFailed       = "MARK_FAILED"
	AuditActionCancel           = "CANCEL"
	AuditActionRetry            = "RETRY"
	AuditActionManualPayment    = "MANUAL_PAYMENT"
	AuditActionSplitConfig      = "SPLIT_CONFIGURE"
	AuditActionSplitRecord      = "SPLIT_RECORD"
	AuditActionEnrollmentCancel = "ENROLLMENT_CANCEL"
)

// AuditLogEntry is one append-only record of an admin-driven state change.
// Entries are written in the same transaction as the change they describe
// and are never updated or deleted.
type AuditLogEntry struct {
	ID             string          `db:"id" json:"id"`
	PaymentID      string          `db:"payment_id" json:"payment_id"`
	ActorID        string          `db:"actor_id" json:"actor_id"`
	Action         string          `db:"action" json:"action"`
	PreviousStatus PaymentStatus   `db:"previous_status" json:"previous_status"`
	NewStatus      PaymentStatus   `db:"new_status" json:"new_status"`
	Note           string          `db:"note" json:"note"`
	Metadata       json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
