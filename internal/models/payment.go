package models

import (
	"encoding/json"
	"time"
)

// PaymentStatus represents the lifecycle of a payment attempt.
type PaymentStatus string

// Possible payment statuses. SUCCESSFUL is terminal.
const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusSuccessful PaymentStatus = "SUCCESSFUL"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
)

// VerifyOutcome is the internal vocabulary gateway statuses are mapped onto.
type VerifyOutcome string

const (
	VerifyOutcomeSuccessful VerifyOutcome = "SUCCESSFUL"
	VerifyOutcomeFailed     VerifyOutcome = "FAILED"
	VerifyOutcomePending    VerifyOutcome = "PENDING"
	VerifyOutcomeUnknown    VerifyOutcome = "UNKNOWN"
)

// PaymentMethod identifies how a payment was settled.
const (
	PaymentMethodCard         = "card"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodCash         = "cash"
)

// Payment is one attempt or installment toward satisfying an enrollment's price.
// The reference is globally unique and serves as the idempotency key for every
// gateway interaction and webhook delivery.
type Payment struct {
	ID                   string          `db:"id" json:"id"`
	EnrollmentID         string          `db:"enrollment_id" json:"enrollment_id"`
	UserID               string          `db:"user_id" json:"user_id"`
	CourseID             string          `db:"course_id" json:"course_id"`
	Reference            string          `db:"reference" json:"reference"`
	Amount               float64         `db:"amount" json:"amount"`
	Currency             string          `db:"currency" json:"currency"`
	Status               PaymentStatus   `db:"status" json:"status"`
	PaymentMethod        string          `db:"payment_method" json:"payment_method"`
	IsSplitPayment       bool            `db:"is_split_payment" json:"is_split_payment"`
	GatewayResponse      json.RawMessage `db:"gateway_response" json:"-"`
	TransactionReference string          `db:"transaction_reference" json:"transaction_reference,omitempty"`
	AdminOverrideNote    string          `db:"admin_override_note" json:"admin_override_note,omitempty"`
	OverriddenBy         *string         `db:"overridden_by" json:"overridden_by,omitempty"`
	VerifiedAt           *time.Time      `db:"verified_at" json:"verified_at,omitempty"`
	CheckoutLink         string          `db:"checkout_link" json:"checkout_link,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// PaymentDetail enriches Payment with payer and course info for admin views.
type PaymentDetail struct {
	Payment
	PayerName  string `db:"payer_name" json:"payer_name"`
	PayerEmail string `db:"payer_email" json:"payer_email"`
	CourseName string `db:"course_name" json:"course_name"`
}

// PaymentFilter provides filters for listing transactions.
type PaymentFilter struct {
	UserID    string
	CourseID  string
	Status    PaymentStatus
	Method    string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// PaymentSummary aggregates transaction counts and amounts per status.
type PaymentSummary struct {
	Status PaymentStatus `db:"status" json:"status"`
	Count  int           `db:"count" json:"count"`
	Amount float64       `db:"amount" json:"amount"`
}

// VerifyReport is the caller-facing result of verifying a payment reference.
type VerifyReport struct {
	Reference     string        `json:"reference"`
	Outcome       VerifyOutcome `json:"outcome"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	EnrollmentID  string        `json:"enrollment_id"`
	CourseID      string        `json:"course_id"`
	Activated     bool          `json:"activated"`
	VerifiedAt    *time.Time    `json:"verified_at,omitempty"`
}

// WebhookResult describes how a webhook delivery was handled.
type WebhookResult string

const (
	WebhookApplied          WebhookResult = "applied"
	WebhookIgnored          WebhookResult = "ignored"
	WebhookAlreadyProcessed WebhookResult = "already_processed"
)

// SplitPaymentState reports the derived balance of a split plan. Outstanding
// is always recomputed from the ledger, never stored.
type SplitPaymentState struct {
	EnrollmentID string  `json:"enrollment_id"`
	CoursePrice  float64 `json:"course_price"`
	TotalPaid    float64 `json:"total_paid"`
	Outstanding  float64 `json:"outstanding"`
	FullyPaid    bool    `json:"fully_paid"`
	Installments int     `json:"installments"`
}

// ReceiptData is the read-only payload for receipt rendering and emailing.
type ReceiptData struct {
	ReceiptNumber string     `json:"receipt_number"`
	Reference     string     `json:"reference"`
	PayerName     string     `json:"payer_name"`
	PayerEmail    string     `json:"payer_email"`
	CourseName    string     `json:"course_name"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	PaymentMethod string     `json:"payment_method"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	Outstanding   float64    `json:"outstanding"`
	IsSplit       bool       `json:"is_split"`
}
