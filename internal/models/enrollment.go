package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPendingPayment EnrollmentStatus = "PENDING_PAYMENT"
	EnrollmentStatusActive         EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCancelled      EnrollmentStatus = "CANCELLED"
)

// Enrollment captures a user's payment-gated registration in a course.
// At most one non-cancelled enrollment exists per (user, course) pair.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	UserID     string           `db:"user_id" json:"user_id"`
	CourseID   string           `db:"course_id" json:"course_id"`
	PathID     *string          `db:"path_id" json:"path_id,omitempty"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	IsActive   bool             `db:"is_active" json:"is_active"`
	EnrolledAt *time.Time       `db:"enrolled_at" json:"enrolled_at,omitempty"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// CheckoutSession is returned by payment initiation and retry.
type CheckoutSession struct {
	Enrollment   *Enrollment `json:"enrollment"`
	Payment      *Payment    `json:"payment"`
	CheckoutLink string      `json:"checkout_link,omitempty"`
	// AutoActivated reports the corrective retry path: a previously missed
	// successful payment activated the enrollment instead of a new checkout.
	AutoActivated bool `json:"auto_activated,omitempty"`
}
