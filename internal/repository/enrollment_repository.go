package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/luminalearn/coursepay-api/internal/models"
)

const enrollmentColumns = `id, user_id, course_id, path_id, status, is_active, enrolled_at, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByUserAndCourse returns the non-cancelled enrollment for a (user, course)
// pair, if one exists. Cancelled enrollments do not block re-enrollment.
func (r *EnrollmentRepository) FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE user_id = $1 AND course_id = $2 AND status <> $3
        ORDER BY created_at DESC LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, courseID, models.EnrollmentStatusCancelled); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPendingPayment
	}
	const query = `INSERT INTO enrollments (id, user_id, course_id, path_id, status, is_active, enrolled_at, created_at, updated_at)
        VALUES (:id, :user_id, :course_id, :path_id, :status, :is_active, :enrolled_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Activate marks an enrollment ACTIVE, preserving the first activation time.
// Used by the corrective retry path when a successful payment already exists;
// the normal path activates inside the payment repository's transaction.
func (r *EnrollmentRepository) Activate(ctx context.Context, id string) error {
	now := time.Now().UTC()
	const query = `UPDATE enrollments SET status = $2, is_active = TRUE,
        enrolled_at = COALESCE(enrolled_at, $3), updated_at = $3
        WHERE id = $1 AND status <> $2`
	if _, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusActive, now); err != nil {
		return fmt.Errorf("activate enrollment: %w", err)
	}
	return nil
}

// UpdateStatus updates the lifecycle status of an enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2, is_active = ($2 = $3), updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, models.EnrollmentStatusActive, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}
