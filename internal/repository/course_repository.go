package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/luminalearn/coursepay-api/internal/models"
)

// CourseRepository is the narrow read surface into the course catalog.
// Catalog management belongs to another service; this one only resolves
// availability and pricing.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, name, active, price, currency, created_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindPlan returns a price plan by its ID, scoped to the given course.
func (r *CourseRepository) FindPlan(ctx context.Context, courseID, planID string) (*models.PricePlan, error) {
	const query = `SELECT id, course_id, name, price, is_default FROM price_plans WHERE id = $1 AND course_id = $2`
	var plan models.PricePlan
	if err := r.db.GetContext(ctx, &plan, query, planID, courseID); err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindDefaultPlan returns the default price plan for a course, if configured.
func (r *CourseRepository) FindDefaultPlan(ctx context.Context, courseID string) (*models.PricePlan, error) {
	const query = `SELECT id, course_id, name, price, is_default FROM price_plans WHERE course_id = $1 AND is_default = TRUE LIMIT 1`
	var plan models.PricePlan
	if err := r.db.GetContext(ctx, &plan, query, courseID); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ResolvePrice resolves the effective price for a course, preferring the
// chosen plan, then the default plan, then the course base price.
func (r *CourseRepository) ResolvePrice(ctx context.Context, course *models.Course, planID *string) (float64, error) {
	if planID != nil && *planID != "" {
		plan, err := r.FindPlan(ctx, course.ID, *planID)
		if err != nil {
			return 0, fmt.Errorf("resolve price plan: %w", err)
		}
		return plan.Price, nil
	}
	plan, err := r.FindDefaultPlan(ctx, course.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return course.Price, nil
		}
		return 0, fmt.Errorf("resolve default plan: %w", err)
	}
	return plan.Price, nil
}
