package models

import "time"

// Course is the narrow projection of the course catalog this service reads.
// Content management lives elsewhere; only pricing and availability matter here.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	Price     float64   `db:"price" json:"price"`
	Currency  string    `db:"currency" json:"currency"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PricePlan is an optional named price for a course (a learning path tier).
type PricePlan struct {
	ID       string  `db:"id" json:"id"`
	CourseID string  `db:"course_id" json:"course_id"`
	Name     string  `db:"name" json:"name"`
	Price    float64 `db:"price" json:"price"`
	Default  bool    `db:"is_default" json:"is_default"`
}
