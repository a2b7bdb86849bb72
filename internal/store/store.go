// Package store persists categories, drills and import history.
//
// Two backends satisfy the same contract: Postgres (pgx) for deployed
// services and SQLite (gorm) for single-node installs and tests. Every
// query is scoped by owner; callers never see another owner's rows.
//
// Name uniqueness is enforced per owner on a comparison key computed by
// [NameKey], so the database constraint and the importer's in-memory
// checks agree on what "the same name" means.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// ErrUniqueViolation is matched (via errors.Is) by any error caused by a
// per-owner uniqueness constraint.
var ErrUniqueViolation = errors.New("unique constraint violated")

// ConstraintError tags a persistence failure caused by a uniqueness
// constraint. It lets callers recover from creation races without
// inspecting driver error text.
type ConstraintError struct {
	Constraint string // constraint or index name reported by the backend, if any
	Err        error  // underlying driver error
}

func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("violates unique constraint %q: %v", e.Constraint, e.Err)
	}
	return fmt.Sprintf("violates unique constraint: %v", e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Is reports ErrUniqueViolation as a match.
func (e *ConstraintError) Is(target error) bool {
	return target == ErrUniqueViolation
}

// Category groups an owner's drills.
type Category struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Drill is a persisted practice exercise.
type Drill struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	CategoryID string    `json:"categoryId"`
	Name       string    `json:"name"`
	Minutes    int       `json:"minutes"`
	Notes      *string   `json:"notes,omitempty"`
	MediaLinks *string   `json:"mediaLinks,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewDrill holds the fields needed to insert a drill.
type NewDrill struct {
	OwnerID    string
	CategoryID string
	Name       string
	Minutes    int
	Notes      *string
	MediaLinks *string
}

// InsertOutcome is the per-row result of InsertDrillsEach.
// Exactly one of ID and Err is set.
type InsertOutcome struct {
	ID  string
	Err error
}

// ImportRun records the outcome of one completed import.
type ImportRun struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Source     string    `json:"source"`
	Policy     string    `json:"policy"`
	TotalRows  int       `json:"totalRows"`
	Imported   int       `json:"imported"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NameKey returns the comparison key for category and drill names:
// surrounding whitespace removed and the rest case-folded.
func NameKey(name string) string {
	// Casers carry state and must not be shared between goroutines.
	return cases.Fold().String(strings.TrimSpace(name))
}
