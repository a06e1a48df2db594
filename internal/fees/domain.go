// Package fees owns the fee directory: headings, per-grade structures and the
// per-student assignments the invoice generator bills from.
package fees

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ssmspro2025/tms-sub000/internal/platform/httpx"
)

// Student is the slice of the student directory the finance engine needs.
type Student struct {
	ID       uuid.UUID `json:"id"`
	CenterID uuid.UUID `json:"center_id"`
	Name     string    `json:"name"`
	Grade    string    `json:"grade"`
	IsActive bool      `json:"is_active"`
}

// FeeHeading is a named fee category scoped to a center.
type FeeHeading struct {
	ID        uuid.UUID `json:"id"`
	CenterID  uuid.UUID `json:"center_id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	IsActive  bool      `json:"is_active"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// FeeStructure prices a heading for a grade and academic year.
type FeeStructure struct {
	ID            uuid.UUID       `json:"id"`
	CenterID      uuid.UUID       `json:"center_id"`
	FeeHeadingID  uuid.UUID       `json:"fee_heading_id"`
	Grade         string          `json:"grade"`
	AcademicYear  string          `json:"academic_year"`
	Amount        decimal.Decimal `json:"amount"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EffectiveOn reports whether day falls inside the structure's effective window.
func (s FeeStructure) EffectiveOn(day time.Time) bool {
	d := dateOnly(day)
	if d.Before(dateOnly(s.EffectiveFrom)) {
		return false
	}
	if s.EffectiveTo != nil && d.After(dateOnly(*s.EffectiveTo)) {
		return false
	}
	return true
}

// StudentFeeAssignment binds a student to a structure. Amount is a snapshot taken
// at assignment time and does not follow later structure edits.
type StudentFeeAssignment struct {
	ID             uuid.UUID       `json:"id"`
	StudentID      uuid.UUID       `json:"student_id"`
	FeeStructureID uuid.UUID       `json:"fee_structure_id"`
	FeeHeadingID   uuid.UUID       `json:"fee_heading_id"`
	FeeHeadingName string          `json:"fee_heading_name"`
	AcademicYear   string          `json:"academic_year"`
	Amount         decimal.Decimal `json:"amount"`
	IsActive       bool            `json:"is_active"`
	AssignedAt     time.Time       `json:"assigned_at"`
}

// CreateHeadingInput carries fields for a new heading.
type CreateHeadingInput struct {
	CenterID  uuid.UUID `json:"center_id" validate:"required"`
	Name      string    `json:"name" validate:"required,max=120"`
	Code      string    `json:"code" validate:"required,max=20"`
	SortOrder int       `json:"sort_order"`
}

// CreateStructureInput carries fields for a new structure.
type CreateStructureInput struct {
	CenterID      uuid.UUID       `json:"center_id" validate:"required"`
	FeeHeadingID  uuid.UUID       `json:"fee_heading_id" validate:"required"`
	Grade         string          `json:"grade" validate:"required"`
	AcademicYear  string          `json:"academic_year" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	EffectiveFrom time.Time       `json:"effective_from" validate:"required"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
}

// AssignInput binds one student to one structure.
type AssignInput struct {
	StudentID      uuid.UUID `json:"student_id" validate:"required"`
	FeeStructureID uuid.UUID `json:"fee_structure_id" validate:"required"`
}

// BulkAssignInput binds every active student of the structure's grade.
type BulkAssignInput struct {
	FeeStructureID uuid.UUID `json:"fee_structure_id" validate:"required"`
}

// BulkAssignResult reports how many students were bound.
type BulkAssignResult struct {
	Assigned int `json:"assigned"`
	Skipped  int `json:"skipped"`
}

var (
	// ErrHeadingNotFound indicates a missing fee heading.
	ErrHeadingNotFound = fmt.Errorf("fees: fee heading %w", httpx.ErrNotFound)
	// ErrStructureNotFound indicates a missing fee structure.
	ErrStructureNotFound = fmt.Errorf("fees: fee structure %w", httpx.ErrNotFound)
	// ErrStudentNotFound indicates a missing student.
	ErrStudentNotFound = fmt.Errorf("fees: student %w", httpx.ErrNotFound)
	// ErrAssignmentNotFound indicates a missing or inactive assignment.
	ErrAssignmentNotFound = fmt.Errorf("fees: assignment %w", httpx.ErrNotFound)
	// ErrDuplicateAssignment indicates an active assignment already exists for the student, heading and year.
	ErrDuplicateAssignment = fmt.Errorf("fees: active assignment already exists: %w", httpx.ErrConflict)
	// ErrDuplicateHeadingCode indicates the heading code is taken within the center.
	ErrDuplicateHeadingCode = fmt.Errorf("fees: heading code already used: %w", httpx.ErrConflict)
	// ErrForbidden indicates the caller lacks the fee capability.
	ErrForbidden = fmt.Errorf("fees: %w", httpx.ErrForbidden)
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", httpx.ErrValidation, fmt.Sprintf(format, args...))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalizeGrade(grade string) string {
	return strings.ToLower(strings.TrimSpace(grade))
}
