package fees

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

// RepositoryPort defines data access methods for the fee directory.
type RepositoryPort interface {
	CreateHeading(ctx context.Context, heading FeeHeading) (FeeHeading, error)
	GetHeading(ctx context.Context, id uuid.UUID) (FeeHeading, error)
	ListHeadings(ctx context.Context, centerID uuid.UUID) ([]FeeHeading, error)
	CreateStructure(ctx context.Context, structure FeeStructure) (FeeStructure, error)
	GetStructure(ctx context.Context, id uuid.UUID) (FeeStructure, error)
	ListStructures(ctx context.Context, centerID uuid.UUID, academicYear string) ([]FeeStructure, error)
	GetStudent(ctx context.Context, id uuid.UUID) (Student, error)
	ListActiveStudentsByGrade(ctx context.Context, centerID uuid.UUID, grade string) ([]Student, error)
	InsertAssignment(ctx context.Context, assignment StudentFeeAssignment) (StudentFeeAssignment, error)
	DeactivateAssignment(ctx context.Context, id uuid.UUID) error
	ListActiveAssignments(ctx context.Context, studentID uuid.UUID, academicYear string) ([]StudentFeeAssignment, error)
}

// Service handles fee directory business logic.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateHeading registers a new fee heading.
func (s *Service) CreateHeading(ctx context.Context, caps rbac.Set, in CreateHeadingInput) (FeeHeading, error) {
	if !caps.Has(rbac.CapFeesManage) {
		return FeeHeading{}, ErrForbidden
	}
	if in.CenterID == uuid.Nil {
		return FeeHeading{}, validationError("center_id is required")
	}
	name := strings.TrimSpace(in.Name)
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if name == "" || code == "" {
		return FeeHeading{}, validationError("name and code are required")
	}
	return s.repo.CreateHeading(ctx, FeeHeading{
		CenterID:  in.CenterID,
		Name:      name,
		Code:      code,
		IsActive:  true,
		SortOrder: in.SortOrder,
	})
}

// ListHeadings returns the center's headings in display order.
func (s *Service) ListHeadings(ctx context.Context, caps rbac.Set, centerID uuid.UUID) ([]FeeHeading, error) {
	if !caps.HasAny(rbac.CapFeesView, rbac.CapFeesManage) {
		return nil, ErrForbidden
	}
	return s.repo.ListHeadings(ctx, centerID)
}

// CreateStructure prices a heading for a grade and academic year.
func (s *Service) CreateStructure(ctx context.Context, caps rbac.Set, in CreateStructureInput) (FeeStructure, error) {
	if !caps.Has(rbac.CapFeesManage) {
		return FeeStructure{}, ErrForbidden
	}
	if in.CenterID == uuid.Nil || in.FeeHeadingID == uuid.Nil {
		return FeeStructure{}, validationError("center_id and fee_heading_id are required")
	}
	if strings.TrimSpace(in.Grade) == "" || strings.TrimSpace(in.AcademicYear) == "" {
		return FeeStructure{}, validationError("grade and academic_year are required")
	}
	if in.Amount.IsNegative() {
		return FeeStructure{}, validationError("amount must not be negative")
	}
	if in.EffectiveFrom.IsZero() {
		return FeeStructure{}, validationError("effective_from is required")
	}
	if in.EffectiveTo != nil && dateOnly(*in.EffectiveTo).Before(dateOnly(in.EffectiveFrom)) {
		return FeeStructure{}, validationError("effective_to precedes effective_from")
	}
	heading, err := s.repo.GetHeading(ctx, in.FeeHeadingID)
	if err != nil {
		return FeeStructure{}, err
	}
	if heading.CenterID != in.CenterID {
		return FeeStructure{}, validationError("fee heading belongs to another center")
	}
	return s.repo.CreateStructure(ctx, FeeStructure{
		CenterID:      in.CenterID,
		FeeHeadingID:  in.FeeHeadingID,
		Grade:         strings.TrimSpace(in.Grade),
		AcademicYear:  strings.TrimSpace(in.AcademicYear),
		Amount:        in.Amount.Round(2),
		EffectiveFrom: dateOnly(in.EffectiveFrom),
		EffectiveTo:   in.EffectiveTo,
	})
}

// ListStructures returns the center's structures for an academic year.
func (s *Service) ListStructures(ctx context.Context, caps rbac.Set, centerID uuid.UUID, academicYear string) ([]FeeStructure, error) {
	if !caps.HasAny(rbac.CapFeesView, rbac.CapFeesManage) {
		return nil, ErrForbidden
	}
	return s.repo.ListStructures(ctx, centerID, academicYear)
}

// AssignStructure binds a student to a structure, snapshotting its amount.
func (s *Service) AssignStructure(ctx context.Context, caps rbac.Set, in AssignInput) (StudentFeeAssignment, error) {
	if !caps.Has(rbac.CapFeesManage) {
		return StudentFeeAssignment{}, ErrForbidden
	}
	if in.StudentID == uuid.Nil || in.FeeStructureID == uuid.Nil {
		return StudentFeeAssignment{}, validationError("student_id and fee_structure_id are required")
	}
	structure, heading, err := s.loadAssignable(ctx, in.FeeStructureID)
	if err != nil {
		return StudentFeeAssignment{}, err
	}
	student, err := s.repo.GetStudent(ctx, in.StudentID)
	if err != nil {
		return StudentFeeAssignment{}, err
	}
	if student.CenterID != structure.CenterID {
		return StudentFeeAssignment{}, validationError("student belongs to another center")
	}
	if !student.IsActive {
		return StudentFeeAssignment{}, validationError("student is not active")
	}
	if normalizeGrade(student.Grade) != normalizeGrade(structure.Grade) {
		return StudentFeeAssignment{}, validationError("structure grade %q does not match student grade %q", structure.Grade, student.Grade)
	}
	return s.repo.InsertAssignment(ctx, s.newAssignment(student.ID, structure, heading))
}

// BulkAssign binds every active student of the structure's grade. Students that
// already hold an active assignment for the heading are skipped.
func (s *Service) BulkAssign(ctx context.Context, caps rbac.Set, in BulkAssignInput) (BulkAssignResult, error) {
	if !caps.Has(rbac.CapFeesManage) {
		return BulkAssignResult{}, ErrForbidden
	}
	if in.FeeStructureID == uuid.Nil {
		return BulkAssignResult{}, validationError("fee_structure_id is required")
	}
	structure, heading, err := s.loadAssignable(ctx, in.FeeStructureID)
	if err != nil {
		return BulkAssignResult{}, err
	}
	students, err := s.repo.ListActiveStudentsByGrade(ctx, structure.CenterID, structure.Grade)
	if err != nil {
		return BulkAssignResult{}, err
	}
	var result BulkAssignResult
	for _, student := range students {
		if _, err := s.repo.InsertAssignment(ctx, s.newAssignment(student.ID, structure, heading)); err != nil {
			if errors.Is(err, ErrDuplicateAssignment) {
				result.Skipped++
				continue
			}
			return result, err
		}
		result.Assigned++
	}
	return result, nil
}

// DeactivateAssignment retires an assignment; future invoices no longer bill it.
func (s *Service) DeactivateAssignment(ctx context.Context, caps rbac.Set, id uuid.UUID) error {
	if !caps.Has(rbac.CapFeesManage) {
		return ErrForbidden
	}
	if id == uuid.Nil {
		return validationError("assignment id is required")
	}
	return s.repo.DeactivateAssignment(ctx, id)
}

// ActiveAssignments returns what the student currently owes for the academic year.
func (s *Service) ActiveAssignments(ctx context.Context, caps rbac.Set, studentID uuid.UUID, academicYear string) ([]StudentFeeAssignment, error) {
	if !caps.HasAny(rbac.CapFeesView, rbac.CapFeesManage) {
		return nil, ErrForbidden
	}
	if studentID == uuid.Nil || strings.TrimSpace(academicYear) == "" {
		return nil, validationError("student_id and academic_year are required")
	}
	return s.repo.ListActiveAssignments(ctx, studentID, academicYear)
}

func (s *Service) loadAssignable(ctx context.Context, structureID uuid.UUID) (FeeStructure, FeeHeading, error) {
	structure, err := s.repo.GetStructure(ctx, structureID)
	if err != nil {
		return FeeStructure{}, FeeHeading{}, err
	}
	if !structure.EffectiveOn(s.now()) {
		return FeeStructure{}, FeeHeading{}, validationError("fee structure is not effective today")
	}
	heading, err := s.repo.GetHeading(ctx, structure.FeeHeadingID)
	if err != nil {
		return FeeStructure{}, FeeHeading{}, err
	}
	if !heading.IsActive {
		return FeeStructure{}, FeeHeading{}, validationError("fee heading %s is inactive", heading.Code)
	}
	return structure, heading, nil
}

func (s *Service) newAssignment(studentID uuid.UUID, structure FeeStructure, heading FeeHeading) StudentFeeAssignment {
	return StudentFeeAssignment{
		StudentID:      studentID,
		FeeStructureID: structure.ID,
		FeeHeadingID:   heading.ID,
		FeeHeadingName: heading.Name,
		AcademicYear:   structure.AcademicYear,
		Amount:         structure.Amount,
		IsActive:       true,
		AssignedAt:     s.now(),
	}
}
