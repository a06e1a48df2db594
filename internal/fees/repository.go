package fees

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ssmspro2025/tms-sub000/internal/platform/db"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the finance
// engine run the directory lookups inside its own transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides PostgreSQL backed persistence for the fee directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateHeading inserts a fee heading.
func (r *Repository) CreateHeading(ctx context.Context, h FeeHeading) (FeeHeading, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO fee_headings (center_id, name, code, is_active, sort_order)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`, h.CenterID, h.Name, h.Code, h.IsActive, h.SortOrder).
		Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_fee_headings_code") {
			return FeeHeading{}, ErrDuplicateHeadingCode
		}
		return FeeHeading{}, err
	}
	return h, nil
}

// GetHeading loads a heading by id.
func (r *Repository) GetHeading(ctx context.Context, id uuid.UUID) (FeeHeading, error) {
	var h FeeHeading
	err := r.pool.QueryRow(ctx, `SELECT id, center_id, name, code, is_active, sort_order, created_at
FROM fee_headings WHERE id=$1`, id).
		Scan(&h.ID, &h.CenterID, &h.Name, &h.Code, &h.IsActive, &h.SortOrder, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return FeeHeading{}, ErrHeadingNotFound
	}
	return h, err
}

// ListHeadings returns the center's headings ordered for display.
func (r *Repository) ListHeadings(ctx context.Context, centerID uuid.UUID) ([]FeeHeading, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, center_id, name, code, is_active, sort_order, created_at
FROM fee_headings WHERE center_id=$1 ORDER BY sort_order, name`, centerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FeeHeading
	for rows.Next() {
		var h FeeHeading
		if err := rows.Scan(&h.ID, &h.CenterID, &h.Name, &h.Code, &h.IsActive, &h.SortOrder, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CreateStructure inserts a fee structure.
func (r *Repository) CreateStructure(ctx context.Context, s FeeStructure) (FeeStructure, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO fee_structures (center_id, fee_heading_id, grade, academic_year, amount, effective_from, effective_to)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		s.CenterID, s.FeeHeadingID, s.Grade, s.AcademicYear, s.Amount, s.EffectiveFrom, s.EffectiveTo).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return FeeStructure{}, err
	}
	return s, nil
}

const structureColumns = `id, center_id, fee_heading_id, grade, academic_year, amount, effective_from, effective_to, created_at`

func scanStructure(row pgx.Row) (FeeStructure, error) {
	var s FeeStructure
	err := row.Scan(&s.ID, &s.CenterID, &s.FeeHeadingID, &s.Grade, &s.AcademicYear, &s.Amount, &s.EffectiveFrom, &s.EffectiveTo, &s.CreatedAt)
	return s, err
}

// GetStructure loads a structure by id.
func (r *Repository) GetStructure(ctx context.Context, id uuid.UUID) (FeeStructure, error) {
	s, err := scanStructure(r.pool.QueryRow(ctx, `SELECT `+structureColumns+` FROM fee_structures WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return FeeStructure{}, ErrStructureNotFound
	}
	return s, err
}

// ListStructures returns the center's structures, optionally filtered by academic year.
func (r *Repository) ListStructures(ctx context.Context, centerID uuid.UUID, academicYear string) ([]FeeStructure, error) {
	query := `SELECT ` + structureColumns + ` FROM fee_structures WHERE center_id=$1`
	args := []any{centerID}
	if academicYear != "" {
		query += ` AND academic_year=$2`
		args = append(args, academicYear)
	}
	query += ` ORDER BY grade, effective_from`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FeeStructure
	for rows.Next() {
		s, err := scanStructure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetStudent loads a student by id.
func (r *Repository) GetStudent(ctx context.Context, id uuid.UUID) (Student, error) {
	return QueryStudent(ctx, r.pool, id)
}

// ListActiveStudentsByGrade returns active students of one grade.
func (r *Repository) ListActiveStudentsByGrade(ctx context.Context, centerID uuid.UUID, grade string) ([]Student, error) {
	return queryStudents(ctx, r.pool, `SELECT id, center_id, name, grade, is_active FROM students
WHERE center_id=$1 AND is_active AND lower(grade)=lower($2) ORDER BY name, id`, centerID, grade)
}

// InsertAssignment stores a new active assignment.
func (r *Repository) InsertAssignment(ctx context.Context, a StudentFeeAssignment) (StudentFeeAssignment, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO student_fee_assignments (student_id, fee_structure_id, fee_heading_id, academic_year, amount, is_active, assigned_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		a.StudentID, a.FeeStructureID, a.FeeHeadingID, a.AcademicYear, a.Amount, a.IsActive, a.AssignedAt).Scan(&a.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_student_fee_assignments_active") {
			return StudentFeeAssignment{}, ErrDuplicateAssignment
		}
		return StudentFeeAssignment{}, err
	}
	return a, nil
}

// DeactivateAssignment flips an active assignment to inactive.
func (r *Repository) DeactivateAssignment(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE student_fee_assignments SET is_active=FALSE WHERE id=$1 AND is_active`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// ListActiveAssignments returns the student's active assignments for the academic year.
func (r *Repository) ListActiveAssignments(ctx context.Context, studentID uuid.UUID, academicYear string) ([]StudentFeeAssignment, error) {
	return QueryActiveAssignments(ctx, r.pool, studentID, academicYear)
}

// QueryStudent loads one student through q.
func QueryStudent(ctx context.Context, q Querier, id uuid.UUID) (Student, error) {
	var s Student
	err := q.QueryRow(ctx, `SELECT id, center_id, name, grade, is_active FROM students WHERE id=$1`, id).
		Scan(&s.ID, &s.CenterID, &s.Name, &s.Grade, &s.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Student{}, ErrStudentNotFound
	}
	return s, err
}

// QueryActiveStudents lists the center's active students in billing order.
func QueryActiveStudents(ctx context.Context, q Querier, centerID uuid.UUID) ([]Student, error) {
	return queryStudents(ctx, q, `SELECT id, center_id, name, grade, is_active FROM students
WHERE center_id=$1 AND is_active ORDER BY name, id`, centerID)
}

// QueryActiveAssignments lists the student's active assignments for the academic
// year, ordered by heading display order.
func QueryActiveAssignments(ctx context.Context, q Querier, studentID uuid.UUID, academicYear string) ([]StudentFeeAssignment, error) {
	rows, err := q.Query(ctx, `SELECT a.id, a.student_id, a.fee_structure_id, a.fee_heading_id, h.name, a.academic_year, a.amount, a.is_active, a.assigned_at
FROM student_fee_assignments a
JOIN fee_headings h ON h.id = a.fee_heading_id
WHERE a.student_id=$1 AND a.academic_year=$2 AND a.is_active
ORDER BY h.sort_order, h.name`, studentID, academicYear)
	if err != nil {
		return nil, fmt.Errorf("fees: list assignments: %w", err)
	}
	defer rows.Close()
	var out []StudentFeeAssignment
	for rows.Next() {
		var a StudentFeeAssignment
		if err := rows.Scan(&a.ID, &a.StudentID, &a.FeeStructureID, &a.FeeHeadingID, &a.FeeHeadingName, &a.AcademicYear, &a.Amount, &a.IsActive, &a.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func queryStudents(ctx context.Context, q Querier, sql string, args ...any) ([]Student, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.CenterID, &s.Name, &s.Grade, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
