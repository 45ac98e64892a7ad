package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/librify/librify-api/internal/models"
)

const studentColumns = `id, library_id, branch_id, name, phone, email, address, registration_no, father_name, government_id,
seat_id, shift_id, locker_id, membership_start, membership_end, active,
total_fee, amount_paid, due_amount, cash_paid, online_paid, security_money, discount, created_at, updated_at`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID fetches one student row.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// List returns students in a library matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	where := []string{"library_id = $1"}
	args := []interface{}{filter.LibraryID}

	if filter.BranchID != "" {
		where = append(where, fmt.Sprintf("branch_id = $%d", len(args)+1))
		args = append(args, filter.BranchID)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(LOWER(name) LIKE $%d OR phone LIKE $%d OR LOWER(registration_no) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	whereClause := strings.Join(where, " AND ")

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"name":           "name",
		"membership_end": "membership_end",
		"created_at":     "created_at",
	}
	if sortBy == "" {
		sortBy = "created_at"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM students WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d",
		studentColumns, whereClause, column, order, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM students WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// Create inserts a new student row.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	now := time.Now().UTC()
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.CreatedAt = now
	student.UpdatedAt = now
	query := fmt.Sprintf(`INSERT INTO students (%s)
VALUES (:id, :library_id, :branch_id, :name, :phone, :email, :address, :registration_no, :father_name, :government_id,
:seat_id, :shift_id, :locker_id, :membership_start, :membership_end, :active,
:total_fee, :amount_paid, :due_amount, :cash_paid, :online_paid, :security_money, :discount, :created_at, :updated_at)`, studentColumns)
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// SetActive flips the manual active/inactive override.
func (r *StudentRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET active = $1, updated_at = $2 WHERE id = $3`, active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set student active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set student active: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ExpiringBetween lists students in a library whose membership ends inside
// [from, to) and who are not manually disabled.
func (r *StudentRepository) ExpiringBetween(ctx context.Context, libraryID string, from, to time.Time) ([]models.ExpiringMembershipRow, error) {
	query := `SELECT id AS student_id, name AS student_name, phone, membership_end, due_amount
FROM students
WHERE library_id = $1 AND active = TRUE AND membership_end >= $2 AND membership_end < $3
ORDER BY membership_end ASC`
	var rows []models.ExpiringMembershipRow
	if err := r.db.SelectContext(ctx, &rows, query, libraryID, from, to); err != nil {
		return nil, fmt.Errorf("list expiring memberships: %w", err)
	}
	return rows, nil
}
