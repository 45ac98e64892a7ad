package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/librify/librify-api/internal/models"
	appErrors "github.com/librify/librify-api/pkg/errors"
)

const studentEventColumns = "id, student_id, library_id, recorded_at, direction, source, notes, created_at"

// AttendanceRepository persists the append-only attendance event log.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// AppendToggle inserts one event for the student, choosing the direction from
// the parity of the day's event count. The count and the insert happen inside
// one transaction that holds a row lock on the student, so two concurrent
// toggles for the same student can never land on the same parity.
func (r *AttendanceRepository) AppendToggle(ctx context.Context, studentID, libraryID string, at time.Time, source models.AttendanceSource, notes *string, dayStart, dayEnd time.Time) (*models.AttendanceEvent, int, error) {
	var stored models.AttendanceEvent
	var total int
	err := r.withStudentLock(ctx, studentID, libraryID, func(tx *sqlx.Tx) error {
		count, err := countEventsTx(ctx, tx, studentID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		direction := models.DirectionIn
		if count%2 == 1 {
			direction = models.DirectionOut
		}
		ev, err := insertEventTx(ctx, tx, studentID, libraryID, at, direction, source, notes)
		if err != nil {
			return err
		}
		stored = *ev
		total = count + 1
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &stored, total, nil
}

// AppendManual inserts an event with an explicit direction, rejecting entries
// that would break toggle order. The parity check runs under the same student
// row lock as the insert.
func (r *AttendanceRepository) AppendManual(ctx context.Context, studentID, libraryID string, at time.Time, direction models.AttendanceDirection, notes *string, dayStart, dayEnd time.Time) (*models.AttendanceEvent, int, error) {
	var stored models.AttendanceEvent
	var total int
	err := r.withStudentLock(ctx, studentID, libraryID, func(tx *sqlx.Tx) error {
		count, err := countEventsTx(ctx, tx, studentID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		checkedIn := count%2 == 1
		switch direction {
		case models.DirectionOut:
			if !checkedIn {
				return appErrors.Clone(appErrors.ErrInvalidSequence, "cannot check out without checking in first")
			}
		case models.DirectionIn:
			if checkedIn {
				return appErrors.Clone(appErrors.ErrInvalidSequence, "already checked in today")
			}
		default:
			return appErrors.Clone(appErrors.ErrValidation, "direction must be 'in' or 'out'")
		}
		ev, err := insertEventTx(ctx, tx, studentID, libraryID, at, direction, models.SourceManual, notes)
		if err != nil {
			return err
		}
		stored = *ev
		total = count + 1
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &stored, total, nil
}

// EventsBetween returns the student's events in [from, to) ordered by time.
func (r *AttendanceRepository) EventsBetween(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_events
WHERE student_id = $1 AND recorded_at >= $2 AND recorded_at < $3
ORDER BY recorded_at ASC`, studentEventColumns)
	var events []models.AttendanceEvent
	if err := r.db.SelectContext(ctx, &events, query, studentID, from, to); err != nil {
		return nil, fmt.Errorf("list attendance events: %w", err)
	}
	return events, nil
}

// OrgAttendance returns the paginated per-student-day aggregation for a
// library, joined with membership fields for the staff dashboard.
func (r *AttendanceRepository) OrgAttendance(ctx context.Context, filter models.OrgAttendanceFilter) ([]models.OrgAttendanceRow, int, error) {
	base := `FROM attendance_events ae
JOIN students s ON s.id = ae.student_id`
	where := []string{"ae.library_id = $1"}
	args := []interface{}{filter.LibraryID}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(LOWER(s.name) LIKE $%d OR s.phone LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.Date != nil {
		where = append(where, fmt.Sprintf("ae.recorded_at::date = $%d::date", len(args)+1))
		args = append(args, *filter.Date)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("ae.recorded_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("ae.recorded_at < $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT ae.student_id, s.name AS student_name, s.phone,
        ae.recorded_at::date AS date,
        MIN(ae.recorded_at) AS first_in,
        MAX(ae.recorded_at) AS last_out,
        COUNT(*) AS total_scans,
        s.membership_end, s.active, s.due_amount
        %s WHERE %s
        GROUP BY ae.student_id, s.name, s.phone, ae.recorded_at::date, s.membership_end, s.active, s.due_amount
        ORDER BY date DESC, student_name ASC
        LIMIT %d OFFSET %d`, base, whereClause, size, offset)

	var rows []models.OrgAttendanceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list org attendance: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM (
        SELECT 1 %s WHERE %s GROUP BY ae.student_id, ae.recorded_at::date
    ) grouped`, base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count org attendance: %w", err)
	}
	return rows, total, nil
}

// withStudentLock runs fn inside a transaction holding a FOR UPDATE lock on
// the student row. Lock and serialization failures surface as
// CONCURRENCY_CONFLICT so callers can retry.
func (r *AttendanceRepository) withStudentLock(ctx context.Context, studentID, libraryID string, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attendance tx: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	var lockedID string
	lock := `SELECT id FROM students WHERE id = $1 AND library_id = $2 FOR UPDATE`
	if err := tx.GetContext(ctx, &lockedID, lock, studentID, libraryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return classifyTxError(err, "lock student row")
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyTxError(err, "commit attendance tx")
	}
	commit = true
	return nil
}

func countEventsTx(ctx context.Context, tx *sqlx.Tx, studentID string, dayStart, dayEnd time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM attendance_events WHERE student_id = $1 AND recorded_at >= $2 AND recorded_at < $3`
	if err := tx.GetContext(ctx, &count, query, studentID, dayStart, dayEnd); err != nil {
		return 0, classifyTxError(err, "count attendance events")
	}
	return count, nil
}

func insertEventTx(ctx context.Context, tx *sqlx.Tx, studentID, libraryID string, at time.Time, direction models.AttendanceDirection, source models.AttendanceSource, notes *string) (*models.AttendanceEvent, error) {
	query := fmt.Sprintf(`INSERT INTO attendance_events (id, student_id, library_id, recorded_at, direction, source, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING %s`, studentEventColumns)
	now := time.Now().UTC()
	var stored models.AttendanceEvent
	if err := tx.GetContext(ctx, &stored, query, uuid.NewString(), studentID, libraryID, at, direction, source, notes, now); err != nil {
		return nil, classifyTxError(err, "insert attendance event")
	}
	return &stored, nil
}

// classifyTxError maps postgres serialization/lock failures to the retryable
// conflict kind; everything else wraps as-is.
func classifyTxError(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case "40001", "40P01", "55P03":
			return appErrors.Wrap(err, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, appErrors.ErrConcurrencyConflict.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
