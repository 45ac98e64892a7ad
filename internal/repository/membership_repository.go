package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/librify/librify-api/internal/models"
	appErrors "github.com/librify/librify-api/pkg/errors"
)

const historyColumns = `id, student_id, library_id, membership_start, membership_end,
total_fee, amount_paid, due_amount, cash_paid, online_paid, security_money, discount,
branch_id, seat_id, shift_id, locker_id, remark, created_at`

// MembershipRepository persists membership history and executes renewals.
type MembershipRepository struct {
	db *sqlx.DB
}

// NewMembershipRepository constructs the repository.
func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// HistoryForStudent lists a student's membership snapshots, newest first.
func (r *MembershipRepository) HistoryForStudent(ctx context.Context, studentID string) ([]models.MembershipHistoryRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM membership_history WHERE student_id = $1 ORDER BY created_at DESC`, historyColumns)
	var records []models.MembershipHistoryRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list membership history: %w", err)
	}
	return records, nil
}

// Renew executes the renewal as one transaction: lock the student row,
// snapshot the current period into membership_history, overwrite the row with
// the new period, and optionally provision a login account. Any failure rolls
// the whole sequence back, so a snapshot never survives without its matching
// student update.
func (r *MembershipRepository) Renew(ctx context.Context, studentID, libraryID string, update models.MembershipRenewal, account *models.Account) (*models.Student, *models.MembershipHistoryRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin renewal tx: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	current, err := lockStudentTx(ctx, tx, studentID, libraryID)
	if err != nil {
		return nil, nil, err
	}

	snapshot, err := insertHistoryTx(ctx, tx, current, update.Remark)
	if err != nil {
		return nil, nil, err
	}

	updated, err := updateStudentPeriodTx(ctx, tx, studentID, update)
	if err != nil {
		return nil, nil, err
	}

	if account != nil {
		if err := insertAccountIfAbsentTx(ctx, tx, account); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, classifyTxError(err, "commit renewal tx")
	}
	commit = true
	return updated, snapshot, nil
}

func lockStudentTx(ctx context.Context, tx *sqlx.Tx, studentID, libraryID string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1 AND library_id = $2 FOR UPDATE`, studentColumns)
	var student models.Student
	if err := tx.GetContext(ctx, &student, query, studentID, libraryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, classifyTxError(err, "lock student row")
	}
	return &student, nil
}

func insertHistoryTx(ctx context.Context, tx *sqlx.Tx, current *models.Student, remark *string) (*models.MembershipHistoryRecord, error) {
	record := models.MembershipHistoryRecord{
		ID:              uuid.NewString(),
		StudentID:       current.ID,
		LibraryID:       current.LibraryID,
		MembershipStart: current.MembershipStart,
		MembershipEnd:   current.MembershipEnd,
		FeeBreakdown:    current.FeeBreakdown,
		BranchID:        current.BranchID,
		SeatID:          current.SeatID,
		ShiftID:         current.ShiftID,
		LockerID:        current.LockerID,
		Remark:          remark,
		CreatedAt:       time.Now().UTC(),
	}
	query := fmt.Sprintf(`INSERT INTO membership_history (%s)
VALUES (:id, :student_id, :library_id, :membership_start, :membership_end,
:total_fee, :amount_paid, :due_amount, :cash_paid, :online_paid, :security_money, :discount,
:branch_id, :seat_id, :shift_id, :locker_id, :remark, :created_at)`, historyColumns)
	if _, err := tx.NamedExecContext(ctx, query, record); err != nil {
		return nil, classifyTxError(err, "insert membership history")
	}
	return &record, nil
}

func updateStudentPeriodTx(ctx context.Context, tx *sqlx.Tx, studentID string, update models.MembershipRenewal) (*models.Student, error) {
	query := fmt.Sprintf(`UPDATE students SET
membership_start = $1, membership_end = $2,
total_fee = $3, amount_paid = $4, due_amount = $5, cash_paid = $6, online_paid = $7, security_money = $8, discount = $9,
branch_id = COALESCE($10, branch_id), seat_id = COALESCE($11, seat_id),
shift_id = COALESCE($12, shift_id), locker_id = COALESCE($13, locker_id),
updated_at = $14
WHERE id = $15
RETURNING %s`, studentColumns)
	var updated models.Student
	err := tx.GetContext(ctx, &updated, query,
		update.MembershipStart, update.MembershipEnd,
		update.Fees.TotalFee, update.Fees.AmountPaid, update.Fees.DueAmount,
		update.Fees.CashPaid, update.Fees.OnlinePaid, update.Fees.SecurityMoney, update.Fees.Discount,
		update.BranchID, update.SeatID, update.ShiftID, update.LockerID,
		time.Now().UTC(), studentID)
	if err != nil {
		return nil, classifyTxError(err, "update student period")
	}
	return &updated, nil
}

// insertAccountIfAbsentTx provisions a login idempotently: the unique
// (library_id, phone) constraint makes a repeat renewal a no-op instead of a
// duplicate account error.
func insertAccountIfAbsentTx(ctx context.Context, tx *sqlx.Tx, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO accounts (id, library_id, student_id, phone, password_hash, role, active, created_at)
VALUES (:id, :library_id, :student_id, :phone, :password_hash, :role, :active, :created_at)
ON CONFLICT (library_id, phone) DO NOTHING`
	if _, err := tx.NamedExecContext(ctx, query, account); err != nil {
		return classifyTxError(err, "provision student account")
	}
	return nil
}
