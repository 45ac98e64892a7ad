package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/librify/librify-api/internal/models"
	appErrors "github.com/librify/librify-api/pkg/errors"
)

var studentColumnList = []string{
	"id", "library_id", "branch_id", "name", "phone", "email", "address", "registration_no", "father_name", "government_id",
	"seat_id", "shift_id", "locker_id", "membership_start", "membership_end", "active",
	"total_fee", "amount_paid", "due_amount", "cash_paid", "online_paid", "security_money", "discount", "created_at", "updated_at",
}

func studentRow(id string, start, end time.Time) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(studentColumnList).
		AddRow(id, "lib-1", nil, "Asha", "9000000001", nil, nil, nil, nil, nil,
			nil, nil, nil, start, end, true,
			2000.0, 2000.0, 0.0, 2000.0, 0.0, 0.0, 0.0, now, now)
}

func newMembershipRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func renewalUpdate() models.MembershipRenewal {
	return models.MembershipRenewal{
		MembershipStart: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		MembershipEnd:   time.Date(2026, time.April, 30, 0, 0, 0, 0, time.UTC),
		Fees:            models.FeeBreakdown{TotalFee: 2000, AmountPaid: 2000, CashPaid: 2000},
	}
}

func TestMembershipRepositoryRenew(t *testing.T) {
	db, mock, cleanup := newMembershipRepoMock(t)
	defer cleanup()

	repo := NewMembershipRepository(db)
	update := renewalUpdate()
	oldStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	oldEnd := time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 AND library_id = $2 FOR UPDATE")).
		WithArgs("stu-1", "lib-1").
		WillReturnRows(studentRow("stu-1", oldStart, oldEnd))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO membership_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE students SET")).
		WillReturnRows(studentRow("stu-1", update.MembershipStart, update.MembershipEnd))
	mock.ExpectCommit()

	student, snapshot, err := repo.Renew(context.Background(), "stu-1", "lib-1", update, nil)
	require.NoError(t, err)
	require.Equal(t, update.MembershipStart, student.MembershipStart.UTC())
	require.Equal(t, oldStart, snapshot.MembershipStart.UTC())
	require.Equal(t, oldEnd, snapshot.MembershipEnd.UTC())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepositoryRenewProvisionsAccount(t *testing.T) {
	db, mock, cleanup := newMembershipRepoMock(t)
	defer cleanup()

	repo := NewMembershipRepository(db)
	update := renewalUpdate()
	oldStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	oldEnd := time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)
	studentID := "stu-1"
	account := &models.Account{
		LibraryID:    "lib-1",
		StudentID:    &studentID,
		Phone:        "9000000001",
		PasswordHash: "hash",
		Role:         models.RoleStudent,
		Active:       true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 AND library_id = $2 FOR UPDATE")).
		WithArgs("stu-1", "lib-1").
		WillReturnRows(studentRow("stu-1", oldStart, oldEnd))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO membership_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE students SET")).
		WillReturnRows(studentRow("stu-1", update.MembershipStart, update.MembershipEnd))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	_, _, err := repo.Renew(context.Background(), "stu-1", "lib-1", update, account)
	require.NoError(t, err)
	require.NotEmpty(t, account.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepositoryRenewRollsBackWhenUpdateFails(t *testing.T) {
	db, mock, cleanup := newMembershipRepoMock(t)
	defer cleanup()

	repo := NewMembershipRepository(db)
	update := renewalUpdate()
	oldStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	oldEnd := time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 AND library_id = $2 FOR UPDATE")).
		WithArgs("stu-1", "lib-1").
		WillReturnRows(studentRow("stu-1", oldStart, oldEnd))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO membership_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE students SET")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	student, snapshot, err := repo.Renew(context.Background(), "stu-1", "lib-1", update, nil)
	require.Error(t, err)
	require.Nil(t, student)
	require.Nil(t, snapshot)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepositoryRenewUnknownStudent(t *testing.T) {
	db, mock, cleanup := newMembershipRepoMock(t)
	defer cleanup()

	repo := NewMembershipRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 AND library_id = $2 FOR UPDATE")).
		WithArgs("ghost", "lib-1").
		WillReturnRows(sqlmock.NewRows(studentColumnList))
	mock.ExpectRollback()

	_, _, err := repo.Renew(context.Background(), "ghost", "lib-1", renewalUpdate(), nil)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepositoryHistoryForStudent(t *testing.T) {
	db, mock, cleanup := newMembershipRepoMock(t)
	defer cleanup()

	repo := NewMembershipRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "library_id", "membership_start", "membership_end",
		"total_fee", "amount_paid", "due_amount", "cash_paid", "online_paid", "security_money", "discount",
		"branch_id", "seat_id", "shift_id", "locker_id", "remark", "created_at"}).
		AddRow("hist-1", "stu-1", "lib-1", now.Add(-60*24*time.Hour), now.Add(-30*24*time.Hour),
			2000.0, 2000.0, 0.0, 2000.0, 0.0, 0.0, 0.0, nil, nil, nil, nil, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM membership_history WHERE student_id = $1 ORDER BY created_at DESC")).
		WithArgs("stu-1").
		WillReturnRows(rows)

	records, err := repo.HistoryForStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "hist-1", records[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
