package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/librify/librify-api/internal/models"
	appErrors "github.com/librify/librify-api/pkg/errors"
)

type mockMembershipRepo struct {
	history     []models.MembershipHistoryRecord
	renewErr    error
	gotUpdate   *models.MembershipRenewal
	gotAccount  *models.Account
	renewCalled bool
}

func (m *mockMembershipRepo) HistoryForStudent(ctx context.Context, studentID string) ([]models.MembershipHistoryRecord, error) {
	return m.history, nil
}

func (m *mockMembershipRepo) Renew(ctx context.Context, studentID, libraryID string, update models.MembershipRenewal, account *models.Account) (*models.Student, *models.MembershipHistoryRecord, error) {
	m.renewCalled = true
	m.gotUpdate = &update
	m.gotAccount = account
	if m.renewErr != nil {
		return nil, nil, m.renewErr
	}
	student := &models.Student{
		ID:              studentID,
		LibraryID:       libraryID,
		MembershipStart: update.MembershipStart,
		MembershipEnd:   update.MembershipEnd,
		Active:          true,
		FeeBreakdown:    update.Fees,
	}
	snapshot := &models.MembershipHistoryRecord{ID: "hist-1", StudentID: studentID, LibraryID: libraryID}
	return student, snapshot, nil
}

type mockMembershipStudents struct {
	students map[string]*models.Student
	expiring []models.ExpiringMembershipRow
}

func (m *mockMembershipStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockMembershipStudents) ExpiringBetween(ctx context.Context, libraryID string, from, to time.Time) ([]models.ExpiringMembershipRow, error) {
	return m.expiring, nil
}

func newMembershipFixture(t *testing.T, cfg MembershipServiceConfig) (*MembershipService, *mockMembershipRepo, *mockMembershipStudents) {
	t.Helper()
	repo := &mockMembershipRepo{}
	students := &mockMembershipStudents{students: map[string]*models.Student{
		"stu-1": {
			ID:              "stu-1",
			LibraryID:       "lib-1",
			Name:            "Asha",
			Phone:           "9000000001",
			MembershipStart: time.Now().Add(-30 * 24 * time.Hour),
			MembershipEnd:   time.Now().Add(-24 * time.Hour),
			Active:          true,
		},
	}}
	svc := NewMembershipService(repo, students, nil, nil, nil, cfg)
	return svc, repo, students
}

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	window := 2 * 24 * time.Hour

	// Manual flag always wins, even with a future end date.
	assert.Equal(t, models.MembershipInactive, DeriveStatus(now.Add(90*24*time.Hour), false, now, window))
	assert.Equal(t, models.MembershipInactive, DeriveStatus(now.Add(-24*time.Hour), false, now, window))

	assert.Equal(t, models.MembershipExpired, DeriveStatus(now.Add(-time.Second), true, now, window))
	assert.Equal(t, models.MembershipExpiringSoon, DeriveStatus(now.Add(24*time.Hour), true, now, window))
	assert.Equal(t, models.MembershipExpiringSoon, DeriveStatus(now.Add(window), true, now, window))
	assert.Equal(t, models.MembershipActive, DeriveStatus(now.Add(window+time.Second), true, now, window))
}

func TestClampSoonWindow(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, ClampSoonWindow(7, 2))
	assert.Equal(t, 2*24*time.Hour, ClampSoonWindow(0, 2))
	assert.Equal(t, 5*24*time.Hour, ClampSoonWindow(31, 5))
	assert.Equal(t, 2*24*time.Hour, ClampSoonWindow(-1, 99))
}

func validRenewal() RenewMembershipRequest {
	return RenewMembershipRequest{
		MembershipStart: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		MembershipEnd:   time.Date(2026, time.April, 30, 0, 0, 0, 0, time.UTC),
		Fees: models.FeeBreakdown{
			TotalFee:   2000,
			AmountPaid: 2000,
			CashPaid:   2000,
		},
	}
}

func TestRenewHappyPath(t *testing.T) {
	svc, repo, _ := newMembershipFixture(t, MembershipServiceConfig{})
	result, err := svc.Renew(context.Background(), staffClaims("lib-1"), "stu-1", validRenewal())
	require.NoError(t, err)
	require.NotNil(t, result.Student)
	require.NotNil(t, result.Snapshot)
	assert.True(t, repo.renewCalled)
	assert.Nil(t, repo.gotAccount)
	assert.Zero(t, repo.gotUpdate.Fees.DueAmount)
}

func TestRenewRejectsInvalidDateRange(t *testing.T) {
	svc, repo, _ := newMembershipFixture(t, MembershipServiceConfig{})
	req := validRenewal()
	req.MembershipStart, req.MembershipEnd = req.MembershipEnd, req.MembershipStart

	_, err := svc.Renew(context.Background(), staffClaims("lib-1"), "stu-1", req)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidDateRange.Code, appErr.Code)
	assert.False(t, repo.renewCalled)
}

func TestRenewRejectsOverpayment(t *testing.T) {
	svc, repo, _ := newMembershipFixture(t, MembershipServiceConfig{})
	req := validRenewal()
	req.Fees = models.FeeBreakdown{TotalFee: 1000, AmountPaid: 1200, CashPaid: 1200}

	_, err := svc.Renew(context.Background(), staffClaims("lib-1"), "stu-1", req)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrOverpayment.Code, appErr.Code)
	assert.False(t, repo.renewCalled)
}

func TestRenewProvisionsAccount(t *testing.T) {
	svc, repo, _ := newMembershipFixture(t, MembershipServiceConfig{AutoProvisionAccounts: true})
	_, err := svc.Renew(context.Background(), staffClaims("lib-1"), "stu-1", validRenewal())
	require.NoError(t, err)
	require.NotNil(t, repo.gotAccount)

	account := repo.gotAccount
	assert.Equal(t, "lib-1", account.LibraryID)
	assert.Equal(t, "9000000001", account.Phone)
	assert.Equal(t, models.RoleStudent, account.Role)
	require.NotNil(t, account.StudentID)
	assert.Equal(t, "stu-1", *account.StudentID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("9000000001")))
}

func TestRenewPropagatesRepositoryFailure(t *testing.T) {
	svc, repo, _ := newMembershipFixture(t, MembershipServiceConfig{})
	repo.renewErr = errors.New("deadlock")

	result, err := svc.Renew(context.Background(), staffClaims("lib-1"), "stu-1", validRenewal())
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestRenewAuthorization(t *testing.T) {
	svc, _, _ := newMembershipFixture(t, MembershipServiceConfig{})

	_, err := svc.Renew(context.Background(), studentClaims("lib-1", "stu-1"), "stu-1", validRenewal())
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Renew(context.Background(), staffClaims("lib-2"), "stu-1", validRenewal())
	assert.ErrorIs(t, err, appErrors.ErrTenantMismatch)

	_, err = svc.Renew(context.Background(), staffClaims("lib-1"), "missing", validRenewal())
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestStatusUsesWindowOverride(t *testing.T) {
	svc, _, students := newMembershipFixture(t, MembershipServiceConfig{DefaultSoonDays: 2})
	students.students["stu-1"].MembershipEnd = time.Now().Add(5 * 24 * time.Hour)

	detail, err := svc.Status(context.Background(), staffClaims("lib-1"), "stu-1", 0)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipActive, detail.Status)

	detail, err = svc.Status(context.Background(), staffClaims("lib-1"), "stu-1", 7)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipExpiringSoon, detail.Status)
}

func TestStatusAllowsSelfLookup(t *testing.T) {
	svc, _, _ := newMembershipFixture(t, MembershipServiceConfig{})
	detail, err := svc.Status(context.Background(), studentClaims("lib-1", "stu-1"), "stu-1", 0)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipExpired, detail.Status)

	_, err = svc.Status(context.Background(), studentClaims("lib-1", "stu-1"), "stu-9", 0)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestExpiringComputesDaysLeft(t *testing.T) {
	svc, _, students := newMembershipFixture(t, MembershipServiceConfig{})
	students.expiring = []models.ExpiringMembershipRow{
		{StudentID: "stu-1", MembershipEnd: time.Now().Add(48*time.Hour + time.Minute)},
	}

	rows, err := svc.Expiring(context.Background(), staffClaims("lib-1"), 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].DaysLeft)

	_, err = svc.Expiring(context.Background(), studentClaims("lib-1", "stu-1"), 2)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}
