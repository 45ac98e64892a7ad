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

type mockStudentRepo struct {
	students  map[string]*models.Student
	listed    []models.Student
	total     int
	createErr error
	gotFilter models.StudentFilter
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	m.gotFilter = filter
	return m.listed, m.total, nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.createErr != nil {
		return m.createErr
	}
	student.ID = "stu-new"
	if m.students == nil {
		m.students = map[string]*models.Student{}
	}
	m.students[student.ID] = student
	return nil
}

func (m *mockStudentRepo) SetActive(ctx context.Context, id string, active bool) error {
	s, ok := m.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Active = active
	return nil
}

type mockProvisioner struct {
	created *models.Account
	err     error
}

func (m *mockProvisioner) CreateIfAbsent(ctx context.Context, account *models.Account) error {
	m.created = account
	return m.err
}

func newStudentFixture(t *testing.T, cfg StudentServiceConfig) (*StudentService, *mockStudentRepo, *mockProvisioner) {
	t.Helper()
	repo := &mockStudentRepo{students: map[string]*models.Student{
		"stu-1": {
			ID:              "stu-1",
			LibraryID:       "lib-1",
			Name:            "Asha",
			Phone:           "9000000001",
			MembershipStart: time.Now().Add(-30 * 24 * time.Hour),
			MembershipEnd:   time.Now().Add(60 * 24 * time.Hour),
			Active:          true,
		},
	}}
	accounts := &mockProvisioner{}
	svc := NewStudentService(repo, accounts, nil, nil, nil, cfg)
	return svc, repo, accounts
}

func validAdmission() AdmitStudentRequest {
	return AdmitStudentRequest{
		Name:            "Ravi",
		Phone:           "9000000009",
		MembershipStart: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		MembershipEnd:   time.Date(2026, time.April, 30, 0, 0, 0, 0, time.UTC),
		Fees: models.FeeBreakdown{
			TotalFee:   1500,
			AmountPaid: 1000,
			CashPaid:   1000,
		},
	}
}

func TestAdmitCreatesStudent(t *testing.T) {
	svc, repo, _ := newStudentFixture(t, StudentServiceConfig{})

	detail, err := svc.Admit(context.Background(), staffClaims("lib-1"), validAdmission())
	require.NoError(t, err)
	assert.Equal(t, "stu-new", detail.ID)
	assert.Equal(t, "lib-1", detail.LibraryID)
	assert.True(t, detail.Active)
	assert.Equal(t, float64(500), detail.DueAmount)
	assert.NotEqual(t, models.MembershipInactive, detail.Status)
	assert.Contains(t, repo.students, "stu-new")
}

func TestAdmitRequiresAdmin(t *testing.T) {
	svc, _, _ := newStudentFixture(t, StudentServiceConfig{})

	_, err := svc.Admit(context.Background(), studentClaims("lib-1", "stu-1"), validAdmission())
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Admit(context.Background(), nil, validAdmission())
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestAdmitRejectsInvalidDateRange(t *testing.T) {
	svc, _, _ := newStudentFixture(t, StudentServiceConfig{})

	req := validAdmission()
	req.MembershipStart, req.MembershipEnd = req.MembershipEnd, req.MembershipStart
	_, err := svc.Admit(context.Background(), staffClaims("lib-1"), req)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidDateRange.Code, appErr.Code)
}

func TestAdmitRejectsOverpayment(t *testing.T) {
	svc, repo, _ := newStudentFixture(t, StudentServiceConfig{})

	req := validAdmission()
	req.Fees.AmountPaid = 5000
	req.Fees.CashPaid = 5000
	_, err := svc.Admit(context.Background(), staffClaims("lib-1"), req)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrOverpayment.Code, appErr.Code)
	assert.NotContains(t, repo.students, "stu-new")
}

func TestAdmitWrapsRepositoryFailure(t *testing.T) {
	svc, repo, _ := newStudentFixture(t, StudentServiceConfig{})
	repo.createErr = errors.New("unique constraint violation")

	_, err := svc.Admit(context.Background(), staffClaims("lib-1"), validAdmission())
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
}

func TestAdmitProvisionsAccount(t *testing.T) {
	svc, _, accounts := newStudentFixture(t, StudentServiceConfig{AutoProvisionAccounts: true})

	detail, err := svc.Admit(context.Background(), staffClaims("lib-1"), validAdmission())
	require.NoError(t, err)
	require.NotNil(t, accounts.created)
	assert.Equal(t, "lib-1", accounts.created.LibraryID)
	assert.Equal(t, "9000000009", accounts.created.Phone)
	assert.Equal(t, models.RoleStudent, accounts.created.Role)
	require.NotNil(t, accounts.created.StudentID)
	assert.Equal(t, detail.ID, *accounts.created.StudentID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(accounts.created.PasswordHash), []byte("9000000009")))
}

func TestAdmitSucceedsWhenProvisioningFails(t *testing.T) {
	svc, _, accounts := newStudentFixture(t, StudentServiceConfig{AutoProvisionAccounts: true})
	accounts.err = errors.New("duplicate phone")

	detail, err := svc.Admit(context.Background(), staffClaims("lib-1"), validAdmission())
	require.NoError(t, err)
	assert.Equal(t, "stu-new", detail.ID)
}

func TestGetEnforcesTenancyAndSelf(t *testing.T) {
	svc, _, _ := newStudentFixture(t, StudentServiceConfig{})

	detail, err := svc.Get(context.Background(), staffClaims("lib-1"), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.MembershipActive, detail.Status)

	detail, err = svc.Get(context.Background(), studentClaims("lib-1", "stu-1"), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", detail.ID)

	_, err = svc.Get(context.Background(), studentClaims("lib-1", "stu-2"), "stu-1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Get(context.Background(), staffClaims("lib-2"), "stu-1")
	assert.ErrorIs(t, err, appErrors.ErrTenantMismatch)

	_, err = svc.Get(context.Background(), staffClaims("lib-1"), "missing")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestListScopesToLibraryAndDerivesStatus(t *testing.T) {
	svc, repo, _ := newStudentFixture(t, StudentServiceConfig{DefaultSoonDays: 2})
	repo.listed = []models.Student{
		{ID: "stu-1", LibraryID: "lib-1", Active: true, MembershipEnd: time.Now().Add(60 * 24 * time.Hour)},
		{ID: "stu-2", LibraryID: "lib-1", Active: true, MembershipEnd: time.Now().Add(-time.Hour)},
		{ID: "stu-3", LibraryID: "lib-1", Active: false, MembershipEnd: time.Now().Add(60 * 24 * time.Hour)},
	}
	repo.total = 3

	details, pagination, err := svc.List(context.Background(), staffClaims("lib-1"), models.StudentFilter{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, "lib-1", repo.gotFilter.LibraryID)
	require.Len(t, details, 3)
	assert.Equal(t, models.MembershipActive, details[0].Status)
	assert.Equal(t, models.MembershipExpired, details[1].Status)
	assert.Equal(t, models.MembershipInactive, details[2].Status)
	assert.Equal(t, 3, pagination.TotalItems)
	assert.Equal(t, 1, pagination.TotalPages)

	_, _, err = svc.List(context.Background(), studentClaims("lib-1", "stu-1"), models.StudentFilter{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestSetActiveTogglesOverride(t *testing.T) {
	svc, repo, _ := newStudentFixture(t, StudentServiceConfig{})

	require.NoError(t, svc.SetActive(context.Background(), staffClaims("lib-1"), "stu-1", false))
	assert.False(t, repo.students["stu-1"].Active)

	require.NoError(t, svc.SetActive(context.Background(), staffClaims("lib-1"), "stu-1", true))
	assert.True(t, repo.students["stu-1"].Active)

	err := svc.SetActive(context.Background(), staffClaims("lib-2"), "stu-1", false)
	assert.ErrorIs(t, err, appErrors.ErrTenantMismatch)

	err = svc.SetActive(context.Background(), studentClaims("lib-1", "stu-1"), "stu-1", false)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	err = svc.SetActive(context.Background(), staffClaims("lib-1"), "missing", false)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
