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

type mockAccountRepo struct {
	accounts  map[string]*models.Account
	stampedID string
	stampErr  error
	findErr   error
}

func (m *mockAccountRepo) FindByPhone(ctx context.Context, phone string) (*models.Account, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, acc := range m.accounts {
		if acc.Phone == phone {
			return acc, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*models.Account, error) {
	if acc, ok := m.accounts[id]; ok {
		return acc, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccountRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.stampedID = id
	return m.stampErr
}

func newAuthFixture(t *testing.T) (*AuthService, *mockAccountRepo) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	studentID := "stu-1"
	repo := &mockAccountRepo{accounts: map[string]*models.Account{
		"acc-1": {
			ID:           "acc-1",
			LibraryID:    "lib-1",
			Phone:        "9000000001",
			PasswordHash: string(hash),
			Role:         models.RoleOwner,
			Active:       true,
		},
		"acc-2": {
			ID:           "acc-2",
			LibraryID:    "lib-1",
			StudentID:    &studentID,
			Phone:        "9000000002",
			PasswordHash: string(hash),
			Role:         models.RoleStudent,
			Active:       true,
		},
		"acc-3": {
			ID:           "acc-3",
			LibraryID:    "lib-1",
			Phone:        "9000000003",
			PasswordHash: string(hash),
			Role:         models.RoleStaff,
			Active:       false,
		},
	}}
	svc := NewAuthService(repo, nil, nil, AuthConfig{TokenSecret: "test-secret", TokenExpiry: time.Hour, Issuer: "librify-test"})
	return svc, repo
}

func TestLoginIssuesToken(t *testing.T) {
	svc, repo := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Phone: "9000000001", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, models.RoleOwner, resp.Role)
	assert.Equal(t, "lib-1", resp.LibraryID)
	assert.Nil(t, resp.StudentID)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "acc-1", repo.stampedID)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.AccountID)
	assert.Equal(t, "lib-1", claims.LibraryID)
	assert.Equal(t, models.RoleOwner, claims.Role)
}

func TestLoginStudentCarriesStudentID(t *testing.T) {
	svc, _ := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Phone: "9000000002", Password: "secret123"})
	require.NoError(t, err)
	require.NotNil(t, resp.StudentID)
	assert.Equal(t, "stu-1", *resp.StudentID)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, claims.StudentID)
	assert.Equal(t, "stu-1", *claims.StudentID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Phone: "9000000001", Password: "wrong"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), models.LoginRequest{Phone: "0000000000", Password: "secret123"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Phone: "9000000003", Password: "secret123"})
	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount)
}

func TestLoginValidatesPayload(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Phone: "", Password: ""})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestLoginSucceedsWhenStampFails(t *testing.T) {
	svc, repo := newAuthFixture(t)
	repo.stampErr = errors.New("timeout")

	resp, err := svc.Login(context.Background(), models.LoginRequest{Phone: "9000000001", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestLoginWrapsRepositoryFailure(t *testing.T) {
	svc, repo := newAuthFixture(t)
	repo.findErr = errors.New("connection refused")

	_, err := svc.Login(context.Background(), models.LoginRequest{Phone: "9000000001", Password: "secret123"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.ValidateToken("not-a-token")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc, _ := newAuthFixture(t)
	other := NewAuthService(&mockAccountRepo{}, nil, nil, AuthConfig{TokenSecret: "other-secret", TokenExpiry: time.Hour})

	resp, err := svc.Login(context.Background(), models.LoginRequest{Phone: "9000000001", Password: "secret123"})
	require.NoError(t, err)

	_, err = other.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}
