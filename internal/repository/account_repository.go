package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/librify/librify-api/internal/models"
)

const accountColumns = "id, library_id, student_id, phone, password_hash, role, active, last_login_at, created_at"

// AccountRepository manages login accounts for owners, staff and students.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository constructs an AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByPhone fetches the account registered under a phone number.
func (r *AccountRepository) FindByPhone(ctx context.Context, phone string) (*models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE phone = $1", accountColumns)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, phone); err != nil {
		return nil, err
	}
	return &account, nil
}

// FindByID fetches one account.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE id = $1", accountColumns)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		return nil, err
	}
	return &account, nil
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO accounts (id, library_id, student_id, phone, password_hash, role, active, created_at)
VALUES (:id, :library_id, :student_id, :phone, :password_hash, :role, :active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// CreateIfAbsent provisions an account idempotently: the unique
// (library_id, phone) constraint turns repeats into no-ops.
func (r *AccountRepository) CreateIfAbsent(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO accounts (id, library_id, student_id, phone, password_hash, role, active, created_at)
VALUES (:id, :library_id, :student_id, :phone, :password_hash, :role, :active, :created_at)
ON CONFLICT (library_id, phone) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		return fmt.Errorf("provision account: %w", err)
	}
	return nil
}

// UpdateLastLogin stamps a successful login.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE accounts SET last_login_at = $1 WHERE id = $2`, ts, id); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
