package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role identifies the kind of actor behind a session.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleStaff   Role = "staff"
	RoleStudent Role = "student"
)

// Valid reports whether the role is one the API recognises.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleStaff, RoleStudent:
		return true
	default:
		return false
	}
}

// Admin reports whether the role may act on any student in its library.
func (r Role) Admin() bool {
	return r == RoleOwner || r == RoleStaff
}

// Account is a login record. Staff/owner accounts are created out of band;
// student accounts are auto-provisioned at admission or renewal with the
// phone number as login.
type Account struct {
	ID           string     `db:"id" json:"id"`
	LibraryID    string     `db:"library_id" json:"library_id"`
	StudentID    *string    `db:"student_id" json:"student_id,omitempty"`
	Phone        string     `db:"phone" json:"phone"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         Role       `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// SessionClaims are the JWT claims carried by every authenticated request.
// They are the session/tenant collaborator contract: every core operation
// receives the caller's library scope and, for students, their own id.
type SessionClaims struct {
	AccountID string  `json:"account_id"`
	LibraryID string  `json:"library_id"`
	StudentID *string `json:"student_id,omitempty"`
	Role      Role    `json:"role"`
	jwt.RegisteredClaims
}

// LoginRequest holds credentials for authenticating an account.
type LoginRequest struct {
	Phone    string `json:"phone" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and account info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	Role        Role      `json:"role"`
	LibraryID   string    `json:"library_id"`
	StudentID   *string   `json:"student_id,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}
