package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/librify/librify-api/internal/models"
	appErrors "github.com/librify/librify-api/pkg/errors"
)

// DeriveStatus is the single source of truth for membership classification.
// The manual inactive flag always wins over dates; soonWindow controls how
// far ahead "expiring soon" looks (callers clamp it to 1..30 days).
func DeriveStatus(membershipEnd time.Time, active bool, now time.Time, soonWindow time.Duration) models.MembershipStatus {
	switch {
	case !active:
		return models.MembershipInactive
	case membershipEnd.Before(now):
		return models.MembershipExpired
	case !membershipEnd.After(now.Add(soonWindow)):
		return models.MembershipExpiringSoon
	default:
		return models.MembershipActive
	}
}

// ClampSoonWindow normalises a caller-supplied expiring-soon day count.
func ClampSoonWindow(days, fallback int) time.Duration {
	if days < 1 || days > 30 {
		days = fallback
	}
	if days < 1 || days > 30 {
		days = 2
	}
	return time.Duration(days) * 24 * time.Hour
}

type membershipRepository interface {
	HistoryForStudent(ctx context.Context, studentID string) ([]models.MembershipHistoryRecord, error)
	Renew(ctx context.Context, studentID, libraryID string, update models.MembershipRenewal, account *models.Account) (*models.Student, *models.MembershipHistoryRecord, error)
}

type membershipStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExpiringBetween(ctx context.Context, libraryID string, from, to time.Time) ([]models.ExpiringMembershipRow, error)
}

// MembershipServiceConfig tunes the service.
type MembershipServiceConfig struct {
	DefaultSoonDays       int
	AutoProvisionAccounts bool
	FeePolicy             FeePolicy
}

// MembershipService manages status derivation and renewal transitions.
type MembershipService struct {
	repo      membershipRepository
	students  membershipStudentReader
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       MembershipServiceConfig
}

// NewMembershipService constructs the service.
func NewMembershipService(repo membershipRepository, students membershipStudentReader, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg MembershipServiceConfig) *MembershipService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultSoonDays < 1 || cfg.DefaultSoonDays > 30 {
		cfg.DefaultSoonDays = 2
	}
	return &MembershipService{repo: repo, students: students, metrics: metrics, validator: validate, logger: logger, cfg: cfg}
}

// RenewMembershipRequest is the payload for renewing a student's membership.
type RenewMembershipRequest struct {
	MembershipStart time.Time           `json:"membership_start" validate:"required"`
	MembershipEnd   time.Time           `json:"membership_end" validate:"required"`
	Fees            models.FeeBreakdown `json:"fees"`
	BranchID        *string             `json:"branch_id"`
	SeatID          *string             `json:"seat_id"`
	ShiftID         *string             `json:"shift_id"`
	LockerID        *string             `json:"locker_id"`
	Remark          *string             `json:"remark"`
}

// RenewalResult returns the updated student and the snapshot of the prior
// period.
type RenewalResult struct {
	Student  *models.Student                 `json:"student"`
	Snapshot *models.MembershipHistoryRecord `json:"snapshot"`
}

// Renew snapshots the current period into history and establishes the new
// one. The repository executes both writes in one transaction; a failure in
// either leaves no trace of the attempt.
func (s *MembershipService) Renew(ctx context.Context, claims *models.SessionClaims, studentID string, req RenewMembershipRequest) (*RenewalResult, error) {
	if claims == nil || !claims.Role.Admin() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid renewal payload")
	}
	if req.MembershipStart.After(req.MembershipEnd) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDateRange, "membership start must not be after membership end")
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch student")
	}
	if student.LibraryID != claims.LibraryID {
		return nil, appErrors.ErrTenantMismatch
	}

	fees, err := ReconcileFees(req.Fees, s.cfg.FeePolicy, s.logger)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrOverpayment.Code && s.metrics != nil {
			s.metrics.RecordFeeRejection()
		}
		return nil, err
	}

	var account *models.Account
	if s.cfg.AutoProvisionAccounts {
		account, err = s.provisionAccount(student)
		if err != nil {
			return nil, err
		}
	}

	update := models.MembershipRenewal{
		MembershipStart: req.MembershipStart,
		MembershipEnd:   req.MembershipEnd,
		Fees:            fees,
		BranchID:        req.BranchID,
		SeatID:          req.SeatID,
		ShiftID:         req.ShiftID,
		LockerID:        req.LockerID,
		Remark:          req.Remark,
	}

	updated, snapshot, err := s.repo.Renew(ctx, studentID, claims.LibraryID, update, account)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "renewal failed")
	}

	if s.metrics != nil {
		s.metrics.RecordRenewal()
	}
	s.logger.Info("membership renewed",
		zap.String("student_id", studentID),
		zap.Time("membership_end", updated.MembershipEnd),
		zap.Float64("due_amount", updated.DueAmount))

	return &RenewalResult{Student: updated, Snapshot: snapshot}, nil
}

// provisionAccount prepares the student login inserted alongside the renewal.
// The phone number doubles as login and initial password; the repository's
// conflict clause keeps repeats idempotent.
func (s *MembershipService) provisionAccount(student *models.Student) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(student.Phone), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash initial password")
	}
	studentID := student.ID
	return &models.Account{
		LibraryID:    student.LibraryID,
		StudentID:    &studentID,
		Phone:        student.Phone,
		PasswordHash: string(hash),
		Role:         models.RoleStudent,
		Active:       true,
	}, nil
}

// Status returns the student's derived membership status.
func (s *MembershipService) Status(ctx context.Context, claims *models.SessionClaims, studentID string, soonDays int) (*models.StudentDetail, error) {
	student, err := s.authorizedStudent(ctx, claims, studentID)
	if err != nil {
		return nil, err
	}
	window := ClampSoonWindow(soonDays, s.cfg.DefaultSoonDays)
	return &models.StudentDetail{
		Student: *student,
		Status:  DeriveStatus(student.MembershipEnd, student.Active, time.Now().UTC(), window),
	}, nil
}

// History returns the student's immutable membership snapshots.
func (s *MembershipService) History(ctx context.Context, claims *models.SessionClaims, studentID string) ([]models.MembershipHistoryRecord, error) {
	if _, err := s.authorizedStudent(ctx, claims, studentID); err != nil {
		return nil, err
	}
	records, err := s.repo.HistoryForStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list membership history")
	}
	return records, nil
}

// Expiring lists memberships ending within the requested day window.
func (s *MembershipService) Expiring(ctx context.Context, claims *models.SessionClaims, days int) ([]models.ExpiringMembershipRow, error) {
	if claims == nil || !claims.Role.Admin() {
		return nil, appErrors.ErrForbidden
	}
	window := ClampSoonWindow(days, s.cfg.DefaultSoonDays)
	now := time.Now().UTC()
	start := time.Now()
	rows, err := s.students.ExpiringBetween(ctx, claims.LibraryID, now, now.Add(window))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list expiring memberships")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("expiring_memberships", time.Since(start))
	}
	for i := range rows {
		rows[i].DaysLeft = int(rows[i].MembershipEnd.Sub(now).Hours() / 24)
	}
	return rows, nil
}

// authorizedStudent enforces tenancy: admins reach any student in their
// library, students reach only themselves.
func (s *MembershipService) authorizedStudent(ctx context.Context, claims *models.SessionClaims, studentID string) (*models.Student, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleStudent && (claims.StudentID == nil || *claims.StudentID != studentID) {
		return nil, appErrors.ErrForbidden
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch student")
	}
	if student.LibraryID != claims.LibraryID {
		return nil, appErrors.ErrTenantMismatch
	}
	return student, nil
}
