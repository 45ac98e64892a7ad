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

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	SetActive(ctx context.Context, id string, active bool) error
}

type accountProvisioner interface {
	CreateIfAbsent(ctx context.Context, account *models.Account) error
}

// AdmitStudentRequest holds the payload for admitting a student.
type AdmitStudentRequest struct {
	Name            string              `json:"name" validate:"required"`
	Phone           string              `json:"phone" validate:"required"`
	Email           *string             `json:"email" validate:"omitempty,email"`
	Address         *string             `json:"address"`
	RegistrationNo  *string             `json:"registration_no"`
	FatherName      *string             `json:"father_name"`
	GovernmentID    *string             `json:"government_id"`
	BranchID        *string             `json:"branch_id"`
	SeatID          *string             `json:"seat_id"`
	ShiftID         *string             `json:"shift_id"`
	LockerID        *string             `json:"locker_id"`
	MembershipStart time.Time           `json:"membership_start" validate:"required"`
	MembershipEnd   time.Time           `json:"membership_end" validate:"required"`
	Fees            models.FeeBreakdown `json:"fees"`
}

// StudentServiceConfig tunes admission behaviour.
type StudentServiceConfig struct {
	DefaultSoonDays       int
	AutoProvisionAccounts bool
	FeePolicy             FeePolicy
}

// StudentService handles the admission surface: create, fetch, list and the
// manual active/inactive override.
type StudentService struct {
	repo      studentRepository
	accounts  accountProvisioner
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       StudentServiceConfig
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, accounts accountProvisioner, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg StudentServiceConfig) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultSoonDays < 1 || cfg.DefaultSoonDays > 30 {
		cfg.DefaultSoonDays = 2
	}
	return &StudentService{repo: repo, accounts: accounts, metrics: metrics, validator: validate, logger: logger, cfg: cfg}
}

// Admit creates a student with a reconciled fee ledger and, when enabled,
// provisions their login account (phone as login and initial password).
func (s *StudentService) Admit(ctx context.Context, claims *models.SessionClaims, req AdmitStudentRequest) (*models.StudentDetail, error) {
	if claims == nil || !claims.Role.Admin() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid admission payload")
	}
	if req.MembershipStart.After(req.MembershipEnd) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDateRange, "membership start must not be after membership end")
	}

	fees, err := ReconcileFees(req.Fees, s.cfg.FeePolicy, s.logger)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrOverpayment.Code && s.metrics != nil {
			s.metrics.RecordFeeRejection()
		}
		return nil, err
	}

	student := &models.Student{
		LibraryID:       claims.LibraryID,
		BranchID:        req.BranchID,
		Name:            req.Name,
		Phone:           req.Phone,
		Email:           req.Email,
		Address:         req.Address,
		RegistrationNo:  req.RegistrationNo,
		FatherName:      req.FatherName,
		GovernmentID:    req.GovernmentID,
		SeatID:          req.SeatID,
		ShiftID:         req.ShiftID,
		LockerID:        req.LockerID,
		MembershipStart: req.MembershipStart,
		MembershipEnd:   req.MembershipEnd,
		Active:          true,
		FeeBreakdown:    fees,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	if s.cfg.AutoProvisionAccounts && s.accounts != nil {
		if err := s.provisionLogin(ctx, student); err != nil {
			s.logger.Warn("failed to provision student account", zap.String("student_id", student.ID), zap.Error(err))
		}
	}

	window := time.Duration(s.cfg.DefaultSoonDays) * 24 * time.Hour
	return &models.StudentDetail{
		Student: *student,
		Status:  DeriveStatus(student.MembershipEnd, student.Active, time.Now().UTC(), window),
	}, nil
}

func (s *StudentService) provisionLogin(ctx context.Context, student *models.Student) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(student.Phone), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	studentID := student.ID
	return s.accounts.CreateIfAbsent(ctx, &models.Account{
		LibraryID:    student.LibraryID,
		StudentID:    &studentID,
		Phone:        student.Phone,
		PasswordHash: string(hash),
		Role:         models.RoleStudent,
		Active:       true,
	})
}

// Get returns one student with derived membership status.
func (s *StudentService) Get(ctx context.Context, claims *models.SessionClaims, id string) (*models.StudentDetail, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleStudent && (claims.StudentID == nil || *claims.StudentID != id) {
		return nil, appErrors.ErrForbidden
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch student")
	}
	if student.LibraryID != claims.LibraryID {
		return nil, appErrors.ErrTenantMismatch
	}
	window := time.Duration(s.cfg.DefaultSoonDays) * 24 * time.Hour
	return &models.StudentDetail{
		Student: *student,
		Status:  DeriveStatus(student.MembershipEnd, student.Active, time.Now().UTC(), window),
	}, nil
}

// List returns the library's students with derived statuses.
func (s *StudentService) List(ctx context.Context, claims *models.SessionClaims, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	if claims == nil || !claims.Role.Admin() {
		return nil, nil, appErrors.ErrForbidden
	}
	filter.LibraryID = claims.LibraryID

	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	now := time.Now().UTC()
	window := time.Duration(s.cfg.DefaultSoonDays) * 24 * time.Hour
	details := make([]models.StudentDetail, 0, len(students))
	for _, student := range students {
		details = append(details, models.StudentDetail{
			Student: student,
			Status:  DeriveStatus(student.MembershipEnd, student.Active, now, window),
		})
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	return details, models.NewPagination(page, size, total), nil
}

// SetActive flips the manual override. Deactivation frees the seat without
// touching dates or history.
func (s *StudentService) SetActive(ctx context.Context, claims *models.SessionClaims, id string, active bool) error {
	if claims == nil || !claims.Role.Admin() {
		return appErrors.ErrForbidden
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch student")
	}
	if student.LibraryID != claims.LibraryID {
		return appErrors.ErrTenantMismatch
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return nil
}
