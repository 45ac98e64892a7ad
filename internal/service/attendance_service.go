package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/librify/librify-api/internal/models"
	appErrors "github.com/librify/librify-api/pkg/errors"
	"github.com/librify/librify-api/pkg/timeutil"
)

type attendanceRepository interface {
	AppendToggle(ctx context.Context, studentID, libraryID string, at time.Time, source models.AttendanceSource, notes *string, dayStart, dayEnd time.Time) (*models.AttendanceEvent, int, error)
	AppendManual(ctx context.Context, studentID, libraryID string, at time.Time, direction models.AttendanceDirection, notes *string, dayStart, dayEnd time.Time) (*models.AttendanceEvent, int, error)
	EventsBetween(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceEvent, error)
	OrgAttendance(ctx context.Context, filter models.OrgAttendanceFilter) ([]models.OrgAttendanceRow, int, error)
}

type attendanceStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// AttendanceServiceConfig tunes the attendance ledger.
type AttendanceServiceConfig struct {
	Location       *time.Location
	StatusCacheTTL time.Duration
	SoonWindowDays int
}

// AttendanceService converts scan actions into append-only events and derives
// status and day/month views from the event stream.
type AttendanceService struct {
	repo      attendanceRepository
	students  attendanceStudentReader
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AttendanceServiceConfig
}

// NewAttendanceService constructs the service.
func NewAttendanceService(repo attendanceRepository, students attendanceStudentReader, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg AttendanceServiceConfig) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StatusCacheTTL <= 0 {
		cfg.StatusCacheTTL = time.Minute
	}
	if cfg.SoonWindowDays < 1 || cfg.SoonWindowDays > 30 {
		cfg.SoonWindowDays = 2
	}
	svc := &AttendanceService{repo: repo, students: students, cache: cache, metrics: metrics, validator: validate, logger: logger, cfg: cfg}
	svc.validator.RegisterValidation("attendance_direction", func(fl validator.FieldLevel) bool {
		return models.AttendanceDirection(fl.Field().String()).Valid()
	})
	return svc
}

// GetStatus derives the student's toggle state for the given day from the
// parity of the day's event count: odd means checked in, even (including
// zero) means checked out.
func (s *AttendanceService) GetStatus(ctx context.Context, claims *models.SessionClaims, studentID string, asOf time.Time) (*models.AttendanceStatus, error) {
	if _, err := s.authorizedStudent(ctx, claims, studentID); err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	dayStart, dayEnd := timeutil.DayBounds(asOf, s.cfg.Location)

	cacheKey := statusCacheKey(studentID, dayStart)
	var cached models.AttendanceStatus
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	events, err := s.repo.EventsBetween(ctx, studentID, dayStart, dayEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read attendance events")
	}

	status := deriveStatus(studentID, dayStart, events)
	if err := s.cache.Set(ctx, cacheKey, status, s.cfg.StatusCacheTTL); err != nil {
		s.logger.Warn("failed to cache attendance status", zap.Error(err))
	}
	return status, nil
}

// Toggle appends one event at server time, alternating the student between
// checked-in and checked-out. The repository serializes concurrent toggles
// for the same student, so two simultaneous calls can never land on the same
// parity.
func (s *AttendanceService) Toggle(ctx context.Context, claims *models.SessionClaims, studentID string, notes *string) (*models.ToggleResult, error) {
	return s.toggle(ctx, claims, studentID, models.SourceToggle, notes)
}

// MarkWithQR validates the scanned payload against the student's tenant and
// then behaves exactly like Toggle.
func (s *AttendanceService) MarkWithQR(ctx context.Context, claims *models.SessionClaims, studentID string, rawPayload []byte, notes *string) (*models.ToggleResult, error) {
	student, err := s.authorizedStudent(ctx, claims, studentID)
	if err != nil {
		return nil, err
	}

	var payload models.QRPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidPayload.Code, appErrors.ErrInvalidPayload.Status, appErrors.ErrInvalidPayload.Message)
	}
	if payload.LibraryID == "" || payload.Token == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidPayload, "qr payload is missing library or token")
	}
	if payload.LibraryID != student.LibraryID {
		return nil, appErrors.Clone(appErrors.ErrTenantMismatch, "qr code belongs to a different library")
	}

	return s.toggle(ctx, claims, studentID, models.SourceQR, notes)
}

func (s *AttendanceService) toggle(ctx context.Context, claims *models.SessionClaims, studentID string, source models.AttendanceSource, notes *string) (*models.ToggleResult, error) {
	if _, err := s.authorizedStudent(ctx, claims, studentID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dayStart, dayEnd := timeutil.DayBounds(now, s.cfg.Location)

	event, total, err := s.repo.AppendToggle(ctx, studentID, claims.LibraryID, now, source, notes, dayStart, dayEnd)
	if err != nil {
		return nil, passThrough(err, "failed to record attendance")
	}
	s.invalidateStatus(ctx, studentID, dayStart)
	if s.metrics != nil {
		s.metrics.RecordAttendanceMark(string(source))
	}

	action := "checked in"
	if event.Direction == models.DirectionOut {
		action = "checked out"
	}
	s.logger.Info("attendance toggled",
		zap.String("student_id", studentID),
		zap.String("action", action),
		zap.Int("total_today", total))
	return &models.ToggleResult{Action: action, Record: event, TotalToday: total}, nil
}

// RecordManualRequest is the payload for manual/backfill entries.
type RecordManualRequest struct {
	Direction models.AttendanceDirection `json:"direction" validate:"required,attendance_direction"`
	At        time.Time                  `json:"at" validate:"required"`
	Notes     *string                    `json:"notes"`
}

// RecordManual appends an event with an explicit direction. Manual entry is a
// correction tool, not a bypass: entries that would create two consecutive
// same-direction events are rejected.
func (s *AttendanceService) RecordManual(ctx context.Context, claims *models.SessionClaims, studentID string, req RecordManualRequest) (*models.ToggleResult, error) {
	if claims == nil || !claims.Role.Admin() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid manual attendance payload")
	}
	if _, err := s.authorizedStudent(ctx, claims, studentID); err != nil {
		return nil, err
	}

	dayStart, dayEnd := timeutil.DayBounds(req.At, s.cfg.Location)
	event, total, err := s.repo.AppendManual(ctx, studentID, claims.LibraryID, req.At, req.Direction, req.Notes, dayStart, dayEnd)
	if err != nil {
		return nil, passThrough(err, "failed to record manual attendance")
	}
	s.invalidateStatus(ctx, studentID, dayStart)
	if s.metrics != nil {
		s.metrics.RecordAttendanceMark(string(models.SourceManual))
	}

	action := "checked in"
	if req.Direction == models.DirectionOut {
		action = "checked out"
	}
	return &models.ToggleResult{Action: action, Record: event, TotalToday: total}, nil
}

// DailyHistory returns the derived view of one calendar day.
func (s *AttendanceService) DailyHistory(ctx context.Context, claims *models.SessionClaims, studentID string, date time.Time) (*models.AttendanceDay, error) {
	if _, err := s.authorizedStudent(ctx, claims, studentID); err != nil {
		return nil, err
	}
	dayStart, dayEnd := timeutil.DayBounds(date, s.cfg.Location)
	events, err := s.repo.EventsBetween(ctx, studentID, dayStart, dayEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read attendance events")
	}
	day := deriveDay(dayStart, events)
	return &day, nil
}

// MonthlyHistory returns one derived row per calendar day of the month. The
// query is pure: it holds no cursor state and can be re-issued freely.
func (s *AttendanceService) MonthlyHistory(ctx context.Context, claims *models.SessionClaims, studentID string, year int, month time.Month) ([]models.AttendanceDay, error) {
	if _, err := s.authorizedStudent(ctx, claims, studentID); err != nil {
		return nil, err
	}
	if month < time.January || month > time.December {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must be between 1 and 12")
	}
	monthStart, monthEnd := timeutil.MonthBounds(year, month, s.cfg.Location)
	events, err := s.repo.EventsBetween(ctx, studentID, monthStart, monthEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read attendance events")
	}

	byDay := make(map[int][]models.AttendanceEvent)
	for _, ev := range events {
		byDay[ev.RecordedAt.In(s.cfg.Location).Day()] = append(byDay[ev.RecordedAt.In(s.cfg.Location).Day()], ev)
	}

	total := timeutil.DaysIn(year, month)
	days := make([]models.AttendanceDay, 0, total)
	for d := 1; d <= total; d++ {
		date := time.Date(year, month, d, 0, 0, 0, 0, s.cfg.Location)
		days = append(days, deriveDay(date, byDay[d]))
	}
	return days, nil
}

// OrgAttendance is the staff dashboard view: per student-day aggregates
// joined with membership flags, scoped to the caller's library.
func (s *AttendanceService) OrgAttendance(ctx context.Context, claims *models.SessionClaims, filter models.OrgAttendanceFilter) ([]models.OrgAttendanceRow, *models.Pagination, error) {
	if claims == nil || !claims.Role.Admin() {
		return nil, nil, appErrors.ErrForbidden
	}
	filter.LibraryID = claims.LibraryID

	start := time.Now()
	rows, total, err := s.repo.OrgAttendance(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list org attendance")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("org_attendance", time.Since(start))
	}

	now := time.Now().UTC()
	window := time.Duration(s.cfg.SoonWindowDays) * 24 * time.Hour
	for i := range rows {
		row := &rows[i]
		if row.TotalScans%2 == 1 {
			// Open day: the max timestamp is the last check-in, not an out.
			row.LastOut = nil
			row.Status = models.DayStatusOngoing
		} else if row.TotalScans > 0 {
			row.Status = models.DayStatusCompleted
		} else {
			row.Status = models.DayStatusAbsent
		}
		row.DurationText = timeutil.DurationText(row.FirstIn, row.LastOut)
		row.MembershipStatus = DeriveStatus(row.MembershipEnd, row.Active, now, window)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	return rows, models.NewPagination(page, size, total), nil
}

func (s *AttendanceService) invalidateStatus(ctx context.Context, studentID string, dayStart time.Time) {
	if err := s.cache.Delete(ctx, statusCacheKey(studentID, dayStart)); err != nil {
		s.logger.Warn("failed to invalidate attendance status cache", zap.Error(err))
	}
}

// authorizedStudent enforces tenancy: admins reach any student in their
// library, students reach only themselves.
func (s *AttendanceService) authorizedStudent(ctx context.Context, claims *models.SessionClaims, studentID string) (*models.Student, error) {
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

func statusCacheKey(studentID string, dayStart time.Time) string {
	return fmt.Sprintf("attendance:status:%s:%s", studentID, dayStart.Format("2006-01-02"))
}

// deriveStatus computes the live toggle view from one day's events.
func deriveStatus(studentID string, dayStart time.Time, events []models.AttendanceEvent) *models.AttendanceStatus {
	status := &models.AttendanceStatus{
		StudentID:     studentID,
		Date:          dayStart,
		NextAction:    models.DirectionIn,
		CurrentStatus: models.CheckedOut,
		TotalScans:    len(events),
	}
	if len(events) == 0 {
		return status
	}
	status.HasMarkedToday = true
	first := events[0].RecordedAt
	status.FirstIn = &first
	if len(events)%2 == 1 {
		status.CurrentStatus = models.CheckedIn
		status.NextAction = models.DirectionOut
	} else {
		last := events[len(events)-1].RecordedAt
		status.LastOut = &last
	}
	return status
}

// deriveDay computes the day-level history row. A day with no events is
// Absent, an odd count is Ongoing, an even count ≥ 2 is Completed.
func deriveDay(date time.Time, events []models.AttendanceEvent) models.AttendanceDay {
	day := models.AttendanceDay{Date: date, TotalScans: len(events), Status: models.DayStatusAbsent}
	if len(events) == 0 {
		day.DurationText = timeutil.DurationText(nil, nil)
		return day
	}
	first := events[0].RecordedAt
	day.FirstIn = &first
	if len(events)%2 == 1 {
		day.Status = models.DayStatusOngoing
	} else {
		last := events[len(events)-1].RecordedAt
		day.LastOut = &last
		day.Status = models.DayStatusCompleted
	}
	day.DurationText = timeutil.DurationText(day.FirstIn, day.LastOut)
	return day
}

// passThrough surfaces typed repository errors unchanged and wraps the rest.
func passThrough(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
