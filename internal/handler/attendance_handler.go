package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/librify/librify-api/internal/models"
	"github.com/librify/librify-api/internal/service"
	appErrors "github.com/librify/librify-api/pkg/errors"
	"github.com/librify/librify-api/pkg/response"
)

// AttendanceHandler exposes the attendance ledger endpoints.
type AttendanceHandler struct {
	service *service.AttendanceService
}

// NewAttendanceHandler creates a new handler.
func NewAttendanceHandler(svc *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// Status godoc
// @Summary Attendance status for today
// @Description Derived toggle state for the student on the given day
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Param date query string false "Day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /students/{id}/attendance/status [get]
func (h *AttendanceHandler) Status(c *gin.Context) {
	asOf, err := queryDate(c, "date")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD"))
		return
	}
	var at time.Time
	if asOf != nil {
		at = *asOf
	}
	status, err := h.service.GetStatus(c.Request.Context(), claimsFromContext(c), c.Param("id"), at)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

type togglePayload struct {
	Notes *string `json:"notes"`
}

// Toggle godoc
// @Summary Toggle attendance
// @Description Appends one check-in or check-out event at server time
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body togglePayload false "Optional notes"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{id}/attendance/toggle [post]
func (h *AttendanceHandler) Toggle(c *gin.Context) {
	var payload togglePayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	result, err := h.service.Toggle(c.Request.Context(), claimsFromContext(c), c.Param("id"), payload.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// MarkWithQR godoc
// @Summary Mark attendance from a QR scan
// @Description Validates the scanned payload and toggles the student's state
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /students/{id}/attendance/qr [post]
func (h *AttendanceHandler) MarkWithQR(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidPayload, "unreadable qr payload"))
		return
	}
	result, err := h.service.MarkWithQR(c.Request.Context(), claimsFromContext(c), c.Param("id"), raw, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// RecordManual godoc
// @Summary Record a manual attendance entry
// @Description Staff correction with an explicit direction and timestamp
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.RecordManualRequest true "Manual entry"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{id}/attendance/manual [post]
func (h *AttendanceHandler) RecordManual(c *gin.Context) {
	var req service.RecordManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.RecordManual(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil)
}

// DailyHistory godoc
// @Summary Attendance for one day
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Param date query string true "Day (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/attendance/daily [get]
func (h *AttendanceHandler) DailyHistory(c *gin.Context) {
	date, err := queryDate(c, "date")
	if err != nil || date == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date is required as YYYY-MM-DD"))
		return
	}
	day, err := h.service.DailyHistory(c.Request.Context(), claimsFromContext(c), c.Param("id"), *date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, day, nil)
}

// MonthlyHistory godoc
// @Summary Attendance for one month
// @Description One derived row per calendar day, absent days included
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Param year query int true "Year"
// @Param month query int true "Month (1-12)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/attendance/monthly [get]
func (h *AttendanceHandler) MonthlyHistory(c *gin.Context) {
	year := queryInt(c, "year", time.Now().UTC().Year())
	month := queryInt(c, "month", int(time.Now().UTC().Month()))
	days, err := h.service.MonthlyHistory(c.Request.Context(), claimsFromContext(c), c.Param("id"), year, time.Month(month))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, days, nil)
}

// OrgAttendance godoc
// @Summary Library attendance dashboard
// @Description Per student-day aggregates for the caller's library
// @Tags Attendance
// @Produce json
// @Param search query string false "Name or phone search"
// @Param date query string false "Single day (YYYY-MM-DD)"
// @Param date_from query string false "Range start (YYYY-MM-DD)"
// @Param date_to query string false "Range end (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) OrgAttendance(c *gin.Context) {
	date, err := queryDate(c, "date")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD"))
		return
	}
	dateFrom, err := queryDate(c, "date_from")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date_from must be YYYY-MM-DD"))
		return
	}
	dateTo, err := queryDate(c, "date_to")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date_to must be YYYY-MM-DD"))
		return
	}
	if dateFrom != nil && dateTo != nil && dateFrom.After(*dateTo) {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidDateRange, "date_from must not be after date_to"))
		return
	}

	filter := models.OrgAttendanceFilter{
		Search:   c.Query("search"),
		Date:     date,
		DateFrom: dateFrom,
		DateTo:   dateTo,
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 50),
	}
	rows, pagination, err := h.service.OrgAttendance(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}
