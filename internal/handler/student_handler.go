package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/librify/librify-api/internal/models"
	"github.com/librify/librify-api/internal/service"
	appErrors "github.com/librify/librify-api/pkg/errors"
	"github.com/librify/librify-api/pkg/response"
)

// StudentHandler exposes the student admission surface.
type StudentHandler struct {
	service *service.StudentService
}

// NewStudentHandler creates a new handler.
func NewStudentHandler(svc *service.StudentService) *StudentHandler {
	return &StudentHandler{service: svc}
}

// Admit godoc
// @Summary Admit a student
// @Description Creates a student with a reconciled fee ledger
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.AdmitStudentRequest true "Admission payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Admit(c *gin.Context) {
	var req service.AdmitStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid admission payload"))
		return
	}
	detail, err := h.service.Admit(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// Get godoc
// @Summary Get one student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Name, phone or registration search"
// @Param active query bool false "Filter by manual active flag"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param sort_by query string false "name | membership_end | created_at"
// @Param sort_order query string false "asc | desc"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	filter := models.StudentFilter{
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 50),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if raw := c.Query("active"); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}
	details, pagination, err := h.service.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, pagination)
}

type setActivePayload struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive godoc
// @Summary Activate or deactivate a student
// @Description Manual override; deactivation frees the seat without touching dates
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body setActivePayload true "Active flag"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /students/{id}/active [patch]
func (h *StudentHandler) SetActive(c *gin.Context) {
	var payload setActivePayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Active == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "active flag is required"))
		return
	}
	if err := h.service.SetActive(c.Request.Context(), claimsFromContext(c), c.Param("id"), *payload.Active); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
