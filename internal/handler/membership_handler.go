package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/librify/librify-api/internal/service"
	appErrors "github.com/librify/librify-api/pkg/errors"
	"github.com/librify/librify-api/pkg/response"
)

// MembershipHandler exposes membership lifecycle endpoints.
type MembershipHandler struct {
	service *service.MembershipService
}

// NewMembershipHandler creates a new handler.
func NewMembershipHandler(svc *service.MembershipService) *MembershipHandler {
	return &MembershipHandler{service: svc}
}

// Status godoc
// @Summary Membership status
// @Description Derived status for one student; soon_days widens the expiring window
// @Tags Membership
// @Produce json
// @Param id path string true "Student ID"
// @Param soon_days query int false "Expiring-soon window in days (1-30)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/membership [get]
func (h *MembershipHandler) Status(c *gin.Context) {
	detail, err := h.service.Status(c.Request.Context(), claimsFromContext(c), c.Param("id"), queryInt(c, "soon_days", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// History godoc
// @Summary Membership history
// @Description Immutable snapshots of past membership periods, newest first
// @Tags Membership
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/membership/history [get]
func (h *MembershipHandler) History(c *gin.Context) {
	records, err := h.service.History(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Renew godoc
// @Summary Renew membership
// @Description Snapshots the current period into history and sets the new one
// @Tags Membership
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.RenewMembershipRequest true "Renewal payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /students/{id}/membership/renew [post]
func (h *MembershipHandler) Renew(c *gin.Context) {
	var req service.RenewMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid renewal payload"))
		return
	}
	result, err := h.service.Renew(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Expiring godoc
// @Summary Expiring memberships
// @Description Memberships ending within the requested day window
// @Tags Membership
// @Produce json
// @Param days query int false "Window in days (1-30, default 2)"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /memberships/expiring [get]
func (h *MembershipHandler) Expiring(c *gin.Context) {
	rows, err := h.service.Expiring(c.Request.Context(), claimsFromContext(c), queryInt(c, "days", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
