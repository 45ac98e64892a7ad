package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/librify/librify-api/internal/models"
	"github.com/librify/librify-api/internal/service"
	appErrors "github.com/librify/librify-api/pkg/errors"
	"github.com/librify/librify-api/pkg/response"
)

type reportOrchestrator interface {
	CreateJob(ctx context.Context, claims *models.SessionClaims, req service.CreateReportRequest) (*models.ReportJob, error)
	GetStatus(ctx context.Context, claims *models.SessionClaims, id string) (*models.ReportJob, error)
	ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error)
}

// ReportHandler exposes asynchronous export endpoints.
type ReportHandler struct {
	service reportOrchestrator
}

// NewReportHandler creates a new handler.
func NewReportHandler(svc reportOrchestrator) *ReportHandler {
	return &ReportHandler{service: svc}
}

// Generate godoc
// @Summary Queue a report export
// @Description Queues an attendance register or fee collection export
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body service.CreateReportRequest true "Report request"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reports/generate [post]
func (h *ReportHandler) Generate(c *gin.Context) {
	var req service.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report payload"))
		return
	}
	job, err := h.service.CreateJob(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Status godoc
// @Summary Report job status
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/status/{id} [get]
func (h *ReportHandler) Status(c *gin.Context) {
	job, err := h.service.GetStatus(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download a finished export
// @Description Streams the export file for a valid signed token
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /reports/export/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	download, err := h.service.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	contentType := "text/csv"
	if download.Format == models.ReportFormatPDF {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="`+download.Filename+`"`)
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, -1, contentType, download.File, nil)
}
