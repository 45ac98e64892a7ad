package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/librify/librify-api/internal/middleware"
	"github.com/librify/librify-api/internal/models"
	"github.com/librify/librify-api/internal/service"
)

type reportServiceMock struct {
	job         *models.ReportJob
	jobErr      error
	download    *service.ReportDownload
	downloadErr error
}

func (m *reportServiceMock) CreateJob(ctx context.Context, claims *models.SessionClaims, req service.CreateReportRequest) (*models.ReportJob, error) {
	return m.job, m.jobErr
}

func (m *reportServiceMock) GetStatus(ctx context.Context, claims *models.SessionClaims, id string) (*models.ReportJob, error) {
	return m.job, m.jobErr
}

func (m *reportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestReportHandlerGenerate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		job: &models.ReportJob{ID: "job-1", Status: models.ReportStatusQueued},
	}
	handler := NewReportHandler(mockSvc)

	payload, _ := json.Marshal(service.CreateReportRequest{Type: models.ReportTypeAttendanceRegister, Format: models.ReportFormatCSV})
	c, w := newGinContext(http.MethodPost, "/reports/generate", payload)
	c.Set(middleware.ContextUserKey, &models.SessionClaims{AccountID: "acc-1", LibraryID: "lib-1", Role: models.RoleOwner})

	handler.Generate(c)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestReportHandlerStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		job: &models.ReportJob{ID: "job-1", Status: models.ReportStatusFinished},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/status/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	c.Set(middleware.ContextUserKey, &models.SessionClaims{AccountID: "acc-1", LibraryID: "lib-1", Role: models.RoleOwner})

	handler.Status(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReportHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp("", "register*.csv")
	require.NoError(t, err)
	defer os.Remove(file.Name())
	_, _ = file.WriteString("data")
	_, _ = file.Seek(0, 0)

	mockSvc := &reportServiceMock{
		download: &service.ReportDownload{
			File:      file,
			Filename:  "register.csv",
			Format:    models.ReportFormatCSV,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/export/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
}
