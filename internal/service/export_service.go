package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/librify/librify-api/internal/models"
	"github.com/librify/librify-api/pkg/export"
	"github.com/librify/librify-api/pkg/storage"
	"github.com/librify/librify-api/pkg/timeutil"
)

type exportAttendanceSource interface {
	OrgAttendance(ctx context.Context, filter models.OrgAttendanceFilter) ([]models.OrgAttendanceRow, int, error)
}

type exportStudentSource interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
	Location  *time.Location
	SoonDays  int
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	attendance exportAttendanceSource
	students   exportStudentSource
	storage    fileStorage
	csv        csvRenderer
	pdf        pdfRenderer
	signer     *storage.SignedURLSigner
	logger     *zap.Logger
	cfg        ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(attendance exportAttendanceSource, students exportStudentSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SoonDays < 1 || cfg.SoonDays > 30 {
		cfg.SoonDays = 2
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		attendance: attendance,
		students:   students,
		storage:    store,
		csv:        csv,
		pdf:        pdf,
		signer:     signer,
		logger:     logger,
		cfg:        cfg,
	}
}

// Generate builds the dataset according to the job definition and stores the
// rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/reports/export/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	libraryPart := sanitizeFilename(job.Params.LibraryID)
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), libraryPart, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeAttendanceRegister:
		return s.buildAttendanceRegister(ctx, job.Params)
	case models.ReportTypeFeeCollection:
		return s.buildFeeCollection(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildAttendanceRegister(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	filter := models.OrgAttendanceFilter{
		LibraryID: params.LibraryID,
		DateFrom:  params.DateFrom,
		DateTo:    params.DateTo,
		Page:      1,
		PageSize:  10000,
	}
	rows, _, err := s.attendance.OrgAttendance(ctx, filter)
	if err != nil {
		return export.Dataset{}, "", err
	}
	window := time.Duration(s.cfg.SoonDays) * 24 * time.Hour
	now := time.Now().UTC()
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		firstIn := row.FirstIn
		lastOut := row.LastOut
		if row.TotalScans%2 == 1 {
			lastOut = nil
		}
		dataRows = append(dataRows, map[string]string{
			"Date":       row.Date.In(s.cfg.Location).Format("2006-01-02"),
			"Student":    row.StudentName,
			"Phone":      row.Phone,
			"First In":   formatReportTime(firstIn, s.cfg.Location),
			"Last Out":   formatReportTime(lastOut, s.cfg.Location),
			"Scans":      fmt.Sprintf("%d", row.TotalScans),
			"Duration":   timeutil.DurationText(firstIn, lastOut),
			"Membership": string(DeriveStatus(row.MembershipEnd, row.Active, now, window)),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Date", "Student", "Phone", "First In", "Last Out", "Scans", "Duration", "Membership"},
		Rows:    dataRows,
	}
	return dataset, "Attendance Register", nil
}

func (s *ExportService) buildFeeCollection(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	filter := models.StudentFilter{
		LibraryID: params.LibraryID,
		Page:      1,
		PageSize:  10000,
		SortBy:    "name",
	}
	students, _, err := s.students.List(ctx, filter)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(students))
	for _, student := range students {
		dataRows = append(dataRows, map[string]string{
			"Student":        student.Name,
			"Phone":          student.Phone,
			"Total Fee":      fmt.Sprintf("%.2f", student.TotalFee),
			"Paid":           fmt.Sprintf("%.2f", student.AmountPaid),
			"Cash":           fmt.Sprintf("%.2f", student.CashPaid),
			"Online":         fmt.Sprintf("%.2f", student.OnlinePaid),
			"Discount":       fmt.Sprintf("%.2f", student.Discount),
			"Security":       fmt.Sprintf("%.2f", student.SecurityMoney),
			"Due":            fmt.Sprintf("%.2f", student.DueAmount),
			"Membership End": student.MembershipEnd.In(s.cfg.Location).Format("2006-01-02"),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Student", "Phone", "Total Fee", "Paid", "Cash", "Online", "Discount", "Security", "Due", "Membership End"},
		Rows:    dataRows,
	}
	return dataset, "Fee Collection", nil
}

func formatReportTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("15:04")
}
