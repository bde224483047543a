package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/scanguard/internal/api/middleware"
	"github.com/kiranshivaraju/scanguard/internal/api/response"
	"github.com/kiranshivaraju/scanguard/internal/apikey"
	"github.com/kiranshivaraju/scanguard/internal/scanner"
	"github.com/kiranshivaraju/scanguard/internal/telemetry"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

// MaxUploadBytes caps the JSON body of a file scan, data URI included.
var MaxUploadBytes int64 = 64 << 20

// ReportWriter persists scan reports.
type ReportWriter interface {
	CreateReport(ctx context.Context, report *models.Report) error
}

// Usage is the quota snapshot returned alongside every scan.
type Usage struct {
	RequestsToday  int64 `json:"requestsToday"`
	DailyLimit     int64 `json:"dailyLimit"`
	RemainingToday int64 `json:"remainingToday"`
	TotalRequests  int64 `json:"totalRequests"`
	MonthlyLimit   int64 `json:"monthlyLimit"`
}

func usageOf(p *apikey.Principal) Usage {
	return Usage{
		RequestsToday:  p.Usage.RequestsToday,
		DailyLimit:     p.Usage.DailyLimit,
		RemainingToday: p.Remaining(),
		TotalRequests:  p.Usage.TotalRequests,
		MonthlyLimit:   p.Usage.MonthlyLimit,
	}
}

type FileScanResponse struct {
	ReportID           *uuid.UUID `json:"reportId,omitempty"`
	FileName           string     `json:"fileName"`
	Verdict            string     `json:"verdict"`
	Confidence         float64    `json:"confidence"`
	MalwareProbability float64    `json:"malwareProbability"`
	ThreatSeverity     string     `json:"threatSeverity"`
	FileHash           string     `json:"fileHash"`
	FileSize           int64      `json:"fileSize"`
	Timestamp          time.Time  `json:"timestamp"`
	Usage              Usage      `json:"usage"`
}

type URLScanResponse struct {
	ReportID    *uuid.UUID       `json:"reportId,omitempty"`
	URL         string           `json:"url"`
	ThreatLevel string           `json:"threatLevel"`
	Stats       *models.URLStats `json:"stats,omitempty"`
	Permalink   string           `json:"permalink,omitempty"`
	ScannedAt   time.Time        `json:"scannedAt"`
	Usage       Usage            `json:"usage"`
}

// NewScanFileHandler returns an http.HandlerFunc for POST /api/v1/scan/file.
func NewScanFileHandler(fs models.FileScanner, reports ReportWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := mw.GetPrincipal(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "MISSING_API_KEY", "API key required", nil)
			return
		}

		var req struct {
			FileDataURI string `json:"fileDataUri"`
			FileName    string `json:"fileName"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Request body too large", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if !isDataURI(req.FileDataURI) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "fileDataUri is required and must be a base64 data URI", nil)
			return
		}
		if strings.TrimSpace(req.FileName) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "fileName is required", nil)
			return
		}

		result, err := fs.ScanFile(r.Context(), models.FileScanRequest{
			FileData: req.FileDataURI,
			FileName: req.FileName,
		})
		if err != nil {
			telemetry.ScansTotal.WithLabelValues(models.ReportKindFile, scanStatus(err)).Inc()
			slog.Error("file scan failed", "key_id", p.KeyID, "scanner", fs.Name(), "error", err)
			writeScanError(w, err)
			return
		}
		telemetry.ScansTotal.WithLabelValues(models.ReportKindFile, "ok").Inc()

		reportID := saveReport(r.Context(), reports, p, models.ReportKindFile, req.FileName, result.Verdict, result.ThreatSeverity, result)

		response.JSON(w, FileScanResponse{
			ReportID:           reportID,
			FileName:           req.FileName,
			Verdict:            result.Verdict,
			Confidence:         result.Confidence,
			MalwareProbability: result.MalwareProbability,
			ThreatSeverity:     result.ThreatSeverity,
			FileHash:           result.FileHash,
			FileSize:           result.FileSize,
			Timestamp:          result.Timestamp,
			Usage:              usageOf(p),
		})
	}
}

// NewScanURLHandler returns an http.HandlerFunc for POST /api/v1/scan/url.
func NewScanURLHandler(us models.URLScanner, reports ReportWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := mw.GetPrincipal(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "MISSING_API_KEY", "API key required", nil)
			return
		}

		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.URL == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "url is required and must be a string", nil)
			return
		}
		if !isHTTPURL(req.URL) {
			response.Error(w, http.StatusBadRequest, "INVALID_URL", "Invalid URL format", nil)
			return
		}

		result, err := us.ScanURL(r.Context(), req.URL)
		if err != nil {
			telemetry.ScansTotal.WithLabelValues(models.ReportKindURL, scanStatus(err)).Inc()
			slog.Error("url scan failed", "key_id", p.KeyID, "scanner", us.Name(), "error", err)
			writeScanError(w, err)
			return
		}
		telemetry.ScansTotal.WithLabelValues(models.ReportKindURL, "ok").Inc()

		reportID := saveReport(r.Context(), reports, p, models.ReportKindURL, req.URL, result.ThreatLevel, result.ThreatLevel, result)

		response.JSON(w, URLScanResponse{
			ReportID:    reportID,
			URL:         result.URL,
			ThreatLevel: result.ThreatLevel,
			Stats:       result.Stats,
			Permalink:   result.Permalink,
			ScannedAt:   result.ScannedAt,
			Usage:       usageOf(p),
		})
	}
}

// saveReport persists a scan outcome. A failed write is logged and the scan
// result is still returned to the caller.
func saveReport(ctx context.Context, reports ReportWriter, p *apikey.Principal, kind, target, verdict, threat string, result any) *uuid.UUID {
	raw, err := json.Marshal(result)
	if err != nil {
		slog.Error("encoding scan report", "kind", kind, "error", err)
		return nil
	}

	report := &models.Report{
		ID:          uuid.New(),
		OwnerID:     p.OwnerID,
		KeyID:       p.KeyID,
		Kind:        kind,
		Target:      target,
		Verdict:     verdict,
		ThreatLevel: threat,
		Result:      raw,
		CreatedAt:   time.Now().UTC(),
	}
	if err := reports.CreateReport(ctx, report); err != nil {
		slog.Error("saving scan report", "kind", kind, "key_id", p.KeyID, "error", err)
		return nil
	}
	return &report.ID
}

func writeScanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scanner.ErrScanTimeout):
		response.Error(w, http.StatusGatewayTimeout, "SCAN_TIMEOUT", "The scan did not complete in time", nil)
	case errors.Is(err, scanner.ErrNotConfigured):
		response.Error(w, http.StatusServiceUnavailable, "SCANNER_NOT_CONFIGURED", "This scanner is not configured", nil)
	case errors.Is(err, scanner.ErrScannerUnavailable), errors.Is(err, scanner.ErrInvalidResponse):
		response.Error(w, http.StatusBadGateway, "SCAN_FAILED", "Backend scan failed", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process scan", nil)
	}
}

func scanStatus(err error) string {
	if errors.Is(err, scanner.ErrScanTimeout) {
		return "timeout"
	}
	return "error"
}

func isDataURI(s string) bool {
	return strings.HasPrefix(s, "data:") && strings.Contains(s, ",")
}

func isHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
