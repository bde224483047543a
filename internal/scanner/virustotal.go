package scanner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/scanguard/internal/config"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

const (
	analysisCompleted  = "completed"
	analysisQueued     = "queued"
	analysisInProgress = "in-progress"
)

// VirusTotalClient submits URLs to the VirusTotal v3 API and polls for the
// analysis verdict.
type VirusTotalClient struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
	client       *http.Client
}

var _ models.URLScanner = (*VirusTotalClient)(nil)

func NewVirusTotalClient(cfg config.VirusTotalConfig, timeout time.Duration) *VirusTotalClient {
	return &VirusTotalClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		client:       &http.Client{Timeout: timeout},
	}
}

func (c *VirusTotalClient) Name() string { return "virustotal" }

type vtSubmitResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type vtAnalysisResponse struct {
	Data struct {
		Attributes *struct {
			Status string           `json:"status"`
			Date   int64            `json:"date"`
			Stats  *models.URLStats `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

type vtURLReportResponse struct {
	Data struct {
		Attributes *struct {
			LastAnalysisDate  int64            `json:"last_analysis_date"`
			LastAnalysisStats *models.URLStats `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

func (c *VirusTotalClient) ScanURL(ctx context.Context, target string) (models.URLScanResult, error) {
	if c.apiKey == "" {
		return models.URLScanResult{}, fmt.Errorf("%w: VIRUSTOTAL_API_KEY is not set", ErrNotConfigured)
	}

	analysisID, err := c.submit(ctx, target)
	if err != nil {
		return models.URLScanResult{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxPolls; attempt++ {
		if err := sleep(ctx, c.pollInterval); err != nil {
			return models.URLScanResult{}, ClassifyError(err)
		}

		var analysis vtAnalysisResponse
		if err := c.getJSON(ctx, "/analyses/"+url.PathEscape(analysisID), &analysis); err != nil {
			slog.Warn("virustotal poll failed", "analysis_id", analysisID, "attempt", attempt, "error", err)
			lastErr = err
			continue
		}

		attrs := analysis.Data.Attributes
		if attrs == nil {
			return models.URLScanResult{}, fmt.Errorf("%w: analysis has no attributes", ErrInvalidResponse)
		}

		switch strings.ToLower(attrs.Status) {
		case analysisCompleted:
			result := models.URLScanResult{
				URL:        target,
				AnalysisID: analysisID,
				Stats:      attrs.Stats,
				Permalink:  "https://www.virustotal.com/gui/url-analysis/" + analysisID,
				ScannedAt:  unixOrNow(attrs.Date),
			}
			c.applyURLReport(ctx, target, &result)
			result.ThreatLevel = ThreatLevel(result.Stats)
			return result, nil
		case analysisQueued, analysisInProgress, "inprogress":
			lastErr = nil
		default:
			return models.URLScanResult{}, fmt.Errorf("%w: unexpected analysis status %q", ErrInvalidResponse, attrs.Status)
		}
	}

	if lastErr != nil {
		return models.URLScanResult{}, lastErr
	}
	return models.URLScanResult{}, fmt.Errorf("%w: analysis %s not completed after %d polls", ErrScanTimeout, analysisID, c.maxPolls)
}

// URLIdentifier returns the VirusTotal URL object id for target.
func URLIdentifier(target string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(target))
}

func (c *VirusTotalClient) submit(ctx context.Context, target string) (string, error) {
	form := url.Values{"url": {target}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/urls", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ClassifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: submit status %d", ErrScannerUnavailable, resp.StatusCode)
	}

	var out vtSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding submit response: %v", ErrInvalidResponse, err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("%w: submit response has no analysis id", ErrInvalidResponse)
	}
	return out.Data.ID, nil
}

// applyURLReport upgrades the result with the full URL report when one is
// available. Failures keep the analysis stats.
func (c *VirusTotalClient) applyURLReport(ctx context.Context, target string, result *models.URLScanResult) {
	id := URLIdentifier(target)

	var report vtURLReportResponse
	if err := c.getJSON(ctx, "/urls/"+id, &report); err != nil {
		slog.Warn("virustotal url report unavailable, using analysis stats", "analysis_id", result.AnalysisID, "error", err)
		return
	}
	attrs := report.Data.Attributes
	if attrs == nil || attrs.LastAnalysisStats == nil {
		return
	}
	result.Stats = attrs.LastAnalysisStats
	result.Permalink = "https://www.virustotal.com/gui/url/" + id
	if attrs.LastAnalysisDate > 0 {
		result.ScannedAt = time.Unix(attrs.LastAnalysisDate, 0).UTC()
	}
}

func (c *VirusTotalClient) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return ClassifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s status %d", ErrScannerUnavailable, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrInvalidResponse, path, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func unixOrNow(sec int64) time.Time {
	if sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return time.Now().UTC()
}
