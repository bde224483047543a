package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kiranshivaraju/scanguard/pkg/models"
)

// BackendClient calls the malware classification service over HTTP.
type BackendClient struct {
	baseURL string
	client  *http.Client
}

var _ models.FileScanner = (*BackendClient)(nil)

// NewBackendClient creates a client for the classification service at baseURL.
func NewBackendClient(baseURL string, timeout time.Duration) *BackendClient {
	return &BackendClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *BackendClient) Name() string { return "backend" }

type backendResponse struct {
	Verdict            string  `json:"verdict"`
	Confidence         float64 `json:"confidence"`
	MalwareProbability float64 `json:"malware_probability"`
	ThreatSeverity     string  `json:"threat_severity"`
	FileHash           string  `json:"file_hash"`
	FileSize           int64   `json:"file_size"`
	Timestamp          string  `json:"timestamp"`
	Error              string  `json:"error"`
}

func (c *BackendClient) ScanFile(ctx context.Context, req models.FileScanRequest) (models.FileScanResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.FileScanResult{}, fmt.Errorf("encoding scan request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scan", bytes.NewReader(body))
	if err != nil {
		return models.FileScanResult{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.FileScanResult{}, ClassifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return models.FileScanResult{}, fmt.Errorf("%w: status %d: %s", ErrScannerUnavailable, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out backendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.FileScanResult{}, fmt.Errorf("%w: decoding: %v", ErrInvalidResponse, err)
	}
	if out.Error != "" {
		return models.FileScanResult{}, fmt.Errorf("%w: %s", ErrInvalidResponse, out.Error)
	}
	if out.Verdict == "" {
		return models.FileScanResult{}, fmt.Errorf("%w: missing verdict", ErrInvalidResponse)
	}

	result := models.FileScanResult{
		Verdict:            out.Verdict,
		Confidence:         out.Confidence,
		MalwareProbability: out.MalwareProbability,
		ThreatSeverity:     out.ThreatSeverity,
		FileHash:           out.FileHash,
		FileSize:           out.FileSize,
		Timestamp:          time.Now().UTC(),
	}
	if ts, err := time.Parse(time.RFC3339, out.Timestamp); err == nil {
		result.Timestamp = ts.UTC()
	}
	return result, nil
}
