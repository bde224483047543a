package mock

import (
	"context"
	"time"

	"github.com/kiranshivaraju/scanguard/internal/scanner"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

// MockScanner satisfies models.FileScanner and models.URLScanner for testing.
type MockScanner struct {
	Name_        string
	ScanFileFunc func(ctx context.Context, req models.FileScanRequest) (models.FileScanResult, error)
	ScanURLFunc  func(ctx context.Context, target string) (models.URLScanResult, error)
}

func (m *MockScanner) Name() string { return m.Name_ }

func (m *MockScanner) ScanFile(ctx context.Context, req models.FileScanRequest) (models.FileScanResult, error) {
	if m.ScanFileFunc != nil {
		return m.ScanFileFunc(ctx, req)
	}
	return models.FileScanResult{}, nil
}

func (m *MockScanner) ScanURL(ctx context.Context, target string) (models.URLScanResult, error) {
	if m.ScanURLFunc != nil {
		return m.ScanURLFunc(ctx, target)
	}
	return models.URLScanResult{}, nil
}

// NewMockScanner returns a MockScanner with clean verdicts for every input.
func NewMockScanner() *MockScanner {
	return &MockScanner{
		Name_: "mock",
		ScanFileFunc: func(_ context.Context, req models.FileScanRequest) (models.FileScanResult, error) {
			return models.FileScanResult{
				Verdict:            "Benign",
				Confidence:         0.97,
				MalwareProbability: 0.03,
				ThreatSeverity:     "None",
				FileHash:           "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
				FileSize:           int64(len(req.FileData)),
				Timestamp:          time.Now().UTC(),
			}, nil
		},
		ScanURLFunc: func(_ context.Context, target string) (models.URLScanResult, error) {
			stats := &models.URLStats{Harmless: 70, Undetected: 20}
			return models.URLScanResult{
				URL:         target,
				AnalysisID:  "mock-analysis",
				ThreatLevel: scanner.ThreatLevel(stats),
				Stats:       stats,
				ScannedAt:   time.Now().UTC(),
			}, nil
		},
	}
}

// NewFailingScanner returns a MockScanner that always returns the given error.
func NewFailingScanner(err error) *MockScanner {
	return &MockScanner{
		Name_: "mock-failing",
		ScanFileFunc: func(_ context.Context, _ models.FileScanRequest) (models.FileScanResult, error) {
			return models.FileScanResult{}, err
		},
		ScanURLFunc: func(_ context.Context, _ string) (models.URLScanResult, error) {
			return models.URLScanResult{}, err
		},
	}
}

// NewTimeoutScanner returns a MockScanner that blocks until context is cancelled.
func NewTimeoutScanner() *MockScanner {
	return &MockScanner{
		Name_: "mock-timeout",
		ScanFileFunc: func(ctx context.Context, _ models.FileScanRequest) (models.FileScanResult, error) {
			<-ctx.Done()
			return models.FileScanResult{}, scanner.ErrScanTimeout
		},
		ScanURLFunc: func(ctx context.Context, _ string) (models.URLScanResult, error) {
			<-ctx.Done()
			return models.URLScanResult{}, scanner.ErrScanTimeout
		},
	}
}

var (
	_ models.FileScanner = (*MockScanner)(nil)
	_ models.URLScanner  = (*MockScanner)(nil)
)
