// Package models contains shared data models used across the scanguard codebase.
package models

import (
	"context"
	"time"
)

// FileScanner classifies an uploaded file. Handlers depend on this interface,
// never on a concrete backend.
type FileScanner interface {
	ScanFile(ctx context.Context, req FileScanRequest) (FileScanResult, error)
	Name() string
}

// URLScanner reputation-checks a URL.
type URLScanner interface {
	ScanURL(ctx context.Context, target string) (URLScanResult, error)
	Name() string
}

// FileScanRequest carries the file as a data URI, as uploaded by the client.
type FileScanRequest struct {
	FileData string `json:"file_data"`
	FileName string `json:"file_name"`
}

type FileScanResult struct {
	Verdict            string    `json:"verdict"`
	Confidence         float64   `json:"confidence"`
	MalwareProbability float64   `json:"malware_probability"`
	ThreatSeverity     string    `json:"threat_severity"`
	FileHash           string    `json:"file_hash"`
	FileSize           int64     `json:"file_size"`
	Timestamp          time.Time `json:"timestamp"`
}

// URLStats are engine vote counts from the last analysis of a URL.
type URLStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
	Timeout    int `json:"timeout"`
}

func (s URLStats) Total() int {
	return s.Malicious + s.Suspicious + s.Harmless + s.Undetected + s.Timeout
}

type URLScanResult struct {
	URL         string    `json:"url"`
	AnalysisID  string    `json:"analysis_id,omitempty"`
	ThreatLevel string    `json:"threat_level"`
	Stats       *URLStats `json:"stats,omitempty"`
	Permalink   string    `json:"permalink,omitempty"`
	ScannedAt   time.Time `json:"scanned_at"`
}
