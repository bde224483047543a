package scanner

import (
	"github.com/kiranshivaraju/scanguard/internal/cache"
	"github.com/kiranshivaraju/scanguard/internal/config"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

// NewFileScanner constructs the file scanner from config.
// Called once at server startup.
func NewFileScanner(cfg config.ScannerConfig) models.FileScanner {
	return NewBackendClient(cfg.BackendURL, cfg.BackendTimeout)
}

// NewURLScanner constructs the URL scanner from config, cached when c is
// non-nil and a TTL is configured.
func NewURLScanner(cfg config.ScannerConfig, c cache.Cache) models.URLScanner {
	var s models.URLScanner = NewVirusTotalClient(cfg.VirusTotal, cfg.BackendTimeout)
	if c != nil && cfg.URLCacheTTL > 0 {
		s = NewCachedURLScanner(s, c, cfg.URLCacheTTL)
	}
	return s
}
