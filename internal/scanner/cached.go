package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/scanguard/internal/cache"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

// CachedURLScanner serves repeat URL scans from the cache. Cache failures
// fall through to the wrapped scanner.
type CachedURLScanner struct {
	next  models.URLScanner
	cache cache.Cache
	ttl   time.Duration
}

var _ models.URLScanner = (*CachedURLScanner)(nil)

func NewCachedURLScanner(next models.URLScanner, c cache.Cache, ttl time.Duration) *CachedURLScanner {
	return &CachedURLScanner{next: next, cache: c, ttl: ttl}
}

func (s *CachedURLScanner) Name() string { return s.next.Name() }

func (s *CachedURLScanner) ScanURL(ctx context.Context, target string) (models.URLScanResult, error) {
	key := cache.URLScanKey(urlDigest(target))

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("url scan cache read failed", "error", err)
	} else if ok {
		var cached models.URLScanResult
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		slog.Warn("discarding unreadable url scan cache entry", "key", key)
	}

	result, err := s.next.ScanURL(ctx, target)
	if err != nil {
		return models.URLScanResult{}, err
	}

	raw, err := json.Marshal(result)
	if err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			slog.Warn("url scan cache write failed", "error", err)
		}
	}
	return result, nil
}

func urlDigest(target string) string {
	sum := sha256.Sum256([]byte(target))
	return hex.EncodeToString(sum[:])
}
