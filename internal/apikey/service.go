package apikey

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scanguard/internal/store"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

// MaxActiveKeys caps the active keys of a non-admin owner.
const MaxActiveKeys = 10

var ErrInvalidName = errors.New("key name is required")

// Service implements key issuance, validation, listing and revocation on top
// of a store.Store.
type Service struct {
	store         store.Store
	now           func() time.Time
	maxActiveKeys int
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMaxActiveKeys(n int) Option {
	return func(s *Service) { s.maxActiveKeys = n }
}

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:         st,
		now:           time.Now,
		maxActiveKeys: MaxActiveKeys,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type IssueParams struct {
	OwnerID       string
	Name          string
	Scopes        []string
	Tier          string
	ExpiresInDays int
}

// IssuedKey is returned exactly once per key. Secret is never retrievable again.
type IssuedKey struct {
	Secret string
	Key    *models.APIKey
}

// Principal is the identity attached to a request after successful validation.
type Principal struct {
	KeyID   uuid.UUID
	OwnerID string
	Scopes  []string
	Tier    string
	Usage   models.Usage
	ResetAt time.Time
}

// Remaining is the number of requests left today.
func (p *Principal) Remaining() int64 {
	r := p.Usage.DailyLimit - p.Usage.RequestsToday
	if r < 0 {
		return 0
	}
	return r
}

// KeySummary is the listing view of a key. It never carries the secret or the full hash.
type KeySummary struct {
	ID         uuid.UUID    `json:"keyId"`
	Name       string       `json:"keyName"`
	KeyPreview string       `json:"keyPreview"`
	Scopes     []string     `json:"scopes"`
	Tier       string       `json:"tier"`
	CreatedAt  time.Time    `json:"createdAt"`
	LastUsedAt *time.Time   `json:"lastUsedAt"`
	IsActive   bool         `json:"isActive"`
	ExpiresAt  *time.Time   `json:"expiresAt"`
	RevokedAt  *time.Time   `json:"revokedAt"`
	Usage      models.Usage `json:"usage"`
}

// Issue creates a key for p.OwnerID. The active-key cap and the name rule are
// checked by the store atomically with the insert.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*IssuedKey, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if err := ValidateScopes(p.Scopes); err != nil {
		return nil, err
	}

	admin, err := s.isAdmin(ctx, p.OwnerID)
	if err != nil {
		return nil, err
	}
	if !admin && slices.Contains(p.Scopes, ScopeAdmin) {
		return nil, fmt.Errorf("%w: %s requires an admin account", ErrInvalidScope, ScopeAdmin)
	}

	secret, err := Generate()
	if err != nil {
		return nil, err
	}

	tier, limits := ResolveTier(p.Tier)
	now := s.now().UTC()

	var expiresAt *time.Time
	if p.ExpiresInDays > 0 {
		t := now.AddDate(0, 0, p.ExpiresInDays)
		expiresAt = &t
	}

	key := &models.APIKey{
		ID:        uuid.New(),
		HashedKey: Hash(secret),
		OwnerID:   p.OwnerID,
		Name:      name,
		Scopes:    dedupe(p.Scopes),
		Tier:      tier,
		CreatedAt: now,
		IsActive:  true,
		ExpiresAt: expiresAt,
		Usage: models.Usage{
			DailyLimit:    limits.Daily,
			MonthlyLimit:  limits.Monthly,
			LastResetDate: now.Format(models.ResetDateLayout),
		},
	}

	err = s.store.CreateAPIKey(ctx, key, func(active []*models.APIKey) error {
		if !admin && len(active) >= s.maxActiveKeys {
			return ErrQuotaExceeded
		}
		for _, k := range active {
			if strings.EqualFold(k.Name, name) {
				return ErrDuplicateName
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrDuplicateName):
		return nil, err
	case errors.Is(err, store.ErrDuplicateKey):
		return nil, ErrDuplicateName
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &IssuedKey{Secret: secret, Key: key}, nil
}

// Validate checks candidate and, when it is accepted, counts the request
// against the key's quota. A malformed candidate never reaches the store.
func (s *Service) Validate(ctx context.Context, candidate string) (*Principal, error) {
	if !IsValidFormat(candidate) {
		return nil, ErrInvalidFormat
	}

	now := s.now().UTC()
	var rejection error
	key, err := s.store.ConsumeAPIKey(ctx, Hash(candidate), func(k *models.APIKey) error {
		rejection = consume(k, now)
		return rejection
	})
	if err != nil {
		if rejection != nil && err == rejection {
			return nil, rejection
		}
		return nil, mapStoreError(err)
	}

	return &Principal{
		KeyID:   key.ID,
		OwnerID: key.OwnerID,
		Scopes:  key.Scopes,
		Tier:    key.Tier,
		Usage:   key.Usage,
		ResetAt: NextDailyReset(now),
	}, nil
}

// List returns all of owner's keys, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]KeySummary, error) {
	keys, err := s.store.ListAPIKeys(ctx, ownerID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	out := make([]KeySummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeySummary{
			ID:         k.ID,
			Name:       k.Name,
			KeyPreview: Preview(k.HashedKey),
			Scopes:     k.Scopes,
			Tier:       k.Tier,
			CreatedAt:  k.CreatedAt,
			LastUsedAt: k.LastUsedAt,
			IsActive:   k.IsActive,
			ExpiresAt:  k.ExpiresAt,
			RevokedAt:  k.RevokedAt,
			Usage:      k.Usage,
		})
	}
	return out, nil
}

// Revoke permanently deactivates keyID on behalf of actingOwner.
func (s *Service) Revoke(ctx context.Context, keyID uuid.UUID, actingOwner string) error {
	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return mapStoreError(err)
	}
	if key.OwnerID != actingOwner {
		return ErrOwnershipMismatch
	}
	if err := s.store.RevokeAPIKey(ctx, keyID, s.now().UTC()); err != nil {
		return mapStoreError(err)
	}
	return nil
}

func (s *Service) isAdmin(ctx context.Context, ownerID string) (bool, error) {
	user, err := s.store.GetUser(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return user.IsAdmin(), nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrCorruptRecord):
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func dedupe(scopes []string) []string {
	seen := make(map[string]bool, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
