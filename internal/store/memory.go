package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

// MemoryStore is a process-local Store. It serializes all writes behind one
// mutex, which gives it the same atomicity guarantees as the Postgres store
// for a single instance. Used by tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*models.User
	keys    map[uuid.UUID]*models.APIKey
	byHash  map[string]uuid.UUID
	reports map[uuid.UUID]*models.Report

	// PingErr, when set, is returned by Ping.
	PingErr error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*models.User),
		keys:    make(map[uuid.UUID]*models.APIKey),
		byHash:  make(map[string]uuid.UUID),
		reports: make(map[uuid.UUID]*models.Report),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Ping(_ context.Context) error {
	return s.PingErr
}

// --- Users ---

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *MemoryStore) EnsureUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[user.ID]; ok {
		if user.Email != "" {
			existing.Email = user.Email
		}
		return nil
	}
	u := *user
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = &u
	return nil
}

// --- API Keys ---

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey, guard IssueGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if guard != nil {
		var active []*models.APIKey
		for _, k := range s.keys {
			if k.OwnerID == key.OwnerID && k.IsActive {
				active = append(active, k.Clone())
			}
		}
		if err := guard(active); err != nil {
			return err
		}
	}

	if _, ok := s.keys[key.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.byHash[key.HashedKey]; ok {
		return ErrDuplicateKey
	}
	if key.IsActive {
		for _, k := range s.keys {
			if k.OwnerID == key.OwnerID && k.IsActive && strings.EqualFold(k.Name, key.Name) {
				return ErrDuplicateKey
			}
		}
	}

	s.keys[key.ID] = key.Clone()
	s.byHash[key.HashedKey] = key.ID
	return nil
}

func (s *MemoryStore) GetAPIKey(_ context.Context, id uuid.UUID) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return k.Clone(), nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, ownerID string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []*models.APIKey
	for _, k := range s.keys {
		if k.OwnerID == ownerID {
			keys = append(keys, k.Clone())
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID.String() < keys[j].ID.String()
		}
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *MemoryStore) ConsumeAPIKey(_ context.Context, hashedKey string, fn ConsumeFunc) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hashedKey]
	if !ok {
		return nil, ErrNotFound
	}
	stored := s.keys[id]
	if err := stored.Validate(); err != nil {
		return nil, fmt.Errorf("%w: api key %s: %v", ErrCorruptRecord, stored.ID, err)
	}

	key := stored.Clone()
	fnErr := fn(key)

	stored.Usage = key.Usage
	if key.LastUsedAt != nil {
		t := *key.LastUsedAt
		stored.LastUsedAt = &t
	}
	return key, fnErr
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	if !k.IsActive {
		return nil
	}
	k.IsActive = false
	k.RevokedAt = &at
	return nil
}

// --- Reports ---

func (s *MemoryStore) CreateReport(_ context.Context, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[report.ID]; ok {
		return ErrDuplicateKey
	}
	r := *report
	s.reports[r.ID] = &r
	return nil
}

func (s *MemoryStore) ListReports(_ context.Context, filter ReportFilter) ([]*models.Report, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Report
	for _, r := range s.reports {
		if r.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		c := *r
		matched = append(matched, &c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit, offset := filter.normalize()
	if offset >= total {
		return []*models.Report{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) GetReport(_ context.Context, id uuid.UUID, ownerID string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok || r.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *MemoryStore) DeleteReport(_ context.Context, id uuid.UUID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok || r.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(s.reports, id)
	return nil
}
