package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scanguard/internal/store"
	"github.com/kiranshivaraju/scanguard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Contract tests run against every Store implementation.

func newKey(owner, name string) *models.APIKey {
	id := uuid.New()
	return &models.APIKey{
		ID:        id,
		HashedKey: "hash-" + id.String(),
		OwnerID:   owner,
		Name:      name,
		Scopes:    []string{"scan:file"},
		Tier:      "FREE",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		IsActive:  true,
		Usage: models.Usage{
			DailyLimit:    100,
			MonthlyLimit:  1000,
			LastResetDate: time.Now().UTC().Format(models.ResetDateLayout),
		},
	}
}

func newReport(owner string, keyID uuid.UUID, kind string, at time.Time) *models.Report {
	return &models.Report{
		ID:          uuid.New(),
		OwnerID:     owner,
		KeyID:       keyID,
		Kind:        kind,
		Target:      "sample.exe",
		Verdict:     "malicious",
		ThreatLevel: "High",
		Result:      json.RawMessage(`{"verdict":"malicious"}`),
		CreatedAt:   at.UTC().Truncate(time.Microsecond),
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("CreateAndGetAPIKey", func(t *testing.T) {
		s := newStore(t)
		k := newKey("user_1", "ci")
		require.NoError(t, s.CreateAPIKey(ctx, k, nil))

		got, err := s.GetAPIKey(ctx, k.ID)
		require.NoError(t, err)
		assert.Equal(t, k.HashedKey, got.HashedKey)
		assert.Equal(t, k.Scopes, got.Scopes)
		assert.Equal(t, k.Usage, got.Usage)
		assert.True(t, got.IsActive)
	})

	t.Run("GetAPIKeyNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetAPIKey(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("GuardSeesActiveKeysOnly", func(t *testing.T) {
		s := newStore(t)
		a := newKey("user_1", "a")
		b := newKey("user_1", "b")
		other := newKey("user_2", "c")
		require.NoError(t, s.CreateAPIKey(ctx, a, nil))
		require.NoError(t, s.CreateAPIKey(ctx, b, nil))
		require.NoError(t, s.CreateAPIKey(ctx, other, nil))
		require.NoError(t, s.RevokeAPIKey(ctx, b.ID, time.Now().UTC()))

		var seen []*models.APIKey
		err := s.CreateAPIKey(ctx, newKey("user_1", "d"), func(active []*models.APIKey) error {
			seen = active
			return nil
		})
		require.NoError(t, err)
		require.Len(t, seen, 1)
		assert.Equal(t, a.ID, seen[0].ID)
	})

	t.Run("GuardErrorAbortsInsert", func(t *testing.T) {
		s := newStore(t)
		sentinel := errors.New("rejected")
		k := newKey("user_1", "a")
		err := s.CreateAPIKey(ctx, k, func([]*models.APIKey) error { return sentinel })
		assert.ErrorIs(t, err, sentinel)

		_, err = s.GetAPIKey(ctx, k.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DuplicateActiveNameRejected", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateAPIKey(ctx, newKey("user_1", "Deploy"), nil))
		err := s.CreateAPIKey(ctx, newKey("user_1", "deploy"), nil)
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		s := newStore(t)
		older := newKey("user_1", "older")
		older.CreatedAt = older.CreatedAt.Add(-time.Hour)
		newer := newKey("user_1", "newer")
		require.NoError(t, s.CreateAPIKey(ctx, older, nil))
		require.NoError(t, s.CreateAPIKey(ctx, newer, nil))
		require.NoError(t, s.CreateAPIKey(ctx, newKey("user_2", "x"), nil))

		keys, err := s.ListAPIKeys(ctx, "user_1")
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, newer.ID, keys[0].ID)
		assert.Equal(t, older.ID, keys[1].ID)
	})

	t.Run("ConsumePersistsUsage", func(t *testing.T) {
		s := newStore(t)
		k := newKey("user_1", "a")
		require.NoError(t, s.CreateAPIKey(ctx, k, nil))

		now := time.Now().UTC().Truncate(time.Microsecond)
		got, err := s.ConsumeAPIKey(ctx, k.HashedKey, func(rec *models.APIKey) error {
			rec.Usage.RequestsToday++
			rec.Usage.TotalRequests++
			rec.LastUsedAt = &now
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Usage.RequestsToday)

		stored, err := s.GetAPIKey(ctx, k.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Usage.TotalRequests)
		require.NotNil(t, stored.LastUsedAt)
		assert.True(t, now.Equal(*stored.LastUsedAt))
	})

	t.Run("ConsumePersistsChangesOnRejection", func(t *testing.T) {
		s := newStore(t)
		k := newKey("user_1", "a")
		k.Usage.RequestsToday = 100
		k.Usage.LastResetDate = "2020-01-01"
		require.NoError(t, s.CreateAPIKey(ctx, k, nil))

		sentinel := errors.New("limit")
		_, err := s.ConsumeAPIKey(ctx, k.HashedKey, func(rec *models.APIKey) error {
			rec.Usage.RequestsToday = 0
			rec.Usage.LastResetDate = "2020-01-02"
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		stored, err := s.GetAPIKey(ctx, k.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stored.Usage.RequestsToday)
		assert.Equal(t, "2020-01-02", stored.Usage.LastResetDate)
	})

	t.Run("ConsumeNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ConsumeAPIKey(ctx, "missing", func(*models.APIKey) error { return nil })
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ConsumeCorruptRecord", func(t *testing.T) {
		s := newStore(t)
		k := newKey("user_1", "a")
		k.Usage.LastResetDate = "not-a-date"
		require.NoError(t, s.CreateAPIKey(ctx, k, nil))

		called := false
		_, err := s.ConsumeAPIKey(ctx, k.HashedKey, func(*models.APIKey) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, store.ErrCorruptRecord)
		assert.False(t, called)
	})

	t.Run("ConsumeSerializesConcurrentUpdates", func(t *testing.T) {
		s := newStore(t)
		k := newKey("user_1", "a")
		require.NoError(t, s.CreateAPIKey(ctx, k, nil))

		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ConsumeAPIKey(ctx, k.HashedKey, func(rec *models.APIKey) error {
					rec.Usage.TotalRequests++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		stored, err := s.GetAPIKey(ctx, k.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(workers), stored.Usage.TotalRequests)
	})

	t.Run("RevokeIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		k := newKey("user_1", "a")
		require.NoError(t, s.CreateAPIKey(ctx, k, nil))

		first := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, s.RevokeAPIKey(ctx, k.ID, first))
		require.NoError(t, s.RevokeAPIKey(ctx, k.ID, first.Add(time.Hour)))

		stored, err := s.GetAPIKey(ctx, k.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
		require.NotNil(t, stored.RevokedAt)
		assert.True(t, first.Equal(*stored.RevokedAt))
	})

	t.Run("RevokeNotFound", func(t *testing.T) {
		s := newStore(t)
		err := s.RevokeAPIKey(ctx, uuid.New(), time.Now())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Users", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetUser(ctx, "user_1")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.EnsureUser(ctx, &models.User{ID: "user_1", Email: "a@example.com"}))
		require.NoError(t, s.EnsureUser(ctx, &models.User{ID: "user_1", Role: models.RoleAdmin}))

		u, err := s.GetUser(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, models.RoleUser, u.Role)
		assert.Equal(t, "a@example.com", u.Email)
	})

	t.Run("Reports", func(t *testing.T) {
		s := newStore(t)
		k := newKey("user_1", "a")
		require.NoError(t, s.CreateAPIKey(ctx, k, nil))

		base := time.Now().Add(-time.Hour)
		var ids []uuid.UUID
		for i := 0; i < 3; i++ {
			r := newReport("user_1", k.ID, models.ReportKindFile, base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, s.CreateReport(ctx, r))
			ids = append(ids, r.ID)
		}
		url := newReport("user_1", k.ID, models.ReportKindURL, base.Add(10*time.Minute))
		require.NoError(t, s.CreateReport(ctx, url))

		all, total, err := s.ListReports(ctx, store.ReportFilter{OwnerID: "user_1"})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, all, 4)
		assert.Equal(t, url.ID, all[0].ID)

		files, total, err := s.ListReports(ctx, store.ReportFilter{OwnerID: "user_1", Kind: models.ReportKindFile, Page: 2, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, files, 1)
		assert.Equal(t, ids[0], files[0].ID)

		got, err := s.GetReport(ctx, url.ID, "user_1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"verdict":"malicious"}`, string(got.Result))

		_, err = s.GetReport(ctx, url.ID, "user_2")
		assert.ErrorIs(t, err, store.ErrNotFound)

		assert.ErrorIs(t, s.DeleteReport(ctx, url.ID, "user_2"), store.ErrNotFound)
		require.NoError(t, s.DeleteReport(ctx, url.ID, "user_1"))
		_, err = s.GetReport(ctx, url.ID, "user_1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
