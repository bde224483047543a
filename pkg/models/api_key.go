package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResetDateLayout is the format of Usage.LastResetDate (UTC calendar date).
const ResetDateLayout = "2006-01-02"

// APIKey is a stored API key record. The plaintext secret is never persisted;
// HashedKey holds its SHA-256 digest and doubles as the lookup key.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"keyId"`
	HashedKey  string     `db:"hashed_key"   json:"-"`
	OwnerID    string     `db:"owner_id"     json:"ownerId"`
	Name       string     `db:"name"         json:"keyName"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	Tier       string     `db:"tier"         json:"tier"`
	CreatedAt  time.Time  `db:"created_at"   json:"createdAt"`
	LastUsedAt *time.Time `db:"last_used_at" json:"lastUsedAt"`
	IsActive   bool       `db:"is_active"    json:"isActive"`
	ExpiresAt  *time.Time `db:"expires_at"   json:"expiresAt"`
	RevokedAt  *time.Time `db:"revoked_at"   json:"revokedAt"`
	Usage      Usage      `json:"usage"`
}

// Usage holds the counters enforced on every validation.
type Usage struct {
	TotalRequests int64  `db:"total_requests"  json:"totalRequests"`
	RequestsToday int64  `db:"requests_today"  json:"requestsToday"`
	DailyLimit    int64  `db:"daily_limit"     json:"dailyLimit"`
	MonthlyLimit  int64  `db:"monthly_limit"   json:"monthlyLimit"`
	LastResetDate string `db:"last_reset_date" json:"lastResetDate"`
}

// Clone returns a deep copy of the record.
func (k *APIKey) Clone() *APIKey {
	c := *k
	c.Scopes = append([]string(nil), k.Scopes...)
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		c.LastUsedAt = &t
	}
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		c.ExpiresAt = &t
	}
	if k.RevokedAt != nil {
		t := *k.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

// Validate reports whether the record is structurally sound. A record that
// fails here cannot be evaluated safely and must be treated as corrupt.
func (k *APIKey) Validate() error {
	if k.ID == uuid.Nil {
		return errors.New("missing id")
	}
	if k.HashedKey == "" {
		return errors.New("missing hashed key")
	}
	if k.OwnerID == "" {
		return errors.New("missing owner")
	}
	if len(k.Scopes) == 0 {
		return errors.New("missing scopes")
	}
	if k.Usage.DailyLimit <= 0 || k.Usage.MonthlyLimit <= 0 {
		return fmt.Errorf("invalid limits %d/%d", k.Usage.DailyLimit, k.Usage.MonthlyLimit)
	}
	if k.Usage.TotalRequests < 0 || k.Usage.RequestsToday < 0 {
		return errors.New("negative usage counters")
	}
	if _, err := time.Parse(ResetDateLayout, k.Usage.LastResetDate); err != nil {
		return fmt.Errorf("invalid last reset date %q", k.Usage.LastResetDate)
	}
	return nil
}
