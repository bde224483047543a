package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrCorruptRecord is returned when a stored API key fails structural
// validation and cannot be evaluated.
var ErrCorruptRecord = errors.New("corrupt record")

// IssueGuard inspects the owner's active keys before a new key is inserted.
// Returning an error aborts the insert. The store runs the guard and the
// insert atomically with respect to other issuances for the same owner.
type IssueGuard func(active []*models.APIKey) error

// ConsumeFunc evaluates and mutates a locked API key record in place. Usage
// and last-used changes are persisted even when it returns an error, so a
// counter reset survives a rejected request.
type ConsumeFunc func(key *models.APIKey) error

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, id string) (*models.User, error)
	EnsureUser(ctx context.Context, user *models.User) error

	CreateAPIKey(ctx context.Context, key *models.APIKey, guard IssueGuard) error
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error)
	ConsumeAPIKey(ctx context.Context, hashedKey string, fn ConsumeFunc) (*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateReport(ctx context.Context, report *models.Report) error
	ListReports(ctx context.Context, filter ReportFilter) ([]*models.Report, int, error)
	GetReport(ctx context.Context, id uuid.UUID, ownerID string) (*models.Report, error)
	DeleteReport(ctx context.Context, id uuid.UUID, ownerID string) error
}

type ReportFilter struct {
	OwnerID string
	Kind    string
	Page    int
	Limit   int
}

// normalize clamps pagination to sane bounds and returns limit and offset.
func (f ReportFilter) normalize() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}
