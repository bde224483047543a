package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, role, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// EnsureUser inserts the user if it does not exist. An existing user's role
// is never changed here.
func (s *PostgresStore) EnsureUser(ctx context.Context, user *models.User) error {
	role := user.Role
	if role == "" {
		role = models.RoleUser
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, role, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email)`,
		user.ID, user.Email, role, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// --- API Keys ---

const apiKeyColumns = `id, hashed_key, owner_id, name, scopes, tier, created_at, last_used_at,
	is_active, expires_at, revoked_at, total_requests, requests_today, daily_limit,
	monthly_limit, last_reset_date`

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.HashedKey, &k.OwnerID, &k.Name, &k.Scopes, &k.Tier,
		&k.CreatedAt, &k.LastUsedAt, &k.IsActive, &k.ExpiresAt, &k.RevokedAt,
		&k.Usage.TotalRequests, &k.Usage.RequestsToday, &k.Usage.DailyLimit,
		&k.Usage.MonthlyLimit, &k.Usage.LastResetDate)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func queryAPIKeys(ctx context.Context, q querier, sql string, args ...any) ([]*models.APIKey, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CreateAPIKey inserts a key. When guard is non-nil the owner's active keys
// are read and checked under a per-owner advisory lock held until commit.
func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey, guard IssueGuard) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create api key: %w", err)
	}
	defer tx.Rollback(ctx)

	if guard != nil {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.OwnerID); err != nil {
			return fmt.Errorf("lock owner keys: %w", err)
		}
		active, err := queryAPIKeys(ctx, tx,
			`SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_id = $1 AND is_active`, key.OwnerID)
		if err != nil {
			return fmt.Errorf("list active api keys: %w", err)
		}
		if err := guard(active); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		key.ID, key.HashedKey, key.OwnerID, key.Name, key.Scopes, key.Tier, key.CreatedAt,
		key.LastUsedAt, key.IsActive, key.ExpiresAt, key.RevokedAt,
		key.Usage.TotalRequests, key.Usage.RequestsToday, key.Usage.DailyLimit,
		key.Usage.MonthlyLimit, key.Usage.LastResetDate)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	k, err := scanAPIKey(s.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	keys, err := queryAPIKeys(ctx, s.pool,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_id = $1 ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// ConsumeAPIKey locks the row matching hashedKey, hands it to fn, and writes
// back any usage changes fn made before committing.
func (s *PostgresStore) ConsumeAPIKey(ctx context.Context, hashedKey string, fn ConsumeFunc) (*models.APIKey, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin consume api key: %w", err)
	}
	defer tx.Rollback(ctx)

	key, err := scanAPIKey(tx.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE hashed_key = $1 FOR UPDATE`, hashedKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock api key: %w", err)
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: api key %s: %v", ErrCorruptRecord, key.ID, err)
	}

	usage, lastUsed := key.Usage, key.LastUsedAt
	fnErr := fn(key)

	if key.Usage != usage || !sameTime(key.LastUsedAt, lastUsed) {
		_, err := tx.Exec(ctx,
			`UPDATE api_keys SET total_requests = $2, requests_today = $3, last_reset_date = $4, last_used_at = $5
			 WHERE id = $1`,
			key.ID, key.Usage.TotalRequests, key.Usage.RequestsToday, key.Usage.LastResetDate, key.LastUsedAt)
		if err != nil {
			return nil, fmt.Errorf("update api key usage: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit api key usage: %w", err)
		}
	}

	return key, fnErr
}

// RevokeAPIKey deactivates a key. Revoking an inactive key leaves revoked_at as it was.
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET is_active = FALSE, revoked_at = $2 WHERE id = $1 AND is_active`, id, at)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM api_keys WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// --- Reports ---

const reportColumns = `id, owner_id, key_id, kind, target, verdict, threat_level, result, created_at`

func scanReport(row pgx.Row) (*models.Report, error) {
	var r models.Report
	var result []byte
	if err := row.Scan(&r.ID, &r.OwnerID, &r.KeyID, &r.Kind, &r.Target, &r.Verdict,
		&r.ThreatLevel, &result, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Result = result
	return &r, nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, report *models.Report) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (`+reportColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		report.ID, report.OwnerID, report.KeyID, report.Kind, report.Target, report.Verdict,
		report.ThreatLevel, []byte(report.Result), report.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]*models.Report, int, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, filter.Kind)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM reports WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	limit, offset := filter.normalize()
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM reports WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		reportColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, total, rows.Err()
}

func (s *PostgresStore) GetReport(ctx context.Context, id uuid.UUID, ownerID string) (*models.Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) DeleteReport(ctx context.Context, id uuid.UUID, ownerID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
