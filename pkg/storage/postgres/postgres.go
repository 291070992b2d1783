// Package postgres provides a PostgreSQL implementation of transport.QueryStore.
// It uses pgx/v5 for connection pooling and stores each envelope as JSONB
// next to the columns used for filtering and paging.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/storage"
	"github.com/rhuss/kgquery/pkg/transport"
)

// Store is a PostgreSQL-backed QueryStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ transport.QueryStore = (*Store)(nil)

// New connects to PostgreSQL and, if cfg.MigrateOnStart is set, applies
// pending migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// SaveEnvelope inserts a finished envelope.
func (s *Store) SaveEnvelope(ctx context.Context, env *api.ResponseEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO queries (id, tenant_id, query, query_type, execution_success, failure_kind, envelope, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		env.ID, storage.TenantFrom(ctx), env.Query, env.QueryType, env.ExecutionSuccess,
		nullString(string(env.FailureKind)), body, env.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting query: %w", err)
	}
	debug.Log("storage", "saved query", "id", env.ID, "bytes", len(body))
	return nil
}

// GetEnvelope retrieves a live envelope by ID.
func (s *Store) GetEnvelope(ctx context.Context, id string) (*api.ResponseEnvelope, error) {
	query := "SELECT envelope FROM queries WHERE id = $1 AND deleted_at IS NULL"
	args := []any{id}
	if tenantID := storage.TenantFrom(ctx); tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	var body []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying query %s: %w", id, err)
	}

	var env api.ResponseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	return &env, nil
}

// DeleteEnvelope soft-deletes an envelope by setting deleted_at.
func (s *Store) DeleteEnvelope(ctx context.Context, id string) error {
	query := "UPDATE queries SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL"
	args := []any{time.Now(), id}
	if tenantID := storage.TenantFrom(ctx); tenantID != "" {
		query += " AND tenant_id = $3"
		args = append(args, tenantID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting query: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListEnvelopes returns a page of live envelopes ordered by (created_at, id).
// A cursor that does not name a live envelope yields an empty page.
func (s *Store) ListEnvelopes(ctx context.Context, opts transport.ListOptions) (*api.EnvelopeList, error) {
	limit := storage.ClampLimit(opts.Limit)
	asc := opts.Order == "asc"

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, "deleted_at IS NULL")
	if tenantID := storage.TenantFrom(ctx); tenantID != "" {
		where = append(where, "tenant_id = "+arg(tenantID))
	}

	// "after" reads on in list order. "before" reads backwards from the
	// cursor, nearest first, and the page is reversed below.
	cursor, forward := opts.After, true
	if cursor == "" && opts.Before != "" {
		cursor, forward = opts.Before, false
	}
	readAsc := asc == forward
	op, dir := "<", "DESC"
	if readAsc {
		op, dir = ">", "ASC"
	}
	if cursor != "" {
		p := arg(cursor)
		where = append(where, fmt.Sprintf(
			"(created_at, id) %s (SELECT created_at, id FROM queries WHERE id = %s AND deleted_at IS NULL)", op, p))
	}

	query := fmt.Sprintf("SELECT envelope FROM queries WHERE %s ORDER BY created_at %s, id %s LIMIT %s",
		strings.Join(where, " AND "), dir, dir, arg(limit+1))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	defer rows.Close()

	envs := []*api.ResponseEnvelope{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning query: %w", err)
		}
		var env api.ResponseEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("unmarshaling envelope: %w", err)
		}
		envs = append(envs, &env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}

	hasMore := len(envs) > limit
	if hasMore {
		envs = envs[:limit]
	}
	if !forward {
		for i, j := 0, len(envs)-1; i < j; i, j = i+1, j-1 {
			envs[i], envs[j] = envs[j], envs[i]
		}
	}

	result := &api.EnvelopeList{Object: "list", Data: envs, HasMore: hasMore}
	if len(envs) > 0 {
		result.FirstID = envs[0].ID
		result.LastID = envs[len(envs)-1].ID
	}
	return result, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isDuplicateKey reports a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
