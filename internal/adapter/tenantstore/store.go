// Package tenantstore reads a tenant's dealership database (the DMS). It
// keeps one lazily opened pgx pool per tenant and exposes the candidate
// finders the scheduler sweeps run against, plus point lookups used while
// dispatching jobs. All access is read-only.
package tenantstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenchworks/dealercomm/internal/adapter/observability"
	"github.com/wrenchworks/dealercomm/internal/domain"
)

// ConfigSource resolves a tenant's settings document, including the DSN of
// its dealership database.
type ConfigSource interface {
	Get(ctx domain.Context, tenantID string) (domain.TenantConfig, error)
}

// Querier is the subset of a tenant pool the finders need.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PoolSource hands out per-tenant read pools.
type PoolSource interface {
	Acquire(ctx context.Context, tenantID string) (Querier, error)
}

// Store owns the per-tenant dealership pools. Pools open on first use and
// stay open until Close.
type Store struct {
	configs  ConfigSource
	maxConns int32

	mu    sync.RWMutex
	pools map[string]*pgxpool.Pool
}

// NewStore builds a Store. maxConns of zero or less falls back to 15
// connections per tenant pool.
func NewStore(configs ConfigSource, maxConns int) *Store {
	if maxConns <= 0 {
		maxConns = 15
	}
	return &Store{
		configs:  configs,
		maxConns: int32(maxConns),
		pools:    make(map[string]*pgxpool.Pool),
	}
}

// Acquire returns the tenant's dealership pool, dialing it on first use.
// Tenants whose settings carry no connection string get
// domain.ErrTenantMisconfigured.
func (s *Store) Acquire(ctx context.Context, tenantID string) (Querier, error) {
	s.mu.RLock()
	pool, ok := s.pools[tenantID]
	s.mu.RUnlock()
	if ok {
		return pool, nil
	}

	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("op=tenantstore.resolve: %w", err)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("op=tenantstore.acquire: %w: tenant %s does not expose a DMS connection string", domain.ErrTenantMisconfigured, tenantID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pool, ok := s.pools[tenantID]; ok {
		return pool, nil
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("op=tenantstore.parse_dsn: %w: %v", domain.ErrTenantMisconfigured, err)
	}
	pc.MinConns = 1
	pc.MaxConns = s.maxConns
	pc.MaxConnIdleTime = 5 * time.Minute
	pc.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err = pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("op=tenantstore.connect: %w", err)
	}
	s.pools[tenantID] = pool
	observability.TenantPoolsOpen.Set(float64(len(s.pools)))
	slog.Info("opened tenant pool", "tenant_id", tenantID, "open_pools", len(s.pools))
	return pool, nil
}

// Open reports how many tenant pools are currently open.
func (s *Store) Open() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pools)
}

// Close drains every open tenant pool.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pool := range s.pools {
		pool.Close()
		delete(s.pools, id)
	}
	observability.TenantPoolsOpen.Set(0)
}
