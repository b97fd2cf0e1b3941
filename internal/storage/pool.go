// Package storage implements the Persistence Repository (spec §4.8 as
// consumed by Component J, §6 "Persisted state layout"): pgx/v5-backed
// repositories for workspaces, threads, queries and responses. Query and
// response writes are idempotent via ON CONFLICT ... DO UPDATE. The file
// and file_operation tables are created by EnsureSchema, but no
// repository here reads or writes them.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBConfig carries the environment variables the core reads for the
// primary repository pool (spec §6).
type DBConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// cloudPGSuffixes are hostname suffixes that require SSL (spec §6,
// "SSL required when host ends in a cloud-PG suffix").
var cloudPGSuffixes = []string{
	".rds.amazonaws.com",
	".database.azure.com",
	".sql.cloud.google.com",
	".neon.tech",
	".supabase.co",
}

func requiresSSL(host string) bool {
	for _, suffix := range cloudPGSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// DSN builds the connection string, appending sslmode=require for
// cloud-managed Postgres hosts.
func (c DBConfig) DSN() string {
	sslMode := "disable"
	if requiresSSL(c.Host) {
		sslMode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, sslMode)
}

// NewPool opens the shared connection pool used by every repository write
// (spec §5 "a single shared connection pool (min=1, max=10)"). Opened once
// at process start; callers close it once at shutdown.
func NewPool(ctx context.Context, cfg DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool config: %w", err)
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConns = 10
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	return pool, nil
}
