package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// OpenOptions selects and configures the backing store.
type OpenOptions struct {
	Driver        string
	DatabaseURL   string
	SnapshotPath  string
	RunMigrations bool
	MaxConns      int32
	MinConns      int32
}

// Open connects the configured store. PostgreSQL is migrated (schema and seed)
// when RunMigrations is set; a memory store without a snapshot is provisioned
// with DefaultSeed.
func Open(ctx context.Context, opts OpenOptions, logger *zap.Logger) (Repository, error) {
	switch opts.Driver {
	case DriverPostgres:
		return openPostgres(ctx, opts, logger)
	case DriverMemory:
		return openMemory(ctx, opts, logger)
	}
	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}

func openPostgres(ctx context.Context, opts OpenOptions, logger *zap.Logger) (Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns >= 0 && opts.MinConns <= poolConfig.MaxConns {
		poolConfig.MinConns = opts.MinConns
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	var migrate func() error
	if opts.RunMigrations {
		migrate = func() error { return RunMigrations(opts.DatabaseURL, logger) }
	}
	if err := prepareDatabase(ctx, pool.Ping, migrate, connectAttempts, connectBackoff, logger); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("database connected", zap.Int32("max_conns", poolConfig.MaxConns))
	return NewPostgresRepository(pool), nil
}

// prepareDatabase waits until ping succeeds, retrying with backoff, and only then
// applies migrations (when migrate is non-nil).
func prepareDatabase(
	ctx context.Context,
	ping func(context.Context) error,
	migrate func() error,
	attempts int,
	backoff time.Duration,
	logger *zap.Logger,
) error {
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := ping(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt >= attempts {
			return fmt.Errorf("failed to connect to database after %d attempts: %w", attempt, err)
		}
		logger.Warn("database ping failed; retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if migrate == nil {
		return nil
	}
	return migrate()
}

func openMemory(ctx context.Context, opts OpenOptions, logger *zap.Logger) (Repository, error) {
	var (
		repo   *MemoryRepository
		loaded bool
		err    error
	)
	if opts.SnapshotPath == "" {
		repo = NewMemoryRepository()
	} else if repo, loaded, err = OpenMemoryRepository(opts.SnapshotPath); err != nil {
		return nil, err
	}

	if loaded {
		logger.Info("memory store loaded from snapshot", zap.String("path", opts.SnapshotPath))
		return repo, nil
	}
	if err := Provision(ctx, repo, DefaultSeed()); err != nil {
		return nil, fmt.Errorf("failed to provision memory store: %w", err)
	}
	logger.Info("memory store provisioned with defaults", zap.String("snapshot_path", opts.SnapshotPath))
	return repo, nil
}
