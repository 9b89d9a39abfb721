package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// TxQuerier is implemented by both pgxpool.Pool and pgx.Tx.
// Repository methods that take a row lock accept TxQuerier so they can run
// inside the caller's transaction.
type TxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const maxBackoff = 16 * time.Second

// Options controls how Connect reaches the ticket ledger database.
type Options struct {
	DSN string
	// MaxRetries is the number of connection attempts. Values below 1 mean one attempt.
	MaxRetries int
	// Migrate, when set, runs once against the pool before it is returned.
	Migrate func(ctx context.Context, pool *pgxpool.Pool) error
}

// Connect opens a pool, retrying with exponential backoff (1s, 2s, 4s, ...
// capped at 16s) until the database answers a ping, then applies Migrate.
func Connect(ctx context.Context, opts Options) (*pgxpool.Pool, error) {
	pool, err := NewPool(ctx, opts.DSN, opts.MaxRetries)
	if err != nil {
		return nil, err
	}
	if opts.Migrate == nil {
		return pool, nil
	}

	start := time.Now()
	if err := opts.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Dur("took", time.Since(start)).Msg("ticket schema applied")
	return pool, nil
}

// NewPool creates a PostgreSQL connection pool with retry logic.
func NewPool(ctx context.Context, dsn string, maxRetries int) (*pgxpool.Pool, error) {
	attempts := maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		var pool *pgxpool.Pool
		pool, err = pgxpool.New(ctx, dsn)
		if err == nil {
			pingErr := pool.Ping(ctx)
			if pingErr == nil {
				log.Info().Int("attempt", attempt+1).Msg("database connection established")
				return pool, nil
			}
			pool.Close()
			err = fmt.Errorf("ping failed: %w", pingErr)
		}

		if attempt == attempts-1 {
			break
		}

		backoff := retryBackoff(attempt)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", attempts).
			Dur("next_retry_in", backoff).
			Msg("database connection failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempts, err)
}

func retryBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Duration(1<<attempt) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
