package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a people repository that owns its connection.
type Store interface {
	PeopleRepository
	Purger
	EnsureSchema(ctx context.Context) error
	Close() error
}

// Open picks the backend from the database URL scheme:
// postgres:// and postgresql:// use PostgreSQL, sqlite:// uses a SQLite file.
// The schema is applied before returning.
func Open(ctx context.Context, databaseURL string, mode DeleteMode) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to reach postgres: %w", err)
		}
		r := NewPostgresPeopleRepo(pool, mode)
		if err := r.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return r, nil

	case strings.HasPrefix(databaseURL, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(databaseURL, "sqlite://"), mode)
	}
	return nil, fmt.Errorf("unsupported database url scheme: %q", schemeOf(databaseURL))
}

func schemeOf(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i]
	}
	return url
}
