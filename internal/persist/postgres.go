package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	selectBlobSQL = `SELECT value, updated_at FROM buyback_blobs WHERE key = $1`
	upsertBlobSQL = `INSERT INTO buyback_blobs (key, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	deleteBlobSQL = `DELETE FROM buyback_blobs WHERE key = $1`
)

// Postgres stores values in the buyback_blobs table. Rows older than TTL
// are treated as missing and removed on read.
type Postgres struct {
	DB  DB
	TTL time.Duration
	Now func() time.Time
}

func (p Postgres) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	if p.DB == nil {
		return "", false, errors.New("persist: database not configured")
	}
	var (
		value     string
		updatedAt time.Time
	)
	err := p.DB.QueryRow(ctx, selectBlobSQL, key).Scan(&value, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select blob: %w", err)
	}
	if p.TTL > 0 && updatedAt.Add(p.TTL).Before(p.now()) {
		_ = p.Delete(ctx, key)
		return "", false, nil
	}
	return value, true, nil
}

func (p Postgres) Set(ctx context.Context, key, value string) error {
	if p.DB == nil {
		return errors.New("persist: database not configured")
	}
	if _, err := p.DB.Exec(ctx, upsertBlobSQL, key, value, p.now().UTC()); err != nil {
		return fmt.Errorf("upsert blob: %w", err)
	}
	return nil
}

func (p Postgres) Delete(ctx context.Context, key string) error {
	if p.DB == nil {
		return errors.New("persist: database not configured")
	}
	if _, err := p.DB.Exec(ctx, deleteBlobSQL, key); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
