// Package store persists instruments, bars, reference levels and signals in
// Postgres, with an optional Redis read-through cache.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachekeys "fno-scanner/internal/cache"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned by single-row lookups with no match.
var ErrNotFound = sqlx.ErrNotFound

// Config enumerates the dependencies of a Store.
type Config struct {
	SQLConn sqlx.SqlConn
	Cache   gocache.Cache
	TTL     cachekeys.TTLSet
	// Location defines trading-day boundaries for trade_date columns.
	Location *time.Location
}

// Store implements the persistence contracts of the scanner packages.
type Store struct {
	sqlConn sqlx.SqlConn
	cache   gocache.Cache
	ttl     cachekeys.TTLSet
	loc     *time.Location
}

// New wires a Store. Returns nil when no SQL connection is configured.
func New(cfg Config) *Store {
	if cfg.SQLConn == nil {
		return nil
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		sqlConn: cfg.SQLConn,
		cache:   cfg.Cache,
		ttl:     cfg.TTL,
		loc:     loc,
	}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.sqlConn.RawDB()
	if err != nil {
		return fmt.Errorf("store: raw db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range SchemaStatements() {
		if _, err := s.sqlConn.ExecCtx(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// SchemaStatements splits the embedded schema into individual statements.
func SchemaStatements() []string {
	parts := strings.Split(schema, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(stmt, "\n")
	return strings.TrimSpace(line)
}

// tradeDate returns midnight of t's trading day in the store location.
func (s *Store) tradeDate(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
