// Package gtfsdb materializes a GTFS feed into a SQLite store and serves
// the query surface over it. The store's shape follows the feed: optional
// columns exist only when the producer shipped them, and every query
// consults the discovered schema before referencing one.
package gtfsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DefaultQueryTimeout bounds a single read request.
const DefaultQueryTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	Logger       *slog.Logger
	QueryTimeout time.Duration
}

// Client wraps one derived store. It is safe for concurrent readers; the
// build side runs before the client is published to any reader.
type Client struct {
	DB   *sql.DB
	Path string

	logger       *slog.Logger
	queryTimeout time.Duration
	schema       *schemaCache
}

// Open opens (or creates) the SQLite store at path.
func Open(path string, opts Options) (*Client, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error configuring database: %w", err)
	}

	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		DB:           db,
		Path:         path,
		logger:       logger,
		queryTimeout: timeout,
		schema:       newSchemaCache(),
	}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// requestContext applies the per-request timeout unless the caller already
// set a tighter deadline.
func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.queryTimeout)
}

// requestError maps a deadline expiry to the stable timeout error; other
// errors pass through wrapped with the request name.
func requestError(err error, request string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &QueryTimeoutError{Request: request}
	}
	return fmt.Errorf("%s: %w", request, err)
}

// schemaCache memoizes per-table column sets. Populated lazily on first
// use, shared by every request handler, and reset only when a new store is
// opened (a Client is never re-pointed at a different file).
type schemaCache struct {
	mu     sync.RWMutex
	tables map[string]map[string]bool
}

func newSchemaCache() *schemaCache {
	return &schemaCache{tables: make(map[string]map[string]bool)}
}

// TableColumns reports the column set of a table. A missing table yields an
// empty set, not an error.
func (c *Client) TableColumns(ctx context.Context, table string) (map[string]bool, error) {
	c.schema.mu.RLock()
	cols, ok := c.schema.tables[table]
	c.schema.mu.RUnlock()
	if ok {
		return cols, nil
	}

	rows, err := c.DB.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("introspecting table %s: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck

	cols = make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("introspecting table %s: %w", table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("introspecting table %s: %w", table, err)
	}

	c.schema.mu.Lock()
	c.schema.tables[table] = cols
	c.schema.mu.Unlock()

	return cols, nil
}

// HasColumn reports whether table carries the named column.
func (c *Client) HasColumn(ctx context.Context, table, column string) (bool, error) {
	cols, err := c.TableColumns(ctx, table)
	if err != nil {
		return false, err
	}
	return cols[column], nil
}

// TableExists reports whether the table was materialized at all.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	cols, err := c.TableColumns(ctx, table)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}

// invalidateSchema drops the memoized column sets. The builder calls it
// after creating tables so queries in the same process see the new shape.
func (c *Client) invalidateSchema() {
	c.schema.mu.Lock()
	c.schema.tables = make(map[string]map[string]bool)
	c.schema.mu.Unlock()
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func parseIntDefault(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
