// Package connection owns the embedded DuckDB engine: it materializes cached
// dataset files as views and runs parameterized queries against them,
// returning rows in the canonical value model.
//
// A Conn is not safe for concurrent use. View registration mutates the
// engine catalog; the SDK session serializes every call.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/mtgjson/mtgjson-go/internal/core/db"
	"github.com/mtgjson/mtgjson-go/internal/logging"
	"github.com/mtgjson/mtgjson-go/internal/types"
	"github.com/mtgjson/mtgjson-go/internal/value"
)

// Files resolves a logical dataset name to a local file, downloading it if
// needed. *cache.Manager implements it.
type Files interface {
	EnsureFile(ctx context.Context, name string) (string, error)
}

// Options configures a Conn.
type Options struct {
	// Policy decides what happens to values with no canonical form.
	Policy value.Policy
	Logger *slog.Logger
}

// Conn is an engine session plus the registry of materialized views.
type Conn struct {
	db     *sqlx.DB
	files  Files
	policy value.Policy
	log    *slog.Logger

	views map[string]struct{}
}

// Open starts an in-memory engine backed by files.
func Open(files Files, opts Options) (*Conn, error) {
	engine, err := db.OpenEngine()
	if err != nil {
		return nil, types.Wrap(types.ErrQuery, err, "open engine")
	}
	return New(engine, files, opts), nil
}

// New wraps an existing engine handle.
func New(engine *sqlx.DB, files Files, opts Options) *Conn {
	log := opts.Logger
	if log == nil {
		log = logging.WithComponent("connection")
	}
	return &Conn{
		db:     engine,
		files:  files,
		policy: opts.Policy,
		log:    log,
		views:  make(map[string]struct{}),
	}
}

// HasView reports whether name is materialized.
func (c *Conn) HasView(name string) bool {
	_, ok := c.views[name]
	return ok
}

// Views returns the materialized view names, sorted.
func (c *Conn) Views() []string {
	out := make([]string, 0, len(c.views))
	for name := range c.views {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResetViews forgets every materialized view. The next access re-registers
// it from a freshly ensured file.
func (c *Conn) ResetViews() {
	c.views = make(map[string]struct{})
}

// Raw exposes the engine handle for callers that need sqlx directly.
func (c *Conn) Raw() *sqlx.DB {
	return c.db
}

// Restrict confines the engine's file access to dirs for the rest of its
// life: table functions and COPY fail on any other path, remote access and
// extension installs are off, and the configuration is locked so queries
// cannot lift the restriction. It cannot be undone.
func (c *Conn) Restrict(ctx context.Context, dirs ...string) error {
	lits := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return types.Wrap(types.ErrIO, err, "resolve %s", d)
		}
		lits = append(lits, quoteLiteral(strings.TrimSuffix(filepath.ToSlash(abs), "/")+"/"))
	}

	stmts := []string{
		fmt.Sprintf("SET allowed_directories = [%s]", strings.Join(lits, ", ")),
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return types.Wrap(types.ErrQuery, err, "restrict engine")
		}
	}
	c.log.Info("engine file access restricted", "dirs", dirs)
	return nil
}

// Close shuts the engine down.
func (c *Conn) Close() error {
	return c.db.Close()
}
