package connection

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mtgjson/mtgjson-go/internal/metrics"
	"github.com/mtgjson/mtgjson-go/internal/types"
)

// Wide-format legality data: one row per card, one column per format.
const (
	legalitiesView = "card_legalities"
	idColumn       = "uuid"
)

// EnsureViews materializes every name not already registered, in order.
// It stops at the first failure; views registered before it stay registered.
func (c *Conn) EnsureViews(ctx context.Context, names ...string) error {
	for _, name := range names {
		if c.HasView(name) {
			continue
		}
		if err := c.EnsureView(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// EnsureView materializes name as a view over its cached parquet file.
// It is a no-op for an already registered name; a failure leaves the name
// unregistered.
func (c *Conn) EnsureView(ctx context.Context, name string) error {
	if c.HasView(name) {
		return nil
	}

	path, err := c.files.EnsureFile(ctx, name)
	if err != nil {
		return err
	}
	src := parquetSource(path)

	if name == legalitiesView {
		return c.registerLegalities(ctx, src)
	}

	schema, err := c.describe(ctx, src)
	if err != nil {
		return err
	}
	plan := BuildPlan(name, schema)
	if len(plan.Guessed) > 0 {
		c.log.Debug("list columns inferred from names", "view", name, "columns", plan.Guessed)
	}

	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT *%s FROM %s",
		quoteIdent(name), plan.ReplaceClause(), src)
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return types.Wrap(types.ErrQuery, err, "register view %s", name)
	}

	c.markRegistered(name)
	c.log.Info("registered view", "view", name, "path", path, "lists", len(plan.Lists), "json", len(plan.JSON))
	return nil
}

// registerLegalities reshapes wide legality data into (uuid, format, status)
// rows, one per non-null format column. A file without format columns is
// exposed as-is.
func (c *Conn) registerLegalities(ctx context.Context, src string) error {
	schema, err := c.describe(ctx, src)
	if err != nil {
		return err
	}

	var formats []string
	for _, col := range schema {
		if col.Name != idColumn {
			formats = append(formats, quoteIdent(col.Name))
		}
	}

	var stmt string
	if len(formats) == 0 {
		stmt = fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", legalitiesView, src)
	} else {
		stmt = fmt.Sprintf(
			"CREATE OR REPLACE VIEW %s AS SELECT %s, format, status FROM ("+
				"UNPIVOT (SELECT * FROM %s) ON %s INTO NAME format VALUE status"+
				") WHERE status IS NOT NULL",
			legalitiesView, quoteIdent(idColumn), src, strings.Join(formats, ", "))
	}
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return types.Wrap(types.ErrQuery, err, "register view %s", legalitiesView)
	}

	c.markRegistered(legalitiesView)
	c.log.Info("registered legalities view", "view", legalitiesView, "formats", len(formats))
	return nil
}

// describe reads column names and types from the parquet footer.
func (c *Conn) describe(ctx context.Context, src string) ([]Column, error) {
	var schema []Column
	q := fmt.Sprintf("SELECT column_name AS name, column_type AS type FROM (DESCRIBE SELECT * FROM %s)", src)
	if err := c.db.SelectContext(ctx, &schema, q); err != nil {
		return nil, types.Wrap(types.ErrQuery, err, "describe %s", src)
	}
	return schema, nil
}

// Describe returns the schema of dataset name as the engine sees the raw
// file, before any rewrite.
func (c *Conn) Describe(ctx context.Context, name string) ([]Column, error) {
	path, err := c.files.EnsureFile(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.describe(ctx, parquetSource(path))
}

func (c *Conn) markRegistered(name string) {
	c.views[name] = struct{}{}
	metrics.RecordViewRegistered(name)
}

// parquetSource renders a read_parquet table function over path, with
// forward slashes so Windows paths work.
func parquetSource(path string) string {
	return "read_parquet(" + quoteLiteral(filepath.ToSlash(path)) + ")"
}
