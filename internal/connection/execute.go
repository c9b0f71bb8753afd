package connection

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/jmoiron/sqlx"

	"github.com/mtgjson/mtgjson-go/internal/types"
	"github.com/mtgjson/mtgjson-go/internal/value"
)

// Execute runs query with params bound positionally ("?") and returns every
// row in canonical form. Engine errors are wrapped as ErrQuery with the
// driver error still reachable through errors.As.
func (c *Conn) Execute(ctx context.Context, query string, params ...any) ([]types.Row, error) {
	rows, err := c.db.QueryxContext(ctx, query, params...)
	if err != nil {
		return nil, types.Wrap(types.ErrQuery, err, "execute")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, types.Wrap(types.ErrQuery, err, "read columns")
	}

	var out []types.Row
	for rows.Next() {
		row, err := c.scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Wrap(types.ErrQuery, err, "execute")
	}
	return out, nil
}

func (c *Conn) scanRow(rows *sqlx.Rows, cols []string) (types.Row, error) {
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, types.Wrap(types.ErrQuery, err, "scan row")
	}

	row := make(types.Row, len(cols))
	for i, col := range cols {
		v, err := value.Canonicalize(raw[i], c.policy)
		if err != nil {
			return nil, types.Wrap(types.ErrQuery, err, "column %s", col)
		}
		row[col] = v
	}
	return row, nil
}

// ExecuteScalar returns the first column of the first row. ok is false when
// the result set is empty.
func (c *Conn) ExecuteScalar(ctx context.Context, query string, params ...any) (v any, ok bool, err error) {
	rows, err := c.db.QueryxContext(ctx, query, params...)
	if err != nil {
		return nil, false, types.Wrap(types.ErrQuery, err, "execute")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, false, types.Wrap(types.ErrQuery, err, "read columns")
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, types.Wrap(types.ErrQuery, err, "execute")
		}
		return nil, false, nil
	}
	row, err := c.scanRow(rows, cols)
	if err != nil {
		return nil, false, err
	}
	return row[cols[0]], true, nil
}

// ExecuteInto scans every row into dest, a pointer to a slice of structs
// with `db` tags. Values are the driver's native types, not canonical ones.
func (c *Conn) ExecuteInto(ctx context.Context, dest any, query string, params ...any) error {
	if err := c.db.SelectContext(ctx, dest, query, params...); err != nil {
		return types.Wrap(types.ErrQuery, err, "execute into %T", dest)
	}
	return nil
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RegisterTableFromNDJSON loads a newline-delimited JSON file into table
// name, replacing any previous table, and records it as a registered view.
func (c *Conn) RegisterTableFromNDJSON(ctx context.Context, name, path string) error {
	if !tableName.MatchString(name) {
		return types.InvalidArgument("invalid table name %q", name)
	}

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(name)),
		fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_json_auto(%s, format = 'newline_delimited')",
			quoteIdent(name), quoteLiteral(filepath.ToSlash(path))),
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return types.Wrap(types.ErrQuery, err, "load %s into %s", path, name)
		}
	}

	c.markRegistered(name)
	c.log.Info("registered table", "table", name, "path", path)
	return nil
}
