// Package export copies query results out of the engine into a relational
// sink (SQLite, PostgreSQL or SQL Server). Each export replaces the
// destination table and is recorded in the mtgjson_exports log table.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mtgjson/mtgjson-go/internal/core/db"
	"github.com/mtgjson/mtgjson-go/internal/logging"
	"github.com/mtgjson/mtgjson-go/internal/types"
	"github.com/mtgjson/mtgjson-go/internal/value"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LogTable records completed exports.
const LogTable = "mtgjson_exports"

// reserved reports whether table is one of the sink's bookkeeping tables.
func reserved(table string) bool {
	return strings.EqualFold(table, LogTable) || strings.EqualFold(table, db.MigrationsTable)
}

// Request is one export.
type Request struct {
	// View is the source view name, recorded in the log.
	View string
	// Table is the destination table; defaults to View.
	Table string
	// Version is the dataset version token the rows came from.
	Version string
	// Columns fixes the column order. Empty means the sorted union of row keys.
	Columns []string
	Rows    []types.Row
}

// Result describes a completed export.
type Result struct {
	ExportID string `json:"exportId"`
	Table    string `json:"table"`
	Rows     int64  `json:"rows"`
}

// Record is one row of the export log.
type Record struct {
	ExportID   string    `json:"exportId"`
	View       string    `json:"view"`
	Table      string    `json:"table"`
	Version    string    `json:"version"`
	RowCount   int64     `json:"rowCount"`
	ExportedAt time.Time `json:"exportedAt"`
}

// Exporter writes to one sink.
type Exporter struct {
	db      *sqlx.DB
	dialect dialect
	log     *slog.Logger
	now     func() time.Time
}

// Open connects to the sink at dbURL and applies pending migrations.
func Open(dbURL string) (*Exporter, error) {
	handle, err := db.Open(dbURL)
	if err != nil {
		return nil, types.Wrap(types.ErrIO, err, "open export sink")
	}
	e, err := New(handle)
	if err != nil {
		handle.Close()
		return nil, err
	}
	return e, nil
}

// New wraps an open sink handle and applies pending migrations.
func New(handle *sqlx.DB) (*Exporter, error) {
	d, ok := dialects[handle.DriverName()]
	if !ok {
		return nil, types.InvalidArgument("driver %q is not an export sink", handle.DriverName())
	}
	if err := db.MigrateUp(context.Background(), handle); err != nil {
		return nil, types.Wrap(types.ErrIO, err, "migrate export sink")
	}
	return &Exporter{
		db:      handle,
		dialect: d,
		log:     logging.WithComponent("export"),
		now:     time.Now,
	}, nil
}

// Close closes the sink handle.
func (e *Exporter) Close() error {
	return e.db.Close()
}

// Export replaces req.Table with req.Rows and logs the export, all in one
// transaction.
func (e *Exporter) Export(ctx context.Context, req Request) (Result, error) {
	table := req.Table
	if table == "" {
		table = req.View
	}
	if !tableName.MatchString(table) {
		return Result{}, types.InvalidArgument("invalid table name %q", table)
	}
	if reserved(table) {
		return Result{}, types.InvalidArgument("table %q is reserved for export bookkeeping", table)
	}

	cols := req.Columns
	if len(cols) == 0 {
		cols = columnNames(req.Rows)
	}
	if len(cols) == 0 {
		return Result{}, types.InvalidArgument("nothing to export: no columns for %s", table)
	}
	kinds := inferTypes(cols, req.Rows)

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, types.Wrap(types.ErrIO, err, "begin export")
	}
	defer tx.Rollback()

	q := e.dialect.quote
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+q(table)); err != nil {
		return Result{}, types.Wrap(types.ErrQuery, err, "drop %s", table)
	}
	if _, err := tx.ExecContext(ctx, e.createSQL(table, cols, kinds)); err != nil {
		return Result{}, types.Wrap(types.ErrQuery, err, "create %s", table)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(insertSQL(q, table, cols)))
	if err != nil {
		return Result{}, types.Wrap(types.ErrQuery, err, "prepare insert into %s", table)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for i, row := range req.Rows {
		for j, c := range cols {
			if args[j], err = encode(row[c], kinds[c]); err != nil {
				return Result{}, types.Wrap(types.ErrDecode, err, "row %d column %s", i, c)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return Result{}, types.Wrap(types.ErrQuery, err, "insert row %d into %s", i, table)
		}
	}

	res := Result{ExportID: uuid.NewString(), Table: table, Rows: int64(len(req.Rows))}
	logSQL := tx.Rebind(`INSERT INTO ` + LogTable + `
		(export_id, view_name, table_name, version, row_count, exported_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, logSQL,
		res.ExportID, req.View, table, req.Version, res.Rows, e.dialect.timestamp(e.now())); err != nil {
		return Result{}, types.Wrap(types.ErrQuery, err, "record export")
	}

	if err := tx.Commit(); err != nil {
		return Result{}, types.Wrap(types.ErrIO, err, "commit export")
	}
	e.log.Info("exported view", "view", req.View, "table", table, "rows", res.Rows, "driver", e.dialect.driver)
	return res, nil
}

type recordRow struct {
	ExportID   string `db:"export_id"`
	View       string `db:"view_name"`
	Table      string `db:"table_name"`
	Version    string `db:"version"`
	RowCount   int64  `db:"row_count"`
	ExportedAt string `db:"exported_at"`
}

// History lists logged exports of view, newest first. An empty view lists
// every export.
func (e *Exporter) History(ctx context.Context, view string) ([]Record, error) {
	query := `SELECT export_id, view_name, table_name, version, row_count, exported_at
		FROM ` + LogTable
	var args []any
	if view != "" {
		query += ` WHERE view_name = ?`
		args = append(args, view)
	}
	query += ` ORDER BY exported_at DESC, export_id`

	var rows []recordRow
	if err := e.db.SelectContext(ctx, &rows, e.db.Rebind(query), args...); err != nil {
		return nil, types.Wrap(types.ErrQuery, err, "read export log")
	}

	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		at, err := time.Parse(time.RFC3339Nano, r.ExportedAt)
		if err != nil {
			return nil, types.Wrap(types.ErrDecode, err, "export %s timestamp", r.ExportID)
		}
		out = append(out, Record{
			ExportID:   r.ExportID,
			View:       r.View,
			Table:      r.Table,
			Version:    r.Version,
			RowCount:   r.RowCount,
			ExportedAt: at,
		})
	}
	return out, nil
}

func (e *Exporter) createSQL(table string, cols []string, kinds map[string]colType) string {
	q := e.dialect.quote
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = q(c) + " " + e.dialect.types[kinds[c]]
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", q(table), strings.Join(defs, ",\n  "))
}

func insertSQL(q func(string) string, table string, cols []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(q(table))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(q(c))
	}
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	b.WriteString(")")
	return b.String()
}

func columnNames(rows []types.Row) []string {
	seen := make(map[string]any)
	for _, r := range rows {
		for k := range r {
			seen[k] = nil
		}
	}
	return value.SortedKeys(seen)
}

// inferTypes picks one storage class per column from the canonical values
// present. Integers widen to float when mixed with floats; any other mix,
// and all-null columns, fall back to text.
func inferTypes(cols []string, rows []types.Row) map[string]colType {
	out := make(map[string]colType, len(cols))
	for _, c := range cols {
		var seen bool
		kind := colText
		for _, r := range rows {
			v := r[c]
			if v == nil {
				continue
			}
			k := kindOf(v)
			switch {
			case !seen:
				kind, seen = k, true
			case kind == k:
			case (kind == colInt && k == colFloat) || (kind == colFloat && k == colInt):
				kind = colFloat
			default:
				kind = colText
			}
		}
		out[c] = kind
	}
	return out
}

func kindOf(v any) colType {
	switch v.(type) {
	case bool:
		return colBool
	case int64:
		return colInt
	case float64:
		return colFloat
	case []any, map[string]any:
		return colJSON
	default:
		return colText
	}
}

// encode converts a canonical value to a driver argument for a column of
// the given kind.
func encode(v any, kind colType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case colJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case colFloat:
		if i, ok := v.(int64); ok {
			return float64(i), nil
		}
		return v, nil
	case colText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}
