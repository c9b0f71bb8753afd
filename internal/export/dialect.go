package export

import (
	"strings"
	"time"

	"github.com/mtgjson/mtgjson-go/internal/core/db"
)

// colType is the inferred storage class of an exported column.
type colType int

const (
	colText colType = iota
	colBool
	colInt
	colFloat
	colJSON
)

// dialect holds the per-sink spelling of identifiers and column types.
type dialect struct {
	driver string
	types  map[colType]string
	quote  func(string) string
}

func ansiQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func bracketQuote(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

var dialects = map[string]dialect{
	db.DriverSQLite: {
		driver: db.DriverSQLite,
		types: map[colType]string{
			colText:  "TEXT",
			colBool:  "BOOLEAN",
			colInt:   "INTEGER",
			colFloat: "REAL",
			colJSON:  "TEXT",
		},
		quote: ansiQuote,
	},
	db.DriverPostgres: {
		driver: db.DriverPostgres,
		types: map[colType]string{
			colText:  "TEXT",
			colBool:  "BOOLEAN",
			colInt:   "BIGINT",
			colFloat: "DOUBLE PRECISION",
			colJSON:  "JSONB",
		},
		quote: ansiQuote,
	},
	db.DriverSQLServer: {
		driver: db.DriverSQLServer,
		types: map[colType]string{
			colText:  "NVARCHAR(MAX)",
			colBool:  "BIT",
			colInt:   "BIGINT",
			colFloat: "FLOAT",
			colJSON:  "NVARCHAR(MAX)",
		},
		quote: bracketQuote,
	},
}

// timestamp renders exported_at the way each sink's log table stores it.
func (d dialect) timestamp(t time.Time) any {
	if d.driver == db.DriverSQLite {
		return t.UTC().Format("2006-01-02T15:04:05Z")
	}
	return t.UTC()
}
