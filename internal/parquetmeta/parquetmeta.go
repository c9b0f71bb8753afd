// Package parquetmeta reads a parquet file's footer: row counts and the
// column schema, without starting the query engine. The CLI uses it to show
// how a cached file would be adapted before it is ever materialized.
package parquetmeta

import (
	"strings"

	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/schema"

	"github.com/mtgjson/mtgjson-go/internal/connection"
	"github.com/mtgjson/mtgjson-go/internal/types"
)

// Leaf is one physical column chunk.
type Leaf struct {
	Path     string `json:"path"`
	Physical string `json:"physical"`
	Logical  string `json:"logical,omitempty"`
	Repeated bool   `json:"repeated"`
}

// Info summarizes a file footer.
type Info struct {
	CreatedBy string `json:"createdBy"`
	NumRows   int64  `json:"numRows"`
	RowGroups int    `json:"rowGroups"`
	Leaves    []Leaf `json:"leaves"`

	// Columns are the top-level columns with the engine type they would
	// surface as: VARCHAR, a scalar type name, or NESTED.
	Columns []connection.Column `json:"columns"`
}

// Read opens path and decodes its footer.
func Read(path string) (*Info, error) {
	r, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, types.Wrap(types.ErrDecode, err, "open parquet %s", path)
	}
	defer r.Close()

	md := r.MetaData()
	info := &Info{
		CreatedBy: md.GetCreatedBy(),
		NumRows:   r.NumRows(),
		RowGroups: r.NumRowGroups(),
	}

	sc := md.Schema
	seen := make(map[string]int)
	for i := 0; i < sc.NumColumns(); i++ {
		col := sc.Column(i)
		leaf := Leaf{
			Path:     col.Path(),
			Physical: col.PhysicalType().String(),
			Repeated: col.MaxRepetitionLevel() > 0,
		}
		if lt := col.LogicalType(); lt != nil && !isNone(lt) {
			leaf.Logical = lt.String()
		}
		info.Leaves = append(info.Leaves, leaf)

		top, nested := topLevel(leaf.Path)
		typ := engineType(col)
		if nested {
			typ = "NESTED"
		}
		if idx, ok := seen[top]; ok {
			info.Columns[idx].Type = "NESTED"
			continue
		}
		seen[top] = len(info.Columns)
		info.Columns = append(info.Columns, connection.Column{Name: top, Type: typ})
	}
	return info, nil
}

// Plan is the adaptation the view registrar would apply to this file.
func (i *Info) Plan(view string) connection.Plan {
	return connection.BuildPlan(view, i.Columns)
}

func topLevel(path string) (string, bool) {
	name, _, nested := strings.Cut(path, ".")
	return name, nested
}

func isNone(lt schema.LogicalType) bool {
	switch lt.(type) {
	case schema.NoLogicalType, *schema.NoLogicalType:
		return true
	}
	return false
}

func isString(col *schema.Column) bool {
	switch col.LogicalType().(type) {
	case schema.StringLogicalType, *schema.StringLogicalType:
		return true
	}
	return col.ConvertedType() == schema.ConvertedTypes.UTF8
}

// engineType approximates the engine's name for a flat column.
func engineType(col *schema.Column) string {
	switch col.PhysicalType() {
	case parquet.Types.Boolean:
		return "BOOLEAN"
	case parquet.Types.Int32:
		return "INTEGER"
	case parquet.Types.Int64:
		return "BIGINT"
	case parquet.Types.Int96:
		return "TIMESTAMP"
	case parquet.Types.Float:
		return "FLOAT"
	case parquet.Types.Double:
		return "DOUBLE"
	case parquet.Types.ByteArray, parquet.Types.FixedLenByteArray:
		if isString(col) {
			return "VARCHAR"
		}
		return "BLOB"
	default:
		return strings.ToUpper(col.PhysicalType().String())
	}
}
