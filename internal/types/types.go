// Package types provides the error taxonomy and identifiers shared across the
// MTGJSON SDK packages.
//
// Zero-dependency design: errors.go and types.go use only the standard
// library. ID utilities in ids.go import uuid but are isolated.
package types

// Row is one query result row: column name to canonical value. Values are
// always one of nil, bool, int64, float64, string, []any, map[string]any
// (see internal/value).
type Row map[string]any

// FileKind distinguishes columnar snapshots from JSON documents.
type FileKind int

const (
	KindParquet FileKind = iota
	KindJSON
)

func (k FileKind) String() string {
	switch k {
	case KindParquet:
		return "parquet"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}
