// Package value converts native engine values into the canonical dynamic
// value model shared by every consumer of query results.
package value

/*
 * Canonical values are the JSON-compatible subset of Go values:
 *
 *   nil, bool, int64, float64, string, []any, map[string]any
 *
 * Conversion rules:
 *   - all signed and unsigned integer widths map to int64; values outside
 *     the int64 range (HUGEINT, large UBIGINT) become their decimal string
 *   - float32/float64 map to float64; NaN and infinities become nil
 *   - BLOB becomes "blob:" followed by lowercase hex
 *   - DECIMAL becomes float64
 *   - LIST, STRUCT, MAP and JSON values are converted recursively
 *   - temporal and interval values have no canonical form: under Lossy they
 *     become nil, under Strict they fail with ErrUnsupportedType
 */

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"

	"github.com/marcboeker/go-duckdb"
)

// Policy selects how values without a canonical form are handled.
type Policy int

const (
	// Lossy degrades unsupported values to nil.
	Lossy Policy = iota
	// Strict rejects unsupported values with ErrUnsupportedType.
	Strict
)

func (p Policy) String() string {
	if p == Strict {
		return "strict"
	}
	return "lossy"
}

// ParsePolicy maps "lossy"/"strict" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "lossy":
		return Lossy, nil
	case "strict":
		return Strict, nil
	default:
		return Lossy, fmt.Errorf("unknown value policy %q (expected lossy or strict)", s)
	}
}

// BlobPrefix marks hex-encoded binary values.
const BlobPrefix = "blob:"

// ErrUnsupportedType indicates a native value with no canonical form.
var ErrUnsupportedType = errors.New("unsupported value type")

// Canonicalize converts a value scanned from the engine into canonical form.
func Canonicalize(v any, p Policy) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case string:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		return fromUint64(uint64(x)), nil
	case uint64:
		return fromUint64(x), nil
	case float32:
		return fromFloat(float64(x)), nil
	case float64:
		return fromFloat(x), nil
	case *big.Int:
		if x == nil {
			return nil, nil
		}
		return fromBigInt(x), nil
	case []byte:
		return BlobPrefix + hex.EncodeToString(x), nil
	case json.Number:
		return fromNumber(x), nil
	case duckdb.Decimal:
		return fromFloat(x.Float64()), nil
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			c, err := Canonicalize(elem, p)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			c, err := Canonicalize(elem, p)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case duckdb.Map:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			c, err := Canonicalize(elem, p)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = c
		}
		return out, nil
	default:
		if p == Strict {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
		}
		return nil, nil
	}
}

func fromUint64(u uint64) any {
	if u > math.MaxInt64 {
		return strconv.FormatUint(u, 10)
	}
	return int64(u)
}

func fromBigInt(b *big.Int) any {
	if b.IsInt64() {
		return b.Int64()
	}
	return b.String()
}

func fromFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// fromNumber keeps integral JSON numbers exact: int64 when they fit, the
// decimal string when they overflow, float64 otherwise.
func fromNumber(n json.Number) any {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if b, ok := new(big.Int).SetString(s, 10); ok {
		return b.String()
	}
	if f, err := n.Float64(); err == nil {
		return fromFloat(f)
	}
	return s
}

// SortedKeys returns the keys of a canonical object in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
