package value

import (
	"math"
	"strconv"
	"strings"
)

/*
 * Lenient field coercion for reading canonical rows.
 *
 * Booster configuration and other engine-produced rows carry integer columns
 * whose native width varies between upstream builds (INTEGER vs BIGINT vs
 * DOUBLE). Readers want "the integer in this column, or a default", never a
 * failure on an unexpected width.
 *
 * Rules:
 *   - nil always yields the default (missing field)
 *   - Int64: int64 passthrough; integral float64; numeric strings after trim
 *   - Bool: bool only; no string/number coercion ("true" vs 1 ambiguity)
 *   - String: string passthrough; numbers and bools formatted
 */

// Int64 coerces v to int64, returning def when v is nil or not integral.
func Int64(v any, def int64) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		if x == math.Trunc(x) && x >= math.MinInt64 && x < math.MaxInt64 {
			return int64(x)
		}
		return def
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return def
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return def
	default:
		return def
	}
}

// Bool coerces v to bool, returning def for anything that is not a bool.
func Bool(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// String coerces v to its string form, returning def for nil and
// non-scalar values.
func String(v any, def string) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return def
	}
}
