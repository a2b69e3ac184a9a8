// Package claims evaluates an operation's authorization requirement against
// the verified claims of a token.
package claims

import (
	"encoding/json"
	"strings"
)

// ScopeClaim holds the token's granted scopes.
const ScopeClaim = "scp"

// Claims are the verified JWT claims.
type Claims map[string]any

// Normalize converts decoded JSON into the value kinds the evaluator compares:
// json.Number becomes int64 (or float64 when it is not integral) and arrays of
// strings become []string.
func Normalize(raw map[string]any) Claims {
	out := make(Claims, len(raw))
	for k, v := range raw {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v
	case []any:
		if ss, ok := stringSlice(v); ok {
			return ss
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		return map[string]any(Normalize(v))
	default:
		return v
	}
}

// Scopes returns the scp claim as a list. Both the array form and the
// space-delimited string form are accepted.
func (c Claims) Scopes() []string {
	switch v := c[ScopeClaim].(type) {
	case []string:
		return v
	case []any:
		ss, _ := stringSlice(v)
		return ss
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}

func stringSlice(v []any) ([]string, bool) {
	out := make([]string, 0, len(v))
	for _, e := range v {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
