package claims

import (
	"encoding/json"
	"math/big"
	"reflect"
	"slices"
)

// Equal compares a claim value with an argument by value. Numbers are equal
// when they denote the same rational number regardless of Go type; a number
// never equals a string.
func Equal(claim, arg any) bool {
	cr, cNum := toRat(claim)
	ar, aNum := toRat(arg)
	if cNum || aNum {
		return cNum && aNum && cr != nil && ar != nil && cr.Cmp(ar) == 0
	}

	switch c := claim.(type) {
	case string:
		a, ok := arg.(string)
		return ok && c == a
	case bool:
		a, ok := arg.(bool)
		return ok && c == a
	}

	if cs, ok := asStrings(claim); ok {
		as, ok := asStrings(arg)
		return ok && slices.Equal(cs, as)
	}

	return reflect.DeepEqual(claim, arg)
}

// toRat reports whether v is numeric. Non-finite floats are numeric but the
// returned value is nil, so they equal nothing.
func toRat(v any) (*big.Rat, bool) {
	switch n := v.(type) {
	case int:
		return new(big.Rat).SetInt64(int64(n)), true
	case int8:
		return new(big.Rat).SetInt64(int64(n)), true
	case int16:
		return new(big.Rat).SetInt64(int64(n)), true
	case int32:
		return new(big.Rat).SetInt64(int64(n)), true
	case int64:
		return new(big.Rat).SetInt64(n), true
	case uint:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint8:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Rat).SetUint64(n), true
	case float32:
		return new(big.Rat).SetFloat64(float64(n)), true
	case float64:
		return new(big.Rat).SetFloat64(n), true
	case json.Number:
		r, ok := new(big.Rat).SetString(n.String())
		if !ok {
			return nil, true
		}
		return r, true
	default:
		return nil, false
	}
}

func asStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		return stringSlice(s)
	default:
		return nil, false
	}
}
