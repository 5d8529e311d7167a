package sqlgen

import (
	"fmt"
	"sort"
	"strconv"
)

// Params is the untyped parameter map of one operation as it arrives on
// the wire. Builders validate every value before it reaches SQL.
type Params map[string]any

func (p Params) require(keys ...string) error {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil || v == "" {
			return templateErrorf("Missing required parameter: %s", k)
		}
	}
	return nil
}

func (p Params) str(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// strList accepts []string and []any-of-string, the two shapes JSON
// decoding produces.
func (p Params) strList(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (p Params) boolVal(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	}
	return false
}

func (p Params) objMap(key string) map[string]any {
	if v, ok := p[key].(map[string]any); ok {
		return v
	}
	return nil
}

func (p Params) objList(key string) []map[string]any {
	switch v := p[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// sortedKeys gives builders a deterministic iteration order over settings
// and limit maps.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// literal renders a settings value: numbers inline, everything else as an
// escaped single-quoted string.
func literal(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		if n {
			return "1"
		}
		return "0"
	default:
		return "'" + EscapeString(fmt.Sprintf("%v", v)) + "'"
	}
}

// intLiteral coerces quota limit values to a whole number.
func intLiteral(v any) (string, error) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case float64:
		return strconv.FormatInt(int64(n), 10), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return "", templateErrorf("Invalid quota limit value: %q", n)
		}
		return strconv.FormatInt(i, 10), nil
	default:
		return "", templateErrorf("Invalid quota limit value: %v", v)
	}
}
