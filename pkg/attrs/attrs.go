// Package attrs inspects flattened key-value attribute lists, the shape slog
// arguments take before conversion. Test code uses it to assert on captured
// log output.
package attrs

// ExtractString returns the string value for key in a
// [key1, value1, key2, value2, ...] slice, or "" when the key is absent or
// its value is not a string.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if k == key {
			if v, ok := attrs[i+1].(string); ok {
				return v
			}
		}
	}
	return ""
}
