// Package strings provides string manipulation utilities.
package strings

// Dedupe removes duplicates and empty strings from a slice. First occurrence
// wins, so callers control precedence through input order. Comparison is
// exact: no trimming or case folding.
//
// The result is never nil so it encodes as [] in JSON.
//
// Example:
//
//	Dedupe([]string{"a@x.com", "", "b@x.com", "a@x.com"})
//	// Returns: []string{"a@x.com", "b@x.com"}
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}
