package ticket

import "regexp"

var keyPattern = regexp.MustCompile(`[A-Z]+-\d+`)

// ExtractKey returns the first issue key (e.g. "TEST-123") found anywhere in s.
// The second return value is false when s is empty or holds no key; callers
// treat that as a skip, not a failure.
func ExtractKey(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	key := keyPattern.FindString(s)
	if key == "" {
		return "", false
	}
	return key, true
}

// IsKey reports whether s is exactly one well-formed issue key.
func IsKey(s string) bool {
	loc := keyPattern.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}
