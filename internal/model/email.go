package model

import "strings"

// NormalizeEmail trims whitespace and lower-cases an address; this is the
// canonical form for uniqueness and dedup comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
