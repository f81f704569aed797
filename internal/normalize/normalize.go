// Package normalize cleans identifiers and message text received from clients
// before they are stored or compared.
package normalize

import "strings"

// ID trims surrounding whitespace from an opaque identifier. Identifiers are
// case-sensitive so nothing else is changed.
func ID(id string) string {
	return strings.TrimSpace(id)
}

// Content trims message text. The text is stored as sent; renderers escape it.
func Content(s string) string {
	return strings.TrimSpace(s)
}

// Kind lower-cases an enumeration value such as an interaction or entity type.
func Kind(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
