package ws

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

const maxNameLength = 16

var nameEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// SanitizeName entity-escapes a display name, strips any angle brackets,
// trims whitespace, and truncates to 16 characters. An empty result gets a
// generated placeholder.
func SanitizeName(raw string) string {
	s := nameEscaper.Replace(raw)
	s = strings.ReplaceAll(s, "<", "")
	s = strings.ReplaceAll(s, ">", "")
	s = strings.TrimSpace(s)

	if runes := []rune(s); len(runes) > maxNameLength {
		s = string(runes[:maxNameLength])
	}

	if s == "" {
		return fmt.Sprintf("User-%d", rand.Intn(1000))
	}
	return s
}

// NormalizeColor accepts a strict #RRGGBB value (case-insensitive) and
// replaces anything else with a random color.
func NormalizeColor(raw string) string {
	if colorPattern.MatchString(raw) {
		return raw
	}
	return fmt.Sprintf("#%06x", rand.Intn(0x1000000))
}
