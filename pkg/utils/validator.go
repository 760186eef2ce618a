package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@\-]{0,127}$`)
	controlRegex    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// MaxTextLength bounds free-text comments and reasons
const MaxTextLength = 2000

// ValidateIdentifier checks a tenant, user or flow identifier
func ValidateIdentifier(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid %s: %q", kind, id)
	}
	return nil
}

// SanitizeText removes control characters other than newline and tab,
// trims surrounding space and truncates to MaxTextLength runes
func SanitizeText(s string) string {
	s = strings.TrimSpace(controlRegex.ReplaceAllString(s, ""))
	if r := []rune(s); len(r) > MaxTextLength {
		s = string(r[:MaxTextLength])
	}
	return s
}
