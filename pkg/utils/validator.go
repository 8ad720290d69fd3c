package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds actor ids accepted from the identity provider
const MaxIdentifierLength = 64

var (
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@\-]*$`)
	larkOpenIDRegex = regexp.MustCompile(`^ou_[A-Za-z0-9]+$`)
	controlRegex    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ValidateIdentifier checks an actor id: letters, digits and . _ @ -,
// starting with a letter or digit
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier is required")
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("identifier exceeds %d characters", MaxIdentifierLength)
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier format: %q", id)
	}
	return nil
}

// ValidateLarkOpenID checks a Lark open_id. Empty is allowed and means the
// actor has no IM identity.
func ValidateLarkOpenID(openID string) error {
	if openID == "" {
		return nil
	}
	if !larkOpenIDRegex.MatchString(openID) {
		return fmt.Errorf("invalid lark open_id: %q", openID)
	}
	return nil
}

// SanitizeString removes control characters except tab and newlines, and
// trims surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlRegex.ReplaceAllString(s, ""))
}
