// Package validate provides centralized input validation for the Waypost API.
// Identifiers and coordinates arrive from untrusted devices; everything is
// checked here before it reaches the stores.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length (0 = no minimum)
	MaxLength      int            // Maximum length (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional regex pattern for allowed characters
	AllowEmpty     bool           // Whether empty strings are allowed
	TrimSpace      bool           // Whether to trim whitespace before validation
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	// Optionally trim whitespace
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	// Check if empty
	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	// Get actual character count (not byte count)
	length := utf8.RuneCountInString(s)

	// Check minimum length
	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}

	// Check maximum length
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	// Check allowed pattern
	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	return s, nil
}

// idPattern covers user and team identifiers: token subjects, UUIDs, and
// human-assigned slugs.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.:]+$`)

// UserID validates a user identifier:
// - 1-128 characters
// - Letters, numbers, dash, underscore, period, colon only
func UserID(id string) (string, error) {
	return String(id, StringConstraints{
		MinLength:      1,
		MaxLength:      128,
		AllowedPattern: idPattern,
		AllowEmpty:     false,
		TrimSpace:      true,
	})
}

// TeamID validates a team identifier with the same shape as user IDs.
func TeamID(id string) (string, error) {
	return String(id, StringConstraints{
		MinLength:      1,
		MaxLength:      128,
		AllowedPattern: idPattern,
		AllowEmpty:     false,
		TrimSpace:      true,
	})
}
