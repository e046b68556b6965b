// Package validate provides centralized input validation for fields that
// end up inside hashed audit records. Rejecting junk before it is hashed
// matters here: once an entry is written it can never be edited.
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
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	// Character count, not byte count
	length := utf8.RuneCountInString(s)

	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}

	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	return s, nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.:]+$`)

// ChainID validates a chain identifier:
// - 1-200 characters
// - Letters, numbers, dash, underscore, period, colon only
//
// Chain IDs are typically "user:<uuid>" or similar principal keys.
func ChainID(id string) (string, error) {
	return String(id, StringConstraints{
		MinLength:      1,
		MaxLength:      200,
		AllowedPattern: identifierPattern,
		AllowEmpty:     false,
		TrimSpace:      true,
	})
}

// Action validates an action name:
// - 1-100 characters
// - Letters, numbers, dash, underscore, period, colon only
func Action(action string) (string, error) {
	return String(action, StringConstraints{
		MinLength:      1,
		MaxLength:      100,
		AllowedPattern: identifierPattern,
		AllowEmpty:     false,
		TrimSpace:      true,
	})
}

// ResourceType validates a resource type name with the same rules as
// actions.
func ResourceType(resourceType string) (string, error) {
	return Action(resourceType)
}

// ResourceID validates an optional resource identifier:
// - Max 500 characters
// - Free-form, but never empty if present
func ResourceID(id string) (string, error) {
	return String(id, StringConstraints{
		MinLength:  1,
		MaxLength:  500,
		AllowEmpty: false,
		TrimSpace:  true,
	})
}
