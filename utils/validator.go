package utils

import (
	"fmt"
	"regexp"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{2,63}$`)

// ValidateUsername checks that a username is acceptable to the backend:
// 3-64 characters, alphanumeric plus dot/underscore/hyphen, starting with
// an alphanumeric.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username must be 3-64 characters of letters, digits, '.', '_' or '-', starting with a letter or digit")
	}
	return nil
}
