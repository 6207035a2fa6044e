package tokens

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	MinTokenLength = 10
	MaxTokenLength = 500
	MaxUserIdLen   = 64
)

// letters, digits and the symbols that show up in base64-ish portal tokens
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_\-.=+/]+$`)

// ValidateToken checks the shape of a raw bearer token before it is
// accepted for storage. Invalid input is an expected condition and
// comes back as a *ValidationError, never a panic.
func ValidateToken(token string) error {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return &ValidationError{Reason: "token must not be empty or blank"}
	}
	if len(trimmed) < MinTokenLength {
		return &ValidationError{Reason: fmt.Sprintf("token must be at least %d characters", MinTokenLength)}
	}
	if len(trimmed) > MaxTokenLength {
		return &ValidationError{Reason: fmt.Sprintf("token must be at most %d characters", MaxTokenLength)}
	}
	if !tokenPattern.MatchString(trimmed) {
		return &ValidationError{Reason: "token contains characters outside letters, digits and _-.=+/"}
	}
	return nil
}

func ValidateUserId(userId string) error {
	trimmed := strings.TrimSpace(userId)
	if trimmed == "" {
		return &ValidationError{Reason: "user id must not be empty or blank"}
	}
	if len(trimmed) > MaxUserIdLen {
		return &ValidationError{Reason: fmt.Sprintf("user id must be at most %d characters", MaxUserIdLen)}
	}
	return nil
}
