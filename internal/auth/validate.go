package auth

import (
	"fmt"
	"net/mail"
	"strings"
)

// MinPasswordLength is the shortest password accepted at login.
const MinPasswordLength = 8

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fmt.Errorf("%w: email must be a valid email", ErrValidation)
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	if len([]rune(password)) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrValidation, MinPasswordLength)
	}
	return nil
}

func validateProfile(p Profile) error {
	if strings.TrimSpace(p.Provider) == "" {
		return fmt.Errorf("%w: provider is required", ErrValidation)
	}
	if strings.TrimSpace(p.ProviderID) == "" {
		return fmt.Errorf("%w: providerId is required", ErrValidation)
	}
	return validateEmail(p.Email)
}

// ValidationDetail returns the text after the sentinel prefix of a
// validation error, or "" for other errors.
func ValidationDetail(err error) string {
	msg := err.Error()
	prefix := ErrValidation.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return strings.TrimPrefix(msg, prefix)
	}
	return ""
}
