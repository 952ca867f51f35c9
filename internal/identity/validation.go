package identity

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"unicode"
)

// Error codes reported by Create.
const (
	CodeInvalidEmail                    = "InvalidEmail"
	CodeInvalidUserName                 = "InvalidUserName"
	CodeDuplicateEmail                  = "DuplicateEmail"
	CodeDuplicateUserName               = "DuplicateUserName"
	CodePasswordTooShort                = "PasswordTooShort"
	CodePasswordRequiresDigit           = "PasswordRequiresDigit"
	CodePasswordRequiresLower           = "PasswordRequiresLower"
	CodePasswordRequiresUpper           = "PasswordRequiresUpper"
	CodePasswordRequiresNonAlphanumeric = "PasswordRequiresNonAlphanumeric"
)

const (
	minimumPasswordLength = 6
	allowedUserNameRunes  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-._@+"
)

// ValidationError collects rule violations keyed by code.
type ValidationError struct {
	errors map[string]string
}

func newValidationError() *ValidationError {
	return &ValidationError{errors: make(map[string]string)}
}

// Add records a violation; the first description for a code wins.
func (validation *ValidationError) Add(code string, description string) {
	if _, exists := validation.errors[code]; exists {
		return
	}
	validation.errors[code] = description
}

// HasErrors reports whether any violation was recorded.
func (validation *ValidationError) HasErrors() bool {
	return len(validation.errors) > 0
}

// FieldErrors returns a copy of the code to description map.
func (validation *ValidationError) FieldErrors() map[string]string {
	clone := make(map[string]string, len(validation.errors))
	for code, description := range validation.errors {
		clone[code] = description
	}
	return clone
}

func (validation *ValidationError) Error() string {
	codes := make([]string, 0, len(validation.errors))
	for code := range validation.errors {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return fmt.Sprintf("identity.validation: %s", strings.Join(codes, ","))
}

func validateEmail(validation *ValidationError, email string) {
	address, err := mail.ParseAddress(email)
	if email == "" || err != nil || address.Address != email {
		validation.Add(CodeInvalidEmail, fmt.Sprintf("Email '%s' is invalid.", email))
	}
}

func validateUserName(validation *ValidationError, userName string) {
	if userName == "" {
		validation.Add(CodeInvalidUserName, "Username is required.")
		return
	}
	for _, character := range userName {
		if !strings.ContainsRune(allowedUserNameRunes, character) {
			validation.Add(CodeInvalidUserName, fmt.Sprintf("Username '%s' is invalid, can only contain letters or digits.", userName))
			return
		}
	}
}

func validatePassword(validation *ValidationError, password string) {
	if len(password) < minimumPasswordLength {
		validation.Add(CodePasswordTooShort, fmt.Sprintf("Passwords must be at least %d characters.", minimumPasswordLength))
	}
	var hasDigit, hasLower, hasUpper, hasNonAlphanumeric bool
	for _, character := range password {
		switch {
		case unicode.IsDigit(character):
			hasDigit = true
		case unicode.IsLower(character):
			hasLower = true
		case unicode.IsUpper(character):
			hasUpper = true
		case !unicode.IsLetter(character):
			hasNonAlphanumeric = true
		}
	}
	if !hasDigit {
		validation.Add(CodePasswordRequiresDigit, "Passwords must have at least one digit ('0'-'9').")
	}
	if !hasLower {
		validation.Add(CodePasswordRequiresLower, "Passwords must have at least one lowercase ('a'-'z').")
	}
	if !hasUpper {
		validation.Add(CodePasswordRequiresUpper, "Passwords must have at least one uppercase ('A'-'Z').")
	}
	if !hasNonAlphanumeric {
		validation.Add(CodePasswordRequiresNonAlphanumeric, "Passwords must have at least one non alphanumeric character.")
	}
}
