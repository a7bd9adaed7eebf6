package service

import (
	"regexp"

	pkgerrors "algoforge/pkg/errors"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 32
	minPasswordLength = 8
	maxPasswordLength = 128
	maxEmailLength    = 254
)

// Pragmatic email shape check; real validation happens on delivery.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// validateUsername accepts 3-32 characters: letters, digits, dot, underscore
// and hyphen, starting with a letter.
func validateUsername(username string) error {
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return pkgerrors.New(pkgerrors.InvalidUsername)
	}
	if !isLetter(username[0]) {
		return pkgerrors.New(pkgerrors.InvalidUsername)
	}
	for i := 1; i < len(username); i++ {
		b := username[i]
		if isLetter(b) || isDigit(b) || b == '.' || b == '_' || b == '-' {
			continue
		}
		return pkgerrors.New(pkgerrors.InvalidUsername)
	}
	return nil
}

func validateEmail(email string) error {
	if len(email) > maxEmailLength || !emailPattern.MatchString(email) {
		return pkgerrors.New(pkgerrors.InvalidEmail)
	}
	return nil
}

// validatePassword requires 8-128 printable ASCII characters with at least
// one letter and one digit.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return pkgerrors.New(pkgerrors.PasswordTooWeak)
	}
	if len(password) > maxPasswordLength {
		return pkgerrors.New(pkgerrors.InvalidPassword)
	}
	hasLetter, hasDigit := false, false
	for i := 0; i < len(password); i++ {
		b := password[i]
		if b < 0x21 || b > 0x7e {
			return pkgerrors.New(pkgerrors.InvalidPassword)
		}
		if isLetter(b) {
			hasLetter = true
		}
		if isDigit(b) {
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return pkgerrors.New(pkgerrors.PasswordTooWeak)
	}
	return nil
}

// validateLoginPassword only bounds the length: stored hashes decide whether
// an old password with a since-tightened policy still works.
func validateLoginPassword(password string) error {
	if len(password) < minPasswordLength {
		return pkgerrors.New(pkgerrors.PasswordTooWeak)
	}
	if len(password) > maxPasswordLength {
		return pkgerrors.New(pkgerrors.InvalidPassword)
	}
	return nil
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
