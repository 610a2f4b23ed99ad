// Package validate holds the input predicates used by the conversational
// wizards. All functions are pure.
package validate

import (
	"regexp"
	"strconv"
	"strings"

	"bookshopbot/pkg/domain"
)

// PhoneDigits is the fixed length of an accepted phone number.
const PhoneDigits = 10

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// Email reports whether s looks like local@domain.tld.
func Email(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// Phone reports whether s is exactly PhoneDigits ASCII digits.
func Phone(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) == PhoneDigits && digitsOnly(s)
}

// PageNumber parses a 1-based page number.
func PageNumber(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// TelegramID parses a chat platform id made only of digits.
func TelegramID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !digitsOnly(s) {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// UserID parses a positive internal user id.
func UserID(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Role parses an assignable role, case-insensitively.
func Role(s string) (domain.UserRole, bool) {
	switch domain.UserRole(strings.ToLower(strings.TrimSpace(s))) {
	case domain.RoleUser:
		return domain.RoleUser, true
	case domain.RoleAdmin:
		return domain.RoleAdmin, true
	}
	return "", false
}

// NonEmpty reports whether s has non-space content.
func NonEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
