package checkout

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultCountryCode is the calling code phone numbers are normalized to.
const DefaultCountryCode = "254"

var phonePattern = regexp.MustCompile(`^[0-9]{9,12}$`)

// NormalizePhone strips formatting, rewrites a local trunk prefix ("07..")
// or bare nine-digit subscriber number to countryCode, and validates the
// result as 9 to 12 digits carrying countryCode. Foreign numbers are rejected.
func NormalizePhone(raw string, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%q: %w", raw, ErrInvalidPhoneNumber)
		}
	}

	digits := b.String()
	switch {
	case len(digits) == 9:
		digits = countryCode + digits
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		digits = countryCode + digits[1:]
	}

	if !strings.HasPrefix(digits, countryCode) || !phonePattern.MatchString(digits) {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidPhoneNumber)
	}
	return digits, nil
}
