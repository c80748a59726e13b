package auth

import (
	"encoding/hex"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone reduces input to digits in international form. Numbers that
// already start with the country prefix are kept, a leading trunk zero is
// replaced by the prefix, and anything else gets the prefix prepended.
func NormalizePhone(input, countryPrefix string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, input)

	if digits == "" {
		return "", ErrInvalidPhone
	}

	var normalized string
	switch {
	case strings.HasPrefix(digits, countryPrefix):
		normalized = digits
	case strings.HasPrefix(digits, "0"):
		normalized = countryPrefix + digits[1:]
	default:
		normalized = countryPrefix + digits
	}

	// E.164 allows at most 15 digits.
	if len(normalized) <= len(countryPrefix)+4 || len(normalized) > 15 {
		return "", ErrInvalidPhone
	}
	return normalized, nil
}

// RedactPhone returns a stable, non-reversible token for a phone number,
// safe to log and to use as a map key.
func RedactPhone(phone string) string {
	sum := blake2b.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:8])
}
