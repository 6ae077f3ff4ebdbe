package mfa

import (
	"errors"
	"strings"
)

const codeDigits = 6

// ErrMalformedCode is returned for codes that are not six digits.
var ErrMalformedCode = errors.New("mfa: code must be 6 digits")

// NormalizeCode strips spaces and dashes from a user-typed TOTP code and checks
// it is exactly six digits (e.g. "123 456" → "123456").
func NormalizeCode(code string) (string, error) {
	b := make([]byte, 0, codeDigits)
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c == ' ' || c == '-' || c == '\t':
			continue
		case c >= '0' && c <= '9':
			b = append(b, c)
		default:
			return "", ErrMalformedCode
		}
	}
	if len(b) != codeDigits {
		return "", ErrMalformedCode
	}
	return string(b), nil
}

// MaskCode returns the code with all but the last two digits hidden, for logs.
func MaskCode(code string) string {
	if len(code) <= 2 {
		return strings.Repeat("*", len(code))
	}
	return strings.Repeat("*", len(code)-2) + code[len(code)-2:]
}
