package lookup

import (
	"fmt"
	"strings"
)

// DefaultKeyLength is the digit count of an upstream identifier.
const DefaultKeyLength = 11

// NormalizeKey strips every non-digit character from raw and requires the
// remainder to be exactly length digits.
func NormalizeKey(raw string, length int) (string, error) {
	if length <= 0 {
		length = DefaultKeyLength
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	key := b.String()
	if key == "" {
		return "", fmt.Errorf("%w: no digits in %q", ErrInvalidKey, raw)
	}
	if len(key) != length {
		return "", fmt.Errorf("%w: expected %d digits, got %d", ErrInvalidKey, length, len(key))
	}
	return key, nil
}
