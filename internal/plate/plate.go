// Package plate canonicalizes vehicle plates typed by operators.
package plate

import (
	"errors"
	"strings"
)

const (
	// MinLength is the shortest normalized plate accepted for lookup or entry.
	MinLength = 6
	// MaxLength is where normalized plates are truncated.
	MaxLength = 8
)

// ErrInvalidPlate is returned when a plate normalizes to fewer than MinLength characters.
var ErrInvalidPlate = errors.New("invalid plate")

// Normalize uppercases raw, drops every character outside [A-Z0-9] and
// truncates the result to MaxLength. It never fails; the result may be
// too short to be valid.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(MaxLength)
	for _, r := range strings.ToUpper(raw) {
		if b.Len() == MaxLength {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether an already normalized plate is usable.
func Valid(p string) bool {
	return len(p) >= MinLength && len(p) <= MaxLength
}

// Parse normalizes raw and returns ErrInvalidPlate if the result is too short.
func Parse(raw string) (string, error) {
	p := Normalize(raw)
	if !Valid(p) {
		return "", ErrInvalidPlate
	}
	return p, nil
}

// Equal compares two raw plates by their normalized form.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
