package utils

import (
	"errors"
	"fmt"
	"strings"

	"vin-service/internal/domain/vin"
)

const VINLength = 17

var ErrMalformedVIN = errors.New("malformed vin")

// IsVINChar reports whether r belongs to the VIN alphabet (I, O and Q excluded).
func IsVINChar(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'A' && r <= 'Z':
		return r != 'I' && r != 'O' && r != 'Q'
	}
	return false
}

// NormalizeVIN uppercases raw and drops every character outside the VIN alphabet.
func NormalizeVIN(raw string) string {
	upper := strings.ToUpper(raw)
	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		if IsVINChar(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func IsLikelyVIN(s string) bool {
	if len(s) != VINLength {
		return false
	}
	for _, r := range s {
		if !IsVINChar(r) {
			return false
		}
	}
	return true
}

// ParseVIN canonicalizes a user or wire supplied VIN. Surrounding spaces and
// dashes are tolerated; anything else outside the alphabet is an error.
func ParseVIN(raw string) (vin.VIN, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ToUpper(s)
	if !IsLikelyVIN(s) {
		return "", fmt.Errorf("%w: %q", ErrMalformedVIN, raw)
	}
	return vin.VIN(s), nil
}
