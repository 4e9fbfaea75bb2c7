package domain

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ParseAmount parses a base-10 unsigned integer amount.
func ParseAmount(s string) (uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uint256.Int{}, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("amount %q: %w", s, err)
	}
	return *v, nil
}

// ParseOptionalAmount parses s, mapping the empty string to nil.
func ParseOptionalAmount(s string) (*uint256.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := ParseAmount(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FormatOptionalAmount renders a nil amount as the empty string.
func FormatOptionalAmount(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}
