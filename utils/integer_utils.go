package utils

import (
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// ParseUint256 parses an unsigned 256-bit integer given either in decimal or as a "0x"-prefixed hex string.
func ParseUint256(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty integer")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		// uint256 rejects leading zeros in hex, which are common in slot positions
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" {
			return new(uint256.Int), nil
		}
		value, err := uint256.FromHex("0x" + digits)
		return value, errors.Wrapf(err, "invalid hex integer %q", s)
	}

	value, err := uint256.FromDecimal(s)
	return value, errors.Wrapf(err, "invalid integer %q", s)
}
