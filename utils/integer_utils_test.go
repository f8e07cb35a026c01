package utils

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseUint256 verifies decimal and hex parsing, including zero-padded hex positions.
func TestParseUint256(t *testing.T) {
	cases := map[string]uint64{
		"0":      0,
		"42":     42,
		"0x0":    0,
		"0x00":   0,
		"0x2a":   42,
		"0X002A": 42,
	}
	for input, expected := range cases {
		value, err := ParseUint256(input)
		require.NoError(t, err, input)
		assert.EqualValues(t, uint256.NewInt(expected), value, input)
	}

	padded := "0x0000000000000000000000000000000000000000000000000000000000000005"
	value, err := ParseUint256(padded)
	require.NoError(t, err)
	assert.EqualValues(t, uint64(5), value.Uint64())

	for _, input := range []string{"", "-1", "abc", "0xg1"} {
		_, err := ParseUint256(input)
		assert.Error(t, err, input)
	}
}
