package utils

import (
	"strings"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/pkg/errors"
)

// HexStringToAddress converts a hex string (with or without the "0x" prefix) to a common.Address. Returns the parsed
// address, or an error if the string is not exactly 20 hex-encoded bytes.
func HexStringToAddress(s string) (*common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}

	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid address %q", s)
	}
	if len(b) != common.AddressLength {
		return nil, errors.Errorf("invalid address %q: expected %d bytes, got %d", s, common.AddressLength, len(b))
	}

	address := common.BytesToAddress(b)
	return &address, nil
}
