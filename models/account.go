package models

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidAccount = errors.New("invalid account address")

// ParseAccount validates a hex account address and returns its EIP-55 checksummed form.
// All stores key accounts by this form so lookups never depend on caller casing.
func ParseAccount(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", ErrInvalidAccount
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return "", ErrInvalidAccount
	}
	return addr.Hex(), nil
}

// MustAccount is ParseAccount for constants and tests.
func MustAccount(s string) string {
	a, err := ParseAccount(s)
	if err != nil {
		panic(err)
	}
	return a
}
