package domain

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLen is the decoded length of an account or contract address.
const AddressLen = 32

// Address identifies an account (ed25519 public key) or a deployed contract
// (off-curve derived key). Both are base58 encoded.
type Address string

// ParseAddress validates s and returns it as an Address.
func ParseAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(raw) != AddressLen {
		return "", fmt.Errorf("decode address %q: expected %d bytes, got %d", s, AddressLen, len(raw))
	}
	return Address(s), nil
}

// AddressFromBytes encodes a raw 32-byte key.
func AddressFromBytes(raw []byte) Address {
	return Address(base58.Encode(raw))
}

// Bytes decodes the address. It returns nil for malformed addresses.
func (a Address) Bytes() []byte {
	raw, err := base58.Decode(string(a))
	if err != nil || len(raw) != AddressLen {
		return nil
	}
	return raw
}

// String returns the base58 form.
func (a Address) String() string {
	return string(a)
}

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool {
	return a == ""
}
