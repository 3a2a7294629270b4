// Package identity handles account keys and contract address derivation.
//
// Accounts are ed25519 key pairs whose address is the base58 public key.
// Contract addresses are derived from the deployer and a salt and are forced
// off the ed25519 curve, so no private key can ever sign for a contract.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"ambar-ledger/internal/domain"
)

// contractMarker is appended to contract address seeds.
const contractMarker = "AmbarContractAddress"

// ErrNoOffCurveAddress is returned when no bump seed yields an off-curve address.
var ErrNoOffCurveAddress = errors.New("no off-curve contract address for seeds")

// KeyPair is an ed25519 signing key for one account.
type KeyPair struct {
	priv ed25519.PrivateKey
}

// Generate creates a random key pair.
func Generate() (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// FromSeed builds a key pair from a 32-byte seed.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &KeyPair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// ParseSecret decodes a base58 seed as produced by Secret.
func ParseSecret(s string) (*KeyPair, error) {
	seed, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	return FromSeed(seed)
}

// Secret returns the base58-encoded seed.
func (k *KeyPair) Secret() string {
	return base58.Encode(k.priv.Seed())
}

// Address returns the account address.
func (k *KeyPair) Address() domain.Address {
	return domain.AddressFromBytes(k.priv.Public().(ed25519.PublicKey))
}

// Sign signs msg.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// Verify reports whether sig is a valid signature of msg by addr.
// Contract addresses never verify.
func Verify(addr domain.Address, msg, sig []byte) bool {
	pub := addr.Bytes()
	if pub == nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	if !IsOnCurve(pub) {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// DeriveContractAddress derives the address of a contract deployed by
// deployer with the given salt.
// Algorithm:
//  1. Concatenate deployer key, salt and a bump byte
//  2. Append the contract marker
//  3. SHA256 hash
//  4. Take the first bump (255 down to 1) whose hash is off the ed25519 curve
func DeriveContractAddress(deployer domain.Address, salt []byte) (domain.Address, error) {
	deployerBytes := deployer.Bytes()
	if deployerBytes == nil {
		return "", fmt.Errorf("derive contract address: invalid deployer %q", deployer)
	}

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, len(deployerBytes)+len(salt)+1+len(contractMarker))
		data = append(data, deployerBytes...)
		data = append(data, salt...)
		data = append(data, bump)
		data = append(data, []byte(contractMarker)...)

		hash := sha256.Sum256(data)
		if !IsOnCurve(hash[:]) {
			return domain.AddressFromBytes(hash[:]), nil
		}
	}

	return "", ErrNoOffCurveAddress
}

// IsOnCurve reports whether point is a valid compressed ed25519 point.
func IsOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
