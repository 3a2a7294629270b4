package runtime

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/identity"
)

// Transaction is a signed request to invoke one contract entrypoint.
type Transaction struct {
	Contract   domain.Address  `json:"contract"`
	Method     string          `json:"method"`
	Args       json.RawMessage `json:"args"`
	Nonce      uint64          `json:"nonce"`
	Signatures []Signature     `json:"signatures"`
}

// Signature authorizes a transaction on behalf of one account.
type Signature struct {
	Account   domain.Address `json:"account"`
	Signature string         `json:"signature"` // base58
}

// NewTransaction encodes args and builds an unsigned transaction.
func NewTransaction(contract domain.Address, method string, args any, nonce uint64) (*Transaction, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Contract: contract,
		Method:   method,
		Args:     raw,
		Nonce:    nonce,
	}, nil
}

// Hash returns the digest every signer signs.
// The digest covers contract, method, args and nonce but not the signatures.
func (tx *Transaction) Hash() [32]byte {
	h := sha256.New()
	h.Write([]byte(tx.Contract))
	h.Write([]byte{0})
	h.Write([]byte(tx.Method))
	h.Write([]byte{0})
	h.Write(tx.Args)
	h.Write([]byte{0})
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], tx.Nonce)
	h.Write(nonce[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashHex returns Hash as a hex string.
func (tx *Transaction) HashHex() string {
	sum := tx.Hash()
	return hex.EncodeToString(sum[:])
}

// Sign appends a signature by kp. Signing twice with the same key is a no-op.
func (tx *Transaction) Sign(kp *identity.KeyPair) {
	addr := kp.Address()
	for _, s := range tx.Signatures {
		if s.Account == addr {
			return
		}
	}
	sum := tx.Hash()
	tx.Signatures = append(tx.Signatures, Signature{
		Account:   addr,
		Signature: base58.Encode(kp.Sign(sum[:])),
	})
}

// Verify checks every signature and returns the set of signing accounts.
func (tx *Transaction) Verify() (map[domain.Address]bool, error) {
	if len(tx.Signatures) == 0 {
		return nil, ErrMissingSigner
	}
	sum := tx.Hash()
	signers := make(map[domain.Address]bool, len(tx.Signatures))
	for _, s := range tx.Signatures {
		sig, err := base58.Decode(s.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: account %s: %v", ErrInvalidSignature, s.Account, err)
		}
		if !identity.Verify(s.Account, sum[:], sig) {
			return nil, fmt.Errorf("%w: account %s", ErrInvalidSignature, s.Account)
		}
		signers[s.Account] = true
	}
	return signers, nil
}

func encodeArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		// Signed bytes must match what json.Marshal puts on the wire.
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		return buf.Bytes(), nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return raw, nil
}
