package domain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"math/bits"
	"strconv"

	"github.com/shopspring/decimal"
)

// Int128 is a signed 128-bit integer stored in two's complement.
// The zero value is 0. All arithmetic is checked.
type Int128 struct {
	hi int64
	lo uint64
}

var (
	// MaxInt128 is 2^127 - 1.
	MaxInt128 = Int128{hi: 1<<63 - 1, lo: 1<<64 - 1}
	// MinInt128 is -2^127.
	MinInt128 = Int128{hi: -1 << 63, lo: 0}

	two128    = new(big.Int).Lsh(big.NewInt(1), 128)
	maxBig128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minBig128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// NewInt128 converts an int64.
func NewInt128(v int64) Int128 {
	return Int128{hi: v >> 63, lo: uint64(v)}
}

// Sign returns -1, 0 or +1.
func (a Int128) Sign() int {
	switch {
	case a.hi < 0:
		return -1
	case a.hi == 0 && a.lo == 0:
		return 0
	default:
		return 1
	}
}

// IsZero reports whether a == 0.
func (a Int128) IsZero() bool { return a.hi == 0 && a.lo == 0 }

// Cmp returns -1, 0 or +1 comparing a to b.
func (a Int128) Cmp(b Int128) int {
	if a.hi != b.hi {
		if a.hi < b.hi {
			return -1
		}
		return 1
	}
	if a.lo != b.lo {
		if a.lo < b.lo {
			return -1
		}
		return 1
	}
	return 0
}

// Add returns a+b. ok is false on overflow.
func (a Int128) Add(b Int128) (sum Int128, ok bool) {
	lo, carry := bits.Add64(a.lo, b.lo, 0)
	hi, _ := bits.Add64(uint64(a.hi), uint64(b.hi), carry)
	sum = Int128{hi: int64(hi), lo: lo}
	if (a.hi < 0) == (b.hi < 0) && (sum.hi < 0) != (a.hi < 0) {
		return Int128{}, false
	}
	return sum, true
}

// Sub returns a-b. ok is false on overflow.
func (a Int128) Sub(b Int128) (diff Int128, ok bool) {
	lo, borrow := bits.Sub64(a.lo, b.lo, 0)
	hi, _ := bits.Sub64(uint64(a.hi), uint64(b.hi), borrow)
	diff = Int128{hi: int64(hi), lo: lo}
	if (a.hi < 0) != (b.hi < 0) && (diff.hi < 0) != (a.hi < 0) {
		return Int128{}, false
	}
	return diff, true
}

// Quo returns a/b truncated toward zero. ok is false when b is zero or the
// quotient does not fit (MinInt128 / -1).
func (a Int128) Quo(b Int128) (q Int128, ok bool) {
	if b.IsZero() {
		return Int128{}, false
	}
	return Int128FromBig(new(big.Int).Quo(a.Big(), b.Big()))
}

// Rem returns a%b with the sign of a. ok is false when b is zero.
func (a Int128) Rem(b Int128) (r Int128, ok bool) {
	if b.IsZero() {
		return Int128{}, false
	}
	return Int128FromBig(new(big.Int).Rem(a.Big(), b.Big()))
}

// Big returns a as a new big.Int.
func (a Int128) Big() *big.Int {
	v := new(big.Int).SetUint64(uint64(a.hi))
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(a.lo))
	if a.hi < 0 {
		v.Sub(v, two128)
	}
	return v
}

// Int128FromBig converts v. ok is false if v is out of range.
func Int128FromBig(v *big.Int) (Int128, bool) {
	if v.Cmp(maxBig128) > 0 || v.Cmp(minBig128) < 0 {
		return Int128{}, false
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}
	var buf [16]byte
	u.FillBytes(buf[:])
	return Int128FromBytes16(buf), true
}

// ParseInt128 parses a base-10 integer string.
func ParseInt128(s string) (Int128, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Int128{}, fmt.Errorf("parse int128 %q: invalid integer", s)
	}
	a, ok := Int128FromBig(v)
	if !ok {
		return Int128{}, fmt.Errorf("parse int128 %q: %w", s, ErrArithmeticOverflow)
	}
	return a, nil
}

// MustInt128 parses s and panics on failure. Intended for constants in tests.
func MustInt128(s string) Int128 {
	a, err := ParseInt128(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the base-10 representation.
func (a Int128) String() string {
	if a.hi == 0 {
		return strconv.FormatUint(a.lo, 10)
	}
	if a.hi == -1 && a.lo >= 1<<63 {
		return strconv.FormatInt(int64(a.lo), 10)
	}
	return a.Big().String()
}

// Bytes16 returns the big-endian two's complement encoding.
func (a Int128) Bytes16() [16]byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(a.hi))
	binary.BigEndian.PutUint64(buf[8:], a.lo)
	return buf
}

// Int128FromBytes16 decodes the encoding produced by Bytes16.
func Int128FromBytes16(buf [16]byte) Int128 {
	return Int128{
		hi: int64(binary.BigEndian.Uint64(buf[:8])),
		lo: binary.BigEndian.Uint64(buf[8:]),
	}
}

// FormatUnits renders a as a decimal amount with the given number of
// fractional digits, e.g. 12345 with 2 decimals is "123.45".
func (a Int128) FormatUnits(decimals uint32) string {
	return decimal.NewFromBigInt(a.Big(), -int32(decimals)).String()
}

// ParseUnits parses a decimal amount such as "1.5" into base units.
func ParseUnits(s string, decimals uint32) (Int128, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Int128{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return Int128{}, fmt.Errorf("parse amount %q: more than %d fractional digits", s, decimals)
	}
	a, ok := Int128FromBig(scaled.BigInt())
	if !ok {
		return Int128{}, fmt.Errorf("parse amount %q: %w", s, ErrArithmeticOverflow)
	}
	return a, nil
}

// MarshalJSON encodes a as a JSON string so that values beyond 2^53 survive
// JavaScript clients.
func (a Int128) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (a *Int128) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	v, err := ParseInt128(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
