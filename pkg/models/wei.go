package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// weiBits is the width of a Wei amount. Totals clamp at 2^weiBits-1.
const weiBits = 128

var (
	// ErrInvalidWei is returned when an amount cannot be decoded.
	ErrInvalidWei = errors.New("invalid wei amount")

	maxWei = new(uint256.Int).Rsh(new(uint256.Int).SetAllOne(), 256-weiBits)

	weiPerEther = new(big.Float).SetFloat64(1e18)
)

// Wei is an unsigned 128-bit amount of the chain's smallest unit.
// The zero value is 0. Addition saturates at MaxWei instead of wrapping.
type Wei struct {
	v uint256.Int
}

// MaxWei returns the largest representable amount (2^128-1).
func MaxWei() Wei {
	return Wei{v: *maxWei}
}

// NewWei returns a Wei holding v.
func NewWei(v uint64) Wei {
	var w Wei
	w.v.SetUint64(v)
	return w
}

// WeiFromBig converts b, failing if it is negative or wider than 128 bits.
func WeiFromBig(b *big.Int) (Wei, error) {
	if b == nil || b.Sign() < 0 {
		return Wei{}, fmt.Errorf("%w: negative or nil", ErrInvalidWei)
	}
	if b.BitLen() > weiBits {
		return Wei{}, fmt.Errorf("%w: %s exceeds 128 bits", ErrInvalidWei, b.String())
	}
	u, _ := uint256.FromBig(b)
	return Wei{v: *u}, nil
}

// ParseHexWei decodes a hex quantity such as "0xde0b6b3a7640000".
// The 0x prefix is optional. Empty, signed or oversized input is rejected.
func ParseHexWei(s string) (Wei, error) {
	digits := trimHexPrefix(s)
	if digits == "" || strings.ContainsAny(digits, "+-") {
		return Wei{}, fmt.Errorf("%w: %q", ErrInvalidWei, s)
	}
	b, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return Wei{}, fmt.Errorf("%w: %q", ErrInvalidWei, s)
	}
	return WeiFromBig(b)
}

// ParseDecimalWei decodes a base-10 amount such as "1000000000000000000".
func ParseDecimalWei(s string) (Wei, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "+-") {
		return Wei{}, fmt.Errorf("%w: %q", ErrInvalidWei, s)
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Wei{}, fmt.Errorf("%w: %q", ErrInvalidWei, s)
	}
	return WeiFromBig(b)
}

// MustParseDecimalWei is like ParseDecimalWei but panics on error.
// Intended for constants and tests.
func MustParseDecimalWei(s string) Wei {
	w, err := ParseDecimalWei(s)
	if err != nil {
		panic(err)
	}
	return w
}

// Ether returns n whole ether expressed in wei.
func Ether(n uint64) Wei {
	var w Wei
	w.v.Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
	return w
}

// Add returns w+o, clamped to MaxWei.
func (w Wei) Add(o Wei) Wei {
	var sum Wei
	// Both operands fit in 128 bits, so the 256-bit sum never wraps.
	sum.v.Add(&w.v, &o.v)
	if sum.v.Gt(maxWei) {
		return MaxWei()
	}
	return sum
}

// Div returns w/n, truncated. Division by zero yields zero.
func (w Wei) Div(n uint64) Wei {
	if n == 0 {
		return Wei{}
	}
	var q Wei
	q.v.Div(&w.v, uint256.NewInt(n))
	return q
}

// Cmp compares w and o and returns -1, 0 or +1.
func (w Wei) Cmp(o Wei) int {
	return w.v.Cmp(&o.v)
}

// IsZero reports whether w is 0.
func (w Wei) IsZero() bool {
	return w.v.IsZero()
}

// Big returns w as a new big.Int.
func (w Wei) Big() *big.Int {
	return w.v.ToBig()
}

// Hex returns the 0x-prefixed hex quantity.
func (w Wei) Hex() string {
	return w.v.Hex()
}

// String returns the decimal representation.
func (w Wei) String() string {
	return w.v.Dec()
}

// EtherFloat returns w / 10^18 as a float64, for display only.
func (w Wei) EtherFloat() float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(w.v.ToBig()), weiPerEther).Float64()
	return f
}

// MarshalJSON encodes w as a quoted decimal string; 128-bit values do not
// survive float64 JSON numbers.
func (w Wei) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON integer.
func (w *Wei) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	parsed, err := ParseDecimalWei(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

func trimHexPrefix(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
