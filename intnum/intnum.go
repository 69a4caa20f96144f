// Package intnum implements IntNum, an arbitrary-precision signed
// integer. Small values are kept inline as an int64 fast path; once an
// operation would overflow that range the value is promoted to a
// math/big.Int, a "small vs. heap" split without hand-rolling bignum
// arithmetic the standard library already provides.
package intnum

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrDivByZero is returned by Div/Mod (and their signed variants) when the
// divisor is zero.
var ErrDivByZero = errors.New("intnum: division by zero")

// IntNum is an arbitrary-width signed integer.
type IntNum struct {
	small  int64
	big    *big.Int // non-nil only when the value doesn't fit in small
}

// Zero is the additive identity.
func Zero() *IntNum { return &IntNum{} }

// FromInt64 builds an IntNum from a machine int64.
func FromInt64(v int64) *IntNum { return &IntNum{small: v} }

// FromBig builds an IntNum from a big.Int, demoting to the inline fast path
// when it fits.
func FromBig(v *big.Int) *IntNum {
	n := &IntNum{}
	n.setBig(v)
	return n
}

func (n *IntNum) setBig(v *big.Int) {
	if v.IsInt64() {
		n.small = v.Int64()
		n.big = nil
		return
	}
	n.big = new(big.Int).Set(v)
}

// Big returns the value as a big.Int (always valid, even on the fast path).
func (n *IntNum) Big() *big.Int {
	if n.big != nil {
		return new(big.Int).Set(n.big)
	}
	return big.NewInt(n.small)
}

// IsSmall reports whether the value currently fits the inline fast path.
func (n *IntNum) IsSmall() bool { return n.big == nil }

// Int64 returns the value truncated to int64, and whether it fit exactly.
func (n *IntNum) Int64() (int64, bool) {
	if n.big == nil {
		return n.small, true
	}
	if n.big.IsInt64() {
		return n.big.Int64(), true
	}
	return 0, false
}

// Sign returns -1, 0, or 1.
func (n *IntNum) Sign() int {
	if n.big != nil {
		return n.big.Sign()
	}
	switch {
	case n.small < 0:
		return -1
	case n.small > 0:
		return 1
	default:
		return 0
	}
}

// Clone returns an independent copy.
func (n *IntNum) Clone() *IntNum {
	c := &IntNum{small: n.small}
	if n.big != nil {
		c.big = new(big.Int).Set(n.big)
	}
	return c
}

func add(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) }
func sub(a, b *big.Int) *big.Int { return new(big.Int).Sub(a, b) }
func mul(a, b *big.Int) *big.Int { return new(big.Int).Mul(a, b) }

// Add returns a + b.
func Add(a, b *IntNum) *IntNum { return FromBig(add(a.Big(), b.Big())) }

// Sub returns a - b.
func Sub(a, b *IntNum) *IntNum { return FromBig(sub(a.Big(), b.Big())) }

// Mul returns a * b.
func Mul(a, b *IntNum) *IntNum { return FromBig(mul(a.Big(), b.Big())) }

// Div performs division truncated toward zero on the operands' signed
// values; negative operands are not reinterpreted as unsigned.
func Div(a, b *IntNum) (*IntNum, error) {
	bb := b.Big()
	if bb.Sign() == 0 {
		return nil, ErrDivByZero
	}
	q := new(big.Int)
	q.Quo(a.Big(), bb) // truncated toward zero, unsigned semantics on magnitude
	return FromBig(q), nil
}

// Mod is the remainder corresponding to Div.
func Mod(a, b *IntNum) (*IntNum, error) {
	bb := b.Big()
	if bb.Sign() == 0 {
		return nil, ErrDivByZero
	}
	r := new(big.Int)
	r.Rem(a.Big(), bb)
	return FromBig(r), nil
}

// SignDiv is floor division (signed semantics).
func SignDiv(a, b *IntNum) (*IntNum, error) {
	bb := b.Big()
	if bb.Sign() == 0 {
		return nil, ErrDivByZero
	}
	q, m := new(big.Int), new(big.Int)
	q.DivMod(a.Big(), bb, m)
	if bb.Sign() < 0 && m.Sign() != 0 {
		q.Sub(q, big.NewInt(1))
	}
	return FromBig(q), nil
}

// SignMod is the floor-division remainder corresponding to SignDiv.
func SignMod(a, b *IntNum) (*IntNum, error) {
	q, err := SignDiv(a, b)
	if err != nil {
		return nil, err
	}
	return Sub(a, Mul(q, b)), nil
}

// Neg returns -a.
func Neg(a *IntNum) *IntNum { return FromBig(new(big.Int).Neg(a.Big())) }

// Not returns the bitwise complement of a.
func Not(a *IntNum) *IntNum { return FromBig(new(big.Int).Not(a.Big())) }

// And, Or, Xor perform bitwise operations using two's-complement semantics,
// matching math/big's own And/Or/Xor which already model arbitrary-width
// two's complement for negative operands.
func And(a, b *IntNum) *IntNum { return FromBig(new(big.Int).And(a.Big(), b.Big())) }
func Or(a, b *IntNum) *IntNum  { return FromBig(new(big.Int).Or(a.Big(), b.Big())) }
func Xor(a, b *IntNum) *IntNum { return FromBig(new(big.Int).Xor(a.Big(), b.Big())) }

// Shl returns a << shift.
func Shl(a *IntNum, shift uint) *IntNum { return FromBig(new(big.Int).Lsh(a.Big(), shift)) }

// Shr returns a >> shift (arithmetic, matching math/big.Rsh which sign-
// extends for negative numbers).
func Shr(a *IntNum, shift uint) *IntNum { return FromBig(new(big.Int).Rsh(a.Big(), shift)) }

// Cmp returns -1, 0, or 1 as a<b, a==b, a>b.
func Cmp(a, b *IntNum) int {
	if a.big == nil && b.big == nil {
		switch {
		case a.small < b.small:
			return -1
		case a.small > b.small:
			return 1
		default:
			return 0
		}
	}
	return a.Big().Cmp(b.Big())
}

// Equal reports a == b.
func Equal(a, b *IntNum) bool { return Cmp(a, b) == 0 }

// OverflowKind distinguishes the two warning flavors: "overflow" for
// values that don't fit signed, "truncation" for unsigned.
type OverflowKind int

const (
	NoOverflow OverflowKind = iota
	SignedOverflow
	UnsignedTruncation
)

// ToBytes writes the low valueBits bits of n, after left-shifting by
// shift (negative shift is a right shift, rounding toward zero), into
// dest (which must be at least ceil(valueBits/8) bytes), in the given
// byte order. If the shifted value does not fit in valueBits bits with the
// requested sign, the truncated value is still written and the overflow
// kind is returned so the caller can warn.
func (n *IntNum) ToBytes(dest []byte, valueBits uint, shift int, signed bool, bigEndian bool) OverflowKind {
	v := n.Big()
	if shift > 0 {
		v = new(big.Int).Lsh(v, uint(shift))
	} else if shift < 0 {
		v = shiftRightTruncToZero(v, uint(-shift))
	}

	overflow := NoOverflow
	if signed {
		lo := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), valueBits-1))
		hi := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), valueBits-1), big.NewInt(1))
		if v.Cmp(lo) < 0 || v.Cmp(hi) > 0 {
			overflow = SignedOverflow
		}
	} else {
		hi := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), valueBits), big.NewInt(1))
		if v.Sign() < 0 || v.Cmp(hi) > 0 {
			overflow = UnsignedTruncation
		}
	}

	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), valueBits), big.NewInt(1))
	truncated := new(big.Int).And(v, mask)

	nbytes := (valueBits + 7) / 8
	buf := make([]byte, nbytes)
	truncated.FillBytes(buf) // big-endian, zero padded
	if bigEndian {
		copy(dest, buf)
	} else {
		for i := 0; i < len(buf); i++ {
			dest[i] = buf[len(buf)-1-i]
		}
	}
	return overflow
}

// shiftRightTruncToZero implements "round toward zero" right shift: for
// negative values, an arithmetic shift rounds toward -Inf, which is not
// what asks for; we correct the one-off truncation difference
// explicitly.
func shiftRightTruncToZero(v *big.Int, shift uint) *big.Int {
	if v.Sign() >= 0 {
		return new(big.Int).Rsh(v, shift)
	}
	neg := new(big.Int).Neg(v)
	neg.Rsh(neg, shift)
	return neg.Neg(neg)
}

// FromBytesLE reconstructs an IntNum from a little-endian byte window,
// sign- or zero-extending according to signed.
func FromBytesLE(src []byte, signed bool) *IntNum {
	return fromBytes(src, signed, false)
}

// FromBytesBE reconstructs an IntNum from a big-endian byte window.
func FromBytesBE(src []byte, signed bool) *IntNum {
	return fromBytes(src, signed, true)
}

func fromBytes(src []byte, signed, bigEndian bool) *IntNum {
	be := make([]byte, len(src))
	if bigEndian {
		copy(be, src)
	} else {
		for i, b := range src {
			be[len(src)-1-i] = b
		}
	}
	v := new(big.Int).SetBytes(be)
	if signed && len(be) > 0 && be[0]&0x80 != 0 {
		bits := uint(len(be)) * 8
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), bits))
	}
	return FromBig(v)
}

// AppendULEB128 appends the unsigned LEB128 encoding of n to dst.
func AppendULEB128(dst []byte, n *IntNum) []byte {
	v := n.Big()
	if v.Sign() < 0 {
		panic("intnum: AppendULEB128 of negative value")
	}
	if v.Sign() == 0 {
		return append(dst, 0)
	}
	for v.Sign() != 0 {
		b := byte(new(big.Int).And(v, big.NewInt(0x7f)).Int64())
		v.Rsh(v, 7)
		if v.Sign() != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// AppendSLEB128 appends the signed LEB128 encoding of n to dst.
func AppendSLEB128(dst []byte, n *IntNum) []byte {
	v := n.Big()
	more := true
	for more {
		b := byte(v.Int64() & 0x7f)
		v.Rsh(v, 7)
		signBitSet := b&0x40 != 0
		if (v.Sign() == 0 && !signBitSet) || (v.Cmp(big.NewInt(-1)) == 0 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// ReadULEB128 reads an unsigned LEB128 value from src, returning the value
// and the number of bytes consumed.
func ReadULEB128(src []byte) (*IntNum, int, error) {
	var result big.Int
	shift := uint(0)
	for i, b := range src {
		chunk := big.NewInt(int64(b & 0x7f))
		chunk.Lsh(chunk, shift)
		result.Or(&result, chunk)
		if b&0x80 == 0 {
			return FromBig(&result), i + 1, nil
		}
		shift += 7
	}
	return nil, 0, fmt.Errorf("intnum: truncated ULEB128")
}

// ReadSLEB128 reads a signed LEB128 value from src.
func ReadSLEB128(src []byte) (*IntNum, int, error) {
	var result big.Int
	shift := uint(0)
	var b byte
	i := 0
	for ; i < len(src); i++ {
		b = src[i]
		chunk := big.NewInt(int64(b & 0x7f))
		chunk.Lsh(chunk, shift)
		result.Or(&result, chunk)
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if i == len(src) && b&0x80 != 0 {
		return nil, 0, fmt.Errorf("intnum: truncated SLEB128")
	}
	if shift < 64 && b&0x40 != 0 {
		result.Sub(&result, new(big.Int).Lsh(big.NewInt(1), shift))
	}
	return FromBig(&result), i + 1, nil
}

func (n *IntNum) String() string { return n.Big().String() }
