// Package fpnum implements FloatNum, the IEEE-754 half of the
// IntNum/FloatNum leaf component. It is a thin wrapper over float64;
// unlike a yasm-style arbitrary-precision float emulation that also
// targets x87 80-bit extended precision, this core only needs
// binary32/binary64 storage and byte emission, which math.Float64bits
// already gives us.
package fpnum

import (
	"encoding/binary"
	"math"
)

// FloatNum is an IEEE-754 double-precision float carried through the
// object model until an architecture-specific encoder converts it to
// bytes.
type FloatNum struct {
	v float64
}

// FromFloat64 wraps a float64.
func FromFloat64(v float64) *FloatNum { return &FloatNum{v: v} }

// Float64 returns the underlying value.
func (f *FloatNum) Float64() float64 { return f.v }

// ToBytes32 writes the IEEE-754 binary32 representation of f in the given
// byte order into dest (must be >= 4 bytes).
func (f *FloatNum) ToBytes32(dest []byte, bigEndian bool) {
	bits := math.Float32bits(float32(f.v))
	if bigEndian {
		binary.BigEndian.PutUint32(dest, bits)
	} else {
		binary.LittleEndian.PutUint32(dest, bits)
	}
}

// ToBytes64 writes the IEEE-754 binary64 representation of f in the given
// byte order into dest (must be >= 8 bytes).
func (f *FloatNum) ToBytes64(dest []byte, bigEndian bool) {
	bits := math.Float64bits(f.v)
	if bigEndian {
		binary.BigEndian.PutUint64(dest, bits)
	} else {
		binary.LittleEndian.PutUint64(dest, bits)
	}
}

// FromBytes32 reads an IEEE-754 binary32 value.
func FromBytes32(src []byte, bigEndian bool) *FloatNum {
	var bits uint32
	if bigEndian {
		bits = binary.BigEndian.Uint32(src)
	} else {
		bits = binary.LittleEndian.Uint32(src)
	}
	return FromFloat64(float64(math.Float32frombits(bits)))
}

// FromBytes64 reads an IEEE-754 binary64 value.
func FromBytes64(src []byte, bigEndian bool) *FloatNum {
	var bits uint64
	if bigEndian {
		bits = binary.BigEndian.Uint64(src)
	} else {
		bits = binary.LittleEndian.Uint64(src)
	}
	return FromFloat64(math.Float64frombits(bits))
}
