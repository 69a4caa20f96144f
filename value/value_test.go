package value

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xyproto/asmcore/expr"
	"github.com/xyproto/asmcore/fpnum"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/intnum"
)

// fakeLookup is a minimal SymbolLookup for tests: symbols are registered
// by id with an optional section and curpos flag.
type fakeLookup struct {
	sections map[ids.SymbolID]ids.SectionID
	curpos   map[ids.SymbolID]bool
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{sections: map[ids.SymbolID]ids.SectionID{}, curpos: map[ids.SymbolID]bool{}}
}

func (f *fakeLookup) SectionOf(id ids.SymbolID) (ids.SectionID, bool) {
	s, ok := f.sections[id]
	return s, ok
}

func (f *fakeLookup) IsCurpos(id ids.SymbolID) bool { return f.curpos[id] }

func TestFinalizeBareSymbolBecomesRel(t *testing.T) {
	lookup := newFakeLookup()
	target := ids.SymbolID{}
	e := expr.Ident(expr.SymbolTerm(target))
	v := NewAbs(32, e)
	require.NoError(t, v.Finalize(lookup, ids.Location{}))
	require.True(t, v.HasRel)
	require.Equal(t, target, v.Rel)
}

func TestFinalizeSHRPattern(t *testing.T) {
	lookup := newFakeLookup()
	target := ids.SymbolID{}
	e := expr.New(expr.SHR, expr.SymbolTerm(target), expr.IntTerm(intnum.FromInt64(4)))
	v := NewAbs(8, e)
	require.NoError(t, v.Finalize(lookup, ids.Location{}))
	require.True(t, v.HasRel)
	require.Equal(t, uint(4), v.RShift)
}

func TestFinalizeSHRBeyondMaxRShiftErrors(t *testing.T) {
	lookup := newFakeLookup()
	target := ids.SymbolID{}
	e := expr.New(expr.SHR, expr.SymbolTerm(target), expr.IntTerm(intnum.FromInt64(MaxRShift+1)))
	v := NewAbs(8, e)
	err := v.Finalize(lookup, ids.Location{})
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestFinalizeTooComplexExpression(t *testing.T) {
	lookup := newFakeLookup()
	e := expr.New(expr.MUL, expr.SymbolTerm(ids.SymbolID{}), expr.SymbolTerm(ids.SymbolID{}))
	v := NewAbs(32, e)
	err := v.Finalize(lookup, ids.Location{})
	require.ErrorIs(t, err, ErrTooComplex)
}

func TestNormalizeZeroDropsAbsWhenConstantZero(t *testing.T) {
	lookup := newFakeLookup()
	e := expr.Ident(expr.IntTerm(intnum.FromInt64(0)))
	v := NewAbs(32, e)
	require.NoError(t, v.Finalize(lookup, ids.Location{}))
	require.Nil(t, v.Abs)
	require.False(t, v.HasRel)
}

type fakeArch struct{}

func (fakeArch) IntToBytes(n *intnum.IntNum, dest []byte, valueBits uint, shift int, signed bool) intnum.OverflowKind {
	return n.ToBytes(dest, valueBits, shift, signed, false)
}

func (fakeArch) FloatToBytes(f *fpnum.FloatNum, dest []byte, valueBits uint) error {
	if valueBits == 32 {
		f.ToBytes32(dest, false)
	} else {
		f.ToBytes64(dest, false)
	}
	return nil
}

func TestOutputBasicConstantValue(t *testing.T) {
	v := NewAbs(32, expr.Ident(expr.IntTerm(intnum.FromInt64(1234))))
	dest := make([]byte, 4)
	wrote, err := v.OutputBasic(dest, 0, fakeArch{}, 0, false)
	require.NoError(t, err)
	require.True(t, wrote)
	got := intnum.FromBytesLE(dest, false)
	n, _ := got.Int64()
	require.Equal(t, int64(1234), n)
}

func TestOutputBasicExternalRequestsRelocation(t *testing.T) {
	v := NewRel(32, ids.SymbolID{})
	dest := make([]byte, 4)
	wrote, err := v.OutputBasic(dest, 0, fakeArch{}, 0, true)
	require.NoError(t, err)
	require.False(t, wrote, "an external relative symbol can't be resolved without a relocation")
}

func TestOutputBasicCurposRelResolvesLocally(t *testing.T) {
	v := NewRel(32, ids.SymbolID{})
	v.CurposRel = true
	dest := make([]byte, 4)
	// relOffset=100 (target's absolute offset), locOffset=90 (this
	// instruction's own end offset): displacement should be 10.
	wrote, err := v.OutputBasic(dest, 90, fakeArch{}, 100, false)
	require.NoError(t, err)
	require.True(t, wrote)
	got := intnum.FromBytesLE(dest, true)
	n, _ := got.Int64()
	require.Equal(t, int64(10), n)
}

func TestOutputBasicZeroValueWhenAbsNil(t *testing.T) {
	v := New(16)
	dest := make([]byte, 2)
	wrote, err := v.OutputBasic(dest, 0, fakeArch{}, 0, false)
	require.NoError(t, err)
	require.True(t, wrote)
	require.Equal(t, []byte{0, 0}, dest)
}
