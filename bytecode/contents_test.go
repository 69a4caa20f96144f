package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/intnum"
	"github.com/xyproto/asmcore/value"
)

// recordingSink captures what each Contents.Output call writes, so tests
// can assert on emitted bytes without a full object/output.Writer.
type recordingSink struct {
	bytes   []byte
	gapSize int
}

func (s *recordingSink) OutputValue(v *value.Value, dest []byte, loc ids.Location) error {
	s.bytes = append(s.bytes, dest...)
	return nil
}
func (s *recordingSink) OutputGap(size int) error {
	s.gapSize += size
	s.bytes = append(s.bytes, make([]byte, size)...)
	return nil
}
func (s *recordingSink) OutputBytes(b []byte) error {
	s.bytes = append(s.bytes, b...)
	return nil
}

func noopAddSpan(*value.Value, *intnum.IntNum, *intnum.IntNum) SpanID { return 0 }

func TestDataContributesNoTailBytes(t *testing.T) {
	var d Data
	n, err := d.CalcLen(&Bytecode{}, noopAddSpan)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, SpecialNone, d.SpecialKind())
}

func TestGapCalcLenAndOutput(t *testing.T) {
	g := &Gap{Count: 4, ItemSize: 2}
	n, err := g.CalcLen(&Bytecode{}, noopAddSpan)
	require.NoError(t, err)
	require.Equal(t, 8, n)

	sink := &recordingSink{}
	require.NoError(t, g.Output(&Bytecode{}, sink))
	require.Equal(t, 8, sink.gapSize)
	require.Len(t, sink.bytes, 8)
}

func TestTimesGapResolvesImmediatelyWhenCountIsKnown(t *testing.T) {
	cv := NewGapCountValue(func() (*intnum.IntNum, bool) {
		return intnum.FromInt64(3), true
	}, nil)
	g := &TimesGap{CountValue: cv, ItemSize: 2}
	n, err := g.CalcLen(&Bytecode{}, noopAddSpan)
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestTimesGapRegistersSpanWhenCountUnresolved(t *testing.T) {
	resolved := false
	cv := NewGapCountValue(func() (*intnum.IntNum, bool) {
		return nil, resolved
	}, nil)
	g := &TimesGap{CountValue: cv, ItemSize: 1}

	var gotSpan SpanID = -99
	addSpan := func(v *value.Value, neg, pos *intnum.IntNum) SpanID {
		gotSpan = 7
		return gotSpan
	}
	n, err := g.CalcLen(&Bytecode{}, addSpan)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, SpanID(7), gotSpan)

	resolved = true
	cv.Eval = func() (*intnum.IntNum, bool) { return intnum.FromInt64(5), true }
	newLen, _, _, stillDependent, err := g.Expand(&Bytecode{}, gotSpan, nil, nil)
	require.NoError(t, err)
	require.False(t, stillDependent)
	require.Equal(t, 5, newLen)
}

func TestTimesGapRejectsNegativeResolvedCount(t *testing.T) {
	cv := NewGapCountValue(func() (*intnum.IntNum, bool) {
		return intnum.FromInt64(-1), true
	}, nil)
	g := &TimesGap{CountValue: cv, ItemSize: 1}
	_, _, _, _, err := g.Expand(&Bytecode{}, 0, nil, nil)
	require.Error(t, err)
}

func TestAlignPadsToBoundary(t *testing.T) {
	a := &Align{Boundary: 16}
	bc := &Bytecode{Offset: 10}
	n, err := a.CalcLen(bc, noopAddSpan)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, SpecialOffset, a.SpecialKind())
}

func TestAlignAlreadyOnBoundaryNeedsNoPadding(t *testing.T) {
	a := &Align{Boundary: 16}
	bc := &Bytecode{Offset: 32}
	n, err := a.CalcLen(bc, noopAddSpan)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAlignRespectsMaxSkip(t *testing.T) {
	a := &Align{Boundary: 16, MaxSkip: 2}
	bc := &Bytecode{Offset: 10} // needs 6 bytes of padding, over MaxSkip
	n, err := a.CalcLen(bc, noopAddSpan)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAlignExpandRecomputesOnOffsetSpan(t *testing.T) {
	a := &Align{Boundary: 8}
	bc := &Bytecode{TailLen: 99}
	newLen, _, _, dep, err := a.Expand(bc, OffsetSpan, nil, intnum.FromInt64(5))
	require.NoError(t, err)
	require.False(t, dep)
	require.Equal(t, 3, newLen)
}

func TestAlignOutputUsesFillBytes(t *testing.T) {
	a := &Align{Fill: []byte{0xCC}}
	bc := &Bytecode{TailLen: 3}
	sink := &recordingSink{}
	require.NoError(t, a.Output(bc, sink))
	require.Equal(t, []byte{0xCC, 0xCC, 0xCC}, sink.bytes)
}

func TestAlignOutputUsesCodeFillFn(t *testing.T) {
	a := &Align{CodeFillFn: func(n int) []byte {
		out := make([]byte, n)
		for i := range out {
			out[i] = 0x90
		}
		return out
	}}
	bc := &Bytecode{TailLen: 2}
	sink := &recordingSink{}
	require.NoError(t, a.Output(bc, sink))
	require.Equal(t, []byte{0x90, 0x90}, sink.bytes)
}

func TestOrgPadsForwardToTarget(t *testing.T) {
	o := &Org{Target: 20, Fill: 0xFF}
	bc := &Bytecode{Offset: 15}
	n, err := o.CalcLen(bc, noopAddSpan)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	bc.TailLen = n
	sink := &recordingSink{}
	require.NoError(t, o.Output(bc, sink))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, sink.bytes)
}

func TestOrgBehindCursorErrors(t *testing.T) {
	o := &Org{Target: 5}
	bc := &Bytecode{Offset: 10}
	_, err := o.CalcLen(bc, noopAddSpan)
	require.ErrorIs(t, err, ErrOrgOverlap)
}

func TestOrgExpandPropagatesOverlapError(t *testing.T) {
	o := &Org{Target: 5}
	bc := &Bytecode{}
	_, _, _, _, err := o.Expand(bc, OffsetSpan, nil, intnum.FromInt64(10))
	require.ErrorIs(t, err, ErrOrgOverlap)
}

func TestIncbinEmitsVerbatimBytes(t *testing.T) {
	i := &Incbin{Data: []byte{1, 2, 3}}
	n, err := i.CalcLen(&Bytecode{}, noopAddSpan)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	sink := &recordingSink{}
	require.NoError(t, i.Output(&Bytecode{}, sink))
	require.Equal(t, []byte{1, 2, 3}, sink.bytes)
}
