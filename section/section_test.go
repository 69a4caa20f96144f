package section

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xyproto/asmcore/arena"
	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/ids"
)

func TestLengthOfEmptySection(t *testing.T) {
	s := New(".text")
	require.Equal(t, uint64(0), s.Length())
}

func TestLengthSumsBytecodeSizes(t *testing.T) {
	s := New(".text")
	bc := s.Bytecodes.Last()
	bc.AppendByte(0x90)
	bc.AppendByte(0x90)
	bc.Tail = bytecode.Data{}
	bc.Offset = 0

	second := s.Bytecodes.AppendFresh()
	second.AppendByte(0xC3)
	second.Tail = bytecode.Data{}
	second.Offset = 2

	require.Equal(t, uint64(3), s.Length())
}

func TestCalcDistWithinSection(t *testing.T) {
	s := New(".text")
	s.SetID(ids.SectionID{})

	first := s.Bytecodes.Last()
	first.AppendByte(0x90)
	first.Tail = bytecode.Data{}
	first.Offset = 0
	firstID := s.Bytecodes.LastID()

	second := s.Bytecodes.AppendFresh()
	second.AppendByte(0x90)
	second.Tail = bytecode.Data{}
	second.Offset = 1
	secondID := s.Bytecodes.LastID()

	a := ids.Location{Section: s.ID(), Bytecode: firstID, Offset: 0}
	b := ids.Location{Section: s.ID(), Bytecode: secondID, Offset: 0}

	dist, err := s.CalcDist(a, b)
	require.NoError(t, err)
	require.Equal(t, int64(1), dist)

	rev, err := s.CalcDist(b, a)
	require.NoError(t, err)
	require.Equal(t, int64(-1), rev)
}

func TestCalcDistAcrossSectionsIsIndeterminate(t *testing.T) {
	s := New(".text")
	s.SetID(ids.SectionID{})

	// Mint a second, distinct SectionID the way Object.AddSection would,
	// without needing a second section's bytecodes.
	ids2 := arena.New[struct{}](2)
	ids2.Add(struct{}{})
	otherID := ids2.Add(struct{}{})

	a := ids.Location{Section: s.ID()}
	b := ids.Location{Section: otherID}

	_, err := s.CalcDist(a, b)
	require.ErrorIs(t, err, ErrIndeterminate)
}

func TestCalcDistUnknownBytecodeIsIndeterminate(t *testing.T) {
	s := New(".text")
	s.SetID(ids.SectionID{})

	// A BytecodeID minted from a container with more entries than s's is
	// out of range against s's own bytecode arena.
	other := bytecode.NewContainer()
	other.AppendFresh()
	other.AppendFresh()
	outOfRange := other.LastID()

	a := ids.Location{Section: s.ID(), Bytecode: s.Bytecodes.LastID()}
	b := ids.Location{Section: s.ID(), Bytecode: outOfRange}

	_, err := s.CalcDist(a, b)
	require.ErrorIs(t, err, ErrIndeterminate)
}

func TestAddRelocAppends(t *testing.T) {
	s := New(".text")
	s.AddReloc(Reloc{Offset: 4, Type: "abs32"})
	require.Len(t, s.Relocs, 1)
	require.Equal(t, uint64(4), s.Relocs[0].Offset)
}
