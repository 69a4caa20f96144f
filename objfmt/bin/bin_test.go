package bin_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xyproto/asmcore/archtest"
	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/diag"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/object"
	"github.com/xyproto/asmcore/objfmt/bin"
	"github.com/xyproto/asmcore/optimize"
	"github.com/xyproto/asmcore/section"
	"github.com/xyproto/asmcore/symbol"
)

// TestOrgPadsToTarget confirms an Org bytecode pads with zero bytes up to
// an absolute section offset.
func TestOrgPadsToTarget(t *testing.T) {
	arch := archtest.New()
	fmtr := bin.New()
	d := diag.New()
	obj := object.New("org_test.s", arch, fmtr, d)
	obj.Opt = optimize.New()

	sec := section.New(".text")
	sec.Code = true
	obj.AddSection(sec)

	head := sec.Bytecodes.Last()
	head.AppendByte(0xAA)
	head.AppendByte(0xBB)
	head.Tail = bytecode.Data{}

	org := sec.Bytecodes.AppendFresh()
	org.Tail = &bytecode.Org{Target: 0x10}

	tail := sec.Bytecodes.AppendFresh()
	tail.AppendByte(0xFF)
	tail.Tail = bytecode.Data{}

	require.NoError(t, obj.Finalize())
	require.NoError(t, obj.Optimize())

	var buf bytes.Buffer
	require.NoError(t, obj.Output(&buf))

	got := buf.Bytes()
	require.Len(t, got, 0x10+1)
	require.Equal(t, byte(0xAA), got[0])
	require.Equal(t, byte(0xBB), got[1])
	for i := 2; i < 0x10; i++ {
		require.Equal(t, byte(0), got[i], "byte %d should be org padding", i)
	}
	require.Equal(t, byte(0xFF), got[0x10])
}

// TestOrgOverlapRejected confirms an Org target that lies behind the
// cursor fails instead of silently truncating.
func TestOrgOverlapRejected(t *testing.T) {
	arch := archtest.New()
	fmtr := bin.New()
	d := diag.New()
	obj := object.New("org_overlap.s", arch, fmtr, d)
	obj.Opt = optimize.New()

	sec := section.New(".text")
	obj.AddSection(sec)

	head := sec.Bytecodes.Last()
	head.AppendByte(0xAA)
	head.AppendByte(0xBB)
	head.AppendByte(0xCC)
	head.Tail = bytecode.Data{}

	org := sec.Bytecodes.AppendFresh()
	org.Tail = &bytecode.Org{Target: 0x01}

	require.NoError(t, obj.Finalize())
	require.Error(t, obj.Optimize())
}

// TestExternJumpRelocationRejected confirms a flat binary refuses to emit
// a jump to an extern symbol, a value it can't resolve locally, rather
// than writing garbage.
func TestExternJumpRelocationRejected(t *testing.T) {
	arch := archtest.New()
	fmtr := bin.New()
	d := diag.New()
	obj := object.New("reloc_test.s", arch, fmtr, d)
	obj.Opt = optimize.New()

	sec := section.New(".text")
	obj.AddSection(sec)

	extSym, extID, _ := obj.General.Insert("extern_target")
	require.NoError(t, extSym.DeclareVisibility(symbol.Extern))

	jumpBC := sec.Bytecodes.AppendFresh()
	jumpLoc := ids.Location{Section: sec.ID(), Bytecode: sec.Bytecodes.LastID()}
	enc := &archtest.CondJump{Cond: "jmp", Target: extID, Self: jumpLoc}
	jumpBC.Tail = &bytecode.Insn{Encoder: enc}

	require.NoError(t, obj.Finalize())
	require.NoError(t, obj.Optimize())

	var buf bytes.Buffer
	require.Error(t, obj.Output(&buf))
}
