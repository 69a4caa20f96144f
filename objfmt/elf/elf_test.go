package elf_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xyproto/asmcore/archtest"
	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/diag"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/object"
	"github.com/xyproto/asmcore/objfmt/elf"
	"github.com/xyproto/asmcore/optimize"
	"github.com/xyproto/asmcore/section"
	"github.com/xyproto/asmcore/symbol"
)

// TestTasteRecognizesOwnOutput confirms the writer produces a header its
// own Taste accepts.
func TestTasteRecognizesOwnOutput(t *testing.T) {
	arch := archtest.New()
	fmtr := elf.New()
	d := diag.New()
	obj := object.New("taste.s", arch, fmtr, d)
	obj.Opt = optimize.New()

	sec := section.New(".text")
	sec.Code = true
	obj.AddSection(sec)
	sec.Bytecodes.Last().AppendByte(0x90)
	sec.Bytecodes.Last().Tail = bytecode.Data{}

	require.NoError(t, obj.Finalize())
	require.NoError(t, obj.Optimize())

	var buf bytes.Buffer
	require.NoError(t, obj.Output(&buf))

	arch2, machine, ok := fmtr.Taste(buf.Bytes())
	require.True(t, ok)
	require.Equal(t, "elf", arch2)
	require.Equal(t, "x86-64", machine)

	require.Equal(t, uint16(2), binary.LittleEndian.Uint16(buf.Bytes()[16:18]), "e_type should be ET_REL")
}

// TestExternReferenceBecomesRelocation confirms a branch to an extern
// symbol is deferred to a .rela entry instead of erroring, unlike
// objfmt/bin which has no relocation record to defer to.
func TestExternReferenceBecomesRelocation(t *testing.T) {
	arch := archtest.New()
	fmtr := elf.New()
	d := diag.New()
	obj := object.New("reloc.s", arch, fmtr, d)
	obj.Opt = optimize.New()

	sec := section.New(".text")
	sec.Code = true
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
	require.NoError(t, obj.Output(&buf))
	require.NotZero(t, buf.Len())
}
