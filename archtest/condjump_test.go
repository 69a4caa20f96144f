package archtest_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/xyproto/asmcore/archtest"
	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/diag"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/object"
	"github.com/xyproto/asmcore/optimize"
	"github.com/xyproto/asmcore/output"
	"github.com/xyproto/asmcore/section"
)

// buildJump assembles a single ".text" section containing one CondJump
// followed by gapSize filler bytes and a "target" label, then runs the
// full Finalize/Optimize/Output pipeline and returns the section's final
// bytes.
func buildJump(t *testing.T, cond string, gapSize int) []byte {
	t.Helper()

	arch := archtest.New()
	d := diag.New()
	obj := object.New("jump_test.s", arch, nil, d)
	obj.Opt = optimize.New()

	sec := section.New(".text")
	sec.Code = true
	obj.AddSection(sec)

	target, targetID, _ := obj.General.Insert("target")
	_ = target

	jumpBC := sec.Bytecodes.AppendFresh()
	jumpLoc := ids.Location{Section: sec.ID(), Bytecode: sec.Bytecodes.LastID()}
	enc := &archtest.CondJump{Cond: cond, Target: targetID, Self: jumpLoc}
	jumpBC.Tail = &bytecode.Insn{Encoder: enc}

	if gapSize > 0 {
		gapBC := sec.Bytecodes.AppendFresh()
		gapBC.Tail = &bytecode.Gap{Count: gapSize, ItemSize: 1}
	}

	targetBC := sec.Bytecodes.AppendFresh()
	_ = targetBC
	targetLoc := ids.Location{Section: sec.ID(), Bytecode: sec.Bytecodes.LastID()}
	require.NoError(t, target.DefineLabel(targetLoc, false, targetLoc))

	require.NoError(t, obj.Finalize())
	require.NoError(t, obj.Optimize())

	w := &output.Writer{Obj: obj, Arch: arch}
	var out []byte
	require.NoError(t, w.WriteSections(func(s *section.Section, data []byte) error {
		out = data
		return nil
	}))
	return out
}

func TestCondJumpShortForm(t *testing.T) {
	data := buildJump(t, "jz", 10)

	inst, err := x86asm.Decode(data, 32)
	require.NoError(t, err)
	require.Equal(t, x86asm.JE, inst.Op)
	require.Equal(t, 2, inst.Len, "short jz is a 2-byte instruction")

	rel, ok := inst.Args[0].(x86asm.Rel)
	require.True(t, ok)
	require.Equal(t, int32(10), int32(rel), "displacement measured from end of the 2-byte jump")
}

func TestCondJumpPromotesToNearForm(t *testing.T) {
	// A 200-byte gap puts the target well outside rel8 range, forcing the
	// optimizer to promote the jump to its 6-byte near encoding.
	data := buildJump(t, "jz", 200)

	inst, err := x86asm.Decode(data, 32)
	require.NoError(t, err)
	require.Equal(t, x86asm.JE, inst.Op)
	require.Equal(t, 6, inst.Len, "near jz is a 6-byte instruction")

	rel, ok := inst.Args[0].(x86asm.Rel)
	require.True(t, ok)
	require.Equal(t, int32(200), int32(rel))
}

func TestUnconditionalJumpNearForm(t *testing.T) {
	data := buildJump(t, "jmp", 500)

	inst, err := x86asm.Decode(data, 32)
	require.NoError(t, err)
	require.Equal(t, x86asm.JMP, inst.Op)
	require.Equal(t, 5, inst.Len, "near jmp has no 0x0F prefix: 1-byte opcode + rel32")
}

func TestArchMachines(t *testing.T) {
	a := archtest.New()
	require.Equal(t, 4, a.WordSize())
	require.NoError(t, a.SetMachine("x86-64"))
	require.Equal(t, 8, a.WordSize())
	require.Equal(t, 64, a.AddressSize())
	require.Error(t, a.SetMachine("arm64"))
}

func TestGetFillIsNopSled(t *testing.T) {
	a := archtest.New()
	fill := a.GetFill(5)
	require.Len(t, fill, 5)
	for _, b := range fill {
		require.Equal(t, byte(0x90), b)
	}
}
