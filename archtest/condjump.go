package archtest

import (
	"fmt"

	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/intnum"
	"github.com/xyproto/asmcore/value"
)

// CondJump is the one span-dependent instruction this architecture
// knows how to encode: a conditional (or unconditional) jump to a label,
// short (rel8) while the distance fits and promoted to near (rel32) the
// moment it doesn't -- the classic "short jump, then a preceding edit
// pushes the target out of rel8 range" scenario, grounded in how real
// x86 assemblers treat Jcc/JMP (golang.org/x/arch/x86/x86asm is used by
// this package's tests to confirm the emitted bytes decode back to the
// same instruction).
//
// Once promoted to near form a CondJump never demotes back to short:
// real assemblers don't either, since oscillating would risk the
// optimizer never converging.
type CondJump struct {
	Cond   string // "jz", "jnz", or "jmp"
	Target ids.SymbolID

	// Self is the location identifying this bytecode, set by the front
	// end once it knows the bytecode's own id.
	Self ids.Location

	short bool
	v     *value.Value
}

func (j *CondJump) shortLen() int {
	return 2 // one opcode byte + rel8
}

func (j *CondJump) longLen() int {
	if j.Cond == "jmp" {
		return 5 // 0xE9 + rel32
	}
	return 6 // 0x0F + Jcc opcode + rel32
}

func (j *CondJump) shortOpcode() []byte {
	switch j.Cond {
	case "jz":
		return []byte{0x74}
	case "jnz":
		return []byte{0x75}
	case "jmp":
		return []byte{0xEB}
	default:
		return []byte{0xEB}
	}
}

func (j *CondJump) longOpcode() []byte {
	switch j.Cond {
	case "jz":
		return []byte{0x0F, 0x84}
	case "jnz":
		return []byte{0x0F, 0x85}
	case "jmp":
		return []byte{0xE9}
	default:
		return []byte{0xE9}
	}
}

// CalcLen registers the jump's displacement as a span starting in short
// form.
func (j *CondJump) CalcLen(bc *bytecode.Bytecode, addSpan bytecode.AddSpanFunc) (int, error) {
	j.short = true
	loc := j.Self
	loc.Offset = uint64(j.shortLen())

	v := value.NewRel(8, j.Target)
	v.CurposRel = true
	v.CurposLoc = loc
	v.Signed = true
	j.v = v

	addSpan(v, intnum.FromInt64(-128), intnum.FromInt64(127))
	return j.shortLen(), nil
}

// Expand re-checks the displacement against rel8 range and promotes to
// near form the first time it doesn't fit.
func (j *CondJump) Expand(bc *bytecode.Bytecode, span bytecode.SpanID, oldVal, newVal *intnum.IntNum) (int, *intnum.IntNum, *intnum.IntNum, bool, error) {
	dist, _ := newVal.Int64()
	if j.short && dist >= -128 && dist <= 127 {
		return j.shortLen(), intnum.FromInt64(-128), intnum.FromInt64(127), true, nil
	}
	if j.short {
		j.short = false
		j.v.SizeBits = 32
		loc := j.Self
		loc.Offset = uint64(j.longLen())
		j.v.CurposLoc = loc
	}
	return j.longLen(), nil, nil, false, nil
}

// Encode writes the opcode followed by the resolved displacement,
// deferring the actual byte computation to sink.OutputValue so a
// cross-section jump goes through the same relocation path any other
// Value does.
func (j *CondJump) Encode(bc *bytecode.Bytecode, sink bytecode.Sink) error {
	var op []byte
	if j.short {
		op = j.shortOpcode()
	} else {
		op = j.longOpcode()
	}
	if err := sink.OutputBytes(op); err != nil {
		return err
	}
	nbytes := int(j.v.SizeBits) / 8
	dest := make([]byte, nbytes)
	loc := ids.Location{Section: j.Self.Section, Bytecode: j.Self.Bytecode, Offset: bc.Offset + uint64(len(op))}
	if err := sink.OutputValue(j.v, dest, loc); err != nil {
		return fmt.Errorf("archtest: %s: %w", j.Cond, err)
	}
	return sink.OutputBytes(dest)
}
