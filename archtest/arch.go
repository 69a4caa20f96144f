// Package archtest implements a minimal object.Arch for exercising the
// optimizer and output driver end to end. It targets a
// deliberately tiny x86-32 subset -- one span-dependent conditional jump
// -- and leans on golang.org/x/arch/x86/x86asm in its tests to confirm
// the bytes it emits actually decode as the x86 instructions they claim
// to be, rather than trusting its own encoder in isolation.
//
// Concrete architectures are out of scope for the core; this package is
// the one the core's own tests use to drive object.Object through a real
// Arch/Insn/Optimizer/Output cycle.
package archtest

import (
	"fmt"

	"github.com/xyproto/asmcore/fpnum"
	"github.com/xyproto/asmcore/intnum"
	"github.com/xyproto/asmcore/object"
)

// Arch is a tiny x86 test architecture: 32- or 64-bit word size, one
// instruction family (CondJump), little-endian throughout.
type Arch struct {
	machine string
}

// New creates an Arch defaulting to the 32-bit machine.
func New() *Arch {
	return &Arch{machine: "x86-32"}
}

var _ object.Arch = (*Arch)(nil)

func (a *Arch) SetParser(name string) error {
	if name != "" && name != "nasm-like" {
		return fmt.Errorf("archtest: unknown parser flavor %q", name)
	}
	return nil
}

func (a *Arch) Machines() []string { return []string{"x86-32", "x86-64"} }

func (a *Arch) SetMachine(name string) error {
	for _, m := range a.Machines() {
		if m == name {
			a.machine = name
			return nil
		}
	}
	return fmt.Errorf("archtest: unknown machine %q", name)
}

func (a *Arch) WordSize() int {
	if a.machine == "x86-64" {
		return 8
	}
	return 4
}

func (a *Arch) AddressSize() int { return a.WordSize() * 8 }

// MinInsnLen is 1, the shortest encoding this architecture ever produces
// (a one-byte opcode with no operand, not exercised by CondJump but part
// of the Arch contract).
func (a *Arch) MinInsnLen() int { return 1 }

// ParseCheckInsnPrefix recognizes the one prefix this test architecture
// understands, "lock", purely so object.Object's front-end plumbing has
// something non-trivial to dispatch on.
func (a *Arch) ParseCheckInsnPrefix(id string) object.InsnPrefixKind {
	switch id {
	case "lock":
		return object.IsPrefix
	case "jz", "jnz", "jmp":
		return object.IsInsn
	default:
		return object.NotRecognized
	}
}

// ParseCheckRegTmod recognizes the general-purpose registers this
// architecture's tests reference.
func (a *Arch) ParseCheckRegTmod(id string) object.RegTmodKind {
	switch id {
	case "eax", "ebx", "ecx", "edx", "rax", "rbx", "rcx", "rdx":
		return object.RegTmodReg
	default:
		return object.RegTmodNotRecognized
	}
}

// CreateEmptyInsn returns a fresh CondJump ready for its target symbol to
// be filled in by the front end (here, a test). The any return type
// avoids an object<->bytecode import cycle.
func (a *Arch) CreateEmptyInsn() (any, error) {
	return &CondJump{}, nil
}

// GetFill returns n single-byte x86 NOPs (0x90), used for Align padding
// in code sections.
func (a *Arch) GetFill(n int) []byte {
	fill := make([]byte, n)
	for i := range fill {
		fill[i] = 0x90 // NOP
	}
	return fill
}

// IntToBytes implements value.ArchEmitter: little-endian, with the
// overflow classification IntNum.ToBytes already computes.
func (a *Arch) IntToBytes(n *intnum.IntNum, dest []byte, valueBits uint, shift int, signed bool) intnum.OverflowKind {
	return n.ToBytes(dest, valueBits, shift, signed, false)
}

// FloatToBytes implements value.ArchEmitter for this architecture's only
// two supported float widths.
func (a *Arch) FloatToBytes(f *fpnum.FloatNum, dest []byte, valueBits uint) error {
	switch valueBits {
	case 32:
		f.ToBytes32(dest, false)
		return nil
	case 64:
		f.ToBytes64(dest, false)
		return nil
	default:
		return fmt.Errorf("archtest: unsupported float width %d bits", valueBits)
	}
}
