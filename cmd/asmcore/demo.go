package main

import (
	"fmt"
	"io"
	"os"

	"github.com/xyproto/asmcore/archtest"
	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/diag"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/object"
	"github.com/xyproto/asmcore/objfmt/bin"
	"github.com/xyproto/asmcore/objfmt/elf"
	"github.com/xyproto/asmcore/optimize"
	"github.com/xyproto/asmcore/section"
)

// newObjFmt resolves the -fmt flag into a concrete object.ObjFmt.
func newObjFmt(name string) (object.ObjFmt, error) {
	switch name {
	case "", "bin":
		return bin.New(), nil
	case "elf":
		return elf.New(), nil
	default:
		return nil, fmt.Errorf("unknown object format %q (want \"bin\" or \"elf\")", name)
	}
}

// buildDemo assembles a tiny fixed program: a two-byte "header", an
// unconditional jmp over a filler region to a label, and an Org that pads
// the tail section up to a fixed offset. It returns the number of bytes written to path.
func buildDemo(path, format string, verbose bool) (int, error) {
	arch := archtest.New()
	objFmt, err := newObjFmt(format)
	if err != nil {
		return 0, err
	}
	d := diag.New()
	obj := object.New("demo", arch, objFmt, d)
	opt := optimize.New()
	opt.Verbose = verbose
	obj.Opt = opt

	sec := section.New(".text")
	sec.Code = true
	obj.AddSection(sec)

	header := sec.Bytecodes.Last()
	header.AppendByte(0x90) // NOP
	header.AppendByte(0x90)
	header.Tail = bytecode.Data{}

	target, targetID, _ := obj.General.Insert("after_jump")

	jumpBC := sec.Bytecodes.AppendFresh()
	jumpLoc := ids.Location{Section: sec.ID(), Bytecode: sec.Bytecodes.LastID()}
	jumpBC.Tail = &bytecode.Insn{Encoder: &archtest.CondJump{
		Cond:   "jmp",
		Target: targetID,
		Self:   jumpLoc,
	}}

	fillerBC := sec.Bytecodes.AppendFresh()
	fillerBC.Tail = &bytecode.Gap{Count: 16, ItemSize: 1}

	afterJump := sec.Bytecodes.AppendFresh()
	afterJumpLoc := ids.Location{Section: sec.ID(), Bytecode: sec.Bytecodes.LastID()}
	if err := obj.DefineLabel(target, afterJumpLoc, false, afterJumpLoc); err != nil {
		return 0, err
	}
	afterJump.AppendByte(0xC3) // RET
	afterJump.Tail = bytecode.Data{}

	org := sec.Bytecodes.AppendFresh()
	org.Tail = &bytecode.Org{Target: 64}

	if err := obj.Finalize(); err != nil {
		return 0, err
	}
	if err := obj.Optimize(); err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	counter := &countingWriter{w: f}
	if err := obj.Output(counter); err != nil {
		return 0, err
	}
	return counter.n, nil
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}
