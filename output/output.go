// Package output implements the output driver: walking sections in
// declared order, invoking per-bytecode emission, and
// resolving each fixup's Value either locally (Value.OutputBasic) or by
// asking the object format to record a relocation. It is factored out of
// any single object-format writer so every concrete ObjFmt (bin, elf, ...)
// drives emission identically and only supplies the RelocFunc and the
// architecture's byte-emission callbacks.
package output

import (
	"fmt"

	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/intnum"
	"github.com/xyproto/asmcore/object"
	"github.com/xyproto/asmcore/section"
	"github.com/xyproto/asmcore/symbol"
	"github.com/xyproto/asmcore/value"
)

// RelocFunc is invoked when a fixup's Value can't be resolved to plain
// bytes locally: an external symbol, a WRT/SEG/shifted reference, or a
// cross-section distance. dest still receives the addend the format
// wants zeroed or kept, per its own convention; offset is the fixup's
// absolute position within sec.
type RelocFunc func(sec *section.Section, bc *bytecode.Bytecode, v *value.Value, dest []byte, offset uint64) error

// GapWarner is invoked the first time a code/data section emits an
// uninitialized gap.
type GapWarner func(sec *section.Section)

// Writer drives Contents.Output across every section of an Object,
// handing each section's assembled bytes to the sectionOut callback
// WriteSections is given.
type Writer struct {
	Obj     *object.Object
	Arch    value.ArchEmitter
	OnReloc RelocFunc
	OnGap   GapWarner

	gapWarned map[ids.SectionID]bool
}

// WriteSections walks every section's bytecodes in order and calls
// sectionOut once per section with the section's assembled bytes, so the
// caller's ObjFmt can wrap them in whatever header/section-table framing
// its format needs.
func (w *Writer) WriteSections(sectionOut func(sec *section.Section, data []byte) error) error {
	if w.gapWarned == nil {
		w.gapWarned = make(map[ids.SectionID]bool)
	}
	for _, sec := range w.Obj.Sections() {
		buf := make([]byte, 0, sec.Length())
		sink := &driverSink{w: w, sec: sec, buf: &buf}
		for i := 0; i < sec.Bytecodes.Len(); i++ {
			bc := sec.Bytecodes.At(i)
			sink.bc = bc
			start := len(buf)
			buf = append(buf, bc.Head...)
			for _, fx := range bc.Fixups {
				nbytes := int((fx.Value.SizeBits + 7) / 8)
				dest := buf[start+fx.Offset : start+fx.Offset+nbytes]
				if err := w.resolveFixup(sec, bc, fx, dest); err != nil {
					return err
				}
			}
			*sink.buf = buf
			if bc.Tail != nil {
				if err := bc.Tail.Output(bc, sink); err != nil {
					return err
				}
				buf = *sink.buf
			}
		}
		if err := sectionOut(sec, buf); err != nil {
			return err
		}
	}
	return nil
}

// resolveFixup writes one Fixup's bytes into dest, choosing between a
// same-section symbol-distance computation, Value.OutputBasic, and a
// format-supplied relocation.
func (w *Writer) resolveFixup(sec *section.Section, bc *bytecode.Bytecode, fx bytecode.Fixup, dest []byte) error {
	v := fx.Value

	if v.HasRel && v.HasSub {
		relSect, relOK := w.Obj.SectionOf(v.Rel)
		subSect, subOK := w.Obj.SectionOf(v.Sub)
		if relOK && subOK && relSect == subSect {
			relLoc, _ := w.Obj.LocationOf(v.Rel)
			subLoc, _ := w.Obj.LocationOf(v.Sub)
			dist, err := sec.CalcDist(subLoc, relLoc)
			if err == nil {
				n := intnum.FromInt64(dist)
				if v.RShift > 0 {
					n = intnum.Shr(n, v.RShift)
				}
				w.Arch.IntToBytes(n, dest, v.SizeBits, 0, v.Signed)
				return nil
			}
		}
		if w.OnReloc == nil {
			return fmt.Errorf("output: %w", section.ErrIndeterminate)
		}
		return w.OnReloc(sec, bc, v, dest, bc.Offset+uint64(fx.Offset))
	}

	locOffset, relOffset, relExternal := w.resolveContext(v)
	wrote, err := v.OutputBasic(dest, locOffset, w.Arch, relOffset, relExternal)
	if err != nil {
		return err
	}
	if wrote {
		return nil
	}
	if w.OnReloc == nil {
		return fmt.Errorf("output: value requires a relocation but no object format is attached")
	}
	return w.OnReloc(sec, bc, v, dest, bc.Offset+uint64(fx.Offset))
}

// resolveContext computes the locOffset/relOffset/relExternal triple
// Value.OutputBasic needs from the symbol tables and already-assigned
// bytecode offsets.
func (w *Writer) resolveContext(v *value.Value) (locOffset uint64, relOffset int64, relExternal bool) {
	if v.CurposRel {
		locOffset, _ = w.Obj.Offset(v.CurposLoc)
	}
	if !v.HasRel {
		return locOffset, 0, false
	}
	sym := w.lookupSymbol(v.Rel)
	if sym != nil && sym.Visibility&(symbol.Extern|symbol.Common) != 0 {
		return locOffset, 0, true
	}
	loc, ok := w.Obj.LocationOf(v.Rel)
	if !ok {
		return locOffset, 0, true
	}
	off, ok := w.Obj.Offset(loc)
	if !ok {
		return locOffset, 0, true
	}
	return locOffset, int64(off), false
}

func (w *Writer) lookupSymbol(id ids.SymbolID) *symbol.Symbol {
	if s, ok := w.Obj.General.TryGet(id); ok {
		return s
	}
	if s, ok := w.Obj.Special.TryGet(id); ok {
		return s
	}
	return nil
}

// driverSink adapts one bytecode's emission into bytecode.Sink, feeding
// Contents.Output the warn-once-per-gap behavior and raw/byte-patch
// primitives it needs.
type driverSink struct {
	w   *Writer
	sec *section.Section
	bc  *bytecode.Bytecode
	buf *[]byte
}

func (s *driverSink) OutputValue(v *value.Value, dest []byte, loc ids.Location) error {
	locOffset, relOffset, relExternal := s.w.resolveContext(v)
	wrote, err := v.OutputBasic(dest, locOffset, s.w.Arch, relOffset, relExternal)
	if err != nil {
		return err
	}
	if wrote {
		return nil
	}
	if s.w.OnReloc == nil {
		return fmt.Errorf("output: value requires a relocation but no object format is attached")
	}
	return s.w.OnReloc(s.sec, s.bc, v, dest, loc.Offset)
}

func (s *driverSink) OutputGap(size int) error {
	if !s.sec.BSS && s.w.OnGap != nil && !s.w.gapWarned[s.sec.ID()] {
		s.w.gapWarned[s.sec.ID()] = true
		s.w.OnGap(s.sec)
	}
	*s.buf = append(*s.buf, make([]byte, size)...)
	return nil
}

func (s *driverSink) OutputBytes(b []byte) error {
	*s.buf = append(*s.buf, b...)
	return nil
}
