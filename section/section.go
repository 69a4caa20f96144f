// Package section implements Section, a named bytecode container plus
// layout metadata.
package section

import (
	"fmt"

	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/ids"
)

// Reloc is {offset within section, target symbol, type}. Type is object-format-specific and opaque to the core.
// The output driver does not read Section.Relocs or call Write; object formats record relocations through
// their own output.RelocFunc.
type Reloc struct {
	Offset uint64
	Target ids.SymbolID
	Type   string
	Write  func(dest []byte) // format-supplied byte patcher
}

// Section is a named bytecode container with VMA/LMA/align/relocs.
type Section struct {
	Name string

	Code     bool
	BSS      bool
	Default  bool
	Absolute bool // pseudo-section at a fixed VMA; holds labels, not relocatable content

	Align uint64
	VMA   uint64
	LMA   uint64
	FilePos uint64

	SectionSymbol ids.SymbolID // a label at offset 0

	Bytecodes *bytecode.Container
	Relocs    []Reloc

	// FormatData carries object-format-specific per-section fields
	// (COFF/Mach-O/Win64 section info), deferred to the concrete writer
	// via an opaque payload so the core doesn't need to know every
	// format's field set.
	FormatData any

	id ids.SectionID
}

// New creates a Section with the mandatory initial empty bytecode already
// present, via bytecode.NewContainer.
func New(name string) *Section {
	return &Section{
		Name:      name,
		Align:     1,
		Bytecodes: bytecode.NewContainer(),
	}
}

// SetID records the SectionID the owning Object assigned this section, so
// Location values built from this section's bytecodes carry the right
// back-reference.
func (s *Section) SetID(id ids.SectionID) { s.id = id }

// ID returns this section's own handle.
func (s *Section) ID() ids.SectionID { return s.id }

// AddReloc appends a relocation.
func (s *Section) AddReloc(r Reloc) { s.Relocs = append(s.Relocs, r) }

// Length returns the section's total byte length: the offset one past its
// last bytecode.
func (s *Section) Length() uint64 {
	if s.Bytecodes.Len() == 0 {
		return 0
	}
	last := s.Bytecodes.At(s.Bytecodes.Len() - 1)
	return last.Offset + uint64(last.TotalLen())
}

// ErrIndeterminate is returned by CalcDist when the two locations don't
// share a section, or offsets haven't been assigned yet.
var ErrIndeterminate = fmt.Errorf("section: distance is indeterminate (locations not in the same resolved section)")

// CalcDist returns b - a in bytes, provided both locations lie in this
// section and offsets have already been assigned by the optimizer.
func (s *Section) CalcDist(a, b ids.Location) (int64, error) {
	if a.Section != s.id || b.Section != s.id {
		return 0, ErrIndeterminate
	}
	bcA, ok := s.Bytecodes.ByID(a.Bytecode)
	if !ok {
		return 0, ErrIndeterminate
	}
	bcB, ok := s.Bytecodes.ByID(b.Bytecode)
	if !ok {
		return 0, ErrIndeterminate
	}
	posA := int64(bcA.Offset) + int64(a.Offset)
	posB := int64(bcB.Offset) + int64(b.Offset)
	return posB - posA, nil
}
