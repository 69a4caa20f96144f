// Package bin implements a flat-binary object.ObjFmt: every section is
// concatenated in declaration order with no header, symbol table, or
// relocation record, exercising ORG enforcement against the simplest
// possible concrete writer. Concrete object formats are out of core
// scope; this is the simplest of the two formats this module carries
// (objfmt/elf is the other), since it needs nothing beyond what the
// output driver already provides.
package bin

import (
	"fmt"
	"io"

	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/diag"
	"github.com/xyproto/asmcore/object"
	"github.com/xyproto/asmcore/output"
	"github.com/xyproto/asmcore/section"
	"github.com/xyproto/asmcore/value"
)

// Format is the flat-binary object.ObjFmt.
type Format struct{}

// New creates a flat-binary Format.
func New() *Format { return &Format{} }

var _ object.ObjFmt = (*Format)(nil)

// AppendSection creates a section with no format-specific data: a flat
// binary has nothing beyond the bytes themselves, so any name the front
// end asks for is accepted verbatim.
func (f *Format) AppendSection(name string, loc diag.Location) (*section.Section, error) {
	return section.New(name), nil
}

// SectionSwitch resolves or creates the named section.
func (f *Format) SectionSwitch(obj *object.Object, name string, params []string, loc diag.Location) (*section.Section, error) {
	if sec, ok := obj.SectionByName(name); ok {
		return sec, nil
	}
	sec, err := f.AppendSection(name, loc)
	if err != nil {
		return nil, err
	}
	obj.AddSection(sec)
	return sec, nil
}

// Taste never recognizes a flat binary: it carries no magic number or
// header, so read-back identification isn't possible.
func (f *Format) Taste(data []byte) (arch, machine string, ok bool) {
	return "", "", false
}

// Write concatenates every section's bytes in declaration order. Any
// Value that can't be resolved locally (an external reference, a
// cross-section distance, a WRT/SEG expression) is an error: a flat
// binary has no relocation record to defer it to.
func (f *Format) Write(sink io.Writer, obj *object.Object) error {
	w := &output.Writer{
		Obj:     obj,
		Arch:    obj.Arch,
		OnReloc: f.reject,
		OnGap: func(sec *section.Section) {
			obj.Diag.Warn(diag.CodeUninitContentsZeroed, diag.Location{File: obj.SourceFile}, "section %q: uninitialized gap emitted as zero bytes in flat binary output", sec.Name)
		},
	}
	var buf []byte
	err := w.WriteSections(func(sec *section.Section, data []byte) error {
		buf = append(buf, data...)
		return nil
	})
	if err != nil {
		return err
	}
	_, err = sink.Write(buf)
	return err
}

func (f *Format) reject(sec *section.Section, bc *bytecode.Bytecode, v *value.Value, dest []byte, offset uint64) error {
	return fmt.Errorf("objfmt/bin: section %q offset %d: value requires a relocation, which a flat binary cannot express", sec.Name, offset)
}
