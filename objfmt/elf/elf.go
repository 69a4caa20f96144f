// Package elf implements an ELF64 relocatable-object (ET_REL) writer: the
// second concrete object.ObjFmt this module carries, alongside
// objfmt/bin. Where a flat binary rejects anything it can't resolve
// locally, ELF has a real relocation record, so external references,
// cross-section distances and PC-relative jumps to Extern/Common symbols
// become .rela entries instead of errors.
//
// The header layout and constants are grounded in flapc's hand-rolled
// ELF writer (elf.go, elf_complete.go), which builds a full
// dynamically-linked executable byte-by-byte. That machinery -- PLT/GOT
// generation, dynamic section layout, PC-relative call patching -- is a
// linker's job and out of scope here; this package keeps only the ELF64
// header/section-header/symtab/rela shapes and regenerates them for a
// relocatable object instead of a runnable executable.
package elf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/diag"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/object"
	"github.com/xyproto/asmcore/output"
	"github.com/xyproto/asmcore/section"
	"github.com/xyproto/asmcore/symbol"
	"github.com/xyproto/asmcore/value"
)

// ELF64 constants, taken from the System V ABI and flapc's elf.go.
const (
	etRel = 2

	emX86_64 = 0x3e

	shtNull     = 0
	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shtRela     = 4
	shtNobits   = 8

	shfWrite     = 0x1
	shfAlloc     = 0x2
	shfExecinstr = 0x4

	stbLocal  = 0
	stbGlobal = 1

	sttNotype  = 0
	sttObject  = 1
	sttFunc    = 2
	sttSection = 3

	relPC32 = 2  // R_X86_64_PC32
	rel32   = 10 // R_X86_64_32
	rel64   = 1  // R_X86_64_64

	ehdrSize  = 64
	shdrSize  = 64
	symSize   = 24
	relaSize  = 24
)

// secData carries ELF-specific classification for one section, stashed
// in section.Section.FormatData by AppendSection.
type secData struct {
	shType  uint32
	shFlags uint64
}

// Format is the ELF64 relocatable-object object.ObjFmt.
type Format struct{}

// New creates an ELF Format.
func New() *Format { return &Format{} }

var _ object.ObjFmt = (*Format)(nil)

// AppendSection creates a section, classifying its ELF section type and
// flags from its name the way an assembler front end's directive table
// would (.bss is SHT_NOBITS, .text is allocatable+executable, everything
// else defaults to allocatable PROGBITS).
func (f *Format) AppendSection(name string, loc diag.Location) (*section.Section, error) {
	sec := section.New(name)
	sd := secData{shType: shtProgbits, shFlags: shfAlloc}
	switch name {
	case ".bss":
		sd.shType = shtNobits
		sd.shFlags |= shfWrite
		sec.BSS = true
	case ".text":
		sd.shFlags |= shfExecinstr
		sec.Code = true
	case ".data":
		sd.shFlags |= shfWrite
	}
	sec.FormatData = sd
	return sec, nil
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

// Taste identifies the ELF64-little-endian magic.
func (f *Format) Taste(data []byte) (arch, machine string, ok bool) {
	if len(data) < 20 || !bytes.Equal(data[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return "", "", false
	}
	if data[4] != 2 || data[5] != 1 {
		return "", "", false
	}
	mach := binary.LittleEndian.Uint16(data[18:20])
	if mach != emX86_64 {
		return "elf", "unknown", true
	}
	return "elf", "x86-64", true
}

// pendingReloc is a relocation collected during Write, before the symbol
// table's final index assignment is known.
type pendingReloc struct {
	sec    *section.Section
	offset uint64
	symID  ids.SymbolID
	rtype  uint32
	addend int64
}

// writer accumulates the relocatable object's bytes and bookkeeping
// across the single output.Writer pass.
type writer struct {
	obj    *object.Object
	relocs []pendingReloc
	symIdx map[ids.SymbolID]uint32 // assigned once, after collecting relocs
	strtab *strtab
	symtab bytes.Buffer

	shndx map[string]uint16 // section name -> its final section-header index
}

// strtab accumulates a string table, returning each name's byte offset.
type strtab struct {
	buf bytes.Buffer
	off map[string]uint32
}

func newStrtab() *strtab {
	st := &strtab{off: make(map[string]uint32)}
	st.buf.WriteByte(0) // offset 0 is the empty string
	return st
}

func (st *strtab) add(name string) uint32 {
	if name == "" {
		return 0
	}
	if off, ok := st.off[name]; ok {
		return off
	}
	off := uint32(st.buf.Len())
	st.off[name] = off
	st.buf.WriteString(name)
	st.buf.WriteByte(0)
	return off
}

// Write emits an ELF64 ET_REL object: one section per Object section
// plus .symtab, .strtab, .shstrtab, and one .rela.<name> per section that
// collected relocations.
func (f *Format) Write(sink io.Writer, obj *object.Object) error {
	w := &writer{obj: obj, strtab: newStrtab()}

	out := &output.Writer{
		Obj:     obj,
		Arch:    obj.Arch,
		OnReloc: w.collectReloc,
		OnGap: func(sec *section.Section) {
			obj.Diag.Warn(diag.CodeUninitContentsZeroed, diag.Location{File: obj.SourceFile}, "section %q: uninitialized gap emitted as zero bytes in ELF output", sec.Name)
		},
	}

	sectionData := map[string][]byte{}
	order := []string{}
	err := out.WriteSections(func(sec *section.Section, data []byte) error {
		sectionData[sec.Name] = data
		order = append(order, sec.Name)
		return nil
	})
	if err != nil {
		return err
	}

	w.assignSymbolIndices()

	return w.emit(sink, order, sectionData)
}

// collectReloc is invoked by the output driver for any Value it can't
// resolve to plain bytes: it defers the fixup to a real ELF relocation
// record instead of erroring out the way objfmt/bin does.
func (w *writer) collectReloc(sec *section.Section, bc *bytecode.Bytecode, v *value.Value, dest []byte, offset uint64) error {
	if !v.HasRel {
		return fmt.Errorf("objfmt/elf: section %q offset %d: relocation requested with no relative symbol", sec.Name, offset)
	}
	rtype := rel32
	if v.SizeBits == 64 {
		rtype = rel64
	}
	if v.CurposRel || v.IPRel {
		rtype = relPC32
	}
	for i := range dest {
		dest[i] = 0
	}
	w.relocs = append(w.relocs, pendingReloc{sec: sec, offset: offset, symID: v.Rel, rtype: uint32(rtype)})
	return nil
}

// symTableEntry pairs a symbol ID with its Symbol for sorted emission:
// ELF requires every STB_LOCAL entry to precede the first STB_GLOBAL
// one.
type symTableEntry struct {
	id  ids.SymbolID
	sym *symbol.Symbol
}

func (w *writer) orderedSymbols() []symTableEntry {
	var entries []symTableEntry
	for _, id := range w.obj.General.Symbols() {
		sym := w.obj.General.Get(id)
		if sym.IsAnonymous() {
			continue
		}
		entries = append(entries, symTableEntry{id, sym})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		iGlobal := entries[i].sym.Visibility&(symbol.Global|symbol.Extern|symbol.Common) != 0
		jGlobal := entries[j].sym.Visibility&(symbol.Global|symbol.Extern|symbol.Common) != 0
		return !iGlobal && jGlobal
	})
	return entries
}

// assignSymbolIndices gives every named General symbol a 1-based index
// (index 0 is the mandatory null symbol), in the local-then-global order
// ELF requires.
func (w *writer) assignSymbolIndices() {
	w.symIdx = make(map[ids.SymbolID]uint32)
	for i, e := range w.orderedSymbols() {
		w.symIdx[e.id] = uint32(i + 1)
	}
}

func (w *writer) buildSymtab() {
	// Null symbol at index 0.
	w.symtab.Write(make([]byte, symSize))
	for _, e := range w.orderedSymbols() {
		nameOff := w.strtab.add(e.sym.Name)
		bind := uint8(stbLocal)
		if e.sym.Visibility&(symbol.Global|symbol.Extern|symbol.Common) != 0 {
			bind = stbGlobal
		}
		typ := uint8(sttNotype)
		var shndx uint16
		var symValue uint64
		if sec, ok := w.obj.SectionOf(e.id); ok {
			typ = sttFunc
			if s, found := w.obj.SectionByID(sec); found {
				shndx = w.shndx[s.Name]
				off, _ := w.obj.Offset(w.mustLoc(e.id))
				symValue = off
			}
		}
		info := (bind << 4) | (typ & 0xf)
		binary.Write(&w.symtab, binary.LittleEndian, uint32(nameOff))
		w.symtab.WriteByte(info)
		w.symtab.WriteByte(0) // other
		binary.Write(&w.symtab, binary.LittleEndian, shndx)
		binary.Write(&w.symtab, binary.LittleEndian, symValue)
		binary.Write(&w.symtab, binary.LittleEndian, uint64(0)) // size unknown to the core
	}
}

func (w *writer) mustLoc(id ids.SymbolID) ids.Location {
	loc, _ := w.obj.LocationOf(id)
	return loc
}

// emit lays out and writes the ELF header, section headers, section
// bodies, .symtab, .strtab and .shstrtab, and one .rela.<name> per
// section with pending relocations.
func (w *writer) emit(sink io.Writer, order []string, data map[string][]byte) error {
	shstrtab := newStrtab()

	type shdr struct {
		name    uint32
		sType   uint32
		flags   uint64
		addr    uint64
		offset  uint64
		size    uint64
		link    uint32
		info    uint32
		align   uint64
		entsize uint64
		payload []byte
	}

	relocsBySection := map[string][]pendingReloc{}
	for _, r := range w.relocs {
		relocsBySection[r.sec.Name] = append(relocsBySection[r.sec.Name], r)
	}

	var headers []shdr
	headers = append(headers, shdr{}) // SHN_UNDEF

	w.shndx = make(map[string]uint16)
	for _, name := range order {
		w.shndx[name] = uint16(len(headers))
		sec, _ := w.obj.SectionByName(name)
		sd, _ := sec.FormatData.(secData)
		if sd.shType == 0 {
			sd.shType = shtProgbits
			sd.shFlags = shfAlloc
		}
		headers = append(headers, shdr{
			name:    shstrtab.add(name),
			sType:   sd.shType,
			flags:   sd.shFlags,
			size:    uint64(len(data[name])),
			align:   1,
			payload: data[name],
		})
	}

	// Rebuild the symbol table now that section indices are known.
	w.symtab.Reset()
	w.buildSymtab()

	symtabIdx := uint16(len(headers))
	headers = append(headers, shdr{
		name:    shstrtab.add(".symtab"),
		sType:   shtSymtab,
		entsize: symSize,
		size:    uint64(w.symtab.Len()),
		link:    0, // patched to strtab index below
		info:    uint32(w.firstGlobal()),
		align:   8,
		payload: w.symtab.Bytes(),
	})

	strtabIdx := uint16(len(headers))
	headers = append(headers, shdr{
		name:    shstrtab.add(".strtab"),
		sType:   shtStrtab,
		size:    uint64(w.strtab.buf.Len()),
		align:   1,
		payload: w.strtab.buf.Bytes(),
	})
	headers[symtabIdx].link = uint32(strtabIdx)

	for _, name := range order {
		relocs := relocsBySection[name]
		if len(relocs) == 0 {
			continue
		}
		var buf bytes.Buffer
		for _, r := range relocs {
			binary.Write(&buf, binary.LittleEndian, r.offset)
			info := (uint64(w.symIdx[r.symID]) << 32) | uint64(r.rtype)
			binary.Write(&buf, binary.LittleEndian, info)
			binary.Write(&buf, binary.LittleEndian, r.addend)
		}
		headers = append(headers, shdr{
			name:    shstrtab.add(".rela" + name),
			sType:   shtRela,
			entsize: relaSize,
			size:    uint64(buf.Len()),
			link:    uint32(symtabIdx),
			info:    uint32(w.shndx[name]),
			align:   8,
			payload: buf.Bytes(),
		})
	}

	shstrtabIdx := uint16(len(headers))
	headers = append(headers, shdr{
		name:  shstrtab.add(".shstrtab"),
		sType: shtStrtab,
		size:  uint64(shstrtab.buf.Len()),
		align: 1,
	})
	headers[shstrtabIdx].payload = shstrtab.buf.Bytes()

	// Lay out file offsets: header + all section-header-table entries
	// first, then each section's payload in order.
	offset := uint64(ehdrSize) + uint64(len(headers))*shdrSize
	for i := range headers {
		if headers[i].sType == shtNobits {
			headers[i].offset = offset
			continue
		}
		headers[i].offset = offset
		offset += uint64(len(headers[i].payload))
	}

	var out bytes.Buffer

	// ELF header.
	out.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	out.Write(make([]byte, 8))
	binary.Write(&out, binary.LittleEndian, uint16(etRel))
	binary.Write(&out, binary.LittleEndian, uint16(emX86_64))
	binary.Write(&out, binary.LittleEndian, uint32(1))
	binary.Write(&out, binary.LittleEndian, uint64(0)) // e_entry: none in a relocatable object
	binary.Write(&out, binary.LittleEndian, uint64(0)) // e_phoff: no program headers
	binary.Write(&out, binary.LittleEndian, uint64(ehdrSize))
	binary.Write(&out, binary.LittleEndian, uint32(0))
	binary.Write(&out, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(&out, binary.LittleEndian, uint16(0))
	binary.Write(&out, binary.LittleEndian, uint16(0))
	binary.Write(&out, binary.LittleEndian, uint16(shdrSize))
	binary.Write(&out, binary.LittleEndian, uint16(len(headers)))
	binary.Write(&out, binary.LittleEndian, uint16(shstrtabIdx))

	for _, h := range headers {
		binary.Write(&out, binary.LittleEndian, h.name)
		binary.Write(&out, binary.LittleEndian, h.sType)
		binary.Write(&out, binary.LittleEndian, h.flags)
		binary.Write(&out, binary.LittleEndian, h.addr)
		binary.Write(&out, binary.LittleEndian, h.offset)
		binary.Write(&out, binary.LittleEndian, h.size)
		binary.Write(&out, binary.LittleEndian, h.link)
		binary.Write(&out, binary.LittleEndian, h.info)
		binary.Write(&out, binary.LittleEndian, h.align)
		binary.Write(&out, binary.LittleEndian, h.entsize)
	}

	for _, h := range headers {
		if h.sType == shtNobits {
			continue
		}
		out.Write(h.payload)
	}

	_, err := sink.Write(out.Bytes())
	return err
}

// firstGlobal returns the 1-based index of the first STB_GLOBAL symbol,
// the sh_info value ELF requires .symtab to carry.
func (w *writer) firstGlobal() int {
	for i, e := range w.orderedSymbols() {
		if e.sym.Visibility&(symbol.Global|symbol.Extern|symbol.Common) != 0 {
			return i + 1
		}
	}
	return len(w.symIdx) + 1
}
