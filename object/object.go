// Package object implements Object, the top-level container: architecture
// handle, the two symbol tables, an ordered section list, global
// options/config, and the Arch/ObjFmt/Directive external interfaces. It
// is the orchestration point that threads a diag.Diag through the three
// pass boundaries (Finalize, Optimize, Output), returning early as soon
// as a pass has produced any error.
package object

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xyproto/asmcore/arena"
	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/diag"
	"github.com/xyproto/asmcore/expr"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/intnum"
	"github.com/xyproto/asmcore/section"
	"github.com/xyproto/asmcore/symbol"
	"github.com/xyproto/asmcore/value"
)

// InsnPrefixKind is the result of Arch.ParseCheckInsnPrefix.
type InsnPrefixKind int

const (
	NotRecognized InsnPrefixKind = iota
	IsInsn
	IsPrefix
)

// RegTmodKind is the result of Arch.ParseCheckRegTmod.
type RegTmodKind int

const (
	RegTmodNotRecognized RegTmodKind = iota
	RegTmodReg
	RegTmodRegGroup
	RegTmodSegReg
	RegTmodTargetMod
)

// Arch is the architecture collaborator. Concrete encoders are out of
// scope for the core; this is the contract the core calls into,
// implemented by e.g. package archtest.
type Arch interface {
	SetParser(name string) error
	SetMachine(name string) error
	Machines() []string
	WordSize() int
	MinInsnLen() int
	AddressSize() int
	ParseCheckInsnPrefix(id string) InsnPrefixKind
	ParseCheckRegTmod(id string) RegTmodKind
	CreateEmptyInsn() (any, error) // returns an instruction encoder (archtest: *CondJump, a bytecode.InsnEncoder); any avoids an import cycle with bytecode
	GetFill(n int) []byte

	value.ArchEmitter
}

// ObjFmt is the object-format collaborator.
type ObjFmt interface {
	// AppendSection creates a format-specific section for a directive the
	// core doesn't own.
	AppendSection(name string, loc diag.Location) (*section.Section, error)
	// SectionSwitch resolves directive-driven section selection into an
	// existing or new section.
	SectionSwitch(obj *Object, name string, params []string, loc diag.Location) (*section.Section, error)
	// Taste identifies a file for readback, or reports none.
	Taste(data []byte) (arch, machine string, ok bool)
	// Write emits the header, per-section payload, symbol table, relocs
	// and string table.
	Write(sink io.Writer, obj *Object) error
}

// Optimizer is the span-dependency pass, kept behind an
// interface here so object doesn't import package optimize directly --
// Object only needs to drive the pass, not implement it. It receives the
// Object itself rather than a bare section list because span evaluation
// needs the same symbol/location lookups Finalize uses (Object already
// implements value.SymbolLookup, plus LocationOf/Offset below).
type Optimizer interface {
	Optimize(obj *Object) error
}

// DirectiveFlags constrains what argument shape a directive accepts.
type DirectiveFlags int

const (
	FlagAny DirectiveFlags = iota
	FlagArgRequired
	FlagIDRequired
)

// DirectiveHandler receives the Object, positional name/values, object-
// format-specific name/values, and a source location.
type DirectiveHandler func(obj *Object, name string, vals []string, objVals []string, loc diag.Location) error

// Directive is one dispatch-table entry: (name, parser flavor, handler,
// flags).
type Directive struct {
	Name         string
	ParserFlavor string
	Handler      DirectiveHandler
	Flags        DirectiveFlags
}

// GlobalOptions are Object-wide toggles.
type GlobalOptions struct {
	DisableGlobalSubRelative bool
	PowerOfTwoAlign          bool
}

// Config is target-environment configuration.
type Config struct {
	ExecStack   bool
	NoExecStack bool
}

// Object owns source/object filenames, the architecture handle, the two
// symbol tables, the ordered section list, the current-section cursor,
// global options and config.
type Object struct {
	SourceFile string
	ObjectFile string

	Arch   Arch
	ObjFmt ObjFmt
	Opt    Optimizer

	General *symbol.Table
	Special *symbol.Table

	Opts GlobalOptions
	Cfg  Config

	Diag *diag.Diag

	directives map[string]Directive

	sections   *arena.Arena[*section.Section]
	sectionIdx map[string]ids.SectionID
	order      []ids.SectionID
	cur        ids.SectionID
}

// New creates an Object with empty general/special symbol tables and the
// standard directive set registered.
func New(sourceFile string, arch Arch, objfmt ObjFmt, d *diag.Diag) *Object {
	o := &Object{
		SourceFile: sourceFile,
		Arch:       arch,
		ObjFmt:     objfmt,
		General:    symbol.NewTable(false, true),
		Special:    symbol.NewTable(false, false),
		Diag:       d,
		directives: make(map[string]Directive),
		sections:   arena.New[*section.Section](8),
		sectionIdx: make(map[string]ids.SectionID),
		cur:        arena.Nil,
	}
	o.registerStandardDirectives()
	return o
}

// RegisterDirective adds or overwrites a directive.
func (o *Object) RegisterDirective(d Directive) { o.directives[d.Name] = d }

// Dispatch looks up name in the directive table and invokes its handler,
// enforcing Flags before the call.
func (o *Object) Dispatch(name string, vals, objVals []string, loc diag.Location) error {
	d, ok := o.directives[name]
	if !ok {
		return fmt.Errorf("object: unrecognized directive %q", name)
	}
	switch d.Flags {
	case FlagArgRequired:
		if len(vals) == 0 {
			return fmt.Errorf("object: directive %q requires an argument", name)
		}
	case FlagIDRequired:
		if len(vals) == 0 || vals[0] == "" {
			return fmt.Errorf("object: directive %q requires an identifier", name)
		}
	}
	return d.Handler(o, name, vals, objVals, loc)
}

// AddSection registers a newly created section, assigning it a SectionID
// and making it the new current section.
func (o *Object) AddSection(s *section.Section) {
	id := o.sections.Add(s)
	s.SetID(id)
	o.sectionIdx[s.Name] = id
	o.order = append(o.order, id)
	o.cur = id
}

// SectionByName looks up an already-created section.
func (o *Object) SectionByName(name string) (*section.Section, bool) {
	id, ok := o.sectionIdx[name]
	if !ok {
		return nil, false
	}
	return *o.sections.Get(id), true
}

// CurrentSection returns the section the cursor currently points at, or
// nil if none has been created yet.
func (o *Object) CurrentSection() *section.Section {
	if !o.cur.Valid() {
		return nil
	}
	return *o.sections.Get(o.cur)
}

// SetCurrentSection moves the cursor to an existing section by name.
func (o *Object) SetCurrentSection(name string) bool {
	id, ok := o.sectionIdx[name]
	if !ok {
		return false
	}
	o.cur = id
	return true
}

// Sections returns every section in creation order.
func (o *Object) Sections() []*section.Section {
	out := make([]*section.Section, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, *o.sections.Get(id))
	}
	return out
}

// SectionOf and IsCurpos implement value.SymbolLookup by consulting
// whichever of the two tables actually holds the symbol -- a symbol's ID
// is only meaningful relative to the table it was Inserted into, so both
// are probed.
func (o *Object) SectionOf(id ids.SymbolID) (ids.SectionID, bool) {
	sym, ok := o.General.TryGet(id)
	if !ok {
		sym, ok = o.Special.TryGet(id)
	}
	if !ok {
		return ids.SectionID{}, false
	}
	if sym.Payload != symbol.PayloadLabel && sym.Payload != symbol.PayloadCurpos {
		return ids.SectionID{}, false
	}
	return sym.Label.Section, true
}

func (o *Object) IsCurpos(id ids.SymbolID) bool {
	sym, ok := o.General.TryGet(id)
	if !ok {
		sym, ok = o.Special.TryGet(id)
	}
	return ok && sym.IsCurpos()
}

// LocationOf returns a label symbol's Location, the optimizer's way of
// turning a Value's Rel/Sub symbol into something it can measure against
// bytecode offsets.
func (o *Object) LocationOf(id ids.SymbolID) (ids.Location, bool) {
	sym, ok := o.General.TryGet(id)
	if !ok {
		sym, ok = o.Special.TryGet(id)
	}
	if !ok || (sym.Payload != symbol.PayloadLabel && sym.Payload != symbol.PayloadCurpos) {
		return ids.Location{}, false
	}
	return sym.Label, true
}

// Offset resolves a Location to its current section-relative byte offset
// by looking up the owning section and bytecode. It returns false if the
// section or bytecode can't be found (e.g. a stale id from a different
// Object).
func (o *Object) Offset(loc ids.Location) (uint64, bool) {
	s, ok := o.SectionByID(loc.Section)
	if !ok {
		return 0, false
	}
	bc, ok := s.Bytecodes.ByID(loc.Bytecode)
	if !ok {
		return 0, false
	}
	return bc.Offset + loc.Offset, true
}

// SectionByID looks up a section by its arena handle, the ID-based
// counterpart to SectionByName.
func (o *Object) SectionByID(id ids.SectionID) (*section.Section, bool) {
	s, ok := o.sections.TryGet(id)
	if !ok {
		return nil, false
	}
	return *s, true
}

// DefineLabel gives sym a Label (or curpos label) payload at loc, then
// warns if sym was already declared extern -- the definition still
// stands, it's only ever a warning.
func (o *Object) DefineLabel(sym *symbol.Symbol, loc ids.Location, curpos bool, defLoc ids.Location) error {
	if err := sym.DefineLabel(loc, curpos, defLoc); err != nil {
		return err
	}
	o.warnIfExternThenDefined(sym)
	return nil
}

// DefineEqu gives sym an EQU payload, then warns if sym was already
// declared extern.
func (o *Object) DefineEqu(sym *symbol.Symbol, e *expr.Expr, loc ids.Location) error {
	if err := sym.DefineEqu(e, loc); err != nil {
		return err
	}
	o.warnIfExternThenDefined(sym)
	return nil
}

// DefineSpecial marks sym as an opaque architecture/object-format
// built-in, then warns if sym was already declared extern.
func (o *Object) DefineSpecial(sym *symbol.Symbol, name string) error {
	if err := sym.DefineSpecial(name); err != nil {
		return err
	}
	o.warnIfExternThenDefined(sym)
	return nil
}

// AbsoluteSymbol returns the object's absolute symbol: the anonymous ("")
// general-table entry, defined (the first time anything asks for it) as
// an EQU of zero. It plays the same role as yasm's
// Object::getAbsoluteSymbol() -- a fixed zero-valued anchor subtractive-
// relative Values can resolve against once a reference leaves bytecode
// coordinates for the object's own address space.
func (o *Object) AbsoluteSymbol() (*symbol.Symbol, ids.SymbolID) {
	sym, id, _ := o.General.Insert("")
	if sym.Status&symbol.Defined == 0 {
		zero := expr.Ident(expr.IntTerm(intnum.FromInt64(0)))
		_ = o.DefineEqu(sym, zero, ids.Location{})
	}
	return sym, id
}

func (o *Object) warnIfExternThenDefined(sym *symbol.Symbol) {
	if !sym.DeclareExternThenDefine() {
		return
	}
	o.Diag.Warn(diag.CodeExternButDefined, diag.Location{File: o.SourceFile}, "%q was declared extern but is also defined here", sym.Name)
}

// Finalize resolves every fixup's Value against the current symbol
// tables. It is a pass boundary: it stops as soon as any error has been
// recorded.
func (o *Object) Finalize() error {
	for _, s := range o.Sections() {
		for i := 0; i < s.Bytecodes.Len(); i++ {
			bc := s.Bytecodes.At(i)
			for fi := range bc.Fixups {
				fx := &bc.Fixups[fi]
				prevLoc := fx.Loc
				if err := fx.Value.Finalize(o, prevLoc); err != nil {
					o.Diag.Error(diag.CodeTooComplex, diag.Location{File: o.SourceFile}, "%v", err)
					return o.Diag.Err()
				}
			}
		}
		if o.Diag.ErrCount() > 0 {
			return o.Diag.Err()
		}
	}
	return nil
}

// Optimize runs the span-dependency pass over every section. It is a
// successful no-op if no Optimizer has been attached, so
// object-model-only tests don't need to construct one.
func (o *Object) Optimize() error {
	if o.Opt == nil {
		return nil
	}
	if err := o.Opt.Optimize(o); err != nil {
		return err
	}
	return o.Diag.Err()
}

// Output writes the finished object through the attached ObjFmt.
func (o *Object) Output(w io.Writer) error {
	if o.ObjFmt == nil {
		return fmt.Errorf("object: no object format attached")
	}
	if err := o.ObjFmt.Write(w, o); err != nil {
		return err
	}
	return o.Diag.Err()
}

// registerStandardDirectives wires up the directives a front end is
// expected to dispatch into the core: extern, global, common, section,
// absolute, align, org, ident.
func (o *Object) registerStandardDirectives() {
	visDirective := func(vis symbol.Visibility) DirectiveHandler {
		return func(obj *Object, name string, vals, objVals []string, loc diag.Location) error {
			if len(vals) == 0 {
				return fmt.Errorf("object: %s requires a symbol name", name)
			}
			sym, _, _ := obj.General.Insert(vals[0])
			if err := sym.DeclareVisibility(vis); err != nil {
				obj.Diag.Error(diag.CodeRedefinition, loc, "%v", err)
				return err
			}
			return nil
		}
	}
	o.RegisterDirective(Directive{Name: "extern", Handler: visDirective(symbol.Extern), Flags: FlagIDRequired})
	o.RegisterDirective(Directive{Name: "global", Handler: visDirective(symbol.Global), Flags: FlagIDRequired})
	o.RegisterDirective(Directive{Name: "common", Handler: visDirective(symbol.Common), Flags: FlagIDRequired})

	o.RegisterDirective(Directive{
		Name: "section",
		Flags: FlagIDRequired,
		Handler: func(obj *Object, name string, vals, objVals []string, loc diag.Location) error {
			if len(vals) == 0 {
				return fmt.Errorf("object: section directive requires a name")
			}
			if obj.SetCurrentSection(vals[0]) {
				return nil
			}
			if obj.ObjFmt == nil {
				return fmt.Errorf("object: no object format attached to create section %q", vals[0])
			}
			s, err := obj.ObjFmt.SectionSwitch(obj, vals[0], append(vals[1:], objVals...), loc)
			if err != nil {
				return err
			}
			obj.AddSection(s)
			return nil
		},
	})

	o.RegisterDirective(Directive{
		Name: "absolute",
		Flags: FlagArgRequired,
		Handler: func(obj *Object, name string, vals, objVals []string, loc diag.Location) error {
			if len(vals) == 0 {
				return fmt.Errorf("object: absolute directive requires a target address")
			}
			target, err := strconv.ParseUint(vals[0], 0, 64)
			if err != nil {
				return fmt.Errorf("object: invalid absolute target %q: %w", vals[0], err)
			}
			obj.AbsoluteSymbol() // force it into existence, as yasm's getAbsoluteSymbol does
			secName := fmt.Sprintf(".absolute.%x", target)
			if obj.SetCurrentSection(secName) {
				return nil
			}
			s := section.New(secName)
			s.BSS = true
			s.Absolute = true
			s.VMA = target
			s.LMA = target
			obj.AddSection(s)
			return nil
		},
	})

	o.RegisterDirective(Directive{
		Name: "ident",
		Flags: FlagAny,
		Handler: func(obj *Object, name string, vals, objVals []string, loc diag.Location) error {
			return nil
		},
	})

	o.RegisterDirective(Directive{
		Name: "align",
		Flags: FlagArgRequired,
		Handler: func(obj *Object, name string, vals, objVals []string, loc diag.Location) error {
			if len(vals) == 0 {
				return fmt.Errorf("object: align directive requires a boundary")
			}
			boundary, err := strconv.ParseUint(vals[0], 0, 64)
			if err != nil {
				return fmt.Errorf("object: invalid align boundary %q: %w", vals[0], err)
			}
			s := obj.CurrentSection()
			if s == nil {
				return fmt.Errorf("object: align directive outside any section")
			}
			bc := s.Bytecodes.AppendFresh()
			bc.Container = s.ID()
			a := &bytecode.Align{Boundary: boundary}
			if s.Code && obj.Arch != nil {
				a.CodeFillFn = obj.Arch.GetFill
			}
			bc.Tail = a
			return nil
		},
	})

	o.RegisterDirective(Directive{
		Name: "org",
		Flags: FlagArgRequired,
		Handler: func(obj *Object, name string, vals, objVals []string, loc diag.Location) error {
			if len(vals) == 0 {
				return fmt.Errorf("object: org directive requires a target address")
			}
			target, err := strconv.ParseUint(vals[0], 0, 64)
			if err != nil {
				return fmt.Errorf("object: invalid org target %q: %w", vals[0], err)
			}
			s := obj.CurrentSection()
			if s == nil {
				return fmt.Errorf("object: org directive outside any section")
			}
			bc := s.Bytecodes.AppendFresh()
			bc.Container = s.ID()
			bc.Tail = &bytecode.Org{Target: target}
			return nil
		},
	})
}
