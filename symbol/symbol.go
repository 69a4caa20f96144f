// Package symbol implements Symbol and SymbolTable. The table is a
// hash-array-mapped trie (HAMT), grounded in flapc's hand-rolled hash map
// (hashmap.go FlapHashMap/FlapHashBucket) but generalized from its flat
// bucket-chaining scheme to a branching-trie-with-popcount structure,
// since a flat table can't give the O(log32 n) "rehash when 32 bits are
// exhausted" behavior needed for pathologically large symbol tables.
package symbol

import (
	"fmt"

	"github.com/xyproto/asmcore/expr"
	"github.com/xyproto/asmcore/ids"
)

// Status bits.
type Status uint8

const (
	Used Status = 1 << iota
	Defined
	Valued
)

// Visibility bits. Mutually constrained: Local/Global/Common/Extern are
// not all simultaneously legal.
type Visibility uint8

const (
	Local Visibility = 1 << iota
	Global
	Common
	Extern
)

// exclusive reports whether adding `add` to `existing` would violate the
// mutual-exclusion rule. Common and Extern are mutually exclusive with
// each other (a symbol can't simultaneously be a common block and an
// external reference); Local simply means "none of the others," so it
// never conflicts.
func (v Visibility) exclusive(add Visibility) bool {
	bad := (v|add)&Common != 0 && (v|add)&Extern != 0
	return bad
}

// PayloadKind selects which of Symbol's payload fields is meaningful.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadEqu
	PayloadLabel
	PayloadCurpos
	PayloadSpecial
)

// Symbol is an interned name with exactly one payload once Defined. The
// empty name is the anonymous absolute-zero sentinel.
type Symbol struct {
	Name       string
	Status     Status
	Visibility Visibility
	Payload    PayloadKind

	Equ     *expr.Expr
	Label   ids.Location
	Special string

	DefLoc  ids.Location // where it was (last) defined, for diagnostics
	declLoc ids.Location // where Extern/Common was first declared
	hasDecl bool
}

// IsAnonymous reports whether this is the absolute-zero sentinel.
func (s *Symbol) IsAnonymous() bool { return s.Name == "" }

// ErrRedefinition is returned when a second Define call on an already-
// Defined symbol conflicts with its existing definition.
type ErrRedefinition struct{ Name string }

func (e *ErrRedefinition) Error() string { return fmt.Sprintf("redefinition of %q", e.Name) }

// ErrVisibilityConflict is returned when a visibility transition would
// produce a mutually-exclusive pair (e.g. both Common and Extern).
type ErrVisibilityConflict struct {
	Name         string
	Existing, New Visibility
}

func (e *ErrVisibilityConflict) Error() string {
	return fmt.Sprintf("symbol %q: visibility %v conflicts with existing %v", e.Name, e.New, e.Existing)
}

// DeclareVisibility adds vis to the symbol's visibility set, failing if
// the union would be mutually exclusive: visibility transitions are
// legal only if (new ∪ existing) is not mutually exclusive.
func (s *Symbol) DeclareVisibility(vis Visibility) error {
	if s.Visibility.exclusive(vis) {
		return &ErrVisibilityConflict{Name: s.Name, Existing: s.Visibility, New: vis}
	}
	s.Visibility |= vis
	return nil
}

// DefineEqu gives the symbol an EQU payload.
func (s *Symbol) DefineEqu(e *expr.Expr, loc ids.Location) error {
	if s.Status&Defined != 0 {
		return &ErrRedefinition{Name: s.Name}
	}
	s.Payload = PayloadEqu
	s.Equ = e
	s.Status |= Defined | Valued
	s.DefLoc = loc
	return nil
}

// DefineLabel gives the symbol a Label payload. curpos marks it as a curpos label so Value resolution can
// rewrite (expr - curpos) into a PC-relative relocation.
func (s *Symbol) DefineLabel(loc ids.Location, curpos bool, defLoc ids.Location) error {
	if s.Status&Defined != 0 {
		return &ErrRedefinition{Name: s.Name}
	}
	if curpos {
		s.Payload = PayloadCurpos
	} else {
		s.Payload = PayloadLabel
	}
	s.Label = loc
	s.Status |= Defined
	s.DefLoc = defLoc
	return nil
}

// DefineSpecial marks the symbol as an opaque architecture/object-format
// built-in.
func (s *Symbol) DefineSpecial(name string) error {
	if s.Status&Defined != 0 {
		return &ErrRedefinition{Name: s.Name}
	}
	s.Payload = PayloadSpecial
	s.Special = name
	s.Status |= Defined
	return nil
}

// DeclareExternThenDefine is called when a symbol previously declared
// Extern is later given a definition. This emits a warning but still uses
// the definition, so this function never itself returns an error -- it
// only reports whether the caller should warn.
func (s *Symbol) DeclareExternThenDefine() bool {
	return s.Visibility&Extern != 0 && s.Status&Defined != 0
}

// IsCurpos reports whether this is a curpos-marked label.
func (s *Symbol) IsCurpos() bool { return s.Payload == PayloadCurpos }
