// Package ids holds the small cross-cutting index types shared by expr,
// symbol, bytecode, section and value. Splitting them out avoids an
// import cycle that would otherwise exist because Expr terms can
// reference symbols and locations, while Symbol's EQU payload owns an
// Expr: both sides need the other's handle type but neither needs the
// other's full definition.
package ids

import "github.com/xyproto/asmcore/arena"

// SymbolID addresses a Symbol inside an Object's symbol arena.
type SymbolID = arena.ID

// BytecodeID addresses a Bytecode inside a Section's bytecode arena.
type BytecodeID = arena.ID

// SectionID addresses a Section inside an Object's section arena.
type SectionID = arena.ID

// Location is a (bytecode, offset) pair identifying a byte position.
// CalcDist(a, b) is implemented in package section once bytecode offsets
// are known, since only a Section can answer "are these two bytecodes in
// the same section."
type Location struct {
	Bytecode BytecodeID
	Section  SectionID
	Offset   uint64 // byte offset within the bytecode's fixed head
}

// Valid reports whether the location refers to a real bytecode.
func (l Location) Valid() bool { return l.Bytecode.Valid() }
