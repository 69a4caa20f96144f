// Package value implements Value, the size-in-bits slot: absolute
// expression + relative symbol - subtracted symbol, right-shifted,
// optionally WRT/seg-of/section-relative/pc-relative, feeding either a
// direct byte emission or a relocation request.
//
// Finalize's term-scanning keeps the four legal patterns a yasm-style
// value_finalize_scan recognizes (bare ADD scan, SHR-with-constant-RHS,
// SEG-of-single-symbol, WRT-of-register-or-symbol) but expresses them as a
// small explicit case analysis over an already-simplified Expr instead of
// a recursive bitmask-tracking walk. Deeply nested expressions with
// multiple WRT operators or SEG inside subtractive pairs are a known
// hazard, so this implementation only accepts a fixed set of legal
// patterns and rejects everything else as TooComplex rather than
// guessing at inconsistent corner cases.
package value

import (
	"fmt"

	"github.com/xyproto/asmcore/expr"
	"github.com/xyproto/asmcore/fpnum"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/intnum"
)

// MaxRShift is the bound on Value.RShift: at most 127.
const MaxRShift = 127

// ErrTooComplex is returned by Finalize when the absolute expression does
// not match one of the legal relative-term patterns.
var ErrTooComplex = fmt.Errorf("value: expression too complex to reduce to a single relative term")

// ErrOutOfRange is returned when rshift would exceed MaxRShift.
var ErrOutOfRange = fmt.Errorf("value: rshift exceeds maximum of %d", MaxRShift)

// SymbolLookup answers the questions Finalize needs about a symbol without
// importing package symbol.
type SymbolLookup interface {
	// SectionOf returns the section a symbol's label lives in, or the
	// zero SectionID and false if the symbol has no label (not yet
	// resolvable to a section).
	SectionOf(ids.SymbolID) (ids.SectionID, bool)
	// IsCurpos reports whether the symbol is a curpos ("$") label.
	IsCurpos(ids.SymbolID) bool
}

// Value is the size-in-bits slot.
type Value struct {
	SizeBits uint

	Abs *expr.Expr // absolute expression (after Finalize: never contains the relative term)

	Rel       ids.SymbolID // relative symbol, zero value if none
	HasRel    bool
	Sub       ids.SymbolID // subtracted symbol in a (sym - sym) pair
	HasSub    bool

	WRT    ids.SymbolID
	HasWRT bool

	RShift uint

	SegOf        bool
	SectionRel   bool
	CurposRel    bool
	IPRel        bool
	JumpTarget   bool
	NextInsnOff  bool
	Signed       bool

	// CurposLoc pins down the "current position" this value is relative
	// to, once CurposRel is set.
	CurposLoc ids.Location
}

// New builds an empty Value of the given bit size.
func New(sizeBits uint) *Value { return &Value{SizeBits: sizeBits} }

// NewAbs builds a Value seeded with an absolute expression.
func NewAbs(sizeBits uint, e *expr.Expr) *Value { return &Value{SizeBits: sizeBits, Abs: e} }

// NewRel builds a Value seeded with a single relative symbol.
func NewRel(sizeBits uint, sym ids.SymbolID) *Value {
	return &Value{SizeBits: sizeBits, Rel: sym, HasRel: true}
}

// Finalize transforms an arbitrary absolute expression into Value's
// canonical form. sym is used to test whether two
// symbols in a subtraction pair share a section. prevLoc is the location
// treated as "here" for a subtraction pair that collapses to a curpos
// reference.
func (v *Value) Finalize(sym SymbolLookup, prevLoc ids.Location) error {
	if v.Abs == nil {
		return nil
	}
	v.Abs.Simplify()

	if seg, ok := v.Abs.ExtractSegOff(); ok {
		// SEG of a single symbol.
		symID, ok := seg.GetSymbol()
		if !ok {
			return ErrTooComplex
		}
		if v.HasRel {
			return ErrTooComplex
		}
		v.Rel = symID
		v.HasRel = true
		v.SegOf = true
		v.Abs.Simplify()
		v.normalizeZero()
		return nil
	}

	if wrt, ok := v.Abs.ExtractWRT(); ok {
		if reg, ok := wrt.GetReg(); ok {
			_ = reg // left as-is for the architecture to encode
		} else if symID, ok := wrt.GetSymbol(); ok {
			v.WRT = symID
			v.HasWRT = true
		} else {
			return ErrTooComplex
		}
		v.Abs.Simplify()
	}

	if err := v.scanForRelative(sym, prevLoc); err != nil {
		return err
	}

	v.Abs.Simplify()
	v.normalizeZero()
	return nil
}

// normalizeZero drops the absolute expression entirely when it simplifies
// to integer 0.
func (v *Value) normalizeZero() {
	if v.Abs == nil {
		return
	}
	if n, ok := v.Abs.GetIntNum(); ok && n.Sign() == 0 {
		v.Abs = nil
	}
}

// scanForRelative implements the ADD / SHR legal patterns for locating
// the single relative term in an absolute expression. It mutates v.Abs in
// place, replacing the scanned symbol term(s) with zero.
func (v *Value) scanForRelative(sym SymbolLookup, prevLoc ids.Location) error {
	e := v.Abs
	if e == nil {
		return nil
	}

	if e.Op == expr.SHR && len(e.Terms) == 2 {
		rhs := e.Terms[1]
		var rshiftAmt *intnum.IntNum
		if rhs.Kind == expr.TermInt {
			rshiftAmt = rhs.Int
		} else {
			return ErrTooComplex
		}
		amt, ok := rshiftAmt.Int64()
		if !ok || amt < 0 {
			return ErrTooComplex
		}
		if v.RShift+uint(amt) > MaxRShift {
			return ErrOutOfRange
		}
		lhs := e.Terms[0]
		symID, isSym := lhsSymbol(lhs)
		if !isSym {
			return ErrTooComplex
		}
		if v.HasRel {
			return ErrTooComplex
		}
		v.Rel = symID
		v.HasRel = true
		v.RShift += uint(amt)
		v.Abs = expr.New(expr.IDENT, expr.IntTerm(intnum.FromInt64(0)))
		return nil
	}

	if e.Op != expr.ADD && e.Op != expr.IDENT {
		return ErrTooComplex
	}

	terms := e.Terms
	used := make([]bool, len(terms))

	// First pass: (-1 * sym_a) + sym_b term pairs in the same section
	// become a relative/subtracted symbol pair whose distance the
	// optimizer resolves once bytecode offsets are known. We look for MUL(-1,
	// sym) sub-expressions; the distance itself is NOT computed here --
	// Finalize runs before Optimize, so no offsets exist yet.
	for i, t := range terms {
		negSym, ok := negatedSymbol(t)
		if !ok {
			continue
		}
		sectA, haveSectA := sym.SectionOf(negSym)
		matched := false
		for j, t2 := range terms {
			if used[j] || j == i {
				continue
			}
			if t2.Kind != expr.TermSymbol {
				continue
			}
			sectB, haveSectB := sym.SectionOf(t2.Symbol)
			if haveSectA && haveSectB && sectA == sectB {
				if v.HasRel || v.HasSub {
					return ErrTooComplex
				}
				used[i], used[j] = true, true
				v.Rel, v.HasRel = t2.Symbol, true
				v.Sub, v.HasSub = negSym, true
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		// Unmatched -sym: only legal if it is a curpos reference or a
		// symbol with no section, producing a PC-relative value; any
		// other unmatched -sym is TooComplex.
		if !sym.IsCurpos(negSym) && haveSectA {
			return ErrTooComplex
		}
		if sym.IsCurpos(negSym) || !haveSectA {
			if v.HasRel {
				return ErrTooComplex
			}
			used[i] = true
			v.CurposRel = true
			v.CurposLoc = prevLoc
			// leave the positive counterpart, if any, to the second
			// pass below; if none exists the value is purely
			// curpos-relative (rel stays unset, abs stays as 0).
		}
	}

	// Second pass: any remaining unmatched bare symbol term becomes the
	// relative portion.
	for i, t := range terms {
		if used[i] || t.Kind != expr.TermSymbol {
			continue
		}
		if v.HasRel {
			return ErrTooComplex
		}
		v.Rel = t.Symbol
		v.HasRel = true
		used[i] = true
	}

	// Rebuild Abs with used terms replaced by zero.
	newTerms := make([]expr.Term, 0, len(terms))
	for i, t := range terms {
		if used[i] {
			continue
		}
		if negatedID, ok := negatedSymbol(t); ok && used[indexOfNegated(terms, negatedID)] {
			continue
		}
		newTerms = append(newTerms, t)
	}
	if len(newTerms) == 0 {
		v.Abs = expr.New(expr.IDENT, expr.IntTerm(intnum.FromInt64(0)))
	} else {
		v.Abs = expr.New(expr.ADD, newTerms...)
		v.Abs.Simplify()
	}
	return nil
}

func lhsSymbol(t expr.Term) (ids.SymbolID, bool) {
	if t.Kind == expr.TermSymbol {
		return t.Symbol, true
	}
	return ids.SymbolID{}, false
}

// negatedSymbol reports whether t is a MUL(-1, sym) sub-expression.
func negatedSymbol(t expr.Term) (ids.SymbolID, bool) {
	if t.Kind != expr.TermExpr || t.Sub.Op != expr.MUL || len(t.Sub.Terms) != 2 {
		return ids.SymbolID{}, false
	}
	a, b := t.Sub.Terms[0], t.Sub.Terms[1]
	if a.Kind == expr.TermInt {
		if v, ok := a.Int.Int64(); ok && v == -1 && b.Kind == expr.TermSymbol {
			return b.Symbol, true
		}
	}
	if b.Kind == expr.TermInt {
		if v, ok := b.Int.Int64(); ok && v == -1 && a.Kind == expr.TermSymbol {
			return a.Symbol, true
		}
	}
	return ids.SymbolID{}, false
}

func indexOfNegated(terms []expr.Term, id ids.SymbolID) int {
	for i, t := range terms {
		if negID, ok := negatedSymbol(t); ok && negID == id {
			return i
		}
	}
	return -1
}

// ArchEmitter is the narrow slice of architecture interface that
// OutputBasic needs: turning a resolved integer or float into bytes with
// the architecture's endianness and overflow-warning conventions.
type ArchEmitter interface {
	IntToBytes(n *intnum.IntNum, dest []byte, valueBits uint, shift int, signed bool) intnum.OverflowKind
	FloatToBytes(f *fpnum.FloatNum, dest []byte, valueBits uint) error
}

// OutputBasic emits the value into dest when the relative portion is
// either absent or resolvable locally. It
// returns (wrote, err): wrote is false (with err nil) when the object
// format must generate a relocation instead.
func (v *Value) OutputBasic(dest []byte, locOffset uint64, arch ArchEmitter, relOffset int64, relExternal bool) (wrote bool, err error) {
	if v.HasRel && (relExternal || v.HasWRT || v.RShift > 0 || v.SegOf || v.SectionRel || v.HasSub) {
		return false, nil
	}

	if v.HasRel {
		n, ok := v.Abs.GetIntNum()
		var absInt *intnum.IntNum
		if v.Abs == nil {
			absInt = intnum.FromInt64(0)
		} else if ok {
			absInt = n
		} else {
			return false, nil
		}
		total := intnum.Add(absInt, intnum.FromInt64(relOffset))
		if v.CurposRel {
			total = intnum.Sub(total, intnum.FromInt64(int64(locOffset)))
		}
		if v.RShift > 0 {
			total = intnum.Shr(total, v.RShift)
		}
		overflow := arch.IntToBytes(total, dest, v.SizeBits, 0, v.Signed)
		_ = overflow
		return true, nil
	}

	if v.Abs == nil {
		arch.IntToBytes(intnum.FromInt64(0), dest, v.SizeBits, 0, v.Signed)
		return true, nil
	}

	if f, ok := v.Abs.GetFloat(); ok {
		if err := arch.FloatToBytes(f, dest, v.SizeBits); err != nil {
			return false, err
		}
		return true, nil
	}

	n, ok := v.Abs.GetIntNum()
	if !ok {
		return false, ErrTooComplex
	}
	arch.IntToBytes(n, dest, v.SizeBits, 0, v.Signed)
	return true, nil
}
