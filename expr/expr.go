// Package expr implements Expr, the ordered operator tree over
// IntNum/FloatNum/Symbol/Register/Location terms.
package expr

import (
	"fmt"

	"github.com/xyproto/asmcore/fpnum"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/intnum"
)

// Op identifies the operator at a node. IDENT is the trivial "wrap a
// single term" operator used for leaves and for single-term results after
// simplification collapses a larger tree.
type Op int

const (
	IDENT Op = iota
	ADD
	SUB
	MUL
	DIV
	SIGNDIV
	MOD
	SIGNMOD
	NEG
	NOT
	OR
	AND
	XOR
	SHL
	SHR
	LOR
	LAND
	LNOT
	LT
	GT
	EQ
	LE
	GE
	NE
	SEG
	WRT
	SEGOFF
)

// commutative reports whether Op's term order is semantically irrelevant,
// the precondition for OrderTerms to touch a node.
func (o Op) commutative() bool {
	switch o {
	case ADD, MUL, OR, AND, XOR, LOR, LAND, EQ, NE:
		return true
	default:
		return false
	}
}

func (o Op) associative() bool {
	switch o {
	case ADD, MUL, OR, AND, XOR:
		return true
	default:
		return false
	}
}

// TermKind identifies which variant a Term holds.
type TermKind int

const (
	TermReg TermKind = iota
	TermInt
	TermFloat
	TermSymbol
	TermLoc
	TermSubst
	TermExpr
)

// rank gives the canonical ordering OrderTerms sorts commutative
// operands into.
func (k TermKind) rank() int {
	switch k {
	case TermReg:
		return 0
	case TermInt:
		return 1
	case TermFloat:
		return 2
	case TermSymbol, TermLoc:
		return 3
	default:
		return 4
	}
}

// Term is one operand of an Expr node. Exactly one field is meaningful,
// selected by Kind -- a tagged union expressed as a struct of optional
// fields rather than an interface, since terms are small, copied often
// during simplification, and never need dynamic dispatch.
type Term struct {
	Kind TermKind

	Reg    string // architecture register name, opaque to this package
	Int    *intnum.IntNum
	Float  *fpnum.FloatNum
	Symbol ids.SymbolID
	Loc    ids.Location // direct bytecode reference + offset
	Subst  int          // substitution placeholder index
	Sub    *Expr        // owned sub-expression
}

func RegTerm(name string) Term           { return Term{Kind: TermReg, Reg: name} }
func IntTerm(v *intnum.IntNum) Term      { return Term{Kind: TermInt, Int: v} }
func FloatTerm(v *fpnum.FloatNum) Term   { return Term{Kind: TermFloat, Float: v} }
func SymbolTerm(id ids.SymbolID) Term    { return Term{Kind: TermSymbol, Symbol: id} }
func LocTerm(l ids.Location) Term        { return Term{Kind: TermLoc, Loc: l} }
func SubstTerm(idx int) Term             { return Term{Kind: TermSubst, Subst: idx} }
func ExprTerm(e *Expr) Term              { return Term{Kind: TermExpr, Sub: e} }

func (t Term) clone() Term {
	c := t
	if t.Int != nil {
		c.Int = t.Int.Clone()
	}
	if t.Sub != nil {
		c.Sub = t.Sub.Clone()
	}
	return c
}

// Expr is one node: an operator plus its ordered term list. Sub-expressions
// are owned.
type Expr struct {
	Op    Op
	Terms []Term
}

// New builds a node. IDENT with a single term is the common "wrap a leaf"
// shape.
func New(op Op, terms ...Term) *Expr {
	return &Expr{Op: op, Terms: terms}
}

// Ident wraps a single term in an IDENT node.
func Ident(t Term) *Expr { return New(IDENT, t) }

// Clone deep-copies the tree.
func (e *Expr) Clone() *Expr {
	if e == nil {
		return nil
	}
	terms := make([]Term, len(e.Terms))
	for i, t := range e.Terms {
		terms[i] = t.clone()
	}
	return &Expr{Op: e.Op, Terms: terms}
}

// EquResolver looks up the defining expression of a symbol if it is an
// EQU. It is supplied by package symbol at the call site so expr never
// imports symbol, breaking what would otherwise be an import cycle
// (package ids documents why).
type EquResolver func(ids.SymbolID) (*Expr, bool)

// ErrCircularEqu is returned by LevelTree when EQU expansion revisits a
// symbol already on the current expansion path.
type ErrCircularEqu struct {
	Symbol ids.SymbolID
}

func (e *ErrCircularEqu) Error() string {
	return fmt.Sprintf("circular EQU definition involving symbol %v", e.Symbol)
}

// ExtraXform is a per-node hook invoked during LevelTree's post-order
// walk, used by the optimizer to fold bytecode-to-bytecode distances into
// constants once offsets are known.
type ExtraXform func(*Expr) *Expr

// LevelTree implements the core transform: EQU expansion, optional
// constant folding, associative flattening, NEG->MUL(-1,x) rewriting,
// optional identity simplification, and a final per-node extraXform pass.
func (e *Expr) LevelTree(equ EquResolver, foldConst, simplifyIdent, simplifyRegMul bool, extraXform ExtraXform) error {
	if err := e.expandEqu(equ, map[ids.SymbolID]bool{}); err != nil {
		return err
	}
	e.rewriteNeg()
	e.flattenAssoc()
	if foldConst {
		e.foldConstants()
	}
	if simplifyIdent {
		e.simplifyIdentities(simplifyRegMul)
	}
	if extraXform != nil {
		e.applyExtraXform(extraXform)
	}
	return nil
}

func (e *Expr) expandEqu(equ EquResolver, seen map[ids.SymbolID]bool) error {
	if e == nil || equ == nil {
		return nil
	}
	for i := range e.Terms {
		t := &e.Terms[i]
		switch t.Kind {
		case TermSymbol:
			if def, ok := equ(t.Symbol); ok {
				if seen[t.Symbol] {
					return &ErrCircularEqu{Symbol: t.Symbol}
				}
				seen[t.Symbol] = true
				cloned := def.Clone()
				if err := cloned.expandEqu(equ, seen); err != nil {
					return err
				}
				delete(seen, t.Symbol)
				t.Kind = TermExpr
				t.Sub = cloned
				t.Symbol = ids.SymbolID{}
			}
		case TermExpr:
			if err := t.Sub.expandEqu(equ, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewriteNeg turns NEG(x) into MUL(-1, x) and SUB
// chains into ADD of a negated MUL, so associative flattening can merge
// them: SUB(a,b) becomes ADD(a, MUL(-1,b)).
func (e *Expr) rewriteNeg() {
	if e == nil {
		return
	}
	for i := range e.Terms {
		if e.Terms[i].Kind == TermExpr {
			e.Terms[i].Sub.rewriteNeg()
		}
	}
	switch e.Op {
	case NEG:
		inner := termsToExpr(e.Terms)
		e.Op = MUL
		e.Terms = []Term{IntTerm(intnum.FromInt64(-1)), ExprTerm(inner)}
	case SUB:
		if len(e.Terms) == 0 {
			return
		}
		newTerms := []Term{e.Terms[0]}
		for _, t := range e.Terms[1:] {
			negated := New(MUL, IntTerm(intnum.FromInt64(-1)), termToExprTerm(t))
			newTerms = append(newTerms, ExprTerm(negated))
		}
		e.Op = ADD
		e.Terms = newTerms
	}
}

func termToExprTerm(t Term) Term {
	if t.Kind == TermExpr {
		return t
	}
	return ExprTerm(Ident(t))
}

func termsToExpr(terms []Term) *Expr {
	if len(terms) == 1 {
		return termToExprTerm(terms[0]).Sub
	}
	return New(ADD, terms...)
}

// flattenAssoc implements step 3: ADD(ADD(x,y),z) ->
// ADD(x,y,z), applied bottom-up to every associative node.
func (e *Expr) flattenAssoc() {
	if e == nil {
		return
	}
	for i := range e.Terms {
		if e.Terms[i].Kind == TermExpr {
			e.Terms[i].Sub.flattenAssoc()
		}
	}
	if !e.Op.associative() {
		return
	}
	var flat []Term
	for _, t := range e.Terms {
		if t.Kind == TermExpr && t.Sub.Op == e.Op {
			flat = append(flat, t.Sub.Terms...)
		} else {
			flat = append(flat, t)
		}
	}
	e.Terms = flat
}

// foldConstants evaluates integer-only subtrees bottom-up. A node folds when every term is a constant integer
// and its operator is ADD, MUL, OR, AND, XOR, DIV, MOD, SIGNDIV, SIGNMOD, a two-operand SHL/SHR, or an IDENT
// of one integer; nodes with any other operator (comparisons, logical operators, NOT, ...) are left unfolded.
func (e *Expr) foldConstants() {
	if e == nil {
		return
	}
	for i := range e.Terms {
		if e.Terms[i].Kind == TermExpr {
			e.Terms[i].Sub.foldConstants()
			if v, ok := e.Terms[i].Sub.asConstInt(); ok {
				e.Terms[i] = IntTerm(v)
			}
		}
	}
	if v, ok := e.tryFoldInts(); ok {
		e.Op = IDENT
		e.Terms = []Term{IntTerm(v)}
	}
}

func (e *Expr) asConstInt() (*intnum.IntNum, bool) {
	if e.Op == IDENT && len(e.Terms) == 1 && e.Terms[0].Kind == TermInt {
		return e.Terms[0].Int, true
	}
	return e.tryFoldInts()
}

func (e *Expr) tryFoldInts() (*intnum.IntNum, bool) {
	ints := make([]*intnum.IntNum, 0, len(e.Terms))
	for _, t := range e.Terms {
		if t.Kind != TermInt {
			return nil, false
		}
		ints = append(ints, t.Int)
	}
	if len(ints) == 0 {
		return nil, false
	}
	acc := ints[0].Clone()
	var err error
	for _, n := range ints[1:] {
		switch e.Op {
		case ADD:
			acc = intnum.Add(acc, n)
		case MUL:
			acc = intnum.Mul(acc, n)
		case OR:
			acc = intnum.Or(acc, n)
		case AND:
			acc = intnum.And(acc, n)
		case XOR:
			acc = intnum.Xor(acc, n)
		case DIV:
			acc, err = intnum.Div(acc, n)
		case MOD:
			acc, err = intnum.Mod(acc, n)
		case SIGNDIV:
			acc, err = intnum.SignDiv(acc, n)
		case SIGNMOD:
			acc, err = intnum.SignMod(acc, n)
		case SHL, SHR:
			// two-operand shifts are folded after this loop
		default:
			return nil, false
		}
		if err != nil {
			return nil, false
		}
	}
	switch e.Op {
	case SHL:
		if len(ints) == 2 {
			shift, _ := ints[1].Int64()
			return intnum.Shl(ints[0], uint(shift)), true
		}
		return nil, false
	case SHR:
		if len(ints) == 2 {
			shift, _ := ints[1].Int64()
			return intnum.Shr(ints[0], uint(shift)), true
		}
		return nil, false
	case IDENT:
		if len(ints) == 1 {
			return ints[0], true
		}
		return nil, false
	}
	return acc, true
}

// simplifyIdentities drops +0, *1, &~0, |0, ^0. When
// simplifyRegMul is also set, *1 on a register term is dropped too; some
// architectures need the multiplier preserved for effective-address
// encoding, which is why this is a caller-controlled flag rather than
// always-on.
func (e *Expr) simplifyIdentities(simplifyRegMul bool) {
	if e == nil {
		return
	}
	for i := range e.Terms {
		if e.Terms[i].Kind == TermExpr {
			e.Terms[i].Sub.simplifyIdentities(simplifyRegMul)
		}
	}
	switch e.Op {
	case ADD:
		e.Terms = filterTerms(e.Terms, func(t Term) bool {
			return !(t.Kind == TermInt && t.Int.Sign() == 0)
		})
	case MUL:
		hasReg := false
		for _, t := range e.Terms {
			if t.Kind == TermReg {
				hasReg = true
			}
		}
		e.Terms = filterTerms(e.Terms, func(t Term) bool {
			if t.Kind != TermInt {
				return true
			}
			v, ok := t.Int.Int64()
			if ok && v == 1 {
				// register*1 keeps its multiplier unless simplifyRegMul is set
				return hasReg && !simplifyRegMul
			}
			return true
		})
	case OR, XOR:
		e.Terms = filterTerms(e.Terms, func(t Term) bool {
			return !(t.Kind == TermInt && t.Int.Sign() == 0)
		})
	case AND:
		e.Terms = filterTerms(e.Terms, func(t Term) bool {
			if t.Kind != TermInt {
				return true
			}
			// &~0 (all-ones) is identity; we don't know bit width here
			// so only fold the literal all-bits-set convention -1.
			v, ok := t.Int.Int64()
			return !(ok && v == -1)
		})
	}
	if len(e.Terms) == 1 && e.Op != IDENT && (e.Op == ADD || e.Op == MUL || e.Op == OR || e.Op == AND || e.Op == XOR) {
		e.collapseToIdent()
	}
	if e.Op == IDENT && len(e.Terms) == 1 && e.Terms[0].Kind == TermExpr {
		inner := e.Terms[0].Sub
		e.Op = inner.Op
		e.Terms = inner.Terms
	}
}

func (e *Expr) collapseToIdent() {
	t := e.Terms[0]
	e.Op = IDENT
	e.Terms = []Term{t}
}

func filterTerms(terms []Term, keep func(Term) bool) []Term {
	out := terms[:0]
	for _, t := range terms {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func (e *Expr) applyExtraXform(fn ExtraXform) {
	if e == nil {
		return
	}
	for i := range e.Terms {
		if e.Terms[i].Kind == TermExpr {
			e.Terms[i].Sub.applyExtraXform(fn)
		}
	}
	if replaced := fn(e); replaced != nil && replaced != e {
		*e = *replaced
	}
}

// Simplify runs LevelTree with the common simplification-only settings
// (fold constants, simplify identities, no register-mul simplification,
// no EQU resolver, no extra transform) -- the "just normalize this tree"
// entry point used outside the optimizer.
func (e *Expr) Simplify() {
	_ = e.LevelTree(nil, true, true, false, nil)
}

// OrderTerms sorts the terms of commutative ops into canonical order
// (register, integer, float, symbol, expr) while preserving intra-kind
// order -- a stable sort, since deterministic, byte-identical output is
// required across runs. Never applied to non-commutative ops.
func (e *Expr) OrderTerms() {
	if e == nil {
		return
	}
	for i := range e.Terms {
		if e.Terms[i].Kind == TermExpr {
			e.Terms[i].Sub.OrderTerms()
		}
	}
	if !e.Op.commutative() {
		return
	}
	stableSortByRank(e.Terms)
}

func stableSortByRank(terms []Term) {
	// insertion sort: stable, and these lists are always small (a handful
	// of operands), so no need to reach for sort.SliceStable here.
	for i := 1; i < len(terms); i++ {
		for j := i; j > 0 && terms[j-1].Kind.rank() > terms[j].Kind.rank(); j-- {
			terms[j-1], terms[j] = terms[j], terms[j-1]
		}
	}
}

// GetIntNum returns the expression's value if, after Simplify, it is a
// single integer term.
func (e *Expr) GetIntNum() (*intnum.IntNum, bool) {
	if e != nil && e.Op == IDENT && len(e.Terms) == 1 && e.Terms[0].Kind == TermInt {
		return e.Terms[0].Int, true
	}
	return nil, false
}

// GetFloat returns the expression's value if it is a single float term.
func (e *Expr) GetFloat() (*fpnum.FloatNum, bool) {
	if e != nil && e.Op == IDENT && len(e.Terms) == 1 && e.Terms[0].Kind == TermFloat {
		return e.Terms[0].Float, true
	}
	return nil, false
}

// GetSymbol returns the expression's value if it is a single symbol term.
func (e *Expr) GetSymbol() (ids.SymbolID, bool) {
	if e != nil && e.Op == IDENT && len(e.Terms) == 1 && e.Terms[0].Kind == TermSymbol {
		return e.Terms[0].Symbol, true
	}
	return ids.SymbolID{}, false
}

// GetReg returns the expression's value if it is a single register term.
func (e *Expr) GetReg() (string, bool) {
	if e != nil && e.Op == IDENT && len(e.Terms) == 1 && e.Terms[0].Kind == TermReg {
		return e.Terms[0].Reg, true
	}
	return "", false
}

// ExtractSegOff peels a top-level SEGOFF operator, returning the right
// side (the segment-offset selector) while mutating *this into the left
// side. It fails (returns nil, false) if the top operator isn't SEGOFF.
func (e *Expr) ExtractSegOff() (*Expr, bool) { return e.extractBinaryOp(SEGOFF) }

// ExtractWRT is the equivalent peel for a top-level WRT operator.
func (e *Expr) ExtractWRT() (*Expr, bool) { return e.extractBinaryOp(WRT) }

func (e *Expr) extractBinaryOp(op Op) (*Expr, bool) {
	if e == nil || e.Op != op || len(e.Terms) != 2 {
		return nil, false
	}
	right := termToExprTerm(e.Terms[1]).Sub
	left := e.Terms[0]
	*e = *termToExprTerm(left).Sub
	return right, true
}

// Substitute replaces each substitution placeholder of index i with a
// clone of terms[i]. Out-of-range indices fail.
func (e *Expr) Substitute(terms []Term) error {
	if e == nil {
		return nil
	}
	for i := range e.Terms {
		switch e.Terms[i].Kind {
		case TermSubst:
			idx := e.Terms[i].Subst
			if idx < 0 || idx >= len(terms) {
				return fmt.Errorf("expr: substitution index %d out of range (have %d terms)", idx, len(terms))
			}
			e.Terms[i] = terms[idx].clone()
		case TermExpr:
			if err := e.Terms[i].Sub.Substitute(terms); err != nil {
				return err
			}
		}
	}
	return nil
}
