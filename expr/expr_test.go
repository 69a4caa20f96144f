package expr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/intnum"
)

func TestLevelTreeFoldsConstants(t *testing.T) {
	e := New(ADD, IntTerm(intnum.FromInt64(2)), IntTerm(intnum.FromInt64(3)), IntTerm(intnum.FromInt64(4)))
	require.NoError(t, e.LevelTree(nil, true, true, false, nil))
	n, ok := e.GetIntNum()
	require.True(t, ok)
	v, _ := n.Int64()
	require.Equal(t, int64(9), v)
}

func TestLevelTreeExpandsEqu(t *testing.T) {
	sym := ids.SymbolID{}
	resolver := func(id ids.SymbolID) (*Expr, bool) {
		if id == sym {
			return Ident(IntTerm(intnum.FromInt64(10))), true
		}
		return nil, false
	}
	e := New(ADD, SymbolTerm(sym), IntTerm(intnum.FromInt64(5)))
	require.NoError(t, e.LevelTree(resolver, true, true, false, nil))
	n, ok := e.GetIntNum()
	require.True(t, ok)
	v, _ := n.Int64()
	require.Equal(t, int64(15), v)
}

func TestLevelTreeDetectsCircularEqu(t *testing.T) {
	sym := ids.SymbolID{}
	resolver := func(id ids.SymbolID) (*Expr, bool) {
		if id == sym {
			return Ident(SymbolTerm(sym)), true
		}
		return nil, false
	}
	e := Ident(SymbolTerm(sym))
	err := e.LevelTree(resolver, true, true, false, nil)
	require.Error(t, err)
	var circ *ErrCircularEqu
	require.ErrorAs(t, err, &circ)
}

func TestRewriteNegTurnsSubIntoAddOfNegatedMul(t *testing.T) {
	e := New(SUB, IntTerm(intnum.FromInt64(10)), IntTerm(intnum.FromInt64(3)))
	require.NoError(t, e.LevelTree(nil, true, true, false, nil))
	n, ok := e.GetIntNum()
	require.True(t, ok)
	v, _ := n.Int64()
	require.Equal(t, int64(7), v)
}

func TestSimplifyIdentitiesDropsAddZero(t *testing.T) {
	reg := New(ADD, RegTerm("eax"), IntTerm(intnum.FromInt64(0)))
	require.NoError(t, reg.LevelTree(nil, true, true, false, nil))
	r, ok := reg.GetReg()
	require.True(t, ok)
	require.Equal(t, "eax", r)
}

func TestOrderTermsSortsCommutativeByRank(t *testing.T) {
	e := New(ADD, IntTerm(intnum.FromInt64(1)), RegTerm("eax"), SymbolTerm(ids.SymbolID{}))
	e.OrderTerms()
	require.Equal(t, TermReg, e.Terms[0].Kind)
	require.Equal(t, TermInt, e.Terms[1].Kind)
	require.Equal(t, TermSymbol, e.Terms[2].Kind)
}

func TestOrderTermsLeavesNonCommutativeAlone(t *testing.T) {
	sub := New(SUB, IntTerm(intnum.FromInt64(1)), IntTerm(intnum.FromInt64(2)))
	orig := append([]Term{}, sub.Terms...)
	sub.OrderTerms()
	require.Equal(t, orig, sub.Terms, "non-commutative op's term order must be untouched")
}

func TestExtractWRT(t *testing.T) {
	e := New(WRT, SymbolTerm(ids.SymbolID{}), RegTerm("rip"))
	inner, ok := e.ExtractWRT()
	require.True(t, ok)
	require.NotNil(t, inner)
}

func TestSubstitute(t *testing.T) {
	e := New(ADD, SubstTerm(0), IntTerm(intnum.FromInt64(1)))
	err := e.Substitute([]Term{IntTerm(intnum.FromInt64(41))})
	require.NoError(t, err)
	require.NoError(t, e.LevelTree(nil, true, true, false, nil))
	n, ok := e.GetIntNum()
	require.True(t, ok)
	v, _ := n.Int64()
	require.Equal(t, int64(42), v)
}

func TestCloneIsDeep(t *testing.T) {
	e := New(ADD, IntTerm(intnum.FromInt64(1)), IntTerm(intnum.FromInt64(2)))
	c := e.Clone()
	c.Terms[0] = IntTerm(intnum.FromInt64(99))
	n, ok := e.Terms[0].Int.Int64()
	require.True(t, ok)
	require.Equal(t, int64(1), n, "mutating the clone must not affect the original")
}
