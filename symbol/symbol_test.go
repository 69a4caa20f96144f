package symbol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xyproto/asmcore/ids"
)

func TestInsertAndFindRoundTrip(t *testing.T) {
	tbl := NewTable(false, true)
	_, id1, inserted := tbl.Insert("foo")
	require.True(t, inserted)

	sym, id2, ok := tbl.Find("foo")
	require.True(t, ok)
	require.Equal(t, id1, id2)
	require.Equal(t, "foo", sym.Name)
}

func TestInsertReturnsExistingOnCollision(t *testing.T) {
	tbl := NewTable(false, true)
	sym1, id1, inserted1 := tbl.Insert("bar")
	require.True(t, inserted1)
	sym2, id2, inserted2 := tbl.Insert("bar")
	require.False(t, inserted2)
	require.Equal(t, id1, id2)
	require.Same(t, sym1, sym2)
}

func TestCaseInsensitiveFolding(t *testing.T) {
	tbl := NewTable(true, true)
	tbl.Insert("Label")
	_, _, ok := tbl.Find("LABEL")
	require.True(t, ok)
}

func TestCaseSensitiveDoesNotFold(t *testing.T) {
	tbl := NewTable(false, true)
	tbl.Insert("Label")
	_, _, ok := tbl.Find("LABEL")
	require.False(t, ok)
}

func TestRemove(t *testing.T) {
	tbl := NewTable(false, true)
	tbl.Insert("x")
	require.True(t, tbl.Remove("x"))
	_, _, ok := tbl.Find("x")
	require.False(t, ok)
	require.False(t, tbl.Remove("x"))
}

func TestGeneralTablePreservesInsertionOrder(t *testing.T) {
	tbl := NewTable(false, true)
	names := []string{"zebra", "apple", "mango", "banana"}
	for _, n := range names {
		tbl.Insert(n)
	}
	ids := tbl.Symbols()
	require.Len(t, ids, len(names))
	for i, id := range ids {
		sym := tbl.Get(id)
		require.Equal(t, names[i], sym.Name)
	}
}

func TestSpecialTableDoesNotTrackInsertionOrder(t *testing.T) {
	tbl := NewTable(false, false)
	tbl.Insert("b")
	tbl.Insert("a")
	require.Len(t, tbl.Symbols(), 2)
}

// TestManyEntriesAllFound inserts 5000 distinct keys and checks each is
// found again. No two of these keys share their first 30 hash bits, so
// none descends past level 6 and the rehash path is not reached here.
func TestManyEntriesAllFound(t *testing.T) {
	tbl := NewTable(false, true)
	const n = 5000
	for i := 0; i < n; i++ {
		tbl.Insert(fmt.Sprintf("sym_%d", i))
	}
	require.Equal(t, n, tbl.Len())
	for i := 0; i < n; i++ {
		_, _, ok := tbl.Find(fmt.Sprintf("sym_%d", i))
		require.True(t, ok, "symbol %d must be found", i)
	}
	require.False(t, func() bool { _, _, ok := tbl.Find("not_present"); return ok }())
}

func TestReplace(t *testing.T) {
	tbl := NewTable(false, true)
	_, id, _ := tbl.Insert("v")
	ok := tbl.Replace("v", Symbol{Name: "v", Status: Defined})
	require.True(t, ok)
	sym := tbl.Get(id)
	require.True(t, sym.Status&Defined != 0)

	require.False(t, tbl.Replace("missing", Symbol{}))
}

func TestDefineLabelRejectsRedefinition(t *testing.T) {
	sym := &Symbol{Name: "label"}
	require.NoError(t, sym.DefineLabel(ids.Location{Offset: 4}, false, ids.Location{}))
	err := sym.DefineLabel(ids.Location{Offset: 8}, false, ids.Location{})
	require.Error(t, err)
	var redef *ErrRedefinition
	require.ErrorAs(t, err, &redef)
}

func TestVisibilityConflict(t *testing.T) {
	sym := &Symbol{Name: "s"}
	require.NoError(t, sym.DeclareVisibility(Extern))
	err := sym.DeclareVisibility(Common)
	require.Error(t, err)
	var conflict *ErrVisibilityConflict
	require.ErrorAs(t, err, &conflict)
}

func TestLocalNeverConflicts(t *testing.T) {
	sym := &Symbol{Name: "s"}
	require.NoError(t, sym.DeclareVisibility(Extern))
	require.NoError(t, sym.DeclareVisibility(Local))
}

func TestDeclareExternThenDefineReportsWarnCase(t *testing.T) {
	sym := &Symbol{Name: "s"}
	require.NoError(t, sym.DeclareVisibility(Extern))
	require.False(t, sym.DeclareExternThenDefine())
	require.NoError(t, sym.DefineLabel(ids.Location{}, false, ids.Location{}))
	require.True(t, sym.DeclareExternThenDefine())
}

func TestIsCurpos(t *testing.T) {
	sym := &Symbol{Name: "$"}
	require.NoError(t, sym.DefineLabel(ids.Location{}, true, ids.Location{}))
	require.True(t, sym.IsCurpos())
}
