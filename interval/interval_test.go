package interval

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func low64s(nodes []*Node[string]) []int64 {
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.Low()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestEnumerateFindsOverlaps(t *testing.T) {
	tr := New[string]()
	tr.Insert(0, 10, "a")
	tr.Insert(5, 15, "b")
	tr.Insert(20, 30, "c")

	got := tr.Enumerate(8, 9)
	require.Equal(t, []int64{0, 5}, low64s(got))
}

func TestEnumerateExactBoundaryTouch(t *testing.T) {
	tr := New[string]()
	tr.Insert(0, 10, "a")
	tr.Insert(10, 20, "b")

	got := tr.Enumerate(10, 10)
	require.Equal(t, []int64{0, 10}, low64s(got))
}

func TestEnumerateNoMatch(t *testing.T) {
	tr := New[string]()
	tr.Insert(0, 5, "a")
	tr.Insert(50, 55, "b")

	require.Empty(t, tr.Enumerate(10, 20))
}

func TestInsertSwapsInvertedRange(t *testing.T) {
	tr := New[string]()
	n := tr.Insert(10, 0, "a")
	require.Equal(t, int64(0), n.Low())
	require.Equal(t, int64(10), n.High())
}

func TestRemoveReturnsDataAndDropsFromResults(t *testing.T) {
	tr := New[string]()
	a := tr.Insert(0, 10, "a")
	tr.Insert(0, 10, "b")

	data := tr.Remove(a)
	require.Equal(t, "a", data)

	got := tr.Enumerate(0, 10)
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].Data())
}

func TestManyInsertsAndRemovesStayConsistent(t *testing.T) {
	tr := New[int]()
	nodes := make([]*Node[int], 0, 200)
	for i := 0; i < 200; i++ {
		low := int64(i)
		nodes = append(nodes, tr.Insert(low, low+3, i))
	}

	// Remove every other node, then confirm the survivors are still all
	// found via Enumerate and the removed ones are gone.
	for i := 0; i < len(nodes); i += 2 {
		got := tr.Remove(nodes[i])
		require.Equal(t, i, got)
	}

	for i := 1; i < len(nodes); i += 2 {
		low := int64(i)
		found := tr.Enumerate(low, low)
		require.NotEmpty(t, found, "survivor %d must still be found", i)
	}
	for i := 0; i < len(nodes); i += 2 {
		low := int64(i)
		for _, n := range tr.Enumerate(low, low+3) {
			require.NotEqual(t, i, n.Data(), "removed node %d must not reappear", i)
		}
	}
}

func TestDataAccessor(t *testing.T) {
	tr := New[string]()
	n := tr.Insert(1, 2, "payload")
	require.Equal(t, "payload", n.Data())
}
