package symbol

import (
	"hash/fnv"
	"math/bits"
	"strings"

	"github.com/xyproto/asmcore/arena"
	"github.com/xyproto/asmcore/ids"
)

// bitsPerLevel and branchFactor implement a 32-way branching factor per
// level: bit k is set iff child slot k is present, and the child's array
// position is the popcount of bits below k.
const (
	bitsPerLevel  = 5
	branchFactor  = 1 << bitsPerLevel
	levelMask     = branchFactor - 1
	levelsPerHash = 32 / bitsPerLevel // 6 full 5-bit chunks from one 32-bit hash
)

// hamtNode is one trie node: a 32-bit presence bitmap plus a compact
// array of children, indexed by popcount(bitmap & (bit-1)).
type hamtNode struct {
	bitmap   uint32
	children []hamtChild
}

// hamtChild is either a leaf (a single stored key/value) or an internal
// pointer to a deeper node, reached when two keys collide at this level.
type hamtChild struct {
	leaf  bool
	key   string // folded key (lower-cased if case-insensitive)
	value ids.SymbolID
	next  *hamtNode
}

func slotIndex(bitmap uint32, bit uint32) int {
	return bits.OnesCount32(bitmap & (bit - 1))
}

// arityPool is a free list of hamtChild slices bucketed by length (a
// node's arity ranges 0..branchFactor). insertChildAt/removeChildAt
// change a node's arity by exactly one, so the slice a node is shrinking
// out of is reused for whichever node is growing into that same arity,
// instead of hitting append's own growth/allocation on every trie edit.
type arityPool struct {
	free [branchFactor + 1][][]hamtChild
}

func (p *arityPool) get(n int) []hamtChild {
	if n < 0 || n > branchFactor || len(p.free[n]) == 0 {
		return make([]hamtChild, n)
	}
	last := len(p.free[n]) - 1
	s := p.free[n][last]
	p.free[n] = p.free[n][:last]
	return s[:n]
}

func (p *arityPool) put(children []hamtChild) {
	n := len(children)
	if n > branchFactor {
		return
	}
	p.free[n] = append(p.free[n], children)
}

// Table is a SymbolTable: a HAMT index over an arena of Symbol values.
// CaseInsensitive is chosen once per table, never toggled afterward.
type Table struct {
	CaseInsensitive bool

	root   *hamtNode
	store  *arena.Arena[Symbol]
	order  []ids.SymbolID // insertion order, kept for the general table
	keepOrder bool
	pool   *arityPool
}

// NewTable creates an empty symbol table. keepInsertionOrder should be true
// for the Object's general symbol table and false for the special table.
func NewTable(caseInsensitive, keepInsertionOrder bool) *Table {
	return &Table{
		CaseInsensitive: caseInsensitive,
		root:            &hamtNode{},
		store:           arena.New[Symbol](64),
		keepOrder:       keepInsertionOrder,
		pool:            &arityPool{},
	}
}

func (t *Table) fold(name string) string {
	if t.CaseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

func hashSeeded(key string, seed uint32) uint32 {
	h := fnv.New32a()
	if seed != 0 {
		h.Write([]byte{byte(seed), byte(seed >> 8), byte(seed >> 16), byte(seed >> 24)})
	}
	h.Write([]byte(key))
	return h.Sum32()
}

// chunkAt returns the 5-bit index to use at trie depth `level`. The first
// levelsPerHash levels consume successive 5-bit windows of one 32-bit
// hash; once that budget is exhausted the key is rehashed with the
// level's "generation" mixed in and consumption continues.
func chunkAt(key string, level int) uint32 {
	generation := uint32(level / levelsPerHash)
	sub := level % levelsPerHash
	h := hashSeeded(key, generation)
	return (h >> uint(sub*bitsPerLevel)) & levelMask
}

// Find looks up name, returning its Symbol and true if present.
func (t *Table) Find(name string) (*Symbol, ids.SymbolID, bool) {
	key := t.fold(name)
	id, ok := find(t.root, key, 0)
	if !ok {
		return nil, ids.SymbolID{}, false
	}
	return t.store.Get(id), id, true
}

func find(n *hamtNode, key string, level int) (ids.SymbolID, bool) {
	bit := uint32(1) << chunkAt(key, level)
	if n.bitmap&bit == 0 {
		return ids.SymbolID{}, false
	}
	idx := slotIndex(n.bitmap, bit)
	c := n.children[idx]
	if c.leaf {
		if c.key == key {
			return c.value, true
		}
		return ids.SymbolID{}, false
	}
	return find(c.next, key, level+1)
}

// Insert adds name with a freshly-constructed Symbol if absent, returning
// the existing Symbol unchanged on collision.
func (t *Table) Insert(name string) (*Symbol, ids.SymbolID, bool /*inserted*/) {
	key := t.fold(name)
	if sym, id, ok := t.Find(name); ok {
		return sym, id, false
	}
	id := t.store.Add(Symbol{Name: name})
	t.root = insert(t.pool, t.root, key, id, 0)
	if t.keepOrder {
		t.order = append(t.order, id)
	}
	return t.store.Get(id), id, true
}

func insert(pool *arityPool, n *hamtNode, key string, id ids.SymbolID, level int) *hamtNode {
	if n == nil {
		n = &hamtNode{}
	}
	bit := uint32(1) << chunkAt(key, level)
	idx := slotIndex(n.bitmap, bit)

	if n.bitmap&bit == 0 {
		n.bitmap |= bit
		n.children = insertChildAt(pool, n.children, idx, hamtChild{leaf: true, key: key, value: id})
		return n
	}

	existing := n.children[idx]
	if existing.leaf {
		if existing.key == key {
			existing.value = id
			n.children[idx] = existing
			return n
		}
		// Collision: push both down a level into a fresh sub-node.
		sub := &hamtNode{}
		sub = insert(pool, sub, existing.key, existing.value, level+1)
		sub = insert(pool, sub, key, id, level+1)
		n.children[idx] = hamtChild{leaf: false, next: sub}
		return n
	}

	n.children[idx] = hamtChild{leaf: false, next: insert(pool, existing.next, key, id, level+1)}
	return n
}

// insertChildAt grows a node's children by one slot, pulling the
// replacement slice from pool instead of letting append reallocate.
func insertChildAt(pool *arityPool, children []hamtChild, idx int, c hamtChild) []hamtChild {
	next := pool.get(len(children) + 1)
	copy(next[:idx], children[:idx])
	next[idx] = c
	copy(next[idx+1:], children[idx:])
	pool.put(children)
	return next
}

// removeChildAt shrinks a node's children by one slot, returning the old
// backing slice to pool for whichever node next grows into that arity.
func removeChildAt(pool *arityPool, children []hamtChild, idx int) []hamtChild {
	next := pool.get(len(children) - 1)
	copy(next[:idx], children[:idx])
	copy(next[idx:], children[idx+1:])
	pool.put(children)
	return next
}

// Replace overwrites the stored Symbol for an existing name; it is a
// logic error to call it for a name that isn't present.
func (t *Table) Replace(name string, sym Symbol) bool {
	key := t.fold(name)
	id, ok := find(t.root, key, 0)
	if !ok {
		return false
	}
	*t.store.Get(id) = sym
	return true
}

// Remove deletes name from the table. Insertion-order bookkeeping for the
// general table leaves a tombstone-free gap by filtering on next Symbols
// call rather than a linear remove, avoiding O(n) churn on every delete.
func (t *Table) Remove(name string) bool {
	key := t.fold(name)
	ok := false
	t.root, ok = remove(t.pool, t.root, key, 0)
	return ok
}

func remove(pool *arityPool, n *hamtNode, key string, level int) (*hamtNode, bool) {
	if n == nil {
		return n, false
	}
	bit := uint32(1) << chunkAt(key, level)
	if n.bitmap&bit == 0 {
		return n, false
	}
	idx := slotIndex(n.bitmap, bit)
	c := n.children[idx]
	if c.leaf {
		if c.key != key {
			return n, false
		}
		n.bitmap &^= bit
		n.children = removeChildAt(pool, n.children, idx)
		return n, true
	}
	newSub, removed := remove(pool, c.next, key, level+1)
	if !removed {
		return n, false
	}
	if len(newSub.children) == 0 {
		n.bitmap &^= bit
		n.children = removeChildAt(pool, n.children, idx)
	} else if len(newSub.children) == 1 && newSub.children[0].leaf {
		n.children[idx] = newSub.children[0]
	} else {
		n.children[idx] = hamtChild{leaf: false, next: newSub}
	}
	return n, true
}

// Symbols returns every live symbol. For the general table this is in
// insertion order; for the special table the order is the trie's own
// left-to-right walk, which is deterministic but not meaningful to a
// front end.
func (t *Table) Symbols() []ids.SymbolID {
	if t.keepOrder {
		live := make([]ids.SymbolID, 0, len(t.order))
		for _, id := range t.order {
			sym, ok := t.store.TryGet(id)
			if !ok {
				continue
			}
			if found, ok := find(t.root, t.fold(sym.Name), 0); ok && found == id {
				live = append(live, id)
			}
		}
		return live
	}
	var out []ids.SymbolID
	walk(t.root, &out)
	return out
}

func walk(n *hamtNode, out *[]ids.SymbolID) {
	if n == nil {
		return
	}
	for _, c := range n.children {
		if c.leaf {
			*out = append(*out, c.value)
		} else {
			walk(c.next, out)
		}
	}
}

// Get resolves a SymbolID back to its Symbol.
func (t *Table) Get(id ids.SymbolID) *Symbol { return t.store.Get(id) }

// TryGet is the non-panicking form of Get, for callers that don't know
// which of an Object's two tables (general/special) an id came from.
func (t *Table) TryGet(id ids.SymbolID) (*Symbol, bool) { return t.store.TryGet(id) }

// Len returns the number of live entries.
func (t *Table) Len() int { return len(t.Symbols()) }
