package bytecode

import (
	"github.com/xyproto/asmcore/arena"
	"github.com/xyproto/asmcore/ids"
)

// Container is a linear, insertion-ordered list of bytecodes.
// Section embeds one of these; it is factored out so tests can exercise
// bytecode layout without constructing a full Section/Object.
type Container struct {
	bcs *arena.Arena[Bytecode]
}

// NewContainer creates a container seeded with the mandatory initial empty
// bytecode at offset 0: every Section contains at least one initial empty
// bytecode whose offset is 0.
func NewContainer() *Container {
	c := &Container{bcs: arena.New[Bytecode](16)}
	c.bcs.Add(Bytecode{})
	return c
}

// Append adds a new bytecode, starting fresh if the container's last
// bytecode already has a non-empty tail: appending to a section that ends
// in a bytecode with a non-empty tail starts a fresh bytecode.
func (c *Container) Append() *Bytecode {
	last := c.Last()
	if last.Tail != nil {
		id := c.bcs.Add(Bytecode{})
		return c.bcs.Get(id)
	}
	return last
}

// AppendFresh always starts a new bytecode, used when the caller already
// knows the previous one must not be reused (e.g. the bytecode just
// received a Tail of its own).
func (c *Container) AppendFresh() *Bytecode {
	id := c.bcs.Add(Bytecode{})
	return c.bcs.Get(id)
}

// Last returns the most recently appended bytecode.
func (c *Container) Last() *Bytecode {
	return c.bcs.Get(c.bcs.IDAt(c.bcs.Len() - 1))
}

// LastID returns the arena ID of the most recently appended bytecode, for
// callers that need to stamp a curpos-relative Location pointing at the bytecode currently being
// built.
func (c *Container) LastID() ids.BytecodeID { return c.bcs.IDAt(c.bcs.Len() - 1) }

// Len returns the number of bytecodes, including the initial empty one.
func (c *Container) Len() int { return c.bcs.Len() }

// At returns the bytecode at position i in insertion order.
func (c *Container) At(i int) *Bytecode { return c.bcs.Get(c.bcs.IDAt(i)) }

// ByID returns the bytecode addressed by id, the way Section.CalcDist needs
// to resolve the two Locations it's handed.
func (c *Container) ByID(id ids.BytecodeID) (*Bytecode, bool) { return c.bcs.TryGet(id) }

// Each iterates bytecodes in insertion (and therefore layout) order.
func (c *Container) Each(fn func(i int, bc *Bytecode)) {
	for i := 0; i < c.bcs.Len(); i++ {
		fn(i, c.At(i))
	}
}
