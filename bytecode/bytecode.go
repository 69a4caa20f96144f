// Package bytecode implements Bytecode and its Container. A Bytecode is
// a fixed head (known-length byte buffer with fixups) plus a polymorphic
// variable tail (Contents).
package bytecode

import (
	"fmt"

	"github.com/xyproto/asmcore/expr"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/intnum"
	"github.com/xyproto/asmcore/value"
)

// Fixup is a pending Value to resolve into the fixed head at Offset.
type Fixup struct {
	Offset int
	Value  *value.Value
	Loc    ids.Location
}

// Special marks a bytecode whose purpose is to control layout rather than
// contribute a fixed number of bytes.
type Special int

const (
	SpecialNone Special = iota
	SpecialOffset
)

// SpanID identifies a span registered during CalcLen. It is opaque to
// package bytecode; package optimize assigns and interprets it.
type SpanID int

// AddSpanFunc is supplied by the optimizer to CalcLen so a Contents
// implementation can register a length dependency on a Value without
// bytecode needing to import package optimize. CalcLen may register one
// or more spans this way.
type AddSpanFunc func(v *value.Value, negThres, posThres *intnum.IntNum) SpanID

// Contents is the polymorphic tail contract every bytecode variant
// implements.
type Contents interface {
	// Finalize resolves parse-time expressions, failing if too complex.
	Finalize(bc *Bytecode) error
	// CalcLen returns the initial minimum tail length in bytes, possibly
	// registering spans via addSpan.
	CalcLen(bc *Bytecode, addSpan AddSpanFunc) (minLen int, err error)
	// Expand updates the tail length given a span's new value. It
	// returns the new tail length, updated thresholds, and whether the
	// bytecode remains span-dependent.
	Expand(bc *Bytecode, span SpanID, oldVal, newVal *intnum.IntNum) (newLen int, negThres, posThres *intnum.IntNum, stillDependent bool, err error)
	// Output writes the tail's bytes to sink.
	Output(bc *Bytecode, sink Sink) error
	// SpecialKind reports whether this variant controls the successor's
	// offset instead of emitting a fixed byte count.
	SpecialKind() Special
}

// Sink is the byte destination Output writes to. Concrete sinks live in an object-format package.
type Sink interface {
	// OutputValue resolves a fixup into dest or requests a relocation
	// from the owning section if it can't be resolved locally.
	OutputValue(v *value.Value, dest []byte, loc ids.Location) error
	// OutputGap writes size zero bytes, warning once per compile if this
	// is a code/data section.
	OutputGap(size int) error
	// OutputBytes writes raw bytes verbatim.
	OutputBytes(b []byte) error
}

// Bytecode is one emission unit.
type Bytecode struct {
	Head   []byte
	Fixups []Fixup

	Tail Contents

	// Offset is the section-relative byte offset, assigned by the
	// optimizer during its location bookkeeping pass.
	Offset uint64
	// Index is the unique optimizer-assigned index in section order.
	Index int
	// TailLen caches the most recently computed tail length so
	// TotalLen doesn't need to re-invoke Contents.
	TailLen int

	Labels []ids.SymbolID // symbols that label this bytecode
	Loc    ids.Location   // source line/file info location, reused as the id carrier

	Container ids.SectionID // back-pointer to owning container
}

// TotalLen is the fixed head length plus the current tail length.
func (b *Bytecode) TotalLen() int { return len(b.Head) + b.TailLen }

// AppendFixed appends (v.SizeBits+7)/8 zero bytes to the fixed head and
// records a fixup at that offset.
func (b *Bytecode) AppendFixed(v *value.Value, loc ids.Location) {
	offset := len(b.Head)
	nbytes := int((v.SizeBits + 7) / 8)
	b.Head = append(b.Head, make([]byte, nbytes)...)
	b.Fixups = append(b.Fixups, Fixup{Offset: offset, Value: v, Loc: loc})
}

// AppendByte appends a single literal byte to the fixed head.
func (b *Bytecode) AppendByte(v byte) { b.Head = append(b.Head, v) }

// AppendDataConst appends a constant integer's bytes directly (fast path);
// AppendDataExpr falls back to a fixup when the value isn't a compile-time
// constant.
func (b *Bytecode) AppendDataConst(n *intnum.IntNum, sizeBytes int, signed bool, bigEndian bool) {
	dest := make([]byte, sizeBytes)
	n.ToBytes(dest, uint(sizeBytes)*8, 0, signed, bigEndian)
	b.Head = append(b.Head, dest...)
}

func (b *Bytecode) AppendDataExpr(e *expr.Expr, sizeBits uint, loc ids.Location) {
	v := value.NewAbs(sizeBits, e)
	b.AppendFixed(v, loc)
}

// AppendString appends str's bytes, optionally truncated/padded to size
// and optionally NUL-terminated.
func (b *Bytecode) AppendString(s string, size int, appendZero bool) {
	data := []byte(s)
	if size > 0 {
		if len(data) > size {
			data = data[:size]
		} else if len(data) < size {
			data = append(data, make([]byte, size-len(data))...)
		}
	}
	b.Head = append(b.Head, data...)
	if appendZero {
		b.Head = append(b.Head, 0)
	}
}

// ErrCalcLen wraps an error raised while computing a bytecode's length,
// tagging it with the bytecode's index for diagnostics.
type ErrCalcLen struct {
	Index int
	Err   error
}

func (e *ErrCalcLen) Error() string {
	return fmt.Sprintf("bytecode %d: %v", e.Index, e.Err)
}
func (e *ErrCalcLen) Unwrap() error { return e.Err }
