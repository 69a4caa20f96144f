package bytecode

import (
	"fmt"

	"github.com/xyproto/asmcore/intnum"
)

// OffsetSpan is the reserved SpanID the optimizer uses when it re-invokes
// Expand on an offset-setting bytecode (Align/Org) to propagate a new
// incoming offset, rather than a genuine span-threshold crossing, when an
// offset-setting bytecode (Align/Org) needs its length recomputed after a
// preceding bytecode grows. Contents implementations that are not
// offset-setters never see this value.
const OffsetSpan SpanID = -1

// Data marks a bytecode whose bytes are already captured in the fixed
// head. It contributes no additional tail bytes; its only purpose is to
// mark the bytecode as "closed" so a later Append starts a fresh one.
type Data struct{}

func (Data) Finalize(*Bytecode) error { return nil }
func (Data) CalcLen(*Bytecode, AddSpanFunc) (int, error) { return 0, nil }
func (Data) Expand(*Bytecode, SpanID, *intnum.IntNum, *intnum.IntNum) (int, *intnum.IntNum, *intnum.IntNum, bool, error) {
	return 0, nil, nil, false, nil
}
func (Data) Output(*Bytecode, Sink) error { return nil }
func (Data) SpecialKind() Special         { return SpecialNone }

// Gap is ReserveSpace: count * itemSize zero-filled (or uninitialized,
// IsGap) bytes, filled in by append_gap.
type Gap struct {
	Count    int
	ItemSize int
	IsGap    bool // true: truly uninitialized; Output goes through Sink.OutputGap whether or not this is set
}

func (g *Gap) Finalize(*Bytecode) error { return nil }
func (g *Gap) CalcLen(*Bytecode, AddSpanFunc) (int, error) {
	return g.Count * g.ItemSize, nil
}
func (g *Gap) Expand(*Bytecode, SpanID, *intnum.IntNum, *intnum.IntNum) (int, *intnum.IntNum, *intnum.IntNum, bool, error) {
	return g.Count * g.ItemSize, nil, nil, false, nil
}
func (g *Gap) Output(bc *Bytecode, sink Sink) error {
	return sink.OutputGap(g.Count * g.ItemSize)
}
func (g *Gap) SpecialKind() Special { return SpecialNone }

// TimesGap is a ReserveSpace whose count is itself a span-dependent value,
// the `times ($ - start) db 0` case. CountValue typically holds an
// expression like ($ - start) that only resolves to a constant once
// offsets settle.
type TimesGap struct {
	CountValue   *gapCountValue
	ItemSize     int
	resolvedLen  int
	span         SpanID
}

// gapCountValue is a tiny seam so TimesGap doesn't need to import package
// value directly for what is, in the end, just "an integer we'll learn
// later." Constructed by the caller (the front end / test harness) with
// the already-built Value.
type gapCountValue struct {
	Eval func() (*intnum.IntNum, bool) // returns (count, resolved) given current offsets
	V    any                            // underlying *value.Value, opaque here
}

func NewGapCountValue(eval func() (*intnum.IntNum, bool), v any) *gapCountValue {
	return &gapCountValue{Eval: eval, V: v}
}

func (g *TimesGap) Finalize(*Bytecode) error { return nil }

func (g *TimesGap) CalcLen(bc *Bytecode, addSpan AddSpanFunc) (int, error) {
	if n, ok := g.CountValue.Eval(); ok {
		count, _ := n.Int64()
		g.resolvedLen = int(count) * g.ItemSize
		return g.resolvedLen, nil
	}
	// Unresolved at this point: register with a nil Value placeholder is
	// not meaningful here because the dependency is on bytecode offsets,
	// not a single symbolic Value; the optimizer re-invokes CalcLen-like
	// re-evaluation through Expand once offsets change, keyed by the span
	// id it hands back from addSpan(nil, ...). We request re-evaluation
	// on ANY offset change by using an id<=0 span.
	g.span = addSpan(nil, nil, nil)
	return 0, nil
}

func (g *TimesGap) Expand(bc *Bytecode, span SpanID, oldVal, newVal *intnum.IntNum) (int, *intnum.IntNum, *intnum.IntNum, bool, error) {
	if n, ok := g.CountValue.Eval(); ok {
		count, _ := n.Int64()
		if count < 0 {
			return 0, nil, nil, false, fmt.Errorf("bytecode: times count resolved negative (%d)", count)
		}
		g.resolvedLen = int(count) * g.ItemSize
		return g.resolvedLen, nil, nil, false, nil
	}
	return g.resolvedLen, nil, nil, true, nil
}

func (g *TimesGap) Output(bc *Bytecode, sink Sink) error {
	return sink.OutputGap(g.resolvedLen)
}
func (g *TimesGap) SpecialKind() Special { return SpecialNone }

// Align advances to a power-of-two boundary, optionally with explicit
// fill bytes or an architecture NOP pattern. It is an OffsetSetter: its
// own tail length is exactly the padding needed so the *next* bytecode
// starts aligned.
type Align struct {
	Boundary uint64
	Fill     []byte // explicit fill bytes, takes precedence over CodeFillFn
	MaxSkip  uint64 // 0 = unlimited
	CodeFillFn func(n int) []byte // NOP pattern generator, e.g. arch.GetFill
}

func (a *Align) Finalize(*Bytecode) error { return nil }

func (a *Align) padding(offset uint64) uint64 {
	if a.Boundary <= 1 {
		return 0
	}
	rem := offset % a.Boundary
	if rem == 0 {
		return 0
	}
	return a.Boundary - rem
}

func (a *Align) CalcLen(bc *Bytecode, addSpan AddSpanFunc) (int, error) {
	pad := a.padding(bc.Offset)
	if a.MaxSkip > 0 && pad > a.MaxSkip {
		return 0, nil
	}
	return int(pad), nil
}

func (a *Align) Expand(bc *Bytecode, span SpanID, oldVal, newVal *intnum.IntNum) (int, *intnum.IntNum, *intnum.IntNum, bool, error) {
	if span != OffsetSpan {
		return bc.TailLen, nil, nil, false, nil
	}
	newOffset, _ := newVal.Int64()
	pad := a.padding(uint64(newOffset))
	if a.MaxSkip > 0 && pad > a.MaxSkip {
		pad = 0
	}
	return int(pad), nil, nil, false, nil
}

func (a *Align) Output(bc *Bytecode, sink Sink) error {
	n := bc.TailLen
	if n == 0 {
		return nil
	}
	var fill []byte
	switch {
	case len(a.Fill) > 0:
		fill = make([]byte, n)
		for i := range fill {
			fill[i] = a.Fill[i%len(a.Fill)]
		}
	case a.CodeFillFn != nil:
		fill = a.CodeFillFn(n)
	default:
		fill = make([]byte, n)
	}
	for len(fill) < n {
		fill = append(fill, 0)
	}
	return sink.OutputBytes(fill[:n])
}

func (a *Align) SpecialKind() Special { return SpecialOffset }

// Org advances the cursor to an absolute section-relative offset. Fill bytes default to zero.
type Org struct {
	Target uint64
	Fill   byte
}

func (o *Org) Finalize(*Bytecode) error { return nil }

func (o *Org) CalcLen(bc *Bytecode, addSpan AddSpanFunc) (int, error) {
	return o.len(bc.Offset)
}

func (o *Org) len(offset uint64) (int, error) {
	if o.Target < offset {
		return 0, fmt.Errorf("bytecode: org target 0x%x is before current offset 0x%x: %w", o.Target, offset, ErrOrgOverlap)
	}
	return int(o.Target - offset), nil
}

func (o *Org) Expand(bc *Bytecode, span SpanID, oldVal, newVal *intnum.IntNum) (int, *intnum.IntNum, *intnum.IntNum, bool, error) {
	if span != OffsetSpan {
		return bc.TailLen, nil, nil, false, nil
	}
	newOffset, _ := newVal.Int64()
	n, err := o.len(uint64(newOffset))
	if err != nil {
		return 0, nil, nil, false, err
	}
	return n, nil, nil, false, nil
}

func (o *Org) Output(bc *Bytecode, sink Sink) error {
	n := bc.TailLen
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = o.Fill
	}
	return sink.OutputBytes(buf)
}

func (o *Org) SpecialKind() Special { return SpecialOffset }

// ErrOrgOverlap is returned when an Org target lies before the cursor.
var ErrOrgOverlap = fmt.Errorf("bytecode: org target overlaps preceding content")

// Incbin embeds the verbatim contents of an external file. The core
// treats it as opaque bytes; reading the file is the front end's job.
type Incbin struct {
	Data []byte
}

func (i *Incbin) Finalize(*Bytecode) error                      { return nil }
func (i *Incbin) CalcLen(*Bytecode, AddSpanFunc) (int, error)    { return len(i.Data), nil }
func (i *Incbin) Expand(*Bytecode, SpanID, *intnum.IntNum, *intnum.IntNum) (int, *intnum.IntNum, *intnum.IntNum, bool, error) {
	return len(i.Data), nil, nil, false, nil
}
func (i *Incbin) Output(bc *Bytecode, sink Sink) error { return sink.OutputBytes(i.Data) }
func (i *Incbin) SpecialKind() Special                 { return SpecialNone }

// Insn wraps an architecture-specific, possibly span-dependent
// instruction encoding. The core never interprets opcodes; it only calls
// back into Encoder, which the architecture implements.
type Insn struct {
	Encoder InsnEncoder
}

// InsnEncoder is supplied by an architecture package.
type InsnEncoder interface {
	CalcLen(bc *Bytecode, addSpan AddSpanFunc) (minLen int, err error)
	Expand(bc *Bytecode, span SpanID, oldVal, newVal *intnum.IntNum) (newLen int, negThres, posThres *intnum.IntNum, stillDependent bool, err error)
	Encode(bc *Bytecode, sink Sink) error
}

func (i *Insn) Finalize(*Bytecode) error { return nil }
func (i *Insn) CalcLen(bc *Bytecode, addSpan AddSpanFunc) (int, error) {
	return i.Encoder.CalcLen(bc, addSpan)
}
func (i *Insn) Expand(bc *Bytecode, span SpanID, oldVal, newVal *intnum.IntNum) (int, *intnum.IntNum, *intnum.IntNum, bool, error) {
	return i.Encoder.Expand(bc, span, oldVal, newVal)
}
func (i *Insn) Output(bc *Bytecode, sink Sink) error { return i.Encoder.Encode(bc, sink) }
func (i *Insn) SpecialKind() Special                 { return SpecialNone }
