// Package optimize implements the Robertson-style span-dependency
// optimizer. It assigns every
// bytecode a final section-relative offset and total length such that
// every registered Value's size choice stays consistent with the
// distance it resolves to.
//
// Verbose: when set, each bytecode growth in the main loop logs a
// one-line note to os.Stderr instead of pulling in a logging framework, the way flapc's
// optimizer.go does for its register-allocation fixpoint loop.
package optimize

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/xyproto/asmcore/bytecode"
	"github.com/xyproto/asmcore/diag"
	"github.com/xyproto/asmcore/ids"
	"github.com/xyproto/asmcore/interval"
	"github.com/xyproto/asmcore/intnum"
	"github.com/xyproto/asmcore/object"
	"github.com/xyproto/asmcore/section"
	"github.com/xyproto/asmcore/value"
)

// spanState tracks a Span's queue membership.
type spanState int

const (
	stateIdle spanState = iota
	stateActive
	stateOnQueue
	stateRetired
)

// span is one length dependency registered via add_span during calc_len.
type span struct {
	bc     *bytecode.Bytecode
	id     bytecode.SpanID
	value  *value.Value // nil for a TIMES-style "any change" span
	cur    *intnum.IntNum
	negThres, posThres *intnum.IntNum
	state  spanState
	terms  []*term
}

// term is a sym-sym distance dependency within a Span, keyed in the interval tree by the bytecode-index
// range it spans.
type term struct {
	sp        *span
	lowIdx, highIdx int
	node      *interval.Node[*term]
}

// Optimizer implements object.Optimizer.
type Optimizer struct {
	Verbose bool

	obj   *object.Object
	diag  *diag.Diag
	spans []*span
	tree  *interval.Tree[*term]
	qa    []*span // id <= 0 spans, drained first
	qb    []*span // id > 0 spans
	nextPosID int
	nextNegID int
}

// New creates an Optimizer ready to attach to an Object via Object.Opt.
// nextNegID starts at -2, not -1, so a genuine TIMES-style span ID never
// collides with bytecode.OffsetSpan, the sentinel the optimizer itself
// uses when re-invoking Expand on an Align/Org bytecode.
func New() *Optimizer {
	return &Optimizer{tree: interval.New[*term](), nextPosID: 1, nextNegID: -2}
}

func (o *Optimizer) logf(format string, args ...any) {
	if o.Verbose {
		fmt.Fprintf(os.Stderr, "optimize: "+format+"\n", args...)
	}
}

// Optimize runs the full Step 1/2/3 algorithm of against
// every section of obj.
func (o *Optimizer) Optimize(obj *object.Object) error {
	o.obj = obj
	o.diag = obj.Diag
	sections := obj.Sections()

	assignIndices(sections)

	// Step 1a: initial layout at minimum length, registering spans.
	if err := o.initialLayout(sections); err != nil {
		return err
	}

	// Step 1b: first expansion of every registered span.
	if err := o.firstExpansion(); err != nil {
		return err
	}

	// Step 1c: recompute offsets with updated tail lengths, then settle
	// any Align/Org whose padding shifted as a result.
	recomputeOffsets(sections)
	if err := o.settleOffsetSetters(sections); err != nil {
		return err
	}

	// Step 1d: re-evaluate surviving spans, enqueue those outside bounds.
	o.enqueueOutOfBounds()

	if len(o.qa) == 0 && len(o.qb) == 0 {
		return o.finalize(sections)
	}

	// Step 1e: cycle detection over the id<=0 (TIMES) spans.
	if err := o.detectCycles(); err != nil {
		return err
	}

	// Step 2: main loop.
	if err := o.mainLoop(sections); err != nil {
		return err
	}

	return o.finalize(sections)
}

func assignIndices(sections []*section.Section) {
	idx := 0
	for _, s := range sections {
		for i := 0; i < s.Bytecodes.Len(); i++ {
			bc := s.Bytecodes.At(i)
			bc.Index = idx
			idx++
		}
	}
}

func recomputeOffsets(sections []*section.Section) {
	for _, s := range sections {
		var offset uint64
		for i := 0; i < s.Bytecodes.Len(); i++ {
			bc := s.Bytecodes.At(i)
			bc.Offset = offset
			offset += uint64(bc.TotalLen())
		}
	}
}

func (o *Optimizer) initialLayout(sections []*section.Section) error {
	for _, s := range sections {
		var offset uint64
		for i := 0; i < s.Bytecodes.Len(); i++ {
			bc := s.Bytecodes.At(i)
			bc.Offset = offset
			if bc.Tail == nil {
				bc.TailLen = 0
				continue
			}
			addSpan := o.addSpanFunc(bc)
			n, err := bc.Tail.CalcLen(bc, addSpan)
			if err != nil {
				return o.calcLenErr(bc.Index, err)
			}
			bc.TailLen = n
			offset += uint64(bc.TotalLen())
		}
	}
	return nil
}

// calcLenErr turns a Contents.CalcLen/Expand failure into the diag's
// accumulated error, giving an Org overlap its own diag.Code so a caller
// can react to CodeOrgOverlap instead of parsing the message. Anything
// else keeps the plain bytecode.ErrCalcLen wrap.
func (o *Optimizer) calcLenErr(idx int, err error) error {
	if errors.Is(err, bytecode.ErrOrgOverlap) {
		o.diag.Error(diag.CodeOrgOverlap, diag.Location{File: o.obj.SourceFile}, "bytecode %d: %v", idx, err)
		return o.diag.Err()
	}
	return &bytecode.ErrCalcLen{Index: idx, Err: err}
}

// settleOffsetSetters re-expands every Align/Org bytecode against its
// current incoming offset until none of them change length, absorbing
// the knock-on effect of Step 1b's first expansion before spans are
// judged against their thresholds.
func (o *Optimizer) settleOffsetSetters(sections []*section.Section) error {
	limit := len(sections)*8 + 8
	for pass := 0; pass < limit; pass++ {
		changed := false
		for _, s := range sections {
			for i := 0; i < s.Bytecodes.Len(); i++ {
				bc := s.Bytecodes.At(i)
				if bc.Tail == nil || bc.Tail.SpecialKind() != bytecode.SpecialOffset {
					continue
				}
				origLen := bc.TailLen
				newLen, _, _, _, err := bc.Tail.Expand(bc, bytecode.OffsetSpan, nil, intnum.FromInt64(int64(bc.Offset)))
				if err != nil {
					return o.calcLenErr(bc.Index, err)
				}
				if newLen != origLen {
					bc.TailLen = newLen
					changed = true
				}
			}
			recomputeOffsets([]*section.Section{s})
		}
		if !changed {
			return nil
		}
	}
	return fmt.Errorf("optimize: offset-setters did not converge")
}

// addSpanFunc returns the AddSpanFunc a Contents.CalcLen implementation
// invokes to register a length dependency.
func (o *Optimizer) addSpanFunc(bc *bytecode.Bytecode) bytecode.AddSpanFunc {
	return func(v *value.Value, negThres, posThres *intnum.IntNum) bytecode.SpanID {
		var id bytecode.SpanID
		if v == nil {
			id = bytecode.SpanID(o.nextNegID)
			o.nextNegID--
		} else {
			id = bytecode.SpanID(o.nextPosID)
			o.nextPosID++
		}
		sp := &span{bc: bc, id: id, value: v, cur: intnum.FromInt64(0), negThres: negThres, posThres: posThres}
		o.spans = append(o.spans, sp)
		if v != nil {
			o.registerTerms(sp)
		}
		return id
	}
}

// registerTerms builds the sym-sym Term(s) for a Span's Value and inserts
// them into the interval tree.
func (o *Optimizer) registerTerms(sp *span) {
	v := sp.value
	anchors := make([]ids.Location, 0, 2)
	if v.HasRel {
		if loc, ok := o.obj.LocationOf(v.Rel); ok {
			anchors = append(anchors, loc)
		}
	}
	if v.HasSub {
		if loc, ok := o.obj.LocationOf(v.Sub); ok {
			anchors = append(anchors, loc)
		}
	}
	if v.CurposRel {
		anchors = append(anchors, v.CurposLoc)
	}
	if len(anchors) < 2 {
		return
	}
	lowIdx, highIdx := bcIndexOf(o.obj, anchors[0]), bcIndexOf(o.obj, anchors[1])
	for _, a := range anchors[2:] {
		idx := bcIndexOf(o.obj, a)
		if idx < lowIdx {
			lowIdx = idx
		}
		if idx > highIdx {
			highIdx = idx
		}
	}
	if lowIdx > highIdx {
		lowIdx, highIdx = highIdx, lowIdx
	}
	t := &term{sp: sp, lowIdx: lowIdx, highIdx: highIdx}
	t.node = o.tree.Insert(int64(lowIdx), int64(highIdx), t)
	sp.terms = append(sp.terms, t)
}

func bcIndexOf(obj *object.Object, loc ids.Location) int {
	s, ok := obj.SectionByID(loc.Section)
	if !ok {
		return -1
	}
	bc, ok := s.Bytecodes.ByID(loc.Bytecode)
	if !ok {
		return -1
	}
	return bc.Index
}

// evaluate computes a Span's Value as an integer using the current
// (possibly not yet final) bytecode offsets.
func (o *Optimizer) evaluate(sp *span) (*intnum.IntNum, error) {
	v := sp.value
	if v == nil {
		return nil, nil
	}
	total := int64(0)
	if v.Abs != nil {
		n, ok := v.Abs.GetIntNum()
		if !ok {
			return nil, value.ErrTooComplex
		}
		i, _ := n.Int64()
		total = i
	}
	if v.HasRel {
		off, err := o.resolveOffset(v.Rel)
		if err != nil {
			return nil, err
		}
		total += int64(off)
	}
	if v.HasSub {
		off, err := o.resolveOffset(v.Sub)
		if err != nil {
			return nil, err
		}
		total -= int64(off)
	}
	if v.CurposRel {
		off, ok := o.obj.Offset(v.CurposLoc)
		if !ok {
			return nil, fmt.Errorf("optimize: unresolved curpos location")
		}
		total -= int64(off)
	}
	n := intnum.FromInt64(total)
	if v.RShift > 0 {
		n = intnum.Shr(n, v.RShift)
	}
	return n, nil
}

func (o *Optimizer) resolveOffset(sym ids.SymbolID) (uint64, error) {
	loc, ok := o.obj.LocationOf(sym)
	if !ok {
		return 0, fmt.Errorf("optimize: %w", errUndefinedSymbol)
	}
	off, ok := o.obj.Offset(loc)
	if !ok {
		return 0, fmt.Errorf("optimize: %w", errUndefinedSymbol)
	}
	return off, nil
}

var errUndefinedSymbol = fmt.Errorf("symbol location not yet resolvable")

func (o *Optimizer) firstExpansion() error {
	zero := intnum.FromInt64(0)
	for _, sp := range o.spans {
		if sp.value == nil {
			continue // TIMES-style spans are driven entirely by Expand below
		}
		newVal, err := o.evaluate(sp)
		if err != nil {
			continue // left span-dependent; Step 1d will decide whether to enqueue
		}
		if err := o.expandSpan(sp, zero, newVal); err != nil {
			return err
		}
	}
	return nil
}

// expandSpan calls the owning bytecode's Expand and applies the result,
// retiring the span if the bytecode reports it's no longer dependent.
func (o *Optimizer) expandSpan(sp *span, oldVal, newVal *intnum.IntNum) error {
	newLen, negThres, posThres, stillDependent, err := sp.bc.Tail.Expand(sp.bc, sp.id, oldVal, newVal)
	if err != nil {
		return &bytecode.ErrCalcLen{Index: sp.bc.Index, Err: err}
	}
	sp.bc.TailLen = newLen
	sp.cur = newVal
	if negThres != nil {
		sp.negThres = negThres
	}
	if posThres != nil {
		sp.posThres = posThres
	}
	if !stillDependent {
		sp.state = stateRetired
		for _, t := range sp.terms {
			o.tree.Remove(t.node)
		}
	}
	return nil
}

func (sp *span) outOfBounds(newVal *intnum.IntNum) bool {
	if sp.value == nil {
		return true // id <= 0: any change triggers re-expand
	}
	if sp.negThres == nil && sp.posThres == nil {
		return false
	}
	if sp.negThres != nil && intnum.Cmp(newVal, sp.negThres) < 0 {
		return true
	}
	if sp.posThres != nil && intnum.Cmp(newVal, sp.posThres) > 0 {
		return true
	}
	return false
}

func (o *Optimizer) enqueue(sp *span) {
	if sp.state == stateOnQueue || sp.state == stateRetired {
		return
	}
	sp.state = stateOnQueue
	if sp.id <= 0 {
		o.qa = append(o.qa, sp)
	} else {
		o.qb = append(o.qb, sp)
	}
}

func (o *Optimizer) enqueueOutOfBounds() {
	for _, sp := range o.spans {
		if sp.state == stateRetired {
			continue
		}
		if sp.value == nil {
			o.enqueue(sp)
			continue
		}
		newVal, err := o.evaluate(sp)
		if err != nil {
			continue
		}
		if sp.outOfBounds(newVal) {
			o.enqueue(sp)
		}
	}
}

// detectCycles rejects an id<=0 span whose own bytecode lies within the
// bytecode-index range of one of its own Terms. Only that direct
// self-reference is checked; cycles through other spans are not searched
// for. A span registered with a nil Value (the TimesGap case) has no
// Terms, so this check never reports a cycle for it.
func (o *Optimizer) detectCycles() error {
	for _, sp := range o.spans {
		if sp.id > 0 {
			continue
		}
		for _, t := range sp.terms {
			if sp.bc.Index >= t.lowIdx && sp.bc.Index <= t.highIdx {
				o.diag.Error(diag.CodeCircularReference, diag.Location{File: o.obj.SourceFile}, "circular reference at bytecode %d", sp.bc.Index)
				return o.diag.Err()
			}
		}
	}
	return nil
}

// mainLoop drains QA before QB each pop.
func (o *Optimizer) mainLoop(sections []*section.Section) error {
	iterations := 0
	maxIterations := len(o.spans)*len(o.spans) + 64
	for len(o.qa) > 0 || len(o.qb) > 0 {
		iterations++
		if iterations > maxIterations {
			return fmt.Errorf("optimize: span resolution did not converge")
		}
		var sp *span
		if len(o.qa) > 0 {
			sp, o.qa = o.qa[0], o.qa[1:]
		} else {
			sp, o.qb = o.qb[0], o.qb[1:]
		}
		if sp.state == stateRetired {
			continue
		}
		sp.state = stateActive

		var newVal *intnum.IntNum
		if sp.value != nil {
			v, err := o.evaluate(sp)
			if err != nil {
				sp.state = stateIdle
				continue
			}
			newVal = v
			if !sp.outOfBounds(newVal) {
				sp.state = stateIdle
				continue
			}
		} else {
			newVal = sp.cur
		}

		origLen := sp.bc.TotalLen()
		if err := o.expandSpan(sp, sp.cur, newVal); err != nil {
			return err
		}
		if sp.state != stateRetired {
			sp.state = stateIdle
		}
		lenDiff := sp.bc.TotalLen() - origLen
		if lenDiff == 0 {
			continue
		}

		o.logf("bytecode %d grew by %d", sp.bc.Index, lenDiff)
		recomputeOffsets(sections)
		if err := o.settleOffsetSetters(sections); err != nil {
			return err
		}

		// Any Term reaching at or beyond the bytecode that just grew may
		// now evaluate differently; a term entirely before it can't, since
		// nothing before it moved.
		affected := o.tree.Enumerate(int64(sp.bc.Index), math.MaxInt64)
		for _, node := range affected {
			t := node.Data()
			if t.sp == sp {
				continue
			}
			o.enqueue(t.sp)
		}
		// Spans registered with a nil Value carry no Terms; any growth
		// re-enqueues them.
		for _, other := range o.spans {
			if other.value == nil && other != sp {
				o.enqueue(other)
			}
		}
	}
	return nil
}

func (o *Optimizer) finalize(sections []*section.Section) error {
	recomputeOffsets(sections)
	return nil
}
