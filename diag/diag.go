// Package diag implements the diagnostics handle threaded through every
// public core entry point (parse, finalize, optimize, output). It
// replaces process-wide warning sinks with an explicit value so that
// multiple Objects can be assembled concurrently without shared state.
package diag

import "fmt"

// Kind identifies the semantic class of a diagnostic, independent of its
// free-form message text.
type Kind int

const (
	KindSyntax Kind = iota
	KindValue
	KindSymbol
	KindLayout
	KindIO
	KindWarning
)

// Code names the specific error/warning kind. It is informational:
// callers that want to react to a specific failure mode (e.g. retry on
// OrgOverlap) can switch on Code instead of parsing Message.
type Code int

const (
	CodeNone Code = iota

	// Value errors
	CodeNotConstant
	CodeTooComplex
	CodeSizeMismatch
	CodeOutOfRange
	CodeInvalidWRT
	CodeDivByZero

	// Symbol errors
	CodeUndefined
	CodeRedefinition
	CodeCircularEqu
	CodeCircularReference

	// Layout errors
	CodeOrgOverlap
	CodeNegativeOffset

	// IO/Format errors
	CodeFormatUnsupported

	// Warnings
	CodeUninitContentsZeroed
	CodeSignedOverflow
	CodeUnsignedOverflow
	CodeExternButDefined
	CodeUnrecognizedSectionAttr
	CodeSectionNameTruncated
)

// Location is a source position attached to a diagnostic. Zero value means
// "no location known" (e.g. a diagnostic raised deep inside the optimizer
// that only has a bytecode index).
type Location struct {
	File string
	Line int
	Col  int
}

func (l Location) String() string {
	if l.File == "" && l.Line == 0 {
		return "<unknown>"
	}
	if l.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Diagnostic is one error or warning, optionally carrying a cross-reference
// location ("redefinition of foo" + "previously defined here").
type Diagnostic struct {
	Kind     Kind
	Code     Code
	Message  string
	Loc      Location
	RefLoc   Location
	HasRef   bool
	IsWarn   bool
}

func (d Diagnostic) String() string {
	prefix := "error"
	if d.IsWarn {
		prefix = "warning"
	}
	s := fmt.Sprintf("%s: %s: %s", d.Loc, prefix, d.Message)
	if d.HasRef {
		s += fmt.Sprintf("\n%s: note: %s", d.RefLoc, "previously noted here")
	}
	return s
}

// Diag accumulates diagnostics for one pass. Verbose is carried for
// callers; nothing in this module reads it, and it is not related to
// warnings/errors bookkeeping.
type Diag struct {
	Verbose bool

	diags        []Diagnostic
	errCount     int
	warnCount    int
	firstUndefEmitted bool
}

// New creates an empty Diag.
func New() *Diag {
	return &Diag{}
}

// Error records a fatal diagnostic at loc with the given code and message.
func (d *Diag) Error(code Code, loc Location, format string, args ...any) {
	d.diags = append(d.diags, Diagnostic{
		Kind:    kindForCode(code),
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Loc:     loc,
	})
	d.errCount++
}

// ErrorRef is Error plus a cross-reference location.
func (d *Diag) ErrorRef(code Code, loc, ref Location, format string, args ...any) {
	d.diags = append(d.diags, Diagnostic{
		Kind:    kindForCode(code),
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Loc:     loc,
		RefLoc:  ref,
		HasRef:  true,
	})
	d.errCount++
}

// Warn records a non-fatal diagnostic. Warnings never halt assembly but
// are counted so tooling can report "N warnings".
func (d *Diag) Warn(code Code, loc Location, format string, args ...any) {
	d.diags = append(d.diags, Diagnostic{
		Kind:    KindWarning,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Loc:     loc,
		IsWarn:  true,
	})
	d.warnCount++
}

// NoteUndefinedOnce emits the "first use of an undefined symbol" note
// exactly once per Diag lifetime, to avoid log flooding when a
// program references the same missing symbol many times.
func (d *Diag) NoteUndefinedOnce(loc Location, name string) {
	if d.firstUndefEmitted {
		return
	}
	d.firstUndefEmitted = true
	d.Warn(CodeUndefined, loc, "first use of undefined symbol %q (further uses not reported individually)", name)
}

// ErrCount is the authoritative "is the object still usable" signal.
func (d *Diag) ErrCount() int { return d.errCount }

// WarnCount returns the number of warnings recorded so far.
func (d *Diag) WarnCount() int { return d.warnCount }

// OK reports whether no errors have been recorded in this pass.
func (d *Diag) OK() bool { return d.errCount == 0 }

// All returns every diagnostic recorded so far, in emission order.
func (d *Diag) All() []Diagnostic { return d.diags }

// Err renders all recorded errors (not warnings) as a single error value,
// or nil if there were none. Callers at a pass boundary use this to turn
// an accumulated Diag into the `error` the pass function returns.
func (d *Diag) Err() error {
	if d.errCount == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d error(s)", d.errCount)
	for _, diagEntry := range d.diags {
		if !diagEntry.IsWarn {
			msg += "\n" + diagEntry.String()
		}
	}
	return fmt.Errorf("%s", msg)
}

func kindForCode(c Code) Kind {
	switch c {
	case CodeNotConstant, CodeTooComplex, CodeSizeMismatch, CodeOutOfRange, CodeInvalidWRT, CodeDivByZero:
		return KindValue
	case CodeUndefined, CodeRedefinition, CodeCircularEqu, CodeCircularReference:
		return KindSymbol
	case CodeOrgOverlap, CodeNegativeOffset:
		return KindLayout
	case CodeFormatUnsupported:
		return KindIO
	default:
		return KindSyntax
	}
}
