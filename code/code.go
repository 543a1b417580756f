// Package code defines the compiled-artifact contract a front end hands
// to the vm package: a flat instruction stream plus the constant pool,
// name tables, and debug tables the dispatcher and the accountant need
// (spec §3.3 "Code objects"). Grounded on the teacher's Compiler/Function
// split (compiler/compiler.go), where a compiled function carries its own
// Instructions and Constants slices that get swapped in/out of the active
// compiler scope; here that per-function bundle is pulled out into its
// own named type so the vm package can own execution without importing
// the compiler at all.
package code

import (
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

// ParamKind classifies one entry of a Object's parameter layout.
type ParamKind byte

const (
	ParamPositional ParamKind = iota
	ParamPositionalOnly
	ParamKeywordOnly
	ParamVarArgs    // *args
	ParamVarKwargs  // **kwargs
)

// Param describes one declared parameter: its name, its kind, and whether
// Defaults holds a value for it (positional/keyword-only params may carry
// a default; *args/**kwargs never do).
type Param struct {
	Name      string
	Kind      ParamKind
	HasDefault bool
}

// LineEntry maps an instruction index to a source line, the minimal table
// a traceback needs to report "line N" for the instruction pointer that
// was executing when an exception propagated (spec §7).
type LineEntry struct {
	InstructionIndex int
	Line             int
}

// ExceptionHandlerKind distinguishes the three block kinds a frame's
// exception-block stack can hold (spec §4.5 / §9): a plain except clause,
// a finally clause that always runs on unwind, and an except* clause that
// receives a partitioned exception group rather than the raw exception.
type ExceptionHandlerKind byte

const (
	HandlerExcept ExceptionHandlerKind = iota
	HandlerFinally
	HandlerExceptStar
)

// ExceptionTableEntry describes one protected region: the instruction
// range it covers, where to jump on an unwound exception, the operand
// stack depth to restore before jumping there, and the handler kind.
type ExceptionTableEntry struct {
	StartInstruction int
	EndInstruction   int
	HandlerTarget    int
	StackDepth       int
	Kind             ExceptionHandlerKind
}

// Object is the compiled-artifact contract (spec §3.3): everything the
// vm's dispatcher, the accountant's recursion/complexity pre-checks, and
// the exc package's unwinder need to run one function/module body.
type Object struct {
	Name         string // unqualified name ("<module>" for top level)
	Qualified    string // dotted qualified name, e.g. "Outer.method"
	Source       string // the source identifier (spec §7 traceback)
	SourceLines  []string // retained source text, one entry per line, may be nil

	Instructions []opcodes.Instruction
	Constants    []values.Value

	// Name tables: indices referenced by name-load/store opcode operands.
	Globals []string
	Locals  []string
	Cells   []string // variables captured by nested closures
	Free    []string // variables captured from an enclosing scope

	Params        []Param
	VarArgsIndex  int // -1 if none
	VarKwargsIndex int // -1 if none

	Lines     []LineEntry
	ExcTable  []ExceptionTableEntry

	IsGenerator bool
	IsAsync     bool
}

// QualifiedName and SourceID satisfy heap.CodeRef.
func (o *Object) QualifiedName() string { return o.Qualified }
func (o *Object) SourceID() string      { return o.Source }

// New returns an Object with its index tables sized to zero and the
// vararg indices defaulted to "absent".
func New(name, qualified, source string) *Object {
	return &Object{
		Name:           name,
		Qualified:      qualified,
		Source:         source,
		VarArgsIndex:   -1,
		VarKwargsIndex: -1,
	}
}

// LineFor resolves the source line active at a given instruction index by
// scanning the (monotonically increasing) Lines table for the last entry
// at or before idx — the same linear approach the teacher's line-lookup
// helpers use for its comparatively small per-function instruction lists.
func (o *Object) LineFor(idx int) int {
	line := 0
	for _, e := range o.Lines {
		if e.InstructionIndex > idx {
			break
		}
		line = e.Line
	}
	return line
}

// SourceTextFor returns the retained source text for a line, or "" when
// the code object did not retain source (spec §7: source text in
// tracebacks is best-effort, omitted when unavailable).
func (o *Object) SourceTextFor(line int) string {
	if o.SourceLines == nil || line <= 0 || line > len(o.SourceLines) {
		return ""
	}
	return o.SourceLines[line-1]
}

// HandlerFor returns the innermost exception-table entry covering
// instruction idx, or ok=false if idx is unprotected. Innermost wins: a
// matching entry whose range lies within the best match so far replaces
// it, so for nested ranges the order of entries in the slice does not
// matter.
func (o *Object) HandlerFor(idx int) (ExceptionTableEntry, bool) {
	var best ExceptionTableEntry
	found := false
	for _, e := range o.ExcTable {
		if idx >= e.StartInstruction && idx < e.EndInstruction {
			if !found || (e.StartInstruction >= best.StartInstruction && e.EndInstruction <= best.EndInstruction) {
				best = e
				found = true
			}
		}
	}
	return best, found
}
