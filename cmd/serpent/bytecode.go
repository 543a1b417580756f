package main

import (
	"fmt"
	"math/big"

	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
	"gopkg.in/yaml.v3"
)

// moduleFile is the on-disk YAML shape a serpent module assembles from
// (spec §6's "persisted state... conceptually serializable, no on-disk
// format mandated" note: this is one reasonable choice for this demo CLI,
// not a mandated wire format). It mirrors code.Object field for field, so
// loadModule is a direct transcription rather than a translation layer.
type moduleFile struct {
	Name        string         `yaml:"name"`
	Qualified   string         `yaml:"qualified"`
	Source      string         `yaml:"source"`
	SourceLines []string       `yaml:"source_lines"`

	Instructions []instrYAML `yaml:"instructions"`
	Constants    []constYAML `yaml:"constants"`

	Globals []string `yaml:"globals"`
	Locals  []string `yaml:"locals"`
	Cells   []string `yaml:"cells"`
	Free    []string `yaml:"free"`

	Params []paramYAML `yaml:"params"`
	// VarArgsIndex/VarKwargsIndex must be written as -1 explicitly when
	// absent: YAML's zero value for an omitted int field is 0, which
	// would otherwise collide with a real parameter-0 index.
	VarArgsIndex   int `yaml:"var_args_index"`
	VarKwargsIndex int `yaml:"var_kwargs_index"`

	Lines    []lineYAML `yaml:"lines"`
	ExcTable []excYAML  `yaml:"exc_table"`

	IsGenerator bool `yaml:"is_generator"`
	IsAsync     bool `yaml:"is_async"`
}

type instrYAML struct {
	Op   string `yaml:"op"`
	A    uint32 `yaml:"a"`
	B    uint32 `yaml:"b"`
	C    uint32 `yaml:"c"`
	Line int    `yaml:"line"`
}

// constYAML tags a constant pool entry with its kind, since YAML's
// native scalar types cannot tell "float" apart from "int" reliably, nor
// express a singleton or an arbitrary-precision integer at all.
type constYAML struct {
	Kind string `yaml:"kind"` // none, bool, int, bigint, float, str, bytes
	Bool bool   `yaml:"bool,omitempty"`
	Int  int64  `yaml:"int,omitempty"`
	Big  string `yaml:"big,omitempty"`
	Flt  float64 `yaml:"float,omitempty"`
	Str  string  `yaml:"str,omitempty"`
}

type paramYAML struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // positional, positional_only, keyword_only, var_args, var_kwargs
	HasDefault bool   `yaml:"has_default"`
}

type lineYAML struct {
	Index int `yaml:"index"`
	Line  int `yaml:"line"`
}

type excYAML struct {
	Start      int    `yaml:"start"`
	End        int    `yaml:"end"`
	Target     int    `yaml:"target"`
	StackDepth int    `yaml:"stack_depth"`
	Kind       string `yaml:"kind"` // except, finally, except_star
}

var opcodeByName = map[string]opcodes.Opcode{
	"NOP": opcodes.OP_NOP, "LOAD_CONST": opcodes.OP_LOAD_CONST,
	"LOAD_GLOBAL": opcodes.OP_LOAD_GLOBAL, "STORE_GLOBAL": opcodes.OP_STORE_GLOBAL,
	"LOAD_LOCAL": opcodes.OP_LOAD_LOCAL, "STORE_LOCAL": opcodes.OP_STORE_LOCAL,
	"LOAD_DEREF": opcodes.OP_LOAD_DEREF, "STORE_DEREF": opcodes.OP_STORE_DEREF,
	"LOAD_NAME": opcodes.OP_LOAD_NAME, "DELETE_NAME": opcodes.OP_DELETE_NAME,
	"DELETE_LOCAL": opcodes.OP_DELETE_LOCAL, "DELETE_GLOBAL": opcodes.OP_DELETE_GLOBAL,
	"DELETE_DEREF": opcodes.OP_DELETE_DEREF, "POP_TOP": opcodes.OP_POP_TOP,
	"DUP_TOP": opcodes.OP_DUP_TOP, "ROT_TWO": opcodes.OP_ROT_TWO,
	"BUILD_TUPLE": opcodes.OP_BUILD_TUPLE, "BUILD_LIST": opcodes.OP_BUILD_LIST,
	"BUILD_DICT": opcodes.OP_BUILD_DICT, "BUILD_SET": opcodes.OP_BUILD_SET,
	"LIST_EXTEND": opcodes.OP_LIST_EXTEND, "DICT_UPDATE": opcodes.OP_DICT_UPDATE,
	"SET_UPDATE": opcodes.OP_SET_UPDATE, "BUILD_SLICE": opcodes.OP_BUILD_SLICE,
	"SUBSCR_GET": opcodes.OP_SUBSCR_GET, "SUBSCR_SET": opcodes.OP_SUBSCR_SET,
	"SUBSCR_DELETE": opcodes.OP_SUBSCR_DELETE, "BINARY_OP": opcodes.OP_BINARY_OP,
	"INPLACE_OP": opcodes.OP_INPLACE_OP, "UNARY_OP": opcodes.OP_UNARY_OP,
	"COMPARE_OP": opcodes.OP_COMPARE_OP, "COMPARE_CHAIN": opcodes.OP_COMPARE_CHAIN,
	"IS_OP": opcodes.OP_IS_OP, "CONTAINS_OP": opcodes.OP_CONTAINS_OP,
	"JUMP": opcodes.OP_JUMP, "JUMP_IF_TRUE": opcodes.OP_JUMP_IF_TRUE,
	"JUMP_IF_FALSE": opcodes.OP_JUMP_IF_FALSE, "JUMP_IF_NOT_EXC_MATCH": opcodes.OP_JUMP_IF_NOT_EXC_MATCH,
	"FOR_ITER": opcodes.OP_FOR_ITER, "END_FOR": opcodes.OP_END_FOR, "GET_ITER": opcodes.OP_GET_ITER,
	"MAKE_FUNCTION": opcodes.OP_MAKE_FUNCTION, "CALL": opcodes.OP_CALL,
	"CALL_FUNCTION_EX": opcodes.OP_CALL_FUNCTION_EX, "RETURN_VALUE": opcodes.OP_RETURN_VALUE,
	"YIELD_VALUE": opcodes.OP_YIELD_VALUE, "YIELD_FROM": opcodes.OP_YIELD_FROM,
	"GET_AWAITABLE": opcodes.OP_GET_AWAITABLE, "AWAIT": opcodes.OP_AWAIT,
	"CALL_EXTERNAL": opcodes.OP_CALL_EXTERNAL, "RAISE_VARARGS": opcodes.OP_RAISE_VARARGS,
	"PUSH_EXC_BLOCK": opcodes.OP_PUSH_EXC_BLOCK, "POP_EXC_BLOCK": opcodes.OP_POP_EXC_BLOCK,
	"RERAISE": opcodes.OP_RERAISE, "CHECK_EXC_MATCH": opcodes.OP_CHECK_EXC_MATCH,
	"CLEANUP_FINALLY": opcodes.OP_CLEANUP_FINALLY, "PUSH_EXC_GROUP_MATCH": opcodes.OP_PUSH_EXC_GROUP_MATCH,
	"BUILD_CLASS": opcodes.OP_BUILD_CLASS, "LOAD_METHOD": opcodes.OP_LOAD_METHOD,
	"SET_NAME_DESCRIPTOR": opcodes.OP_SET_NAME_DESCRIPTOR,
}

var paramKindByName = map[string]code.ParamKind{
	"positional":      code.ParamPositional,
	"positional_only": code.ParamPositionalOnly,
	"keyword_only":    code.ParamKeywordOnly,
	"var_args":        code.ParamVarArgs,
	"var_kwargs":      code.ParamVarKwargs,
}

var excKindByName = map[string]code.ExceptionHandlerKind{
	"except":      code.HandlerExcept,
	"finally":     code.HandlerFinally,
	"except_star": code.HandlerExceptStar,
}

// assemble turns a parsed moduleFile into a code.Object, allocating any
// heap-backed constants (strings, bytes, big ints) against h so they
// share the execution heap the interpreter will run under.
func assemble(h *heap.Heap, m *moduleFile) (*code.Object, error) {
	obj := code.New(m.Name, m.Qualified, m.Source)
	obj.SourceLines = m.SourceLines
	obj.Globals = m.Globals
	obj.Locals = m.Locals
	obj.Cells = m.Cells
	obj.Free = m.Free
	obj.VarArgsIndex = m.VarArgsIndex
	obj.VarKwargsIndex = m.VarKwargsIndex
	obj.IsGenerator = m.IsGenerator
	obj.IsAsync = m.IsAsync

	for _, inst := range m.Instructions {
		op, ok := opcodeByName[inst.Op]
		if !ok {
			return nil, fmt.Errorf("unknown opcode %q", inst.Op)
		}
		obj.Instructions = append(obj.Instructions, opcodes.Instruction{
			Opcode: op, Operand1: inst.A, Operand2: inst.B, Operand3: inst.C, Line: inst.Line,
		})
	}

	for _, c := range m.Constants {
		v, err := assembleConst(h, c)
		if err != nil {
			return nil, err
		}
		obj.Constants = append(obj.Constants, v)
	}

	for _, p := range m.Params {
		kind, ok := paramKindByName[p.Kind]
		if !ok {
			return nil, fmt.Errorf("unknown param kind %q", p.Kind)
		}
		obj.Params = append(obj.Params, code.Param{Name: p.Name, Kind: kind, HasDefault: p.HasDefault})
	}

	for _, l := range m.Lines {
		obj.Lines = append(obj.Lines, code.LineEntry{InstructionIndex: l.Index, Line: l.Line})
	}

	for _, e := range m.ExcTable {
		kind, ok := excKindByName[e.Kind]
		if !ok {
			return nil, fmt.Errorf("unknown exception handler kind %q", e.Kind)
		}
		obj.ExcTable = append(obj.ExcTable, code.ExceptionTableEntry{
			StartInstruction: e.Start, EndInstruction: e.End,
			HandlerTarget: e.Target, StackDepth: e.StackDepth, Kind: kind,
		})
	}

	return obj, nil
}

func assembleConst(h *heap.Heap, c constYAML) (values.Value, error) {
	switch c.Kind {
	case "none":
		return values.None(), nil
	case "bool":
		return values.Bool(c.Bool), nil
	case "int":
		return values.Int(c.Int), nil
	case "bigint":
		n, ok := new(big.Int).SetString(c.Big, 10)
		if !ok {
			return values.Value{}, fmt.Errorf("invalid bigint literal %q", c.Big)
		}
		return values.BigIntVal(n), nil
	case "float":
		return values.Float(c.Flt), nil
	case "str":
		return h.NewString(c.Str), nil
	case "bytes":
		return h.NewBytes([]byte(c.Str)), nil
	default:
		return values.Value{}, fmt.Errorf("unknown constant kind %q", c.Kind)
	}
}

func loadModule(h *heap.Heap, data []byte) (*code.Object, error) {
	var m moduleFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing module: %w", err)
	}
	return assemble(h, &m)
}
