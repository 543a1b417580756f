// Package opcodes defines the bytecode instruction set the dispatcher
// executes. The compiler/parser (out of scope for this module) is the sole
// producer of instruction streams in this encoding; the engine only
// consumes them.
package opcodes

import "fmt"

// Opcode identifies an instruction family member. Operands are indices
// into the owning code object's tables (constants, names, free/cell
// variables) rather than embedded literals.
type Opcode byte

// Constants & names (0-19)
const (
	OP_NOP Opcode = iota
	OP_LOAD_CONST
	OP_LOAD_GLOBAL
	OP_STORE_GLOBAL
	OP_LOAD_LOCAL
	OP_STORE_LOCAL
	OP_LOAD_DEREF
	OP_STORE_DEREF
	OP_LOAD_NAME
	OP_DELETE_NAME
	OP_DELETE_LOCAL
	OP_DELETE_GLOBAL
	OP_DELETE_DEREF
	OP_POP_TOP
	OP_DUP_TOP
	OP_ROT_TWO
)

// Containers (20-39)
const (
	OP_BUILD_TUPLE Opcode = iota + 20
	OP_BUILD_LIST
	OP_BUILD_DICT
	OP_BUILD_SET
	OP_LIST_EXTEND
	OP_DICT_UPDATE
	OP_SET_UPDATE
	OP_BUILD_SLICE
	OP_SUBSCR_GET
	OP_SUBSCR_SET
	OP_SUBSCR_DELETE
)

// Arithmetic & comparison (40-69)
const (
	OP_BINARY_OP Opcode = iota + 40
	OP_INPLACE_OP
	OP_UNARY_OP
	OP_COMPARE_OP
	OP_COMPARE_CHAIN // peeks TOS as prior operand for a chained comparison step
	OP_IS_OP
	OP_CONTAINS_OP
)

// Control flow (70-99)
const (
	OP_JUMP Opcode = iota + 70
	OP_JUMP_IF_TRUE
	OP_JUMP_IF_FALSE
	OP_JUMP_IF_NOT_EXC_MATCH
	OP_FOR_ITER // next-or-jump
	OP_END_FOR
	OP_GET_ITER
)

// Calls & frames (100-129)
const (
	OP_MAKE_FUNCTION Opcode = iota + 100
	OP_CALL
	OP_CALL_FUNCTION_EX // *args / **kwargs unpacking
	OP_RETURN_VALUE
	OP_YIELD_VALUE
	OP_YIELD_FROM
	OP_GET_AWAITABLE
	OP_AWAIT
	OP_CALL_EXTERNAL // suspend for a host-provided function
)

// Exceptions (130-159)
const (
	OP_RAISE_VARARGS Opcode = iota + 130 // operand 0,1,2: bare / with-exc / with-cause
	OP_PUSH_EXC_BLOCK
	OP_POP_EXC_BLOCK
	OP_RERAISE
	OP_CHECK_EXC_MATCH
	OP_CLEANUP_FINALLY // runs the finally chain on abrupt exit
	OP_PUSH_EXC_GROUP_MATCH // except* partition
)

// Classes (160-179)
const (
	OP_BUILD_CLASS Opcode = iota + 160
	OP_LOAD_METHOD // optimised attribute+call fusion
	OP_SET_NAME_DESCRIPTOR
)

// OpType tags the shape of an instruction's operand for diagnostics.
type OpType byte

const (
	OpTypeNone OpType = iota
	OpTypeConstIndex
	OpTypeNameIndex
	OpTypeJumpTarget
	OpTypeSmallInt
)

// CallHasKwNames marks OP_CALL's Operand3: when set, the top of stack
// (just above the argc values named by Operand2) holds a tuple of
// keyword-argument names, and the trailing len(names) of those argc
// values are the corresponding keyword values in the same order,
// preceded by the remaining positional values. Mirrors CPython's
// CALL_FUNCTION_KW convention of one shared kwnames tuple per call site.
const CallHasKwNames uint32 = 1

// Instruction is one bytecode unit: a tag plus a fixed-width operand slot.
// A zero Operand2/Operand3 is valid for instructions that only need one
// operand (most do); OP_CALL uses Operand2 for argcount and Operand3 for
// call-flags (CallHasKwNames).
type Instruction struct {
	Opcode   Opcode
	Operand1 uint32
	Operand2 uint32
	Operand3 uint32
	Line     int
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OP_UNKNOWN(%d)", byte(o))
}

var opcodeNames = map[Opcode]string{
	OP_NOP:                   "NOP",
	OP_LOAD_CONST:            "LOAD_CONST",
	OP_LOAD_GLOBAL:           "LOAD_GLOBAL",
	OP_STORE_GLOBAL:          "STORE_GLOBAL",
	OP_LOAD_LOCAL:            "LOAD_LOCAL",
	OP_STORE_LOCAL:           "STORE_LOCAL",
	OP_LOAD_DEREF:            "LOAD_DEREF",
	OP_STORE_DEREF:           "STORE_DEREF",
	OP_LOAD_NAME:             "LOAD_NAME",
	OP_DELETE_NAME:           "DELETE_NAME",
	OP_DELETE_LOCAL:          "DELETE_LOCAL",
	OP_DELETE_GLOBAL:         "DELETE_GLOBAL",
	OP_DELETE_DEREF:          "DELETE_DEREF",
	OP_POP_TOP:               "POP_TOP",
	OP_DUP_TOP:               "DUP_TOP",
	OP_ROT_TWO:               "ROT_TWO",
	OP_BUILD_TUPLE:           "BUILD_TUPLE",
	OP_BUILD_LIST:            "BUILD_LIST",
	OP_BUILD_DICT:            "BUILD_DICT",
	OP_BUILD_SET:             "BUILD_SET",
	OP_LIST_EXTEND:           "LIST_EXTEND",
	OP_DICT_UPDATE:           "DICT_UPDATE",
	OP_SET_UPDATE:            "SET_UPDATE",
	OP_BUILD_SLICE:           "BUILD_SLICE",
	OP_SUBSCR_GET:            "SUBSCR_GET",
	OP_SUBSCR_SET:            "SUBSCR_SET",
	OP_SUBSCR_DELETE:         "SUBSCR_DELETE",
	OP_BINARY_OP:             "BINARY_OP",
	OP_INPLACE_OP:            "INPLACE_OP",
	OP_UNARY_OP:              "UNARY_OP",
	OP_COMPARE_OP:            "COMPARE_OP",
	OP_COMPARE_CHAIN:         "COMPARE_CHAIN",
	OP_IS_OP:                 "IS_OP",
	OP_CONTAINS_OP:           "CONTAINS_OP",
	OP_JUMP:                  "JUMP",
	OP_JUMP_IF_TRUE:          "JUMP_IF_TRUE",
	OP_JUMP_IF_FALSE:         "JUMP_IF_FALSE",
	OP_JUMP_IF_NOT_EXC_MATCH: "JUMP_IF_NOT_EXC_MATCH",
	OP_FOR_ITER:              "FOR_ITER",
	OP_END_FOR:               "END_FOR",
	OP_GET_ITER:              "GET_ITER",
	OP_MAKE_FUNCTION:         "MAKE_FUNCTION",
	OP_CALL:                  "CALL",
	OP_CALL_FUNCTION_EX:      "CALL_FUNCTION_EX",
	OP_RETURN_VALUE:          "RETURN_VALUE",
	OP_YIELD_VALUE:           "YIELD_VALUE",
	OP_YIELD_FROM:            "YIELD_FROM",
	OP_GET_AWAITABLE:         "GET_AWAITABLE",
	OP_AWAIT:                 "AWAIT",
	OP_CALL_EXTERNAL:         "CALL_EXTERNAL",
	OP_RAISE_VARARGS:         "RAISE_VARARGS",
	OP_PUSH_EXC_BLOCK:        "PUSH_EXC_BLOCK",
	OP_POP_EXC_BLOCK:         "POP_EXC_BLOCK",
	OP_RERAISE:               "RERAISE",
	OP_CHECK_EXC_MATCH:       "CHECK_EXC_MATCH",
	OP_CLEANUP_FINALLY:       "CLEANUP_FINALLY",
	OP_PUSH_EXC_GROUP_MATCH:  "PUSH_EXC_GROUP_MATCH",
	OP_BUILD_CLASS:           "BUILD_CLASS",
	OP_LOAD_METHOD:           "LOAD_METHOD",
	OP_SET_NAME_DESCRIPTOR:   "SET_NAME_DESCRIPTOR",
}

// BinaryOp tags the specific operator carried by OP_BINARY_OP / OP_INPLACE_OP.
type BinaryOp byte

const (
	BinAdd BinaryOp = iota
	BinSub
	BinMul
	BinDiv
	BinFloorDiv
	BinMod
	BinPow
	BinLShift
	BinRShift
	BinAnd
	BinOr
	BinXor
	BinMatMul
)

// CompareOp tags the specific comparison carried by OP_COMPARE_OP.
type CompareOp byte

const (
	CmpLt CompareOp = iota
	CmpLe
	CmpEq
	CmpNe
	CmpGt
	CmpGe
)

// UnaryOp tags the operator carried by OP_UNARY_OP.
type UnaryOp byte

const (
	UnaryNeg UnaryOp = iota
	UnaryPos
	UnaryNot
	UnaryInvert
)
