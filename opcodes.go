// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Opcode numbering and the static arity table (spec §4.7: "arity is
// determined by a static opcode arity table"; §8 invariant 7: "for every
// opcode number <= OPCODE_MAX, the static arity table matches the number of
// operand words consumed by its handler"). Grounded on ntheader.go's
// approach to machine/characteristics constant tables: a flat array of
// named integer constants plus a parallel lookup table, rather than a
// switch statement duplicating the same mapping.

// Opcode numbers are untyped constants so they compare and index freely
// against the raw bytes the code stream carries.
const (
	OpLabel = iota + 1
	OpFuncInfo
	OpIntCodeEnd
	OpCall
	OpCallLast
	OpCallOnly
	OpCallExt
	OpCallExtLast
	OpBif0
	OpBif1
	OpBif2
	OpGCBif1
	OpGCBif2
	OpGCBif3
	OpAllocate
	OpAllocateZero
	OpAllocateHeap
	OpTestHeap
	OpInit
	OpDeallocate
	OpReturn
	OpSend
	OpIsLT
	OpIsGE
	OpIsEQ
	OpIsNE
	OpIsEQExact
	OpIsNEExact
	OpIsInteger
	OpIsFloat
	OpIsAtom
	OpIsNil
	OpIsList
	OpIsNonemptyList
	OpIsTuple
	OpIsBinary
	OpIsFunction
	OpTestArity
	OpSelectVal
	OpSelectTupleArity
	OpJump
	OpMove
	OpGetList
	OpGetTupleElement
	OpSetTupleElement
	OpPutList
	OpPutTuple
	OpPut
	OpBadmatch
	OpIfEnd
	OpCaseEnd
	OpCallFun
	OpMakeFun2
	OpTry
	OpTryEnd
	OpTryCase
	OpTryCaseEnd
	OpRaise
	OpCatch
	OpCatchEnd
	OpApply
	OpApplyLast
	OpIsTaggedTuple
	OpLine

	opcodeMax
)

// OpcodeMax is one past the highest valid opcode number (spec §4.7, §8
// invariant 7).
const OpcodeMax = byte(opcodeMax)

// arityTable maps each opcode to the number of compact-term operands it
// consumes, indexed by Opcode (index 0 unused since opcode numbering
// starts at 1, matching the original loader's convention).
var arityTable = [opcodeMax]int{
	OpLabel:            1,
	OpFuncInfo:         3,
	OpIntCodeEnd:       0,
	OpCall:             2,
	OpCallLast:         3,
	OpCallOnly:         2,
	OpCallExt:          2,
	OpCallExtLast:      3,
	OpBif0:             2,
	OpBif1:             4,
	OpBif2:             5,
	OpGCBif1:           5,
	OpGCBif2:           6,
	OpGCBif3:           7,
	OpAllocate:         2,
	OpAllocateZero:     2,
	OpAllocateHeap:     3,
	OpTestHeap:         2,
	OpInit:             1,
	OpDeallocate:       1,
	OpReturn:           0,
	OpSend:             0,
	OpIsLT:             3,
	OpIsGE:             3,
	OpIsEQ:             3,
	OpIsNE:             3,
	OpIsEQExact:        3,
	OpIsNEExact:        3,
	OpIsInteger:        2,
	OpIsFloat:          2,
	OpIsAtom:           2,
	OpIsNil:            2,
	OpIsList:           2,
	OpIsNonemptyList:   2,
	OpIsTuple:          2,
	OpIsBinary:         2,
	OpIsFunction:       2,
	OpTestArity:        3,
	OpSelectVal:        3,
	OpSelectTupleArity: 3,
	OpJump:             1,
	OpMove:             2,
	OpGetList:          3,
	OpGetTupleElement:  3,
	OpSetTupleElement:  3,
	OpPutList:          3,
	OpPutTuple:         2,
	OpPut:              1,
	OpBadmatch:         1,
	OpIfEnd:            0,
	OpCaseEnd:          1,
	OpCallFun:          1,
	OpMakeFun2:         1,
	OpTry:              2,
	OpTryEnd:           1,
	OpTryCase:          1,
	OpTryCaseEnd:       1,
	OpRaise:            2,
	OpCatch:            2,
	OpCatchEnd:         1,
	OpApply:            1,
	OpApplyLast:        2,
	OpIsTaggedTuple:    4,
	OpLine:             1,
}

// Arity returns op's declared operand count, or -1 if op is out of range
// (spec §4.7's `BadOpcode` condition).
func Arity(op byte) int {
	if op == 0 || op >= OpcodeMax {
		return -1
	}
	return arityTable[op]
}

// opcodeNames supports diagnostic formatting (error messages, dump
// tooling); deliberately not exhaustive documentation, mirroring the
// teacher's sparse inline-constant commenting style elsewhere (e.g.
// ntheader.go's machine-type table).
var opcodeNames = [opcodeMax]string{
	OpLabel:            "label",
	OpFuncInfo:         "func_info",
	OpIntCodeEnd:       "int_code_end",
	OpCall:             "call",
	OpCallLast:         "call_last",
	OpCallOnly:         "call_only",
	OpCallExt:          "call_ext",
	OpCallExtLast:      "call_ext_last",
	OpBif0:             "bif0",
	OpBif1:             "bif1",
	OpBif2:             "bif2",
	OpGCBif1:           "gc_bif1",
	OpGCBif2:           "gc_bif2",
	OpGCBif3:           "gc_bif3",
	OpAllocate:         "allocate",
	OpAllocateZero:     "allocate_zero",
	OpAllocateHeap:     "allocate_heap",
	OpTestHeap:         "test_heap",
	OpInit:             "init",
	OpDeallocate:       "deallocate",
	OpReturn:           "return",
	OpSend:             "send",
	OpIsLT:             "is_lt",
	OpIsGE:             "is_ge",
	OpIsEQ:             "is_eq",
	OpIsNE:             "is_ne",
	OpIsEQExact:        "is_eq_exact",
	OpIsNEExact:        "is_ne_exact",
	OpIsInteger:        "is_integer",
	OpIsFloat:          "is_float",
	OpIsAtom:           "is_atom",
	OpIsNil:            "is_nil",
	OpIsList:           "is_list",
	OpIsNonemptyList:   "is_nonempty_list",
	OpIsTuple:          "is_tuple",
	OpIsBinary:         "is_binary",
	OpIsFunction:       "is_function",
	OpTestArity:        "test_arity",
	OpSelectVal:        "select_val",
	OpSelectTupleArity: "select_tuple_arity",
	OpJump:             "jump",
	OpMove:             "move",
	OpGetList:          "get_list",
	OpGetTupleElement:  "get_tuple_element",
	OpSetTupleElement:  "set_tuple_element",
	OpPutList:          "put_list",
	OpPutTuple:         "put_tuple",
	OpPut:              "put",
	OpBadmatch:         "badmatch",
	OpIfEnd:            "if_end",
	OpCaseEnd:          "case_end",
	OpCallFun:          "call_fun",
	OpMakeFun2:         "make_fun2",
	OpTry:              "try",
	OpTryEnd:           "try_end",
	OpTryCase:          "try_case",
	OpTryCaseEnd:       "try_case_end",
	OpRaise:            "raise",
	OpCatch:            "catch",
	OpCatchEnd:         "catch_end",
	OpApply:            "apply",
	OpApplyLast:        "apply_last",
	OpIsTaggedTuple:    "is_tagged_tuple",
	OpLine:             "line",
}

// OpcodeName returns op's mnemonic, or "unknown" if out of range.
func OpcodeName(op byte) string {
	if op == 0 || op >= OpcodeMax {
		return "unknown"
	}
	return opcodeNames[op]
}
