// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Dispatch core (spec §4.10, Component J). Grounded on vm_dispatch.rs's
// generated `match op { ... }` table mapping opcode numbers to handler
// functions of a single uniform signature, kept here as a plain Go slice
// indexed by opcode number rather than a generated switch, since Go has
// no codegen step in this pipeline analogous to create_vm_dispatch.py.

// DispatchResult is the four-way outcome a handler hands back to the
// dispatch loop (spec §4.10); a handler that fails returns a non-nil error
// instead.
type DispatchResult int

const (
	DispatchNormal DispatchResult = iota
	DispatchYield
	DispatchWait
	DispatchFinished
)

// Handler is the uniform opcode handler signature (spec §4.10: "(&mut VM,
// &mut Context, &mut Process) -> DispatchResult"). vm stands in for the
// original's VM-wide state (here, the CodeServer); handlers that need it
// (call_ext resolving an import, for instance) take it explicitly rather
// than reaching for a global.
type Handler func(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error)

// handlerTable maps opcode number to Handler, indexed the same way
// arityTable is.
var handlerTable [opcodeMax]Handler

func init() {
	handlerTable[OpFuncInfo] = opFuncInfo
	handlerTable[OpLabel] = opNoop
	handlerTable[OpLine] = opNoop
	handlerTable[OpMove] = opMove
	handlerTable[OpReturn] = opReturn
	handlerTable[OpJump] = opJump
	handlerTable[OpAllocate] = opAllocate
	handlerTable[OpAllocateZero] = opAllocateZero
	handlerTable[OpAllocateHeap] = opAllocateHeap
	handlerTable[OpTestHeap] = opNoop
	handlerTable[OpDeallocate] = opDeallocate
	handlerTable[OpCall] = opCall
	handlerTable[OpCallOnly] = opCallOnly
	handlerTable[OpCallLast] = opCallLast
	handlerTable[OpCallExt] = opCallExt
	handlerTable[OpCallExtLast] = opCallExtLast
	handlerTable[OpBif0] = opBif0
	handlerTable[OpBif1] = opBif1
	handlerTable[OpBif2] = opBif2
	handlerTable[OpGCBif1] = opGCBif1
	handlerTable[OpGCBif2] = opGCBif2
	handlerTable[OpIsLT] = opIsLT
	handlerTable[OpIsGE] = opIsGE
	handlerTable[OpIsEQ] = opIsEQ
	handlerTable[OpIsNE] = opIsNE
	handlerTable[OpIsEQExact] = opIsEQExact
	handlerTable[OpIsNEExact] = opIsNEExact
	handlerTable[OpIsInteger] = opIsInteger
	handlerTable[OpIsAtom] = opIsAtom
	handlerTable[OpIsNil] = opIsNil
	handlerTable[OpIsList] = opIsList
	handlerTable[OpIsNonemptyList] = opIsNonemptyList
	handlerTable[OpIsTuple] = opIsTuple
	handlerTable[OpTestArity] = opTestArity
	handlerTable[OpSelectVal] = opSelectVal
	handlerTable[OpGetList] = opGetList
	handlerTable[OpGetTupleElement] = opGetTupleElement
	handlerTable[OpSetTupleElement] = opSetTupleElement
	handlerTable[OpPutList] = opPutList
	handlerTable[OpPutTuple] = opPutTuple
	handlerTable[OpPut] = opPut
	handlerTable[OpBadmatch] = opBadmatch
	handlerTable[OpIfEnd] = opIfEnd
	handlerTable[OpCaseEnd] = opCaseEnd
	handlerTable[OpIntCodeEnd] = opIntCodeEnd
	handlerTable[OpInit] = opInit
	handlerTable[OpSend] = opSend
	handlerTable[OpIsFloat] = opIsFloat
	handlerTable[OpIsBinary] = opIsBinary
	handlerTable[OpIsFunction] = opIsFunction
	handlerTable[OpIsTaggedTuple] = opIsTaggedTuple
	handlerTable[OpSelectTupleArity] = opSelectTupleArity
	handlerTable[OpGCBif3] = opGCBif3
	handlerTable[OpMakeFun2] = opMakeFun2
	handlerTable[OpCallFun] = opCallFun
	handlerTable[OpApply] = opApply
	handlerTable[OpApplyLast] = opApplyLast
	handlerTable[OpTry] = opTry
	handlerTable[OpTryEnd] = opTryEnd
	handlerTable[OpTryCase] = opTryCase
	handlerTable[OpTryCaseEnd] = opTryCaseEnd
	handlerTable[OpCatch] = opCatch
	handlerTable[OpCatchEnd] = opCatchEnd
	handlerTable[OpRaise] = opRaise
}

// opNoop advances past label/line/test_heap instructions: label has no
// runtime effect (its only job, recording the code offset, happened at
// load time); line is discarded debug info; test_heap's heap-growth
// guarantee is satisfied unconditionally since this runtime's heaps are
// pre-sized per spec's Non-goals around incremental GC.
func opNoop(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	n := Arity(ctx.CurrentOp)
	for i := 0; i < n; i++ {
		ctx.skipUnused()
	}
	return DispatchNormal, nil
}

// Dispatch runs the central dispatch loop (spec §4.10) starting from
// ctx's current IP until reductions are exhausted or the process
// terminates/yields/waits.
func Dispatch(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	for {
		if ctx.Reductions <= 0 {
			return DispatchYield, nil
		}
		opWord := ctx.fetch()
		if !opWord.IsSmall() {
			return 0, &CompactTermError{Reason: "code word at IP is not an opcode"}
		}
		op := byte(opWord.GetSmallUnsigned())
		if op == 0 || op >= OpcodeMax {
			return 0, &BadOpcodeError{Opcode: op}
		}
		ctx.CurrentOp = op
		h := handlerTable[op]
		if h == nil {
			return 0, &BadOpcodeError{Opcode: op}
		}
		result, err := h(vm, ctx, p)
		if err != nil {
			exc, ok := err.(*RuntimeException)
			if !ok || len(p.catches) == 0 {
				return 0, err
			}
			// Unwind to the innermost try/catch frame: cut the Y stack
			// back, land on the handler label, and park the three
			// exception values where try_case expects them.
			f := p.catches[len(p.catches)-1]
			p.catches = p.catches[:len(p.catches)-1]
			p.Stack = p.Stack[:f.stackDepth]
			p.currentFrameSize = f.frameSize
			ctx.IP = int(f.target.CPIndex())
			p.Regs[0] = vm.Atoms.Intern(exc.Class.String())
			p.Regs[1] = exc.Reason
			p.Regs[2] = NilTerm
			ctx.Reductions--
			continue
		}
		ctx.Reductions -= 1 + reductionCost(op)
		switch result {
		case DispatchNormal:
			continue
		default:
			return result, nil
		}
	}
}

// reductionCost reports how many reductions op consumes beyond the
// baseline 1 charged by the loop itself (spec §4.10: "plus opcode-
// specific extra, e.g. call charges additional").
func reductionCost(op byte) int {
	switch op {
	case OpCall, OpCallOnly, OpCallLast, OpCallExt, OpCallExtLast:
		return 1
	default:
		return 0
	}
}
