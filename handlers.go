// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Opcode handler implementations (spec §4.10, §4.11). Grounded on the
// original ErlangRT's per-opcode modules (op_data.rs's move/put family,
// op_execution.rs's call/return family, op_predicates.rs's is_* family,
// op_memory.rs's allocate/deallocate, op_bif.rs's bif/gc_bif family) —
// each handler here covers the same instruction, rewritten against this
// runtime's Context/Process types instead of the original's VM/Context/
// Process trio plus a macro-expanded operand-fetch DSL.

func opFuncInfo(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	// Operands (module atom, function atom, arity) were only needed by the
	// loader to build the function table; at runtime func_info is reached
	// only via a direct jump into the middle of a call sequence gone
	// wrong, so raise function_clause, matching the original's
	// op_execution.rs behaviour of raising on a stray func_info.
	ctx.skipUnused()
	ctx.skipUnused()
	ctx.skipUnused()
	return 0, NewException(ClassError, vm.Atoms.Intern("function_clause"), nil)
}

// opMove implements `move Src Dst`: load implements the operand read
// (resolving register references), the destination is always a register
// and is written directly.
func opMove(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	src := ctx.fetchLoad(p, p.currentFrameSize)
	dst := ctx.fetch()
	writeRegister(p, dst, src)
	return DispatchNormal, nil
}

// writeRegister stores v into the register/stack-cell dst names.
func writeRegister(p *Process, dst Term, v Term) {
	switch {
	case dst.IsRegX():
		p.Regs[dst.RegisterIndex()] = v
	case dst.IsRegY():
		p.SetYRegister(p.currentFrameSize, int(dst.RegisterIndex()), v)
	}
}

// opReturn implements `return`: pop the saved CP and jump to it; if the
// stack is empty the process has returned from its entry call and
// finishes.
func opReturn(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	if len(p.Stack) == 0 {
		return DispatchFinished, nil
	}
	cp := p.Stack[len(p.Stack)-1]
	p.Stack = p.Stack[:len(p.Stack)-1]
	ctx.IP = int(cp.CPIndex())
	return DispatchNormal, nil
}

// opJump implements `jump Label`: Label has already been fixed up into a
// CP term by fixup.go.
func opJump(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	target, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	ctx.IP = int(target.CPIndex())
	return DispatchNormal, nil
}

// opAllocate implements `allocate StackNeed Live`.
func opAllocate(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	n, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	ctx.skipUnused()
	p.PushFrame(int(n), MakeCP(uint32(ctx.IP)))
	p.currentFrameSize = int(n)
	return DispatchNormal, nil
}

// opAllocateZero implements `allocate_zero StackNeed Live`: identical to
// allocate in this runtime, since Heap.Alloc's zeroed flag has no bearing
// on the Y-register stack, which is already always zero-valued Go memory
// on first use.
func opAllocateZero(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return opAllocate(vm, ctx, p)
}

// opAllocateHeap implements `allocate_heap StackNeed HeapNeed Live`: the
// heap-growth guarantee HeapNeed requests is satisfied unconditionally
// (this runtime pre-sizes process heaps; see opNoop's test_heap note).
func opAllocateHeap(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	n, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	ctx.skipUnused()
	ctx.skipUnused()
	p.PushFrame(int(n), MakeCP(uint32(ctx.IP)))
	p.currentFrameSize = int(n)
	return DispatchNormal, nil
}

// opDeallocate implements `deallocate N`: tear down the current stack
// frame (its N Y slots and the CP word allocate pushed above them) and
// continue with the next instruction; the following `return` then pops
// the return CP that `call` pushed beneath the frame.
func opDeallocate(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	n, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	p.PopFrame(int(n))
	p.currentFrameSize = 0
	return DispatchNormal, nil
}

// opCall implements `call Arity Label`: save the return CP, jump to
// Label.
func opCall(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused() // arity: callee already knows its own arity
	target, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	retCP := MakeCP(uint32(ctx.IP))
	p.Stack = append(p.Stack, retCP)
	ctx.IP = int(target.CPIndex())
	return DispatchNormal, nil
}

// opCallOnly implements `call_only Arity Label`: a tail call, no return
// address pushed.
func opCallOnly(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused()
	target, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	ctx.IP = int(target.CPIndex())
	return DispatchNormal, nil
}

// opCallLast implements `call_last Arity Label Dealloc`: deallocate the
// current frame, then perform a plain jump (the caller's own caller's
// return address is already beneath the frame being torn down).
func opCallLast(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused()
	target, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	n, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	p.PopFrame(int(n))
	p.currentFrameSize = 0
	ctx.IP = int(target.CPIndex())
	return DispatchNormal, nil
}

// resolveImport looks up a call_ext target's {Module, Function, Arity}
// triple against the running module's import table by index.
func resolveImport(p *Process, idx uint64) (Import, error) {
	if int(idx) >= len(p.Module.Imports) {
		return Import{}, &CompactTermError{Reason: "import index out of range"}
	}
	return p.Module.Imports[idx], nil
}

// opCallExt implements `call_ext Arity Import`: resolve the import, and —
// since cross-module linking is outside this runtime's scope (Non-goal:
// no multi-module code server graph) — raise `undef` rather than attempt
// a real cross-module call.
func opCallExt(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused()
	idxTerm := ctx.fetch()
	if !idxTerm.IsSmall() {
		return 0, &CompactTermError{Reason: "call_ext import operand is not a small integer"}
	}
	imp, err := resolveImport(p, idxTerm.GetSmallUnsigned())
	if err != nil {
		return 0, err
	}
	tuple, err := imp.AsTuple(p.Heap)
	if err != nil {
		return 0, err
	}
	return 0, NewException(ClassError, vm.Atoms.Intern("undef"), []Term{tuple})
}

// opCallExtLast implements `call_ext_last Arity Import Dealloc`.
func opCallExtLast(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused()
	idxTerm := ctx.fetch()
	n, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	p.PopFrame(int(n))
	p.currentFrameSize = 0
	if !idxTerm.IsSmall() {
		return 0, &CompactTermError{Reason: "call_ext_last import operand is not a small integer"}
	}
	imp, err := resolveImport(p, idxTerm.GetSmallUnsigned())
	if err != nil {
		return 0, err
	}
	tuple, err := imp.AsTuple(p.Heap)
	if err != nil {
		return 0, err
	}
	return 0, NewException(ClassError, vm.Atoms.Intern("undef"), []Term{tuple})
}

// arithOp runs an arith.go binary operation over two loaded operands and
// stores the result. No handler calls it: opBif2, opGCBif2 and opGCBif3
// fetch their operands and apply arithByAtom themselves.
func arithOp(ctx *Context, p *Process, fn func(*Heap, Term, Term) (Term, error)) (DispatchResult, error) {
	x := ctx.fetchLoad(p, p.currentFrameSize)
	y := ctx.fetchLoad(p, p.currentFrameSize)
	dst := ctx.fetch()
	result, err := fn(p.Heap, x, y)
	if err != nil {
		return 0, err
	}
	writeRegister(p, dst, result)
	return DispatchNormal, nil
}

// opBif0 implements `bif0 Bif Dst`: a niladic built-in; this runtime's Non
// -goal around BIF table completeness means only `self`-free constants
// are meaningful here, so bif0 simply materializes `nil` whatever the Bif
// operand names.
func opBif0(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused()
	dst := ctx.fetch()
	writeRegister(p, dst, NilTerm)
	return DispatchNormal, nil
}

// opBif1 implements `bif1 Fail Bif Arg Dst`: no unary built-in is
// applied; the Fail label and Bif operand are skipped and Arg is copied to
// Dst unchanged, so bif1 never fails.
func opBif1(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused()
	ctx.skipUnused()
	x := ctx.fetchLoad(p, p.currentFrameSize)
	dst := ctx.fetch()
	writeRegister(p, dst, x)
	return DispatchNormal, nil
}

// opBif2 implements `bif2 Fail Bif Arg1 Arg2 Dst`, dispatching to the
// arithmetic op named by the Bif atom operand.
func opBif2(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused()
	bifAtom := ctx.fetch()
	x := ctx.fetchLoad(p, p.currentFrameSize)
	y := ctx.fetchLoad(p, p.currentFrameSize)
	dst := ctx.fetch()
	fn := arithByAtom(vm, bifAtom)
	result, err := fn(p.Heap, x, y)
	if err != nil {
		return 0, raiseArithError(vm, err)
	}
	writeRegister(p, dst, result)
	return DispatchNormal, nil
}

// raiseArithError translates arith.go's ErrDivideByZero sentinel into a
// proper `badarith` RuntimeException now that an atom table is in reach
// (arith.go itself has none); any other error passes through unchanged.
func raiseArithError(vm *CodeServer, err error) error {
	if err == ErrDivideByZero {
		return NewException(ClassError, vm.Atoms.Intern("badarith"), nil)
	}
	return err
}

// arithByAtom resolves a bif name atom to its arith.go implementation,
// defaulting to Add — the arithmetic BIF set this runtime models is
// deliberately small (spec's Non-goals exclude a complete BIF table).
func arithByAtom(vm *CodeServer, bifAtom Term) func(*Heap, Term, Term) (Term, error) {
	if !bifAtom.IsAtom() {
		return Add
	}
	switch vm.Atoms.Name(bifAtom) {
	case "-":
		return Sub
	case "*":
		return Mul
	case "div":
		return Div
	case "rem":
		return Rem
	default:
		return Add
	}
}

// opGCBif1 implements `gc_bif1 Fail Live Bif Arg Dst`: identical to bif1
// modulo the extra Live operand, since heap growth is unconditionally
// satisfied in this runtime (see opAllocateHeap).
func opGCBif1(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused()
	ctx.skipUnused()
	ctx.skipUnused()
	x := ctx.fetchLoad(p, p.currentFrameSize)
	dst := ctx.fetch()
	writeRegister(p, dst, x)
	return DispatchNormal, nil
}

// opGCBif2 implements `gc_bif2 Fail Live Bif Arg1 Arg2 Dst`.
func opGCBif2(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused()
	ctx.skipUnused()
	bifAtom := ctx.fetch()
	x := ctx.fetchLoad(p, p.currentFrameSize)
	y := ctx.fetchLoad(p, p.currentFrameSize)
	dst := ctx.fetch()
	fn := arithByAtom(vm, bifAtom)
	result, err := fn(p.Heap, x, y)
	if err != nil {
		return 0, raiseArithError(vm, err)
	}
	writeRegister(p, dst, result)
	return DispatchNormal, nil
}

// predicateOp implements the `is_X Fail Arg` family: if the predicate
// fails, jump to Fail; otherwise fall through.
func predicateOp(ctx *Context, p *Process, pred func(Term) bool) (DispatchResult, error) {
	fail, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	arg := ctx.fetchLoad(p, p.currentFrameSize)
	if !pred(arg) {
		ctx.IP = int(fail.CPIndex())
	}
	return DispatchNormal, nil
}

func opIsInteger(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return predicateOp(ctx, p, func(t Term) bool { return t.IsSmall() || (t.IsBoxed() && boxTypeAt(p.Heap, t) == BoxBignum) })
}
func opIsAtom(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return predicateOp(ctx, p, Term.IsAtom)
}
func opIsNil(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return predicateOp(ctx, p, Term.IsNil)
}
func opIsList(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return predicateOp(ctx, p, func(t Term) bool { return t.IsCons() || t.IsNil() })
}
func opIsNonemptyList(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return predicateOp(ctx, p, Term.IsCons)
}
func opIsTuple(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return predicateOp(ctx, p, func(t Term) bool { return t.IsBoxed() && boxTypeAt(p.Heap, t) == BoxTuple })
}

// opTestArity implements `test_arity Fail Arg Arity`.
func opTestArity(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	fail, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	arg := ctx.fetchLoad(p, p.currentFrameSize)
	n, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	if !arg.IsBoxed() || boxTypeAt(p.Heap, arg) != BoxTuple || TupleArity(p.Heap, arg) != int(n) {
		ctx.IP = int(fail.CPIndex())
	}
	return DispatchNormal, nil
}

// comparisonOp implements the `is_lt/is_ge/is_eq/...` family: compare two
// loaded operands and jump to Fail if the comparison does not hold.
func comparisonOp(ctx *Context, p *Process, cmp func(a, b Term) bool) (DispatchResult, error) {
	fail, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	a := ctx.fetchLoad(p, p.currentFrameSize)
	b := ctx.fetchLoad(p, p.currentFrameSize)
	if !cmp(a, b) {
		ctx.IP = int(fail.CPIndex())
	}
	return DispatchNormal, nil
}

func opIsLT(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return comparisonOp(ctx, p, func(a, b Term) bool {
		return a.IsSmall() && b.IsSmall() && a.GetSmallSigned() < b.GetSmallSigned()
	})
}
func opIsGE(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return comparisonOp(ctx, p, func(a, b Term) bool {
		return a.IsSmall() && b.IsSmall() && a.GetSmallSigned() >= b.GetSmallSigned()
	})
}
func opIsEQ(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return comparisonOp(ctx, p, func(a, b Term) bool {
		return a.IsSmall() && b.IsSmall() && a.GetSmallSigned() == b.GetSmallSigned()
	})
}
func opIsNE(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return comparisonOp(ctx, p, func(a, b Term) bool {
		return a.IsSmall() && b.IsSmall() && a.GetSmallSigned() != b.GetSmallSigned()
	})
}
func opIsEQExact(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return comparisonOp(ctx, p, Term.Equal)
}
func opIsNEExact(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return comparisonOp(ctx, p, func(a, b Term) bool { return !a.Equal(b) })
}

// opSelectVal implements `select_val Arg Fail JumpTable`: linear scan the
// boxed jump table (already fixed up into (value, CP) pairs) for a match.
func opSelectVal(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	arg := ctx.fetchLoad(p, p.currentFrameSize)
	fail, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	table := ctx.fetch()
	if !table.IsBoxed() || boxTypeAt(p.Heap, table) != BoxJumpTable {
		return 0, &CompactTermError{Reason: "select_val operand is not a jump table"}
	}
	n := JumpTableCount(p.Heap, table)
	for i := 0; i < n; i++ {
		val, label := JumpTableGetPair(p.Heap, table, i)
		if val.Equal(arg) {
			ctx.IP = int(label.CPIndex())
			return DispatchNormal, nil
		}
	}
	ctx.IP = int(fail.CPIndex())
	return DispatchNormal, nil
}

// opGetList implements `get_list Src Head Tail`.
func opGetList(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	src := ctx.fetchLoad(p, p.currentFrameSize)
	headDst := ctx.fetch()
	tailDst := ctx.fetch()
	if !src.IsCons() {
		return 0, &BadArgError{Opcode: OpGetList, Position: 0, Reason: "get_list operand is not a cons cell"}
	}
	idx := src.ConsIndex()
	writeRegister(p, headDst, p.Heap.Words[idx])
	writeRegister(p, tailDst, p.Heap.Words[idx+1])
	return DispatchNormal, nil
}

// opGetTupleElement implements `get_tuple_element Src Index Dst`.
func opGetTupleElement(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	src := ctx.fetchLoad(p, p.currentFrameSize)
	idx, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	dst := ctx.fetch()
	if !src.IsBoxed() || boxTypeAt(p.Heap, src) != BoxTuple {
		return 0, &BadArgError{Opcode: OpGetTupleElement, Position: 0, Reason: "operand is not a tuple"}
	}
	writeRegister(p, dst, TupleElement(p.Heap, src, int(idx)))
	return DispatchNormal, nil
}

// opSetTupleElement implements `set_tuple_element Value Tuple Index`.
func opSetTupleElement(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	value := ctx.fetchLoad(p, p.currentFrameSize)
	tuple, err := ctx.fetchLiteralTuple(p.Heap)
	if err != nil {
		return 0, err
	}
	idx, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	SetTupleElement(p.Heap, tuple, int(idx), value)
	return DispatchNormal, nil
}

// opPutList implements `put_list Head Tail Dst`.
func opPutList(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	head := ctx.fetchLoad(p, p.currentFrameSize)
	tail := ctx.fetchLoad(p, p.currentFrameSize)
	dst := ctx.fetch()
	idx, err := p.Heap.Alloc(2, false)
	if err != nil {
		return 0, err
	}
	p.Heap.Words[idx] = head
	p.Heap.Words[idx+1] = tail
	writeRegister(p, dst, MakeCons(uint32(idx)))
	return DispatchNormal, nil
}

// opPutTuple implements `put_tuple Arity Dst` followed by Arity `put`
// instructions supplying its elements (spec's original encodes put_tuple
// as a header, with each following `put Value` appending one element).
func opPutTuple(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	n, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	dst := ctx.fetch()
	idx, err := p.Heap.Alloc(1+int(n), false)
	if err != nil {
		return 0, err
	}
	p.Heap.Words[idx] = makeHeader(BoxTuple, uint32(n), false)
	writeRegister(p, dst, MakeBoxed(uint32(idx)))
	p.pendingTuple = MakeBoxed(uint32(idx))
	p.pendingTupleNext = 0
	return DispatchNormal, nil
}

// opPut implements `put Value`: append Value as the next element of the
// tuple most recently opened by put_tuple.
func opPut(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	value := ctx.fetchLoad(p, p.currentFrameSize)
	SetTupleElement(p.Heap, p.pendingTuple, p.pendingTupleNext, value)
	p.pendingTupleNext++
	return DispatchNormal, nil
}

// opBadmatch implements `badmatch Arg`: raise a `{badmatch, Arg}` error.
func opBadmatch(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	arg := ctx.fetchLoad(p, p.currentFrameSize)
	tuple, err := CreateTupleInto(p.Heap, []Term{vm.Atoms.Intern("badmatch"), arg})
	if err != nil {
		return 0, err
	}
	return 0, NewException(ClassError, tuple, nil)
}

// opIfEnd implements `if_end`: an `if` with no matching clause always
// raises.
func opIfEnd(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return 0, NewException(ClassError, vm.Atoms.Intern("if_clause"), nil)
}

// opCaseEnd implements `case_end Arg`: a `case` with no matching clause.
func opCaseEnd(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	arg := ctx.fetchLoad(p, p.currentFrameSize)
	tuple, err := CreateTupleInto(p.Heap, []Term{vm.Atoms.Intern("case_clause"), arg})
	if err != nil {
		return 0, err
	}
	return 0, NewException(ClassError, tuple, nil)
}

// opIntCodeEnd marks the end of a module's instruction stream; reaching
// it means the root call ran off its final return.
func opIntCodeEnd(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return DispatchFinished, nil
}

// opInit implements `init Yreg`: clear a stack slot to nil before first
// use within a freshly allocated frame.
func opInit(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	y, err := ctx.fetchYReg()
	if err != nil {
		return 0, err
	}
	p.SetYRegister(p.currentFrameSize, int(y.RegisterIndex()), NilTerm)
	return DispatchNormal, nil
}

// opSend implements `send`: x0 names the destination, x1 the message.
// Pid routing beyond the local process is distribution, out of scope; the
// message lands in the local mailbox, which preserves the per-sender
// ordering guarantee for everything this runtime can express. x0 receives
// the message, as Erlang's `!` evaluates to it.
func opSend(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	msg := p.Regs[1]
	p.Mailbox = append(p.Mailbox, msg)
	p.Regs[0] = msg
	return DispatchNormal, nil
}

func opIsFloat(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	// No float box exists in this term model (ETF floats are boxed as raw
	// bit patterns); the test never holds.
	return predicateOp(ctx, p, func(t Term) bool { return false })
}
func opIsBinary(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return predicateOp(ctx, p, func(t Term) bool {
		if !t.IsBoxed() {
			return false
		}
		bt := boxTypeAt(p.Heap, t)
		return bt == BoxBinaryHeap || bt == BoxBinaryRefc
	})
}
func opIsFunction(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return predicateOp(ctx, p, func(t Term) bool { return t.IsBoxed() && boxTypeAt(p.Heap, t) == BoxClosure })
}

// opIsTaggedTuple implements `is_tagged_tuple Fail Arg Arity Atom`: a
// fused is_tuple + test_arity + element-1 comparison.
func opIsTaggedTuple(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	fail, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	arg := ctx.fetchLoad(p, p.currentFrameSize)
	n, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	tag := ctx.fetch()
	if !arg.IsBoxed() || boxTypeAt(p.Heap, arg) != BoxTuple ||
		TupleArity(p.Heap, arg) != int(n) || !TupleElement(p.Heap, arg, 0).Equal(tag) {
		ctx.IP = int(fail.CPIndex())
	}
	return DispatchNormal, nil
}

// opSelectTupleArity implements `select_tuple_arity Arg Fail JumpTable`:
// like select_val, but the jump table's values are tuple arities.
func opSelectTupleArity(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	arg := ctx.fetchLoad(p, p.currentFrameSize)
	fail, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	table := ctx.fetch()
	if !table.IsBoxed() || boxTypeAt(p.Heap, table) != BoxJumpTable {
		return 0, &CompactTermError{Reason: "select_tuple_arity operand is not a jump table"}
	}
	if arg.IsBoxed() && boxTypeAt(p.Heap, arg) == BoxTuple {
		arity := MakeSmallUnsigned(uint64(TupleArity(p.Heap, arg)))
		n := JumpTableCount(p.Heap, table)
		for i := 0; i < n; i++ {
			val, label := JumpTableGetPair(p.Heap, table, i)
			if val.Equal(arity) {
				ctx.IP = int(label.CPIndex())
				return DispatchNormal, nil
			}
		}
	}
	ctx.IP = int(fail.CPIndex())
	return DispatchNormal, nil
}

// opGCBif3 implements `gc_bif3 Fail Live Bif A1 A2 A3 Dst` by folding the
// named binary operation left over the three operands.
func opGCBif3(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.skipUnused()
	ctx.skipUnused()
	bifAtom := ctx.fetch()
	a := ctx.fetchLoad(p, p.currentFrameSize)
	b := ctx.fetchLoad(p, p.currentFrameSize)
	c := ctx.fetchLoad(p, p.currentFrameSize)
	dst := ctx.fetch()
	fn := arithByAtom(vm, bifAtom)
	ab, err := fn(p.Heap, a, b)
	if err != nil {
		return 0, raiseArithError(vm, err)
	}
	result, err := fn(p.Heap, ab, c)
	if err != nil {
		return 0, raiseArithError(vm, err)
	}
	writeRegister(p, dst, result)
	return DispatchNormal, nil
}

// opMakeFun2 implements `make_fun2 LambdaIndex`: materialize a closure
// from the lambda table, capturing NumFree values from x0.., result in x0.
func opMakeFun2(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	idx, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	if int(idx) >= len(p.Module.Lambdas) {
		return 0, &CompactTermError{Reason: "make_fun2 lambda index out of range"}
	}
	lambda := p.Module.Lambdas[idx]
	captured := make([]Term, lambda.NumFree)
	copy(captured, p.Regs[:lambda.NumFree])
	closure, err := CreateClosureInto(p.Heap, MakeCP(uint32(lambda.Offset)), captured)
	if err != nil {
		return 0, err
	}
	p.Regs[0] = closure
	return DispatchNormal, nil
}

// opCallFun implements `call_fun Arity`: the closure rides in x[Arity]
// after its arguments; its captured environment is appended after them.
func opCallFun(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	arity, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	closure := p.Regs[arity]
	if !closure.IsBoxed() || boxTypeAt(p.Heap, closure) != BoxClosure {
		tuple, terr := CreateTupleInto(p.Heap, []Term{vm.Atoms.Intern("badfun"), closure})
		if terr != nil {
			return 0, terr
		}
		return 0, NewException(ClassError, tuple, nil)
	}
	env := ClosureEnvArity(p.Heap, closure)
	for i := 0; i < env; i++ {
		p.Regs[int(arity)+i] = ClosureElement(p.Heap, closure, i)
	}
	p.Stack = append(p.Stack, MakeCP(uint32(ctx.IP)))
	ctx.IP = int(ClosureFunRef(p.Heap, closure).CPIndex())
	return DispatchNormal, nil
}

// applyTarget resolves an apply's module/function pair: a local call if
// the module atom names the running module, `undef` otherwise (cross-
// module linking stays out of this runtime's scope, matching opCallExt).
func applyTarget(vm *CodeServer, p *Process, arity uint64) (int, error) {
	mod := p.Regs[arity]
	fun := p.Regs[arity+1]
	if mod.Equal(p.Module.Name) {
		if entry, ok := p.Module.Functions[FunArity{Function: fun, Arity: uint32(arity)}]; ok {
			return entry, nil
		}
	}
	tuple, err := CreateTupleInto(p.Heap, []Term{mod, fun, MakeSmallUnsigned(arity)})
	if err != nil {
		return 0, err
	}
	return 0, NewException(ClassError, vm.Atoms.Intern("undef"), []Term{tuple})
}

// opApply implements `apply Arity`: x0..x(Arity-1) hold the arguments,
// x(Arity) the module atom, x(Arity+1) the function atom.
func opApply(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	arity, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	entry, err := applyTarget(vm, p, arity)
	if err != nil {
		return 0, err
	}
	p.Stack = append(p.Stack, MakeCP(uint32(ctx.IP)))
	ctx.IP = entry
	return DispatchNormal, nil
}

// opApplyLast implements `apply_last Arity Dealloc`: tail-call variant.
func opApplyLast(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	arity, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	n, err := ctx.fetchUsize()
	if err != nil {
		return 0, err
	}
	entry, err := applyTarget(vm, p, arity)
	if err != nil {
		return 0, err
	}
	p.PopFrame(int(n))
	p.currentFrameSize = 0
	ctx.IP = entry
	return DispatchNormal, nil
}

// opTry implements `try Yreg Label`: push a catch frame unwinding to
// Label, parking the handler CP in the Y slot the way the compiler
// expects to find (and later clear) it.
func opTry(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	y, err := ctx.fetchYReg()
	if err != nil {
		return 0, err
	}
	target, err := ctx.fetchCPOrNil()
	if err != nil {
		return 0, err
	}
	p.catches = append(p.catches, catchFrame{
		target:     target,
		stackDepth: len(p.Stack),
		frameSize:  p.currentFrameSize,
	})
	p.SetYRegister(p.currentFrameSize, int(y.RegisterIndex()), target)
	return DispatchNormal, nil
}

// opTryEnd implements `try_end Yreg`: the protected body completed, pop
// its catch frame.
func opTryEnd(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	y, err := ctx.fetchYReg()
	if err != nil {
		return 0, err
	}
	if len(p.catches) > 0 {
		p.catches = p.catches[:len(p.catches)-1]
	}
	p.SetYRegister(p.currentFrameSize, int(y.RegisterIndex()), NilTerm)
	return DispatchNormal, nil
}

// opTryCase implements `try_case Yreg`: execution arrives here only via
// the unwinder, which already retired the frame and parked {class,
// reason, trace} in x0..x2; only the Y-slot marker remains to clear.
func opTryCase(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	y, err := ctx.fetchYReg()
	if err != nil {
		return 0, err
	}
	p.SetYRegister(p.currentFrameSize, int(y.RegisterIndex()), NilTerm)
	return DispatchNormal, nil
}

// opTryCaseEnd implements `try_case_end Arg`: no try_case clause matched.
func opTryCaseEnd(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	arg := ctx.fetchLoad(p, p.currentFrameSize)
	tuple, err := CreateTupleInto(p.Heap, []Term{vm.Atoms.Intern("try_clause"), arg})
	if err != nil {
		return 0, err
	}
	return 0, NewException(ClassError, tuple, nil)
}

// opCatch implements `catch Yreg Label`: same frame discipline as try.
func opCatch(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	return opTry(vm, ctx, p)
}

// opCatchEnd implements `catch_end Yreg`. The catch label points at this
// very instruction, so it runs on both paths: on normal completion the
// top catch frame still targets it and must be popped; on exceptional
// arrival the unwinder already popped it (the top frame, if any, belongs
// to an enclosing catch) and the caught {class, reason} pair sits in
// x0/x1, where a throw's catch value is the reason itself.
func opCatchEnd(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	here := uint32(ctx.IP - 1)
	y, err := ctx.fetchYReg()
	if err != nil {
		return 0, err
	}
	if n := len(p.catches); n > 0 && p.catches[n-1].target.CPIndex() == here {
		p.catches = p.catches[:n-1]
	} else if p.Regs[0].Equal(vm.Atoms.Intern("throw")) {
		p.Regs[0] = p.Regs[1]
	}
	p.SetYRegister(p.currentFrameSize, int(y.RegisterIndex()), NilTerm)
	return DispatchNormal, nil
}

// opRaise implements `raise Trace Reason`: re-raise a caught exception.
func opRaise(vm *CodeServer, ctx *Context, p *Process) (DispatchResult, error) {
	ctx.fetchLoad(p, p.currentFrameSize) // stacktrace, not modelled
	reason := ctx.fetchLoad(p, p.currentFrameSize)
	return 0, NewException(ClassError, reason, nil)
}
