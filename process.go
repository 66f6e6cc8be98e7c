// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Process and Context (spec §4.10, §4.11, Component K). Grounded on the
// same "flat mutable state struct with a handful of owned slices" shape
// file.go uses for its own File, scaled down to the process register
// file, Y-register stack, and heap the dispatch core reads and writes.

// ProcessStatus names a Process's scheduling state.
type ProcessStatus int

const (
	StatusRunnable ProcessStatus = iota
	StatusWaiting
	StatusFinished
)

// MaxXRegisters bounds the flat X-register file (spec §4.11: "X0...X_live
// are live across calls").
const MaxXRegisters = 256

// Process is one lightweight concurrent unit of execution: its own heap,
// register file, Y-register stack, mailbox, and instruction pointer (spec
// §4.11).
type Process struct {
	Module  *Module
	Heap    *Heap
	Regs    [MaxXRegisters]Term
	Live    int // number of X registers currently meaningful
	Stack   []Term
	IP      int
	Status  ProcessStatus
	Mailbox []Term

	// ExitReason is set when Status == StatusFinished and the process did
	// not terminate normally.
	ExitReason Term

	// currentFrameSize is the data-slot count of the Y-register frame
	// established by the most recent allocate/allocate_heap, needed to
	// translate a Y(i) reference into a Stack index.
	currentFrameSize int

	// pendingTuple and pendingTupleNext track the tuple most recently
	// opened by put_tuple, whose elements arrive one per following `put`
	// instruction (spec's compiler never interleaves two open put_tuple
	// sequences).
	pendingTuple     Term
	pendingTupleNext int

	// catches is the stack of live try/catch frames; the dispatch loop
	// unwinds to the innermost one when a handler raises.
	catches []catchFrame
}

// catchFrame records enough state at a `try`/`catch` instruction to land
// an exception back at its handler label: the handler's code pointer, the
// Y-stack depth to cut back to, and the frame size live at that point.
type catchFrame struct {
	target     Term
	stackDepth int
	frameSize  int
}

// NewProcess creates a Process executing m starting at entry (a code
// offset, typically one resolved from m.Functions). The module's literal
// pool is copied to the base of the process heap so that boxed operands
// in the code image (literal tuples, jump tables) dereference through the
// same heap-relative indices the process's own allocations use; process
// allocations begin just past the pool.
func NewProcess(m *Module, heapWords, entry int) *Process {
	lit := 0
	if m.Literals != nil {
		lit = m.Literals.Heap.Used()
	}
	h := NewHeap(lit + heapWords)
	if lit > 0 {
		copy(h.Words[:lit], m.Literals.Heap.Words[:lit])
		h.top = lit
	}
	return &Process{
		Module: m,
		Heap:   h,
		IP:     entry,
	}
}

// PushFrame implements `allocate N`: reserves n Y-register stack slots
// plus one slot for the return CP, per spec §4.11.
func (p *Process) PushFrame(n int, cp Term) {
	p.Stack = append(p.Stack, make([]Term, n)...)
	p.Stack = append(p.Stack, cp)
}

// PopFrame implements `deallocate N`: discards n Y-register slots and
// returns the CP beneath them.
func (p *Process) PopFrame(n int) Term {
	cp := p.Stack[len(p.Stack)-1]
	p.Stack = p.Stack[:len(p.Stack)-1-n]
	return cp
}

// YRegister returns the current value of Y-stack slot i (0-based from the
// frame's base, per spec's yreg operand convention), counting up from the
// base; the saved CP above the frame's slots is not addressable.
func (p *Process) YRegister(n int, i int) Term {
	// The frame is n data slots followed by one CP slot; Y(i) addresses
	// slot i counting from the frame base.
	base := len(p.Stack) - 1 - n
	return p.Stack[base+i]
}

// SetYRegister overwrites Y-stack slot i within the current n-slot frame.
func (p *Process) SetYRegister(n int, i int, v Term) {
	base := len(p.Stack) - 1 - n
	p.Stack[base+i] = v
}

// Context is the dispatch loop's scratch execution state for one
// scheduling quantum: the code image being executed, the instruction
// pointer, and the reduction counter (spec §4.10).
type Context struct {
	Code       []Term
	IP         int
	Reductions int
	CurrentOp  byte
}

// NewContext builds a Context over code, starting at ip with red
// reductions available.
func NewContext(code []Term, ip, red int) *Context {
	return &Context{Code: code, IP: ip, Reductions: red}
}

// fetch reads the word at the Context's IP and advances IP by one,
// implementing the *term* operand fetch convention of spec §4.10.
func (c *Context) fetch() Term {
	w := c.Code[c.IP]
	c.IP++
	return w
}

// fetchUsize implements the *usize* operand fetch convention: read the
// word, assert it is a small integer, and extract its unsigned value.
func (c *Context) fetchUsize() (uint64, error) {
	w := c.fetch()
	if !w.IsSmall() {
		return 0, &CompactTermError{Reason: "usize operand is not a small integer"}
	}
	return w.GetSmallUnsigned(), nil
}

// fetchLoad implements the *load* operand fetch convention: read the
// word; if it names a register, resolve its current value against p;
// otherwise use the word as-is.
func (c *Context) fetchLoad(p *Process, n int) Term {
	w := c.fetch()
	return resolveLoad(w, p, n)
}

// resolveLoad dereferences w against p's register file if w is a
// register reference, otherwise returns w unchanged. n is the Y-register
// frame's data-slot count, needed to locate Y(i) within p.Stack.
func resolveLoad(w Term, p *Process, n int) Term {
	switch {
	case w.IsRegX():
		return p.Regs[w.RegisterIndex()]
	case w.IsRegY():
		return p.YRegister(n, int(w.RegisterIndex()))
	default:
		return w
	}
}

// fetchSlice implements the *slice(n)* operand fetch convention: the next
// n words are read as a plain array of Terms (spec §4.10; used by
// call-with-args families).
func (c *Context) fetchSlice(n int) []Term {
	s := make([]Term, n)
	for i := 0; i < n; i++ {
		s[i] = c.fetch()
	}
	return s
}

// fetchCPOrNil implements the *cp_not_nil* operand fetch convention.
func (c *Context) fetchCPOrNil() (Term, error) {
	w := c.fetch()
	if !w.IsCPOrNil() {
		return 0, &CompactTermError{Reason: "operand is not a code pointer or nil"}
	}
	return w, nil
}

// fetchYReg implements the *yreg* operand fetch convention.
func (c *Context) fetchYReg() (Term, error) {
	w := c.fetch()
	if !w.IsRegY() {
		return 0, &CompactTermError{Reason: "operand is not a Y register reference"}
	}
	return w, nil
}

// fetchLiteralTuple implements the *literal_tuple* operand fetch
// convention: read the word as a tuple pointer directly, without register
// resolution.
func (c *Context) fetchLiteralTuple(h *Heap) (Term, error) {
	w := c.fetch()
	if !w.IsBoxed() || boxTypeAt(h, w) != BoxTuple {
		return 0, &CompactTermError{Reason: "operand is not a tuple"}
	}
	return w, nil
}

// skipUnused implements the *unused* operand fetch convention: advance IP
// without naming the value.
func (c *Context) skipUnused() {
	c.IP++
}
