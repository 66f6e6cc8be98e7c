// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Code chunk parsing: the two-pass loader described in spec §4.7.
// Grounded on impl_parse_code.rs's parse_raw_code/store_opcode_args, kept
// in the same two-pass shape (size first, emit second, patch labels last)
// but restructured as plain Go methods on a CodeLoader instead of methods
// mutating a shared LoaderState alongside a dozen other concerns.

// CodeHeader is the 'Code' chunk's fixed preamble (spec §6.1).
type CodeHeader struct {
	SubSize        uint32
	InstructionSet uint32
	OpcodeMax      uint32
	LabelCount     uint32
	FunctionCount  uint32
}

// ParseCodeHeader decodes the 'Code' chunk's fixed preamble and returns a
// Reader positioned at the first instruction byte.
func ParseCodeHeader(payload []byte) (CodeHeader, *Reader, error) {
	r := NewReader(payload)
	var h CodeHeader
	var err error
	if h.SubSize, err = r.ReadU32BE(); err != nil {
		return h, nil, err
	}
	if h.InstructionSet, err = r.ReadU32BE(); err != nil {
		return h, nil, err
	}
	if h.OpcodeMax, err = r.ReadU32BE(); err != nil {
		return h, nil, err
	}
	if h.LabelCount, err = r.ReadU32BE(); err != nil {
		return h, nil, err
	}
	if h.FunctionCount, err = r.ReadU32BE(); err != nil {
		return h, nil, err
	}
	// SubSize counts header bytes after itself; skip any extension fields a
	// newer compiler may have appended that this loader does not know
	// about, the same tolerant-of-trailing-fields posture section.go takes
	// toward optional COFF section-header fields.
	if extra := int(h.SubSize) - 16; extra > 0 {
		if err := r.Skip(extra); err != nil {
			return h, nil, err
		}
	}
	return h, r, nil
}

// CodeLoader accumulates Pass 2's output: the flattened word code vector,
// the label->offset table built as `label` pseudo-instructions are seen,
// the function table built as `func_info` instructions are seen, and the
// list of patch locations left dangling for fixup.go to resolve once every
// label in the module has been observed.
type CodeLoader struct {
	Code      []Term
	Labels    map[uint32]int
	Functions map[FunArity]int

	// DuplicateFunctions is set when two func_info instructions name the
	// same function/arity pair; the later one wins, and module assembly
	// records the shadowing as an anomaly.
	DuplicateFunctions bool

	patches    []PatchLocation
	atoms      []Term
	litTab     *LiteralTable
	moduleAtom Term
}

// FunArity names a module-local function by name atom and arity, the key
// the function table is addressed by (spec §3.3's per-module function
// table).
type FunArity struct {
	Function Term
	Arity    uint32
}

// NewCodeLoader creates a CodeLoader ready to consume a 'Code' chunk's
// instruction stream. atoms is the module's load-time atom vector, litTab
// its already-decoded literal table, and moduleAtom the atom naming the
// module being loaded (needed so func_info can be ignored for the module
// name component and only the function/arity pair recorded).
func NewCodeLoader(atoms []Term, litTab *LiteralTable, moduleAtom Term) *CodeLoader {
	return &CodeLoader{
		Labels:     make(map[uint32]int),
		Functions:  make(map[FunArity]int),
		atoms:      atoms,
		litTab:     litTab,
		moduleAtom: moduleAtom,
	}
}

// sizePass is Pass 1 (spec §4.7): walk the instruction stream once,
// discarding operands, to learn how many words Pass 2 will emit so the code
// vector can be preallocated and never reallocate mid-Pass-2 (spec §8
// invariant: code-vector address stability).
func sizePass(r *Reader) (int, error) {
	size := 0
	for !r.Eof() {
		op, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		arity := Arity(op)
		if arity < 0 {
			return 0, &BadOpcodeError{Opcode: op}
		}
		for i := 0; i < arity; i++ {
			if err := Skip(r); err != nil {
				return 0, err
			}
		}
		// label and line never reach the output vector (Pass 2 consumes
		// them without emitting), so they contribute no words.
		if op != OpLabel && op != OpLine {
			size += arity + 1
		}
	}
	return size, nil
}

// Load runs both passes over a 'Code' chunk's instruction stream
// (following the header) and leaves cl.Code fully populated except for
// any still-dangling forward label references, which fixup.go's Resolve
// must patch before the module is usable.
func (cl *CodeLoader) Load(payload []byte) error {
	_, r, err := ParseCodeHeader(payload)
	if err != nil {
		return err
	}

	// Pass 1: size the code vector so it never grows (and thus never
	// reallocates) during Pass 2.
	instrStart := r.Position()
	size, err := sizePass(r)
	if err != nil {
		return err
	}
	cl.Code = make([]Term, 0, size)

	// Pass 2: emit.
	r2 := NewReader(payload)
	if err := r2.Skip(instrStart); err != nil {
		return err
	}
	args := make([]Term, 0, 8)
	for !r2.Eof() {
		op, err := r2.ReadU8()
		if err != nil {
			return err
		}
		arity := Arity(op)
		if arity < 0 {
			return &BadOpcodeError{Opcode: op}
		}
		args = args[:0]
		for i := 0; i < arity; i++ {
			raw, err := Decode(r2, cl.litTab.Heap)
			if err != nil {
				return err
			}
			args = append(args, cl.resolveLoadtime(raw))
		}

		switch op {
		case OpLabel:
			if !args[0].IsSmall() {
				return &BadArgError{Opcode: op, Position: 0, Reason: "label id is not a small integer"}
			}
			cl.Labels[uint32(args[0].GetSmallUnsigned())] = len(cl.Code)

		case OpLine:
			// Line instructions carry debug info this runtime does not
			// keep; spec §4.7 explicitly allows discarding them.

		case OpFuncInfo:
			fn := FunArity{Function: args[1], Arity: uint32(args[2].GetSmallUnsigned())}
			if _, dup := cl.Functions[fn]; dup {
				cl.DuplicateFunctions = true
			}
			// Function code begins after the func_info instruction itself
			// (1 opcode word + 3 operand words).
			cl.Functions[fn] = len(cl.Code) + 4
			cl.Code = append(cl.Code, MakeSmallUnsigned(uint64(op)))
			if err := cl.storeOpcodeArgs(op, args); err != nil {
				return err
			}

		default:
			cl.Code = append(cl.Code, MakeSmallUnsigned(uint64(op)))
			if err := cl.storeOpcodeArgs(op, args); err != nil {
				return err
			}
		}
	}
	if len(cl.Code) != cap(cl.Code) {
		// Pass 1 must have sized exactly; a mismatch means a resolved
		// operand produced a different word count than Skip assumed.
		return ErrReallocated
	}
	return nil
}

// resolveLoadtime converts a load-time placeholder Term into its final
// form where that conversion doesn't depend on label fixup: atoms resolve
// against the atom vector, literals against the literal table. Label and
// register placeholders pass through unchanged for storeOpcodeArgs (and,
// for jump tables, decodeJumpTable's pairs) to handle specially.
func (cl *CodeLoader) resolveLoadtime(t Term) Term {
	if !t.IsLoadtime() {
		return t
	}
	switch t.LoadSpecialSub() {
	case LtSubAtom:
		return AtomFromLoadtimeIndex(cl.atoms, t.LoadSpecialValue())
	case LtSubLiteral:
		return cl.litTab.Get(t.LoadSpecialValue())
	default:
		return t
	}
}

// storeOpcodeArgs implements spec §4.7's `store_opcode_args` policy:
// labels become patch locations (resolved immediately if already known,
// deferred otherwise); jump-table boxed values get their label slots
// individually registered as patch locations (resolving spec §9's Open
// Question 1 — preserve the (value,label) pairs, patch each label slot in
// place); everything else is stored as-is, already resolved by
// resolveLoadtime above.
func (cl *CodeLoader) storeOpcodeArgs(op byte, args []Term) error {
	for _, a := range args {
		if a.IsLoadtime() && a.LoadSpecialSub() == LtSubLabel {
			loc := PatchLocation{Kind: PatchCodeOffset, CodeIndex: len(cl.Code)}
			cl.Code = append(cl.Code, cl.convertLabel(uint32(a.LoadSpecialValue()), loc))
			continue
		}
		if a.IsBoxed() && boxTypeAt(cl.litTab.Heap, a) == BoxJumpTable {
			cl.Code = append(cl.Code, a)
			n := JumpTableCount(cl.litTab.Heap, a)
			for i := 0; i < n; i++ {
				val, label := JumpTableGetPair(cl.litTab.Heap, a, i)
				if val.IsLoadtime() {
					JumpTableSetElement(cl.litTab.Heap, a, 2*i, cl.resolveLoadtime(val))
				}
				if label.IsLoadtime() && label.LoadSpecialSub() == LtSubLabel {
					loc := PatchLocation{Kind: PatchJumpTableElement, Table: a, ElementIndex: 2*i + 1}
					JumpTableSetElement(cl.litTab.Heap, a, 2*i+1, cl.convertLabel(uint32(label.LoadSpecialValue()), loc))
				}
			}
			continue
		}
		cl.Code = append(cl.Code, a)
	}
	return nil
}

// convertLabel resolves label id against cl.Labels if already known
// (backward reference) or records loc in cl.patches for fixup.go to
// resolve once the whole module has been scanned (forward reference),
// per spec §4.7.
func (cl *CodeLoader) convertLabel(id uint32, loc PatchLocation) Term {
	if offset, ok := cl.Labels[id]; ok {
		return MakeCP(uint32(offset))
	}
	loc.LabelID = id
	cl.patches = append(cl.patches, loc)
	return MakeSmallUnsigned(uint64(id))
}
