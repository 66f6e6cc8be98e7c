// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import (
	"errors"
	"testing"
)

func TestLoadSmallestModule(t *testing.T) {
	cs := NewCodeServer()
	mod, err := cs.LoadBytes(smallestModule(), nil)
	if err != nil {
		t.Fatalf("LoadBytes failed, reason: %v", err)
	}

	if got := cs.Atoms.Name(mod.Name); got != "t" {
		t.Errorf("module name = %q, want \"t\"", got)
	}

	entry, ok := mod.Functions[FunArity{Function: cs.Atoms.Intern("f"), Arity: 0}]
	if !ok {
		t.Fatal("function table has no entry for f/0")
	}

	// The entry point lands just past func_info, on a move of atom `ok`
	// into x0, followed by return.
	if op := mod.Code[entry]; op.GetSmallUnsigned() != OpMove {
		t.Fatalf("opcode at entry = %v, want move", OpcodeName(byte(op.GetSmallUnsigned())))
	}
	if src := mod.Code[entry+1]; src != cs.Atoms.Intern("ok") {
		t.Errorf("move source = %v, want atom ok", src)
	}
	if dst := mod.Code[entry+2]; !dst.IsRegX() || dst.RegisterIndex() != 0 {
		t.Errorf("move destination = %v, want x0", dst)
	}
	if op := mod.Code[entry+3]; op.GetSmallUnsigned() != OpReturn {
		t.Errorf("opcode after move = %v, want return", OpcodeName(byte(op.GetSmallUnsigned())))
	}
}

// jumpModule builds a function with one forward and one backward jump.
func jumpModule() []byte {
	var instrs []byte
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(1)...)
	instrs = append(instrs, OpFuncInfo)
	instrs = append(instrs, encAtomIx(1)...)
	instrs = append(instrs, encAtomIx(2)...)
	instrs = append(instrs, encLiteralImm(0)...)
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(2)...)
	instrs = append(instrs, OpJump)
	instrs = append(instrs, encLabel(3)...)
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(3)...)
	instrs = append(instrs, OpJump)
	instrs = append(instrs, encLabel(2)...)
	instrs = append(instrs, OpIntCodeEnd)

	return container(
		chunk("AtU8", atomChunk("t", "f")),
		chunk("Code", codeChunk(instrs, 3, 1)),
		chunk("ImpT", impChunk()),
		chunk("ExpT", expChunk([3]uint32{2, 0, 2})),
	)
}

func TestLabelFixupForwardAndBackward(t *testing.T) {
	cs := NewCodeServer()
	mod, err := cs.LoadBytes(jumpModule(), nil)
	if err != nil {
		t.Fatalf("LoadBytes failed, reason: %v", err)
	}

	// Layout: func_info occupies words 0-3, the forward jump words 4-5,
	// the backward jump words 6-7.
	fwd := mod.Code[5]
	if !fwd.IsCP() {
		t.Fatalf("forward jump operand = %v, want a code pointer", fwd)
	}
	if target := mod.Code[fwd.CPIndex()]; target.GetSmallUnsigned() != OpJump {
		t.Errorf("forward jump target opcode = %v, want jump", target)
	}

	back := mod.Code[7]
	if !back.IsCP() {
		t.Fatalf("backward jump operand = %v, want a code pointer", back)
	}
	if back.CPIndex() != 4 {
		t.Errorf("backward jump targets word %d, want 4", back.CPIndex())
	}

	// Label resolution completeness: every code-pointer operand points
	// inside the code vector.
	for i, w := range mod.Code {
		if w.IsCP() && int(w.CPIndex()) >= len(mod.Code) {
			t.Errorf("code[%d] = CP(%d) past the code vector", i, w.CPIndex())
		}
	}
}

// selectModule builds a function whose body is a select_val over three
// atom cases.
func selectModule() []byte {
	var instrs []byte
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(1)...)
	instrs = append(instrs, OpFuncInfo)
	instrs = append(instrs, encAtomIx(1)...)
	instrs = append(instrs, encAtomIx(2)...)
	instrs = append(instrs, encLiteralImm(0)...)
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(2)...)
	instrs = append(instrs, OpSelectVal)
	instrs = append(instrs, encXReg(0)...)
	instrs = append(instrs, encLabel(2)...)
	instrs = append(instrs, encJumpTable(
		encAtomIx(3), encLabel(3),
		encAtomIx(4), encLabel(4),
		encAtomIx(5), encLabel(5),
	)...)
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(3)...)
	instrs = append(instrs, OpReturn)
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(4)...)
	instrs = append(instrs, OpReturn)
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(5)...)
	instrs = append(instrs, OpReturn)
	instrs = append(instrs, OpIntCodeEnd)

	return container(
		chunk("AtU8", atomChunk("t", "f", "a", "b", "c")),
		chunk("Code", codeChunk(instrs, 5, 1)),
		chunk("ImpT", impChunk()),
		chunk("ExpT", expChunk([3]uint32{2, 0, 2})),
	)
}

func TestSelectValJumpTableFixup(t *testing.T) {
	cs := NewCodeServer()
	mod, err := cs.LoadBytes(selectModule(), nil)
	if err != nil {
		t.Fatalf("LoadBytes failed, reason: %v", err)
	}

	// select_val occupies words 4-7: opcode, arg, fail, table.
	table := mod.Code[7]
	if !table.IsBoxed() || boxTypeAt(mod.Literals.Heap, table) != BoxJumpTable {
		t.Fatalf("select_val table operand = %v, want boxed jump table", table)
	}
	if got := JumpTableCount(mod.Literals.Heap, table); got != 3 {
		t.Fatalf("JumpTableCount() = %d, want 3", got)
	}

	wantAtoms := []string{"a", "b", "c"}
	for i := 0; i < 3; i++ {
		val, label := JumpTableGetPair(mod.Literals.Heap, table, i)
		if val != cs.Atoms.Intern(wantAtoms[i]) {
			t.Errorf("pair %d value = %v, want atom %s", i, val, wantAtoms[i])
		}
		if !label.IsCP() {
			t.Fatalf("pair %d label = %v, want a code pointer after fixup", i, label)
		}
		if op := mod.Code[label.CPIndex()]; op.GetSmallUnsigned() != OpReturn {
			t.Errorf("pair %d target opcode = %v, want return", i, op)
		}
	}
}

func TestCodeVectorSizedExactly(t *testing.T) {
	// Pass 1 must pre-reserve the exact emitted word count so the vector
	// never reallocates during Pass 2.
	cs := NewCodeServer()
	mod, err := cs.LoadBytes(selectModule(), nil)
	if err != nil {
		t.Fatalf("LoadBytes failed, reason: %v", err)
	}
	if len(mod.Code) != cap(mod.Code) {
		t.Errorf("code len %d != cap %d after load", len(mod.Code), cap(mod.Code))
	}
}

func TestUndefinedLabelIsFatal(t *testing.T) {
	var instrs []byte
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(1)...)
	instrs = append(instrs, OpFuncInfo)
	instrs = append(instrs, encAtomIx(1)...)
	instrs = append(instrs, encAtomIx(2)...)
	instrs = append(instrs, encLiteralImm(0)...)
	instrs = append(instrs, OpJump)
	instrs = append(instrs, encLabel(99)...)

	data := container(
		chunk("AtU8", atomChunk("t", "f")),
		chunk("Code", codeChunk(instrs, 1, 1)),
		chunk("ImpT", impChunk()),
		chunk("ExpT", expChunk()),
	)

	cs := NewCodeServer()
	if _, err := cs.LoadBytes(data, nil); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("LoadBytes = %v, want ErrUnknownLabel", err)
	}
}

func TestBadOpcodeRejected(t *testing.T) {
	instrs := []byte{0xfe}

	data := container(
		chunk("AtU8", atomChunk("t")),
		chunk("Code", codeChunk(instrs, 0, 0)),
		chunk("ImpT", impChunk()),
		chunk("ExpT", expChunk()),
	)

	cs := NewCodeServer()
	_, err := cs.LoadBytes(data, nil)
	var badOp *BadOpcodeError
	if !errors.As(err, &badOp) {
		t.Fatalf("LoadBytes = %v, want BadOpcodeError", err)
	}
	if badOp.Opcode != 0xfe {
		t.Errorf("BadOpcodeError.Opcode = %#x, want 0xfe", badOp.Opcode)
	}
}
