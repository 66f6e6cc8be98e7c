// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import (
	"testing"
)

func TestAtomIdentityAcrossLoads(t *testing.T) {
	cs := NewCodeServer()
	m1, err := cs.LoadBytes(smallestModule(), nil)
	if err != nil {
		t.Fatalf("first LoadBytes failed, reason: %v", err)
	}
	m2, err := cs.LoadBytes(smallestModule(), nil)
	if err != nil {
		t.Fatalf("second LoadBytes failed, reason: %v", err)
	}

	if m1.Name != m2.Name {
		t.Errorf("module atom differs across loads: %v vs %v", m1.Name, m2.Name)
	}
	if m1.Version != 1 || m2.Version != 2 {
		t.Errorf("versions = %d, %d; want 1, 2", m1.Version, m2.Version)
	}
	if m, ok := cs.Lookup("t"); !ok || m != m2 {
		t.Error("Lookup(t) does not return the latest version")
	}
}

func TestLoadRejectsMissingRequiredChunks(t *testing.T) {
	atoms := chunk("AtU8", atomChunk("t"))
	code := chunk("Code", codeChunk(nil, 0, 0))
	imp := chunk("ImpT", impChunk())
	exp := chunk("ExpT", expChunk())

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"no atoms", container(code, imp, exp), ErrMissingAtomChunk},
		{"no code", container(atoms, imp, exp), ErrMissingCodeChunk},
		{"no imports", container(atoms, code, exp), ErrMissingImportChunk},
		{"no exports", container(atoms, code, imp), ErrMissingExportChunk},
		{"both atom chunks", container(atoms, chunk("Atom", atomChunk("t")), code, imp, exp), ErrDuplicateAtomChunk},
	}

	for _, tt := range tests {
		cs := NewCodeServer()
		if _, err := cs.LoadBytes(tt.data, nil); err != tt.want {
			t.Errorf("%s: LoadBytes = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestLoadImportsAndExports(t *testing.T) {
	data := container(
		chunk("AtU8", atomChunk("t", "f", "erlang", "length")),
		chunk("Code", codeChunk(nil, 0, 0)),
		chunk("ImpT", impChunk([3]uint32{3, 4, 1})),
		chunk("ExpT", expChunk([3]uint32{2, 0, 2})),
	)

	cs := NewCodeServer()
	mod, err := cs.LoadBytes(data, nil)
	if err != nil {
		t.Fatalf("LoadBytes failed, reason: %v", err)
	}

	if len(mod.Imports) != 1 {
		t.Fatalf("len(Imports) = %d, want 1", len(mod.Imports))
	}
	imp := mod.Imports[0]
	if cs.Atoms.Name(imp.Module) != "erlang" || cs.Atoms.Name(imp.Function) != "length" || imp.Arity != 1 {
		t.Errorf("import = %s:%s/%d, want erlang:length/1",
			cs.Atoms.Name(imp.Module), cs.Atoms.Name(imp.Function), imp.Arity)
	}

	if len(mod.Exports) != 1 {
		t.Fatalf("len(Exports) = %d, want 1", len(mod.Exports))
	}
	exp := mod.Exports[0]
	if cs.Atoms.Name(exp.Function) != "f" || exp.Arity != 0 || exp.Label != 2 {
		t.Errorf("export = %s/%d label %d, want f/0 label 2",
			cs.Atoms.Name(exp.Function), exp.Arity, exp.Label)
	}

	// The export names a function the empty code chunk never defined.
	if !hasAnomaly(mod, AnoUnresolvedExport) {
		t.Error("unresolved export not recorded as an anomaly")
	}
}

func hasAnomaly(m *Module, anomaly string) bool {
	for _, a := range m.Anomalies {
		if a == anomaly {
			return true
		}
	}
	return false
}

func TestLoadLiteralTable(t *testing.T) {
	// ETF entries: the small integer 300 and the atom `hello`.
	intEntry := []byte{131, etfInt, 0, 0, 1, 44}
	atomEntry := []byte{131, etfSmallAtomUtf, 5, 'h', 'e', 'l', 'l', 'o'}

	data := container(
		chunk("AtU8", atomChunk("t")),
		chunk("Code", codeChunk(nil, 0, 0)),
		chunk("ImpT", impChunk()),
		chunk("ExpT", expChunk()),
		chunk("LitT", litChunk(intEntry, atomEntry)),
	)

	cs := NewCodeServer()
	mod, err := cs.LoadBytes(data, nil)
	if err != nil {
		t.Fatalf("LoadBytes failed, reason: %v", err)
	}

	if len(mod.Literals.Entries) != 2 {
		t.Fatalf("len(Literals.Entries) = %d, want 2", len(mod.Literals.Entries))
	}
	if got := mod.Literals.Get(0); got.GetSmallSigned() != 300 {
		t.Errorf("literal 0 = %v, want small 300", got)
	}
	if got := mod.Literals.Get(1); got != cs.Atoms.Intern("hello") {
		t.Errorf("literal 1 = %v, want atom hello", got)
	}
}

func TestLoadLambdaTable(t *testing.T) {
	var instrs []byte
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(1)...)
	instrs = append(instrs, OpFuncInfo)
	instrs = append(instrs, encAtomIx(1)...)
	instrs = append(instrs, encAtomIx(2)...)
	instrs = append(instrs, encLiteralImm(0)...)
	instrs = append(instrs, OpLabel)
	instrs = append(instrs, encLiteralImm(2)...)
	instrs = append(instrs, OpReturn)
	instrs = append(instrs, OpIntCodeEnd)

	data := container(
		chunk("AtU8", atomChunk("t", "f")),
		chunk("Code", codeChunk(instrs, 2, 1)),
		chunk("ImpT", impChunk()),
		chunk("ExpT", expChunk([3]uint32{2, 0, 2})),
		chunk("FunT", funChunk([6]uint32{2, 0, 2, 0, 0, 12345})),
	)

	cs := NewCodeServer()
	mod, err := cs.LoadBytes(data, nil)
	if err != nil {
		t.Fatalf("LoadBytes failed, reason: %v", err)
	}

	if len(mod.Lambdas) != 1 {
		t.Fatalf("len(Lambdas) = %d, want 1", len(mod.Lambdas))
	}
	l := mod.Lambdas[0]
	if cs.Atoms.Name(l.Function) != "f" || l.OldUniq != 12345 {
		t.Errorf("lambda = %s uniq %d, want f uniq 12345", cs.Atoms.Name(l.Function), l.OldUniq)
	}
	// Label 2 resolves to the word just past func_info.
	if l.Offset != 4 {
		t.Errorf("lambda offset = %d, want 4", l.Offset)
	}
}

func TestTrailingContainerBytesAnomaly(t *testing.T) {
	data := append(smallestModule(), 0xde, 0xad)

	cs := NewCodeServer()
	mod, err := cs.LoadBytes(data, nil)
	if err != nil {
		t.Fatalf("LoadBytes failed, reason: %v", err)
	}
	if !hasAnomaly(mod, AnoTrailingContainerBytes) {
		t.Error("trailing container bytes not recorded as an anomaly")
	}
}

func TestUnverifiableSignatureIsSoftFailure(t *testing.T) {
	data := container(
		chunk("AtU8", atomChunk("t")),
		chunk("Code", codeChunk(nil, 0, 0)),
		chunk("ImpT", impChunk()),
		chunk("ExpT", expChunk()),
		chunk("Sign", []byte{0xde, 0xad, 0xbe, 0xef}),
	)

	cs := NewCodeServer()
	mod, err := cs.LoadBytes(data, nil)
	if err != nil {
		t.Fatalf("LoadBytes failed on a bad signature, reason: %v (want soft failure)", err)
	}
	if mod.Signature != nil {
		t.Error("garbage Sign chunk produced a SignerInfo")
	}
	if !hasAnomaly(mod, AnoUnverifiableSignature) {
		t.Error("unverifiable signature not recorded as an anomaly")
	}
}

func TestUnrecognisedChunksAreSkipped(t *testing.T) {
	data := container(
		chunk("AtU8", atomChunk("t")),
		chunk("Wxyz", []byte{1, 2, 3}),
		chunk("Code", codeChunk(nil, 0, 0)),
		chunk("ImpT", impChunk()),
		chunk("ExpT", expChunk()),
	)

	cs := NewCodeServer()
	if _, err := cs.LoadBytes(data, nil); err != nil {
		t.Errorf("LoadBytes with unknown chunk failed, reason: %v", err)
	}
}
