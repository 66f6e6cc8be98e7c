// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import "testing"

func TestSmallIntegerRoundTrip(t *testing.T) {
	tests := []int64{0, 1, -1, SmallMax, SmallMin, 1234567, -1234567}

	for _, v := range tests {
		term := MakeSmallSigned(v)
		if !term.IsSmall() {
			t.Errorf("MakeSmallSigned(%d).IsSmall() = false, want true", v)
		}
		if got := term.GetSmallSigned(); got != v {
			t.Errorf("GetSmallSigned() = %d, want %d", got, v)
		}
	}
}

func TestSmallFits(t *testing.T) {
	if !SmallFits(SmallMax) || !SmallFits(SmallMin) {
		t.Error("SmallFits rejects the boundary values")
	}
	if SmallFits(SmallMax + 1) {
		t.Error("SmallFits(SmallMax+1) = true, want false")
	}
	if SmallFits(SmallMin - 1) {
		t.Error("SmallFits(SmallMin-1) = true, want false")
	}
}

func TestAtomRoundTrip(t *testing.T) {
	term := MakeAtom(42)
	if !term.IsAtom() {
		t.Fatal("MakeAtom(42).IsAtom() = false, want true")
	}
	if got := term.AtomIndex(); got != 42 {
		t.Errorf("AtomIndex() = %d, want 42", got)
	}
}

func TestNilTermIsSingleton(t *testing.T) {
	if !NilTerm.IsNil() {
		t.Error("NilTerm.IsNil() = false, want true")
	}
	if NilTerm.IsSmall() || NilTerm.IsAtom() || NilTerm.IsBoxed() {
		t.Error("NilTerm carries more than one tag")
	}
}

func TestRegisterKinds(t *testing.T) {
	x := MakeRegX(3)
	y := MakeRegY(5)
	fp := MakeRegFP(1)

	if !x.IsRegX() || !x.IsRegister() {
		t.Error("MakeRegX term not recognised as an X register")
	}
	if !y.IsRegY() || !y.IsRegister() {
		t.Error("MakeRegY term not recognised as a Y register")
	}
	if !fp.IsRegFP() || !fp.IsRegister() {
		t.Error("MakeRegFP term not recognised as an FP register")
	}
	if x.RegisterIndex() != 3 || y.RegisterIndex() != 5 || fp.RegisterIndex() != 1 {
		t.Error("RegisterIndex did not round-trip")
	}
}

func TestBoxedConsCPIndices(t *testing.T) {
	boxed := MakeBoxed(7)
	cons := MakeCons(9)
	cp := MakeCP(11)

	if !boxed.IsBoxed() || boxed.BoxedIndex() != 7 {
		t.Error("MakeBoxed round-trip failed")
	}
	if !cons.IsCons() || cons.ConsIndex() != 9 {
		t.Error("MakeCons round-trip failed")
	}
	if !cp.IsCP() || cp.CPIndex() != 11 {
		t.Error("MakeCP round-trip failed")
	}
	if !cp.IsCPOrNil() || !NilTerm.IsCPOrNil() {
		t.Error("IsCPOrNil rejected a code pointer or nil")
	}
	if boxed.IsCPOrNil() {
		t.Error("IsCPOrNil accepted a boxed pointer")
	}
}

func TestLoadSpecialRoundTrip(t *testing.T) {
	tests := []struct {
		sub   int
		value uint64
	}{
		{LtSubAtom, 0},
		{LtSubLiteral, 12345},
		{LtSubLabel, 7},
		{LtSubRegister, 255},
	}

	for _, tt := range tests {
		term := MakeLoadSpecial(tt.sub, tt.value)
		if !term.IsLoadtime() {
			t.Fatalf("MakeLoadSpecial(%d, %d).IsLoadtime() = false, want true", tt.sub, tt.value)
		}
		if got := term.LoadSpecialSub(); got != tt.sub {
			t.Errorf("LoadSpecialSub() = %d, want %d", got, tt.sub)
		}
		if got := term.LoadSpecialValue(); got != tt.value {
			t.Errorf("LoadSpecialValue() = %d, want %d", got, tt.value)
		}
	}
}

func TestEqualIsWordForWord(t *testing.T) {
	a := MakeSmallSigned(5)
	b := MakeSmallSigned(5)
	c := MakeSmallSigned(6)
	if !a.Equal(b) {
		t.Error("equal small integers compared unequal")
	}
	if a.Equal(c) {
		t.Error("distinct small integers compared equal")
	}
}
