// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import "testing"

func decodeEtf(t *testing.T, raw []byte) (*Heap, *AtomTable, Term) {
	t.Helper()
	h := NewHeap(256)
	at := NewAtomTable()
	term, err := DecodeExternalTerm(NewReader(raw), h, at)
	if err != nil {
		t.Fatalf("DecodeExternalTerm(%x) failed, reason: %v", raw, err)
	}
	return h, at, term
}

func TestEtfIntegers(t *testing.T) {
	_, _, small := decodeEtf(t, []byte{131, etfSmallInt, 200})
	if small.GetSmallSigned() != 200 {
		t.Errorf("SMALL_INTEGER_EXT 200 = %v", small)
	}

	_, _, neg := decodeEtf(t, []byte{131, etfInt, 0xff, 0xff, 0xff, 0xfe})
	if neg.GetSmallSigned() != -2 {
		t.Errorf("INTEGER_EXT -2 = %v", neg)
	}
}

func TestEtfAtomAndNil(t *testing.T) {
	_, at, a := decodeEtf(t, []byte{131, etfAtomUtf8, 0, 2, 'o', 'k'})
	if a != at.Intern("ok") {
		t.Errorf("ATOM_UTF8_EXT ok = %v", a)
	}

	_, _, nilT := decodeEtf(t, []byte{131, etfNil})
	if !nilT.IsNil() {
		t.Errorf("NIL_EXT = %v", nilT)
	}
}

func TestEtfStringAsCharList(t *testing.T) {
	h, _, list := decodeEtf(t, []byte{131, etfString, 0, 2, 'h', 'i'})
	if !list.IsCons() {
		t.Fatalf("STRING_EXT = %v, want a cons list", list)
	}
	head := h.Words[list.ConsIndex()]
	tail := h.Words[list.ConsIndex()+1]
	if head.GetSmallSigned() != 'h' || !tail.IsCons() {
		t.Error("first cell is not ('h', cons)")
	}
	if h.Words[tail.ConsIndex()].GetSmallSigned() != 'i' || !h.Words[tail.ConsIndex()+1].IsNil() {
		t.Error("second cell is not ('i', nil)")
	}
}

func TestEtfListWithNilTail(t *testing.T) {
	raw := []byte{131, etfList, 0, 0, 0, 2, etfSmallInt, 1, etfSmallInt, 2, etfNil}
	h, _, list := decodeEtf(t, raw)
	if !list.IsCons() {
		t.Fatalf("LIST_EXT = %v, want a cons list", list)
	}
	if h.Words[list.ConsIndex()].GetSmallSigned() != 1 {
		t.Error("list head is not 1")
	}
}

func TestEtfTuple(t *testing.T) {
	raw := []byte{131, etfSmallTuple, 2, etfSmallInt, 1, etfSmallAtomUtf, 1, 'a'}
	h, at, tuple := decodeEtf(t, raw)
	if !tuple.IsBoxed() || boxTypeAt(h, tuple) != BoxTuple {
		t.Fatalf("SMALL_TUPLE_EXT = %v, want a boxed tuple", tuple)
	}
	if TupleArity(h, tuple) != 2 {
		t.Fatalf("arity = %d, want 2", TupleArity(h, tuple))
	}
	if TupleElement(h, tuple, 0).GetSmallSigned() != 1 || TupleElement(h, tuple, 1) != at.Intern("a") {
		t.Error("tuple is not {1, a}")
	}
}

func TestEtfSmallBignumContractsWhenItFits(t *testing.T) {
	// 5 as a SMALL_BIG_EXT contracts back to a small integer.
	_, _, small := decodeEtf(t, []byte{131, etfSmallBignum, 1, 0, 5})
	if !small.IsSmall() || small.GetSmallSigned() != 5 {
		t.Errorf("SMALL_BIG_EXT 5 = %v, want small 5", small)
	}
}

func TestEtfSmallBignumStaysBoxedWhenLarge(t *testing.T) {
	// 2^64 needs 9 little-endian digit bytes, past the small range.
	raw := []byte{131, etfSmallBignum, 9, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	h, _, bn := decodeEtf(t, raw)
	if !bn.IsBoxed() || boxTypeAt(h, bn) != BoxBignum {
		t.Fatalf("SMALL_BIG_EXT 2^64 = %v, want a boxed bignum", bn)
	}
	if BignumIsNegative(h, bn) {
		t.Error("2^64 decoded as negative")
	}
	digits := BignumDigits(h, bn)
	if len(digits) != 2 || uint64(digits[0]) != 0 || uint64(digits[1]) != 1 {
		t.Errorf("digits = %v, want [0, 1]", digits)
	}
}

func TestEtfNegativeBignum(t *testing.T) {
	_, _, neg := decodeEtf(t, []byte{131, etfSmallBignum, 1, 1, 7})
	if !neg.IsSmall() || neg.GetSmallSigned() != -7 {
		t.Errorf("negative SMALL_BIG_EXT = %v, want small -7", neg)
	}
}

func TestEtfBinary(t *testing.T) {
	raw := []byte{131, etfBinary, 0, 0, 0, 3, 'a', 'b', 'c'}
	h, _, bin := decodeEtf(t, raw)
	if !bin.IsBoxed() || boxTypeAt(h, bin) != BoxBinaryHeap {
		t.Fatalf("BINARY_EXT = %v, want a heap binary", bin)
	}
	if got := HeapBinaryBytes(h, bin); string(got) != "abc" {
		t.Errorf("binary bytes = %q, want \"abc\"", got)
	}
}

func TestEtfMapFlattensToPairTuple(t *testing.T) {
	raw := []byte{131, etfMap, 0, 0, 0, 1, etfSmallAtomUtf, 1, 'k', etfSmallInt, 9}
	h, at, m := decodeEtf(t, raw)
	if !m.IsBoxed() || boxTypeAt(h, m) != BoxTuple {
		t.Fatalf("MAP_EXT = %v, want a flattened pair tuple", m)
	}
	if TupleArity(h, m) != 2 {
		t.Fatalf("arity = %d, want 2 (one key-value pair)", TupleArity(h, m))
	}
	if TupleElement(h, m, 0) != at.Intern("k") || TupleElement(h, m, 1).GetSmallSigned() != 9 {
		t.Error("flattened map is not {k, 9}")
	}
}

func TestEtfUnknownTag(t *testing.T) {
	h := NewHeap(16)
	if _, err := DecodeExternalTerm(NewReader([]byte{131, 0x01}), h, NewAtomTable()); err == nil {
		t.Error("unknown ETF tag decoded without error")
	}
}
