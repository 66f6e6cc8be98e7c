// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Compact-term decoding (spec §4.2): the byte-oriented tagged operand
// encoding used inside the Code chunk. No teacher/pack file parses an
// analogous variable-width tag format, so this is built straight from
// spec.md's bit-layout prose, in the same "read a tag byte, switch on its
// bit pattern, build a typed result" shape ntheader.go uses for decoding
// PE characteristics flags.

const (
	compactLiteral  = 0
	compactInteger  = 1
	compactAtom     = 2
	compactXReg     = 3
	compactYReg     = 4
	compactLabel    = 5
	compactChar     = 6
	compactExtended = 7
)

// Extended (tag 7) sub-discriminators, carried in a dedicated second byte
// (spec §4.2).
const (
	extList = iota // jump table (select_val list)
	extFPReg
	extAllocList
	extLiteral
)

// readSizedValue decodes the size/indirection encoding shared by every
// primary tag: given the first byte (with its low 3 tag bits already
// consumed by the caller), it returns the decoded unsigned value together
// with the multi-byte form's byte count (0 for the two short forms), which
// signed tags need for two's-complement extension.
func readSizedValue(r *Reader, first byte) (uint64, int, error) {
	if first&0x08 == 0 {
		// bit 3 clear: value is bits 4-7 of this byte (0-15).
		return uint64(first >> 4), 0, nil
	}
	if first&0x10 == 0 {
		// bit 3 set, bit 4 clear: value is (bits 5-7 << 8) | next byte.
		next, err := r.ReadU8()
		if err != nil {
			return 0, 0, err
		}
		return uint64(first&0xe0)<<3 | uint64(next), 0, nil
	}
	// High bits indicate a byte count; a big-endian multi-byte integer
	// follows.
	nbytes := int(first>>5) + 2
	if nbytes == 9 {
		// 0b11111xxx: the following byte itself carries an extended
		// byte count (rare, very large bignum literals).
		nb, err := r.ReadU8()
		if err != nil {
			return 0, 0, err
		}
		nbytes = int(nb) + 9
	}
	buf, err := r.ReadBytes(nbytes)
	if err != nil {
		return 0, 0, err
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v, nbytes, nil
}

// signExtend treats a multi-byte value as two's complement of its encoded
// width, applied to the Integer tag (the two short forms are unsigned;
// negative integers always take the multi-byte form).
func signExtend(v uint64, nbytes int) int64 {
	if nbytes == 0 || nbytes >= 8 {
		return int64(v)
	}
	shift := uint(64 - 8*nbytes)
	return int64(v<<shift) >> shift
}

// Decode reads one compact-term operand from r, producing a load-time
// tagged Term. litHeap is used only for materializing List (jump table)
// operands, which are boxed values.
func Decode(r *Reader, litHeap *Heap) (Term, error) {
	first, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	tag := first & 0x07

	switch tag {
	case compactLiteral:
		v, _, err := readSizedValue(r, first)
		if err != nil {
			return 0, err
		}
		return MakeSmallUnsigned(v), nil

	case compactInteger:
		v, nbytes, err := readSizedValue(r, first)
		if err != nil {
			return 0, err
		}
		return MakeSmallSigned(signExtend(v, nbytes)), nil

	case compactAtom:
		v, _, err := readSizedValue(r, first)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return NilTerm, nil
		}
		return MakeLoadSpecial(LtSubAtom, v), nil

	case compactXReg:
		v, _, err := readSizedValue(r, first)
		if err != nil {
			return 0, err
		}
		return MakeRegX(uint32(v)), nil

	case compactYReg:
		v, _, err := readSizedValue(r, first)
		if err != nil {
			return 0, err
		}
		return MakeRegY(uint32(v)), nil

	case compactLabel:
		v, _, err := readSizedValue(r, first)
		if err != nil {
			return 0, err
		}
		return MakeLoadSpecial(LtSubLabel, v), nil

	case compactChar:
		v, _, err := readSizedValue(r, first)
		if err != nil {
			return 0, err
		}
		return MakeSmallUnsigned(v), nil

	case compactExtended:
		return decodeExtended(r, first, litHeap)
	}

	return 0, &CompactTermError{Reason: "unreachable tag"}
}

// decodeExtended implements the tag-7 "second byte sub-discriminates"
// encoding (spec §4.2): the first byte only carries the primary tag (its
// upper 5 bits are unused padding), and a dedicated second byte names one
// of {List, FP register, Allocation list, Literal-table index}. List is
// followed by a nested compact-term element count; the other three are
// followed by an ordinary sized value using the same bit-3/4 encoding as
// any other operand.
func decodeExtended(r *Reader, _ byte, litHeap *Heap) (Term, error) {
	sub, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	switch sub {
	case extList:
		return decodeJumpTable(r, litHeap)

	case extFPReg:
		second, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		v, _, err := readSizedValue(r, second)
		if err != nil {
			return 0, err
		}
		return MakeRegFP(uint32(v)), nil

	case extAllocList:
		// An allocation list describes extra heap words an `allocate_*`
		// family opcode needs beyond the stack frame; its own internal
		// encoding is a small count per spec §4.7's silence on the exact
		// format, so we decode it the same way as a literal operand and
		// let the allocate handler interpret its value.
		second, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		v, _, err := readSizedValue(r, second)
		if err != nil {
			return 0, err
		}
		return MakeSmallUnsigned(v), nil

	case extLiteral:
		second, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		v, _, err := readSizedValue(r, second)
		if err != nil {
			return 0, err
		}
		return MakeLoadSpecial(LtSubLiteral, v), nil
	}
	return 0, &CompactTermError{Reason: "unknown extended sub-tag"}
}

// decodeJumpTable decodes a List (tag 7, sub-tag List): an even element
// count followed by count/2 (value, label) compact-term pairs, materialized directly as a
// boxed JumpTable on litHeap (spec §3.2, §4.7).
func decodeJumpTable(r *Reader, litHeap *Heap) (Term, error) {
	countTerm, err := Decode(r, litHeap)
	if err != nil {
		return 0, err
	}
	if !countTerm.IsSmall() {
		return 0, &CompactTermError{Reason: "jump table count is not a small integer"}
	}
	n := int(countTerm.GetSmallUnsigned())
	if n%2 != 0 {
		return 0, &CompactTermError{Reason: "jump table element count must be even"}
	}
	pairs := make([][2]Term, n/2)
	for i := 0; i < n/2; i++ {
		val, err := Decode(r, litHeap)
		if err != nil {
			return 0, err
		}
		label, err := Decode(r, litHeap)
		if err != nil {
			return 0, err
		}
		pairs[i] = [2]Term{val, label}
	}
	return CreateJumpTableInto(litHeap, pairs)
}

// skipHeapWords bounds the scratch heap Skip lends to Decode when it needs
// to materialize (and immediately discard) a jump table just to learn its
// byte length. Chosen generously; select_val lists this large are
// pathological.
const skipHeapWords = 1 << 16

// Skip advances r past one compact-term operand without keeping the
// decoded value, used by Pass 1's sizing walk (spec §4.7). A jump-table
// operand still has to be fully decoded to know how many bytes it
// occupies, so Skip delegates to Decode against a throwaway heap and
// discards the result — the same "this step double-parses every operand"
// inefficiency the original loader's Pass 1 calls out.
func Skip(r *Reader) error {
	scratch := NewHeap(skipHeapWords)
	_, err := Decode(r, scratch)
	return err
}
