// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import "sync/atomic"

// BoxType identifies the concrete type of a boxed value (spec §3.2). Every
// boxed value begins with a header word naming one of these and encoding
// its storage size in words, the same "header names the layout, payload
// follows" shape section.go uses for ImageSectionHeader-prefixed section
// data.
type BoxType uint32

const (
	BoxBignum BoxType = iota
	BoxTuple
	BoxJumpTable
	BoxBinaryHeap
	BoxBinaryRefc
	BoxClosure
	BoxReference
	BoxPid
	BoxPort
)

// header words are packed as (sign<<63 | boxType<<32 | size). The sign bit
// is meaningful only for BoxBignum (spec §3.2: "sign encoded as sign of
// count"); every other box type leaves it clear.
func makeHeader(bt BoxType, size uint32, negative bool) Term {
	h := uint64(bt)<<32 | uint64(size)
	if negative {
		h |= 1 << 63
	}
	return Term(h)
}

func headerType(h Term) BoxType {
	return BoxType((uint64(h) >> 32) & 0x7fffffff)
}

func headerSize(h Term) uint32 {
	return uint32(uint64(h))
}

func headerNegative(h Term) bool {
	return uint64(h)&(1<<63) != 0
}

// boxTypeAt returns the BoxType of the boxed value t addresses within h,
// panicking if t is not a boxed term — callers are expected to have
// already checked t.IsBoxed() per the dereferencing-context invariant of
// spec §3.2.
func boxTypeAt(h *Heap, t Term) BoxType {
	return headerType(h.Words[t.BoxedIndex()])
}

// ---------------------------------------------------------------------
// Bignum

// CreateBignumInto writes a Bignum into h: a header, followed by len(limbs)
// little-endian machine-word limbs, copied by value.
func CreateBignumInto(h *Heap, negative bool, limbs []uint64) (Term, error) {
	idx, err := h.Alloc(1+len(limbs), false)
	if err != nil {
		return 0, err
	}
	h.Words[idx] = makeHeader(BoxBignum, uint32(len(limbs)), negative)
	for i, limb := range limbs {
		h.Words[idx+1+i] = Term(limb)
	}
	return MakeBoxed(uint32(idx)), nil
}

// BignumDigits returns a read-only view of the bignum's limbs.
func BignumDigits(h *Heap, t Term) []Term {
	idx := int(t.BoxedIndex())
	size := int(headerSize(h.Words[idx]))
	return h.Words[idx+1 : idx+1+size]
}

// BignumIsNegative reports the bignum's sign.
func BignumIsNegative(h *Heap, t Term) bool {
	return headerNegative(h.Words[t.BoxedIndex()])
}

// BignumSize returns the limb count.
func BignumSize(h *Heap, t Term) int {
	return int(headerSize(h.Words[t.BoxedIndex()]))
}

// BignumByteSize returns the limb count in bytes (8 bytes/limb on a
// 64-bit target).
func BignumByteSize(h *Heap, t Term) int {
	return BignumSize(h, t) * 8
}

// ---------------------------------------------------------------------
// Tuple

// CreateTupleInto writes a Tuple{arity, elems...} into h.
func CreateTupleInto(h *Heap, elems []Term) (Term, error) {
	idx, err := h.Alloc(1+len(elems), false)
	if err != nil {
		return 0, err
	}
	h.Words[idx] = makeHeader(BoxTuple, uint32(len(elems)), false)
	copy(h.Words[idx+1:idx+1+len(elems)], elems)
	return MakeBoxed(uint32(idx)), nil
}

// TupleArity returns a tuple's element count.
func TupleArity(h *Heap, t Term) int {
	return int(headerSize(h.Words[t.BoxedIndex()]))
}

// TupleElement returns the i-th element (0-based).
func TupleElement(h *Heap, t Term, i int) Term {
	idx := int(t.BoxedIndex())
	return h.Words[idx+1+i]
}

// SetTupleElement overwrites the i-th element in place (used while
// materializing mutable tuples during external-term-format decode).
func SetTupleElement(h *Heap, t Term, i int, v Term) {
	idx := int(t.BoxedIndex())
	h.Words[idx+1+i] = v
}

// ---------------------------------------------------------------------
// Jump table — header (whose size field holds the pair count) + 2*count
// alternating (value, label) words,
// used by select_val (spec §3.2, §4.4).

// CreateJumpTableInto writes a jump table of len(pairs) (value,label)
// entries into h.
func CreateJumpTableInto(h *Heap, pairs [][2]Term) (Term, error) {
	idx, err := h.Alloc(1+2*len(pairs), false)
	if err != nil {
		return 0, err
	}
	h.Words[idx] = makeHeader(BoxJumpTable, uint32(len(pairs)), false)
	for i, p := range pairs {
		h.Words[idx+1+2*i] = p[0]
		h.Words[idx+1+2*i+1] = p[1]
	}
	return MakeBoxed(uint32(idx)), nil
}

// JumpTableCount returns the number of (value, label) pairs.
func JumpTableCount(h *Heap, t Term) int {
	return int(headerSize(h.Words[t.BoxedIndex()]))
}

// JumpTableGetPair returns the i-th (value, label) pair.
func JumpTableGetPair(h *Heap, t Term, i int) (Term, Term) {
	idx := int(t.BoxedIndex())
	return h.Words[idx+1+2*i], h.Words[idx+1+2*i+1]
}

// JumpTableGetElement returns the raw i-th payload word (0-based over the
// flattened 2*count elements), used by the label-fixup patcher.
func JumpTableGetElement(h *Heap, t Term, i int) Term {
	idx := int(t.BoxedIndex())
	return h.Words[idx+1+i]
}

// JumpTableSetElement overwrites the raw i-th payload word.
func JumpTableSetElement(h *Heap, t Term, i int, v Term) {
	idx := int(t.BoxedIndex())
	h.Words[idx+1+i] = v
}

// ---------------------------------------------------------------------
// Binary — heap-resident (inline bytes) and refcounted (off-heap) variants.

// SharedBinary is the off-heap, reference-counted payload backing a
// BoxBinaryRefc value (spec §3.3's "Shared binary heap"). Refcount updates
// are atomic because binaries may be shared across processes once sent in
// a message.
type SharedBinary struct {
	refs  int32
	Bytes []byte
}

// NewSharedBinary wraps data with an initial refcount of 1.
func NewSharedBinary(data []byte) *SharedBinary {
	return &SharedBinary{refs: 1, Bytes: data}
}

// Retain increments the refcount.
func (b *SharedBinary) Retain() { atomic.AddInt32(&b.refs, 1) }

// Release decrements the refcount, reporting whether it reached zero.
func (b *SharedBinary) Release() bool {
	return atomic.AddInt32(&b.refs, -1) == 0
}

// binaryRegistry is keyed by the index a BoxBinaryRefc header's payload
// word stores, mapping it to the actual off-heap SharedBinary. A Heap
// cannot itself hold a Go pointer (its words are machine words), so the
// owning Process/Module keeps this side table alive for as long as the
// heap that references it.
type binaryRegistry struct {
	entries []*SharedBinary
}

func (r *binaryRegistry) add(b *SharedBinary) uint32 {
	r.entries = append(r.entries, b)
	return uint32(len(r.entries) - 1)
}

func (r *binaryRegistry) get(idx uint32) *SharedBinary {
	return r.entries[idx]
}

// CreateHeapBinaryInto writes an inline (heap-resident) binary: header +
// byte size + the bytes themselves, word-padded.
func CreateHeapBinaryInto(h *Heap, data []byte) (Term, error) {
	words := (len(data) + 7) / 8
	idx, err := h.Alloc(1+1+words, false)
	if err != nil {
		return 0, err
	}
	h.Words[idx] = makeHeader(BoxBinaryHeap, uint32(words), false)
	h.Words[idx+1] = Term(len(data))
	raw := make([]byte, words*8)
	copy(raw, data)
	for i := 0; i < words; i++ {
		var w uint64
		for b := 0; b < 8; b++ {
			w |= uint64(raw[i*8+b]) << (8 * b)
		}
		h.Words[idx+2+i] = Term(w)
	}
	return MakeBoxed(uint32(idx)), nil
}

// HeapBinaryBytes recovers the original bytes from an inline binary.
func HeapBinaryBytes(h *Heap, t Term) []byte {
	idx := int(t.BoxedIndex())
	size := int(h.Words[idx+1])
	words := int(headerSize(h.Words[idx]))
	raw := make([]byte, 0, words*8)
	for i := 0; i < words; i++ {
		w := uint64(h.Words[idx+2+i])
		for b := 0; b < 8; b++ {
			raw = append(raw, byte(w>>(8*b)))
		}
	}
	return raw[:size]
}

// CreateRefcBinaryInto writes a refcounted binary reference: header +
// registry index + bit offset + bit size (both zero for a whole binary);
// the byte length comes from the registered SharedBinary.
func CreateRefcBinaryInto(h *Heap, reg *binaryRegistry, shared *SharedBinary, bitOffset, bitSize uint32) (Term, error) {
	idx, err := h.Alloc(4, false)
	if err != nil {
		return 0, err
	}
	ridx := reg.add(shared)
	h.Words[idx] = makeHeader(BoxBinaryRefc, 3, false)
	h.Words[idx+1] = Term(ridx)
	h.Words[idx+2] = Term(bitOffset)
	h.Words[idx+3] = Term(bitSize)
	return MakeBoxed(uint32(idx)), nil
}

// RefcBinaryBytes returns the (possibly bit-offset/size restricted) bytes
// of a refcounted binary.
func RefcBinaryBytes(h *Heap, reg *binaryRegistry, t Term) []byte {
	idx := int(t.BoxedIndex())
	shared := reg.get(uint32(h.Words[idx+1]))
	bitOffset := uint32(h.Words[idx+2])
	bitSize := uint32(h.Words[idx+3])
	if bitOffset == 0 && bitSize == 0 {
		return shared.Bytes
	}
	start := bitOffset / 8
	end := start + (bitSize+7)/8
	if int(end) > len(shared.Bytes) {
		end = uint32(len(shared.Bytes))
	}
	return shared.Bytes[start:end]
}

// ---------------------------------------------------------------------
// Closure — header (whose size field holds the environment arity N) +
// function reference + N captured Terms (spec §3.2; materialized from a Lambda descriptor by make_fun).

// CreateClosureInto writes a Closure into h.
func CreateClosureInto(h *Heap, funRef Term, captured []Term) (Term, error) {
	idx, err := h.Alloc(2+len(captured), false)
	if err != nil {
		return 0, err
	}
	h.Words[idx] = makeHeader(BoxClosure, uint32(len(captured)), false)
	h.Words[idx+1] = funRef
	copy(h.Words[idx+2:idx+2+len(captured)], captured)
	return MakeBoxed(uint32(idx)), nil
}

// ClosureFunRef returns the captured function reference (an {M,F,Arity}
// tuple Term or a direct CP, depending on how the Lambda was resolved).
func ClosureFunRef(h *Heap, t Term) Term {
	return h.Words[t.BoxedIndex()+1]
}

// ClosureEnvArity returns the number of captured free variables.
func ClosureEnvArity(h *Heap, t Term) int {
	return int(headerSize(h.Words[t.BoxedIndex()]))
}

// ClosureElement returns the i-th captured free variable.
func ClosureElement(h *Heap, t Term, i int) Term {
	return h.Words[int(t.BoxedIndex())+2+i]
}

// ---------------------------------------------------------------------
// Reference, Pid, Port — identity carriers with a node tag and creation
// counter (spec §3.2).

// CreateIdentityInto writes a Reference/Pid/Port box: header + node atom +
// creation counter + id words.
func CreateIdentityInto(h *Heap, bt BoxType, node Term, creation uint32, id []uint32) (Term, error) {
	idx, err := h.Alloc(3+len(id), false)
	if err != nil {
		return 0, err
	}
	h.Words[idx] = makeHeader(bt, uint32(len(id)), false)
	h.Words[idx+1] = node
	h.Words[idx+2] = Term(creation)
	for i, w := range id {
		h.Words[idx+3+i] = Term(w)
	}
	return MakeBoxed(uint32(idx)), nil
}

// IdentityNode, IdentityCreation, IdentityIDs read back an identity box's
// fields.
func IdentityNode(h *Heap, t Term) Term       { return h.Words[t.BoxedIndex()+1] }
func IdentityCreation(h *Heap, t Term) uint32 { return uint32(h.Words[t.BoxedIndex()+2]) }
func IdentityIDs(h *Heap, t Term) []Term {
	idx := int(t.BoxedIndex())
	n := int(headerSize(h.Words[idx]))
	return h.Words[idx+3 : idx+3+n]
}
