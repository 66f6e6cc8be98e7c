// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import "math/big"

// External Term Format decoding (spec §4.8): the wire encoding used inside
// the 'LitT' chunk's per-literal payloads. Grounded on security.go's
// "walk a tagged, length-prefixed ASN.1-ish byte stream building up nested
// structures" shape, generalized from DER tags to ETF tags.

const (
	etfVersion      = 131
	etfSmallInt     = 97
	etfInt          = 98
	etfSmallBignum  = 110
	etfLargeBignum  = 111
	etfAtom         = 100
	etfSmallAtomUtf = 119
	etfAtomUtf8     = 118
	etfNil          = 106
	etfString       = 107
	etfList         = 108
	etfSmallTuple   = 104
	etfLargeTuple   = 105
	etfBinary       = 109
	etfMap          = 116
	etfFloat        = 70
)

// DecodeExternalTerm decodes one External Term Format value from r onto h,
// consuming the leading version byte if present. Used to materialize the
// literal table's per-entry terms (spec §4.8) and is general enough to
// decode any nested ETF structure an attacker-controlled literal might
// contain.
func DecodeExternalTerm(r *Reader, h *Heap, atoms *AtomTable) (Term, error) {
	if !r.Eof() {
		if b, err := r.PeekU8(); err == nil && b == etfVersion {
			if err := r.Skip(1); err != nil {
				return 0, err
			}
		}
	}
	return decodeEtfTerm(r, h, atoms)
}

func decodeEtfTerm(r *Reader, h *Heap, atoms *AtomTable) (Term, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	switch tag {
	case etfSmallInt:
		v, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		return MakeSmallUnsigned(uint64(v)), nil

	case etfInt:
		v, err := r.ReadU32BE()
		if err != nil {
			return 0, err
		}
		return MakeSmallSigned(int64(int32(v))), nil

	case etfSmallBignum:
		n, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		return decodeEtfBignum(r, h, int(n))

	case etfLargeBignum:
		n, err := r.ReadU32BE()
		if err != nil {
			return 0, err
		}
		return decodeEtfBignum(r, h, int(n))

	case etfAtom, etfAtomUtf8:
		n, err := r.ReadU16BE()
		if err != nil {
			return 0, err
		}
		raw, err := r.ReadBytes(int(n))
		if err != nil {
			return 0, err
		}
		return atoms.Intern(string(raw)), nil

	case etfSmallAtomUtf:
		n, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		raw, err := r.ReadBytes(int(n))
		if err != nil {
			return 0, err
		}
		return atoms.Intern(string(raw)), nil

	case etfNil:
		return NilTerm, nil

	case etfString:
		n, err := r.ReadU16BE()
		if err != nil {
			return 0, err
		}
		raw, err := r.ReadBytes(int(n))
		if err != nil {
			return 0, err
		}
		return decodeEtfCharList(h, raw)

	case etfList:
		n, err := r.ReadU32BE()
		if err != nil {
			return 0, err
		}
		elems := make([]Term, n)
		for i := uint32(0); i < n; i++ {
			el, err := decodeEtfTerm(r, h, atoms)
			if err != nil {
				return 0, err
			}
			elems[i] = el
		}
		tail, err := decodeEtfTerm(r, h, atoms)
		if err != nil {
			return 0, err
		}
		return consList(h, elems, tail)

	case etfSmallTuple:
		n, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		return decodeEtfTuple(r, h, atoms, int(n))

	case etfLargeTuple:
		n, err := r.ReadU32BE()
		if err != nil {
			return 0, err
		}
		return decodeEtfTuple(r, h, atoms, int(n))

	case etfBinary:
		n, err := r.ReadU32BE()
		if err != nil {
			return 0, err
		}
		raw, err := r.ReadBytes(int(n))
		if err != nil {
			return 0, err
		}
		return CreateHeapBinaryInto(h, raw)

	case etfMap:
		// Maps appear in literal tables of modules compiled with map
		// literals; represented here as a flat tuple of alternating
		// key/value pairs since this runtime's term model has no
		// dedicated map box (spec §3.2 names no map box type).
		n, err := r.ReadU32BE()
		if err != nil {
			return 0, err
		}
		elems := make([]Term, 0, 2*n)
		for i := uint32(0); i < n; i++ {
			k, err := decodeEtfTerm(r, h, atoms)
			if err != nil {
				return 0, err
			}
			v, err := decodeEtfTerm(r, h, atoms)
			if err != nil {
				return 0, err
			}
			elems = append(elems, k, v)
		}
		return CreateTupleInto(h, elems)

	case etfFloat:
		// IEEE 754 double-precision literals are decoded into their raw
		// bit pattern, boxed as a single-limb unsigned bignum; no
		// dedicated float box exists in this runtime's term model.
		raw, err := r.ReadBytes(8)
		if err != nil {
			return 0, err
		}
		var bits uint64
		for _, b := range raw {
			bits = bits<<8 | uint64(b)
		}
		return CreateBignumInto(h, false, []uint64{bits})
	}
	return 0, &CompactTermError{Reason: "unsupported external term tag"}
}

func decodeEtfTuple(r *Reader, h *Heap, atoms *AtomTable, n int) (Term, error) {
	elems := make([]Term, n)
	for i := 0; i < n; i++ {
		el, err := decodeEtfTerm(r, h, atoms)
		if err != nil {
			return 0, err
		}
		elems[i] = el
	}
	return CreateTupleInto(h, elems)
}

// decodeEtfBignum reconstructs a big.Int from ETF's sign-byte + little-endian
// digit-byte encoding and boxes it through the shared Bignum constructor.
func decodeEtfBignum(r *Reader, h *Heap, nbytes int) (Term, error) {
	signByte, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	digits, err := r.ReadBytes(nbytes)
	if err != nil {
		return 0, err
	}
	be := make([]byte, nbytes)
	for i, b := range digits {
		be[nbytes-1-i] = b
	}
	v := new(big.Int).SetBytes(be)
	if signByte != 0 {
		v.Neg(v)
	}
	return bignumToTerm(h, v)
}

// decodeEtfCharList materializes a STRING_EXT byte string as a proper cons
// list of small-integer character codes, matching Erlang's own string
// representation.
func decodeEtfCharList(h *Heap, raw []byte) (Term, error) {
	elems := make([]Term, len(raw))
	for i, b := range raw {
		elems[i] = MakeSmallUnsigned(uint64(b))
	}
	return consList(h, elems, NilTerm)
}

// consList builds a proper (or improper, if tail != nil) cons list from
// elems, walking back-to-front so the final MakeCons call is the list head.
func consList(h *Heap, elems []Term, tail Term) (Term, error) {
	acc := tail
	for i := len(elems) - 1; i >= 0; i-- {
		idx, err := h.Alloc(2, false)
		if err != nil {
			return 0, err
		}
		h.Words[idx] = elems[i]
		h.Words[idx+1] = acc
		acc = MakeCons(uint32(idx))
	}
	return acc, nil
}
