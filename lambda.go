// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Lambda (fun) table parsing (spec §4.9, §6.1): the 'FunT' chunk describes
// every `fun`/closure literal a module defines, each naming the label its
// body was compiled to plus its free-variable arity. Grounded on the same
// fixed-shape-record loop as importexport.go.

// Lambda is one 'FunT' record (spec §3.2's "Lambda descriptor"). Offset
// is filled in by module assembly once the code loader has mapped every
// label to its code offset; make_fun2 builds closures against it.
type Lambda struct {
	Function Term
	Arity    uint32
	Label    uint32
	Index    uint32
	NumFree  uint32
	OldUniq  uint32
	Offset   int
}

// ParseLambdaChunk decodes a 'FunT' chunk payload into a slice of Lambdas.
func ParseLambdaChunk(payload []byte, atoms []Term) ([]Lambda, error) {
	r := NewReader(payload)
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	lambdas := make([]Lambda, count)
	for i := uint32(0); i < count; i++ {
		fun, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		arity, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		label, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		index, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		numFree, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		oldUniq, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		lambdas[i] = Lambda{
			Function: AtomFromLoadtimeIndex(atoms, uint64(fun)),
			Arity:    arity,
			Label:    label,
			Index:    index,
			NumFree:  numFree,
			OldUniq:  oldUniq,
		}
	}
	return lambdas, nil
}
