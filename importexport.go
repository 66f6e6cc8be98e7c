// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Import and export table parsing (spec §4.9, §6.1). Grounded on
// imports.go's fixed-shape-record loop: a count, then that many
// fixed-width records, each naming indices into other already-parsed
// tables.

// Import is one 'ImpT' record: a remote {Module, Function, Arity} triple,
// with Module and Function already resolved from the chunk's atom-table
// indices to atom values (spec §4.9).
type Import struct {
	Module   Term
	Function Term
	Arity    uint32
}

// ParseImportChunk decodes an 'ImpT' chunk payload into a slice of Imports,
// resolving each record's two atom indices against atoms.
func ParseImportChunk(payload []byte, atoms []Term) ([]Import, error) {
	r := NewReader(payload)
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	imports := make([]Import, count)
	for i := uint32(0); i < count; i++ {
		mod, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		fun, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		arity, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		imports[i] = Import{
			Module:   AtomFromLoadtimeIndex(atoms, uint64(mod)),
			Function: AtomFromLoadtimeIndex(atoms, uint64(fun)),
			Arity:    arity,
		}
	}
	return imports, nil
}

// AsTuple boxes an Import as the {Module, Function, Arity} tuple Term
// runtime code actually dispatches against (spec §4.9).
func (imp Import) AsTuple(h *Heap) (Term, error) {
	return CreateTupleInto(h, []Term{imp.Module, imp.Function, MakeSmallUnsigned(uint64(imp.Arity))})
}

// Export is one 'ExpT' record: a locally-defined {Function, Arity} pair
// together with the label its entry point was compiled to.
type Export struct {
	Function Term
	Arity    uint32
	Label    uint32
}

// ParseExportChunk decodes an 'ExpT' (or 'LocT', same record shape — spec
// §4.9 notes LocT is ExpT's non-exported counterpart) chunk payload.
func ParseExportChunk(payload []byte, atoms []Term) ([]Export, error) {
	r := NewReader(payload)
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	exports := make([]Export, count)
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
		exports[i] = Export{
			Function: AtomFromLoadtimeIndex(atoms, uint64(fun)),
			Arity:    arity,
			Label:    label,
		}
	}
	return exports, nil
}
