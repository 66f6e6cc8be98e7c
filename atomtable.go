// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import (
	"sync"

	"golang.org/x/text/encoding/charmap"
)

// Atom table parsing (spec §4.6, §6.1). Grounded on imports.go's
// "length-prefixed sequence of fixed-shape records" parsing loop,
// generalized to the atom table's own length-prefixed-string records.

// AtomTable is the process-wide, append-only set of interned atom names
// (spec §3.1, §5). It hands back a stable index for each distinct name,
// the way the teacher's log package hands back a stable *Helper: callers
// never see partially-constructed state. Appends take mu's exclusive lock
// so distinct modules may load on distinct goroutines sharing one table;
// reads (Intern's lookup, Name, Len) take its shared read lock, so reads
// are not lock-free. Interned entries are never mutated or removed, so an
// index handed out stays valid forever.
type AtomTable struct {
	mu    sync.RWMutex
	names []string
	index map[string]uint32
}

// NewAtomTable creates an empty, process-wide atom table.
func NewAtomTable() *AtomTable {
	return &AtomTable{index: make(map[string]uint32)}
}

// Intern registers name if new and returns its atom Term either way,
// satisfying spec §8's Testable Property 3 ("loading the same module
// twice yields the same atom Terms for identical atom names").
func (t *AtomTable) Intern(name string) Term {
	t.mu.RLock()
	idx, ok := t.index[name]
	t.mu.RUnlock()
	if ok {
		return MakeAtom(idx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx, ok := t.index[name]; ok {
		return MakeAtom(idx)
	}
	idx = uint32(len(t.names))
	t.names = append(t.names, name)
	t.index[name] = idx
	return MakeAtom(idx)
}

// Name resolves an atom Term back to its source name.
func (t *AtomTable) Name(a Term) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.names[a.AtomIndex()]
}

// Len reports how many distinct atoms have been interned.
func (t *AtomTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}

// ParseAtomChunk decodes an 'Atom' (Latin-1) or 'AtU8' (UTF-8) chunk
// payload (spec §4.6, §6.1) into a load-time index -> interned-atom-Term
// vector. Index 0 of the returned slice corresponds to loader atom index 1
// (load-time index 0 is reserved for nil and is never stored here; callers
// resolve it via Term's own NilTerm instead, per AtomFromLoadtimeIndex).
func ParseAtomChunk(payload []byte, latin1 bool, table *AtomTable) ([]Term, error) {
	r := NewReader(payload)
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	atoms := make([]Term, 0, count)
	dec := charmap.ISO8859_1.NewDecoder()
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		raw, err := r.ReadBytes(int(nameLen))
		if err != nil {
			return nil, err
		}
		var name string
		if latin1 {
			// The legacy 'Atom' chunk predates UTF-8 atoms and encodes
			// names in Latin-1; decode through the same x/text encoding
			// family the teacher already depends on for its own legacy
			// string decoding (helper.go's UTF-16 version-resource
			// strings).
			decoded, err := dec.Bytes(raw)
			if err != nil {
				return nil, err
			}
			name = string(decoded)
		} else {
			name = string(raw)
		}
		atoms = append(atoms, table.Intern(name))
	}
	return atoms, nil
}

// AtomFromLoadtimeIndex resolves a load-time atom index (as decoded by the
// compact-term decoder's SPECIAL_LT_ATOM sub-tag) against a module's
// per-load atom vector, honouring the "0 means nil" convention of spec
// §4.6.
func AtomFromLoadtimeIndex(atoms []Term, n uint64) Term {
	if n == 0 {
		return NilTerm
	}
	return atoms[n-1]
}
