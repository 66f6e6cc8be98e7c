// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import (
	"bytes"
	"compress/zlib"
	"io"
)

// Literal table parsing (spec §4.8, §6.1): the 'LitT' chunk holds a
// zlib-compressed, length-prefixed sequence of External Term Format values
// materialized once at load time onto a dedicated per-module literal heap.
// Grounded on security.go's "decompress then hand the inner bytes to
// another decoder" layering for PKCS7-wrapped certificate blobs.

// LiteralTable is a module's load-time constant pool: every Term a
// compiler emitted as a literal operand (atoms aside, which have their own
// chunk) lives here, addressed by index from compact-term operands tagged
// LtSubLiteral.
type LiteralTable struct {
	Heap    *Heap
	Entries []Term
}

// ParseLiteralChunk decompresses and decodes an 'LitT' chunk payload into a
// LiteralTable. heapWords sizes the literal heap; callers size it generously
// since literals never get garbage collected (spec §3.3: "Literal heap ...
// lives for the module's lifetime").
func ParseLiteralChunk(payload []byte, heapWords int, atoms *AtomTable) (*LiteralTable, error) {
	if len(payload) < 4 {
		return nil, ErrTruncatedChunk
	}
	// The first 4 bytes are the uncompressed size; it is skipped and not
	// compared with the inflated length, and zlib.NewReader validates the
	// stream itself.
	zr, err := zlib.NewReader(bytes.NewReader(payload[4:]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	r := NewReader(raw)
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}

	lt := &LiteralTable{
		Heap:    NewHeap(heapWords),
		Entries: make([]Term, 0, count),
	}
	for i := uint32(0); i < count; i++ {
		size, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		entryBytes, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		term, err := DecodeExternalTerm(NewReader(entryBytes), lt.Heap, atoms)
		if err != nil {
			return nil, err
		}
		lt.Entries = append(lt.Entries, term)
	}
	return lt, nil
}

// Get resolves a load-time literal index (as decoded by the compact-term
// decoder's LtSubLiteral sub-tag) against the table.
func (lt *LiteralTable) Get(idx uint64) Term {
	return lt.Entries[idx]
}
