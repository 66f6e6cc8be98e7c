// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import (
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/saferwall/erlangrt/log"
)

// Module assembly (spec §4.9, §6.2): aggregates every per-chunk parser's
// output into the finished, immutable module image the dispatch core
// executes against. Grounded on file.go's File/New/NewBytes/Parse shape:
// an Options struct controlling optional work, mmap for on-disk loading,
// a logger helper, and a single Parse orchestrating every chunk parser in
// sequence.

// Options controls module loading.
type Options struct {
	// LiteralHeapWords sizes each module's literal heap, by default
	// (DefaultLiteralHeapWords).
	LiteralHeapWords int

	// SkipSignatureVerification disables PKCS7 verification of an optional
	// 'Sign' chunk, by default (false).
	SkipSignatureVerification bool

	// A custom logger.
	Logger log.Logger
}

// DefaultLiteralHeapWords is used when Options.LiteralHeapWords is unset.
const DefaultLiteralHeapWords = 1 << 16

// Module is one loaded BEAM module: code, tables, and the atoms/literals
// the code references, moved out of the loader's working state into an
// immutable image (spec §4.9: "moved out of the loader state and into the
// newly constructed Module").
type Module struct {
	Name      Term
	Version   uint64
	Code      []Term
	Functions map[FunArity]int
	Exports   []Export
	Imports   []Import
	Lambdas   []Lambda
	Literals  *LiteralTable
	Signature *SignerInfo
	Anomalies []string

	logger *log.Helper
}

// CodeServer owns the process-wide atom table and the registry of loaded
// modules with their monotone version counters (spec §4.9: "paired with a
// fresh monotone version allocated by the code server"; spec §5: "Atom
// table — process-wide; append-only").
type CodeServer struct {
	Atoms *AtomTable

	// mu serialises module insertion; loaded modules themselves are
	// immutable, so readers only contend on the map itself.
	mu       sync.RWMutex
	modules  map[string]*Module
	versions map[string]uint64
}

// NewCodeServer creates an empty code server with a fresh atom table.
func NewCodeServer() *CodeServer {
	return &CodeServer{
		Atoms:    NewAtomTable(),
		modules:  make(map[string]*Module),
		versions: make(map[string]uint64),
	}
}

// LoadFile mmaps name and loads it as a BEAM module.
func (cs *CodeServer) LoadFile(name string, opts *Options) (*Module, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer data.Unmap()

	return cs.LoadBytes(data, opts)
}

// LoadBytes loads a BEAM module from an in-memory buffer.
func (cs *CodeServer) LoadBytes(data []byte, opts *Options) (*Module, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.LiteralHeapWords == 0 {
		opts.LiteralHeapWords = DefaultLiteralHeapWords
	}

	var logger log.Logger
	if opts.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
	} else {
		logger = opts.Logger
	}
	helper := log.NewHelper(log.NewFilter(logger, log.FilterLevel(log.LevelError)))

	m := &Module{logger: helper}

	chunks, err := ParseContainer(data)
	if err != nil {
		return nil, err
	}
	hdr := NewReader(data)
	if err := hdr.Skip(4); err == nil {
		if declared, err := hdr.ReadU32BE(); err == nil && len(data) > int(declared)+8 {
			m.addAnomaly(AnoTrailingContainerBytes)
		}
	}

	atomPayload, okUTF8 := Find(chunks, "AtU8")
	latin1Payload, okLatin1 := Find(chunks, "Atom")
	if !okUTF8 && !okLatin1 {
		return nil, ErrMissingAtomChunk
	}
	if okUTF8 && okLatin1 {
		return nil, ErrDuplicateAtomChunk
	}

	var loadtimeAtoms []Term
	if okUTF8 {
		loadtimeAtoms, err = ParseAtomChunk(atomPayload, false, cs.Atoms)
	} else {
		loadtimeAtoms, err = ParseAtomChunk(latin1Payload, true, cs.Atoms)
	}
	if err != nil {
		return nil, err
	}
	if len(loadtimeAtoms) == 0 {
		return nil, ErrMissingAtomChunk
	}
	m.Name = loadtimeAtoms[0]
	for _, a := range loadtimeAtoms {
		// A Latin-1 'Atom' entry can expand past the historical 255-byte
		// ceiling once re-encoded as UTF-8.
		if len(cs.Atoms.Name(a)) > 255 {
			m.addAnomaly(AnoOversizedAtomName)
			break
		}
	}

	litPayload, hasLit := Find(chunks, "LitT")
	if hasLit {
		m.Literals, err = ParseLiteralChunk(litPayload, opts.LiteralHeapWords, cs.Atoms)
		if err != nil {
			return nil, err
		}
		if len(m.Literals.Entries) == 0 {
			m.addAnomaly(AnoEmptyOptionalChunk)
		}
	} else {
		m.Literals = &LiteralTable{Heap: NewHeap(opts.LiteralHeapWords)}
	}

	impPayload, hasImp := Find(chunks, "ImpT")
	if !hasImp {
		return nil, ErrMissingImportChunk
	}
	m.Imports, err = ParseImportChunk(impPayload, loadtimeAtoms)
	if err != nil {
		return nil, err
	}

	expPayload, hasExp := Find(chunks, "ExpT")
	if !hasExp {
		return nil, ErrMissingExportChunk
	}
	m.Exports, err = ParseExportChunk(expPayload, loadtimeAtoms)
	if err != nil {
		return nil, err
	}

	if funPayload, hasFun := Find(chunks, "FunT"); hasFun {
		m.Lambdas, err = ParseLambdaChunk(funPayload, loadtimeAtoms)
		if err != nil {
			return nil, err
		}
		if len(m.Lambdas) == 0 {
			m.addAnomaly(AnoEmptyOptionalChunk)
		}
	}

	codePayload, hasCode := Find(chunks, "Code")
	if !hasCode {
		return nil, ErrMissingCodeChunk
	}
	cl := NewCodeLoader(loadtimeAtoms, m.Literals, m.Name)
	if err := cl.Load(codePayload); err != nil {
		return nil, err
	}
	if err := cl.Resolve(m.Literals.Heap); err != nil {
		return nil, err
	}
	m.Code = cl.Code
	m.Functions = cl.Functions
	if cl.DuplicateFunctions {
		m.addAnomaly(AnoDuplicateFunctionEntry)
	}

	// Bind each lambda to the code offset its label resolved to, so
	// make_fun2 can mint closures without consulting the (discarded)
	// label table at runtime.
	for i := range m.Lambdas {
		if off, ok := cl.Labels[m.Lambdas[i].Label]; ok {
			m.Lambdas[i].Offset = off
		} else {
			return nil, ErrUnknownLabel
		}
	}

	for _, e := range m.Exports {
		if _, ok := m.Functions[FunArity{Function: e.Function, Arity: e.Arity}]; !ok {
			m.addAnomaly(AnoUnresolvedExport)
		}
	}

	if signPayload, hasSign := Find(chunks, "Sign"); hasSign && !opts.SkipSignatureVerification {
		// The signature detaches-signs the required chunks' payloads in
		// file order; it cannot cover the container whole, which embeds
		// the 'Sign' chunk itself.
		var signed []byte
		for _, c := range chunks {
			switch c.Tag {
			case "Atom", "AtU8", "Code", "ImpT", "ExpT":
				signed = append(signed, c.Payload...)
			}
		}
		sig, err := VerifySignature(signed, signPayload)
		if err != nil {
			m.addAnomaly(AnoUnverifiableSignature)
		} else {
			m.Signature = sig
		}
	}

	name := cs.Atoms.Name(m.Name)
	cs.mu.Lock()
	cs.versions[name]++
	m.Version = cs.versions[name]
	cs.modules[name] = m
	cs.mu.Unlock()

	return m, nil
}

// Lookup returns a previously loaded module by name, if any.
func (cs *CodeServer) Lookup(name string) (*Module, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	m, ok := cs.modules[name]
	return m, ok
}
