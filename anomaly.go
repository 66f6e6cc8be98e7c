// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Anomalies are non-fatal irregularities noticed while loading a module:
// conditions a stricter loader could reject outright, but which this one
// tolerates and records instead — loading still succeeds, the finding
// just rides along on the Module for a caller who cares to inspect it.
var (
	// AnoEmptyOptionalChunk is reported when a chunk the loader recognises
	// but does not require ('LitT', 'FunT') is present but declares zero
	// entries.
	AnoEmptyOptionalChunk = "optional chunk present with zero entries"

	// AnoUnresolvedExport is reported when an 'ExpT' record names a
	// {function, arity} pair absent from the function table built from
	// 'Code' — the export would crash any call into it.
	AnoUnresolvedExport = "export table entry has no matching function table entry"

	// AnoOversizedAtomName is reported when an atom chunk entry's name
	// exceeds 255 bytes, the historical atom length ceiling.
	AnoOversizedAtomName = "atom name longer than 255 bytes"

	// AnoUnverifiableSignature is reported when a 'Sign' chunk is present
	// but its signature could not be verified against the module bytes it
	// accompanies; this is a soft failure, not a load error, since an
	// unsigned or unverifiable module is still a loadable module.
	AnoUnverifiableSignature = "module signature present but could not be verified"

	// AnoDuplicateFunctionEntry is reported when two func_info instructions
	// name the same {function, arity} pair, shadowing the earlier
	// definition.
	AnoDuplicateFunctionEntry = "duplicate function_info entry for the same function/arity"

	// AnoTrailingContainerBytes is reported when bytes remain past the
	// container's declared total size.
	AnoTrailingContainerBytes = "bytes remain past the container's declared size"
)

// addAnomaly appends anomaly to m.Anomalies unless already present.
func (m *Module) addAnomaly(anomaly string) {
	for _, a := range m.Anomalies {
		if a == anomaly {
			return
		}
	}
	m.logger.Warnf("anomaly: %s", anomaly)
	m.Anomalies = append(m.Anomalies, anomaly)
}
