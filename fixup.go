// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Label fixup (spec §4.7, §8 invariant: "a forward jump ... after fixup,
// both operand words are code-pointer Terms"). Grounded on
// impl_parse_code.rs's PatchLocation/maybe_convert_label/replace_labels:
// a forward reference to a not-yet-seen label is recorded as a small
// integer placeholder plus a patch location; once the whole code stream
// has been scanned and every label is known, Resolve walks the recorded
// locations and overwrites each placeholder with its real code pointer.

// PatchKind distinguishes the two places a dangling label reference can
// live: directly in the code vector, or inside a jump table's label slot.
type PatchKind int

const (
	PatchCodeOffset PatchKind = iota
	PatchJumpTableElement
)

// PatchLocation names one dangling forward label reference left behind by
// CodeLoader.storeOpcodeArgs.
type PatchLocation struct {
	Kind         PatchKind
	LabelID      uint32
	CodeIndex    int  // valid when Kind == PatchCodeOffset
	Table        Term // valid when Kind == PatchJumpTableElement
	ElementIndex int  // valid when Kind == PatchJumpTableElement
}

// Resolve patches every location cl.patches recorded against cl.Labels,
// now that the full instruction stream has been scanned and every label
// definition is known. Any label id that never got defined is a malformed
// module (spec §4.7's ErrUnknownLabel).
func (cl *CodeLoader) Resolve(litHeap *Heap) error {
	for _, loc := range cl.patches {
		offset, ok := cl.Labels[loc.LabelID]
		if !ok {
			return ErrUnknownLabel
		}
		cp := MakeCP(uint32(offset))
		switch loc.Kind {
		case PatchCodeOffset:
			cl.Code[loc.CodeIndex] = cp
		case PatchJumpTableElement:
			JumpTableSetElement(litHeap, loc.Table, loc.ElementIndex, cp)
		}
	}
	return nil
}
