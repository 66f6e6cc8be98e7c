// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

// Chunk container parsing (spec §4.5, §6.1). Grounded on file.go's
// Parse()/ParseDataDirectories() dispatch-by-tag loop: validate the
// container magic, then walk a sequence of tagged, sized records, handing
// each payload to whichever specialised parser recognises its tag.

// MagicFOR1 and FormBEAM are the container's two fixed ASCII markers.
const (
	MagicFOR1 = "FOR1"
	FormBEAM  = "BEAM"

	minContainerSize = 12 // "FOR1" + u32 size + "BEAM"
)

// Chunk is one tagged, sized record inside the container, with its
// payload already separated from the trailing alignment padding.
type Chunk struct {
	Tag     string
	Payload []byte
}

// ParseContainer validates the "FOR1"/"BEAM" wrapper and splits the
// remaining bytes into a sequence of Chunks, verbatim (spec §8 invariant
// 1: every recognised chunk's bytes survive parsing unchanged).
func ParseContainer(data []byte) ([]Chunk, error) {
	if len(data) < minContainerSize {
		return nil, ErrTooSmall
	}
	r := NewReader(data)

	magic, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != MagicFOR1 {
		return nil, ErrBadMagic
	}

	totalSize, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	// totalSize bounds the payload that follows the size field; clamp our
	// walk to it but tolerate trailing garbage beyond it the same way
	// file.go tolerates an overlay past the last section.
	end := r.Position() + int(totalSize)
	if end > len(data) {
		end = len(data)
	}

	form, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	if string(form) != FormBEAM {
		return nil, ErrBadFormType
	}

	var chunks []Chunk
	for r.Position() < end {
		if end-r.Position() < 8 {
			break
		}
		tagBytes, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		if r.Position()+int(size) > len(data) {
			return nil, ErrTruncatedChunk
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, Chunk{Tag: string(tagBytes), Payload: payload})
		if err := r.Align4(); err != nil {
			// Trailing padding past EOF on the very last chunk is
			// tolerated; anything else already failed the bounds check
			// above.
			break
		}
	}
	return chunks, nil
}

// Find returns the payload of the first chunk with the given tag, or nil
// if absent.
func Find(chunks []Chunk, tag string) ([]byte, bool) {
	for _, c := range chunks {
		if c.Tag == tag {
			return c.Payload, true
		}
	}
	return nil, false
}
