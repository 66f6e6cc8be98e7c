// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import "testing"

func TestReaderReadU32BE(t *testing.T) {
	tests := []struct {
		in  []byte
		out uint32
	}{
		{[]byte{0x00, 0x00, 0x00, 0x01}, 1},
		{[]byte{0xde, 0xad, 0xbe, 0xef}, 0xdeadbeef},
	}

	for _, tt := range tests {
		r := NewReader(tt.in)
		got, err := r.ReadU32BE()
		if err != nil {
			t.Fatalf("ReadU32BE(%x) failed, reason: %v", tt.in, err)
		}
		if got != tt.out {
			t.Errorf("ReadU32BE(%x) = %#x, want %#x", tt.in, got, tt.out)
		}
		if r.Position() != 4 {
			t.Errorf("Position() = %d, want 4", r.Position())
		}
	}
}

func TestReaderBoundsChecking(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})
	if _, err := r.ReadU32BE(); err != ErrUnexpectedEOF {
		t.Errorf("ReadU32BE past end = %v, want ErrUnexpectedEOF", err)
	}
	if _, err := r.ReadBytes(-1); err != ErrUnexpectedEOF {
		t.Errorf("ReadBytes(-1) = %v, want ErrUnexpectedEOF", err)
	}
}

func TestReaderSkipAndEof(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4})
	if err := r.Skip(4); err != nil {
		t.Fatalf("Skip(4) failed, reason: %v", err)
	}
	if !r.Eof() {
		t.Error("Eof() = false after consuming whole buffer, want true")
	}
	if err := r.Skip(1); err == nil {
		t.Error("Skip(1) past end succeeded, want error")
	}
}

func TestReaderAlign4(t *testing.T) {
	r := NewReader(make([]byte, 10))
	if err := r.Skip(3); err != nil {
		t.Fatalf("Skip(3) failed, reason: %v", err)
	}
	if err := r.Align4(); err != nil {
		t.Fatalf("Align4() failed, reason: %v", err)
	}
	if r.Position() != 4 {
		t.Errorf("Position() after Align4 = %d, want 4", r.Position())
	}
	// Already aligned: Align4 must be a no-op.
	if err := r.Align4(); err != nil {
		t.Fatalf("Align4() on aligned cursor failed, reason: %v", err)
	}
	if r.Position() != 4 {
		t.Errorf("Position() after no-op Align4 = %d, want 4", r.Position())
	}
}

func TestReaderPeekDoesNotAdvance(t *testing.T) {
	r := NewReader([]byte{0x42})
	b, err := r.PeekU8()
	if err != nil {
		t.Fatalf("PeekU8() failed, reason: %v", err)
	}
	if b != 0x42 {
		t.Errorf("PeekU8() = %#x, want 0x42", b)
	}
	if r.Position() != 0 {
		t.Errorf("Position() after PeekU8 = %d, want 0", r.Position())
	}
}
