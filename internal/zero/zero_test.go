// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zero

import "testing"

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestBytes(t *testing.T) {
	for _, n := range []int{0, 1, 31, 32, 33, 1024} {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i + 1)
		}
		Bytes(b)
		if !isZero(b) {
			t.Errorf("len %d: not cleared", n)
		}
	}
}

func TestSlices(t *testing.T) {
	s := [][]byte{[]byte("abandon"), []byte("ability"), nil}
	Slices(s)
	for i, b := range s {
		if !isZero(b) {
			t.Errorf("slice %d not cleared", i)
		}
	}
}
