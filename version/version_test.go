// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package version

import "testing"

func TestString(t *testing.T) {
	pre, meta := PreRelease, BuildMetadata
	defer func() { PreRelease, BuildMetadata = pre, meta }()

	tests := []struct {
		pre, meta, want string
	}{
		{"", "", "0.3.0"},
		{"rc1", "", "0.3.0-rc1"},
		{"pre", "abc123", "0.3.0-pre+abc123"},
		{"be+ta!", "x_y", "0.3.0-beta+xy"},
	}
	for _, test := range tests {
		PreRelease, BuildMetadata = test.pre, test.meta
		if got := String(); got != test.want {
			t.Errorf("String() with %q/%q = %q, want %q", test.pre, test.meta, got, test.want)
		}
	}
}
