// Copyright (c) 2020-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kdf

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/multiwallet/keysafe/errors"
	"pgregory.net/rapid"
)

func TestMarshalRoundTrip(t *testing.T) {
	p, err := NewArgon2idParams(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != MarshaledLen {
		t.Fatalf("marshaled length %d, want %d", len(b), MarshaledLen)
	}
	var p2 Argon2idParams
	if err := p2.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if p2 != *p {
		t.Fatalf("got %+v want %+v", p2, *p)
	}
	if err := p2.UnmarshalBinary(b[:10]); !errors.Is(errors.Encoding, err) {
		t.Fatalf("short data: unexpected error %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		p     Argon2idParams
		valid bool
	}{
		{Argon2idParams{Time: 1, Memory: 64, Threads: 1}, true},
		{Argon2idParams{Time: DefaultTime, Memory: DefaultMemory, Threads: DefaultThreads}, true},
		{Argon2idParams{Time: 0, Memory: 64, Threads: 1}, false},
		{Argon2idParams{Time: 1, Memory: 64, Threads: 0}, false},
		{Argon2idParams{Time: 1, Memory: 7, Threads: 1}, false},
	}
	for i, test := range tests {
		err := test.p.Validate()
		if test.valid && err != nil {
			t.Errorf("test %d: unexpected error %v", i, err)
		}
		if !test.valid && !errors.Is(errors.Invalid, err) {
			t.Errorf("test %d: expected Invalid, got %v", i, err)
		}
		_, err = NewPasswordHasher(&test.p)
		if test.valid != (err == nil) {
			t.Errorf("test %d: NewPasswordHasher error %v", i, err)
		}
	}
}

func TestHashLength(t *testing.T) {
	p, err := NewInsecureParams(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	h, err := NewPasswordHasher(p)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(h.Hash([]byte("correct horse"))); got != KeySize {
		t.Fatalf("key length %d, want %d", got, KeySize)
	}
}

func TestHashSaltSeparates(t *testing.T) {
	p1, _ := NewInsecureParams(rand.Reader)
	p2 := *p1
	p2.Salt[0] ^= 1
	h1, _ := NewPasswordHasher(p1)
	h2, _ := NewPasswordHasher(&p2)
	if bytes.Equal(h1.Hash([]byte("pin")), h2.Hash([]byte("pin"))) {
		t.Fatal("different salts produced the same key")
	}
}

// Repeated hashing of the same password with the same parameters must produce
// the same key, because the key is used directly for decryption.
func TestHashDeterministic(t *testing.T) {
	p, err := NewInsecureParams(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	h, err := NewPasswordHasher(p)
	if err != nil {
		t.Fatal(err)
	}
	rapid.Check(t, func(t *rapid.T) {
		pw := rapid.SliceOf(rapid.Byte()).Draw(t, "password")
		k1 := h.Hash(pw)
		k2 := h.Hash(pw)
		if !bytes.Equal(k1, k2) {
			t.Fatalf("hash not deterministic for %x", pw)
		}

		// A hasher rebuilt from marshaled parameters agrees.
		b, _ := p.MarshalBinary()
		var p2 Argon2idParams
		if err := p2.UnmarshalBinary(b); err != nil {
			t.Fatal(err)
		}
		h2, _ := NewPasswordHasher(&p2)
		if !bytes.Equal(k1, h2.Hash(pw)) {
			t.Fatal("hash differs after parameter round trip")
		}
	})
}
