// Copyright (c) 2018-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package validate

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/kdf"
	"github.com/multiwallet/keysafe/walletcrypt"
)

type blobSource struct {
	blob walletcrypt.Ciphertext
	err  error
}

func (s *blobSource) ValidationCiphertext(context.Context) (walletcrypt.Ciphertext, error) {
	return s.blob, s.err
}

func testHasher(t *testing.T) *kdf.PasswordHasher {
	p, err := kdf.NewInsecureParams(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	h, err := kdf.NewPasswordHasher(p)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	h := testHasher(t)
	blob, err := NewValidationCiphertext(h.Hash([]byte("correct")))
	if err != nil {
		t.Fatal(err)
	}
	damaged := append(walletcrypt.Ciphertext(nil), blob...)
	damaged[len(damaged)-1] ^= 1
	otherBlob, err := walletcrypt.Seal([]byte("something else"), h.Hash([]byte("correct")))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		source    *blobSource
		candidate string
		want      bool
	}{
		{&blobSource{blob: blob}, "correct", true},
		{&blobSource{blob: blob}, "wrong", false},
		{&blobSource{blob: blob}, "", false},
		{&blobSource{blob: blob}, "correct ", false},
		{&blobSource{blob: damaged}, "correct", false},
		{&blobSource{blob: blob[:10]}, "correct", false},
		{&blobSource{}, "correct", false},
		{&blobSource{err: errors.E(errors.NotExist)}, "correct", false},
		{&blobSource{blob: otherBlob}, "correct", false},
	}
	for i, test := range tests {
		v := NewPasswordValidator(test.source, h)
		if got := v.Validate(ctx, []byte(test.candidate)); got != test.want {
			t.Errorf("test %d: got %v want %v", i, got, test.want)
		}
	}
}

// countingHasher records derivations to show every failure path pays for one.
type countingHasher struct {
	Hasher
	n int
}

func (h *countingHasher) Hash(p []byte) []byte {
	h.n++
	return h.Hasher.Hash(p)
}

func TestValidateAlwaysDerives(t *testing.T) {
	ctx := context.Background()
	h := &countingHasher{Hasher: testHasher(t)}
	sources := []*blobSource{
		{},
		{err: errors.E(errors.IO, "disk")},
		{blob: walletcrypt.Ciphertext{1, 2, 3}},
	}
	for i, s := range sources {
		v := NewPasswordValidator(s, h)
		if v.Validate(ctx, []byte("pw")) {
			t.Errorf("source %d: validated", i)
		}
		if h.n != i+1 {
			t.Errorf("source %d: %d derivations", i, h.n)
		}
	}
}
