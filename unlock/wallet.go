// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package unlock

import (
	"fmt"
	"sync"

	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/zero"
	"github.com/multiwallet/keysafe/walletseed"
)

const redacted = "[redacted]"

// DecryptedWallet is a recovered mnemonic.  It exists only in memory for the
// duration of a secret-dependent operation.  The receiver of a
// DecryptedWallet owns it and must call Zero on every exit path once the
// secret is no longer needed.
//
// A DecryptedWallet cannot be formatted or marshaled: fmt verbs print a
// placeholder and JSON and text marshaling fail.
type DecryptedWallet struct {
	mu    sync.Mutex
	words [][]byte
}

func newDecryptedWallet(words [][]byte) *DecryptedWallet {
	return &DecryptedWallet{words: words}
}

// Len returns the number of mnemonic words, or zero after Zero.
func (w *DecryptedWallet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.words)
}

// Mnemonic returns copies of the mnemonic words for display.  Go strings
// cannot be wiped, so callers that only need the seed should use Seed.
func (w *DecryptedWallet) Mnemonic() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.words == nil {
		return nil
	}
	words := make([]string, len(w.words))
	for i, b := range w.words {
		words[i] = string(b)
	}
	return words
}

// Seed returns the BIP-39 seed of the mnemonic and passphrase.
func (w *DecryptedWallet) Seed(passphrase string) ([]byte, error) {
	const op errors.Op = "unlock.Seed"
	words := w.Mnemonic()
	if words == nil {
		return nil, errors.E(op, errors.Invalid, "wallet has been zeroed")
	}
	seed, err := walletseed.Seed(words, passphrase)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return seed, nil
}

// Zero overwrites the mnemonic words and releases them.  It is safe to call
// more than once.
func (w *DecryptedWallet) Zero() {
	w.mu.Lock()
	zero.Slices(w.words)
	w.words = nil
	w.mu.Unlock()
}

// String implements fmt.Stringer without revealing the secret.
func (w *DecryptedWallet) String() string {
	return redacted
}

// Format implements fmt.Formatter so that every verb, including %#v, prints
// the placeholder.
func (w *DecryptedWallet) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, redacted)
}

// MarshalJSON always errors.
func (w *DecryptedWallet) MarshalJSON() ([]byte, error) {
	return nil, errors.E(errors.Op("unlock.MarshalJSON"), errors.Invalid, "decrypted wallet cannot be serialized")
}

// MarshalText always errors.
func (w *DecryptedWallet) MarshalText() ([]byte, error) {
	return nil, errors.E(errors.Op("unlock.MarshalText"), errors.Invalid, "decrypted wallet cannot be serialized")
}
