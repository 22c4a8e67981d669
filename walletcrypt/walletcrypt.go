// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walletcrypt seals wallet secrets with a caller-supplied key.
//
// A sealed blob is self-describing:
//
//	version (1 byte) || nonce (24 bytes) || XChaCha20-Poly1305 ciphertext and tag
//
// The version byte and nonce are authenticated as associated data.  Blobs are
// opaque to every caller and are stored verbatim.
package walletcrypt

import (
	"crypto/rand"
	"encoding/json"
	"io"

	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/zero"
	"golang.org/x/crypto/chacha20poly1305"
)

// Version is the only blob version produced and accepted.
const Version byte = 1

// KeySize is the required key length.
const KeySize = chacha20poly1305.KeySize

const (
	headerLen   = 1 + chacha20poly1305.NonceSizeX
	overheadLen = headerLen + chacha20poly1305.Overhead
)

// Ciphertext is a sealed, versioned secret.
type Ciphertext []byte

// errDecrypt is returned for every data-dependent decryption failure so
// callers cannot tell a wrong key from damaged data.
func errDecrypt(op errors.Op) error {
	return errors.E(op, errors.Crypto, "decryption failed")
}

var dummyNonce [chacha20poly1305.NonceSizeX]byte
var dummySealed [chacha20poly1305.Overhead + 64]byte

func checkKey(op errors.Op, key []byte) error {
	if len(key) != KeySize {
		return errors.E(op, errors.Invalid, errors.Errorf("key length %d, expected %d", len(key), KeySize))
	}
	return nil
}

// Seal encrypts plaintext with key using a fresh random nonce.
func Seal(plaintext, key []byte) (Ciphertext, error) {
	const op errors.Op = "walletcrypt.Seal"
	if err := checkKey(op, key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.E(op, errors.Bug, err)
	}
	out := make([]byte, headerLen, overheadLen+len(plaintext))
	out[0] = Version
	if _, err := io.ReadFull(rand.Reader, out[1:headerLen]); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	out = aead.Seal(out, out[1:headerLen], plaintext, out[:headerLen])
	return out, nil
}

// Open authenticates and decrypts c.  Any failure caused by the key or the
// blob contents returns an errors.Crypto error with no further detail.  Open
// never returns partial plaintext.  Callers should wipe the result.
func Open(c Ciphertext, key []byte) ([]byte, error) {
	const op errors.Op = "walletcrypt.Open"
	if err := checkKey(op, key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.E(op, errors.Bug, err)
	}
	if len(c) < overheadLen || c[0] != Version {
		// Perform an authentication attempt anyway so malformed blobs
		// take the same path as a wrong key.
		_, _ = aead.Open(nil, dummyNonce[:], dummySealed[:], nil)
		return nil, errDecrypt(op)
	}
	plaintext, err := aead.Open(nil, c[1:headerLen], c[headerLen:], c[:headerLen])
	if err != nil {
		return nil, errDecrypt(op)
	}
	return plaintext, nil
}

// Encrypt seals the JSON encoding of payload.
func Encrypt(payload interface{}, key []byte) (Ciphertext, error) {
	const op errors.Op = "walletcrypt.Encrypt"
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.E(op, errors.Encoding, err)
	}
	defer zero.Bytes(b)
	c, err := Seal(b, key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return c, nil
}

// Decrypt opens c and decodes the JSON payload into v.
func Decrypt(c Ciphertext, key []byte, v interface{}) error {
	const op errors.Op = "walletcrypt.Decrypt"
	b, err := Open(c, key)
	if err != nil {
		return errors.E(op, err)
	}
	defer zero.Bytes(b)
	if err := json.Unmarshal(b, v); err != nil {
		return errors.E(op, errors.Encoding, err)
	}
	return nil
}

type mnemonicPayload struct {
	Mnemonic []string `json:"mnemonic"`
}

type rawMnemonicPayload struct {
	Mnemonic []json.RawMessage `json:"mnemonic"`
}

// EncryptMnemonic seals a mnemonic phrase as {"mnemonic": [words...]}.
func EncryptMnemonic(words []string, key []byte) (Ciphertext, error) {
	const op errors.Op = "walletcrypt.EncryptMnemonic"
	if len(words) == 0 {
		return nil, errors.E(op, errors.Invalid, "empty mnemonic")
	}
	c, err := Encrypt(&mnemonicPayload{Mnemonic: words}, key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return c, nil
}

// DecryptMnemonic opens a blob produced by EncryptMnemonic.  Words are
// returned as byte slices so the caller can overwrite them.
func DecryptMnemonic(c Ciphertext, key []byte) ([][]byte, error) {
	const op errors.Op = "walletcrypt.DecryptMnemonic"
	var p rawMnemonicPayload
	if err := Decrypt(c, key, &p); err != nil {
		return nil, errors.E(op, err)
	}
	words := make([][]byte, len(p.Mnemonic))
	var bad bool
	for i, raw := range p.Mnemonic {
		w, ok := unquoteWord(raw)
		if !ok {
			bad = true
		}
		words[i] = w
	}
	if bad || len(words) == 0 {
		zero.Slices(words)
		return nil, errors.E(op, errors.Encoding, "malformed mnemonic payload")
	}
	return words, nil
}

// unquoteWord returns the contents of a JSON string holding a lowercase ASCII
// word list entry.  raw is wiped.
func unquoteWord(raw json.RawMessage) ([]byte, bool) {
	defer zero.Bytes(raw)
	if len(raw) < 3 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return nil, false
	}
	body := raw[1 : len(raw)-1]
	for _, c := range body {
		if c < 'a' || c > 'z' {
			return nil, false
		}
	}
	return append([]byte(nil), body...), true
}
