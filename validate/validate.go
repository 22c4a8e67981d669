// Copyright (c) 2018-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package validate checks candidate passwords against the installation password
without unlocking any wallet.

At password setup a known string is sealed with the key derived from the
password.  A candidate is correct exactly when the key derived from it opens
that blob and recovers the known string.
*/
package validate

import (
	"context"
	"crypto/subtle"

	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/zero"
	"github.com/multiwallet/keysafe/walletcrypt"
)

// validationString is the plaintext sealed in the validation blob.
var validationString = []byte("keysafe/password-validation/v1")

// Hasher derives a cipher key from a password.
type Hasher interface {
	Hash(password []byte) []byte
}

// CiphertextSource supplies the stored validation blob.
type CiphertextSource interface {
	ValidationCiphertext(ctx context.Context) (walletcrypt.Ciphertext, error)
}

// NewValidationCiphertext seals the validation string with key.
func NewValidationCiphertext(key []byte) (walletcrypt.Ciphertext, error) {
	const op errors.Op = "validate.NewValidationCiphertext"
	c, err := walletcrypt.Seal(validationString, key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return c, nil
}

// PasswordValidator verifies candidate passwords.
type PasswordValidator struct {
	source CiphertextSource
	hasher Hasher
}

// NewPasswordValidator returns a validator reading the validation blob from
// source and deriving keys with hasher.
func NewPasswordValidator(source CiphertextSource, hasher Hasher) *PasswordValidator {
	return &PasswordValidator{source: source, hasher: hasher}
}

// Validate reports whether candidate is the installation password.  A wrong
// password, a missing blob and a damaged blob all return false, and all of
// them run the key derivation and an authentication attempt so the cases take
// the same time.
func (v *PasswordValidator) Validate(ctx context.Context, candidate []byte) bool {
	blob, err := v.source.ValidationCiphertext(ctx)
	if err != nil {
		blob = nil
	}
	key := v.hasher.Hash(candidate)
	defer zero.Bytes(key)
	plaintext, err := walletcrypt.Open(blob, key)
	if err != nil {
		plaintext = nil
	}
	defer zero.Bytes(plaintext)
	return subtle.ConstantTimeCompare(plaintext, validationString) == 1
}
