// Copyright (c) 2020-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kdf

import (
	"encoding/binary"
	"io"
	"runtime"

	"github.com/multiwallet/keysafe/errors"
	"golang.org/x/crypto/argon2"
)

// KeySize is the length of keys returned by PasswordHasher.Hash.  It matches
// the key size of the walletcrypt cipher.
const KeySize = 32

// Default Argon2id difficulty.  Three passes over 32 MiB with four lanes
// completes well under 200ms on mid-range mobile hardware while still
// requiring the full memory per guess.
const (
	DefaultTime    = 3
	DefaultMemory  = 32 * 1024 // KiB
	DefaultThreads = 4
)

// Argon2idParams describes the difficulty and parallelism requirements for the
// Argon2id KDF.
type Argon2idParams struct {
	Salt    [16]byte
	Time    uint32
	Memory  uint32
	Threads uint8
}

// NewArgon2idParams returns the default parameters for the Argon2id KDF with a
// random salt.  Randomness is read from rand.
//
// The time and memory parameters may be increased by an application when
// stronger security requirements are desired, and additional memory is
// available.
func NewArgon2idParams(rand io.Reader) (*Argon2idParams, error) {
	p := &Argon2idParams{
		Time:    DefaultTime,
		Memory:  DefaultMemory,
		Threads: DefaultThreads,
	}
	_, err := io.ReadFull(rand, p.Salt[:])
	return p, err
}

// NewInsecureParams returns cheap parameters with a random salt.  They exist
// so tests and simulations can exercise the full key path quickly and must
// never protect real secrets.
func NewInsecureParams(rand io.Reader) (*Argon2idParams, error) {
	p := &Argon2idParams{
		Time:    1,
		Memory:  64,
		Threads: 1,
	}
	_, err := io.ReadFull(rand, p.Salt[:])
	return p, err
}

// Validate checks that the parameters are usable by Argon2id.
func (p *Argon2idParams) Validate() error {
	const op errors.Op = "kdf.Validate"
	switch {
	case p.Time < 1:
		return errors.E(op, errors.Invalid, "time must be at least 1")
	case p.Threads < 1:
		return errors.E(op, errors.Invalid, "threads must be at least 1")
	case p.Memory < 8*uint32(p.Threads):
		return errors.E(op, errors.Invalid, "memory must be at least 8KiB per thread")
	}
	return nil
}

// MarshaledLen is the length of the marshaled KDF parameters.
const MarshaledLen = 25

// MarshalBinary implements encoding.BinaryMarshaler.
// The returned byte slice has length MarshaledLen.
func (p *Argon2idParams) MarshalBinary() ([]byte, error) {
	b := make([]byte, MarshaledLen)
	copy(b, p.Salt[:])
	binary.LittleEndian.PutUint32(b[16:16+4], p.Time)
	binary.LittleEndian.PutUint32(b[16+4:16+8], p.Memory)
	b[16+8] = p.Threads
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *Argon2idParams) UnmarshalBinary(data []byte) error {
	if len(data) != MarshaledLen {
		return errors.E(errors.Encoding, "invalid marshaled Argon2id parameters")
	}
	copy(p.Salt[:], data)
	p.Time = binary.LittleEndian.Uint32(data[16:])
	p.Memory = binary.LittleEndian.Uint32(data[16+4:])
	p.Threads = data[16+8]
	return nil
}

// DeriveKey derives a key of len bytes from a passphrase and KDF parameters.
func DeriveKey(password []byte, p *Argon2idParams, len uint32) []byte {
	defer runtime.GC()
	return argon2.IDKey(password, p.Salt[:], p.Time, p.Memory, p.Threads, len)
}

// PasswordHasher turns user passwords and PINs into symmetric keys.  The
// output for a password is fixed for the lifetime of the parameters, which
// allows the derived key to be used directly as a cipher key.
//
// PasswordHasher is safe for concurrent use.
type PasswordHasher struct {
	params Argon2idParams
}

// NewPasswordHasher returns a hasher using a copy of the passed parameters.
func NewPasswordHasher(p *Argon2idParams) (*PasswordHasher, error) {
	if p == nil {
		return nil, errors.E(errors.Op("kdf.NewPasswordHasher"), errors.Invalid, "nil parameters")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &PasswordHasher{params: *p}, nil
}

// Hash derives a KeySize-byte key from password.  The caller owns the result
// and should wipe it when no longer needed.
func (h *PasswordHasher) Hash(password []byte) []byte {
	return DeriveKey(password, &h.params, KeySize)
}

// Params returns a copy of the hasher parameters.
func (h *PasswordHasher) Params() Argon2idParams {
	return h.params
}
