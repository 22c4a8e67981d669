// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package credstore holds the per-device encryption keys that a platform
// keystore would protect, optionally behind a biometric check.
package credstore

import (
	"context"

	"github.com/multiwallet/keysafe/errors"
)

// Store is a keystore holding one encryption key per device index.
//
// EncryptionKey errors with code NotAvailable when no key is stored, when a
// biometric-protected key is requested but none exists (for example after
// biometrics were unenrolled), or when the biometric check fails.  It errors
// with code Canceled when the user dismisses the biometric prompt.  Returned
// keys are copies owned by the caller.
type Store interface {
	EncryptionKey(ctx context.Context, deviceIndex uint32, requireBiometric bool) ([]byte, error)
	SetEncryptionKey(ctx context.Context, key []byte, deviceIndex uint32, requireBiometric bool) error
	DeleteEncryptionKey(ctx context.Context, deviceIndex uint32) error
}

// BiometricPrompter confirms the user's identity with a biometric check.
type BiometricPrompter interface {
	// PromptBiometric returns nil once the user is verified and an error
	// of kind Canceled if the prompt was dismissed.  Any other error is a
	// failed or unavailable check.
	PromptBiometric(ctx context.Context, reason string) error
}

// BiometricFunc adapts a function to the BiometricPrompter interface.
type BiometricFunc func(ctx context.Context, reason string) error

// PromptBiometric calls f(ctx, reason).
func (f BiometricFunc) PromptBiometric(ctx context.Context, reason string) error {
	return f(ctx, reason)
}

// entry is a stored key and its protection.
type entry struct {
	key       []byte
	biometric bool
}

const unlockReason = "Unlock wallet"

// release applies the access policy to a stored entry.  e is nil when no key
// is stored.  The returned key is a copy.
func release(ctx context.Context, op errors.Op, gate BiometricPrompter, idx uint32, e *entry,
	requireBiometric bool) ([]byte, error) {

	if err := ctx.Err(); err != nil {
		return nil, errors.E(op, errors.Canceled, err)
	}
	switch {
	case e == nil:
		return nil, errors.E(op, errors.NotAvailable, errors.Errorf("no key for device %d", idx))
	case requireBiometric && !e.biometric:
		return nil, errors.E(op, errors.NotAvailable,
			errors.Errorf("key for device %d is not biometric protected", idx))
	case e.biometric:
		if gate == nil {
			return nil, errors.E(op, errors.NotAvailable, "biometrics unavailable")
		}
		err := gate.PromptBiometric(ctx, unlockReason)
		switch {
		case err == nil:
		case errors.Is(errors.Canceled, err), ctx.Err() != nil:
			log.Debugf("Biometric prompt for device %d dismissed", idx)
			return nil, errors.E(op, errors.Canceled)
		default:
			log.Debugf("Biometric check for device %d failed: %v", idx, err)
			return nil, errors.E(op, errors.NotAvailable, err)
		}
	}
	return append([]byte(nil), e.key...), nil
}

func checkKey(op errors.Op, key []byte) error {
	if len(key) == 0 {
		return errors.E(op, errors.Invalid, "empty key")
	}
	return nil
}
