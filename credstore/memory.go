// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package credstore

import (
	"context"
	"sync"

	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/zero"
)

// Memory is an in-process Store.  It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[uint32]*entry
	gate    BiometricPrompter
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.  gate may be nil, in which case
// biometric-protected keys are never released.
func NewMemory(gate BiometricPrompter) *Memory {
	return &Memory{
		entries: make(map[uint32]*entry),
		gate:    gate,
	}
}

// EncryptionKey implements Store.  The lock is not held while the biometric
// prompt is shown.
func (m *Memory) EncryptionKey(ctx context.Context, deviceIndex uint32, requireBiometric bool) ([]byte, error) {
	const op errors.Op = "credstore.EncryptionKey"
	m.mu.Lock()
	var e *entry
	if stored, ok := m.entries[deviceIndex]; ok {
		e = &entry{key: append([]byte(nil), stored.key...), biometric: stored.biometric}
	}
	gate := m.gate
	m.mu.Unlock()
	if e != nil {
		defer zero.Bytes(e.key)
	}
	return release(ctx, op, gate, deviceIndex, e, requireBiometric)
}

// SetEncryptionKey implements Store.
func (m *Memory) SetEncryptionKey(ctx context.Context, key []byte, deviceIndex uint32, requireBiometric bool) error {
	const op errors.Op = "credstore.SetEncryptionKey"
	if err := checkKey(op, key); err != nil {
		return err
	}
	m.mu.Lock()
	if old, ok := m.entries[deviceIndex]; ok {
		zero.Bytes(old.key)
	}
	m.entries[deviceIndex] = &entry{key: append([]byte(nil), key...), biometric: requireBiometric}
	m.mu.Unlock()
	return nil
}

// DeleteEncryptionKey implements Store.  Deleting a missing key is not an
// error.
func (m *Memory) DeleteEncryptionKey(ctx context.Context, deviceIndex uint32) error {
	m.mu.Lock()
	if old, ok := m.entries[deviceIndex]; ok {
		zero.Bytes(old.key)
		delete(m.entries, deviceIndex)
	}
	m.mu.Unlock()
	return nil
}

// SetBiometricPrompter replaces the biometric gate.  Passing nil models
// biometrics becoming unavailable on the platform.
func (m *Memory) SetBiometricPrompter(gate BiometricPrompter) {
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
}
