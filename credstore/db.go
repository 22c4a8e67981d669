// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package credstore

import (
	"context"
	"encoding/binary"

	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/kvdb"
	"github.com/multiwallet/keysafe/internal/zero"
)

var credentialsBucketKey = []byte("credentials")

const flagBiometric = 1 << 0

// DB is a Store persisted in its own kvdb database.  It stands in for the
// platform keystore on systems without one; keys are protected only by the
// permissions of the database file, which must not live beside the device
// registry.
type DB struct {
	db   kvdb.DB
	gate BiometricPrompter
}

var _ Store = (*DB)(nil)

// OpenDB prepares the credential bucket in db.  gate may be nil, in which
// case biometric-protected keys are never released.
func OpenDB(ctx context.Context, db kvdb.DB, gate BiometricPrompter) (*DB, error) {
	const op errors.Op = "credstore.OpenDB"
	err := kvdb.Update(ctx, db, func(tx kvdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(credentialsBucketKey)
		return err
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &DB{db: db, gate: gate}, nil
}

func indexKey(idx uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, idx)
	return k
}

// EncryptionKey implements Store.  The biometric prompt runs after the read
// transaction has ended.
func (s *DB) EncryptionKey(ctx context.Context, deviceIndex uint32, requireBiometric bool) ([]byte, error) {
	const op errors.Op = "credstore.EncryptionKey"
	var e *entry
	err := kvdb.View(ctx, s.db, func(tx kvdb.ReadTx) error {
		v := tx.ReadBucket(credentialsBucketKey).Get(indexKey(deviceIndex))
		if len(v) < 2 {
			return nil
		}
		e = &entry{
			key:       append([]byte(nil), v[1:]...),
			biometric: v[0]&flagBiometric != 0,
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.E(op, errors.Canceled, err)
		}
		return nil, errors.E(op, err)
	}
	if e != nil {
		defer zero.Bytes(e.key)
	}
	return release(ctx, op, s.gate, deviceIndex, e, requireBiometric)
}

// SetEncryptionKey implements Store.
func (s *DB) SetEncryptionKey(ctx context.Context, key []byte, deviceIndex uint32, requireBiometric bool) error {
	const op errors.Op = "credstore.SetEncryptionKey"
	if err := checkKey(op, key); err != nil {
		return err
	}
	v := make([]byte, 1+len(key))
	if requireBiometric {
		v[0] = flagBiometric
	}
	copy(v[1:], key)
	defer zero.Bytes(v)
	err := kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(credentialsBucketKey).Put(indexKey(deviceIndex), v)
	})
	if err != nil {
		return errors.E(op, err)
	}
	log.Debugf("Stored encryption key for device %d (biometric: %v)", deviceIndex, requireBiometric)
	return nil
}

// DeleteEncryptionKey implements Store.  Deleting a missing key is not an
// error.
func (s *DB) DeleteEncryptionKey(ctx context.Context, deviceIndex uint32) error {
	const op errors.Op = "credstore.DeleteEncryptionKey"
	err := kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(credentialsBucketKey).Delete(indexKey(deviceIndex))
	})
	if err != nil {
		return errors.E(op, err)
	}
	log.Debugf("Deleted encryption key for device %d", deviceIndex)
	return nil
}
