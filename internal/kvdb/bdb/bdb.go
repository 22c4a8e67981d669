// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bdb implements the kvdb interface on top of bbolt.  It registers
// itself under the driver name "bdb".
package bdb

import (
	"os"
	"time"

	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/kvdb"
	bolt "go.etcd.io/bbolt"
)

// DbType is the driver name.
const DbType = "bdb"

func init() {
	err := kvdb.RegisterDriver(kvdb.Driver{
		DbType: DbType,
		Create: func(path string) (kvdb.DB, error) { return openDB(path, true) },
		Open:   func(path string) (kvdb.DB, error) { return openDB(path, false) },
	})
	if err != nil {
		panic(err)
	}
}

// convertErr wraps a driver-specific error with an error code.
func convertErr(err error) error {
	if err == nil {
		return nil
	}
	var kind errors.Kind
	switch err {
	case bolt.ErrInvalid: // Invalid database file, not invalid operation
		kind = errors.IO
	case bolt.ErrDatabaseNotOpen, bolt.ErrTxNotWritable, bolt.ErrTxClosed:
		kind = errors.Invalid
	case bolt.ErrBucketNameRequired, bolt.ErrKeyRequired, bolt.ErrKeyTooLarge, bolt.ErrValueTooLarge, bolt.ErrIncompatibleValue:
		kind = errors.Invalid
	case bolt.ErrBucketNotFound:
		kind = errors.NotExist
	case bolt.ErrBucketExists:
		kind = errors.Exist
	case bolt.ErrTimeout:
		kind = errors.IO
	}
	return errors.E(kind, err)
}

type transaction struct {
	boltTx *bolt.Tx
}

func (tx *transaction) ReadBucket(key []byte) kvdb.ReadBucket {
	// Avoid returning a non-nil interface holding a nil pointer.
	if b := tx.ReadWriteBucket(key); b != nil {
		return b
	}
	return nil
}

func (tx *transaction) ReadWriteBucket(key []byte) kvdb.ReadWriteBucket {
	boltBucket := tx.boltTx.Bucket(key)
	if boltBucket == nil {
		return nil
	}
	return (*bucket)(boltBucket)
}

func (tx *transaction) CreateTopLevelBucket(key []byte) (kvdb.ReadWriteBucket, error) {
	boltBucket, err := tx.boltTx.CreateBucketIfNotExists(key)
	if err != nil {
		return nil, convertErr(err)
	}
	return (*bucket)(boltBucket), nil
}

func (tx *transaction) Commit() error {
	return convertErr(tx.boltTx.Commit())
}

func (tx *transaction) Rollback() error {
	return convertErr(tx.boltTx.Rollback())
}

// bucket implements the kvdb bucket interfaces over a bolt bucket.
type bucket bolt.Bucket

var _ kvdb.ReadWriteBucket = (*bucket)(nil)

func (b *bucket) NestedReadWriteBucket(key []byte) kvdb.ReadWriteBucket {
	boltBucket := (*bolt.Bucket)(b).Bucket(key)
	if boltBucket == nil {
		return nil
	}
	return (*bucket)(boltBucket)
}

func (b *bucket) NestedReadBucket(key []byte) kvdb.ReadBucket {
	if nb := b.NestedReadWriteBucket(key); nb != nil {
		return nb
	}
	return nil
}

func (b *bucket) CreateBucketIfNotExists(key []byte) (kvdb.ReadWriteBucket, error) {
	boltBucket, err := (*bolt.Bucket)(b).CreateBucketIfNotExists(key)
	if err != nil {
		return nil, convertErr(err)
	}
	return (*bucket)(boltBucket), nil
}

func (b *bucket) DeleteNestedBucket(key []byte) error {
	return convertErr((*bolt.Bucket)(b).DeleteBucket(key))
}

// ForEach skips nested buckets, which bolt reports with a nil value.
func (b *bucket) ForEach(fn func(k, v []byte) error) error {
	return (*bolt.Bucket)(b).ForEach(func(k, v []byte) error {
		if v == nil {
			return nil
		}
		return fn(k, v)
	})
}

func (b *bucket) Put(key, value []byte) error {
	return convertErr((*bolt.Bucket)(b).Put(key, value))
}

func (b *bucket) Get(key []byte) []byte {
	return (*bolt.Bucket)(b).Get(key)
}

func (b *bucket) Delete(key []byte) error {
	return convertErr((*bolt.Bucket)(b).Delete(key))
}

type db bolt.DB

var _ kvdb.DB = (*db)(nil)

func (db *db) beginTx(writable bool) (*transaction, error) {
	boltTx, err := (*bolt.DB)(db).Begin(writable)
	if err != nil {
		return nil, convertErr(err)
	}
	return &transaction{boltTx: boltTx}, nil
}

func (db *db) BeginReadTx() (kvdb.ReadTx, error) {
	return db.beginTx(false)
}

func (db *db) BeginReadWriteTx() (kvdb.ReadWriteTx, error) {
	return db.beginTx(true)
}

func (db *db) Close() error {
	return convertErr((*bolt.DB)(db).Close())
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	_, err := os.Stat(name)
	return !os.IsNotExist(err)
}

// openDB opens the database at the provided path.  A lock held by another
// process fails after a short timeout instead of blocking forever.
func openDB(dbPath string, create bool) (kvdb.DB, error) {
	if !create && !fileExists(dbPath) {
		return nil, errors.E(errors.NotExist, "missing database file")
	}

	boltDB, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, convertErr(err)
	}
	return (*db)(boltDB), nil
}
