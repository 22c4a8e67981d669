// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package badgerdb implements the kvdb interface on top of badger.  It
// registers itself under the driver name "badgerdb".  The database path names
// a directory.
package badgerdb

import (
	"bytes"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/kvdb"
)

// DbType is the driver name.
const DbType = "badgerdb"

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

const (
	metaBucket byte = 'b'
)

// creates the prefix for a top level bucket.
func topLevelPrefix(key []byte) []byte {
	prefix := make([]byte, 0, len(key)+3)
	prefix = append(prefix, '{')
	prefix = append(prefix, key...)
	prefix = append(prefix, "}/"...)
	return prefix
}

// append key to the bucket prefix, always creating a new allocation to do so.
func allocPrefixedKey(prefix []byte, key []byte) []byte {
	return append(prefix[:len(prefix):len(prefix)], key...)
}

// creates a new bucket prefix from a parent bucket prefix and the child
// bucket name.  Nested keys never share the parent prefix, so iteration over
// a bucket does not see pairs of its children.
func nestedBucketPrefix(parentPrefix, child []byte) []byte {
	prefix := make([]byte, 0, len(parentPrefix)+1+len(child))
	prefix = append(prefix, parentPrefix[:len(parentPrefix)-2]...)
	prefix = append(prefix, ',')
	prefix = append(prefix, child...)
	prefix = append(prefix, "}/"...)
	return prefix
}

// convertErr wraps a driver-specific error with an error code.
func convertErr(err error) error {
	if err == nil {
		return nil
	}
	var kind errors.Kind
	switch {
	case errors.As(err, new(*errors.Error)):
		return err
	case err == badger.ErrKeyNotFound:
		kind = errors.NotExist
	case err == badger.ErrConflict:
		kind = errors.IO
	case err == badger.ErrDBClosed, err == badger.ErrDiscardedTxn, err == badger.ErrEmptyKey,
		err == badger.ErrInvalidKey, err == badger.ErrInvalidRequest, err == badger.ErrReadOnlyTxn,
		err == badger.ErrTxnTooBig, err == badger.ErrBannedKey:
		kind = errors.Invalid
	}
	return errors.E(kind, err)
}

type transaction struct {
	txn    *badger.Txn
	closed bool
}

func (tx *transaction) ReadBucket(key []byte) kvdb.ReadBucket {
	return tx.bucket(key)
}

func (tx *transaction) ReadWriteBucket(key []byte) kvdb.ReadWriteBucket {
	return tx.bucket(key)
}

// bucket returns a top level bucket.  Badger has no bucket objects; every
// top level bucket implicitly exists.
func (tx *transaction) bucket(key []byte) *bucket {
	return &bucket{
		prefix: topLevelPrefix(key),
		txn:    tx.txn,
	}
}

func (tx *transaction) CreateTopLevelBucket(key []byte) (kvdb.ReadWriteBucket, error) {
	if len(key) == 0 {
		return nil, convertErr(badger.ErrEmptyKey)
	}
	return tx.bucket(key), nil
}

func (tx *transaction) Commit() error {
	if tx.closed {
		return convertErr(badger.ErrDiscardedTxn)
	}
	err := tx.txn.Commit()
	tx.closed = true
	return convertErr(err)
}

func (tx *transaction) Rollback() error {
	tx.txn.Discard()
	if tx.closed {
		return convertErr(badger.ErrDiscardedTxn)
	}
	tx.closed = true
	return nil
}

// bucket emulates bbolt buckets with a "{key1,key2,...}/" prefix on all keys.
// An empty entry with metaBucket user metadata at the exact prefix marks the
// existence of a nested bucket.
type bucket struct {
	prefix []byte
	txn    *badger.Txn
}

var _ kvdb.ReadWriteBucket = (*bucket)(nil)

func (b *bucket) NestedReadWriteBucket(key []byte) kvdb.ReadWriteBucket {
	prefix := nestedBucketPrefix(b.prefix, key)
	item, err := b.txn.Get(prefix)
	if err != nil || item.UserMeta() != metaBucket {
		return nil
	}
	return &bucket{
		prefix: prefix,
		txn:    b.txn,
	}
}

func (b *bucket) NestedReadBucket(key []byte) kvdb.ReadBucket {
	if nb := b.NestedReadWriteBucket(key); nb != nil {
		return nb
	}
	return nil
}

func (b *bucket) CreateBucketIfNotExists(key []byte) (kvdb.ReadWriteBucket, error) {
	if len(key) == 0 {
		return nil, convertErr(badger.ErrEmptyKey)
	}
	prefix := nestedBucketPrefix(b.prefix, key)
	_, err := b.txn.Get(prefix)
	if errors.Is(errors.NotExist, convertErr(err)) {
		e := badger.NewEntry(prefix, nil).WithMeta(metaBucket)
		if err := b.txn.SetEntry(e); err != nil {
			return nil, convertErr(err)
		}
	} else if err != nil {
		return nil, convertErr(err)
	}
	return &bucket{
		prefix: prefix,
		txn:    b.txn,
	}, nil
}

func (b *bucket) DeleteNestedBucket(key []byte) error {
	if len(key) == 0 {
		return convertErr(badger.ErrEmptyKey)
	}
	prefix := nestedBucketPrefix(b.prefix, key)
	keys, err := b.keysWithPrefix(prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return errors.E(errors.NotExist, "nested bucket does not exist")
	}
	for _, k := range keys {
		if err := b.txn.Delete(k); err != nil {
			return convertErr(err)
		}
	}
	return nil
}

// keysWithPrefix collects copies of all keys beginning with prefix.  Keys are
// collected before deletion because badger iterators do not observe writes
// made after they are opened.
func (b *bucket) keysWithPrefix(prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := b.txn.NewIterator(opts)
	defer iter.Close()
	var keys [][]byte
	for iter.Rewind(); iter.ValidForPrefix(prefix); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	return keys, nil
}

func (b *bucket) ForEach(fn func(k, v []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = b.prefix
	iter := b.txn.NewIterator(opts)
	defer iter.Close()
	for iter.Rewind(); iter.ValidForPrefix(b.prefix); iter.Next() {
		item := iter.Item()
		k := item.Key()
		// Ignore metadata for the bucket itself.
		if item.UserMeta() == metaBucket && len(k) == len(b.prefix) {
			continue
		}
		k = bytes.TrimPrefix(k, b.prefix)
		err := item.Value(func(v []byte) error {
			return fn(k, v)
		})
		if err != nil {
			return convertErr(err)
		}
	}
	return nil
}

func (b *bucket) Put(key, value []byte) error {
	if len(key) == 0 {
		return convertErr(badger.ErrEmptyKey)
	}
	// Badger retains the slices until commit.
	v := append([]byte(nil), value...)
	return convertErr(b.txn.Set(allocPrefixedKey(b.prefix, key), v))
}

// Get returns nil for missing keys.  Read errors other than a missing key are
// also reported as nil; they surface again on commit.
func (b *bucket) Get(key []byte) []byte {
	item, err := b.txn.Get(allocPrefixedKey(b.prefix, key))
	if err != nil {
		return nil
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil
	}
	return v
}

func (b *bucket) Delete(key []byte) error {
	if len(key) == 0 {
		return convertErr(badger.ErrEmptyKey)
	}
	return convertErr(b.txn.Delete(allocPrefixedKey(b.prefix, key)))
}

type db struct {
	db *badger.DB
}

var _ kvdb.DB = (*db)(nil)

func (db *db) beginTx(writable bool) (*transaction, error) {
	if db.db.IsClosed() {
		return nil, convertErr(badger.ErrDBClosed)
	}
	return &transaction{txn: db.db.NewTransaction(writable)}, nil
}

func (db *db) BeginReadTx() (kvdb.ReadTx, error) {
	return db.beginTx(false)
}

func (db *db) BeginReadWriteTx() (kvdb.ReadWriteTx, error) {
	return db.beginTx(true)
}

func (db *db) Close() error {
	return convertErr(db.db.Close())
}

// dirExists returns whether the file with name exists and is a directory.
func dirExists(name string) bool {
	if stat, err := os.Stat(name); err == nil {
		return stat.IsDir()
	}
	return false
}

// openDB opens the database at the provided path.
func openDB(dbPath string, create bool) (kvdb.DB, error) {
	if !create && !dirExists(dbPath) {
		return nil, errors.E(errors.NotExist, "missing database directory")
	}

	opts := badger.DefaultOptions(dbPath)
	opts.ChecksumVerificationMode = options.OnTableAndBlockRead
	opts.VerifyValueChecksum = true
	opts.Logger = nil
	badgerDB, err := badger.Open(opts)
	if err != nil {
		return nil, convertErr(err)
	}
	return &db{badgerDB}, nil
}
