// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package kvdb defines the bucketed key/value transaction interface used to
// persist the device registry and credential keys, and a registry of storage
// drivers implementing it.
package kvdb

import (
	"context"
	"runtime/trace"
	"sort"
	"sync"

	"github.com/multiwallet/keysafe/errors"
)

// ReadTx represents a database transaction that can only be used for reads.
type ReadTx interface {
	// ReadBucket opens the root bucket for read only access.  If the bucket
	// described by the key does not exist, nil is returned.
	ReadBucket(key []byte) ReadBucket

	// Rollback closes the transaction, discarding changes (if any) if the
	// database was modified by a write transaction.
	Rollback() error
}

// ReadWriteTx represents a database transaction that can be used for both reads
// and writes.
type ReadWriteTx interface {
	ReadTx

	// ReadWriteBucket opens the root bucket for read/write access.  If the
	// bucket described by the key does not exist, nil is returned.
	ReadWriteBucket(key []byte) ReadWriteBucket

	// CreateTopLevelBucket creates the top level bucket for a key if it
	// does not exist.  The newly-created bucket is returned.
	CreateTopLevelBucket(key []byte) (ReadWriteBucket, error)

	// Commit commits all changes that have been on the transaction's root
	// buckets and all of their sub-buckets to persistent storage.
	Commit() error
}

// ReadBucket represents a bucket that is only allowed to perform read
// operations.
type ReadBucket interface {
	// NestedReadBucket retrieves a nested bucket with the given key.
	// Returns nil if the bucket does not exist.
	NestedReadBucket(key []byte) ReadBucket

	// ForEach invokes the passed function with every key/value pair in the
	// bucket in ascending key order.  Pairs of nested buckets are not
	// visited.
	//
	// NOTE: The values returned by this function are only valid during a
	// transaction.
	ForEach(func(k, v []byte) error) error

	// Get returns the value for the given key.  Returns nil if the key does
	// not exist in this bucket.
	//
	// NOTE: The value returned by this function is only valid during a
	// transaction.
	Get(key []byte) []byte
}

// ReadWriteBucket represents a bucket that is allowed to perform both read and
// write operations.
type ReadWriteBucket interface {
	ReadBucket

	// NestedReadWriteBucket retrieves a nested bucket with the given key.
	// Returns nil if the bucket does not exist.
	NestedReadWriteBucket(key []byte) ReadWriteBucket

	// CreateBucketIfNotExists creates and returns a new nested bucket with the
	// given key if it does not already exist.  Errors with code Invalid if the
	// key is empty.
	CreateBucketIfNotExists(key []byte) (ReadWriteBucket, error)

	// DeleteNestedBucket removes a nested bucket and every pair inside it.
	// Errors with code NotExist if the bucket does not exist.
	DeleteNestedBucket(key []byte) error

	// Put saves the specified key/value pair to the bucket.  Keys that do not
	// already exist are added and keys that already exist are overwritten.
	Put(key, value []byte) error

	// Delete removes the specified key from the bucket.  Deleting a key that
	// does not exist does not return an error.
	Delete(key []byte) error
}

// DB represents an ACID database.  All database access is performed through
// read or read+write transactions.
type DB interface {
	// BeginReadTx opens a database read transaction.
	BeginReadTx() (ReadTx, error)

	// BeginReadWriteTx opens a database read+write transaction.
	BeginReadWriteTx() (ReadWriteTx, error)

	// Close cleanly shuts down the database and syncs all data.
	Close() error
}

// View opens a database read transaction and executes the function f with the
// transaction passed as a parameter.  After f exits or panics, the transaction
// is rolled back.  If f errors, its error is returned, not a rollback error (if
// any occurred).
func View(ctx context.Context, db DB, f func(tx ReadTx) error) (err error) {
	defer trace.StartRegion(ctx, "db.View").End()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := db.BeginReadTx()
	if err != nil {
		return err
	}

	defer trace.StartRegion(ctx, "db.ReadTx").End()

	// Rollback the transaction after f returns or panics.  Do not recover from
	// any panic to keep the original stack trace intact.
	defer func() {
		rollbackErr := tx.Rollback()
		if err == nil {
			err = rollbackErr
		}
	}()

	return f(tx)
}

// Update opens a database read/write transaction and executes the function f
// with the transaction passed as a parameter.  After f exits, if f did not
// error, the transaction is committed.  Otherwise, if f did error or panic, the
// transaction is rolled back.  If a rollback fails, the original error returned
// by f is still returned.  If the commit fails, the commit error is returned.
func Update(ctx context.Context, db DB, f func(tx ReadWriteTx) error) (err error) {
	defer trace.StartRegion(ctx, "db.Update").End()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := db.BeginReadWriteTx()
	if err != nil {
		return err
	}

	defer trace.StartRegion(ctx, "db.ReadWriteTx").End()

	// Commit or rollback the transaction after f returns or panics.  Do not
	// recover from the panic to keep the original stack trace intact.
	panicked := true
	defer func() {
		if panicked || err != nil {
			tx.Rollback()
			return
		}

		err = tx.Commit()
	}()

	err = f(tx)
	panicked = false
	return err
}

// Driver defines a structure for backend drivers to use when they registered
// themselves as a backend which implements the DB interface.
type Driver struct {
	// DbType is the identifier used to uniquely identify a specific
	// database driver.  There can be only one driver with the same name.
	DbType string

	// Create creates (or opens, if it already exists) the database at path.
	Create func(path string) (DB, error)

	// Open opens an existing database at path.
	Open func(path string) (DB, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]*Driver)
)

// RegisterDriver adds a backend database driver to available interfaces.
// Errors with code Exist if the database type for the driver has already been
// registered.
func RegisterDriver(driver Driver) error {
	const op errors.Op = "kvdb.RegisterDriver"
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, exists := drivers[driver.DbType]; exists {
		return errors.E(op, errors.Exist, errors.Errorf("driver %q is already registered", driver.DbType))
	}

	drivers[driver.DbType] = &driver
	return nil
}

// SupportedDrivers returns the sorted names of registered database drivers.
func SupportedDrivers() []string {
	driversMu.RLock()
	supportedDBs := make([]string, 0, len(drivers))
	for _, drv := range drivers {
		supportedDBs = append(supportedDBs, drv.DbType)
	}
	driversMu.RUnlock()
	sort.Strings(supportedDBs)
	return supportedDBs
}

func driver(op errors.Op, dbType string) (*Driver, error) {
	driversMu.RLock()
	drv, exists := drivers[dbType]
	driversMu.RUnlock()
	if !exists {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("driver %q is not registered", dbType))
	}
	return drv, nil
}

// Create initializes and opens a database for the specified type at path.
func Create(dbType, path string) (DB, error) {
	const op errors.Op = "kvdb.Create"
	drv, err := driver(op, dbType)
	if err != nil {
		return nil, err
	}
	db, err := drv.Create(path)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return db, nil
}

// Open opens an existing database for the specified type at path.
func Open(dbType, path string) (DB, error) {
	const op errors.Op = "kvdb.Open"
	drv, err := driver(op, dbType)
	if err != nil {
		return nil, err
	}
	db, err := drv.Open(path)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return db, nil
}
