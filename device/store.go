// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package device

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/kvdb"
	"github.com/multiwallet/keysafe/kdf"
	"github.com/multiwallet/keysafe/walletcrypt"
)

var (
	devicesBucketKey  = []byte("devices")
	accountsBucketKey = []byte("accounts")
	metaBucketKey     = []byte("meta")

	kdfParamsKey       = []byte("kdfparams")
	validationKey      = []byte("validation")
	nextDeviceIndexKey = []byte("nextdeviceindex")
)

// Store persists devices, accounts and installation-wide key metadata.
// Devices are keyed by root address, which orders them by the byte (and
// lower-case hex) order of the address.
//
// Every method runs in its own database transaction and none hold a lock
// across calls, so a Store may be shared by concurrent callers.
type Store struct {
	db  kvdb.DB
	now func() time.Time
}

// Open prepares the buckets used by the store in db.
func Open(ctx context.Context, db kvdb.DB) (*Store, error) {
	const op errors.Op = "device.Open"
	err := kvdb.Update(ctx, db, func(tx kvdb.ReadWriteTx) error {
		for _, k := range [][]byte{devicesBucketKey, accountsBucketKey, metaBucketKey} {
			if _, err := tx.CreateTopLevelBucket(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func errNoDevice(op errors.Op, root common.Address) error {
	return errors.E(op, errors.NotExist, errors.Errorf("no device %s", root.Hex()))
}

func putAccount(tx kvdb.ReadWriteTx, a *Account) error {
	if len(a.Alias) > maxAliasLen {
		return errors.E(errors.Invalid, "alias too long")
	}
	ab, err := tx.ReadWriteBucket(accountsBucketKey).CreateBucketIfNotExists(a.RootAddress[:])
	if err != nil {
		return err
	}
	return ab.Put(accountKey(a.Index), serializeAccount(a))
}

func putDevice(tx kvdb.ReadWriteTx, d *Device) error {
	row, err := serializeDevice(d)
	if err != nil {
		return err
	}
	return tx.ReadWriteBucket(devicesBucketKey).Put(d.RootAddress[:], row)
}

func fetchDevice(tx kvdb.ReadTx, root common.Address) (*Device, error) {
	row := tx.ReadBucket(devicesBucketKey).Get(root[:])
	if row == nil {
		return nil, nil
	}
	return deserializeDevice(root[:], row)
}

// AddDevice records a new device together with its initial accounts.  Errors
// with code Exist if a device with the same root address is registered.
func (s *Store) AddDevice(ctx context.Context, d *Device, accounts ...*Account) error {
	return s.addDevice(ctx, "device.AddDevice", d, nil, accounts)
}

// AddFirstSecret stores d and its accounts together with the validation
// ciphertext of the installation password in a single transaction.  It errors
// with code Exist if a validation ciphertext is already stored.
func (s *Store) AddFirstSecret(ctx context.Context, d *Device, validation walletcrypt.Ciphertext,
	accounts ...*Account) error {

	const op errors.Op = "device.AddFirstSecret"
	if len(validation) == 0 {
		return errors.E(op, errors.Invalid, "empty validation ciphertext")
	}
	return s.addDevice(ctx, op, d, validation, accounts)
}

func (s *Store) addDevice(ctx context.Context, op errors.Op, d *Device, validation walletcrypt.Ciphertext,
	accounts []*Account) error {

	if err := d.Validate(); err != nil {
		return errors.E(op, err)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().Truncate(time.Second)
	}
	err := kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		if tx.ReadWriteBucket(devicesBucketKey).Get(d.RootAddress[:]) != nil {
			return errors.E(errors.Exist, errors.Errorf("device %s already exists", d.RootAddress.Hex()))
		}
		if err := putDevice(tx, d); err != nil {
			return err
		}
		for _, a := range accounts {
			if a.RootAddress != d.RootAddress {
				return errors.E(errors.Invalid, "account belongs to another device")
			}
			if err := putAccount(tx, a); err != nil {
				return err
			}
		}
		if validation == nil {
			return nil
		}
		meta := tx.ReadWriteBucket(metaBucketKey)
		if meta.Get(validationKey) != nil {
			return errors.E(errors.Exist, "installation password already set")
		}
		return meta.Put(validationKey, validation)
	})
	if err != nil {
		return errors.E(op, err)
	}
	log.Debugf("Added %v device %v", d.Type(), d.RootAddress.Hex())
	return nil
}

// PutDevice writes d, replacing any existing record for its root address.
func (s *Store) PutDevice(ctx context.Context, d *Device) error {
	const op errors.Op = "device.PutDevice"
	if err := d.Validate(); err != nil {
		return errors.E(op, err)
	}
	err := kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		return putDevice(tx, d)
	})
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Device returns the device with the root address.
func (s *Store) Device(ctx context.Context, root common.Address) (*Device, error) {
	const op errors.Op = "device.Device"
	var d *Device
	err := kvdb.View(ctx, s.db, func(tx kvdb.ReadTx) error {
		var err error
		d, err = fetchDevice(tx, root)
		return err
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	if d == nil {
		return nil, errNoDevice(op, root)
	}
	return d, nil
}

// ListDevices returns every device ordered by ascending root address.  The
// order is stable for a given set of devices.
func (s *Store) ListDevices(ctx context.Context) ([]*Device, error) {
	const op errors.Op = "device.ListDevices"
	var devices []*Device
	err := kvdb.View(ctx, s.db, func(tx kvdb.ReadTx) error {
		return tx.ReadBucket(devicesBucketKey).ForEach(func(k, v []byte) error {
			d, err := deserializeDevice(k, v)
			if err != nil {
				return err
			}
			devices = append(devices, d)
			return nil
		})
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return devices, nil
}

// DeleteDevice removes a device and every account derived from it.
func (s *Store) DeleteDevice(ctx context.Context, root common.Address) error {
	const op errors.Op = "device.DeleteDevice"
	err := kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		devices := tx.ReadWriteBucket(devicesBucketKey)
		if devices.Get(root[:]) == nil {
			return errNoDevice(op, root)
		}
		if err := devices.Delete(root[:]); err != nil {
			return err
		}
		err := tx.ReadWriteBucket(accountsBucketKey).DeleteNestedBucket(root[:])
		if err != nil && !errors.Is(errors.NotExist, err) {
			return err
		}
		return nil
	})
	if err != nil {
		return errors.E(op, err)
	}
	log.Debugf("Deleted device %v", root.Hex())
	return nil
}

// updateDevice applies f to a stored device and writes it back.
func (s *Store) updateDevice(ctx context.Context, op errors.Op, root common.Address, f func(d *Device) error) error {
	err := kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		d, err := fetchDevice(tx, root)
		if err != nil {
			return err
		}
		if d == nil {
			return errNoDevice(op, root)
		}
		if err := f(d); err != nil {
			return err
		}
		if err := d.Validate(); err != nil {
			return err
		}
		return putDevice(tx, d)
	})
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// RenameDevice changes the alias of a device.
func (s *Store) RenameDevice(ctx context.Context, root common.Address, alias string) error {
	return s.updateDevice(ctx, "device.RenameDevice", root, func(d *Device) error {
		d.Alias = alias
		return nil
	})
}

// SetBackedUp marks a device as backed up at time at.
func (s *Store) SetBackedUp(ctx context.Context, root common.Address, at time.Time) error {
	return s.updateDevice(ctx, "device.SetBackedUp", root, func(d *Device) error {
		d.BackedUp = true
		d.BackedUpAt = at.Truncate(time.Second)
		return nil
	})
}

// NextDeviceIndex reserves and returns a new device index.  Indexes are never
// reused, even after a device is deleted, so a stale credential entry can
// never unlock a later device.
func (s *Store) NextDeviceIndex(ctx context.Context) (uint32, error) {
	const op errors.Op = "device.NextDeviceIndex"
	var idx uint32
	err := kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		meta := tx.ReadWriteBucket(metaBucketKey)
		if v := meta.Get(nextDeviceIndexKey); len(v) == 4 {
			idx = binary.LittleEndian.Uint32(v)
		}
		var next [4]byte
		binary.LittleEndian.PutUint32(next[:], idx+1)
		return meta.Put(nextDeviceIndexKey, next[:])
	})
	if err != nil {
		return 0, errors.E(op, err)
	}
	return idx, nil
}

// PutAccount writes an account of an existing device.
func (s *Store) PutAccount(ctx context.Context, a *Account) error {
	const op errors.Op = "device.PutAccount"
	err := kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		if tx.ReadWriteBucket(devicesBucketKey).Get(a.RootAddress[:]) == nil {
			return errNoDevice(op, a.RootAddress)
		}
		return putAccount(tx, a)
	})
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

func fetchAccounts(tx kvdb.ReadTx, root common.Address) ([]*Account, error) {
	ab := tx.ReadBucket(accountsBucketKey).NestedReadBucket(root[:])
	if ab == nil {
		return nil, nil
	}
	var accounts []*Account
	err := ab.ForEach(func(k, v []byte) error {
		a, err := deserializeAccount(root, k, v)
		if err != nil {
			return err
		}
		accounts = append(accounts, a)
		return nil
	})
	return accounts, err
}

// Accounts returns the accounts of a device in index order.
func (s *Store) Accounts(ctx context.Context, root common.Address) ([]*Account, error) {
	const op errors.Op = "device.Accounts"
	var accounts []*Account
	err := kvdb.View(ctx, s.db, func(tx kvdb.ReadTx) error {
		var err error
		accounts, err = fetchAccounts(tx, root)
		return err
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return accounts, nil
}

// ListAccounts returns the accounts of every device, grouped by device in
// root address order and by index within a device.
func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	const op errors.Op = "device.ListAccounts"
	var accounts []*Account
	err := kvdb.View(ctx, s.db, func(tx kvdb.ReadTx) error {
		var roots []common.Address
		err := tx.ReadBucket(devicesBucketKey).ForEach(func(k, _ []byte) error {
			roots = append(roots, common.BytesToAddress(k))
			return nil
		})
		if err != nil {
			return err
		}
		for _, root := range roots {
			as, err := fetchAccounts(tx, root)
			if err != nil {
				return err
			}
			accounts = append(accounts, as...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return accounts, nil
}

func (s *Store) updateAccount(ctx context.Context, op errors.Op, root common.Address, index uint32, f func(a *Account)) error {
	err := kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		ab := tx.ReadWriteBucket(accountsBucketKey).NestedReadWriteBucket(root[:])
		var row []byte
		if ab != nil {
			row = ab.Get(accountKey(index))
		}
		if row == nil {
			return errors.E(errors.NotExist, errors.Errorf("no account %d for device %s", index, root.Hex()))
		}
		a, err := deserializeAccount(root, accountKey(index), row)
		if err != nil {
			return err
		}
		f(a)
		return putAccount(tx, a)
	})
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// RenameAccount changes the alias of an account.
func (s *Store) RenameAccount(ctx context.Context, root common.Address, index uint32, alias string) error {
	return s.updateAccount(ctx, "device.RenameAccount", root, index, func(a *Account) {
		a.Alias = alias
	})
}

// SetAccountVisible shows or hides an account.
func (s *Store) SetAccountVisible(ctx context.Context, root common.Address, index uint32, visible bool) error {
	return s.updateAccount(ctx, "device.SetAccountVisible", root, index, func(a *Account) {
		a.Visible = visible
	})
}

// KDFParams returns the installation password hashing parameters.  Errors with
// code NotExist before PutKDFParams has been called.
func (s *Store) KDFParams(ctx context.Context) (*kdf.Argon2idParams, error) {
	const op errors.Op = "device.KDFParams"
	p := new(kdf.Argon2idParams)
	err := kvdb.View(ctx, s.db, func(tx kvdb.ReadTx) error {
		v := tx.ReadBucket(metaBucketKey).Get(kdfParamsKey)
		if v == nil {
			return errors.E(errors.NotExist, "no kdf parameters")
		}
		return p.UnmarshalBinary(v)
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return p, nil
}

// PutKDFParams records the installation password hashing parameters.  They
// can only be written once; every stored key depends on them.
func (s *Store) PutKDFParams(ctx context.Context, p *kdf.Argon2idParams) error {
	const op errors.Op = "device.PutKDFParams"
	b, err := p.MarshalBinary()
	if err != nil {
		return errors.E(op, errors.Encoding, err)
	}
	err = kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		meta := tx.ReadWriteBucket(metaBucketKey)
		if meta.Get(kdfParamsKey) != nil {
			return errors.E(errors.Exist, "kdf parameters already set")
		}
		return meta.Put(kdfParamsKey, b)
	})
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// ValidationCiphertext returns the password validation blob.  Errors with
// code NotExist if no password has been set.
func (s *Store) ValidationCiphertext(ctx context.Context) (walletcrypt.Ciphertext, error) {
	const op errors.Op = "device.ValidationCiphertext"
	var c walletcrypt.Ciphertext
	err := kvdb.View(ctx, s.db, func(tx kvdb.ReadTx) error {
		v := tx.ReadBucket(metaBucketKey).Get(validationKey)
		if v == nil {
			return errors.E(errors.NotExist, "no validation ciphertext")
		}
		c = append(walletcrypt.Ciphertext(nil), v...)
		return nil
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return c, nil
}

// ReplaceSecrets atomically swaps the encrypted wallets of local-mnemonic
// devices and the validation blob.  It is used when the password changes so
// that no device is left sealed under the old key.
func (s *Store) ReplaceSecrets(ctx context.Context, wallets map[common.Address]walletcrypt.Ciphertext,
	validation walletcrypt.Ciphertext) error {

	const op errors.Op = "device.ReplaceSecrets"
	err := kvdb.Update(ctx, s.db, func(tx kvdb.ReadWriteTx) error {
		for root, blob := range wallets {
			d, err := fetchDevice(tx, root)
			if err != nil {
				return err
			}
			if d == nil {
				return errNoDevice(op, root)
			}
			lm, ok := d.Source.(*LocalMnemonic)
			if !ok {
				return errors.E(errors.Invalid, errors.Errorf("device %s has no encrypted wallet", root.Hex()))
			}
			lm.EncryptedWallet = blob
			if err := d.Validate(); err != nil {
				return err
			}
			if err := putDevice(tx, d); err != nil {
				return err
			}
		}
		return tx.ReadWriteBucket(metaBucketKey).Put(validationKey, validation)
	})
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}
