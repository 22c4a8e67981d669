// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package loader creates and opens the keysafe databases and implements the
// wallet lifecycle on top of the device registry, the credential store and
// the password validator.
package loader

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/multiwallet/keysafe/credstore"
	"github.com/multiwallet/keysafe/device"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/hdkeys"
	"github.com/multiwallet/keysafe/internal/kvdb"
	_ "github.com/multiwallet/keysafe/internal/kvdb/badgerdb" // driver loaded during init
	_ "github.com/multiwallet/keysafe/internal/kvdb/bdb"      // driver loaded during init
	"github.com/multiwallet/keysafe/internal/zero"
	"github.com/multiwallet/keysafe/kdf"
	"github.com/multiwallet/keysafe/unlock"
	"github.com/multiwallet/keysafe/validate"
	"github.com/multiwallet/keysafe/walletcrypt"
	"github.com/multiwallet/keysafe/walletseed"
	"golang.org/x/sync/errgroup"
)

const (
	registryDbName    = "keysafe.db"
	credentialsDbName = "credentials.db"

	// DefaultDriver is the database driver used when none is configured.
	DefaultDriver = "bdb"
)

// Config describes where and how the loader keeps its databases.
type Config struct {
	DataDir string

	// Driver names a registered kvdb driver.  Empty selects DefaultDriver.
	Driver string

	// KDF is written as the installation password hashing parameters when
	// the registry is first created.  Nil selects kdf.NewArgon2idParams.
	// Parameters of an existing installation are never replaced.
	KDF *kdf.Argon2idParams

	// Biometric gates biometric-protected credential keys.  Nil means
	// biometric keys are never released.
	Biometric credstore.BiometricPrompter

	// Strict is passed to every unlock coordinator.
	Strict bool
}

// Loader implements the creating of new and opening of existing keysafe
// databases, and the operations which change wallets and their secrets.
//
// Loader is safe for concurrent access.  Operations which change secrets are
// serialized.
type Loader struct {
	cfg Config

	mu        sync.Mutex
	db        kvdb.DB
	credDB    kvdb.DB
	devices   *device.Store
	creds     credstore.Store
	hasher    *kdf.PasswordHasher
	validator *validate.PasswordValidator
}

// NewLoader constructs a Loader.
func NewLoader(cfg *Config) *Loader {
	l := &Loader{cfg: *cfg}
	if l.cfg.Driver == "" {
		l.cfg.Driver = DefaultDriver
	}
	return l
}

// Exists returns whether a registry exists in the data directory.  This may
// return an error for unexpected I/O failures.
func (l *Loader) Exists() (bool, error) {
	return fileExists(filepath.Join(l.cfg.DataDir, registryDbName))
}

// Open opens the registry and credential databases, creating them and the
// data directory if necessary, and loads the installation password hashing
// parameters.
func (l *Loader) Open(ctx context.Context) (rerr error) {
	const op errors.Op = "loader.Open"
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db != nil {
		return errors.E(op, ErrLoaded)
	}

	// Ensure that the data directory exists.
	if fi, err := os.Stat(l.cfg.DataDir); err != nil {
		if !os.IsNotExist(err) {
			return errors.E(op, errors.IO, err)
		}
		if err := os.MkdirAll(l.cfg.DataDir, 0700); err != nil {
			return errors.E(op, errors.IO, err)
		}
	} else if !fi.IsDir() {
		return errors.E(op, errors.Invalid, errors.Errorf("path %q is not a directory", l.cfg.DataDir))
	}

	db, err := openOrCreate(l.cfg.Driver, filepath.Join(l.cfg.DataDir, registryDbName))
	if err != nil {
		return errors.E(op, err)
	}
	// If this function does not return to completion the databases must be
	// closed.  Otherwise, because the databases are locked on opens, any
	// other attempts to open them will hang.
	defer func() {
		if rerr != nil {
			db.Close()
		}
	}()
	credDB, err := openOrCreate(l.cfg.Driver, filepath.Join(l.cfg.DataDir, credentialsDbName))
	if err != nil {
		return errors.E(op, err)
	}
	defer func() {
		if rerr != nil {
			credDB.Close()
		}
	}()

	devices, err := device.Open(ctx, db)
	if err != nil {
		return errors.E(op, err)
	}
	creds, err := credstore.OpenDB(ctx, credDB, l.cfg.Biometric)
	if err != nil {
		return errors.E(op, err)
	}

	params, err := devices.KDFParams(ctx)
	if errors.Is(errors.NotExist, err) {
		params = l.cfg.KDF
		if params == nil {
			params, err = kdf.NewArgon2idParams(rand.Reader)
			if err != nil {
				return errors.E(op, err)
			}
		}
		if err = params.Validate(); err != nil {
			return errors.E(op, err)
		}
		err = devices.PutKDFParams(ctx, params)
		log.Infof("Created password hashing parameters (time %d, memory %d KiB, threads %d)",
			params.Time, params.Memory, params.Threads)
	}
	if err != nil {
		return errors.E(op, err)
	}
	hasher, err := kdf.NewPasswordHasher(params)
	if err != nil {
		return errors.E(op, err)
	}

	l.db = db
	l.credDB = credDB
	l.devices = devices
	l.creds = creds
	l.hasher = hasher
	l.validator = validate.NewPasswordValidator(devices, hasher)
	log.Debugf("Opened %s databases in %s", l.cfg.Driver, l.cfg.DataDir)
	return nil
}

func openOrCreate(driver, path string) (kvdb.DB, error) {
	exists, err := fileExists(path)
	if err != nil {
		return nil, errors.E(errors.IO, err)
	}
	if exists {
		return kvdb.Open(driver, path)
	}
	return kvdb.Create(driver, path)
}

// Close closes both databases.  The Loader may be reopened if this returns
// without error.
func (l *Loader) Close() error {
	const op errors.Op = "loader.Close"
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db == nil {
		return errors.E(op, ErrNotLoaded)
	}
	err := l.db.Close()
	if cerr := l.credDB.Close(); err == nil {
		err = cerr
	}
	l.db, l.credDB = nil, nil
	l.devices, l.creds = nil, nil
	l.hasher, l.validator = nil, nil
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// loaded returns the open stores, or ErrNotLoaded.  Requires mutex to be
// locked.
func (l *Loader) loaded(op errors.Op) error {
	if l.db == nil {
		return errors.E(op, ErrNotLoaded)
	}
	return nil
}

// Devices returns the device registry.
func (l *Loader) Devices() (*device.Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded("loader.Devices"); err != nil {
		return nil, err
	}
	return l.devices, nil
}

// Validator returns the installation password validator.
func (l *Loader) Validator() (*validate.PasswordValidator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded("loader.Validator"); err != nil {
		return nil, err
	}
	return l.validator, nil
}

// Coordinator returns a new unlock coordinator using the loader's credential
// store and password hasher.
func (l *Loader) Coordinator(mode unlock.SecurityMode, prompter unlock.Prompter) (*unlock.Coordinator, error) {
	const op errors.Op = "loader.Coordinator"
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded(op); err != nil {
		return nil, err
	}
	c, err := unlock.NewCoordinator(&unlock.Config{
		Mode:        mode,
		Credentials: l.creds,
		Hasher:      l.hasher,
		Prompter:    prompter,
		Strict:      l.cfg.Strict,
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return c, nil
}

// CreateWallet generates a mnemonic of wordCount words (zero selects the
// default) and adds it as a new local-mnemonic device.  The words are
// returned for the user to back up and must not be stored.
func (l *Loader) CreateWallet(ctx context.Context, wordCount int, alias string, password []byte,
	biometric bool) (*device.Device, []string, error) {

	const op errors.Op = "loader.CreateWallet"
	words, err := walletseed.GenerateMnemonic(wordCount)
	if err != nil {
		return nil, nil, errors.E(op, err)
	}
	d, err := l.addLocal(ctx, op, words, alias, password, biometric, false)
	if err != nil {
		return nil, nil, err
	}
	return d, words, nil
}

// ImportWallet adds an existing mnemonic as a new local-mnemonic device.  An
// imported mnemonic is already backed up.
func (l *Loader) ImportWallet(ctx context.Context, words []string, alias string, password []byte,
	biometric bool) (*device.Device, error) {

	const op errors.Op = "loader.ImportWallet"
	return l.addLocal(ctx, op, words, alias, password, biometric, true)
}

func (l *Loader) addLocal(ctx context.Context, op errors.Op, words []string, alias string,
	password []byte, biometric, backedUp bool) (*device.Device, error) {

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded(op); err != nil {
		return nil, err
	}

	// The first password sets the installation password.  Later wallets
	// must be sealed with the same one.
	_, err := l.devices.ValidationCiphertext(ctx)
	firstPassword := errors.Is(errors.NotExist, err)
	switch {
	case firstPassword:
	case err != nil:
		return nil, errors.E(op, err)
	case !l.validator.Validate(ctx, password):
		return nil, errors.E(op, ErrWrongPassword)
	}

	seed, err := walletseed.Seed(words, "")
	if err != nil {
		return nil, errors.E(op, err)
	}
	node, err := hdkeys.AccountFromSeed(seed)
	zero.Bytes(seed)
	if err != nil {
		return nil, errors.E(op, err)
	}
	xpub, err := hdkeys.DeriveXpub(node)
	node.Zero()
	if err != nil {
		return nil, errors.E(op, err)
	}
	root, err := hdkeys.AddressAtIndex(xpub, 0)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if _, err := l.devices.Device(ctx, root); err == nil {
		return nil, errors.E(op, errors.Exist, errors.Errorf("wallet %s already exists", root.Hex()))
	} else if !errors.Is(errors.NotExist, err) {
		return nil, errors.E(op, err)
	}

	key := l.hasher.Hash(password)
	defer zero.Bytes(key)
	blob, err := walletcrypt.EncryptMnemonic(words, key)
	if err != nil {
		return nil, errors.E(op, err)
	}

	var validation walletcrypt.Ciphertext
	if firstPassword {
		validation, err = validate.NewValidationCiphertext(key)
		if err != nil {
			return nil, errors.E(op, err)
		}
	}

	d := &device.Device{
		RootAddress: root,
		Alias:       alias,
		Source:      &device.LocalMnemonic{Xpub: xpub, EncryptedWallet: blob},
	}
	if backedUp {
		d.BackedUp = true
		d.BackedUpAt = nowUTC().Truncate(time.Second)
	}

	// The credential key is stored under a fresh index first.  The device
	// and, for the first wallet, the validation blob are committed last in
	// one transaction, so a failure leaves no device sealed under a
	// password the registry does not know.
	d.Index, err = l.devices.NextDeviceIndex(ctx)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if err := l.creds.SetEncryptionKey(ctx, key, d.Index, biometric); err != nil {
		return nil, errors.E(op, err)
	}
	if err := l.storeDevice(ctx, d, validation); err != nil {
		if derr := l.creds.DeleteEncryptionKey(context.WithoutCancel(ctx), d.Index); derr != nil {
			log.Errorf("Failed to remove encryption key of device %d: %v", d.Index, derr)
		}
		return nil, errors.E(op, err)
	}
	if firstPassword {
		log.Infof("Installation password set")
	}
	log.Infof("Added wallet %d (%s)", d.Index, d.RootAddress.Hex())
	return d, nil
}

// addDevice assigns the next device index and stores d with its first
// account.  Requires mutex to be locked.
func (l *Loader) addDevice(ctx context.Context, d *device.Device) error {
	idx, err := l.devices.NextDeviceIndex(ctx)
	if err != nil {
		return err
	}
	d.Index = idx
	return l.storeDevice(ctx, d, nil)
}

// storeDevice stores d with its first account, and with the validation blob
// when it is not nil.  Requires mutex to be locked.
func (l *Loader) storeDevice(ctx context.Context, d *device.Device, validation walletcrypt.Ciphertext) error {
	acct := &device.Account{
		RootAddress: d.RootAddress,
		Address:     d.RootAddress,
		Index:       0,
		Alias:       d.Alias,
		Visible:     true,
	}
	if validation != nil {
		return l.devices.AddFirstSecret(ctx, d, validation, acct)
	}
	return l.devices.AddDevice(ctx, d, acct)
}

// ImportWatchOnly adds a device tracking address without key material.
func (l *Loader) ImportWatchOnly(ctx context.Context, address common.Address, alias string) (*device.Device, error) {
	const op errors.Op = "loader.ImportWatchOnly"
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded(op); err != nil {
		return nil, err
	}
	d := &device.Device{
		RootAddress: address,
		Alias:       alias,
		Source:      &device.WatchOnly{},
	}
	if err := l.addDevice(ctx, d); err != nil {
		return nil, errors.E(op, err)
	}
	log.Infof("Added watch-only wallet %d (%s)", d.Index, address.Hex())
	return d, nil
}

// ImportLedger adds a hardware wallet device from its account xpub.
func (l *Loader) ImportLedger(ctx context.Context, xpub, alias string) (*device.Device, error) {
	const op errors.Op = "loader.ImportLedger"
	x, err := hdkeys.ParseXpub(xpub)
	if err != nil {
		return nil, errors.E(op, err)
	}
	root, err := hdkeys.AddressAtIndex(x, 0)
	if err != nil {
		return nil, errors.E(op, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded(op); err != nil {
		return nil, err
	}
	d := &device.Device{
		RootAddress: root,
		Alias:       alias,
		Source:      &device.Ledger{Xpub: x},
	}
	if err := l.addDevice(ctx, d); err != nil {
		return nil, errors.E(op, err)
	}
	log.Infof("Added ledger wallet %d (%s)", d.Index, root.Hex())
	return d, nil
}

// AddAccount derives the next account of a wallet from its xpub.  Devices
// without an xpub error with code WatchingOnly.
func (l *Loader) AddAccount(ctx context.Context, root common.Address, alias string) (*device.Account, error) {
	const op errors.Op = "loader.AddAccount"
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded(op); err != nil {
		return nil, err
	}
	d, err := l.devices.Device(ctx, root)
	if err != nil {
		return nil, errors.E(op, err)
	}
	xpub := d.Xpub()
	if xpub == nil {
		return nil, errors.E(op, errors.WatchingOnly,
			errors.Errorf("%s wallet %s cannot derive accounts", d.Type(), root.Hex()))
	}
	accounts, err := l.devices.Accounts(ctx, root)
	if err != nil {
		return nil, errors.E(op, err)
	}
	var next uint32
	for _, a := range accounts {
		if a.Index >= next {
			next = a.Index + 1
		}
	}
	addr, err := hdkeys.AddressAtIndex(xpub, next)
	if err != nil {
		return nil, errors.E(op, err)
	}
	a := &device.Account{
		RootAddress: root,
		Address:     addr,
		Index:       next,
		Alias:       alias,
		Visible:     true,
	}
	if err := l.devices.PutAccount(ctx, a); err != nil {
		return nil, errors.E(op, err)
	}
	return a, nil
}

// DeleteWallet removes a device, its accounts and its credential key.
func (l *Loader) DeleteWallet(ctx context.Context, root common.Address) error {
	const op errors.Op = "loader.DeleteWallet"
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded(op); err != nil {
		return err
	}
	d, err := l.devices.Device(ctx, root)
	if err != nil {
		return errors.E(op, err)
	}
	if err := l.devices.DeleteDevice(ctx, root); err != nil {
		return errors.E(op, err)
	}
	err = l.creds.DeleteEncryptionKey(ctx, d.Index)
	if err != nil && !errors.Is(errors.NotExist, err) {
		return errors.E(op, err)
	}
	log.Infof("Deleted wallet %d (%s)", d.Index, root.Hex())
	return nil
}

// RenameWallet changes the alias of a device.
func (l *Loader) RenameWallet(ctx context.Context, root common.Address, alias string) error {
	const op errors.Op = "loader.RenameWallet"
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded(op); err != nil {
		return err
	}
	if err := l.devices.RenameDevice(ctx, root, alias); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// MarkBackedUp records that the mnemonic of a device has been backed up.
func (l *Loader) MarkBackedUp(ctx context.Context, root common.Address) error {
	const op errors.Op = "loader.MarkBackedUp"
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded(op); err != nil {
		return err
	}
	d, err := l.devices.Device(ctx, root)
	if err != nil {
		return errors.E(op, err)
	}
	if d.Type() != device.TypeLocalMnemonic {
		return errors.E(op, errors.Invalid, errors.Errorf("%s wallet has no mnemonic", d.Type()))
	}
	if err := l.devices.SetBackedUp(ctx, root, nowUTC()); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// ChangePassword reseals every local wallet and the validation blob under
// newPassword and replaces the credential keys, which are protected by the
// biometric gate when biometric is set.  The registry is updated in a single
// transaction.  If ChangePassword fails, some devices may be left without a
// credential key and unlock only with the password that matches the registry.
func (l *Loader) ChangePassword(ctx context.Context, oldPassword, newPassword []byte, biometric bool) error {
	const op errors.Op = "loader.ChangePassword"
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loaded(op); err != nil {
		return err
	}
	if !l.validator.Validate(ctx, oldPassword) {
		return errors.E(op, ErrWrongPassword)
	}

	devices, err := l.devices.ListDevices(ctx)
	if err != nil {
		return errors.E(op, err)
	}
	oldKey := l.hasher.Hash(oldPassword)
	defer zero.Bytes(oldKey)
	newKey := l.hasher.Hash(newPassword)
	defer zero.Bytes(newKey)

	var local []*device.Device
	for _, d := range devices {
		if _, ok := d.Source.(*device.LocalMnemonic); ok {
			local = append(local, d)
		}
	}
	resealed := make([]walletcrypt.Ciphertext, len(local))
	var g errgroup.Group
	g.SetLimit(4)
	for i, d := range local {
		g.Go(func() error {
			blob, err := reseal(d.Source.(*device.LocalMnemonic).EncryptedWallet, oldKey, newKey)
			if err != nil {
				return errors.E(errors.Errorf("wallet %d: %w", d.Index, err))
			}
			resealed[i] = blob
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.E(op, err)
	}
	blobs := make(map[common.Address]walletcrypt.Ciphertext, len(local))
	for i, d := range local {
		blobs[d.RootAddress] = resealed[i]
	}
	v, err := validate.NewValidationCiphertext(newKey)
	if err != nil {
		return errors.E(op, err)
	}

	// Stale keys are removed before the blobs change.  A device left
	// without a key after a failure below reports NotAvailable, and unlock
	// falls back to the password instead of decrypting with the wrong key.
	for _, d := range local {
		err := l.creds.DeleteEncryptionKey(ctx, d.Index)
		if err != nil && !errors.Is(errors.NotExist, err) {
			return errors.E(op, err)
		}
	}
	if err := l.devices.ReplaceSecrets(ctx, blobs, v); err != nil {
		return errors.E(op, err)
	}
	for _, d := range local {
		if err := l.creds.SetEncryptionKey(ctx, newKey, d.Index, biometric); err != nil {
			return errors.E(op, err)
		}
	}
	log.Infof("Changed password of %d wallet(s)", len(local))
	return nil
}

func reseal(c walletcrypt.Ciphertext, oldKey, newKey []byte) (walletcrypt.Ciphertext, error) {
	raw, err := walletcrypt.DecryptMnemonic(c, oldKey)
	if err != nil {
		return nil, err
	}
	defer zero.Slices(raw)
	words := make([]string, len(raw))
	for i, w := range raw {
		words[i] = string(w)
	}
	return walletcrypt.EncryptMnemonic(words, newKey)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func fileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
