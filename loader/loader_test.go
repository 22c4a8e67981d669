// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package loader

import (
	"context"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/multiwallet/keysafe/credstore"
	"github.com/multiwallet/keysafe/device"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/hdkeys"
	"github.com/multiwallet/keysafe/internal/kvdb"
	"github.com/multiwallet/keysafe/kdf"
	"github.com/multiwallet/keysafe/unlock"
	"github.com/multiwallet/keysafe/walletseed"
	"github.com/stretchr/testify/require"
)

const testPhrase = "test test test test test test test test test test test junk"

var (
	testRoot  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testAcct1 = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type passwordPrompter string

func (p passwordPrompter) PromptPassword(context.Context) fn.Option[[]byte] {
	return fn.Some([]byte(p))
}

func (p passwordPrompter) PromptDeviceSelection(_ context.Context, ds []*device.Device) fn.Option[*device.Device] {
	return fn.Some(ds[0])
}

// flakyCreds fails every SetEncryptionKey after the first okSets calls.
type flakyCreds struct {
	credstore.Store
	okSets int
	sets   int
}

func (c *flakyCreds) SetEncryptionKey(ctx context.Context, key []byte, idx uint32, biometric bool) error {
	if c.sets >= c.okSets {
		return errors.E(errors.IO, "keystore unavailable")
	}
	c.sets++
	return c.Store.SetEncryptionKey(ctx, key, idx, biometric)
}

var allow = credstore.BiometricFunc(func(context.Context, string) error { return nil })

func testLoader(t *testing.T, driver string) *Loader {
	t.Helper()
	p, err := kdf.NewInsecureParams(rand.Reader)
	require.NoError(t, err)
	l := NewLoader(&Config{
		DataDir:   t.TempDir(),
		Driver:    driver,
		KDF:       p,
		Biometric: allow,
	})
	require.NoError(t, l.Open(context.Background()))
	t.Cleanup(func() { l.Close() })
	return l
}

func unlockWith(t *testing.T, l *Loader, mode unlock.SecurityMode, password string,
	devices ...*device.Device) ([]string, error) {

	t.Helper()
	c, err := l.Coordinator(mode, passwordPrompter(password))
	require.NoError(t, err)
	var words []string
	_, err = c.Unlock(context.Background(), devices, func(w *unlock.DecryptedWallet, _ *device.Device) {
		words = w.Mnemonic()
		w.Zero()
	})
	return words, err
}

func TestOpenReopen(t *testing.T) {
	ctx := context.Background()
	for _, driver := range kvdb.SupportedDrivers() {
		t.Run(driver, func(t *testing.T) {
			p, err := kdf.NewInsecureParams(rand.Reader)
			require.NoError(t, err)
			cfg := &Config{DataDir: t.TempDir(), Driver: driver, KDF: p}
			l := NewLoader(cfg)

			exists, err := l.Exists()
			require.NoError(t, err)
			require.False(t, exists)

			require.NoError(t, l.Open(ctx))
			require.True(t, errors.Is(errors.Invalid, l.Open(ctx)))
			_, err = l.ImportWatchOnly(ctx, testRoot, "watched")
			require.NoError(t, err)
			require.NoError(t, l.Close())
			require.True(t, errors.Is(errors.Invalid, l.Close()))

			// Reopening keeps the stored parameters even when others are
			// configured.
			other, err := kdf.NewInsecureParams(rand.Reader)
			require.NoError(t, err)
			cfg.KDF = other
			l = NewLoader(cfg)
			exists, err = l.Exists()
			require.NoError(t, err)
			require.True(t, exists)
			require.NoError(t, l.Open(ctx))
			defer l.Close()
			require.Equal(t, *p, l.hasher.Params())

			devices, err := l.Devices()
			require.NoError(t, err)
			d, err := devices.Device(ctx, testRoot)
			require.NoError(t, err)
			require.Equal(t, "watched", d.Alias)
		})
	}
}

func TestNotLoaded(t *testing.T) {
	l := NewLoader(&Config{DataDir: t.TempDir()})
	_, _, err := l.CreateWallet(context.Background(), 0, "a", []byte("pw"), false)
	require.True(t, errors.Is(errors.Invalid, err), "unexpected error %v", err)
	_, err = l.Devices()
	require.True(t, errors.Is(errors.Invalid, err))
	_, err = l.Coordinator(unlock.PasswordOnly, passwordPrompter(""))
	require.True(t, errors.Is(errors.Invalid, err))
}

func TestCreateWalletUnlock(t *testing.T) {
	ctx := context.Background()
	l := testLoader(t, "bdb")

	d, words, err := l.CreateWallet(ctx, 24, "main", []byte("hunter2"), false)
	require.NoError(t, err)
	require.Len(t, words, 24)
	require.False(t, d.BackedUp)
	require.Equal(t, uint32(0), d.Index)
	require.True(t, walletseed.VerifyMnemonic(strings.Join(words, " ")))

	validator, err := l.Validator()
	require.NoError(t, err)
	require.True(t, validator.Validate(ctx, []byte("hunter2")))
	require.False(t, validator.Validate(ctx, []byte("hunter3")))

	got, err := unlockWith(t, l, unlock.PasswordOnly, "hunter2", d)
	require.NoError(t, err)
	require.Equal(t, words, got)

	_, err = unlockWith(t, l, unlock.PasswordOnly, "hunter3", d)
	require.True(t, errors.Is(errors.Crypto, err), "unexpected error %v", err)

	// Not stored behind biometrics, so the biometric flow falls back to
	// the password.
	got, err = unlockWith(t, l, unlock.BiometricPreferred, "hunter2", d)
	require.NoError(t, err)
	require.Equal(t, words, got)
}

func TestBiometricWallet(t *testing.T) {
	ctx := context.Background()
	l := testLoader(t, "badgerdb")
	d, words, err := l.CreateWallet(ctx, 0, "bio", []byte("hunter2"), true)
	require.NoError(t, err)
	require.Len(t, words, walletseed.DefaultWordCount)

	// The prompter's password is wrong, so resolving proves the
	// biometric key was used.
	got, err := unlockWith(t, l, unlock.BiometricPreferred, "wrong", d)
	require.NoError(t, err)
	require.Equal(t, words, got)
}

func TestImportWallet(t *testing.T) {
	ctx := context.Background()
	l := testLoader(t, "bdb")

	d, err := l.ImportWallet(ctx, strings.Fields(testPhrase), "imported", []byte("pw"), false)
	require.NoError(t, err)
	require.Equal(t, testRoot, d.RootAddress)
	require.True(t, d.BackedUp)
	require.False(t, d.BackedUpAt.IsZero())

	_, err = l.ImportWallet(ctx, strings.Fields(testPhrase), "again", []byte("pw"), false)
	require.True(t, errors.Is(errors.Exist, err), "unexpected error %v", err)

	_, err = l.ImportWallet(ctx, []string{"not", "a", "mnemonic"}, "bad", []byte("pw"), false)
	require.True(t, errors.Is(errors.Seed, err), "unexpected error %v", err)

	a, err := l.AddAccount(ctx, testRoot, "second")
	require.NoError(t, err)
	require.Equal(t, uint32(1), a.Index)
	require.Equal(t, testAcct1, a.Address)

	devices, _ := l.Devices()
	accounts, err := devices.Accounts(ctx, testRoot)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.Equal(t, testRoot, accounts[0].Address)
}

func TestInstallationPassword(t *testing.T) {
	ctx := context.Background()
	l := testLoader(t, "bdb")

	_, _, err := l.CreateWallet(ctx, 0, "one", []byte("first"), false)
	require.NoError(t, err)
	_, _, err = l.CreateWallet(ctx, 0, "two", []byte("second"), false)
	require.True(t, errors.Is(errors.Passphrase, err), "unexpected error %v", err)
	_, _, err = l.CreateWallet(ctx, 0, "two", []byte("first"), false)
	require.NoError(t, err)
}

func TestWatchOnlyAndLedger(t *testing.T) {
	ctx := context.Background()
	l := testLoader(t, "bdb")

	w, err := l.ImportWatchOnly(ctx, common.HexToAddress("0x1234"), "watch")
	require.NoError(t, err)
	_, err = l.AddAccount(ctx, w.RootAddress, "")
	require.True(t, errors.Is(errors.WatchingOnly, err), "unexpected error %v", err)
	require.True(t, errors.Is(errors.Invalid, l.MarkBackedUp(ctx, w.RootAddress)))

	seed, err := walletseed.Seed(strings.Fields(testPhrase), "")
	require.NoError(t, err)
	node, err := hdkeys.AccountFromSeed(seed)
	require.NoError(t, err)
	xpub, err := hdkeys.DeriveXpub(node)
	require.NoError(t, err)

	ledger, err := l.ImportLedger(ctx, xpub.String(), "hw")
	require.NoError(t, err)
	require.Equal(t, testRoot, ledger.RootAddress)
	require.Equal(t, device.TypeLedger, ledger.Type())
	require.Equal(t, uint32(1), ledger.Index)
	a, err := l.AddAccount(ctx, testRoot, "")
	require.NoError(t, err)
	require.Equal(t, testAcct1, a.Address)

	_, err = l.ImportLedger(ctx, "xpub-garbage", "hw")
	require.Error(t, err)

	// Neither device can be unlocked.
	_, err = unlockWith(t, l, unlock.PasswordOnly, "pw", w, ledger)
	require.True(t, errors.Is(errors.WatchingOnly, err), "unexpected error %v", err)
}

func TestRenameBackupDelete(t *testing.T) {
	ctx := context.Background()
	l := testLoader(t, "bdb")
	d, _, err := l.CreateWallet(ctx, 0, "before", []byte("pw"), false)
	require.NoError(t, err)

	require.NoError(t, l.RenameWallet(ctx, d.RootAddress, "after"))
	require.NoError(t, l.MarkBackedUp(ctx, d.RootAddress))
	devices, _ := l.Devices()
	got, err := devices.Device(ctx, d.RootAddress)
	require.NoError(t, err)
	require.Equal(t, "after", got.Alias)
	require.True(t, got.BackedUp)

	require.NoError(t, l.DeleteWallet(ctx, d.RootAddress))
	_, err = devices.Device(ctx, d.RootAddress)
	require.True(t, errors.Is(errors.NotExist, err))
	_, err = l.creds.EncryptionKey(ctx, d.Index, false)
	require.True(t, errors.Is(errors.NotAvailable, err), "unexpected error %v", err)
	require.True(t, errors.Is(errors.NotExist, l.DeleteWallet(ctx, d.RootAddress)))

	// Indexes are not reused after deletion.
	d2, _, err := l.CreateWallet(ctx, 0, "next", []byte("pw"), false)
	require.NoError(t, err)
	require.Equal(t, d.Index+1, d2.Index)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	l := testLoader(t, "bdb")

	d1, words1, err := l.CreateWallet(ctx, 0, "one", []byte("old"), false)
	require.NoError(t, err)
	d2, err := l.ImportWallet(ctx, strings.Fields(testPhrase), "two", []byte("old"), false)
	require.NoError(t, err)
	_, err = l.ImportWatchOnly(ctx, common.HexToAddress("0xabcd"), "watch")
	require.NoError(t, err)

	err = l.ChangePassword(ctx, []byte("wrong"), []byte("new"), false)
	require.True(t, errors.Is(errors.Passphrase, err), "unexpected error %v", err)

	require.NoError(t, l.ChangePassword(ctx, []byte("old"), []byte("new"), false))

	validator, _ := l.Validator()
	require.False(t, validator.Validate(ctx, []byte("old")))
	require.True(t, validator.Validate(ctx, []byte("new")))

	devices, _ := l.Devices()
	d1, err = devices.Device(ctx, d1.RootAddress)
	require.NoError(t, err)
	d2, err = devices.Device(ctx, d2.RootAddress)
	require.NoError(t, err)

	got, err := unlockWith(t, l, unlock.PasswordOnly, "new", d1)
	require.NoError(t, err)
	require.Equal(t, words1, got)
	got, err = unlockWith(t, l, unlock.PasswordOnly, "new", d2)
	require.NoError(t, err)
	require.Equal(t, strings.Fields(testPhrase), got)
	_, err = unlockWith(t, l, unlock.PasswordOnly, "old", d2)
	require.True(t, errors.Is(errors.Crypto, err))

	key, err := l.creds.EncryptionKey(ctx, d2.Index, false)
	require.NoError(t, err)
	require.Equal(t, l.hasher.Hash([]byte("new")), key)
}

func TestCreateWalletCredentialFailure(t *testing.T) {
	ctx := context.Background()
	l := testLoader(t, "bdb")
	creds := l.creds

	l.creds = &flakyCreds{Store: creds}
	_, _, err := l.CreateWallet(ctx, 0, "first", []byte("pw1"), false)
	require.True(t, errors.Is(errors.IO, err), "unexpected error %v", err)

	// Nothing was committed, so the installation password is still unset.
	devices, _ := l.Devices()
	ds, err := devices.ListDevices(ctx)
	require.NoError(t, err)
	require.Empty(t, ds)
	_, err = devices.ValidationCiphertext(ctx)
	require.True(t, errors.Is(errors.NotExist, err), "unexpected error %v", err)

	l.creds = creds
	d, err := l.ImportWallet(ctx, strings.Fields(testPhrase), "second", []byte("pw2"), false)
	require.NoError(t, err)
	require.NoError(t, l.ChangePassword(ctx, []byte("pw2"), []byte("pw3"), false))

	d, err = devices.Device(ctx, d.RootAddress)
	require.NoError(t, err)
	got, err := unlockWith(t, l, unlock.PasswordOnly, "pw3", d)
	require.NoError(t, err)
	require.Equal(t, strings.Fields(testPhrase), got)
}

func TestChangePasswordCredentialFailure(t *testing.T) {
	ctx := context.Background()
	l := testLoader(t, "bdb")
	creds := l.creds

	d1, words1, err := l.CreateWallet(ctx, 0, "one", []byte("old"), true)
	require.NoError(t, err)
	d2, err := l.ImportWallet(ctx, strings.Fields(testPhrase), "two", []byte("old"), true)
	require.NoError(t, err)

	l.creds = &flakyCreds{Store: creds, okSets: 1}
	err = l.ChangePassword(ctx, []byte("old"), []byte("new"), true)
	require.True(t, errors.Is(errors.IO, err), "unexpected error %v", err)
	l.creds = creds

	validator, _ := l.Validator()
	require.True(t, validator.Validate(ctx, []byte("new")))

	// One device received the new key; the other has none and must fall
	// back to the password rather than fail decryption.
	missing := 0
	for _, d := range []*device.Device{d1, d2} {
		_, err := creds.EncryptionKey(ctx, d.Index, true)
		if errors.Is(errors.NotAvailable, err) {
			missing++
		} else {
			require.NoError(t, err)
		}
	}
	require.Equal(t, 1, missing)

	devices, _ := l.Devices()
	want := map[common.Address][]string{
		d1.RootAddress: words1,
		d2.RootAddress: strings.Fields(testPhrase),
	}
	for root, words := range want {
		d, err := devices.Device(ctx, root)
		require.NoError(t, err)
		got, err := unlockWith(t, l, unlock.BiometricPreferred, "new", d)
		require.NoError(t, err)
		require.Equal(t, words, got)
	}
}
