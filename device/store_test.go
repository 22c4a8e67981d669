// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package device

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/hdkeys"
	"github.com/multiwallet/keysafe/internal/kvdb"
	_ "github.com/multiwallet/keysafe/internal/kvdb/badgerdb"
	_ "github.com/multiwallet/keysafe/internal/kvdb/bdb"
	"github.com/multiwallet/keysafe/kdf"
	"github.com/multiwallet/keysafe/walletcrypt"
	"github.com/multiwallet/keysafe/walletseed"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, dbType string) *Store {
	t.Helper()
	db, err := kvdb.Create(dbType, filepath.Join(t.TempDir(), "keysafe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := Open(context.Background(), db)
	require.NoError(t, err)
	return s
}

func testXpub(t *testing.T) *hdkeys.ExtendedPublicKey {
	t.Helper()
	words, err := walletseed.GenerateMnemonic(12)
	require.NoError(t, err)
	seed, err := walletseed.Seed(words, "")
	require.NoError(t, err)
	node, err := hdkeys.AccountFromSeed(seed)
	require.NoError(t, err)
	defer node.Zero()
	xpub, err := hdkeys.DeriveXpub(node)
	require.NoError(t, err)
	return xpub
}

func localDevice(t *testing.T, idx uint32) (*Device, *Account) {
	xpub := testXpub(t)
	root, err := hdkeys.AddressAtIndex(xpub, 0)
	require.NoError(t, err)
	key := make([]byte, walletcrypt.KeySize)
	rand.Read(key)
	blob, err := walletcrypt.EncryptMnemonic([]string{"abandon"}, key)
	require.NoError(t, err)
	d := &Device{
		Index:       idx,
		RootAddress: root,
		Alias:       "Wallet",
		Source:      &LocalMnemonic{Xpub: xpub, EncryptedWallet: blob},
	}
	a := &Account{RootAddress: root, Address: root, Index: 0, Alias: "Account 1", Visible: true}
	return d, a
}

func forEachDriver(t *testing.T, f func(t *testing.T, s *Store)) {
	for _, dbType := range kvdb.SupportedDrivers() {
		dbType := dbType
		t.Run(dbType, func(t *testing.T) { f(t, testStore(t, dbType)) })
	}
}

func TestDeviceRoundTrip(t *testing.T) {
	ledgerXpub := testXpub(t)
	local, _ := localDevice(t, 0)
	devices := []*Device{
		local,
		{Index: 1, RootAddress: common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Source: &Ledger{Xpub: ledgerXpub}},
		{Index: 2, RootAddress: common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Source: &Ledger{}},
		{Index: 3, RootAddress: common.HexToAddress("0x3333333333333333333333333333333333333333"),
			Alias: "Safe", Source: &SmartWallet{Owner: common.HexToAddress("0x4444444444444444444444444444444444444444")}},
		{Index: 4, RootAddress: common.HexToAddress("0x5555555555555555555555555555555555555555"),
			Alias: "Watched", Source: &WatchOnly{}, BackedUp: true,
			BackedUpAt: time.Unix(1700000000, 0).UTC(), CreatedAt: time.Unix(1600000000, 0).UTC()},
	}
	for i, d := range devices {
		row, err := serializeDevice(d)
		require.NoError(t, err, "device %d", i)
		got, err := deserializeDevice(d.RootAddress[:], row)
		require.NoError(t, err, "device %d", i)
		require.Equal(t, d, got, "device %d", i)

		// Every truncation is rejected.
		for n := 0; n < len(row); n++ {
			_, err := deserializeDevice(d.RootAddress[:], row[:n])
			require.True(t, errors.Is(errors.Encoding, err), "device %d truncated to %d: %v", i, n, err)
		}
	}
}

func TestValidate(t *testing.T) {
	local, _ := localDevice(t, 0)
	root := local.RootAddress
	tests := []struct {
		d     *Device
		valid bool
	}{
		{local, true},
		{&Device{RootAddress: root, Source: &WatchOnly{}}, true},
		{&Device{RootAddress: root, Source: &Ledger{}}, true},
		{&Device{RootAddress: root}, false},
		{&Device{Source: &WatchOnly{}}, false},
		{&Device{RootAddress: root, Source: &LocalMnemonic{Xpub: local.Xpub()}}, false},
		{&Device{RootAddress: root, Source: &LocalMnemonic{EncryptedWallet: []byte{1}}}, false},
		{&Device{RootAddress: root, Source: &SmartWallet{}}, false},
		{&Device{RootAddress: root, Source: &WatchOnly{}, Alias: strings.Repeat("a", maxAliasLen+1)}, false},
	}
	for i, test := range tests {
		err := test.d.Validate()
		if test.valid != (err == nil) {
			t.Errorf("test %d: valid=%v err=%v", i, test.valid, err)
		}
	}
}

func TestAddListDelete(t *testing.T) {
	ctx := context.Background()
	forEachDriver(t, func(t *testing.T, s *Store) {
		var roots []common.Address
		for i := uint32(0); i < 4; i++ {
			d, a := localDevice(t, i)
			require.NoError(t, s.AddDevice(ctx, d, a))
			require.False(t, d.CreatedAt.IsZero())
			roots = append(roots, d.RootAddress)
			err := s.PutAccount(ctx, &Account{RootAddress: d.RootAddress, Address: roots[0], Index: 1})
			require.NoError(t, err)
		}

		d, a := localDevice(t, 9)
		d.RootAddress = roots[2]
		a.RootAddress = roots[2]
		err := s.AddDevice(ctx, d, a)
		require.True(t, errors.Is(errors.Exist, err), "got %v", err)

		list1, err := s.ListDevices(ctx)
		require.NoError(t, err)
		require.Len(t, list1, 4)
		for i := 1; i < len(list1); i++ {
			prev := strings.ToLower(list1[i-1].RootAddress.Hex())
			cur := strings.ToLower(list1[i].RootAddress.Hex())
			require.Less(t, prev, cur)
		}
		list2, err := s.ListDevices(ctx)
		require.NoError(t, err)
		require.Equal(t, list1, list2)

		accounts, err := s.Accounts(ctx, roots[1])
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		require.Equal(t, uint32(0), accounts[0].Index)
		require.Equal(t, uint32(1), accounts[1].Index)

		all, err := s.ListAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, all, 8)

		require.NoError(t, s.DeleteDevice(ctx, roots[1]))
		_, err = s.Device(ctx, roots[1])
		require.True(t, errors.Is(errors.NotExist, err), "got %v", err)
		accounts, err = s.Accounts(ctx, roots[1])
		require.NoError(t, err)
		require.Empty(t, accounts)
		err = s.DeleteDevice(ctx, roots[1])
		require.True(t, errors.Is(errors.NotExist, err), "got %v", err)

		err = s.PutAccount(ctx, &Account{RootAddress: roots[1], Index: 3})
		require.True(t, errors.Is(errors.NotExist, err), "got %v", err)
	})
}

func TestMutations(t *testing.T) {
	ctx := context.Background()
	forEachDriver(t, func(t *testing.T, s *Store) {
		d, a := localDevice(t, 0)
		require.NoError(t, s.AddDevice(ctx, d, a))
		root := d.RootAddress

		require.NoError(t, s.RenameDevice(ctx, root, "Savings"))
		at := time.Unix(1750000000, 0)
		require.NoError(t, s.SetBackedUp(ctx, root, at))
		got, err := s.Device(ctx, root)
		require.NoError(t, err)
		require.Equal(t, "Savings", got.Alias)
		require.True(t, got.BackedUp)
		require.True(t, at.Equal(got.BackedUpAt))

		require.NoError(t, s.RenameAccount(ctx, root, 0, "Main"))
		require.NoError(t, s.SetAccountVisible(ctx, root, 0, false))
		accounts, err := s.Accounts(ctx, root)
		require.NoError(t, err)
		require.Equal(t, "Main", accounts[0].Alias)
		require.False(t, accounts[0].Visible)
		require.Equal(t, root, accounts[0].Address)

		err = s.RenameAccount(ctx, root, 7, "x")
		require.True(t, errors.Is(errors.NotExist, err), "got %v", err)
		err = s.RenameDevice(ctx, common.Address{1}, "x")
		require.True(t, errors.Is(errors.NotExist, err), "got %v", err)
	})
}

func TestNextDeviceIndex(t *testing.T) {
	ctx := context.Background()
	forEachDriver(t, func(t *testing.T, s *Store) {
		for want := uint32(0); want < 3; want++ {
			idx, err := s.NextDeviceIndex(ctx)
			require.NoError(t, err)
			require.Equal(t, want, idx)
		}
	})
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	forEachDriver(t, func(t *testing.T, s *Store) {
		_, err := s.KDFParams(ctx)
		require.True(t, errors.Is(errors.NotExist, err), "got %v", err)
		_, err = s.ValidationCiphertext(ctx)
		require.True(t, errors.Is(errors.NotExist, err), "got %v", err)

		p, err := kdf.NewInsecureParams(rand.Reader)
		require.NoError(t, err)
		require.NoError(t, s.PutKDFParams(ctx, p))
		got, err := s.KDFParams(ctx)
		require.NoError(t, err)
		require.Equal(t, p, got)
		err = s.PutKDFParams(ctx, p)
		require.True(t, errors.Is(errors.Exist, err), "got %v", err)

		d, a := localDevice(t, 0)
		require.NoError(t, s.AddFirstSecret(ctx, d, walletcrypt.Ciphertext{1, 2, 3}, a))
		c, err := s.ValidationCiphertext(ctx)
		require.NoError(t, err)
		require.Equal(t, walletcrypt.Ciphertext{1, 2, 3}, c)
	})
}

func TestAddFirstSecret(t *testing.T) {
	ctx := context.Background()
	forEachDriver(t, func(t *testing.T, s *Store) {
		d1, a1 := localDevice(t, 0)
		err := s.AddFirstSecret(ctx, d1, nil, a1)
		require.True(t, errors.Is(errors.Invalid, err), "got %v", err)

		require.NoError(t, s.AddFirstSecret(ctx, d1, walletcrypt.Ciphertext{1, 2, 3}, a1))
		c, err := s.ValidationCiphertext(ctx)
		require.NoError(t, err)
		require.Equal(t, walletcrypt.Ciphertext{1, 2, 3}, c)

		// A second installation password is refused and nothing of the
		// device is written.
		d2, a2 := localDevice(t, 1)
		err = s.AddFirstSecret(ctx, d2, walletcrypt.Ciphertext{4, 5, 6}, a2)
		require.True(t, errors.Is(errors.Exist, err), "got %v", err)
		_, err = s.Device(ctx, d2.RootAddress)
		require.True(t, errors.Is(errors.NotExist, err), "got %v", err)
		c, err = s.ValidationCiphertext(ctx)
		require.NoError(t, err)
		require.Equal(t, walletcrypt.Ciphertext{1, 2, 3}, c)
	})
}

func TestReplaceSecrets(t *testing.T) {
	ctx := context.Background()
	forEachDriver(t, func(t *testing.T, s *Store) {
		d, a := localDevice(t, 0)
		require.NoError(t, s.AddDevice(ctx, d, a))
		watch := &Device{Index: 1, RootAddress: common.Address{9}, Source: &WatchOnly{}}
		require.NoError(t, s.AddDevice(ctx, watch))

		err := s.ReplaceSecrets(ctx, map[common.Address]walletcrypt.Ciphertext{
			d.RootAddress: {7, 7},
		}, walletcrypt.Ciphertext{8})
		require.NoError(t, err)
		got, err := s.Device(ctx, d.RootAddress)
		require.NoError(t, err)
		require.Equal(t, walletcrypt.Ciphertext{7, 7}, got.Source.(*LocalMnemonic).EncryptedWallet)
		c, err := s.ValidationCiphertext(ctx)
		require.NoError(t, err)
		require.Equal(t, walletcrypt.Ciphertext{8}, c)

		// A failing entry leaves everything untouched.
		err = s.ReplaceSecrets(ctx, map[common.Address]walletcrypt.Ciphertext{
			d.RootAddress:     {1},
			watch.RootAddress: {1},
		}, walletcrypt.Ciphertext{2})
		require.True(t, errors.Is(errors.Invalid, err), "got %v", err)
		c, err = s.ValidationCiphertext(ctx)
		require.NoError(t, err)
		require.Equal(t, walletcrypt.Ciphertext{8}, c)
	})
}
