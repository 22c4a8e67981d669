// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package device models registered wallets ("devices") and the accounts
// derived from them, and persists both in a kvdb database.
package device

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/hdkeys"
	"github.com/multiwallet/keysafe/walletcrypt"
)

// Type identifies the kind of key source behind a device.
type Type uint8

// Device types.  Values are stored in the database and must not change.
const (
	TypeLocalMnemonic Type = 0
	TypeLedger        Type = 1
	TypeSmartWallet   Type = 2
	TypeWatchOnly     Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeLocalMnemonic:
		return "local-mnemonic"
	case TypeLedger:
		return "ledger"
	case TypeSmartWallet:
		return "smart-wallet"
	case TypeWatchOnly:
		return "watch-only"
	default:
		return "unknown"
	}
}

// Source describes where a device's keys live.  It is implemented only by the
// types of this package: *LocalMnemonic, *Ledger, *SmartWallet and
// *WatchOnly.
type Source interface {
	Type() Type
	source()
}

// LocalMnemonic is a wallet whose mnemonic is held on this installation,
// sealed with a password-derived key.
type LocalMnemonic struct {
	Xpub            *hdkeys.ExtendedPublicKey
	EncryptedWallet walletcrypt.Ciphertext
}

// Ledger is a hardware wallet.  The account xpub is known once the device has
// been connected at least once.
type Ledger struct {
	Xpub *hdkeys.ExtendedPublicKey
}

// SmartWallet is a contract wallet controlled by an owner address.
type SmartWallet struct {
	Owner common.Address
}

// WatchOnly tracks an address without any key material.
type WatchOnly struct{}

func (*LocalMnemonic) Type() Type { return TypeLocalMnemonic }
func (*Ledger) Type() Type        { return TypeLedger }
func (*SmartWallet) Type() Type   { return TypeSmartWallet }
func (*WatchOnly) Type() Type     { return TypeWatchOnly }

func (*LocalMnemonic) source() {}
func (*Ledger) source()        {}
func (*SmartWallet) source()   {}
func (*WatchOnly) source()     {}

// Device is one created or imported wallet.  RootAddress, the address at
// index 0, is its primary key.  Index identifies the device to the credential
// store.
type Device struct {
	Index       uint32
	RootAddress common.Address
	Alias       string
	Source      Source
	BackedUp    bool
	BackedUpAt  time.Time // zero unless BackedUp
	CreatedAt   time.Time
}

// Type returns the type of the device source.
func (d *Device) Type() Type {
	return d.Source.Type()
}

// Xpub returns the account extended public key, or nil when the device has
// none.
func (d *Device) Xpub() *hdkeys.ExtendedPublicKey {
	switch s := d.Source.(type) {
	case *LocalMnemonic:
		return s.Xpub
	case *Ledger:
		return s.Xpub
	}
	return nil
}

// maxAliasLen bounds aliases so they fit the row encoding.
const maxAliasLen = 1<<16 - 1

// Validate checks the device invariants.  A local-mnemonic device must carry
// both an xpub and an encrypted wallet; other sources cannot carry a blob.
func (d *Device) Validate() error {
	const op errors.Op = "device.Validate"
	if d.RootAddress == (common.Address{}) {
		return errors.E(op, errors.Invalid, "missing root address")
	}
	if len(d.Alias) > maxAliasLen {
		return errors.E(op, errors.Invalid, "alias too long")
	}
	switch s := d.Source.(type) {
	case *LocalMnemonic:
		if s.Xpub == nil {
			return errors.E(op, errors.Invalid, "local mnemonic device without xpub")
		}
		if len(s.EncryptedWallet) == 0 {
			return errors.E(op, errors.Invalid, "local mnemonic device without encrypted wallet")
		}
	case *Ledger, *WatchOnly:
	case *SmartWallet:
		if s.Owner == (common.Address{}) {
			return errors.E(op, errors.Invalid, "smart wallet without owner")
		}
	case nil:
		return errors.E(op, errors.Invalid, "missing device source")
	default:
		return errors.E(op, errors.Bug, errors.Errorf("unknown device source %T", s))
	}
	return nil
}

// Account is an address derived from a device xpub.  Address is a pure
// function of the device xpub and Index.
type Account struct {
	RootAddress common.Address
	Address     common.Address
	Index       uint32
	Alias       string
	Visible     bool
}
