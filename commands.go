// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/multiwallet/keysafe/device"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/hdkeys"
	"github.com/multiwallet/keysafe/internal/prompt"
	"github.com/multiwallet/keysafe/internal/zero"
	"github.com/multiwallet/keysafe/loader"
	"github.com/multiwallet/keysafe/unlock"
)

// app is the state shared by every command.
type app struct {
	cfg    *config
	loader *loader.Loader
	term   *prompt.Terminal
}

// command is implemented by every subcommand of the options struct.
type command interface {
	run(ctx context.Context, a *app, args []string) error
}

// command returns the subcommand named name.
func (c *config) command(name string) command {
	switch name {
	case "create":
		return &c.Create
	case "import":
		return &c.Import
	case "watch":
		return &c.Watch
	case "list":
		return &c.List
	case "accounts":
		return &c.Accounts
	case "derive":
		return &c.Derive
	case "show-mnemonic":
		return &c.ShowMnemonic
	case "validate":
		return &c.Validate
	case "passwd":
		return &c.Passwd
	case "rename":
		return &c.Rename
	case "backup":
		return &c.Backup
	case "delete":
		return &c.Delete
	}
	return nil
}

func checkArgs(op errors.Op, args []string, min, max int, usage string) error {
	if len(args) < min || len(args) > max {
		return errors.E(op, errors.Invalid, "usage: "+usage)
	}
	return nil
}

func parseAddress(op errors.Op, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.E(op, errors.Invalid, errors.Errorf("invalid address %q", s))
	}
	return common.HexToAddress(s), nil
}

// device returns the wallet registered under root.
func (a *app) device(ctx context.Context, root common.Address) (*device.Device, error) {
	devices, err := a.loader.Devices()
	if err != nil {
		return nil, err
	}
	return devices.Device(ctx, root)
}

// withWallet unlocks one of devices and passes the recovered wallet to f.  The
// wallet is wiped when f returns.  A dismissed unlock errors with code
// Canceled.
func (a *app) withWallet(ctx context.Context, devices []*device.Device,
	f func(w *unlock.DecryptedWallet, d *device.Device) error) error {

	c, err := a.loader.Coordinator(a.cfg.securityMode, a.term)
	if err != nil {
		return err
	}
	var ferr error
	state, err := c.Unlock(ctx, devices, func(w *unlock.DecryptedWallet, d *device.Device) {
		defer w.Zero()
		ferr = f(w, d)
	})
	if err != nil {
		return err
	}
	if state == unlock.Cancelled {
		return errors.E(errors.Canceled, "unlock cancelled")
	}
	return ferr
}

type createCmd struct {
	Words     int    `long:"words" description:"Number of mnemonic words {12, 15, 18, 21, 24}"`
	Alias     string `long:"alias" description:"Wallet name"`
	Biometric bool   `long:"biometric" description:"Release the wallet key only after confirmation"`
}

func (c *createCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "create"
	if err := checkArgs(op, args, 0, 0, "keysafe create [--words N] [--alias NAME] [--biometric]"); err != nil {
		return err
	}
	password, err := a.term.PassPrompt(ctx, "Enter wallet password", true)
	if err != nil {
		return errors.E(op, err)
	}
	defer zero.Bytes(password)

	d, words, err := a.loader.CreateWallet(ctx, c.Words, c.Alias, password, c.Biometric)
	if err != nil {
		return errors.E(op, err)
	}
	fmt.Printf("Created wallet %s\n", d.RootAddress.Hex())
	if err := a.term.ShowMnemonic(ctx, words); err != nil {
		fmt.Println("The wallet is not backed up.  Run 'keysafe backup' to back it up later.")
		return errors.E(op, err)
	}
	return a.loader.MarkBackedUp(ctx, d.RootAddress)
}

type importCmd struct {
	Alias     string `long:"alias" description:"Wallet name"`
	Biometric bool   `long:"biometric" description:"Release the wallet key only after confirmation"`
	Xpub      string `long:"xpub" description:"Import a hardware wallet from its account extended public key instead of a mnemonic"`
}

func (c *importCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "import"
	if err := checkArgs(op, args, 0, 0, "keysafe import [--alias NAME] [--biometric] [--xpub XPUB]"); err != nil {
		return err
	}
	if c.Xpub != "" {
		d, err := a.loader.ImportLedger(ctx, c.Xpub, c.Alias)
		if err != nil {
			return errors.E(op, err)
		}
		fmt.Printf("Imported hardware wallet %s\n", d.RootAddress.Hex())
		return nil
	}

	words, err := a.term.ImportMnemonic(ctx)
	if err != nil {
		return errors.E(op, err)
	}
	password, err := a.term.PassPrompt(ctx, "Enter wallet password", true)
	if err != nil {
		return errors.E(op, err)
	}
	defer zero.Bytes(password)
	d, err := a.loader.ImportWallet(ctx, words, c.Alias, password, c.Biometric)
	if err != nil {
		return errors.E(op, err)
	}
	fmt.Printf("Imported wallet %s\n", d.RootAddress.Hex())
	return nil
}

type watchCmd struct {
	Alias string `long:"alias" description:"Wallet name"`
}

func (c *watchCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "watch"
	if err := checkArgs(op, args, 1, 1, "keysafe watch [--alias NAME] ADDRESS"); err != nil {
		return err
	}
	addr, err := parseAddress(op, args[0])
	if err != nil {
		return err
	}
	d, err := a.loader.ImportWatchOnly(ctx, addr, c.Alias)
	if err != nil {
		return errors.E(op, err)
	}
	fmt.Printf("Watching %s\n", d.RootAddress.Hex())
	return nil
}

type listCmd struct{}

func (c *listCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "list"
	if err := checkArgs(op, args, 0, 0, "keysafe list"); err != nil {
		return err
	}
	devices, err := a.loader.Devices()
	if err != nil {
		return errors.E(op, err)
	}
	ds, err := devices.ListDevices(ctx)
	if err != nil {
		return errors.E(op, err)
	}
	for _, d := range ds {
		backup := "-"
		if d.BackedUp {
			backup = d.BackedUpAt.Local().Format(time.DateOnly)
		}
		fmt.Printf("%-4d %-15s %s  backup:%-10s  %s\n", d.Index, d.Type(),
			d.RootAddress.Hex(), backup, d.Alias)
	}
	return nil
}

type accountsCmd struct {
	Add   bool   `long:"add" description:"Derive the next account of ROOT"`
	Alias string `long:"alias" description:"Name of the added account"`
}

func (c *accountsCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "accounts"
	if err := checkArgs(op, args, 0, 1, "keysafe accounts [--add [--alias NAME]] [ROOT]"); err != nil {
		return err
	}
	var root common.Address
	if len(args) == 1 {
		var err error
		if root, err = parseAddress(op, args[0]); err != nil {
			return err
		}
	}
	if c.Add {
		if len(args) == 0 {
			return errors.E(op, errors.Invalid, "--add requires a wallet address")
		}
		acct, err := a.loader.AddAccount(ctx, root, c.Alias)
		if err != nil {
			return errors.E(op, err)
		}
		fmt.Printf("Added account %d %s\n", acct.Index, acct.Address.Hex())
		return nil
	}

	devices, err := a.loader.Devices()
	if err != nil {
		return errors.E(op, err)
	}
	var accounts []*device.Account
	if len(args) == 1 {
		accounts, err = devices.Accounts(ctx, root)
	} else {
		accounts, err = devices.ListAccounts(ctx)
	}
	if err != nil {
		return errors.E(op, err)
	}
	for _, acct := range accounts {
		hidden := ""
		if !acct.Visible {
			hidden = " (hidden)"
		}
		fmt.Printf("%s %-4d %s  %s%s\n", acct.RootAddress.Hex()[:10], acct.Index,
			acct.Address.Hex(), acct.Alias, hidden)
	}
	return nil
}

type deriveCmd struct {
	Start uint32 `long:"start" description:"First address index"`
	Count uint32 `long:"count" description:"Number of addresses" default:"10"`
}

func (c *deriveCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "derive"
	if err := checkArgs(op, args, 1, 1, "keysafe derive [--start N] [--count N] ROOT"); err != nil {
		return err
	}
	root, err := parseAddress(op, args[0])
	if err != nil {
		return err
	}
	d, err := a.device(ctx, root)
	if err != nil {
		return errors.E(op, err)
	}
	xpub := d.Xpub()
	if xpub == nil {
		return errors.E(op, errors.WatchingOnly, errors.Errorf("%s wallet has no extended public key", d.Type()))
	}
	addrs, err := hdkeys.AddressRange(ctx, xpub, c.Start, c.Count)
	if err != nil {
		return errors.E(op, err)
	}
	for i, addr := range addrs {
		fmt.Printf("%d %s\n", c.Start+uint32(i), addr.Hex())
	}
	return nil
}

type showMnemonicCmd struct{}

func (c *showMnemonicCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "show-mnemonic"
	if err := checkArgs(op, args, 0, 1, "keysafe show-mnemonic [ROOT]"); err != nil {
		return err
	}
	var ds []*device.Device
	if len(args) == 1 {
		root, err := parseAddress(op, args[0])
		if err != nil {
			return err
		}
		d, err := a.device(ctx, root)
		if err != nil {
			return errors.E(op, err)
		}
		ds = []*device.Device{d}
	} else {
		devices, err := a.loader.Devices()
		if err != nil {
			return errors.E(op, err)
		}
		if ds, err = devices.ListDevices(ctx); err != nil {
			return errors.E(op, err)
		}
	}
	err := a.withWallet(ctx, ds, func(w *unlock.DecryptedWallet, d *device.Device) error {
		fmt.Printf("%s:\n%s\n", d.RootAddress.Hex(), strings.Join(w.Mnemonic(), " "))
		return nil
	})
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

type validateCmd struct{}

func (c *validateCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "validate"
	if err := checkArgs(op, args, 0, 0, "keysafe validate"); err != nil {
		return err
	}
	v, err := a.loader.Validator()
	if err != nil {
		return errors.E(op, err)
	}
	password, err := a.term.PassPrompt(ctx, "Enter password to check", false)
	if err != nil {
		return errors.E(op, err)
	}
	defer zero.Bytes(password)
	if !v.Validate(ctx, password) {
		return errors.E(op, loader.ErrWrongPassword)
	}
	fmt.Println("Password is correct")
	return nil
}

type passwdCmd struct {
	Biometric bool `long:"biometric" description:"Release the new wallet keys only after confirmation"`
}

func (c *passwdCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "passwd"
	if err := checkArgs(op, args, 0, 0, "keysafe passwd [--biometric]"); err != nil {
		return err
	}
	oldPassword, err := a.term.PassPrompt(ctx, "Enter current password", false)
	if err != nil {
		return errors.E(op, err)
	}
	defer zero.Bytes(oldPassword)
	newPassword, err := a.term.PassPrompt(ctx, "Enter new password", true)
	if err != nil {
		return errors.E(op, err)
	}
	defer zero.Bytes(newPassword)
	if err := a.loader.ChangePassword(ctx, oldPassword, newPassword, c.Biometric); err != nil {
		return errors.E(op, err)
	}
	fmt.Println("Password changed")
	return nil
}

type renameCmd struct{}

func (c *renameCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "rename"
	if err := checkArgs(op, args, 2, 2, "keysafe rename ROOT ALIAS"); err != nil {
		return err
	}
	root, err := parseAddress(op, args[0])
	if err != nil {
		return err
	}
	if err := a.loader.RenameWallet(ctx, root, args[1]); err != nil {
		return errors.E(op, err)
	}
	return nil
}

type backupCmd struct{}

func (c *backupCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "backup"
	if err := checkArgs(op, args, 1, 1, "keysafe backup ROOT"); err != nil {
		return err
	}
	root, err := parseAddress(op, args[0])
	if err != nil {
		return err
	}
	d, err := a.device(ctx, root)
	if err != nil {
		return errors.E(op, err)
	}
	err = a.withWallet(ctx, []*device.Device{d}, func(w *unlock.DecryptedWallet, _ *device.Device) error {
		return a.term.ShowMnemonic(ctx, w.Mnemonic())
	})
	if err != nil {
		return errors.E(op, err)
	}
	if err := a.loader.MarkBackedUp(ctx, root); err != nil {
		return errors.E(op, err)
	}
	fmt.Printf("Wallet %s marked backed up\n", root.Hex())
	return nil
}

type deleteCmd struct {
	Yes bool `short:"y" long:"yes" description:"Do not ask for confirmation"`
}

func (c *deleteCmd) run(ctx context.Context, a *app, args []string) error {
	const op errors.Op = "delete"
	if err := checkArgs(op, args, 1, 1, "keysafe delete [-y] ROOT"); err != nil {
		return err
	}
	root, err := parseAddress(op, args[0])
	if err != nil {
		return err
	}
	d, err := a.device(ctx, root)
	if err != nil {
		return errors.E(op, err)
	}
	if !c.Yes {
		prefix := fmt.Sprintf("Delete %s wallet %s", d.Type(), root.Hex())
		if d.Type() == device.TypeLocalMnemonic && !d.BackedUp {
			prefix += " (NOT backed up)"
		}
		ok, err := a.term.Confirm(ctx, prefix+"?", false)
		if err != nil {
			return errors.E(op, err)
		}
		if !ok {
			return nil
		}
	}
	if err := a.loader.DeleteWallet(ctx, root); err != nil {
		return errors.E(op, err)
	}
	fmt.Printf("Deleted wallet %s\n", root.Hex())
	return nil
}
