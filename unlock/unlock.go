// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package unlock coordinates recovering a wallet mnemonic from its encrypted
// blob, either with a platform-held key released by a biometric check or with
// a key derived from the user's password.
package unlock

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/multiwallet/keysafe/credstore"
	"github.com/multiwallet/keysafe/device"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/zero"
	"github.com/multiwallet/keysafe/walletcrypt"
)

// SecurityMode selects how the wallet key is obtained.
type SecurityMode uint8

const (
	// BiometricPreferred releases the platform-held key behind a biometric
	// check, falling back to the password when no such key is available.
	BiometricPreferred SecurityMode = iota

	// PasswordOnly always derives the key from a password.
	PasswordOnly
)

func (m SecurityMode) String() string {
	switch m {
	case BiometricPreferred:
		return "biometric"
	case PasswordOnly:
		return "password"
	default:
		return fmt.Sprintf("SecurityMode(%d)", uint8(m))
	}
}

// ParseSecurityMode parses the string form of a SecurityMode.
func ParseSecurityMode(s string) (SecurityMode, error) {
	switch s {
	case "biometric":
		return BiometricPreferred, nil
	case "password":
		return PasswordOnly, nil
	}
	return 0, errors.E(errors.Op("unlock.ParseSecurityMode"), errors.Invalid,
		errors.Errorf("unknown security mode %q", s))
}

// State is a step of an unlock request.
type State uint8

// Unlock states.  Resolved, Cancelled and Failed are terminal.
const (
	Idle State = iota
	CheckingSecurityMode
	BiometricFlow
	PasswordFlow
	Resolved
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CheckingSecurityMode:
		return "checking security mode"
	case BiometricFlow:
		return "biometric flow"
	case PasswordFlow:
		return "password flow"
	case Resolved:
		return "resolved"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == Resolved || s == Cancelled || s == Failed
}

// Prompter is the user interface collaborator of the coordinator.  A None
// result means the user dismissed the prompt.  Returned passwords are owned
// and wiped by the coordinator.
type Prompter interface {
	PromptPassword(ctx context.Context) fn.Option[[]byte]
	PromptDeviceSelection(ctx context.Context, devices []*device.Device) fn.Option[*device.Device]
}

// Hasher derives cipher keys from passwords.
type Hasher interface {
	Hash(password []byte) []byte
}

// Config configures a Coordinator.
type Config struct {
	Mode        SecurityMode
	Credentials credstore.Store
	Hasher      Hasher
	Prompter    Prompter

	// Strict turns a concurrent Unlock call into a panic instead of an
	// InProgress error.
	Strict bool

	// Observer, if set, is called with every state transition.  It must not
	// call back into the coordinator.
	Observer func(State)
}

// Coordinator runs at most one unlock request at a time.
type Coordinator struct {
	cfg Config

	mu      sync.Mutex
	state   State
	running bool
}

// NewCoordinator returns a Coordinator in the Idle state.
func NewCoordinator(cfg *Config) (*Coordinator, error) {
	const op errors.Op = "unlock.NewCoordinator"
	switch {
	case cfg == nil:
		return nil, errors.E(op, errors.Invalid, "nil config")
	case cfg.Credentials == nil:
		return nil, errors.E(op, errors.Invalid, "no credential store")
	case cfg.Hasher == nil:
		return nil, errors.E(op, errors.Invalid, "no password hasher")
	case cfg.Prompter == nil:
		return nil, errors.E(op, errors.Invalid, "no prompter")
	case cfg.Mode != BiometricPreferred && cfg.Mode != PasswordOnly:
		return nil, errors.E(op, errors.Invalid, errors.Errorf("unknown security mode %v", cfg.Mode))
	}
	return &Coordinator{cfg: *cfg}, nil
}

// Mode returns the configured security mode.
func (c *Coordinator) Mode() SecurityMode {
	return c.cfg.Mode
}

// State returns the state of the running request, or the terminal state of
// the last one.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) transition(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.cfg.Observer != nil {
		c.cfg.Observer(s)
	}
}

func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

func (c *Coordinator) end(s State) {
	c.transition(s)
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Unlock recovers the mnemonic of one of devices and passes it to onResolved,
// which is called exactly once, after the coordinator has returned to a
// terminal state, and only when that state is Resolved.  onResolved owns the
// wallet and must Zero it.
//
// The returned state is Resolved or Cancelled with a nil error, or Failed with
// the cause.  Failures are not retried.  Calling Unlock while another request
// is running errors with code InProgress and leaves the running request
// untouched, or panics when the coordinator is strict.
func (c *Coordinator) Unlock(ctx context.Context, devices []*device.Device,
	onResolved func(*DecryptedWallet, *device.Device)) (State, error) {

	const op errors.Op = "unlock.Unlock"
	if onResolved == nil {
		return c.State(), errors.E(op, errors.Invalid, "nil callback")
	}
	if !c.begin() {
		err := errors.E(op, errors.InProgress)
		log.Errorf("Unlock requested while another unlock is running")
		if c.cfg.Strict {
			panic(err)
		}
		return c.State(), err
	}

	reqID := uuid.NewString()
	log.Debugf("Unlock request %s: %d device(s), %v mode", reqID, len(devices), c.cfg.Mode)

	// A panicking collaborator must not leave the coordinator running.
	finished := false
	defer func() {
		if !finished {
			c.end(Failed)
		}
	}()
	w, d, state, err := c.run(ctx, op, devices)
	finished = true
	c.end(state)
	switch state {
	case Resolved:
		log.Infof("Unlock request %s resolved device %d", reqID, d.Index)
		onResolved(w, d)
		return state, nil
	case Cancelled:
		log.Infof("Unlock request %s cancelled", reqID)
		return state, nil
	default:
		log.Warnf("Unlock request %s failed: %v", reqID, err)
		for _, stack := range errors.Stacks(err) {
			log.Debugf("Unlock request %s stack:\n%s", reqID, stack)
		}
		return state, err
	}
}

func (c *Coordinator) run(ctx context.Context, op errors.Op, devices []*device.Device) (
	*DecryptedWallet, *device.Device, State, error) {

	c.transition(CheckingSecurityMode)
	eligible, err := eligibleDevices(devices)
	if err != nil {
		return nil, nil, Failed, errors.E(op, err)
	}
	if len(eligible) == 0 {
		return nil, nil, Failed, errors.E(op, errors.WatchingOnly,
			"no device holds a decryptable mnemonic")
	}

	var d *device.Device
	var key []byte
	switch c.cfg.Mode {
	case BiometricPreferred:
		c.transition(BiometricFlow)
		d, err = c.selectDevice(ctx, op, eligible)
		if d == nil || err != nil {
			break
		}
		key, err = c.cfg.Credentials.EncryptionKey(ctx, d.Index, true)
		switch {
		case err == nil:
		case errors.Is(errors.Canceled, err):
			return nil, nil, Cancelled, nil
		case errors.Is(errors.NotAvailable, err):
			log.Infof("Biometric key for device %d unavailable, falling back to password", d.Index)
			c.transition(PasswordFlow)
			key, err = c.passwordKey(ctx)
		}

	case PasswordOnly:
		c.transition(PasswordFlow)
		var password []byte
		password, err = c.promptPassword(ctx)
		if password == nil || err != nil {
			break
		}
		d, err = c.selectDevice(ctx, op, eligible)
		if d != nil && err == nil {
			key = c.cfg.Hasher.Hash(password)
		}
		zero.Bytes(password)

	default:
		err = errors.WithStack(op, errors.Bug, errors.Errorf("unknown security mode %v", c.cfg.Mode))
	}
	switch {
	case err != nil:
		return nil, nil, Failed, errors.E(op, err)
	case d == nil || key == nil:
		return nil, nil, Cancelled, nil
	}

	words, err := walletcrypt.DecryptMnemonic(d.Source.(*device.LocalMnemonic).EncryptedWallet, key)
	zero.Bytes(key)
	if err != nil {
		return nil, nil, Failed, errors.E(op, err)
	}
	return newDecryptedWallet(words), d, Resolved, nil
}

// passwordKey prompts for a password and returns its derived key, or nil when
// the prompt was dismissed.
func (c *Coordinator) passwordKey(ctx context.Context) ([]byte, error) {
	password, err := c.promptPassword(ctx)
	if password == nil || err != nil {
		return nil, err
	}
	key := c.cfg.Hasher.Hash(password)
	zero.Bytes(password)
	return key, nil
}

// promptPassword returns nil when the prompt was dismissed or ctx was
// canceled while it was shown.
func (c *Coordinator) promptPassword(ctx context.Context) ([]byte, error) {
	password := c.cfg.Prompter.PromptPassword(ctx).UnwrapOr(nil)
	if ctx.Err() != nil {
		zero.Bytes(password)
		return nil, nil
	}
	if password == nil {
		return nil, nil
	}
	return password, nil
}

// selectDevice returns the only eligible device, or asks the user to pick
// one.  A nil device without error means the selection was dismissed.
func (c *Coordinator) selectDevice(ctx context.Context, op errors.Op, eligible []*device.Device) (
	*device.Device, error) {

	if len(eligible) == 1 {
		return eligible[0], nil
	}
	d := c.cfg.Prompter.PromptDeviceSelection(ctx, eligible).UnwrapOr(nil)
	if d == nil || ctx.Err() != nil {
		return nil, nil
	}
	for _, e := range eligible {
		if e == d || e.RootAddress == d.RootAddress {
			return e, nil
		}
	}
	return nil, errors.E(op, errors.Invalid,
		errors.Errorf("selected device %v is not eligible for unlock", d.RootAddress))
}

// eligibleDevices returns the devices whose source holds an encrypted
// mnemonic.
func eligibleDevices(devices []*device.Device) ([]*device.Device, error) {
	const op errors.Op = "unlock.eligibleDevices"
	var eligible []*device.Device
	for _, d := range devices {
		if d == nil {
			continue
		}
		switch s := d.Source.(type) {
		case *device.LocalMnemonic:
			if len(s.EncryptedWallet) == 0 {
				return nil, errors.WithStack(op, errors.Bug,
					errors.Errorf("device %d has no encrypted wallet", d.Index))
			}
			eligible = append(eligible, d)
		case *device.Ledger, *device.SmartWallet, *device.WatchOnly:
		default:
			return nil, errors.WithStack(op, errors.Bug,
				errors.Errorf("unknown device source %T", d.Source))
		}
	}
	return eligible, nil
}
