// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package hdkeys derives extended public keys and account addresses from
// hierarchical deterministic key nodes.
//
// Wallets use the BIP-44 account node m/44'/60'/0'/0.  Only that node's public
// key and chain code are persisted; account addresses are the non-hardened
// children of the node and can be derived again at any time without access to
// private key material.
package hdkeys

import (
	"context"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/lru"
	"golang.org/x/sync/errgroup"
)

// Key sizes of a serialized extended public key.
const (
	PubKeyLen    = secp256k1.PubKeyBytesLenCompressed
	ChainCodeLen = 32

	serializedKeyLen = 4 + 1 + 4 + 4 + ChainCodeLen + PubKeyLen + 4
)

// HardenedKeyStart is the first hardened child index.  Public derivation is
// only defined below it.
const HardenedKeyStart = hdkeychain.HardenedKeyStart

// AccountPath is the derivation path of the node whose public key is stored
// for each wallet.
var AccountPath = accounts.DefaultRootDerivationPath

// Net provides the BIP-32 serialization versions (xprv/xpub) and checksum
// used for extended key strings.
var Net = &chaincfg.MainNetParams

// ExtendedPublicKey is the public half of an HD node: a compressed secp256k1
// public key and the chain code.  It never holds private key material.
type ExtendedPublicKey struct {
	PublicKey []byte
	ChainCode []byte
}

// check validates lengths and that the public key is a point on the curve.
func (x *ExtendedPublicKey) check(op errors.Op) error {
	if x == nil {
		return errors.E(op, errors.KeyMaterial, "nil extended public key")
	}
	if len(x.PublicKey) != PubKeyLen {
		return errors.E(op, errors.KeyMaterial, errors.Errorf("public key length %d, expected %d",
			len(x.PublicKey), PubKeyLen))
	}
	if len(x.ChainCode) != ChainCodeLen {
		return errors.E(op, errors.KeyMaterial, errors.Errorf("chain code length %d, expected %d",
			len(x.ChainCode), ChainCodeLen))
	}
	if _, err := secp256k1.ParsePubKey(x.PublicKey); err != nil {
		return errors.E(op, errors.KeyMaterial, err)
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.  The encoding is the
// public key followed by the chain code.
func (x *ExtendedPublicKey) MarshalBinary() ([]byte, error) {
	if err := x.check("hdkeys.MarshalBinary"); err != nil {
		return nil, err
	}
	b := make([]byte, 0, PubKeyLen+ChainCodeLen)
	b = append(b, x.PublicKey...)
	b = append(b, x.ChainCode...)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (x *ExtendedPublicKey) UnmarshalBinary(b []byte) error {
	const op errors.Op = "hdkeys.UnmarshalBinary"
	if len(b) != PubKeyLen+ChainCodeLen {
		return errors.E(op, errors.KeyMaterial, errors.Errorf("extended public key length %d", len(b)))
	}
	v := ExtendedPublicKey{
		PublicKey: append([]byte(nil), b[:PubKeyLen]...),
		ChainCode: append([]byte(nil), b[PubKeyLen:]...),
	}
	if err := v.check(op); err != nil {
		return err
	}
	*x = v
	return nil
}

// String returns the base58 BIP-32 xpub serialization of the key at
// AccountPath depth.  The parent fingerprint is not stored and encodes as
// zero.
func (x *ExtendedPublicKey) String() string {
	node, err := NodeFromXpub(x)
	if err != nil {
		return "<invalid xpub>"
	}
	return node.String()
}

// DeriveXpub copies the public key and chain code out of node, which may hold
// private material or already be public-only.  The result shares no memory
// with node, which may be zeroed afterwards.
func DeriveXpub(node *hdkeychain.ExtendedKey) (*ExtendedPublicKey, error) {
	const op errors.Op = "hdkeys.DeriveXpub"
	if node == nil {
		return nil, errors.E(op, errors.KeyMaterial, "nil node")
	}
	pub := node
	if node.IsPrivate() {
		var err error
		pub, err = node.Neuter()
		if err != nil {
			return nil, errors.E(op, errors.KeyMaterial, err)
		}
	}
	// The public serialization is version(4) || depth(1) ||
	// parent fingerprint(4) || child number(4) || chain code(32) ||
	// public key(33) || checksum(4).
	raw := base58.Decode(pub.String())
	if len(raw) != serializedKeyLen {
		return nil, errors.E(op, errors.KeyMaterial, "malformed extended key")
	}
	x := &ExtendedPublicKey{
		PublicKey: append([]byte(nil), raw[45:45+PubKeyLen]...),
		ChainCode: append([]byte(nil), raw[13:13+ChainCodeLen]...),
	}
	if err := x.check(op); err != nil {
		return nil, err
	}
	return x, nil
}

// NodeFromXpub reconstructs a public-only node from xpub.  The node can derive
// non-hardened children but never private keys.
func NodeFromXpub(xpub *ExtendedPublicKey) (*hdkeychain.ExtendedKey, error) {
	const op errors.Op = "hdkeys.NodeFromXpub"
	if err := xpub.check(op); err != nil {
		return nil, err
	}
	parentFP := []byte{0, 0, 0, 0}
	return hdkeychain.NewExtendedKey(Net.HDPublicKeyID[:],
		append([]byte(nil), xpub.PublicKey...), append([]byte(nil), xpub.ChainCode...),
		parentFP, uint8(len(AccountPath)), AccountPath[len(AccountPath)-1], false), nil
}

// ParseXpub decodes a base58 BIP-32 extended key string.  The checksum is
// verified; the version bytes are not, so keys serialized for other networks
// or script types are accepted.  Private keys are neutered before their
// public half is returned.
func ParseXpub(s string) (*ExtendedPublicKey, error) {
	const op errors.Op = "hdkeys.ParseXpub"
	node, err := hdkeychain.NewKeyFromString(s)
	if err != nil {
		return nil, errors.E(op, errors.KeyMaterial, err)
	}
	if node.IsPrivate() {
		// The neutered node shares the chain code with node, so copy it
		// out before zeroing.
		defer node.Zero()
		node, err = node.Neuter()
		if err != nil {
			return nil, errors.E(op, errors.KeyMaterial, err)
		}
	}
	x, err := DeriveXpub(node)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return x, nil
}

// AccountFromSeed derives the private account node at AccountPath from a
// BIP-39 seed.  The caller should call Zero on the result when finished.
func AccountFromSeed(seed []byte) (*hdkeychain.ExtendedKey, error) {
	const op errors.Op = "hdkeys.AccountFromSeed"
	master, err := hdkeychain.NewMaster(seed, Net)
	if err != nil {
		return nil, errors.E(op, errors.Seed, err)
	}
	node := master
	for _, i := range AccountPath {
		child, err := node.Derive(i)
		if node != master {
			node.Zero()
		}
		if err != nil {
			master.Zero()
			return nil, errors.E(op, errors.KeyMaterial, err)
		}
		node = child
	}
	master.Zero()
	return node, nil
}

// addrKey identifies a derived address by its account node and child index.
type addrKey struct {
	xpub  [PubKeyLen + ChainCodeLen]byte
	index uint32
}

func newAddrKey(xpub *ExtendedPublicKey, index uint32) addrKey {
	k := addrKey{index: index}
	copy(k.xpub[:], xpub.PublicKey)
	copy(k.xpub[PubKeyLen:], xpub.ChainCode)
	return k
}

// addrCache holds recently derived addresses.  Listing devices and accounts
// rederives the same low indices repeatedly.
var addrCache = lru.NewMap[addrKey, common.Address](1024)

func addressOf(node *hdkeychain.ExtendedKey, key addrKey) (common.Address, error) {
	if addr, ok := addrCache.Get(key); ok {
		return addr, nil
	}
	index := key.index
	child, err := node.Derive(index)
	if err != nil {
		return common.Address{}, errors.E(errors.KeyMaterial, err)
	}
	childPub, err := child.ECPubKey()
	if err != nil {
		return common.Address{}, errors.E(errors.KeyMaterial, err)
	}
	pub, err := crypto.DecompressPubkey(childPub.SerializeCompressed())
	if err != nil {
		return common.Address{}, errors.E(errors.KeyMaterial, err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	addrCache.Put(key, addr)
	return addr, nil
}

// AddressAtIndex returns the account address of the non-hardened child index
// of xpub.  The result depends only on (xpub, index).
func AddressAtIndex(xpub *ExtendedPublicKey, index uint32) (common.Address, error) {
	const op errors.Op = "hdkeys.AddressAtIndex"
	if index >= HardenedKeyStart {
		return common.Address{}, errors.E(op, errors.Invalid,
			errors.Errorf("index %d is hardened", index))
	}
	node, err := NodeFromXpub(xpub)
	if err != nil {
		return common.Address{}, errors.E(op, err)
	}
	addr, err := addressOf(node, newAddrKey(xpub, index))
	if err != nil {
		return common.Address{}, errors.E(op, err)
	}
	return addr, nil
}

// AddressRange derives count addresses starting at index start.  Derivations
// run concurrently; the returned slice is ordered by index.
func AddressRange(ctx context.Context, xpub *ExtendedPublicKey, start, count uint32) ([]common.Address, error) {
	const op errors.Op = "hdkeys.AddressRange"
	if count == 0 {
		return nil, nil
	}
	if start >= HardenedKeyStart || HardenedKeyStart-start < count {
		return nil, errors.E(op, errors.Invalid, "range crosses hardened indices")
	}
	node, err := NodeFromXpub(xpub)
	if err != nil {
		return nil, errors.E(op, err)
	}

	addrs := make([]common.Address, count)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := uint32(0); i < count; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			addr, err := addressOf(node, newAddrKey(xpub, start+i))
			if err != nil {
				return err
			}
			addrs[i] = addr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.E(op, err)
	}
	return addrs, nil
}
