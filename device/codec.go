// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package device

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/hdkeys"
	"github.com/multiwallet/keysafe/walletcrypt"
)

const rowVersion = 1

const xpubLen = hdkeys.PubKeyLen + hdkeys.ChainCodeLen

// rowReader consumes a serialized row, recording the first short read.
type rowReader struct {
	b   []byte
	bad bool
}

func (r *rowReader) next(n int) []byte {
	if r.bad || len(r.b) < n {
		r.bad = true
		if n > 8 {
			return nil
		}
		return make([]byte, n)
	}
	v := r.b[:n]
	r.b = r.b[n:]
	return v
}

func (r *rowReader) byte() byte     { return r.next(1)[0] }
func (r *rowReader) uint16() uint16 { return binary.LittleEndian.Uint16(r.next(2)) }
func (r *rowReader) uint32() uint32 { return binary.LittleEndian.Uint32(r.next(4)) }
func (r *rowReader) int64() int64   { return int64(binary.LittleEndian.Uint64(r.next(8))) }

func (r *rowReader) copyN(n int) []byte {
	return append([]byte(nil), r.next(n)...)
}

func putUnix(b []byte, t time.Time) {
	var s int64
	if !t.IsZero() {
		s = t.Unix()
	}
	binary.LittleEndian.PutUint64(b, uint64(s))
}

func fromUnix(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}

// serializeDevice returns the device row.  The root address is the row key
// and is not included.
func serializeDevice(d *Device) ([]byte, error) {
	// The serialized device format is:
	//   <version><type><index><created><backedup><backedupat><aliaslen><alias><source>
	//
	// 1 byte version + 1 byte type + 4 bytes index + 8 bytes created unix +
	// 1 byte backed up flag + 8 bytes backed up unix + 2 bytes alias len +
	// alias + source data
	//
	// Source data by type:
	//   local-mnemonic: 65 bytes xpub + 4 bytes blob len + blob
	//   ledger:         1 byte has xpub + [65 bytes xpub]
	//   smart-wallet:   20 bytes owner address
	//   watch-only:     nothing
	buf := make([]byte, 25, 25+len(d.Alias)+xpubLen+4)
	buf[0] = rowVersion
	buf[1] = byte(d.Type())
	binary.LittleEndian.PutUint32(buf[2:6], d.Index)
	putUnix(buf[6:14], d.CreatedAt)
	if d.BackedUp {
		buf[14] = 1
	}
	putUnix(buf[15:23], d.BackedUpAt)
	binary.LittleEndian.PutUint16(buf[23:25], uint16(len(d.Alias)))
	buf = append(buf, d.Alias...)

	switch s := d.Source.(type) {
	case *LocalMnemonic:
		xpub, err := s.Xpub.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf = append(buf, xpub...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.EncryptedWallet)))
		buf = append(buf, s.EncryptedWallet...)
	case *Ledger:
		if s.Xpub == nil {
			buf = append(buf, 0)
			break
		}
		xpub, err := s.Xpub.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf = append(buf, 1)
		buf = append(buf, xpub...)
	case *SmartWallet:
		buf = append(buf, s.Owner[:]...)
	case *WatchOnly:
	default:
		return nil, errors.E(errors.Bug, errors.Errorf("unknown device source %T", s))
	}
	return buf, nil
}

func deserializeDevice(key, row []byte) (*Device, error) {
	if len(key) != common.AddressLength {
		return nil, errors.E(errors.Encoding, errors.Errorf("bad device key len %d", len(key)))
	}
	r := &rowReader{b: row}
	if v := r.byte(); v != rowVersion {
		return nil, errors.E(errors.Encoding, errors.Errorf("device %x: unknown row version %d", key, v))
	}
	typ := Type(r.byte())
	d := &Device{
		RootAddress: common.BytesToAddress(key),
		Index:       r.uint32(),
		CreatedAt:   fromUnix(r.int64()),
		BackedUp:    r.byte() == 1,
		BackedUpAt:  fromUnix(r.int64()),
	}
	d.Alias = string(r.next(int(r.uint16())))

	readXpub := func() (*hdkeys.ExtendedPublicKey, error) {
		x := new(hdkeys.ExtendedPublicKey)
		b := r.next(xpubLen)
		if r.bad {
			return nil, nil
		}
		if err := x.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return x, nil
	}
	switch typ {
	case TypeLocalMnemonic:
		xpub, err := readXpub()
		if err != nil {
			return nil, err
		}
		n := r.uint32()
		if uint32(len(r.b)) < n {
			r.bad = true
		}
		blob := walletcrypt.Ciphertext(r.copyN(int(n)))
		d.Source = &LocalMnemonic{Xpub: xpub, EncryptedWallet: blob}
	case TypeLedger:
		s := &Ledger{}
		if r.byte() == 1 {
			xpub, err := readXpub()
			if err != nil {
				return nil, err
			}
			s.Xpub = xpub
		}
		d.Source = s
	case TypeSmartWallet:
		d.Source = &SmartWallet{Owner: common.BytesToAddress(r.next(common.AddressLength))}
	case TypeWatchOnly:
		d.Source = &WatchOnly{}
	default:
		return nil, errors.E(errors.Encoding, errors.Errorf("device %x: unknown type %d", key, typ))
	}
	if r.bad || len(r.b) != 0 {
		return nil, errors.E(errors.Encoding, errors.Errorf("device %x: bad row len %d", key, len(row)))
	}
	return d, nil
}

func accountKey(index uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, index)
	return k
}

func serializeAccount(a *Account) []byte {
	// The serialized account format is:
	//   <version><visible><address><aliaslen><alias>
	//
	// 1 byte version + 1 byte visible flag + 20 bytes address + 2 bytes
	// alias len + alias
	buf := make([]byte, 24, 24+len(a.Alias))
	buf[0] = rowVersion
	if a.Visible {
		buf[1] = 1
	}
	copy(buf[2:22], a.Address[:])
	binary.LittleEndian.PutUint16(buf[22:24], uint16(len(a.Alias)))
	return append(buf, a.Alias...)
}

func deserializeAccount(root common.Address, key, row []byte) (*Account, error) {
	if len(key) != 4 {
		return nil, errors.E(errors.Encoding, errors.Errorf("bad account key len %d", len(key)))
	}
	r := &rowReader{b: row}
	if v := r.byte(); v != rowVersion {
		return nil, errors.E(errors.Encoding, errors.Errorf("account %x/%x: unknown row version %d", root, key, v))
	}
	a := &Account{
		RootAddress: root,
		Index:       binary.BigEndian.Uint32(key),
		Visible:     r.byte() == 1,
		Address:     common.BytesToAddress(r.next(common.AddressLength)),
	}
	a.Alias = string(r.next(int(r.uint16())))
	if r.bad || len(r.b) != 0 {
		return nil, errors.E(errors.Encoding, errors.Errorf("account %x/%x: bad row len %d", root, key, len(row)))
	}
	return a, nil
}
