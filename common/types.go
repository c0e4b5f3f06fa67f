// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package common

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const (
	HashLength        = 32
	AddressLength     = 20
	IncarnationLength = 8
)

// Hash is the 32-byte output of keccak256, also used for storage locations
// and as H256 in the table layouts of §3.1.
type Hash [HashLength]byte

func BytesToHash(b []byte) (h Hash) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func HexToHash(s string) Hash { return BytesToHash(FromHex(s)) }

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) Hex() string    { return h.String() }
func (h Hash) IsZero() bool   { return h == Hash{} }

// Address is the 20-byte Ethereum account address.
type Address [AddressLength]byte

func BytesToAddress(b []byte) (a Address) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

func HexToAddress(s string) Address {
	return BytesToAddress(FromHex(s))
}

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }
func (a Address) Hex() string    { return a.String() }
func (a Address) IsZero() bool   { return a == Address{} }

// BlockNumber is the unsigned 64-bit monotonic block height (§3.1).
type BlockNumber uint64

// Incarnation is bumped on self-destruct+recreate of a contract address (§3.1).
type Incarnation uint64

// TxIndex is the global, monotonically increasing transaction ordinal (§3.1).
type TxIndex uint64

// EncodeBlockNumber encodes n as 8-byte big-endian, the wire form required
// by every table keyed on BlockNumber (§6.1).
func EncodeBlockNumber(n uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, n)
	return enc
}

func DecodeBlockNumber(enc []byte) (uint64, error) {
	if len(enc) != 8 {
		return 0, fmt.Errorf("invalid block number encoding length: %d", len(enc))
	}
	return binary.BigEndian.Uint64(enc), nil
}

// HashData returns keccak256(data) as a Hash, used throughout to compute
// the hashed-key layout of §3.2 (HashedAccount/HashedStorage) from plain
// addresses/locations.
func HashData(data []byte) (Hash, error) {
	d := sha3.NewLegacyKeccak256()
	if _, err := d.Write(data); err != nil {
		return Hash{}, err
	}
	var h Hash
	d.Sum(h[:0])
	return h, nil
}

func MustHashData(data []byte) Hash {
	h, err := HashData(data)
	if err != nil {
		panic(err)
	}
	return h
}

// CopyBytes returns an independent copy of b.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// FromHex decodes a 0x-prefixed or bare hex string, ignoring errors (used
// by test fixtures and CLI flag parsing, matching go-ethereum's common
// package convention).
func FromHex(s string) []byte {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}

// StorageSize is a wrapper around a float value that supports user friendly
// formatting, used by stage progress logging (mirrors go-ethereum's
// common.StorageSize).
type StorageSize float64

func (s StorageSize) String() string {
	switch {
	case s > 1099511627776:
		return fmt.Sprintf("%.2f TiB", s/1099511627776)
	case s > 1073741824:
		return fmt.Sprintf("%.2f GiB", s/1073741824)
	case s > 1048576:
		return fmt.Sprintf("%.2f MiB", s/1048576)
	case s > 1024:
		return fmt.Sprintf("%.2f KiB", s/1024)
	default:
		return fmt.Sprintf("%.2f B", s)
	}
}

// ErrStopped is returned by Stopped when the quit channel has fired; stages
// check it between batches per §5 "Cancellation and timeouts".
var ErrStopped = errors.New("stopped")

// Stopped returns ErrStopped if quit has been closed/signalled, nil otherwise.
// It never blocks.
func Stopped(quit <-chan struct{}) error {
	if quit == nil {
		return nil
	}
	select {
	case <-quit:
		return ErrStopped
	default:
		return nil
	}
}
