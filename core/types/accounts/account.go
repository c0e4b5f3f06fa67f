// Package accounts holds the compact "for-storage" Account codec (§4.2):
// an encoding that omits zero-leading bytes of numeric fields and entirely
// omits fields equal to their zero value, grounded on the teacher's
// `core/state/db_state_writer.go` which calls
// `account.EncodingLengthForStorage()`/`account.EncodeForStorage(buf)` and
// on `core/state/history.go`'s `acc.DecodeForStorage(data)`/
// `acc.IsEmptyCodeHash()`.
package accounts

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/ArthurTh0mas/martinez/common"
)

// EmptyCodeHash is keccak256 of the empty byte string — the CodeHash of
// every externally-owned account and of a contract with no deployed code.
var EmptyCodeHash = common.HexToHash("c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")

// EmptyRoot is the RLP empty-root constant, keccak256(RLP("")).
var EmptyRoot = common.HexToHash("56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")

// Account is the domain account record (§4.2): nonce, balance, code hash,
// incarnation, plus an optional cached storage trie root.
type Account struct {
	Initialised bool
	Nonce       uint64
	Balance     uint256.Int
	Root        common.Hash // storage trie root, only meaningful when Initialised && non-empty
	CodeHash    common.Hash
	Incarnation uint64
}

func (a *Account) IsEmptyCodeHash() bool {
	return a.CodeHash == common.Hash{} || a.CodeHash == EmptyCodeHash
}

func (a *Account) IsEmptyRoot() bool {
	return a.Root == common.Hash{} || a.Root == EmptyRoot
}

// SelfCopy returns a deep copy, used by callers (e.g. the state writer's
// "originalAccountData" path) that must mutate a scratch copy without
// disturbing the caller's original.
func (a *Account) SelfCopy() *Account {
	cpy := *a
	return &cpy
}

// field-presence bitmap layout of the for-storage encoding, in the order
// the fields are emitted: bit0=nonce, bit1=balance, bit2=incarnation, bit3=codehash.
const (
	fieldNonce = 1 << iota
	fieldBalance
	fieldIncarnation
	fieldCodeHash
)

func bitsForLen(n int) int {
	bits := 0
	for n > 0 {
		bits++
		n >>= 8
	}
	return bits
}

// EncodingLengthForStorage returns the byte length EncodeForStorage will
// write: one field-set byte, then each non-zero field's zeroless bytes
// preceded by a one-byte length.
func (a *Account) EncodingLengthForStorage() int {
	structLength := 1 // field-set byte
	if a.Nonce > 0 {
		structLength += 1 + byteLen64(a.Nonce)
	}
	if !a.Balance.IsZero() {
		structLength += 1 + len(a.Balance.Bytes())
	}
	if a.Incarnation > 0 {
		structLength += 1 + byteLen64(a.Incarnation)
	}
	if !a.IsEmptyCodeHash() {
		structLength += 1 + common.HashLength
	}
	return structLength
}

func byteLen64(v uint64) int {
	n := 0
	for v > 0 {
		n++
		v >>= 8
	}
	return n
}

func zerolessBytes64(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// EncodeForStorage writes the compact encoding into buf, which must be at
// least EncodingLengthForStorage() bytes.
func (a *Account) EncodeForStorage(buf []byte) {
	var fieldSet byte
	pos := 1
	if a.Nonce > 0 {
		fieldSet |= fieldNonce
		n := byteLen64(a.Nonce)
		buf[pos] = byte(n)
		copy(buf[pos+1:], zerolessBytes64(a.Nonce, n))
		pos += 1 + n
	}
	if !a.Balance.IsZero() {
		fieldSet |= fieldBalance
		b := a.Balance.Bytes()
		buf[pos] = byte(len(b))
		copy(buf[pos+1:], b)
		pos += 1 + len(b)
	}
	if a.Incarnation > 0 {
		fieldSet |= fieldIncarnation
		n := byteLen64(a.Incarnation)
		buf[pos] = byte(n)
		copy(buf[pos+1:], zerolessBytes64(a.Incarnation, n))
		pos += 1 + n
	}
	if !a.IsEmptyCodeHash() {
		fieldSet |= fieldCodeHash
		buf[pos] = common.HashLength
		copy(buf[pos+1:], a.CodeHash[:])
		pos += 1 + common.HashLength
	}
	buf[0] = fieldSet
}

// DecodeForStorage reverses EncodeForStorage.
func (a *Account) DecodeForStorage(enc []byte) error {
	*a = Account{}
	if len(enc) == 0 {
		return nil
	}
	a.Initialised = true
	fieldSet := enc[0]
	pos := 1
	if fieldSet&fieldNonce != 0 {
		n := int(enc[pos])
		pos++
		if pos+n > len(enc) {
			return fmt.Errorf("accounts: DecodeForStorage nonce overflow, len %d", len(enc))
		}
		a.Nonce = decodeUint64(enc[pos : pos+n])
		pos += n
	}
	if fieldSet&fieldBalance != 0 {
		n := int(enc[pos])
		pos++
		if pos+n > len(enc) {
			return fmt.Errorf("accounts: DecodeForStorage balance overflow, len %d", len(enc))
		}
		a.Balance.SetBytes(enc[pos : pos+n])
		pos += n
	}
	if fieldSet&fieldIncarnation != 0 {
		n := int(enc[pos])
		pos++
		if pos+n > len(enc) {
			return fmt.Errorf("accounts: DecodeForStorage incarnation overflow, len %d", len(enc))
		}
		a.Incarnation = decodeUint64(enc[pos : pos+n])
		pos += n
	}
	if fieldSet&fieldCodeHash != 0 {
		n := int(enc[pos])
		pos++
		if n != common.HashLength || pos+n > len(enc) {
			return fmt.Errorf("accounts: DecodeForStorage codehash bad length %d", n)
		}
		copy(a.CodeHash[:], enc[pos:pos+n])
		pos += n
	} else {
		a.CodeHash = EmptyCodeHash
	}
	return nil
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
