package vm

import (
	"golang.org/x/crypto/sha3"

	"github.com/ArthurTh0mas/martinez/common"
)

// CreateAddress derives the address of a contract deployed by CREATE:
// keccak256(rlp(sender, nonce))[12:] (§4.5).
func CreateAddress(sender common.Address, nonce uint64) common.Address {
	data := rlpEncodeCreateAddressInputs(sender, nonce)
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	var h common.Hash
	d.Sum(h[:0])
	return common.BytesToAddress(h[12:])
}

// CreateAddress2 derives the address of a contract deployed by CREATE2:
// keccak256(0xff ++ sender ++ salt ++ keccak256(initCode))[12:] (§4.5
// "CREATE2 salt-based address derivation").
func CreateAddress2(sender common.Address, salt [32]byte, initCodeHash common.Hash) common.Address {
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte{0xff})
	d.Write(sender[:])
	d.Write(salt[:])
	d.Write(initCodeHash[:])
	var h common.Hash
	d.Sum(h[:0])
	return common.BytesToAddress(h[12:])
}

func rlpEncodeCreateAddressInputs(sender common.Address, nonce uint64) []byte {
	nonceBytes := trimLeadingZeroBytes(encodeUint64BE(nonce))
	addrField := append([]byte{multiByteHeaderPrefixOfLen20}, sender[:]...)
	var nonceField []byte
	switch {
	case nonce == 0:
		nonceField = []byte{0x80}
	case len(nonceBytes) == 1 && nonceBytes[0] < 0x80:
		nonceField = nonceBytes
	default:
		nonceField = append([]byte{0x80 + byte(len(nonceBytes))}, nonceBytes...)
	}
	payload := append(addrField, nonceField...)
	return append(rlpListLenPrefix(len(payload)), payload...)
}

// rlpListLenPrefix is the RLP list-header encoding of a payload of the
// given length; duplicated from trie's rlp.go rather than imported, since
// core/vm does not otherwise depend on the trie package.
func rlpListLenPrefix(payloadLen int) []byte {
	if payloadLen < 56 {
		return []byte{0xc0 + byte(payloadLen)}
	}
	lenBytes := trimLeadingZeroBytes(encodeUint64BE(uint64(payloadLen)))
	return append([]byte{0xf7 + byte(len(lenBytes))}, lenBytes...)
}

const multiByteHeaderPrefixOfLen20 = 0x80 + 20

func encodeUint64BE(v uint64) []byte {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b[:]
}

func trimLeadingZeroBytes(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return b[i:]
}
