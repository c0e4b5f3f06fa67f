package dbutils

import (
	"encoding/binary"

	"github.com/ArthurTh0mas/martinez/common"
)

// EncodeBlockNumber encodes a block number as 8-byte big-endian (§6.1).
func EncodeBlockNumber(number uint64) []byte {
	return common.EncodeBlockNumber(number)
}

// HeaderKey builds the composite (BlockNumber, H256) key used by Header,
// HeadersTotalDifficulty and BlockBody (§3.1's HeaderKey).
func HeaderKey(number uint64, hash common.Hash) []byte {
	k := make([]byte, 8+common.HashLength)
	binary.BigEndian.PutUint64(k, number)
	copy(k[8:], hash[:])
	return k
}

// HeaderKeyNumber extracts the BlockNumber prefix of a HeaderKey.
func HeaderKeyNumber(k []byte) uint64 { return binary.BigEndian.Uint64(k[:8]) }

// HeaderKeyHash extracts the H256 suffix of a HeaderKey.
func HeaderKeyHash(k []byte) common.Hash { return common.BytesToHash(k[8 : 8+common.HashLength]) }

// GenerateStoragePrefix builds the Address|addrHash + Incarnation prefix
// shared by PlainState/HashedStorage storage rows and by
// PlainContractCode/ContractCode (§3.2, §6.1).
func GenerateStoragePrefix(addressHash []byte, incarnation uint64) []byte {
	prefix := make([]byte, len(addressHash)+8)
	copy(prefix, addressHash)
	binary.BigEndian.PutUint64(prefix[len(addressHash):], incarnation)
	return prefix
}

// PlainGenerateStoragePrefix is GenerateStoragePrefix under the plain
// (unhashed) address form; kept as a distinct name because call sites in
// core/state disambiguate plain vs hashed explicitly, mirroring the
// teacher's own naming.
func PlainGenerateStoragePrefix(address []byte, incarnation uint64) []byte {
	return GenerateStoragePrefix(address, incarnation)
}

// GenerateCompositeStorageKey builds the full logical storage key
// Address|addrHash + Incarnation + Location (§3.2's PlainState storage
// row key / HashedStorage key), before auto-dup splitting is applied by
// the KV layer.
func GenerateCompositeStorageKey(addressHash []byte, incarnation uint64, locationHash common.Hash) []byte {
	key := make([]byte, len(addressHash)+8+common.HashLength)
	copy(key, addressHash)
	binary.BigEndian.PutUint64(key[len(addressHash):], incarnation)
	copy(key[len(addressHash)+8:], locationHash[:])
	return key
}

// CompositeKeyWithoutIncarnation strips the 8-byte incarnation field out
// of a composite storage key, used by the as-of-block history walk when
// it must compare plain addresses/hashes across incarnations.
func CompositeKeyWithoutIncarnation(key []byte) []byte {
	if len(key) == common.AddressLength+8+common.HashLength {
		out := make([]byte, common.AddressLength+common.HashLength)
		copy(out, key[:common.AddressLength])
		copy(out[common.AddressLength:], key[common.AddressLength+8:])
		return out
	}
	if len(key) == common.HashLength+8+common.HashLength {
		out := make([]byte, common.HashLength*2)
		copy(out, key[:common.HashLength])
		copy(out[common.HashLength:], key[common.HashLength+8:])
		return out
	}
	return key
}

// PlainParseStoragePrefix reads back address and incarnation from a
// GenerateStoragePrefix result.
func PlainParseStoragePrefix(prefix []byte) (address common.Address, incarnation uint64) {
	copy(address[:], prefix[:common.AddressLength])
	incarnation = binary.BigEndian.Uint64(prefix[common.AddressLength:])
	return
}

// ChangeSetByIndexBucket picks AccountChangeSet or StorageChangeSet for
// the given history kind; "plain" is accepted for API parity with the
// teacher (every changeset in this schema is plain-keyed, there is no
// separate hashed-changeset bucket) but otherwise ignored.
func ChangeSetByIndexBucket(plain, storage bool) string {
	if storage {
		return StorageChangeSet
	}
	return AccountChangeSet
}
