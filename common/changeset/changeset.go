// Package changeset implements the per-block changeset codec of §3.2/§3.3:
// AccountChangeSet/StorageChangeSet record the value an account or
// storage slot had at the *start* of a block, keyed for later as-of-block
// reads and reorg unwinds. Grounded on the teacher's
// `core/state/db_state_writer.go` (`ChangeSetWriter`, `EncodeAccounts`,
// `EncodeStorage`, `GetAccountChanges`/`GetStorageChanges`) and
// `core/state/history.go` (`AccountChangeSetPlainBytes.Find`,
// `StorageChangeSetPlainBytes.FindWithoutIncarnation`).
package changeset

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/holiman/uint256"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/core/types/accounts"
)

var ErrNotFound = errors.New("changeset: not found")

// Change is one (key, prior-value) pair; Key is the plain table key the
// change applies to (a bare Address for accounts, a composite storage key
// for storage slots), Value is the encoding of the value as it stood
// before this block's first write.
type Change struct {
	Key   []byte
	Value []byte
}

// ChangeSet is a sorted collection of Change entries for one block.
type ChangeSet struct {
	Changes []Change
}

func (cs *ChangeSet) Len() int { return len(cs.Changes) }

func (cs *ChangeSet) add(key, value []byte) {
	cs.Changes = append(cs.Changes, Change{Key: common.CopyBytes(key), Value: common.CopyBytes(value)})
}

func (cs *ChangeSet) sort() {
	sort.Slice(cs.Changes, func(i, j int) bool { return bytes.Compare(cs.Changes[i].Key, cs.Changes[j].Key) < 0 })
}

// Find returns the value recorded for an exact key match.
func (cs *ChangeSet) Find(key []byte) ([]byte, error) {
	i := sort.Search(len(cs.Changes), func(i int) bool { return bytes.Compare(cs.Changes[i].Key, key) >= 0 })
	if i < len(cs.Changes) && bytes.Equal(cs.Changes[i].Key, key) {
		return cs.Changes[i].Value, nil
	}
	return nil, ErrNotFound
}

// ----- ChangeSetWriter (mirrors DbStateWriter's csw field) ----------------

// ChangeSetWriter accumulates one block's worth of account/storage
// changes, grounded on the teacher's `ChangeSetWriter` referenced from
// `DbStateWriter` (`dsw.csw.UpdateAccountData`, `.DeleteAccount`,
// `.WriteAccountStorage`, `.CreateContract`, `.GetAccountChanges`,
// `.GetStorageChanges`).
type ChangeSetWriter struct {
	accountChanges map[common.Address][]byte // prior encoded value, nil means "was absent"
	storageChanges map[string][]byte          // compositeKey(addr,incarnation,location) -> prior zeroless value
}

func NewChangeSetWriter() *ChangeSetWriter {
	return &ChangeSetWriter{
		accountChanges: map[common.Address][]byte{},
		storageChanges: map[string][]byte{},
	}
}

func (w *ChangeSetWriter) UpdateAccountData(_ context.Context, address common.Address, original, _ *accounts.Account) error {
	if _, ok := w.accountChanges[address]; ok {
		return nil // first-write-of-block already recorded the pre-block value
	}
	w.accountChanges[address] = originalAccountEncoding(original)
	return nil
}

func (w *ChangeSetWriter) DeleteAccount(_ context.Context, address common.Address, original *accounts.Account) error {
	if _, ok := w.accountChanges[address]; ok {
		return nil
	}
	w.accountChanges[address] = originalAccountEncoding(original)
	return nil
}

func (w *ChangeSetWriter) UpdateAccountCode(address common.Address, _ uint64, _ common.Hash, _ []byte) error {
	// code changes do not themselves produce a changeset row (§3.2); the
	// account-row changeset already captures CodeHash transitions.
	_ = address
	return nil
}

func (w *ChangeSetWriter) WriteAccountStorage(_ context.Context, address common.Address, incarnation uint64, key *common.Hash, original, value *uint256.Int) error {
	if *original == *value {
		return nil
	}
	ck := storageChangeKey(address, incarnation, *key)
	if _, ok := w.storageChanges[ck]; ok {
		return nil
	}
	w.storageChanges[ck] = original.Bytes()
	return nil
}

func (w *ChangeSetWriter) CreateContract(address common.Address) error { _ = address; return nil }

func originalAccountEncoding(original *accounts.Account) []byte {
	if original == nil || !original.Initialised {
		return []byte{}
	}
	buf := make([]byte, original.EncodingLengthForStorage())
	original.EncodeForStorage(buf)
	return buf
}

func storageChangeKey(address common.Address, incarnation uint64, key common.Hash) string {
	buf := make([]byte, common.AddressLength+8+common.HashLength)
	copy(buf, address[:])
	binary.BigEndian.PutUint64(buf[common.AddressLength:], incarnation)
	copy(buf[common.AddressLength+8:], key[:])
	return string(buf)
}

// GetAccountChanges materialises the accumulated account changes as a
// sorted ChangeSet keyed by bare Address.
func (w *ChangeSetWriter) GetAccountChanges() (*ChangeSet, error) {
	cs := &ChangeSet{}
	for addr, val := range w.accountChanges {
		cs.add(addr[:], val)
	}
	cs.sort()
	return cs, nil
}

// GetStorageChanges materialises the accumulated storage changes as a
// sorted ChangeSet keyed by the composite (address, incarnation, location).
func (w *ChangeSetWriter) GetStorageChanges() (*ChangeSet, error) {
	cs := &ChangeSet{}
	for k, val := range w.storageChanges {
		cs.add([]byte(k), val)
	}
	cs.sort()
	return cs, nil
}

// ----- wire encoding --------------------------------------------------

// EncodeAccounts/EncodeStorage serialise a ChangeSet into the bytes
// stored under AccountChangeSet[n]/StorageChangeSet[n]: a count, then
// each (keyLen u16, key, valLen u32, value) tuple in ascending key order.
func EncodeAccounts(cs *ChangeSet) ([]byte, error) { return encode(cs) }
func EncodeStorage(cs *ChangeSet) ([]byte, error)  { return encode(cs) }

func encode(cs *ChangeSet) ([]byte, error) {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(cs.Changes)))
	buf.Write(countBuf[:])
	for _, c := range cs.Changes {
		var klen [2]byte
		binary.BigEndian.PutUint16(klen[:], uint16(len(c.Key)))
		buf.Write(klen[:])
		buf.Write(c.Key)
		var vlen [4]byte
		binary.BigEndian.PutUint32(vlen[:], uint32(len(c.Value)))
		buf.Write(vlen[:])
		buf.Write(c.Value)
	}
	return buf.Bytes(), nil
}

func decode(enc []byte) (*ChangeSet, error) {
	cs := &ChangeSet{}
	if len(enc) < 4 {
		return cs, nil
	}
	count := binary.BigEndian.Uint32(enc[:4])
	pos := 4
	for i := uint32(0); i < count; i++ {
		if pos+2 > len(enc) {
			return nil, errors.New("changeset: truncated key length")
		}
		klen := int(binary.BigEndian.Uint16(enc[pos : pos+2]))
		pos += 2
		if pos+klen > len(enc) {
			return nil, errors.New("changeset: truncated key")
		}
		key := enc[pos : pos+klen]
		pos += klen
		if pos+4 > len(enc) {
			return nil, errors.New("changeset: truncated value length")
		}
		vlen := int(binary.BigEndian.Uint32(enc[pos : pos+4]))
		pos += 4
		if pos+vlen > len(enc) {
			return nil, errors.New("changeset: truncated value")
		}
		value := enc[pos : pos+vlen]
		pos += vlen
		cs.Changes = append(cs.Changes, Change{Key: key, Value: value})
	}
	return cs, nil
}

// AccountChangeSetBytes is the raw encoded AccountChangeSet[n] row,
// supporting direct Find without a full decode-to-struct round trip.
type AccountChangeSetBytes []byte

func (b AccountChangeSetBytes) Find(key []byte) ([]byte, error) {
	cs, err := decode(b)
	if err != nil {
		return nil, err
	}
	return cs.Find(key)
}

// StorageChangeSetBytes is the raw encoded StorageChangeSet[n] row.
type StorageChangeSetBytes []byte

// FindWithoutIncarnation looks up a storage change by (address, location),
// ignoring the incarnation field embedded in the stored composite key —
// used by as-of-block reads that only have the plain (address, location)
// pair and must match any incarnation (§4.3).
func (b StorageChangeSetBytes) FindWithoutIncarnation(address, location []byte) ([]byte, error) {
	cs, err := decode(b)
	if err != nil {
		return nil, err
	}
	for _, c := range cs.Changes {
		if len(c.Key) < len(address)+8+len(location) {
			continue
		}
		if bytes.Equal(c.Key[:len(address)], address) && bytes.Equal(c.Key[len(address)+8:], location) {
			return c.Value, nil
		}
	}
	return nil, ErrNotFound
}

// Walker lets a changeset be replayed in storage order, used by the
// reorg/unwind path (§4.6 "read changesets in reverse, revert PlainState").
type Walker interface {
	Walk(f func(k, v []byte) error) error
}

type changeSetWalker struct{ cs *ChangeSet }

func (w changeSetWalker) Walk(f func(k, v []byte) error) error {
	for _, c := range w.cs.Changes {
		if err := f(c.Key, c.Value); err != nil {
			return err
		}
	}
	return nil
}

// WalkerAdapter decodes raw changeset bytes into a Walker, grounded on
// `changeset.Mapper[...].WalkerAdapter` call sites in the teacher's
// `core/state/history.go`.
func WalkerAdapter(v []byte) Walker {
	cs, err := decode(v)
	if err != nil {
		return changeSetWalker{cs: &ChangeSet{}}
	}
	return changeSetWalker{cs: cs}
}
