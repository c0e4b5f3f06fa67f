package state

import (
	"bytes"
	"context"
	"sort"

	"github.com/holiman/uint256"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/core/types/accounts"
	"github.com/ArthurTh0mas/martinez/ethdb"
	"github.com/ArthurTh0mas/martinez/trie"
)

// stateObject is the in-memory working copy of one account plus its
// touched storage slots, journaled so a call frame can be rolled back on
// revert without re-reading the database (§4.5 "revert restores exactly
// the prior values of every journal entry").
type stateObject struct {
	address     common.Address
	data        accounts.Account
	original    accounts.Account
	code        []byte
	dirtyCode   bool
	selfdestruct bool
	newlyCreated bool

	storage map[common.Hash]uint256.Int
}

func newStateObject(address common.Address, data accounts.Account) *stateObject {
	return &stateObject{
		address:  address,
		data:     data,
		original: *data.SelfCopy(),
		storage:  make(map[common.Hash]uint256.Int),
	}
}

// journalEntry is one undoable mutation (§4.5's EVM interrupt/host model
// requires precise unwind on revert; grounded on the snapshot/revert idiom
// every go-ethereum-lineage StateDB exposes, generalized here to plain,
// not hashed, addressing).
type journalEntry interface {
	revert(s *IntraBlockState)
}

type (
	createObjectChange struct{ address common.Address }
	balanceChange       struct {
		address common.Address
		prev    uint256.Int
	}
	nonceChange struct {
		address common.Address
		prev    uint64
	}
	storageChange struct {
		address  common.Address
		key      common.Hash
		prevalue uint256.Int
	}
	codeChange struct {
		address            common.Address
		prevcode           []byte
		prevcodeHash       common.Hash
		prevIncarnation    uint64
	}
	selfdestructChange struct {
		address common.Address
		prev    bool
	}
	touchChange struct{ address common.Address }
)

func (ch createObjectChange) revert(s *IntraBlockState) { delete(s.stateObjects, ch.address) }
func (ch balanceChange) revert(s *IntraBlockState)       { s.getOrNewStateObject(ch.address).data.Balance = ch.prev }
func (ch nonceChange) revert(s *IntraBlockState)         { s.getOrNewStateObject(ch.address).data.Nonce = ch.prev }
func (ch storageChange) revert(s *IntraBlockState) {
	s.getOrNewStateObject(ch.address).storage[ch.key] = ch.prevalue
}
func (ch codeChange) revert(s *IntraBlockState) {
	obj := s.getOrNewStateObject(ch.address)
	obj.code = ch.prevcode
	obj.data.CodeHash = ch.prevcodeHash
	obj.data.Incarnation = ch.prevIncarnation
}
func (ch selfdestructChange) revert(s *IntraBlockState) {
	s.getOrNewStateObject(ch.address).selfdestruct = ch.prev
}
func (ch touchChange) revert(*IntraBlockState) {}

// IntraBlockState is the EVM host's account/storage view for one block:
// reads fall through stateObjects -> PlainState (via GetAsOf at the
// block's start timestamp), writes land in stateObjects and are flushed
// to a WriterWithChangeSets at block end (§4.5 interrupt protocol's
// ReadAccount/ReadStorage/UpdateAccount/UpdateStorage/EraseStorage).
type IntraBlockState struct {
	kv      ethdb.KV
	blockNr uint64

	stateObjects map[common.Address]*stateObject
	journal      []journalEntry
	nextRevision int
	validRevisions []struct {
		id    int
		index int
	}

	touched map[common.Address]struct{}
}

func New(kv ethdb.KV, blockNr uint64) *IntraBlockState {
	return &IntraBlockState{
		kv:           kv,
		blockNr:      blockNr,
		stateObjects: make(map[common.Address]*stateObject),
		touched:      make(map[common.Address]struct{}),
	}
}

func (s *IntraBlockState) Snapshot() int {
	id := s.nextRevision
	s.nextRevision++
	s.validRevisions = append(s.validRevisions, struct {
		id    int
		index int
	}{id, len(s.journal)})
	return id
}

func (s *IntraBlockState) RevertToSnapshot(revid int) {
	idx := -1
	for i, r := range s.validRevisions {
		if r.id == revid {
			idx = i
			break
		}
	}
	if idx == -1 {
		panic("state: revision id not found")
	}
	snapshot := s.validRevisions[idx].index
	for i := len(s.journal) - 1; i >= snapshot; i-- {
		s.journal[i].revert(s)
	}
	s.journal = s.journal[:snapshot]
	s.validRevisions = s.validRevisions[:idx]
}

func (s *IntraBlockState) getOrNewStateObject(address common.Address) *stateObject {
	if obj, ok := s.stateObjects[address]; ok {
		return obj
	}
	obj := s.loadStateObject(address)
	s.stateObjects[address] = obj
	return obj
}

func (s *IntraBlockState) loadStateObject(address common.Address) *stateObject {
	enc, err := GetAsOf(s.kv, false, address[:], s.blockNr)
	var acc accounts.Account
	if err == nil && len(enc) > 0 {
		if decErr := acc.DecodeForStorage(enc); decErr == nil {
			return newStateObject(address, acc)
		}
	}
	acc = accounts.Account{}
	return &stateObject{address: address, data: acc, original: acc, storage: make(map[common.Hash]uint256.Int), newlyCreated: true}
}

func (s *IntraBlockState) touch(address common.Address) {
	if _, ok := s.touched[address]; !ok {
		s.touched[address] = struct{}{}
		s.journal = append(s.journal, touchChange{address: address})
	}
}

// GetBalance/SetBalance/GetNonce/SetNonce/GetCode/SetCode/GetState/
// SetState/Exist/Empty implement the host-side surface the interpreter's
// interrupt protocol resolves ReadAccount/ReadStorage/UpdateAccount/
// UpdateStorage against (§4.5).
func (s *IntraBlockState) GetBalance(address common.Address) *uint256.Int {
	obj := s.getOrNewStateObject(address)
	return &obj.data.Balance
}

func (s *IntraBlockState) AddBalance(address common.Address, amount *uint256.Int) {
	obj := s.getOrNewStateObject(address)
	s.journal = append(s.journal, balanceChange{address: address, prev: obj.data.Balance})
	obj.data.Balance.Add(&obj.data.Balance, amount)
	s.touch(address)
}

func (s *IntraBlockState) SubBalance(address common.Address, amount *uint256.Int) {
	obj := s.getOrNewStateObject(address)
	s.journal = append(s.journal, balanceChange{address: address, prev: obj.data.Balance})
	obj.data.Balance.Sub(&obj.data.Balance, amount)
	s.touch(address)
}

func (s *IntraBlockState) GetNonce(address common.Address) uint64 {
	return s.getOrNewStateObject(address).data.Nonce
}

func (s *IntraBlockState) SetNonce(address common.Address, nonce uint64) {
	obj := s.getOrNewStateObject(address)
	s.journal = append(s.journal, nonceChange{address: address, prev: obj.data.Nonce})
	obj.data.Nonce = nonce
	s.touch(address)
}

func (s *IntraBlockState) GetCodeHash(address common.Address) common.Hash {
	return s.getOrNewStateObject(address).data.CodeHash
}

// GetCode returns the account's deployed bytecode, lazily resolving it
// from the Code table by CodeHash the first time a not-yet-dirty account
// is read (§4.5 Host.GetCode/GetCodeSize).
func (s *IntraBlockState) GetCode(address common.Address) []byte {
	obj := s.getOrNewStateObject(address)
	if obj.code != nil || obj.dirtyCode {
		return obj.code
	}
	if obj.data.IsEmptyCodeHash() {
		return nil
	}
	var code []byte
	_ = s.kv.View(context.Background(), func(tx ethdb.Tx) error {
		v, err := tx.Get(dbutils.Code, obj.data.CodeHash[:])
		if err != nil {
			return nil
		}
		code = common.CopyBytes(v)
		return nil
	})
	obj.code = code
	return code
}

func (s *IntraBlockState) GetCodeSize(address common.Address) int {
	return len(s.GetCode(address))
}

// Incarnation returns the account's current incarnation, the counter the
// execution processor bumps on CREATE so a selfdestruct+recreate at the
// same address gets a fresh storage namespace (§3.1).
func (s *IntraBlockState) Incarnation(address common.Address) uint64 {
	return s.getOrNewStateObject(address).data.Incarnation
}

func (s *IntraBlockState) GetState(address common.Address, key *common.Hash) uint256.Int {
	obj := s.getOrNewStateObject(address)
	if v, ok := obj.storage[*key]; ok {
		return v
	}
	enc, err := GetAsOf(s.kv, true, dbutils.GenerateCompositeStorageKey(address[:], obj.data.Incarnation, *key), s.blockNr)
	var v uint256.Int
	if err == nil && len(enc) > 0 {
		v.SetBytes(enc)
	}
	obj.storage[*key] = v
	return v
}

func (s *IntraBlockState) SetState(address common.Address, key *common.Hash, value uint256.Int) {
	obj := s.getOrNewStateObject(address)
	prev := s.GetState(address, key)
	s.journal = append(s.journal, storageChange{address: address, key: *key, prevalue: prev})
	obj.storage[*key] = value
	s.touch(address)
}

func (s *IntraBlockState) SetCode(address common.Address, code []byte, codeHash common.Hash) {
	obj := s.getOrNewStateObject(address)
	s.journal = append(s.journal, codeChange{
		address: address, prevcode: obj.code, prevcodeHash: obj.data.CodeHash, prevIncarnation: obj.data.Incarnation,
	})
	obj.code = code
	obj.dirtyCode = true
	obj.data.CodeHash = codeHash
	s.touch(address)
}

func (s *IntraBlockState) CreateAccount(address common.Address, incarnation uint64) {
	s.journal = append(s.journal, createObjectChange{address: address})
	acc := accounts.Account{Initialised: true, Incarnation: incarnation}
	s.stateObjects[address] = newStateObject(address, acc)
	s.touch(address)
}

func (s *IntraBlockState) Selfdestruct(address common.Address) bool {
	obj := s.getOrNewStateObject(address)
	if obj.selfdestruct {
		return false
	}
	s.journal = append(s.journal, selfdestructChange{address: address, prev: obj.selfdestruct})
	obj.selfdestruct = true
	obj.data.Balance = uint256.Int{}
	return true
}

func (s *IntraBlockState) Exist(address common.Address) bool {
	obj, ok := s.stateObjects[address]
	if ok {
		return obj.data.Initialised || obj.data.Balance.Sign() != 0 || obj.data.Nonce != 0
	}
	obj = s.getOrNewStateObject(address)
	return !obj.newlyCreated
}

func (s *IntraBlockState) Empty(address common.Address) bool {
	obj := s.getOrNewStateObject(address)
	return obj.data.Nonce == 0 && obj.data.Balance.IsZero() && obj.data.IsEmptyCodeHash()
}

// CommitBlock flushes every touched account/slot/code into w, in the
// shape the Execution stage's WriterWithChangeSets expects (§4.6).
func (s *IntraBlockState) CommitBlock(ctx context.Context, w WriterWithChangeSets) error {
	for address, obj := range s.stateObjects {
		if obj.selfdestruct {
			if err := w.DeleteAccount(ctx, address, &obj.original); err != nil {
				return err
			}
			continue
		}
		if _, touched := s.touched[address]; !touched {
			continue
		}
		if obj.dirtyCode {
			if err := w.UpdateAccountCode(address, obj.data.Incarnation, obj.data.CodeHash, obj.code); err != nil {
				return err
			}
		}
		if err := w.UpdateAccountData(ctx, address, &obj.original, &obj.data); err != nil {
			return err
		}
		for key, value := range obj.storage {
			original := uint256.Int{}
			if enc, gErr := GetAsOf(s.kv, true, dbutils.GenerateCompositeStorageKey(address[:], obj.data.Incarnation, key), s.blockNr); gErr == nil && len(enc) > 0 {
				original.SetBytes(enc)
			}
			k := key
			if err := w.WriteAccountStorage(ctx, address, obj.data.Incarnation, &k, &original, &value); err != nil {
				return err
			}
		}
	}
	return nil
}

// StateRootUpdates projects every touched account/slot into the hashed-key
// commitment updates the TrieRoot stage's HexPatriciaHashed engine needs
// (§4.4), sorted into the ascending hashed-key order ProcessUpdates
// requires.
func (s *IntraBlockState) StateRootUpdates() []trie.KeyUpdate {
	var updates []trie.KeyUpdate
	for address, obj := range s.stateObjects {
		if _, touched := s.touched[address]; !touched && !obj.selfdestruct {
			continue
		}
		addressHash := common.MustHashData(address[:])
		if obj.selfdestruct {
			updates = append(updates, trie.KeyUpdate{
				HashedKey: trie.AccountNibbles(addressHash),
				PlainKey:  append([]byte(nil), address[:]...),
				Update:    trie.Update{Flags: trie.UpdateFlags{Delete: true}},
			})
			continue
		}
		u := trie.Update{
			Flags:   trie.UpdateFlags{Balance: true, Nonce: true, Code: !obj.data.IsEmptyCodeHash()},
			Balance: obj.data.Balance,
			Nonce:   obj.data.Nonce,
		}
		if u.Flags.Code {
			copy(u.CodeHashOrStorage[:], obj.data.CodeHash[:])
		}
		updates = append(updates, trie.KeyUpdate{
			HashedKey: trie.AccountNibbles(addressHash),
			PlainKey:  append([]byte(nil), address[:]...),
			Update:    u,
		})

		for key, value := range obj.storage {
			locationHash := common.MustHashData(key[:])
			plainKey := make([]byte, 0, common.AddressLength+common.HashLength)
			plainKey = append(plainKey, address[:]...)
			plainKey = append(plainKey, key[:]...)
			var su trie.Update
			if value.IsZero() {
				su.Flags.Delete = true
			} else {
				su.Flags.Storage = true
				b := value.Bytes()
				su.ValLength = len(b)
				copy(su.CodeHashOrStorage[32-len(b):], b)
			}
			updates = append(updates, trie.KeyUpdate{
				HashedKey: trie.StorageNibbles(addressHash, locationHash),
				PlainKey:  plainKey,
				Update:    su,
			})
		}
	}
	sort.Slice(updates, func(i, j int) bool {
		return bytes.Compare(updates[i].HashedKey, updates[j].HashedKey) < 0
	})
	return updates
}
