package core

import (
	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/core/types/accounts"
	"github.com/ArthurTh0mas/martinez/ethdb"
	"github.com/ArthurTh0mas/martinez/trie"
)

// trieHost adapts one RwTx to trie.CommitmentHost, backing the commitment
// engine's branch-node storage with the TrieAccount/TrieStorage tables and
// its account/storage reads with PlainState (§4.4's LoadBranch/LoadAccount/
// LoadStorage/BranchUpdate interrupts). Branch nodes are keyed by their
// nibble-path prefix directly (one byte per nibble, not packed), the same
// representation ProcessUpdates already builds its prefixes in.
type trieHost struct {
	tx ethdb.RwTx
}

func (h *trieHost) bucket(prefixLen int) string {
	if prefixLen > 64 {
		return dbutils.TrieStorage
	}
	return dbutils.TrieAccount
}

func (h *trieHost) LoadBranch(prefix []byte) ([]byte, error) {
	v, err := h.tx.Get(h.bucket(len(prefix)), prefix)
	if err != nil {
		return nil, nil //nolint:nilerr // ErrKeyNotFound means "no branch yet"
	}
	return v, nil
}

func (h *trieHost) BranchUpdate(updateKey, branchNode []byte) error {
	bucket := h.bucket(len(updateKey))
	if branchNode == nil {
		return h.tx.Delete(bucket, updateKey)
	}
	return h.tx.Put(bucket, updateKey, branchNode)
}

// LoadAccount/LoadStorage are the commitment engine's hooks for the
// current committed value of a cell ProcessUpdates did not itself just
// write. The engine's fold/unfold path does not call them (see trie
// package doc comment on the partial original_source port), so every
// cell it touches arrives populated by ProcessUpdates' own Update values.
// LoadAccount reads the account from PlainState; LoadStorage leaves the
// cell unchanged.
func (h *trieHost) LoadAccount(plainKey []byte, cell *trie.Cell) error {
	enc, err := h.tx.Get(dbutils.PlainState, plainKey)
	if err != nil || len(enc) == 0 {
		return nil
	}
	var acc accounts.Account
	if decErr := acc.DecodeForStorage(enc); decErr != nil {
		return nil
	}
	cell.Nonce = acc.Nonce
	cell.Balance = acc.Balance
	cell.CodeHash = acc.CodeHash
	return nil
}

func (h *trieHost) LoadStorage([]byte, *trie.Cell) error { return nil }

// ComputeStateRoot folds a block's account/storage updates into the
// commitment engine and returns the resulting root hash, the state-root
// half of §4.6's "compute state root; if check_state_root, compare
// against header.Root".
func ComputeStateRoot(tx ethdb.RwTx, updates []trie.KeyUpdate) (common.Hash, error) {
	host := &trieHost{tx: tx}
	hph := trie.NewHexPatriciaHashed(host)
	if len(updates) > 0 {
		if _, err := hph.ProcessUpdates(updates); err != nil {
			return common.Hash{}, err
		}
	}
	return hph.RootHash()
}
