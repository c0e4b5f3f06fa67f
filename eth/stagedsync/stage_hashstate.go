package stagedsync

import (
	"encoding/binary"
	"errors"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/common/changeset"
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

var errBadStorageKey = errors.New("stagedsync: malformed plain storage key")

// NewHashStateStage builds the HashState stage (§4.7 stage 6): projects
// PlainState into HashedAccount/HashedStorage, the keccak-hashed mirror
// core/state/plain_state_writer.go's package doc explicitly defers to "a
// separate HashState stage, not the writer that executes transactions."
//
// Execute walks AccountChangeSet/StorageChangeSet for (s.BlockNumber,
// target] to find which plain keys changed, then re-reads each key's
// CURRENT value out of PlainState (already correct, since Execution has
// committed by the time this stage runs) and writes it under its hashed
// key. Because TrieRoot unwinds before Execution does (stages unwind in
// reverse forward-order, and HashState/TrieRoot both sit after Execution
// forward), Unwind here cannot assume PlainState has been rolled back
// yet — it only deletes the hashed rows for touched keys, leaving the
// next forward pass (after Execution.Unwind restores PlainState) to
// re-project them correctly.
func NewHashStateStage() *Stage {
	return &Stage{
		ID:          stages.HashState,
		Description: "Hash PlainState into HashedAccount/HashedStorage",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			target, err := stageProgress(tx, stages.Execution)
			if err != nil {
				return ExecOutput{}, err
			}
			if target <= s.BlockNumber {
				return s.Done(), nil
			}

			addrs, storageKeys, err := touchedKeys(tx, s.BlockNumber, target)
			if err != nil {
				return ExecOutput{}, err
			}
			for addr := range addrs {
				if err := projectAccount(tx, addr); err != nil {
					return ExecOutput{}, err
				}
			}
			for key := range storageKeys {
				if err := projectStorage(tx, []byte(key)); err != nil {
					return ExecOutput{}, err
				}
			}

			return s.DoneAndUpdate(tx, target)
		},
		Unwind: func(u *UnwindState, s *StageState, tx ethdb.RwTx) error {
			addrs, storageKeys, err := touchedKeys(tx, u.UnwindPoint, u.CurrentNumber)
			if err != nil {
				return err
			}
			for addr := range addrs {
				hashed := common.MustHashData(addr[:])
				if err := tx.Delete(dbutils.HashedAccount, hashed[:]); err != nil {
					return err
				}
			}
			for key := range storageKeys {
				hashedKey, err := hashedStorageKey([]byte(key))
				if err != nil {
					continue
				}
				if err := tx.Delete(dbutils.HashedStorage, hashedKey); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// touchedKeys collects the distinct plain account addresses and composite
// storage keys that changed anywhere in (from, to], by walking the
// per-block AccountChangeSet/StorageChangeSet rows the Execution stage
// already wrote (§3.2, §3.3).
func touchedKeys(tx ethdb.RwTx, from, to uint64) (map[common.Address]struct{}, map[string]struct{}, error) {
	addrs := map[common.Address]struct{}{}
	storageKeys := map[string]struct{}{}
	for n := from + 1; n <= to; n++ {
		key := common.EncodeBlockNumber(n)

		if enc, err := tx.Get(dbutils.AccountChangeSet, key); err == nil && len(enc) > 0 {
			if walkErr := changeset.WalkerAdapter(enc).Walk(func(k, _ []byte) error {
				addrs[common.BytesToAddress(k)] = struct{}{}
				return nil
			}); walkErr != nil {
				return nil, nil, walkErr
			}
		}
		if enc, err := tx.Get(dbutils.StorageChangeSet, key); err == nil && len(enc) > 0 {
			if walkErr := changeset.WalkerAdapter(enc).Walk(func(k, _ []byte) error {
				storageKeys[string(k)] = struct{}{}
				return nil
			}); walkErr != nil {
				return nil, nil, walkErr
			}
		}
	}
	return addrs, storageKeys, nil
}

func projectAccount(tx ethdb.RwTx, addr common.Address) error {
	hashed := common.MustHashData(addr[:])
	enc, err := tx.Get(dbutils.PlainState, addr[:])
	if err != nil || len(enc) == 0 {
		return tx.Delete(dbutils.HashedAccount, hashed[:])
	}
	return tx.Put(dbutils.HashedAccount, hashed[:], enc)
}

func projectStorage(tx ethdb.RwTx, plainKey []byte) error {
	enc, err := tx.Get(dbutils.PlainState, plainKey)
	hashedKey, hashErr := hashedStorageKey(plainKey)
	if hashErr != nil {
		return nil
	}
	if err != nil || len(enc) == 0 {
		return tx.Delete(dbutils.HashedStorage, hashedKey)
	}
	return tx.Put(dbutils.HashedStorage, hashedKey, enc)
}

// hashedStorageKey rehashes a plain composite storage key
// (Address+Incarnation+Location) into its HashedStorage form
// (addrHash+Incarnation+locationHash), per §3.2's PlainState/HashedStorage
// key layouts.
func hashedStorageKey(plainKey []byte) ([]byte, error) {
	if len(plainKey) != common.AddressLength+8+common.HashLength {
		return nil, errBadStorageKey
	}
	addr := plainKey[:common.AddressLength]
	incarnation := binary.BigEndian.Uint64(plainKey[common.AddressLength : common.AddressLength+8])
	location := plainKey[common.AddressLength+8:]

	addrHash := common.MustHashData(addr)
	locationHash := common.MustHashData(location)
	return dbutils.GenerateCompositeStorageKey(addrHash[:], incarnation, locationHash), nil
}
