package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/common/changeset"
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/core/types/accounts"
	"github.com/ArthurTh0mas/martinez/ethdb"
	"github.com/ArthurTh0mas/martinez/ethdb/bitmapdb"
)

// stage ids used by the lastChangesetBlock/lastIndexBlock compensation
// branch below; duplicated here as plain strings rather than importing
// eth/stagedsync/stages (which will itself depend on this package) to
// avoid an import cycle.
const (
	stageExecution           = "Execution"
	stageAccountHistoryIndex = "AccountHistoryIndex"
	stageStorageHistoryIndex = "StorageHistoryIndex"
)

// GetAsOf resolves the value of key (a bare Address for accounts, a
// composite (Address,Incarnation,Location) key for storage slots) exactly
// as it stood right before block timestamp started executing (§4.3).
//
//  1. Consult the history index (AccountHistory/StorageHistory): if it
//     names a block >= timestamp that touched key, the value is the
//     changeset entry recorded at that block.
//  2. Otherwise fall back to the live PlainState row.
func GetAsOf(kv ethdb.KV, storage bool, key []byte, timestamp uint64) ([]byte, error) {
	var dat []byte
	err := kv.View(context.Background(), func(tx ethdb.Tx) error {
		v, err := findByHistory(tx, storage, key, timestamp)
		if err == nil {
			dat = common.CopyBytes(v)
			return nil
		}
		if !errors.Is(err, ethdb.ErrKeyNotFound) {
			return err
		}
		v, err = tx.Get(dbutils.PlainState, key)
		if err != nil {
			return err
		}
		if v == nil {
			return ethdb.ErrKeyNotFound
		}
		dat = common.CopyBytes(v)
		return nil
	})
	return dat, err
}

// findByHistory is the teacher's FindByHistory, ported off the bespoke
// HistoryIndexBytes chunk format onto ethdb/bitmapdb's sharded roaring
// bitmaps (§4.3; see DESIGN.md's History-index bitmap library decision).
// Each changed key's history is the set of block numbers that touched it;
// the smallest member >= timestamp names the changeset row to read.
func findByHistory(tx ethdb.Tx, storage bool, key []byte, timestamp uint64) ([]byte, error) {
	hBucket := dbutils.AccountHistory
	csBucket := dbutils.AccountChangeSet
	if storage {
		hBucket = dbutils.StorageHistory
		csBucket = dbutils.StorageChangeSet
	}

	indexKey := key
	if storage {
		indexKey = dbutils.CompositeKeyWithoutIncarnation(key)
	}

	c := tx.Cursor(hBucket)
	defer c.Close()
	bm, err := bitmapdb.Get(c, indexKey, 0, ^uint32(0))
	if err != nil {
		return nil, err
	}

	var data []byte
	found := false
	if bm.GetCardinality() > 0 {
		it := bm.Iterator()
		it.AdvanceIfNeeded(uint32(timestamp))
		if it.HasNext() {
			changeSetBlock := uint64(it.Next())
			changeSetData, gErr := tx.Get(csBucket, common.EncodeBlockNumber(changeSetBlock))
			if gErr != nil {
				return nil, gErr
			}
			var fErr error
			if storage {
				data, fErr = changeset.StorageChangeSetBytes(changeSetData).FindWithoutIncarnation(
					key[:common.AddressLength], key[common.AddressLength+common.IncarnationLength:])
			} else {
				data, fErr = changeset.AccountChangeSetBytes(changeSetData).Find(key)
			}
			if fErr != nil {
				if !errors.Is(fErr, changeset.ErrNotFound) {
					return nil, fmt.Errorf("finding %x in the changeset %d: %w", key, changeSetBlock, fErr)
				}
				return nil, ethdb.ErrKeyNotFound
			}
			found = true
		}
	}

	if !found {
		// the history index lacks coverage for this key/timestamp;
		// compensate if the Execution stage has advanced further than the
		// history-index stage (§4.3's "lastChangesetBlock > lastIndexBlock
		// compensation branch") by scanning the changesets directly.
		lastChangesetBlock := stageProgress(tx, stageExecution)
		lastIndexBlock := stageProgress(tx, stageAccountHistoryIndex)
		if storage {
			lastIndexBlock = stageProgress(tx, stageStorageHistoryIndex)
		}
		if lastChangesetBlock > lastIndexBlock {
			startTimestamp := timestamp + 1
			if timestamp < lastIndexBlock {
				startTimestamp = lastIndexBlock + 1
			}
			csCursor := tx.Cursor(csBucket)
			defer csCursor.Close()
			for k, v, cErr := csCursor.Seek(common.EncodeBlockNumber(startTimestamp)); k != nil; k, v, cErr = csCursor.Next() {
				if cErr != nil {
					return nil, cErr
				}
				var fErr error
				if storage {
					data, fErr = changeset.StorageChangeSetBytes(v).FindWithoutIncarnation(
						key[:common.AddressLength], key[common.AddressLength+common.IncarnationLength:])
				} else {
					data, fErr = changeset.AccountChangeSetBytes(v).Find(key)
				}
				if fErr == nil {
					found = true
					break
				}
				if !errors.Is(fErr, changeset.ErrNotFound) {
					return nil, fErr
				}
			}
		}
	}

	if !found {
		return nil, ethdb.ErrKeyNotFound
	}

	if !storage && len(data) > 0 {
		var acc accounts.Account
		if err := acc.DecodeForStorage(data); err != nil {
			return nil, err
		}
		if acc.Incarnation > 0 && acc.IsEmptyCodeHash() {
			codeHash, _ := tx.Get(dbutils.PlainContractCode, dbutils.PlainGenerateStoragePrefix(key, acc.Incarnation))
			if len(codeHash) > 0 {
				acc.CodeHash = common.BytesToHash(codeHash)
				data = make([]byte, acc.EncodingLengthForStorage())
				acc.EncodeForStorage(data)
			}
		}
	}

	return data, nil
}

// bytesMask/bytesEqualMasked mirror ethdb.ObjectDatabase's fixed-bits
// prefix-match convention (unexported there too; duplicated rather than
// exported solely for this one caller).
func bytesMask(fixedBits int) (fixedBytes int, mask byte) {
	fixedBytes = (fixedBits + 7) / 8
	shift := fixedBits & 7
	if shift != 0 {
		mask = 0xff << (8 - shift)
	} else {
		mask = 0xff
	}
	return fixedBytes, mask
}

func bytesEqualMasked(a, b []byte, n int, mask byte) bool {
	if n == 0 {
		return true
	}
	if len(a) < n || len(b) < n {
		return false
	}
	for i := 0; i < n-1; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return a[n-1]&mask == b[n-1]&mask
}

func stageProgress(tx ethdb.Tx, stageID string) uint64 {
	v, err := tx.Get(dbutils.SyncStage, []byte(stageID))
	if err != nil || len(v) < 8 {
		return 0
	}
	n, err := common.DecodeBlockNumber(v[:8])
	if err != nil {
		return 0
	}
	return n
}

// WalkAsOf iterates PlainState rows (account or storage) in their
// as-of-timestamp state, in ascending key order starting at startkey,
// restricted to keys sharing the top fixedbits of startkey (§4.3). This
// is a direct simplification of the teacher's walkAsOfThinAccounts/
// walkAsOfThinStorage merge-walk: rather than maintaining two parallel
// cursors (live state + history index) and merging them key-by-key, it
// walks PlainState once and re-resolves each key through findByHistory,
// which already encapsulates the index-vs-live fallback. This trades the
// teacher's single-pass merge for a per-key history lookup; acceptable
// because findByHistory's roaring-bitmap seek is O(log shards), not a
// second full table scan.
func WalkAsOf(kv ethdb.KV, storage bool, startkey []byte, fixedbits int, timestamp uint64, walker func(k, v []byte) (bool, error)) error {
	return kv.View(context.Background(), func(tx ethdb.Tx) error {
		c := tx.Cursor(dbutils.PlainState)
		defer c.Close()
		fixedbytes, mask := bytesMask(fixedbits)
		for k, _, err := c.Seek(startkey); k != nil; k, _, err = c.Next() {
			if err != nil {
				return err
			}
			if !bytesEqualMasked(k, startkey, fixedbytes, mask) {
				break
			}
			v, err := findByHistory(tx, storage, k, timestamp)
			if errors.Is(err, ethdb.ErrKeyNotFound) {
				v, err = tx.Get(dbutils.PlainState, k)
				if err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			if len(v) == 0 {
				continue
			}
			goOn, werr := walker(k, v)
			if werr != nil {
				return werr
			}
			if !goOn {
				return nil
			}
		}
		return nil
	})
}
