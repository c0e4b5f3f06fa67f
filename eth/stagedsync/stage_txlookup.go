package stagedsync

import (
	"encoding/binary"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/core"
	"github.com/ArthurTh0mas/martinez/core/types"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// NewTxLookupStage builds the TxLookup stage (§4.7 stage 12, §3.5
// supplement): TxLookup maps a transaction's hash to the block number it
// was mined in, for as-of lookups that start from a tx hash rather than a
// block. Built from BlockTransaction rows directly — the body's RLP
// already carries everything needed to hash each transaction.
func NewTxLookupStage() *Stage {
	return &Stage{
		ID:          stages.TxLookup,
		Description: "Build transaction hash -> block number index",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			target, err := stageProgress(tx, stages.CallTraces)
			if err != nil {
				return ExecOutput{}, err
			}
			if target <= s.BlockNumber {
				return s.Done(), nil
			}

			for n := s.BlockNumber + 1; n <= target; n++ {
				hash, ok := core.ReadCanonicalHash(tx, n)
				if !ok {
					continue
				}
				body, err := core.ReadBodyForStorage(tx, n, hash)
				if err != nil {
					return ExecOutput{}, err
				}
				if body == nil {
					continue
				}
				numberEnc := common.EncodeBlockNumber(n)
				for i := uint32(0); i < body.TxAmount; i++ {
					id := body.BaseTxId + common.TxIndex(i)
					key := make([]byte, 8)
					binary.BigEndian.PutUint64(key, uint64(id))
					enc, err := tx.Get(dbutils.BlockTransaction, key)
					if err != nil || len(enc) == 0 {
						continue
					}
					var txn types.Transaction
					if err := txn.UnmarshalBinary(enc); err != nil {
						continue
					}
					hash := txn.Hash()
					if err := tx.Put(dbutils.TxLookup, hash[:], numberEnc); err != nil {
						return ExecOutput{}, err
					}
				}
			}

			return s.DoneAndUpdate(tx, target)
		},
		Unwind: func(u *UnwindState, s *StageState, tx ethdb.RwTx) error {
			for n := u.CurrentNumber; n > u.UnwindPoint; n-- {
				hash, ok := core.ReadCanonicalHash(tx, n)
				if !ok {
					continue
				}
				body, err := core.ReadBodyForStorage(tx, n, hash)
				if err != nil || body == nil {
					continue
				}
				for i := uint32(0); i < body.TxAmount; i++ {
					id := body.BaseTxId + common.TxIndex(i)
					key := make([]byte, 8)
					binary.BigEndian.PutUint64(key, uint64(id))
					enc, err := tx.Get(dbutils.BlockTransaction, key)
					if err != nil || len(enc) == 0 {
						continue
					}
					var txn types.Transaction
					if err := txn.UnmarshalBinary(enc); err != nil {
						continue
					}
					hash := txn.Hash()
					if err := tx.Delete(dbutils.TxLookup, hash[:]); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
