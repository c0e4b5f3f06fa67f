package stagedsync

import (
	"encoding/binary"
	"math/big"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/core"
	"github.com/ArthurTh0mas/martinez/core/types"
	"github.com/ArthurTh0mas/martinez/crypto"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// NewSendersStage builds the SenderRecovery stage (§4.7 stage 4):
// recovers each transaction's sender address from its signature and
// caches it into TxSender, so Execution never has to re-run ECDSA
// recovery per transaction. Bodies ingested through
// Blockchain.InsertBlock already have TxSender populated (core/blockchain.go
// recovers senders itself at persistBlock time); this stage only does
// real work for bodies BlockBodies fetched over the network oracle.
func NewSendersStage(chainID *big.Int) *Stage {
	return &Stage{
		ID:          stages.SenderRecovery,
		Description: "Recover transaction senders",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			target, err := stageProgress(tx, stages.BlockBodies)
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
				for i := uint32(0); i < body.TxAmount; i++ {
					id := body.BaseTxId + common.TxIndex(i)
					key := make([]byte, 8)
					binary.BigEndian.PutUint64(key, uint64(id))

					if v, err := tx.Get(dbutils.TxSender, key); err == nil && len(v) == common.AddressLength {
						continue // already cached (e.g. by Blockchain.InsertBlock)
					}
					enc, err := tx.Get(dbutils.BlockTransaction, key)
					if err != nil || len(enc) == 0 {
						continue
					}
					var txn types.Transaction
					if err := txn.UnmarshalBinary(enc); err != nil {
						continue
					}
					addr, err := crypto.Sender(&txn, chainID)
					if err != nil {
						continue
					}
					if err := tx.Put(dbutils.TxSender, key, addr[:]); err != nil {
						return ExecOutput{}, err
					}
				}
			}

			return s.DoneAndUpdate(tx, target)
		},
		Unwind: func(u *UnwindState, s *StageState, tx ethdb.RwTx) error { return nil },
	}
}
