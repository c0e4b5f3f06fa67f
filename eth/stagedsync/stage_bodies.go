package stagedsync

import (
	"github.com/ArthurTh0mas/martinez/core"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// NewBodiesStage builds the BlockBodies stage (§4.7 stage 3): fetches
// bodies for headers BlockHashes has already caught up to but that
// have no BlockBody row yet, and appends their transactions to the
// BaseTxId-addressed BlockTransaction store (§3.2, §4.2). Senders are
// left nil here; SenderRecovery fills TxSender in the next stage.
func NewBodiesStage(oracle NetworkOracle) *Stage {
	return &Stage{
		ID:          stages.BlockBodies,
		Description: "Download block bodies",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			target, err := stageProgress(tx, stages.BlockHashes)
			if err != nil {
				return ExecOutput{}, err
			}
			if target <= s.BlockNumber {
				return s.Done(), nil
			}

			progress := s.BlockNumber
			for n := s.BlockNumber + 1; n <= target; n++ {
				hash, ok := core.ReadCanonicalHash(tx, n)
				if !ok {
					break
				}
				existing, err := core.ReadBodyForStorage(tx, n, hash)
				if err != nil {
					return ExecOutput{}, err
				}
				if existing != nil {
					progress = n
					continue
				}

				bodies, err := oracle.GetBodies([]BodyRequest{{Number: n, Hash: hash}})
				if err != nil || len(bodies) == 0 || bodies[0] == nil {
					break // nothing more to fetch this cycle
				}
				parentHash, ok := core.ReadCanonicalHash(tx, n-1)
				if !ok {
					break
				}
				baseTxID, err := core.NextBaseTxID(tx, n-1, parentHash)
				if err != nil {
					return ExecOutput{}, err
				}
				if err := core.WriteBodyWithSenders(tx, n, hash, bodies[0], nil, baseTxID); err != nil {
					return ExecOutput{}, err
				}
				progress = n
			}

			return s.DoneAndUpdate(tx, progress)
		},
		Unwind: func(u *UnwindState, s *StageState, tx ethdb.RwTx) error { return nil },
	}
}
