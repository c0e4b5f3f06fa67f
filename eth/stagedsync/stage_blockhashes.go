package stagedsync

import (
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// NewBlockHashesStage builds the BlockHashes stage (§4.7 stage 2): in
// erigon's design this derives the hash->number inverse index from
// headers already written by HeaderDownload. Here core.WriteHeader
// (§4.6) already maintains that inverse index atomically with every
// header write, so this stage has no table of its own left to build —
// it exists to keep the canonical 13-stage progress ledger (§6.2)
// complete and to give downstream stages a stable "headers are caught
// up to here" checkpoint independent of HeaderDownload's own progress
// value.
func NewBlockHashesStage() *Stage {
	return &Stage{
		ID:          stages.BlockHashes,
		Description: "Build block hash to number index",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			target, err := stageProgress(tx, stages.HeaderDownload)
			if err != nil {
				return ExecOutput{}, err
			}
			if target <= s.BlockNumber {
				return s.Done(), nil
			}
			return s.DoneAndUpdate(tx, target)
		},
		Unwind: func(u *UnwindState, s *StageState, tx ethdb.RwTx) error { return nil },
	}
}
