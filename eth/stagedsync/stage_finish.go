package stagedsync

import (
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// NewFinishStage builds the terminal Finish stage (§4.7 stage 13): it
// owns no table of its own, just a marker that the whole pipeline has
// caught every other stage up to, used as State.Run's "fully synced"
// watermark and as the unwind protocol's innermost frame.
func NewFinishStage() *Stage {
	return &Stage{
		ID:          stages.Finish,
		Description: "Mark pipeline cycle complete",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			target, err := stageProgress(tx, stages.TxLookup)
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
