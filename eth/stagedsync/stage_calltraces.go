package stagedsync

import (
	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// NewCallTracesStage builds the CallTraces stage (§4.7 stage 11, §3.5
// supplement): CallTraceSet rows are written inline by
// core.writeCallTraces as part of Execution, so forward Execute is a
// progress tracker; Unwind drops the rows for the unwound block range.
func NewCallTracesStage() *Stage {
	return &Stage{
		ID:          stages.CallTraces,
		Description: "Track call-trace participant set",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			target, err := stageProgress(tx, stages.Execution)
			if err != nil {
				return ExecOutput{}, err
			}
			if target <= s.BlockNumber {
				return s.Done(), nil
			}
			return s.DoneAndUpdate(tx, target)
		},
		Unwind: func(u *UnwindState, s *StageState, tx ethdb.RwTx) error {
			for n := u.CurrentNumber; n > u.UnwindPoint; n-- {
				if err := tx.Delete(dbutils.CallTraceSet, common.EncodeBlockNumber(n)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
