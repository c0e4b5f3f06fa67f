package stagedsync

import (
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// NewTrieRootStage builds the TrieRoot stage (§4.7 stage 7). In this tree
// the commitment root is folded and checked against header.Root inline by
// core.ComputeStateRoot as part of the Execution stage (§4.6), so forward
// Execute is a progress tracker only — there is no separate root
// computation left to do here.
//
// Unwind drops the entire TrieAccount/TrieStorage branch-node cache
// rather than recomputing a precise "prefix set" for the unwound range:
// core.trieHost.LoadBranch already treats a missing branch as "no branch
// yet" (see core/state_root.go), so clearing the cache just forces the
// next forward ComputeStateRoot call to refold every branch from
// PlainState — correct, if coarser than invalidating only the touched
// prefixes. HashState/TrieRoot both sit after Execution in forward
// order, so at Unwind time PlainState has not yet been rolled back by
// Execution.Unwind; a precise rebuild here would read stale values, so
// invalidation (not recomputation) is the only thing this stage may do.
func NewTrieRootStage() *Stage {
	return &Stage{
		ID:          stages.TrieRoot,
		Description: "Verify/compute the state commitment root",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			target, err := stageProgress(tx, stages.HashState)
			if err != nil {
				return ExecOutput{}, err
			}
			if target <= s.BlockNumber {
				return s.Done(), nil
			}
			return s.DoneAndUpdate(tx, target)
		},
		Unwind: func(u *UnwindState, s *StageState, tx ethdb.RwTx) error {
			if err := clearBucket(tx, dbutils.TrieAccount); err != nil {
				return err
			}
			return clearBucket(tx, dbutils.TrieStorage)
		},
	}
}

func clearBucket(tx ethdb.RwTx, bucket string) error {
	c := tx.RwCursor(bucket)
	defer c.Close()
	for k, _, err := c.First(); k != nil; k, _, err = c.Next() {
		if err != nil {
			return err
		}
		if err := c.DeleteCurrent(); err != nil {
			return err
		}
	}
	return nil
}
