package stagedsync

import (
	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/common/changeset"
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
	"github.com/ArthurTh0mas/martinez/ethdb/bitmapdb"
)

// NewAccountHistoryStage and NewStorageHistoryStage build stages 8 and 9
// (§4.7): in this tree AccountHistory/StorageHistory rows are built
// eagerly, per block, by core/state/plain_state_writer.go's WriteHistory
// as part of the Execution stage itself — so forward Execute here is a
// thin progress tracker over already-populated tables. Unwind is where
// these stages do real work: §6.2 makes each stage responsible for
// restoring its own tables, and bitmapdb.TruncateRange is how a sharded
// roaring bitmap sheds the block numbers above an unwind point.
func NewAccountHistoryStage() *Stage {
	return historyStage(stages.AccountHistory, dbutils.AccountChangeSet, dbutils.AccountHistory)
}

func NewStorageHistoryStage() *Stage {
	return historyStage(stages.StorageHistory, dbutils.StorageChangeSet, dbutils.StorageHistory)
}

func historyStage(id stages.SyncStage, changeSetBucket, historyBucket string) *Stage {
	return &Stage{
		ID:          id,
		Description: "Build " + string(id) + " index",
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
				key := common.EncodeBlockNumber(n)
				enc, err := tx.Get(changeSetBucket, key)
				if err != nil || len(enc) == 0 {
					continue
				}
				keys := map[string]struct{}{}
				if walkErr := changeset.WalkerAdapter(enc).Walk(func(k, _ []byte) error {
					keys[string(k)] = struct{}{}
					return nil
				}); walkErr != nil {
					return walkErr
				}
				for k := range keys {
					if err := bitmapdb.TruncateRange(tx, historyBucket, []byte(k), u.UnwindPoint+1, n+1); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
