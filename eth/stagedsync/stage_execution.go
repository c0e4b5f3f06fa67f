package stagedsync

import (
	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/consensus"
	"github.com/ArthurTh0mas/martinez/core"
	"github.com/ArthurTh0mas/martinez/core/types"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// executionBatchSize bounds how many blocks one Execute call replays
// before yielding back to State.Run's cancellation check, matching §5's
// "checked between stages and at the top of each stage's inner batch
// loop".
const executionBatchSize = 1000

// NewExecutionStage builds the Execution stage (§4.7 stage 5): replays
// each block in (progress, target] through core.ExecuteBlock (§4.6),
// which — as a side effect of one call — also writes PlainState,
// changesets, AccountHistory/StorageHistory and the commitment trie,
// and verifies the resulting state root against the header (§4.6
// "insert_block(check_state_root)"). On a bad block this reports
// Unwind(n-1) rather than erroring the whole cycle, matching §7's
// "validation errors ... offending block may be cached in bad-blocks"
// and §6.2's unwind-to-n protocol.
func NewExecutionStage(kv ethdb.KV, chainSpec *types.ChainSpec, engine consensus.Consensus) *Stage {
	return &Stage{
		ID:          stages.Execution,
		Description: "Execute blocks against EVM and state",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			target, err := stageProgress(tx, stages.SenderRecovery)
			if err != nil {
				return ExecOutput{}, err
			}
			if target > s.BlockNumber+executionBatchSize {
				target = s.BlockNumber + executionBatchSize
			}
			if target <= s.BlockNumber {
				return s.Done(), nil
			}

			getHash := func(n uint64) common.Hash {
				h, _ := core.ReadCanonicalHash(tx, n)
				return h
			}

			progress := s.BlockNumber
			for n := s.BlockNumber + 1; n <= target; n++ {
				select {
				case <-quit:
					return s.DoneAndUpdate(tx, progress)
				default:
				}

				hash, ok := core.ReadCanonicalHash(tx, n)
				if !ok {
					break
				}
				header, err := core.ReadHeader(tx, n, hash)
				if err != nil {
					return ExecOutput{}, err
				}
				if header == nil {
					break
				}
				body, _, err := core.ReadBodyWithSenders(tx, n, hash)
				if err != nil {
					return ExecOutput{}, err
				}
				if body == nil {
					break
				}
				parentHash, ok := core.ReadCanonicalHash(tx, n-1)
				if !ok {
					break
				}
				parent, err := core.ReadHeader(tx, n-1, parentHash)
				if err != nil || parent == nil {
					return ExecOutput{}, err
				}

				block := &types.Block{Header: header, Body: body}
				if _, err := core.ExecuteBlock(kv, tx, chainSpec, engine, block, parent, getHash, true); err != nil {
					if progress > 0 {
						return Unwind(progress), nil
					}
					return ExecOutput{}, err
				}
				progress = n
			}

			return s.DoneAndUpdate(tx, progress)
		},
		Unwind: func(u *UnwindState, s *StageState, tx ethdb.RwTx) error {
			for n := u.CurrentNumber; n > u.UnwindPoint; n-- {
				if err := core.UnwindBlockState(tx, n); err != nil {
					return err
				}
				if err := core.DeleteCanonicalHash(tx, n); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
