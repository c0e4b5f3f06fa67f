package stagedsync

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/ArthurTh0mas/martinez/common"
	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/core"
	"github.com/ArthurTh0mas/martinez/core/types"
	"github.com/ArthurTh0mas/martinez/eth/stagedsync/stages"
	"github.com/ArthurTh0mas/martinez/ethdb"
	"github.com/ArthurTh0mas/martinez/ethdb/bitmapdb"
	"github.com/ArthurTh0mas/martinez/rlp"
)

// NewLogIndexStage builds the LogIndex stage (§4.7 stage 10, §3.5):
// folds each block's receipt logs into LogAddressIndex/LogTopicIndex,
// address/topic -> roaring bitmap of BlockNumber. Rewritten against
// ethdb/bitmapdb's real AppendMergeByOr/TruncateRange (the teacher's
// originals called AppendMergeByOr2/TruncateRange2 against gocroaring,
// neither of which exists in this tree's bitmapdb or go.mod).
func NewLogIndexStage() *Stage {
	return &Stage{
		ID:          stages.LogIndex,
		Description: "Build log address/topic bitmap indexes",
		Execute: func(s *StageState, tx ethdb.RwTx, quit <-chan struct{}) (ExecOutput, error) {
			target, err := stageProgress(tx, stages.Execution)
			if err != nil {
				return ExecOutput{}, err
			}
			if target <= s.BlockNumber {
				return s.Done(), nil
			}

			addrCursor := tx.RwCursor(dbutils.LogAddressIndex)
			defer addrCursor.Close()
			topicCursor := tx.RwCursor(dbutils.LogTopicIndex)
			defer topicCursor.Close()

			for n := s.BlockNumber + 1; n <= target; n++ {
				hash, ok := core.ReadCanonicalHash(tx, n)
				if !ok {
					continue
				}
				receipts, err := readReceipts(tx, n, hash)
				if err != nil {
					return ExecOutput{}, err
				}
				delta := roaring.BitmapOf(uint32(n))
				for _, r := range receipts {
					for _, l := range r.Logs {
						if err := bitmapdb.AppendMergeByOr(addrCursor, l.Address[:], delta); err != nil {
							return ExecOutput{}, err
						}
						for _, topic := range l.Topics {
							if err := bitmapdb.AppendMergeByOr(topicCursor, topic[:], delta); err != nil {
								return ExecOutput{}, err
							}
						}
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
				receipts, err := readReceipts(tx, n, hash)
				if err != nil {
					return err
				}
				seenAddr := map[common.Address]struct{}{}
				seenTopic := map[common.Hash]struct{}{}
				for _, r := range receipts {
					for _, l := range r.Logs {
						seenAddr[l.Address] = struct{}{}
						for _, topic := range l.Topics {
							seenTopic[topic] = struct{}{}
						}
					}
				}
				for addr := range seenAddr {
					if err := bitmapdb.TruncateRange(tx, dbutils.LogAddressIndex, addr[:], u.UnwindPoint+1, n+1); err != nil {
						return err
					}
				}
				for topic := range seenTopic {
					if err := bitmapdb.TruncateRange(tx, dbutils.LogTopicIndex, topic[:], u.UnwindPoint+1, n+1); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// readReceipts reads back the RLP-encoded receipt slice writeReceipts
// (core/processor.go) wrote for this block, keyed the same HeaderKey way
// as Header/BlockBody (§3.2).
func readReceipts(tx ethdb.RwTx, number uint64, hash common.Hash) (types.Receipts, error) {
	enc, err := tx.Get(dbutils.Receipts, dbutils.HeaderKey(number, hash))
	if err != nil || len(enc) == 0 {
		return nil, nil //nolint:nilerr // no receipts yet (e.g. empty block, or not executed)
	}
	var receipts []*types.Receipt
	if err := rlp.DecodeBytes(enc, &receipts); err != nil {
		return nil, err
	}
	return receipts, nil
}
