// Package stages names the canonical pipeline steps of spec.md §4.7 and
// SPEC_FULL §2 ("Stage order (canonical)") and exposes the SyncStage
// table helpers migrations and diagnostics need without importing the
// whole stagedsync orchestrator (the same split the teacher keeps
// between eth/stagedsync and eth/stagedsync/stages).
package stages

import (
	"encoding/binary"
	"encoding/json"

	"github.com/ArthurTh0mas/martinez/common/dbutils"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

type SyncStage string

// The 13 canonical stages, in pipeline order (spec.md §4.7 / SPEC_FULL
// §2 "Stage order").
const (
	HeaderDownload SyncStage = "HeaderDownload"
	BlockHashes    SyncStage = "BlockHashes"
	BlockBodies    SyncStage = "BlockBodies"
	SenderRecovery SyncStage = "SenderRecovery"
	Execution      SyncStage = "Execution"
	HashState      SyncStage = "HashState"
	TrieRoot       SyncStage = "TrieRoot"
	AccountHistory SyncStage = "AccountHistory"
	StorageHistory SyncStage = "StorageHistory"
	LogIndex       SyncStage = "LogIndex"
	CallTraces     SyncStage = "CallTraces"
	TxLookup       SyncStage = "TxLookup"
	Finish         SyncStage = "Finish"
)

// AllStages lists every canonical stage in forward order; State's
// default pipeline (stagedsync.DefaultStages) lists the same stages in
// the same order.
var AllStages = []SyncStage{
	HeaderDownload, BlockHashes, BlockBodies, SenderRecovery,
	Execution, HashState, TrieRoot,
	AccountHistory, StorageHistory, LogIndex, CallTraces,
	TxLookup, Finish,
}

// GetStageProgress reads a stage's persisted progress, 0 if never run.
func GetStageProgress(db ethdb.Database, stage SyncStage) (uint64, error) {
	v, err := db.Get(dbutils.SyncStage, []byte(stage))
	if err != nil || len(v) != 8 {
		return 0, nil //nolint:nilerr
	}
	return binary.BigEndian.Uint64(v), nil
}

// SaveStageProgress persists a stage's progress.
func SaveStageProgress(db ethdb.Putter, stage SyncStage, blockNumber uint64) error {
	return db.Put(dbutils.SyncStage, []byte(stage), dbutils.EncodeBlockNumber(blockNumber))
}

// MarshalAllStages snapshots every canonical stage's progress into one
// blob, the shape migrations.Migrator's OnLoadCommit callback records
// into the Migrations bucket alongside each applied migration's name
// (§6.2's SyncStage table, captured "useful for bug-reports").
func MarshalAllStages(db ethdb.Database) ([]byte, error) {
	snapshot := make(map[SyncStage]uint64, len(AllStages))
	for _, s := range AllStages {
		progress, err := GetStageProgress(db, s)
		if err != nil {
			return nil, err
		}
		snapshot[s] = progress
	}
	return json.Marshal(snapshot)
}
