package migrations

import (
	"github.com/ArthurTh0mas/martinez/common/etl"
	"github.com/ArthurTh0mas/martinez/ethdb"
)

// stagesToUseNamedKeys and unwindStagesToUseNamedKeys record the
// erigon-lineage schema change from integer stage indices to the named
// string keys stages.SyncStage now uses in SyncStage/SyncStageUnwind
// (§6.2). This tree's SyncStage/SyncStageUnwind tables have only ever
// been written with named keys (eth/stagedsync/stage.go's
// stageProgress/saveStageProgress), so a node bootstrapped on this
// schema has nothing to rewrite; both migrations exist so the
// Migrations bucket's applied-migration ledger lines up with nodes
// upgraded from an older erigon-lineage database, where they would find
// real integer-keyed rows to convert.
var (
	stagesToUseNamedKeys       = namedKeysNoop("stages_to_use_named_keys")
	unwindStagesToUseNamedKeys = namedKeysNoop("unwind_stages_to_use_named_keys")
)

func namedKeysNoop(name string) Migration {
	return Migration{
		Name: name,
		Up: func(db ethdb.Database, dataDir string, OnLoadCommit etl.LoadCommitHandler) error {
			return OnLoadCommit(db, nil, true)
		},
	}
}
