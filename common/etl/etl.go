// Package etl defines the commit-progress callback migrations.Migrator
// hands each migration's Up function, the narrow slice of the teacher's
// extract/transform/load pipeline this tree's migrations actually need.
// A full sorted-spill ETL pipeline belongs to bulk-loading/reindexing
// tools this spec doesn't build (no cmd/* resyncs a whole chain from
// another encoding here); migrations instead run directly against one
// already-open ethdb.Database and report progress through this callback
// alone (§6.2's "SyncStage table, captured for bug-reports").
package etl

import "github.com/ArthurTh0mas/martinez/ethdb"

// LoadCommitHandler is invoked by a migration as it makes progress;
// isDone is true only once, on the migration's final call, the point at
// which it is safe to record the migration as applied.
type LoadCommitHandler func(db ethdb.Putter, key []byte, isDone bool) error
